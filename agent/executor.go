//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package agent turns one workflow node into one LLM call.
package agent

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	itelemetry "trpc.group/trpc-go/trpc-agent-flow/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-flow/knowledge"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/workflow"
)

const (
	defaultCallTimeout        = 120 * time.Second
	defaultRetrievalLimit     = 5
	defaultRelevanceThreshold = 0.5
	retrievalQueryTail        = 1000
)

// ErrNilModel is returned when a node is executed without a model.
var ErrNilModel = errors.New("agent: nil model")

// Turn is the result of one agent call.
type Turn struct {
	Text         string
	ResponseTime time.Duration
	TokenCount   int
	CostEstimate float64
	Provider     string
	Model        string
	Temperature  float64
}

// ResponseTimeMs returns the response time in milliseconds.
func (t *Turn) ResponseTimeMs() int64 {
	return t.ResponseTime.Milliseconds()
}

type options struct {
	callTimeout time.Duration
	retriever   knowledge.Retriever
	threshold   float64
	limit       int
}

var defaultOptions = options{
	callTimeout: defaultCallTimeout,
	threshold:   defaultRelevanceThreshold,
	limit:       defaultRetrievalLimit,
}

// Option configures an Executor.
type Option func(*options)

// WithCallTimeout bounds each provider call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithRetriever enables document context for doc_aware nodes.
func WithRetriever(r knowledge.Retriever) Option {
	return func(o *options) {
		o.retriever = r
	}
}

// WithRelevanceThreshold drops retrieved documents scoring below t.
func WithRelevanceThreshold(t float64) Option {
	return func(o *options) {
		o.threshold = t
	}
}

// WithRetrievalLimit sets how many documents are requested.
func WithRetrievalLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.limit = n
		}
	}
}

// Executor builds prompts for nodes and calls their models. It holds no
// per-run state and is safe for concurrent use.
type Executor struct {
	opts options
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Executor{opts: o}
}

// Execute produces one turn of node given the transcript so far.
func (e *Executor) Execute(ctx context.Context, node *workflow.Node, transcript string, m model.Model) (*Turn, error) {
	return e.call(ctx, node, e.systemPrompt(ctx, node, transcript), turnPrompt(node, transcript), m)
}

// Revise asks node to improve previous using feedback. reviewer may be
// empty when the feedback is a self-reflection prompt.
func (e *Executor) Revise(ctx context.Context, node *workflow.Node, transcript, previous, reviewer, feedback string, m model.Model) (*Turn, error) {
	prompt := revisionPrompt(node, transcript, previous, reviewer, feedback, false)
	return e.call(ctx, node, e.systemPrompt(ctx, node, transcript), prompt, m)
}

// Finalize asks node for its final response after reviewer's feedback.
func (e *Executor) Finalize(ctx context.Context, node *workflow.Node, transcript, previous, reviewer, feedback string, m model.Model) (*Turn, error) {
	prompt := revisionPrompt(node, transcript, previous, reviewer, feedback, true)
	return e.call(ctx, node, e.systemPrompt(ctx, node, transcript), prompt, m)
}

// Feedback asks reviewer to comment on message produced by source.
func (e *Executor) Feedback(ctx context.Context, reviewer *workflow.Node, source, message, recent, reflectionPrompt string, m model.Model) (*Turn, error) {
	prompt := feedbackPrompt(reviewer, source, message, recent, reflectionPrompt)
	return e.call(ctx, reviewer, e.systemPrompt(ctx, reviewer, recent+"\n"+message), prompt, m)
}

func (e *Executor) systemPrompt(ctx context.Context, node *workflow.Node, transcript string) string {
	system := strings.TrimSpace(node.Data.SystemMessage)
	if !node.Data.DocAware || e.opts.retriever == nil {
		return system
	}
	docs, err := e.opts.retriever.Retrieve(ctx, retrievalQuery(node, transcript), e.opts.limit)
	if err != nil {
		log.Warnf("agent %s: document retrieval failed: %v", node.Name(), err)
		return system
	}
	docs = knowledge.FilterByScore(docs, e.opts.threshold)
	if len(docs) == 0 {
		return system
	}
	var sb strings.Builder
	writeSection(&sb, system)
	writeSection(&sb, docAwareInstruction)
	writeSection(&sb, strings.TrimRight(knowledge.FormatContext(docs), "\n"))
	return sb.String()
}

func retrievalQuery(node *workflow.Node, transcript string) string {
	if len(transcript) > retrievalQueryTail {
		cut := len(transcript) - retrievalQueryTail
		for cut < len(transcript) && !utf8.RuneStart(transcript[cut]) {
			cut++
		}
		transcript = transcript[cut:]
	}
	return strings.TrimSpace(instructions(node) + "\n" + transcript)
}

func (e *Executor) call(ctx context.Context, node *workflow.Node, system, prompt string, m model.Model) (*Turn, error) {
	if m == nil {
		return nil, ErrNilModel
	}
	info := m.Info()
	temperature := node.Temperature()

	ctx, span := itelemetry.Tracer.Start(ctx, itelemetry.SpanNameExecuteNode, trace.WithAttributes(
		attribute.String(itelemetry.KeyNodeID, node.ID),
		attribute.String(itelemetry.KeyNodeName, node.Name()),
		attribute.String(itelemetry.KeyNodeType, string(node.Type)),
		attribute.String(itelemetry.KeyGenAISystem, info.Provider),
		attribute.String(itelemetry.KeyGenAIModel, info.Name),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, e.opts.callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := m.Generate(callCtx, &model.Request{
		SystemPrompt: system,
		Prompt:       prompt,
		Temperature:  temperature,
		MaxTokens:    node.Data.MaxTokens,
	})
	elapsed := time.Since(start)
	if err == nil && (resp == nil || strings.TrimSpace(resp.Text) == "") {
		err = model.ErrEmptyResponse
	}
	if err != nil {
		var merr *model.Error
		if !errors.As(err, &merr) {
			err = model.NewError(info.Provider, 0, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		itelemetry.RecordNodeCall(ctx, info.Provider, info.Name, elapsed, 0, err)
		return nil, err
	}

	modelName := resp.Model
	if modelName == "" {
		modelName = info.Name
	}
	model.FillUsage(modelName, system+"\n"+prompt, resp)
	span.SetAttributes(attribute.Int(itelemetry.KeyGenAITokens, resp.Usage.TotalTokens))
	itelemetry.RecordNodeCall(ctx, info.Provider, modelName, elapsed, resp.Usage.TotalTokens, nil)

	return &Turn{
		Text:         resp.Text,
		ResponseTime: elapsed,
		TokenCount:   resp.Usage.TotalTokens,
		CostEstimate: model.EstimateCost(modelName, resp.Usage),
		Provider:     info.Provider,
		Model:        modelName,
		Temperature:  temperature,
	}, nil
}
