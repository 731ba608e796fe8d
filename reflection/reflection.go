//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package reflection runs bounded revision loops around agent turns: an
// agent revising its own output, or two agents exchanging feedback and
// revisions.
package reflection

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"trpc.group/trpc-go/trpc-agent-flow/agent"
	itelemetry "trpc.group/trpc-go/trpc-agent-flow/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/run"
	"trpc.group/trpc-go/trpc-agent-flow/workflow"
)

const (
	// DefaultMaxIterations applies when an edge sets no bound.
	DefaultMaxIterations = 2

	defaultContextEntries = 5
)

// Iterations returns the iteration bound n, or the default when n is not
// set. A positive limit caps the result; zero leaves it unbounded.
func Iterations(n, limit int) int {
	if n <= 0 {
		n = DefaultMaxIterations
	}
	if limit > 0 && n > limit {
		return limit
	}
	return n
}

// TurnKind tells feedback turns from revision turns.
type TurnKind int

// Turn kinds.
const (
	KindFeedback TurnKind = iota
	KindRevision
)

// Turn is one LLM call made inside a reflection loop.
type Turn struct {
	Kind      TurnKind
	Node      *workflow.Node
	Iteration int
	*agent.Turn
}

// Outcome is the result of a reflection loop. Exactly one of Final or
// Suspended is meaningful: a suspended loop waits for human feedback and
// Final holds the source text under review.
type Outcome struct {
	// Turns are the calls made, in order.
	Turns []Turn
	// Final is the last good response of the source agent.
	Final string
	// Transcript is the input transcript plus every turn of the loop.
	Transcript []run.Entry
	// Suspended is set when a human must review Final before continuing.
	Suspended *run.HumanInputContext
}

// Option configures a Handler.
type Option func(*Handler)

// WithContextEntries sets how many trailing transcript entries are shown to
// a reviewing agent.
func WithContextEntries(k int) Option {
	return func(h *Handler) {
		if k > 0 {
			h.contextEntries = k
		}
	}
}

// WithMaxIterationsLimit caps the iteration bound of every reflection edge.
// The default of zero applies no cap.
func WithMaxIterationsLimit(limit int) Option {
	return func(h *Handler) {
		if limit >= 0 {
			h.maxIterations = limit
		}
	}
}

// Handler runs reflection loops through an agent.Executor. It never
// records messages; callers record Outcome.Turns.
type Handler struct {
	exec           *agent.Executor
	contextEntries int
	maxIterations  int
}

// New creates a Handler.
func New(exec *agent.Executor, opts ...Option) *Handler {
	h := &Handler{exec: exec, contextEntries: defaultContextEntries}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Self asks node to revise initial N-1 times where N is the edge's
// iteration bound. A failed revision ends the loop and keeps the last good
// response; only a cancelled context is returned as an error.
func (h *Handler) Self(ctx context.Context, node *workflow.Node, edge *workflow.Edge, initial string,
	transcript []run.Entry, m model.Model) (*Outcome, error) {
	n := Iterations(edge.MaxIterations(0), h.maxIterations)
	prompt := edge.ReflectionPrompt(agent.DefaultSelfReflectionPrompt)
	ctx, span := itelemetry.Tracer.Start(ctx, itelemetry.SpanNameReflection, trace.WithAttributes(
		attribute.String(itelemetry.KeyNodeID, node.ID),
		attribute.String(itelemetry.KeyEdgeType, string(edge.Type)),
		attribute.Int(itelemetry.KeyIterations, n),
	))
	defer span.End()

	out := &Outcome{Final: initial, Transcript: append([]run.Entry(nil), transcript...)}
	for i := 1; i < n; i++ {
		turn, err := h.exec.Revise(ctx, node, run.FormatTranscript(out.Transcript), out.Final, "", prompt, m)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			log.Warnf("self reflection of %s stopped at iteration %d/%d: %v", node.Name(), i, n-1, err)
			break
		}
		out.Final = turn.Text
		out.Turns = append(out.Turns, Turn{Kind: KindRevision, Node: node, Iteration: i, Turn: turn})
		out.Transcript = append(out.Transcript, run.Entry{Agent: node.Name(), Content: turn.Text})
	}
	return out, nil
}

// CrossRequest describes a feedback exchange between two agents.
type CrossRequest struct {
	Source      *workflow.Node
	Target      *workflow.Node
	Edge        *workflow.Edge
	SourceModel model.Model
	// TargetModel is unused when the target waits for a human.
	TargetModel model.Model
	// Initial is the source's response under review.
	Initial    string
	Transcript []run.Entry
}

// Cross runs up to N rounds: the target comments on the source's current
// response and, except in the last round, the source revises it. A target
// waiting for human input suspends the loop instead of calling an LLM.
// Provider errors end the loop and are returned with the partial outcome.
func (h *Handler) Cross(ctx context.Context, req CrossRequest) (*Outcome, error) {
	n := Iterations(req.Edge.MaxIterations(0), h.maxIterations)
	prompt := req.Edge.ReflectionPrompt(agent.DefaultCrossReflectionPrompt)
	source, target := req.Source, req.Target
	ctx, span := itelemetry.Tracer.Start(ctx, itelemetry.SpanNameReflection, trace.WithAttributes(
		attribute.String(itelemetry.KeyNodeID, source.ID),
		attribute.String(itelemetry.KeyEdgeType, string(req.Edge.Type)),
		attribute.Int(itelemetry.KeyIterations, n),
	))
	defer span.End()

	out := &Outcome{Final: req.Initial, Transcript: append([]run.Entry(nil), req.Transcript...)}
	for i := 1; i <= n; i++ {
		if target.RequiresHumanInput() {
			out.Suspended = &run.HumanInputContext{
				AgentID:        target.ID,
				AgentName:      target.Name(),
				SourceID:       source.ID,
				SourceName:     source.Name(),
				Prompt:         humanPrompt(req.Edge, source),
				SourceMessage:  out.Final,
				EdgeID:         req.Edge.ID,
				Iteration:      i,
				MaxIterations:  n,
				TimeoutSeconds: target.Data.HumanInputTimeout,
			}
			return out, nil
		}

		recent := run.FormatTranscript(tail(out.Transcript, h.contextEntries))
		fb, err := h.exec.Feedback(ctx, target, source.Name(), out.Final, recent, prompt, req.TargetModel)
		if err != nil {
			return out, fmt.Errorf("reflection feedback from %s (round %d/%d): %w", target.Name(), i, n, err)
		}
		out.Turns = append(out.Turns, Turn{Kind: KindFeedback, Node: target, Iteration: i, Turn: fb})
		out.Transcript = append(out.Transcript, run.Entry{Agent: target.Name(), Content: fb.Text})
		if i == n {
			break
		}

		rev, err := h.exec.Revise(ctx, source, run.FormatTranscript(out.Transcript), out.Final,
			target.Name(), fb.Text, req.SourceModel)
		if err != nil {
			return out, fmt.Errorf("reflection revision by %s (round %d/%d): %w", source.Name(), i, n, err)
		}
		out.Final = rev.Text
		out.Turns = append(out.Turns, Turn{Kind: KindRevision, Node: source, Iteration: i, Turn: rev})
		out.Transcript = append(out.Transcript, run.Entry{Agent: source.Name(), Content: rev.Text})
	}
	return out, nil
}

func humanPrompt(edge *workflow.Edge, source *workflow.Node) string {
	if edge.Data != nil && edge.Data.ReflectionPrompt != "" {
		return edge.Data.ReflectionPrompt
	}
	return fmt.Sprintf("Please review the response from %s and provide your feedback.", source.Name())
}

func tail(entries []run.Entry, k int) []run.Entry {
	if len(entries) <= k {
		return entries
	}
	return entries[len(entries)-k:]
}
