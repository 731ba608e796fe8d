//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package ollama provides the Ollama chat backend for local and hosted
// open-weight models.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// ProviderName is the canonical provider name.
const ProviderName = "ollama"

// Model implements model.Model on the Ollama chat API.
type Model struct {
	client    *api.Client
	name      string
	host      string
	maxTokens int
	keepAlive *api.Duration
}

// New creates an Ollama model. It fails only when the host is not a valid
// URL.
func New(name string, opts ...Option) (*Model, error) {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	base, err := url.Parse(strings.TrimSuffix(o.Host, "/"))
	if err != nil {
		return nil, fmt.Errorf("ollama: parse host %q: %w", o.Host, err)
	}
	httpOpts := o.HTTPClientOptions
	if o.APIKey != "" {
		httpOpts = append(append([]model.HTTPClientOption(nil), httpOpts...),
			model.WithHTTPClientHeader("Authorization", "Bearer "+o.APIKey))
	}
	m := &Model{
		client:    api.NewClient(base, model.DefaultNewHTTPClient(httpOpts...)),
		name:      name,
		host:      base.String(),
		maxTokens: o.MaxTokens,
	}
	if o.KeepAlive > 0 {
		m.keepAlive = &api.Duration{Duration: o.KeepAlive}
	}
	return m, nil
}

// Info implements the model.Model interface.
func (m *Model) Info() model.Info {
	return model.Info{Provider: ProviderName, Name: m.name, MaxTokens: m.maxTokens}
}

// Generate implements the model.Model interface. Streaming is disabled, so
// the server answers with one message.
func (m *Model) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	if req == nil {
		return nil, model.ErrNilRequest
	}
	var out *api.ChatResponse
	err := m.client.Chat(ctx, m.buildChatRequest(req), func(resp api.ChatResponse) error {
		out = &resp
		return nil
	})
	if err != nil {
		return nil, wrapError(err)
	}
	if out == nil || out.Message.Content == "" {
		return nil, model.NewError(ProviderName, 0, model.ErrEmptyResponse)
	}
	resp := &model.Response{
		Text:  out.Message.Content,
		Model: out.Model,
		Usage: model.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}
	if resp.Model == "" {
		resp.Model = m.name
	}
	return resp, nil
}

func (m *Model) buildChatRequest(req *model.Request) *api.ChatRequest {
	var messages []api.Message
	if req.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Prompt})
	stream := false
	return &api.ChatRequest{
		Model:     m.name,
		Messages:  messages,
		Stream:    &stream,
		KeepAlive: m.keepAlive,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": model.EffectiveMaxTokens(req, m.maxTokens),
		},
	}
}

// ListModels implements model.Lister with the locally pulled models.
func (m *Model) ListModels(ctx context.Context) ([]string, error) {
	resp, err := m.client.List(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	ids := make([]string, 0, len(resp.Models))
	for _, mdl := range resp.Models {
		ids = append(ids, mdl.Name)
	}
	return ids, nil
}

func wrapError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return model.NewError(ProviderName, statusErr.StatusCode, err)
	}
	return model.NewError(ProviderName, 0, err)
}
