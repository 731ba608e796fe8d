//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package anthropic provides the Anthropic messages backend.
package anthropic

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// ProviderName is the canonical provider name.
const ProviderName = "anthropic"

// Model implements the model.Model interface for the Anthropic API.
type Model struct {
	client    anthropic.Client
	name      string
	baseURL   string
	apiKey    string
	maxTokens int
}

// New creates a new Anthropic model.
func New(name string, opts ...Option) *Model {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	var clientOpts []option.RequestOption
	if o.apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(o.apiKey))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(o.baseURL))
	}
	clientOpts = append(clientOpts,
		option.WithHTTPClient(model.DefaultNewHTTPClient(o.httpClientOptions...)),
		option.WithMaxRetries(o.maxRetries),
	)
	clientOpts = append(clientOpts, o.anthropicClientOptions...)

	return &Model{
		client:    anthropic.NewClient(clientOpts...),
		name:      name,
		baseURL:   o.baseURL,
		apiKey:    o.apiKey,
		maxTokens: o.maxTokens,
	}
}

// Info implements the model.Model interface.
func (m *Model) Info() model.Info {
	return model.Info{Provider: ProviderName, Name: m.name, MaxTokens: m.maxTokens}
}

// Generate implements the model.Model interface.
func (m *Model) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	if req == nil {
		return nil, model.ErrNilRequest
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.name),
		MaxTokens: int64(model.EffectiveMaxTokens(req, m.maxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(clampTemperature(req.Temperature)),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	msg, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, model.NewError(ProviderName, 0, model.ErrEmptyResponse)
	}
	resp := &model.Response{
		Text:  sb.String(),
		Model: string(msg.Model),
		Usage: model.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	if resp.Model == "" {
		resp.Model = m.name
	}
	return resp, nil
}

// Anthropic accepts temperatures in [0, 1].
func clampTemperature(t float64) float64 {
	switch {
	case t < 0:
		return 0
	case t > 1:
		return 1
	default:
		return t
	}
}

// ListModels implements model.Lister.
func (m *Model) ListModels(ctx context.Context) ([]string, error) {
	page, err := m.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, wrapError(err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, info := range page.Data {
		ids = append(ids, info.ID)
	}
	return ids, nil
}

func wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return model.NewError(ProviderName, apiErr.StatusCode, err)
	}
	return model.NewError(ProviderName, 0, err)
}
