//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package openai provides the OpenAI chat completion backend.
package openai

import (
	"context"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// ProviderName is the canonical provider name.
const ProviderName = "openai"

// Model implements the model.Model interface for the OpenAI API.
type Model struct {
	client    openai.Client
	name      string
	baseURL   string
	apiKey    string
	maxTokens int
}

// New creates a new OpenAI model.
func New(name string, opts ...Option) *Model {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}

	var clientOpts []openaiopt.RequestOption
	if o.APIKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.BaseURL))
	}
	clientOpts = append(clientOpts,
		openaiopt.WithHTTPClient(model.DefaultNewHTTPClient(o.HTTPClientOptions...)),
		openaiopt.WithMaxRetries(o.MaxRetries),
	)
	clientOpts = append(clientOpts, o.OpenAIOptions...)

	return &Model{
		client:    openai.NewClient(clientOpts...),
		name:      name,
		baseURL:   o.BaseURL,
		apiKey:    o.APIKey,
		maxTokens: o.MaxTokens,
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
	completion, err := m.client.Chat.Completions.New(ctx, m.buildChatRequest(req))
	if err != nil {
		return nil, wrapError(err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, model.NewError(ProviderName, 0, model.ErrEmptyResponse)
	}
	resp := &model.Response{
		Text:  completion.Choices[0].Message.Content,
		Model: completion.Model,
		Usage: model.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if resp.Model == "" {
		resp.Model = m.name
	}
	return resp, nil
}

func (m *Model) buildChatRequest(req *model.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:               m.name,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(model.EffectiveMaxTokens(req, m.maxTokens))),
	}
	// Reasoning models only accept the default temperature.
	if !isReasoningModel(m.name) {
		params.Temperature = openai.Float(req.Temperature)
	}
	return params
}

func isReasoningModel(name string) bool {
	return strings.HasPrefix(name, "o1") || strings.HasPrefix(name, "o3") || strings.HasPrefix(name, "o4")
}

// ListModels implements model.Lister.
func (m *Model) ListModels(ctx context.Context) ([]string, error) {
	page, err := m.client.Models.List(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, mdl := range page.Data {
		ids = append(ids, mdl.ID)
	}
	return ids, nil
}

func wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return model.NewError(ProviderName, apiErr.StatusCode, err)
	}
	return model.NewError(ProviderName, 0, err)
}
