//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package gemini provides the Google Gemini backend.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// ProviderName is the canonical provider name.
const ProviderName = "gemini"

// Model implements the model.Model interface for the Gemini API.
type Model struct {
	client    *genai.Client
	name      string
	maxTokens int
}

// New creates a new Gemini model. It fails when the client cannot be
// configured, e.g. when no API key is available.
func New(ctx context.Context, name string, opts ...Option) (*Model, error) {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     o.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: model.DefaultNewHTTPClient(o.httpClientOptions...),
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    o.baseURL,
			APIVersion: o.apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Model{client: client, name: name, maxTokens: o.maxTokens}, nil
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
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(model.EffectiveMaxTokens(req, m.maxTokens)),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	out, err := m.client.Models.GenerateContent(ctx, m.name, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, wrapError(err)
	}
	text := out.Text()
	if text == "" {
		return nil, model.NewError(ProviderName, 0, model.ErrEmptyResponse)
	}
	resp := &model.Response{Text: text, Model: out.ModelVersion}
	if resp.Model == "" {
		resp.Model = m.name
	}
	if u := out.UsageMetadata; u != nil {
		resp.Usage = model.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return resp, nil
}

// ListModels implements model.Lister. Names are returned without the
// "models/" prefix.
func (m *Model) ListModels(ctx context.Context) ([]string, error) {
	page, err := m.client.Models.List(ctx, nil)
	if err != nil {
		return nil, wrapError(err)
	}
	ids := make([]string, 0, len(page.Items))
	for _, item := range page.Items {
		ids = append(ids, strings.TrimPrefix(item.Name, "models/"))
	}
	return ids, nil
}

func wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return model.NewError(ProviderName, apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return model.NewError(ProviderName, apiErrPtr.Code, err)
	}
	return model.NewError(ProviderName, 0, err)
}
