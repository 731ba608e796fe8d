//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package provider maps agent LLM settings to model.Model instances.
package provider

import (
	"context"
	"sync"

	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/model/anthropic"
	"trpc.group/trpc-go/trpc-agent-flow/model/gemini"
	"trpc.group/trpc-go/trpc-agent-flow/model/ollama"
	"trpc.group/trpc-go/trpc-agent-flow/model/openai"
)

func init() {
	Register(openai.ProviderName, openaiBuilder)
	Register(anthropic.ProviderName, anthropicBuilder, "claude")
	Register(gemini.ProviderName, geminiBuilder, "google")
	Register(ollama.ProviderName, ollamaBuilder)
}

// Builder builds a model.Model instance.
type Builder func(ctx context.Context, opts *Options) (model.Model, error)

// Options contains resolved settings used when constructing provider-backed models.
type Options struct {
	ProviderName      string                   // ProviderName is the canonical provider name.
	ModelName         string                   // ModelName is the concrete model identifier.
	APIKey            string                   // APIKey holds the credential used for SDK initialization.
	BaseURL           string                   // BaseURL overrides the default endpoint when specified.
	MaxTokens         int                      // MaxTokens is the capped completion token ceiling.
	HTTPClientOptions []model.HTTPClientOption // HTTPClientOptions customize the HTTP client.
}

type registration struct {
	builder Builder
	aliases []string
}

var (
	buildersMu sync.RWMutex                     // buildersMu guards builders access.
	builders   = make(map[string]*registration) // builders stores canonical name to builder mappings.
)

// Register registers a builder under a canonical provider name and optional
// aliases. Routers created afterwards pick it up.
func Register(name string, b Builder, aliases ...string) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[name] = &registration{builder: b, aliases: aliases}
}

// Get returns the builder registered under name.
func Get(name string) (Builder, bool) {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	reg, ok := builders[name]
	if !ok {
		return nil, false
	}
	return reg.builder, true
}

func snapshotBuilders() map[string]*registration {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	out := make(map[string]*registration, len(builders))
	for name, reg := range builders {
		out[name] = reg
	}
	return out
}

func openaiBuilder(_ context.Context, opts *Options) (model.Model, error) {
	res := []openai.Option{
		openai.WithAPIKey(opts.APIKey),
		openai.WithMaxTokens(opts.MaxTokens),
		openai.WithHTTPClientOptions(opts.HTTPClientOptions...),
	}
	if opts.BaseURL != "" {
		res = append(res, openai.WithBaseURL(opts.BaseURL))
	}
	return openai.New(opts.ModelName, res...), nil
}

func anthropicBuilder(_ context.Context, opts *Options) (model.Model, error) {
	res := []anthropic.Option{
		anthropic.WithAPIKey(opts.APIKey),
		anthropic.WithMaxTokens(opts.MaxTokens),
		anthropic.WithHTTPClientOptions(opts.HTTPClientOptions...),
	}
	if opts.BaseURL != "" {
		res = append(res, anthropic.WithBaseURL(opts.BaseURL))
	}
	return anthropic.New(opts.ModelName, res...), nil
}

func geminiBuilder(ctx context.Context, opts *Options) (model.Model, error) {
	res := []gemini.Option{
		gemini.WithAPIKey(opts.APIKey),
		gemini.WithMaxTokens(opts.MaxTokens),
		gemini.WithHTTPClientOptions(opts.HTTPClientOptions...),
	}
	if opts.BaseURL != "" {
		res = append(res, gemini.WithBaseURL(opts.BaseURL))
	}
	return gemini.New(ctx, opts.ModelName, res...)
}

// ollamaBuilder treats the API key as a bearer token. Local servers accept
// any placeholder value.
func ollamaBuilder(_ context.Context, opts *Options) (model.Model, error) {
	return ollama.New(opts.ModelName,
		ollama.WithHost(opts.BaseURL),
		ollama.WithAPIKey(opts.APIKey),
		ollama.WithMaxTokens(opts.MaxTokens),
		ollama.WithHTTPClientOptions(opts.HTTPClientOptions...),
	)
}
