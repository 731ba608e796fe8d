//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package model defines the LLM capability consumed by the workflow engine
// and the helpers shared by the provider clients.
package model

import "context"

// Model is a text generation backend.
type Model interface {
	// Generate produces a single completion for req. Implementations return
	// a *Error for provider failures and never panic.
	Generate(ctx context.Context, req *Request) (*Response, error)
	// Info returns basic information about the model.
	Info() Info
}

// Info describes a model.
type Info struct {
	// Provider is the canonical provider name, e.g. "openai".
	Provider string
	// Name is the provider specific model name.
	Name string
	// MaxTokens is the completion token ceiling applied to requests.
	MaxTokens int
}

// Request is a single-turn generation request.
type Request struct {
	// SystemPrompt is sent through the provider's system channel when set.
	SystemPrompt string
	// Prompt is the full user prompt, transcript included.
	Prompt string
	// Temperature is the sampling temperature.
	Temperature float64
	// MaxTokens overrides the model ceiling when positive and lower.
	MaxTokens int
}

// Response is the result of a generation.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Lister is implemented by models that can enumerate the provider catalog.
type Lister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// EffectiveMaxTokens returns the request override when it is positive and
// below the ceiling, otherwise the ceiling.
func EffectiveMaxTokens(req *Request, ceiling int) int {
	if req != nil && req.MaxTokens > 0 && (ceiling <= 0 || req.MaxTokens < ceiling) {
		return req.MaxTokens
	}
	return ceiling
}
