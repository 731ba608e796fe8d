//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package openai

import (
	openaiopt "github.com/openai/openai-go/option"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

const defaultMaxTokens = 4096

// options contains configuration options for creating a Model.
type options struct {
	// API key for the OpenAI client.
	APIKey string
	// Base URL for the OpenAI client. It is optional for OpenAI-compatible APIs.
	BaseURL string
	// Completion token ceiling.
	MaxTokens int
	// SDK level retries. The run controller owns the retry policy, so the
	// default is zero.
	MaxRetries int
	// Options for the HTTP client.
	HTTPClientOptions []model.HTTPClientOption
	// Options for the OpenAI client.
	OpenAIOptions []openaiopt.RequestOption
}

var defaultOptions = options{
	MaxTokens: defaultMaxTokens,
}

// Option is a function that configures an OpenAI model.
type Option func(*options)

// WithAPIKey sets the API key for the OpenAI client.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.APIKey = key
	}
}

// WithBaseURL sets the base URL for the OpenAI client.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.BaseURL = url
	}
}

// WithMaxTokens sets the completion token ceiling.
func WithMaxTokens(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.MaxTokens = n
		}
	}
}

// WithMaxRetries sets the SDK retry count.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.MaxRetries = n
		}
	}
}

// WithHTTPClientOptions sets the HTTP client options for the OpenAI client.
func WithHTTPClientOptions(httpOpts ...model.HTTPClientOption) Option {
	return func(o *options) {
		o.HTTPClientOptions = append(o.HTTPClientOptions, httpOpts...)
	}
}

// WithOpenAIOptions appends raw SDK request options.
func WithOpenAIOptions(openaiOpts ...openaiopt.RequestOption) Option {
	return func(o *options) {
		o.OpenAIOptions = append(o.OpenAIOptions, openaiOpts...)
	}
}
