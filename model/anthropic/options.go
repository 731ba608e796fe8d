//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package anthropic

import (
	"github.com/anthropics/anthropic-sdk-go/option"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

const defaultMaxTokens = 4096

// options contains configuration options for creating an Anthropic model.
type options struct {
	// API key for the Anthropic client.
	apiKey string
	// Base URL for the Anthropic client.
	baseURL string
	// Completion token ceiling; Anthropic requires max_tokens on every call.
	maxTokens int
	// SDK level retries.
	maxRetries int
	// Options for the HTTP client.
	httpClientOptions []model.HTTPClientOption
	// Options for the Anthropic client.
	anthropicClientOptions []option.RequestOption
}

var defaultOptions = options{
	maxTokens: defaultMaxTokens,
}

// Option is a function that configures an Anthropic model.
type Option func(*options)

// WithAPIKey sets the API key for the Anthropic client.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithBaseURL sets the base URL for the Anthropic client.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithMaxTokens sets the completion token ceiling.
func WithMaxTokens(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithMaxRetries sets the SDK retry count.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithHTTPClientOptions sets the HTTP client options for the Anthropic client.
func WithHTTPClientOptions(httpOpts ...model.HTTPClientOption) Option {
	return func(o *options) {
		o.httpClientOptions = append(o.httpClientOptions, httpOpts...)
	}
}

// WithAnthropicClientOptions appends raw SDK request options.
func WithAnthropicClientOptions(opts ...option.RequestOption) Option {
	return func(o *options) {
		o.anthropicClientOptions = append(o.anthropicClientOptions, opts...)
	}
}
