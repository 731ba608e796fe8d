//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package gemini

import "trpc.group/trpc-go/trpc-agent-flow/model"

const defaultMaxTokens = 8192

type options struct {
	apiKey            string
	baseURL           string
	apiVersion        string
	maxTokens         int
	httpClientOptions []model.HTTPClientOption
}

var defaultOptions = options{
	maxTokens: defaultMaxTokens,
}

// Option is a function that configures a Gemini model.
type Option func(*options)

// WithAPIKey sets the Gemini API key.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithBaseURL overrides the Gemini API endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithAPIVersion overrides the API version, "v1beta" by default.
func WithAPIVersion(version string) Option {
	return func(o *options) {
		o.apiVersion = version
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

// WithHTTPClientOptions sets the HTTP client options.
func WithHTTPClientOptions(httpOpts ...model.HTTPClientOption) Option {
	return func(o *options) {
		o.httpClientOptions = append(o.httpClientOptions, httpOpts...)
	}
}
