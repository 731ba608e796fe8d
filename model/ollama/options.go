//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package ollama

import (
	"time"

	"trpc.group/trpc-go/trpc-agent-flow/model"
)

const (
	defaultHost      = "http://localhost:11434"
	defaultMaxTokens = 4096
)

type options struct {
	// Host is the Ollama server, e.g. http://localhost:11434.
	Host string
	// APIKey is sent as a bearer token. Local servers ignore it.
	APIKey    string
	MaxTokens int
	// KeepAlive keeps the model loaded between calls when positive.
	KeepAlive         time.Duration
	HTTPClientOptions []model.HTTPClientOption
}

var defaultOptions = options{
	Host:      defaultHost,
	MaxTokens: defaultMaxTokens,
}

// Option configures an Ollama model.
type Option func(*options)

// WithHost sets the Ollama server address.
func WithHost(host string) Option {
	return func(o *options) {
		if host != "" {
			o.Host = host
		}
	}
}

// WithAPIKey sets the bearer token for hosted Ollama endpoints.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.APIKey = key
	}
}

// WithMaxTokens sets the completion token ceiling (num_predict).
func WithMaxTokens(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.MaxTokens = n
		}
	}
}

// WithKeepAlive sets how long the server keeps the model in memory.
func WithKeepAlive(d time.Duration) Option {
	return func(o *options) {
		o.KeepAlive = d
	}
}

// WithHTTPClientOptions sets the HTTP client options.
func WithHTTPClientOptions(httpOpts ...model.HTTPClientOption) Option {
	return func(o *options) {
		o.HTTPClientOptions = append(o.HTTPClientOptions, httpOpts...)
	}
}
