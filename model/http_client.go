//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package model

import "net/http"

// HTTPClientNewFunc builds the HTTP client handed to a provider SDK.
type HTTPClientNewFunc func(opts ...HTTPClientOption) *http.Client

// DefaultNewHTTPClient builds provider HTTP clients. No client timeout is
// set: every call is bounded by its request context.
var DefaultNewHTTPClient HTTPClientNewFunc = func(opts ...HTTPClientOption) *http.Client {
	o := &HTTPClientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	transport := o.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if len(o.Headers) > 0 {
		transport = &headerTransport{base: transport, headers: o.Headers}
	}
	return &http.Client{Transport: transport}
}

// HTTPClientOptions configure provider HTTP clients.
type HTTPClientOptions struct {
	Transport http.RoundTripper
	// Headers are added to every request unless already set, e.g. for an
	// LLM gateway in front of the providers.
	Headers map[string]string
}

// HTTPClientOption configures HTTPClientOptions.
type HTTPClientOption func(*HTTPClientOptions)

// WithHTTPClientTransport sets the round tripper.
func WithHTTPClientTransport(transport http.RoundTripper) HTTPClientOption {
	return func(o *HTTPClientOptions) {
		o.Transport = transport
	}
}

// WithHTTPClientHeader adds a header to every provider request.
func WithHTTPClientHeader(key, value string) HTTPClientOption {
	return func(o *HTTPClientOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[key] = value
	}
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}
