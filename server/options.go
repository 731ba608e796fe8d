//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"time"

	"trpc.group/trpc-go/trpc-agent-flow/engine"
	"trpc.group/trpc-go/trpc-agent-flow/model/provider"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	apiKeyHeader        = "X-API-Key"
	scopeHeader         = "X-Scope"
)

// Option configures the Server.
type Option func(*options)

type options struct {
	allowedOrigins []string
	catalog        *provider.Catalog
	keys           engine.KeySource
	hub            *Hub
	writeTimeout   time.Duration
	pingInterval   time.Duration
}

var defaultOptions = options{
	allowedOrigins: []string{"*"},
	writeTimeout:   defaultWriteTimeout,
	pingInterval:   defaultPingInterval,
}

// WithAllowedOrigins sets the CORS and WebSocket origins. Default is "*".
func WithAllowedOrigins(origins ...string) Option {
	return func(o *options) {
		if len(origins) > 0 {
			o.allowedOrigins = origins
		}
	}
}

// WithCatalog serves provider model listings from catalog.
func WithCatalog(c *provider.Catalog) Option {
	return func(o *options) {
		o.catalog = c
	}
}

// WithKeySource supplies the keys used for model listings when the request
// carries no X-API-Key header.
func WithKeySource(keys engine.KeySource) Option {
	return func(o *options) {
		o.keys = keys
	}
}

// WithHub streams events of hub over WebSocket. The same hub must be the
// controller's event sink.
func WithHub(h *Hub) Option {
	return func(o *options) {
		o.hub = h
	}
}

// WithPingInterval sets the WebSocket keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pingInterval = d
		}
	}
}
