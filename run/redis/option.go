//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package redis provides a Redis-backed run store so suspended runs can be
// resumed by any process sharing the same Redis.
package redis

import (
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL       = time.Hour * 24 * 7 // 7 days
	defaultKeyPrefix = "flow:"
)

var (
	defaultOptions = Options{
		ttl:       defaultTTL,
		keyPrefix: defaultKeyPrefix,
	}
)

// Options is the options for the redis run store.
type Options struct {
	url       string
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

// Option is the option for the redis run store.
type Option func(*Options)

// WithRedisClientURL creates a redis client from URL.
func WithRedisClientURL(url string) Option {
	return func(opts *Options) {
		opts.url = url
	}
}

// WithClient uses an existing client. WithRedisClientURL takes priority.
func WithClient(client redis.UniversalClient) Option {
	return func(opts *Options) {
		opts.client = client
	}
}

// WithTTL sets how long runs and their messages are kept after the last write.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		if ttl <= 0 {
			ttl = defaultTTL
		}
		opts.ttl = ttl
	}
}

// WithKeyPrefix namespaces every key written by the store.
func WithKeyPrefix(prefix string) Option {
	return func(opts *Options) {
		opts.keyPrefix = prefix
	}
}
