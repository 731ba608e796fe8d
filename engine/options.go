//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"time"

	"github.com/google/uuid"
	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/humaninput"
	"trpc.group/trpc-go/trpc-agent-flow/reflection"
)

const (
	defaultPoolSize      = 16
	defaultRetryBackoff  = time.Second
	defaultSweepInterval = time.Minute
)

type options struct {
	maxRetries     int
	retryBackoff   time.Duration
	poolSize       int
	sink           EventSink
	executorOpts   []agent.Option
	reflectionOpts []reflection.Option
	gatewayOpts    []humaninput.Option
	tools          ToolDirectory
	newID          func() string
}

var defaultOptions = options{
	retryBackoff: defaultRetryBackoff,
	poolSize:     defaultPoolSize,
	sink:         nopSink{},
	newID:        uuid.NewString,
}

// Option configures a Controller.
type Option func(*options)

// WithMaxRetries retries retryable provider errors of agent turns up to n
// times, waiting backoff, 2*backoff, ... between attempts.
func WithMaxRetries(n int, backoff time.Duration) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
		if backoff > 0 {
			o.retryBackoff = backoff
		}
	}
}

// WithPoolSize bounds the number of concurrent calls of parallel groups
// across all runs.
func WithPoolSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// WithEventSink publishes run events to sink.
func WithEventSink(sink EventSink) Option {
	return func(o *options) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithExecutorOptions configures the node executor.
func WithExecutorOptions(opts ...agent.Option) Option {
	return func(o *options) {
		o.executorOpts = append(o.executorOpts, opts...)
	}
}

// WithReflectionOptions configures the reflection handler.
func WithReflectionOptions(opts ...reflection.Option) Option {
	return func(o *options) {
		o.reflectionOpts = append(o.reflectionOpts, opts...)
	}
}

// WithHumanInputOptions configures the human-input gateway.
func WithHumanInputOptions(opts ...humaninput.Option) Option {
	return func(o *options) {
		o.gatewayOpts = append(o.gatewayOpts, opts...)
	}
}

// WithToolDirectory lists the tools of MCPServer nodes into the transcript.
// Without a directory MCPServer nodes are passed over.
func WithToolDirectory(d ToolDirectory) Option {
	return func(o *options) {
		o.tools = d
	}
}

// WithIDGenerator overrides run and message id generation.
func WithIDGenerator(f func() string) Option {
	return func(o *options) {
		if f != nil {
			o.newID = f
		}
	}
}
