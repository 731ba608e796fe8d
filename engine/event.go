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
	"context"
	"time"

	"trpc.group/trpc-go/trpc-agent-flow/run"
)

// EventType names an event published by the controller.
type EventType string

// Event types.
const (
	EventExecutionStatus   EventType = "execution_status"
	EventHumanInputRequest EventType = "human_input_request"
	EventMessage           EventType = "message"
)

// Event is a notification about a run. Field names follow the transport
// framing used by clients.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"runId"`
	Timestamp time.Time `json:"timestamp"`

	// execution_status
	Status   run.Status `json:"status,omitempty"`
	Message  string     `json:"message,omitempty"`
	Progress float64    `json:"progress,omitempty"`

	// human_input_request
	AgentName      string `json:"agentName,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
	RequestID      string `json:"requestId,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`

	// message
	Data *run.Message `json:"data,omitempty"`
}

// EventSink receives controller events. Publish must not block for long;
// it is called from the run loop.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event)

// Publish implements EventSink.
func (f EventSinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) {}

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

// Publish implements EventSink.
func (m MultiSink) Publish(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Publish(ctx, ev)
	}
}
