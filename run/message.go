//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package run

import "time"

// MessageType classifies a recorded message.
type MessageType string

// Message types.
const (
	MessageTypeWorkflowStart      MessageType = "workflow_start"
	MessageTypeChat               MessageType = "chat"
	MessageTypeReflectionFeedback MessageType = "reflection_feedback"
	MessageTypeReflectionRevision MessageType = "reflection_revision"
	MessageTypeWorkflowEnd        MessageType = "workflow_end"
	MessageTypeError              MessageType = "error"
	MessageTypeSystem             MessageType = "system"
)

// Metadata keys set on LLM generated messages.
const (
	MetaProvider     = "provider"
	MetaModel        = "model"
	MetaTemperature  = "temperature"
	MetaCostEstimate = "cost_estimate"
	MetaNodeID       = "node_id"
	MetaIteration    = "iteration"
	MetaServerURL    = "server_url"
)

// Message is an append-only entry of a run's message log.
type Message struct {
	ID             string         `json:"id"`
	RunID          string         `json:"run_id"`
	AgentName      string         `json:"agent_name"`
	AgentType      string         `json:"agent_type"`
	Content        string         `json:"content"`
	MessageType    MessageType    `json:"message_type"`
	SequenceNumber int            `json:"sequence_number"`
	Timestamp      time.Time      `json:"timestamp"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	TokenCount     int            `json:"token_count"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy with its own metadata map.
func (m *Message) Clone() *Message {
	cp := *m
	if m.Metadata != nil {
		cp.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
