//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package run holds the execution run record, its message log and the
// storage contract shared by the run stores.
package run

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-agent-flow/workflow"
)

// Status is the lifecycle state of a run.
type Status string

// Run statuses.
const (
	StatusPending            Status = "PENDING"
	StatusRunning            Status = "RUNNING"
	StatusAwaitingHumanInput Status = "AWAITING_HUMAN_INPUT"
	StatusCompleted          Status = "COMPLETED"
	StatusFailed             Status = "FAILED"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrInvalidTransition is returned for a lifecycle change the run does not allow.
var ErrInvalidTransition = errors.New("run: invalid status transition")

var transitions = map[Status][]Status{
	StatusPending:            {StatusRunning, StatusFailed},
	StatusRunning:            {StatusAwaitingHumanInput, StatusCompleted, StatusFailed},
	StatusAwaitingHumanInput: {StatusRunning, StatusFailed},
}

// Entry is one turn of the conversation transcript.
type Entry struct {
	Agent   string `json:"agent"`
	Content string `json:"content"`
}

// HumanInputContext is persisted on a suspended run so it can be resumed,
// even by another process.
type HumanInputContext struct {
	RequestID string `json:"request_id"`
	// AgentID and AgentName identify the node waiting for the human.
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	// SourceID and SourceName identify the agent whose output is reviewed.
	SourceID      string `json:"source_id,omitempty"`
	SourceName    string `json:"source_name,omitempty"`
	Prompt        string `json:"prompt"`
	SourceMessage string `json:"source_message,omitempty"`
	EdgeID        string `json:"edge_id,omitempty"`
	// Iteration is 1-based; MaxIterations is the reflection bound.
	Iteration      int       `json:"iteration"`
	MaxIterations  int       `json:"max_iterations"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	RequestedAt    time.Time `json:"requested_at"`
	Deadline       time.Time `json:"deadline"`
}

// Run is one execution of a workflow graph.
type Run struct {
	ID     string `json:"run_id"`
	Status Status `json:"status"`
	// Graph is the snapshot taken at creation; it never changes.
	Graph               *workflow.Graph `json:"graph_snapshot"`
	ConversationHistory []Entry         `json:"conversation_history"`
	// ExecutedNodes maps a node id to its last output.
	ExecutedNodes map[string]string `json:"executed_nodes"`
	// SequenceNumber is the number the next recorded message receives.
	SequenceNumber          int                `json:"sequence_number"`
	HumanInputRequired      bool               `json:"human_input_required"`
	AwaitingHumanInputAgent string             `json:"awaiting_human_input_agent,omitempty"`
	HumanInputContext       *HumanInputContext `json:"human_input_context,omitempty"`
	ErrorMessage            string             `json:"error_message,omitempty"`
	StartTime               time.Time          `json:"start_time,omitempty"`
	EndTime                 time.Time          `json:"end_time,omitempty"`
	// Scope selects the API keys available to the run.
	Scope string `json:"scope,omitempty"`
	// Input is an optional initial user message.
	Input string `json:"input,omitempty"`
	// Cursor is the index of the next plan step to execute.
	Cursor    int       `json:"cursor"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a PENDING run over a snapshot of g.
func New(id string, g *workflow.Graph) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:            id,
		Status:        StatusPending,
		Graph:         g.Clone(),
		ExecutedNodes: make(map[string]string),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Transition moves the run to status to. It stamps StartTime on the first
// start and EndTime on entering a terminal state.
func (r *Run) Transition(to Status) error {
	for _, allowed := range transitions[r.Status] {
		if allowed != to {
			continue
		}
		now := time.Now().UTC()
		if to == StatusRunning && r.StartTime.IsZero() {
			r.StartTime = now
		}
		if to.Terminal() {
			r.EndTime = now
		}
		r.Status = to
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
}

// Fail moves the run to FAILED with msg. Terminal runs are left unchanged.
func (r *Run) Fail(msg string) error {
	if err := r.Transition(StatusFailed); err != nil {
		return err
	}
	r.ErrorMessage = msg
	r.ClearHumanInput()
	return nil
}

// NextSequence returns the sequence number for a new message and advances
// the counter.
func (r *Run) NextSequence() int {
	n := r.SequenceNumber
	r.SequenceNumber++
	return n
}

// AppendTranscript adds a turn to the conversation history.
func (r *Run) AppendTranscript(agent, content string) {
	r.ConversationHistory = append(r.ConversationHistory, Entry{Agent: agent, Content: content})
}

// Transcript renders the conversation history as "Agent: text" paragraphs.
func (r *Run) Transcript() string {
	return FormatTranscript(r.ConversationHistory)
}

// FormatTranscript renders entries as "Agent: text" paragraphs.
func FormatTranscript(entries []Entry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(e.Agent)
		sb.WriteString(": ")
		sb.WriteString(e.Content)
	}
	return sb.String()
}

// Suspend records a pending human input request.
func (r *Run) Suspend(hic *HumanInputContext) error {
	if err := r.Transition(StatusAwaitingHumanInput); err != nil {
		return err
	}
	r.HumanInputRequired = true
	r.AwaitingHumanInputAgent = hic.AgentName
	r.HumanInputContext = hic
	return nil
}

// ClearHumanInput drops the pending human input request.
func (r *Run) ClearHumanInput() {
	r.HumanInputRequired = false
	r.AwaitingHumanInputAgent = ""
	r.HumanInputContext = nil
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Graph = r.Graph.Clone()
	cp.ConversationHistory = append([]Entry(nil), r.ConversationHistory...)
	cp.ExecutedNodes = make(map[string]string, len(r.ExecutedNodes))
	for k, v := range r.ExecutedNodes {
		cp.ExecutedNodes[k] = v
	}
	if r.HumanInputContext != nil {
		hic := *r.HumanInputContext
		cp.HumanInputContext = &hic
	}
	return &cp
}
