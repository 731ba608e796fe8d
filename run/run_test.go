//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package run

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/trpc-agent-flow/workflow"
)

func testGraph() *workflow.Graph {
	return &workflow.Graph{
		Nodes: []*workflow.Node{
			{ID: "s", Type: workflow.NodeTypeStart},
			{ID: "a", Type: workflow.NodeTypeAssistant, Data: workflow.NodeData{Name: "A"}},
		},
		Edges: []*workflow.Edge{{ID: "e1", Source: "s", Target: "a", Type: workflow.EdgeTypeSequential}},
	}
}

func TestTransitions(t *testing.T) {
	r := New("r1", testGraph())
	assert.Equal(t, StatusPending, r.Status)
	assert.True(t, r.StartTime.IsZero())

	require.NoError(t, r.Transition(StatusRunning))
	assert.False(t, r.StartTime.IsZero())
	started := r.StartTime

	require.NoError(t, r.Suspend(&HumanInputContext{AgentID: "u", AgentName: "User"}))
	assert.Equal(t, StatusAwaitingHumanInput, r.Status)
	assert.True(t, r.HumanInputRequired)
	assert.Equal(t, "User", r.AwaitingHumanInputAgent)

	require.NoError(t, r.Transition(StatusRunning))
	assert.Equal(t, started, r.StartTime)
	require.NoError(t, r.Transition(StatusCompleted))
	assert.False(t, r.EndTime.IsZero())
	assert.True(t, r.Status.Terminal())

	err := r.Transition(StatusRunning)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, r.Fail("late"), ErrInvalidTransition)
	assert.Empty(t, r.ErrorMessage)
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
	}{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusAwaitingHumanInput},
		{StatusAwaitingHumanInput, StatusCompleted},
		{StatusFailed, StatusRunning},
		{StatusCompleted, StatusFailed},
	}
	for _, tt := range tests {
		r := &Run{Status: tt.from}
		assert.ErrorIs(t, r.Transition(tt.to), ErrInvalidTransition, "%s -> %s", tt.from, tt.to)
		assert.Equal(t, tt.from, r.Status)
	}
}

func TestFailClearsHumanInput(t *testing.T) {
	r := New("r1", testGraph())
	require.NoError(t, r.Transition(StatusRunning))
	require.NoError(t, r.Suspend(&HumanInputContext{AgentName: "User"}))
	require.NoError(t, r.Fail("timed out"))
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, "timed out", r.ErrorMessage)
	assert.False(t, r.HumanInputRequired)
	assert.Nil(t, r.HumanInputContext)
	assert.Empty(t, r.AwaitingHumanInputAgent)
}

func TestSequenceAndTranscript(t *testing.T) {
	r := New("r1", testGraph())
	assert.Equal(t, 0, r.NextSequence())
	assert.Equal(t, 1, r.NextSequence())
	assert.Equal(t, 2, r.SequenceNumber)

	assert.Empty(t, r.Transcript())
	r.AppendTranscript("A", "hello")
	r.AppendTranscript("B", "world")
	assert.Equal(t, "A: hello\n\nB: world", r.Transcript())
}

func TestCloneIsDeep(t *testing.T) {
	r := New("r1", testGraph())
	r.ExecutedNodes["a"] = "out"
	r.AppendTranscript("A", "out")
	r.HumanInputContext = &HumanInputContext{Prompt: "p"}

	cp := r.Clone()
	cp.ExecutedNodes["a"] = "changed"
	cp.ConversationHistory[0].Content = "changed"
	cp.HumanInputContext.Prompt = "changed"
	cp.Graph.Nodes[1].Data.Name = "changed"

	assert.Equal(t, "out", r.ExecutedNodes["a"])
	assert.Equal(t, "out", r.ConversationHistory[0].Content)
	assert.Equal(t, "p", r.HumanInputContext.Prompt)
	assert.Equal(t, "A", r.Graph.Nodes[1].Data.Name)
	assert.Nil(t, (*Run)(nil).Clone())
}

func TestNewSnapshotsGraph(t *testing.T) {
	g := testGraph()
	r := New("r1", g)
	g.Nodes[1].Data.Name = "mutated"
	assert.Equal(t, "A", r.Graph.Nodes[1].Data.Name)
}

func TestMessageClone(t *testing.T) {
	m := &Message{ID: "m", Metadata: map[string]any{MetaProvider: "openai"}}
	cp := m.Clone()
	cp.Metadata[MetaProvider] = "gemini"
	assert.Equal(t, "openai", m.Metadata[MetaProvider])
}

func TestNextUpdatedAtIsStrictlyLater(t *testing.T) {
	future := time.Now().Add(time.Hour)
	next := NextUpdatedAt(future)
	assert.True(t, next.After(future))
	assert.Equal(t, time.Nanosecond, next.Sub(future))

	past := time.Now().Add(-time.Hour)
	assert.True(t, NextUpdatedAt(past).After(past))
	assert.Equal(t, time.UTC, NextUpdatedAt(past).Location())
}
