//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package storetest provides a behavioural test suite shared by run.Store
// implementations.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/trpc-agent-flow/run"
	"trpc.group/trpc-go/trpc-agent-flow/workflow"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) run.Store

func sampleRun(id string) *run.Run {
	g := &workflow.Graph{
		Nodes: []*workflow.Node{
			{ID: "s", Type: workflow.NodeTypeStart, Data: workflow.NodeData{Prompt: "go"}},
			{ID: "a", Type: workflow.NodeTypeAssistant, Data: workflow.NodeData{Name: "A", Provider: "openai"}},
		},
		Edges: []*workflow.Edge{{ID: "e1", Source: "s", Target: "a", Type: workflow.EdgeTypeSequential}},
	}
	return run.New(id, g)
}

func message(runID string, seq int, content string) *run.Message {
	return &run.Message{
		ID:             fmt.Sprintf("%s-%d", runID, seq),
		RunID:          runID,
		AgentName:      "A",
		AgentType:      string(workflow.NodeTypeAssistant),
		Content:        content,
		MessageType:    run.MessageTypeChat,
		SequenceNumber: seq,
		Timestamp:      time.Now().UTC().Truncate(time.Millisecond),
		TokenCount:     3,
		Metadata:       map[string]any{run.MetaProvider: "openai"},
	}
}

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateGet", func(t *testing.T) { testCreateGet(t, newStore(t)) })
	t.Run("Save", func(t *testing.T) { testSave(t, newStore(t)) })
	t.Run("StaleSave", func(t *testing.T) { testStaleSave(t, newStore(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, newStore(t)) })
	t.Run("ListByStatus", func(t *testing.T) { testListByStatus(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, newStore(t)) })
}

func testCreateGet(t *testing.T, s run.Store) {
	ctx := context.Background()
	r := sampleRun("r1")
	r.Scope = "team-a"
	require.NoError(t, s.Create(ctx, r))
	assert.ErrorIs(t, s.Create(ctx, r), run.ErrRunExists)

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusPending, got.Status)
	assert.Equal(t, "team-a", got.Scope)
	require.NotNil(t, got.Graph)
	require.Len(t, got.Graph.Nodes, 2)
	assert.Equal(t, "go", got.Graph.Nodes[0].Data.Prompt)

	got.Status = run.StatusFailed
	again, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusPending, again.Status)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, run.ErrRunNotFound)
}

func testSave(t *testing.T, s run.Store) {
	ctx := context.Background()
	r := sampleRun("r1")
	require.NoError(t, s.Create(ctx, r))

	require.NoError(t, r.Transition(run.StatusRunning))
	r.ExecutedNodes["a"] = "hello"
	r.AppendTranscript("A", "hello")
	r.Cursor = 2
	require.NoError(t, r.Suspend(&run.HumanInputContext{
		AgentID:        "u",
		AgentName:      "User",
		Prompt:         "approve?",
		Iteration:      1,
		MaxIterations:  3,
		TimeoutSeconds: 60,
		RequestedAt:    time.Now().UTC().Truncate(time.Second),
	}))
	require.NoError(t, s.Save(ctx, r))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusAwaitingHumanInput, got.Status)
	assert.Equal(t, "hello", got.ExecutedNodes["a"])
	assert.Equal(t, "A: hello", got.Transcript())
	assert.Equal(t, 2, got.Cursor)
	require.NotNil(t, got.HumanInputContext)
	assert.Equal(t, "approve?", got.HumanInputContext.Prompt)
	assert.Equal(t, 3, got.HumanInputContext.MaxIterations)
	assert.True(t, r.HumanInputContext.RequestedAt.Equal(got.HumanInputContext.RequestedAt))
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	assert.ErrorIs(t, s.Save(ctx, sampleRun("missing")), run.ErrRunNotFound)
}

func testStaleSave(t *testing.T, s run.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleRun("r1")))
	first, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	second, err := s.Get(ctx, "r1")
	require.NoError(t, err)

	require.NoError(t, first.Transition(run.StatusRunning))
	require.NoError(t, s.Save(ctx, first))

	loaded := second.UpdatedAt
	require.NoError(t, second.Transition(run.StatusFailed))
	assert.ErrorIs(t, s.Save(ctx, second), run.ErrStaleRun)
	assert.True(t, second.UpdatedAt.Equal(loaded))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusRunning, got.Status)
	assert.True(t, got.UpdatedAt.Equal(first.UpdatedAt))

	// The winner keeps saving without reloading.
	require.NoError(t, first.Transition(run.StatusCompleted))
	require.NoError(t, s.Save(ctx, first))
	got, err = s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, got.Status)
}

func testMessages(t *testing.T, s run.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleRun("r1")))

	require.NoError(t, s.AppendMessage(ctx, message("r1", 0, "start")))
	require.NoError(t, s.AppendMessage(ctx, message("r1", 1, "first")))
	require.NoError(t, s.AppendMessage(ctx, message("r1", 3, "gap is fine")))
	assert.ErrorIs(t, s.AppendMessage(ctx, message("r1", 3, "dup")), run.ErrSequenceConflict)
	assert.ErrorIs(t, s.AppendMessage(ctx, message("r1", 2, "late")), run.ErrSequenceConflict)
	assert.ErrorIs(t, s.AppendMessage(ctx, message("missing", 0, "x")), run.ErrRunNotFound)

	msgs, err := s.Messages(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []int{0, 1, 3}, []int{msgs[0].SequenceNumber, msgs[1].SequenceNumber, msgs[2].SequenceNumber})
	assert.Equal(t, "first", msgs[1].Content)
	assert.Equal(t, run.MessageTypeChat, msgs[1].MessageType)
	assert.Equal(t, "openai", msgs[1].Metadata[run.MetaProvider])
	assert.Equal(t, 3, msgs[1].TokenCount)

	_, err = s.Messages(ctx, "missing")
	assert.ErrorIs(t, err, run.ErrRunNotFound)
}

func testListByStatus(t *testing.T, s run.Store) {
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.Create(ctx, sampleRun(id)))
	}
	r2, err := s.Get(ctx, "r2")
	require.NoError(t, err)
	require.NoError(t, r2.Transition(run.StatusRunning))
	require.NoError(t, r2.Suspend(&run.HumanInputContext{AgentName: "User"}))
	require.NoError(t, s.Save(ctx, r2))

	waiting, err := s.ListByStatus(ctx, run.StatusAwaitingHumanInput)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "r2", waiting[0].ID)

	pending, err := s.ListByStatus(ctx, run.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	none, err := s.ListByStatus(ctx, run.StatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testDelete(t *testing.T, s run.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleRun("r1")))
	require.NoError(t, s.AppendMessage(ctx, message("r1", 0, "x")))
	require.NoError(t, s.Delete(ctx, "r1"))
	_, err := s.Get(ctx, "r1")
	assert.ErrorIs(t, err, run.ErrRunNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "r1"), run.ErrRunNotFound)

	pending, err := s.ListByStatus(ctx, run.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func testConcurrentAppend(t *testing.T, s run.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleRun("r1")))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Get(ctx, "r1")
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, s.AppendMessage(ctx, message("r1", i, "m")))
	}
	wg.Wait()
	msgs, err := s.Messages(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, msgs, 20)
}
