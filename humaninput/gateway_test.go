//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package humaninput

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/model/modeltest"
	"trpc.group/trpc-go/trpc-agent-flow/run"
	"trpc.group/trpc-go/trpc-agent-flow/run/inmemory"
	"trpc.group/trpc-go/trpc-agent-flow/workflow"
)

func testGraph() *workflow.Graph {
	return &workflow.Graph{Nodes: []*workflow.Node{
		{ID: "s", Type: workflow.NodeTypeStart},
		{ID: "w", Type: workflow.NodeTypeAssistant, Data: workflow.NodeData{Name: "Writer"}},
		{ID: "u", Type: workflow.NodeTypeUserProxy, Data: workflow.NodeData{Name: "Reviewer", RequireHumanInput: true}},
	}}
}

func suspendedRun(t *testing.T, g *Gateway, store run.Store, hic run.HumanInputContext) *run.Run {
	ctx := context.Background()
	r := run.New("r1", testGraph())
	require.NoError(t, store.Create(ctx, r))
	require.NoError(t, r.Transition(run.StatusRunning))
	r.AppendTranscript("Writer", "draft")
	require.NoError(t, g.Suspend(ctx, r, hic))
	return r
}

func TestSuspendPersists(t *testing.T) {
	store := inmemory.NewStore()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	g := New(store, agent.New(), WithClock(func() time.Time { return now }), WithDefaultTimeout(time.Minute))
	suspendedRun(t, g, store, run.HumanInputContext{AgentID: "u", AgentName: "Reviewer", SourceID: "w", Prompt: "ok?"})

	got, err := store.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusAwaitingHumanInput, got.Status)
	assert.True(t, got.HumanInputRequired)
	assert.Equal(t, "Reviewer", got.AwaitingHumanInputAgent)
	require.NotNil(t, got.HumanInputContext)
	assert.NotEmpty(t, got.HumanInputContext.RequestID)
	assert.Equal(t, 60, got.HumanInputContext.TimeoutSeconds)
	assert.True(t, now.Equal(got.HumanInputContext.RequestedAt))
	assert.True(t, now.Add(time.Minute).Equal(got.HumanInputContext.Deadline))

	assert.False(t, g.Expired(got, now.Add(30*time.Second)))
	assert.True(t, g.Expired(got, now.Add(61*time.Second)))
}

func TestSuspendKeepsNodeTimeout(t *testing.T) {
	store := inmemory.NewStore()
	g := New(store, agent.New())
	r := suspendedRun(t, g, store, run.HumanInputContext{AgentID: "u", AgentName: "Reviewer", TimeoutSeconds: 5, RequestID: "req-1"})
	assert.Equal(t, 5, r.HumanInputContext.TimeoutSeconds)
	assert.Equal(t, "req-1", r.HumanInputContext.RequestID)
}

func TestResumeCallsSource(t *testing.T) {
	store := inmemory.NewStore()
	g := New(store, agent.New())
	r := suspendedRun(t, g, store, run.HumanInputContext{
		AgentID: "u", AgentName: "Reviewer", SourceID: "w", SourceName: "Writer", SourceMessage: "draft", RequestID: "req-1",
	})
	m := modeltest.Echo("openai", "gpt-4o", "final")
	res, err := g.Resume(context.Background(), r, "req-1", "make it shorter", func(n *workflow.Node) (model.Model, bool) {
		assert.Equal(t, "w", n.ID)
		return m, true
	})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, "final #0", res.Final)
	require.NotNil(t, res.Turn)
	assert.Equal(t, "w", res.Source.ID)
	assert.Equal(t, "req-1", res.Context.RequestID)

	assert.Equal(t, run.StatusRunning, r.Status)
	assert.False(t, r.HumanInputRequired)
	assert.Nil(t, r.HumanInputContext)
	assert.Equal(t, "final #0", r.ExecutedNodes["w"])
	assert.Equal(t, "make it shorter", r.ExecutedNodes["u"])
	assert.Equal(t, "Writer: draft\n\nReviewer: make it shorter\n\nWriter: final #0", r.Transcript())

	prompt := m.Requests()[0].Prompt
	assert.Contains(t, prompt, "Your previous response:\ndraft")
	assert.Contains(t, prompt, "Feedback from Reviewer:\nmake it shorter")
}

func TestResumeFindsSourceByName(t *testing.T) {
	store := inmemory.NewStore()
	g := New(store, agent.New())
	r := suspendedRun(t, g, store, run.HumanInputContext{AgentID: "u", AgentName: "Reviewer", SourceID: "gone", SourceName: "Writer"})
	res, err := g.Resume(context.Background(), r, "", "fine", func(*workflow.Node) (model.Model, bool) {
		return modeltest.Echo("openai", "gpt-4o", "final"), true
	})
	require.NoError(t, err)
	assert.Equal(t, "w", res.Source.ID)
}

func TestResumeDegraded(t *testing.T) {
	t.Run("source missing", func(t *testing.T) {
		store := inmemory.NewStore()
		g := New(store, agent.New())
		r := suspendedRun(t, g, store, run.HumanInputContext{AgentID: "u", AgentName: "Reviewer", SourceName: "Ghost"})
		res, err := g.Resume(context.Background(), r, "", "use this", func(*workflow.Node) (model.Model, bool) {
			t.Fatal("resolver must not be called")
			return nil, false
		})
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.Equal(t, "use this", res.Final)
		assert.Nil(t, res.Source)
		assert.Equal(t, run.StatusRunning, r.Status)
	})
	t.Run("no model", func(t *testing.T) {
		store := inmemory.NewStore()
		g := New(store, agent.New())
		r := suspendedRun(t, g, store, run.HumanInputContext{AgentID: "u", AgentName: "Reviewer", SourceID: "w"})
		res, err := g.Resume(context.Background(), r, "", "use this", func(*workflow.Node) (model.Model, bool) {
			return nil, false
		})
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.Equal(t, "use this", r.ExecutedNodes["w"])
	})
}

func TestResumeRejects(t *testing.T) {
	store := inmemory.NewStore()
	g := New(store, agent.New())
	noModel := func(*workflow.Node) (model.Model, bool) { return nil, false }

	r := run.New("r2", testGraph())
	_, err := g.Resume(context.Background(), r, "", "x", noModel)
	assert.ErrorIs(t, err, ErrNotAwaitingInput)

	r = suspendedRun(t, g, store, run.HumanInputContext{AgentID: "u", AgentName: "Reviewer", RequestID: "req-1"})
	_, err = g.Resume(context.Background(), r, "other", "x", noModel)
	assert.ErrorIs(t, err, ErrRequestMismatch)
	_, err = g.Resume(context.Background(), r, "req-1", "   ", noModel)
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, run.StatusAwaitingHumanInput, r.Status)
}

func TestResumeSourceError(t *testing.T) {
	store := inmemory.NewStore()
	g := New(store, agent.New())
	r := suspendedRun(t, g, store, run.HumanInputContext{AgentID: "u", AgentName: "Reviewer", SourceID: "w"})
	failing := modeltest.New("openai", "gpt-4o", func(context.Context, int, *model.Request) (*model.Response, error) {
		return nil, errors.New("down")
	})
	_, err := g.Resume(context.Background(), r, "", "x", func(*workflow.Node) (model.Model, bool) { return failing, true })
	var merr *model.Error
	assert.ErrorAs(t, err, &merr)
}

func TestParseTimeoutPolicy(t *testing.T) {
	p, err := ParseTimeoutPolicy("")
	require.NoError(t, err)
	assert.Equal(t, TimeoutPolicyFail, p)
	p, err = ParseTimeoutPolicy("Resume_With_Default")
	require.NoError(t, err)
	assert.Equal(t, TimeoutPolicyResumeWithDefault, p)
	_, err = ParseTimeoutPolicy("retry")
	assert.Error(t, err)

	g := New(inmemory.NewStore(), agent.New(), WithTimeoutPolicy(TimeoutPolicyResumeWithDefault, "approved"))
	policy, input := g.Policy()
	assert.Equal(t, TimeoutPolicyResumeWithDefault, policy)
	assert.Equal(t, "approved", input)
}
