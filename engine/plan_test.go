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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/trpc-agent-flow/model/provider"
	"trpc.group/trpc-go/trpc-agent-flow/workflow"
)

func stepIDs(p *plan) [][]string {
	var out [][]string
	for _, st := range p.steps {
		var ids []string
		for _, n := range st.nodes {
			ids = append(ids, n.ID)
		}
		out = append(out, ids)
	}
	return out
}

func TestBuildPlanEndsLastAndGroups(t *testing.T) {
	g := graph(
		[]*workflow.Node{startNode(""), agentNode("a", "A", "m"), agentNode("b", "B", "m"), endNode()},
		seq("start", "a"), seq("start", "b"), seq("a", "end"), seq("b", "end"),
	)
	p, err := buildPlan(g)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"start"}, {"a", "b"}, {"end"}}, stepIDs(p))
}

func TestBuildPlanKeepsReflectingNodesOutOfGroups(t *testing.T) {
	g := graph(
		[]*workflow.Node{startNode(""), agentNode("a", "A", "m"), agentNode("b", "B", "m"), humanNode("h", "H"), endNode()},
		seq("start", "a"), seq("start", "b"), seq("start", "h"), self("a"), seq("a", "end"), seq("b", "end"),
	)
	p, err := buildPlan(g)
	require.NoError(t, err)
	for _, st := range p.steps {
		assert.Len(t, st.nodes, 1)
	}
	assert.Equal(t, "end", p.steps[len(p.steps)-1].nodes[0].ID)
}

func TestBuildPlanErrors(t *testing.T) {
	_, err := buildPlan(&workflow.Graph{})
	assert.ErrorIs(t, err, workflow.ErrNoExecutionSequence)

	g := graph(
		[]*workflow.Node{startNode(""), agentNode("a", "A", "m"), agentNode("b", "B", "m")},
		seq("start", "a"), seq("a", "b"), seq("b", "a"),
	)
	_, err = buildPlan(g)
	var cyc *workflow.CyclicGraphError
	assert.ErrorAs(t, err, &cyc)
}

func TestPreflightNamesProviderAndNode(t *testing.T) {
	c, err := New(nil, provider.NewRouter(), nil)
	require.NoError(t, err)
	defer c.Close()

	a := agentNode("a", "Writer", "m")
	a.Data.Provider = "mistral"
	g := graph([]*workflow.Node{startNode(""), a}, seq("start", "a"))
	p, err := buildPlan(g)
	require.NoError(t, err)
	_, err = c.preflight(context.Background(), g, p, provider.APIKeys{"mistral": "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral")
	assert.Contains(t, err.Error(), "Writer")
}

func TestStaticKeysMergeScopes(t *testing.T) {
	keys := StaticKeys{
		"":     {"openai": "shared", "anthropic": "shared"},
		"team": {"openai": "team"},
	}
	got, err := keys.APIKeys(context.Background(), "team")
	require.NoError(t, err)
	assert.Equal(t, provider.APIKeys{"openai": "team", "anthropic": "shared"}, got)

	got, err = keys.APIKeys(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "shared", got["openai"])
}
