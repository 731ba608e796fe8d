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
	"fmt"

	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/model/provider"
	"trpc.group/trpc-go/trpc-agent-flow/workflow"
)

// step is one unit of the plan: a single node or a parallel group.
type step struct {
	nodes []*workflow.Node
}

type plan struct {
	steps []step
	// nodes lists every node of the plan in sequence order.
	nodes []*workflow.Node
}

// buildPlan derives the deterministic execution plan of g. The same graph
// always yields the same plan, so a persisted cursor stays valid across
// restarts.
func buildPlan(g *workflow.Graph) (*plan, error) {
	if _, err := workflow.Validate(g); err != nil {
		return nil, err
	}
	seq, err := workflow.Sequence(g)
	if err != nil {
		return nil, err
	}
	seq = endsLast(seq)

	groupOf := make(map[string]int)
	var groups [][]*workflow.Node
	for _, grp := range workflow.DetectParallelGroups(seq, g.Edges) {
		var members []*workflow.Node
		for _, n := range grp {
			if groupable(g, n) {
				members = append(members, n)
			}
		}
		if len(members) < 2 {
			continue
		}
		for _, n := range members {
			groupOf[n.ID] = len(groups)
		}
		groups = append(groups, members)
	}

	p := &plan{nodes: seq}
	emitted := make(map[int]bool)
	for _, n := range seq {
		gi, grouped := groupOf[n.ID]
		if !grouped {
			p.steps = append(p.steps, step{nodes: []*workflow.Node{n}})
			continue
		}
		if !emitted[gi] {
			emitted[gi] = true
			p.steps = append(p.steps, step{nodes: groups[gi]})
		}
	}
	return p, nil
}

// endsLast moves End nodes behind every other node, keeping relative order.
func endsLast(seq []*workflow.Node) []*workflow.Node {
	out := make([]*workflow.Node, 0, len(seq))
	var ends []*workflow.Node
	for _, n := range seq {
		if n.Type.Kind() == workflow.KindEnd {
			ends = append(ends, n)
			continue
		}
		out = append(out, n)
	}
	return append(out, ends...)
}

// groupable reports whether n may run inside a parallel group. Nodes that
// reflect, are reflected on or wait for a human keep their own step.
func groupable(g *workflow.Graph, n *workflow.Node) bool {
	if !needsModel(n) {
		return false
	}
	for _, e := range g.Edges {
		if e.Type.IsReflection() && (e.Source == n.ID || e.Target == n.ID) {
			return false
		}
	}
	return true
}

// needsModel reports whether n is answered by an LLM.
func needsModel(n *workflow.Node) bool {
	switch n.Type.Kind() {
	case workflow.KindAssistant, workflow.KindGroupChatManager:
		return true
	case workflow.KindUserProxy:
		return !n.RequiresHumanInput()
	default:
		return false
	}
}

// configError is a misconfiguration found before any LLM call.
type configError struct {
	provider string
	node     *workflow.Node
}

func (e *configError) Error() string {
	provider := e.provider
	if provider == "" {
		provider = "(none)"
	}
	return fmt.Sprintf("no API key configured or unknown LLM provider %q for node %q (%s)",
		provider, e.node.Name(), e.node.ID)
}

// preflight resolves the model of every LLM node the plan can reach,
// including reflection targets, before the first call.
func (c *Controller) preflight(ctx context.Context, g *workflow.Graph, p *plan, keys provider.APIKeys) (map[string]model.Model, error) {
	models := make(map[string]model.Model)
	resolve := func(n *workflow.Node) error {
		if _, ok := models[n.ID]; ok || !needsModel(n) {
			return nil
		}
		m, ok := c.router.Resolve(ctx, provider.AgentConfig{
			Provider:  n.Data.Provider,
			Model:     n.Data.Model,
			MaxTokens: n.Data.MaxTokens,
		}, keys)
		if !ok {
			return &configError{provider: n.Data.Provider, node: n}
		}
		models[n.ID] = m
		return nil
	}
	for _, n := range p.nodes {
		if err := resolve(n); err != nil {
			return nil, err
		}
		for _, e := range g.ReflectionEdges(n.ID) {
			if t, ok := g.Node(e.Target); ok {
				if err := resolve(t); err != nil {
					return nil, err
				}
			}
		}
	}
	return models, nil
}
