//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"trpc.group/trpc-go/trpc-agent-flow/log"
)

// frame is one entry of the explicit DFS stack.
type frame struct {
	id   string
	next int
}

// Sequence returns the execution order of g: a depth-first preorder from
// the Start node following out-edges of every type in declaration order.
//
// Reaching a node that is still on the current path through a dependency
// edge returns a *CyclicGraphError. Self-loops and back-edges made of
// reflection edges are not dependencies and never count as cycles.
// Nodes unreachable from Start are not part of the sequence.
func Sequence(g *Graph) ([]*Node, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	if len(g.Nodes) == 0 {
		return nil, ErrNoExecutionSequence
	}
	start, fallback := g.StartNode()
	if start == nil {
		return nil, ErrNoExecutionSequence
	}
	if fallback {
		log.Warnf("workflow: no Start node, using first node %s as entry", start.ID)
	}

	byID := make(map[string]*Node, len(g.Nodes))
	for _, n := range g.Nodes {
		if n == nil {
			continue
		}
		if _, ok := byID[n.ID]; !ok {
			byID[n.ID] = n
		}
	}
	adj := make(map[string][]*Edge, len(g.Nodes))
	for _, e := range g.Edges {
		if e == nil {
			continue
		}
		if _, ok := byID[e.Target]; !ok {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e)
	}

	var (
		order   = []*Node{start}
		visited = map[string]bool{start.ID: true}
		onStack = map[string]bool{start.ID: true}
		stack   = []*frame{{id: start.ID}}
	)
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		edges := adj[top.id]
		if top.next >= len(edges) {
			onStack[top.id] = false
			stack = stack[:len(stack)-1]
			continue
		}
		e := edges[top.next]
		top.next++

		if onStack[e.Target] {
			if e.Source == e.Target || e.Type.IsReflection() {
				continue
			}
			return nil, &CyclicGraphError{Cycle: cyclePath(stack, e.Target)}
		}
		if visited[e.Target] {
			continue
		}
		visited[e.Target] = true
		onStack[e.Target] = true
		order = append(order, byID[e.Target])
		stack = append(stack, &frame{id: e.Target})
	}

	if skipped := len(byID) - len(order); skipped > 0 {
		log.Debugf("workflow: %d node(s) unreachable from %s", skipped, start.ID)
	}
	return order, nil
}

// cyclePath returns the stack suffix starting at target, closed by target.
func cyclePath(stack []*frame, target string) []string {
	var path []string
	for i := range stack {
		if stack[i].id == target {
			for _, f := range stack[i:] {
				path = append(path, f.id)
			}
			break
		}
	}
	return append(path, target)
}
