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
	"sort"
	"strings"
)

type bucket struct {
	key     string
	members []*Node
}

// DetectParallelGroups groups nodes of sequence that may run concurrently.
//
// Only sequential edges create dependencies. Two nodes share a group when
// their dependency sets are equal and neither depends on the other. The
// grouping is greedy: nodes with different dependency sets are never
// grouped even when they could run together. Start and End nodes are never
// grouped and single-node groups are dropped. Groups are ordered by the
// position of their first member in sequence, members by sequence order.
func DetectParallelGroups(sequence []*Node, edges []*Edge) [][]*Node {
	dependsOn := make(map[string]map[string]struct{})
	for _, e := range edges {
		if e == nil || e.Type != EdgeTypeSequential || e.Source == e.Target {
			continue
		}
		deps, ok := dependsOn[e.Target]
		if !ok {
			deps = make(map[string]struct{})
			dependsOn[e.Target] = deps
		}
		deps[e.Source] = struct{}{}
	}
	depends := func(a, b string) bool {
		_, ok := dependsOn[a][b]
		return ok
	}

	var buckets []*bucket
	for _, n := range sequence {
		if n.Type == NodeTypeStart || n.Type == NodeTypeEnd {
			continue
		}
		key := depKey(dependsOn[n.ID])
		var placed bool
		for _, b := range buckets {
			if b.key != key || conflicts(n, b.members, depends) {
				continue
			}
			b.members = append(b.members, n)
			placed = true
			break
		}
		if !placed {
			buckets = append(buckets, &bucket{key: key, members: []*Node{n}})
		}
	}

	var groups [][]*Node
	for _, b := range buckets {
		if len(b.members) > 1 {
			groups = append(groups, b.members)
		}
	}
	return groups
}

func conflicts(n *Node, members []*Node, depends func(a, b string) bool) bool {
	for _, m := range members {
		if depends(n.ID, m.ID) || depends(m.ID, n.ID) {
			return true
		}
	}
	return false
}

func depKey(deps map[string]struct{}) string {
	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, "\x00")
}
