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
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-agent-flow/log"
)

// ValidationResult carries the non-fatal findings of Validate.
type ValidationResult struct {
	Warnings []string
}

// Validate checks the structure of g. Duplicate or empty node ids, unknown
// node types, dangling edges and unknown edge types are errors (joined and
// wrapped in ErrInvalidGraph). Self-loops of non-reflection edges and a
// missing Start node are warnings.
func Validate(g *Graph) (*ValidationResult, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	res := &ValidationResult{}
	var errs []error

	ids := make(map[string]struct{}, len(g.Nodes))
	starts := 0
	for i, n := range g.Nodes {
		if n == nil || n.ID == "" {
			errs = append(errs, fmt.Errorf("node %d: id cannot be empty", i))
			continue
		}
		if _, dup := ids[n.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate node id: %s", n.ID))
		}
		ids[n.ID] = struct{}{}
		if n.Type.Kind() == KindUnknown {
			errs = append(errs, fmt.Errorf("node %s: unknown node type %q", n.ID, n.Type))
		}
		if n.Type == NodeTypeStart {
			starts++
		}
	}
	if len(g.Nodes) > 0 && g.Nodes[0] != nil && starts == 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("no Start node, falling back to first node %s", g.Nodes[0].ID))
	}
	if starts > 1 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d Start nodes, using the first", starts))
	}

	for _, e := range g.Edges {
		if e == nil {
			errs = append(errs, errors.New("edge cannot be nil"))
			continue
		}
		if _, ok := ids[e.Source]; !ok {
			errs = append(errs, fmt.Errorf("edge %s: source node %s does not exist", e.ID, e.Source))
		}
		if _, ok := ids[e.Target]; !ok {
			errs = append(errs, fmt.Errorf("edge %s: target node %s does not exist", e.ID, e.Target))
		}
		switch e.Type {
		case EdgeTypeSequential, EdgeTypeParallel, EdgeTypeConditional:
			if e.Source == e.Target {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("edge %s: %s self-loop on %s is ignored for dependencies", e.ID, e.Type, e.Source))
			}
		case EdgeTypeReflection, EdgeTypeSelfReflection:
			if e.Type == EdgeTypeSelfReflection && e.Source != e.Target {
				errs = append(errs, fmt.Errorf("edge %s: self_reflection must target its source", e.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("edge %s: unknown edge type %q", e.ID, e.Type))
		}
	}

	for _, w := range res.Warnings {
		log.Warnf("workflow validation: %s", w)
	}
	if len(errs) > 0 {
		return res, fmt.Errorf("%w: %w", ErrInvalidGraph, errors.Join(errs...))
	}
	return res, nil
}
