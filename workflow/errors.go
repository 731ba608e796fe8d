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
	"strings"
)

var (
	// ErrNilGraph is returned when a nil graph is passed in.
	ErrNilGraph = errors.New("workflow: graph is nil")
	// ErrNoExecutionSequence is returned when the graph has no nodes.
	ErrNoExecutionSequence = errors.New("workflow: no execution sequence")
	// ErrInvalidGraph wraps every structural validation failure.
	ErrInvalidGraph = errors.New("workflow: invalid graph")
)

// CyclicGraphError reports a dependency cycle found by Sequence.
// Cycle starts and ends with the same node id.
type CyclicGraphError struct {
	Cycle []string
}

// Error implements error.
func (e *CyclicGraphError) Error() string {
	return "workflow: cycle detected: " + strings.Join(e.Cycle, " -> ")
}
