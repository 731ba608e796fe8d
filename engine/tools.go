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

	"trpc.group/trpc-go/trpc-agent-flow/workflow"
)

// ToolDirectory describes the tools offered by the server of an MCPServer
// node.
type ToolDirectory interface {
	Describe(ctx context.Context, n *workflow.Node) (string, error)
}

// ToolDirectoryFunc adapts a function to ToolDirectory.
type ToolDirectoryFunc func(ctx context.Context, n *workflow.Node) (string, error)

// Describe implements ToolDirectory.
func (f ToolDirectoryFunc) Describe(ctx context.Context, n *workflow.Node) (string, error) {
	return f(ctx, n)
}
