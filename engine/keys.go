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

	"trpc.group/trpc-go/trpc-agent-flow/model/provider"
)

// KeySource returns the provider API keys available to a scope. Keys are
// looked up on every execute and resume and are never stored on the run.
type KeySource interface {
	APIKeys(ctx context.Context, scope string) (provider.APIKeys, error)
}

// KeySourceFunc adapts a function to KeySource.
type KeySourceFunc func(ctx context.Context, scope string) (provider.APIKeys, error)

// APIKeys implements KeySource.
func (f KeySourceFunc) APIKeys(ctx context.Context, scope string) (provider.APIKeys, error) {
	return f(ctx, scope)
}

// StaticKeys maps scopes to keys. Keys of the "" scope are shared by every
// scope and overridden by scope specific ones.
type StaticKeys map[string]provider.APIKeys

// APIKeys implements KeySource.
func (s StaticKeys) APIKeys(_ context.Context, scope string) (provider.APIKeys, error) {
	out := make(provider.APIKeys)
	for k, v := range s[""] {
		out[k] = v
	}
	if scope != "" {
		for k, v := range s[scope] {
			out[k] = v
		}
	}
	return out, nil
}
