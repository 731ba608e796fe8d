//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package modeltest provides a scripted model.Model for tests.
package modeltest

import (
	"context"
	"fmt"
	"sync"

	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// ReplyFunc produces the answer of the n-th call (0-based).
type ReplyFunc func(ctx context.Context, n int, req *model.Request) (*model.Response, error)

// Model records requests and answers them through a ReplyFunc.
type Model struct {
	provider string
	name     string
	reply    ReplyFunc

	mu       sync.Mutex
	requests []*model.Request
}

// New creates a scripted model.
func New(provider, name string, reply ReplyFunc) *Model {
	return &Model{provider: provider, name: name, reply: reply}
}

// Echo answers every call with "<label> #<n>".
func Echo(provider, name, label string) *Model {
	return New(provider, name, func(_ context.Context, n int, _ *model.Request) (*model.Response, error) {
		return Text(fmt.Sprintf("%s #%d", label, n)), nil
	})
}

// Text builds a response with fixed usage.
func Text(s string) *model.Response {
	return &model.Response{Text: s, Usage: model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	m.mu.Lock()
	n := len(m.requests)
	cp := *req
	m.requests = append(m.requests, &cp)
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, model.NewError(m.provider, 0, err)
	}
	return m.reply(ctx, n, req)
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Provider: m.provider, Name: m.name, MaxTokens: 4096}
}

// Calls returns the number of Generate calls.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the recorded requests.
func (m *Model) Requests() []*model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Request(nil), m.requests...)
}
