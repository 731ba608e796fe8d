//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		err       error
		wantType  string
		retryable bool
	}{
		{"rate limit", http.StatusTooManyRequests, errors.New("slow down"), ErrorTypeRateLimit, true},
		{"deadline", 0, fmt.Errorf("call: %w", context.DeadlineExceeded), ErrorTypeTimeout, true},
		{"gateway timeout", http.StatusGatewayTimeout, errors.New("upstream"), ErrorTypeTimeout, true},
		{"canceled", 0, context.Canceled, ErrorTypeCanceled, false},
		{"empty", 0, ErrEmptyResponse, ErrorTypeMalformedResponse, false},
		{"bad request", http.StatusBadRequest, errors.New("bad"), ErrorTypeAPIError, false},
		{"server error", http.StatusBadGateway, errors.New("bad gateway"), ErrorTypeAPIError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewError("openai", tt.status, tt.err)
			assert.Equal(t, tt.wantType, e.Type)
			assert.Equal(t, tt.retryable, e.Retryable())
			assert.ErrorIs(t, e, tt.err)
			assert.Contains(t, e.Error(), "openai")
		})
	}
}

func TestMatchPrefixPrefersLongest(t *testing.T) {
	p, ok := MatchPrefix(prices, "gpt-4o-mini-2024-07-18")
	require.True(t, ok)
	assert.Equal(t, prices["gpt-4o-mini"], p)

	p, ok = MatchPrefix(prices, "GPT-4o")
	require.True(t, ok)
	assert.Equal(t, prices["gpt-4o"], p)

	_, ok = MatchPrefix(prices, "llama3")
	assert.False(t, ok)
}

func TestEstimateCost(t *testing.T) {
	cost := EstimateCost("gpt-4o", Usage{PromptTokens: 1000, CompletionTokens: 2000})
	assert.InDelta(t, 0.0025+0.02, cost, 1e-9)
	assert.Zero(t, EstimateCost("unknown-model", Usage{PromptTokens: 1000}))
}

func TestCountTokens(t *testing.T) {
	assert.Zero(t, CountTokens("gpt-4o", ""))
	n := CountTokens("gpt-4o", "hello world, this is a token count")
	assert.Greater(t, n, 3)
	assert.Less(t, n, 20)
	// Unknown models use the cl100k_base fallback.
	assert.Greater(t, CountTokens("claude-3-5-sonnet-latest", "hello world"), 0)
}

func TestFillUsage(t *testing.T) {
	resp := &Response{Text: "a short answer"}
	FillUsage("gpt-4o", "a prompt", resp)
	assert.Greater(t, resp.Usage.PromptTokens, 0)
	assert.Greater(t, resp.Usage.CompletionTokens, 0)
	assert.Equal(t, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, resp.Usage.TotalTokens)

	reported := &Response{Text: "x", Usage: Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}}
	FillUsage("gpt-4o", "prompt", reported)
	assert.Equal(t, Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}, reported.Usage)
}

func TestEffectiveMaxTokens(t *testing.T) {
	assert.Equal(t, 4096, EffectiveMaxTokens(nil, 4096))
	assert.Equal(t, 100, EffectiveMaxTokens(&Request{MaxTokens: 100}, 4096))
	assert.Equal(t, 4096, EffectiveMaxTokens(&Request{MaxTokens: 9000}, 4096))
	assert.Equal(t, 50, EffectiveMaxTokens(&Request{MaxTokens: 50}, 0))
}
