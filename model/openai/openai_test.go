//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1710000000,
  "model": "gpt-4o-mini-2024-07-18",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello from A"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
}`

func TestNew(t *testing.T) {
	m := New("gpt-4o-mini", WithAPIKey("test-key"), WithBaseURL("https://api.custom.com"), WithMaxTokens(1024))
	require.NotNil(t, m)
	assert.Equal(t, "gpt-4o-mini", m.name)
	assert.Equal(t, "test-key", m.apiKey)
	assert.Equal(t, "https://api.custom.com", m.baseURL)
	assert.Equal(t, model.Info{Provider: ProviderName, Name: "gpt-4o-mini", MaxTokens: 1024}, m.Info())

	assert.Equal(t, defaultMaxTokens, New("gpt-4o").Info().MaxTokens)
}

func TestGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody)
	}))
	defer srv.Close()

	m := New("gpt-4o-mini", WithAPIKey("test-key"), WithBaseURL(srv.URL), WithMaxTokens(2048))
	resp, err := m.Generate(context.Background(), &model.Request{
		SystemPrompt: "be brief",
		Prompt:       "say hello",
		Temperature:  0.3,
		MaxTokens:    500,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello from A", resp.Text)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", resp.Model)
	assert.Equal(t, model.Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16}, resp.Usage)

	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.InDelta(t, 0.3, got["temperature"], 1e-9)
	assert.EqualValues(t, 500, got["max_completion_tokens"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

func TestGenerateReasoningModelOmitsTemperature(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody)
	}))
	defer srv.Close()

	m := New("o3-mini", WithAPIKey("k"), WithBaseURL(srv.URL))
	_, err := m.Generate(context.Background(), &model.Request{Prompt: "hi", Temperature: 0.7})
	require.NoError(t, err)
	_, hasTemp := got["temperature"]
	assert.False(t, hasTemp)
}

func TestGenerateErrors(t *testing.T) {
	t.Run("nil request", func(t *testing.T) {
		_, err := New("gpt-4o").Generate(context.Background(), nil)
		assert.ErrorIs(t, err, model.ErrNilRequest)
	})

	t.Run("rate limited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error": {"message": "slow down", "type": "rate_limit_exceeded"}}`)
		}))
		defer srv.Close()

		_, err := New("gpt-4o", WithAPIKey("k"), WithBaseURL(srv.URL)).
			Generate(context.Background(), &model.Request{Prompt: "hi"})
		var merr *model.Error
		require.ErrorAs(t, err, &merr)
		assert.Equal(t, ProviderName, merr.Provider)
		assert.Equal(t, model.ErrorTypeRateLimit, merr.Type)
		assert.Equal(t, http.StatusTooManyRequests, merr.StatusCode)
	})

	t.Run("empty choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"id": "x", "object": "chat.completion", "model": "gpt-4o", "choices": []}`)
		}))
		defer srv.Close()

		_, err := New("gpt-4o", WithAPIKey("k"), WithBaseURL(srv.URL)).
			Generate(context.Background(), &model.Request{Prompt: "hi"})
		var merr *model.Error
		require.ErrorAs(t, err, &merr)
		assert.Equal(t, model.ErrorTypeMalformedResponse, merr.Type)
	})
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object": "list", "data": [
		  {"id": "gpt-4o", "object": "model", "created": 1, "owned_by": "openai"},
		  {"id": "gpt-4o-mini", "object": "model", "created": 1, "owned_by": "openai"}
		]}`)
	}))
	defer srv.Close()

	ids, err := New("gpt-4o", WithAPIKey("k"), WithBaseURL(srv.URL)).ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, ids)
}
