//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package anthropic

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

const messageBody = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-3-5-sonnet-20241022",
  "content": [{"type": "text", "text": "Reviewed. "}, {"type": "text", "text": "Looks good."}],
  "stop_reason": "end_turn",
  "stop_sequence": null,
  "usage": {"input_tokens": 20, "output_tokens": 6}
}`

func TestGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, messageBody)
	}))
	defer srv.Close()

	m := New("claude-3-5-sonnet-latest", WithAPIKey("test-key"), WithBaseURL(srv.URL), WithMaxTokens(8192))
	resp, err := m.Generate(context.Background(), &model.Request{
		SystemPrompt: "you review plans",
		Prompt:       "review this",
		Temperature:  1.4,
	})
	require.NoError(t, err)
	assert.Equal(t, "Reviewed. Looks good.", resp.Text)
	assert.Equal(t, "claude-3-5-sonnet-20241022", resp.Model)
	assert.Equal(t, model.Usage{PromptTokens: 20, CompletionTokens: 6, TotalTokens: 26}, resp.Usage)

	assert.Equal(t, "claude-3-5-sonnet-latest", got["model"])
	assert.EqualValues(t, 8192, got["max_tokens"])
	assert.EqualValues(t, 1, got["temperature"])
	system, ok := got["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	assert.Equal(t, "you review plans", system[0].(map[string]any)["text"])
}

func TestGenerateError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`)
	}))
	defer srv.Close()

	_, err := New("claude-3-5-sonnet-latest", WithAPIKey("bad"), WithBaseURL(srv.URL)).
		Generate(context.Background(), &model.Request{Prompt: "hi"})
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, ProviderName, merr.Provider)
	assert.Equal(t, model.ErrorTypeAPIError, merr.Type)
	assert.Equal(t, http.StatusUnauthorized, merr.StatusCode)
	assert.False(t, merr.Retryable())
}

func TestGenerateNilRequest(t *testing.T) {
	_, err := New("claude-3-5-sonnet-latest").Generate(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrNilRequest)
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data": [
		  {"id": "claude-3-5-sonnet-20241022", "type": "model", "display_name": "Claude 3.5 Sonnet", "created_at": "2024-10-22T00:00:00Z"}
		], "has_more": false, "first_id": "claude-3-5-sonnet-20241022", "last_id": "claude-3-5-sonnet-20241022"}`)
	}))
	defer srv.Close()

	ids, err := New("claude-3-5-sonnet-latest", WithAPIKey("k"), WithBaseURL(srv.URL)).ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"claude-3-5-sonnet-20241022"}, ids)
}

func TestInfo(t *testing.T) {
	m := New("claude-3-haiku-20240307")
	assert.Equal(t, model.Info{Provider: ProviderName, Name: "claude-3-haiku-20240307", MaxTokens: defaultMaxTokens}, m.Info())
	assert.Equal(t, 0.0, clampTemperature(-1))
	assert.Equal(t, 0.5, clampTemperature(0.5))
}
