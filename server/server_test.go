//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/trpc-agent-flow/engine"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/model/modeltest"
	"trpc.group/trpc-go/trpc-agent-flow/model/provider"
	"trpc.group/trpc-go/trpc-agent-flow/run"
	"trpc.group/trpc-go/trpc-agent-flow/run/inmemory"
)

const linearGraph = `{
  "nodes": [
    {"id": "start", "type": "StartNode", "data": {"name": "Start", "prompt": "Say hi"}},
    {"id": "a", "type": "AssistantAgent", "data": {"name": "Greeter", "llm_provider": "fake", "model": "echo"}},
    {"id": "end", "type": "EndNode", "data": {"name": "End"}}
  ],
  "edges": [
    {"source": "start", "target": "a"},
    {"source": "a", "target": "end"}
  ]
}`

const humanGraph = `{
  "nodes": [
    {"id": "start", "type": "StartNode", "data": {"prompt": "Review"}},
    {"id": "u", "type": "UserProxyAgent", "data": {"name": "Operator", "require_human_input": true}},
    {"id": "a", "type": "AssistantAgent", "data": {"name": "Greeter", "llm_provider": "fake", "model": "echo"}},
    {"id": "end", "type": "EndNode"}
  ],
  "edges": [
    {"source": "start", "target": "u"},
    {"source": "u", "target": "a"},
    {"source": "a", "target": "end"}
  ]
}`

type listingModel struct {
	*modeltest.Model
}

func (listingModel) ListModels(context.Context) ([]string, error) {
	return []string{"echo", "echo-large"}, nil
}

type testServer struct {
	srv  *Server
	http *httptest.Server
	ctrl *engine.Controller
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	router := provider.NewRouter()
	router.Register("fake", func(_ context.Context, o *provider.Options) (model.Model, error) {
		return listingModel{modeltest.Echo("fake", o.ModelName, "Echo")}, nil
	})
	hub := NewHub(0)
	keys := engine.StaticKeys{"": {"fake": "k"}}
	ctrl, err := engine.New(inmemory.NewStore(), router, keys, engine.WithEventSink(hub))
	require.NoError(t, err)
	srv := New(ctrl, WithHub(hub), WithCatalog(provider.NewCatalog(router)), WithKeySource(keys))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Wait()
		ctrl.Close()
	})
	return &testServer{srv: srv, http: ts, ctrl: ctrl}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.http.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (s *testServer) createRun(t *testing.T, graph string, wait bool) *run.Run {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/runs", map[string]any{"graph": json.RawMessage(graph), "wait": wait})
	if wait {
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	} else {
		require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	}
	var r run.Run
	require.NoError(t, json.Unmarshal(body, &r))
	return &r
}

func (s *testServer) getRun(t *testing.T, id string) *run.Run {
	t.Helper()
	resp, body := s.do(t, http.MethodGet, "/runs/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var r run.Run
	require.NoError(t, json.Unmarshal(body, &r))
	return &r
}

func TestCreateRunAndWait(t *testing.T) {
	s := newTestServer(t)
	r := s.createRun(t, linearGraph, true)
	assert.Equal(t, run.StatusCompleted, r.Status)
	assert.Equal(t, "Echo #0", r.ExecutedNodes["a"])

	resp, body := s.do(t, http.MethodGet, "/runs/"+r.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []run.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 3)
	assert.Equal(t, run.MessageTypeChat, msgs[1].MessageType)
	assert.Equal(t, "Greeter", msgs[1].AgentName)
}

func TestCreateRunInBackground(t *testing.T) {
	s := newTestServer(t)
	r := s.createRun(t, linearGraph, false)
	assert.NotEmpty(t, r.ID)
	require.Eventually(t, func() bool {
		return s.getRun(t, r.ID).Status == run.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCreateRunRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	tests := map[string]string{
		"malformed json": `{"graph": `,
		"missing graph":  `{"wait": true}`,
		"dangling edge":  `{"graph": {"nodes": [{"id": "a", "type": "AssistantAgent"}], "edges": [{"source": "a", "target": "ghost"}]}}`,
		"unknown type":   `{"graph": {"nodes": [{"id": "a", "type": "Robot"}]}}`,
		"null entries":   `{"graph": {"nodes": [null], "edges": [null]}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			resp, _ := s.do(t, http.MethodPost, "/runs", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestUnknownRunAndPause(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, http.MethodGet, "/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/runs/nope/messages", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/runs/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	r := s.createRun(t, linearGraph, true)
	resp, _ = s.do(t, http.MethodPost, "/runs/"+r.ID+"/pause", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/runs/"+r.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHumanInputOverHTTP(t *testing.T) {
	s := newTestServer(t)
	r := s.createRun(t, humanGraph, true)
	require.Equal(t, run.StatusAwaitingHumanInput, r.Status)
	require.NotNil(t, r.HumanInputContext)
	path := "/runs/" + r.ID + "/human-input"

	resp, _ := s.do(t, http.MethodPost, path, HumanInputResponse{Input: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, path, HumanInputResponse{RequestID: "other", Input: "go"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, path, HumanInputResponse{RequestID: r.HumanInputContext.RequestID, Input: "go ahead"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	s.srv.Wait()

	done := s.getRun(t, r.ID)
	assert.Equal(t, run.StatusCompleted, done.Status)
	assert.Equal(t, "go ahead", done.ExecutedNodes["u"])

	resp, _ = s.do(t, http.MethodPost, path, HumanInputResponse{Input: "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelAwaitingRunOverHTTP(t *testing.T) {
	s := newTestServer(t)
	r := s.createRun(t, humanGraph, true)
	resp, _ := s.do(t, http.MethodPost, "/runs/"+r.ID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	got := s.getRun(t, r.ID)
	assert.Equal(t, run.StatusFailed, got.Status)
	assert.Equal(t, "run canceled", got.ErrorMessage)
}

func TestListModels(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodGet, "/providers/fake/models", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out struct {
		Provider string   `json:"provider"`
		Models   []string `json:"models"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, []string{"echo", "echo-large"}, out.Models)

	resp, _ = s.do(t, http.MethodGet, "/providers/mistral/models", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/providers/openai/models", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListModelsWithoutCatalog(t *testing.T) {
	srv := New(nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/providers/openai/models", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestEventStreamAcceptsHumanInput(t *testing.T) {
	s := newTestServer(t)
	r := s.createRun(t, humanGraph, true)
	require.Equal(t, run.StatusAwaitingHumanInput, r.Status)

	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/runs/" + r.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ev engine.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, engine.EventExecutionStatus, ev.Type)
	assert.Equal(t, run.StatusAwaitingHumanInput, ev.Status)
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, engine.EventHumanInputRequest, ev.Type)
	assert.Equal(t, "Operator", ev.AgentName)
	requestID := ev.RequestID

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	var frame errorFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, FrameError, frame.Type)

	require.NoError(t, conn.WriteJSON(HumanInputResponse{
		Type: FrameHumanInputResponse, RunID: r.ID, RequestID: requestID, Input: "approved",
	}))
	var sawMessage bool
	for {
		var next engine.Event
		require.NoError(t, conn.ReadJSON(&next))
		if next.Type == engine.EventMessage {
			sawMessage = true
		}
		if next.Type == engine.EventExecutionStatus && next.Status == run.StatusCompleted {
			break
		}
	}
	assert.True(t, sawMessage)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", run.ErrRunNotFound), http.StatusNotFound},
		{engine.ErrRunInProgress, http.StatusConflict},
		{engine.ErrNotAwaitingInput, http.StatusConflict},
		{provider.ErrListNotSupported, http.StatusNotImplemented},
		{provider.ErrMissingAPIKey, http.StatusBadRequest},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), tt.err.Error())
	}
}
