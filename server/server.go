//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package server exposes workflow runs over HTTP and streams their events
// over WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"trpc.group/trpc-go/trpc-agent-flow/engine"
	"trpc.group/trpc-go/trpc-agent-flow/humaninput"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/model/provider"
	"trpc.group/trpc-go/trpc-agent-flow/run"
	"trpc.group/trpc-go/trpc-agent-flow/workflow"
)

// Frame types accepted or sent on the event stream besides engine events.
const (
	FrameHumanInputResponse = "human_input_response"
	FrameError              = "error"
)

var (
	errBadRequest     = errors.New("bad request")
	errNotImplemented = errors.New("not implemented")
)

// Engine is the part of engine.Controller the server drives.
type Engine interface {
	Create(ctx context.Context, g *workflow.Graph, opts engine.CreateOptions) (*run.Run, error)
	Execute(ctx context.Context, runID string) error
	Get(ctx context.Context, runID string) (*run.Run, error)
	Messages(ctx context.Context, runID string) ([]*run.Message, error)
	Resume(ctx context.Context, runID, requestID, input string) error
	Cancel(ctx context.Context, runID string) error
}

// CreateRunRequest is the body of POST /runs.
type CreateRunRequest struct {
	Graph json.RawMessage `json:"graph"`
	Scope string          `json:"scope,omitempty"`
	Input string          `json:"input,omitempty"`
	// Wait executes the run before responding.
	Wait bool `json:"wait,omitempty"`
}

// HumanInputResponse answers a human_input_request. It is the body of
// POST /runs/{id}/human-input and the frame clients send on the event
// stream.
type HumanInputResponse struct {
	Type      string `json:"type,omitempty"`
	RunID     string `json:"runId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Input     string `json:"input"`
}

type errorFrame struct {
	Type    string `json:"type"`
	RunID   string `json:"runId"`
	Message string `json:"message"`
}

// Server serves the run API.
type Server struct {
	engine   Engine
	router   *mux.Router
	handler  http.Handler
	upgrader websocket.Upgrader
	opts     options

	wg sync.WaitGroup
}

// New creates a Server over eng.
func New(eng Engine, opts ...Option) *Server {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{engine: eng, router: mux.NewRouter(), opts: o}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   o.allowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.registerRoutes()
	s.handler = c.Handler(s.router)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Wait blocks until every background execution started by the server has
// returned.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/runs", s.handleCreateRun).Methods(http.MethodPost)
	s.router.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	s.router.HandleFunc("/runs/{id}/messages", s.handleMessages).Methods(http.MethodGet)
	s.router.HandleFunc("/runs/{id}/human-input", s.handleHumanInput).Methods(http.MethodPost)
	s.router.HandleFunc("/runs/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	s.router.HandleFunc("/runs/{id}/pause", s.handlePause).Methods(http.MethodPost)
	s.router.HandleFunc("/runs/{id}/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/providers/{provider}/models", s.handleListModels).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if len(req.Graph) == 0 {
		s.writeError(w, fmt.Errorf("%w: graph is required", errBadRequest))
		return
	}
	g, err := workflow.NewParser().Parse(req.Graph)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if _, err := workflow.Validate(g); err != nil {
		s.writeError(w, err)
		return
	}
	created, err := s.engine.Create(r.Context(), g, engine.CreateOptions{Scope: req.Scope, Input: req.Input})
	if err != nil {
		s.writeError(w, err)
		return
	}
	log.Infof("handleCreateRun: run %s created (wait=%t)", created.ID, req.Wait)

	ctx := context.WithoutCancel(r.Context())
	if !req.Wait {
		s.background(func() {
			if err := s.engine.Execute(ctx, created.ID); err != nil {
				log.Errorf("execute run %s: %v", created.ID, err)
			}
		})
		s.writeJSON(w, http.StatusAccepted, created)
		return
	}
	if err := s.engine.Execute(ctx, created.ID); err != nil {
		s.writeError(w, err)
		return
	}
	final, err := s.engine.Get(ctx, created.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, final)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	cur, err := s.engine.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cur)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.engine.Get(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	msgs, err := s.engine.Messages(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*run.Message{}
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleHumanInput(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req HumanInputResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.acceptHumanInput(r.Context(), id, req); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"runId": id, "status": "accepted"})
}

// acceptHumanInput checks req against the run's pending request and resumes
// the run in the background.
func (s *Server) acceptHumanInput(ctx context.Context, runID string, req HumanInputResponse) error {
	if req.RunID != "" && req.RunID != runID {
		return fmt.Errorf("%w: runId %s does not match %s", errBadRequest, req.RunID, runID)
	}
	if strings.TrimSpace(req.Input) == "" {
		return humaninput.ErrEmptyInput
	}
	cur, err := s.engine.Get(ctx, runID)
	if err != nil {
		return err
	}
	if cur.Status != run.StatusAwaitingHumanInput || cur.HumanInputContext == nil {
		return fmt.Errorf("%w: %s is %s", engine.ErrNotAwaitingInput, runID, cur.Status)
	}
	if req.RequestID != "" && req.RequestID != cur.HumanInputContext.RequestID {
		return fmt.Errorf("%w: %s", humaninput.ErrRequestMismatch, req.RequestID)
	}
	bg := context.WithoutCancel(ctx)
	s.background(func() {
		if err := s.engine.Resume(bg, runID, req.RequestID, req.Input); err != nil {
			log.Errorf("resume run %s: %v", runID, err)
		}
	})
	return nil
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.Cancel(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"runId": id, "status": "canceling"})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.writeError(w, fmt.Errorf("%w: pausing runs is not supported, use cancel", errNotImplemented))
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.opts.catalog == nil {
		s.writeError(w, fmt.Errorf("%w: model catalog disabled", errNotImplemented))
		return
	}
	name := mux.Vars(r)["provider"]
	key := r.Header.Get(apiKeyHeader)
	if key == "" && s.opts.keys != nil {
		keys, err := s.opts.keys.APIKeys(r.Context(), r.Header.Get(scopeHeader))
		if err != nil {
			s.writeError(w, err)
			return
		}
		key = keys[name]
	}
	models, err := s.opts.catalog.ListModels(r.Context(), name, key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"provider": name, "models": models})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.hub == nil {
		s.writeError(w, fmt.Errorf("%w: event stream disabled", errNotImplemented))
		return
	}
	id := mux.Vars(r)["id"]
	cur, err := s.engine.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("event stream of run %s: upgrade: %v", id, err)
		return
	}
	defer conn.Close()
	events, unsubscribe := s.opts.hub.Subscribe(id)
	defer unsubscribe()
	if latest, err := s.engine.Get(r.Context(), id); err == nil {
		cur = latest
	}

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout))
		return conn.WriteJSON(v)
	}
	done := make(chan struct{})
	go s.readFrames(r.Context(), conn, id, write, done)

	if err := write(snapshot(cur)); err != nil {
		return
	}
	if cur.Status == run.StatusAwaitingHumanInput && cur.HumanInputContext != nil {
		if err := write(humanInputRequest(cur)); err != nil {
			return
		}
	}

	ping := time.NewTicker(s.opts.pingInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := write(ev); err != nil {
				log.Debugf("event stream of run %s: %v", id, err)
				return
			}
		case <-ping.C:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.writeTimeout))
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readFrames handles client frames until the connection closes.
func (s *Server) readFrames(ctx context.Context, conn *websocket.Conn, runID string,
	write func(any) error, done chan<- struct{}) {
	defer close(done)
	ctx = context.WithoutCancel(ctx)
	for {
		var frame HumanInputResponse
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("event stream of run %s: read: %v", runID, err)
			}
			return
		}
		if frame.Type != FrameHumanInputResponse {
			_ = write(errorFrame{Type: FrameError, RunID: runID, Message: fmt.Sprintf("unsupported frame type %q", frame.Type)})
			continue
		}
		if err := s.acceptHumanInput(ctx, runID, frame); err != nil {
			_ = write(errorFrame{Type: FrameError, RunID: runID, Message: err.Error()})
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) background(f func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f()
	}()
}

func snapshot(r *run.Run) engine.Event {
	ev := engine.Event{
		Type:      engine.EventExecutionStatus,
		RunID:     r.ID,
		Status:    r.Status,
		Message:   r.ErrorMessage,
		Timestamp: time.Now().UTC(),
	}
	if r.Status.Terminal() {
		ev.Progress = 1
	}
	return ev
}

func humanInputRequest(r *run.Run) engine.Event {
	hic := r.HumanInputContext
	return engine.Event{
		Type:           engine.EventHumanInputRequest,
		RunID:          r.ID,
		Status:         r.Status,
		AgentName:      hic.AgentName,
		Prompt:         hic.Prompt,
		RequestID:      hic.RequestID,
		TimeoutSeconds: hic.TimeoutSeconds,
		Timestamp:      hic.RequestedAt,
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, humaninput.ErrEmptyInput),
		errors.Is(err, workflow.ErrInvalidGraph),
		errors.Is(err, workflow.ErrNilGraph),
		errors.Is(err, provider.ErrMissingAPIKey):
		return http.StatusBadRequest
	case errors.Is(err, run.ErrRunNotFound),
		errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrRunInProgress),
		errors.Is(err, engine.ErrRunNotPending),
		errors.Is(err, engine.ErrRunFinished),
		errors.Is(err, engine.ErrNotAwaitingInput),
		errors.Is(err, humaninput.ErrRequestMismatch):
		return http.StatusConflict
	case errors.Is(err, errNotImplemented),
		errors.Is(err, provider.ErrListNotSupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError && code != http.StatusNotImplemented {
		log.Errorf("request failed: %v", err)
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
