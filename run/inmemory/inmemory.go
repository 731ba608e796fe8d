//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-process run store for tests and
// single-instance deployments.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"trpc.group/trpc-go/trpc-agent-flow/run"
)

// Store keeps runs and messages in maps guarded by a RWMutex.
type Store struct {
	mu       sync.RWMutex
	runs     map[string]*run.Run
	messages map[string][]*run.Message
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		runs:     make(map[string]*run.Run),
		messages: make(map[string][]*run.Message),
	}
}

// Create implements run.Store.
func (s *Store) Create(_ context.Context, r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; ok {
		return fmt.Errorf("%w: %s", run.ErrRunExists, r.ID)
	}
	s.runs[r.ID] = r.Clone()
	return nil
}

// Get implements run.Store.
func (s *Store) Get(_ context.Context, id string) (*run.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", run.ErrRunNotFound, id)
	}
	return r.Clone(), nil
}

// Save implements run.Store.
func (s *Store) Save(_ context.Context, r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.runs[r.ID]
	if !ok {
		return fmt.Errorf("%w: %s", run.ErrRunNotFound, r.ID)
	}
	if !prev.UpdatedAt.Equal(r.UpdatedAt) {
		return fmt.Errorf("%w: %s", run.ErrStaleRun, r.ID)
	}
	r.UpdatedAt = run.NextUpdatedAt(prev.UpdatedAt)
	s.runs[r.ID] = r.Clone()
	return nil
}

// AppendMessage implements run.Store.
func (s *Store) AppendMessage(_ context.Context, m *run.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[m.RunID]; !ok {
		return fmt.Errorf("%w: %s", run.ErrRunNotFound, m.RunID)
	}
	msgs := s.messages[m.RunID]
	if n := len(msgs); n > 0 && msgs[n-1].SequenceNumber >= m.SequenceNumber {
		return fmt.Errorf("%w: run %s seq %d", run.ErrSequenceConflict, m.RunID, m.SequenceNumber)
	}
	s.messages[m.RunID] = append(msgs, m.Clone())
	return nil
}

// Messages implements run.Store.
func (s *Store) Messages(_ context.Context, runID string) ([]*run.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("%w: %s", run.ErrRunNotFound, runID)
	}
	msgs := s.messages[runID]
	out := make([]*run.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Clone())
	}
	return out, nil
}

// ListByStatus implements run.Store.
func (s *Store) ListByStatus(_ context.Context, status run.Status) ([]*run.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*run.Run
	for _, r := range s.runs {
		if r.Status == status {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete implements run.Store.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("%w: %s", run.ErrRunNotFound, id)
	}
	delete(s.runs, id)
	delete(s.messages, id)
	return nil
}
