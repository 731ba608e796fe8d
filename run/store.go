//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package run

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRunNotFound is returned when no run has the given id.
	ErrRunNotFound = errors.New("run: not found")
	// ErrRunExists is returned by Create for a duplicate id.
	ErrRunExists = errors.New("run: already exists")
	// ErrSequenceConflict is returned when a message's sequence number is
	// not greater than the last stored one of its run.
	ErrSequenceConflict = errors.New("run: sequence number conflict")
	// ErrStaleRun is returned by Save when the stored run was saved by
	// another writer since the caller loaded it.
	ErrStaleRun = errors.New("run: stale run")
)

// Store persists runs and their message logs. Implementations must be safe
// for concurrent use and must hand out copies, never shared pointers.
type Store interface {
	// Create stores a new run.
	Create(ctx context.Context, r *Run) error
	// Get loads a run.
	Get(ctx context.Context, id string) (*Run, error)
	// Save overwrites an existing run whose stored UpdatedAt equals
	// r.UpdatedAt and stamps a new UpdatedAt on r. A mismatch returns
	// ErrStaleRun and leaves both untouched.
	Save(ctx context.Context, r *Run) error
	// AppendMessage appends to the run's message log.
	AppendMessage(ctx context.Context, m *Message) error
	// Messages returns the run's messages ordered by sequence number.
	Messages(ctx context.Context, runID string) ([]*Message, error)
	// ListByStatus returns the runs currently in status.
	ListByStatus(ctx context.Context, status Status) ([]*Run, error)
	// Delete removes a run and its messages.
	Delete(ctx context.Context, id string) error
}

// NextUpdatedAt returns the UpdatedAt stamp for a save following prev. It
// is strictly later than prev so every save changes the stamp.
func NextUpdatedAt(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond).UTC()
	}
	return now
}
