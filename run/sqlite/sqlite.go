//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides a SQLite-backed run store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-flow/run"
)

const (
	sqliteCreateRuns = "CREATE TABLE IF NOT EXISTS runs (" +
		"run_id TEXT NOT NULL PRIMARY KEY, " +
		"status TEXT NOT NULL, " +
		"created_at INTEGER NOT NULL, " +
		"updated_at INTEGER NOT NULL, " +
		"run_json BLOB NOT NULL" +
		")"

	sqliteCreateRunsStatusIdx = "CREATE INDEX IF NOT EXISTS idx_runs_status ON runs (status)"

	sqliteCreateMessages = "CREATE TABLE IF NOT EXISTS run_messages (" +
		"run_id TEXT NOT NULL, " +
		"seq INTEGER NOT NULL, " +
		"message_json BLOB NOT NULL, " +
		"PRIMARY KEY (run_id, seq)" +
		")"

	sqliteInsertRun = "INSERT INTO runs (run_id, status, created_at, updated_at, run_json) " +
		"VALUES (?, ?, ?, ?, ?)"

	sqliteUpdateRun = "UPDATE runs SET status = ?, updated_at = ?, run_json = ? " +
		"WHERE run_id = ? AND updated_at = ?"

	sqliteRunExists = "SELECT COUNT(*) FROM runs WHERE run_id = ?"

	sqliteSelectRun = "SELECT run_json FROM runs WHERE run_id = ?"

	sqliteSelectByStatus = "SELECT run_json FROM runs WHERE status = ? ORDER BY created_at ASC"

	sqliteSelectMaxSeq = "SELECT MAX(seq) FROM run_messages WHERE run_id = ?"

	sqliteInsertMessage = "INSERT INTO run_messages (run_id, seq, message_json) VALUES (?, ?, ?)"

	sqliteSelectMessages = "SELECT message_json FROM run_messages WHERE run_id = ? ORDER BY seq ASC"

	sqliteDeleteRun      = "DELETE FROM runs WHERE run_id = ?"
	sqliteDeleteMessages = "DELETE FROM run_messages WHERE run_id = ?"
)

// Store persists runs as JSON blobs. It expects an initialized *sql.DB
// using a SQLite driver and creates the schema on construction.
type Store struct {
	db *sql.DB
}

// NewStore creates a store on db.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	for _, stmt := range []string{sqliteCreateRuns, sqliteCreateRunsStatusIdx, sqliteCreateMessages} {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Create implements run.Store.
func (s *Store) Create(ctx context.Context, r *run.Run) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqliteInsertRun,
		r.ID, string(r.Status), r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(), b)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: %s", run.ErrRunExists, r.ID)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Get implements run.Store.
func (s *Store) Get(ctx context.Context, id string) (*run.Run, error) {
	var b []byte
	if err := s.db.QueryRowContext(ctx, sqliteSelectRun, id).Scan(&b); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", run.ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("select run: %w", err)
	}
	return decodeRun(b)
}

// Save implements run.Store.
func (s *Store) Save(ctx context.Context, r *run.Run) error {
	expected := r.UpdatedAt
	r.UpdatedAt = run.NextUpdatedAt(expected)
	b, err := json.Marshal(r)
	if err != nil {
		r.UpdatedAt = expected
		return fmt.Errorf("marshal run: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqliteUpdateRun,
		string(r.Status), r.UpdatedAt.UnixNano(), b, r.ID, expected.UnixNano())
	if err != nil {
		r.UpdatedAt = expected
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		r.UpdatedAt = expected
		return fmt.Errorf("update run: %w", err)
	}
	if n > 0 {
		return nil
	}
	r.UpdatedAt = expected
	var count int
	if err := s.db.QueryRowContext(ctx, sqliteRunExists, r.ID).Scan(&count); err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", run.ErrRunNotFound, r.ID)
	}
	return fmt.Errorf("%w: %s", run.ErrStaleRun, r.ID)
}

// AppendMessage implements run.Store. The check and insert share one
// transaction so concurrent appends cannot reorder the log.
func (s *Store) AppendMessage(ctx context.Context, m *run.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT 1 FROM runs WHERE run_id = ?", m.RunID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", run.ErrRunNotFound, m.RunID)
		}
		return fmt.Errorf("select run: %w", err)
	}
	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, sqliteSelectMaxSeq, m.RunID).Scan(&last); err != nil {
		return fmt.Errorf("select max seq: %w", err)
	}
	if last.Valid && last.Int64 >= int64(m.SequenceNumber) {
		return fmt.Errorf("%w: run %s seq %d", run.ErrSequenceConflict, m.RunID, m.SequenceNumber)
	}
	if _, err := tx.ExecContext(ctx, sqliteInsertMessage, m.RunID, m.SequenceNumber, b); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return tx.Commit()
}

// Messages implements run.Store.
func (s *Store) Messages(ctx context.Context, runID string) ([]*run.Message, error) {
	if _, err := s.Get(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, sqliteSelectMessages, runID)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()
	var out []*run.Message
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var m run.Message
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ListByStatus implements run.Store.
func (s *Store) ListByStatus(ctx context.Context, status run.Status) ([]*run.Run, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelectByStatus, string(status))
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer rows.Close()
	var out []*run.Run
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r, err := decodeRun(b)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete implements run.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, sqliteDeleteRun, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", run.ErrRunNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, sqliteDeleteMessages, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return tx.Commit()
}

func decodeRun(b []byte) (*run.Run, error) {
	var r run.Run
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	if r.ExecutedNodes == nil {
		r.ExecutedNodes = make(map[string]string)
	}
	return &r, nil
}

func isConstraint(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY")
}
