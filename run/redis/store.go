//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/run"
)

const (
	keyPrefixRun      = "run:"
	keyPrefixMessages = "run_msgs:"
	keyPrefixStatus   = "run_status:"
)

// appendScript rejects a message whose sequence number does not exceed the
// last stored one. It returns -1 for a missing run and 0 on conflict.
var appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local last = redis.call('ZRANGE', KEYS[2], '-1', '-1', 'WITHSCORES')
if #last > 0 and tonumber(last[2]) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return 1
`)

// Store is the redis run store.
type Store struct {
	opts   Options
	client redis.UniversalClient
	once   sync.Once
}

// NewStore creates a new store.
func NewStore(options ...Option) (*Store, error) {
	opts := defaultOptions
	for _, option := range options {
		option(&opts)
	}
	client := opts.client
	if opts.url != "" {
		o, err := redis.ParseURL(opts.url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(o)
	}
	if client == nil {
		return nil, errors.New("redis client or url is required")
	}
	return &Store{opts: opts, client: client}, nil
}

func (s *Store) runKey(id string) string      { return s.opts.keyPrefix + keyPrefixRun + id }
func (s *Store) messagesKey(id string) string { return s.opts.keyPrefix + keyPrefixMessages + id }
func (s *Store) statusKey(st run.Status) string {
	return s.opts.keyPrefix + keyPrefixStatus + string(st)
}

// Create implements run.Store.
func (s *Store) Create(ctx context.Context, r *run.Run) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.runKey(r.ID), b, s.opts.ttl).Result()
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", run.ErrRunExists, r.ID)
	}
	if err := s.client.SAdd(ctx, s.statusKey(r.Status), r.ID).Err(); err != nil {
		return fmt.Errorf("index run: %w", err)
	}
	return nil
}

// Get implements run.Store.
func (s *Store) Get(ctx context.Context, id string) (*run.Run, error) {
	b, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", run.ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return decodeRun(b)
}

// Save implements run.Store. The compare and write run in one WATCH
// transaction on the run key.
func (s *Store) Save(ctx context.Context, r *run.Run) error {
	key := s.runKey(r.ID)
	expected := r.UpdatedAt
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", run.ErrRunNotFound, r.ID)
			}
			return fmt.Errorf("get run: %w", err)
		}
		prev, err := decodeRun(raw)
		if err != nil {
			return err
		}
		if !prev.UpdatedAt.Equal(expected) {
			return fmt.Errorf("%w: %s", run.ErrStaleRun, r.ID)
		}
		r.UpdatedAt = run.NextUpdatedAt(expected)
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, s.opts.ttl)
			if prev.Status != r.Status {
				pipe.SRem(ctx, s.statusKey(prev.Status), r.ID)
			}
			pipe.SAdd(ctx, s.statusKey(r.Status), r.ID)
			return nil
		})
		return err
	}, key)
	if err == nil {
		return nil
	}
	r.UpdatedAt = expected
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%w: %s", run.ErrStaleRun, r.ID)
	case errors.Is(err, run.ErrRunNotFound), errors.Is(err, run.ErrStaleRun):
		return err
	default:
		return fmt.Errorf("save run: %w", err)
	}
}

// AppendMessage implements run.Store.
func (s *Store) AppendMessage(ctx context.Context, m *run.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	res, err := appendScript.Run(ctx, s.client,
		[]string{s.runKey(m.RunID), s.messagesKey(m.RunID)},
		m.SequenceNumber, b, s.opts.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	switch res {
	case -1:
		return fmt.Errorf("%w: %s", run.ErrRunNotFound, m.RunID)
	case 0:
		return fmt.Errorf("%w: run %s seq %d", run.ErrSequenceConflict, m.RunID, m.SequenceNumber)
	}
	return nil
}

// Messages implements run.Store.
func (s *Store) Messages(ctx context.Context, runID string) ([]*run.Message, error) {
	n, err := s.client.Exists(ctx, s.runKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("check run: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", run.ErrRunNotFound, runID)
	}
	raw, err := s.client.ZRangeByScore(ctx, s.messagesKey(runID), &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]*run.Message, 0, len(raw))
	for _, item := range raw {
		var m run.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		out = append(out, &m)
	}
	return out, nil
}

// ListByStatus implements run.Store. Index entries whose run has expired
// are pruned.
func (s *Store) ListByStatus(ctx context.Context, status run.Status) ([]*run.Run, error) {
	ids, err := s.client.SMembers(ctx, s.statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("list status index: %w", err)
	}
	var out []*run.Run
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if errors.Is(err, run.ErrRunNotFound) {
			s.client.SRem(ctx, s.statusKey(status), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if r.Status != status {
			log.Debugf("redis run store: stale index entry %s for %s", id, status)
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete implements run.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.runKey(id), s.messagesKey(id))
		pipe.SRem(ctx, s.statusKey(r.Status), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete run %s: %w", strconv.Quote(id), err)
	}
	return nil
}

// Close closes the underlying client once.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		err = s.client.Close()
	})
	return err
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
