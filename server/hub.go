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
	"context"
	"sync"

	"trpc.group/trpc-go/trpc-agent-flow/engine"
	"trpc.group/trpc-go/trpc-agent-flow/log"
)

const defaultSubscriberBuffer = 64

// Hub fans controller events out to the subscribers of each run. It
// implements engine.EventSink.
type Hub struct {
	buffer int

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch chan engine.Event
}

// NewHub creates a Hub whose subscribers buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[string]map[*subscriber]struct{})}
}

// Publish implements engine.EventSink. It never blocks: a subscriber whose
// buffer is full misses the event.
func (h *Hub) Publish(_ context.Context, ev engine.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[ev.RunID] {
		select {
		case s.ch <- ev:
		default:
			log.Warnf("event hub: subscriber of run %s is slow, dropping %s event", ev.RunID, ev.Type)
		}
	}
}

// Subscribe returns the events of runID and a function that ends the
// subscription and closes the channel.
func (h *Hub) Subscribe(runID string) (<-chan engine.Event, func()) {
	s := &subscriber{ch: make(chan engine.Event, h.buffer)}
	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[*subscriber]struct{})
	}
	h.subs[runID][s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[runID], s)
			if len(h.subs[runID]) == 0 {
				delete(h.subs, runID)
			}
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

// Subscribers returns the number of subscribers of runID.
func (h *Hub) Subscribers(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[runID])
}
