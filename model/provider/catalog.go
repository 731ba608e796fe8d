//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

const defaultCatalogTTL = 10 * time.Minute

var (
	// ErrUnknownProvider is returned for providers the router does not know.
	ErrUnknownProvider = errors.New("provider: unknown provider")
	// ErrMissingAPIKey is returned when no key is available for the provider.
	ErrMissingAPIKey = errors.New("provider: missing API key")
	// ErrListNotSupported is returned when the provider cannot list models.
	ErrListNotSupported = errors.New("provider: model listing not supported")
)

type catalogEntry struct {
	models  []string
	fetched time.Time
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithTTL sets how long a listing stays fresh.
func WithTTL(ttl time.Duration) CatalogOption {
	return func(c *Catalog) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// Catalog caches provider model listings. Concurrent refreshes of the same
// entry share one provider call.
type Catalog struct {
	router *Router
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]catalogEntry
	group   singleflight.Group
}

// NewCatalog creates a Catalog backed by router.
func NewCatalog(router *Router, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		router:  router,
		ttl:     defaultCatalogTTL,
		now:     time.Now,
		entries: make(map[string]catalogEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListModels returns the model ids offered by provider for apiKey.
func (c *Catalog) ListModels(ctx context.Context, provider, apiKey string) ([]string, error) {
	name, ok := c.router.Normalize(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingAPIKey, name)
	}
	key := name + "|" + fingerprint(apiKey)
	if models, ok := c.fresh(key); ok {
		return models, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if models, ok := c.fresh(key); ok {
			return models, nil
		}
		m, ok := c.router.Resolve(ctx, AgentConfig{Provider: name}, APIKeys{name: apiKey})
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingAPIKey, name)
		}
		lister, ok := m.(model.Lister)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrListNotSupported, name)
		}
		models, err := lister.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = catalogEntry{models: models, fetched: c.now()}
		c.mu.Unlock()
		return models, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), v.([]string)...), nil
}

func (c *Catalog) fresh(key string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.fetched) > c.ttl {
		return nil, false
	}
	return append([]string(nil), e.models...), true
}

// Invalidate drops every cached listing of provider.
func (c *Catalog) Invalidate(provider string) {
	name, ok := c.router.Normalize(provider)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if len(key) > len(name) && key[:len(name)+1] == name+"|" {
			delete(c.entries, key)
		}
	}
}
