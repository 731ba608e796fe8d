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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// AgentConfig is the LLM selection of a workflow node.
type AgentConfig struct {
	Provider  string
	Model     string
	MaxTokens int
}

// APIKeys maps provider names to the keys available to a scope.
type APIKeys map[string]string

// Option configures a Router.
type Option func(*Router)

// WithBaseURL overrides the endpoint used for a provider.
func WithBaseURL(provider, url string) Option {
	return func(r *Router) {
		r.baseURLs[provider] = url
	}
}

// WithDefaultModel overrides the model used when a node sets none.
func WithDefaultModel(provider, modelName string) Option {
	return func(r *Router) {
		r.defaultModels[provider] = modelName
	}
}

// WithHTTPClientOptions applies HTTP client options to every built model.
func WithHTTPClientOptions(opts ...model.HTTPClientOption) Option {
	return func(r *Router) {
		r.httpOpts = append(r.httpOpts, opts...)
	}
}

// Router resolves agent configurations to cached model clients. It is safe
// for concurrent use by many runs.
type Router struct {
	mu            sync.RWMutex
	builders      map[string]Builder
	aliases       map[string]string
	defaultModels map[string]string
	baseURLs      map[string]string
	httpOpts      []model.HTTPClientOption

	cacheMu sync.RWMutex
	cache   map[string]model.Model
	group   singleflight.Group
}

// NewRouter creates a Router with every globally registered provider.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		builders:      make(map[string]Builder),
		aliases:       make(map[string]string),
		defaultModels: make(map[string]string, len(defaultModels)),
		baseURLs:      make(map[string]string),
		cache:         make(map[string]model.Model),
	}
	for name, m := range defaultModels {
		r.defaultModels[name] = m
	}
	for name, reg := range snapshotBuilders() {
		r.register(name, reg.builder, reg.aliases...)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a provider on this router only.
func (r *Router) Register(name string, b Builder, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(name, b, aliases...)
}

func (r *Router) register(name string, b Builder, aliases ...string) {
	name = strings.ToLower(name)
	r.builders[name] = b
	r.aliases[name] = name
	for _, a := range aliases {
		r.aliases[strings.ToLower(a)] = name
	}
}

// Normalize returns the canonical name of a provider or alias.
func (r *Router) Normalize(provider string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.aliases[strings.ToLower(strings.TrimSpace(provider))]
	return name, ok
}

// DefaultModel returns the model used for provider when a node sets none.
func (r *Router) DefaultModel(provider string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModels[provider]
}

// TokenCeiling returns the completion token ceiling for a canonical
// provider and model.
func (r *Router) TokenCeiling(provider, modelName string) int {
	if n, ok := model.MatchPrefix(tokenCeilings[provider], modelName); ok {
		return n
	}
	if n, ok := defaultTokenCeilings[provider]; ok {
		return n
	}
	return fallbackTokenCeiling
}

// Resolve returns the model for cfg using the matching key from keys.
// An unknown provider, a missing key or a failed construction yields
// (nil, false); Resolve never returns an error or panics.
func (r *Router) Resolve(ctx context.Context, cfg AgentConfig, keys APIKeys) (model.Model, bool) {
	name, ok := r.Normalize(cfg.Provider)
	if !ok {
		log.Debugf("provider router: unknown provider %q", cfg.Provider)
		return nil, false
	}
	key := r.lookupKey(name, keys)
	if key == "" {
		log.Debugf("provider router: no API key for %s", name)
		return nil, false
	}
	opts := r.options(name, cfg, key)
	cacheKey := fmt.Sprintf("%s|%s|%d|%s", name, opts.ModelName, opts.MaxTokens, fingerprint(key))

	r.cacheMu.RLock()
	m, ok := r.cache[cacheKey]
	r.cacheMu.RUnlock()
	if ok {
		return m, true
	}

	v, err, _ := r.group.Do(cacheKey, func() (any, error) {
		r.cacheMu.RLock()
		cached, ok := r.cache[cacheKey]
		r.cacheMu.RUnlock()
		if ok {
			return cached, nil
		}
		r.mu.RLock()
		build := r.builders[name]
		r.mu.RUnlock()
		built, err := build(ctx, opts)
		if err != nil {
			return nil, err
		}
		r.cacheMu.Lock()
		r.cache[cacheKey] = built
		r.cacheMu.Unlock()
		return built, nil
	})
	if err != nil {
		log.Warnf("provider router: build %s/%s failed: %v", name, opts.ModelName, err)
		return nil, false
	}
	return v.(model.Model), true
}

// lookupKey accepts keys stored under the canonical name or any alias.
func (r *Router) lookupKey(name string, keys APIKeys) string {
	if k := keys[name]; k != "" {
		return k
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for alias, canonical := range r.aliases {
		if canonical == name {
			if k := keys[alias]; k != "" {
				return k
			}
		}
	}
	return ""
}

func (r *Router) options(name string, cfg AgentConfig, key string) *Options {
	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = r.DefaultModel(name)
	}
	ceiling := r.TokenCeiling(name, modelName)
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 || maxTokens > ceiling {
		maxTokens = ceiling
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Options{
		ProviderName:      name,
		ModelName:         modelName,
		APIKey:            key,
		BaseURL:           r.baseURLs[name],
		MaxTokens:         maxTokens,
		HTTPClientOptions: r.httpOpts,
	}
}

func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
