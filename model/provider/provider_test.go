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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/model/anthropic"
	"trpc.group/trpc-go/trpc-agent-flow/model/ollama"
	"trpc.group/trpc-go/trpc-agent-flow/model/openai"
)

type fakeModel struct {
	opts   Options
	lists  *atomic.Int32
	block  chan struct{}
	models []string
}

func (f *fakeModel) Generate(context.Context, *model.Request) (*model.Response, error) {
	return &model.Response{Text: "ok"}, nil
}

func (f *fakeModel) Info() model.Info {
	return model.Info{Provider: f.opts.ProviderName, Name: f.opts.ModelName, MaxTokens: f.opts.MaxTokens}
}

func (f *fakeModel) ListModels(ctx context.Context) ([]string, error) {
	f.lists.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.models, nil
}

func TestBuiltinProvidersRegistered(t *testing.T) {
	for _, name := range []string{"openai", "anthropic", "gemini", "ollama"} {
		_, ok := Get(name)
		assert.True(t, ok, name)
	}
	r := NewRouter()
	tests := map[string]string{
		"openai":    "openai",
		"OpenAI":    "openai",
		"anthropic": "anthropic",
		"claude":    "anthropic",
		"google":    "gemini",
		" Gemini ":  "gemini",
	}
	for in, want := range tests {
		got, ok := r.Normalize(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := r.Normalize("mistral")
	assert.False(t, ok)
}

func TestResolveNotFound(t *testing.T) {
	r := NewRouter()
	m, ok := r.Resolve(context.Background(), AgentConfig{Provider: "mistral"}, APIKeys{"mistral": "k"})
	assert.False(t, ok)
	assert.Nil(t, m)

	m, ok = r.Resolve(context.Background(), AgentConfig{Provider: "openai"}, APIKeys{"anthropic": "k"})
	assert.False(t, ok)
	assert.Nil(t, m)

	m, ok = r.Resolve(context.Background(), AgentConfig{Provider: "openai"}, nil)
	assert.False(t, ok)
	assert.Nil(t, m)
}

func TestResolveBuiltins(t *testing.T) {
	r := NewRouter()
	m, ok := r.Resolve(context.Background(), AgentConfig{Provider: "openai", Model: "gpt-4o", MaxTokens: 100000}, APIKeys{"openai": "sk"})
	require.True(t, ok)
	_, isOpenAI := m.(*openai.Model)
	assert.True(t, isOpenAI)
	assert.Equal(t, 16384, m.Info().MaxTokens)

	m, ok = r.Resolve(context.Background(), AgentConfig{Provider: "claude"}, APIKeys{"claude": "ak"})
	require.True(t, ok)
	_, isAnthropic := m.(*anthropic.Model)
	assert.True(t, isAnthropic)
	assert.Equal(t, "claude-3-5-sonnet-latest", m.Info().Name)
	assert.Equal(t, 8192, m.Info().MaxTokens)

	m, ok = r.Resolve(context.Background(), AgentConfig{Provider: "ollama"}, APIKeys{"ollama": "local"})
	require.True(t, ok)
	_, isOllama := m.(*ollama.Model)
	assert.True(t, isOllama)
	assert.Equal(t, model.Info{Provider: "ollama", Name: "llama3.2", MaxTokens: 4096}, m.Info())
}

func TestTokenCeiling(t *testing.T) {
	r := NewRouter()
	tests := []struct {
		provider, model string
		want            int
	}{
		{"openai", "gpt-4o-mini", 16384},
		{"openai", "gpt-4-0613", 8192},
		{"openai", "gpt-4-turbo-preview", 4096},
		{"openai", "o1-preview", 32768},
		{"openai", "davinci", 4096},
		{"anthropic", "claude-3-opus-20240229", 4096},
		{"anthropic", "claude-3-5-haiku-latest", 8192},
		{"anthropic", "claude-sonnet-4-20250514", 32000},
		{"gemini", "gemini-1.5-pro", 8192},
		{"custom", "anything", fallbackTokenCeiling},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.TokenCeiling(tt.provider, tt.model), tt.model)
	}
}

func TestResolveCapsAndCaches(t *testing.T) {
	var builds atomic.Int32
	r := NewRouter(WithBaseURL("fake", "http://fake.local"), WithDefaultModel("fake", "fake-default"))
	r.Register("fake", func(_ context.Context, opts *Options) (model.Model, error) {
		builds.Add(1)
		return &fakeModel{opts: *opts}, nil
	}, "phony")

	m, ok := r.Resolve(context.Background(), AgentConfig{Provider: "phony", MaxTokens: 99999}, APIKeys{"phony": "key-1"})
	require.True(t, ok)
	fm := m.(*fakeModel)
	assert.Equal(t, "fake", fm.opts.ProviderName)
	assert.Equal(t, "fake-default", fm.opts.ModelName)
	assert.Equal(t, "key-1", fm.opts.APIKey)
	assert.Equal(t, "http://fake.local", fm.opts.BaseURL)
	assert.Equal(t, fallbackTokenCeiling, fm.opts.MaxTokens)

	again, ok := r.Resolve(context.Background(), AgentConfig{Provider: "fake", MaxTokens: 0}, APIKeys{"fake": "key-1"})
	require.True(t, ok)
	assert.Same(t, m, again)
	assert.EqualValues(t, 1, builds.Load())

	other, ok := r.Resolve(context.Background(), AgentConfig{Provider: "fake"}, APIKeys{"fake": "key-2"})
	require.True(t, ok)
	assert.NotSame(t, m, other)
	assert.EqualValues(t, 2, builds.Load())
}

func TestResolveConcurrentBuildsOnce(t *testing.T) {
	var builds atomic.Int32
	r := NewRouter()
	r.Register("slow", func(_ context.Context, opts *Options) (model.Model, error) {
		builds.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &fakeModel{opts: *opts}, nil
	})

	var wg sync.WaitGroup
	results := make([]model.Model, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, ok := r.Resolve(context.Background(), AgentConfig{Provider: "slow", Model: "m"}, APIKeys{"slow": "k"})
			assert.True(t, ok)
			results[i] = m
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, builds.Load())
	for _, m := range results {
		assert.Same(t, results[0], m)
	}
}

func TestResolveBuildFailure(t *testing.T) {
	r := NewRouter()
	r.Register("broken", func(context.Context, *Options) (model.Model, error) {
		return nil, errors.New("boom")
	})
	m, ok := r.Resolve(context.Background(), AgentConfig{Provider: "broken"}, APIKeys{"broken": "k"})
	assert.False(t, ok)
	assert.Nil(t, m)
}

func TestCatalogSingleFlightAndTTL(t *testing.T) {
	var lists atomic.Int32
	block := make(chan struct{})
	r := NewRouter()
	r.Register("fake", func(_ context.Context, opts *Options) (model.Model, error) {
		return &fakeModel{opts: *opts, lists: &lists, block: block, models: []string{"m1", "m2"}}, nil
	})
	c := NewCatalog(r, WithTTL(time.Minute))
	now := time.Now()
	c.now = func() time.Time { return now }

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			models, err := c.ListModels(context.Background(), "fake", "k")
			assert.NoError(t, err)
			assert.Equal(t, []string{"m1", "m2"}, models)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(block)
	wg.Wait()
	assert.EqualValues(t, 1, lists.Load())

	_, err := c.ListModels(context.Background(), "fake", "k")
	require.NoError(t, err)
	assert.EqualValues(t, 1, lists.Load())

	now = now.Add(2 * time.Minute)
	_, err = c.ListModels(context.Background(), "fake", "k")
	require.NoError(t, err)
	assert.EqualValues(t, 2, lists.Load())

	c.Invalidate("fake")
	_, err = c.ListModels(context.Background(), "fake", "k")
	require.NoError(t, err)
	assert.EqualValues(t, 3, lists.Load())
}

func TestCatalogErrors(t *testing.T) {
	c := NewCatalog(NewRouter())
	_, err := c.ListModels(context.Background(), "mistral", "k")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	_, err = c.ListModels(context.Background(), "openai", "")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
