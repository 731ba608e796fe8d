//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterByScore(t *testing.T) {
	docs := []Document{
		{Content: "a", Metadata: Metadata{Score: 0.9}},
		{Content: "b", Metadata: Metadata{Score: 0.4}},
		{Content: "c", Metadata: Metadata{Score: 0.7}},
	}
	got := FilterByScore(docs, 0.7)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Content)
	assert.Equal(t, "c", got[1].Content)
	assert.Empty(t, FilterByScore(nil, 0.1))
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "", FormatContext(nil))
	out := FormatContext([]Document{
		{Content: " Paris is the capital. ", Metadata: Metadata{Source: "atlas.pdf", Page: 3}},
		{Content: "No source here"},
	})
	assert.Equal(t, "Relevant documents:\n[1] atlas.pdf p.3: Paris is the capital.\n[2] No source here\n", out)
}

func TestRetrieverFunc(t *testing.T) {
	var r Retriever = RetrieverFunc(func(_ context.Context, q string, limit int) ([]Document, error) {
		return []Document{{Content: q}}, nil
	})
	docs, err := r.Retrieve(context.Background(), "hello", 1)
	require.NoError(t, err)
	assert.Equal(t, "hello", docs[0].Content)
}
