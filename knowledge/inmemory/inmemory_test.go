//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/trpc-agent-flow/knowledge"
)

func TestRetrieve(t *testing.T) {
	r := New()
	r.Add(
		knowledge.Document{Content: "Kyoto temples and gardens", Metadata: knowledge.Metadata{DocumentID: "kyoto"}},
		knowledge.Document{Content: "Tokyo food markets and temples", Metadata: knowledge.Metadata{DocumentID: "tokyo"}},
		knowledge.Document{Content: "Oslo fjords", Metadata: knowledge.Metadata{DocumentID: "oslo"}},
	)

	docs, err := r.Retrieve(context.Background(), "temples gardens", 5)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "kyoto", docs[0].Metadata.DocumentID)
	assert.InDelta(t, 1.0, docs[0].Metadata.Score, 1e-9)
	assert.Equal(t, "tokyo", docs[1].Metadata.DocumentID)
	assert.InDelta(t, 0.5, docs[1].Metadata.Score, 1e-9)

	docs, err = r.Retrieve(context.Background(), "temples", 1)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	docs, err = r.Retrieve(context.Background(), "", 3)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRetrieveFoldsUnicode(t *testing.T) {
	r := New()
	r.Add(knowledge.Document{Content: "Café menus in Lyon", Metadata: knowledge.Metadata{DocumentID: "lyon"}})

	for _, q := range []string{"CAFÉ", "cafe\u0301", "ＬＹＯＮ"} {
		docs, err := r.Retrieve(context.Background(), q, 1)
		require.NoError(t, err)
		require.Len(t, docs, 1, q)
		assert.Equal(t, "lyon", docs[0].Metadata.DocumentID)
	}
}

func TestRetrieveCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Retrieve(ctx, "anything", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
