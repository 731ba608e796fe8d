//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package source

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/trpc-agent-flow/knowledge"
)

const guide = `Intro line before any heading.

# Reflection

Agents revise their drafts.

## Self reflection

The same agent critiques itself.

### Details

Iterations stop on the first error.

Human input
-----------

Runs suspend until an operator answers.
`

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o600))
}

// newTestPDF generates a two page PDF so the fixture is always parseable.
func newTestPDF(t *testing.T, pages ...string) []byte {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	for _, p := range pages {
		doc.AddPage()
		doc.Cell(40, 10, p)
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func contents(docs []knowledge.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Content
	}
	return out
}

func TestLoadMarkdownSections(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "guide.md", []byte(guide))

	docs, err := Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 4)
	assert.Equal(t, "Intro line before any heading.", docs[0].Content)
	assert.Contains(t, docs[1].Content, "# Reflection")
	assert.Contains(t, docs[2].Content, "## Self reflection")
	assert.Contains(t, docs[2].Content, "### Details")
	assert.Contains(t, docs[3].Content, "Runs suspend")
	for i, d := range docs {
		assert.Equal(t, "guide.md", d.Metadata.Source)
		assert.Equal(t, "guide.md#"+string(rune('1'+i)), d.Metadata.DocumentID)
	}

	docs, err = Load(context.Background(), dir, WithHeadingLevel(1))
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = Load(context.Background(), dir, WithHeadingLevel(3))
	require.NoError(t, err)
	assert.Len(t, docs, 5)
}

func TestLoadSingleSectionKeepsPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes/plain.md", []byte("no headings here"))
	writeFile(t, dir, "notes/todo.txt", []byte("  call the vendor \n"))
	writeFile(t, dir, "notes/empty.txt", []byte("   "))

	docs, err := Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "notes/plain.md", docs[0].Metadata.DocumentID)
	assert.Equal(t, "notes/todo.txt", docs[1].Metadata.DocumentID)
	assert.Equal(t, "call the vendor", docs[1].Content)
}

func TestLoadPDFPages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "manual.pdf", newTestPDF(t, "Hello World", "Second page"))

	docs, err := Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Contains(t, docs[0].Content, "Hello World")
	assert.Equal(t, 1, docs[0].Metadata.Page)
	assert.Equal(t, "manual.pdf#1", docs[0].Metadata.DocumentID)
	assert.Contains(t, docs[1].Content, "Second")
	assert.Equal(t, 2, docs[1].Metadata.Page)
}

func TestLoadPatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", []byte("alpha"))
	writeFile(t, dir, "sub/b.txt", []byte("beta"))
	writeFile(t, dir, "sub/c.md", []byte("gamma"))
	writeFile(t, dir, "logo.png", []byte("png"))

	docs, err := Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, contents(docs))

	docs, err = Load(context.Background(), dir, WithPatterns("sub/*.txt", "**/b.txt"))
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, contents(docs))

	_, err = Load(context.Background(), dir, WithPatterns("[a-"))
	assert.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ok.txt", []byte("fine"))
	writeFile(t, dir, "logo.png", []byte("png"))
	writeFile(t, dir, "broken.pdf", []byte("not a pdf"))

	_, err := Load(context.Background(), dir, WithPatterns("*.png"))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Load(context.Background(), dir)
	assert.Error(t, err)

	docs, err := Load(context.Background(), dir, WithPatterns("*"), WithSkipErrors(true))
	require.NoError(t, err)
	assert.Equal(t, []string{"fine"}, contents(docs))

	_, err = Load(context.Background(), filepath.Join(dir, "missing"))
	assert.Error(t, err)
	_, err = Load(context.Background(), filepath.Join(dir, "ok.txt"))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Load(ctx, dir, WithPatterns("*.txt"))
	assert.ErrorIs(t, err, context.Canceled)
}
