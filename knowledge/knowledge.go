//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package knowledge defines the document retrieval capability used by
// document-aware agents.
package knowledge

import (
	"context"
	"fmt"
	"strings"
)

// Metadata describes where a retrieved chunk comes from.
type Metadata struct {
	Source     string  `json:"source,omitempty"`
	Page       int     `json:"page,omitempty"`
	Score      float64 `json:"score"`
	DocumentID string  `json:"document_id,omitempty"`
}

// Document is a retrieved chunk of text.
type Document struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Retriever returns the documents most relevant to query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]Document, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, query string, limit int) ([]Document, error)

// Retrieve implements Retriever.
func (f RetrieverFunc) Retrieve(ctx context.Context, query string, limit int) ([]Document, error) {
	return f(ctx, query, limit)
}

// FilterByScore keeps the documents whose score is at least threshold.
func FilterByScore(docs []Document, threshold float64) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if d.Metadata.Score >= threshold {
			out = append(out, d)
		}
	}
	return out
}

// FormatContext renders documents as a numbered reference block for a
// system prompt. It returns "" for no documents.
func FormatContext(docs []Document) string {
	if len(docs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Relevant documents:\n")
	for i, d := range docs {
		fmt.Fprintf(&sb, "[%d] ", i+1)
		if d.Metadata.Source != "" {
			sb.WriteString(d.Metadata.Source)
			if d.Metadata.Page > 0 {
				fmt.Fprintf(&sb, " p.%d", d.Metadata.Page)
			}
			sb.WriteString(": ")
		}
		sb.WriteString(strings.TrimSpace(d.Content))
		sb.WriteString("\n")
	}
	return sb.String()
}
