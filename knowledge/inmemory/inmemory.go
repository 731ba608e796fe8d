//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides a term-overlap knowledge.Retriever for
// development and tests.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"trpc.group/trpc-go/trpc-agent-flow/knowledge"
)

type entry struct {
	doc   knowledge.Document
	terms map[string]struct{}
}

// Retriever scores documents by the fraction of query terms they contain.
type Retriever struct {
	mu      sync.RWMutex
	entries []entry
}

// New creates an empty Retriever.
func New() *Retriever {
	return &Retriever{}
}

// Add indexes documents.
func (r *Retriever) Add(docs ...knowledge.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range docs {
		r.entries = append(r.entries, entry{doc: d, terms: termSet(d.Content)})
	}
}

// Retrieve implements knowledge.Retriever. Documents sharing no term with
// the query are not returned.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int) ([]knowledge.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := termSet(query)
	if len(q) == 0 || limit <= 0 {
		return nil, nil
	}
	r.mu.RLock()
	var out []knowledge.Document
	for _, e := range r.entries {
		hits := 0
		for t := range q {
			if _, ok := e.terms[t]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		d := e.doc
		d.Metadata.Score = float64(hits) / float64(len(q))
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Metadata.Score > out[j].Metadata.Score
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// termSet folds case after NFKC normalization, so "CAFÉ", "café" and a
// decomposed "cafe\u0301" share a term.
func termSet(text string) map[string]struct{} {
	folded := cases.Fold().String(norm.NFKC.String(text))
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) > 2 {
			set[f] = struct{}{}
		}
	}
	return set
}
