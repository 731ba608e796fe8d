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
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"trpc.group/trpc-go/trpc-agent-flow/knowledge"
)

var markdown = goldmark.New()

// readMarkdown splits a markdown file before every heading at or above the
// configured level. Text before the first heading is its own section. The
// heading line stays at the top of its section.
func readMarkdown(name string, data []byte, o options) ([]knowledge.Document, error) {
	starts := headingStarts(data, o.headingLevel)
	bounds := append([]int{0}, starts...)
	bounds = append(bounds, len(data))

	var docs []knowledge.Document
	for i := 0; i+1 < len(bounds); i++ {
		section := strings.TrimSpace(string(data[bounds[i]:bounds[i+1]]))
		if section == "" {
			continue
		}
		docs = append(docs, newDocument(name, len(docs)+1, section, 0))
	}
	if len(docs) == 1 {
		docs[0].Metadata.DocumentID = name
	}
	return docs, nil
}

// headingStarts returns the byte offsets of the lines holding ATX or
// setext headings of level <= maxLevel, in document order.
func headingStarts(source []byte, maxLevel int) []int {
	doc := markdown.Parser().Parse(text.NewReader(source))
	var starts []int
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if h.Level <= maxLevel && h.Lines().Len() > 0 {
			pos := h.Lines().At(0).Start
			for pos > 0 && source[pos-1] != '\n' {
				pos--
			}
			if pos > 0 && (len(starts) == 0 || pos > starts[len(starts)-1]) {
				starts = append(starts, pos)
			}
		}
		return ast.WalkSkipChildren, nil
	})
	return starts
}
