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
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"trpc.group/trpc-go/trpc-agent-flow/knowledge"
)

// readPDF returns one document per page with extractable text. Pages are
// numbered from 1 in Metadata.Page.
func readPDF(name string, data []byte, _ options) ([]knowledge.Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	var docs []knowledge.Document
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if content = strings.TrimSpace(content); content == "" {
			continue
		}
		docs = append(docs, newDocument(name, i, content, i))
	}
	return docs, nil
}
