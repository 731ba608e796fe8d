//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package source loads knowledge documents from a directory tree. Markdown
// files are split at headings, PDF files into pages, and plain text files
// are kept whole.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"trpc.group/trpc-go/trpc-agent-flow/knowledge"
	"trpc.group/trpc-go/trpc-agent-flow/log"
)

// DefaultPatterns select every supported file below the root.
var DefaultPatterns = []string{"**/*.{md,markdown,txt,pdf}"}

// ErrUnsupported is returned for files without a reader.
var ErrUnsupported = errors.New("source: unsupported file type")

// readFunc turns one file into documents. name is the slash separated path
// relative to the root.
type readFunc func(name string, data []byte, o options) ([]knowledge.Document, error)

var readers = map[string]readFunc{
	".md":       readMarkdown,
	".markdown": readMarkdown,
	".txt":      readText,
	".pdf":      readPDF,
}

type options struct {
	patterns     []string
	headingLevel int
	skipErrors   bool
}

// Option configures Load.
type Option func(*options)

// WithPatterns replaces DefaultPatterns. Patterns use doublestar syntax and
// are matched against slash separated paths relative to the root.
func WithPatterns(patterns ...string) Option {
	return func(o *options) {
		if len(patterns) > 0 {
			o.patterns = patterns
		}
	}
}

// WithHeadingLevel sets the deepest markdown heading that starts a new
// section. The default is 2.
func WithHeadingLevel(level int) Option {
	return func(o *options) {
		if level >= 1 && level <= 6 {
			o.headingLevel = level
		}
	}
}

// WithSkipErrors logs unreadable files instead of failing the load.
func WithSkipErrors(skip bool) Option {
	return func(o *options) {
		o.skipErrors = skip
	}
}

// Load reads every file under root matched by the patterns. Documents are
// returned in path order; DocumentID is the relative path, suffixed with
// "#<n>" for the n-th section or page of a split file.
func Load(ctx context.Context, root string, opts ...Option) ([]knowledge.Document, error) {
	o := options{patterns: DefaultPatterns, headingLevel: 2}
	for _, opt := range opts {
		opt(&o)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source: %s is not a directory", root)
	}
	fsys := os.DirFS(root)
	names, err := match(fsys, o.patterns)
	if err != nil {
		return nil, err
	}

	var docs []knowledge.Document
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		got, err := readFile(fsys, name, o)
		if err != nil {
			if o.skipErrors {
				log.Warnf("knowledge source: skip %s: %v", name, err)
				continue
			}
			return nil, err
		}
		docs = append(docs, got...)
	}
	return docs, nil
}

func match(fsys fs.FS, patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var names []string
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("source: invalid pattern %q", p)
		}
		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("source: glob %q: %w", p, err)
		}
		for _, m := range matches {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				names = append(names, m)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

func readFile(fsys fs.FS, name string, o options) ([]knowledge.Document, error) {
	ext := strings.ToLower(path.Ext(name))
	read, ok := readers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", name, err)
	}
	docs, err := read(name, data, o)
	if err != nil {
		return nil, fmt.Errorf("source: %s: %w", name, err)
	}
	return docs, nil
}

func readText(name string, data []byte, _ options) ([]knowledge.Document, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}
	return []knowledge.Document{newDocument(name, 0, text, 0)}, nil
}

func newDocument(name string, part int, content string, page int) knowledge.Document {
	id := name
	if part > 0 {
		id = fmt.Sprintf("%s#%d", name, part)
	}
	return knowledge.Document{
		Content:  content,
		Metadata: knowledge.Metadata{Source: name, DocumentID: id, Page: page},
	}
}
