//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Parser parses workflow graph JSON.
type Parser struct {
	// Strict rejects unknown JSON fields.
	Strict bool
}

// NewParser creates a lenient parser.
func NewParser() *Parser {
	return &Parser{}
}

// NewStrictParser creates a parser that rejects unknown fields.
func NewStrictParser() *Parser {
	return &Parser{Strict: true}
}

// Parse decodes data into a Graph and normalizes it:
// node types resolve to their canonical form, missing edge ids and types
// are filled in and reflection self-loops become self_reflection edges.
// Parse does not validate; call Validate for that.
func (p *Parser) Parse(data []byte) (*Graph, error) {
	var g Graph
	decoder := json.NewDecoder(bytes.NewReader(data))
	if p.Strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(&g); err != nil {
		return nil, fmt.Errorf("failed to parse workflow graph: %w", err)
	}
	Normalize(&g)
	return &g, nil
}

// ParseFile parses a JSON file into a Graph.
func (p *Parser) ParseFile(filename string) (*Graph, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return p.Parse(data)
}

// ParseString parses a JSON string into a Graph.
func (p *Parser) ParseString(jsonStr string) (*Graph, error) {
	return p.Parse([]byte(jsonStr))
}

// Normalize applies the parser normalizations to a graph built in code.
// Unknown node types and nil entries are left untouched so Validate can
// report them.
func Normalize(g *Graph) {
	for _, n := range g.Nodes {
		if n == nil {
			continue
		}
		if t, variant, ok := ParseNodeType(string(n.Type)); ok {
			n.Type = t
			if variant != "" {
				n.Variant = variant
			}
		}
	}
	for i, e := range g.Edges {
		if e == nil {
			continue
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("edge_%d", i)
		}
		if e.Type == "" {
			e.Type = EdgeTypeSequential
		}
		if e.Type == EdgeTypeReflection && e.Source == e.Target {
			e.Type = EdgeTypeSelfReflection
		}
	}
}

// ToJSON serializes a Graph to indented JSON.
func ToJSON(g *Graph) ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}
