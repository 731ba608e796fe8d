//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package workflow defines the agent workflow graph, its JSON parser and the
// scheduling helpers (execution sequence and parallel groups) used by the
// run controller.
package workflow

import (
	"encoding/json"
	"strings"
)

// NodeType is the closed set of node kinds the engine knows how to execute.
type NodeType string

const (
	// NodeTypeStart marks the entry of a workflow.
	NodeTypeStart NodeType = "Start"
	// NodeTypeEnd marks the exit of a workflow.
	NodeTypeEnd NodeType = "End"
	// NodeTypeUserProxy is an agent standing in for a human.
	NodeTypeUserProxy NodeType = "UserProxyAgent"
	// NodeTypeAssistant is an LLM-backed assistant agent.
	NodeTypeAssistant NodeType = "AssistantAgent"
	// NodeTypeGroupChatManager coordinates the agents that spoke before it.
	NodeTypeGroupChatManager NodeType = "GroupChatManager"
	// NodeTypeMCPServer attaches an MCP tool server to the workflow.
	NodeTypeMCPServer NodeType = "MCPServer"
)

// nodeTypeAliases maps accepted spellings (lower-cased) to canonical types.
var nodeTypeAliases = map[string]NodeType{
	"start":            NodeTypeStart,
	"startnode":        NodeTypeStart,
	"end":              NodeTypeEnd,
	"endnode":          NodeTypeEnd,
	"userproxyagent":   NodeTypeUserProxy,
	"userproxy":        NodeTypeUserProxy,
	"user_proxy":       NodeTypeUserProxy,
	"assistantagent":   NodeTypeAssistant,
	"assistant":        NodeTypeAssistant,
	"groupchatmanager": NodeTypeGroupChatManager,
	"group_chat":       NodeTypeGroupChatManager,
	"mcpserver":        NodeTypeMCPServer,
	"mcp_server":       NodeTypeMCPServer,
}

// ParseNodeType resolves a raw type string. Template-specific agent variants
// (any type ending in "Agent") resolve to NodeTypeAssistant and return the
// raw string as variant. ok is false for anything else.
func ParseNodeType(raw string) (t NodeType, variant string, ok bool) {
	trimmed := strings.TrimSpace(raw)
	if t, found := nodeTypeAliases[strings.ToLower(trimmed)]; found {
		return t, "", true
	}
	if len(trimmed) > len("Agent") && strings.HasSuffix(trimmed, "Agent") {
		return NodeTypeAssistant, trimmed, true
	}
	return "", "", false
}

// NodeKind is the tag of the node sum type; controller switches over it
// are exhaustive.
type NodeKind int

const (
	// KindUnknown is never produced by the parser.
	KindUnknown NodeKind = iota
	KindStart
	KindEnd
	KindUserProxy
	KindAssistant
	KindGroupChatManager
	KindMCPServer
)

// Kind returns the tag for t.
func (t NodeType) Kind() NodeKind {
	switch t {
	case NodeTypeStart:
		return KindStart
	case NodeTypeEnd:
		return KindEnd
	case NodeTypeUserProxy:
		return KindUserProxy
	case NodeTypeAssistant:
		return KindAssistant
	case NodeTypeGroupChatManager:
		return KindGroupChatManager
	case NodeTypeMCPServer:
		return KindMCPServer
	default:
		return KindUnknown
	}
}

// IsAgent reports whether nodes of this type produce a turn through an LLM.
func (t NodeType) IsAgent() bool {
	switch t.Kind() {
	case KindAssistant, KindUserProxy, KindGroupChatManager:
		return true
	default:
		return false
	}
}

// EdgeType is the relationship an edge expresses.
type EdgeType string

const (
	// EdgeTypeSequential orders target after source.
	EdgeTypeSequential EdgeType = "sequential"
	// EdgeTypeParallel marks a fan-out that may run concurrently.
	EdgeTypeParallel EdgeType = "parallel"
	// EdgeTypeReflection asks target to review source's output.
	EdgeTypeReflection EdgeType = "reflection"
	// EdgeTypeSelfReflection asks a node to revise its own output.
	EdgeTypeSelfReflection EdgeType = "self_reflection"
	// EdgeTypeConditional is kept for ordering; its condition is not evaluated.
	EdgeTypeConditional EdgeType = "conditional"
)

// IsReflection reports whether the edge drives a reflection loop.
func (t EdgeType) IsReflection() bool {
	return t == EdgeTypeReflection || t == EdgeTypeSelfReflection
}

// NodeData is the agent configuration carried by a node.
type NodeData struct {
	Name              string   `json:"name,omitempty"`
	Label             string   `json:"label,omitempty"`
	Provider          string   `json:"llm_provider,omitempty"`
	Model             string   `json:"model,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxTokens         int      `json:"max_tokens,omitempty"`
	SystemMessage     string   `json:"system_message,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
	Prompt            string   `json:"prompt,omitempty"`
	DocAware          bool     `json:"doc_aware,omitempty"`
	RequireHumanInput bool     `json:"require_human_input,omitempty"`
	// HumanInputTimeout is in seconds; zero uses the gateway default.
	HumanInputTimeout int `json:"human_input_timeout,omitempty"`
	// ServerURL is the streamable HTTP endpoint of an MCPServer node.
	ServerURL string `json:"server_url,omitempty"`
}

// UnmarshalJSON accepts the camelCase and short spellings emitted by
// graph editors in addition to the canonical snake_case fields.
func (d *NodeData) UnmarshalJSON(b []byte) error {
	type plain NodeData
	aux := struct {
		*plain
		ProviderAlias      string `json:"provider,omitempty"`
		SystemMessageAlias string `json:"systemMessage,omitempty"`
		MaxTokensAlias     int    `json:"maxTokens,omitempty"`
		DocAwareAlias      bool   `json:"docAware,omitempty"`
		HumanInputAlias    bool   `json:"requireHumanInput,omitempty"`
		ServerURLAlias     string `json:"serverUrl,omitempty"`
	}{plain: (*plain)(d)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if d.Provider == "" {
		d.Provider = aux.ProviderAlias
	}
	if d.SystemMessage == "" {
		d.SystemMessage = aux.SystemMessageAlias
	}
	if d.MaxTokens == 0 {
		d.MaxTokens = aux.MaxTokensAlias
	}
	if d.ServerURL == "" {
		d.ServerURL = aux.ServerURLAlias
	}
	d.DocAware = d.DocAware || aux.DocAwareAlias
	d.RequireHumanInput = d.RequireHumanInput || aux.HumanInputAlias
	return nil
}

// Position is editor layout information; the engine ignores it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one agent, or a Start/End marker, of a workflow graph.
type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	// Variant keeps the original type string of template-specific agents.
	Variant  string    `json:"variant,omitempty"`
	Data     NodeData  `json:"data"`
	Position *Position `json:"position,omitempty"`
}

// Name returns the display name used in transcripts and messages.
func (n *Node) Name() string {
	if n.Data.Name != "" {
		return n.Data.Name
	}
	if n.Data.Label != "" {
		return n.Data.Label
	}
	return n.ID
}

// DefaultTemperature is used when a node does not configure one.
const DefaultTemperature = 0.7

// Temperature returns the configured sampling temperature.
func (n *Node) Temperature() float64 {
	if n.Data.Temperature == nil {
		return DefaultTemperature
	}
	return *n.Data.Temperature
}

// RequiresHumanInput reports whether the node suspends the run for a human.
func (n *Node) RequiresHumanInput() bool {
	return n.Type == NodeTypeUserProxy && n.Data.RequireHumanInput
}

// EdgeData holds optional edge parameters.
type EdgeData struct {
	MaxIterations    int    `json:"max_iterations,omitempty"`
	ReflectionPrompt string `json:"reflection_prompt,omitempty"`
	Condition        string `json:"condition,omitempty"`
}

// Edge is a directed relationship between two nodes.
type Edge struct {
	ID     string    `json:"id"`
	Source string    `json:"source"`
	Target string    `json:"target"`
	Type   EdgeType  `json:"type"`
	Data   *EdgeData `json:"data,omitempty"`
}

// MaxIterations returns the configured iteration bound, or def when unset.
func (e *Edge) MaxIterations(def int) int {
	if e.Data == nil || e.Data.MaxIterations <= 0 {
		return def
	}
	return e.Data.MaxIterations
}

// ReflectionPrompt returns the configured prompt, or def when unset.
func (e *Edge) ReflectionPrompt(def string) string {
	if e.Data == nil || strings.TrimSpace(e.Data.ReflectionPrompt) == "" {
		return def
	}
	return e.Data.ReflectionPrompt
}

// Graph is a workflow definition: nodes plus the edges between them.
type Graph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	for _, n := range g.Nodes {
		if n != nil && n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// NodeByName returns the first node whose display name matches name.
func (g *Graph) NodeByName(name string) (*Node, bool) {
	for _, n := range g.Nodes {
		if n != nil && n.Name() == name {
			return n, true
		}
	}
	return nil, false
}

// OutEdges returns the edges leaving id in declaration order.
func (g *Graph) OutEdges(id string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e != nil && e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// ReflectionEdges returns the reflection edges leaving id.
func (g *Graph) ReflectionEdges(id string) []*Edge {
	var out []*Edge
	for _, e := range g.OutEdges(id) {
		if e.Type.IsReflection() {
			out = append(out, e)
		}
	}
	return out
}

// StartNode returns the Start node. When none is typed Start it falls back
// to the first node and reports fallback=true.
func (g *Graph) StartNode() (start *Node, fallback bool) {
	for _, n := range g.Nodes {
		if n != nil && n.Type == NodeTypeStart {
			return n, false
		}
	}
	if len(g.Nodes) == 0 {
		return nil, false
	}
	return g.Nodes[0], true
}

// Clone returns a deep copy; runs keep it as their immutable snapshot. Nil
// entries are kept so validation still sees them.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	out := &Graph{
		Nodes: make([]*Node, 0, len(g.Nodes)),
		Edges: make([]*Edge, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		if n == nil {
			out.Nodes = append(out.Nodes, nil)
			continue
		}
		cp := *n
		if n.Data.Temperature != nil {
			t := *n.Data.Temperature
			cp.Data.Temperature = &t
		}
		if n.Position != nil {
			p := *n.Position
			cp.Position = &p
		}
		out.Nodes = append(out.Nodes, &cp)
	}
	for _, e := range g.Edges {
		if e == nil {
			out.Edges = append(out.Edges, nil)
			continue
		}
		cp := *e
		if e.Data != nil {
			d := *e.Data
			cp.Data = &d
		}
		out.Edges = append(out.Edges, &cp)
	}
	return out
}
