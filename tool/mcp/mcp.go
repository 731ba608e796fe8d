//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package mcp lists the tools of the MCP servers attached to a workflow by
// MCPServer nodes. Listings are cached per server URL.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/workflow"
	mcp "trpc.group/trpc-go/trpc-mcp-go"
)

const (
	defaultTimeout = 30 * time.Second
	defaultTTL     = 5 * time.Minute
)

var defaultClientInfo = mcp.Implementation{
	Name:    "trpc-agent-flow",
	Version: "1.0.0",
}

// ErrNoServerURL is returned for MCPServer nodes without a server_url.
var ErrNoServerURL = errors.New("mcp: node has no server_url")

// ToolInfo describes one tool offered by a server.
type ToolInfo struct {
	Name        string
	Description string
}

type listing struct {
	tools   []ToolInfo
	fetched time.Time
}

// Directory connects to MCP servers over streamable HTTP and lists their
// tools. It is safe for concurrent use; concurrent listings of the same
// server share one connection.
type Directory struct {
	clientInfo mcp.Implementation
	headers    http.Header
	timeout    time.Duration
	ttl        time.Duration
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]listing
	group   singleflight.Group
}

// Option configures a Directory.
type Option func(*Directory)

// WithClientInfo sets the implementation reported during initialization.
func WithClientInfo(name, version string) Option {
	return func(d *Directory) {
		d.clientInfo = mcp.Implementation{Name: name, Version: version}
	}
}

// WithHeader adds an HTTP header to every server request.
func WithHeader(key, value string) Option {
	return func(d *Directory) {
		d.headers.Set(key, value)
	}
}

// WithTimeout bounds one connect-and-list round trip.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Directory) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithTTL sets how long a listing is reused. A negative ttl disables
// caching.
func WithTTL(ttl time.Duration) Option {
	return func(d *Directory) {
		if ttl != 0 {
			d.ttl = ttl
		}
	}
}

// New creates a Directory.
func New(opts ...Option) *Directory {
	d := &Directory{
		clientInfo: defaultClientInfo,
		headers:    http.Header{},
		timeout:    defaultTimeout,
		ttl:        defaultTTL,
		now:        time.Now,
		entries:    make(map[string]listing),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Describe renders the tools of the server of an MCPServer node as a
// transcript entry for the agents that follow it.
func (d *Directory) Describe(ctx context.Context, n *workflow.Node) (string, error) {
	url := strings.TrimSpace(n.Data.ServerURL)
	if url == "" {
		return "", fmt.Errorf("%w: %s", ErrNoServerURL, n.ID)
	}
	tools, err := d.ListTools(ctx, url)
	if err != nil {
		return "", err
	}
	return FormatTools(n.Name(), tools), nil
}

// FormatTools renders tools as a bulleted list headed by the server name.
func FormatTools(server string, tools []ToolInfo) string {
	if len(tools) == 0 {
		return fmt.Sprintf("MCP server %s offers no tools.", server)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "MCP server %s offers %d tool(s):", server, len(tools))
	for _, t := range tools {
		sb.WriteString("\n- ")
		sb.WriteString(t.Name)
		if t.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(t.Description)
		}
	}
	return sb.String()
}

// ListTools returns the tools of the server at url sorted by name.
func (d *Directory) ListTools(ctx context.Context, url string) ([]ToolInfo, error) {
	if tools, ok := d.fresh(url); ok {
		return tools, nil
	}
	v, err, _ := d.group.Do(url, func() (any, error) {
		if tools, ok := d.fresh(url); ok {
			return tools, nil
		}
		tools, err := d.fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		if d.ttl > 0 {
			d.mu.Lock()
			d.entries[url] = listing{tools: tools, fetched: d.now()}
			d.mu.Unlock()
		}
		return tools, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]ToolInfo(nil), v.([]ToolInfo)...), nil
}

func (d *Directory) fresh(url string) ([]ToolInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[url]
	if !ok || d.now().Sub(e.fetched) > d.ttl {
		return nil, false
	}
	return append([]ToolInfo(nil), e.tools...), true
}

func (d *Directory) fetch(ctx context.Context, url string) ([]ToolInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var opts []mcp.ClientOption
	if len(d.headers) > 0 {
		opts = append(opts, mcp.WithHTTPHeaders(d.headers.Clone()))
	}
	client, err := mcp.NewClient(url, d.clientInfo, opts...)
	if err != nil {
		return nil, fmt.Errorf("mcp: create client for %s: %w", url, err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Debugf("mcp: close %s: %v", url, err)
		}
	}()

	initResp, err := client.Initialize(ctx, &mcp.InitializeRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp: initialize %s: %w", url, err)
	}
	log.Debugf("mcp: connected to %s %s at %s", initResp.ServerInfo.Name, initResp.ServerInfo.Version, url)

	resp, err := client.ListTools(ctx, &mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp: list tools of %s: %w", url, err)
	}
	tools := make([]ToolInfo, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		tools = append(tools, ToolInfo{Name: t.Name, Description: t.Description})
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools, nil
}

// Invalidate drops the cached listing of url.
func (d *Directory) Invalidate(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, url)
}
