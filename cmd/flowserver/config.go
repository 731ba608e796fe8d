//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"trpc.group/trpc-go/trpc-agent-flow/humaninput"
	itelemetry "trpc.group/trpc-go/trpc-agent-flow/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-flow/log"
)

// Store backends.
const (
	storeMemory = "memory"
	storeSQLite = "sqlite"
	storeRedis  = "redis"
)

// Config is the flowserver configuration file.
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Log        LogConfig                 `yaml:"log"`
	Telemetry  TelemetryConfig           `yaml:"telemetry"`
	Store      StoreConfig               `yaml:"store"`
	Engine     EngineConfig              `yaml:"engine"`
	HumanInput HumanInputConfig          `yaml:"human_input"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	// ProviderHeaders are sent with every provider request.
	ProviderHeaders map[string]string            `yaml:"provider_headers"`
	APIKeys         map[string]map[string]string `yaml:"api_keys"`
	Knowledge       KnowledgeConfig              `yaml:"knowledge"`
	MCP             MCPConfig                    `yaml:"mcp"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	EventBuffer     int           `yaml:"event_buffer"`
	CatalogTTL      time.Duration `yaml:"catalog_ttl"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
	Trace  bool   `yaml:"trace"`
}

// TelemetryConfig configures OTLP export. Both exporters are off by default.
type TelemetryConfig struct {
	Traces  ExporterConfig `yaml:"traces"`
	Metrics ExporterConfig `yaml:"metrics"`
}

// ExporterConfig is one OTLP exporter.
type ExporterConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	// Protocol is "grpc" or "http".
	Protocol string `yaml:"protocol"`
}

// StoreConfig selects the run store.
type StoreConfig struct {
	Type   string      `yaml:"type"`
	SQLite SQLiteStore `yaml:"sqlite"`
	Redis  RedisStore  `yaml:"redis"`
}

// SQLiteStore configures the SQLite run store.
type SQLiteStore struct {
	DSN string `yaml:"dsn"`
}

// RedisStore configures the Redis run store.
type RedisStore struct {
	URL       string        `yaml:"url"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// EngineConfig tunes the run controller.
type EngineConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	PoolSize     int           `yaml:"pool_size"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
	// ContextEntries bounds the transcript entries a reviewer sees.
	ContextEntries int `yaml:"context_entries"`
	// MaxReflectionIterations caps max_iterations of reflection edges; 0
	// leaves them as configured.
	MaxReflectionIterations int `yaml:"max_reflection_iterations"`
}

// HumanInputConfig configures suspension timeouts.
type HumanInputConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	// TimeoutPolicy is "fail" or "resume_with_default".
	TimeoutPolicy string        `yaml:"timeout_policy"`
	DefaultInput  string        `yaml:"default_input"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ProviderConfig overrides a provider's endpoint or default model.
type ProviderConfig struct {
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// KnowledgeConfig loads documents for document-aware agents.
type KnowledgeConfig struct {
	// Dir holds markdown, text and PDF files; empty disables retrieval.
	Dir string `yaml:"dir"`
	// Patterns are doublestar globs relative to Dir.
	Patterns           []string `yaml:"patterns"`
	HeadingLevel       int      `yaml:"heading_level"`
	SkipErrors         bool     `yaml:"skip_errors"`
	RelevanceThreshold float64  `yaml:"relevance_threshold"`
	Limit              int      `yaml:"limit"`
}

// MCPConfig lets MCPServer nodes list their tools into the transcript.
type MCPConfig struct {
	Enabled bool              `yaml:"enabled"`
	Timeout time.Duration     `yaml:"timeout"`
	TTL     time.Duration     `yaml:"ttl"`
	Headers map[string]string `yaml:"headers"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			PingInterval:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			EventBuffer:     64,
			CatalogTTL:      10 * time.Minute,
		},
		Log:   LogConfig{Level: log.LevelInfo, Format: log.FormatConsole},
		Store: StoreConfig{Type: storeMemory},
		Engine: EngineConfig{
			RetryBackoff: time.Second,
			PoolSize:     16,
		},
		HumanInput: HumanInputConfig{
			DefaultTimeout: time.Hour,
			TimeoutPolicy:  "fail",
			SweepInterval:  time.Minute,
		},
		MCP: MCPConfig{
			Timeout: 30 * time.Second,
			TTL:     5 * time.Minute,
		},
	}
}

// loadConfig reads path over the defaults. ${VAR} and ${VAR:-default} are
// expanded from the environment before parsing. An empty path returns the
// defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, cfg.validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := parseConfig(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func parseConfig(data []byte, cfg *Config) error {
	expanded := os.Expand(string(data), expandVar)
	dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return cfg.validate()
}

func expandVar(name string) string {
	if key, def, ok := strings.Cut(name, ":-"); ok {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}
	return os.Getenv(name)
}

func (c *Config) validate() error {
	switch c.Store.Type {
	case storeMemory:
	case storeSQLite:
		if c.Store.SQLite.DSN == "" {
			return fmt.Errorf("store.sqlite.dsn is required")
		}
	case storeRedis:
		if c.Store.Redis.URL == "" {
			return fmt.Errorf("store.redis.url is required")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	switch c.Log.Format {
	case "", log.FormatConsole, log.FormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if _, err := humaninput.ParseTimeoutPolicy(c.HumanInput.TimeoutPolicy); err != nil {
		return err
	}
	for _, e := range []ExporterConfig{c.Telemetry.Traces, c.Telemetry.Metrics} {
		switch e.Protocol {
		case "", itelemetry.ProtocolGRPC, itelemetry.ProtocolHTTP:
		default:
			return fmt.Errorf("unknown telemetry protocol %q", e.Protocol)
		}
	}
	if c.HumanInput.SweepInterval <= 0 {
		return fmt.Errorf("human_input.sweep_interval must be positive")
	}
	return nil
}
