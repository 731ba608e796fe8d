//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Command flowserver serves workflow runs over HTTP and WebSocket.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	_ "github.com/mattn/go-sqlite3"
	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/engine"
	"trpc.group/trpc-go/trpc-agent-flow/humaninput"
	itelemetry "trpc.group/trpc-go/trpc-agent-flow/internal/telemetry"
	kinmemory "trpc.group/trpc-go/trpc-agent-flow/knowledge/inmemory"
	"trpc.group/trpc-go/trpc-agent-flow/knowledge/source"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/model/provider"
	"trpc.group/trpc-go/trpc-agent-flow/reflection"
	"trpc.group/trpc-go/trpc-agent-flow/run"
	"trpc.group/trpc-go/trpc-agent-flow/run/inmemory"
	"trpc.group/trpc-go/trpc-agent-flow/run/redis"
	"trpc.group/trpc-go/trpc-agent-flow/run/sqlite"
	"trpc.group/trpc-go/trpc-agent-flow/server"
	"trpc.group/trpc-go/trpc-agent-flow/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-flow/telemetry/trace"
	"trpc.group/trpc-go/trpc-agent-flow/tool/mcp"
)

var (
	configPath = flag.String("config", "", "path to the YAML configuration file")
	addr       = flag.String("addr", "", "listen address, overrides server.addr")
	logLevel   = flag.String("log-level", "", "log level, overrides log.level")
)

func main() {
	flag.Parse()
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	log.SetLevel(cfg.Log.Level)
	log.SetFormat(cfg.Log.Format)
	log.SetTraceEnabled(cfg.Log.Trace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, cfg); err != nil {
		log.Fatalf("flowserver: %v", err)
	}
}

func serve(ctx context.Context, cfg *Config) error {
	cleanup, err := setupTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer cleanup()

	store, closeStore, err := newStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	router := newRouter(cfg.Providers, cfg.ProviderHeaders)
	engineOpts, err := engineOptions(ctx, cfg)
	if err != nil {
		return err
	}
	hub := server.NewHub(cfg.Server.EventBuffer)
	keys := staticKeys(cfg.APIKeys)
	ctrl, err := engine.New(store, router, keys, append(engineOpts, engine.WithEventSink(hub))...)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	ctrl.StartTimeoutSweeper(ctx, cfg.HumanInput.SweepInterval)

	srv := server.New(ctrl,
		server.WithHub(hub),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		server.WithCatalog(provider.NewCatalog(router, provider.WithTTL(cfg.Server.CatalogTTL))),
		server.WithKeySource(keys),
		server.WithPingInterval(cfg.Server.PingInterval),
	)
	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("flowserver listening on %s (store=%s)", cfg.Server.Addr, cfg.Store.Type)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("flowserver shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("http shutdown: %v", err)
	}
	srv.Wait()
	return nil
}

func setupTelemetry(ctx context.Context, cfg TelemetryConfig) (func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	if cfg.Traces.Enabled {
		opts := []trace.Option{trace.WithProtocol(protocolOr(cfg.Traces.Protocol))}
		if cfg.Traces.Endpoint != "" {
			opts = append(opts, trace.WithEndpoint(cfg.Traces.Endpoint))
		}
		clean, err := trace.Start(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("start tracing: %w", err)
		}
		cleanups = append(cleanups, func() {
			if err := clean(); err != nil {
				log.Warnf("trace shutdown: %v", err)
			}
		})
	}
	if cfg.Metrics.Enabled {
		opts := []metric.Option{metric.WithProtocol(protocolOr(cfg.Metrics.Protocol))}
		if cfg.Metrics.Endpoint != "" {
			opts = append(opts, metric.WithEndpoint(cfg.Metrics.Endpoint))
		}
		mp, err := metric.NewMeterProvider(ctx, opts...)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("start metrics: %w", err)
		}
		if err := metric.InitMeterProvider(mp); err != nil {
			cleanup()
			return nil, fmt.Errorf("init meters: %w", err)
		}
		cleanups = append(cleanups, func() {
			if err := mp.Shutdown(context.Background()); err != nil {
				log.Warnf("metric shutdown: %v", err)
			}
		})
	}
	return cleanup, nil
}

func protocolOr(p string) string {
	if p == "" {
		return itelemetry.ProtocolGRPC
	}
	return p
}

func newStore(cfg StoreConfig) (run.Store, func(), error) {
	switch cfg.Type {
	case storeSQLite:
		db, err := sql.Open("sqlite3", cfg.SQLite.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite serializes writers; one connection also keeps :memory: usable.
		db.SetMaxOpenConns(1)
		s, err := sqlite.NewStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return s, func() { db.Close() }, nil
	case storeRedis:
		opts := []redis.Option{redis.WithRedisClientURL(cfg.Redis.URL)}
		if cfg.Redis.KeyPrefix != "" {
			opts = append(opts, redis.WithKeyPrefix(cfg.Redis.KeyPrefix))
		}
		if cfg.Redis.TTL > 0 {
			opts = append(opts, redis.WithTTL(cfg.Redis.TTL))
		}
		s, err := redis.NewStore(opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return inmemory.NewStore(), func() {}, nil
	}
}

func newRouter(providers map[string]ProviderConfig, headers map[string]string) *provider.Router {
	var opts []provider.Option
	if len(headers) > 0 {
		var httpOpts []model.HTTPClientOption
		for k, v := range headers {
			httpOpts = append(httpOpts, model.WithHTTPClientHeader(k, v))
		}
		opts = append(opts, provider.WithHTTPClientOptions(httpOpts...))
	}
	for name, p := range providers {
		if p.BaseURL != "" {
			opts = append(opts, provider.WithBaseURL(name, p.BaseURL))
		}
		if p.DefaultModel != "" {
			opts = append(opts, provider.WithDefaultModel(name, p.DefaultModel))
		}
	}
	return provider.NewRouter(opts...)
}

func staticKeys(cfg map[string]map[string]string) engine.StaticKeys {
	keys := make(engine.StaticKeys, len(cfg))
	for scope, byProvider := range cfg {
		set := make(provider.APIKeys, len(byProvider))
		for name, key := range byProvider {
			if key != "" {
				set[name] = key
			}
		}
		keys[scope] = set
	}
	return keys
}

func engineOptions(ctx context.Context, cfg *Config) ([]engine.Option, error) {
	policy, err := humaninput.ParseTimeoutPolicy(cfg.HumanInput.TimeoutPolicy)
	if err != nil {
		return nil, err
	}
	opts := []engine.Option{
		engine.WithMaxRetries(cfg.Engine.MaxRetries, cfg.Engine.RetryBackoff),
		engine.WithPoolSize(cfg.Engine.PoolSize),
		engine.WithHumanInputOptions(
			humaninput.WithDefaultTimeout(cfg.HumanInput.DefaultTimeout),
			humaninput.WithTimeoutPolicy(policy, cfg.HumanInput.DefaultInput),
		),
	}
	if cfg.Engine.ContextEntries > 0 {
		opts = append(opts, engine.WithReflectionOptions(reflection.WithContextEntries(cfg.Engine.ContextEntries)))
	}
	if cfg.Engine.MaxReflectionIterations > 0 {
		opts = append(opts, engine.WithReflectionOptions(reflection.WithMaxIterationsLimit(cfg.Engine.MaxReflectionIterations)))
	}
	if cfg.MCP.Enabled {
		opts = append(opts, engine.WithToolDirectory(newToolDirectory(cfg.MCP)))
	}
	var execOpts []agent.Option
	if cfg.Engine.CallTimeout > 0 {
		execOpts = append(execOpts, agent.WithCallTimeout(cfg.Engine.CallTimeout))
	}
	if cfg.Knowledge.Dir != "" {
		r, err := loadDocuments(ctx, cfg.Knowledge)
		if err != nil {
			return nil, err
		}
		execOpts = append(execOpts, agent.WithRetriever(r))
		if cfg.Knowledge.RelevanceThreshold > 0 {
			execOpts = append(execOpts, agent.WithRelevanceThreshold(cfg.Knowledge.RelevanceThreshold))
		}
		if cfg.Knowledge.Limit > 0 {
			execOpts = append(execOpts, agent.WithRetrievalLimit(cfg.Knowledge.Limit))
		}
	}
	if len(execOpts) > 0 {
		opts = append(opts, engine.WithExecutorOptions(execOpts...))
	}
	return opts, nil
}

// loadDocuments indexes the files under cfg.Dir selected by cfg.Patterns.
func loadDocuments(ctx context.Context, cfg KnowledgeConfig) (*kinmemory.Retriever, error) {
	opts := []source.Option{source.WithPatterns(cfg.Patterns...), source.WithSkipErrors(cfg.SkipErrors)}
	if cfg.HeadingLevel > 0 {
		opts = append(opts, source.WithHeadingLevel(cfg.HeadingLevel))
	}
	docs, err := source.Load(ctx, cfg.Dir, opts...)
	if err != nil {
		return nil, fmt.Errorf("load knowledge from %s: %w", cfg.Dir, err)
	}
	r := kinmemory.New()
	r.Add(docs...)
	log.Infof("knowledge: indexed %d document(s) from %s", len(docs), cfg.Dir)
	return r, nil
}

func newToolDirectory(cfg MCPConfig) *mcp.Directory {
	opts := []mcp.Option{mcp.WithTimeout(cfg.Timeout), mcp.WithTTL(cfg.TTL)}
	for k, v := range cfg.Headers {
		opts = append(opts, mcp.WithHeader(k, v))
	}
	return mcp.New(opts...)
}
