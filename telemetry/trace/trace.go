//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package trace installs an OpenTelemetry tracer provider exporting spans of
// workflow runs over OTLP.
package trace

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	itelemetry "trpc.group/trpc-go/trpc-agent-flow/internal/telemetry"
)

// Tracer returns the tracer used by the engine.
func Tracer() trace.Tracer {
	return itelemetry.Tracer
}

// Start installs a tracer provider and returns a cleanup function that
// flushes and shuts it down.
func Start(ctx context.Context, opts ...Option) (clean func() error, err error) {
	o := &options{
		serviceName:      itelemetry.ServiceName,
		serviceVersion:   itelemetry.ServiceVersion,
		serviceNamespace: itelemetry.ServiceNamespace,
		protocol:         itelemetry.ProtocolGRPC,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracesEndpoint == "" {
		o.tracesEndpoint = tracesEndpoint(o.protocol)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(o.serviceName),
			semconv.ServiceVersion(o.serviceVersion),
			semconv.ServiceNamespace(o.serviceNamespace),
		),
		resource.WithAttributes(o.resourceAttributes...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch o.protocol {
	case itelemetry.ProtocolHTTP:
		exporter, err = newHTTPExporter(ctx, o)
	default:
		exporter, err = newGRPCExporter(ctx, o)
	}
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	itelemetry.Tracer = tp.Tracer(itelemetry.InstrumentName)

	return func() error {
		return tp.Shutdown(context.Background())
	}, nil
}

func newGRPCExporter(ctx context.Context, o *options) (sdktrace.SpanExporter, error) {
	endpoint := o.tracesEndpoint
	if o.endpointURL != "" {
		endpoint = o.endpointURL
	}
	conn, err := itelemetry.NewGRPCConn(endpoint)
	if err != nil {
		return nil, err
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithGRPCConn(conn),
		otlptracegrpc.WithHeaders(o.headers),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return exp, nil
}

func newHTTPExporter(ctx context.Context, o *options) (sdktrace.SpanExporter, error) {
	httpOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(o.tracesEndpoint),
		otlptracehttp.WithInsecure(),
	}
	if o.endpointURL != "" {
		endpoint, path, err := parseEndpointURL(o.endpointURL)
		if err != nil {
			return nil, err
		}
		httpOpts = append(httpOpts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithURLPath(path))
	}
	if len(o.headers) > 0 {
		httpOpts = append(httpOpts, otlptracehttp.WithHeaders(o.headers))
	}
	exp, err := otlptracehttp.New(ctx, httpOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP trace exporter: %w", err)
	}
	return exp, nil
}

func tracesEndpoint(protocol string) string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if protocol == itelemetry.ProtocolHTTP {
		return "localhost:4318"
	}
	return "localhost:4317"
}

// parseEndpointURL splits a collector URL into host:port and path.
func parseEndpointURL(raw string) (endpoint, path string, err error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid endpoint url: %w", err)
	}
	if u.Host == "" {
		return "", "", errors.New("invalid endpoint url: missing host")
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	return u.Host, path, nil
}

// Option configures Start.
type Option func(*options)

type options struct {
	tracesEndpoint     string
	endpointURL        string
	serviceName        string
	serviceVersion     string
	serviceNamespace   string
	protocol           string
	headers            map[string]string
	resourceAttributes []attribute.KeyValue
}

// WithEndpoint sets the collector host:port. It overrides the
// OTEL_EXPORTER_OTLP_TRACES_ENDPOINT and OTEL_EXPORTER_OTLP_ENDPOINT variables.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.tracesEndpoint = endpoint
	}
}

// WithEndpointURL sets a full collector URL; it wins over WithEndpoint.
func WithEndpointURL(endpointURL string) Option {
	return func(o *options) {
		o.endpointURL = endpointURL
	}
}

// WithProtocol selects "grpc" (default) or "http".
func WithProtocol(protocol string) Option {
	return func(o *options) {
		o.protocol = protocol
	}
}

// WithHeaders adds headers sent with every export.
func WithHeaders(headers map[string]string) Option {
	return func(o *options) {
		o.headers = headers
	}
}

// WithServiceName overrides the service.name resource attribute.
func WithServiceName(name string) Option {
	return func(o *options) {
		o.serviceName = name
	}
}

// WithResourceAttributes adds resource attributes.
func WithResourceAttributes(attrs ...attribute.KeyValue) Option {
	return func(o *options) {
		o.resourceAttributes = append(o.resourceAttributes, attrs...)
	}
}
