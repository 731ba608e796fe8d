//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package metric exports engine metrics over OTLP.
package metric

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	itelemetry "trpc.group/trpc-go/trpc-agent-flow/internal/telemetry"
)

// InitMeterProvider initializes the meter provider and the engine meters.
func InitMeterProvider(mp metric.MeterProvider) error {
	return itelemetry.InitMeters(mp)
}

// GetMeterProvider returns the meter provider.
func GetMeterProvider() metric.MeterProvider {
	return itelemetry.MeterProvider
}

// NewMeterProvider creates a meter provider exporting over OTLP.
// OTEL_EXPORTER_OTLP_METRICS_ENDPOINT and OTEL_EXPORTER_OTLP_ENDPOINT are
// honoured when no endpoint is given.
func NewMeterProvider(ctx context.Context, opts ...Option) (*sdkmetric.MeterProvider, error) {
	o := &options{
		serviceName: itelemetry.ServiceName,
		protocol:    itelemetry.ProtocolGRPC,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metricsEndpoint == "" {
		o.metricsEndpoint = metricsEndpoint(o.protocol)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(o.serviceName),
		semconv.ServiceVersion(itelemetry.ServiceVersion),
		semconv.ServiceNamespace(itelemetry.ServiceNamespace),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdkmetric.Exporter
	switch o.protocol {
	case itelemetry.ProtocolHTTP:
		exporter, err = otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(o.metricsEndpoint),
			otlpmetrichttp.WithInsecure())
	default:
		conn, cerr := itelemetry.NewGRPCConn(o.metricsEndpoint)
		if cerr != nil {
			return nil, cerr
		}
		exporter, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	), nil
}

func metricsEndpoint(protocol string) string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); endpoint != "" {
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

// Option configures NewMeterProvider.
type Option func(*options)

type options struct {
	metricsEndpoint string
	serviceName     string
	protocol        string
}

// WithEndpoint sets the collector host:port.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.metricsEndpoint = endpoint
	}
}

// WithProtocol selects "grpc" (default) or "http".
func WithProtocol(protocol string) Option {
	return func(o *options) {
		o.protocol = protocol
	}
}

// WithServiceName overrides the service.name resource attribute.
func WithServiceName(name string) Option {
	return func(o *options) {
		o.serviceName = name
	}
}
