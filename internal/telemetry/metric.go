//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// Metric names.
const (
	MeterNameFlow = "trpc.agent.flow"

	MetricRunCount         = "trpc_agent_flow.run.count"
	MetricNodeCallCount    = "trpc_agent_flow.node.call.count"
	MetricNodeCallDuration = "trpc_agent_flow.node.call.duration"
	MetricTokenUsage       = "trpc_agent_flow.token.usage"
	MetricHumanInputCount  = "trpc_agent_flow.human_input.count"
)

var (
	MeterProvider metric.MeterProvider = noop.NewMeterProvider()

	RunCount         metric.Int64Counter     = noop.Int64Counter{}
	NodeCallCount    metric.Int64Counter     = noop.Int64Counter{}
	NodeCallDuration metric.Float64Histogram = noop.Float64Histogram{}
	TokenUsage       metric.Int64Histogram   = noop.Int64Histogram{}
	HumanInputCount  metric.Int64Counter     = noop.Int64Counter{}
)

// InitMeters creates the engine instruments on mp.
func InitMeters(mp metric.MeterProvider) error {
	if mp == nil {
		return errors.New("meter provider is nil")
	}
	m := mp.Meter(MeterNameFlow)
	runs, err := m.Int64Counter(MetricRunCount,
		metric.WithDescription("Runs reaching a terminal or suspended state"), metric.WithUnit("1"))
	if err != nil {
		return fmt.Errorf("failed to create metric %s: %w", MetricRunCount, err)
	}
	calls, err := m.Int64Counter(MetricNodeCallCount,
		metric.WithDescription("LLM calls issued for nodes"), metric.WithUnit("1"))
	if err != nil {
		return fmt.Errorf("failed to create metric %s: %w", MetricNodeCallCount, err)
	}
	duration, err := m.Float64Histogram(MetricNodeCallDuration,
		metric.WithDescription("Duration of node LLM calls"), metric.WithUnit("s"))
	if err != nil {
		return fmt.Errorf("failed to create metric %s: %w", MetricNodeCallDuration, err)
	}
	tokens, err := m.Int64Histogram(MetricTokenUsage,
		metric.WithDescription("Tokens used per node call"), metric.WithUnit("{token}"))
	if err != nil {
		return fmt.Errorf("failed to create metric %s: %w", MetricTokenUsage, err)
	}
	human, err := m.Int64Counter(MetricHumanInputCount,
		metric.WithDescription("Human input requests, responses and timeouts"), metric.WithUnit("1"))
	if err != nil {
		return fmt.Errorf("failed to create metric %s: %w", MetricHumanInputCount, err)
	}
	MeterProvider = mp
	RunCount, NodeCallCount, NodeCallDuration, TokenUsage, HumanInputCount = runs, calls, duration, tokens, human
	return nil
}

// IncRunCount counts a run reaching status.
func IncRunCount(ctx context.Context, status string) {
	RunCount.Add(ctx, 1, metric.WithAttributes(attribute.String(KeyRunStatus, status)))
}

// RecordNodeCall records one LLM call of a node.
func RecordNodeCall(ctx context.Context, provider, modelName string, d time.Duration, tokens int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String(KeyGenAISystem, provider),
		attribute.String(KeyGenAIModel, modelName),
	}
	if err != nil {
		attrs = append(attrs, attribute.String(KeyErrorType, errorType(err)))
	}
	opt := metric.WithAttributes(attrs...)
	NodeCallCount.Add(ctx, 1, opt)
	NodeCallDuration.Record(ctx, d.Seconds(), opt)
	if tokens > 0 {
		TokenUsage.Record(ctx, int64(tokens), opt)
	}
}

// IncHumanInput counts a human input event: "request", "response" or "timeout".
func IncHumanInput(ctx context.Context, event string) {
	HumanInputCount.Add(ctx, 1, metric.WithAttributes(attribute.String(KeyHumanInputEvt, event)))
}

func errorType(err error) string {
	var merr *model.Error
	if errors.As(err, &merr) {
		return merr.Type
	}
	return "other"
}
