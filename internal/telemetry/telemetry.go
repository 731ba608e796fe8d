//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds the process-wide tracer and meters used by the
// engine. They are noop until the public telemetry packages install SDK
// providers.
package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// telemetry service constants.
const (
	ServiceName      = "trpc-agent-flow"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-go-agent"
	InstrumentName   = "trpc.agent.flow"

	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"

	SpanNameExecuteRun  = "execute_run"
	SpanNameExecuteNode = "execute_node"
	SpanNameReflection  = "reflection"
	SpanNameResumeRun   = "resume_run"
)

// Attribute keys.
const (
	KeyRunID         = "trpc.agent.flow.run_id"
	KeyRunStatus     = "trpc.agent.flow.run_status"
	KeyNodeID        = "trpc.agent.flow.node_id"
	KeyNodeName      = "trpc.agent.flow.node_name"
	KeyNodeType      = "trpc.agent.flow.node_type"
	KeyEdgeType      = "trpc.agent.flow.edge_type"
	KeyIterations    = "trpc.agent.flow.iterations"
	KeyGenAISystem   = "gen_ai.system"
	KeyGenAIModel    = "gen_ai.request.model"
	KeyGenAITokens   = "gen_ai.usage.total_tokens"
	KeyErrorType     = "error.type"
	KeyHumanInputEvt = "trpc.agent.flow.human_input_event"
)

// Tracer is the tracer used by the engine. telemetry/trace.Start replaces it.
var Tracer trace.Tracer = noop.NewTracerProvider().Tracer(InstrumentName)

// grpcNewClient is swapped in tests.
var grpcNewClient = grpc.NewClient

// NewGRPCConn connects to an OpenTelemetry collector over plaintext gRPC.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	conn, err := grpcNewClient(endpoint,
		// TLS is recommended in production.
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
