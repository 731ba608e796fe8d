//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error types reported by provider clients.
const (
	ErrorTypeRateLimit         = "rate_limit"
	ErrorTypeTimeout           = "timeout"
	ErrorTypeAPIError          = "api_error"
	ErrorTypeMalformedResponse = "malformed_response"
	ErrorTypeCanceled          = "canceled"
)

var (
	// ErrNilRequest is returned when Generate receives a nil request.
	ErrNilRequest = errors.New("model: request cannot be nil")
	// ErrEmptyResponse is returned when the provider answers without text.
	ErrEmptyResponse = errors.New("model: empty response")
)

// Error is a provider call failure.
type Error struct {
	Provider   string
	Type       string
	StatusCode int
	Err        error
}

// Error implements error.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s (status %d): %v", e.Provider, e.Type, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a retry may succeed.
func (e *Error) Retryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout:
		return true
	case ErrorTypeAPIError:
		return e.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// NewError classifies err from provider into a *Error. statusCode is the
// HTTP status when the SDK exposes one, zero otherwise.
func NewError(provider string, statusCode int, err error) *Error {
	e := &Error{Provider: provider, StatusCode: statusCode, Err: err}
	switch {
	case errors.Is(err, context.Canceled):
		e.Type = ErrorTypeCanceled
	case errors.Is(err, context.DeadlineExceeded),
		statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusGatewayTimeout:
		e.Type = ErrorTypeTimeout
	case statusCode == http.StatusTooManyRequests:
		e.Type = ErrorTypeRateLimit
	case errors.Is(err, ErrEmptyResponse):
		e.Type = ErrorTypeMalformedResponse
	default:
		e.Type = ErrorTypeAPIError
	}
	return e
}
