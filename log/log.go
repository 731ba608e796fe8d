//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package log provides the logging facade used by the workflow engine.
package log

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log level names accepted by SetLevel.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelFatal = "fatal"
)

// Output formats accepted by SetFormat.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

var (
	zapLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	traceEnabled = false

	output zapcore.WriteSyncer = zapcore.AddSync(os.Stdout)
)

// Default is the process-wide logger. Any Logger may replace it.
var Default Logger = newSugared(FormatConsole, 1)

// ContextDefault backs the *Context helpers.
var ContextDefault Logger = newSugared(FormatConsole, 1)

func newSugared(format string, callerSkip int) *zap.SugaredLogger {
	return zap.New(
		zapcore.NewCore(newEncoder(format), output, zapLevel),
		zap.AddCaller(),
		zap.AddCallerSkip(callerSkip),
	).Sugar()
}

func newEncoder(format string) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "lvl",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == FormatJSON {
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

// SetLevel sets the minimum level. Unknown names fall back to info.
func SetLevel(level string) {
	l, err := zapcore.ParseLevel(level)
	if err != nil || l < zapcore.DebugLevel || l > zapcore.FatalLevel {
		l = zapcore.InfoLevel
	}
	zapLevel.SetLevel(l)
}

// SetFormat rebuilds Default and ContextDefault with the console or JSON
// encoder. Unknown formats select console. Loggers installed by callers
// are replaced.
func SetFormat(format string) {
	if format != FormatJSON {
		format = FormatConsole
	}
	Default = newSugared(format, 1)
	ContextDefault = newSugared(format, 1)
}

// Logger defines the logging interface used throughout trpc-agent-flow.
// *zap.SugaredLogger satisfies it.
type Logger interface {
	// Debug logs to DEBUG log. Arguments are handled in the manner of fmt.Print.
	Debug(args ...any)
	// Debugf logs to DEBUG log. Arguments are handled in the manner of fmt.Printf.
	Debugf(format string, args ...any)
	// Info logs to INFO log. Arguments are handled in the manner of fmt.Print.
	Info(args ...any)
	// Infof logs to INFO log. Arguments are handled in the manner of fmt.Printf.
	Infof(format string, args ...any)
	// Warn logs to WARNING log. Arguments are handled in the manner of fmt.Print.
	Warn(args ...any)
	// Warnf logs to WARNING log. Arguments are handled in the manner of fmt.Printf.
	Warnf(format string, args ...any)
	// Error logs to ERROR log. Arguments are handled in the manner of fmt.Print.
	Error(args ...any)
	// Errorf logs to ERROR log. Arguments are handled in the manner of fmt.Printf.
	Errorf(format string, args ...any)
	// Fatal logs to ERROR log. Arguments are handled in the manner of fmt.Print.
	Fatal(args ...any)
	// Fatalf logs to ERROR log. Arguments are handled in the manner of fmt.Printf.
	Fatalf(format string, args ...any)
}

// Debug logs to DEBUG log. Arguments are handled in the manner of fmt.Print.
func Debug(args ...any) {
	Default.Debug(args...)
}

// Debugf logs to DEBUG log. Arguments are handled in the manner of fmt.Printf.
func Debugf(format string, args ...any) {
	Default.Debugf(format, args...)
}

// DebugfContext logs to DEBUG log, prefixed with the run of ctx.
func DebugfContext(ctx context.Context, format string, args ...any) {
	ContextDefault.Debugf(runPrefix(ctx)+format, args...)
}

// Info logs to INFO log. Arguments are handled in the manner of fmt.Print.
func Info(args ...any) {
	Default.Info(args...)
}

// Infof logs to INFO log. Arguments are handled in the manner of fmt.Printf.
func Infof(format string, args ...any) {
	Default.Infof(format, args...)
}

// InfofContext logs to INFO log, prefixed with the run of ctx.
func InfofContext(ctx context.Context, format string, args ...any) {
	ContextDefault.Infof(runPrefix(ctx)+format, args...)
}

// Warn logs to WARNING log. Arguments are handled in the manner of fmt.Print.
func Warn(args ...any) {
	Default.Warn(args...)
}

// Warnf logs to WARNING log. Arguments are handled in the manner of fmt.Printf.
func Warnf(format string, args ...any) {
	Default.Warnf(format, args...)
}

// WarnfContext logs to WARNING log, prefixed with the run of ctx.
func WarnfContext(ctx context.Context, format string, args ...any) {
	ContextDefault.Warnf(runPrefix(ctx)+format, args...)
}

// Error logs to ERROR log. Arguments are handled in the manner of fmt.Print.
func Error(args ...any) {
	Default.Error(args...)
}

// Errorf logs to ERROR log. Arguments are handled in the manner of fmt.Printf.
func Errorf(format string, args ...any) {
	Default.Errorf(format, args...)
}

// ErrorfContext logs to ERROR log, prefixed with the run of ctx.
func ErrorfContext(ctx context.Context, format string, args ...any) {
	ContextDefault.Errorf(runPrefix(ctx)+format, args...)
}

// Fatal logs to ERROR log. Arguments are handled in the manner of fmt.Print.
func Fatal(args ...any) {
	Default.Fatal(args...)
}

// Fatalf logs to ERROR log. Arguments are handled in the manner of fmt.Printf.
func Fatalf(format string, args ...any) {
	Default.Fatalf(format, args...)
}

// Tracef logs a message at the trace level with formatting.
// Scheduling decisions of the run controller are traced this way.
func Tracef(format string, args ...any) {
	if !traceEnabled {
		return
	}
	Default.Debugf("[TRACE] "+format, args...)
}

// SetTraceEnabled sets the trace enabled flag.
func SetTraceEnabled(enabled bool) {
	traceEnabled = enabled
}

type runKey struct{}

// WithRunID returns a context whose *Context log lines name runID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// RunID returns the run carried by ctx, or "".
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runKey{}).(string)
	return id
}

func runPrefix(ctx context.Context) string {
	if id := RunID(ctx); id != "" {
		return "run " + id + ": "
	}
	return ""
}
