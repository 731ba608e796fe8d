//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel(LevelInfo) })
	cases := map[string]zapcore.Level{
		LevelDebug: zapcore.DebugLevel,
		LevelInfo:  zapcore.InfoLevel,
		LevelWarn:  zapcore.WarnLevel,
		LevelError: zapcore.ErrorLevel,
		LevelFatal: zapcore.FatalLevel,
		"verbose":  zapcore.InfoLevel,
	}
	for in, want := range cases {
		SetLevel(in)
		assert.Equal(t, want, zapLevel.Level(), "level %q", in)
	}
}

func TestSetFormatJSON(t *testing.T) {
	var buf bytes.Buffer
	oldOut, oldDefault, oldCtx := output, Default, ContextDefault
	output = zapcore.AddSync(&buf)
	t.Cleanup(func() {
		output, Default, ContextDefault = oldOut, oldDefault, oldCtx
	})

	SetFormat(FormatJSON)
	InfofContext(WithRunID(context.Background(), "r9"), "node %s done", "n1")

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &line))
	assert.Equal(t, "info", line["lvl"])
	assert.Equal(t, "run r9: node n1 done", line["message"])
	assert.Contains(t, line["caller"], "log_test.go")

	buf.Reset()
	SetFormat("yaml")
	Info("plain")
	assert.Contains(t, buf.String(), "plain")
	assert.NotContains(t, buf.String(), "{")
}

func TestHelpersReportCallerLine(t *testing.T) {
	var buf bytes.Buffer
	oldOut, oldDefault, oldCtx := output, Default, ContextDefault
	output = zapcore.AddSync(&buf)
	t.Cleanup(func() {
		output, Default, ContextDefault = oldOut, oldDefault, oldCtx
	})
	SetFormat(FormatJSON)

	callerOf := func() string {
		var line map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &line))
		buf.Reset()
		return fmt.Sprint(line["caller"])
	}
	ctx := WithRunID(context.Background(), "r1")

	_, _, line, _ := runtime.Caller(0)
	InfofContext(ctx, "ctx")
	assert.True(t, strings.HasSuffix(callerOf(), fmt.Sprintf("log/log_test.go:%d", line+1)))

	_, _, line, _ = runtime.Caller(0)
	WarnfContext(ctx, "ctx")
	assert.True(t, strings.HasSuffix(callerOf(), fmt.Sprintf("log/log_test.go:%d", line+1)))

	_, _, line, _ = runtime.Caller(0)
	Infof("plain")
	assert.True(t, strings.HasSuffix(callerOf(), fmt.Sprintf("log/log_test.go:%d", line+1)))
}

func TestTracefRespectsFlag(t *testing.T) {
	rec := &recordingLogger{}
	oldDefault, oldTrace := Default, traceEnabled
	Default = rec
	t.Cleanup(func() {
		Default = oldDefault
		traceEnabled = oldTrace
	})

	SetTraceEnabled(false)
	Tracef("dispatch %s", "n1")
	assert.Empty(t, rec.formats)

	SetTraceEnabled(true)
	Tracef("dispatch %s", "n1")
	assert.Equal(t, []string{"[TRACE] dispatch %s"}, rec.formats)
}

func TestContextHelpersUseContextDefault(t *testing.T) {
	rec := &recordingLogger{}
	old := ContextDefault
	ContextDefault = rec
	t.Cleanup(func() { ContextDefault = old })

	ctx := context.Background()
	InfofContext(ctx, "started %s", "n1")
	WarnfContext(WithRunID(ctx, "r1"), "node %s slow", "n1")
	ErrorfContext(WithRunID(ctx, "r1"), "node %s failed", "n1")
	DebugfContext(ctx, "skip %s", "n1")
	assert.Equal(t, []string{
		"started %s",
		"run r1: node %s slow",
		"run r1: node %s failed",
		"skip %s",
	}, rec.formats)
}

func TestRunID(t *testing.T) {
	assert.Equal(t, "", RunID(context.Background()))
	assert.Equal(t, "abc", RunID(WithRunID(context.Background(), "abc")))
}

type recordingLogger struct {
	formats []string
}

func (r *recordingLogger) Debug(args ...any) {}
func (r *recordingLogger) Debugf(format string, args ...any) {
	r.formats = append(r.formats, format)
}
func (r *recordingLogger) Info(args ...any) {}
func (r *recordingLogger) Infof(format string, args ...any) {
	r.formats = append(r.formats, format)
}
func (r *recordingLogger) Warn(args ...any) {}
func (r *recordingLogger) Warnf(format string, args ...any) {
	r.formats = append(r.formats, format)
}
func (r *recordingLogger) Error(args ...any) {}
func (r *recordingLogger) Errorf(format string, args ...any) {
	r.formats = append(r.formats, format)
}
func (r *recordingLogger) Fatal(args ...any)                 {}
func (r *recordingLogger) Fatalf(format string, args ...any) {}
