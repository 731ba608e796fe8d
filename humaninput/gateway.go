//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package humaninput suspends runs that wait for a human and resumes them
// when the answer arrives.
package humaninput

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"trpc.group/trpc-go/trpc-agent-flow/agent"
	itelemetry "trpc.group/trpc-go/trpc-agent-flow/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/run"
	"trpc.group/trpc-go/trpc-agent-flow/workflow"
)

const defaultTimeout = time.Hour

var (
	// ErrNotAwaitingInput is returned when resuming a run that is not
	// waiting for a human.
	ErrNotAwaitingInput = errors.New("humaninput: run is not awaiting human input")
	// ErrRequestMismatch is returned when a response names another request.
	ErrRequestMismatch = errors.New("humaninput: request id mismatch")
	// ErrEmptyInput is returned for a blank response.
	ErrEmptyInput = errors.New("humaninput: empty input")
)

// TimeoutPolicy decides what happens when nobody answers in time.
type TimeoutPolicy int

// Timeout policies.
const (
	// TimeoutPolicyFail fails the run.
	TimeoutPolicyFail TimeoutPolicy = iota
	// TimeoutPolicyResumeWithDefault resumes with a configured default answer.
	TimeoutPolicyResumeWithDefault
)

// ParseTimeoutPolicy maps "fail" and "resume_with_default" to a policy.
func ParseTimeoutPolicy(s string) (TimeoutPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail":
		return TimeoutPolicyFail, nil
	case "resume_with_default", "resume":
		return TimeoutPolicyResumeWithDefault, nil
	default:
		return TimeoutPolicyFail, fmt.Errorf("humaninput: unknown timeout policy %q", s)
	}
}

// ModelResolver returns the model backing node.
type ModelResolver func(node *workflow.Node) (model.Model, bool)

// Resolution is the outcome of a resume.
type Resolution struct {
	// Final is the source agent's final response, or the raw human input
	// when Degraded.
	Final string
	// Turn is the source's final call; nil when Degraded.
	Turn *agent.Turn
	// Source is the agent whose output was reviewed; nil when not found.
	Source *workflow.Node
	// Degraded reports that the source could not be called.
	Degraded bool
	// Context is the request that was answered.
	Context run.HumanInputContext
}

type options struct {
	defaultTimeout time.Duration
	policy         TimeoutPolicy
	defaultInput   string
	now            func() time.Time
}

// Option configures a Gateway.
type Option func(*options)

// WithDefaultTimeout applies to requests whose node sets no timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.defaultTimeout = d
		}
	}
}

// WithTimeoutPolicy sets the policy for unanswered requests. defaultInput
// is the answer used by TimeoutPolicyResumeWithDefault.
func WithTimeoutPolicy(p TimeoutPolicy, defaultInput string) Option {
	return func(o *options) {
		o.policy = p
		o.defaultInput = defaultInput
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Gateway persists suspension state and completes resumes.
type Gateway struct {
	store run.Store
	exec  *agent.Executor
	opts  options
}

// New creates a Gateway.
func New(store run.Store, exec *agent.Executor, opts ...Option) *Gateway {
	o := options{defaultTimeout: defaultTimeout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Gateway{store: store, exec: exec, opts: o}
}

// Policy returns the timeout policy and its default answer.
func (g *Gateway) Policy() (TimeoutPolicy, string) {
	return g.opts.policy, g.opts.defaultInput
}

// Suspend moves r to AWAITING_HUMAN_INPUT with hic and persists it, so any
// process sharing the store can resume the run.
func (g *Gateway) Suspend(ctx context.Context, r *run.Run, hic run.HumanInputContext) error {
	now := g.opts.now().UTC()
	if hic.RequestID == "" {
		hic.RequestID = uuid.NewString()
	}
	if hic.TimeoutSeconds <= 0 {
		hic.TimeoutSeconds = int(g.opts.defaultTimeout / time.Second)
	}
	hic.RequestedAt = now
	hic.Deadline = now.Add(time.Duration(hic.TimeoutSeconds) * time.Second)
	if err := r.Suspend(&hic); err != nil {
		return err
	}
	if err := g.store.Save(ctx, r); err != nil {
		return fmt.Errorf("persist suspended run %s: %w", r.ID, err)
	}
	itelemetry.IncHumanInput(ctx, "request")
	log.InfofContext(log.WithRunID(ctx, r.ID), "awaiting human input from %s (timeout %ds)", hic.AgentName, hic.TimeoutSeconds)
	return nil
}

// Resume applies the human input to r. The input becomes the reviewing
// agent's turn and the source agent is asked for a final response. When
// the source cannot be found or has no model the input itself is the final
// response. r is left RUNNING; the caller persists it.
func (g *Gateway) Resume(ctx context.Context, r *run.Run, requestID, input string, resolve ModelResolver) (*Resolution, error) {
	if r.Status != run.StatusAwaitingHumanInput || r.HumanInputContext == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotAwaitingInput, r.ID, r.Status)
	}
	hic := *r.HumanInputContext
	if requestID != "" && requestID != hic.RequestID {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrRequestMismatch, requestID, hic.RequestID)
	}
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyInput
	}
	if err := r.Transition(run.StatusRunning); err != nil {
		return nil, err
	}
	r.ClearHumanInput()
	r.AppendTranscript(hic.AgentName, input)
	r.ExecutedNodes[hic.AgentID] = input
	itelemetry.IncHumanInput(ctx, "response")

	res := &Resolution{Context: hic}
	if hic.SourceID == "" && hic.SourceName == "" {
		// A plain human step: the input is the answer.
		res.Final = input
		return res, nil
	}
	source := findSource(r.Graph, hic)
	if source == nil {
		log.WarnfContext(log.WithRunID(ctx, r.ID), "source %q of human input not found, using input as final response", hic.SourceName)
		res.Final, res.Degraded = input, true
		return res, nil
	}
	res.Source = source
	m, ok := resolve(source)
	if !ok {
		log.WarnfContext(log.WithRunID(ctx, r.ID), "no model for source %s, using input as final response", source.Name())
		res.Final, res.Degraded = input, true
		r.ExecutedNodes[source.ID] = input
		return res, nil
	}
	turn, err := g.exec.Finalize(ctx, source, r.Transcript(), hic.SourceMessage, hic.AgentName, input, m)
	if err != nil {
		return res, fmt.Errorf("final response of %s: %w", source.Name(), err)
	}
	res.Final, res.Turn = turn.Text, turn
	r.AppendTranscript(source.Name(), turn.Text)
	r.ExecutedNodes[source.ID] = turn.Text
	return res, nil
}

// Expired reports whether r has waited past its deadline at now.
func (g *Gateway) Expired(r *run.Run, now time.Time) bool {
	if r.Status != run.StatusAwaitingHumanInput || r.HumanInputContext == nil {
		return false
	}
	d := r.HumanInputContext.Deadline
	return !d.IsZero() && now.After(d)
}

func findSource(g *workflow.Graph, hic run.HumanInputContext) *workflow.Node {
	if hic.SourceID != "" {
		if n, ok := g.Node(hic.SourceID); ok {
			return n
		}
	}
	if hic.SourceName != "" {
		if n, ok := g.NodeByName(hic.SourceName); ok {
			return n
		}
	}
	return nil
}
