//
// Tencent is pleased to support the open source community by making trpc-agent-flow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-flow is licensed under the Apache License Version 2.0.
//
//

// Package engine drives workflow runs: it walks the execution plan, calls
// agents, runs reflection loops, suspends for humans and records every
// message.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/humaninput"
	itelemetry "trpc.group/trpc-go/trpc-agent-flow/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/model/provider"
	"trpc.group/trpc-go/trpc-agent-flow/reflection"
	"trpc.group/trpc-go/trpc-agent-flow/run"
	"trpc.group/trpc-go/trpc-agent-flow/workflow"
)

const (
	systemAgent      = "System"
	userAgent        = "User"
	msgStarted       = "Workflow started"
	msgCompleted     = "Workflow completed"
	msgCanceled      = "run canceled"
	msgTimedOut      = "human input timed out"
	agentTypeSystem  = "System"
	defaultStartName = "Start"
	defaultEndName   = "End"
)

var (
	// ErrRunInProgress is returned when another loop is driving the run.
	ErrRunInProgress = errors.New("engine: run is already executing")
	// ErrRunNotPending is returned when executing a run that already started.
	ErrRunNotPending = errors.New("engine: run is not pending")
	// ErrRunFinished is returned when cancelling a terminal run.
	ErrRunFinished = errors.New("engine: run already finished")
	// ErrNotAwaitingInput is returned when resuming a run that does not wait
	// for a human.
	ErrNotAwaitingInput = humaninput.ErrNotAwaitingInput
)

// CreateOptions are the per-run settings of Create.
type CreateOptions struct {
	// Scope selects the API keys of the run.
	Scope string
	// Input is an optional user message placed after the Start prompt.
	Input string
}

// Controller creates and drives runs. A single Controller serves many runs
// concurrently; each run is driven by at most one loop at a time.
type Controller struct {
	store     run.Store
	router    *provider.Router
	keys      KeySource
	exec      *agent.Executor
	reflector *reflection.Handler
	gateway   *humaninput.Gateway
	pool      *ants.Pool
	opts      options

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates a Controller.
func New(store run.Store, router *provider.Router, keys KeySource, opts ...Option) (*Controller, error) {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	pool, err := ants.NewPool(o.poolSize)
	if err != nil {
		return nil, fmt.Errorf("create agent pool: %w", err)
	}
	if keys == nil {
		keys = StaticKeys{}
	}
	exec := agent.New(o.executorOpts...)
	return &Controller{
		store:     store,
		router:    router,
		keys:      keys,
		exec:      exec,
		reflector: reflection.New(exec, o.reflectionOpts...),
		gateway:   humaninput.New(store, exec, o.gatewayOpts...),
		pool:      pool,
		opts:      o,
		active:    make(map[string]context.CancelFunc),
	}, nil
}

// Close releases the agent pool.
func (c *Controller) Close() {
	c.pool.Release()
}

// execution is the state of one loop over a run.
type execution struct {
	run    *run.Run
	plan   *plan
	models map[string]model.Model
}

func (x *execution) progress() float64 {
	if len(x.plan.steps) == 0 {
		return 1
	}
	return float64(x.run.Cursor) / float64(len(x.plan.steps))
}

func (x *execution) resolve(n *workflow.Node) (model.Model, bool) {
	m, ok := x.models[n.ID]
	return m, ok
}

// nodeError is a failed turn of one node.
type nodeError struct {
	node *workflow.Node
	err  error
}

func (e *nodeError) Error() string { return fmt.Sprintf("node %s failed: %v", e.node.Name(), e.err) }

func (e *nodeError) Unwrap() error { return e.err }

// groupError reports failed members of a parallel group. Their error
// messages are already recorded.
type groupError struct {
	failed []string
}

func (e *groupError) Error() string {
	return "parallel group failed: " + strings.Join(e.failed, "; ")
}

// Create stores a PENDING run over a normalized snapshot of g.
func (c *Controller) Create(ctx context.Context, g *workflow.Graph, opts CreateOptions) (*run.Run, error) {
	if g == nil {
		return nil, workflow.ErrNilGraph
	}
	r := run.New(c.opts.newID(), g)
	workflow.Normalize(r.Graph)
	r.Scope = opts.Scope
	r.Input = opts.Input
	if err := c.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	log.InfofContext(log.WithRunID(ctx, r.ID), "created (%d nodes, %d edges)", len(r.Graph.Nodes), len(r.Graph.Edges))
	return r, nil
}

// Run creates a run, executes it and returns its final state.
func (c *Controller) Run(ctx context.Context, g *workflow.Graph, opts CreateOptions) (*run.Run, error) {
	r, err := c.Create(ctx, g, opts)
	if err != nil {
		return nil, err
	}
	if err := c.Execute(ctx, r.ID); err != nil {
		return nil, err
	}
	return c.Get(ctx, r.ID)
}

// Get returns the current state of a run.
func (c *Controller) Get(ctx context.Context, runID string) (*run.Run, error) {
	return c.store.Get(ctx, runID)
}

// Messages returns the message log of a run.
func (c *Controller) Messages(ctx context.Context, runID string) ([]*run.Message, error) {
	return c.store.Messages(ctx, runID)
}

// Execute drives a PENDING run until it completes, fails or waits for a
// human. A run that fails is not an error: the failure is recorded on the
// run. Errors are returned for guard violations and storage failures.
func (c *Controller) Execute(ctx context.Context, runID string) error {
	ctx, release, err := c.acquire(ctx, runID)
	if err != nil {
		return err
	}
	defer release()

	r, err := c.store.Get(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status != run.StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrRunNotPending, runID, r.Status)
	}
	ctx, span := itelemetry.Tracer.Start(ctx, itelemetry.SpanNameExecuteRun,
		trace.WithAttributes(attribute.String(itelemetry.KeyRunID, runID)))
	defer func() {
		span.SetAttributes(attribute.String(itelemetry.KeyRunStatus, string(r.Status)))
		span.End()
	}()

	if err := r.Transition(run.StatusRunning); err != nil {
		return err
	}
	if err := c.save(ctx, r); err != nil {
		return err
	}
	x, err := c.prepare(ctx, r)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return c.fail(ctx, &execution{run: r, plan: &plan{}}, systemAgent, err.Error())
	}
	c.status(ctx, x, msgStarted)
	return c.loop(ctx, x)
}

// Resume answers the pending human input request of a run and continues
// it. An empty requestID matches any pending request.
func (c *Controller) Resume(ctx context.Context, runID, requestID, input string) error {
	ctx, release, err := c.acquire(ctx, runID)
	if err != nil {
		return err
	}
	defer release()

	r, err := c.store.Get(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status != run.StatusAwaitingHumanInput {
		return fmt.Errorf("%w: %s is %s", ErrNotAwaitingInput, runID, r.Status)
	}
	ctx, span := itelemetry.Tracer.Start(ctx, itelemetry.SpanNameResumeRun,
		trace.WithAttributes(attribute.String(itelemetry.KeyRunID, runID)))
	defer func() {
		span.SetAttributes(attribute.String(itelemetry.KeyRunStatus, string(r.Status)))
		span.End()
	}()

	if err := c.syncSequence(ctx, r); err != nil {
		return err
	}
	x, err := c.prepare(ctx, r)
	if err != nil {
		return c.fail(ctx, &execution{run: r, plan: &plan{}}, systemAgent, err.Error())
	}

	res, err := c.gateway.Resume(ctx, r, requestID, input, x.resolve)
	if res == nil {
		return err
	}
	if rerr := c.recordHuman(ctx, x, res, input); rerr != nil {
		return rerr
	}
	if err != nil {
		if ctx.Err() != nil {
			return c.fail(ctx, x, systemAgent, msgCanceled)
		}
		return c.fail(ctx, x, res.Source.Name(), err.Error())
	}
	if res.Turn != nil {
		typ := run.MessageTypeChat
		if res.Context.EdgeID != "" {
			typ = run.MessageTypeReflectionRevision
		}
		msg := turnMessage(res.Source, res.Turn, typ, res.Context.Iteration)
		if err := c.record(ctx, x.run, msg); err != nil {
			return err
		}
	}
	if err := c.save(ctx, r); err != nil {
		return err
	}
	c.status(ctx, x, fmt.Sprintf("Human input received from %s", res.Context.AgentName))
	return c.loop(ctx, x)
}

// recordHuman records the human answer as the reviewing agent's message.
func (c *Controller) recordHuman(ctx context.Context, x *execution, res *humaninput.Resolution, input string) error {
	hic := res.Context
	typ := run.MessageTypeChat
	if hic.EdgeID != "" {
		typ = run.MessageTypeReflectionFeedback
	}
	agentType := string(workflow.NodeTypeUserProxy)
	if n, ok := x.run.Graph.Node(hic.AgentID); ok {
		agentType = string(n.Type)
	}
	meta := map[string]any{run.MetaNodeID: hic.AgentID, "human_input": true}
	if hic.Iteration > 0 {
		meta[run.MetaIteration] = hic.Iteration
	}
	return c.record(ctx, x.run, &run.Message{
		AgentName:   hic.AgentName,
		AgentType:   agentType,
		Content:     input,
		MessageType: typ,
		Metadata:    meta,
	})
}

// Cancel stops a run. A running loop observes the cancellation between
// steps and inside LLM calls; a run that is not being driven is failed
// directly.
func (c *Controller) Cancel(ctx context.Context, runID string) error {
	c.mu.Lock()
	cancel, active := c.active[runID]
	c.mu.Unlock()
	if active {
		log.Infof("run %s: cancellation requested", runID)
		cancel()
		return nil
	}
	return c.failIdle(ctx, runID, msgCanceled, func(r *run.Run) error {
		if r.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrRunFinished, runID, r.Status)
		}
		return nil
	})
}

// ExpireHumanInput applies the timeout policy to every run that has waited
// past its deadline at now and returns how many runs it handled.
func (c *Controller) ExpireHumanInput(ctx context.Context, now time.Time) (int, error) {
	runs, err := c.store.ListByStatus(ctx, run.StatusAwaitingHumanInput)
	if err != nil {
		return 0, fmt.Errorf("list awaiting runs: %w", err)
	}
	policy, answer := c.gateway.Policy()
	var handled int
	for _, r := range runs {
		if !c.gateway.Expired(r, now) {
			continue
		}
		if policy == humaninput.TimeoutPolicyResumeWithDefault && strings.TrimSpace(answer) != "" {
			err = c.Resume(ctx, r.ID, r.HumanInputContext.RequestID, answer)
		} else {
			err = c.failIdle(ctx, r.ID, msgTimedOut, func(cur *run.Run) error {
				if !c.gateway.Expired(cur, now) {
					return fmt.Errorf("%w: %s", ErrNotAwaitingInput, cur.ID)
				}
				return nil
			})
		}
		if err != nil {
			if !errors.Is(err, ErrRunInProgress) && !errors.Is(err, ErrNotAwaitingInput) {
				log.Warnf("run %s: expire human input: %v", r.ID, err)
			}
			continue
		}
		itelemetry.IncHumanInput(ctx, "timeout")
		handled++
	}
	return handled, nil
}

// StartTimeoutSweeper calls ExpireHumanInput every interval until ctx is
// done. A non-positive interval selects one minute.
func (c *Controller) StartTimeoutSweeper(ctx context.Context, interval time.Duration) {
	interval = sweepInterval(interval)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n, err := c.ExpireHumanInput(ctx, now); err != nil {
					log.Warnf("human input sweeper: %v", err)
				} else if n > 0 {
					log.Infof("human input sweeper: expired %d run(s)", n)
				}
			}
		}
	}()
}

func sweepInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultSweepInterval
	}
	return d
}

// failIdle fails a run that no loop is driving after check accepts it.
func (c *Controller) failIdle(ctx context.Context, runID, msg string, check func(*run.Run) error) error {
	ctx, release, err := c.acquire(ctx, runID)
	if err != nil {
		return err
	}
	defer release()
	r, err := c.store.Get(ctx, runID)
	if err != nil {
		return err
	}
	if err := check(r); err != nil {
		return err
	}
	if err := c.syncSequence(ctx, r); err != nil {
		return err
	}
	return c.fail(ctx, &execution{run: r, plan: &plan{}}, systemAgent, msg)
}

func (c *Controller) acquire(ctx context.Context, runID string) (context.Context, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[runID]; ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunInProgress, runID)
	}
	ctx, cancel := context.WithCancel(log.WithRunID(ctx, runID))
	c.active[runID] = cancel
	return ctx, func() {
		c.mu.Lock()
		delete(c.active, runID)
		c.mu.Unlock()
		cancel()
	}, nil
}

// prepare builds the plan and resolves every model the plan needs.
func (c *Controller) prepare(ctx context.Context, r *run.Run) (*execution, error) {
	p, err := buildPlan(r.Graph)
	if err != nil {
		return nil, err
	}
	keys, err := c.keys.APIKeys(ctx, r.Scope)
	if err != nil {
		return nil, fmt.Errorf("load API keys: %w", err)
	}
	models, err := c.preflight(ctx, r.Graph, p, keys)
	if err != nil {
		return nil, err
	}
	return &execution{run: r, plan: p, models: models}, nil
}

// syncSequence moves the run's counter past the last stored message, so a
// run saved before its last message was recorded never reuses a number.
func (c *Controller) syncSequence(ctx context.Context, r *run.Run) error {
	msgs, err := c.store.Messages(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("load messages of %s: %w", r.ID, err)
	}
	if n := len(msgs); n > 0 && msgs[n-1].SequenceNumber >= r.SequenceNumber {
		r.SequenceNumber = msgs[n-1].SequenceNumber + 1
	}
	return nil
}

func (c *Controller) loop(ctx context.Context, x *execution) error {
	r := x.run
	if r.SequenceNumber == 0 {
		if err := c.start(ctx, x); err != nil {
			return err
		}
	}
	for r.Cursor < len(x.plan.steps) {
		if ctx.Err() != nil {
			return c.fail(ctx, x, systemAgent, msgCanceled)
		}
		st := x.plan.steps[r.Cursor]
		log.Tracef("run %s: step %d/%d with %d node(s)", r.ID, r.Cursor+1, len(x.plan.steps), len(st.nodes))
		r.Cursor++
		var err error
		if len(st.nodes) > 1 {
			err = c.runGroup(ctx, x, st.nodes)
		} else {
			err = c.runNode(ctx, x, st.nodes[0])
		}
		if err != nil {
			return c.stepFailed(ctx, x, err)
		}
		if r.Status == run.StatusAwaitingHumanInput {
			return nil
		}
		if err := c.save(ctx, r); err != nil {
			return err
		}
		c.status(ctx, x, "")
	}
	return c.complete(ctx, x)
}

func (c *Controller) stepFailed(ctx context.Context, x *execution, err error) error {
	if ctx.Err() != nil {
		return c.fail(ctx, x, systemAgent, msgCanceled)
	}
	var ge *groupError
	if errors.As(err, &ge) {
		return c.abort(ctx, x, err.Error())
	}
	var ne *nodeError
	if errors.As(err, &ne) {
		return c.fail(ctx, x, ne.node.Name(), err.Error())
	}
	return c.fail(ctx, x, systemAgent, err.Error())
}

// start records workflow_start and seeds the transcript.
func (c *Controller) start(ctx context.Context, x *execution) error {
	r := x.run
	name, content := defaultStartName, ""
	if s, fallback := r.Graph.StartNode(); s != nil && !fallback {
		name = s.Name()
		content = strings.TrimSpace(s.Data.Prompt)
	}
	if content != "" {
		r.AppendTranscript(userAgent, content)
	}
	if input := strings.TrimSpace(r.Input); input != "" {
		r.AppendTranscript(userAgent, input)
		if content == "" {
			content = input
		}
	}
	if content == "" {
		content = msgStarted
	}
	return c.record(ctx, r, &run.Message{
		AgentName:   name,
		AgentType:   string(workflow.NodeTypeStart),
		Content:     content,
		MessageType: run.MessageTypeWorkflowStart,
	})
}

func (c *Controller) complete(ctx context.Context, x *execution) error {
	r := x.run
	name, content := defaultEndName, msgCompleted
	for i := len(x.plan.nodes) - 1; i >= 0; i-- {
		if n := x.plan.nodes[i]; n.Type.Kind() == workflow.KindEnd {
			name = n.Name()
			if p := strings.TrimSpace(n.Data.Prompt); p != "" {
				content = p
			}
			break
		}
	}
	if err := c.record(ctx, r, &run.Message{
		AgentName:   name,
		AgentType:   string(workflow.NodeTypeEnd),
		Content:     content,
		MessageType: run.MessageTypeWorkflowEnd,
	}); err != nil {
		return err
	}
	if err := r.Transition(run.StatusCompleted); err != nil {
		return err
	}
	if err := c.save(ctx, r); err != nil {
		return err
	}
	log.InfofContext(ctx, "completed with %d messages", r.SequenceNumber)
	itelemetry.IncRunCount(ctx, string(run.StatusCompleted))
	c.status(ctx, x, msgCompleted)
	return nil
}

// fail records an error message when the run has started and fails it.
func (c *Controller) fail(ctx context.Context, x *execution, agentName, msg string) error {
	if x.run.SequenceNumber > 0 {
		if err := c.record(ctx, x.run, &run.Message{
			AgentName:   agentName,
			AgentType:   agentTypeSystem,
			Content:     msg,
			MessageType: run.MessageTypeError,
		}); err != nil {
			log.WarnfContext(ctx, "record failure: %v", err)
		}
	}
	return c.abort(ctx, x, msg)
}

// abort fails the run without recording a message.
func (c *Controller) abort(ctx context.Context, x *execution, msg string) error {
	r := x.run
	if err := r.Fail(msg); err != nil {
		return err
	}
	log.WarnfContext(ctx, "failed: %s", msg)
	if err := c.save(ctx, r); err != nil {
		return err
	}
	itelemetry.IncRunCount(ctx, string(run.StatusFailed))
	c.status(ctx, x, msg)
	return nil
}

func (c *Controller) runNode(ctx context.Context, x *execution, n *workflow.Node) error {
	r := x.run
	if _, done := r.ExecutedNodes[n.ID]; done {
		log.DebugfContext(ctx, "node %s already executed, skipping", n.Name())
		return nil
	}
	switch n.Type.Kind() {
	case workflow.KindStart, workflow.KindEnd:
		r.ExecutedNodes[n.ID] = ""
		return nil
	case workflow.KindMCPServer:
		return c.describeTools(ctx, x, n)
	case workflow.KindUserProxy:
		if n.RequiresHumanInput() {
			return c.askHuman(ctx, x, n)
		}
		return c.runAgent(ctx, x, n)
	case workflow.KindAssistant, workflow.KindGroupChatManager:
		return c.runAgent(ctx, x, n)
	default:
		log.WarnfContext(ctx, "skipping node %s of unsupported type %s", n.ID, n.Type)
		return nil
	}
}

// describeTools records the tool listing of an MCPServer node. A server
// that cannot be reached does not fail the run.
func (c *Controller) describeTools(ctx context.Context, x *execution, n *workflow.Node) error {
	if c.opts.tools == nil || n.Data.ServerURL == "" {
		log.DebugfContext(ctx, "MCP server node %s has no turn", n.Name())
		return nil
	}
	text, err := c.opts.tools.Describe(ctx, n)
	if err != nil {
		log.WarnfContext(ctx, "list tools of %s: %v", n.Name(), err)
		return nil
	}
	r := x.run
	r.AppendTranscript(n.Name(), text)
	r.ExecutedNodes[n.ID] = text
	return c.record(ctx, r, &run.Message{
		AgentName:   n.Name(),
		AgentType:   string(n.Type),
		Content:     text,
		MessageType: run.MessageTypeSystem,
		Metadata: map[string]any{
			run.MetaNodeID:    n.ID,
			run.MetaServerURL: n.Data.ServerURL,
		},
	})
}

func (c *Controller) runAgent(ctx context.Context, x *execution, n *workflow.Node) error {
	r := x.run
	m := x.models[n.ID]
	transcript := r.Transcript()
	turn, err := c.callWithRetry(ctx, n, func(ctx context.Context) (*agent.Turn, error) {
		return c.exec.Execute(ctx, n, transcript, m)
	})
	if err != nil {
		return &nodeError{node: n, err: err}
	}
	r.AppendTranscript(n.Name(), turn.Text)
	r.ExecutedNodes[n.ID] = turn.Text
	if err := c.record(ctx, r, turnMessage(n, turn, run.MessageTypeChat, 0)); err != nil {
		return err
	}
	return c.reflect(ctx, x, n, turn.Text)
}

// reflect runs the reflection edges leaving n in declaration order. A
// suspension ends the node's step; later reflection edges are skipped.
func (c *Controller) reflect(ctx context.Context, x *execution, n *workflow.Node, initial string) error {
	r := x.run
	final := initial
	for _, e := range r.Graph.ReflectionEdges(n.ID) {
		target, ok := r.Graph.Node(e.Target)
		if !ok {
			continue
		}
		var (
			out *reflection.Outcome
			err error
		)
		if e.Type == workflow.EdgeTypeSelfReflection || target.ID == n.ID {
			out, err = c.reflector.Self(ctx, n, e, final, r.ConversationHistory, x.models[n.ID])
		} else {
			out, err = c.reflector.Cross(ctx, reflection.CrossRequest{
				Source:      n,
				Target:      target,
				Edge:        e,
				SourceModel: x.models[n.ID],
				TargetModel: x.models[target.ID],
				Initial:     final,
				Transcript:  r.ConversationHistory,
			})
		}
		if out != nil {
			if rerr := c.recordReflection(ctx, x, out); rerr != nil {
				return rerr
			}
			final = out.Final
			r.ExecutedNodes[n.ID] = final
		}
		if err != nil {
			return &nodeError{node: n, err: err}
		}
		if out != nil && out.Suspended != nil {
			return c.suspend(ctx, x, *out.Suspended)
		}
	}
	return nil
}

func (c *Controller) recordReflection(ctx context.Context, x *execution, out *reflection.Outcome) error {
	r := x.run
	for _, t := range out.Turns {
		typ := run.MessageTypeReflectionRevision
		if t.Kind == reflection.KindFeedback {
			typ = run.MessageTypeReflectionFeedback
			r.ExecutedNodes[t.Node.ID] = t.Text
		}
		if err := c.record(ctx, r, turnMessage(t.Node, t.Turn, typ, t.Iteration)); err != nil {
			return err
		}
	}
	r.ConversationHistory = out.Transcript
	return nil
}

// askHuman suspends the run on a human-driven UserProxy node.
func (c *Controller) askHuman(ctx context.Context, x *execution, n *workflow.Node) error {
	prompt := strings.TrimSpace(n.Data.Prompt)
	if prompt == "" {
		prompt = fmt.Sprintf("Please provide input for %s.", n.Name())
	}
	hic := run.HumanInputContext{
		AgentID:        n.ID,
		AgentName:      n.Name(),
		Prompt:         prompt,
		TimeoutSeconds: n.Data.HumanInputTimeout,
	}
	if h := x.run.ConversationHistory; len(h) > 0 {
		hic.SourceMessage = h[len(h)-1].Content
	}
	return c.suspend(ctx, x, hic)
}

func (c *Controller) suspend(ctx context.Context, x *execution, hic run.HumanInputContext) error {
	r := x.run
	if err := c.gateway.Suspend(context.WithoutCancel(ctx), r, hic); err != nil {
		return err
	}
	req := r.HumanInputContext
	c.opts.sink.Publish(ctx, Event{
		Type:           EventHumanInputRequest,
		RunID:          r.ID,
		Status:         r.Status,
		AgentName:      req.AgentName,
		Prompt:         req.Prompt,
		RequestID:      req.RequestID,
		TimeoutSeconds: req.TimeoutSeconds,
		Timestamp:      req.RequestedAt,
	})
	c.status(ctx, x, fmt.Sprintf("Awaiting human input from %s", req.AgentName))
	return nil
}

type groupResult struct {
	turn    *agent.Turn
	err     error
	skipped bool
}

// runGroup calls the members of a parallel group concurrently on the same
// transcript and records their results in plan order.
func (c *Controller) runGroup(ctx context.Context, x *execution, nodes []*workflow.Node) error {
	r := x.run
	transcript := r.Transcript()
	results := make([]groupResult, len(nodes))
	var wg sync.WaitGroup
	for i, n := range nodes {
		if _, done := r.ExecutedNodes[n.ID]; done {
			results[i].skipped = true
			continue
		}
		m := x.models[n.ID]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i].turn, results[i].err = c.callWithRetry(ctx, n, func(ctx context.Context) (*agent.Turn, error) {
				return c.exec.Execute(ctx, n, transcript, m)
			})
		}
		if err := c.pool.Submit(task); err != nil {
			wg.Done()
			results[i].err = fmt.Errorf("schedule %s: %w", n.Name(), err)
		}
	}
	wg.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var failed []string
	for i, n := range nodes {
		res := results[i]
		switch {
		case res.skipped:
		case res.err != nil:
			failed = append(failed, fmt.Sprintf("%s: %v", n.Name(), res.err))
			if err := c.record(ctx, r, &run.Message{
				AgentName:   n.Name(),
				AgentType:   string(n.Type),
				Content:     res.err.Error(),
				MessageType: run.MessageTypeError,
				Metadata:    map[string]any{run.MetaNodeID: n.ID},
			}); err != nil {
				return err
			}
		default:
			r.AppendTranscript(n.Name(), res.turn.Text)
			r.ExecutedNodes[n.ID] = res.turn.Text
			if err := c.record(ctx, r, turnMessage(n, res.turn, run.MessageTypeChat, 0)); err != nil {
				return err
			}
		}
	}
	if len(failed) > 0 {
		return &groupError{failed: failed}
	}
	return nil
}

// callWithRetry retries retryable provider errors with linear backoff.
func (c *Controller) callWithRetry(ctx context.Context, n *workflow.Node,
	call func(context.Context) (*agent.Turn, error)) (*agent.Turn, error) {
	for attempt := 0; ; attempt++ {
		turn, err := call(ctx)
		if err == nil || attempt >= c.opts.maxRetries || !retryable(err) {
			return turn, err
		}
		wait := time.Duration(attempt+1) * c.opts.retryBackoff
		log.WarnfContext(ctx, "node %s: attempt %d failed, retrying in %s: %v", n.Name(), attempt+1, wait, err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func retryable(err error) bool {
	var merr *model.Error
	return errors.As(err, &merr) && merr.Retryable()
}

// record stamps m with the run's next sequence number, stores it and
// publishes it.
func (c *Controller) record(ctx context.Context, r *run.Run, m *run.Message) error {
	m.ID = c.opts.newID()
	m.RunID = r.ID
	m.SequenceNumber = r.NextSequence()
	m.Timestamp = time.Now().UTC()
	if err := c.store.AppendMessage(context.WithoutCancel(ctx), m); err != nil {
		return fmt.Errorf("record message %d of run %s: %w", m.SequenceNumber, r.ID, err)
	}
	c.opts.sink.Publish(ctx, Event{Type: EventMessage, RunID: r.ID, Data: m.Clone(), Timestamp: m.Timestamp})
	return nil
}

func (c *Controller) save(ctx context.Context, r *run.Run) error {
	if err := c.store.Save(context.WithoutCancel(ctx), r); err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

func (c *Controller) status(ctx context.Context, x *execution, msg string) {
	c.opts.sink.Publish(ctx, Event{
		Type:      EventExecutionStatus,
		RunID:     x.run.ID,
		Status:    x.run.Status,
		Message:   msg,
		Progress:  x.progress(),
		Timestamp: time.Now().UTC(),
	})
}

func turnMessage(n *workflow.Node, t *agent.Turn, typ run.MessageType, iteration int) *run.Message {
	meta := map[string]any{
		run.MetaProvider:     t.Provider,
		run.MetaModel:        t.Model,
		run.MetaTemperature:  t.Temperature,
		run.MetaCostEstimate: t.CostEstimate,
		run.MetaNodeID:       n.ID,
	}
	if iteration > 0 {
		meta[run.MetaIteration] = iteration
	}
	return &run.Message{
		AgentName:      n.Name(),
		AgentType:      string(n.Type),
		Content:        t.Text,
		MessageType:    typ,
		ResponseTimeMs: t.ResponseTimeMs(),
		TokenCount:     t.TokenCount,
		Metadata:       meta,
	}
}
