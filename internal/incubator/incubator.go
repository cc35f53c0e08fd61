package incubator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/sovereign/internal/record"
	"github.com/roach88/sovereign/internal/rules"
)

const (
	DefaultSpawnTimeout    = 30 * time.Second
	DefaultResponseTimeout = 60 * time.Second
	DefaultTeardownGrace   = 2 * time.Second
)

// Ledger is where tasks write their reports.
type Ledger interface {
	Append(ctx context.Context, rec record.Record) (record.Record, error)
}

// Guard is the kill switch as seen by the incubator.
type Guard interface {
	CheckActive(ctx context.Context) bool
}

// Config tunes spawn behavior. Zero values select the defaults.
type Config struct {
	SpawnTimeout    time.Duration
	ResponseTimeout time.Duration
	TeardownGrace   time.Duration
	// WorkspaceRoot is where per-run workspaces are created. Empty means
	// the OS temp directory.
	WorkspaceRoot string
}

func (c Config) withDefaults() Config {
	if c.SpawnTimeout <= 0 {
		c.SpawnTimeout = DefaultSpawnTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.TeardownGrace <= 0 {
		c.TeardownGrace = DefaultTeardownGrace
	}
	return c
}

// Result describes a successful spawn.
type Result struct {
	TaskType  string         `json:"task_type"`
	AgentID   string         `json:"agent_id"`
	Output    record.Payload `json:"output"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// Incubator spawns tasks from a registry and answers trigger events.
type Incubator struct {
	registry  *Registry
	rules     *rules.Table
	ledger    Ledger
	guard     Guard
	cfg       Config
	logger    *slog.Logger
	newSuffix func() string
}

// Option configures an Incubator.
type Option func(*Incubator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(inc *Incubator) {
		if l != nil {
			inc.logger = l
		}
	}
}

// WithGuard makes every spawn consult the kill switch first.
func WithGuard(g Guard) Option {
	return func(inc *Incubator) { inc.guard = g }
}

// WithConfig overrides timeouts and the workspace root.
func WithConfig(cfg Config) Option {
	return func(inc *Incubator) { inc.cfg = cfg.withDefaults() }
}

// WithAgentSuffix overrides the random suffix of spawned agent IDs.
func WithAgentSuffix(fn func() string) Option {
	return func(inc *Incubator) {
		if fn != nil {
			inc.newSuffix = fn
		}
	}
}

// New creates an incubator.
func New(registry *Registry, table *rules.Table, ledger Ledger, opts ...Option) (*Incubator, error) {
	if registry == nil {
		return nil, errors.New("incubator: registry is required")
	}
	if table == nil {
		return nil, errors.New("incubator: rule table is required")
	}
	if ledger == nil {
		return nil, errors.New("incubator: ledger is required")
	}
	inc := &Incubator{
		registry:  registry,
		rules:     table,
		ledger:    ledger,
		cfg:       Config{}.withDefaults(),
		logger:    slog.Default(),
		newSuffix: randomSuffix,
	}
	for _, opt := range opts {
		opt(inc)
	}
	return inc, nil
}

// Registry returns the task registry.
func (inc *Incubator) Registry() *Registry {
	return inc.registry
}

// Config returns the effective configuration.
func (inc *Incubator) Config() Config {
	return inc.cfg
}

func randomSuffix() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}

// AgentID returns the identity a spawned task of taskType runs under.
func AgentID(taskType, suffix string) string {
	return "temp_" + taskType + "_" + suffix
}

type runOutcome struct {
	output record.Payload
	err    error
}

// Spawn builds and runs one task of taskType under timeout (the configured
// spawn timeout when timeout <= 0). It returns a Result on success and a
// *TemplateNotFoundError, *TimeoutError, *ExecutionError or ErrHalted
// otherwise. The task's workspace never outlives the call.
func (inc *Incubator) Spawn(ctx context.Context, taskType string, params record.Payload, timeout time.Duration) (*Result, error) {
	tpl, ok := inc.registry.Lookup(taskType)
	if !ok {
		return nil, &TemplateNotFoundError{TaskType: taskType, Known: inc.registry.Names()}
	}
	if inc.guard != nil && !inc.guard.CheckActive(ctx) {
		return nil, ErrHalted
	}
	if timeout <= 0 {
		timeout = inc.cfg.SpawnTimeout
	}
	if params == nil {
		params = record.Payload{}
	}

	agentID := AgentID(taskType, inc.newSuffix())
	log := inc.logger.With("module", "incubator", "task_type", taskType, "agent_id", agentID)

	task, err := tpl.Build(params)
	if err != nil {
		return nil, &ExecutionError{TaskType: taskType, AgentID: agentID, Phase: "build", Err: err}
	}

	workspace, err := os.MkdirTemp(inc.cfg.WorkspaceRoot, "sovereign-"+taskType+"-*")
	if err != nil {
		return nil, &ExecutionError{TaskType: taskType, AgentID: agentID, Phase: "workspace", Err: err}
	}
	defer inc.teardown(log, workspace)

	log.Info("task spawned",
		"event", "incubator_spawn",
		"workspace", workspace,
		"timeout", timeout.String(),
	)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	gate := &runGate{ctx: runCtx}
	defer func() {
		cancel()
		gate.close()
	}()

	env := Env{
		TaskType:  taskType,
		AgentID:   agentID,
		Workspace: workspace,
		Params:    params,
		Logger:    log,
		ledger:    inc.ledger,
		gate:      gate,
	}

	started := time.Now()
	done := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runOutcome{err: &PanicError{Value: r}}
			}
		}()
		out, err := task.Run(runCtx, env)
		done <- runOutcome{output: out, err: err}
	}()

	var outcome runOutcome
	select {
	case outcome = <-done:
	case <-runCtx.Done():
		grace := time.NewTimer(inc.cfg.TeardownGrace)
		select {
		case outcome = <-done:
			grace.Stop()
		case <-grace.C:
			outcome.err = runCtx.Err()
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				log.Error("task ignored cancellation, abandoning",
					"event", "incubator_task_abandoned",
					"grace", inc.cfg.TeardownGrace.String(),
				)
				return nil, &TimeoutError{TaskType: taskType, AgentID: agentID, Timeout: timeout, Abandoned: true}
			}
		}
	}
	elapsed := time.Since(started)

	if outcome.err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			log.Warn("task timed out",
				"event", "incubator_timeout",
				"elapsed", elapsed.String(),
			)
			return nil, &TimeoutError{TaskType: taskType, AgentID: agentID, Timeout: timeout}
		}
		log.Warn("task failed",
			"event", "incubator_task_failed",
			"error", outcome.err.Error(),
		)
		return nil, &ExecutionError{TaskType: taskType, AgentID: agentID, Phase: "run", Err: outcome.err}
	}

	if outcome.output == nil {
		outcome.output = record.Payload{}
	}
	log.Info("task complete",
		"event", "incubator_task_complete",
		"elapsed", elapsed.String(),
	)
	return &Result{
		TaskType:  taskType,
		AgentID:   agentID,
		Output:    outcome.output,
		StartedAt: started,
		Duration:  elapsed,
	}, nil
}

func (inc *Incubator) teardown(log *slog.Logger, workspace string) {
	if err := os.RemoveAll(workspace); err != nil {
		log.Error("workspace teardown failed",
			"event", "incubator_teardown_failed",
			"workspace", workspace,
			"error", err.Error(),
		)
		return
	}
	log.Debug("workspace removed", "event", "incubator_teardown", "workspace", workspace)
}

// SpawnOutcome records one spawn attempted in response to a trigger.
type SpawnOutcome struct {
	TaskType string `json:"task_type"`
	AgentID  string `json:"agent_id,omitempty"`
	Err      error  `json:"-"`
	Error    string `json:"error,omitempty"`
}

// Response records how a trigger was answered.
type Response struct {
	Trigger string         `json:"trigger"`
	Reason  string         `json:"reason"`
	Spawns  []SpawnOutcome `json:"spawns"`
}

// Respond is HandleEvent with the per-spawn outcomes. ok is false when the
// trigger is unknown or its condition does not hold; nothing is spawned then.
func (inc *Incubator) Respond(ctx context.Context, trigger string, data record.Payload) (Response, bool) {
	rule, ok := inc.rules.Lookup(trigger)
	if !ok {
		inc.logger.Debug("unknown trigger",
			"event", "incubator_unknown_trigger",
			"module", "incubator",
			"trigger", trigger,
		)
		return Response{}, false
	}
	if !rule.Condition.Eval(data) {
		return Response{}, false
	}

	inc.logger.Info("trigger conditions met, spawning responders",
		"event", "incubator_trigger",
		"module", "incubator",
		"trigger", trigger,
		"spawn_set", rule.SpawnSet,
	)

	resp := Response{Trigger: trigger, Reason: rule.Reason}
	for _, taskType := range rule.SpawnSet {
		res, err := inc.Spawn(ctx, taskType, responseParams(trigger, rule.Reason, data), inc.cfg.ResponseTimeout)
		out := SpawnOutcome{TaskType: taskType}
		if res != nil {
			out.AgentID = res.AgentID
		}
		if err != nil {
			out.Err = err
			out.Error = err.Error()
			inc.logger.Warn("response spawn failed",
				"event", "incubator_response_failed",
				"module", "incubator",
				"trigger", trigger,
				"task_type", taskType,
				"error", err.Error(),
			)
		}
		resp.Spawns = append(resp.Spawns, out)
		if errors.Is(err, ErrHalted) {
			break
		}
	}
	return resp, true
}

// responseParams builds the parameters of one responder. Each responder gets
// its own copy of the trigger data.
func responseParams(trigger, mission string, data record.Payload) record.Payload {
	td, err := data.Clone()
	if err != nil {
		td = maps.Clone(data)
	}
	if td == nil {
		td = record.Payload{}
	}
	return record.Payload{
		"trigger_event": trigger,
		"trigger_data":  map[string]any(td),
		"mission":       mission,
	}
}

// HandleEvent answers a trigger by spawning its response set sequentially.
// It reports whether a response was attempted, not whether it succeeded.
func (inc *Incubator) HandleEvent(ctx context.Context, trigger string, data record.Payload) bool {
	_, ok := inc.Respond(ctx, trigger, data)
	return ok
}

// runGate ends a spawn's ledger access when Spawn returns. Reports hold the
// read lock while writing; close waits for them and refuses later ones.
type runGate struct {
	ctx context.Context

	mu     sync.RWMutex
	closed bool
}

func (g *runGate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Env is what a running task may use.
type Env struct {
	TaskType  string
	AgentID   string
	Workspace string
	Params    record.Payload
	Logger    *slog.Logger

	ledger Ledger
	gate   *runGate
}

// Report appends a finding to the ledger under the task's identity. Within
// a spawn the write is bound to the spawn's deadline, and after Spawn has
// returned it fails with ErrSpawnFinished.
func (e Env) Report(ctx context.Context, messageType string, payload record.Payload) (record.Record, error) {
	if e.ledger == nil {
		return record.Record{}, fmt.Errorf("report %s: no ledger", messageType)
	}
	if e.gate != nil {
		e.gate.mu.RLock()
		defer e.gate.mu.RUnlock()
		if e.gate.closed {
			return record.Record{}, fmt.Errorf("report %s: %w", messageType, ErrSpawnFinished)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(e.gate.ctx, cancel)
		defer stop()
	}
	return e.ledger.Append(ctx, record.Record{
		AgentID:     e.AgentID,
		AgentType:   e.TaskType,
		MessageType: messageType,
		Payload:     payload,
	})
}

// NewEnv builds an Env outside a spawn. Tests and drills use it to run a
// task directly.
func NewEnv(taskType, agentID, workspace string, params record.Payload, ledger Ledger, logger *slog.Logger) Env {
	if logger == nil {
		logger = slog.Default()
	}
	return Env{
		TaskType:  taskType,
		AgentID:   agentID,
		Workspace: workspace,
		Params:    params,
		Logger:    logger,
		ledger:    ledger,
	}
}
