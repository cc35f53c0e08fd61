package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/sovereign/internal/consensus"
	"github.com/roach88/sovereign/internal/incubator"
	"github.com/roach88/sovereign/internal/inquisitor"
	"github.com/roach88/sovereign/internal/killswitch"
	"github.com/roach88/sovereign/internal/monitor"
	"github.com/roach88/sovereign/internal/record"
	"github.com/roach88/sovereign/internal/rules"
	"github.com/roach88/sovereign/internal/store"
	"github.com/roach88/sovereign/internal/tasks"
	"github.com/roach88/sovereign/internal/testutil"
	"github.com/roach88/sovereign/internal/worker"
)

// stepInterval is how far the fake clock moves between steps.
const stepInterval = time.Second

// Harness holds the scratch system a drill runs against.
type Harness struct {
	store      *store.Store
	clock      *testutil.FakeClock
	killSwitch *killswitch.Switch
	engine     *consensus.Engine
	incubator  *incubator.Incubator
	monitor    *monitor.Monitor
	inq        *inquisitor.Inquisitor
	logger     *slog.Logger
	result     *Result
}

// Option configures a drill run.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	templates []incubator.Template
}

// WithLogger sends component logs to l instead of discarding them.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTemplates registers extra task types next to the built-ins.
func WithTemplates(t ...incubator.Template) Option {
	return func(o *options) { o.templates = append(o.templates, t...) }
}

// Run executes a drill in a fresh in-memory ledger and evaluates its
// assertions. An error means the drill could not be run; failed assertions
// are reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	h, err := newHarness(o)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	if scenario.Halted {
		if err := h.killSwitch.Halt(ctx, "drill"); err != nil {
			return nil, fmt.Errorf("failed to trip kill switch: %w", err)
		}
	}
	if err := h.executeVotes(ctx, scenario.Votes); err != nil {
		return nil, fmt.Errorf("failed to execute votes: %w", err)
	}
	if err := h.executeRecords(ctx, scenario.Records); err != nil {
		return nil, fmt.Errorf("failed to execute records: %w", err)
	}
	if err := h.executePlans(ctx, scenario.Plans); err != nil {
		return nil, fmt.Errorf("failed to execute plans: %w", err)
	}

	h.clock.Advance(stepInterval)
	report := h.monitor.RunCycle(ctx)
	if report.Err != nil {
		return nil, fmt.Errorf("monitor cycle failed: %w", report.Err)
	}

	if err := h.collectLedger(ctx); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func newHarness(o options) (*Harness, error) {
	clk := testutil.NewFakeClock(testutil.Epoch)
	ids := testutil.NewSequentialIDs("rec")

	st, err := store.Open(":memory:", store.WithClock(clk.Now), store.WithIDGenerator(ids.Next))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	h := &Harness{store: st, clock: clk, logger: o.logger, result: NewResult()}
	h.killSwitch = killswitch.New(st,
		killswitch.WithLookupEnv(func(string) (string, bool) { return "", false }),
		killswitch.WithLogger(o.logger),
	)

	h.engine, err = consensus.New(st, consensus.DefaultConfig(), consensus.WithLogger(o.logger))
	if err != nil {
		st.Close()
		return nil, err
	}

	reg, err := incubator.NewRegistry(append(tasks.Templates(), o.templates...)...)
	if err != nil {
		st.Close()
		return nil, err
	}
	var spawned atomic.Int64
	h.incubator, err = incubator.New(reg, rules.DefaultTable(), st,
		incubator.WithGuard(h.killSwitch),
		incubator.WithLogger(o.logger),
		incubator.WithAgentSuffix(func() string { return fmt.Sprintf("%08d", spawned.Add(1)) }),
	)
	if err != nil {
		st.Close()
		return nil, err
	}

	h.monitor = monitor.New(st, rules.DefaultTable(), tracingHandler{h},
		monitor.WithClock(clk),
		monitor.WithLogger(o.logger),
	)

	h.inq, err = inquisitor.New(st, worker.WithClock(clk), worker.WithLogger(o.logger))
	if err != nil {
		st.Close()
		return nil, err
	}
	return h, nil
}

// executeVotes submits every vote, then checks consensus once per event in
// order of first appearance.
func (h *Harness) executeVotes(ctx context.Context, votes []VoteStep) error {
	var hashes []string
	seen := map[string]bool{}
	for _, v := range votes {
		h.clock.Advance(stepInterval)
		hash, err := h.engine.SubmitVote(ctx, v.AgentID, v.AgentType, record.Payload(v.Event), v.Confidence, v.Category)
		if err != nil {
			return err
		}
		h.result.add(KindVote, v.Category, v.AgentID, map[string]any{"event_hash": hash})
		if !seen[hash] {
			seen[hash] = true
			hashes = append(hashes, hash)
		}
	}
	for _, hash := range hashes {
		res, err := h.engine.CheckConsensus(ctx, hash)
		if err != nil {
			return err
		}
		h.result.add(KindConsensus, res.Outcome.String(), "", map[string]any{
			"event_hash": hash,
			"votes":      res.Votes,
			"detail":     res.Detail,
		})
	}
	return nil
}

func (h *Harness) executeRecords(ctx context.Context, recs []RecordStep) error {
	for _, r := range recs {
		h.clock.Advance(stepInterval)
		rec, err := h.store.Append(ctx, record.Record{
			AgentID:     r.AgentID,
			AgentType:   r.AgentType,
			MessageType: r.MessageType,
			Payload:     record.Payload(r.Payload),
		})
		if err != nil {
			return err
		}
		h.result.add(KindRecord, rec.MessageType, rec.AgentID, nil)
	}
	return nil
}

func (h *Harness) executePlans(ctx context.Context, plans []inquisitor.Plan) error {
	for _, p := range plans {
		h.clock.Advance(stepInterval)
		v, err := h.inq.Validate(ctx, p)
		if err != nil {
			return err
		}
		h.result.add(KindPlan, v.Verdict, inquisitor.AgentID, map[string]any{
			"plan":            p.Name,
			"high_risk_count": v.HighRiskCount,
		})
	}
	return nil
}

func (h *Harness) collectLedger(ctx context.Context) error {
	recs, err := h.store.Records(ctx, store.Query{Order: store.OldestFirst})
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	for _, r := range recs {
		h.result.Ledger = append(h.result.Ledger, LedgerEntry{
			AgentID:     r.AgentID,
			MessageType: r.MessageType,
			Status:      string(r.Status),
		})
	}
	return nil
}

// tracingHandler answers triggers through the incubator and records every
// trigger and spawn in the trace.
type tracingHandler struct{ h *Harness }

func (t tracingHandler) HandleEvent(ctx context.Context, trigger string, data record.Payload) bool {
	resp, ok := t.h.incubator.Respond(ctx, trigger, data)
	if !ok {
		return false
	}
	t.h.result.add(KindTrigger, trigger, "", map[string]any{"reason": resp.Reason})
	for _, s := range resp.Spawns {
		var detail map[string]any
		if s.Err != nil {
			detail = map[string]any{"error": s.Error}
		}
		t.h.result.add(KindSpawn, s.TaskType, s.AgentID, detail)
	}
	return true
}
