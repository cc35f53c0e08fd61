package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/sovereign/internal/record"
	"github.com/roach88/sovereign/internal/store"
	"github.com/roach88/sovereign/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStore(t *testing.T) (*store.Store, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(testutil.Epoch)
	st, err := store.Open(filepath.Join(t.TempDir(), "worker.db"), store.WithClock(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, clk
}

type staticGuard struct{ active atomic.Bool }

func (g *staticGuard) CheckActive(context.Context) bool { return g.active.Load() }

func newGuard(active bool) *staticGuard {
	g := &staticGuard{}
	g.active.Store(active)
	return g
}

// countingWorker writes one heartbeat per Execute.
type countingWorker struct {
	*Base
	runs atomic.Int32
	fail bool
	done chan int
}

func (w *countingWorker) Execute(ctx context.Context) (record.Payload, error) {
	n := int(w.runs.Add(1))
	defer func() { w.done <- n }()
	if w.fail {
		return nil, errors.New("boom")
	}
	payload := record.Payload{"run": n}
	return payload, w.WriteFinding(ctx, "heartbeat", payload)
}

func newCountingWorker(t *testing.T, st *store.Store, opts ...Option) *countingWorker {
	t.Helper()
	base, err := NewBase(Identity{AgentID: "pulse_001", AgentType: "scanner"}, st,
		append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return &countingWorker{Base: base, done: make(chan int, 16)}
}

func waitRun(t *testing.T, w *countingWorker) int {
	t.Helper()
	select {
	case n := <-w.done:
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not execute")
		return 0
	}
}

func TestNewBase_Validates(t *testing.T) {
	st, _ := setupTestStore(t)

	_, err := NewBase(Identity{}, st)
	assert.Error(t, err)

	_, err = NewBase(Identity{AgentID: "x"}, nil)
	assert.Error(t, err)
}

func TestWriteFinding_UsesIdentity(t *testing.T) {
	st, _ := setupTestStore(t)
	w := newCountingWorker(t, st)

	require.NoError(t, w.WriteFinding(context.Background(), "pulse_scan", record.Payload{"return_pct": 3.0}))

	recs, err := st.Records(context.Background(), store.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "pulse_001", recs[0].AgentID)
	assert.Equal(t, "scanner", recs[0].AgentType)
	assert.Equal(t, record.StatusPending, recs[0].Status)
}

func TestCheckKillSignal(t *testing.T) {
	ctx := context.Background()

	t.Run("quiet ledger runs", func(t *testing.T) {
		st, clk := setupTestStore(t)
		w := newCountingWorker(t, st, WithClock(clk))
		assert.False(t, w.CheckKillSignal(ctx))
	})

	t.Run("recent shutdown stops", func(t *testing.T) {
		st, clk := setupTestStore(t)
		w := newCountingWorker(t, st, WithClock(clk))
		require.NoError(t, Shutdown(ctx, st, "maintenance"))

		clk.Advance(30 * time.Second)
		assert.True(t, w.CheckKillSignal(ctx))

		clk.Advance(31 * time.Second)
		assert.False(t, w.CheckKillSignal(ctx), "shutdown older than the window is ignored")
	})

	t.Run("shutdown from another agent is ignored", func(t *testing.T) {
		st, clk := setupTestStore(t)
		w := newCountingWorker(t, st, WithClock(clk))
		_, err := st.Append(ctx, record.Record{AgentID: "pulse_002", MessageType: ShutdownMessageType})
		require.NoError(t, err)
		assert.False(t, w.CheckKillSignal(ctx))
	})

	t.Run("inactive kill switch stops", func(t *testing.T) {
		st, clk := setupTestStore(t)
		w := newCountingWorker(t, st, WithClock(clk), WithGuard(newGuard(false)))
		assert.True(t, w.CheckKillSignal(ctx))
	})

	t.Run("unreachable ledger keeps running", func(t *testing.T) {
		st, clk := setupTestStore(t)
		w := newCountingWorker(t, st, WithClock(clk))
		require.NoError(t, st.Close())
		assert.False(t, w.CheckKillSignal(ctx))
	})
}

func TestRun_ExecutesEachInterval(t *testing.T) {
	st, clk := setupTestStore(t)
	w := newCountingWorker(t, st, WithClock(clk))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- Run(ctx, w, RunConfig{Interval: 10 * time.Second, Clock: clk, Logger: quietLogger()})
	}()

	assert.Equal(t, 1, waitRun(t, w))
	require.Eventually(t, func() bool { return clk.Tickers() == 1 }, time.Second, time.Millisecond)
	for want := 2; want <= 3; want++ {
		clk.Advance(10 * time.Second)
		assert.Equal(t, want, waitRun(t, w))
	}

	cancel()
	require.NoError(t, <-errc)

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRun_StopsOnShutdown(t *testing.T) {
	st, clk := setupTestStore(t)
	w := newCountingWorker(t, st, WithClock(clk))

	errc := make(chan error, 1)
	go func() {
		errc <- Run(context.Background(), w, RunConfig{Interval: 10 * time.Second, Clock: clk, Logger: quietLogger()})
	}()

	waitRun(t, w)
	require.Eventually(t, func() bool { return clk.Tickers() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, Shutdown(context.Background(), st, "stop"))
	clk.Advance(10 * time.Second)

	assert.ErrorIs(t, <-errc, ErrKilled)
	assert.Equal(t, int32(1), w.runs.Load())
}

func TestRun_ContinuesAfterExecuteFailure(t *testing.T) {
	st, clk := setupTestStore(t)
	w := newCountingWorker(t, st, WithClock(clk))
	w.fail = true

	var results []error
	resultc := make(chan struct{}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- Run(ctx, w, RunConfig{
			Interval: time.Second,
			Clock:    clk,
			Logger:   quietLogger(),
			OnResult: func(_ record.Payload, err error) {
				results = append(results, err)
				resultc <- struct{}{}
			},
		})
	}()

	waitRun(t, w)
	<-resultc
	require.Eventually(t, func() bool { return clk.Tickers() == 1 }, time.Second, time.Millisecond)
	clk.Advance(time.Second)
	waitRun(t, w)
	<-resultc

	cancel()
	require.NoError(t, <-errc)
	assert.Len(t, results, 2)
	for _, err := range results {
		assert.EqualError(t, err, "boom")
	}
}
