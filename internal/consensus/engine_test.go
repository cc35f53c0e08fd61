package consensus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sovereign/internal/record"
	"github.com/roach88/sovereign/internal/store"
)

func setupTestEngine(t *testing.T, cfg Config) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e, err := New(st, cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return e, st
}

func whaleEvidence() record.Payload {
	return record.Payload{"tx": "0xdeadbeef", "amount": 1500000, "chain": "eth"}
}

func castVotes(t *testing.T, e *Engine, evidence record.Payload, confidences ...float64) string {
	t.Helper()
	var hash string
	for i, c := range confidences {
		h, err := e.SubmitVote(context.Background(), agentName(i), "whale", evidence, c, "whale_move")
		require.NoError(t, err)
		if hash != "" {
			require.Equal(t, hash, h, "same evidence must fingerprint identically")
		}
		hash = h
	}
	return hash
}

func agentName(i int) string {
	return "whale_" + string(rune('a'+i))
}

func TestNew_ValidatesConfig(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()

	_, err = New(st, Config{Quorum: 0, Threshold: 0.8})
	assert.Error(t, err)
	_, err = New(st, Config{Quorum: 3, Threshold: 1.5})
	assert.Error(t, err)
	_, err = New(st, Config{Quorum: 3, Threshold: math.NaN()})
	assert.Error(t, err)
	_, err = New(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestScenario_ThreeVotesConfirm(t *testing.T) {
	ctx := context.Background()
	e, st := setupTestEngine(t, DefaultConfig())

	hash := castVotes(t, e, whaleEvidence(), 0.9, 0.85, 0.95)

	res, err := e.CheckConsensus(ctx, hash)
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.True(t, res.NewlyConfirmed)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.InDelta(t, 0.9, res.MeanConfidence, 1e-9)
	assert.Equal(t, "Sovereign Truth confirmed: 0.90 confidence", res.Detail)

	votes, err := st.Votes(ctx, hash)
	require.NoError(t, err)
	for _, v := range votes {
		assert.Equal(t, record.VoteConfirmed, v.Status)
	}

	truth, err := st.Records(ctx, store.Query{MessageType: record.MessageSovereignTruth})
	require.NoError(t, err)
	require.Len(t, truth, 1)
	assert.Equal(t, hash, truth[0].Payload["event_hash"])
	assert.Equal(t, record.StatusConfirmed, truth[0].Status)
	assert.Equal(t, EngineAgentID, truth[0].AgentID)
}

func TestScenario_TwoVotesInsufficient(t *testing.T) {
	e, _ := setupTestEngine(t, DefaultConfig())
	hash := castVotes(t, e, whaleEvidence(), 0.9, 0.95)

	res, err := e.CheckConsensus(context.Background(), hash)
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.Equal(t, OutcomeQuorumNotMet, res.Outcome)
	assert.Contains(t, res.Detail, "2/3")
}

func TestCheckConsensus_ZeroVotes(t *testing.T) {
	e, _ := setupTestEngine(t, DefaultConfig())

	res, err := e.CheckConsensus(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.Equal(t, "insufficient votes: 0/3", res.Detail)
	assert.Equal(t, 0.0, res.MeanConfidence)
}

func TestQuorumBoundary(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t, DefaultConfig())

	hash := castVotes(t, e, whaleEvidence(), 1.0, 1.0)
	res, err := e.CheckConsensus(ctx, hash)
	require.NoError(t, err)
	assert.False(t, res.Confirmed, "Q-1 votes at full confidence")

	_, err = e.SubmitVote(ctx, "whale_z", "whale", whaleEvidence(), 0.8, "whale_move")
	require.NoError(t, err)
	res, err = e.CheckConsensus(ctx, hash)
	require.NoError(t, err)
	assert.True(t, res.Confirmed, "Q-th vote at >= C")
}

func TestConfidenceBoundary(t *testing.T) {
	tests := []struct {
		name        string
		confidences []float64
		want        bool
	}{
		{"exactly C, uniform", []float64{0.8, 0.8, 0.8}, true},
		{"exactly C, spread", []float64{0.7, 0.8, 0.9}, true},
		{"C minus epsilon", []float64{0.79, 0.79, 0.79}, false},
		{"just below", []float64{0.8, 0.8, 0.7999}, false},
		{"below by less than 1e-9", []float64{0.8 - 1e-10, 0.8 - 1e-10, 0.8 - 1e-10}, false},
		{"below by 1e-12", []float64{0.8, 0.8, 0.8 - 3e-12}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := setupTestEngine(t, DefaultConfig())
			hash := castVotes(t, e, whaleEvidence(), tt.confidences...)

			res, err := e.CheckConsensus(context.Background(), hash)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Confirmed, "mean=%v", res.MeanConfidence)
			if !tt.want {
				assert.Equal(t, OutcomeLowConfidence, res.Outcome)
				assert.Contains(t, res.Detail, "low confidence")
			}
		})
	}
}

func TestMonotonic(t *testing.T) {
	ctx := context.Background()
	e, st := setupTestEngine(t, DefaultConfig())

	hash := castVotes(t, e, whaleEvidence(), 0.9, 0.9, 0.9)
	res, err := e.CheckConsensus(ctx, hash)
	require.NoError(t, err)
	require.True(t, res.Confirmed)

	// Low-confidence stragglers drag the mean under C but cannot revert it.
	for i := 0; i < 5; i++ {
		_, err := e.SubmitVote(ctx, "late", "whale", whaleEvidence(), 0.0, "whale_move")
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		res, err = e.CheckConsensus(ctx, hash)
		require.NoError(t, err)
		assert.True(t, res.Confirmed)
		assert.False(t, res.NewlyConfirmed)
	}

	pending, err := e.ListPendingEvents(ctx)
	require.NoError(t, err)
	assert.NotContains(t, pending, hash, "late votes are swept to confirmed")

	truth, err := st.Records(ctx, store.Query{MessageType: record.MessageSovereignTruth})
	require.NoError(t, err)
	assert.Len(t, truth, 1, "truth is recorded once")
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	e, _ := setupTestEngine(t, DefaultConfig())
	ctx := context.Background()

	a := record.Payload{}
	a["tx"] = "0x1"
	a["amount"] = 10
	b := record.Payload{}
	b["amount"] = 10.0
	b["tx"] = "0x1"

	h1, err := e.SubmitVote(ctx, "x", "t", a, 0.9, "c")
	require.NoError(t, err)
	h2, err := e.SubmitVote(ctx, "y", "t", b, 0.9, "c")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestSubmitVote_ConfidencePolicy(t *testing.T) {
	ctx := context.Background()
	e, st := setupTestEngine(t, DefaultConfig())

	hash, err := e.SubmitVote(ctx, "a", "t", whaleEvidence(), 1.7, "c")
	require.NoError(t, err, "out-of-range confidence is accepted as given")
	votes, err := st.Votes(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 1.7, votes[0].ConfidenceScore)

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := e.SubmitVote(ctx, "a", "t", whaleEvidence(), bad, "c")
		assert.ErrorIs(t, err, ErrInvalidConfidence)
	}
}

func TestDedupeByAgent(t *testing.T) {
	ctx := context.Background()

	// Without dedupe one noisy agent reaches quorum on its own.
	e, _ := setupTestEngine(t, DefaultConfig())
	var hash string
	for i := 0; i < 3; i++ {
		h, err := e.SubmitVote(ctx, "same", "t", whaleEvidence(), 0.9, "c")
		require.NoError(t, err)
		hash = h
	}
	res, err := e.CheckConsensus(ctx, hash)
	require.NoError(t, err)
	assert.True(t, res.Confirmed)

	cfg := DefaultConfig()
	cfg.DedupeByAgent = true
	e, _ = setupTestEngine(t, cfg)
	for _, c := range []float64{0.1, 0.2, 0.9} {
		_, err := e.SubmitVote(ctx, "same", "t", whaleEvidence(), c, "c")
		require.NoError(t, err)
	}
	res, err = e.CheckConsensus(ctx, hash)
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.Equal(t, 1, res.Votes)
	assert.InDelta(t, 0.9, res.MeanConfidence, 1e-9, "latest vote per agent counts")
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t, DefaultConfig())

	confirmed := castVotes(t, e, whaleEvidence(), 0.9, 0.9, 0.9)
	waiting := castVotes(t, e, record.Payload{"tx": "0x2"}, 0.9)

	results, err := e.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byHash := map[string]Result{}
	for _, r := range results {
		byHash[r.EventHash] = r
	}
	assert.True(t, byHash[confirmed].Confirmed)
	assert.False(t, byHash[waiting].Confirmed)

	pending, err := e.ListPendingEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{waiting}, pending)
}

type failingLedger struct {
	Ledger
	err error
}

func (f failingLedger) Votes(context.Context, string) ([]record.Vote, error) {
	return nil, f.err
}

func (f failingLedger) PendingEventHashes(context.Context) ([]string, error) {
	return []string{"a", "b"}, nil
}

func TestCheckConsensus_StoreFailureIsError(t *testing.T) {
	unavailable := store.NewUnavailableError("query votes", errors.New("disk gone"))
	e, err := New(failingLedger{err: unavailable}, DefaultConfig())
	require.NoError(t, err)

	_, err = e.CheckConsensus(context.Background(), "h")
	assert.True(t, store.IsUnavailable(err))

	results, err := e.Sweep(context.Background())
	assert.Empty(t, results)
	assert.True(t, store.IsUnavailable(err))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "confirmed", OutcomeConfirmed.String())
	assert.Equal(t, "quorum_not_met", OutcomeQuorumNotMet.String())
	assert.Equal(t, "low_confidence", OutcomeLowConfidence.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
