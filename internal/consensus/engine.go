package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/roach88/sovereign/internal/record"
)

const (
	DefaultQuorum    = 3
	DefaultThreshold = 0.8

	// EngineAgentID signs the sovereign_truth records the engine appends.
	EngineAgentID   = "consensus_engine"
	EngineAgentType = "consensus"
)

// ErrInvalidConfidence rejects NaN and infinite confidence scores, which
// cannot be stored or averaged meaningfully.
var ErrInvalidConfidence = errors.New("confidence score must be a finite number")

// Ledger is the subset of the ledger the engine needs.
type Ledger interface {
	Append(ctx context.Context, rec record.Record) (record.Record, error)
	AppendVote(ctx context.Context, v record.Vote) (record.Vote, error)
	Votes(ctx context.Context, eventHash string) ([]record.Vote, error)
	ConfirmVotes(ctx context.Context, eventHash string) (int64, error)
	PendingEventHashes(ctx context.Context) ([]string, error)
}

// Config holds the consensus policy.
type Config struct {
	Quorum    int
	Threshold float64

	// DedupeByAgent counts only the most recent vote of each agent.
	// Every vote is still stored.
	DedupeByAgent bool
}

// DefaultConfig returns quorum 3, threshold 0.8, no dedupe.
func DefaultConfig() Config {
	return Config{Quorum: DefaultQuorum, Threshold: DefaultThreshold}
}

// Validate checks the policy is usable.
func (c Config) Validate() error {
	if c.Quorum < 1 {
		return fmt.Errorf("quorum must be at least 1, got %d", c.Quorum)
	}
	if math.IsNaN(c.Threshold) || c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("confidence threshold must be within [0,1], got %v", c.Threshold)
	}
	return nil
}

// Engine submits and evaluates votes.
type Engine struct {
	ledger Ledger
	cfg    Config
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an engine. It fails if cfg is invalid.
func New(ledger Ledger, cfg Config, opts ...Option) (*Engine, error) {
	if ledger == nil {
		return nil, errors.New("consensus: ledger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("consensus: %w", err)
	}
	e := &Engine{ledger: ledger, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine's policy.
func (e *Engine) Config() Config {
	return e.cfg
}

// SubmitVote fingerprints eventData, stores a pending vote and returns the
// fingerprint. Confidence outside [0,1] is stored as given.
func (e *Engine) SubmitVote(ctx context.Context, agentID, agentType string, eventData record.Payload, confidence float64, category string) (string, error) {
	if math.IsNaN(confidence) || math.IsInf(confidence, 0) {
		return "", ErrInvalidConfidence
	}
	if eventData == nil {
		eventData = record.Payload{}
	}

	hash, err := record.EventHash(eventData)
	if err != nil {
		return "", fmt.Errorf("submit vote: %w", err)
	}

	evidence, err := eventData.Clone()
	if err != nil {
		return "", fmt.Errorf("submit vote: copy evidence: %w", err)
	}

	v, err := e.ledger.AppendVote(ctx, record.Vote{
		EventHash:       hash,
		AgentID:         agentID,
		AgentType:       agentType,
		Category:        category,
		ConfidenceScore: confidence,
		Evidence:        evidence,
		Status:          record.VotePending,
	})
	if err != nil {
		return "", fmt.Errorf("submit vote: %w", err)
	}

	e.logger.Info("vote cast",
		"event", "consensus_vote_cast",
		"module", "consensus",
		"vote_id", v.ID,
		"event_hash", hash,
		"agent_id", agentID,
		"agent_type", agentType,
		"category", category,
		"confidence", confidence,
	)
	return hash, nil
}

// CheckConsensus evaluates every vote for eventHash.
// When the thresholds are met all votes for the event are confirmed and, the
// first time only, a sovereign_truth record is appended to the ledger.
func (e *Engine) CheckConsensus(ctx context.Context, eventHash string) (Result, error) {
	votes, err := e.ledger.Votes(ctx, eventHash)
	if err != nil {
		return Result{}, fmt.Errorf("check consensus %s: %w", eventHash, err)
	}

	counted := votes
	if e.cfg.DedupeByAgent {
		counted = latestPerAgent(votes)
	}

	res := Result{
		EventHash:      eventHash,
		Votes:          len(counted),
		Quorum:         e.cfg.Quorum,
		Threshold:      e.cfg.Threshold,
		MeanConfidence: meanConfidence(counted),
	}

	if anyConfirmed(votes) {
		// Late votes join the confirmed set; the outcome never reverts.
		if _, err := e.ledger.ConfirmVotes(ctx, eventHash); err != nil {
			return Result{}, fmt.Errorf("check consensus %s: %w", eventHash, err)
		}
		return res.confirmed(false), nil
	}

	if len(counted) < e.cfg.Quorum {
		res.Outcome = OutcomeQuorumNotMet
		res.Detail = fmt.Sprintf("insufficient votes: %d/%d", len(counted), e.cfg.Quorum)
		return res, nil
	}

	if res.MeanConfidence < e.cfg.Threshold-roundingSlack(counted) {
		res.Outcome = OutcomeLowConfidence
		res.Detail = fmt.Sprintf("low confidence: %.2f < %.2f", res.MeanConfidence, e.cfg.Threshold)
		return res, nil
	}

	n, err := e.ledger.ConfirmVotes(ctx, eventHash)
	if err != nil {
		return Result{}, fmt.Errorf("check consensus %s: %w", eventHash, err)
	}
	res = res.confirmed(n > 0)

	if res.NewlyConfirmed {
		e.logger.Info("sovereign truth confirmed",
			"event", "consensus_confirmed",
			"module", "consensus",
			"event_hash", eventHash,
			"votes", res.Votes,
			"mean_confidence", res.MeanConfidence,
		)
		e.appendTruth(ctx, res, votes)
	}
	return res, nil
}

// appendTruth records the confirmation. A failure is logged only: the votes
// are already confirmed and the outcome stands.
func (e *Engine) appendTruth(ctx context.Context, res Result, votes []record.Vote) {
	agents := make([]string, 0, len(votes))
	categories := make([]string, 0, len(votes))
	seenAgent := map[string]bool{}
	seenCategory := map[string]bool{}
	for _, v := range votes {
		if !seenAgent[v.AgentID] {
			seenAgent[v.AgentID] = true
			agents = append(agents, v.AgentID)
		}
		if v.Category != "" && !seenCategory[v.Category] {
			seenCategory[v.Category] = true
			categories = append(categories, v.Category)
		}
	}
	sort.Strings(agents)
	sort.Strings(categories)

	var evidence record.Payload
	if len(votes) > 0 {
		evidence = votes[0].Evidence
	}

	_, err := e.ledger.Append(ctx, record.Record{
		AgentID:     EngineAgentID,
		AgentType:   EngineAgentType,
		MessageType: record.MessageSovereignTruth,
		Status:      record.StatusConfirmed,
		Payload: record.Payload{
			"event_hash":      res.EventHash,
			"vote_count":      res.Votes,
			"mean_confidence": res.MeanConfidence,
			"agents":          agents,
			"categories":      categories,
			"evidence":        evidence,
		},
	})
	if err != nil {
		e.logger.Error("sovereign truth record not written",
			"event", "consensus_truth_append_failed",
			"module", "consensus",
			"event_hash", res.EventHash,
			"error", err.Error(),
		)
	}
}

// ListPendingEvents returns fingerprints with at least one pending vote.
func (e *Engine) ListPendingEvents(ctx context.Context) ([]string, error) {
	hashes, err := e.ledger.PendingEventHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	return hashes, nil
}

// Sweep checks every pending event. Failures on individual events do not
// stop the sweep; they are joined into the returned error.
func (e *Engine) Sweep(ctx context.Context) ([]Result, error) {
	hashes, err := e.ListPendingEvents(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hashes))
	var errs []error
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := e.CheckConsensus(ctx, h)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func anyConfirmed(votes []record.Vote) bool {
	for _, v := range votes {
		if v.Status == record.VoteConfirmed {
			return true
		}
	}
	return false
}

func meanConfidence(votes []record.Vote) float64 {
	if len(votes) == 0 {
		return 0
	}
	var sum float64
	for _, v := range votes {
		sum += v.ConfidenceScore
	}
	return sum / float64(len(votes))
}

// roundingSlack bounds the float error of meanConfidence over votes: at most
// one unit of roundoff per addition plus the division, scaled by the
// magnitudes summed. Means closer to the threshold than this are
// indistinguishable from it.
func roundingSlack(votes []record.Vote) float64 {
	var abs float64
	for _, v := range votes {
		abs += math.Abs(v.ConfidenceScore)
	}
	return float64(len(votes)+1) * 0x1p-52 * math.Max(abs, 1)
}

// latestPerAgent keeps the last vote of each agent. votes must be oldest first.
func latestPerAgent(votes []record.Vote) []record.Vote {
	idx := make(map[string]int, len(votes))
	out := make([]record.Vote, 0, len(votes))
	for _, v := range votes {
		if i, ok := idx[v.AgentID]; ok {
			out[i] = v
			continue
		}
		idx[v.AgentID] = len(out)
		out = append(out, v)
	}
	return out
}
