// Package modes switches the swarm between its operating modes.
//
// The mode lives in the ledger's system status rows next to the kill signal,
// so every process reads the same value. Switching appends a row with the
// reason and logs what the new mode asks of the swarm.
package modes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/sovereign/internal/record"
)

// ErrUnknownMode is returned by Set for a mode outside record.Modes.
var ErrUnknownMode = errors.New("unknown mode")

// Store is the status side of the ledger.
type Store interface {
	Mode(ctx context.Context) (record.Mode, error)
	SetMode(ctx context.Context, mode record.Mode, reason string) error
}

// Profile describes what a mode asks of the swarm.
type Profile struct {
	Mode    record.Mode `json:"mode"`
	Summary string      `json:"summary"`
	Actions []string    `json:"actions"`
}

var profiles = map[record.Mode]Profile{
	record.ModeMoney: {
		Mode:    record.ModeMoney,
		Summary: "focus every resource on profit",
		Actions: []string{
			"stop discovery and learning agents",
			"pulse scans stock tickers only",
			"simulator runs market prediction only",
		},
	},
	record.ModeDiscovery: {
		Mode:    record.ModeDiscovery,
		Summary: "explore new opportunities",
		Actions: []string{
			"pulse scans patents and telemetry",
			"spider runs in research mode",
		},
	},
	record.ModeSurvivor: {
		Mode:    record.ModeSurvivor,
		Summary: "under pressure, go quiet",
		Actions: []string{
			"all agents slow to minimum speed",
			"pulse issues minimum viable queries",
			"black box logging at maximum",
		},
	},
}

// ProfileOf returns the profile of m.
func ProfileOf(m record.Mode) Profile {
	return profiles[m]
}

// Transition is the outcome of Set.
type Transition struct {
	From    record.Mode `json:"from"`
	To      record.Mode `json:"to"`
	Reason  string      `json:"reason,omitempty"`
	Profile Profile     `json:"profile"`
}

// Manager reads and switches the mode.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a manager over store.
func New(store Store, opts ...Option) *Manager {
	m := &Manager{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the mode in force.
func (m *Manager) Current(ctx context.Context) (record.Mode, error) {
	mode, err := m.store.Mode(ctx)
	if err != nil {
		return "", fmt.Errorf("read mode: %w", err)
	}
	return mode, nil
}

// Set switches to name. Unknown names fail with ErrUnknownMode before
// anything is read or written. Setting the current mode again still records
// the reason.
func (m *Manager) Set(ctx context.Context, name, reason string) (Transition, error) {
	to, err := record.ParseMode(name)
	if err != nil {
		return Transition{}, fmt.Errorf("%w %q (known: %s)", ErrUnknownMode, name, knownModes())
	}
	from, err := m.Current(ctx)
	if err != nil {
		return Transition{}, err
	}
	if err := m.store.SetMode(ctx, to, reason); err != nil {
		return Transition{}, fmt.Errorf("switch mode: %w", err)
	}

	p := ProfileOf(to)
	m.logger.Warn("mode switched",
		"event", "mode_switch",
		"module", "modes",
		"from", string(from),
		"to", string(to),
		"reason", reason,
		"actions", p.Actions,
	)
	return Transition{From: from, To: to, Reason: reason, Profile: p}, nil
}

func knownModes() string {
	names := make([]string, 0, len(record.Modes()))
	for _, m := range record.Modes() {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}
