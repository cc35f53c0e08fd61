// Package killswitch decides whether the swarm may keep running.
//
// Two controls exist. A local override (the SOVEREIGN_OVERRIDE environment
// variable, then an optional override file) halts immediately when set to
// anything other than ACTIVE. A remote control row in the ledger halts when
// its kill signal is HALT. Failure to read the remote row never halts: the
// switch fails open and logs the failure.
package killswitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/roach88/sovereign/internal/record"
	"github.com/roach88/sovereign/internal/store"
)

const (
	// EnvOverride is the local override variable.
	EnvOverride = "SOVEREIGN_OVERRIDE"

	// OverrideActive is the only override value that lets the swarm run.
	OverrideActive = "ACTIVE"
)

// ErrHalted is returned by Watch when the switch trips.
var ErrHalted = errors.New("kill switch halted the system")

// Remote is the ledger-side control row.
type Remote interface {
	SystemStatus(ctx context.Context) (record.SystemStatus, bool, error)
	SetKillSignal(ctx context.Context, signal, reason string) error
}

// Source names which control produced a Decision.
type Source string

const (
	SourceEnv      Source = "env_override"
	SourceFile     Source = "file_override"
	SourceRemote   Source = "remote"
	SourceFailOpen Source = "remote_unreachable"
	SourceNoRemote Source = "no_remote"
	SourceNoSignal Source = "no_signal"
)

// Decision is the outcome of one check.
type Decision struct {
	Active bool   `json:"active"`
	Source Source `json:"source"`
	Reason string `json:"reason,omitempty"`
}

// Switch evaluates the local and remote controls.
type Switch struct {
	remote       Remote
	overrideFile string
	lookupEnv    func(string) (string, bool)
	logger       *slog.Logger
}

// Option configures a Switch.
type Option func(*Switch)

// WithOverrideFile sets a file whose trimmed contents act as a local
// override. A missing file is ignored.
func WithOverrideFile(path string) Option {
	return func(s *Switch) { s.overrideFile = path }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Switch) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLookupEnv replaces os.LookupEnv. Tests use it to avoid process-wide
// state.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(s *Switch) {
		if fn != nil {
			s.lookupEnv = fn
		}
	}
}

// New creates a switch. remote may be nil, in which case only local
// overrides apply.
func New(remote Remote, opts ...Option) *Switch {
	s := &Switch{
		remote:    remote,
		lookupEnv: os.LookupEnv,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OverrideFile returns the configured override file path, if any.
func (s *Switch) OverrideFile() string {
	return s.overrideFile
}

// CheckActive reports whether the system may keep running.
func (s *Switch) CheckActive(ctx context.Context) bool {
	return s.Check(ctx).Active
}

// Check evaluates the controls in order: env override, file override,
// remote signal.
func (s *Switch) Check(ctx context.Context) Decision {
	// Set to anything but ACTIVE, the empty string included, halts.
	if v, set := s.lookupEnv(EnvOverride); set && v != OverrideActive {
		s.logger.Warn("local override halted the system",
			"event", "killswitch_override",
			"module", "killswitch",
			"source", string(SourceEnv),
			"value", v,
		)
		return Decision{Active: false, Source: SourceEnv, Reason: fmt.Sprintf("%s=%s", EnvOverride, v)}
	}

	if v, ok := s.readOverrideFile(); ok && v != OverrideActive {
		s.logger.Warn("local override halted the system",
			"event", "killswitch_override",
			"module", "killswitch",
			"source", string(SourceFile),
			"value", v,
		)
		return Decision{Active: false, Source: SourceFile, Reason: fmt.Sprintf("%s contains %q", s.overrideFile, v)}
	}

	if s.remote == nil {
		return Decision{Active: true, Source: SourceNoRemote}
	}

	st, ok, err := s.remote.SystemStatus(ctx)
	if err != nil {
		s.logger.Warn("remote kill signal unreadable, failing open",
			"event", "killswitch_fail_open",
			"module", "killswitch",
			"error_kind", errorKind(err),
			"error", err.Error(),
		)
		return Decision{Active: true, Source: SourceFailOpen, Reason: err.Error()}
	}
	if !ok {
		return Decision{Active: true, Source: SourceNoSignal}
	}
	if st.Halted() {
		s.logger.Warn("remote kill signal halted the system",
			"event", "killswitch_remote_halt",
			"module", "killswitch",
			"reason", st.Reason,
		)
		return Decision{Active: false, Source: SourceRemote, Reason: st.Reason}
	}
	return Decision{Active: true, Source: SourceRemote, Reason: st.Reason}
}

// readOverrideFile returns the trimmed file contents. An unreadable or
// missing file, or an empty one, is no override.
func (s *Switch) readOverrideFile() (string, bool) {
	if s.overrideFile == "" {
		return "", false
	}
	data, err := os.ReadFile(s.overrideFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("override file unreadable",
				"event", "killswitch_override_unreadable",
				"module", "killswitch",
				"path", s.overrideFile,
				"error", err.Error(),
			)
		}
		return "", false
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", false
	}
	return v, true
}

// Halt writes a HALT signal to the remote control row.
func (s *Switch) Halt(ctx context.Context, reason string) error {
	if s.remote == nil {
		return errors.New("halt: no remote control configured")
	}
	if err := s.remote.SetKillSignal(ctx, record.KillSignalHalt, reason); err != nil {
		return fmt.Errorf("halt: %w", err)
	}
	s.logger.Warn("remote kill signal set",
		"event", "killswitch_halt",
		"module", "killswitch",
		"reason", reason,
	)
	return nil
}

// Resume clears the remote kill signal.
func (s *Switch) Resume(ctx context.Context, reason string) error {
	if s.remote == nil {
		return errors.New("resume: no remote control configured")
	}
	if err := s.remote.SetKillSignal(ctx, record.KillSignalClear, reason); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	s.logger.Info("remote kill signal cleared",
		"event", "killswitch_resume",
		"module", "killswitch",
		"reason", reason,
	)
	return nil
}

func errorKind(err error) string {
	switch {
	case store.IsUnavailable(err):
		return "unavailable"
	case store.IsMalformed(err):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unknown"
	}
}
