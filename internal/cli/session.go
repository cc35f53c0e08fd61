package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/sovereign/internal/blackbox"
	"github.com/roach88/sovereign/internal/config"
	"github.com/roach88/sovereign/internal/consensus"
	"github.com/roach88/sovereign/internal/incubator"
	"github.com/roach88/sovereign/internal/killswitch"
	"github.com/roach88/sovereign/internal/monitor"
	"github.com/roach88/sovereign/internal/rules"
	"github.com/roach88/sovereign/internal/store"
	"github.com/roach88/sovereign/internal/store/pgstore"
	"github.com/roach88/sovereign/internal/tasks"
)

// session is the wiring shared by commands that touch the ledger: the
// effective config, the logger and an open ledger.
type session struct {
	cfg       config.Config
	ledger    store.Ledger
	logger    *slog.Logger
	box       *blackbox.Handler
	fmt       *OutputFormatter
	lookupEnv func(string) (string, bool)
}

// loadConfig reads defaults, the config file and the environment, then
// applies command-line overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath, opts.getenv())
	if err != nil {
		return config.Config{}, err
	}
	if opts.Database != "" {
		cfg.Ledger.Driver = config.DriverSQLite
		cfg.Ledger.Path = opts.Database
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func (o *RootOptions) lookupEnv() func(string) (string, bool) {
	if o.LookupEnv == nil {
		return os.LookupEnv
	}
	return o.LookupEnv
}

func (o *RootOptions) getenv() func(string) string {
	lookup := o.lookupEnv()
	return func(key string) string {
		v, _ := lookup(key)
		return v
	}
}

// newLogger builds the process logger: a text handler on w and, when a
// blackbox directory is configured, a JSONL tee into the daily survivor log.
func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, *blackbox.Handler, error) {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	var handler slog.Handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	if cfg.Log.BlackboxDir == "" {
		return slog.New(handler), nil, nil
	}
	box, err := blackbox.New(handler, cfg.Log.BlackboxDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open blackbox: %w", err)
	}
	return slog.New(box), box, nil
}

// openLedger opens the configured backend.
func openLedger(cfg config.Config, logger *slog.Logger) (store.Ledger, error) {
	if cfg.Ledger.Driver == config.DriverPostgres {
		pg, err := pgstore.Connect(cfg.Ledger.PostgresDSN, pgstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	st, err := store.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// openSession loads config, installs the logger and opens the ledger.
// Failures are reported through the formatter and returned as command
// errors (exit code 2).
func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	f := newFormatter(cmd, opts)

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, f.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
	}
	logger, box, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, f.Fail(ExitCommandError, CodeConfig, "failed to set up logging", err)
	}
	slog.SetDefault(logger)

	logger.Debug("opening ledger",
		"event", "ledger_open",
		"module", "cli",
		"driver", cfg.Ledger.Driver,
		"path", cfg.Ledger.Path,
	)
	ledger, err := openLedger(cfg, logger)
	if err != nil {
		if box != nil {
			_ = box.Close()
		}
		return nil, f.Fail(ExitCommandError, CodeLedger, "failed to open ledger", err)
	}
	return &session{cfg: cfg, ledger: ledger, logger: logger, box: box, fmt: f, lookupEnv: opts.lookupEnv()}, nil
}

// Close closes the ledger and the blackbox file.
func (s *session) Close() error {
	var errs []error
	if err := s.ledger.Close(); err != nil {
		s.logger.Error("error closing ledger", "event", "ledger_close_failed", "module", "cli", "error", err)
		errs = append(errs, err)
	}
	if s.box != nil {
		errs = append(errs, s.box.Close())
	}
	return errors.Join(errs...)
}

func (s *session) killSwitch() *killswitch.Switch {
	return killswitch.New(s.ledger,
		killswitch.WithOverrideFile(s.cfg.KillSwitch.OverrideFile),
		killswitch.WithLookupEnv(s.lookupEnv),
		killswitch.WithLogger(s.logger),
	)
}

func (s *session) consensus() (*consensus.Engine, error) {
	return consensus.New(s.ledger, s.cfg.ConsensusSettings(), consensus.WithLogger(s.logger))
}

// incubator builds an incubator over the built-in responders plus the
// configured process templates, guarded by ks.
func (s *session) incubator(ks *killswitch.Switch) (*incubator.Incubator, error) {
	reg, err := incubator.NewRegistry(append(tasks.Templates(), s.cfg.ProcessTemplates()...)...)
	if err != nil {
		return nil, fmt.Errorf("build task registry: %w", err)
	}
	return incubator.New(reg, rules.DefaultTable(), s.ledger,
		incubator.WithGuard(ks),
		incubator.WithLogger(s.logger),
		incubator.WithConfig(s.cfg.IncubatorSettings()),
	)
}

// monitor builds the event monitor feeding inc.
func (s *session) monitor(ks *killswitch.Switch, inc *incubator.Incubator, opts ...monitor.Option) *monitor.Monitor {
	base := []monitor.Option{
		monitor.WithGuard(ks),
		monitor.WithLogger(s.logger),
		monitor.WithConfig(s.cfg.MonitorSettings()),
	}
	return monitor.New(s.ledger, rules.DefaultTable(), inc, append(base, opts...)...)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
// The command's context is used as parent when set (tests).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// commandContext is the context of short-lived commands.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
