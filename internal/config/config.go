// Package config assembles runtime settings from defaults, an optional
// YAML or CUE file and SOVEREIGN_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/sovereign/internal/consensus"
	"github.com/roach88/sovereign/internal/incubator"
	"github.com/roach88/sovereign/internal/monitor"
)

// Ledger drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultDBPath is the SQLite ledger used when nothing else is configured.
const DefaultDBPath = "sovereign.db"

// Duration is a time.Duration that reads "30s" style strings. A bare
// integer means seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if n, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

type LedgerConfig struct {
	Driver      string `yaml:"driver" json:"driver"`
	Path        string `yaml:"path" json:"path"`
	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn"`
}

type ConsensusConfig struct {
	Quorum        int     `yaml:"quorum" json:"quorum"`
	Threshold     float64 `yaml:"threshold" json:"threshold"`
	DedupeByAgent bool    `yaml:"dedupe_by_agent" json:"dedupe_by_agent"`
}

type MonitorConfig struct {
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval"`
	// MaxDuration of zero runs until stopped.
	MaxDuration Duration `yaml:"max_duration" json:"max_duration"`
}

type KillSwitchConfig struct {
	CheckInterval Duration `yaml:"check_interval" json:"check_interval"`
	OverrideFile  string   `yaml:"override_file" json:"override_file"`
}

// ProcessConfig declares an external command as a task type.
type ProcessConfig struct {
	Type           string   `yaml:"type" json:"type"`
	Command        []string `yaml:"command" json:"command"`
	Env            []string `yaml:"env" json:"env"`
	MaxOutputBytes int64    `yaml:"max_output_bytes" json:"max_output_bytes"`
	ReportType     string   `yaml:"report_type" json:"report_type"`
}

type IncubatorConfig struct {
	SpawnTimeout    Duration        `yaml:"spawn_timeout" json:"spawn_timeout"`
	ResponseTimeout Duration        `yaml:"response_timeout" json:"response_timeout"`
	TeardownGrace   Duration        `yaml:"teardown_grace" json:"teardown_grace"`
	WorkspaceRoot   string          `yaml:"workspace_root" json:"workspace_root"`
	Processes       []ProcessConfig `yaml:"processes" json:"processes"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	// BlackboxDir, when set, receives a daily JSONL copy of every log record.
	BlackboxDir string `yaml:"blackbox_dir" json:"blackbox_dir"`
}

// Config is the full runtime configuration.
type Config struct {
	Ledger     LedgerConfig     `yaml:"ledger" json:"ledger"`
	Consensus  ConsensusConfig  `yaml:"consensus" json:"consensus"`
	Monitor    MonitorConfig    `yaml:"monitor" json:"monitor"`
	KillSwitch KillSwitchConfig `yaml:"kill_switch" json:"kill_switch"`
	Incubator  IncubatorConfig  `yaml:"incubator" json:"incubator"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Ledger: LedgerConfig{Driver: DriverSQLite, Path: DefaultDBPath},
		Consensus: ConsensusConfig{
			Quorum:    consensus.DefaultQuorum,
			Threshold: consensus.DefaultThreshold,
		},
		Monitor:    MonitorConfig{PollInterval: Duration(monitor.DefaultPollInterval)},
		KillSwitch: KillSwitchConfig{CheckInterval: Duration(60 * time.Second)},
		Incubator: IncubatorConfig{
			SpawnTimeout:    Duration(incubator.DefaultSpawnTimeout),
			ResponseTimeout: Duration(incubator.DefaultResponseTimeout),
			TeardownGrace:   Duration(incubator.DefaultTeardownGrace),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds a Config from defaults, the file at path (skipped when empty)
// and the environment read through getenv (os.Getenv when nil). The result
// is validated.
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return decodeYAML(data, cfg)
	case ".cue":
		return decodeCUE(path, data, cfg)
	default:
		return fmt.Errorf("config %s: unsupported extension %q (want .yaml, .yml or .cue)", path, ext)
	}
}

// Validate rejects settings the system cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Ledger.Driver {
	case DriverSQLite:
		if c.Ledger.Path == "" {
			errs = append(errs, errors.New("ledger.path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Ledger.PostgresDSN == "" {
			errs = append(errs, errors.New("ledger.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.driver %q is not sqlite or postgres", c.Ledger.Driver))
	}
	if err := c.ConsensusSettings().Validate(); err != nil {
		errs = append(errs, err)
	}

	positive := []struct {
		name string
		d    Duration
	}{
		{"monitor.poll_interval", c.Monitor.PollInterval},
		{"kill_switch.check_interval", c.KillSwitch.CheckInterval},
		{"incubator.spawn_timeout", c.Incubator.SpawnTimeout},
		{"incubator.response_timeout", c.Incubator.ResponseTimeout},
		{"incubator.teardown_grace", c.Incubator.TeardownGrace},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", p.name, p.d.Std()))
		}
	}
	if c.Monitor.MaxDuration < 0 {
		errs = append(errs, errors.New("monitor.max_duration must not be negative"))
	}

	seen := map[string]bool{}
	for i, p := range c.Incubator.Processes {
		switch {
		case p.Type == "":
			errs = append(errs, fmt.Errorf("incubator.processes[%d]: type is required", i))
		case seen[p.Type]:
			errs = append(errs, fmt.Errorf("incubator.processes[%d]: duplicate type %q", i, p.Type))
		case len(p.Command) == 0 || p.Command[0] == "":
			errs = append(errs, fmt.Errorf("incubator.processes[%d]: command is required", i))
		}
		seen[p.Type] = true
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q is not debug, info, warn or error", s)
	}
	return l, nil
}

// ConsensusSettings converts to the engine config.
func (c Config) ConsensusSettings() consensus.Config {
	return consensus.Config{
		Quorum:        c.Consensus.Quorum,
		Threshold:     c.Consensus.Threshold,
		DedupeByAgent: c.Consensus.DedupeByAgent,
	}
}

func (c Config) MonitorSettings() monitor.Config {
	return monitor.Config{
		PollInterval: c.Monitor.PollInterval.Std(),
		MaxDuration:  c.Monitor.MaxDuration.Std(),
	}
}

func (c Config) IncubatorSettings() incubator.Config {
	return incubator.Config{
		SpawnTimeout:    c.Incubator.SpawnTimeout.Std(),
		ResponseTimeout: c.Incubator.ResponseTimeout.Std(),
		TeardownGrace:   c.Incubator.TeardownGrace.Std(),
		WorkspaceRoot:   c.Incubator.WorkspaceRoot,
	}
}

// ProcessTemplates returns the configured external task types.
func (c Config) ProcessTemplates() []incubator.Template {
	out := make([]incubator.Template, 0, len(c.Incubator.Processes))
	for _, p := range c.Incubator.Processes {
		out = append(out, incubator.ProcessTemplate{
			Type:           p.Type,
			Command:        append([]string(nil), p.Command...),
			Env:            append([]string(nil), p.Env...),
			MaxOutputBytes: p.MaxOutputBytes,
			ReportType:     p.ReportType,
		})
	}
	return out
}
