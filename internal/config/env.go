package config

import (
	"errors"
	"fmt"
	"strconv"
)

// Environment variables read by Load.
const (
	EnvDB            = "SOVEREIGN_DB"
	EnvLedgerDriver  = "SOVEREIGN_LEDGER_DRIVER"
	EnvPostgresDSN   = "SOVEREIGN_POSTGRES_DSN"
	EnvOverrideFile  = "SOVEREIGN_OVERRIDE_FILE"
	EnvQuorum        = "SOVEREIGN_QUORUM"
	EnvThreshold     = "SOVEREIGN_THRESHOLD"
	EnvPollInterval  = "SOVEREIGN_POLL_INTERVAL"
	EnvCheckInterval = "SOVEREIGN_KILL_CHECK_INTERVAL"
	EnvWorkspaceDir  = "SOVEREIGN_WORKSPACE_DIR"
	EnvBlackboxDir   = "SOVEREIGN_BLACKBOX_DIR"
	EnvLogLevel      = "SOVEREIGN_LOG_LEVEL"
)

func applyEnv(cfg *Config, getenv func(string) string) error {
	var errs []error

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *Duration) {
		if v := getenv(key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}

	str(EnvDB, &cfg.Ledger.Path)
	str(EnvLedgerDriver, &cfg.Ledger.Driver)
	str(EnvPostgresDSN, &cfg.Ledger.PostgresDSN)
	str(EnvOverrideFile, &cfg.KillSwitch.OverrideFile)
	str(EnvWorkspaceDir, &cfg.Incubator.WorkspaceRoot)
	str(EnvBlackboxDir, &cfg.Log.BlackboxDir)
	str(EnvLogLevel, &cfg.Log.Level)
	dur(EnvPollInterval, &cfg.Monitor.PollInterval)
	dur(EnvCheckInterval, &cfg.KillSwitch.CheckInterval)

	if v := getenv(EnvQuorum); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", EnvQuorum, v))
		} else {
			cfg.Consensus.Quorum = n
		}
	}
	if v := getenv(EnvThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a number", EnvThreshold, v))
		} else {
			cfg.Consensus.Threshold = f
		}
	}
	return errors.Join(errs...)
}
