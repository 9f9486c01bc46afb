// Package config decodes the driver's TOML configuration file: the knobs a
// real deployment needs beyond what Examine discovers at runtime, grounded
// on arl-nestor's emu/config.go LoadConfigOrDefault/SaveConfig pair.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the driver's on-disk configuration.
type Config struct {
	Poll   PollConfig   `toml:"poll"`
	Log    LogConfig    `toml:"log"`
	Wait   WaitConfig   `toml:"wait"`
	Simulate bool       `toml:"simulate"`
}

// PollConfig holds the [poll] table's interval, exposed as PollInterval.
// rvdbgd itself does not poll and does not read it.
type PollConfig struct {
	IntervalMS int `toml:"interval_ms"`
}

// LogConfig holds the [log] table's level. rvdbgd does not apply it: its
// internal/logging verbosity comes from the --log-level flag.
type LogConfig struct {
	Level string `toml:"level"`
}

// WaitConfig overrides the default 2s wall-clock bound spec.md §4.8/§7 uses
// for every bounded wait loop (resume, step, reset deassert).
type WaitConfig struct {
	BoundMS int `toml:"bound_ms"`
}

// Default returns the configuration a fresh deployment starts from: a
// 100ms poll interval, info-level logging and the spec's 2s wait bound.
func Default() Config {
	return Config{
		Poll: PollConfig{IntervalMS: 100},
		Log:  LogConfig{Level: "info"},
		Wait: WaitConfig{BoundMS: 2000},
	}
}

// Load decodes the TOML file at path, falling back to Default if the file
// does not exist. Any other read or decode error is returned, since a
// malformed config file that the operator believes is in effect must fail
// loudly rather than silently falling back (arl-nestor's
// LoadConfigOrDefault papers over any error; this driver does not).
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config %s: %w", path, err)
	}
	return cfg, nil
}

// WaitBound returns the configured wait bound as a time.Duration.
func (c Config) WaitBound() time.Duration {
	return time.Duration(c.Wait.BoundMS) * time.Millisecond
}

// PollInterval returns the configured poll interval as a time.Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMS) * time.Millisecond
}
