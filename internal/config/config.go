// Package config loads the orchestrator's optional YAML overlay file via
// viper, the same library (and the same "read file, unmarshal into a typed
// struct" shape) as niceyeti-tabular/tabular/reinforcement.FromYaml. CLI
// flags always take precedence: Overlay only fills in values the caller
// hasn't already set via a flag.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the subset of --config file keys spec §6.4 defines: defaults
// for flags the CLI also exposes directly.
type Config struct {
	Buffer       int           `mapstructure:"buffer"`
	Driver       string        `mapstructure:"driver"`
	PayloadDir   string        `mapstructure:"payloaddir"`
	SolveTimeout time.Duration `mapstructure:"solve_timeout"`
}

// Load reads path as YAML and returns the parsed Config. A missing file is
// the caller's concern, not this package's: Load only runs when --config
// was actually given.
func Load(path string) (Config, error) {
	vp := viper.New()
	// SetConfigFile wants the full path: once it's set, viper reads that
	// exact file and ignores AddConfigPath entirely, so a relative
	// basename here would resolve against the process's CWD instead of
	// path's own directory.
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")

	if err := vp.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal %q: %w", path, err)
	}
	return cfg, nil
}

// Overlay returns cfg with every zero-valued field replaced by the
// corresponding field from defaults. It is how a loaded file's values act
// as defaults beneath explicitly-set CLI flags: the caller builds cfg from
// flags first (zero value wherever a flag wasn't passed), then overlays the
// file-sourced defaults on top of exactly those gaps.
func (cfg Config) Overlay(defaults Config) Config {
	out := cfg
	if out.Buffer == 0 {
		out.Buffer = defaults.Buffer
	}
	if out.Driver == "" {
		out.Driver = defaults.Driver
	}
	if out.PayloadDir == "" {
		out.PayloadDir = defaults.PayloadDir
	}
	if out.SolveTimeout == 0 {
		out.SolveTimeout = defaults.SolveTimeout
	}
	return out
}
