// Package config loads optional per-replica overrides. The CLI contract
// in spec.md section 6 (port, id, peer ids) is always required and always
// wins; this file only ever supplies defaults for things the harness
// doesn't pass on the command line -- log level, the diagnostics HTTP
// bind address, and (for deterministic tests) the pacing constants.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Pacing mirrors the timing constants fixed by spec.md section 4, exposed
// here only so tests can shrink them; production replicas should leave
// these at DefaultPacing.
type Pacing struct {
	ElectionTimeoutMinMS int `yaml:"election_timeout_min_ms"`
	ElectionTimeoutMaxMS int `yaml:"election_timeout_max_ms"`
	HeartbeatIntervalMS  int `yaml:"heartbeat_interval_ms"`
	AppendIntervalMS     int `yaml:"append_interval_ms"`
	ChunkSize            int `yaml:"chunk_size"`
	PollTimeoutMS        int `yaml:"poll_timeout_ms"`
}

// Config is the full set of replica overrides.
type Config struct {
	LogLevel string `yaml:"log_level"`
	HTTPAddr string `yaml:"http_addr"`
	Pacing   Pacing `yaml:"pacing"`
}

// Default returns the spec's fixed constants and a disabled diagnostics
// server (HTTPAddr empty means cmd/replica will not start one).
func Default() Config {
	return Config{
		LogLevel: "info",
		HTTPAddr: "",
		Pacing: Pacing{
			ElectionTimeoutMinMS: 500,
			ElectionTimeoutMaxMS: 800,
			HeartbeatIntervalMS:  150,
			AppendIntervalMS:     300,
			ChunkSize:            30,
			PollTimeoutMS:        100,
		},
	}
}

// Load reads a YAML file at path and overlays it onto Default. A zero
// value in a field leaves the default in place, so a config file only
// needs to set what it wants to change.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	var overrides Config
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return cfg, err
	}
	mergePacing(&cfg.Pacing, overrides.Pacing)
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	return cfg, nil
}

func mergePacing(base *Pacing, override Pacing) {
	if override.ElectionTimeoutMinMS != 0 {
		base.ElectionTimeoutMinMS = override.ElectionTimeoutMinMS
	}
	if override.ElectionTimeoutMaxMS != 0 {
		base.ElectionTimeoutMaxMS = override.ElectionTimeoutMaxMS
	}
	if override.HeartbeatIntervalMS != 0 {
		base.HeartbeatIntervalMS = override.HeartbeatIntervalMS
	}
	if override.AppendIntervalMS != 0 {
		base.AppendIntervalMS = override.AppendIntervalMS
	}
	if override.ChunkSize != 0 {
		base.ChunkSize = override.ChunkSize
	}
	if override.PollTimeoutMS != 0 {
		base.PollTimeoutMS = override.PollTimeoutMS
	}
}

// Durations converts the millisecond fields to time.Duration for
// consumption by internal/raft.
func (p Pacing) Durations() (electionMin, electionMax, heartbeat, appendInterval, poll time.Duration, chunkSize int) {
	return time.Duration(p.ElectionTimeoutMinMS) * time.Millisecond,
		time.Duration(p.ElectionTimeoutMaxMS) * time.Millisecond,
		time.Duration(p.HeartbeatIntervalMS) * time.Millisecond,
		time.Duration(p.AppendIntervalMS) * time.Millisecond,
		time.Duration(p.PollTimeoutMS) * time.Millisecond,
		p.ChunkSize
}
