// Package config parses RACER's TOML-shaped configuration file (spec §6)
// and enforces the §4.6 parameter constraints at load time. Violations are
// returned as plain errors; callers (node.New, cmd/racer run) wrap them with
// node.ErrBadConfig.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/racer-mesh/racer/internal/plato"
)

// ReadyBroadcast selects whether READY frames go to the full peer set or
// only ready_sample (spec §9 open question, exposed as a tunable per the
// Design Notes decision).
type ReadyBroadcast string

const (
	ReadyBroadcastAll    ReadyBroadcast = "all"
	ReadyBroadcastSample ReadyBroadcast = "sample"
)

// NodeSection is the [node] table.
type NodeSection struct {
	RouterBind    string `toml:"router_bind"`
	SelectionType string `toml:"selection_type"`
}

// ConsensusSection is the [consensus] table (spec §4.6).
type ConsensusSection struct {
	EchoSampleSize    int            `toml:"echo_sample_size"`
	ReadySampleSize   int            `toml:"ready_sample_size"`
	ReadyThreshold    int            `toml:"ready_threshold"`
	DeliveryThreshold int            `toml:"delivery_threshold"`
	ReadyBroadcast    ReadyBroadcast `toml:"ready_broadcast"`
}

// PeersSection is the [peers] table.
type PeersSection struct {
	Routers []string `toml:"routers"`
}

// Config is the fully parsed configuration file.
type Config struct {
	Node      NodeSection      `toml:"node"`
	Consensus ConsensusSection `toml:"consensus"`
	Plato     plato.Config     `toml:"plato"`
	Peers     PeersSection     `toml:"peers"`
}

// Load reads and parses a TOML configuration file, applying defaults and
// validating it per spec §4.6/§4.5.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with every section's defaults filled in.
func Default() *Config {
	return &Config{
		Node: NodeSection{SelectionType: "normal"},
		Consensus: ConsensusSection{
			EchoSampleSize:    6,
			ReadySampleSize:   6,
			ReadyThreshold:    4,
			DeliveryThreshold: 4,
			ReadyBroadcast:    ReadyBroadcastAll,
		},
		Plato: plato.DefaultConfig(),
	}
}

// Validate enforces spec §4.6's parameter constraints plus PLATO's own.
func (c *Config) Validate() error {
	cs := c.Consensus
	if cs.EchoSampleSize <= 0 || cs.ReadySampleSize <= 0 {
		return fmt.Errorf("config: sample sizes must be positive")
	}
	if cs.ReadyThreshold <= 0 || cs.DeliveryThreshold <= 0 {
		return fmt.Errorf("config: thresholds must be positive")
	}
	if cs.ReadyThreshold > cs.EchoSampleSize {
		return fmt.Errorf("config: ready_threshold (%d) must be <= echo_sample_size (%d)", cs.ReadyThreshold, cs.EchoSampleSize)
	}
	if cs.DeliveryThreshold > cs.ReadySampleSize {
		return fmt.Errorf("config: delivery_threshold (%d) must be <= ready_sample_size (%d)", cs.DeliveryThreshold, cs.ReadySampleSize)
	}
	if cs.ReadyBroadcast != "" && cs.ReadyBroadcast != ReadyBroadcastAll && cs.ReadyBroadcast != ReadyBroadcastSample {
		return fmt.Errorf("config: ready_broadcast must be %q or %q", ReadyBroadcastAll, ReadyBroadcastSample)
	}
	if err := c.Plato.Validate(); err != nil {
		return err
	}
	return nil
}

// ExpiryWindow returns the per-MID expiry window (spec §4.6: "a multiple of
// the PLATO target latency, e.g. 10x").
func (c *Config) ExpiryWindow() float64 {
	return 10 * c.Plato.TargetLatencySecs
}

// DedupRetentionWindow returns the post-delivery retention window for
// duplicate suppression (spec §9 open question decision: max(60s, 10x
// target latency)).
func (c *Config) DedupRetentionWindow() float64 {
	w := 10 * c.Plato.TargetLatencySecs
	if w < 60 {
		return 60
	}
	return w
}
