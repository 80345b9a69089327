package plato

import "fmt"

// Config holds PLATO's tunables, mirroring
// original_source/crates/racer/src/config/plato.rs field-for-field
// (including its defaults and validate() constraints).
type Config struct {
	TargetLatencySecs             float64 `toml:"target_latency_secs"`
	TargetPublishingFrequencySecs float64 `toml:"target_publishing_frequency_secs"`
	MaxPublishingFrequencySecs    float64 `toml:"max_publishing_frequency_secs"`
	MinimumLatencySecs            float64 `toml:"minimum_latency_secs"`
	MaxGossipTimeoutSecs          float64 `toml:"max_gossip_timeout_secs"`
	RSIIncreasePeriod             int     `toml:"rsi_increase_period"`
	RSIDecreasePeriod             int     `toml:"rsi_decrease_period"`
	RSIOverbought                 float64 `toml:"rsi_overbought"`
	RSIOversold                   float64 `toml:"rsi_oversold"`
	OwnLatencyWeight              float64 `toml:"own_latency_weight"`
	SavgolIncreaseWindow          int     `toml:"savgol_increase_window"`
	SavgolDecreaseWindow          int     `toml:"savgol_decrease_window"`
}

// DefaultConfig returns PLATO's default tunables.
func DefaultConfig() Config {
	return Config{
		TargetLatencySecs:             2.5,
		TargetPublishingFrequencySecs: 2.5,
		MaxPublishingFrequencySecs:    10.0,
		MinimumLatencySecs:            1.0,
		MaxGossipTimeoutSecs:          60.0,
		RSIIncreasePeriod:             14,
		RSIDecreasePeriod:             21,
		RSIOverbought:                 70.0,
		RSIOversold:                   30.0,
		OwnLatencyWeight:              0.6,
		SavgolIncreaseWindow:          14,
		SavgolDecreaseWindow:          21,
	}
}

// Validate enforces the constraints from config/plato.rs.
func (c Config) Validate() error {
	if c.MinimumLatencySecs <= 0 {
		return fmt.Errorf("plato: minimum_latency_secs must be positive")
	}
	if c.TargetLatencySecs < c.MinimumLatencySecs {
		return fmt.Errorf("plato: target_latency_secs must be >= minimum_latency_secs")
	}
	if c.MaxGossipTimeoutSecs <= c.TargetLatencySecs {
		return fmt.Errorf("plato: max_gossip_timeout_secs must be > target_latency_secs")
	}
	if c.OwnLatencyWeight < 0 || c.OwnLatencyWeight > 1 {
		return fmt.Errorf("plato: own_latency_weight must be between 0.0 and 1.0")
	}
	if c.RSIOverbought <= c.RSIOversold {
		return fmt.Errorf("plato: rsi_overbought must be > rsi_oversold")
	}
	return nil
}
