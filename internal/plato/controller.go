// Package plato implements RACER's adaptive congestion controller: a
// Savitzky-Golay-smoothed, RSI-style feedback loop over observed latency
// that throttles the local publish rate (spec §4.5).
package plato

import (
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RateDecision is PLATO's output (spec §3): the current allowed interval
// between local publishes and whether a publish attempted right now would
// be admitted.
type RateDecision struct {
	AllowedPublishInterval time.Duration
	Admit                  bool
}

// Controller observes our own and peers' latency samples and derives the
// publish pacing decision. It restores the source's dual our/peer x up/down
// signal design (controller.rs) rather than the single RSI/interval pair
// the distilled spec sketches: every invariant and edge case spec.md lists
// for PLATO (interval bounds, D_t~=0 handling, warmup fallback) still holds,
// and the dual design additionally damps on cross-node congestion, not just
// the local node's own view.
type Controller struct {
	mu sync.Mutex

	cfg Config
	clk clock.Clock

	currentLatency   float64
	publishFrequency float64

	ourLatencyCount  int
	peerLatencyCount int

	ourRSIUp, peerRSIUp     *rsiIndicator
	ourRSIDown, peerRSIDown *rsiIndicator

	ourSavgolUp, peerSavgolUp     *savitzkyGolay
	ourSavgolDown, peerSavgolDown *savitzkyGolay

	recentlyMissedDelivery bool
	lastPublish            time.Time
	havePublished          bool

	rng *rand.Rand
}

// NewController constructs a Controller with the given config. clk is
// injectable for deterministic tests (github.com/benbjohnson/clock); pass
// clock.New() in production.
func NewController(cfg Config, clk clock.Clock) *Controller {
	return &Controller{
		cfg:              cfg,
		clk:              clk,
		currentLatency:   cfg.TargetLatencySecs,
		publishFrequency: cfg.TargetPublishingFrequencySecs,
		ourRSIUp:         newRSIIndicator(cfg.RSIIncreasePeriod),
		peerRSIUp:        newRSIIndicator(cfg.RSIIncreasePeriod),
		ourRSIDown:       newRSIIndicator(cfg.RSIDecreasePeriod),
		peerRSIDown:      newRSIIndicator(cfg.RSIDecreasePeriod),
		ourSavgolUp:      newSavitzkyGolay(cfg.SavgolIncreaseWindow),
		peerSavgolUp:     newSavitzkyGolay(cfg.SavgolIncreaseWindow),
		ourSavgolDown:    newSavitzkyGolay(cfg.SavgolDecreaseWindow),
		peerSavgolDown:   newSavitzkyGolay(cfg.SavgolDecreaseWindow),
		rng:              rand.New(rand.NewSource(1)),
	}
}

// RecordOurLatency feeds a locally-observed latency sample (e.g. our own
// publish-to-delivery interval) into the controller.
func (c *Controller) RecordOurLatency(latencySecs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ourLatencyCount++
	c.ourRSIUp.next(c.ourSavgolUp.next(latencySecs))
	c.ourRSIDown.next(c.ourSavgolDown.next(latencySecs))
}

// RecordPeerLatency feeds a peer-observed latency sample (e.g. first-seen to
// delivered for messages we forwarded) into the controller.
func (c *Controller) RecordPeerLatency(latencySecs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerLatencyCount++
	c.peerRSIUp.next(c.peerSavgolUp.next(latencySecs))
	c.peerRSIDown.next(c.peerSavgolDown.next(latencySecs))
}

// SetMissedDelivery records whether this node recently failed to reach
// delivery for a published MID, used by callers as an additional signal;
// PLATO itself does not act on it directly (spec leaves fairness/backoff
// beyond self-pacing out of scope).
func (c *Controller) SetMissedDelivery(missed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recentlyMissedDelivery = missed
}

// Tick re-evaluates the congestion signals and updates current_latency and
// publish_frequency. Call periodically from the GC/PLATO background worker
// (spec §4.8).
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkIncreasingCongestion()
	c.checkDecreasingCongestion()
}

func (c *Controller) checkIncreasingCongestion() {
	if !c.ourSavgolUp.isReady() || !c.peerSavgolUp.isReady() {
		return
	}

	weighted := c.weightedLatencyLocked()
	ourRSI := c.ourRSIUp.value()
	peerRSI := c.peerRSIUp.value()

	switch {
	case c.currentLatency <= 0.5*weighted:
		proposed := c.currentLatency * 2.0
		if proposed < c.cfg.MaxGossipTimeoutSecs*0.85 {
			c.currentLatency = proposed
		}
	case ourRSI > c.cfg.RSIOverbought && peerRSI > c.cfg.RSIOverbought:
		increase := 1.01 + c.rng.Float64()*(1.10-1.01)
		c.currentLatency = minF(c.currentLatency*increase, c.cfg.MaxGossipTimeoutSecs)
		c.publishFrequency = minF(c.publishFrequency*increase, c.cfg.MaxPublishingFrequencySecs)
	}
}

func (c *Controller) checkDecreasingCongestion() {
	if !c.ourSavgolDown.isReady() || !c.peerSavgolDown.isReady() {
		return
	}

	ourRSI := c.ourRSIDown.value()
	peerRSI := c.peerRSIDown.value()

	if ourRSI < c.cfg.RSIOversold && peerRSI < c.cfg.RSIOversold {
		decrease := 0.90 + c.rng.Float64()*(0.99-0.90)
		c.currentLatency = maxF(c.currentLatency*decrease, c.cfg.MinimumLatencySecs)
		c.publishFrequency = maxF(c.publishFrequency*decrease, c.cfg.TargetPublishingFrequencySecs)
	}
}

// WeightedLatency blends our own and peers' smoothed latency per
// own_latency_weight.
func (c *Controller) WeightedLatency() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weightedLatencyLocked()
}

func (c *Controller) weightedLatencyLocked() float64 {
	w := c.cfg.OwnLatencyWeight
	return w*c.ourSavgolUp.value() + (1-w)*c.peerSavgolUp.value()
}

// CurrentLatency is PLATO's current smoothed-latency working estimate.
func (c *Controller) CurrentLatency() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLatency
}

// PublishFrequency is PLATO's current allowed_publish_interval in seconds.
func (c *Controller) PublishFrequency() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publishFrequency
}

// Decide implements admit() (spec §4.5): true when the monotonic delta
// since the last admitted publish is >= allowed_publish_interval. Edge case:
// fewer than the filter's warmup samples use a conservative interval of
// 2x target (spec §4.5 edge cases).
func (c *Controller) Decide() RateDecision {
	c.mu.Lock()
	defer c.mu.Unlock()

	interval := c.publishFrequency
	if !c.ourSavgolUp.isReady() {
		interval = c.cfg.TargetPublishingFrequencySecs * 2
	}
	allowed := time.Duration(interval * float64(time.Second))

	now := c.clk.Now()
	if !c.havePublished {
		return RateDecision{AllowedPublishInterval: allowed, Admit: true}
	}
	elapsed := now.Sub(c.lastPublish)
	if elapsed < 0 {
		// Clock regression: ignore it and admit conservatively (spec §4.5
		// edge cases: "clock regression is detected and ignored").
		elapsed = allowed
	}
	return RateDecision{AllowedPublishInterval: allowed, Admit: elapsed >= allowed}
}

// MarkPublished records that a publish was just admitted, resetting the
// admit() clock.
func (c *Controller) MarkPublished() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPublish = c.clk.Now()
	c.havePublished = true
}

// Stats is a snapshot of PLATO's internal signals, useful for metrics/logs.
type Stats struct {
	CurrentLatency   float64
	PublishFrequency float64
	OurRSIUp         float64
	OurRSIDown       float64
	PeerRSIUp        float64
	PeerRSIDown      float64
	OurSampleCount   int
	PeerSampleCount  int
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		CurrentLatency:   c.currentLatency,
		PublishFrequency: c.publishFrequency,
		OurRSIUp:         c.ourRSIUp.value(),
		OurRSIDown:       c.ourRSIDown.value(),
		PeerRSIUp:        c.peerRSIUp.value(),
		PeerRSIDown:      c.peerRSIDown.value(),
		OurSampleCount:   c.ourLatencyCount,
		PeerSampleCount:  c.peerLatencyCount,
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
