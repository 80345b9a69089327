// Package spde implements the Sequenced Probabilistic Double-Echo consensus
// engine (spec §4.6): the per-MID ECHO/READY/DELIVERED state machine at the
// core of RACER.
package spde

import (
	"time"

	"github.com/racer-mesh/racer/internal/crypto"
	"github.com/racer-mesh/racer/internal/wire"
)

// Phase is a PerMessageState's position in the state machine (spec §3).
type Phase int

const (
	PhaseInit Phase = iota
	PhaseEchoing
	PhaseReady
	PhaseDelivered
	PhaseExpired
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseEchoing:
		return "ECHOING"
	case PhaseReady:
		return "READY"
	case PhaseDelivered:
		return "DELIVERED"
	case PhaseExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// PerMessageState is the per-MID state spec §3 describes. Witness sets are
// keyed by distinct signer public key (spec §4.6: "Witness counting: by
// distinct signer public key").
type PerMessageState struct {
	MID            crypto.MID
	Phase          Phase
	EchoWitnesses  map[crypto.PublicKey]struct{}
	ReadyWitnesses map[crypto.PublicKey]struct{}
	EchoSample     map[crypto.PublicKey]struct{}
	ReadySample    map[crypto.PublicKey]struct{}
	FirstSeenAt    time.Time
	DeliveredAt    time.Time
	Envelope       *wire.Envelope

	emittedEcho  bool
	emittedReady bool
}

func newPerMessageState(mid crypto.MID, echoSample, readySample []crypto.PublicKey, now time.Time) *PerMessageState {
	es := make(map[crypto.PublicKey]struct{}, len(echoSample))
	for _, p := range echoSample {
		es[p] = struct{}{}
	}
	rs := make(map[crypto.PublicKey]struct{}, len(readySample))
	for _, p := range readySample {
		rs[p] = struct{}{}
	}
	return &PerMessageState{
		MID:            mid,
		Phase:          PhaseInit,
		EchoWitnesses:  make(map[crypto.PublicKey]struct{}),
		ReadyWitnesses: make(map[crypto.PublicKey]struct{}),
		EchoSample:     es,
		ReadySample:    rs,
		FirstSeenAt:    now,
	}
}

// echoSampleIntersectionCount returns the number of echo witnesses that are
// also in the node's fixed echo_sample for this MID (spec §4.6's
// ready-threshold guard: "|echo_witnesses ∩ echo_sample| >= ready_threshold").
func (s *PerMessageState) echoSampleIntersectionCount() int {
	n := 0
	for w := range s.EchoWitnesses {
		if _, ok := s.EchoSample[w]; ok {
			n++
		}
	}
	return n
}
