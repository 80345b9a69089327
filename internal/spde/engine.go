package spde

import (
	"time"

	"github.com/racer-mesh/racer/internal/crypto"
	"github.com/racer-mesh/racer/internal/wire"
)

// Config carries the consensus parameters spec §4.6 requires and validates
// at config load (internal/config enforces the cross-field constraints;
// Engine assumes a pre-validated Config).
type Config struct {
	EchoSampleSize    int
	ReadySampleSize   int
	ReadyThreshold    int
	DeliveryThreshold int
	EchoDeadline      time.Duration
	ReadyDeadline     time.Duration
	ExpiryWindow      time.Duration
	DedupRetention    time.Duration
	ReadyBroadcastAll bool
}

// Sampler draws the fixed echo/ready sample sets for a new MID (spec §4.4).
type Sampler interface {
	Sample(k int, exclude crypto.PublicKey, excludeSelf bool) []crypto.PublicKey
	AllLive(exclude crypto.PublicKey, excludeSelf bool) []crypto.PublicKey
}

// Outbound hands frames to the dispatcher for delivery to the transport
// (spec §4.7: "SPDE... Dispatcher... Transport").
type Outbound interface {
	SendPayload(targets []crypto.PublicKey, env *wire.Envelope)
	SendEcho(targets []crypto.PublicKey, mid crypto.MID, sig crypto.Signature)
	SendReady(targets []crypto.PublicKey, mid crypto.MID, sig crypto.Signature)
}

// DeliverFunc is invoked exactly once per delivered MID (spec §4.8
// subscribe, §8 invariant 1). latency is the elapsed time between this
// node's first observation of the MID (publish or first PAYLOAD/ECHO) and
// its delivery, the round-trip sample PLATO's congestion controller feeds
// on (spec §4.5's "asynchronous observer of... echo-to-ready delay
// samples").
type DeliverFunc func(mid crypto.MID, env *wire.Envelope, latency time.Duration)

// Engine owns one shard of the MID -> PerMessageState map (spec §9: worker
// lanes keyed by hash(MID) mod N, each owning a private submap). It is not
// internally synchronized: the caller (internal/dispatch) must serialize all
// calls touching the same MID onto one goroutine, giving linearizable
// witness counting without a global lock (spec §5).
type Engine struct {
	cfg      Config
	self     crypto.PublicKey
	priv     *crypto.PrivateKey
	sampler  Sampler
	outbound Outbound
	deliver  DeliverFunc
	now      func() time.Time

	states map[crypto.MID]*PerMessageState

	metrics Metrics
}

// Metrics counts the internal, non-surfaced peer-misbehavior and delivery
// events spec §7 lists; Engine increments these but never returns them as
// errors to the caller.
type Metrics struct {
	DuplicateWitness int
	DeliveryDropped  int
	Delivered        int
	Expired          int
}

// New constructs an Engine shard.
func New(cfg Config, self crypto.PublicKey, priv *crypto.PrivateKey, sampler Sampler, outbound Outbound, deliver DeliverFunc, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:      cfg,
		self:     self,
		priv:     priv,
		sampler:  sampler,
		outbound: outbound,
		deliver:  deliver,
		now:      now,
		states:   make(map[crypto.MID]*PerMessageState),
	}
}

// Metrics returns a snapshot of this shard's misbehavior/delivery counters.
func (e *Engine) Metrics() Metrics { return e.metrics }

// Get returns the state for mid, if any.
func (e *Engine) Get(mid crypto.MID) (*PerMessageState, bool) {
	s, ok := e.states[mid]
	return s, ok
}

func (e *Engine) getOrCreate(mid crypto.MID) *PerMessageState {
	s, ok := e.states[mid]
	if ok {
		return s
	}
	echoSample := e.sampler.Sample(e.cfg.EchoSampleSize, e.self, true)
	readySample := e.sampler.Sample(e.cfg.ReadySampleSize, e.self, true)
	s = newPerMessageState(mid, echoSample, readySample, e.now())
	e.states[mid] = s
	return s
}

// Publish drives the INIT -> ECHOING local-publish transition (spec §4.6's
// first table row): sign the envelope, count ourselves as an echo witness,
// and broadcast PAYLOAD+ECHO to every live peer.
func (e *Engine) Publish(mid crypto.MID, env *wire.Envelope) {
	s := e.getOrCreate(mid)
	if s.Phase != PhaseInit {
		return
	}
	s.Envelope = env
	s.Phase = PhaseEchoing
	s.EchoWitnesses[e.self] = struct{}{}
	s.emittedEcho = true

	all := e.sampler.AllLive(e.self, true)
	e.outbound.SendPayload(all, env)
	sig := crypto.Sign(e.priv, mid[:])
	e.outbound.SendEcho(all, mid, sig)
}

// OnPayload drives INIT -> ECHOING on receipt of a verified PAYLOAD (the
// dispatcher is responsible for signature/MID verification before calling
// this: spec §4.7). Amplification rule: this node also emits ECHO, to
// echo_sample only (spec §4.6 row 2), not to every peer.
func (e *Engine) OnPayload(env *wire.Envelope) {
	s := e.getOrCreate(env.MID)
	if s.Envelope == nil {
		s.Envelope = env
	}
	if s.Phase != PhaseInit {
		return
	}
	s.Phase = PhaseEchoing
	s.EchoWitnesses[env.SenderPubKey] = struct{}{}

	// The amplification rule is unconditional: every node that transitions
	// INIT -> ECHOING on a PAYLOAD emits its own ECHO, even if witnesses
	// stashed earlier (while still in INIT) already satisfy ready_threshold.
	if !s.emittedEcho {
		s.emittedEcho = true
		targets := sampleSlice(s.EchoSample)
		sig := crypto.Sign(e.priv, env.MID[:])
		e.outbound.SendEcho(targets, env.MID, sig)
	}

	if e.readyThresholdMetLocked(s) {
		e.advanceToReady(s)
	}
}

// OnEcho processes an inbound ECHO witness for mid from signer (spec §4.6
// rows 3-4, 7, and row "INIT, recv ECHO(MID)").
func (e *Engine) OnEcho(mid crypto.MID, signer crypto.PublicKey) {
	s := e.getOrCreate(mid)
	if s.Phase == PhaseDelivered || s.Phase == PhaseExpired {
		return
	}
	if _, dup := s.EchoWitnesses[signer]; dup {
		e.metrics.DuplicateWitness++
		return
	}
	s.EchoWitnesses[signer] = struct{}{}

	switch s.Phase {
	case PhaseInit:
		// Stashed pending the envelope arriving (spec: "stash ECHO pending
		// payload"); no transition yet.
	case PhaseEchoing:
		if e.readyThresholdMetLocked(s) {
			e.advanceToReady(s)
		}
	case PhaseReady:
		// Accelerates neighbors; no further local transition.
	}
}

// OnReady processes an inbound READY witness for mid from signer (spec §4.6
// row "READY, recv READY").
func (e *Engine) OnReady(mid crypto.MID, signer crypto.PublicKey) {
	s := e.getOrCreate(mid)
	if s.Phase == PhaseDelivered || s.Phase == PhaseExpired {
		return
	}
	if _, dup := s.ReadyWitnesses[signer]; dup {
		e.metrics.DuplicateWitness++
		return
	}
	s.ReadyWitnesses[signer] = struct{}{}

	if len(s.ReadyWitnesses) >= e.cfg.DeliveryThreshold {
		e.deliverLocked(s)
	}
}

func (e *Engine) readyThresholdMetLocked(s *PerMessageState) bool {
	return s.echoSampleIntersectionCount() >= e.cfg.ReadyThreshold
}

// advanceToReady performs the ECHOING -> READY transition's side effect:
// emit READY to ready_sample (and optionally all, per the
// consensus.ready_broadcast tunable, spec §9 open question decision).
func (e *Engine) advanceToReady(s *PerMessageState) {
	s.Phase = PhaseReady
	s.ReadyWitnesses[e.self] = struct{}{}
	s.emittedReady = true

	var targets []crypto.PublicKey
	if e.cfg.ReadyBroadcastAll {
		targets = e.sampler.AllLive(e.self, true)
	} else {
		targets = sampleSlice(s.ReadySample)
	}
	sig := crypto.Sign(e.priv, s.MID[:])
	e.outbound.SendReady(targets, s.MID, sig)

	if len(s.ReadyWitnesses) >= e.cfg.DeliveryThreshold {
		e.deliverLocked(s)
	}
}

func (e *Engine) deliverLocked(s *PerMessageState) {
	s.Phase = PhaseDelivered
	s.DeliveredAt = e.now()
	e.metrics.Delivered++
	if s.Envelope != nil && e.deliver != nil {
		e.deliver(s.MID, s.Envelope, s.DeliveredAt.Sub(s.FirstSeenAt))
	}
}

func sampleSlice(set map[crypto.PublicKey]struct{}) []crypto.PublicKey {
	out := make([]crypto.PublicKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
