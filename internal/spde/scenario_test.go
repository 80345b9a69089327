package spde

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/racer-mesh/racer/internal/crypto"
	"github.com/racer-mesh/racer/internal/wire"
)

// TestCrashBeforeReadyStillDeliversViaRemainingWitnesses simulates the
// publisher going silent after the initial PAYLOAD+ECHO broadcast (it
// "crashes" before ever emitting READY): the remaining live nodes must
// still reach DELIVERED from each other's ECHO/READY witnesses alone.
func TestCrashBeforeReadyStillDeliversViaRemainingWitnesses(t *testing.T) {
	type node struct {
		priv *crypto.PrivateKey
		pub  crypto.PublicKey
	}
	nodes := make([]node, 4)
	for i := range nodes {
		priv, pub := genKey(t)
		nodes[i] = node{priv: priv, pub: pub}
	}

	cfg := Config{
		EchoSampleSize: 3, ReadySampleSize: 3,
		ReadyThreshold: 2, DeliveryThreshold: 2,
		ExpiryWindow: 10 * time.Second, DedupRetention: 60 * time.Second,
		ReadyBroadcastAll: true,
	}

	delivered := make([]int, 4)
	engines := make([]*Engine, 4)
	for i, n := range nodes {
		idx := i
		peers := make([]crypto.PublicKey, 0, 3)
		for j, other := range nodes {
			if j != i {
				peers = append(peers, other.pub)
			}
		}
		sampler := &fakeSampler{peers: peers}
		out := &recordingOutbound{}
		engines[i] = New(cfg, n.pub, n.priv, sampler, out, func(mid crypto.MID, env *wire.Envelope, _ time.Duration) {
			delivered[idx]++
		}, func() time.Time { return time.Unix(0, 0) })
	}

	env := &wire.Envelope{SenderPubKey: nodes[0].pub, SequenceNonce: 1, Payload: []byte("x")}
	env.Seal(nodes[0].priv)

	// Node 0 publishes, then crashes: it never relays another frame after
	// this point, so nodes 1-3 must reach DELIVERED from each other alone.
	engines[0].Publish(env.MID, env)
	for i := 1; i < 4; i++ {
		engines[i].OnPayload(env)
	}

	for round := 0; round < 3; round++ {
		for i := 1; i < 4; i++ {
			for j := 1; j < 4; j++ {
				if i == j {
					continue
				}
				if s, ok := engines[j].Get(env.MID); ok && s.Phase >= PhaseEchoing {
					engines[i].OnEcho(env.MID, nodes[j].pub)
				}
				if s, ok := engines[j].Get(env.MID); ok && s.Phase >= PhaseReady {
					engines[i].OnReady(env.MID, nodes[j].pub)
				}
			}
		}
	}

	for i := 1; i < 4; i++ {
		s, ok := engines[i].Get(env.MID)
		require.True(t, ok, "node %d should have a state", i)
		require.Equal(t, PhaseDelivered, s.Phase, "node %d should have delivered despite the publisher crashing", i)
		require.Equal(t, 1, delivered[i])
	}
}

// TestByzantineEquivocationCannotDoubleCountASingleWitness checks that a
// signer attempting to re-send its own ECHO for the same MID (equivocation
// at the witness-counting layer, rather than a genuinely new witness) is
// only ever counted once toward the ready threshold, since witnesses are
// keyed by distinct signer public key (spec §4.6).
func TestByzantineEquivocationCannotDoubleCountASingleWitness(t *testing.T) {
	priv, self := genKey(t)
	_, byzantine := genKey(t)
	_, honest := genKey(t)
	peers := []crypto.PublicKey{byzantine, honest}

	cfg := testConfig()
	cfg.ReadyThreshold = 2
	cfg.DeliveryThreshold = 2
	eng, _ := newTestEngine(t, peers, self, priv, cfg, nil)

	env := &wire.Envelope{SenderPubKey: self, SequenceNonce: 1, Payload: []byte("x")}
	env.Seal(priv)
	eng.Publish(env.MID, env)

	// The byzantine node replays the same ECHO witness repeatedly, trying to
	// manufacture quorum on its own.
	for i := 0; i < 10; i++ {
		eng.OnEcho(env.MID, byzantine)
	}

	s, _ := eng.Get(env.MID)
	require.Equal(t, PhaseEchoing, s.Phase, "a single replayed witness must never satisfy a threshold of 2 on its own")
	require.Equal(t, 9, eng.Metrics().DuplicateWitness)

	// Only once a genuinely distinct honest witness arrives does the
	// echo_sample intersection (byzantine + honest) cross the threshold.
	eng.OnEcho(env.MID, honest)
	s, _ = eng.Get(env.MID)
	require.Equal(t, PhaseReady, s.Phase)
}

// TestSubQuorumPartitionNeverDeliversAndExpires models a network partition
// that leaves a node with too few reachable witnesses to ever cross
// ready_threshold: it must neither deliver nor deadlock, and must eventually
// be garbage collected once expiry_window elapses.
func TestSubQuorumPartitionNeverDeliversAndExpires(t *testing.T) {
	priv, self := genKey(t)
	_, onlyReachablePeer := genKey(t)
	peers := []crypto.PublicKey{onlyReachablePeer}

	delivered := 0
	clockTime := time.Unix(0, 0)
	out := &recordingOutbound{}
	sampler := &fakeSampler{peers: peers}
	cfg := testConfig()
	cfg.ReadyThreshold = 3
	cfg.DeliveryThreshold = 3
	cfg.ExpiryWindow = time.Second
	eng := New(cfg, self, priv, sampler, out, func(mid crypto.MID, env *wire.Envelope, _ time.Duration) {
		delivered++
	}, func() time.Time { return clockTime })

	env := &wire.Envelope{SenderPubKey: self, SequenceNonce: 1, Payload: []byte("x")}
	env.Seal(priv)
	eng.Publish(env.MID, env)

	// The partition means only one echo_sample peer's witness ever arrives,
	// an intersection count of 1 against a ready_threshold of 3.
	eng.OnEcho(env.MID, onlyReachablePeer)

	s, _ := eng.Get(env.MID)
	require.Equal(t, PhaseEchoing, s.Phase, "state must stay non-terminal, not wrongly deliver under sub-quorum")
	require.Equal(t, 0, delivered)

	clockTime = clockTime.Add(2 * time.Second)
	eng.GC()
	require.Equal(t, 0, eng.Len(), "a permanently sub-quorum MID must still be reclaimed by GC")
	require.Equal(t, 1, eng.Metrics().Expired)
	require.Equal(t, 0, delivered, "expiry must never retroactively deliver")
}

// TestDuplicateDeliveryWindowSuppressesReplayedPayload checks that a PAYLOAD
// frame replayed after delivery does not re-trigger the deliver callback or
// revive a DELIVERED state, for as long as the dedup retention window holds
// the terminal state in memory.
func TestDuplicateDeliveryWindowSuppressesReplayedPayload(t *testing.T) {
	priv, self := genKey(t)
	_, p2 := genKey(t)
	_, p3 := genKey(t)
	peers := []crypto.PublicKey{p2, p3}

	delivered := 0
	eng, _ := newTestEngine(t, peers, self, priv, testConfig(), func(mid crypto.MID, env *wire.Envelope, _ time.Duration) {
		delivered++
	})

	env := &wire.Envelope{SenderPubKey: self, SequenceNonce: 1, Payload: []byte("x")}
	env.Seal(priv)
	eng.Publish(env.MID, env)
	eng.OnEcho(env.MID, p2)
	eng.OnEcho(env.MID, p3)
	eng.OnReady(env.MID, p2)
	eng.OnReady(env.MID, p3)

	s, _ := eng.Get(env.MID)
	require.Equal(t, PhaseDelivered, s.Phase)
	require.Equal(t, 1, delivered)

	// A replayed PAYLOAD for the same, already-delivered MID must not
	// re-run the INIT -> ECHOING transition or re-deliver.
	eng.OnPayload(env)
	s, _ = eng.Get(env.MID)
	require.Equal(t, PhaseDelivered, s.Phase)
	require.Equal(t, 1, delivered)
}
