package spde

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/racer-mesh/racer/internal/crypto"
	"github.com/racer-mesh/racer/internal/wire"
)

// fakeSampler returns every peer it is given, in order, truncated to k; it
// exists to make ECHO-sample-intersection tests deterministic.
type fakeSampler struct {
	peers []crypto.PublicKey
}

func (f *fakeSampler) Sample(k int, exclude crypto.PublicKey, excludeSelf bool) []crypto.PublicKey {
	out := make([]crypto.PublicKey, 0, k)
	for _, p := range f.peers {
		if excludeSelf && p == exclude {
			continue
		}
		out = append(out, p)
		if len(out) == k {
			break
		}
	}
	return out
}

func (f *fakeSampler) AllLive(exclude crypto.PublicKey, excludeSelf bool) []crypto.PublicKey {
	return f.Sample(len(f.peers), exclude, excludeSelf)
}

type recordingOutbound struct {
	payloads [][]crypto.PublicKey
	echoes   [][]crypto.PublicKey
	readies  [][]crypto.PublicKey
}

func (r *recordingOutbound) SendPayload(targets []crypto.PublicKey, env *wire.Envelope) {
	r.payloads = append(r.payloads, targets)
}
func (r *recordingOutbound) SendEcho(targets []crypto.PublicKey, mid crypto.MID, sig crypto.Signature) {
	r.echoes = append(r.echoes, targets)
}
func (r *recordingOutbound) SendReady(targets []crypto.PublicKey, mid crypto.MID, sig crypto.Signature) {
	r.readies = append(r.readies, targets)
}

func genKey(t *testing.T) (*crypto.PrivateKey, crypto.PublicKey) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return priv, pub
}

func newTestEngine(t *testing.T, peers []crypto.PublicKey, self crypto.PublicKey, priv *crypto.PrivateKey, cfg Config, deliver DeliverFunc) (*Engine, *recordingOutbound) {
	t.Helper()
	out := &recordingOutbound{}
	sampler := &fakeSampler{peers: peers}
	eng := New(cfg, self, priv, sampler, out, deliver, func() time.Time { return time.Unix(0, 0) })
	return eng, out
}

func testConfig() Config {
	return Config{
		EchoSampleSize:    4,
		ReadySampleSize:   4,
		ReadyThreshold:    3,
		DeliveryThreshold: 3,
		EchoDeadline:      time.Second,
		ReadyDeadline:     time.Second,
		ExpiryWindow:      10 * time.Second,
		DedupRetention:    60 * time.Second,
		ReadyBroadcastAll: true,
	}
}

func TestPublishTransitionsToEchoingAndBroadcasts(t *testing.T) {
	priv, self := genKey(t)
	_, p2 := genKey(t)
	_, p3 := genKey(t)
	peers := []crypto.PublicKey{p2, p3}

	eng, out := newTestEngine(t, peers, self, priv, testConfig(), nil)

	env := &wire.Envelope{SenderPubKey: self, SequenceNonce: 1, Payload: []byte("x")}
	env.Seal(priv)

	eng.Publish(env.MID, env)
	s, ok := eng.Get(env.MID)
	require.True(t, ok)
	require.Equal(t, PhaseEchoing, s.Phase)
	require.Contains(t, s.EchoWitnesses, self)
	require.Len(t, out.payloads, 1)
	require.Len(t, out.echoes, 1)
}

func TestFiveNodeHappyPathDeliversOnAllNodes(t *testing.T) {
	type node struct {
		priv *crypto.PrivateKey
		pub  crypto.PublicKey
	}
	nodes := make([]node, 5)
	for i := range nodes {
		priv, pub := genKey(t)
		nodes[i] = node{priv: priv, pub: pub}
	}

	cfg := Config{
		EchoSampleSize: 4, ReadySampleSize: 4,
		ReadyThreshold: 3, DeliveryThreshold: 3,
		ExpiryWindow: 10 * time.Second, DedupRetention: 60 * time.Second,
		ReadyBroadcastAll: true,
	}

	delivered := make([]int, 5)
	engines := make([]*Engine, 5)
	for i, n := range nodes {
		idx := i
		peers := make([]crypto.PublicKey, 0, 4)
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

	env := &wire.Envelope{SenderPubKey: nodes[0].pub, SequenceNonce: 1, Payload: []byte(`{"temperature":21.5}`)}
	env.Seal(nodes[0].priv)

	// Node A publishes: it echoes to all live peers and counts itself.
	engines[0].Publish(env.MID, env)

	// Deliver PAYLOAD to every other node, then flood ECHO and READY
	// witnesses pairwise until the network settles (simulating gossip).
	for i := 1; i < 5; i++ {
		engines[i].OnPayload(env)
	}

	for round := 0; round < 3; round++ {
		for i := range engines {
			for j := range engines {
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

	for i := range engines {
		s, ok := engines[i].Get(env.MID)
		require.True(t, ok, "node %d should have a state", i)
		require.Equal(t, PhaseDelivered, s.Phase, "node %d should have delivered", i)
		require.Equal(t, 1, delivered[i], "node %d subscribe callback should fire exactly once", i)
	}
}

func TestDeliveredIsTerminalAndIgnoresFurtherWitnesses(t *testing.T) {
	priv, self := genKey(t)
	_, p2 := genKey(t)
	_, p3 := genKey(t)
	_, p4 := genKey(t)
	peers := []crypto.PublicKey{p2, p3, p4}

	delivered := 0
	eng, _ := newTestEngine(t, peers, self, priv, testConfig(), func(mid crypto.MID, env *wire.Envelope, _ time.Duration) {
		delivered++
	})

	env := &wire.Envelope{SenderPubKey: self, SequenceNonce: 1, Payload: []byte("x")}
	env.Seal(priv)
	eng.Publish(env.MID, env)
	eng.OnEcho(env.MID, p2)
	eng.OnEcho(env.MID, p3)
	s, _ := eng.Get(env.MID)
	require.Equal(t, PhaseReady, s.Phase)

	eng.OnReady(env.MID, p2)
	eng.OnReady(env.MID, p3)
	s, _ = eng.Get(env.MID)
	require.Equal(t, PhaseDelivered, s.Phase)
	require.Equal(t, 1, delivered)

	// Replay: duplicate/late witnesses must not re-trigger delivery.
	eng.OnReady(env.MID, p2)
	eng.OnEcho(env.MID, p4)
	require.Equal(t, 1, delivered)
}

func TestDuplicateWitnessCountedOnce(t *testing.T) {
	priv, self := genKey(t)
	_, p2 := genKey(t)
	peers := []crypto.PublicKey{p2}
	eng, _ := newTestEngine(t, peers, self, priv, testConfig(), nil)

	env := &wire.Envelope{SenderPubKey: self, SequenceNonce: 1, Payload: []byte("x")}
	env.Seal(priv)
	eng.Publish(env.MID, env)

	eng.OnEcho(env.MID, p2)
	eng.OnEcho(env.MID, p2)

	s, _ := eng.Get(env.MID)
	require.Len(t, s.EchoWitnesses, 2) // self + p2
	require.Equal(t, 1, eng.Metrics().DuplicateWitness)
}

func TestGCExpiresStaleNonTerminalState(t *testing.T) {
	priv, self := genKey(t)
	_, p2 := genKey(t)
	peers := []crypto.PublicKey{p2}

	clockTime := time.Unix(0, 0)
	out := &recordingOutbound{}
	sampler := &fakeSampler{peers: peers}
	cfg := testConfig()
	cfg.ExpiryWindow = time.Second
	eng := New(cfg, self, priv, sampler, out, nil, func() time.Time { return clockTime })

	env := &wire.Envelope{SenderPubKey: self, SequenceNonce: 1, Payload: []byte("x")}
	env.Seal(priv)
	eng.Publish(env.MID, env)
	require.Equal(t, 1, eng.Len())

	clockTime = clockTime.Add(2 * time.Second)
	eng.GC()
	require.Equal(t, 0, eng.Len())
	require.Equal(t, 1, eng.Metrics().Expired)
}

func TestGCRetainsDeliveredUntilDedupWindowElapses(t *testing.T) {
	priv, self := genKey(t)
	_, p2 := genKey(t)
	_, p3 := genKey(t)
	peers := []crypto.PublicKey{p2, p3}

	clockTime := time.Unix(0, 0)
	out := &recordingOutbound{}
	sampler := &fakeSampler{peers: peers}
	cfg := testConfig()
	cfg.DedupRetention = time.Second
	eng := New(cfg, self, priv, sampler, out, nil, func() time.Time { return clockTime })

	env := &wire.Envelope{SenderPubKey: self, SequenceNonce: 1, Payload: []byte("x")}
	env.Seal(priv)
	eng.Publish(env.MID, env)
	eng.OnEcho(env.MID, p2)
	eng.OnEcho(env.MID, p3)
	eng.OnReady(env.MID, p2)
	eng.OnReady(env.MID, p3)

	s, _ := eng.Get(env.MID)
	require.Equal(t, PhaseDelivered, s.Phase)

	eng.GC()
	require.Equal(t, 1, eng.Len(), "delivered state should survive GC within the dedup window")

	clockTime = clockTime.Add(2 * time.Second)
	eng.GC()
	require.Equal(t, 0, eng.Len())
}
