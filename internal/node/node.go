// Package node wires crypto, peer, plato, spde, dispatch, transport,
// logging and metrics into a single running mesh participant, grounded on
// the teacher's internal/node.NewNode bootstrap (home directory, keypair
// load-or-generate, derived node ID).
package node

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/racer-mesh/racer/internal/config"
	"github.com/racer-mesh/racer/internal/crypto"
	"github.com/racer-mesh/racer/internal/dispatch"
	"github.com/racer-mesh/racer/internal/logging"
	"github.com/racer-mesh/racer/internal/metrics"
	"github.com/racer-mesh/racer/internal/peer"
	"github.com/racer-mesh/racer/internal/plato"
	"github.com/racer-mesh/racer/internal/schema"
	"github.com/racer-mesh/racer/internal/spde"
	"github.com/racer-mesh/racer/internal/transport"
	"github.com/racer-mesh/racer/internal/wire"
)

const defaultLanes = 4

// Options configures a Node's on-disk home and runtime dependencies.
type Options struct {
	Home           string
	Config         *config.Config
	Transport      transport.Transport // if nil, a QUIC listener is opened on Config.Node.RouterBind
	Log            *zap.Logger
	PromRegisterer prometheus.Registerer
	Clock          clock.Clock
	Schema         *schema.Message // if set, Publish validates payloads against it first
}

// Node is the facade applications embed: Publish a message, Subscribe to
// deliveries, inspect Peers, and Shutdown cleanly.
type Node struct {
	ID   [32]byte
	Priv *crypto.PrivateKey
	Pub  crypto.PublicKey

	cfg    *config.Config
	peers  *peer.Registry
	ctrl   *plato.Controller
	disp   *dispatch.Dispatcher
	tr     transport.Transport
	log    *zap.Logger
	clk    clock.Clock
	schema *schema.Message

	mu          sync.Mutex
	subscribers []func(mid crypto.MID, payload []byte)

	cancel context.CancelFunc
	wg     *errgroup.Group
	closed bool
}

// New bootstraps a Node: loads or generates its signing keypair under
// opts.Home, constructs the peer registry, PLATO controller, and one SPDE
// engine shard per dispatch lane, then wires everything through the
// dispatcher (spec §4: node facade over C1-C8).
func New(opts Options) (*Node, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("%w: nil config", ErrBadConfig)
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	if opts.Home == "" {
		return nil, fmt.Errorf("%w: empty home directory", ErrBadConfig)
	}
	if err := os.MkdirAll(opts.Home, 0700); err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		var err error
		log, err = logging.New(logging.DefaultConfig())
		if err != nil {
			return nil, err
		}
	}

	priv, pub, err := crypto.LoadOrGenerateKeypair(opts.Home)
	if err != nil {
		return nil, fmt.Errorf("node: load keypair: %w", err)
	}
	id := crypto.NodeID(pub)

	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	_ = filepath.Join(opts.Home, "peers") // reserved for future on-disk peer persistence
	peers := peer.NewRegistry(peer.Options{
		Capacity: 4096,
		TTL:      time.Duration(opts.Config.Plato.MaxGossipTimeoutSecs*4) * time.Second,
		Now:      clk.Now,
	})

	ctrl := plato.NewController(opts.Config.Plato, clk)

	tr := opts.Transport
	if tr == nil {
		qt, err := transport.ListenQUIC(opts.Config.Node.RouterBind, log)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		}
		tr = qt
	}

	promReg := opts.PromRegisterer
	if promReg == nil {
		promReg = prometheus.NewRegistry()
	}
	m := metrics.New(promReg)

	n := &Node{
		ID:    id,
		Priv:  priv,
		Pub:   pub,
		cfg:   opts.Config,
		peers: peers,
		ctrl:  ctrl,
		tr:    tr,
		log:    log,
		clk:    clk,
		schema: opts.Schema,
	}

	dispCfg := dispatch.Config{Lanes: defaultLanes}
	n.disp = dispatch.New(dispCfg, peers, tr, func(laneIdx int) *spde.Engine {
		return spde.New(n.spdeConfig(), pub, priv, peers, nodeOutbound{n}, n.onDeliver, func() time.Time { return clk.Now() })
	}, log, m)

	return n, nil
}

// nodeOutbound forwards to n.disp at send time: dispatch.New builds the
// engine shards before its result is assigned to n.disp.
type nodeOutbound struct{ n *Node }

func (o nodeOutbound) SendPayload(targets []crypto.PublicKey, env *wire.Envelope) {
	o.n.disp.SendPayload(targets, env)
}
func (o nodeOutbound) SendEcho(targets []crypto.PublicKey, mid crypto.MID, sig crypto.Signature) {
	o.n.disp.SendEcho(targets, mid, sig)
}
func (o nodeOutbound) SendReady(targets []crypto.PublicKey, mid crypto.MID, sig crypto.Signature) {
	o.n.disp.SendReady(targets, mid, sig)
}

func (n *Node) spdeConfig() spde.Config {
	cs := n.cfg.Consensus
	return spde.Config{
		EchoSampleSize:    cs.EchoSampleSize,
		ReadySampleSize:   cs.ReadySampleSize,
		ReadyThreshold:    cs.ReadyThreshold,
		DeliveryThreshold: cs.DeliveryThreshold,
		EchoDeadline:      time.Duration(n.cfg.Plato.MaxGossipTimeoutSecs) * time.Second,
		ReadyDeadline:     time.Duration(n.cfg.Plato.MaxGossipTimeoutSecs) * time.Second,
		ExpiryWindow:      time.Duration(n.cfg.ExpiryWindow() * float64(time.Second)),
		DedupRetention:    time.Duration(n.cfg.DedupRetentionWindow() * float64(time.Second)),
		ReadyBroadcastAll: cs.ReadyBroadcast != config.ReadyBroadcastSample,
	}
}

// onDeliver feeds the observed publish-to-delivery interval into PLATO
// before fanning the payload out to subscribers (spec §4.5: PLATO is an
// asynchronous observer of echo-to-ready delay samples), distinguishing
// messages this node originated from ones it only forwarded.
func (n *Node) onDeliver(mid crypto.MID, env *wire.Envelope, latency time.Duration) {
	if env.SenderPubKey == n.Pub {
		n.ctrl.RecordOurLatency(latency.Seconds())
	} else {
		n.ctrl.RecordPeerLatency(latency.Seconds())
	}

	n.mu.Lock()
	subs := append([]func(crypto.MID, []byte){}, n.subscribers...)
	n.mu.Unlock()
	for _, fn := range subs {
		fn(mid, env.Payload)
	}
}

// Subscribe registers fn to be called once per delivered message.
func (n *Node) Subscribe(fn func(mid crypto.MID, payload []byte)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscribers = append(n.subscribers, fn)
}

// Publish rate-limits, seals, and injects a new message into SPDE, routed
// to whichever dispatch lane owns its MID.
func (n *Node) Publish(payload []byte) (crypto.MID, error) {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return crypto.MID{}, ErrShuttingDown
	}

	if n.schema != nil {
		if err := n.schema.Validate(payload); err != nil {
			return crypto.MID{}, fmt.Errorf("node: payload failed schema validation: %w", err)
		}
	}

	decision := n.ctrl.Decide()
	if !decision.Admit {
		return crypto.MID{}, ErrRateLimited
	}

	env := &wire.Envelope{
		SenderPubKey:  n.Pub,
		SequenceNonce: nextNonce(),
		Payload:       payload,
	}
	env.Seal(n.Priv)
	n.disp.Publish(env.MID, env)
	n.ctrl.MarkPublished()
	return env.MID, nil
}

// nextNonce derives a sequence nonce from a random UUIDv4's low 8 bytes;
// RACER only needs non-repeating nonces per sender, not globally ordered
// ones, so this avoids keeping persistent per-sender counter state.
func nextNonce() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[8:16])
}

// Peers returns a snapshot of the known peer set.
func (n *Node) Peers() []peer.Peer {
	return n.peers.Snapshot()
}

// AddPeer registers a peer's address for gossip.
func (n *Node) AddPeer(id crypto.PublicKey, address string) {
	n.peers.Upsert(id, address)
}

// Run starts the dispatcher and background maintenance loops (GC, peer
// pruning, PLATO tick), blocking until ctx is cancelled or Shutdown is
// called.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	n.wg = g

	g.Go(func() error { return n.disp.Run(ctx) })

	g.Go(func() error {
		ticker := n.clk.Ticker(time.Duration(n.cfg.Plato.TargetPublishingFrequencySecs * float64(time.Second)))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n.ctrl.Tick()
			}
		}
	})

	g.Go(func() error {
		ticker := n.clk.Ticker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n.peers.Prune()
				n.disp.RefreshAddrIndex()
			}
		}
	})

	g.Go(func() error {
		ticker := n.clk.Ticker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n.disp.GC()
			}
		}
	})

	return g.Wait()
}

// Shutdown cancels background work and closes the transport, joining all
// errors with multierr (matching the teacher's shutdown aggregation style).
func (n *Node) Shutdown() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	var errs error
	if n.cancel != nil {
		n.cancel()
	}
	if n.wg != nil {
		errs = multierr.Append(errs, n.wg.Wait())
	}
	errs = multierr.Append(errs, n.tr.Close())
	return errs
}
