// Package dispatch routes inbound frames to SPDE engine shards and fans
// outbound frames out to the transport (spec §4.7). Per-MID serialization
// is achieved by sharding MIDs across N worker lanes by hash(MID) mod N
// (spec §9), each lane owning a private SPDE engine so witness counting is
// linearizable without a global lock.
package dispatch

import (
	"context"
	"encoding/binary"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/racer-mesh/racer/internal/crypto"
	"github.com/racer-mesh/racer/internal/metrics"
	"github.com/racer-mesh/racer/internal/peer"
	"github.com/racer-mesh/racer/internal/spde"
	"github.com/racer-mesh/racer/internal/transport"
	"github.com/racer-mesh/racer/internal/wire"
)

// Config configures lane count, per-peer send queue depth, and the inbound
// dedup cache size.
type Config struct {
	Lanes          int
	PeerQueueDepth int
	DedupCacheSize int
}

// Dispatcher owns N worker lanes, each wrapping one spde.Engine shard, plus
// one bounded send queue per known peer.
type Dispatcher struct {
	cfg     Config
	lanes   []*lane
	peers   *peer.Registry
	tr      transport.Transport
	log     *zap.Logger
	metrics *metrics.Registry

	// addrMu guards addrByPeer, rebuilt by refreshAddrIndex and read from
	// every lane's recoverSigner call.
	addrMu     sync.RWMutex
	addrByPeer map[string]crypto.PublicKey

	// seenFrames deduplicates inbound gossip: RACER peers flood ECHO/READY
	// to overlapping sample sets, so the same (sender,mid,tag) frame often
	// arrives more than once. Bounded LRU caps memory under churn. The LRU
	// itself is internally synchronized.
	seenFrames *lru.Cache[string, struct{}]

	// queueMu guards sendQueues, lazily populated from SendPayload/SendEcho/
	// SendReady calls made concurrently by every lane's engine goroutine.
	queueMu    sync.Mutex
	sendQueues map[string]chan []byte
}

type lane struct {
	engine *spde.Engine
	jobs   chan func()
}

// New constructs a Dispatcher with cfg.Lanes engine shards, each built from
// newEngine (so the caller supplies per-lane Engine construction, since
// Engine needs the node's signing key, sampler, and deliver callback).
func New(cfg Config, peers *peer.Registry, tr transport.Transport, newEngine func(laneIdx int) *spde.Engine, log *zap.Logger, m *metrics.Registry) *Dispatcher {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 4
	}
	if cfg.PeerQueueDepth <= 0 {
		cfg.PeerQueueDepth = 256
	}
	if cfg.DedupCacheSize <= 0 {
		cfg.DedupCacheSize = 4096
	}
	seen, _ := lru.New[string, struct{}](cfg.DedupCacheSize)
	d := &Dispatcher{
		cfg:        cfg,
		peers:      peers,
		tr:         tr,
		log:        log,
		metrics:    m,
		addrByPeer: make(map[string]crypto.PublicKey),
		seenFrames: seen,
		sendQueues: make(map[string]chan []byte),
	}
	d.lanes = make([]*lane, cfg.Lanes)
	for i := range d.lanes {
		d.lanes[i] = &lane{
			engine: newEngine(i),
			jobs:   make(chan func(), 1024),
		}
	}
	return d
}

// GC reclaims expired and dedup-retention-elapsed MID state on every lane's
// engine shard (spec §4.6/§5: unbounded growth paths must stay closed). The
// node's background maintenance loop (spec §4.8) calls this on a ticker,
// alongside peer pruning and addr-index refresh.
func (d *Dispatcher) GC() {
	for _, l := range d.lanes {
		l := l
		l.jobs <- func() { l.engine.GC() }
	}
}

// Publish routes a locally originated envelope to the lane owning its MID,
// mirroring how handleInbound dispatches OnPayload for received envelopes.
func (d *Dispatcher) Publish(mid crypto.MID, env *wire.Envelope) {
	l := d.laneFor(mid)
	l.jobs <- func() { l.engine.Publish(mid, env) }
}

func (d *Dispatcher) laneFor(mid crypto.MID) *lane {
	idx := int(binary.BigEndian.Uint32(mid[:4])) % len(d.lanes)
	if idx < 0 {
		idx += len(d.lanes)
	}
	return d.lanes[idx]
}

// Run starts the inbound dispatch loop and all lane workers, and rebuilds the
// addr index once, blocking until ctx is cancelled. Per-peer send-queue
// drain loops are not started here: queueFor starts each one on first use,
// and they are not stopped by ctx.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, l := range d.lanes {
		l := l
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-l.jobs:
					job()
				}
			}
		})
	}

	g.Go(func() error {
		for {
			addr, frame, err := d.tr.Recv(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.log.Warn("transport recv error", zap.Error(err))
				continue
			}
			d.handleInbound(addr, frame)
		}
	})

	g.Go(func() error {
		d.refreshAddrIndex()
		return nil
	})

	return g.Wait()
}

func (d *Dispatcher) handleInbound(addr string, frame []byte) {
	cf, err := wire.DecodeControlFrame(frame)
	if err != nil {
		d.metrics.IncMalformedFrame()
		d.log.Debug("malformed frame", zap.String("addr", addr), zap.Error(err))
		return
	}

	switch cf.Tag {
	case wire.TagPayload:
		env := cf.Envelope
		if err := env.Verify(); err != nil {
			d.metrics.IncBadSignature()
			d.log.Debug("bad envelope", zap.String("addr", addr), zap.Error(err))
			return
		}
		if d.isDuplicate(addr, cf.Tag, env.MID) {
			return
		}
		l := d.laneFor(env.MID)
		l.jobs <- func() { l.engine.OnPayload(env) }
	case wire.TagEcho, wire.TagReady:
		if d.isDuplicate(addr, cf.Tag, cf.MID) {
			return
		}
		signer, ok := d.recoverSigner(cf, addr)
		if !ok {
			return
		}
		l := d.laneFor(cf.MID)
		if cf.Tag == wire.TagEcho {
			l.jobs <- func() { l.engine.OnEcho(cf.MID, signer) }
		} else {
			l.jobs <- func() { l.engine.OnReady(cf.MID, signer) }
		}
	default:
		d.metrics.IncMalformedFrame()
	}
}

func (d *Dispatcher) isDuplicate(addr string, tag wire.Tag, mid crypto.MID) bool {
	key := addr + string(rune(tag)) + mid.String()
	if _, ok := d.seenFrames.Get(key); ok {
		d.metrics.IncDuplicateFrame()
		return true
	}
	d.seenFrames.Add(key, struct{}{})
	return false
}

// recoverSigner identifies which known peer at addr produced an ECHO/READY
// witness and checks its signature over the MID. The dispatcher maintains
// addrByPeer as a reverse index over the peer registry (refreshed by
// refreshAddrIndex) since ECHO/READY frames carry only the MID + signature,
// not the signer's key (spec §3).
func (d *Dispatcher) recoverSigner(cf *wire.ControlFrame, addr string) (crypto.PublicKey, bool) {
	signer, ok := d.lookupAddr(addr)
	if !ok {
		d.metrics.IncUnknownSender()
		return crypto.PublicKey{}, false
	}
	if !crypto.Verify(signer, cf.MID[:], cf.WitnessSig) {
		d.metrics.IncBadSignature()
		return crypto.PublicKey{}, false
	}
	return signer, true
}

func (d *Dispatcher) lookupAddr(addr string) (crypto.PublicKey, bool) {
	d.addrMu.RLock()
	defer d.addrMu.RUnlock()
	signer, ok := d.addrByPeer[addr]
	return signer, ok
}

// RefreshAddrIndex rebuilds the addr -> peer-pubkey reverse index from the
// peer registry. The node's background maintenance loop (spec §4.8) calls
// this periodically, alongside peer pruning, since peer addresses change as
// the registry evolves.
func (d *Dispatcher) RefreshAddrIndex() {
	d.refreshAddrIndex()
}

func (d *Dispatcher) refreshAddrIndex() {
	idx := make(map[string]crypto.PublicKey)
	for _, p := range d.peers.Snapshot() {
		idx[p.Address] = p.ID
	}
	d.addrMu.Lock()
	d.addrByPeer = idx
	d.addrMu.Unlock()
}

// SendPayload/SendEcho/SendReady implement spde.Outbound, queueing frames per
// target peer onto a bounded, oldest-dropped channel (spec §4.7/§5: slow or
// unreachable peers must never block consensus progress on the rest).
func (d *Dispatcher) SendPayload(targets []crypto.PublicKey, env *wire.Envelope) {
	cf := &wire.ControlFrame{Tag: wire.TagPayload, Envelope: env}
	d.enqueueAll(targets, cf)
}

func (d *Dispatcher) SendEcho(targets []crypto.PublicKey, mid crypto.MID, sig crypto.Signature) {
	cf := &wire.ControlFrame{Tag: wire.TagEcho, MID: mid, WitnessSig: sig}
	d.enqueueAll(targets, cf)
}

func (d *Dispatcher) SendReady(targets []crypto.PublicKey, mid crypto.MID, sig crypto.Signature) {
	cf := &wire.ControlFrame{Tag: wire.TagReady, MID: mid, WitnessSig: sig}
	d.enqueueAll(targets, cf)
}

// enqueueAll encodes cf once and fans the ControlFrame body out to every
// target's send queue. The Transport implementation owns wire-level framing
// (QUICTransport wraps it with EncodeFrame/WriteFrame per stream; the
// in-memory transport needs no header since its channel already preserves
// message boundaries).
func (d *Dispatcher) enqueueAll(targets []crypto.PublicKey, cf *wire.ControlFrame) {
	body, err := cf.Encode()
	if err != nil {
		d.log.Warn("failed to encode outbound control frame", zap.Error(err))
		return
	}
	for _, target := range targets {
		p, ok := d.peers.Get(target)
		if !ok || !p.Live {
			continue
		}
		q := d.queueFor(p.Address)
		select {
		case q <- body:
		default:
			// Full: drop the oldest queued frame and retry once.
			select {
			case <-q:
				d.metrics.IncQueueOverflow()
			default:
			}
			select {
			case q <- body:
			default:
			}
		}
	}
}

func (d *Dispatcher) queueFor(addr string) chan []byte {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	q, ok := d.sendQueues[addr]
	if ok {
		return q
	}
	q = make(chan []byte, d.cfg.PeerQueueDepth)
	d.sendQueues[addr] = q
	go d.drainQueue(addr, q)
	return q
}

// drainQueue is the single sender for one peer address.
func (d *Dispatcher) drainQueue(addr string, q chan []byte) {
	for frame := range q {
		if err := d.tr.Send(context.Background(), addr, frame); err != nil {
			d.metrics.IncQueueOverflow()
			d.log.Debug("send failed", zap.String("addr", addr), zap.Error(err))
		}
	}
}
