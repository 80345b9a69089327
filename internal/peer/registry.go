// Package peer maintains the live peer set RACER gossips over: identity,
// address, and liveness (spec §4.4), and draws uniform random samples for
// SPDE's echo/ready sets.
package peer

import (
	"container/list"
	"sync"
	"time"

	"github.com/racer-mesh/racer/internal/crypto"
)

// Peer is one entry in the registry (spec §3: identity, address, liveness
// flags, last-heard monotonic time).
type Peer struct {
	ID        crypto.PublicKey
	Address   string
	Live      bool
	LastHeard time.Time
}

// Registry is a capacity-bounded, TTL-pruned peer table, structured after
// the teacher's peer store (container/list ordering + map lookup, guarded
// by a reader-biased mutex, with the oldest entry evicted over capacity and
// stale entries pruned by TTL). Unlike the teacher's store it carries no
// address-observation/cooldown/invite bookkeeping: RACER's peer model is
// just identity + address + liveness.
type Registry struct {
	mu    sync.RWMutex
	cap   int
	ttl   time.Duration
	order *list.List
	byID  map[crypto.PublicKey]*list.Element
	now   func() time.Time
}

type entry struct {
	peer *Peer
}

// Options configures a Registry.
type Options struct {
	Capacity int
	TTL      time.Duration
	Now      func() time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts Options) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	cap := opts.Capacity
	if cap <= 0 {
		cap = 1024
	}
	return &Registry{
		cap:   cap,
		ttl:   opts.TTL,
		order: list.New(),
		byID:  make(map[crypto.PublicKey]*list.Element),
		now:   now,
	}
}

// Upsert adds or refreshes a peer's address/liveness and marks it most
// recently heard from.
func (r *Registry) Upsert(id crypto.PublicKey, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if el, ok := r.byID[id]; ok {
		p := el.Value.(*entry).peer
		p.Address = address
		p.Live = true
		p.LastHeard = r.now()
		r.order.MoveToFront(el)
		return
	}

	p := &Peer{ID: id, Address: address, Live: true, LastHeard: r.now()}
	el := r.order.PushFront(&entry{peer: p})
	r.byID[id] = el
	r.evictLocked()
}

// MarkDead flags a peer as no longer live without removing it (it may still
// be counted as a witness for in-flight MIDs).
func (r *Registry) MarkDead(id crypto.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if el, ok := r.byID[id]; ok {
		el.Value.(*entry).peer.Live = false
	}
}

// Remove drops a peer entirely.
func (r *Registry) Remove(id crypto.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if el, ok := r.byID[id]; ok {
		r.order.Remove(el)
		delete(r.byID, id)
	}
}

// Get returns a snapshot of one peer, if known.
func (r *Registry) Get(id crypto.PublicKey) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	el, ok := r.byID[id]
	if !ok {
		return Peer{}, false
	}
	return *el.Value.(*entry).peer, true
}

// Snapshot returns every known peer (live or not), newest-heard first.
func (r *Registry) Snapshot() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, r.order.Len())
	for el := r.order.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*entry).peer)
	}
	return out
}

// Prune drops peers not heard from within TTL. A no-op if TTL is zero.
func (r *Registry) Prune() {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
}

func (r *Registry) pruneLocked() {
	cutoff := r.now().Add(-r.ttl)
	var next *list.Element
	for el := r.order.Back(); el != nil; el = next {
		next = el.Prev()
		p := el.Value.(*entry).peer
		if p.LastHeard.Before(cutoff) {
			r.order.Remove(el)
			delete(r.byID, p.ID)
		}
	}
}

func (r *Registry) evictLocked() {
	for r.order.Len() > r.cap {
		oldest := r.order.Back()
		if oldest == nil {
			return
		}
		p := oldest.Value.(*entry).peer
		r.order.Remove(oldest)
		delete(r.byID, p.ID)
	}
}

// Len returns the number of known peers (live or not).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.order.Len()
}
