package peer

import (
	"math/rand"

	"github.com/racer-mesh/racer/internal/crypto"
)

// Sample draws k distinct live peers uniformly without replacement via a
// partial Fisher-Yates shuffle, the same technique the pack's dep2p-go-dep2p
// uses for candidate selection. If fewer than k live peers exist (excluding
// self if requested), all of them are returned (spec §4.4: "degraded
// operation is allowed").
func (r *Registry) Sample(k int, excludeSelf crypto.PublicKey, excludeSelfFlag bool) []crypto.PublicKey {
	r.mu.RLock()
	live := make([]crypto.PublicKey, 0, r.order.Len())
	for el := r.order.Front(); el != nil; el = el.Next() {
		p := el.Value.(*entry).peer
		if !p.Live {
			continue
		}
		if excludeSelfFlag && p.ID == excludeSelf {
			continue
		}
		live = append(live, p.ID)
	}
	r.mu.RUnlock()

	if k >= len(live) {
		return live
	}
	for i := 0; i < k; i++ {
		j := i + rand.Intn(len(live)-i)
		live[i], live[j] = live[j], live[i]
	}
	return live[:k]
}

// AllLive returns every live peer (optionally excluding self), unordered.
// Used for Publish's local-source PAYLOAD/ECHO flood and, when
// consensus.ready_broadcast is "all", for READY flood (spec §9).
func (r *Registry) AllLive(excludeSelf crypto.PublicKey, excludeSelfFlag bool) []crypto.PublicKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]crypto.PublicKey, 0, r.order.Len())
	for el := r.order.Front(); el != nil; el = el.Next() {
		p := el.Value.(*entry).peer
		if !p.Live {
			continue
		}
		if excludeSelfFlag && p.ID == excludeSelf {
			continue
		}
		out = append(out, p.ID)
	}
	return out
}
