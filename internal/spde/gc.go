package spde

// GC drops non-terminal states that have exceeded expiry_window with no
// progress, and DELIVERED states past the dedup retention window (spec
// §4.6: "garbage collected" / "DELIVERED entries retained for a dedup
// window"). Call periodically from the GC background worker (spec §4.8).
func (e *Engine) GC() {
	now := e.now()
	for mid, s := range e.states {
		switch s.Phase {
		case PhaseDelivered:
			if now.Sub(s.DeliveredAt) > e.cfg.DedupRetention {
				delete(e.states, mid)
			}
		case PhaseExpired:
			delete(e.states, mid)
		default:
			if now.Sub(s.FirstSeenAt) > e.cfg.ExpiryWindow {
				s.Phase = PhaseExpired
				e.metrics.Expired++
				delete(e.states, mid)
			}
		}
	}
}

// Len returns the number of tracked (non-GC'd) MIDs in this shard.
func (e *Engine) Len() int {
	return len(e.states)
}
