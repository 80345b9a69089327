package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/racer-mesh/racer/internal/crypto"
)

func newKey(t *testing.T, b byte) crypto.PublicKey {
	t.Helper()
	var pub crypto.PublicKey
	pub[0] = 0x02
	pub[1] = b
	return pub
}

func TestRegistryUpsertAndSnapshot(t *testing.T) {
	r := NewRegistry(Options{Capacity: 10})
	a := newKey(t, 1)
	r.Upsert(a, "10.0.0.1:9000")

	p, ok := r.Get(a)
	require.True(t, ok)
	require.Equal(t, "10.0.0.1:9000", p.Address)
	require.True(t, p.Live)
	require.Len(t, r.Snapshot(), 1)
}

func TestRegistryEvictsOverCapacity(t *testing.T) {
	r := NewRegistry(Options{Capacity: 2})
	r.Upsert(newKey(t, 1), "a")
	r.Upsert(newKey(t, 2), "b")
	r.Upsert(newKey(t, 3), "c")
	require.Equal(t, 2, r.Len())
	_, ok := r.Get(newKey(t, 1))
	require.False(t, ok, "oldest entry should have been evicted")
}

func TestRegistryPrunesByTTL(t *testing.T) {
	clockNow := time.Now()
	r := NewRegistry(Options{Capacity: 10, TTL: time.Minute, Now: func() time.Time { return clockNow }})
	r.Upsert(newKey(t, 1), "a")

	clockNow = clockNow.Add(2 * time.Minute)
	r.Prune()
	require.Equal(t, 0, r.Len())
}

func TestSampleReturnsAllWhenFewerThanK(t *testing.T) {
	r := NewRegistry(Options{Capacity: 10})
	r.Upsert(newKey(t, 1), "a")
	r.Upsert(newKey(t, 2), "b")

	out := r.Sample(5, crypto.PublicKey{}, false)
	require.Len(t, out, 2)
}

func TestSampleExcludesSelf(t *testing.T) {
	r := NewRegistry(Options{Capacity: 10})
	self := newKey(t, 1)
	r.Upsert(self, "a")
	r.Upsert(newKey(t, 2), "b")

	out := r.Sample(5, self, true)
	require.Len(t, out, 1)
	require.NotEqual(t, self, out[0])
}

func TestSampleDistinctWithoutReplacement(t *testing.T) {
	r := NewRegistry(Options{Capacity: 20})
	for i := byte(1); i <= 10; i++ {
		r.Upsert(newKey(t, i), "addr")
	}
	out := r.Sample(4, crypto.PublicKey{}, false)
	require.Len(t, out, 4)
	seen := map[crypto.PublicKey]bool{}
	for _, id := range out {
		require.False(t, seen[id], "sample must be distinct")
		seen[id] = true
	}
}
