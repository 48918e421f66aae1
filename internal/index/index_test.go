package index

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/ramforge/ramforge/internal/record"
)

func TestSaveGetRoundTrip(t *testing.T) {
	ix := New()
	ix.Save(1, []byte("neo"))

	out := make([]byte, 16)
	n, ok := ix.Get(1, out)
	require.True(t, ok)
	require.Equal(t, "neo", string(out[:n]))
}

func TestGetShortBufferReportsRequiredSize(t *testing.T) {
	ix := New()
	ix.Save(1, []byte("trinity"))

	small := make([]byte, 2)
	n, ok := ix.Get(1, small)
	require.False(t, ok)
	require.Equal(t, len("trinity"), n)
}

func TestZeroLengthValueRoundTrips(t *testing.T) {
	ix := New()
	ix.Save(7, []byte{})

	out := make([]byte, 0)
	n, ok := ix.Get(7, out)
	require.True(t, ok)
	require.Equal(t, 0, n)
}

func TestOverwriteIsInPlace(t *testing.T) {
	ix := New()
	ix.Save(1, []byte("a"))
	ix.Save(1, []byte("bb"))
	require.Equal(t, 1, ix.Len())

	got, ok := ix.GetCopy(1)
	require.True(t, ok)
	require.Equal(t, "bb", string(got))
}

func TestRemoveTombstonesWithoutShiftingNeighbors(t *testing.T) {
	ix := New()
	// Force several keys into the same probe chain by using a small table.
	for i := int32(0); i < 8; i++ {
		ix.Save(i, []byte(fmt.Sprintf("v%d", i)))
	}
	require.True(t, ix.Remove(3))
	require.False(t, ix.Remove(3)) // already gone

	// Every other key must still be reachable despite the tombstone.
	for i := int32(0); i < 8; i++ {
		if i == 3 {
			_, ok := ix.GetCopy(i)
			require.False(t, ok)
			continue
		}
		got, ok := ix.GetCopy(i)
		require.True(t, ok, "key %d should still be reachable", i)
		require.Equal(t, fmt.Sprintf("v%d", i), string(got))
	}
}

func TestRehashPreservesAllLiveKeys(t *testing.T) {
	ix := New()
	const n = 500
	for i := int32(0); i < n; i++ {
		ix.Save(i, []byte(fmt.Sprintf("value-%d", i)))
	}
	require.Equal(t, n, ix.Len())

	for i := int32(0); i < n; i++ {
		got, ok := ix.GetCopy(i)
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("value-%d", i), string(got))
	}
}

func TestIterateVisitsEveryLiveKeyExactlyOnce(t *testing.T) {
	ix := New()
	want := map[int32]string{}
	for i := int32(0); i < 64; i++ {
		v := fmt.Sprintf("v%d", i)
		ix.Save(i, []byte(v))
		want[i] = v
	}
	ix.Remove(10)
	delete(want, 10)

	seen := map[int32]string{}
	ix.Iterate(func(key int32, value []byte) {
		seen[key] = string(value)
	})
	require.Equal(t, want, seen)
}

func TestSnapshotIsIndependentlyOwned(t *testing.T) {
	ix := New()
	ix.Save(1, []byte("original"))

	snap := ix.Snapshot()
	require.Len(t, snap, 1)

	ix.Save(1, []byte("mutated"))
	require.Equal(t, "original", string(snap[0].Bytes))
}

// TestSnapshotContainsExactlyLiveTriples compares the snapshot against the
// expected key/value set regardless of slot order — the Robin-Hood table
// has no stable iteration order, so a plain slice-equality check would be
// flaky; cmpopts.SortSlices sorts both sides by key before diffing.
func TestSnapshotContainsExactlyLiveTriples(t *testing.T) {
	ix := New()
	want := make([]record.Triple, 0, 32)
	for i := int32(0); i < 32; i++ {
		v := []byte(fmt.Sprintf("v%d", i))
		ix.Save(i, v)
		want = append(want, record.Triple{Key: i, Bytes: v})
	}
	ix.Remove(5)
	want = append(want[:5], want[6:]...)

	got := ix.Snapshot()

	byKey := cmpopts.SortSlices(func(a, b record.Triple) bool { return a.Key < b.Key })
	if diff := cmp.Diff(want, got, byKey); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}
