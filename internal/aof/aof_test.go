package aof

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ramforge/ramforge/internal/index"
	"github.com/ramforge/ramforge/internal/ramerr"
	"github.com/ramforge/ramforge/internal/record"
)

func TestSyncAppendRoundTripRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "append.aof")

	a, err := Open(Config{Path: path, RingCapacity: 16}, nil)
	require.NoError(t, err)
	require.NoError(t, a.Append(1, []byte("neo")))
	require.NoError(t, a.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, record.EncodeAOF(1, []byte("neo")), raw)
}

func TestBatchedAppendSurvivesCloseAndReplays(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "append.aof")

	a, err := Open(Config{Path: path, RingCapacity: 16, FlushInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	for i := int32(0); i < 100; i++ {
		require.NoError(t, a.Append(i, []byte("v")))
	}
	require.NoError(t, a.Close())

	ix := index.New()
	a2, err := Open(Config{Path: path, RingCapacity: 16}, nil)
	require.NoError(t, err)
	defer a2.Close()
	require.NoError(t, a2.Load(ix))
	require.Equal(t, 100, ix.Len())
}

func TestLoadMissingFileIsEmptyState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "append.aof")

	a, err := Open(Config{Path: path}, nil)
	require.NoError(t, err)
	defer a.Close()

	ix := index.New()
	require.NoError(t, a.Load(ix))
	require.Equal(t, 0, ix.Len())
}

func TestLoadDetectsTornTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "append.aof")

	a, err := Open(Config{Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, a.Append(1, []byte("neo")))
	require.NoError(t, a.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-1], 0644))

	a2, err := Open(Config{Path: path}, nil)
	require.NoError(t, err)
	defer a2.Close()

	ix := index.New()
	err = a2.Load(ix)
	var corrupt *ramerr.Corrupt
	require.ErrorAs(t, err, &corrupt)
}

func TestLoadDetectsCRCMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "append.aof")

	a, err := Open(Config{Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, a.Append(1, []byte("neo")))
	require.NoError(t, a.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF // flip a byte inside the CRC footer
	require.NoError(t, os.WriteFile(path, raw, 0644))

	a2, err := Open(Config{Path: path}, nil)
	require.NoError(t, err)
	defer a2.Close()

	ix := index.New()
	err = a2.Load(ix)
	var corrupt *ramerr.Corrupt
	require.ErrorAs(t, err, &corrupt)
}

func TestAppendDeleteRemovesKeyOnReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "append.aof")

	a, err := Open(Config{Path: path, RingCapacity: 16}, nil)
	require.NoError(t, err)
	require.NoError(t, a.Append(1, []byte("neo")))
	require.NoError(t, a.AppendDelete(1))
	require.NoError(t, a.Close())

	ix := index.New()
	a2, err := Open(Config{Path: path}, nil)
	require.NoError(t, err)
	defer a2.Close()
	require.NoError(t, a2.Load(ix))

	_, ok := ix.GetCopy(1)
	require.False(t, ok)
	require.Equal(t, 0, ix.Len())
}

func TestRewriteProducesExactlyOneRecordPerLiveKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "append.aof")

	a, err := Open(Config{Path: path, RingCapacity: 16}, nil)
	require.NoError(t, err)

	ix := index.New()
	for i := int32(0); i < 1000; i++ {
		require.NoError(t, a.Append(i, []byte("v1")))
		ix.Save(i, []byte("v1"))
	}
	for i := int32(0); i < 1000; i++ {
		require.NoError(t, a.Append(i, []byte("v2")))
		ix.Save(i, []byte("v2"))
	}

	require.NoError(t, a.Rewrite(ix))
	require.NoError(t, a.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 1000*len(record.EncodeAOF(0, []byte("v2"))))

	reloaded := index.New()
	a2, err := Open(Config{Path: path}, nil)
	require.NoError(t, err)
	defer a2.Close()
	require.NoError(t, a2.Load(reloaded))
	require.Equal(t, 1000, reloaded.Len())

	got, ok := reloaded.GetCopy(500)
	require.True(t, ok)
	require.Equal(t, "v2", string(got))
}
