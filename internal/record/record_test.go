package record

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeAOFSetRoundTrip(t *testing.T) {
	raw := EncodeAOF(42, []byte("neo"))
	rec, err := DecodeAOF(bytes.NewReader(raw))
	require.NoError(t, err)
	require.False(t, rec.Delete)
	require.Equal(t, int32(42), rec.Key)
	require.Equal(t, "neo", string(rec.Value))
}

func TestEncodeDecodeAOFDeleteRoundTrip(t *testing.T) {
	raw := EncodeAOFDelete(42)
	rec, err := DecodeAOF(bytes.NewReader(raw))
	require.NoError(t, err)
	require.True(t, rec.Delete)
	require.Equal(t, int32(42), rec.Key)
	require.Empty(t, rec.Value)
}

func TestDecodeAOFUnknownOpTagIsCorrupt(t *testing.T) {
	raw := EncodeAOF(1, []byte("x"))
	raw[0] = 0x7F // neither opSet nor opDelete
	_, err := DecodeAOF(bytes.NewReader(raw))
	var corrupt *ErrCorrupt
	require.ErrorAs(t, err, &corrupt)
}

func TestDecodeAOFCleanEOFBetweenRecords(t *testing.T) {
	_, err := DecodeAOF(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}

func TestRDBTripleRoundTripHasNoFooter(t *testing.T) {
	raw := EncodeRDBTriple(7, []byte("trinity"))
	triple, rawOut, err := DecodeRDBTriple(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, int32(7), triple.Key)
	require.Equal(t, "trinity", string(triple.Bytes))
	require.Equal(t, raw, rawOut)
}
