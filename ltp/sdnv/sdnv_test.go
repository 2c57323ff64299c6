package sdnv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip64(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 16383, 16384, 1 << 34, 1<<63 - 1, 1 << 63, ^uint64(0)}
	for _, v := range values {
		enc := Encode64(nil, v)
		require.Equal(t, EncodedLen64(v), len(enc))
		got, n, err := Decode64(enc)
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Equal(t, len(enc), n)
	}
}

func TestDecodeTruncated(t *testing.T) {
	_, _, err := Decode64([]byte{0x80, 0x80})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeTooLong(t *testing.T) {
	buf := make([]byte, 11)
	for i := range buf {
		buf[i] = 0x81
	}
	buf[10] = 0x01
	_, _, err := Decode64(buf)
	require.ErrorIs(t, err, ErrTooLong)
}

func TestDecode32Overflow(t *testing.T) {
	enc := Encode64(nil, 1<<40)
	_, _, err := Decode32(enc)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestDecodeMany(t *testing.T) {
	var buf []byte
	buf = Encode64(buf, 1)
	buf = Encode64(buf, 300)
	buf = Encode64(buf, 70000)
	// append a truncated trailing SDNV
	buf = append(buf, 0x80, 0x80)

	values, consumed, err := DecodeMany(buf, 10)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 300, 70000}, values)
	require.Equal(t, len(buf)-2, consumed)
}

func TestEncodedLenBoundaries(t *testing.T) {
	require.Equal(t, 1, EncodedLen64(0))
	require.Equal(t, 1, EncodedLen64(127))
	require.Equal(t, 2, EncodedLen64(128))
	require.Equal(t, 10, EncodedLen64(^uint64(0)))
}
