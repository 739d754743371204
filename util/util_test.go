package util

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddUint64(t *testing.T) {
	var cases = []struct {
		args []uint64
		sum  uint64
		err  error
	}{
		{args: nil, sum: 0},
		{args: []uint64{math.MaxUint64}, sum: math.MaxUint64},
		{args: []uint64{1, 2, 3}, sum: 6},
		{args: []uint64{math.MaxUint64 - 1, 1}, sum: math.MaxUint64},
		{args: []uint64{1, math.MaxUint64}, err: ErrOverflow},
		{args: []uint64{math.MaxUint64, math.MaxUint64, 2}, err: ErrOverflow},
	}
	for _, tc := range cases {
		sum, err := AddUint64(tc.args...)
		require.ErrorIs(t, err, tc.err, "args %v", tc.args)
		require.Equal(t, tc.sum, sum, "args %v", tc.args)
	}
}

func TestHeightKeysAreOrdered(t *testing.T) {
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 0}, Uint64ToBytes(256))
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, Uint64ToBytes(math.MaxUint64))
	require.EqualValues(t, 592137, BytesToUint64([]byte{0, 0, 0, 0, 0, 9, 9, 9, 0xAA}))
	require.Equal(t, []byte{0x80, 0x00}, Uint16ToBytes(0x8000))

	prefix := []byte{'b'}
	k1 := ConcatBytes(prefix, Uint64ToBytes(255))
	k2 := ConcatBytes(prefix, Uint64ToBytes(256))
	require.Len(t, k1, 9)
	require.Equal(t, -1, bytes.Compare(k1, k2))
	require.Empty(t, ConcatBytes())
}
