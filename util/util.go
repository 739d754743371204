// Package util has the byte and integer helpers used for building database keys and summing amounts.
package util

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/bits"
)

var ErrOverflow = errors.New("uint64 overflow")

// ConcatBytes joins the parts into a new slice.
func ConcatBytes(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

// Uint64ToBytes encodes i as 8 big endian bytes, so that byte order of the keys follows the numeric order.
func Uint64ToBytes(i uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), i)
}

// BytesToUint64 decodes the first 8 bytes of b, it panics when b is shorter.
func BytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func Uint16ToBytes(i uint16) []byte {
	return binary.BigEndian.AppendUint16(make([]byte, 0, 2), i)
}

// AddUint64 returns the sum of the arguments or ErrOverflow.
func AddUint64(args ...uint64) (uint64, error) {
	var sum, carry uint64
	for _, a := range args {
		if sum, carry = bits.Add64(sum, a, 0); carry != 0 {
			return 0, ErrOverflow
		}
	}
	return sum, nil
}
