package types

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

type CustomData struct {
	Name  string
	Value int
}

var (
	validInput    = CustomData{Name: "foo", Value: 30}
	validCbor     = []byte{0xa2, 0x64, 0x4e, 0x61, 0x6d, 0x65, 0x63, 0x66, 0x6f, 0x6f, 0x65, 0x56, 0x61, 0x6c, 0x75, 0x65, 0x18, 0x1e}
	invalidCbor   = []byte{0xa2, 0x64, 0x4e, 0x61, 0x6d, 0x65, 0x63, 0x66, 0x6f, 0x6f, 0x65, 0x56, 0x61, 0x6c, 0x75, 0x65, 0x18} // missing final value
	emptyDataCbor = []byte{0xa2, 0x64, 0x4e, 0x61, 0x6d, 0x65, 0x60, 0x65, 0x56, 0x61, 0x6c, 0x75, 0x65, 0x0}
)

func TestCborHandler_Marshal(t *testing.T) {
	got, err := Cbor.Marshal(validInput)
	require.NoError(t, err)
	require.Equal(t, validCbor, got)

	got, err = Cbor.Marshal(complex(20, 10))
	require.ErrorContains(t, err, "cbor: unsupported type: complex128")
	require.Nil(t, got)
}

func TestCborHandler_Unmarshal(t *testing.T) {
	t.Run("valid input", func(t *testing.T) {
		var got CustomData
		require.NoError(t, Cbor.Unmarshal(validCbor, &got))
		require.Equal(t, validInput, got)
	})

	t.Run("nil and empty input", func(t *testing.T) {
		var got CustomData
		require.ErrorContains(t, Cbor.Unmarshal(nil, &got), "EOF")
		require.ErrorContains(t, Cbor.Unmarshal([]byte{}, &got), "EOF")
		require.Equal(t, CustomData{}, got)
	})

	t.Run("invalid input data", func(t *testing.T) {
		var got CustomData
		require.ErrorContains(t, Cbor.Unmarshal([]byte{5}, &got), "cbor: cannot unmarshal positive integer into Go value of type types.CustomData")
		require.ErrorContains(t, Cbor.Unmarshal(invalidCbor, &got), "unexpected EOF")
		require.Equal(t, CustomData{}, got)
	})

	t.Run("wrong type", func(t *testing.T) {
		var got Bytes
		require.ErrorContains(t, Cbor.Unmarshal(validCbor, &got), "cbor: cannot unmarshal map into Go value of type types.Bytes")
		require.Nil(t, got)
	})

	t.Run("unknown field", func(t *testing.T) {
		type other struct {
			Name  string
			Value int
			Extra bool
		}
		b, err := Cbor.Marshal(other{Name: "foo"})
		require.NoError(t, err)
		var got CustomData
		require.ErrorContains(t, Cbor.Unmarshal(b, &got), "unknown field")
	})

	t.Run("trailing data", func(t *testing.T) {
		var got CustomData
		require.Error(t, Cbor.Unmarshal(append(bytes.Clone(validCbor), 0x01), &got))
	})
}

func TestCborHandler_Encoding(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, Cbor.Encode(buf, validInput))
	require.Equal(t, validCbor, buf.Bytes())

	buf.Reset()
	enc, err := Cbor.GetEncoder(buf)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(CustomData{}))
	require.Equal(t, emptyDataCbor, buf.Bytes())

	buf.Reset()
	require.NoError(t, Cbor.Encode(buf, nil))
	require.Equal(t, []byte{0xf6}, buf.Bytes())

	var got CustomData
	require.NoError(t, Cbor.GetDecoder(bytes.NewReader(validCbor)).Decode(&got))
	require.Equal(t, validInput, got)
}

func TestCborHandler_DecodeCanonical(t *testing.T) {
	var ac AggregateCommit
	require.NoError(t, Cbor.DecodeCanonical([]byte{0x83, 0x05, 0xf6, 0xf6}, &ac))
	require.EqualValues(t, 5, ac.Height)

	// 5 encoded with one extra byte is valid CBOR but not the shortest form
	require.ErrorIs(t, Cbor.DecodeCanonical([]byte{0x83, 0x18, 0x05, 0xf6, 0xf6}, &ac), ErrNonCanonical)
}
