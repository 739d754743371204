package types

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// ErrNonCanonical is returned by DecodeCanonical when re-encoding the decoded
// value does not reproduce the input bytes.
var ErrNonCanonical = errors.New("input is not canonically encoded")

/*
Cbor is the codec used for everything which is hashed, signed or persisted.

Encoding follows the "core deterministic" rules (shortest integer forms,
sorted map keys, no indefinite lengths) so that encode(decode(x)) == x for
any canonical x. Decoding rejects duplicate map keys and unknown fields.
*/
var Cbor = newCborHandler()

type cborHandler struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCborHandler() cborHandler {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Errorf("creating CBOR encoder: %w", err))
	}
	dec, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		MaxNestedLevels:   32,
	}.DecMode()
	if err != nil {
		panic(fmt.Errorf("creating CBOR decoder: %w", err))
	}
	return cborHandler{enc: enc, dec: dec}
}

func (c cborHandler) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c cborHandler) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}

/*
DecodeCanonical is like Unmarshal but in addition requires that the input
is the canonical encoding of the decoded value. Use it for data received
from untrusted sources which is later hashed.
*/
func (c cborHandler) DecodeCanonical(data []byte, v any) error {
	if err := c.dec.Unmarshal(data, v); err != nil {
		return err
	}
	b, err := c.enc.Marshal(v)
	if err != nil {
		return fmt.Errorf("re-encoding decoded value: %w", err)
	}
	if !bytes.Equal(b, data) {
		return ErrNonCanonical
	}
	return nil
}

func (c cborHandler) Encode(w io.Writer, v any) error {
	return c.enc.NewEncoder(w).Encode(v)
}

func (c cborHandler) GetEncoder(w io.Writer) (*cbor.Encoder, error) {
	return c.enc.NewEncoder(w), nil
}

func (c cborHandler) GetDecoder(r io.Reader) *cbor.Decoder {
	return c.dec.NewDecoder(r)
}

// RawCBOR is encoded CBOR data item, it is copied to the output as is.
type RawCBOR = cbor.RawMessage
