package types

import (
	"errors"
	"fmt"

	"github.com/alphabill-org/blockengine/crypto"
)

var errTransactionIsNil = errors.New("transaction is nil")

type Transaction struct {
	_               struct{} `cbor:",toarray"`
	Module          string   `json:"module"`
	Command         string   `json:"command"`
	Nonce           uint64   `json:"nonce,string"`
	Fee             uint64   `json:"fee,string"`
	SenderPublicKey Bytes    `json:"senderPublicKey"`
	Params          Bytes    `json:"params"`
	Signatures      []Bytes  `json:"signatures"`
}

// ID returns hash of the serialized transaction (signatures included).
func (tx *Transaction) ID() []byte {
	return crypto.Hash(mustEncode(tx))
}

/*
SigningBytes returns the bytes the sender signs: chain ID followed by the
encoding of the transaction without signatures.
*/
func (tx *Transaction) SigningBytes(chainID []byte) ([]byte, error) {
	if tx == nil {
		return nil, errTransactionIsNil
	}
	unsigned := *tx
	unsigned.Signatures = nil
	b, err := Cbor.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("encoding transaction: %w", err)
	}
	return append(append(make([]byte, 0, len(chainID)+len(b)), chainID...), b...), nil
}

// SenderAddress returns the address derived from the sender public key.
func (tx *Transaction) SenderAddress() []byte {
	return crypto.AddressFromPublicKey(tx.SenderPublicKey)
}

// UnmarshalParams decodes command parameters into v.
func (tx *Transaction) UnmarshalParams(v any) error {
	if tx == nil {
		return errTransactionIsNil
	}
	return Cbor.Unmarshal(tx.Params, v)
}

// SetParams encodes v as the command parameters.
func (tx *Transaction) SetParams(v any) error {
	b, err := Cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	tx.Params = b
	return nil
}

func (tx *Transaction) Bytes() ([]byte, error) {
	return Cbor.Marshal(tx)
}

// FullCommand returns "module:command" used in logs and error messages.
func (tx *Transaction) FullCommand() string {
	return tx.Module + ":" + tx.Command
}

// Sign signs the transaction with given signer and replaces existing signatures.
func (tx *Transaction) Sign(chainID []byte, signer crypto.Signer) error {
	b, err := tx.SigningBytes(chainID)
	if err != nil {
		return err
	}
	sig, err := signer.SignBytes(b)
	if err != nil {
		return fmt.Errorf("signing transaction: %w", err)
	}
	tx.Signatures = []Bytes{sig}
	return nil
}

func mustEncode(v any) []byte {
	b, err := Cbor.Marshal(v)
	if err != nil {
		// only fixed shape records are hashed with this helper so this is a programming error
		panic(fmt.Errorf("encoding %T: %w", v, err))
	}
	return b
}
