package validation

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/alphabill-org/blockengine/crypto"
	"github.com/alphabill-org/blockengine/types"
)

/*
VerifySignature checks that the transaction is signed by the owner of the
publicKey. The signed bytes are bound to the chain ID.
*/
func VerifySignature(chainID []byte, tx *types.Transaction, publicKey []byte) error {
	if tx == nil {
		return &SignatureError{Err: errors.New("transaction is nil")}
	}
	if len(tx.Signatures) != 1 {
		return &SignatureError{ID: tx.ID(), Err: fmt.Errorf("expected one signature, got %d", len(tx.Signatures))}
	}
	if !bytes.Equal(publicKey, tx.SenderPublicKey) {
		return &SignatureError{ID: tx.ID(), Err: errors.New("public key is not the sender key")}
	}
	data, err := tx.SigningBytes(chainID)
	if err != nil {
		return &SignatureError{ID: tx.ID(), Err: err}
	}
	if err := crypto.VerifySignature(publicKey, tx.Signatures[0], data); err != nil {
		return &SignatureError{ID: tx.ID(), Err: err}
	}
	return nil
}

// VerifyBlockSignature checks the generator signature of the block header.
func VerifyBlockSignature(chainID []byte, header *types.BlockHeader, publicKey []byte) error {
	if header == nil {
		return &SignatureError{Err: errors.New("block header is nil")}
	}
	if err := crypto.VerifySignature(publicKey, header.Signature, header.SigningBytes(chainID)); err != nil {
		return &SignatureError{ID: header.ID(), Err: err}
	}
	return nil
}
