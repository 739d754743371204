package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var ErrVerificationFailed = errors.New("signature verification failed")

type verifierSecp256k1 struct {
	pubKey *ecdsa.PublicKey
}

// NewVerifierSecp256k1 creates verifier from the compressed secp256k1 public key.
func NewVerifierSecp256k1(compressedPubKey []byte) (Verifier, error) {
	if len(compressedPubKey) != CompressedSecp256K1PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", CompressedSecp256K1PublicKeySize, len(compressedPubKey))
	}
	pubKey, err := ethcrypto.DecompressPubkey(compressedPubKey)
	if err != nil {
		return nil, fmt.Errorf("decompressing public key: %w", err)
	}
	return &verifierSecp256k1{pubKey: pubKey}, nil
}

func (v *verifierSecp256k1) VerifyBytes(sig []byte, data []byte) error {
	return v.VerifyHash(sig, Hash(data))
}

func (v *verifierSecp256k1) VerifyHash(sig []byte, hash []byte) error {
	if len(sig) != SignatureSize {
		return fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(sig))
	}
	if !ethcrypto.VerifySignature(ethcrypto.CompressPubkey(v.pubKey), hash, sig) {
		return ErrVerificationFailed
	}
	return nil
}

func (v *verifierSecp256k1) MarshalPublicKey() ([]byte, error) {
	return ethcrypto.CompressPubkey(v.pubKey), nil
}

func (v *verifierSecp256k1) UnmarshalPubKey() (crypto.PublicKey, error) {
	return v.pubKey, nil
}

// VerifySignature checks that sig is a valid signature of data by the owner of
// the compressed public key.
func VerifySignature(pubKey, sig, data []byte) error {
	v, err := NewVerifierSecp256k1(pubKey)
	if err != nil {
		return err
	}
	return v.VerifyBytes(sig, data)
}
