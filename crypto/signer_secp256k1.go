package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// InMemorySecp256K1Signer keeps the private key in memory, meant for tests and development tools.
type InMemorySecp256K1Signer struct {
	privKey *ecdsa.PrivateKey
}

// NewInMemorySecp256K1Signer generates new key pair and creates a new InMemorySecp256K1Signer.
func NewInMemorySecp256K1Signer() (*InMemorySecp256K1Signer, error) {
	privKey, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	return &InMemorySecp256K1Signer{privKey: privKey}, nil
}

// NewInMemorySecp256K1SignerFromKey creates signer from the raw private key bytes.
func NewInMemorySecp256K1SignerFromKey(privKey []byte) (*InMemorySecp256K1Signer, error) {
	key, err := ethcrypto.ToECDSA(privKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &InMemorySecp256K1Signer{privKey: key}, nil
}

func (s *InMemorySecp256K1Signer) SignBytes(data []byte) ([]byte, error) {
	return s.SignHash(Hash(data))
}

func (s *InMemorySecp256K1Signer) SignHash(hash []byte) ([]byte, error) {
	if s == nil || s.privKey == nil {
		return nil, errors.New("signer is not initialized")
	}
	sig, err := ethcrypto.Sign(hash, s.privKey)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	// drop the recovery id, verifier knows the public key
	return sig[:SignatureSize], nil
}

func (s *InMemorySecp256K1Signer) MarshalPrivateKey() ([]byte, error) {
	if s == nil || s.privKey == nil {
		return nil, errors.New("signer is not initialized")
	}
	return ethcrypto.FromECDSA(s.privKey), nil
}

func (s *InMemorySecp256K1Signer) Verifier() (Verifier, error) {
	if s == nil || s.privKey == nil {
		return nil, errors.New("signer is not initialized")
	}
	return &verifierSecp256k1{pubKey: &s.privKey.PublicKey}, nil
}
