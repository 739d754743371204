package crypto

import "crypto"

const (
	// CompressedSecp256K1PublicKeySize is the size of compressed secp256k1 public key.
	CompressedSecp256K1PublicKeySize = 33
	// SignatureSize is the size of the signature without the recovery byte.
	SignatureSize = 64
	// AddressSize is the size of an account address derived from public key.
	AddressSize = 20
	// HashSize is the size of the digest returned by Hash.
	HashSize = 32
)

type (
	// Signer component for digitally signing data.
	Signer interface {
		// SignBytes signs the data using the private key specified by the Signer.
		SignBytes(data []byte) ([]byte, error)
		// SignHash signs the digest, digest must be 32 bytes.
		SignHash(hash []byte) ([]byte, error)
		// MarshalPrivateKey returns the private key bytes so these could be unmarshalled later to create the Signer.
		MarshalPrivateKey() ([]byte, error)
		// Verifier returns a verifier that verifies using the public key part.
		Verifier() (Verifier, error)
	}

	// Verifier component for verifying signatures.
	Verifier interface {
		// VerifyBytes verifies the bytes against the signature, using the internal public key.
		VerifyBytes(sig []byte, data []byte) error
		// VerifyHash verifies the digest against the signature.
		VerifyHash(sig []byte, hash []byte) error
		// MarshalPublicKey marshal verifier public key to bytes.
		MarshalPublicKey() ([]byte, error)
		// UnmarshalPubKey unmarshal verifier public key to crypto.PublicKey
		UnmarshalPubKey() (crypto.PublicKey, error)
	}
)
