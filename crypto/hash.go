package crypto

import (
	"crypto/sha256"
)

// Hash returns SHA-256 digest of the concatenation of the data parts.
func Hash(data ...[]byte) []byte {
	hasher := sha256.New()
	for _, d := range data {
		hasher.Write(d)
	}
	return hasher.Sum(nil)
}

// AddressFromPublicKey returns account address of the public key: the first
// 20 bytes of the SHA-256 digest of the key.
func AddressFromPublicKey(pubKey []byte) []byte {
	return Hash(pubKey)[:AddressSize]
}
