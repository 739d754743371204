package testsig

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/blockengine/crypto"
)

// Key is a secp256k1 key pair with derived address.
type Key struct {
	Signer    crypto.Signer
	Verifier  crypto.Verifier
	PublicKey []byte
	Address   []byte
}

func NewKey(t testing.TB) *Key {
	t.Helper()
	signer, verifier := CreateSignerAndVerifier(t)
	pubKey, err := verifier.MarshalPublicKey()
	require.NoError(t, err)
	return &Key{
		Signer:    signer,
		Verifier:  verifier,
		PublicKey: pubKey,
		Address:   crypto.AddressFromPublicKey(pubKey),
	}
}

func CreateSignerAndVerifier(t testing.TB) (crypto.Signer, crypto.Verifier) {
	t.Helper()
	signer, err := crypto.NewInMemorySecp256K1Signer()
	require.NoError(t, err)

	verifier, err := signer.Verifier()
	require.NoError(t, err)
	return signer, verifier
}

func SignBytes(t testing.TB, data []byte) (sig, pubKey []byte) {
	t.Helper()
	key := NewKey(t)
	sig, err := key.Signer.SignBytes(data)
	require.NoError(t, err)
	return sig, key.PublicKey
}
