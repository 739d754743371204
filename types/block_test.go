package types

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/blockengine/crypto"
)

func testBlock(t *testing.T) *Block {
	t.Helper()
	tx := &Transaction{
		Module:          "token",
		Command:         "transfer",
		Nonce:           3,
		Fee:             10,
		SenderPublicKey: bytes.Repeat([]byte{2}, 33),
		Params:          []byte{0x80},
		Signatures:      []Bytes{bytes.Repeat([]byte{1}, 64)},
	}
	b := &Block{
		Header: &BlockHeader{
			Version:          2,
			Height:           7,
			Timestamp:        1700000000,
			PreviousBlockID:  bytes.Repeat([]byte{3}, 32),
			GeneratorAddress: bytes.Repeat([]byte{4}, 20),
			StateRoot:        bytes.Repeat([]byte{5}, 32),
			ValidatorsHash:   bytes.Repeat([]byte{6}, 32),
			AggregateCommit:  &AggregateCommit{Height: 5, AggregationBits: []byte{7}, CertificateSignature: []byte{8}},
		},
		Transactions: []*Transaction{tx},
		Assets:       []*Asset{{Module: "token", Data: []byte{9}}},
	}
	b.Header.TransactionRoot = b.CalculateTransactionRoot()
	b.Header.AssetsRoot = b.CalculateAssetsRoot()
	return b
}

func TestBlock_RoundTrip(t *testing.T) {
	b := testBlock(t)
	data, err := b.Bytes()
	require.NoError(t, err)

	decoded, err := DecodeBlock(data)
	require.NoError(t, err)
	require.Equal(t, b, decoded)

	again, err := decoded.Bytes()
	require.NoError(t, err)
	require.Equal(t, data, again)
	require.Equal(t, b.ID(), decoded.ID())
}

func TestBlockHeader_IDExcludesSignature(t *testing.T) {
	b := testBlock(t)
	id := b.ID()
	require.Len(t, id, 32)

	signer, err := crypto.NewInMemorySecp256K1Signer()
	require.NoError(t, err)
	require.NoError(t, b.Header.Sign([]byte{1}, signer))
	require.NotEmpty(t, b.Header.Signature)
	require.Equal(t, id, b.ID())

	v, err := signer.Verifier()
	require.NoError(t, err)
	require.NoError(t, v.VerifyBytes(b.Header.Signature, b.Header.SigningBytes([]byte{1})))
	// signature is bound to the chain
	require.Error(t, v.VerifyBytes(b.Header.Signature, b.Header.SigningBytes([]byte{2})))

	b.Header.Height++
	require.NotEqual(t, id, b.ID())
}

func TestBlock_Roots(t *testing.T) {
	b := &Block{Header: &BlockHeader{}}
	require.Equal(t, crypto.Hash(nil), b.CalculateTransactionRoot())
	require.Equal(t, crypto.Hash(nil), b.CalculateAssetsRoot())

	b = testBlock(t)
	// single leaf tree root is the leaf itself
	require.Equal(t, b.Transactions[0].ID(), b.CalculateTransactionRoot())

	b.Transactions = append(b.Transactions, &Transaction{Module: "counter", Command: "increment"})
	root := b.CalculateTransactionRoot()
	require.Equal(t, crypto.Hash(b.Transactions[0].ID(), b.Transactions[1].ID()), root)

	// order matters
	b.Transactions[0], b.Transactions[1] = b.Transactions[1], b.Transactions[0]
	require.NotEqual(t, root, b.CalculateTransactionRoot())

	require.NotNil(t, b.GetAsset("token"))
	require.Nil(t, b.GetAsset("fee"))
}

func TestBlock_TransactionProof(t *testing.T) {
	b := testBlock(t)
	for i := range 4 {
		b.Transactions = append(b.Transactions, &Transaction{Module: "counter", Command: "increment", Nonce: uint64(i)})
	}
	b.Header.TransactionRoot = b.CalculateTransactionRoot()

	for i, tx := range b.Transactions {
		p, err := b.TransactionProof(i)
		require.NoError(t, err)
		require.Equal(t, Bytes(tx.ID()), p.TxID)
		require.Equal(t, Bytes(b.ID()), p.BlockID)
		require.EqualValues(t, b.Height(), p.Height)
		require.NoError(t, p.Verify())
	}

	_, err := b.TransactionProof(len(b.Transactions))
	require.ErrorContains(t, err, "out of bounds")

	p, err := b.TransactionProof(1)
	require.NoError(t, err)
	p.TxID = b.Transactions[2].ID()
	require.ErrorContains(t, p.Verify(), "is not included into block")

	var nilProof *TxProof
	require.EqualError(t, nilProof.Verify(), "proof is nil")
}

func TestTransaction_Sign(t *testing.T) {
	signer, err := crypto.NewInMemorySecp256K1Signer()
	require.NoError(t, err)
	v, err := signer.Verifier()
	require.NoError(t, err)
	pubKey, err := v.MarshalPublicKey()
	require.NoError(t, err)

	tx := &Transaction{Module: "token", Command: "transfer", Nonce: 1, Fee: 5, SenderPublicKey: pubKey}
	require.NoError(t, tx.SetParams([]uint64{1, 2}))
	require.NoError(t, tx.Sign([]byte{0, 0, 0, 1}, signer))
	require.Len(t, tx.Signatures, 1)

	sigBytes, err := tx.SigningBytes([]byte{0, 0, 0, 1})
	require.NoError(t, err)
	require.NoError(t, crypto.VerifySignature(pubKey, tx.Signatures[0], sigBytes))

	var params []uint64
	require.NoError(t, tx.UnmarshalParams(&params))
	require.Equal(t, []uint64{1, 2}, params)
	require.Equal(t, crypto.AddressFromPublicKey(pubKey), tx.SenderAddress())
	require.Equal(t, "token:transfer", tx.FullCommand())

	// ID covers signatures
	id := tx.ID()
	tx.Signatures[0][0] ^= 0xff
	require.NotEqual(t, id, tx.ID())

	var nilTx *Transaction
	_, err = nilTx.SigningBytes(nil)
	require.ErrorIs(t, err, errTransactionIsNil)
}

func TestAggregateCommit_IsEmpty(t *testing.T) {
	var ac *AggregateCommit
	require.True(t, ac.IsEmpty())
	require.True(t, (&AggregateCommit{}).IsEmpty())
	require.False(t, (&AggregateCommit{Height: 1}).IsEmpty())
}
