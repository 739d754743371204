package testtransaction

import (
	"testing"

	"github.com/stretchr/testify/require"

	testsig "github.com/alphabill-org/blockengine/internal/testutils/sig"
	"github.com/alphabill-org/blockengine/types"
)

type Option func(t testing.TB, tx *types.Transaction)

func WithCommand(module, command string) Option {
	return func(t testing.TB, tx *types.Transaction) {
		tx.Module = module
		tx.Command = command
	}
}

func WithNonce(nonce uint64) Option {
	return func(t testing.TB, tx *types.Transaction) {
		tx.Nonce = nonce
	}
}

func WithFee(fee uint64) Option {
	return func(t testing.TB, tx *types.Transaction) {
		tx.Fee = fee
	}
}

// WithParams encodes params as the command parameters.
func WithParams(params any) Option {
	return func(t testing.TB, tx *types.Transaction) {
		require.NoError(t, tx.SetParams(params))
	}
}

/*
New returns transaction signed by key for the chain. Without options the
transaction is "counter:increment" with nonce 0 and fee 1.
*/
func New(t testing.TB, chainID []byte, key *testsig.Key, opts ...Option) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{
		Module:          "counter",
		Command:         "increment",
		Fee:             1,
		SenderPublicKey: key.PublicKey,
		Params:          []byte{0x80},
	}
	for _, opt := range opts {
		opt(t, tx)
	}
	require.NoError(t, tx.Sign(chainID, key.Signer))
	return tx
}
