package fee

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/blockengine/internal/testutils/observability"
	testsig "github.com/alphabill-org/blockengine/internal/testutils/sig"
	testtransaction "github.com/alphabill-org/blockengine/internal/testutils/transaction"
	"github.com/alphabill-org/blockengine/keyvaluedb/memorydb"
	"github.com/alphabill-org/blockengine/modules/counter"
	"github.com/alphabill-org/blockengine/modules/token"
	"github.com/alphabill-org/blockengine/state"
	"github.com/alphabill-org/blockengine/statemachine"
	"github.com/alphabill-org/blockengine/types"
)

var (
	chainID   = []byte{0, 0, 0, 4}
	generator = bytes.Repeat([]byte{9}, 20)
)

type env struct {
	tokens *token.Module
	sm     *statemachine.StateMachine
	view   *state.State
}

func newEnv(t *testing.T, minFee uint64, accounts ...*token.GenesisAccount) *env {
	t.Helper()
	tokens := token.NewModule()
	fees, err := NewModule(tokens.Method(), WithMinFee(minFee))
	require.NoError(t, err)
	require.EqualValues(t, minFee, fees.MinFee())
	sm, err := statemachine.NewStateMachine(chainID, []statemachine.Module{tokens, fees, counter.NewModule()}, observability.NOPObservability())
	require.NoError(t, err)
	db, err := memorydb.New()
	require.NoError(t, err)
	data, err := types.Cbor.Marshal(&token.GenesisAsset{Accounts: accounts})
	require.NoError(t, err)
	view, _, err := sm.InitGenesisState(context.Background(), &types.Block{
		Header: &types.BlockHeader{},
		Assets: []*types.Asset{{Module: token.ModuleName, Data: data}},
	}, db)
	require.NoError(t, err)
	return &env{tokens: tokens, sm: sm, view: view}
}

func (e *env) balance(t *testing.T, address []byte) uint64 {
	t.Helper()
	b, err := e.tokens.Method().Balance(e.view, address)
	require.NoError(t, err)
	return b
}

func block(txs ...*types.Transaction) *types.Block {
	return &types.Block{Header: &types.BlockHeader{Height: 1, GeneratorAddress: generator}, Transactions: txs}
}

func TestNewModule(t *testing.T) {
	_, err := NewModule(nil)
	require.EqualError(t, err, "balance method is nil")
	m, err := NewModule(token.NewMethod())
	require.NoError(t, err)
	require.EqualValues(t, DefaultMinFee, m.MinFee())
}

func TestFees(t *testing.T) {
	alice := testsig.NewKey(t)
	bob := testsig.NewKey(t)
	e := newEnv(t, 2, &token.GenesisAccount{Address: alice.Address, Balance: 100}, &token.GenesisAccount{Address: bob.Address, Balance: 10})

	txs := []*types.Transaction{
		testtransaction.New(t, chainID, alice, testtransaction.WithFee(5)),
		// fails: transfer over the balance, fee is still charged
		testtransaction.New(t, chainID, bob, testtransaction.WithFee(3),
			testtransaction.WithCommand(token.ModuleName, token.CommandTransfer),
			testtransaction.WithParams(&token.TransferParams{Recipient: alice.Address, Amount: 50})),
	}
	res, err := e.sm.Execute(context.Background(), e.view, block(txs...))
	require.NoError(t, err)
	require.True(t, res.TxResults[0].Success)
	require.False(t, res.TxResults[1].Success)

	require.EqualValues(t, 95, e.balance(t, alice.Address))
	require.EqualValues(t, 7, e.balance(t, bob.Address))
	require.EqualValues(t, 8, e.balance(t, generator))

	last := res.Events[len(res.Events)-1]
	require.Equal(t, ModuleName, last.Module)
	require.Equal(t, EventNameCollected, last.Name)
	ev := &CollectedEvent{}
	require.NoError(t, types.Cbor.Unmarshal(last.Data, ev))
	require.EqualValues(t, 8, ev.Amount)
	require.Equal(t, generator, []byte(ev.Generator))
}

func TestFees_InvalidTransaction(t *testing.T) {
	alice := testsig.NewKey(t)

	e := newEnv(t, 2, &token.GenesisAccount{Address: alice.Address, Balance: 100})
	_, err := e.sm.Execute(context.Background(), e.view, block(testtransaction.New(t, chainID, alice, testtransaction.WithFee(1))))
	require.ErrorIs(t, err, ErrInsufficientFee)

	e = newEnv(t, 2, &token.GenesisAccount{Address: alice.Address, Balance: 100})
	_, err = e.sm.Execute(context.Background(), e.view, block(testtransaction.New(t, chainID, alice, testtransaction.WithFee(101))))
	require.ErrorIs(t, err, token.ErrInsufficientBalance)

	// second transaction can't pay after the first one
	e = newEnv(t, 2, &token.GenesisAccount{Address: alice.Address, Balance: 100})
	_, err = e.sm.Execute(context.Background(), e.view, block(
		testtransaction.New(t, chainID, alice, testtransaction.WithFee(60)),
		testtransaction.New(t, chainID, alice, testtransaction.WithFee(60), testtransaction.WithNonce(1)),
	))
	var txErr *statemachine.TransactionVerificationError
	require.ErrorAs(t, err, &txErr)
	require.Equal(t, 1, txErr.Index)
}

func TestFees_EmptyBlock(t *testing.T) {
	e := newEnv(t, 1)
	res, err := e.sm.Execute(context.Background(), e.view, block())
	require.NoError(t, err)
	require.Empty(t, res.Events)
	require.Zero(t, e.balance(t, generator))
}
