package token

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/blockengine/internal/testutils/observability"
	testsig "github.com/alphabill-org/blockengine/internal/testutils/sig"
	testtransaction "github.com/alphabill-org/blockengine/internal/testutils/transaction"
	"github.com/alphabill-org/blockengine/keyvaluedb/memorydb"
	"github.com/alphabill-org/blockengine/state"
	"github.com/alphabill-org/blockengine/statemachine"
	"github.com/alphabill-org/blockengine/types"
)

var chainID = []byte{0, 0, 0, 3}

func genesis(t *testing.T, accounts ...*GenesisAccount) *types.Block {
	t.Helper()
	data, err := types.Cbor.Marshal(&GenesisAsset{Accounts: accounts})
	require.NoError(t, err)
	return &types.Block{Header: &types.BlockHeader{}, Assets: []*types.Asset{{Module: ModuleName, Data: data}}}
}

func initState(t *testing.T, accounts ...*GenesisAccount) (*Module, *statemachine.StateMachine, *state.State) {
	t.Helper()
	m := NewModule()
	sm, err := statemachine.NewStateMachine(chainID, []statemachine.Module{m}, observability.NOPObservability())
	require.NoError(t, err)
	db, err := memorydb.New()
	require.NoError(t, err)
	view, _, err := sm.InitGenesisState(context.Background(), genesis(t, accounts...), db)
	require.NoError(t, err)
	return m, sm, view
}

func transferTx(t *testing.T, key *testsig.Key, nonce uint64, to []byte, amount uint64) *types.Transaction {
	return testtransaction.New(t, chainID, key,
		testtransaction.WithCommand(ModuleName, CommandTransfer),
		testtransaction.WithNonce(nonce),
		testtransaction.WithParams(&TransferParams{Recipient: to, Amount: amount}))
}

func TestGenesis(t *testing.T) {
	alice := bytes.Repeat([]byte{1}, 20)
	m, _, view := initState(t, &GenesisAccount{Address: alice, Balance: 100})

	balance, err := m.Method().Balance(view, alice)
	require.NoError(t, err)
	require.EqualValues(t, 100, balance)

	balance, err = m.Method().Balance(view, bytes.Repeat([]byte{2}, 20))
	require.NoError(t, err)
	require.Zero(t, balance)

	sm, err := statemachine.NewStateMachine(chainID, []statemachine.Module{NewModule()}, observability.NOPObservability())
	require.NoError(t, err)
	db, err := memorydb.New()
	require.NoError(t, err)
	_, _, err = sm.InitGenesisState(context.Background(), genesis(t, &GenesisAccount{Address: alice}, &GenesisAccount{Address: alice}), db)
	require.ErrorContains(t, err, "duplicate genesis account")
	_, _, err = sm.InitGenesisState(context.Background(), genesis(t, &GenesisAccount{Address: []byte{1}}), db)
	require.ErrorContains(t, err, "genesis account 0: invalid address length 1")

	// token asset is optional
	_, _, err = sm.InitGenesisState(context.Background(), &types.Block{Header: &types.BlockHeader{}}, db)
	require.NoError(t, err)
}

func TestTransfer(t *testing.T) {
	alice := testsig.NewKey(t)
	bob := bytes.Repeat([]byte{2}, 20)
	m, sm, view := initState(t, &GenesisAccount{Address: alice.Address, Balance: 100})

	b := &types.Block{
		Header:       &types.BlockHeader{Height: 1},
		Transactions: []*types.Transaction{transferTx(t, alice, 0, bob, 60), transferTx(t, alice, 1, bob, 60)},
	}
	res, err := sm.Execute(context.Background(), view, b)
	require.NoError(t, err)
	require.True(t, res.TxResults[0].Success)
	// second transfer is over the balance
	require.False(t, res.TxResults[1].Success)
	require.Contains(t, res.TxResults[1].Message, ErrInsufficientBalance.Error())

	balance, err := m.Method().Balance(view, alice.Address)
	require.NoError(t, err)
	require.EqualValues(t, 40, balance)
	balance, err = m.Method().Balance(view, bob)
	require.NoError(t, err)
	require.EqualValues(t, 60, balance)

	require.Len(t, res.Events, 3)
	e := res.Events[0]
	require.Equal(t, EventNameTransfer, e.Name)
	require.Equal(t, []types.Bytes{b.Transactions[0].ID(), alice.Address, bob}, e.TopicIDs)
	ev := &TransferEvent{}
	require.NoError(t, types.Cbor.Unmarshal(e.Data, ev))
	require.EqualValues(t, 60, ev.Amount)
}

func TestTransfer_Verify(t *testing.T) {
	alice := testsig.NewKey(t)
	_, sm, view := initState(t, &GenesisAccount{Address: alice.Address, Balance: 100})

	_, err := sm.Execute(context.Background(), view, &types.Block{
		Header:       &types.BlockHeader{Height: 1},
		Transactions: []*types.Transaction{transferTx(t, alice, 0, []byte{1, 2}, 10)},
	})
	require.ErrorContains(t, err, "invalid recipient address length 2")

	_, _, view = initState(t, &GenesisAccount{Address: alice.Address, Balance: 100})
	_, err = sm.Execute(context.Background(), view, &types.Block{
		Header:       &types.BlockHeader{Height: 1},
		Transactions: []*types.Transaction{transferTx(t, alice, 0, bytes.Repeat([]byte{2}, 20), 0)},
	})
	require.ErrorContains(t, err, "transfer amount must be positive")
}

func TestMethod(t *testing.T) {
	m, _, view := initState(t)
	method := m.Method()
	a := bytes.Repeat([]byte{1}, 20)
	b := bytes.Repeat([]byte{2}, 20)

	require.NoError(t, method.Credit(view, a, 10))
	require.ErrorIs(t, method.Debit(view, a, 11), ErrInsufficientBalance)
	require.ErrorIs(t, method.Transfer(view, a, b, 11), ErrInsufficientBalance)
	require.NoError(t, method.Transfer(view, a, b, 4))
	require.ErrorContains(t, method.Credit(view, b, math.MaxUint64), "overflow")

	var got []uint64
	require.NoError(t, method.Accounts(view, func(address []byte, acc *Account) (bool, error) {
		got = append(got, acc.Balance)
		return true, nil
	}))
	require.Equal(t, []uint64{6, 4}, got)
}
