package node_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/blockengine/chain"
	testchain "github.com/alphabill-org/blockengine/internal/testutils/chain"
	testobserve "github.com/alphabill-org/blockengine/internal/testutils/observability"
	"github.com/alphabill-org/blockengine/keyvaluedb/memorydb"
	"github.com/alphabill-org/blockengine/modules/token"
	"github.com/alphabill-org/blockengine/node"
	"github.com/alphabill-org/blockengine/state"
)

func TestGenesisConfig_SaveAndLoad(t *testing.T) {
	n := testchain.NewNetwork(t, 2, 3, testchain.WithMinFee(2))
	filename := filepath.Join(t.TempDir(), "conf", "genesis.yaml")
	require.NoError(t, n.Config.Save(filename))

	gc, err := node.LoadGenesisConfig(filename)
	require.NoError(t, err)
	require.Equal(t, n.Config, gc)

	_, err = node.LoadGenesisConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "opening genesis configuration")

	require.NoError(t, os.WriteFile(filename, []byte("chainId: \"0x01\"\nfoo: bar\n"), 0600))
	_, err = node.LoadGenesisConfig(filename)
	require.ErrorContains(t, err, "field foo not found")
}

func TestGenesisConfig_IsValid(t *testing.T) {
	var gc *node.GenesisConfig
	require.EqualError(t, gc.IsValid(), "genesis configuration is nil")

	n := testchain.NewNetwork(t, 1, 1)
	gc = n.Config
	gc.ChainID = nil
	gc.Timestamp = 0
	gc.Accounts[0].Address = []byte{1, 2}
	err := gc.IsValid()
	require.ErrorContains(t, err, "chain ID is empty")
	require.ErrorContains(t, err, "genesis timestamp is zero")
	require.ErrorContains(t, err, "account 0: invalid address")

	gc = testchain.NewNetwork(t, 1, 0).Config
	gc.Validators = nil
	require.ErrorContains(t, gc.IsValid(), "validators:")
}

func TestNew(t *testing.T) {
	n := testchain.NewNetwork(t, 1, 1)
	obs := testobserve.NOPObservability()

	_, err := node.New(context.Background(), nil, n.Config, obs)
	require.EqualError(t, err, "database is nil")

	db, err := memorydb.New()
	require.NoError(t, err)
	nd := n.NewNodeDB(t, db, obs)
	require.EqualValues(t, 0, nd.Chain().Height())
	require.Equal(t, nd.Genesis().ID(), nd.Chain().LastBlock().ID())
	n.Extend(t, nd, 2, 0)

	// reopen, the chain is loaded from the database
	nd2 := n.NewNodeDB(t, db, obs)
	require.EqualValues(t, 2, nd2.Chain().Height())
	require.Equal(t, nd.Chain().LastBlock().ID(), nd2.Chain().LastBlock().ID())

	// different genesis
	other := *n.Config
	other.Timestamp++
	_, err = node.New(context.Background(), db, &other, obs)
	require.ErrorIs(t, err, chain.ErrGenesisMismatch)
}

func TestNode_Queries(t *testing.T) {
	n := testchain.NewNetwork(t, 1, 2)
	nd := n.NewNode(t, testobserve.NOPObservability())
	testchain.Apply(t, nd, n.NextBlock(t, nd, n.Transfer(t, n.Accounts[0], n.Accounts[1].Address, 50, 0, 1)))

	t.Run("status", func(t *testing.T) {
		s, err := nd.Status()
		require.NoError(t, err)
		require.EqualValues(t, 1, s.Height)
		require.EqualValues(t, n.Config.ChainID, s.ChainID)
		require.EqualValues(t, nd.Genesis().ID(), s.GenesisID)
		require.EqualValues(t, nd.Chain().LastBlock().ID(), s.TipID)
		require.Zero(t, s.TempBlocks)
	})

	t.Run("account", func(t *testing.T) {
		acc, err := nd.Account(n.Accounts[0].Address)
		require.NoError(t, err)
		require.EqualValues(t, testchain.InitialBalance-51, acc.Balance)
		require.EqualValues(t, 1, acc.Nonce)

		acc, err = nd.Account(n.Accounts[1].Address)
		require.NoError(t, err)
		require.EqualValues(t, testchain.InitialBalance+50, acc.Balance)
		require.Zero(t, acc.Nonce)
	})

	t.Run("validators", func(t *testing.T) {
		p, err := nd.Validators(2)
		require.NoError(t, err)
		require.Len(t, p.Validators, 1)
		require.EqualValues(t, n.Validators[0].Address, p.Validators[0].Address)

		_, err = nd.Validators(0)
		require.EqualError(t, err, "no validator params for height 0")
	})

	t.Run("state proof", func(t *testing.T) {
		key := state.NewStore[token.Account](token.ModuleName, 0).Key(n.Accounts[0].Address)
		p, err := nd.StateProof(key)
		require.NoError(t, err)
		require.NotEmpty(t, p.Value)
		require.EqualValues(t, nd.Chain().LastBlock().Header.StateRoot, p.Root)
		path := make([][]byte, len(p.Path))
		for i, h := range p.Path {
			path[i] = h
		}
		ok, err := state.VerifyProof(p.Root, key, p.Value, path)
		require.NoError(t, err)
		require.True(t, ok)
	})
}
