package testchain

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/blockengine/bft"
	"github.com/alphabill-org/blockengine/consensus"
	testsig "github.com/alphabill-org/blockengine/internal/testutils/sig"
	testtransaction "github.com/alphabill-org/blockengine/internal/testutils/transaction"
	"github.com/alphabill-org/blockengine/keyvaluedb"
	"github.com/alphabill-org/blockengine/keyvaluedb/memorydb"
	"github.com/alphabill-org/blockengine/modules/token"
	"github.com/alphabill-org/blockengine/node"
	"github.com/alphabill-org/blockengine/types"
)

const (
	GenesisTimestamp = 1_700_000_000
	BlockTime        = 10
	InitialBalance   = 1_000_000
	ValidatorWeight  = 10
)

// Now is the clock of the test nodes, far enough after genesis to accept every generated block.
func Now() time.Time { return time.Unix(GenesisTimestamp+10_000_000, 0) }

/*
Network is the genesis configuration of a test chain together with the
keys of its validators and funded accounts.
*/
type Network struct {
	Config     *node.GenesisConfig
	Validators []*testsig.Key
	Accounts   []*testsig.Key
}

type Option func(*node.GenesisConfig)

func WithBlocksPerRound(n uint64) Option {
	return func(gc *node.GenesisConfig) {
		gc.BlocksPerRound = n
	}
}

func WithMaxHeaderWindow(n int) Option {
	return func(gc *node.GenesisConfig) {
		gc.MaxHeaderWindow = n
	}
}

func WithMinFee(fee uint64) Option {
	return func(gc *node.GenesisConfig) {
		gc.MinFee = fee
	}
}

// NewNetwork creates genesis configuration with given number of validators (weight 10 each) and funded accounts.
func NewNetwork(t testing.TB, validators, accounts int, opts ...Option) *Network {
	t.Helper()
	n := &Network{
		Config: &node.GenesisConfig{
			ChainID:       []byte{0, 0, 0, 1},
			Timestamp:     GenesisTimestamp,
			BlockTime:     BlockTime,
			InitRoundSeed: bytes.Repeat([]byte{7}, 32),
		},
	}
	for range validators {
		key := testsig.NewKey(t)
		n.Validators = append(n.Validators, key)
		n.Config.Validators = append(n.Config.Validators, &bft.Validator{
			Address:           key.Address,
			GeneratorKey:      key.PublicKey,
			BFTWeight:         ValidatorWeight,
			GeneratorEligible: true,
		})
	}
	for range accounts {
		key := testsig.NewKey(t)
		n.Accounts = append(n.Accounts, key)
		n.Config.Accounts = append(n.Config.Accounts, &token.GenesisAccount{Address: key.Address, Balance: InitialBalance})
	}
	for _, opt := range opts {
		opt(n.Config)
	}
	require.NoError(t, n.Config.IsValid())
	return n
}

// NewNode creates node over in-memory database, consensus uses the test clock.
func (n *Network) NewNode(t testing.TB, observe node.Observability, opts ...node.Option) *node.Node {
	t.Helper()
	db, err := memorydb.New()
	require.NoError(t, err)
	return n.NewNodeDB(t, db, observe, opts...)
}

func (n *Network) NewNodeDB(t testing.TB, db keyvaluedb.KeyValueDB, observe node.Observability, opts ...node.Option) *node.Node {
	t.Helper()
	opts = append([]node.Option{node.WithConsensusOptions(consensus.WithClock(Now))}, opts...)
	nd, err := node.New(context.Background(), db, n.Config, observe, opts...)
	require.NoError(t, err)
	return nd
}

// ValidatorKey returns the key of the validator with given address.
func (n *Network) ValidatorKey(t testing.TB, address []byte) *testsig.Key {
	t.Helper()
	for _, k := range n.Validators {
		if bytes.Equal(k.Address, address) {
			return k
		}
	}
	require.FailNow(t, "unknown validator", "address %X", address)
	return nil
}

// NextBlock generates block on top of the tip of nd in the first slot after the tip slot.
func (n *Network) NextBlock(t testing.TB, nd *node.Node, txs ...*types.Transaction) *types.Block {
	t.Helper()
	return n.GenerateBlock(t, nd, 0, nil, txs...)
}

/*
GenerateBlock generates block on top of the tip of nd, skip is the number
of slots left empty after the tip slot. The block is signed by the
generator of its slot but not applied.
*/
func (n *Network) GenerateBlock(t testing.TB, nd *node.Node, skip uint64, commit *types.AggregateCommit, txs ...*types.Transaction) *types.Block {
	t.Helper()
	r := nd.Consensus().State()
	tip := nd.Chain().LastBlock()
	cfg, err := nd.BFT.Config(r)
	require.NoError(t, err)
	ts, err := bft.NextSlotTimestamp(cfg, tip.Header.Timestamp)
	require.NoError(t, err)
	ts += skip * cfg.BlockTime
	generator, err := nd.BFT.GeneratorForSlot(r, tip.Height()+1, ts)
	require.NoError(t, err)
	block, err := nd.Consensus().GenerateBlock(context.Background(), n.ValidatorKey(t, generator.Address).Signer, ts, txs, commit)
	require.NoError(t, err)
	return block
}

// Apply executes blocks on nd.
func Apply(t testing.TB, nd *node.Node, blocks ...*types.Block) {
	t.Helper()
	for _, b := range blocks {
		_, err := nd.Consensus().ExecuteValidated(context.Background(), b, consensus.ExecuteOptions{SkipBroadcast: true})
		require.NoError(t, err, "applying block %d", b.Height())
	}
}

// Extend generates and applies count empty blocks, skip slots are left empty before every block.
func (n *Network) Extend(t testing.TB, nd *node.Node, count int, skip uint64) []*types.Block {
	t.Helper()
	blocks := make([]*types.Block, 0, count)
	for range count {
		b := n.GenerateBlock(t, nd, skip, nil)
		Apply(t, nd, b)
		blocks = append(blocks, b)
	}
	return blocks
}

// Transfer returns token transfer signed by sender.
func (n *Network) Transfer(t testing.TB, sender *testsig.Key, recipient []byte, amount, nonce, fee uint64) *types.Transaction {
	t.Helper()
	return testtransaction.New(t, n.Config.ChainID, sender,
		testtransaction.WithCommand(token.ModuleName, token.CommandTransfer),
		testtransaction.WithNonce(nonce),
		testtransaction.WithFee(fee),
		testtransaction.WithParams(&token.TransferParams{Recipient: recipient, Amount: amount}),
	)
}

// AggregateCommit returns commit for height signed by validators with given indexes.
func (n *Network) AggregateCommit(height uint64, signers ...int) *types.AggregateCommit {
	bits := make([]byte, (len(n.Validators)+7)/8)
	for _, i := range signers {
		bft.SetAggregationBit(bits, i)
	}
	return &types.AggregateCommit{Height: height, AggregationBits: bits, CertificateSignature: []byte{1}}
}
