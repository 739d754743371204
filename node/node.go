package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/alphabill-org/blockengine/bft"
	"github.com/alphabill-org/blockengine/chain"
	"github.com/alphabill-org/blockengine/consensus"
	"github.com/alphabill-org/blockengine/keyvaluedb"
	"github.com/alphabill-org/blockengine/modules/counter"
	"github.com/alphabill-org/blockengine/modules/fee"
	"github.com/alphabill-org/blockengine/modules/token"
	"github.com/alphabill-org/blockengine/state"
	"github.com/alphabill-org/blockengine/statemachine"
	"github.com/alphabill-org/blockengine/types"
)

type (
	Observability interface {
		Meter(name string, opts ...metric.MeterOption) metric.Meter
		Tracer(name string, options ...trace.TracerOption) trace.Tracer
		Logger() *slog.Logger
	}

	Option func(*options)

	options struct {
		broadcaster chain.Broadcaster
		consensus   []consensus.Option
	}

	// Node wires the modules, the state machine, the chain and the consensus
	// of one chain over a database. The modules are registered in the order
	// token, fee, counter, bft.
	Node struct {
		Token   *token.Module
		Fee     *fee.Module
		Counter *counter.Module
		BFT     *bft.Module

		genesisCfg *GenesisConfig
		genesis    *types.Block
		db         keyvaluedb.KeyValueDB
		sm         *statemachine.StateMachine
		chain      *chain.Chain
		consensus  *consensus.Consensus
	}
)

func WithBroadcaster(b chain.Broadcaster) Option {
	return func(o *options) {
		o.broadcaster = b
	}
}

func WithConsensusOptions(opts ...consensus.Option) Option {
	return func(o *options) {
		o.consensus = append(o.consensus, opts...)
	}
}

/*
New creates the node and initializes the database from the genesis block
built from gc. When the database already holds a chain its genesis block
must match.
*/
func New(ctx context.Context, db keyvaluedb.KeyValueDB, gc *GenesisConfig, observe Observability, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, errors.New("database is nil")
	}
	if err := gc.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid genesis configuration: %w", err)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	n := &Node{genesisCfg: gc, db: db}
	bftCfg, err := gc.BFTConfig()
	if err != nil {
		return nil, err
	}
	n.Token = token.NewModule()
	if n.Fee, err = fee.NewModule(n.Token.Method(), gc.feeOptions()...); err != nil {
		return nil, fmt.Errorf("creating fee module: %w", err)
	}
	n.Counter = counter.NewModule()
	n.BFT = bft.NewModule(bftCfg)

	if n.sm, err = statemachine.NewStateMachine(gc.ChainID, []statemachine.Module{n.Token, n.Fee, n.Counter, n.BFT}, observe); err != nil {
		return nil, fmt.Errorf("creating state machine: %w", err)
	}
	assets, err := gc.Assets()
	if err != nil {
		return nil, err
	}
	if n.genesis, err = consensus.NewGenesisBlock(ctx, n.sm, n.BFT, gc.Timestamp, assets); err != nil {
		return nil, fmt.Errorf("creating genesis block: %w", err)
	}

	var chainOpts []chain.Option
	if o.broadcaster != nil {
		chainOpts = append(chainOpts, chain.WithBroadcaster(o.broadcaster))
	}
	if n.chain, err = chain.New(db, observe, chainOpts...); err != nil {
		return nil, fmt.Errorf("creating chain: %w", err)
	}
	if n.consensus, err = consensus.New(db, n.chain, n.sm, n.BFT, observe, o.consensus...); err != nil {
		return nil, fmt.Errorf("creating consensus: %w", err)
	}
	if err := n.consensus.Init(ctx, n.genesis); err != nil {
		return nil, fmt.Errorf("initializing chain: %w", err)
	}
	return n, nil
}

func (n *Node) GenesisConfig() *GenesisConfig { return n.genesisCfg }

func (n *Node) Genesis() *types.Block { return n.genesis }

func (n *Node) DB() keyvaluedb.KeyValueDB { return n.db }

func (n *Node) StateMachine() *statemachine.StateMachine { return n.sm }

func (n *Node) Chain() *chain.Chain { return n.chain }

func (n *Node) Consensus() *consensus.Consensus { return n.consensus }

// Status is the summary of the local chain.
type Status struct {
	ChainID         types.Bytes `json:"chainId" yaml:"chainId"`
	GenesisID       types.Bytes `json:"genesisId" yaml:"genesisId"`
	Height          uint64      `json:"height,string" yaml:"height"`
	TipID           types.Bytes `json:"tipId" yaml:"tipId"`
	TipTimestamp    uint64      `json:"tipTimestamp,string" yaml:"tipTimestamp"`
	FinalizedHeight uint64      `json:"finalizedHeight,string" yaml:"finalizedHeight"`
	TempBlocks      int         `json:"tempBlocks" yaml:"tempBlocks"`
}

func (n *Node) Status() (*Status, error) {
	tip := n.chain.LastBlock()
	if tip == nil {
		return nil, chain.ErrNotInitialized
	}
	temp, err := n.chain.TempBlocks()
	if err != nil {
		return nil, fmt.Errorf("reading temp blocks: %w", err)
	}
	return &Status{
		ChainID:         n.sm.ChainID(),
		GenesisID:       n.genesis.ID(),
		Height:          tip.Height(),
		TipID:           tip.ID(),
		TipTimestamp:    tip.Header.Timestamp,
		FinalizedHeight: n.chain.FinalizedHeight(),
		TempBlocks:      len(temp),
	}, nil
}

// Account is the token balance and the transaction nonce of an address.
type Account struct {
	Address types.Bytes `json:"address" yaml:"address"`
	Balance uint64      `json:"balance,string" yaml:"balance"`
	Nonce   uint64      `json:"nonce,string" yaml:"nonce"`
}

// Account returns the account of address in the committed state, unknown addresses have zero balance and nonce.
func (n *Node) Account(address []byte) (*Account, error) {
	r := n.consensus.State()
	balance, err := n.Token.Method().Balance(r, address)
	if err != nil {
		return nil, fmt.Errorf("reading balance: %w", err)
	}
	nonce, err := n.sm.Auth().Nonce(r, address)
	if err != nil {
		return nil, fmt.Errorf("reading nonce: %w", err)
	}
	return &Account{Address: address, Balance: balance, Nonce: nonce}, nil
}

// Validators returns the validator params in effect at height.
func (n *Node) Validators(height uint64) (*bft.Params, error) {
	return n.BFT.ParamsAt(n.consensus.State(), height)
}

// StateProof is the membership (or non-membership when Value is empty) proof of a state entry.
type StateProof struct {
	Key   types.Bytes   `json:"key"`
	Value types.Bytes   `json:"value"`
	Root  types.Bytes   `json:"root"`
	Path  []types.Bytes `json:"path"`
}

// StateProof returns the proof of key against the root of the committed state.
func (n *Node) StateProof(key []byte) (*StateProof, error) {
	path, value, root, err := state.Proof(n.db, key)
	if err != nil {
		return nil, fmt.Errorf("creating state proof: %w", err)
	}
	p := &StateProof{Key: key, Value: value, Root: root, Path: make([]types.Bytes, len(path))}
	for i, h := range path {
		p.Path[i] = h
	}
	return p, nil
}
