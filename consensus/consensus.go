package consensus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/alphabill-org/blockengine/bft"
	"github.com/alphabill-org/blockengine/chain"
	"github.com/alphabill-org/blockengine/crypto"
	"github.com/alphabill-org/blockengine/keyvaluedb"
	"github.com/alphabill-org/blockengine/logger"
	"github.com/alphabill-org/blockengine/state"
	"github.com/alphabill-org/blockengine/statemachine"
	"github.com/alphabill-org/blockengine/types"
	"github.com/alphabill-org/blockengine/validation"
)

type (
	Observability interface {
		Meter(name string, opts ...metric.MeterOption) metric.Meter
		Tracer(name string, options ...trace.TracerOption) trace.Tracer
		Logger() *slog.Logger
	}

	ExecuteOptions struct {
		RemoveFromTempTable bool
		SkipBroadcast       bool
	}

	// Consensus applies blocks to the chain. It owns the state transition lock:
	// blocks are executed, saved and deleted one at a time and the state
	// changes are committed in the same database transaction as the chain
	// data.
	Consensus struct {
		cfg   *Config
		db    keyvaluedb.KeyValueDB
		chain *chain.Chain
		sm    *statemachine.StateMachine
		bft   *bft.Module

		mu      sync.Mutex
		log     *slog.Logger
		tracer  trace.Tracer
		metrics metrics
	}
)

func New(db keyvaluedb.KeyValueDB, ch *chain.Chain, sm *statemachine.StateMachine, bftModule *bft.Module, observe Observability, opts ...Option) (*Consensus, error) {
	switch {
	case db == nil:
		return nil, errors.New("database is nil")
	case ch == nil:
		return nil, errors.New("chain is nil")
	case sm == nil:
		return nil, errors.New("state machine is nil")
	case bftModule == nil:
		return nil, errors.New("bft module is nil")
	}
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid consensus configuration: %w", err)
	}
	c := &Consensus{
		cfg:    cfg,
		db:     db,
		chain:  ch,
		sm:     sm,
		bft:    bftModule,
		log:    observe.Logger(),
		tracer: observe.Tracer("consensus"),
	}
	if err := c.initMetrics(observe.Meter("consensus")); err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}
	return c, nil
}

func (c *Consensus) Chain() *chain.Chain { return c.chain }

func (c *Consensus) StateMachine() *statemachine.StateMachine { return c.sm }

func (c *Consensus) BFT() *bft.Module { return c.bft }

func (c *Consensus) Limits() validation.Limits { return c.cfg.Limits }

// State returns reader of the committed state.
func (c *Consensus) State() state.ReadOnly { return state.NewCommittedReader(c.db) }

/*
Init initializes the state and the chain from the genesis block when the
database is empty. Otherwise the stored genesis must match the block.
*/
func (c *Consensus) Init(ctx context.Context, genesis *types.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chain.IsInitialized() {
		_, err := c.chain.Init(ctx, genesis, nil, nil)
		return err
	}
	if err := c.cfg.Limits.ValidateBlockSchema(genesis); err != nil {
		return &statemachine.GenesisValidationError{Err: err}
	}
	view, res, err := c.sm.InitGenesisState(ctx, genesis, c.db)
	if err != nil {
		return err
	}
	events := &chain.BlockEvents{Events: res.Events, TxResults: res.TxResults}
	if _, err := c.chain.Init(ctx, genesis, events, func(tx keyvaluedb.DBTransaction) error {
		_, err := view.Commit(tx, 0)
		return err
	}); err != nil {
		return err
	}
	c.log.InfoContext(ctx, fmt.Sprintf("chain initialized from genesis %X", genesis.ID()))
	return nil
}

/*
VerifyBlock checks that the block fits on top of the current tip: it links
to the tip, its slot is after the slot of the tip and not in the future and
it is generated and signed by the validator of the slot.
*/
func (c *Consensus) VerifyBlock(block *types.Block) error {
	tip := c.chain.LastBlock()
	if tip == nil {
		return chain.ErrNotInitialized
	}
	return c.verifyBlock(c.State(), tip, block)
}

func (c *Consensus) verifyBlock(r state.ReadOnly, tip, block *types.Block) error {
	if err := block.IsValid(); err != nil {
		return &BlockVerificationError{Reason: "invalid block", Err: err}
	}
	h := block.Header
	if !bytes.Equal(h.PreviousBlockID, tip.ID()) {
		return &BlockVerificationError{Reason: fmt.Sprintf("previous block ID %X does not match tip %X", h.PreviousBlockID, tip.ID())}
	}
	if h.Height != tip.Height()+1 {
		return &BlockVerificationError{Reason: fmt.Sprintf("height %d does not follow tip height %d", h.Height, tip.Height())}
	}
	cfg, err := c.bft.Config(r)
	if err != nil {
		return err
	}
	if h.Timestamp <= tip.Header.Timestamp || cfg.Slot(h.Timestamp) <= cfg.Slot(tip.Header.Timestamp) {
		return &BlockVerificationError{Reason: fmt.Sprintf("slot of timestamp %d is not after the slot of the tip timestamp %d", h.Timestamp, tip.Header.Timestamp)}
	}
	if limit := c.cfg.Now().Add(c.cfg.ClockSkew).Unix(); int64(h.Timestamp) > limit { // #nosec G115
		return &BlockVerificationError{Reason: fmt.Sprintf("timestamp %d is in the future", h.Timestamp)}
	}
	generator, err := c.bft.GeneratorForSlot(r, h.Height, h.Timestamp)
	if err != nil {
		return err
	}
	if !bytes.Equal(generator.Address, h.GeneratorAddress) {
		return &BlockVerificationError{Reason: fmt.Sprintf("generator %X is not the generator of the slot %X", h.GeneratorAddress, generator.Address)}
	}
	if err := validation.VerifyBlockSignature(c.sm.ChainID(), h, generator.GeneratorKey); err != nil {
		return &BlockVerificationError{Reason: "generator signature", Err: err}
	}
	return nil
}

/*
ExecuteValidated verifies the block against the current tip, executes it
and saves it as the new tip. The state changes, the block and the new
finalized height are committed atomically.

Every consensus rule violation is returned as *BlockRejectedError, any
other error means the node can't continue.
*/
func (c *Consensus) ExecuteValidated(ctx context.Context, block *types.Block, opts ExecuteOptions) (_ *statemachine.BlockResult, rErr error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "Consensus.ExecuteValidated", trace.WithAttributes(attribute.Int64("height", int64(block.Height())))) // #nosec G115
	defer func() {
		if rErr != nil {
			span.RecordError(rErr)
		}
		span.End()
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	res, finalized, err := c.execute(ctx, block)
	if err != nil {
		var rejected *BlockRejectedError
		if errors.As(err, &rejected) {
			c.metrics.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(rejected.Kind))))
		}
		return nil, err
	}
	if err := c.chain.SaveBlock(ctx, block, &chain.BlockEvents{Events: res.result.Events, TxResults: res.result.TxResults}, finalized, chain.SaveBlockOptions{
		RemoveFromTempTable: opts.RemoveFromTempTable,
		SkipBroadcast:       opts.SkipBroadcast,
		WithinTx: func(tx keyvaluedb.DBTransaction) error {
			_, err := res.view.Commit(tx, block.Height())
			return err
		},
	}); err != nil {
		return nil, err
	}

	c.metrics.applied.Add(ctx, 1)
	c.metrics.txCount.Add(ctx, int64(len(block.Transactions)))
	c.metrics.execTime.Record(ctx, time.Since(start).Seconds())
	c.log.DebugContext(ctx, fmt.Sprintf("block %d applied, finalized height %d", block.Height(), finalized), logger.BlockID(block.ID()))
	return res.result, nil
}

type executed struct {
	view   *state.State
	result *statemachine.BlockResult
}

func (c *Consensus) execute(ctx context.Context, block *types.Block) (*executed, uint64, error) {
	reject := func(kind RejectKind, err error) error {
		return &BlockRejectedError{Kind: kind, Height: block.Height(), Err: err}
	}

	if err := c.cfg.Limits.ValidateBlockSchema(block); err != nil {
		return nil, 0, reject(RejectSchema, err)
	}
	tip := c.chain.LastBlock()
	if tip == nil {
		return nil, 0, chain.ErrNotInitialized
	}
	committed := c.State()
	if err := c.verifyBlock(committed, tip, block); err != nil {
		var vErr *BlockVerificationError
		if errors.As(err, &vErr) {
			return nil, 0, reject(RejectVerification, err)
		}
		return nil, 0, err
	}

	expectedHash, err := c.bft.ValidatorsHash(committed, block.Height())
	if err != nil {
		return nil, 0, err
	}
	if !bytes.Equal(expectedHash, block.Header.ValidatorsHash) {
		return nil, 0, reject(RejectValidatorsHash, fmt.Errorf("expected %X, got %X", expectedHash, block.Header.ValidatorsHash))
	}

	commit := block.Header.AggregateCommit
	commitAccepted := false
	if !commit.IsEmpty() {
		params, err := c.bft.ParamsAt(committed, commit.Height)
		if err != nil {
			return nil, 0, err
		}
		err = bft.VerifyAggregateCommit(params, commit, c.cfg.CommitVerifier)
		var iwErr *bft.InsufficientWeightError
		switch {
		case errors.As(err, &iwErr):
			c.log.WarnContext(ctx, "aggregate commit ignored", logger.Height(block.Height()), logger.Error(err))
		case err != nil:
			return nil, 0, reject(RejectAggregateCommit, err)
		default:
			commitAccepted = true
		}
	}

	view := state.NewView(c.db)
	res, err := c.sm.ExecuteBlock(ctx, view, block)
	if err != nil {
		if kind, ok := rejectKind(err); ok {
			return nil, 0, reject(kind, err)
		}
		return nil, 0, err
	}

	finalized := c.chain.FinalizedHeight()
	if commitAccepted {
		ok, err := c.bft.IsFinalityCandidate(view, commit.Height)
		if err != nil {
			view.Discard()
			return nil, 0, err
		}
		if ok {
			finalized = bft.NextFinalizedHeight(finalized, commit.Height)
		}
	}
	return &executed{view: view, result: res}, finalized, nil
}

// rejectKind classifies errors of the state machine which mean the block is invalid.
func rejectKind(err error) (RejectKind, bool) {
	var (
		rootErr  *statemachine.StateRootMismatchError
		txErr    *statemachine.TransactionVerificationError
		assetErr *statemachine.AssetVerificationError
		hookErr  *statemachine.ModuleHookError
	)
	switch {
	case errors.As(err, &rootErr):
		return RejectStateRoot, true
	case errors.As(err, &txErr), errors.As(err, &assetErr), errors.As(err, &hookErr):
		return RejectExecution, true
	}
	return "", false
}

/*
DeleteLastBlock reverts the state changes of the tip block and removes it
from the chain in one database transaction. The deleted block is kept in
the temp table when saveTemp is true.
*/
func (c *Consensus) DeleteLastBlock(ctx context.Context, saveTemp bool) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.chain.LastBlock()
	if tip == nil {
		return nil, chain.ErrNotInitialized
	}
	deleted, err := c.chain.DeleteLastBlock(ctx, chain.DeleteBlockOptions{
		SaveTempBlock: saveTemp,
		WithinTx: func(tx keyvaluedb.DBTransaction) error {
			return c.sm.RevertBlock(tx, tip.Header)
		},
	})
	if err != nil {
		return nil, err
	}
	c.metrics.reverted.Add(ctx, 1)
	c.log.DebugContext(ctx, fmt.Sprintf("block %d deleted", deleted.Height()), logger.BlockID(deleted.ID()))
	return deleted, nil
}

/*
GenerateBlock creates the next block signed by signer. The transactions
are executed on a throwaway view to calculate the state root, nothing is
saved. The signer must be the generator of the slot of timestamp for the
block to be valid.
*/
func (c *Consensus) GenerateBlock(ctx context.Context, signer crypto.Signer, timestamp uint64, txs []*types.Transaction, commit *types.AggregateCommit) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.chain.LastBlock()
	if tip == nil {
		return nil, chain.ErrNotInitialized
	}
	verifier, err := signer.Verifier()
	if err != nil {
		return nil, fmt.Errorf("generator verifier: %w", err)
	}
	pubKey, err := verifier.MarshalPublicKey()
	if err != nil {
		return nil, fmt.Errorf("generator public key: %w", err)
	}
	height := tip.Height() + 1
	validatorsHash, err := c.bft.ValidatorsHash(c.State(), height)
	if err != nil {
		return nil, err
	}
	block := &types.Block{
		Header: &types.BlockHeader{
			Version:          validation.BlockVersion,
			Height:           height,
			Timestamp:        timestamp,
			PreviousBlockID:  tip.ID(),
			GeneratorAddress: crypto.AddressFromPublicKey(pubKey),
			ValidatorsHash:   validatorsHash,
			AggregateCommit:  commit,
		},
		Transactions: txs,
	}
	res, err := c.sm.Execute(ctx, state.NewView(c.db), block)
	if err != nil {
		return nil, fmt.Errorf("executing generated block: %w", err)
	}
	block.Header.StateRoot = res.StateRoot
	block.Header.TransactionRoot = block.CalculateTransactionRoot()
	block.Header.AssetsRoot = block.CalculateAssetsRoot()
	if err := block.Header.Sign(c.sm.ChainID(), signer); err != nil {
		return nil, err
	}
	return block, nil
}
