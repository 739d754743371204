package statemachine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alphabill-org/blockengine/keyvaluedb"
	"github.com/alphabill-org/blockengine/logger"
	"github.com/alphabill-org/blockengine/state"
	"github.com/alphabill-org/blockengine/types"
)

type (
	Observability interface {
		Tracer(name string, options ...trace.TracerOption) trace.Tracer
		Logger() *slog.Logger
	}

	// BlockResult is the outcome of executing a block on a state view.
	BlockResult struct {
		StateRoot []byte
		Events    []*types.Event
		TxResults []*types.TxResult
	}

	// StateMachine runs the lifecycle hooks of the registered modules. The
	// module list is fixed at construction time, the built-in auth module is
	// always the first one.
	StateMachine struct {
		chainID  []byte
		modules  []Module
		commands map[string]Command
		auth     *AuthModule
		log      *slog.Logger
		tracer   trace.Tracer
	}
)

func NewStateMachine(chainID []byte, modules []Module, observe Observability) (*StateMachine, error) {
	if len(chainID) == 0 {
		return nil, errors.New("chain ID is required")
	}
	auth := NewAuthModule(chainID)
	sm := &StateMachine{
		chainID:  chainID,
		modules:  append([]Module{auth}, modules...),
		commands: make(map[string]Command),
		auth:     auth,
		log:      observe.Logger(),
		tracer:   observe.Tracer("statemachine"),
	}
	names := make(map[string]struct{})
	for _, m := range sm.modules {
		if m == nil {
			return nil, errors.New("module is nil")
		}
		if _, ok := names[m.Name()]; ok {
			return nil, fmt.Errorf("module %q is already registered", m.Name())
		}
		names[m.Name()] = struct{}{}
		for _, cmd := range m.Commands() {
			key := m.Name() + ":" + cmd.Name()
			if cmd.Name() == "" {
				return nil, fmt.Errorf("module %q has command with empty name", m.Name())
			}
			if _, ok := sm.commands[key]; ok {
				return nil, fmt.Errorf("command %q is already registered", key)
			}
			sm.commands[key] = cmd
		}
	}
	return sm, nil
}

func (sm *StateMachine) ChainID() []byte { return sm.chainID }

// Modules returns the registered modules in execution order.
func (sm *StateMachine) Modules() []Module { return sm.modules }

// Auth returns the built-in auth module.
func (sm *StateMachine) Auth() *AuthModule { return sm.auth }

/*
InitGenesisState runs InitGenesisState hooks of all the modules and then
FinalizeGenesisState hooks on a fresh view over db, which must be empty.
When the genesis header declares a state root it must match the resulting
root. The returned view is not committed.
*/
func (sm *StateMachine) InitGenesisState(ctx context.Context, block *types.Block, db state.Committed) (*state.State, *BlockResult, error) {
	if err := block.IsValid(); err != nil {
		return nil, nil, &GenesisValidationError{Err: err}
	}
	empty, err := keyvaluedb.IsEmpty(db)
	if err != nil {
		return nil, nil, fmt.Errorf("checking state store: %w", err)
	}
	if !empty {
		return nil, nil, &GenesisValidationError{Err: ErrStoreNotEmpty}
	}

	view := state.NewView(db)
	gc := &GenesisContext{ChainID: sm.chainID, Block: block, State: view}
	for _, m := range sm.modules {
		if err := m.InitGenesisState(ctx, gc); err != nil {
			view.Discard()
			return nil, nil, &GenesisValidationError{Err: &ModuleHookError{Module: m.Name(), Hook: "InitGenesisState", Err: err}}
		}
	}
	for _, m := range sm.modules {
		if err := m.FinalizeGenesisState(ctx, gc); err != nil {
			view.Discard()
			return nil, nil, &GenesisValidationError{Err: &ModuleHookError{Module: m.Name(), Hook: "FinalizeGenesisState", Err: err}}
		}
	}
	root, err := view.CalculateRoot()
	if err != nil {
		view.Discard()
		return nil, nil, fmt.Errorf("calculating genesis state root: %w", err)
	}
	if len(block.Header.StateRoot) != 0 && !bytes.Equal(block.Header.StateRoot, root) {
		view.Discard()
		return nil, nil, &GenesisValidationError{Err: &StateRootMismatchError{Expected: block.Header.StateRoot, Actual: root}}
	}
	return view, &BlockResult{StateRoot: root}, nil
}

/*
ExecuteBlock executes the block on the view and checks that the resulting
state root equals the root declared in the block header. On any error the
view is discarded.
*/
func (sm *StateMachine) ExecuteBlock(ctx context.Context, view *state.State, block *types.Block) (*BlockResult, error) {
	res, err := sm.Execute(ctx, view, block)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(res.StateRoot, block.Header.StateRoot) {
		view.Discard()
		return nil, &StateRootMismatchError{Expected: block.Header.StateRoot, Actual: res.StateRoot}
	}
	return res, nil
}

/*
Execute runs the module hooks for the block in the following order:

  - VerifyAssets of all modules;
  - BeforeTransactionsExecute of all modules;
  - for every transaction in block order: VerifyTransaction of all modules,
    command Verify, BeforeCommandExecute of all modules, command Execute,
    AfterCommandExecute of all modules;
  - AfterTransactionsExecute of all modules.

Failure of the command Execute is recorded as failed transaction result
and the changes made by the command are rolled back, unless the error is
marked with Fatal. Any other failure rejects the block and the view is
discarded. The declared state root of the block is not checked.
*/
func (sm *StateMachine) Execute(ctx context.Context, view *state.State, block *types.Block) (_ *BlockResult, rErr error) {
	ctx, span := sm.tracer.Start(ctx, "StateMachine.Execute", trace.WithAttributes(attribute.Int64("height", int64(block.Height())))) // #nosec G115
	defer func() {
		if rErr != nil {
			view.Discard()
			span.RecordError(rErr)
			span.SetStatus(codes.Error, rErr.Error())
		}
		span.End()
	}()

	bc := &BlockContext{
		ChainID:      sm.chainID,
		Header:       block.Header,
		Assets:       block.Assets,
		Transactions: block.Transactions,
		State:        view,
		events:       &eventLog{height: block.Header.Height},
	}
	for _, m := range sm.modules {
		if err := m.VerifyAssets(ctx, bc); err != nil {
			return nil, &AssetVerificationError{Module: m.Name(), Err: err}
		}
	}
	for _, m := range sm.modules {
		if err := m.BeforeTransactionsExecute(ctx, bc); err != nil {
			return nil, &ModuleHookError{Module: m.Name(), Hook: "BeforeTransactionsExecute", Err: err}
		}
	}

	results := make([]*types.TxResult, 0, len(block.Transactions))
	for i, tx := range block.Transactions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := sm.executeTransaction(ctx, &TransactionContext{BlockContext: bc, Tx: tx, TxID: tx.ID(), Index: i}, view)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	for _, m := range sm.modules {
		if err := m.AfterTransactionsExecute(ctx, bc); err != nil {
			return nil, &ModuleHookError{Module: m.Name(), Hook: "AfterTransactionsExecute", Err: err}
		}
	}

	root, err := view.CalculateRoot()
	if err != nil {
		return nil, fmt.Errorf("calculating state root: %w", err)
	}
	return &BlockResult{StateRoot: root, Events: bc.events.events, TxResults: results}, nil
}

func (sm *StateMachine) executeTransaction(ctx context.Context, tc *TransactionContext, view *state.State) (*types.TxResult, error) {
	cmd, err := sm.verifyTransaction(ctx, tc)
	if err != nil {
		return nil, err
	}

	txSavepoint := view.Savepoint()
	for _, m := range sm.modules {
		if err := m.BeforeCommandExecute(ctx, tc); err != nil {
			return nil, &ModuleHookError{Module: m.Name(), Hook: "BeforeCommandExecute", Err: err}
		}
	}

	result := &types.TxResult{TxID: tc.TxID, Success: true}
	cmdSavepoint := view.Savepoint()
	eventsSavepoint := tc.events.savepoint()
	if err := cmd.Execute(ctx, tc); err != nil {
		if IsFatal(err) {
			return nil, &ModuleHookError{Module: tc.Tx.Module, Hook: "Execute", Err: err}
		}
		view.RollbackToSavepoint(cmdSavepoint)
		tc.events.rollback(eventsSavepoint)
		result.Success = false
		result.Message = err.Error()
		sm.log.DebugContext(ctx, fmt.Sprintf("transaction %s failed", tc.Tx.FullCommand()), logger.TxID(tc.TxID), logger.Error(err))
	} else {
		view.ReleaseToSavepoint(cmdSavepoint)
	}
	if err := tc.BlockContext.EmitEvent(types.EventModuleSystem, types.EventNameCommandExecutionResult, result.Success, tc.TxID); err != nil {
		return nil, err
	}

	for _, m := range sm.modules {
		if err := m.AfterCommandExecute(ctx, tc); err != nil {
			return nil, &ModuleHookError{Module: m.Name(), Hook: "AfterCommandExecute", Err: err}
		}
	}
	view.ReleaseToSavepoint(txSavepoint)
	return result, nil
}

func (sm *StateMachine) verifyTransaction(ctx context.Context, tc *TransactionContext) (Command, error) {
	cmd, ok := sm.commands[tc.Tx.FullCommand()]
	if !ok {
		return nil, &TransactionVerificationError{TxID: tc.TxID, Index: tc.Index, Err: fmt.Errorf("%w %q", ErrUnknownCommand, tc.Tx.FullCommand())}
	}
	for _, m := range sm.modules {
		if err := m.VerifyTransaction(ctx, tc); err != nil {
			return nil, &TransactionVerificationError{TxID: tc.TxID, Index: tc.Index, Err: fmt.Errorf("module %s: %w", m.Name(), err)}
		}
	}
	if err := cmd.Verify(ctx, tc); err != nil {
		return nil, &TransactionVerificationError{TxID: tc.TxID, Index: tc.Index, Err: fmt.Errorf("command %s: %w", tc.Tx.FullCommand(), err)}
	}
	return cmd, nil
}

/*
VerifyTransaction checks the transaction against the committed state, ie
whether it could be included into the next block. Nothing is written.
*/
func (sm *StateMachine) VerifyTransaction(ctx context.Context, db state.Committed, header *types.BlockHeader, tx *types.Transaction) error {
	view := state.NewView(db)
	defer view.Discard()
	bc := &BlockContext{ChainID: sm.chainID, Header: header, Transactions: []*types.Transaction{tx}, State: view, events: &eventLog{height: header.Height}}
	_, err := sm.verifyTransaction(ctx, &TransactionContext{BlockContext: bc, Tx: tx, TxID: tx.ID()})
	return err
}

// RevertBlock undoes the state changes of the block with given height.
func (sm *StateMachine) RevertBlock(tx keyvaluedb.DBTransaction, header *types.BlockHeader) error {
	if err := state.RevertDiff(tx, header.Height); err != nil {
		return fmt.Errorf("reverting state of block %d: %w", header.Height, err)
	}
	return nil
}
