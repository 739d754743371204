package statemachine

import (
	"context"
	"fmt"
)

/*
Module is a unit of state transition logic. Hooks are called by the
StateMachine in module registration order, see StateMachine.ExecuteBlock
for the exact sequence.
*/
type Module interface {
	Name() string

	InitGenesisState(ctx context.Context, gc *GenesisContext) error
	FinalizeGenesisState(ctx context.Context, gc *GenesisContext) error

	VerifyAssets(ctx context.Context, bc *BlockContext) error
	VerifyTransaction(ctx context.Context, tc *TransactionContext) error

	BeforeTransactionsExecute(ctx context.Context, bc *BlockContext) error
	BeforeCommandExecute(ctx context.Context, tc *TransactionContext) error
	AfterCommandExecute(ctx context.Context, tc *TransactionContext) error
	AfterTransactionsExecute(ctx context.Context, bc *BlockContext) error

	Commands() []Command
}

type Command interface {
	Name() string
	// Verify checks the command against current state, error means the transaction (and the block) is invalid.
	Verify(ctx context.Context, tc *TransactionContext) error
	// Execute applies the command, changes are rolled back when it returns error.
	Execute(ctx context.Context, tc *TransactionContext) error
}

// BaseModule implements every hook as no-op, embed it and override what is needed.
type BaseModule struct{}

func (BaseModule) InitGenesisState(context.Context, *GenesisContext) error      { return nil }
func (BaseModule) FinalizeGenesisState(context.Context, *GenesisContext) error  { return nil }
func (BaseModule) VerifyAssets(context.Context, *BlockContext) error            { return nil }
func (BaseModule) VerifyTransaction(context.Context, *TransactionContext) error { return nil }
func (BaseModule) BeforeTransactionsExecute(context.Context, *BlockContext) error {
	return nil
}
func (BaseModule) BeforeCommandExecute(context.Context, *TransactionContext) error { return nil }
func (BaseModule) AfterCommandExecute(context.Context, *TransactionContext) error  { return nil }
func (BaseModule) AfterTransactionsExecute(context.Context, *BlockContext) error   { return nil }
func (BaseModule) Commands() []Command                                            { return nil }

type (
	CommandFunc[T any] func(ctx context.Context, tc *TransactionContext, params *T) error

	genericCommand[T any] struct {
		name    string
		verify  CommandFunc[T]
		execute CommandFunc[T]
	}
)

/*
NewCommand creates command which decodes transaction params into T before
calling verify and execute. verify may be nil.
*/
func NewCommand[T any](name string, verify, execute CommandFunc[T]) Command {
	return &genericCommand[T]{name: name, verify: verify, execute: execute}
}

func (c *genericCommand[T]) Name() string { return c.name }

func (c *genericCommand[T]) Verify(ctx context.Context, tc *TransactionContext) error {
	params, err := c.params(tc)
	if err != nil || c.verify == nil {
		return err
	}
	return c.verify(ctx, tc, params)
}

func (c *genericCommand[T]) Execute(ctx context.Context, tc *TransactionContext) error {
	params, err := c.params(tc)
	if err != nil {
		return err
	}
	return c.execute(ctx, tc, params)
}

func (c *genericCommand[T]) params(tc *TransactionContext) (*T, error) {
	params := new(T)
	if err := tc.Tx.UnmarshalParams(params); err != nil {
		return nil, fmt.Errorf("decoding %s params: %w", c.name, err)
	}
	return params, nil
}
