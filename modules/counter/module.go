package counter

import (
	"context"
	"fmt"

	"github.com/alphabill-org/blockengine/state"
	"github.com/alphabill-org/blockengine/statemachine"
)

const (
	ModuleName       = "counter"
	CommandIncrement = "increment"
)

var countKey = []byte("count")

type (
	Count struct {
		_     struct{} `cbor:",toarray"`
		Value uint64   `json:"value,string"`
	}

	IncrementParams struct {
		_ struct{} `cbor:",toarray"`
	}

	// Module counts executed transactions of the chain.
	Module struct {
		statemachine.BaseModule
		store state.Store[Count]
	}
)

func NewModule() *Module {
	return &Module{store: state.NewStore[Count](ModuleName, 0)}
}

func (m *Module) Name() string { return ModuleName }

func (m *Module) Commands() []statemachine.Command {
	// the counter is incremented by AfterCommandExecute like for any other transaction
	return []statemachine.Command{
		statemachine.NewCommand[IncrementParams](CommandIncrement, nil, func(context.Context, *statemachine.TransactionContext, *IncrementParams) error {
			return nil
		}),
	}
}

func (m *Module) InitGenesisState(ctx context.Context, gc *statemachine.GenesisContext) error {
	return m.store.Set(gc.State, countKey, &Count{})
}

func (m *Module) AfterCommandExecute(ctx context.Context, tc *statemachine.TransactionContext) error {
	c, err := m.Count(tc.State)
	if err != nil {
		return err
	}
	return m.store.Set(tc.State, countKey, &Count{Value: c + 1})
}

// Count returns the number of transactions executed so far.
func (m *Module) Count(r state.ReadOnly) (uint64, error) {
	c, err := m.store.GetOrDefault(r, countKey, &Count{})
	if err != nil {
		return 0, fmt.Errorf("reading counter: %w", err)
	}
	return c.Value, nil
}
