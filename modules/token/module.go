package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/alphabill-org/blockengine/crypto"
	"github.com/alphabill-org/blockengine/statemachine"
	"github.com/alphabill-org/blockengine/types"
)

const (
	ModuleName        = "token"
	CommandTransfer   = "transfer"
	EventNameTransfer = "transfer"
	substoreAccounts  = 0
)

var _ statemachine.Module = (*Module)(nil)

type (
	Account struct {
		_       struct{} `cbor:",toarray"`
		Balance uint64   `json:"balance,string"`
	}

	GenesisAccount struct {
		_       struct{}    `cbor:",toarray"`
		Address types.Bytes `json:"address" yaml:"address"`
		Balance uint64      `json:"balance,string" yaml:"balance"`
	}

	// GenesisAsset is the data of the token asset of the genesis block.
	GenesisAsset struct {
		_        struct{}          `cbor:",toarray"`
		Accounts []*GenesisAccount `json:"accounts" yaml:"accounts"`
	}

	TransferParams struct {
		_         struct{}    `cbor:",toarray"`
		Recipient types.Bytes `json:"recipient"`
		Amount    uint64      `json:"amount,string"`
	}

	TransferEvent struct {
		_         struct{}    `cbor:",toarray"`
		Sender    types.Bytes `json:"sender"`
		Recipient types.Bytes `json:"recipient"`
		Amount    uint64      `json:"amount,string"`
	}

	// Module keeps account balances, other modules use it through Method.
	Module struct {
		statemachine.BaseModule
		method *Method
	}
)

func NewModule() *Module {
	return &Module{method: NewMethod()}
}

func (m *Module) Name() string { return ModuleName }

// Method returns the API other modules use to access the balances.
func (m *Module) Method() *Method { return m.method }

func (m *Module) Commands() []statemachine.Command {
	return []statemachine.Command{
		statemachine.NewCommand[TransferParams](CommandTransfer, m.verifyTransfer, m.executeTransfer),
	}
}

// InitGenesisState creates the accounts listed in the token asset, the asset is optional.
func (m *Module) InitGenesisState(ctx context.Context, gc *statemachine.GenesisContext) error {
	asset := gc.GetAsset(ModuleName)
	if asset == nil {
		return nil
	}
	ga := &GenesisAsset{}
	if err := types.Cbor.Unmarshal(asset.Data, ga); err != nil {
		return fmt.Errorf("decoding token genesis asset: %w", err)
	}
	for i, acc := range ga.Accounts {
		if len(acc.Address) != crypto.AddressSize {
			return fmt.Errorf("genesis account %d: invalid address length %d", i, len(acc.Address))
		}
		has, err := m.method.accounts.Has(gc.State, acc.Address)
		if err != nil {
			return err
		}
		if has {
			return fmt.Errorf("duplicate genesis account %X", acc.Address)
		}
		if err := m.method.accounts.Set(gc.State, acc.Address, &Account{Balance: acc.Balance}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) verifyTransfer(ctx context.Context, tc *statemachine.TransactionContext, params *TransferParams) error {
	if len(params.Recipient) != crypto.AddressSize {
		return fmt.Errorf("invalid recipient address length %d", len(params.Recipient))
	}
	if params.Amount == 0 {
		return errors.New("transfer amount must be positive")
	}
	return nil
}

// executeTransfer fails (and is rolled back) when the sender can't cover the amount.
func (m *Module) executeTransfer(ctx context.Context, tc *statemachine.TransactionContext, params *TransferParams) error {
	sender := tc.Tx.SenderAddress()
	if err := m.method.Transfer(tc.State, sender, params.Recipient, params.Amount); err != nil {
		return err
	}
	return tc.EmitEvent(ModuleName, EventNameTransfer, &TransferEvent{Sender: sender, Recipient: params.Recipient, Amount: params.Amount}, sender, params.Recipient)
}
