package fee

import (
	"context"
	"errors"
	"fmt"

	"github.com/alphabill-org/blockengine/modules/token"
	"github.com/alphabill-org/blockengine/state"
	"github.com/alphabill-org/blockengine/statemachine"
	"github.com/alphabill-org/blockengine/types"
	"github.com/alphabill-org/blockengine/util"
)

const (
	ModuleName         = "fee"
	EventNameCollected = "feesCollected"
	DefaultMinFee      = 1
)

var ErrInsufficientFee = errors.New("insufficient fee")

var _ statemachine.Module = (*Module)(nil)

type (
	// BalanceMethod is the part of the token module API the fee module needs.
	BalanceMethod interface {
		Balance(r state.ReadOnly, address []byte) (uint64, error)
		Debit(w state.ReadWrite, address []byte, amount uint64) error
		Credit(w state.ReadWrite, address []byte, amount uint64) error
	}

	CollectedEvent struct {
		_         struct{}    `cbor:",toarray"`
		Generator types.Bytes `json:"generator"`
		Amount    uint64      `json:"amount,string"`
	}

	// Module charges the transaction fee from the sender before the command is
	// executed and pays the fees of the block to the block generator. The fee
	// is charged even when the command fails.
	Module struct {
		statemachine.BaseModule
		minFee  uint64
		balance BalanceMethod
	}

	Option func(*Module)
)

var _ BalanceMethod = (*token.Method)(nil)

func WithMinFee(fee uint64) Option {
	return func(m *Module) {
		m.minFee = fee
	}
}

func NewModule(balance BalanceMethod, opts ...Option) (*Module, error) {
	if balance == nil {
		return nil, errors.New("balance method is nil")
	}
	m := &Module{minFee: DefaultMinFee, balance: balance}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Module) Name() string { return ModuleName }

func (m *Module) MinFee() uint64 { return m.minFee }

func (m *Module) VerifyTransaction(ctx context.Context, tc *statemachine.TransactionContext) error {
	if tc.Tx.Fee < m.minFee {
		return fmt.Errorf("%w: minimum is %d, got %d", ErrInsufficientFee, m.minFee, tc.Tx.Fee)
	}
	balance, err := m.balance.Balance(tc.State, tc.Tx.SenderAddress())
	if err != nil {
		return err
	}
	if balance < tc.Tx.Fee {
		return fmt.Errorf("%w: sender balance %d does not cover fee %d", token.ErrInsufficientBalance, balance, tc.Tx.Fee)
	}
	return nil
}

func (m *Module) BeforeCommandExecute(ctx context.Context, tc *statemachine.TransactionContext) error {
	if err := m.balance.Debit(tc.State, tc.Tx.SenderAddress(), tc.Tx.Fee); err != nil {
		// balance was checked in VerifyTransaction
		return statemachine.Fatal(fmt.Errorf("charging fee: %w", err))
	}
	return nil
}

// AfterTransactionsExecute credits the sum of the fees of the block transactions to the generator.
func (m *Module) AfterTransactionsExecute(ctx context.Context, bc *statemachine.BlockContext) error {
	if len(bc.Transactions) == 0 {
		return nil
	}
	fees := make([]uint64, len(bc.Transactions))
	for i, tx := range bc.Transactions {
		fees[i] = tx.Fee
	}
	total, err := util.AddUint64(fees...)
	if err != nil {
		return fmt.Errorf("summing block fees: %w", err)
	}
	if total == 0 {
		return nil
	}
	if err := m.balance.Credit(bc.State, bc.Header.GeneratorAddress, total); err != nil {
		return fmt.Errorf("crediting fees to generator: %w", err)
	}
	return bc.EmitEvent(ModuleName, EventNameCollected, &CollectedEvent{Generator: bc.Header.GeneratorAddress, Amount: total}, bc.Header.GeneratorAddress)
}
