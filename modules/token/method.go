package token

import (
	"errors"
	"fmt"

	"github.com/alphabill-org/blockengine/state"
	"github.com/alphabill-org/blockengine/util"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// Method is the balance API of the token module.
type Method struct {
	accounts state.Store[Account]
}

func NewMethod() *Method {
	return &Method{accounts: state.NewStore[Account](ModuleName, substoreAccounts)}
}

// Balance returns the balance of the address, zero for unknown address.
func (m *Method) Balance(r state.ReadOnly, address []byte) (uint64, error) {
	acc, err := m.accounts.GetOrDefault(r, address, &Account{})
	if err != nil {
		return 0, fmt.Errorf("reading token account: %w", err)
	}
	return acc.Balance, nil
}

func (m *Method) Debit(w state.ReadWrite, address []byte, amount uint64) error {
	balance, err := m.Balance(w, address)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: account %X has %d, required %d", ErrInsufficientBalance, address, balance, amount)
	}
	return m.accounts.Set(w, address, &Account{Balance: balance - amount})
}

func (m *Method) Credit(w state.ReadWrite, address []byte, amount uint64) error {
	balance, err := m.Balance(w, address)
	if err != nil {
		return err
	}
	sum, err := util.AddUint64(balance, amount)
	if err != nil {
		return fmt.Errorf("crediting account %X: %w", address, err)
	}
	return m.accounts.Set(w, address, &Account{Balance: sum})
}

func (m *Method) Transfer(w state.ReadWrite, from, to []byte, amount uint64) error {
	if err := m.Debit(w, from, amount); err != nil {
		return err
	}
	return m.Credit(w, to, amount)
}

// Accounts calls f for every account in ascending address order.
func (m *Method) Accounts(r state.ReadOnly, f func(address []byte, acc *Account) (bool, error)) error {
	return m.accounts.Iterate(r, f)
}
