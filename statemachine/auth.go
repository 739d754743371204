package statemachine

import (
	"context"
	"fmt"

	"github.com/alphabill-org/blockengine/state"
	"github.com/alphabill-org/blockengine/validation"
)

const AuthModuleName = "auth"

type (
	AuthAccount struct {
		_     struct{} `cbor:",toarray"`
		Nonce uint64
	}

	// AuthModule checks the nonce and signature of every transaction and
	// increments the nonce of the sender before the command is executed.
	AuthModule struct {
		BaseModule
		chainID  []byte
		accounts state.Store[AuthAccount]
	}
)

func NewAuthModule(chainID []byte) *AuthModule {
	return &AuthModule{
		chainID:  chainID,
		accounts: state.NewStore[AuthAccount](AuthModuleName, 0),
	}
}

func (m *AuthModule) Name() string { return AuthModuleName }

func (m *AuthModule) VerifyTransaction(ctx context.Context, tc *TransactionContext) error {
	if err := validation.VerifySignature(m.chainID, tc.Tx, tc.Tx.SenderPublicKey); err != nil {
		return err
	}
	nonce, err := m.Nonce(tc.State, tc.Tx.SenderAddress())
	if err != nil {
		return err
	}
	if tc.Tx.Nonce != nonce {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidNonce, nonce, tc.Tx.Nonce)
	}
	return nil
}

func (m *AuthModule) BeforeCommandExecute(ctx context.Context, tc *TransactionContext) error {
	address := tc.Tx.SenderAddress()
	acc, err := m.accounts.GetOrDefault(tc.State, address, &AuthAccount{})
	if err != nil {
		return err
	}
	acc.Nonce++
	return m.accounts.Set(tc.State, address, acc)
}

// Nonce returns the nonce the next transaction of the address must have.
func (m *AuthModule) Nonce(r state.ReadOnly, address []byte) (uint64, error) {
	acc, err := m.accounts.GetOrDefault(r, address, &AuthAccount{})
	if err != nil {
		return 0, fmt.Errorf("reading auth account: %w", err)
	}
	return acc.Nonce, nil
}
