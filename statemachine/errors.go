package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidNonce   = errors.New("invalid nonce")
	ErrStoreNotEmpty  = errors.New("state store is not empty")
)

type (
	// GenesisValidationError means genesis block can't be used to initialize the chain.
	GenesisValidationError struct {
		Err error
	}

	// TransactionVerificationError is a consensus rule violation, the whole block is invalid.
	TransactionVerificationError struct {
		TxID  []byte
		Index int
		Err   error
	}

	// AssetVerificationError is returned when module rejects block assets.
	AssetVerificationError struct {
		Module string
		Err    error
	}

	StateRootMismatchError struct {
		Expected []byte
		Actual   []byte
	}

	// ModuleHookError is returned when a lifecycle hook of a module failed, block can't be applied.
	ModuleHookError struct {
		Module string
		Hook   string
		Err    error
	}

	fatalError struct {
		err error
	}
)

func (e *GenesisValidationError) Error() string {
	return fmt.Sprintf("invalid genesis: %v", e.Err)
}

func (e *GenesisValidationError) Unwrap() error { return e.Err }

func (e *TransactionVerificationError) Error() string {
	return fmt.Sprintf("transaction %d (%X) verification failed: %v", e.Index, e.TxID, e.Err)
}

func (e *TransactionVerificationError) Unwrap() error { return e.Err }

func (e *AssetVerificationError) Error() string {
	return fmt.Sprintf("module %s rejected block assets: %v", e.Module, e.Err)
}

func (e *AssetVerificationError) Unwrap() error { return e.Err }

func (e *StateRootMismatchError) Error() string {
	return fmt.Sprintf("state root mismatch: expected %X, got %X", e.Expected, e.Actual)
}

func (e *ModuleHookError) Error() string {
	return fmt.Sprintf("module %s hook %s: %v", e.Module, e.Hook, e.Err)
}

func (e *ModuleHookError) Unwrap() error { return e.Err }

func (e fatalError) Error() string { return e.err.Error() }

func (e fatalError) Unwrap() error { return e.err }

/*
Fatal marks the error returned by command execution as protocol fatal, ie
instead of recording the transaction as failed the whole block is rejected.
*/
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalError{err: err}
}

// IsFatal returns true when err (or any error it wraps) was marked with Fatal.
func IsFatal(err error) bool {
	var fe fatalError
	return errors.As(err, &fe)
}
