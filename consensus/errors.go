package consensus

import (
	"fmt"
)

type RejectKind string

const (
	RejectSchema          RejectKind = "schema"
	RejectVerification    RejectKind = "verification"
	RejectValidatorsHash  RejectKind = "validatorsHash"
	RejectAggregateCommit RejectKind = "aggregateCommit"
	RejectExecution       RejectKind = "execution"
	RejectStateRoot       RejectKind = "stateRoot"
)

type (
	// BlockVerificationError means the block doesn't fit on top of the current tip.
	BlockVerificationError struct {
		Reason string
		Err    error
	}

	// BlockRejectedError wraps every reason a block is not valid. Errors which
	// are not wrapped into BlockRejectedError (ie storage errors) are fatal.
	BlockRejectedError struct {
		Kind   RejectKind
		Height uint64
		Err    error
	}
)

func (e *BlockVerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("block verification failed: %s: %v", e.Reason, e.Err)
	}
	return "block verification failed: " + e.Reason
}

func (e *BlockVerificationError) Unwrap() error { return e.Err }

func (e *BlockRejectedError) Error() string {
	return fmt.Sprintf("block %d rejected (%s): %v", e.Height, e.Kind, e.Err)
}

func (e *BlockRejectedError) Unwrap() error { return e.Err }
