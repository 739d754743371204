package chain

import "errors"

var (
	ErrBlockNotFound    = errors.New("block not found")
	ErrFinalizedBlock   = errors.New("finalized block can't be deleted")
	ErrGenesisBlock     = errors.New("genesis block can't be deleted")
	ErrNotInitialized   = errors.New("chain is not initialized")
	ErrGenesisMismatch  = errors.New("stored genesis block does not match")
	ErrInvalidLinkage   = errors.New("block does not extend the tip")
	ErrFinalityRetreats = errors.New("finalized height can't decrease")
	ErrTempTableFull    = errors.New("temp block table is full")
)
