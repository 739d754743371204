package state

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrDiffNotFound      = errors.New("state diff not found")
	ErrOpenSavepoints    = errors.New("state has uncommitted savepoints")
	ErrInvalidSavepoint  = errors.New("invalid savepoint id")
	ErrStateViewReleased = errors.New("state view has been committed or discarded")
)
