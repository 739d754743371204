package synchronizer

import (
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
)

var ErrAlreadyRunning = errors.New("synchronizer is already running")

type (
	// SyncError means the peer supplied data the chain can't be synchronized
	// with: invalid or inconsistent blocks. The peer is penalized and the
	// synchronization may be retried with another peer.
	SyncError struct {
		Peer   peer.ID
		Height uint64
		Err    error
	}

	// NoCommonBlockError means the peer chain has no block in common with the
	// local chain above the search boundary. The fork can't be resolved
	// automatically.
	NoCommonBlockError struct {
		Peer peer.ID
		// the search range, inclusive
		From, To uint64
	}
)

func (e *SyncError) Error() string {
	return fmt.Sprintf("synchronizing with peer %s failed at height %d: %v", e.Peer, e.Height, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

func (e *NoCommonBlockError) Error() string {
	return fmt.Sprintf("no common block with peer %s between heights %d and %d", e.Peer, e.From, e.To)
}
