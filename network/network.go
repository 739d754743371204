package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/alphabill-org/blockengine/types"
)

const (
	DefaultMaxBlocks       = 100
	DefaultMaxTransactions = 10_000
)

var (
	ErrUnknownPeer     = errors.New("unknown peer")
	ErrBlocksNotFound  = errors.New("blocks not found")
	ErrInvalidRequest  = errors.New("invalid blocks request")
	errSourceNotLoaded = errors.New("block source has no blocks")
)

type (
	// PeerTip is the tip a connected peer advertises.
	PeerTip struct {
		PeerID          peer.ID
		Height          uint64
		BlockID         types.Bytes
		ValidatorWeight uint64
	}

	// PeerNetwork is the request/response and broadcast interface to the
	// other nodes. Responses are not trusted: they may contain duplicates,
	// be out of order or contain invalid blocks.
	PeerNetwork interface {
		// RequestBlocks returns up to limit blocks starting from fromHeight,
		// in descending height order when descending is true.
		RequestBlocks(ctx context.Context, id peer.ID, fromHeight uint64, limit int, descending bool) ([]*types.Block, error)
		BroadcastBlock(ctx context.Context, block *types.Block) error
		ConnectedPeerTips(ctx context.Context) ([]PeerTip, error)
		// Penalize reports misbehaving peer, the network may disconnect it.
		Penalize(id peer.ID, reason string)
	}

	// BlockSource is the chain the blocks are served from.
	BlockSource interface {
		LastBlock() *types.Block
		GetBlockByHeight(height uint64) (*types.Block, error)
	}

	BlocksRequest struct {
		FromHeight uint64
		Limit      int
		Descending bool
	}

	// ServeLimits bound the size of one blocks response.
	ServeLimits struct {
		MaxBlocks       int
		MaxTransactions int
	}
)

func DefaultServeLimits() ServeLimits {
	return ServeLimits{MaxBlocks: DefaultMaxBlocks, MaxTransactions: DefaultMaxTransactions}
}

/*
ServeBlocks reads the blocks of the request from src. The response holds
at least one block when the first requested block exists and stops when
either limit is reached or the end of the chain is hit.
*/
func ServeBlocks(src BlockSource, req BlocksRequest, limits ServeLimits) ([]*types.Block, error) {
	if req.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidRequest, req.Limit)
	}
	tip := src.LastBlock()
	if tip == nil {
		return nil, errSourceNotLoaded
	}
	if req.FromHeight > tip.Height() {
		return nil, fmt.Errorf("%w: requested height %d, latest block %d", ErrBlocksNotFound, req.FromHeight, tip.Height())
	}
	limit := req.Limit
	if limits.MaxBlocks > 0 {
		limit = min(limit, limits.MaxBlocks)
	}

	var blocks []*types.Block
	txCount := 0
	height := req.FromHeight
	for len(blocks) < limit {
		b, err := src.GetBlockByHeight(height)
		if err != nil {
			return nil, fmt.Errorf("reading block %d: %w", height, err)
		}
		blocks = append(blocks, b)
		txCount += len(b.Transactions)
		if limits.MaxTransactions > 0 && txCount >= limits.MaxTransactions {
			break
		}
		if req.Descending {
			if height == 0 {
				break
			}
			height--
		} else {
			if height == tip.Height() {
				break
			}
			height++
		}
	}
	return blocks, nil
}
