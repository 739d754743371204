package synchronizer

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/alphabill-org/blockengine/types"
)

/*
peerChain is the part of the peer chain downloaded so far: contiguous,
linked blocks in descending height order starting from top.
*/
type peerChain struct {
	peer   peer.ID
	top    uint64
	blocks []*types.Block
	// the highest block of the local chain which is also in the peer chain
	ancestor *types.BlockHeader
}

// ascending returns the downloaded blocks above the common block in ascending order.
func (pc *peerChain) ascending() []*types.Block {
	res := slices.Clone(pc.blocks)
	slices.Reverse(res)
	return res
}

// next returns the height of the next block to download.
func (pc *peerChain) next() (uint64, bool) {
	if len(pc.blocks) == 0 {
		return pc.top, true
	}
	last := pc.blocks[len(pc.blocks)-1].Height()
	if last == 0 {
		return 0, false
	}
	return last - 1, true
}

/*
add appends batch (blocks from height "from" downwards) to the chain.
Blocks outside of the requested range are ignored, the rest must be
contiguous starting from "from" and linked by the previous block ID.
Returns the added blocks.
*/
func (pc *peerChain) add(batch []*types.Block, from, limit uint64) ([]*types.Block, error) {
	byHeight := make(map[uint64]*types.Block, len(batch))
	for _, b := range batch {
		if b == nil || b.Header == nil {
			return nil, errors.New("response contains empty block")
		}
		h := b.Height()
		if h > from || from-h >= limit {
			continue
		}
		if prev, ok := byHeight[h]; ok && !bytes.Equal(prev.ID(), b.ID()) {
			return nil, fmt.Errorf("response contains conflicting blocks at height %d", h)
		}
		byHeight[h] = b
	}
	if len(byHeight) == 0 {
		return nil, fmt.Errorf("response doesn't contain block %d", from)
	}

	blocks := make([]*types.Block, 0, len(byHeight))
	for _, b := range byHeight {
		blocks = append(blocks, b)
	}
	slices.SortFunc(blocks, func(a, b *types.Block) int { return cmp.Compare(b.Height(), a.Height()) })
	if blocks[0].Height() != from {
		return nil, fmt.Errorf("response doesn't contain block %d", from)
	}
	for i, b := range blocks {
		if i > 0 && blocks[i-1].Height() != b.Height()+1 {
			return nil, fmt.Errorf("response is missing block %d", b.Height()+1)
		}
		var child *types.Block
		switch {
		case i > 0:
			child = blocks[i-1]
		case len(pc.blocks) > 0:
			child = pc.blocks[len(pc.blocks)-1]
		}
		if child != nil && !bytes.Equal(child.Header.PreviousBlockID, b.ID()) {
			return nil, fmt.Errorf("block %d doesn't link to block %d", child.Height(), b.Height())
		}
	}
	pc.blocks = append(pc.blocks, blocks...)
	return blocks, nil
}

/*
findCommonBlock downloads the peer chain in descending batches until a block
known to the local chain is found. The search doesn't go below boundary.
Blocks at and below the common block are dropped from pc.
*/
func (s *Synchronizer) findCommonBlock(ctx context.Context, pc *peerChain, boundary uint64) error {
	for pc.ancestor == nil {
		from, ok := pc.next()
		if !ok || from < boundary {
			return &NoCommonBlockError{Peer: pc.peer, From: boundary, To: pc.top}
		}
		limit := min(uint64(s.cfg.BatchSize), from-boundary+1)
		batch, err := s.requestBlocks(ctx, pc.peer, from, limit)
		if err != nil {
			return err
		}
		added, err := pc.add(batch, from, limit)
		if err != nil {
			s.penalize(ctx, pc.peer, err.Error())
			return &SyncError{Peer: pc.peer, Height: from, Err: err}
		}

		ids := make([][]byte, len(added))
		for i, b := range added {
			ids[i] = b.ID()
		}
		common, err := s.chain().GetHighestCommonBlock(ids)
		if err != nil {
			return &fatalError{err: fmt.Errorf("searching common block: %w", err)}
		}
		if common != nil {
			pc.ancestor = common
			pc.blocks = slices.DeleteFunc(pc.blocks, func(b *types.Block) bool { return b.Height() <= common.Height })
		}
	}
	return nil
}

func (s *Synchronizer) requestBlocks(ctx context.Context, id peer.ID, from, limit uint64) ([]*types.Block, error) {
	s.limiter.Take()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blocks, err := s.net.RequestBlocks(ctx, id, from, int(limit), true) // #nosec G115 limit is at most BatchSize
	if err != nil {
		return nil, fmt.Errorf("requesting blocks %d..%d from peer %s: %w", from, from-limit+1, id, err)
	}
	return blocks, nil
}
