package network

import (
	"context"
	"fmt"
	"testing"

	p2ptest "github.com/libp2p/go-libp2p/core/test"
	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/blockengine/internal/testutils/observability"
	"github.com/alphabill-org/blockengine/types"
)

// sliceSource serves blocks 0..len-1, block i has i transactions.
type sliceSource []*types.Block

func (s sliceSource) LastBlock() *types.Block {
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}

func (s sliceSource) GetBlockByHeight(height uint64) (*types.Block, error) {
	if height >= uint64(len(s)) {
		return nil, fmt.Errorf("block %d not found", height)
	}
	return s[height], nil
}

func newSliceSource(n int) sliceSource {
	src := make(sliceSource, n)
	for i := range n {
		src[i] = &types.Block{
			Header:       &types.BlockHeader{Height: uint64(i), Timestamp: uint64(i)},
			Transactions: make([]*types.Transaction, i),
		}
	}
	return src
}

func heights(blocks []*types.Block) []uint64 {
	res := make([]uint64, len(blocks))
	for i, b := range blocks {
		res[i] = b.Height()
	}
	return res
}

func TestServeBlocks(t *testing.T) {
	src := newSliceSource(10)

	tests := []struct {
		name   string
		req    BlocksRequest
		limits ServeLimits
		want   []uint64
	}{
		{name: "ascending", req: BlocksRequest{FromHeight: 2, Limit: 3}, want: []uint64{2, 3, 4}},
		{name: "ascending to tip", req: BlocksRequest{FromHeight: 7, Limit: 5}, want: []uint64{7, 8, 9}},
		{name: "descending", req: BlocksRequest{FromHeight: 9, Limit: 3, Descending: true}, want: []uint64{9, 8, 7}},
		{name: "descending to genesis", req: BlocksRequest{FromHeight: 1, Limit: 5, Descending: true}, want: []uint64{1, 0}},
		{name: "max blocks", req: BlocksRequest{FromHeight: 0, Limit: 10}, limits: ServeLimits{MaxBlocks: 2}, want: []uint64{0, 1}},
		// blocks 5 and 6 hold 11 transactions
		{name: "max transactions", req: BlocksRequest{FromHeight: 5, Limit: 10}, limits: ServeLimits{MaxTransactions: 10}, want: []uint64{5, 6}},
		{name: "first block is always returned", req: BlocksRequest{FromHeight: 9, Limit: 10}, limits: ServeLimits{MaxTransactions: 1}, want: []uint64{9}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			blocks, err := ServeBlocks(src, tc.req, tc.limits)
			require.NoError(t, err)
			require.Equal(t, tc.want, heights(blocks))
		})
	}

	_, err := ServeBlocks(src, BlocksRequest{FromHeight: 10, Limit: 1}, DefaultServeLimits())
	require.ErrorIs(t, err, ErrBlocksNotFound)
	_, err = ServeBlocks(src, BlocksRequest{FromHeight: 1}, DefaultServeLimits())
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = ServeBlocks(sliceSource{}, BlocksRequest{Limit: 1}, DefaultServeLimits())
	require.ErrorIs(t, err, errSourceNotLoaded)
}

func TestLocalNetwork(t *testing.T) {
	var received []*types.Block
	net := NewLocalNetwork(observability.Default(t),
		WithServeLimits(ServeLimits{MaxBlocks: 4}),
		WithBroadcastHandler(func(b *types.Block) { received = append(received, b) }),
	)
	p1, err := p2ptest.RandPeerID()
	require.NoError(t, err)
	p2, err := p2ptest.RandPeerID()
	require.NoError(t, err)
	ctx := context.Background()

	_, err = net.RequestBlocks(ctx, p1, 0, 1, false)
	require.ErrorIs(t, err, ErrUnknownPeer)

	net.AddPeer(p1, newSliceSource(10), 30)
	net.AddPeer(p2, newSliceSource(5), 10)

	tips, err := net.ConnectedPeerTips(ctx)
	require.NoError(t, err)
	require.Len(t, tips, 2)
	require.Equal(t, PeerTip{PeerID: p1, Height: 9, BlockID: tips[0].BlockID, ValidatorWeight: 30}, tips[0])
	require.EqualValues(t, 4, tips[1].Height)
	require.NotEmpty(t, tips[0].BlockID)

	blocks, err := net.RequestBlocks(ctx, p1, 9, 10, true)
	require.NoError(t, err)
	require.Equal(t, []uint64{9, 8, 7, 6}, heights(blocks))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = net.RequestBlocks(cctx, p1, 0, 1, false)
	require.ErrorIs(t, err, context.Canceled)

	b := &types.Block{Header: &types.BlockHeader{Height: 11}}
	require.NoError(t, net.BroadcastBlock(ctx, b))
	require.Equal(t, []*types.Block{b}, net.Broadcasted())
	require.Equal(t, []*types.Block{b}, received)

	net.Penalize(p1, "invalid block")
	require.Equal(t, []string{"invalid block"}, net.Penalties(p1))
	require.Empty(t, net.Penalties(p2))
	_, err = net.RequestBlocks(ctx, p1, 0, 1, false)
	require.ErrorIs(t, err, ErrUnknownPeer)
	tips, err = net.ConnectedPeerTips(ctx)
	require.NoError(t, err)
	require.Len(t, tips, 1)
	require.Equal(t, p2, tips[0].PeerID)

	net.RemovePeer(p2)
	tips, err = net.ConnectedPeerTips(ctx)
	require.NoError(t, err)
	require.Empty(t, tips)
}
