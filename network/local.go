package network

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/alphabill-org/blockengine/logger"
	"github.com/alphabill-org/blockengine/types"
)

type (
	Observability interface {
		Logger() *slog.Logger
	}

	localPeer struct {
		id     peer.ID
		src    BlockSource
		weight uint64
	}

	// LocalNetwork is PeerNetwork over chains of the same process: every peer
	// is a BlockSource. Penalized peers are disconnected. Used by tests and by
	// the CLI to synchronize from other local databases.
	LocalNetwork struct {
		limits ServeLimits
		log    *slog.Logger

		mu          sync.Mutex
		peers       []*localPeer
		penalties   map[peer.ID][]string
		broadcasted []*types.Block
		onBroadcast func(*types.Block)
	}

	LocalOption func(*LocalNetwork)
)

var _ PeerNetwork = (*LocalNetwork)(nil)

func WithServeLimits(l ServeLimits) LocalOption {
	return func(n *LocalNetwork) {
		n.limits = l
	}
}

// WithBroadcastHandler sets callback which is called with every broadcasted block.
func WithBroadcastHandler(f func(*types.Block)) LocalOption {
	return func(n *LocalNetwork) {
		n.onBroadcast = f
	}
}

func NewLocalNetwork(observe Observability, opts ...LocalOption) *LocalNetwork {
	n := &LocalNetwork{
		limits:    DefaultServeLimits(),
		log:       observe.Logger(),
		penalties: make(map[peer.ID][]string),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// AddPeer connects peer serving blocks from src, weight is the validator weight the peer claims.
func (n *LocalNetwork) AddPeer(id peer.ID, src BlockSource, weight uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers = slices.DeleteFunc(n.peers, func(p *localPeer) bool { return p.id == id })
	n.peers = append(n.peers, &localPeer{id: id, src: src, weight: weight})
}

func (n *LocalNetwork) RemovePeer(id peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers = slices.DeleteFunc(n.peers, func(p *localPeer) bool { return p.id == id })
}

func (n *LocalNetwork) peer(id peer.ID) (*localPeer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		if p.id == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, id)
}

func (n *LocalNetwork) RequestBlocks(ctx context.Context, id peer.ID, fromHeight uint64, limit int, descending bool) ([]*types.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := n.peer(id)
	if err != nil {
		return nil, err
	}
	return ServeBlocks(p.src, BlocksRequest{FromHeight: fromHeight, Limit: limit, Descending: descending}, n.limits)
}

func (n *LocalNetwork) BroadcastBlock(ctx context.Context, block *types.Block) error {
	n.mu.Lock()
	n.broadcasted = append(n.broadcasted, block)
	f := n.onBroadcast
	n.mu.Unlock()

	if f != nil {
		f(block)
	}
	return nil
}

// ConnectedPeerTips returns tips of the peers in the order they were added.
func (n *LocalNetwork) ConnectedPeerTips(ctx context.Context) ([]PeerTip, error) {
	n.mu.Lock()
	peers := slices.Clone(n.peers)
	n.mu.Unlock()

	tips := make([]PeerTip, 0, len(peers))
	for _, p := range peers {
		tip := p.src.LastBlock()
		if tip == nil {
			continue
		}
		tips = append(tips, PeerTip{PeerID: p.id, Height: tip.Height(), BlockID: tip.ID(), ValidatorWeight: p.weight})
	}
	return tips, nil
}

func (n *LocalNetwork) Penalize(id peer.ID, reason string) {
	n.log.Warn("penalizing peer: "+reason, logger.PeerID(id))
	n.mu.Lock()
	defer n.mu.Unlock()
	n.penalties[id] = append(n.penalties[id], reason)
	n.peers = slices.DeleteFunc(n.peers, func(p *localPeer) bool { return p.id == id })
}

// Penalties returns the reasons the peer has been penalized for.
func (n *LocalNetwork) Penalties(id peer.ID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.penalties[id])
}

// Broadcasted returns blocks broadcasted so far.
func (n *LocalNetwork) Broadcasted() []*types.Block {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.broadcasted)
}
