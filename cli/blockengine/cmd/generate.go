package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alphabill-org/blockengine/consensus"
	"github.com/alphabill-org/blockengine/crypto"
	"github.com/alphabill-org/blockengine/logger"
	"github.com/alphabill-org/blockengine/node"
	"github.com/alphabill-org/blockengine/synchronizer"
	"github.com/alphabill-org/blockengine/txbuffer"
	"github.com/alphabill-org/blockengine/types"
)

// blockGenerator produces blocks in the slots assigned to the validator of the signing key.
type blockGenerator struct {
	nd      *node.Node
	signer  crypto.Signer
	address []byte
	txs     *txbuffer.TxBuffer
	maxTxs  int
	// runs generation, refuses with synchronizer.ErrAlreadyRunning while the chain is synchronized
	exclusive func(ctx context.Context, f func(ctx context.Context) error) error
	now       func() time.Time
	log       *slog.Logger
}

func newBlockGenerator(nd *node.Node, signer crypto.Signer, txs *txbuffer.TxBuffer, log *slog.Logger) (*blockGenerator, error) {
	verifier, err := signer.Verifier()
	if err != nil {
		return nil, fmt.Errorf("generator verifier: %w", err)
	}
	pubKey, err := verifier.MarshalPublicKey()
	if err != nil {
		return nil, fmt.Errorf("reading generator key: %w", err)
	}
	return &blockGenerator{
		nd:        nd,
		signer:    signer,
		address:   crypto.AddressFromPublicKey(pubKey),
		txs:       txs,
		maxTxs:    nd.Consensus().Limits().MaxTransactionsPerBlock,
		exclusive: func(ctx context.Context, f func(ctx context.Context) error) error { return f(ctx) },
		now:       time.Now,
		log:       log,
	}, nil
}

/*
run attempts to generate a block every tick until ctx is cancelled. The tick
is skipped while the chain is being synchronized. Only storage errors stop
the loop, rejected blocks are logged.
*/
func (g *blockGenerator) run(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		err := g.exclusive(ctx, func(ctx context.Context) error {
			_, err := g.generate(ctx)
			return err
		})
		if err != nil {
			var rejected *consensus.BlockRejectedError
			switch {
			case errors.Is(err, synchronizer.ErrAlreadyRunning):
				continue
			case !errors.As(err, &rejected):
				return fmt.Errorf("generating block: %w", err)
			}
			g.log.WarnContext(ctx, "generated block rejected", logger.Error(err))
		}
	}
}

/*
generate applies a new block when the current slot belongs to the validator
and the tip is from an earlier slot. Returns nil block when it is not the
time to generate.
*/
func (g *blockGenerator) generate(ctx context.Context) (*types.Block, error) {
	r := g.nd.Consensus().State()
	cfg, err := g.nd.BFT.Config(r)
	if err != nil {
		return nil, err
	}
	tip := g.nd.Chain().LastBlock()
	now := uint64(g.now().Unix()) // #nosec G115
	slot := cfg.Slot(now)
	if slot <= cfg.Slot(tip.Header.Timestamp) {
		return nil, nil
	}
	generator, err := g.nd.BFT.GeneratorForSlot(r, tip.Height()+1, now)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(generator.Address, g.address) {
		return nil, nil
	}

	var txs []*types.Transaction
	if g.txs != nil {
		txs = g.txs.Collect(ctx, g.maxTxs)
	}
	block, err := g.nd.Consensus().GenerateBlock(ctx, g.signer, now, txs, nil)
	if err != nil && len(txs) > 0 {
		// one failing transaction invalidates the block, the batch is dropped
		g.log.WarnContext(ctx, fmt.Sprintf("dropping %d transactions", len(txs)), logger.Error(err))
		block, err = g.nd.Consensus().GenerateBlock(ctx, g.signer, now, nil, nil)
	}
	if err != nil {
		return nil, err
	}
	if _, err := g.nd.Consensus().ExecuteValidated(ctx, block, consensus.ExecuteOptions{}); err != nil {
		return nil, err
	}
	g.log.InfoContext(ctx, fmt.Sprintf("generated block %d with %d transactions", block.Height(), len(block.Transactions)), logger.BlockID(block.ID()), logger.Slot(slot))
	return block, nil
}
