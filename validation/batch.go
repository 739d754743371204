package validation

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/alphabill-org/blockengine/types"
)

/*
ValidateBlocks runs schema validation of the blocks concurrently and
returns the error of the lowest invalid block (or nil). Blocks are not
modified.
*/
func (l Limits) ValidateBlocks(ctx context.Context, blocks []*types.Block) error {
	errs := make([]error, len(blocks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, b := range blocks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			errs[i] = l.ValidateBlockSchema(b)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("block %d: %w", blocks[i].Height(), err)
		}
	}
	return nil
}

// ValidateBlocks validates the blocks with default limits.
func ValidateBlocks(ctx context.Context, blocks []*types.Block) error {
	return DefaultLimits().ValidateBlocks(ctx, blocks)
}
