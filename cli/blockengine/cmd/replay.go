package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alphabill-org/blockengine/consensus"
	"github.com/alphabill-org/blockengine/keyvaluedb/memorydb"
	"github.com/alphabill-org/blockengine/logger"
	"github.com/alphabill-org/blockengine/node"
)

type replayConfig struct {
	nodeConfig
	TargetDB  string
	BatchSize uint64
}

func newReplayCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &replayConfig{nodeConfig: nodeConfig{Base: baseConfig}}
	var cmd = &cobra.Command{
		Use:   "replay",
		Short: "Re-executes the local chain and verifies it",
		Long: `Re-executes every block of the local chain on a fresh database starting from the genesis. ` +
			`Every block is validated and its state root checked, the replayed tip must match the local tip.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return replayRunFunc(cmd.Context(), config)
		},
	}
	config.addNodeFlags(cmd)
	cmd.Flags().StringVar(&config.TargetDB, "target-db", "", "database file of the replayed chain (default: in-memory database)")
	cmd.Flags().Uint64Var(&config.BatchSize, "batch-size", 100, "number of blocks validated at once")
	return cmd
}

func replayRunFunc(ctx context.Context, config *replayConfig) (rErr error) {
	if config.BatchSize == 0 {
		return errors.New("batch size must be positive")
	}
	src, closeSrc, err := config.openNode(ctx, true)
	if err != nil {
		return fmt.Errorf("opening source chain: %w", err)
	}
	defer func() { rErr = errors.Join(rErr, closeSrc()) }()

	var target *node.Node
	if config.TargetDB != "" {
		nd, closeTarget, err := openNode(ctx, config.Base.observe, src.GenesisConfig(), config.TargetDB, false)
		if err != nil {
			return fmt.Errorf("opening target chain: %w", err)
		}
		defer func() { rErr = errors.Join(rErr, closeTarget()) }()
		target = nd
	} else {
		db, err := memorydb.New()
		if err != nil {
			return err
		}
		if target, err = node.New(ctx, db, src.GenesisConfig(), config.Base.observe); err != nil {
			return fmt.Errorf("creating target chain: %w", err)
		}
	}

	if err := replay(ctx, config.Base.observe.Logger(), src, target, config.BatchSize); err != nil {
		return err
	}
	srcTip, tip := src.Chain().LastBlock(), target.Chain().LastBlock()
	if !bytes.Equal(srcTip.ID(), tip.ID()) {
		return fmt.Errorf("replayed tip %d %X doesn't match source tip %d %X", tip.Height(), tip.ID(), srcTip.Height(), srcTip.ID())
	}
	consoleWriter.Println(fmt.Sprintf("Replayed %d blocks, tip %X, state root %X, finalized height %d",
		tip.Height(), tip.ID(), tip.Header.StateRoot, target.Chain().FinalizedHeight()))
	return nil
}

// replay applies the blocks of src above the tip of target.
func replay(ctx context.Context, log *slog.Logger, src, target *node.Node, batchSize uint64) error {
	cons := target.Consensus()
	for from := target.Chain().Height() + 1; from <= src.Chain().Height(); from += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		to := min(from+batchSize-1, src.Chain().Height())
		blocks, err := src.Chain().GetBlocksByHeightBetween(from, to)
		if err != nil {
			return fmt.Errorf("reading blocks %d..%d: %w", from, to, err)
		}
		if err := cons.Limits().ValidateBlocks(ctx, blocks); err != nil {
			return fmt.Errorf("validating blocks %d..%d: %w", from, to, err)
		}
		for _, b := range blocks {
			if _, err := cons.ExecuteValidated(ctx, b, consensus.ExecuteOptions{SkipBroadcast: true}); err != nil {
				return fmt.Errorf("replaying block %d: %w", b.Height(), err)
			}
		}
		log.DebugContext(ctx, fmt.Sprintf("replayed blocks %d..%d", from, to), logger.Height(to))
	}
	return nil
}
