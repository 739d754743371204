package consensus

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	applied  metric.Int64Counter
	reverted metric.Int64Counter
	rejected metric.Int64Counter
	txCount  metric.Int64Counter
	execTime metric.Float64Histogram
}

func (c *Consensus) initMetrics(m metric.Meter) (err error) {
	if c.metrics.applied, err = m.Int64Counter("block.applied", metric.WithDescription("Number of blocks added to the chain")); err != nil {
		return fmt.Errorf("creating block applied counter: %w", err)
	}
	if c.metrics.reverted, err = m.Int64Counter("block.reverted", metric.WithDescription("Number of blocks deleted from the tip of the chain")); err != nil {
		return fmt.Errorf("creating block reverted counter: %w", err)
	}
	if c.metrics.rejected, err = m.Int64Counter("block.rejected", metric.WithDescription("Number of invalid blocks by reason")); err != nil {
		return fmt.Errorf("creating block rejected counter: %w", err)
	}
	if c.metrics.txCount, err = m.Int64Counter("tx.count", metric.WithDescription("Number of executed transactions"), metric.WithUnit("{transaction}")); err != nil {
		return fmt.Errorf("creating transaction counter: %w", err)
	}
	if c.metrics.execTime, err = m.Float64Histogram("block.exec.time",
		metric.WithDescription("How long it took to verify, execute and save the block"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5)); err != nil {
		return fmt.Errorf("creating block execution time histogram: %w", err)
	}

	_, err = m.Int64ObservableGauge("height", metric.WithDescription("Height of the chain tip"),
		metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
			io.Observe(int64(c.chain.Height())) // #nosec G115
			return nil
		}))
	if err != nil {
		return fmt.Errorf("creating tip height gauge: %w", err)
	}
	_, err = m.Int64ObservableGauge("height.finalized", metric.WithDescription("Finalized height of the chain"),
		metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
			io.Observe(int64(c.chain.FinalizedHeight())) // #nosec G115
			return nil
		}))
	if err != nil {
		return fmt.Errorf("creating finalized height gauge: %w", err)
	}
	return nil
}
