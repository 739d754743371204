package synchronizer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	attempts  metric.Int64Counter
	applied   metric.Int64Counter
	reverted  metric.Int64Counter
	penalties metric.Int64Counter
}

func (s *Synchronizer) initMetrics(m metric.Meter) (err error) {
	if s.metrics.attempts, err = m.Int64Counter("sync.attempts", metric.WithDescription("Number of synchronization attempts, by strategy and status")); err != nil {
		return fmt.Errorf("creating sync attempts counter: %w", err)
	}
	if s.metrics.applied, err = m.Int64Counter("sync.blocks.applied", metric.WithDescription("Number of peer blocks applied by the synchronizer"), metric.WithUnit("{block}")); err != nil {
		return fmt.Errorf("creating applied blocks counter: %w", err)
	}
	if s.metrics.reverted, err = m.Int64Counter("sync.blocks.reverted", metric.WithDescription("Number of local blocks reverted by the synchronizer"), metric.WithUnit("{block}")); err != nil {
		return fmt.Errorf("creating reverted blocks counter: %w", err)
	}
	if s.metrics.penalties, err = m.Int64Counter("sync.peer.penalties", metric.WithDescription("Number of times a peer was penalized for invalid data")); err != nil {
		return fmt.Errorf("creating penalties counter: %w", err)
	}
	_, err = m.Int64ObservableGauge("sync.state", metric.WithDescription("Current state of the synchronizer"),
		metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
			io.Observe(int64(s.State()))
			return nil
		}))
	if err != nil {
		return fmt.Errorf("creating state gauge: %w", err)
	}
	return nil
}
