package synchronizer

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/ratelimit"

	"github.com/alphabill-org/blockengine/chain"
	"github.com/alphabill-org/blockengine/consensus"
	"github.com/alphabill-org/blockengine/logger"
	"github.com/alphabill-org/blockengine/network"
	"github.com/alphabill-org/blockengine/observability"
	"github.com/alphabill-org/blockengine/types"
)

type (
	Observability interface {
		Meter(name string, opts ...metric.MeterOption) metric.Meter
		Tracer(name string, options ...trace.TracerOption) trace.Tracer
		Logger() *slog.Logger
	}

	// Synchronizer brings the local chain up to date with the best connected
	// peer. Short forks are resolved by switching to the peer chain block by
	// block (fast chain switch), longer gaps by downloading and applying the
	// peer chain in batches (block sync). Only one synchronization runs at a
	// time.
	Synchronizer struct {
		cfg       *Config
		consensus *consensus.Consensus
		net       network.PeerNetwork
		limiter   ratelimit.Limiter

		active atomic.Bool
		state  atomic.Int32

		// order in which the peers were first seen, used as the last tie-breaker
		seenMu  sync.Mutex
		seen    map[peer.ID]uint64
		seenSeq uint64

		log     *slog.Logger
		tracer  trace.Tracer
		metrics metrics
	}
)

func New(cons *consensus.Consensus, net network.PeerNetwork, observe Observability, opts ...Option) (*Synchronizer, error) {
	switch {
	case cons == nil:
		return nil, errors.New("consensus is nil")
	case net == nil:
		return nil, errors.New("peer network is nil")
	}
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	// every reverted block goes to the temp table
	if depth := max(cfg.LookbackWindow, cfg.FastChainSwitchMaxDelta); depth > cons.Chain().MaxTempBlocks() {
		return nil, fmt.Errorf("revert depth %d exceeds the temp block table size %d", depth, cons.Chain().MaxTempBlocks())
	}
	s := &Synchronizer{
		cfg:       cfg,
		consensus: cons,
		net:       net,
		limiter:   ratelimit.NewUnlimited(),
		seen:      map[peer.ID]uint64{},
		log:       observe.Logger(),
		tracer:    observe.Tracer("synchronizer"),
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = ratelimit.New(cfg.RequestsPerSecond)
	}
	if err := s.initMetrics(observe.Meter("synchronizer")); err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}
	return s, nil
}

func (s *Synchronizer) State() State { return State(s.state.Load()) }

// IsActive returns true while a synchronization (or block processing) is in progress.
func (s *Synchronizer) IsActive() bool { return s.active.Load() }

func (s *Synchronizer) setState(st State) { s.state.Store(int32(st)) }

func (s *Synchronizer) chain() *chain.Chain { return s.consensus.Chain() }

/*
Run synchronizes the local chain with the connected peers until no peer
reports a higher tip, MaxRetries attempts have failed or ctx is cancelled.

Returns ErrAlreadyRunning (without touching any state) when another
synchronization is in progress. Peers which supplied invalid data are
penalized and the next best peer is tried. Storage failures are returned
as they are, the node must not continue after those.
*/
func (s *Synchronizer) Run(ctx context.Context) (rErr error) {
	if !s.active.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		s.setState(Idle)
		s.active.Store(false)
	}()

	ctx, span := s.tracer.Start(ctx, "Synchronizer.Run")
	defer func() {
		if rErr != nil {
			span.RecordError(rErr)
		}
		span.End()
	}()
	log := s.log.With(logger.SyncID(uuid.New().String()))

	if err := s.recoverTempBlocks(ctx); err != nil {
		return unwrapFatal(err)
	}

	tried := map[peer.ID]struct{}{}
	var errs []error
	for failed := 0; failed < s.cfg.MaxRetries; {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.setState(DeterminingStrategy)
		target, ok, err := s.selectPeer(ctx, tried)
		if err != nil {
			return fmt.Errorf("reading peer tips: %w", err)
		}
		if !ok {
			log.DebugContext(ctx, fmt.Sprintf("no peer ahead of local height %d", s.chain().Height()))
			if len(errs) > 0 {
				return errors.Join(errs...)
			}
			return nil
		}

		strat, err := s.syncWith(ctx, log, target)
		s.metrics.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strat.String()), observability.ErrStatus(err)))
		if err == nil {
			// the peer may still be ahead when MaxSyncBlocks was reached
			errs = nil
			continue
		}

		var fatal *fatalError
		switch {
		case errors.As(err, &fatal):
			return fatal.err
		case ctx.Err() != nil:
			return errors.Join(ctx.Err(), err)
		}
		log.WarnContext(ctx, fmt.Sprintf("synchronization with peer using %s failed", strat), logger.PeerID(target.PeerID), logger.Error(err))
		tried[target.PeerID] = struct{}{}
		errs = append(errs, err)
		failed++
	}
	return fmt.Errorf("synchronization failed after %d attempts: %w", s.cfg.MaxRetries, errors.Join(errs...))
}

/*
RecoverTempBlocks restores the chain which was being replaced when the node
stopped in the middle of a synchronization: when the blocks in the temp
table form a longer chain than the current one, the node switches back to
it. The temp table is cleared in any case.
*/
func (s *Synchronizer) RecoverTempBlocks(ctx context.Context) error {
	if !s.active.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.active.Store(false)
	return unwrapFatal(s.recoverTempBlocks(ctx))
}

/*
Exclusive runs f unless a synchronization is in progress, in which case
ErrAlreadyRunning is returned. Synchronization can't start while f runs.
Local block production must go through it so that no block is applied on
top of the intermediate tip of a chain switch.
*/
func (s *Synchronizer) Exclusive(ctx context.Context, f func(ctx context.Context) error) error {
	if !s.active.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.active.Store(false)
	return f(ctx)
}

/*
ProcessBlock handles a block gossiped by peer "from". A block extending the
local tip is executed, a block from a different (possibly longer) chain
triggers synchronization. Blocks which are already known or below the
finalized height are ignored, as are all blocks received while a
synchronization is running.
*/
func (s *Synchronizer) ProcessBlock(ctx context.Context, from peer.ID, block *types.Block) error {
	if block == nil || block.Header == nil {
		s.penalize(ctx, from, "empty block")
		return errors.New("block is nil")
	}
	if !s.active.CompareAndSwap(false, true) {
		return nil
	}
	done, err := s.applyReceived(ctx, from, block)
	s.active.Store(false)
	if err != nil || done {
		return err
	}
	if err := s.Run(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		return err
	}
	return nil
}

// applyReceived returns true when the block didn't require synchronization.
func (s *Synchronizer) applyReceived(ctx context.Context, from peer.ID, block *types.Block) (bool, error) {
	ch := s.chain()
	if block.Height() <= ch.FinalizedHeight() {
		return true, nil
	}
	_, err := ch.GetBlockByID(block.ID())
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, chain.ErrBlockNotFound):
		return false, fmt.Errorf("looking up received block: %w", err)
	}

	tip := ch.LastBlock()
	if block.Height() != tip.Height()+1 || !bytes.Equal(block.Header.PreviousBlockID, tip.ID()) {
		if block.Height() <= tip.Height() {
			// competing block of a chain which is not longer than ours
			return true, nil
		}
		return false, nil
	}
	if _, err := s.consensus.ExecuteValidated(ctx, block, consensus.ExecuteOptions{}); err != nil {
		var rejected *consensus.BlockRejectedError
		if errors.As(err, &rejected) {
			s.penalize(ctx, from, rejected.Error())
		}
		return true, err
	}
	return true, nil
}

// selectPeer returns the best peer ahead of the local chain which is not in exclude.
func (s *Synchronizer) selectPeer(ctx context.Context, exclude map[peer.ID]struct{}) (network.PeerTip, bool, error) {
	tips, err := s.net.ConnectedPeerTips(ctx)
	if err != nil {
		return network.PeerTip{}, false, err
	}
	height := s.chain().Height()

	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	var candidates []network.PeerTip
	for _, tip := range tips {
		if _, ok := s.seen[tip.PeerID]; !ok {
			s.seenSeq++
			s.seen[tip.PeerID] = s.seenSeq
		}
		if _, ok := exclude[tip.PeerID]; ok || tip.Height <= height {
			continue
		}
		candidates = append(candidates, tip)
	}
	if len(candidates) == 0 {
		return network.PeerTip{}, false, nil
	}
	slices.SortStableFunc(candidates, func(a, b network.PeerTip) int {
		if c := cmp.Compare(b.Height, a.Height); c != 0 {
			return c
		}
		if c := cmp.Compare(b.ValidatorWeight, a.ValidatorWeight); c != 0 {
			return c
		}
		return cmp.Compare(s.seen[a.PeerID], s.seen[b.PeerID])
	})
	return candidates[0], true, nil
}

/*
syncWith finds the common block with the peer and switches the local chain
to the peer chain. Fast chain switch is used when both the peer tip and the
common block are within FastChainSwitchMaxDelta of the local tip.
*/
func (s *Synchronizer) syncWith(ctx context.Context, log *slog.Logger, target network.PeerTip) (strategy, error) {
	ch := s.chain()
	tip := ch.LastBlock()
	finalized := ch.FinalizedHeight()
	if target.Height <= tip.Height() {
		return blockSync, nil
	}
	pc := &peerChain{peer: target.PeerID, top: target.Height}

	strat := blockSync
	if delta := s.cfg.FastChainSwitchMaxDelta; delta > 0 && target.Height-tip.Height() <= delta {
		err := s.findCommonBlock(ctx, pc, max(finalized, satSub(tip.Height(), delta)))
		var noCommon *NoCommonBlockError
		switch {
		case err == nil:
			strat = fastChainSwitch
		case !errors.As(err, &noCommon):
			return strat, err
		}
	}

	ctx, span := s.tracer.Start(ctx, "Synchronizer."+strat.String(), trace.WithAttributes(observability.PeerID(target.PeerID), observability.Height(target.Height)))
	defer span.End()

	if strat == blockSync {
		if len(pc.blocks) == 0 && target.Height > tip.Height()+s.cfg.MaxSyncBlocks {
			pc.top = tip.Height() + s.cfg.MaxSyncBlocks
		}
		if err := s.findCommonBlock(ctx, pc, max(finalized, satSub(tip.Height(), s.cfg.LookbackWindow))); err != nil {
			span.RecordError(err)
			return strat, err
		}
	}
	s.setState(strat.state())

	blocks := pc.ascending()
	log.InfoContext(ctx, fmt.Sprintf("%s: switching to peer chain at common block %d, reverting %d and applying %d blocks",
		strat, pc.ancestor.Height, tip.Height()-pc.ancestor.Height, len(blocks)), logger.PeerID(target.PeerID))

	if strat == blockSync {
		if err := s.consensus.Limits().ValidateBlocks(ctx, blocks); err != nil {
			if ctx.Err() != nil {
				return strat, ctx.Err()
			}
			s.penalize(ctx, pc.peer, err.Error())
			err = &SyncError{Peer: pc.peer, Height: pc.ancestor.Height + 1, Err: err}
			span.RecordError(err)
			return strat, err
		}
	}
	if err := s.switchChain(ctx, pc, blocks, strat); err != nil {
		span.RecordError(err)
		return strat, err
	}
	return strat, nil
}

/*
switchChain reverts the local blocks above the common block (keeping them
in the temp table) and applies the peer blocks. On failure the original
chain is restored from the temp table.
*/
func (s *Synchronizer) switchChain(ctx context.Context, pc *peerChain, blocks []*types.Block, strat strategy) error {
	ancestor := pc.ancestor.Height
	if err := s.revertTo(ctx, ancestor, true); err != nil {
		return s.abort(ctx, ancestor, &fatalError{err: err})
	}

	// fast chain switch can be interrupted after every block, block sync after every batch
	interruptEvery := 1
	if strat == blockSync {
		interruptEvery = s.cfg.BatchSize
	}
	for i, b := range blocks {
		if i%interruptEvery == 0 && ctx.Err() != nil {
			return s.abort(ctx, ancestor, ctx.Err())
		}
		if _, err := s.consensus.ExecuteValidated(ctx, b, consensus.ExecuteOptions{SkipBroadcast: true}); err != nil {
			var rejected *consensus.BlockRejectedError
			if errors.As(err, &rejected) {
				s.penalize(ctx, pc.peer, rejected.Error())
				return s.abort(ctx, ancestor, &SyncError{Peer: pc.peer, Height: b.Height(), Err: err})
			}
			return s.abort(ctx, ancestor, &fatalError{err: err})
		}
		s.metrics.applied.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strat.String())))
	}
	if err := s.chain().ClearTempBlocks(); err != nil {
		return &fatalError{err: fmt.Errorf("clearing temp blocks: %w", err)}
	}
	return nil
}

/*
abort restores the chain which was replaced: the peer blocks above ancestor
are deleted and the blocks in the temp table are applied again. Runs to
completion even when ctx is cancelled.
*/
func (s *Synchronizer) abort(ctx context.Context, ancestor uint64, cause error) error {
	s.setState(Aborting)
	ctx = context.WithoutCancel(ctx)
	s.log.WarnContext(ctx, fmt.Sprintf("synchronization aborted, restoring chain above block %d", ancestor), logger.Error(cause))

	err := s.revertTo(ctx, ancestor, false)
	switch {
	case errors.Is(err, chain.ErrFinalizedBlock):
		// applied peer blocks were finalized, the replaced chain is not valid anymore
		s.log.InfoContext(ctx, fmt.Sprintf("peer chain finalized at height %d, keeping it", s.chain().FinalizedHeight()))
		if err := s.chain().ClearTempBlocks(); err != nil {
			return errors.Join(cause, &fatalError{err: fmt.Errorf("clearing temp blocks: %w", err)})
		}
		return cause
	case err != nil:
		return errors.Join(cause, &fatalError{err: fmt.Errorf("restoring local chain: %w", err)})
	}
	if err := s.applyTempBlocks(ctx, ancestor); err != nil {
		return errors.Join(cause, &fatalError{err: fmt.Errorf("restoring local chain: %w", err)})
	}
	return cause
}

// revertTo deletes blocks until the tip is at height.
func (s *Synchronizer) revertTo(ctx context.Context, height uint64, saveTemp bool) error {
	for s.chain().Height() > height {
		if _, err := s.consensus.DeleteLastBlock(ctx, saveTemp); err != nil {
			return err
		}
		s.metrics.reverted.Add(ctx, 1)
	}
	return nil
}

// applyTempBlocks applies the temp blocks above height on the tip and clears the temp table.
func (s *Synchronizer) applyTempBlocks(ctx context.Context, height uint64) error {
	ch := s.chain()
	temp, err := ch.TempBlocks()
	if err != nil {
		return err
	}
	for _, b := range temp {
		if b.Height() <= height {
			continue
		}
		if _, err := s.consensus.ExecuteValidated(ctx, b, consensus.ExecuteOptions{RemoveFromTempTable: true, SkipBroadcast: true}); err != nil {
			return fmt.Errorf("applying temp block %d: %w", b.Height(), err)
		}
	}
	return ch.ClearTempBlocks()
}

func (s *Synchronizer) recoverTempBlocks(ctx context.Context) error {
	ch := s.chain()
	temp, err := ch.TempBlocks()
	if err != nil {
		return &fatalError{err: fmt.Errorf("reading temp blocks: %w", err)}
	}
	if len(temp) == 0 {
		return nil
	}

	first, last := temp[0], temp[len(temp)-1]
	base := first.Height() - 1
	recoverable := first.Height() > ch.FinalizedHeight() && base <= ch.Height() && last.Height() > ch.Height()
	if recoverable {
		b, err := ch.GetBlockByHeight(base)
		if err != nil {
			return &fatalError{err: fmt.Errorf("reading block %d: %w", base, err)}
		}
		recoverable = bytes.Equal(b.ID(), first.Header.PreviousBlockID)
	}
	if !recoverable {
		s.log.DebugContext(ctx, fmt.Sprintf("discarding %d temp blocks", len(temp)))
		if err := ch.ClearTempBlocks(); err != nil {
			return &fatalError{err: fmt.Errorf("clearing temp blocks: %w", err)}
		}
		return nil
	}

	s.log.InfoContext(ctx, fmt.Sprintf("recovering chain of temp blocks %d..%d", first.Height(), last.Height()))
	if err := s.revertTo(ctx, base, false); err != nil {
		return &fatalError{err: fmt.Errorf("reverting to block %d: %w", base, err)}
	}
	if err := s.applyTempBlocks(ctx, base); err != nil {
		var rejected *consensus.BlockRejectedError
		if !errors.As(err, &rejected) {
			return &fatalError{err: err}
		}
		s.log.WarnContext(ctx, "temp block recovery stopped at invalid block", logger.Error(err))
		if err := ch.ClearTempBlocks(); err != nil {
			return &fatalError{err: fmt.Errorf("clearing temp blocks: %w", err)}
		}
	}
	return nil
}

func (s *Synchronizer) penalize(ctx context.Context, id peer.ID, reason string) {
	s.metrics.penalties.Add(ctx, 1)
	s.net.Penalize(id, reason)
}

// fatalError marks errors after which the node must not continue, ie storage failures.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

func unwrapFatal(err error) error {
	var fatal *fatalError
	if errors.As(err, &fatal) {
		return fatal.err
	}
	return err
}

func satSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
