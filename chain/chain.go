package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alphabill-org/blockengine/keyvaluedb"
	"github.com/alphabill-org/blockengine/logger"
	"github.com/alphabill-org/blockengine/types"
	"github.com/alphabill-org/blockengine/util"
)

// DefaultMaxTempBlocks is the default limit of the temp block table.
const DefaultMaxTempBlocks = 1000

type (
	Observability interface {
		Logger() *slog.Logger
	}

	// Broadcaster announces blocks added to the chain to the network.
	Broadcaster interface {
		BroadcastBlock(ctx context.Context, block *types.Block) error
	}

	// BlockEvents are the events and transaction results of the block execution.
	BlockEvents struct {
		_         struct{}          `cbor:",toarray"`
		Events    []*types.Event    `json:"events"`
		TxResults []*types.TxResult `json:"txResults"`
	}

	SaveBlockOptions struct {
		// RemoveFromTempTable deletes the temp block with the same height.
		RemoveFromTempTable bool
		SkipBroadcast       bool
		// WithinTx is called with the database transaction the block is saved in, ie to commit the state.
		WithinTx func(tx keyvaluedb.DBTransaction) error
	}

	DeleteBlockOptions struct {
		// SaveTempBlock keeps the deleted block in the temp table.
		SaveTempBlock bool
		// WithinTx is called with the database transaction the block is deleted in, ie to revert the state.
		WithinTx func(tx keyvaluedb.DBTransaction) error
	}

	// Chain stores blocks by height and by ID, the tip and the finalized height
	// pointers, execution events and temp blocks. All the writes of one call
	// are done in a single database transaction.
	//
	// The temp table holds at most maxTempBlocks blocks, DeleteLastBlock
	// refuses to save more with ErrTempTableFull.
	//
	// Chain doesn't serialize state transitions, the caller must make sure
	// that SaveBlock and DeleteLastBlock are not called concurrently.
	Chain struct {
		db            keyvaluedb.KeyValueDB
		broadcaster   Broadcaster
		log           *slog.Logger
		maxTempBlocks uint64

		mu        sync.RWMutex
		lastBlock *types.Block
		finalized uint64
	}

	Option func(*Chain)
)

func WithBroadcaster(b Broadcaster) Option {
	return func(c *Chain) {
		c.broadcaster = b
	}
}

// WithMaxTempBlocks limits the number of blocks kept in the temp table.
func WithMaxTempBlocks(n uint64) Option {
	return func(c *Chain) {
		c.maxTempBlocks = n
	}
}

/*
New opens the chain stored in db. When db holds a chain the tip and the
finalized height are loaded, otherwise the chain must be initialized with
Init before use.
*/
func New(db keyvaluedb.KeyValueDB, observe Observability, opts ...Option) (*Chain, error) {
	if db == nil {
		return nil, errors.New("database is nil")
	}
	c := &Chain{db: db, log: observe.Logger(), maxTempBlocks: DefaultMaxTempBlocks}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxTempBlocks == 0 {
		return nil, errors.New("temp block table size must be positive")
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chain) load() error {
	var tip uint64
	found, err := c.db.Read(tipKey, &tip)
	if err != nil {
		return fmt.Errorf("reading tip pointer: %w", err)
	}
	if !found {
		return nil
	}
	b, err := c.readBlock(c.db, tip)
	if err != nil {
		return fmt.Errorf("reading tip block: %w", err)
	}
	var finalized uint64
	if _, err := c.db.Read(finalizedKey, &finalized); err != nil {
		return fmt.Errorf("reading finalized pointer: %w", err)
	}
	c.lastBlock = b
	c.finalized = finalized
	return nil
}

// IsInitialized returns true when the chain has the genesis block.
func (c *Chain) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastBlock != nil
}

/*
Init saves the genesis block (and calls withinTx in the same database
transaction) when the chain is empty. When the chain already exists the
stored genesis must be the same block and false is returned.
*/
func (c *Chain) Init(ctx context.Context, genesis *types.Block, events *BlockEvents, withinTx func(tx keyvaluedb.DBTransaction) error) (bool, error) {
	if err := genesis.IsValid(); err != nil {
		return false, err
	}
	if genesis.Height() != 0 {
		return false, fmt.Errorf("genesis block height must be 0, got %d", genesis.Height())
	}
	if c.IsInitialized() {
		stored, err := c.GetBlockByHeight(0)
		if err != nil {
			return false, fmt.Errorf("reading genesis block: %w", err)
		}
		if !bytes.Equal(stored.ID(), genesis.ID()) {
			return false, fmt.Errorf("%w: stored %X, got %X", ErrGenesisMismatch, stored.ID(), genesis.ID())
		}
		return false, nil
	}
	if err := c.SaveBlock(ctx, genesis, events, 0, SaveBlockOptions{SkipBroadcast: true, WithinTx: withinTx}); err != nil {
		return false, fmt.Errorf("saving genesis block: %w", err)
	}
	return true, nil
}

/*
SaveBlock appends the block to the chain. The block must extend the tip
(except the genesis block of an empty chain) and finalizedHeight must not
be lower than the current finalized height.
*/
func (c *Chain) SaveBlock(ctx context.Context, block *types.Block, events *BlockEvents, finalizedHeight uint64, opts SaveBlockOptions) error {
	if err := block.IsValid(); err != nil {
		return err
	}
	height := block.Height()
	id := block.ID()

	c.mu.RLock()
	last, finalized := c.lastBlock, c.finalized
	c.mu.RUnlock()
	if last == nil {
		if height != 0 {
			return fmt.Errorf("%w: chain is empty, got block %d", ErrInvalidLinkage, height)
		}
	} else if height != last.Height()+1 || !bytes.Equal(block.Header.PreviousBlockID, last.ID()) {
		return fmt.Errorf("%w: tip %d (%X), block %d with previous %X", ErrInvalidLinkage, last.Height(), last.ID(), height, block.Header.PreviousBlockID)
	}
	if finalizedHeight < finalized {
		return fmt.Errorf("%w: %d -> %d", ErrFinalityRetreats, finalized, finalizedHeight)
	}
	if finalizedHeight > height {
		return fmt.Errorf("finalized height %d is above block height %d", finalizedHeight, height)
	}
	if events == nil {
		events = &BlockEvents{}
	}

	err := c.update(func(tx keyvaluedb.DBTransaction) error {
		if opts.WithinTx != nil {
			if err := opts.WithinTx(tx); err != nil {
				return err
			}
		}
		if err := tx.Write(blockKey(height), block); err != nil {
			return fmt.Errorf("writing block: %w", err)
		}
		if err := tx.Write(blockIDKey(id), height); err != nil {
			return fmt.Errorf("writing block ID index: %w", err)
		}
		if err := tx.Write(eventsKey(height), events); err != nil {
			return fmt.Errorf("writing block events: %w", err)
		}
		if err := tx.Write(tipKey, height); err != nil {
			return fmt.Errorf("writing tip pointer: %w", err)
		}
		if err := tx.Write(finalizedKey, finalizedHeight); err != nil {
			return fmt.Errorf("writing finalized pointer: %w", err)
		}
		if opts.RemoveFromTempTable {
			if err := tx.Delete(tempKey(height)); err != nil {
				return fmt.Errorf("deleting temp block: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving block %d: %w", height, err)
	}

	c.mu.Lock()
	c.lastBlock = block
	c.finalized = finalizedHeight
	c.mu.Unlock()

	if !opts.SkipBroadcast && c.broadcaster != nil {
		if err := c.broadcaster.BroadcastBlock(ctx, block); err != nil {
			c.log.WarnContext(ctx, "broadcasting block", logger.Height(height), logger.Error(err))
		}
	}
	return nil
}

/*
DeleteLastBlock removes the tip block and returns it. Genesis and finalized
blocks can't be deleted.
*/
func (c *Chain) DeleteLastBlock(ctx context.Context, opts DeleteBlockOptions) (*types.Block, error) {
	c.mu.RLock()
	last, finalized := c.lastBlock, c.finalized
	c.mu.RUnlock()
	if last == nil {
		return nil, ErrNotInitialized
	}
	height := last.Height()
	if height == 0 {
		return nil, ErrGenesisBlock
	}
	if height <= finalized {
		return nil, fmt.Errorf("%w: block %d, finalized height %d", ErrFinalizedBlock, height, finalized)
	}
	if opts.SaveTempBlock {
		if err := c.checkTempTable(height); err != nil {
			return nil, err
		}
	}

	var prev *types.Block
	err := c.update(func(tx keyvaluedb.DBTransaction) error {
		if opts.WithinTx != nil {
			if err := opts.WithinTx(tx); err != nil {
				return err
			}
		}
		var err error
		if prev, err = c.readBlock(tx, height-1); err != nil {
			return fmt.Errorf("reading block %d: %w", height-1, err)
		}
		errs := []error{
			tx.Delete(blockKey(height)),
			tx.Delete(blockIDKey(last.ID())),
			tx.Delete(eventsKey(height)),
			tx.Write(tipKey, height-1),
		}
		if opts.SaveTempBlock {
			errs = append(errs, tx.Write(tempKey(height), last))
		}
		return errors.Join(errs...)
	})
	if err != nil {
		return nil, fmt.Errorf("deleting block %d: %w", height, err)
	}

	c.mu.Lock()
	c.lastBlock = prev
	c.mu.Unlock()
	return last, nil
}

// SetFinalizedHeight moves the finalized pointer up, lower heights are ignored.
func (c *Chain) SetFinalizedHeight(height uint64) error {
	c.mu.RLock()
	last, finalized := c.lastBlock, c.finalized
	c.mu.RUnlock()
	if last == nil {
		return ErrNotInitialized
	}
	if height <= finalized {
		return nil
	}
	if height > last.Height() {
		return fmt.Errorf("finalized height %d is above tip %d", height, last.Height())
	}
	if err := c.update(func(tx keyvaluedb.DBTransaction) error {
		return tx.Write(finalizedKey, height)
	}); err != nil {
		return fmt.Errorf("writing finalized pointer: %w", err)
	}
	c.mu.Lock()
	c.finalized = height
	c.mu.Unlock()
	return nil
}

// LastBlock returns the tip of the chain, nil when the chain is not initialized.
func (c *Chain) LastBlock() *types.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastBlock
}

// Height returns the height of the tip.
func (c *Chain) Height() uint64 {
	return c.LastBlock().Height()
}

func (c *Chain) FinalizedHeight() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.finalized
}

func (c *Chain) GetBlockByHeight(height uint64) (*types.Block, error) {
	return c.readBlock(c.db, height)
}

func (c *Chain) GetBlockByID(id []byte) (*types.Block, error) {
	height, err := c.heightOf(id)
	if err != nil {
		return nil, err
	}
	return c.readBlock(c.db, height)
}

// GetBlocksByHeightBetween returns blocks from..to (inclusive) in ascending order, missing heights are skipped.
func (c *Chain) GetBlocksByHeightBetween(from, to uint64) ([]*types.Block, error) {
	var res []*types.Block
	err := keyvaluedb.IteratePrefix(c.db, []byte{prefixBlock}, func(key []byte, it keyvaluedb.Iterator) (bool, error) {
		h := util.BytesToUint64(key[1:])
		if h < from {
			return true, nil
		}
		if h > to {
			return false, nil
		}
		b := &types.Block{}
		if err := it.Value(b); err != nil {
			return false, fmt.Errorf("decoding block %d: %w", h, err)
		}
		res = append(res, b)
		return true, nil
	})
	return res, err
}

func (c *Chain) GetBlockHeadersByHeightBetween(from, to uint64) ([]*types.BlockHeader, error) {
	blocks, err := c.GetBlocksByHeightBetween(from, to)
	if err != nil {
		return nil, err
	}
	headers := make([]*types.BlockHeader, len(blocks))
	for i, b := range blocks {
		headers[i] = b.Header
	}
	return headers, nil
}

/*
GetHighestCommonBlock returns the header of the highest block of the local
chain with ID in ids, nil when none of the IDs is known.
*/
func (c *Chain) GetHighestCommonBlock(ids [][]byte) (*types.BlockHeader, error) {
	var best *types.Block
	for _, id := range ids {
		b, err := c.GetBlockByID(id)
		if errors.Is(err, ErrBlockNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if best == nil || b.Height() > best.Height() {
			best = b
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.Header, nil
}

// GetEvents returns events and transaction results of the block with given height.
func (c *Chain) GetEvents(height uint64) (*BlockEvents, error) {
	ev := &BlockEvents{}
	found, err := c.db.Read(eventsKey(height), ev)
	if err != nil {
		return nil, fmt.Errorf("reading events of block %d: %w", height, err)
	}
	if !found {
		return nil, fmt.Errorf("events of block %d: %w", height, ErrBlockNotFound)
	}
	return ev, nil
}

// TempBlocks returns the blocks of the temp table in ascending height order.
func (c *Chain) TempBlocks() ([]*types.Block, error) {
	var res []*types.Block
	err := keyvaluedb.IteratePrefix(c.db, []byte{prefixTemp}, func(key []byte, it keyvaluedb.Iterator) (bool, error) {
		b := &types.Block{}
		if err := it.Value(b); err != nil {
			return false, fmt.Errorf("decoding temp block: %w", err)
		}
		res = append(res, b)
		return true, nil
	})
	return res, err
}

// MaxTempBlocks returns the capacity of the temp block table.
func (c *Chain) MaxTempBlocks() uint64 { return c.maxTempBlocks }

// checkTempTable returns ErrTempTableFull when saving temp block of the height would exceed the limit.
func (c *Chain) checkTempTable(height uint64) error {
	var count uint64
	replaced := false
	err := keyvaluedb.IteratePrefix(c.db, []byte{prefixTemp}, func(key []byte, _ keyvaluedb.Iterator) (bool, error) {
		count++
		replaced = replaced || bytes.Equal(key, tempKey(height))
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("counting temp blocks: %w", err)
	}
	if count >= c.maxTempBlocks && !replaced {
		return fmt.Errorf("%w: %d blocks", ErrTempTableFull, count)
	}
	return nil
}

func (c *Chain) ClearTempBlocks() error {
	var keys [][]byte
	err := keyvaluedb.IteratePrefix(c.db, []byte{prefixTemp}, func(key []byte, _ keyvaluedb.Iterator) (bool, error) {
		keys = append(keys, bytes.Clone(key))
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("listing temp blocks: %w", err)
	}
	return c.update(func(tx keyvaluedb.DBTransaction) error {
		for _, k := range keys {
			if err := tx.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Chain) heightOf(id []byte) (uint64, error) {
	var height uint64
	found, err := c.db.Read(blockIDKey(id), &height)
	if err != nil {
		return 0, fmt.Errorf("reading block ID index: %w", err)
	}
	if !found {
		return 0, fmt.Errorf("block %X: %w", id, ErrBlockNotFound)
	}
	return height, nil
}

func (c *Chain) readBlock(r keyvaluedb.Reader, height uint64) (*types.Block, error) {
	b := &types.Block{}
	found, err := r.Read(blockKey(height), b)
	if err != nil {
		return nil, fmt.Errorf("reading block %d: %w", height, err)
	}
	if !found {
		return nil, fmt.Errorf("block %d: %w", height, ErrBlockNotFound)
	}
	return b, nil
}

// update runs f in a database transaction, the transaction is committed when f returns nil.
func (c *Chain) update(f func(tx keyvaluedb.DBTransaction) error) (rErr error) {
	tx, err := c.db.StartTx()
	if err != nil {
		return fmt.Errorf("starting database transaction: %w", err)
	}
	defer func() {
		if rErr != nil {
			if err := tx.Rollback(); err != nil {
				rErr = errors.Join(rErr, fmt.Errorf("rolling back database transaction: %w", err))
			}
		}
	}()
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}
