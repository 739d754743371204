package txbuffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/alphabill-org/blockengine/logger"
	"github.com/alphabill-org/blockengine/observability"
	"github.com/alphabill-org/blockengine/types"
	"github.com/alphabill-org/blockengine/validation"
)

var (
	ErrTxIsNil      = errors.New("tx is nil")
	ErrTxInBuffer   = errors.New("tx already in tx buffer")
	ErrTxBufferFull = errors.New("tx buffer is full")
	ErrInvalidTx    = errors.New("invalid transaction")
)

type (
	// TxBuffer is the in-memory queue of unconfirmed transactions waiting to be
	// included into a block. Only the structure and the signature of the
	// transaction are checked on intake, the state dependent checks are done
	// when the transaction is executed.
	TxBuffer struct {
		mutex          sync.Mutex
		transactions   map[string]time.Time // index of pending transactions, ID->added_ts
		transactionsCh chan *types.Transaction
		chainID        []byte
		limits         validation.Limits
		log            *slog.Logger
		tracer         trace.Tracer

		mDur metric.Float64Histogram
	}

	Observability interface {
		Meter(name string, opts ...metric.MeterOption) metric.Meter
		Tracer(name string, options ...trace.TracerOption) trace.Tracer
		Logger() *slog.Logger
	}
)

/*
New creates a new instance of the TxBuffer.
MaxSize specifies the total number of transactions the TxBuffer may contain.
*/
func New(maxSize uint, chainID []byte, limits validation.Limits, obs Observability) (*TxBuffer, error) {
	if maxSize < 1 {
		return nil, fmt.Errorf("buffer max size must be greater than zero, got %d", maxSize)
	}
	if len(chainID) == 0 {
		return nil, errors.New("chain ID is empty")
	}

	buf := &TxBuffer{
		transactions:   make(map[string]time.Time),
		transactionsCh: make(chan *types.Transaction, maxSize),
		chainID:        chainID,
		limits:         limits,
		log:            obs.Logger(),
		tracer:         obs.Tracer("txbuffer"),
	}
	if err := buf.initMetrics(obs); err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}
	return buf, nil
}

/*
Add adds the given transaction into the transaction buffer and returns its ID.
Returns an error if the transaction is nil or invalid, is already present in
the TxBuffer, or TxBuffer is full.
*/
func (buf *TxBuffer) Add(ctx context.Context, tx *types.Transaction) ([]byte, error) {
	ctx, span := buf.tracer.Start(ctx, "TxBuffer.Add")
	defer span.End()
	if tx == nil {
		return nil, ErrTxIsNil
	}
	if err := buf.limits.ValidateTransactionSchema(tx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTx, err)
	}
	if err := validation.VerifySignature(buf.chainID, tx, tx.SenderPublicKey); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTx, err)
	}

	txID := tx.ID()
	buf.log.DebugContext(ctx, fmt.Sprintf("received transaction %s", tx.FullCommand()), logger.TxID(txID))
	span.SetAttributes(observability.Module(tx.Module), attribute.String("tx.command", tx.Command))

	buf.mutex.Lock()
	defer buf.mutex.Unlock()

	if _, found := buf.transactions[string(txID)]; found {
		return nil, ErrTxInBuffer
	}

	select {
	case buf.transactionsCh <- tx:
		buf.transactions[string(txID)] = time.Now()
	default:
		return nil, ErrTxBufferFull
	}
	return txID, nil
}

// Remove blocks until there is a transaction in the buffer or ctx is cancelled.
func (buf *TxBuffer) Remove(ctx context.Context) (*types.Transaction, error) {
	_, span := buf.tracer.Start(ctx, "TxBuffer.Remove")
	defer span.End()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case tx := <-buf.transactionsCh:
		buf.removeFromIndex(ctx, string(tx.ID()))
		return tx, nil
	}
}

/*
Collect returns up to maxCount transactions in the order they were added,
it doesn't wait for new transactions.
*/
func (buf *TxBuffer) Collect(ctx context.Context, maxCount int) []*types.Transaction {
	var txs []*types.Transaction
	for len(txs) < maxCount {
		select {
		case tx := <-buf.transactionsCh:
			buf.removeFromIndex(ctx, string(tx.ID()))
			txs = append(txs, tx)
		default:
			return txs
		}
	}
	return txs
}

// Len returns the number of transactions in the buffer.
func (buf *TxBuffer) Len() int {
	return len(buf.transactionsCh)
}

/*
removeFromIndex deletes the transaction with given id from the index.
*/
func (buf *TxBuffer) removeFromIndex(ctx context.Context, id string) {
	buf.mutex.Lock()
	defer buf.mutex.Unlock()

	if added, found := buf.transactions[id]; found {
		buf.mDur.Record(ctx, time.Since(added).Seconds())
		delete(buf.transactions, id)
	}
}

func (buf *TxBuffer) initMetrics(obs Observability) (err error) {
	m := obs.Meter("txbuffer")

	if _, err = m.Int64ObservableUpDownCounter(
		"count",
		metric.WithDescription(`Number of transactions in the buffer.`),
		metric.WithUnit("{transaction}"),
		metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
			io.Observe(int64(len(buf.transactionsCh)))
			return nil
		}),
	); err != nil {
		return fmt.Errorf("creating tx counter: %w", err)
	}

	if buf.mDur, err = m.Float64Histogram(
		"queued",
		metric.WithDescription("For how long transaction was in the buffer before being processed."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(50e-6, 100e-6, 250e-6, 500e-6, 0.001, 0.01, 0.1, 0.2, 0.4, 0.8, 1.5, 3),
	); err != nil {
		return fmt.Errorf("creating duration histogram: %w", err)
	}
	return nil
}
