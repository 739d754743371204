package txbuffer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/blockengine/internal/testutils/observability"
	testsig "github.com/alphabill-org/blockengine/internal/testutils/sig"
	testtransaction "github.com/alphabill-org/blockengine/internal/testutils/transaction"
	"github.com/alphabill-org/blockengine/validation"
)

const testBufferSize = 10

var testChainID = []byte{0, 0, 0, 1}

func newTestBuffer(t *testing.T, size uint) *TxBuffer {
	t.Helper()
	buffer, err := New(size, testChainID, validation.DefaultLimits(), observability.Default(t))
	require.NoError(t, err)
	return buffer
}

func Test_TxBuffer_New(t *testing.T) {
	obs := observability.NOPObservability()

	t.Run("invalid buffer size", func(t *testing.T) {
		buffer, err := New(0, testChainID, validation.DefaultLimits(), obs)
		require.EqualError(t, err, `buffer max size must be greater than zero, got 0`)
		require.Nil(t, buffer)
	})

	t.Run("chain ID missing", func(t *testing.T) {
		buffer, err := New(testBufferSize, nil, validation.DefaultLimits(), obs)
		require.EqualError(t, err, `chain ID is empty`)
		require.Nil(t, buffer)
	})

	t.Run("success", func(t *testing.T) {
		buffer, err := New(testBufferSize, testChainID, validation.DefaultLimits(), obs)
		require.NoError(t, err)
		require.NotNil(t, buffer)
		require.EqualValues(t, testBufferSize, cap(buffer.transactionsCh))
		require.NotNil(t, buffer.transactions)
		require.NotNil(t, buffer.log)
		require.NotNil(t, buffer.mDur)
		require.Zero(t, buffer.Len())
	})
}

func Test_TxBuffer_Add(t *testing.T) {
	key := testsig.NewKey(t)

	t.Run("nil tx", func(t *testing.T) {
		buffer := newTestBuffer(t, testBufferSize)
		txID, err := buffer.Add(context.Background(), nil)
		require.ErrorIs(t, err, ErrTxIsNil)
		require.Nil(t, txID)
	})

	t.Run("invalid schema", func(t *testing.T) {
		buffer := newTestBuffer(t, testBufferSize)
		tx := testtransaction.New(t, testChainID, key, testtransaction.WithCommand("token", "trans-fer"))
		txID, err := buffer.Add(context.Background(), tx)
		require.ErrorIs(t, err, ErrInvalidTx)
		require.Nil(t, txID)
		require.Zero(t, buffer.Len())
	})

	t.Run("signed for another chain", func(t *testing.T) {
		buffer := newTestBuffer(t, testBufferSize)
		tx := testtransaction.New(t, []byte{9, 9, 9, 9}, key)
		_, err := buffer.Add(context.Background(), tx)
		require.ErrorIs(t, err, ErrInvalidTx)
		var sigErr *validation.SignatureError
		require.ErrorAs(t, err, &sigErr)
		require.Zero(t, buffer.Len())
	})

	t.Run("tx already in buffer", func(t *testing.T) {
		buffer := newTestBuffer(t, testBufferSize)
		tx := testtransaction.New(t, testChainID, key)
		txID, err := buffer.Add(context.Background(), tx)
		require.NoError(t, err)
		require.EqualValues(t, tx.ID(), txID)

		txID, err = buffer.Add(context.Background(), tx)
		require.ErrorIs(t, err, ErrTxInBuffer)
		require.Nil(t, txID)
		require.Equal(t, 1, buffer.Len())
	})

	t.Run("buffer full", func(t *testing.T) {
		buffer := newTestBuffer(t, testBufferSize)
		for i := range testBufferSize {
			_, err := buffer.Add(context.Background(), testtransaction.New(t, testChainID, key, testtransaction.WithNonce(uint64(i))))
			require.NoError(t, err)
		}
		txID, err := buffer.Add(context.Background(), testtransaction.New(t, testChainID, key, testtransaction.WithNonce(testBufferSize)))
		require.ErrorIs(t, err, ErrTxBufferFull)
		require.Nil(t, txID)
		require.Len(t, buffer.transactions, testBufferSize)
	})
}

func Test_TxBuffer_Collect(t *testing.T) {
	key := testsig.NewKey(t)
	buffer := newTestBuffer(t, testBufferSize)
	require.Empty(t, buffer.Collect(context.Background(), 5))

	for i := range 4 {
		_, err := buffer.Add(context.Background(), testtransaction.New(t, testChainID, key, testtransaction.WithNonce(uint64(i))))
		require.NoError(t, err)
	}

	txs := buffer.Collect(context.Background(), 3)
	require.Len(t, txs, 3)
	for i, tx := range txs {
		require.EqualValues(t, i, tx.Nonce)
	}
	require.Equal(t, 1, buffer.Len())
	require.Len(t, buffer.transactions, 1)

	txs = buffer.Collect(context.Background(), 3)
	require.Len(t, txs, 1)
	require.EqualValues(t, 3, txs[0].Nonce)
	require.Empty(t, buffer.transactions)

	// collected transaction may be added again
	_, err := buffer.Add(context.Background(), txs[0])
	require.NoError(t, err)
}

func Test_TxBuffer_Remove(t *testing.T) {
	key := testsig.NewKey(t)
	buffer := newTestBuffer(t, testBufferSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := range 3 {
		_, err := buffer.Add(ctx, testtransaction.New(t, testChainID, key, testtransaction.WithNonce(uint64(i))))
		require.NoError(t, err)
	}
	require.Len(t, buffer.transactions, 3)

	var c uint32
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, err := buffer.Remove(ctx)
			if err != nil {
				return
			}

			atomic.AddUint32(&c, 1)
		}
	}()

	require.Eventually(t, func() bool { return atomic.LoadUint32(&c) == 3 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-time.After(time.Second):
		t.Fatal("buffer processor haven't shut down within timeout")
	case <-done:
		require.Empty(t, buffer.transactions)
		require.Empty(t, buffer.transactionsCh)
	}
}

func Test_TxBuffer_concurrency(t *testing.T) {
	const totalTxCnt = 20 // how many transactions to process

	key := testsig.NewKey(t)
	buffer := newTestBuffer(t, 10)
	txs := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// add "totalTxCnt" transactions into buffer (do not fail the test on "buffer full" error)
	go func() {
		defer close(txs)
		for cnt := 0; cnt < totalTxCnt; {
			tx := testtransaction.New(t, testChainID, key, testtransaction.WithNonce(uint64(cnt)))
			if _, err := buffer.Add(ctx, tx); err != nil {
				if !errors.Is(err, ErrTxBufferFull) {
					txs <- err
					return
				}
				continue
			}
			cnt++
		}
	}()

	// consume transactions from the buffer
	done := make(chan struct{})
	var processedCnt atomic.Int32
	go func() {
		defer close(done)
		for {
			_, err := buffer.Remove(ctx)
			if err != nil {
				return
			}
			processedCnt.Add(1)
		}
	}()

	require.Eventually(t, func() bool { return processedCnt.Load() == totalTxCnt }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, <-txs)
	cancel()
	<-done
	require.Empty(t, buffer.transactions)
}
