package statemachine

import (
	"fmt"

	"github.com/alphabill-org/blockengine/state"
	"github.com/alphabill-org/blockengine/types"
)

type (
	GenesisContext struct {
		ChainID []byte
		Block   *types.Block
		State   state.ReadWrite
	}

	// BlockContext is passed to block level hooks. State is the view of the
	// block being executed, it is private to the state machine for the time of
	// the block execution.
	BlockContext struct {
		ChainID []byte
		Header  *types.BlockHeader
		Assets  []*types.Asset
		// all transactions of the block
		Transactions []*types.Transaction
		State        state.ReadWrite
		events       *eventLog
	}

	TransactionContext struct {
		*BlockContext
		Tx    *types.Transaction
		TxID  []byte
		Index int
	}

	eventLog struct {
		height uint64
		events []*types.Event
	}
)

func (gc *GenesisContext) GetAsset(module string) *types.Asset {
	return gc.Block.GetAsset(module)
}

func (bc *BlockContext) GetAsset(module string) *types.Asset {
	for _, a := range bc.Assets {
		if a.Module == module {
			return a
		}
	}
	return nil
}

// EmitEvent adds event of the module to the block result. Data is CBOR encoded.
func (bc *BlockContext) EmitEvent(module, name string, data any, topics ...[]byte) error {
	b, err := types.Cbor.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s event data: %w", name, err)
	}
	bc.events.add(module, name, b, topics)
	return nil
}

// EmitEvent adds event of the module, the transaction ID is the first topic.
func (tc *TransactionContext) EmitEvent(module, name string, data any, topics ...[]byte) error {
	return tc.BlockContext.EmitEvent(module, name, data, append([][]byte{tc.TxID}, topics...)...)
}

func (l *eventLog) add(module, name string, data []byte, topics [][]byte) {
	ids := make([]types.Bytes, len(topics))
	for i, t := range topics {
		ids[i] = t
	}
	l.events = append(l.events, &types.Event{
		Module:   module,
		Name:     name,
		Height:   l.height,
		Index:    uint32(len(l.events)), // #nosec G115 block can't have that many events
		TopicIDs: ids,
		Data:     data,
	})
}

func (l *eventLog) savepoint() int { return len(l.events) }

func (l *eventLog) rollback(sp int) { l.events = l.events[:sp] }
