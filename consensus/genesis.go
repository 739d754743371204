package consensus

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/alphabill-org/blockengine/bft"
	"github.com/alphabill-org/blockengine/crypto"
	"github.com/alphabill-org/blockengine/keyvaluedb/memorydb"
	"github.com/alphabill-org/blockengine/statemachine"
	"github.com/alphabill-org/blockengine/types"
	"github.com/alphabill-org/blockengine/validation"
)

/*
NewGenesisBlock builds the genesis block with given assets. The genesis
state is created in memory to fill in the state root and the validators
hash of the header.
*/
func NewGenesisBlock(ctx context.Context, sm *statemachine.StateMachine, bftModule *bft.Module, timestamp uint64, assets []*types.Asset) (*types.Block, error) {
	assets = slices.Clone(assets)
	slices.SortFunc(assets, func(a, b *types.Asset) int { return strings.Compare(a.Module, b.Module) })
	block := &types.Block{
		Header: &types.BlockHeader{
			Version:         validation.BlockVersion,
			Timestamp:       timestamp,
			PreviousBlockID: make([]byte, crypto.HashSize),
		},
		Assets: assets,
	}
	db, err := memorydb.New()
	if err != nil {
		return nil, err
	}
	view, res, err := sm.InitGenesisState(ctx, block, db)
	if err != nil {
		return nil, err
	}
	defer view.Discard()
	validatorsHash, err := bftModule.ValidatorsHash(view, 1)
	if err != nil {
		return nil, fmt.Errorf("genesis validators hash: %w", err)
	}
	block.Header.StateRoot = res.StateRoot
	block.Header.ValidatorsHash = validatorsHash
	block.Header.TransactionRoot = block.CalculateTransactionRoot()
	block.Header.AssetsRoot = block.CalculateAssetsRoot()
	return block, nil
}
