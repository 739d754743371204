package bft

import (
	"context"
	"errors"
	"fmt"

	"github.com/alphabill-org/blockengine/state"
	"github.com/alphabill-org/blockengine/statemachine"
	"github.com/alphabill-org/blockengine/types"
	"github.com/alphabill-org/blockengine/util"
)

const ModuleName = "bft"

var windowKey = []byte("window")
var genesisKey = []byte("genesis")

type (
	// GenesisAsset is the data of the bft asset of the genesis block.
	GenesisAsset struct {
		_      struct{} `cbor:",toarray"`
		Params *Params  `json:"params" yaml:"params"`
	}

	genesisInfo struct {
		_         struct{} `cbor:",toarray"`
		Timestamp uint64
	}

	// Module keeps the validator parameters and the header window in the
	// state so that they move together with the chain when blocks are
	// executed and reverted.
	Module struct {
		statemachine.BaseModule
		cfg     *Config
		params  state.Store[Params]
		window  state.Store[Window]
		genesis state.Store[genesisInfo]
	}
)

func NewModule(cfg *Config) *Module {
	return &Module{
		cfg:     cfg,
		params:  state.NewStore[Params](ModuleName, 0),
		window:  state.NewStore[Window](ModuleName, 1),
		genesis: state.NewStore[genesisInfo](ModuleName, 2),
	}
}

func (m *Module) Name() string { return ModuleName }

func (m *Module) InitGenesisState(ctx context.Context, gc *statemachine.GenesisContext) error {
	asset := gc.GetAsset(ModuleName)
	if asset == nil {
		return errors.New("genesis block has no bft asset")
	}
	ga := &GenesisAsset{}
	if err := types.Cbor.Unmarshal(asset.Data, ga); err != nil {
		return fmt.Errorf("decoding bft genesis asset: %w", err)
	}
	if err := ga.Params.IsValid(); err != nil {
		return fmt.Errorf("invalid genesis validator params: %w", err)
	}
	if ga.Params.FromHeight > 1 {
		return fmt.Errorf("genesis validator params must be in effect from height 1, got %d", ga.Params.FromHeight)
	}
	if err := m.SetParams(gc.State, ga.Params); err != nil {
		return err
	}
	if err := m.genesis.Set(gc.State, genesisKey, &genesisInfo{Timestamp: gc.Block.Header.Timestamp}); err != nil {
		return err
	}
	return m.window.Set(gc.State, windowKey, &Window{})
}

func (m *Module) VerifyAssets(ctx context.Context, bc *statemachine.BlockContext) error {
	if bc.GetAsset(ModuleName) != nil {
		return errors.New("bft asset is only allowed in the genesis block")
	}
	return nil
}

func (m *Module) BeforeTransactionsExecute(ctx context.Context, bc *statemachine.BlockContext) error {
	w, err := m.Window(bc.State)
	if err != nil {
		return err
	}
	if err := w.Add(bc.Header.Height, bc.Header.GeneratorAddress, m.cfg.MaxHeaderWindow); err != nil {
		return err
	}
	return m.window.Set(bc.State, windowKey, w)
}

// SetParams stores validator params which are in effect starting from params.FromHeight.
func (m *Module) SetParams(w state.ReadWrite, params *Params) error {
	return m.params.Set(w, util.Uint64ToBytes(params.FromHeight), params)
}

// ParamsAt returns the validator params in effect at the height.
func (m *Module) ParamsAt(r state.ReadOnly, height uint64) (*Params, error) {
	var res *Params
	err := m.params.Iterate(r, func(key []byte, p *Params) (bool, error) {
		if util.BytesToUint64(key) > height {
			return false, nil
		}
		res = p
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading validator params: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("no validator params for height %d", height)
	}
	return res, nil
}

func (m *Module) Window(r state.ReadOnly) (*Window, error) {
	w, err := m.window.GetOrDefault(r, windowKey, &Window{})
	if err != nil {
		return nil, fmt.Errorf("reading header window: %w", err)
	}
	return w, nil
}

// Config returns chain constants with genesis timestamp loaded from the state.
func (m *Module) Config(r state.ReadOnly) (*Config, error) {
	g, err := m.genesis.Get(r, genesisKey)
	if err != nil {
		return nil, fmt.Errorf("reading genesis info: %w", err)
	}
	c := *m.cfg
	c.GenesisTimestamp = g.Timestamp
	return &c, nil
}

// GeneratorForSlot returns the validator expected to generate block of the height at the timestamp.
func (m *Module) GeneratorForSlot(r state.ReadOnly, height, timestamp uint64) (*Validator, error) {
	cfg, err := m.Config(r)
	if err != nil {
		return nil, err
	}
	params, err := m.ParamsAt(r, height)
	if err != nil {
		return nil, err
	}
	return GeneratorForSlot(cfg, params, height, timestamp)
}

// IsFinalityCandidate checks the finality rule for the height against the header window in the state.
func (m *Module) IsFinalityCandidate(r state.ReadOnly, height uint64) (bool, error) {
	params, err := m.ParamsAt(r, height)
	if err != nil {
		return false, err
	}
	w, err := m.Window(r)
	if err != nil {
		return false, err
	}
	return IsFinalityCandidate(params, w, height)
}

// ValidatorsHash returns the hash of the validator params in effect at the height.
func (m *Module) ValidatorsHash(r state.ReadOnly, height uint64) ([]byte, error) {
	params, err := m.ParamsAt(r, height)
	if err != nil {
		return nil, err
	}
	return ValidatorsHash(params)
}
