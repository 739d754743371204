package node

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/alphabill-org/blockengine/bft"
	"github.com/alphabill-org/blockengine/crypto"
	"github.com/alphabill-org/blockengine/modules/fee"
	"github.com/alphabill-org/blockengine/modules/token"
	"github.com/alphabill-org/blockengine/types"
)

/*
GenesisConfig describes the chain: the chain constants every node must
agree on and the initial state of the genesis block.
*/
type GenesisConfig struct {
	ChainID   types.Bytes `yaml:"chainId"`
	Timestamp uint64      `yaml:"timestamp"`
	// slot length in seconds
	BlockTime       uint64 `yaml:"blockTime,omitempty"`
	BlocksPerRound  uint64 `yaml:"blocksPerRound,omitempty"`
	MaxHeaderWindow int    `yaml:"maxHeaderWindow,omitempty"`
	MinFee          uint64 `yaml:"minFee,omitempty"`

	CertificateThreshold uint64                  `yaml:"certificateThreshold,omitempty"`
	InitRoundSeed        types.Bytes             `yaml:"initRoundSeed,omitempty"`
	Validators           []*bft.Validator        `yaml:"validators"`
	Accounts             []*token.GenesisAccount `yaml:"accounts,omitempty"`
}

func LoadGenesisConfig(filename string) (*GenesisConfig, error) {
	f, err := os.Open(filepath.Clean(filename))
	if err != nil {
		return nil, fmt.Errorf("opening genesis configuration: %w", err)
	}
	defer f.Close()

	gc := &GenesisConfig{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(gc); err != nil {
		return nil, fmt.Errorf("decoding genesis configuration %s: %w", filename, err)
	}
	if err := gc.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid genesis configuration: %w", err)
	}
	return gc, nil
}

func (gc *GenesisConfig) Save(filename string) error {
	data, err := yaml.Marshal(gc)
	if err != nil {
		return fmt.Errorf("encoding genesis configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return fmt.Errorf("creating directory for genesis configuration: %w", err)
	}
	return os.WriteFile(filename, data, 0600)
}

func (gc *GenesisConfig) IsValid() error {
	if gc == nil {
		return errors.New("genesis configuration is nil")
	}
	var errs []error
	if len(gc.ChainID) == 0 {
		errs = append(errs, errors.New("chain ID is empty"))
	}
	if gc.Timestamp == 0 {
		errs = append(errs, errors.New("genesis timestamp is zero"))
	}
	if _, err := gc.BFTConfig(); err != nil {
		errs = append(errs, err)
	}
	if err := gc.Params().IsValid(); err != nil {
		errs = append(errs, fmt.Errorf("validators: %w", err))
	}
	for i, acc := range gc.Accounts {
		if acc == nil || len(acc.Address) != crypto.AddressSize {
			errs = append(errs, fmt.Errorf("account %d: invalid address", i))
		}
	}
	return errors.Join(errs...)
}

// BFTConfig returns the rotation and finality constants, zero values mean defaults.
func (gc *GenesisConfig) BFTConfig() (*bft.Config, error) {
	var opts []bft.Option
	if gc.BlockTime != 0 {
		opts = append(opts, bft.WithBlockTime(gc.BlockTime))
	}
	if gc.BlocksPerRound != 0 {
		opts = append(opts, bft.WithBlocksPerRound(gc.BlocksPerRound))
	}
	if gc.MaxHeaderWindow != 0 {
		opts = append(opts, bft.WithMaxHeaderWindow(gc.MaxHeaderWindow))
	}
	return bft.NewConfig(opts...)
}

// Params returns the genesis validator set.
func (gc *GenesisConfig) Params() *bft.Params {
	return &bft.Params{
		FromHeight:           1,
		Validators:           gc.Validators,
		CertificateThreshold: gc.CertificateThreshold,
		InitRoundSeed:        gc.InitRoundSeed,
	}
}

func (gc *GenesisConfig) feeOptions() []fee.Option {
	if gc.MinFee == 0 {
		return nil
	}
	return []fee.Option{fee.WithMinFee(gc.MinFee)}
}

// Assets returns the module assets of the genesis block.
func (gc *GenesisConfig) Assets() ([]*types.Asset, error) {
	bftData, err := types.Cbor.Marshal(&bft.GenesisAsset{Params: gc.Params()})
	if err != nil {
		return nil, fmt.Errorf("encoding bft genesis asset: %w", err)
	}
	assets := []*types.Asset{{Module: bft.ModuleName, Data: bftData}}
	if len(gc.Accounts) > 0 {
		tokenData, err := types.Cbor.Marshal(&token.GenesisAsset{Accounts: gc.Accounts})
		if err != nil {
			return nil, fmt.Errorf("encoding token genesis asset: %w", err)
		}
		assets = append(assets, &types.Asset{Module: token.ModuleName, Data: tokenData})
	}
	return assets, nil
}
