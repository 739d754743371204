package cmd

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/alphabill-org/blockengine/bft"
	"github.com/alphabill-org/blockengine/crypto"
	"github.com/alphabill-org/blockengine/keyvaluedb/memorydb"
	"github.com/alphabill-org/blockengine/modules/token"
	"github.com/alphabill-org/blockengine/node"
)

const defaultValidatorWeight = 10

type genesisConfig struct {
	Base *baseConfiguration

	Output               string
	Force                bool
	ChainID              string
	Timestamp            uint64
	BlockTime            uint64
	BlocksPerRound       uint64
	MinFee               uint64
	CertificateThreshold uint64
	Weight               uint64
	KeyFiles             []string
	Accounts             []string
}

func newGenesisCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &genesisConfig{Base: baseConfig}
	var cmd = &cobra.Command{
		Use:   "genesis",
		Short: "Creates the genesis configuration of a new chain",
		Long: `Creates the genesis configuration of a new chain. Every keys file adds a generator eligible validator, ` +
			`accounts are given as "address:balance" pairs. Prints the ID of the genesis block.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return genesisRunFunc(cmd.Context(), config)
		},
	}
	cmd.Flags().StringVarP(&config.Output, "output", "o", "", fmt.Sprintf("path to the genesis configuration file to create (default: $BE_HOME/%s)", defaultGenesisConfigFile))
	cmd.Flags().BoolVarP(&config.Force, "force", "f", false, "overwrite existing genesis configuration")
	cmd.Flags().StringVar(&config.ChainID, "chain-id", "", "chain identifier, hex encoded")
	cmd.Flags().Uint64Var(&config.Timestamp, "timestamp", 0, "genesis timestamp in unix seconds (default: current time)")
	cmd.Flags().Uint64Var(&config.BlockTime, "block-time", 0, "slot length in seconds (default: 10)")
	cmd.Flags().Uint64Var(&config.BlocksPerRound, "blocks-per-round", 0, "generator rotation round length (default: 103)")
	cmd.Flags().Uint64Var(&config.MinFee, "min-fee", 0, "minimum transaction fee")
	cmd.Flags().Uint64Var(&config.CertificateThreshold, "certificate-threshold", 0, "BFT weight of an aggregate commit (default: 2/3 of the total weight + 1)")
	cmd.Flags().Uint64Var(&config.Weight, "weight", defaultValidatorWeight, "BFT weight of every validator")
	cmd.Flags().StringSliceVarP(&config.KeyFiles, keyFileCmdFlag, "k", nil, fmt.Sprintf("validator keys files (default: $BE_HOME/%s)", defaultKeysFileName))
	cmd.Flags().StringSliceVar(&config.Accounts, "account", nil, `initial account balance as "address:balance"`)
	if err := cmd.MarkFlagRequired("chain-id"); err != nil {
		panic(err)
	}
	return cmd
}

func genesisRunFunc(ctx context.Context, config *genesisConfig) error {
	output := config.Base.pathInHome(config.Output, defaultGenesisConfigFile)
	if _, err := os.Stat(output); err == nil && !config.Force {
		return fmt.Errorf("genesis configuration %s exists", output)
	}
	gc, err := config.genesisConfig()
	if err != nil {
		return err
	}
	if err := gc.IsValid(); err != nil {
		return fmt.Errorf("invalid genesis configuration: %w", err)
	}

	// the genesis block is created on throwaway database to print its ID
	db, err := memorydb.New()
	if err != nil {
		return err
	}
	nd, err := node.New(ctx, db, gc, config.Base.observe)
	if err != nil {
		return fmt.Errorf("creating genesis block: %w", err)
	}
	if err := gc.Save(output); err != nil {
		return fmt.Errorf("saving genesis configuration: %w", err)
	}
	consoleWriter.Println(fmt.Sprintf("Genesis block %X saved to %s", nd.Genesis().ID(), output))
	return nil
}

func (config *genesisConfig) genesisConfig() (*node.GenesisConfig, error) {
	chainID, err := hexutil.Decode(config.ChainID)
	if err != nil {
		return nil, fmt.Errorf("invalid chain ID %q: %w", config.ChainID, err)
	}
	gc := &node.GenesisConfig{
		ChainID:              chainID,
		Timestamp:            config.Timestamp,
		BlockTime:            config.BlockTime,
		BlocksPerRound:       config.BlocksPerRound,
		MinFee:               config.MinFee,
		CertificateThreshold: config.CertificateThreshold,
		InitRoundSeed:        make([]byte, 32),
	}
	if gc.Timestamp == 0 {
		gc.Timestamp = uint64(time.Now().Unix())
	}
	if _, err := rand.Read(gc.InitRoundSeed); err != nil {
		return nil, fmt.Errorf("generating round seed: %w", err)
	}

	keyFiles := config.KeyFiles
	if len(keyFiles) == 0 {
		keyFiles = []string{config.Base.pathInHome("", defaultKeysFileName)}
	}
	keys, err := loadKeyFiles(keyFiles)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		pubKey, err := k.GeneratorKey()
		if err != nil {
			return nil, err
		}
		gc.Validators = append(gc.Validators, &bft.Validator{
			Address:           crypto.AddressFromPublicKey(pubKey),
			GeneratorKey:      pubKey,
			BFTWeight:         config.Weight,
			GeneratorEligible: true,
		})
	}
	if gc.CertificateThreshold == 0 {
		total, err := gc.Params().TotalWeight()
		if err != nil {
			return nil, err
		}
		gc.CertificateThreshold = total*2/3 + 1
	}

	for _, a := range config.Accounts {
		acc, err := parseAccount(a)
		if err != nil {
			return nil, err
		}
		gc.Accounts = append(gc.Accounts, acc)
	}
	return gc, nil
}

func parseAccount(s string) (*token.GenesisAccount, error) {
	addr, balance, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("invalid account %q, expected address:balance", s)
	}
	address, err := hexutil.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid account address %q: %w", addr, err)
	}
	amount, err := strconv.ParseUint(balance, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid account balance %q: %w", balance, err)
	}
	return &token.GenesisAccount{Address: address, Balance: amount}, nil
}
