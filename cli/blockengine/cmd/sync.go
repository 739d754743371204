package cmd

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path/filepath"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"

	"github.com/alphabill-org/blockengine/logger"
	"github.com/alphabill-org/blockengine/network"
	"github.com/alphabill-org/blockengine/node"
	"github.com/alphabill-org/blockengine/synchronizer"
)

type syncConfig struct {
	nodeConfig
	PeerDBs []string

	BatchSize               int
	LookbackWindow          uint64
	FastChainSwitchMaxDelta uint64
	MaxSyncBlocks           uint64
	MaxRetries              int
	RequestsPerSecond       int
}

func newSyncCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &syncConfig{nodeConfig: nodeConfig{Base: baseConfig}}
	var cmd = &cobra.Command{
		Use:   "sync",
		Short: "Synchronizes the local chain with peer chains",
		Long: `Synchronizes the local chain with the chains in peer databases. Peer databases must be ` +
			`created from the same genesis configuration, every peer gets a peer ID derived from its path.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return syncRunFunc(cmd.Context(), config)
		},
	}
	config.addNodeFlags(cmd)
	config.addSyncFlags(cmd)
	return cmd
}

func (c *syncConfig) addSyncFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&c.PeerDBs, "peer-db", nil, "database file of a peer chain")
	cmd.Flags().IntVar(&c.BatchSize, "batch-size", synchronizer.DefaultBatchSize, "number of blocks requested from a peer at once")
	cmd.Flags().Uint64Var(&c.LookbackWindow, "lookback-window", synchronizer.DefaultLookbackWindow, "how many blocks below the local tip the common block is searched")
	cmd.Flags().Uint64Var(&c.FastChainSwitchMaxDelta, "fcs-max-delta", synchronizer.DefaultFastChainSwitchMaxDelta, "maximum fork length resolved with fast chain switching, 0 disables it")
	cmd.Flags().Uint64Var(&c.MaxSyncBlocks, "max-sync-blocks", synchronizer.DefaultMaxSyncBlocks, "maximum number of blocks applied in one block sync attempt")
	cmd.Flags().IntVar(&c.MaxRetries, "max-retries", synchronizer.DefaultMaxRetries, "number of failed attempts before synchronization is given up")
	cmd.Flags().IntVar(&c.RequestsPerSecond, "requests-per-second", synchronizer.DefaultRequestsPerSecond, "block requests per second, 0 means unlimited")
}

func (c *syncConfig) options() []synchronizer.Option {
	return []synchronizer.Option{
		synchronizer.WithBatchSize(c.BatchSize),
		synchronizer.WithLookbackWindow(c.LookbackWindow),
		synchronizer.WithFastChainSwitchMaxDelta(c.FastChainSwitchMaxDelta),
		synchronizer.WithMaxSyncBlocks(c.MaxSyncBlocks),
		synchronizer.WithMaxRetries(c.MaxRetries),
		synchronizer.WithRequestsPerSecond(c.RequestsPerSecond),
	}
}

func syncRunFunc(ctx context.Context, config *syncConfig) (rErr error) {
	nd, closeDB, err := config.openNode(ctx, false)
	if err != nil {
		return err
	}
	defer func() { rErr = errors.Join(rErr, closeDB()) }()

	syncer, closePeers, err := newSynchronizer(ctx, config, nd)
	if err != nil {
		return err
	}
	defer func() { rErr = errors.Join(rErr, closePeers()) }()

	before := nd.Chain().LastBlock()
	if err := syncer.Run(ctx); err != nil {
		return err
	}
	tip := nd.Chain().LastBlock()
	consoleWriter.Println(fmt.Sprintf("Synchronized from height %d to %d, tip %X, finalized height %d",
		before.Height(), tip.Height(), tip.ID(), nd.Chain().FinalizedHeight()))
	return nil
}

/*
newSynchronizer opens the peer databases and connects them to the local
network of the synchronizer. The returned func closes the peer databases.
*/
func newSynchronizer(ctx context.Context, config *syncConfig, nd *node.Node) (*synchronizer.Synchronizer, func() error, error) {
	obs := config.Base.observe
	log := obs.Logger()
	net := network.NewLocalNetwork(obs)

	var closers []func() error
	closeAll := func() error {
		var errs []error
		for _, f := range closers {
			errs = append(errs, f())
		}
		return errors.Join(errs...)
	}

	local, err := filepath.Abs(config.dbFile())
	if err != nil {
		return nil, nil, err
	}
	for _, dbFile := range config.PeerDBs {
		if abs, err := filepath.Abs(dbFile); err == nil && abs == local {
			return nil, nil, errors.Join(fmt.Errorf("peer database %s is the local database", dbFile), closeAll())
		}
		peerNode, closeDB, err := openNode(ctx, obs, nd.GenesisConfig(), dbFile, true)
		if err != nil {
			return nil, nil, errors.Join(fmt.Errorf("opening peer database %s: %w", dbFile, err), closeAll())
		}
		closers = append(closers, closeDB)
		if !bytes.Equal(peerNode.Genesis().ID(), nd.Genesis().ID()) {
			return nil, nil, errors.Join(fmt.Errorf("peer database %s has different genesis", dbFile), closeAll())
		}
		id, err := peerIDFromPath(dbFile)
		if err != nil {
			return nil, nil, errors.Join(err, closeAll())
		}
		net.AddPeer(id, peerNode.Chain(), 0)
		log.DebugContext(ctx, fmt.Sprintf("peer %s at height %d", dbFile, peerNode.Chain().Height()), logger.PeerID(id))
	}

	syncer, err := synchronizer.New(nd.Consensus(), net, obs, config.options()...)
	if err != nil {
		return nil, nil, errors.Join(err, closeAll())
	}
	return syncer, closeAll, nil
}

// peerIDFromPath derives stable peer ID from the database path.
func peerIDFromPath(dbFile string) (peer.ID, error) {
	abs, err := filepath.Abs(dbFile)
	if err != nil {
		return "", err
	}
	seed := sha256.Sum256([]byte(abs))
	key, _, err := p2pcrypto.GenerateEd25519Key(bytes.NewReader(seed[:]))
	if err != nil {
		return "", fmt.Errorf("generating peer key: %w", err)
	}
	return peer.IDFromPrivateKey(key)
}
