package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alphabill-org/blockengine/logger"
	"github.com/alphabill-org/blockengine/node"
	"github.com/alphabill-org/blockengine/rpc"
	"github.com/alphabill-org/blockengine/synchronizer"
	"github.com/alphabill-org/blockengine/txbuffer"
)

type serveConfig struct {
	syncConfig
	Address      string
	MaxBodySize  int64
	SyncInterval time.Duration
	TxBufferSize uint
	KeyFile      string
	Generate     bool

	// called with the address the server listens on
	onListen func(addr net.Addr)
}

func newServeCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &serveConfig{syncConfig: syncConfig{nodeConfig: nodeConfig{Base: baseConfig}}}
	var cmd = &cobra.Command{
		Use:   "serve",
		Short: "Serves the local chain over the REST API",
		Long: `Serves the local chain over the REST API, the metrics are served on the /metrics path when ` +
			`the prometheus exporter is enabled. With peer databases the chain is synchronized periodically. ` +
			`With --generate the node produces blocks in the slots of its validator key from the submitted transactions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRunFunc(cmd.Context(), config)
		},
	}
	config.addNodeFlags(cmd)
	config.addSyncFlags(cmd)
	cmd.Flags().StringVar(&config.Address, "address", "localhost:8080", "address the REST API listens on")
	cmd.Flags().Int64Var(&config.MaxBodySize, "max-body-size", rpc.DefaultMaxBodySize, "maximum size of the request body")
	cmd.Flags().DurationVar(&config.SyncInterval, "sync-interval", 10*time.Second, "how often the chain is synchronized with the peer databases")
	cmd.Flags().UintVar(&config.TxBufferSize, "tx-buffer-size", 1000, "maximum number of submitted transactions waiting for a block, 0 disables the transaction endpoint")
	cmd.Flags().BoolVar(&config.Generate, "generate", false, "generate blocks in the slots of the validator key")
	cmd.Flags().StringVarP(&config.KeyFile, keyFileCmdFlag, "k", "", fmt.Sprintf("path to the keys file used with --generate (default: $BE_HOME/%s)", defaultKeysFileName))
	return cmd
}

func serveRunFunc(ctx context.Context, config *serveConfig) (rErr error) {
	obs := config.Base.observe
	log := obs.Logger()

	nd, closeDB, err := config.openNode(ctx, false)
	if err != nil {
		return err
	}
	defer func() { rErr = errors.Join(rErr, closeDB()) }()

	var syncer *synchronizer.Synchronizer
	if len(config.PeerDBs) > 0 {
		if config.SyncInterval <= 0 {
			return fmt.Errorf("invalid sync interval %s", config.SyncInterval)
		}
		s, closePeers, err := newSynchronizer(ctx, &config.syncConfig, nd)
		if err != nil {
			return err
		}
		defer func() { rErr = errors.Join(rErr, closePeers()) }()
		syncer = s
	}

	registrars := []rpc.Registrar{rpc.ChainEndpoints(nd, log)}
	var txs *txbuffer.TxBuffer
	if config.TxBufferSize > 0 {
		if txs, err = txbuffer.New(config.TxBufferSize, nd.GenesisConfig().ChainID, nd.Consensus().Limits(), obs); err != nil {
			return fmt.Errorf("creating transaction buffer: %w", err)
		}
		registrars = append(registrars, rpc.TxEndpoints(txs, log))
	}

	var generator *blockGenerator
	if config.Generate {
		keys, err := LoadKeys(config.Base.pathInHome(config.KeyFile, defaultKeysFileName), false, false)
		if err != nil {
			return fmt.Errorf("loading keys: %w", err)
		}
		if generator, err = newBlockGenerator(nd, keys.SigningPrivateKey, txs, log); err != nil {
			return err
		}
		if syncer != nil {
			generator.exclusive = syncer.Exclusive
		}
	}

	srv := rpc.NewRESTServer(config.Address, config.MaxBodySize, obs, obs.MetricsHandler(), registrars...)
	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("starting REST API listener: %w", err)
	}
	if config.onListen != nil {
		config.onListen(listener.Addr())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(ctx, fmt.Sprintf("REST API listening on %s", listener.Addr()))
		if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("REST API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sdCtx)
	})
	if syncer != nil {
		g.Go(func() error { return syncLoop(ctx, log, syncer, nd, config.SyncInterval) })
	}
	if generator != nil {
		g.Go(func() error { return generator.run(ctx, time.Second) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

/*
syncLoop runs the synchronizer every interval until ctx is cancelled. Failed
synchronization is logged and retried on the next tick, only storage errors
stop the loop.
*/
func syncLoop(ctx context.Context, log *slog.Logger, s *synchronizer.Synchronizer, nd *node.Node, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.Run(ctx); err != nil {
			var syncErr *synchronizer.SyncError
			var noCommon *synchronizer.NoCommonBlockError
			switch {
			case errors.Is(err, context.Canceled):
				return err
			case errors.As(err, &syncErr), errors.As(err, &noCommon), errors.Is(err, synchronizer.ErrAlreadyRunning):
				log.WarnContext(ctx, "synchronization failed", logger.Error(err))
			default:
				return fmt.Errorf("synchronizing chain: %w", err)
			}
		}
		log.DebugContext(ctx, fmt.Sprintf("local chain at height %d", nd.Chain().Height()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
