package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alphabill-org/blockengine/observability"
)

// version is set by the linker.
var version = "dev"

type blockengineApp struct {
	baseCmd    *cobra.Command
	baseConfig *baseConfiguration
}

// New creates the blockengine command line application.
func New(logF LoggerFactory) *blockengineApp {
	config := &baseConfiguration{loggerBuilder: logF}
	root := &cobra.Command{
		Use:           "blockengine",
		Short:         "The blockengine CLI",
		Long:          `The blockengine CLI creates chains, keeps the local chain in sync with peers and serves it over the REST API.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		// subcommands do not define their own pre-run hooks so this one runs for all of them
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.setup(cmd); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			return nil
		},
	}
	config.addConfigurationFlags(root)
	root.AddCommand(
		newKeysCmd(config),
		newGenesisCmd(config),
		newStatusCmd(config),
		newReplayCmd(config),
		newSyncCmd(config),
		newServeCmd(config),
	)
	return &blockengineApp{baseCmd: root, baseConfig: config}
}

// Execute runs the command selected by the command line arguments.
func (a *blockengineApp) Execute(ctx context.Context) (err error) {
	defer func() {
		if a.baseConfig.observe != nil {
			err = errors.Join(err, a.baseConfig.observe.Shutdown())
		}
	}()
	return a.baseCmd.ExecuteContext(ctx)
}

// setup loads the configuration and creates the logger and the metrics and trace providers.
func (c *baseConfiguration) setup(cmd *cobra.Command) error {
	if err := c.load(cmd); err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}
	log, err := c.newLogger(cmd)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	metrics := cmd.Flags().Lookup(flagMetrics).Value.String()
	tracing := cmd.Flags().Lookup(flagTracing).Value.String()
	if c.observe, err = observability.New(metrics, tracing, version, log); err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	return nil
}
