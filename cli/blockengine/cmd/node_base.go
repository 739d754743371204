package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alphabill-org/blockengine/keyvaluedb/boltdb"
	"github.com/alphabill-org/blockengine/node"
)

type nodeConfig struct {
	Base        *baseConfiguration
	GenesisFile string
	DBFile      string
}

func (c *nodeConfig) addNodeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&c.GenesisFile, "genesis", "g", "", fmt.Sprintf("path to the genesis configuration file (default: $BE_HOME/%s)", defaultGenesisConfigFile))
	cmd.Flags().StringVar(&c.DBFile, "db", "", fmt.Sprintf("path to the block and state database (default: $BE_HOME/%s)", defaultDBFile))
}

func (c *nodeConfig) genesisFile() string {
	return c.Base.pathInHome(c.GenesisFile, defaultGenesisConfigFile)
}

func (c *nodeConfig) dbFile() string {
	return c.Base.pathInHome(c.DBFile, defaultDBFile)
}

/*
openNode opens node over the database file, the database is initialized
from the genesis configuration when it is empty. Read-only database must
already hold the chain. The returned func closes the database.
*/
func openNode(ctx context.Context, obs node.Observability, gc *node.GenesisConfig, dbFile string, readOnly bool, opts ...node.Option) (*node.Node, func() error, error) {
	var dbOpts []boltdb.Option
	if readOnly {
		dbOpts = append(dbOpts, boltdb.WithReadOnly())
	} else if err := os.MkdirAll(filepath.Dir(dbFile), 0700); err != nil {
		return nil, nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := boltdb.New(dbFile, dbOpts...)
	if err != nil {
		return nil, nil, err
	}
	nd, err := node.New(ctx, db, gc, obs, opts...)
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("creating node: %w", err), db.Close())
	}
	return nd, db.Close, nil
}

func (c *nodeConfig) openNode(ctx context.Context, readOnly bool, opts ...node.Option) (*node.Node, func() error, error) {
	gc, err := node.LoadGenesisConfig(c.genesisFile())
	if err != nil {
		return nil, nil, err
	}
	return openNode(ctx, c.Base.observe, gc, c.dbFile(), readOnly, opts...)
}
