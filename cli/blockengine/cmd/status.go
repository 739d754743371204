package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &nodeConfig{Base: baseConfig}
	var cmd = &cobra.Command{
		Use:   "status",
		Short: "Prints the status of the local chain",
		RunE: func(cmd *cobra.Command, args []string) (rErr error) {
			nd, closeDB, err := config.openNode(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { rErr = errors.Join(rErr, closeDB()) }()

			status, err := nd.Status()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding status: %w", err)
			}
			consoleWriter.Println(string(out))
			return nil
		},
	}
	config.addNodeFlags(cmd)
	return cmd
}
