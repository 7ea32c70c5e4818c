package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
)

func configCmd(opts *options) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect orchestrator configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration (defaults, --config file, environment)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := common.LoadConfig(opts.config)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration is not valid: %w", err)
			}
			return nil
		},
	}

	configCmd.AddCommand(showCmd)
	return configCmd
}
