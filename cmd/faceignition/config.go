package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrCodeEU/faceignition/pkg/config"
	"github.com/MrCodeEU/faceignition/pkg/logging"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Debugf("Showing configuration")

		out, err := yaml.Marshal(redacted(cfg))
		if err != nil {
			return fmt.Errorf("encoding configuration: %w", err)
		}
		fmt.Print(string(out))

		if err := cfg.Validate(); err != nil {
			fmt.Printf("\n# WARNING: %v\n", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

// redacted returns a copy of c safe to print.
func redacted(c *config.Config) *config.Config {
	cp := *c
	if cp.Notifier.AuthToken != "" {
		cp.Notifier.AuthToken = "********"
	}
	return &cp
}
