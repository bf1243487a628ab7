package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/faceignition/pkg/config"
	"github.com/MrCodeEU/faceignition/pkg/logging"
)

var (
	configFile string
	debug      bool
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "faceignition",
	Short: "Face-gated vehicle start controller",
	Long: `faceignition starts a vehicle only for its enrolled owners. A start request
waits for the presence sensor, captures a quality-checked face image and
matches it against the owner profiles. Unknown faces are held for the owner
to approve or deny from the dashboard.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func initEnv() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

func loadConfig() error {
	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg, err = config.LoadDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
			cfg = config.DefaultConfig()
		}
	}

	cfg.ApplyEnv()
	cfg.ExpandPaths()

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	if err := logging.Init(level, cfg.Logging.Format, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Debugf("faceignition v%s starting", version)
	logging.Debugf("Config loaded, enrollment dir: %s", cfg.Enrollment.Dir)
	return nil
}
