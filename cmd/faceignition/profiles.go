package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/faceignition/pkg/recognition/dlib"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Load and check the owner enrollment images",
	RunE:  runProfiles,
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}

func runProfiles(cmd *cobra.Command, args []string) error {
	rec, err := dlib.NewRecognizer(cfg.Recognition.ModelPath, cfg.Quality.JPEGQuality)
	if err != nil {
		return fmt.Errorf("failed to load face models: %w", err)
	}
	defer func() { _ = rec.Close() }()

	profiles, err := loadProfiles(cfg, rec)
	if err != nil {
		return err
	}

	fmt.Printf("Owner profiles in %s:\n", cfg.Enrollment.Dir)
	fmt.Println("================================")
	for _, p := range profiles {
		source := "embedded"
		if p.FromCache {
			source = "cached"
		}
		fmt.Printf("  %-32s %s\n", filepath.Base(p.Source), source)
	}
	fmt.Printf("\nTotal: %d profile(s)\n", len(profiles))
	return nil
}
