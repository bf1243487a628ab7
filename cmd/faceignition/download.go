package main

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/faceignition/pkg/logging"
)

// dlibModel is a bzip2-compressed model file published on dlib.net.
type dlibModel struct {
	Name string
	URL  string
}

var dlibModels = []dlibModel{
	{
		Name: "shape_predictor_5_face_landmarks.dat",
		URL:  "http://dlib.net/files/shape_predictor_5_face_landmarks.dat.bz2",
	},
	{
		Name: "dlib_face_recognition_resnet_model_v1.dat",
		URL:  "http://dlib.net/files/dlib_face_recognition_resnet_model_v1.dat.bz2",
	},
	{
		Name: "mmod_human_face_detector.dat",
		URL:  "http://dlib.net/files/mmod_human_face_detector.dat.bz2",
	},
}

var forceDownload bool

var downloadCmd = &cobra.Command{
	Use:   "download-models [dir]",
	Short: "Download the dlib face models",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Recognition.ModelPath
		if len(args) > 0 {
			dir = args[0]
		}
		client := &http.Client{Timeout: 10 * time.Minute}
		return downloadModels(cmd.Context(), client, dir, dlibModels, forceDownload)
	},
}

func init() {
	downloadCmd.Flags().BoolVar(&forceDownload, "force", false, "Download even if the model file exists")
	rootCmd.AddCommand(downloadCmd)
}

func downloadModels(ctx context.Context, client *http.Client, dir string, models []dlibModel, force bool) error {
	log := logging.Component("download")
	log.Infof("Downloading models to: %s", dir)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	for _, model := range models {
		target := filepath.Join(dir, model.Name)
		if _, err := os.Stat(target); err == nil && !force {
			log.Infof("Model %s already exists, skipping", model.Name)
			continue
		}

		log.Infof("Downloading %s...", model.Name)
		if err := fetchBzip2(ctx, client, model.URL, target, model.Name); err != nil {
			return fmt.Errorf("failed to download %s: %w", model.Name, err)
		}
		log.Infof("Saved %s", target)
	}

	log.Info("All models are in place")
	return nil
}

// fetchBzip2 decompresses url into target. The file only appears under its
// final name once it was written completely.
func fetchBzip2(ctx context.Context, client *http.Client, url, target, label string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	bar := progressbar.NewOptions64(resp.ContentLength,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	defer func() { _ = bar.Finish() }()

	if _, err := io.Copy(tmp, bzip2.NewReader(io.TeeReader(resp.Body, bar))); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}
