package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/faceignition/pkg/actuator"
	"github.com/MrCodeEU/faceignition/pkg/camera"
	"github.com/MrCodeEU/faceignition/pkg/camera/gocvcam"
	"github.com/MrCodeEU/faceignition/pkg/ignition"
	"github.com/MrCodeEU/faceignition/pkg/journal"
	"github.com/MrCodeEU/faceignition/pkg/location"
	"github.com/MrCodeEU/faceignition/pkg/logging"
	"github.com/MrCodeEU/faceignition/pkg/quality"
	"github.com/MrCodeEU/faceignition/pkg/recognition"
	"github.com/MrCodeEU/faceignition/pkg/recognition/dlib"
	"github.com/MrCodeEU/faceignition/pkg/storage"
	"github.com/MrCodeEU/faceignition/pkg/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller and the dashboard",
	Long: `Load the owner profiles, open the camera, sensor and motor, and serve the
dashboard until interrupted. Missing models, enrollment images or camera are
fatal at startup.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	log := logging.Component("main")

	j := journal.New(cfg.Journal.MaxEntries, cfg.Journal.DedupeWindow())

	rec, err := dlib.NewRecognizer(cfg.Recognition.ModelPath, cfg.Quality.JPEGQuality)
	if err != nil {
		return fmt.Errorf("failed to load face models (run 'faceignition download-models'): %w", err)
	}
	defer func() { _ = rec.Close() }()

	profiles, err := loadProfiles(cfg, rec)
	if err != nil {
		return fmt.Errorf("loading owner profiles: %w", err)
	}
	j.Appendf("Loaded %d owner profile(s)", len(profiles))
	matcher := recognition.NewMatcher(rec, profiles, cfg.Recognition.Tolerance, cfg.Recognition.MinConfidence, j)

	cam := camera.NewManager(gocvcam.New(cfg.Camera.Width, cfg.Camera.Height), cameraOptions(cfg))
	if err := cam.Initialize(); err != nil {
		return fmt.Errorf("opening camera: %w", err)
	}
	defer func() { _ = cam.Release() }()
	log.WithField("index", cam.Index()).Info("Camera ready")

	store, err := storage.NewCaptureStore(cfg.Enrollment.Dir, cfg.Quality.JPEGQuality)
	if err != nil {
		return err
	}
	// Nothing is pending after a restart.
	if removed, err := store.Prune(0); err != nil {
		log.WithError(err).Warn("Failed to remove stale captures")
	} else if removed > 0 {
		j.Appendf("Removed %d stale capture(s)", removed)
	}
	gate := quality.NewGate(cam, rec, store, j, thresholds(cfg), cfg.Quality.RetryDelay())

	presence, err := newSensor(cfg)
	if err != nil {
		return fmt.Errorf("presence sensor: %w", err)
	}

	coils, err := newCoils(cfg)
	if err != nil {
		return fmt.Errorf("motor driver: %w", err)
	}
	motor := actuator.NewStepper(coils, cfg.Actuator.StepDelay())
	defer func() { _ = motor.Close() }()

	ctrl := ignition.NewController(ignition.Deps{
		Gate:     gate,
		Matcher:  matcher,
		Actuator: motor,
		Notifier: newNotifier(cfg),
		Sensor:   presence,
		Camera:   cam,
		Captures: store,
		Journal:  j,
	}, ignition.Options{
		Sensor:        sensorWait(cfg),
		NotifyTimeout: cfg.Notifier.Timeout() + 5*time.Second,
	})

	srv := web.NewServer(ctrl, j, location.Fixed{
		Latitude:  cfg.Location.Latitude,
		Longitude: cfg.Location.Longitude,
	}, web.Options{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		StartWait: cfg.Authorization.StartWait(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	j.Appendf("System ready, dashboard on %s", cfg.Server.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		log.Infof("Received %s, shutting down", sig)
	case serveErr = <-errCh:
	}

	// Stop the motor before draining the dashboard.
	if err := ctrl.Close(); err != nil {
		log.WithError(err).Warn("Failed to stop motor")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Dashboard did not shut down cleanly")
	}
	return serveErr
}
