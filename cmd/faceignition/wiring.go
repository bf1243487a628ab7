package main

import (
	"fmt"

	"github.com/MrCodeEU/faceignition/pkg/actuator"
	"github.com/MrCodeEU/faceignition/pkg/camera"
	"github.com/MrCodeEU/faceignition/pkg/config"
	"github.com/MrCodeEU/faceignition/pkg/logging"
	"github.com/MrCodeEU/faceignition/pkg/notify"
	"github.com/MrCodeEU/faceignition/pkg/quality"
	"github.com/MrCodeEU/faceignition/pkg/recognition"
	"github.com/MrCodeEU/faceignition/pkg/sensor"
	"github.com/MrCodeEU/faceignition/pkg/storage"
)

func cameraOptions(c *config.Config) camera.Options {
	return camera.Options{
		Indices:   c.Camera.Indices,
		Attempts:  c.Camera.ReopenAttempts,
		TestReads: c.Camera.TestReads,
		Backoff:   c.Camera.ReopenBackoff(),
	}
}

func thresholds(c *config.Config) quality.Thresholds {
	return quality.Thresholds{
		FlushFrames:     c.Quality.FlushFrames,
		MinBrightness:   c.Quality.MinBrightness,
		MinFaceSize:     c.Quality.MinFaceSize,
		CenterTolerance: c.Quality.CenterTolerance,
		CheckAngle:      c.Quality.CheckAngle,
		MaxTiltDegrees:  c.Quality.MaxTiltDegrees,
		MaxAttempts:     c.Quality.MaxAttempts,
		Keep:            c.Enrollment.CaptureKeep,
	}
}

func sensorWait(c *config.Config) sensor.WaitOptions {
	return sensor.WaitOptions{
		PollInterval: c.Sensor.PollInterval(),
		Window:       c.Sensor.AbortWindow(),
		Debounce:     c.Sensor.Debounce,
	}
}

func newSensor(c *config.Config) (sensor.Sensor, error) {
	switch c.Sensor.Driver {
	case "always":
		logging.Component("main").Warn("Presence sensor disabled, every start proceeds immediately")
		return sensor.Always{}, nil
	case "gpio", "":
		return sensor.NewGPIOSensor(c.Sensor.Pin, c.Sensor.ActiveLow)
	default:
		return nil, fmt.Errorf("unknown sensor driver %q", c.Sensor.Driver)
	}
}

func newCoils(c *config.Config) (actuator.Coils, error) {
	switch c.Actuator.Driver {
	case "serial":
		return actuator.OpenSerialCoils(c.Actuator.SerialPort, c.Actuator.BaudRate)
	case "gpio", "":
		return actuator.NewGPIOCoils(c.Actuator.Pins)
	default:
		return nil, fmt.Errorf("unknown actuator driver %q", c.Actuator.Driver)
	}
}

// newNotifier falls back to a no-op notifier when SMS is disabled or not
// fully configured.
func newNotifier(c *config.Config) notify.Notifier {
	n := c.Notifier
	if !n.Enabled {
		return notify.Nop{}
	}
	if n.AuthToken == "" || n.Recipient == "" {
		logging.Component("main").Warnf("SMS notifier has no token or recipient (set %s and %s), alerts are only logged",
			config.EnvSMSToken, config.EnvSMSTo)
		return notify.Nop{}
	}
	return notify.NewSMSNotifier(notify.SMSConfig{
		Endpoint:  n.Endpoint,
		AuthToken: n.AuthToken,
		Recipient: n.Recipient,
		PublicURL: n.PublicURL,
		Timeout:   n.Timeout(),
	})
}

// loadProfiles embeds the enrollment images, reusing and refreshing the
// encrypted descriptor cache when enabled.
func loadProfiles(c *config.Config, embedder recognition.Embedder) ([]recognition.ReferenceProfile, error) {
	log := logging.Component("main")

	var cache recognition.DescriptorCache
	var profileCache *storage.ProfileCache
	if c.Enrollment.CacheEnabled {
		pc, err := storage.OpenProfileCache(c.Enrollment.CacheFile)
		if err != nil {
			log.WithError(err).Warn("Profile cache unavailable, embedding every enrollment image")
		} else {
			profileCache = pc
			cache = pc
		}
	}

	profiles, err := recognition.LoadProfiles(c.Enrollment.Dir, c.Enrollment.Pattern, embedder, cache)
	if err != nil {
		return nil, err
	}

	if profileCache != nil {
		if err := profileCache.Save(); err != nil {
			log.WithError(err).Warn("Failed to save profile cache")
		} else {
			log.WithField("entries", profileCache.Len()).Debug("Profile cache saved")
		}
	}
	return profiles, nil
}
