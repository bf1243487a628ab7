// Package config provides configuration management for faceignition.
// It loads configuration from YAML files with sensible defaults and lets
// secrets be supplied through the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the YAML file.
const (
	EnvSMSToken  = "FACEIGNITION_SMS_TOKEN"
	EnvSMSTo     = "FACEIGNITION_SMS_TO"
	EnvPublicURL = "FACEIGNITION_PUBLIC_URL"
)

// Config holds all faceignition configuration.
type Config struct {
	Camera        CameraConfig        `yaml:"camera"`
	Quality       QualityConfig       `yaml:"quality"`
	Recognition   RecognitionConfig   `yaml:"recognition"`
	Enrollment    EnrollmentConfig    `yaml:"enrollment"`
	Sensor        SensorConfig        `yaml:"sensor"`
	Actuator      ActuatorConfig      `yaml:"actuator"`
	Notifier      NotifierConfig      `yaml:"notifier"`
	Authorization AuthorizationConfig `yaml:"authorization"`
	Location      LocationConfig      `yaml:"location"`
	Server        ServerConfig        `yaml:"server"`
	Journal       JournalConfig       `yaml:"journal"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// CameraConfig holds camera settings.
type CameraConfig struct {
	Indices         []int `yaml:"indices"`
	Width           int   `yaml:"width"`
	Height          int   `yaml:"height"`
	ReopenAttempts  int   `yaml:"reopen_attempts"`
	TestReads       int   `yaml:"test_reads"`
	ReopenBackoffMs int   `yaml:"reopen_backoff_ms"`
}

// QualityConfig holds the capture quality gate thresholds.
type QualityConfig struct {
	FlushFrames     int     `yaml:"flush_frames"`
	MinBrightness   float64 `yaml:"min_brightness"`
	MinFaceSize     int     `yaml:"min_face_size"`
	CenterTolerance float64 `yaml:"center_tolerance"`
	CheckAngle      bool    `yaml:"check_angle"`
	MaxTiltDegrees  float64 `yaml:"max_tilt_degrees"`
	MaxAttempts     int     `yaml:"max_attempts"`
	RetryDelayMs    int     `yaml:"retry_delay_ms"`
	JPEGQuality     int     `yaml:"jpeg_quality"`
}

// RecognitionConfig holds face recognition settings.
type RecognitionConfig struct {
	ModelPath     string  `yaml:"model_path"`
	Tolerance     float64 `yaml:"tolerance"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// EnrollmentConfig describes where owner reference images live.
type EnrollmentConfig struct {
	Dir          string `yaml:"dir"`
	Pattern      string `yaml:"pattern"`
	CaptureKeep  int    `yaml:"capture_keep"`
	CacheEnabled bool   `yaml:"cache_enabled"`
	CacheFile    string `yaml:"cache_file"`
}

// SensorConfig holds presence sensor settings.
type SensorConfig struct {
	Driver         string `yaml:"driver"` // "gpio" or "always"
	Pin            string `yaml:"pin"`
	ActiveLow      bool   `yaml:"active_low"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	AbortWindowSec int    `yaml:"abort_window_sec"`
	Debounce       int    `yaml:"debounce"`
}

// ActuatorConfig holds stepper motor settings.
type ActuatorConfig struct {
	Driver      string   `yaml:"driver"` // "gpio" or "serial"
	Pins        []string `yaml:"pins"`
	SerialPort  string   `yaml:"serial_port"`
	BaudRate    int      `yaml:"baud_rate"`
	StepDelayMs int      `yaml:"step_delay_ms"`
}

// NotifierConfig holds SMS settings.
type NotifierConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Endpoint   string `yaml:"endpoint"`
	AuthToken  string `yaml:"auth_token"`
	Recipient  string `yaml:"recipient"`
	TimeoutSec int    `yaml:"timeout_sec"`
	PublicURL  string `yaml:"public_url"`
}

// AuthorizationConfig holds settings for the start request and remote decision.
type AuthorizationConfig struct {
	StartWaitSec int `yaml:"start_wait_sec"`
}

// LocationConfig holds the fixed coordinate reported by the dashboard.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// ServerConfig holds dashboard listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// JournalConfig holds dashboard log retention settings.
type JournalConfig struct {
	MaxEntries     int `yaml:"max_entries"`
	DedupeWindowMs int `yaml:"dedupe_window_ms"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/faceignition")
	return &Config{
		Camera: CameraConfig{
			Indices:         []int{0, 1, 2},
			Width:           640,
			Height:          480,
			ReopenAttempts:  3,
			TestReads:       3,
			ReopenBackoffMs: 1000,
		},
		Quality: QualityConfig{
			FlushFrames:     5,
			MinBrightness:   50,
			MinFaceSize:     150,
			CenterTolerance: 0.2,
			CheckAngle:      true,
			MaxTiltDegrees:  15,
			MaxAttempts:     10,
			RetryDelayMs:    500,
			JPEGQuality:     95,
		},
		Recognition: RecognitionConfig{
			ModelPath:     filepath.Join(dataDir, "models"),
			Tolerance:     0.4,
			MinConfidence: 50,
		},
		Enrollment: EnrollmentConfig{
			Dir:          filepath.Join(dataDir, "enrollment"),
			Pattern:      "owner_face*",
			CaptureKeep:  1,
			CacheEnabled: true,
			CacheFile:    filepath.Join(dataDir, "profiles.enc"),
		},
		Sensor: SensorConfig{
			Driver:         "gpio",
			Pin:            "GPIO17",
			ActiveLow:      true,
			PollIntervalMs: 100,
			AbortWindowSec: 30,
			Debounce:       1,
		},
		Actuator: ActuatorConfig{
			Driver:      "gpio",
			Pins:        []string{"GPIO14", "GPIO15", "GPIO18", "GPIO23"},
			SerialPort:  "/dev/ttyUSB0",
			BaudRate:    115200,
			StepDelayMs: 1,
		},
		Notifier: NotifierConfig{
			Enabled:    true,
			Endpoint:   "https://sms.aakashsms.com/sms/v3/send/",
			TimeoutSec: 10,
			PublicURL:  "http://127.0.0.1:5000",
		},
		Authorization: AuthorizationConfig{
			StartWaitSec: 35,
		},
		Location: LocationConfig{
			Latitude:  27.670052333333334,
			Longitude: 85.438842,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Journal: JournalConfig{
			MaxEntries:     500,
			DedupeWindowMs: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   filepath.Join(dataDir, "faceignition.log"),
		},
	}
}

// Load loads configuration from the specified file on top of the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/faceignition/faceignition.yaml"); err == nil {
		return Load("/etc/faceignition/faceignition.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/faceignition/faceignition.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ApplyEnv overrides secrets and the public URL from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvSMSToken); v != "" {
		c.Notifier.AuthToken = v
	}
	if v := os.Getenv(EnvSMSTo); v != "" {
		c.Notifier.Recipient = v
	}
	if v := os.Getenv(EnvPublicURL); v != "" {
		c.Notifier.PublicURL = v
	}
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Enrollment.Dir = ExpandPath(c.Enrollment.Dir)
	c.Enrollment.CacheFile = ExpandPath(c.Enrollment.CacheFile)
	c.Actuator.SerialPort = ExpandPath(c.Actuator.SerialPort)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Camera.Indices) == 0 {
		return fmt.Errorf("camera.indices must list at least one device index")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.ReopenAttempts <= 0 {
		return fmt.Errorf("camera.reopen_attempts must be positive, got %d", c.Camera.ReopenAttempts)
	}

	if c.Quality.MinBrightness < 0 || c.Quality.MinBrightness > 255 {
		return fmt.Errorf("min_brightness must be between 0 and 255, got %f", c.Quality.MinBrightness)
	}
	if c.Quality.CenterTolerance <= 0 || c.Quality.CenterTolerance > 1 {
		return fmt.Errorf("center_tolerance must be in (0, 1], got %f", c.Quality.CenterTolerance)
	}
	if c.Quality.MaxTiltDegrees <= 0 || c.Quality.MaxTiltDegrees >= 90 {
		return fmt.Errorf("max_tilt_degrees must be in (0, 90), got %f", c.Quality.MaxTiltDegrees)
	}
	if c.Quality.MaxAttempts <= 0 {
		return fmt.Errorf("quality.max_attempts must be positive, got %d", c.Quality.MaxAttempts)
	}
	if c.Quality.JPEGQuality < 1 || c.Quality.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", c.Quality.JPEGQuality)
	}

	if c.Recognition.Tolerance <= 0 || c.Recognition.Tolerance > 1 {
		return fmt.Errorf("tolerance must be in (0, 1], got %f", c.Recognition.Tolerance)
	}
	if c.Recognition.MinConfidence < 0 || c.Recognition.MinConfidence > 100 {
		return fmt.Errorf("min_confidence must be between 0 and 100, got %f", c.Recognition.MinConfidence)
	}

	if c.Enrollment.Dir == "" {
		return fmt.Errorf("enrollment.dir is required")
	}
	if c.Enrollment.CaptureKeep < 0 {
		return fmt.Errorf("enrollment.capture_keep must not be negative, got %d", c.Enrollment.CaptureKeep)
	}

	switch c.Sensor.Driver {
	case "gpio":
		if c.Sensor.Pin == "" {
			return fmt.Errorf("sensor.pin is required for the gpio driver")
		}
	case "always":
	default:
		return fmt.Errorf("invalid sensor driver: %s (must be gpio or always)", c.Sensor.Driver)
	}
	if c.Sensor.PollIntervalMs <= 0 || c.Sensor.AbortWindowSec <= 0 {
		return fmt.Errorf("sensor poll interval and abort window must be positive")
	}

	switch c.Actuator.Driver {
	case "gpio":
		if len(c.Actuator.Pins) != 4 {
			return fmt.Errorf("actuator.pins must list exactly 4 pins, got %d", len(c.Actuator.Pins))
		}
	case "serial":
		if c.Actuator.SerialPort == "" {
			return fmt.Errorf("actuator.serial_port is required for the serial driver")
		}
	default:
		return fmt.Errorf("invalid actuator driver: %s (must be gpio or serial)", c.Actuator.Driver)
	}
	if c.Actuator.StepDelayMs <= 0 {
		return fmt.Errorf("actuator.step_delay_ms must be positive, got %d", c.Actuator.StepDelayMs)
	}

	if c.Notifier.Enabled && c.Notifier.Endpoint == "" {
		return fmt.Errorf("notifier.endpoint is required when the notifier is enabled")
	}

	if c.Authorization.StartWaitSec <= 0 {
		return fmt.Errorf("authorization.start_wait_sec must be positive, got %d", c.Authorization.StartWaitSec)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// EnsureDirectories creates the directories the service writes to.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Enrollment.Dir, 0700); err != nil {
		return fmt.Errorf("failed to create enrollment directory: %w", err)
	}
	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}
	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	return nil
}

// RetryDelay returns the pause between capture attempts.
func (q QualityConfig) RetryDelay() time.Duration {
	return time.Duration(q.RetryDelayMs) * time.Millisecond
}

// ReopenBackoff returns the pause between camera reopen tries.
func (c CameraConfig) ReopenBackoff() time.Duration {
	return time.Duration(c.ReopenBackoffMs) * time.Millisecond
}

// PollInterval returns the presence sensor polling period.
func (s SensorConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// AbortWindow returns how long a start attempt waits for the sensor.
func (s SensorConfig) AbortWindow() time.Duration {
	return time.Duration(s.AbortWindowSec) * time.Second
}

// StepDelay returns the pause between motor phases.
func (a ActuatorConfig) StepDelay() time.Duration {
	return time.Duration(a.StepDelayMs) * time.Millisecond
}

// Timeout returns the SMS request timeout.
func (n NotifierConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSec) * time.Second
}

// StartWait returns the upper bound a blocking start request waits.
func (a AuthorizationConfig) StartWait() time.Duration {
	return time.Duration(a.StartWaitSec) * time.Second
}

// DedupeWindow returns the journal collapse window.
func (j JournalConfig) DedupeWindow() time.Duration {
	return time.Duration(j.DedupeWindowMs) * time.Millisecond
}

// Addr returns the dashboard listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
