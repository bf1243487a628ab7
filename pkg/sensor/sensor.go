// Package sensor reads the fingertip presence sensor next to the ignition
// control and waits for it to activate.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/MrCodeEU/faceignition/pkg/logging"
)

// ErrSensorTimeout is returned when the sensor did not activate within the
// abort window.
var ErrSensorTimeout = errors.New("presence sensor did not activate")

// Sensor reports whether a user is present.
type Sensor interface {
	Active() (bool, error)
}

// WaitOptions controls WaitActive.
type WaitOptions struct {
	PollInterval time.Duration
	Window       time.Duration
	// Debounce is the number of consecutive active reads required.
	Debounce int
}

// WaitActive polls s until it reports active for Debounce consecutive
// reads, the window elapses or ctx is cancelled. Read errors count as
// inactive and are logged.
func WaitActive(ctx context.Context, s Sensor, opts WaitOptions) error {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 1
	}

	var deadline <-chan time.Time
	if opts.Window > 0 {
		timer := time.NewTimer(opts.Window)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	log := logging.Component("sensor")
	streak := 0
	for {
		active, err := s.Active()
		if err != nil {
			log.WithError(err).Warn("Sensor read failed")
			active = false
		}
		if active {
			streak++
			if streak >= opts.Debounce {
				return nil
			}
		} else {
			streak = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w within %s", ErrSensorTimeout, opts.Window)
		case <-ticker.C:
		}
	}
}

// Always is a sensor that is always active. It is used on benches without
// the IR module.
type Always struct{}

// Active implements Sensor.
func (Always) Active() (bool, error) { return true, nil }

// GPIOSensor reads a digital IR presence module on a GPIO pin.
type GPIOSensor struct {
	pin       gpio.PinIn
	activeLow bool
}

// NewGPIOSensor initializes the host drivers and configures pinName as a
// pulled-up input. Most IR modules pull the line low when an object is
// close, so activeLow is usually true.
func NewGPIOSensor(pinName string, activeLow bool) (*GPIOSensor, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init gpio host: %w", err)
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %s not found", pinName)
	}
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure %s as input: %w", pinName, err)
	}
	logging.Component("sensor").WithFields(logging.Fields{
		"pin":        pinName,
		"active_low": activeLow,
	}).Info("Presence sensor ready")
	return &GPIOSensor{pin: pin, activeLow: activeLow}, nil
}

// Active implements Sensor.
func (s *GPIOSensor) Active() (bool, error) {
	level := s.pin.Read()
	if s.activeLow {
		return level == gpio.Low, nil
	}
	return level == gpio.High, nil
}
