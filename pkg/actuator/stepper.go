// Package actuator drives the ignition stepper motor.
package actuator

import (
	"errors"
	"sync"
	"time"

	"github.com/MrCodeEU/faceignition/pkg/logging"
)

// ErrAlreadyRunning is returned by Start when the motor is already turning.
var ErrAlreadyRunning = errors.New("motor already running")

// halfStep is the 8-phase half-step sequence for a 4-coil unipolar motor
// such as the 28BYJ-48.
var halfStep = [8][4]bool{
	{true, false, false, false},
	{true, true, false, false},
	{false, true, false, false},
	{false, true, true, false},
	{false, false, true, false},
	{false, false, true, true},
	{false, false, false, true},
	{true, false, false, true},
}

var released = [4]bool{}

// Coils energizes the four motor coils.
type Coils interface {
	Set(phase [4]bool) error
	Close() error
}

// Stepper runs the half-step sequence on its own goroutine until stopped.
type Stepper struct {
	coils Coils
	delay time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	// err is written by the run loop before done is closed.
	err error
}

// NewStepper creates a stepper that advances one phase every delay.
func NewStepper(coils Coils, delay time.Duration) *Stepper {
	if delay <= 0 {
		delay = time.Millisecond
	}
	return &Stepper{coils: coils, delay: delay}
}

// Start begins turning the motor.
func (s *Stepper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runningLocked() {
		return ErrAlreadyRunning
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.err = nil
	go s.run(s.stop, s.done)

	logging.Component("actuator").Info("Motor started")
	return nil
}

// Stop halts the motor and waits for the run loop to release the coils.
// It returns the error that ended the loop, if any.
func (s *Stepper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == nil {
		return nil
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	s.stop = nil
	s.done = nil

	logging.Component("actuator").Info("Motor stopped")
	return s.err
}

// Running reports whether the run loop is active.
func (s *Stepper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

// Close stops the motor and releases the coil driver.
func (s *Stepper) Close() error {
	stopErr := s.Stop()
	if err := s.coils.Close(); err != nil {
		return err
	}
	return stopErr
}

func (s *Stepper) runningLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// run checks the stop channel before every phase, so Stop returns within
// one step interval.
func (s *Stepper) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	log := logging.Component("actuator")

	ticker := time.NewTicker(s.delay)
	defer ticker.Stop()

	defer func() {
		if err := s.coils.Set(released); err != nil {
			log.WithError(err).Warn("Failed to release coils")
		}
	}()

	for i := 0; ; i = (i + 1) % len(halfStep) {
		select {
		case <-stop:
			return
		default:
		}

		if err := s.coils.Set(halfStep[i]); err != nil {
			log.WithError(err).Error("Motor step failed")
			s.err = err
			return
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}
