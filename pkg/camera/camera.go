// Package camera provides serialized access to the vehicle's face camera.
// All device operations go through a Manager which holds a single lock for
// the duration of each operation and reopens the device when it is lost.
package camera

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/MrCodeEU/faceignition/pkg/logging"
)

// Frame represents a single decoded camera frame.
type Frame struct {
	Image     image.Image
	Width     int
	Height    int
	Timestamp time.Time
}

// Device is a video capture device addressed by index.
type Device interface {
	Open(index int) error
	IsOpen() bool
	// Grab discards n buffered frames.
	Grab(n int) error
	Read() (Frame, error)
	Close() error
}

// ErrCameraNotFound is returned when the camera device is not found.
var ErrCameraNotFound = errors.New("camera device not found")

// ErrCameraNotOpen is returned when trying to capture from a closed camera.
var ErrCameraNotOpen = errors.New("camera not open")

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")

// ErrCameraUnavailable is returned when no configured index yields a working device.
var ErrCameraUnavailable = errors.New("camera unavailable")

// Options controls how the Manager opens and reopens the device.
type Options struct {
	Indices   []int
	Attempts  int
	TestReads int
	Backoff   time.Duration
}

// DefaultOptions returns the reopen policy used when none is configured.
func DefaultOptions() Options {
	return Options{
		Indices:   []int{0, 1, 2},
		Attempts:  3,
		TestReads: 3,
		Backoff:   time.Second,
	}
}

// Manager owns the camera device and serializes access to it.
type Manager struct {
	mu     sync.Mutex
	device Device
	opts   Options
	index  int
	sleep  func(time.Duration)
}

// NewManager creates a Manager for device. The device is not opened until
// Initialize or the first WithDevice call.
func NewManager(device Device, opts Options) *Manager {
	if len(opts.Indices) == 0 {
		opts.Indices = DefaultOptions().Indices
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.TestReads <= 0 {
		opts.TestReads = 1
	}
	return &Manager{
		device: device,
		opts:   opts,
		index:  -1,
		sleep:  time.Sleep,
	}
}

// Initialize opens the device if it is not already open.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device.IsOpen() {
		return nil
	}
	return m.reopenLocked()
}

// Reinitialize releases the device and opens it again from scratch.
func (m *Manager) Reinitialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reopenLocked()
}

// WithDevice runs fn while holding the camera lock. A closed device is
// reopened first. fn must not block on anything other than the device.
func (m *Manager) WithDevice(fn func(Device) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.device.IsOpen() {
		logging.Component("camera").Warn("Camera closed, reopening")
		if err := m.reopenLocked(); err != nil {
			return err
		}
	}
	return fn(m.device)
}

// Index returns the device index currently in use, or -1.
func (m *Manager) Index() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

// Release closes the device.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = -1
	if !m.device.IsOpen() {
		return nil
	}
	return m.device.Close()
}

func (m *Manager) reopenLocked() error {
	log := logging.Component("camera")
	if m.device.IsOpen() {
		if err := m.device.Close(); err != nil {
			log.WithError(err).Warn("Failed to release camera")
		}
	}
	m.index = -1

	var lastErr error
	for attempt := 1; attempt <= m.opts.Attempts; attempt++ {
		for _, idx := range m.opts.Indices {
			if err := m.tryIndexLocked(idx); err != nil {
				lastErr = err
				log.WithFields(logging.Fields{"index": idx, "attempt": attempt}).WithError(err).Debug("Camera index failed")
				continue
			}
			m.index = idx
			log.WithField("index", idx).Info("Camera initialized")
			return nil
		}
		if attempt < m.opts.Attempts {
			m.sleep(m.opts.Backoff)
		}
	}
	return fmt.Errorf("%w: tried indices %v %d times: %v", ErrCameraUnavailable, m.opts.Indices, m.opts.Attempts, lastErr)
}

func (m *Manager) tryIndexLocked(idx int) error {
	if err := m.device.Open(idx); err != nil {
		return err
	}
	for i := 0; i < m.opts.TestReads; i++ {
		if _, err := m.device.Read(); err == nil {
			return nil
		}
		m.sleep(m.opts.Backoff / 10)
	}
	_ = m.device.Close()
	return ErrNoFrame
}
