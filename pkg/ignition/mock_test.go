package ignition

import (
	"context"
	"image"
	"sync"

	"github.com/MrCodeEU/faceignition/pkg/notify"
	"github.com/MrCodeEU/faceignition/pkg/quality"
	"github.com/MrCodeEU/faceignition/pkg/recognition"
)

// MockGate implements CaptureGate for testing
type MockGate struct {
	AcquireFunc func(ctx context.Context) (*quality.CapturedFrame, error)

	mu    sync.Mutex
	calls int
}

func (m *MockGate) Acquire(ctx context.Context) (*quality.CapturedFrame, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.AcquireFunc != nil {
		return m.AcquireFunc(ctx)
	}
	return &quality.CapturedFrame{Path: "/captures/captured_face_1.jpg", Image: image.NewGray(image.Rect(0, 0, 4, 4))}, nil
}

func (m *MockGate) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockMatcher implements Matcher for testing
type MockMatcher struct {
	MatchFunc func(img image.Image) (recognition.MatchResult, error)
}

func (m *MockMatcher) Match(img image.Image) (recognition.MatchResult, error) {
	if m.MatchFunc != nil {
		return m.MatchFunc(img)
	}
	return recognition.MatchResult{}, nil
}

// MockActuator implements Actuator for testing
type MockActuator struct {
	StartFunc func() error
	StopFunc  func() error

	mu      sync.Mutex
	running bool
	starts  int
	stops   int
}

func (m *MockActuator) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	if m.StartFunc != nil {
		if err := m.StartFunc(); err != nil {
			return err
		}
	}
	m.running = true
	return nil
}

func (m *MockActuator) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.running = false
	if m.StopFunc != nil {
		return m.StopFunc()
	}
	return nil
}

func (m *MockActuator) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Halt simulates the run loop ending without a Stop call.
func (m *MockActuator) Halt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

func (m *MockActuator) Counts() (starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}

// MockNotifier implements Notifier for testing
type MockNotifier struct {
	NotifyFunc func(ctx context.Context, event notify.Event) error

	mu     sync.Mutex
	events []notify.Event
}

func (m *MockNotifier) Notify(ctx context.Context, event notify.Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, event)
	}
	return nil
}

func (m *MockNotifier) Events() []notify.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Event(nil), m.events...)
}

// MockSensor implements sensor.Sensor for testing
type MockSensor struct {
	ActiveFunc func() (bool, error)
}

func (m *MockSensor) Active() (bool, error) {
	if m.ActiveFunc != nil {
		return m.ActiveFunc()
	}
	return true, nil
}

// MockCamera implements Camera for testing
type MockCamera struct {
	ReinitializeFunc func() error

	mu     sync.Mutex
	reinit int
}

func (m *MockCamera) Reinitialize() error {
	m.mu.Lock()
	m.reinit++
	m.mu.Unlock()
	if m.ReinitializeFunc != nil {
		return m.ReinitializeFunc()
	}
	return nil
}

func (m *MockCamera) Reinits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reinit
}

// MockCaptures implements Captures for testing
type MockCaptures struct {
	mu      sync.Mutex
	deleted []string
}

func (m *MockCaptures) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, path)
	return nil
}

func (m *MockCaptures) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}
