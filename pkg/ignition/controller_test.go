package ignition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrCodeEU/faceignition/pkg/camera"
	"github.com/MrCodeEU/faceignition/pkg/journal"
	"github.com/MrCodeEU/faceignition/pkg/logging"
	"github.com/MrCodeEU/faceignition/pkg/notify"
	"github.com/MrCodeEU/faceignition/pkg/quality"
	"github.com/MrCodeEU/faceignition/pkg/recognition"
	"github.com/MrCodeEU/faceignition/pkg/sensor"
)

func init() {
	logging.Discard()
}

const capturePath = "/captures/captured_face_1.jpg"

type fixture struct {
	gate     *MockGate
	matcher  *MockMatcher
	actuator *MockActuator
	notifier *MockNotifier
	sensor   *MockSensor
	camera   *MockCamera
	captures *MockCaptures
	journal  *journal.Journal
	ctrl     *Controller
}

func newFixture(t *testing.T, matched bool) *fixture {
	t.Helper()
	f := &fixture{
		gate: &MockGate{},
		matcher: &MockMatcher{MatchFunc: func(image.Image) (recognition.MatchResult, error) {
			if matched {
				return recognition.MatchResult{
					Matched:    true,
					Distance:   0.3,
					Confidence: 70,
					Profile:    &recognition.ReferenceProfile{Source: "owner_face.jpg"},
				}, nil
			}
			return recognition.MatchResult{Distance: 0.5, Confidence: 50}, nil
		}},
		actuator: &MockActuator{},
		notifier: &MockNotifier{},
		sensor:   &MockSensor{},
		camera:   &MockCamera{},
		captures: &MockCaptures{},
		journal:  journal.New(100, 0),
	}
	f.ctrl = NewController(Deps{
		Gate:     f.gate,
		Matcher:  f.matcher,
		Actuator: f.actuator,
		Notifier: f.notifier,
		Sensor:   f.sensor,
		Camera:   f.camera,
		Captures: f.captures,
		Journal:  f.journal,
	}, Options{
		Sensor:        sensor.WaitOptions{PollInterval: time.Millisecond, Window: 50 * time.Millisecond},
		NotifyTimeout: time.Second,
	})
	t.Cleanup(func() { _ = f.ctrl.Close() })
	return f
}

func runAttempt(t *testing.T, c *Controller) Result {
	t.Helper()
	a, err := c.Start()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := a.Wait(ctx)
	require.NoError(t, err)
	return res
}

func journalContains(j *journal.Journal, substr string) bool {
	for _, line := range j.Lines() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestStart_MatchStartsVehicle(t *testing.T) {
	f := newFixture(t, true)

	res := runAttempt(t, f.ctrl)
	assert.Equal(t, OutcomeStarted, res.Outcome)
	assert.NoError(t, res.Err)
	assert.InDelta(t, 70, res.Match.Confidence, 0.001)

	assert.Equal(t, Running, f.ctrl.State())
	starts, _ := f.actuator.Counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, []string{capturePath}, f.captures.Deleted())

	require.NoError(t, f.ctrl.Close())
	assert.Equal(t, []notify.Event{notify.VehicleStarted}, f.notifier.Events())
	assert.True(t, journalContains(f.journal, "SMS sent successfully"))
}

func TestStart_NoMatchAwaitsAuthorization(t *testing.T) {
	f := newFixture(t, false)

	res := runAttempt(t, f.ctrl)
	assert.Equal(t, OutcomePending, res.Outcome)
	assert.True(t, f.ctrl.IsPending())

	path, ok := f.ctrl.PendingCapture()
	assert.True(t, ok)
	assert.Equal(t, capturePath, path)
	assert.Empty(t, f.captures.Deleted())

	starts, _ := f.actuator.Counts()
	assert.Zero(t, starts)

	snap := f.ctrl.Snapshot()
	assert.Equal(t, "pending_authorization", snap.State)
	assert.True(t, snap.Pending)
	assert.Equal(t, res.AttemptID, snap.AttemptID)

	f.ctrl.notifications.Wait()
	assert.Equal(t, []notify.Event{notify.UnauthorizedAttempt}, f.notifier.Events())
	assert.True(t, journalContains(f.journal, "Face not recognized"))
}

func TestStart_SensorTimeout(t *testing.T) {
	f := newFixture(t, true)
	f.sensor.ActiveFunc = func() (bool, error) { return false, nil }

	res := runAttempt(t, f.ctrl)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, ErrCodeSensorTimeout, CodeOf(res.Err))
	assert.ErrorIs(t, res.Err, sensor.ErrSensorTimeout)

	assert.Equal(t, Idle, f.ctrl.State())
	assert.Zero(t, f.gate.Calls())

	f.ctrl.notifications.Wait()
	assert.Empty(t, f.notifier.Events())
	assert.Equal(t, "failed", f.ctrl.Snapshot().LastOutcome)
}

func TestStart_CaptureFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"camera unavailable", fmt.Errorf("%w: tried indices [0 1 2]", camera.ErrCameraUnavailable), ErrCodeCamera},
		{"quality", &quality.QualityFailure{Attempts: 10}, ErrCodeQuality},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.gate.AcquireFunc = func(context.Context) (*quality.CapturedFrame, error) {
				return nil, tt.err
			}

			res := runAttempt(t, f.ctrl)
			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.Equal(t, tt.code, CodeOf(res.Err))
			assert.Equal(t, Idle, f.ctrl.State())
			starts, _ := f.actuator.Counts()
			assert.Zero(t, starts)
		})
	}
}

func TestStart_NoEmbeddingDeletesCapture(t *testing.T) {
	f := newFixture(t, true)
	f.matcher.MatchFunc = func(image.Image) (recognition.MatchResult, error) {
		return recognition.MatchResult{}, fmt.Errorf("embedding capture: %w", recognition.ErrNoEmbedding)
	}

	res := runAttempt(t, f.ctrl)
	assert.Equal(t, ErrCodeNoEmbedding, CodeOf(res.Err))
	assert.True(t, journalContains(f.journal, "Could not compute a face embedding"))
	assert.Equal(t, Idle, f.ctrl.State())
	assert.Equal(t, []string{capturePath}, f.captures.Deleted())
}

func TestStart_MatcherErrorIsNotNoEmbedding(t *testing.T) {
	f := newFixture(t, true)
	f.matcher.MatchFunc = func(image.Image) (recognition.MatchResult, error) {
		return recognition.MatchResult{}, recognition.ErrModelNotLoaded
	}

	res := runAttempt(t, f.ctrl)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, ErrCodeMatcher, CodeOf(res.Err))
	assert.ErrorIs(t, res.Err, recognition.ErrModelNotLoaded)
	assert.Equal(t, Idle, f.ctrl.State())
	assert.Equal(t, []string{capturePath}, f.captures.Deleted())
	assert.True(t, journalContains(f.journal, "Face recognition failed"))
	assert.False(t, journalContains(f.journal, "Could not compute a face embedding"))
}

func TestStart_ActuatorFailure(t *testing.T) {
	f := newFixture(t, true)
	f.actuator.StartFunc = func() error { return errors.New("coil fault") }

	res := runAttempt(t, f.ctrl)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, ErrCodeActuator, CodeOf(res.Err))
	assert.Equal(t, Idle, f.ctrl.State())
}

func TestStart_WhileRunning(t *testing.T) {
	f := newFixture(t, true)
	runAttempt(t, f.ctrl)

	a, err := f.ctrl.Start()
	assert.Nil(t, a)
	assert.Equal(t, ErrCodeAlreadyRunning, CodeOf(err))
}

func TestStart_AfterMotorFault(t *testing.T) {
	f := newFixture(t, true)
	runAttempt(t, f.ctrl)
	require.Equal(t, Running, f.ctrl.State())

	f.actuator.StopFunc = func() error { return errors.New("coil fault") }
	f.actuator.Halt()

	assert.Equal(t, Idle, f.ctrl.State())
	assert.True(t, journalContains(f.journal, "Motor stopped unexpectedly: coil fault"))
	assert.False(t, f.ctrl.Snapshot().MotorRunning)

	f.actuator.StopFunc = nil
	res := runAttempt(t, f.ctrl)
	assert.Equal(t, OutcomeStarted, res.Outcome)
	starts, _ := f.actuator.Counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, Running, f.ctrl.State())
}

func TestStart_WhilePendingIsBusy(t *testing.T) {
	f := newFixture(t, false)
	runAttempt(t, f.ctrl)

	a, err := f.ctrl.Start()
	assert.Nil(t, a)
	assert.Equal(t, ErrCodeBusy, CodeOf(err))
	assert.Equal(t, 1, f.gate.Calls())
}

func TestStart_JoinsAttemptInProgress(t *testing.T) {
	f := newFixture(t, true)
	f.ctrl.opts.Sensor.Window = 0
	var present atomic.Bool
	f.sensor.ActiveFunc = func() (bool, error) { return present.Load(), nil }

	first, err := f.ctrl.Start()
	require.NoError(t, err)
	second, err := f.ctrl.Start()
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, AwaitingSensor, f.ctrl.State())

	present.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := first.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStarted, res.Outcome)
	assert.Equal(t, 1, f.gate.Calls())
}

func TestResolve_ConcurrentApproveStartsOnce(t *testing.T) {
	f := newFixture(t, false)
	runAttempt(t, f.ctrl)

	const n = 16
	var wg sync.WaitGroup
	var ok, notPending atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := f.ctrl.Resolve(Approve); {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrNotPending):
				notPending.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, n-1, notPending.Load())

	starts, _ := f.actuator.Counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, []string{capturePath}, f.captures.Deleted())
	assert.Equal(t, Running, f.ctrl.State())

	require.NoError(t, f.ctrl.Close())
	assert.ElementsMatch(t, []notify.Event{notify.UnauthorizedAttempt, notify.VehicleStarted}, f.notifier.Events())
}

func TestResolve_Deny(t *testing.T) {
	f := newFixture(t, false)
	runAttempt(t, f.ctrl)

	require.NoError(t, f.ctrl.Resolve(Deny))
	assert.Equal(t, Idle, f.ctrl.State())
	assert.Equal(t, []string{capturePath}, f.captures.Deleted())
	starts, _ := f.actuator.Counts()
	assert.Zero(t, starts)

	assert.ErrorIs(t, f.ctrl.Resolve(Deny), ErrNotPending)
	assert.True(t, journalContains(f.journal, "Owner denied access"))
}

func TestResolve_NothingPending(t *testing.T) {
	f := newFixture(t, true)
	assert.ErrorIs(t, f.ctrl.Resolve(Approve), ErrNotPending)
	starts, _ := f.actuator.Counts()
	assert.Zero(t, starts)
}

func TestStop_WhileRunning(t *testing.T) {
	f := newFixture(t, true)
	runAttempt(t, f.ctrl)

	require.NoError(t, f.ctrl.Stop())
	assert.Equal(t, Idle, f.ctrl.State())
	assert.False(t, f.actuator.Running())
	_, stops := f.actuator.Counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, f.camera.Reinits())
	assert.True(t, journalContains(f.journal, "Vehicle stopped"))
}

func TestStop_CancelsAttempt(t *testing.T) {
	f := newFixture(t, true)
	f.ctrl.opts.Sensor.Window = 0
	f.sensor.ActiveFunc = func() (bool, error) { return false, nil }

	a, err := f.ctrl.Start()
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Stop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := a.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, ErrCodeCancelled, CodeOf(res.Err))
	assert.Equal(t, Idle, f.ctrl.State())
	assert.Zero(t, f.gate.Calls())
}

func TestStop_DropsPendingCapture(t *testing.T) {
	f := newFixture(t, false)
	runAttempt(t, f.ctrl)

	require.NoError(t, f.ctrl.Stop())
	assert.False(t, f.ctrl.IsPending())
	assert.Equal(t, []string{capturePath}, f.captures.Deleted())
	assert.ErrorIs(t, f.ctrl.Resolve(Approve), ErrNotPending)
}

func TestNotificationFailureIsJournaled(t *testing.T) {
	f := newFixture(t, false)
	f.notifier.NotifyFunc = func(context.Context, notify.Event) error {
		return errors.New("gateway returned 500")
	}

	runAttempt(t, f.ctrl)
	f.ctrl.notifications.Wait()

	assert.True(t, f.ctrl.IsPending())
	assert.True(t, journalContains(f.journal, "Failed to send SMS: gateway returned 500"))
}

func TestClose(t *testing.T) {
	f := newFixture(t, true)
	runAttempt(t, f.ctrl)

	require.NoError(t, f.ctrl.Close())
	require.NoError(t, f.ctrl.Close())
	assert.False(t, f.actuator.Running())

	_, err := f.ctrl.Start()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.ctrl.Resolve(Approve), ErrClosed)
}

func TestParseDecision(t *testing.T) {
	for in, want := range map[string]Decision{"yes": Approve, "approve": Approve, "no": Deny, "deny": Deny} {
		got, err := ParseDecision(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDecision("maybe")
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "awaiting_sensor", AwaitingSensor.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestAttemptWait_ContextDone(t *testing.T) {
	a := &Attempt{ID: "a", done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := a.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "a", res.AttemptID)
}
