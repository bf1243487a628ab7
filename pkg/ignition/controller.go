// Package ignition owns the vehicle start state machine. A start request
// waits for the presence sensor, captures a quality-checked frame, matches
// it against the enrolled owners and either starts the motor or holds the
// attempt for a remote yes/no decision from the owner.
package ignition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrCodeEU/faceignition/pkg/actuator"
	"github.com/MrCodeEU/faceignition/pkg/camera"
	"github.com/MrCodeEU/faceignition/pkg/logging"
	"github.com/MrCodeEU/faceignition/pkg/notify"
	"github.com/MrCodeEU/faceignition/pkg/quality"
	"github.com/MrCodeEU/faceignition/pkg/recognition"
	"github.com/MrCodeEU/faceignition/pkg/sensor"
)

// State is the vehicle's ignition state.
type State int

const (
	Idle State = iota
	AwaitingSensor
	Capturing
	Matching
	Running
	PendingAuthorization
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingSensor:
		return "awaiting_sensor"
	case Capturing:
		return "capturing"
	case Matching:
		return "matching"
	case Running:
		return "running"
	case PendingAuthorization:
		return "pending_authorization"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Decision is the owner's answer to a pending authorization.
type Decision int

const (
	Approve Decision = iota
	Deny
)

// ParseDecision accepts the dashboard form values yes/no as well as
// approve/deny.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "yes", "approve":
		return Approve, nil
	case "no", "deny":
		return Deny, nil
	default:
		return Deny, fmt.Errorf("invalid decision %q", s)
	}
}

// Outcome summarizes how an attempt ended.
type Outcome string

const (
	OutcomeStarted   Outcome = "started"
	OutcomePending   Outcome = "pending_authorization"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Result is the outcome of one start attempt.
type Result struct {
	AttemptID string
	Outcome   Outcome
	Match     recognition.MatchResult
	Err       error
	Duration  time.Duration
}

// CaptureGate produces quality-checked frames.
type CaptureGate interface {
	Acquire(ctx context.Context) (*quality.CapturedFrame, error)
}

// Matcher compares a captured image against the enrolled owners.
type Matcher interface {
	Match(img image.Image) (recognition.MatchResult, error)
}

// Actuator turns the motor.
type Actuator interface {
	Start() error
	Stop() error
	Running() bool
}

// Notifier alerts the owner.
type Notifier interface {
	Notify(ctx context.Context, event notify.Event) error
}

// Camera can be reset between cycles.
type Camera interface {
	Reinitialize() error
}

// Captures removes capture files.
type Captures interface {
	Delete(path string) error
}

// Journal receives operator-facing messages.
type Journal interface {
	Appendf(format string, args ...interface{})
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Gate     CaptureGate
	Matcher  Matcher
	Actuator Actuator
	Notifier Notifier
	Sensor   sensor.Sensor
	Camera   Camera
	Captures Captures
	Journal  Journal
}

// Options tunes a Controller.
type Options struct {
	Sensor        sensor.WaitOptions
	NotifyTimeout time.Duration
}

// Attempt is one start attempt, from the sensor wait to its outcome.
type Attempt struct {
	ID      string
	Started time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	result Result

	// notified guards the unauthorized alert so it goes out at most once.
	notified bool
}

// Done is closed when the attempt reached an outcome.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the attempt finishes or ctx is done.
func (a *Attempt) Wait(ctx context.Context) (Result, error) {
	select {
	case <-a.done:
		return a.result, nil
	case <-ctx.Done():
		return Result{AttemptID: a.ID}, ctx.Err()
	}
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State          string `json:"state"`
	MotorRunning   bool   `json:"motor_running"`
	Pending        bool   `json:"pending_authorization"`
	AttemptID      string `json:"attempt_id,omitempty"`
	PendingCapture string `json:"pending_capture,omitempty"`
	LastOutcome    string `json:"last_outcome,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

// Controller is the single owner of the vehicle's ignition state.
type Controller struct {
	deps Deps
	opts Options

	mu          sync.Mutex
	state       State
	current     *Attempt
	pendingPath string
	pendingID   string
	last        *Result
	closed      bool

	baseCtx       context.Context
	baseCancel    context.CancelFunc
	workers       sync.WaitGroup
	notifications sync.WaitGroup
	now           func() time.Time
}

// NewController creates an idle controller.
func NewController(deps Deps, opts Options) *Controller {
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		deps:       deps,
		opts:       opts,
		state:      Idle,
		baseCtx:    ctx,
		baseCancel: cancel,
		now:        time.Now,
	}
}

// Start begins a start attempt on a background worker. If an attempt is
// already waiting on the sensor or capturing, that attempt is returned
// instead of spawning a second one.
func (c *Controller) Start() (*Attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	c.reconcileLocked()
	switch c.state {
	case Running:
		c.journal("Vehicle is already running")
		return nil, NewAttemptError(ErrCodeAlreadyRunning, nil)
	case PendingAuthorization:
		c.journal("Start ignored, waiting for owner authorization")
		return nil, NewAttemptError(ErrCodeBusy, nil)
	}
	if c.current != nil {
		return c.current, nil
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	a := &Attempt{
		ID:      uuid.NewString(),
		Started: c.now(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.current = a
	c.state = AwaitingSensor

	logging.Component("ignition").WithField("attempt", a.ID).Info("Start attempt begun")
	c.workers.Add(1)
	go c.run(a)
	return a, nil
}

// Stop halts the motor, cancels any attempt in progress, drops a pending
// authorization and leaves the camera reopened for the next cycle.
func (c *Controller) Stop() error {
	err := c.halt()
	c.journal("Vehicle stopped")

	if c.deps.Camera != nil {
		if camErr := c.deps.Camera.Reinitialize(); camErr != nil {
			c.journal("Camera reinitialization failed: %v", camErr)
		}
	}
	return err
}

func (c *Controller) halt() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a := c.current; a != nil {
		a.cancel()
		c.current = nil
	}

	var err error
	if c.state == Running || c.deps.Actuator.Running() {
		err = c.deps.Actuator.Stop()
	}
	c.clearPendingLocked()
	c.state = Idle
	return err
}

// Resolve applies the owner's decision to the pending attempt. It returns
// ErrNotPending when nothing awaits a decision, which makes repeated
// resolutions harmless.
func (c *Controller) Resolve(d Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state != PendingAuthorization {
		return ErrNotPending
	}

	log := logging.Component("ignition").WithField("attempt", c.pendingID)
	switch d {
	case Approve:
		log.Info("Owner approved start")
		c.journal("Owner authorized the start. Starting motor...")
		return c.startLocked()
	default:
		log.Info("Owner denied start")
		c.clearPendingLocked()
		c.state = Idle
		c.journal("Owner denied access. Vehicle remains stopped")
		return nil
	}
}

// IsPending reports whether an attempt awaits the owner's decision.
func (c *Controller) IsPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == PendingAuthorization
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()
	return c.state
}

// PendingCapture returns the capture awaiting a decision.
func (c *Controller) PendingCapture() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingPath, c.state == PendingAuthorization && c.pendingPath != ""
}

// Snapshot returns the current state for display.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()

	s := Snapshot{
		State:          c.state.String(),
		MotorRunning:   c.deps.Actuator.Running(),
		Pending:        c.state == PendingAuthorization,
		PendingCapture: c.pendingPath,
	}
	if c.current != nil {
		s.AttemptID = c.current.ID
	} else if c.pendingID != "" {
		s.AttemptID = c.pendingID
	}
	if c.last != nil {
		s.LastOutcome = string(c.last.Outcome)
		if c.last.Err != nil {
			s.LastError = c.last.Err.Error()
		}
	}
	return s
}

// Close stops everything and waits for workers and notifications.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.halt()
	c.baseCancel()
	c.workers.Wait()
	c.notifications.Wait()
	return err
}

func (c *Controller) run(a *Attempt) {
	defer c.workers.Done()
	log := logging.Component("ignition").WithField("attempt", a.ID)

	c.journal("Waiting for IR sensor...")
	if err := sensor.WaitActive(a.ctx, c.deps.Sensor, c.opts.Sensor); err != nil {
		if a.ctx.Err() != nil {
			c.finish(a, OutcomeCancelled, NewAttemptError(ErrCodeCancelled, err))
			return
		}
		c.journal("No finger detected on the IR sensor, attempt aborted")
		c.finish(a, OutcomeFailed, NewAttemptError(ErrCodeSensorTimeout, err))
		return
	}

	if !c.advance(a, Capturing) {
		c.finish(a, OutcomeCancelled, NewAttemptError(ErrCodeCancelled, nil))
		return
	}
	c.journal("IR sensor triggered! Starting face recognition...")

	frame, err := c.deps.Gate.Acquire(a.ctx)
	if err != nil {
		switch {
		case a.ctx.Err() != nil:
			c.finish(a, OutcomeCancelled, NewAttemptError(ErrCodeCancelled, err))
		case errors.Is(err, camera.ErrCameraUnavailable):
			log.WithError(err).Error("Camera unavailable")
			c.journal("Camera unavailable: %v", err)
			c.finish(a, OutcomeFailed, NewAttemptError(ErrCodeCamera, err))
		default:
			c.finish(a, OutcomeFailed, NewAttemptError(ErrCodeQuality, err))
		}
		return
	}

	if !c.advance(a, Matching) {
		c.deleteCapture(frame.Path)
		c.finish(a, OutcomeCancelled, NewAttemptError(ErrCodeCancelled, nil))
		return
	}

	match, err := c.deps.Matcher.Match(frame.Image)
	if err != nil {
		c.deleteCapture(frame.Path)
		if errors.Is(err, recognition.ErrNoEmbedding) {
			c.journal("Could not compute a face embedding from the captured image")
			c.finish(a, OutcomeFailed, NewAttemptError(ErrCodeNoEmbedding, err))
			return
		}
		log.WithError(err).Error("Matching failed")
		c.journal("Face recognition failed: %v", err)
		c.finish(a, OutcomeFailed, NewAttemptError(ErrCodeMatcher, err))
		return
	}

	c.conclude(a, frame, match)
}

// advance moves a live attempt to the next state. It reports false when
// the attempt was cancelled in the meantime.
func (c *Controller) advance(a *Attempt, next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != a || a.ctx.Err() != nil {
		return false
	}
	c.state = next
	return true
}

func (c *Controller) conclude(a *Attempt, frame *quality.CapturedFrame, match recognition.MatchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := Result{AttemptID: a.ID, Match: match}

	if c.current != a || a.ctx.Err() != nil {
		c.deleteCapture(frame.Path)
		result.Outcome = OutcomeCancelled
		result.Err = NewAttemptError(ErrCodeCancelled, nil)
		c.completeLocked(a, result)
		return
	}
	c.current = nil

	if match.Matched {
		source := ""
		if match.Profile != nil {
			source = match.Profile.Source
		}
		c.journal("Face recognized (%s, confidence %.1f%%)! Starting motor...", source, match.Confidence)
		c.pendingPath = frame.Path
		c.pendingID = a.ID
		if err := c.startLocked(); err != nil {
			result.Outcome = OutcomeFailed
			result.Err = err
		} else {
			result.Outcome = OutcomeStarted
		}
		c.completeLocked(a, result)
		return
	}

	c.state = PendingAuthorization
	c.pendingPath = frame.Path
	c.pendingID = a.ID
	c.journal("Face not recognized! Waiting for owner authorization...")
	if !a.notified {
		a.notified = true
		c.notifyLocked(notify.UnauthorizedAttempt)
	}
	result.Outcome = OutcomePending
	c.completeLocked(a, result)
}

// reconcileLocked leaves Running when the motor loop ended on its own, for
// example after a coil write failure.
func (c *Controller) reconcileLocked() {
	if c.state != Running || c.deps.Actuator.Running() {
		return
	}
	if err := c.deps.Actuator.Stop(); err != nil {
		c.journal("Motor stopped unexpectedly: %v", err)
	} else {
		c.journal("Motor stopped unexpectedly")
	}
	c.state = Idle
}

// startLocked drops the pending capture and turns the motor on.
func (c *Controller) startLocked() error {
	c.clearPendingLocked()

	if err := c.deps.Actuator.Start(); err != nil && !errors.Is(err, actuator.ErrAlreadyRunning) {
		c.state = Idle
		c.journal("Failed to start motor: %v", err)
		return NewAttemptError(ErrCodeActuator, err)
	}
	c.state = Running
	c.journal("Vehicle started")
	c.notifyLocked(notify.VehicleStarted)
	return nil
}

func (c *Controller) clearPendingLocked() {
	if c.pendingPath != "" {
		c.deleteCapture(c.pendingPath)
	}
	c.pendingPath = ""
	c.pendingID = ""
}

func (c *Controller) finish(a *Attempt, outcome Outcome, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == a {
		c.current = nil
		c.state = Idle
	}
	c.completeLocked(a, Result{AttemptID: a.ID, Outcome: outcome, Err: err})
}

func (c *Controller) completeLocked(a *Attempt, r Result) {
	r.Duration = c.now().Sub(a.Started)
	a.result = r
	c.last = &r
	a.cancel()
	close(a.done)

	entry := logging.Component("ignition").WithFields(logging.Fields{
		"attempt":  a.ID,
		"outcome":  r.Outcome,
		"duration": r.Duration.String(),
	})
	if r.Err != nil {
		entry = entry.WithField("code", CodeOf(r.Err))
	}
	entry.Info("Start attempt finished")
}

func (c *Controller) deleteCapture(path string) {
	if path == "" || c.deps.Captures == nil {
		return
	}
	if err := c.deps.Captures.Delete(path); err != nil {
		logging.Component("ignition").WithError(err).WithField("path", path).Warn("Failed to delete capture")
	}
}

// notifyLocked sends event in the background. Failures are journaled and
// never affect the transition that triggered them.
func (c *Controller) notifyLocked(event notify.Event) {
	if c.closed || c.deps.Notifier == nil {
		return
	}
	c.notifications.Add(1)
	go func() {
		defer c.notifications.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.NotifyTimeout)
		defer cancel()

		if err := c.deps.Notifier.Notify(ctx, event); err != nil {
			logging.Component("ignition").WithError(err).WithField("event", event.String()).Warn("Notification failed")
			c.journal("Failed to send SMS: %v", err)
			return
		}
		if event == notify.UnauthorizedAttempt {
			c.journal("Unauthorized access detected, SMS sent to owner")
		} else {
			c.journal("SMS sent successfully")
		}
	}()
}

func (c *Controller) journal(format string, args ...interface{}) {
	if c.deps.Journal != nil {
		c.deps.Journal.Appendf(format, args...)
	}
}
