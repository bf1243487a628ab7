// Package quality implements the capture quality gate. It grabs frames from
// the camera until one passes every check, persists it and hands it back
// for matching.
package quality

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/MrCodeEU/faceignition/pkg/camera"
	"github.com/MrCodeEU/faceignition/pkg/logging"
	"github.com/MrCodeEU/faceignition/pkg/recognition"
)

// Camera provides serialized device access.
type Camera interface {
	WithDevice(fn func(camera.Device) error) error
}

// Store persists accepted frames.
type Store interface {
	Save(img image.Image) (string, error)
	Prune(keep int) (int, error)
}

// Sink receives operator-facing messages.
type Sink interface {
	Appendf(format string, args ...interface{})
}

// CapturedFrame is a frame that passed every quality check and was saved.
type CapturedFrame struct {
	Path       string
	Image      image.Image
	Face       recognition.Face
	Brightness float64
	Timestamp  time.Time
}

// QualityFailure is returned when the retry bound was reached without an
// acceptable frame.
type QualityFailure struct {
	Attempts int
	Last     *Rejection
}

func (e *QualityFailure) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("no acceptable frame after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("no acceptable frame after %d attempts, last: %s", e.Attempts, e.Last.Reason)
}

// Gate acquires quality-checked frames.
type Gate struct {
	camera     Camera
	detector   recognition.Detector
	store      Store
	sink       Sink
	th         Thresholds
	retryDelay time.Duration
}

// NewGate creates a Gate. sink may be nil.
func NewGate(cam Camera, detector recognition.Detector, store Store, sink Sink, th Thresholds, retryDelay time.Duration) *Gate {
	if th.MaxAttempts <= 0 {
		th.MaxAttempts = 1
	}
	return &Gate{
		camera:     cam,
		detector:   detector,
		store:      store,
		sink:       sink,
		th:         th,
		retryDelay: retryDelay,
	}
}

// Acquire returns the first frame that passes every check. It returns a
// *QualityFailure when MaxAttempts frames were rejected, an error wrapping
// camera.ErrCameraUnavailable when the device cannot be opened, and the
// context error when ctx is cancelled between attempts.
func (g *Gate) Acquire(ctx context.Context) (*CapturedFrame, error) {
	log := logging.Component("quality")

	if removed, err := g.store.Prune(g.th.Keep); err != nil {
		log.WithError(err).Warn("Failed to prune old captures")
	} else if removed > 0 {
		log.WithField("removed", removed).Debug("Removed stale captures")
	}

	var last *Rejection
	for attempt := 1; attempt <= g.th.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		g.report("Capture attempt %d/%d", attempt, g.th.MaxAttempts)

		captured, rej, err := g.attempt()
		if err != nil {
			return nil, err
		}
		if rej == nil {
			g.report("Good quality image captured (brightness: %.1f, face: %dx%d)",
				captured.Brightness, captured.Face.BoundingBox.Width, captured.Face.BoundingBox.Height)
			return captured, nil
		}

		last = rej
		g.report("%s", rej.Message)
		log.WithFields(logging.Fields{
			"attempt":  attempt,
			"reason":   rej.Reason,
			"measured": rej.Measured,
			"limit":    rej.Limit,
		}).Debug("Frame rejected")

		if attempt < g.th.MaxAttempts {
			if err := sleepCtx(ctx, g.retryDelay); err != nil {
				return nil, err
			}
		}
	}

	g.report("Failed to capture good quality image after %d attempts", g.th.MaxAttempts)
	return nil, &QualityFailure{Attempts: g.th.MaxAttempts, Last: last}
}

// attempt grabs one frame and evaluates it. The camera lock is held only
// while reading from the device.
func (g *Gate) attempt() (*CapturedFrame, *Rejection, error) {
	var frame camera.Frame
	err := g.camera.WithDevice(func(d camera.Device) error {
		if g.th.FlushFrames > 0 {
			if err := d.Grab(g.th.FlushFrames); err != nil {
				return err
			}
		}
		f, err := d.Read()
		frame = f
		return err
	})
	if err != nil {
		if errors.Is(err, camera.ErrCameraUnavailable) {
			return nil, nil, err
		}
		return nil, &Rejection{
			Reason:  ReasonReadFailed,
			Message: fmt.Sprintf("Failed to capture frame: %v", err),
		}, nil
	}

	brightness, rej := CheckBrightness(frame.Image, g.th)
	if rej != nil {
		return nil, rej, nil
	}

	faces, err := g.detector.Detect(frame.Image)
	if err != nil {
		return nil, &Rejection{
			Reason:  ReasonDetectionFailed,
			Message: fmt.Sprintf("Face detection failed: %v", err),
		}, nil
	}

	face, rej := CheckFaces(frame.Image.Bounds(), faces, g.th)
	if rej != nil {
		return nil, rej, nil
	}

	path, err := g.store.Save(frame.Image)
	if err != nil {
		return nil, &Rejection{
			Reason:  ReasonSaveFailed,
			Message: fmt.Sprintf("Failed to save captured image: %v", err),
		}, nil
	}

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &CapturedFrame{
		Path:       path,
		Image:      frame.Image,
		Face:       *face,
		Brightness: brightness,
		Timestamp:  ts,
	}, nil, nil
}

func (g *Gate) report(format string, args ...interface{}) {
	if g.sink != nil {
		g.sink.Appendf(format, args...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
