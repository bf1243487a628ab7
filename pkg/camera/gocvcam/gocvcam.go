// Package gocvcam implements camera.Device on top of OpenCV through gocv.
package gocvcam

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/MrCodeEU/faceignition/pkg/camera"
)

// Device is a V4L2/OpenCV capture device.
type Device struct {
	width, height int
	webcam        *gocv.VideoCapture
}

// New returns a device that requests the given resolution when opened.
func New(width, height int) *Device {
	return &Device{width: width, height: height}
}

// Open opens the capture device with the given index.
func (d *Device) Open(index int) error {
	if d.webcam != nil {
		_ = d.webcam.Close()
		d.webcam = nil
	}
	webcam, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return fmt.Errorf("open video capture %d: %w", index, err)
	}
	if !webcam.IsOpened() {
		_ = webcam.Close()
		return fmt.Errorf("%w: index %d", camera.ErrCameraNotFound, index)
	}
	if d.width > 0 && d.height > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(d.width))
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(d.height))
	}
	webcam.Set(gocv.VideoCaptureBufferSize, 1)
	d.webcam = webcam
	return nil
}

// IsOpen reports whether the device is open.
func (d *Device) IsOpen() bool {
	return d.webcam != nil && d.webcam.IsOpened()
}

// Grab discards n buffered frames.
func (d *Device) Grab(n int) error {
	if !d.IsOpen() {
		return camera.ErrCameraNotOpen
	}
	d.webcam.Grab(n)
	return nil
}

// Read captures and decodes one frame.
func (d *Device) Read() (camera.Frame, error) {
	if !d.IsOpen() {
		return camera.Frame{}, camera.ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := d.webcam.Read(&mat); !ok || mat.Empty() {
		return camera.Frame{}, camera.ErrNoFrame
	}

	img, err := mat.ToImage()
	if err != nil {
		return camera.Frame{}, fmt.Errorf("convert frame: %w", err)
	}

	return camera.Frame{
		Image:     img,
		Width:     mat.Cols(),
		Height:    mat.Rows(),
		Timestamp: time.Now(),
	}, nil
}

// Close releases the device.
func (d *Device) Close() error {
	if d.webcam == nil {
		return nil
	}
	err := d.webcam.Close()
	d.webcam = nil
	return err
}
