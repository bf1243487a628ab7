package quality

import (
	"fmt"
	"image"
	"math"

	"github.com/MrCodeEU/faceignition/pkg/recognition"
)

// Reason identifies why a frame was rejected.
type Reason string

// Rejection reasons.
const (
	ReasonReadFailed      Reason = "READ_FAILED"
	ReasonTooDark         Reason = "TOO_DARK"
	ReasonDetectionFailed Reason = "DETECTION_FAILED"
	ReasonNoFace          Reason = "NO_FACE"
	ReasonMultipleFaces   Reason = "MULTIPLE_FACES"
	ReasonTooSmall        Reason = "TOO_SMALL"
	ReasonNotCentered     Reason = "NOT_CENTERED"
	ReasonRotated         Reason = "ROTATED"
	ReasonSaveFailed      Reason = "SAVE_FAILED"
)

// Rejection describes a frame that failed a quality check.
type Rejection struct {
	Reason   Reason
	Measured float64
	Limit    float64
	Message  string
}

func (r *Rejection) Error() string {
	return r.Message
}

// Thresholds configures the quality checks.
type Thresholds struct {
	FlushFrames     int
	MinBrightness   float64
	MinFaceSize     int
	CenterTolerance float64
	CheckAngle      bool
	MaxTiltDegrees  float64
	MaxAttempts     int
	Keep            int
}

// DefaultThresholds returns the strictest thresholds used in the field.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FlushFrames:     5,
		MinBrightness:   50,
		MinFaceSize:     150,
		CenterTolerance: 0.2,
		CheckAngle:      true,
		MaxTiltDegrees:  15,
		MaxAttempts:     10,
		Keep:            1,
	}
}

// Luminance returns the mean gray level of img on a 0-255 scale.
func Luminance(img image.Image) float64 {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}

	var sum float64
	switch src := img.(type) {
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)]
			for _, v := range row {
				sum += float64(v)
			}
		}
	case *image.RGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)]
			for i := 0; i+3 < len(row); i += 4 {
				sum += gray(uint32(row[i]), uint32(row[i+1]), uint32(row[i+2]))
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bb, _ := img.At(x, y).RGBA()
				sum += gray(r>>8, g>>8, bb>>8)
			}
		}
	}
	return sum / float64(n)
}

// gray uses the ITU-R BT.601 weights OpenCV applies for BGR2GRAY.
func gray(r, g, b uint32) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

// CheckBrightness rejects frames darker than the configured minimum.
func CheckBrightness(img image.Image, th Thresholds) (float64, *Rejection) {
	brightness := Luminance(img)
	if brightness < th.MinBrightness {
		return brightness, &Rejection{
			Reason:   ReasonTooDark,
			Measured: brightness,
			Limit:    th.MinBrightness,
			Message:  fmt.Sprintf("Image too dark (brightness: %.1f) - please ensure good lighting", brightness),
		}
	}
	return brightness, nil
}

// CheckFaces verifies there is exactly one face and that it is large
// enough, centered and level. frame is the bounds of the source image.
func CheckFaces(frame image.Rectangle, faces []recognition.Face, th Thresholds) (*recognition.Face, *Rejection) {
	switch {
	case len(faces) == 0:
		return nil, &Rejection{
			Reason:  ReasonNoFace,
			Message: "No face detected - please position your face in front of the camera",
		}
	case len(faces) > 1:
		return nil, &Rejection{
			Reason:   ReasonMultipleFaces,
			Measured: float64(len(faces)),
			Limit:    1,
			Message:  fmt.Sprintf("Multiple faces detected (%d) - only one person allowed", len(faces)),
		}
	}

	f := &faces[0]
	box := f.BoundingBox

	if box.Width < th.MinFaceSize || box.Height < th.MinFaceSize {
		return nil, &Rejection{
			Reason:   ReasonTooSmall,
			Measured: float64(min(box.Width, box.Height)),
			Limit:    float64(th.MinFaceSize),
			Message:  fmt.Sprintf("Face too small (%dx%d) - please move closer to the camera", box.Width, box.Height),
		}
	}

	halfW := float64(frame.Dx()) / 2
	halfH := float64(frame.Dy()) / 2
	if halfW > 0 && halfH > 0 {
		cx, cy := box.Center()
		xOffset := math.Abs(cx-(float64(frame.Min.X)+halfW)) / halfW
		yOffset := math.Abs(cy-(float64(frame.Min.Y)+halfH)) / halfH
		if offset := math.Max(xOffset, yOffset); offset > th.CenterTolerance {
			return nil, &Rejection{
				Reason:   ReasonNotCentered,
				Measured: offset,
				Limit:    th.CenterTolerance,
				Message:  fmt.Sprintf("Face not centered (offset: %.0f%%) - please look straight at the camera", offset*100),
			}
		}
	}

	if th.CheckAngle {
		if angle, ok := EyeLineAngle(f.Landmarks); ok && math.Abs(angle) > th.MaxTiltDegrees {
			return nil, &Rejection{
				Reason:   ReasonRotated,
				Measured: angle,
				Limit:    th.MaxTiltDegrees,
				Message:  fmt.Sprintf("Face rotated (angle: %.1f°) - please face straight forward", angle),
			}
		}
	}

	return f, nil
}

// EyeLineAngle returns the tilt in degrees of the line between the eye
// centers, measured left to right. It understands the dlib 5-point and
// 68-point layouts and reports false for anything else.
func EyeLineAngle(landmarks []recognition.Point) (float64, bool) {
	var a, b [2]float64
	switch len(landmarks) {
	case 5:
		a = centroid(landmarks[0:2])
		b = centroid(landmarks[2:4])
	case 68:
		a = centroid(landmarks[36:42])
		b = centroid(landmarks[42:48])
	default:
		return 0, false
	}

	dx := b[0] - a[0]
	dy := b[1] - a[1]
	if dx < 0 {
		dx, dy = -dx, -dy
	}
	if dx == 0 && dy == 0 {
		return 0, false
	}
	return math.Atan2(dy, dx) * 180 / math.Pi, true
}

func centroid(points []recognition.Point) [2]float64 {
	var c [2]float64
	for _, p := range points {
		c[0] += float64(p.X)
		c[1] += float64(p.Y)
	}
	n := float64(len(points))
	return [2]float64{c[0] / n, c[1] / n}
}
