// Package recognition provides face detection results, descriptor comparison,
// enrollment loading and owner matching. The dlib backend lives in the dlib
// subpackage so this package stays free of cgo.
package recognition

import (
	"errors"
	"image"
	"math"

	"gonum.org/v1/gonum/floats"
)

// DescriptorSize is the length of a dlib face descriptor.
const DescriptorSize = 128

// Face represents a detected face in an image.
type Face struct {
	BoundingBox Rectangle
	Landmarks   []Point
	Descriptor  Descriptor
}

// Rectangle represents a bounding box.
type Rectangle struct {
	X, Y          int
	Width, Height int
}

// Center returns the midpoint of the rectangle.
func (r Rectangle) Center() (float64, float64) {
	return float64(r.X) + float64(r.Width)/2, float64(r.Y) + float64(r.Height)/2
}

// Point represents a 2D point.
type Point struct {
	X, Y int
}

// Descriptor is a 128-dimensional face descriptor.
type Descriptor [DescriptorSize]float32

// Detector finds faces and their landmarks in an image.
type Detector interface {
	Detect(img image.Image) ([]Face, error)
}

// Embedder computes the descriptor of the single face in an image.
type Embedder interface {
	Embed(img image.Image) (Descriptor, error)
}

// ErrNoEmbedding is returned when a face was detected but no descriptor
// could be computed for it.
var ErrNoEmbedding = errors.New("no face embedding could be computed")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// EuclideanDistance calculates the Euclidean distance between two descriptors.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	a := make([]float64, DescriptorSize)
	b := make([]float64, DescriptorSize)
	for i := range d1 {
		a[i] = float64(d1[i])
		b[i] = float64(d2[i])
	}
	return floats.Distance(a, b, 2)
}

// Confidence converts a distance into a percentage score, (1 - d) * 100,
// clamped at zero.
func Confidence(distance float64) float64 {
	return math.Max(0, (1-distance)*100)
}
