// Package dlib implements recognition.Detector and recognition.Embedder with
// dlib through go-face.
package dlib

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/MrCodeEU/faceignition/pkg/logging"
	"github.com/MrCodeEU/faceignition/pkg/recognition"
)

// faceEngine is the subset of *face.Recognizer used here.
type faceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	RecognizeSingle(imgData []byte) (*face.Face, error)
	Close()
}

// Recognizer wraps a dlib recognizer. go-face is not safe for concurrent
// use, so calls are serialized.
type Recognizer struct {
	mu          sync.Mutex
	rec         faceEngine
	jpegQuality int
}

// NewRecognizer loads the dlib models from modelPath. The directory must
// contain shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat and mmod_human_face_detector.dat.
func NewRecognizer(modelPath string, jpegQuality int) (*Recognizer, error) {
	logging.Infof("Loading face recognition models from: %s", modelPath)

	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}

	logging.Infof("Face recognition models loaded successfully")
	return newRecognizer(rec, jpegQuality), nil
}

func newRecognizer(engine faceEngine, jpegQuality int) *Recognizer {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 95
	}
	return &Recognizer{rec: engine, jpegQuality: jpegQuality}
}

// Close releases the recognizer resources.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec != nil {
		r.rec.Close()
		r.rec = nil
	}
	return nil
}

// Detect returns every face in img with its bounding box, landmarks and
// descriptor.
func (r *Recognizer) Detect(img image.Image) ([]recognition.Face, error) {
	data, err := r.encode(img)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return nil, recognition.ErrModelNotLoaded
	}

	faces, err := r.rec.Recognize(data)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	result := make([]recognition.Face, len(faces))
	for i, f := range faces {
		result[i] = convert(f)
	}

	logging.Debugf("Detected %d face(s) in image", len(result))
	return result, nil
}

// Embed returns the descriptor of the single face in img. It returns
// recognition.ErrNoEmbedding when dlib cannot produce exactly one descriptor.
func (r *Recognizer) Embed(img image.Image) (recognition.Descriptor, error) {
	data, err := r.encode(img)
	if err != nil {
		return recognition.Descriptor{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return recognition.Descriptor{}, recognition.ErrModelNotLoaded
	}

	f, err := r.rec.RecognizeSingle(data)
	if err != nil {
		return recognition.Descriptor{}, fmt.Errorf("face recognition failed: %w", err)
	}
	if f == nil {
		return recognition.Descriptor{}, recognition.ErrNoEmbedding
	}
	return recognition.Descriptor(f.Descriptor), nil
}

// encode converts img to JPEG, the only input format go-face accepts.
func (r *Recognizer) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func convert(f face.Face) recognition.Face {
	rect := f.Rectangle
	landmarks := make([]recognition.Point, len(f.Shapes))
	for i, p := range f.Shapes {
		landmarks[i] = recognition.Point{X: p.X, Y: p.Y}
	}
	return recognition.Face{
		BoundingBox: recognition.Rectangle{
			X:      rect.Min.X,
			Y:      rect.Min.Y,
			Width:  rect.Dx(),
			Height: rect.Dy(),
		},
		Landmarks:  landmarks,
		Descriptor: recognition.Descriptor(f.Descriptor),
	}
}
