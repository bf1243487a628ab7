package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrCodeEU/faceignition/pkg/logging"
	"github.com/MrCodeEU/faceignition/pkg/recognition"
)

// CapturePrefix is the file name prefix of every capture. Enrollment
// loading skips it.
const CapturePrefix = recognition.CapturePrefix

// ErrNotCapture is returned when a path outside the capture set is passed to Delete.
var ErrNotCapture = errors.New("path is not a capture file")

// CaptureStore writes accepted frames next to the enrollment images.
type CaptureStore struct {
	dir     string
	quality int
	mu      sync.Mutex
	now     func() time.Time
}

// NewCaptureStore creates a store writing JPEG files into dir.
func NewCaptureStore(dir string, jpegQuality int) (*CaptureStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 95
	}
	return &CaptureStore{dir: dir, quality: jpegQuality, now: time.Now}, nil
}

// Save encodes img to a uniquely named file and verifies it landed on disk.
func (s *CaptureStore) Save(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return "", fmt.Errorf("encode capture: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.uniquePath()
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return "", fmt.Errorf("write capture: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("verify capture: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(path)
		return "", fmt.Errorf("verify capture: %s is empty", path)
	}

	logging.Component("storage").WithField("path", path).Debug("Saved capture")
	return path, nil
}

func (s *CaptureStore) uniquePath() string {
	ts := s.now()
	for {
		name := fmt.Sprintf("%s%s_%06d.jpg", CapturePrefix, ts.Format("20060102_150405"), ts.Nanosecond()/1000)
		path := filepath.Join(s.dir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		ts = ts.Add(time.Microsecond)
	}
}

// List returns capture files, oldest first. Names sort chronologically.
func (s *CaptureStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isCaptureName(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(s.dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Delete removes a capture file. Deleting a file that is already gone is
// not an error.
func (s *CaptureStore) Delete(path string) error {
	if filepath.Dir(path) != filepath.Clean(s.dir) || !isCaptureName(filepath.Base(path)) {
		return fmt.Errorf("%w: %s", ErrNotCapture, path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete capture: %w", err)
	}
	logging.Component("storage").WithField("path", path).Debug("Deleted capture")
	return nil
}

// Prune deletes all but the newest keep captures and returns how many
// files were removed.
func (s *CaptureStore) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	files, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(files) <= keep {
		return 0, nil
	}

	removed := 0
	for _, path := range files[:len(files)-keep] {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("prune capture: %w", err)
		}
		removed++
	}
	logging.Component("storage").WithField("removed", removed).Debug("Pruned old captures")
	return removed, nil
}

func isCaptureName(name string) bool {
	return strings.HasPrefix(name, CapturePrefix) && strings.EqualFold(filepath.Ext(name), ".jpg")
}
