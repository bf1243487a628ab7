package recognition

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/MrCodeEU/faceignition/pkg/logging"
)

// MaxEnrollmentDim bounds the longer side of an enrollment image before it
// is embedded. Phone photos are scaled down to it.
const MaxEnrollmentDim = 1280

// CapturePrefix names the attempt captures written next to the enrollment
// images. They are never enrolled, whatever the pattern.
const CapturePrefix = "captured_face_"

// ErrEnrollmentDirMissing is returned when the enrollment directory does not exist.
var ErrEnrollmentDirMissing = errors.New("enrollment directory not found")

// ErrNoProfiles is returned when no enrollment image produced a descriptor.
var ErrNoProfiles = errors.New("no valid reference profiles")

// ReferenceProfile is an enrolled owner image and its descriptor.
type ReferenceProfile struct {
	Source     string
	Descriptor Descriptor
	FromCache  bool
}

// DescriptorCache remembers descriptors by a content hash of the image.
type DescriptorCache interface {
	Get(key string) (Descriptor, bool)
	Put(key string, d Descriptor)
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".bmp":  true,
}

// LoadProfiles embeds every image in dir whose name matches pattern, in
// lexical order. Captures and images without a usable face are skipped.
// cache may be nil.
func LoadProfiles(dir, pattern string, embedder Embedder, cache DescriptorCache) ([]ReferenceProfile, error) {
	log := logging.Component("enrollment")

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrEnrollmentDirMissing, dir)
	}

	if pattern == "" {
		pattern = "*"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid enrollment pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)

	var profiles []ReferenceProfile
	for _, path := range matches {
		if !imageExtensions[strings.ToLower(filepath.Ext(path))] {
			continue
		}
		if strings.HasPrefix(filepath.Base(path), CapturePrefix) {
			log.WithField("source", filepath.Base(path)).Debug("Ignoring capture in enrollment directory")
			continue
		}

		profile, err := loadProfile(path, embedder, cache)
		if err != nil {
			log.WithField("source", filepath.Base(path)).WithError(err).Warn("Skipping enrollment image")
			continue
		}
		log.WithFields(logging.Fields{
			"source": profile.Source,
			"cached": profile.FromCache,
		}).Info("Loaded reference profile")
		profiles = append(profiles, profile)
	}

	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w in %s (pattern %s)", ErrNoProfiles, dir, pattern)
	}
	return profiles, nil
}

func loadProfile(path string, embedder Embedder, cache DescriptorCache) (ReferenceProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ReferenceProfile{}, err
	}

	profile := ReferenceProfile{Source: filepath.Base(path)}
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])

	if cache != nil {
		if d, ok := cache.Get(key); ok {
			profile.Descriptor = d
			profile.FromCache = true
			return profile, nil
		}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ReferenceProfile{}, fmt.Errorf("decode: %w", err)
	}

	d, err := embedder.Embed(downscale(img, MaxEnrollmentDim))
	if err != nil {
		return ReferenceProfile{}, err
	}
	profile.Descriptor = d

	if cache != nil {
		cache.Put(key, d)
	}
	return profile, nil
}

// downscale returns img scaled so that its longer side is at most maxDim.
func downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}
	if w >= h {
		h = h * maxDim / w
		w = maxDim
	} else {
		w = w * maxDim / h
		h = maxDim
	}
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
