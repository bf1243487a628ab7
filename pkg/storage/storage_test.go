package storage

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrCodeEU/faceignition/pkg/logging"
	"github.com/MrCodeEU/faceignition/pkg/recognition"
)

func init() {
	logging.Discard()
}

func testFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 180, B: 160, A: 255})
		}
	}
	return img
}

func newTestStore(t *testing.T) (*CaptureStore, *time.Time) {
	t.Helper()
	store, err := NewCaptureStore(t.TempDir(), 90)
	if err != nil {
		t.Fatalf("NewCaptureStore failed: %v", err)
	}
	now := time.Date(2026, 4, 2, 9, 30, 0, 123456000, time.Local)
	store.now = func() time.Time { return now }
	return store, &now
}

func TestCaptureStore_Save(t *testing.T) {
	store, _ := newTestStore(t)

	path, err := store.Save(testFrame())
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if got := filepath.Base(path); got != "captured_face_20260402_093000_123456.jpg" {
		t.Errorf("unexpected file name %s", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("capture not on disk: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("capture is not a JPEG: %v", err)
	}
}

func TestCaptureStore_SaveUniqueNames(t *testing.T) {
	store, _ := newTestStore(t)

	first, err := store.Save(testFrame())
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Save(testFrame())
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("two saves with the same clock must not collide")
	}
}

func TestCaptureStore_List(t *testing.T) {
	store, now := newTestStore(t)

	if files, err := store.List(); err != nil || len(files) != 0 {
		t.Errorf("expected no captures on empty store, got %v, %v", files, err)
	}

	var paths []string
	for i := 0; i < 3; i++ {
		*now = now.Add(time.Second)
		p, err := store.Save(testFrame())
		if err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	if err := os.WriteFile(filepath.Join(store.dir, "owner_face1.jpg"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	files, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 captures, got %v", files)
	}
	for i, p := range paths {
		if files[i] != p {
			t.Errorf("files[%d] = %s, want %s", i, files[i], p)
		}
	}
}

func TestCaptureStore_Prune(t *testing.T) {
	store, now := newTestStore(t)
	var paths []string
	for i := 0; i < 4; i++ {
		*now = now.Add(time.Second)
		p, err := store.Save(testFrame())
		if err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	removed, err := store.Prune(1)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 removed, got %d", removed)
	}
	files, _ := store.List()
	if len(files) != 1 || files[0] != paths[3] {
		t.Errorf("expected only newest capture to survive, got %v", files)
	}

	removed, err = store.Prune(1)
	if err != nil || removed != 0 {
		t.Errorf("second prune should be a no-op, got %d, %v", removed, err)
	}

	removed, _ = store.Prune(0)
	if removed != 1 {
		t.Errorf("prune to zero should remove the last capture, got %d", removed)
	}
}

func TestCaptureStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	path, err := store.Save(testFrame())
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(path); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected capture to be removed")
	}
	if err := store.Delete(path); err != nil {
		t.Errorf("deleting a missing capture should succeed: %v", err)
	}
}

func TestCaptureStore_DeleteRejectsForeignPaths(t *testing.T) {
	store, _ := newTestStore(t)
	owner := filepath.Join(store.dir, "owner_face1.jpg")
	if err := os.WriteFile(owner, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []string{
		owner,
		filepath.Join(t.TempDir(), "captured_face_20260101_000000_000000.jpg"),
		"/etc/passwd",
	}
	for _, path := range tests {
		if err := store.Delete(path); !errors.Is(err, ErrNotCapture) {
			t.Errorf("Delete(%s) = %v, want ErrNotCapture", path, err)
		}
	}
	if _, err := os.Stat(owner); err != nil {
		t.Error("enrollment image must not be deleted")
	}
}

func TestProfileCache_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "profiles.enc")
	var key [KeySize]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")

	cache, err := openProfileCache(path, key)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("expected empty cache, got %d", cache.Len())
	}

	d := recognition.Descriptor{0.1, 0.2, 0.3}
	cache.Put("abc", d)
	if err := cache.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, []byte("descriptors")) {
		t.Error("cache must be encrypted at rest")
	}

	reopened, err := openProfileCache(path, key)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := reopened.Get("abc")
	if !ok {
		t.Fatal("expected cached descriptor")
	}
	if got != d {
		t.Errorf("descriptor changed: %v", got[:3])
	}
}

func TestProfileCache_WrongKeyRebuilds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.enc")
	var key1, key2 [KeySize]byte
	key2[0] = 1

	cache, _ := openProfileCache(path, key1)
	cache.Put("abc", recognition.Descriptor{1})
	if err := cache.Save(); err != nil {
		t.Fatal(err)
	}

	other, err := openProfileCache(path, key2)
	if err != nil {
		t.Fatalf("a foreign cache should be ignored, got %v", err)
	}
	if other.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", other.Len())
	}
}

func TestProfileCache_SaveSkipsWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.enc")
	cache, err := OpenProfileCache(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.Save(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("clean cache should not be written")
	}
}

func TestSealOpen(t *testing.T) {
	key, err := deriveKey()
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("descriptor payload")

	sealed, err := seal(&key, plaintext)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if bytes.Equal(sealed[NonceSize:], plaintext) {
		t.Error("ciphertext equals plaintext")
	}

	opened, err := open(&key, sealed)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("round trip mismatch: %q", opened)
	}
}

func TestOpen_InvalidData(t *testing.T) {
	key, _ := deriveKey()

	if _, err := open(&key, []byte("short")); !errors.Is(err, ErrEncryption) {
		t.Errorf("expected ErrEncryption for short input, got %v", err)
	}
	garbage := make([]byte, NonceSize+32)
	if _, err := open(&key, garbage); !errors.Is(err, ErrEncryption) {
		t.Errorf("expected ErrEncryption for garbage, got %v", err)
	}
}
