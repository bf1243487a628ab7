package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrCodeEU/faceignition/pkg/logging"
	"github.com/MrCodeEU/faceignition/pkg/recognition"
)

type cacheDocument struct {
	Version     int                               `json:"version"`
	UpdatedAt   time.Time                         `json:"updated_at"`
	Descriptors map[string]recognition.Descriptor `json:"descriptors"`
}

// ProfileCache stores enrollment descriptors keyed by image content hash,
// encrypted at rest with NaCl secretbox.
type ProfileCache struct {
	path  string
	key   [KeySize]byte
	mu    sync.Mutex
	data  map[string]recognition.Descriptor
	dirty bool
}

// OpenProfileCache loads the cache at path. A missing or unreadable file
// yields an empty cache; the latter is logged and overwritten on Save.
func OpenProfileCache(path string) (*ProfileCache, error) {
	key, err := deriveKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	return openProfileCache(path, key)
}

func openProfileCache(path string, key [KeySize]byte) (*ProfileCache, error) {
	c := &ProfileCache{
		path: path,
		key:  key,
		data: make(map[string]recognition.Descriptor),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	log := logging.Component("storage")
	plain, err := open(&c.key, raw)
	if err != nil {
		log.WithField("path", path).Warn("Profile cache cannot be decrypted, rebuilding")
		return c, nil
	}

	var doc cacheDocument
	if err := json.Unmarshal(plain, &doc); err != nil {
		log.WithField("path", path).WithError(err).Warn("Profile cache is corrupt, rebuilding")
		return c, nil
	}
	if doc.Descriptors != nil {
		c.data = doc.Descriptors
	}
	log.WithField("entries", len(c.data)).Debug("Loaded profile cache")
	return c, nil
}

// Get returns the cached descriptor for key.
func (c *ProfileCache) Get(key string) (recognition.Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.data[key]
	return d, ok
}

// Put records a descriptor. It is persisted on the next Save.
func (c *ProfileCache) Put(key string, d recognition.Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = d
	c.dirty = true
}

// Len returns the number of cached descriptors.
func (c *ProfileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Save writes the cache if it changed since it was loaded.
func (c *ProfileCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	data, err := json.Marshal(cacheDocument{
		Version:     1,
		UpdatedAt:   time.Now(),
		Descriptors: c.data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal profile cache: %w", err)
	}

	data, err = seal(&c.key, data)
	if err != nil {
		return fmt.Errorf("failed to encrypt profile cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write profile cache: %w", err)
	}

	c.dirty = false
	logging.Component("storage").WithField("entries", len(c.data)).Debug("Saved profile cache")
	return nil
}
