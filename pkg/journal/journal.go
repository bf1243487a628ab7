// Package journal holds the operator-facing event log shown on the dashboard.
//
// The journal is an append-only, capped sequence of timestamped messages.
// Writers append under a mutex; stream readers poll Total, which is an atomic
// counter, and only take a snapshot when it moved.
package journal

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrCodeEU/faceignition/pkg/logging"
)

// DefaultMaxEntries is the retention used when New is given a non-positive cap.
const DefaultMaxEntries = 500

// Entry is a single journal line.
type Entry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// String renders the entry the way the dashboard shows it.
func (e Entry) String() string {
	return e.Time.Format("15:04:05") + " - " + e.Message
}

// Journal is safe for concurrent use.
type Journal struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
	dedupe  time.Duration
	total   atomic.Uint64
	now     func() time.Time
}

// New creates a journal keeping at most maxEntries lines. Identical consecutive
// messages arriving within dedupe of each other are collapsed into one.
func New(maxEntries int, dedupe time.Duration) *Journal {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Journal{
		max:    maxEntries,
		dedupe: dedupe,
		now:    time.Now,
	}
}

// Append records msg. It reports false when the message was collapsed into
// the previous identical entry.
func (j *Journal) Append(msg string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	if n := len(j.entries); n > 0 && j.dedupe > 0 {
		last := j.entries[n-1]
		if last.Message == msg && now.Sub(last.Time) < j.dedupe {
			return false
		}
	}

	j.entries = append(j.entries, Entry{Time: now, Message: msg})
	if over := len(j.entries) - j.max; over > 0 {
		// Copy into a fresh slice so the backing array does not grow forever.
		trimmed := make([]Entry, j.max)
		copy(trimmed, j.entries[over:])
		j.entries = trimmed
	}
	j.total.Add(1)
	return true
}

// Appendf formats and records a message, mirroring it to the process log.
func (j *Journal) Appendf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logging.Component("journal").Info(msg)
	j.Append(msg)
}

// Total returns how many entries were ever appended. It only grows, so a
// reader can compare it against the last value it saw.
func (j *Journal) Total() uint64 {
	return j.total.Load()
}

// Snapshot returns a copy of the retained entries, oldest first.
func (j *Journal) Snapshot() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Lines returns the retained entries rendered as strings.
func (j *Journal) Lines() []string {
	entries := j.Snapshot()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}
