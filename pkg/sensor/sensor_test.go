package sensor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrCodeEU/faceignition/pkg/logging"
)

func init() {
	logging.Discard()
}

// scripted returns the readings in order, then repeats the last one.
type scripted struct {
	mu       sync.Mutex
	readings []bool
	errs     map[int]error
	reads    int
}

func (s *scripted) Active() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.reads
	s.reads++
	if err, ok := s.errs[i]; ok {
		return false, err
	}
	if i >= len(s.readings) {
		i = len(s.readings) - 1
	}
	return s.readings[i], nil
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func fast(window time.Duration, debounce int) WaitOptions {
	return WaitOptions{PollInterval: time.Millisecond, Window: window, Debounce: debounce}
}

func TestWaitActive_ImmediatelyActive(t *testing.T) {
	s := &scripted{readings: []bool{true}}
	require.NoError(t, WaitActive(context.Background(), s, fast(time.Second, 1)))
	assert.Equal(t, 1, s.count())
}

func TestWaitActive_AfterSomePolls(t *testing.T) {
	s := &scripted{readings: []bool{false, false, false, true}}
	require.NoError(t, WaitActive(context.Background(), s, fast(time.Second, 1)))
	assert.Equal(t, 4, s.count())
}

func TestWaitActive_Debounce(t *testing.T) {
	s := &scripted{readings: []bool{true, false, true, true, true}}
	require.NoError(t, WaitActive(context.Background(), s, fast(time.Second, 3)))
	assert.Equal(t, 5, s.count())
}

func TestWaitActive_ReadErrorResetsStreak(t *testing.T) {
	s := &scripted{
		readings: []bool{true, true, true, true},
		errs:     map[int]error{1: errors.New("bus error")},
	}
	require.NoError(t, WaitActive(context.Background(), s, fast(time.Second, 2)))
	assert.Equal(t, 4, s.count())
}

func TestWaitActive_Timeout(t *testing.T) {
	s := &scripted{readings: []bool{false}}
	start := time.Now()
	err := WaitActive(context.Background(), s, fast(30*time.Millisecond, 1))
	assert.ErrorIs(t, err, ErrSensorTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitActive_Cancelled(t *testing.T) {
	s := &scripted{readings: []bool{false}}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := WaitActive(ctx, s, fast(time.Minute, 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAlways(t *testing.T) {
	active, err := Always{}.Active()
	require.NoError(t, err)
	assert.True(t, active)
}
