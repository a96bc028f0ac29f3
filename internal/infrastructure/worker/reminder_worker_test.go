package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReminder struct {
	mu      sync.Mutex
	cutoffs []time.Time
	limits  []int
	result  int
	err     error
}

func (f *fakeReminder) RemindPending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	f.limits = append(f.limits, limit)
	return f.result, f.err
}

func (f *fakeReminder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestReminderWorkerRunOnce(t *testing.T) {
	fake := &fakeReminder{result: 3}
	w := NewReminderWorker(ReminderWorkerConfig{After: time.Hour, BatchSize: 10}, fake, zap.NewNop())
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	assert.Equal(t, 3, w.RunOnce(context.Background()))
	require.Len(t, fake.cutoffs, 1)
	assert.Equal(t, now.Add(-time.Hour), fake.cutoffs[0])
	assert.Equal(t, 10, fake.limits[0])

	fake.err = errors.New("database is locked")
	fake.result = 1
	w.RunOnce(context.Background())

	lastRun, reminded, lastErr := w.Stats()
	assert.Equal(t, now, lastRun)
	assert.Equal(t, 4, reminded)
	assert.EqualError(t, lastErr, "database is locked")
}

func TestReminderWorkerDefaults(t *testing.T) {
	w := NewReminderWorker(ReminderWorkerConfig{}, &fakeReminder{}, zap.NewNop())
	assert.Equal(t, DefaultReminderWorkerConfig(), w.config)
	assert.Equal(t, "ReminderWorker", w.Name())
}

func TestWorkerManagerLifecycle(t *testing.T) {
	fake := &fakeReminder{}
	w := NewReminderWorker(ReminderWorkerConfig{PollInterval: 5 * time.Millisecond}, fake, zap.NewNop())

	m := NewWorkerManager(zap.NewNop())
	require.NoError(t, m.Register(w))
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, []string{"ReminderWorker"}, m.Names())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	assert.Eventually(t, func() bool { return fake.calls() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	calls := fake.calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, fake.calls(), "no passes after stop")

	require.NoError(t, m.StopAll())
}
