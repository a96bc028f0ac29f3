package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reminder sends reminders for approvals pending since before cutoff
type Reminder interface {
	RemindPending(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// ReminderWorkerConfig holds configuration for the reminder worker
type ReminderWorkerConfig struct {
	PollInterval time.Duration
	// After is how long a record waits before its approvers are reminded,
	// and how long between two reminders for the same record
	After     time.Duration
	BatchSize int
}

// DefaultReminderWorkerConfig returns default configuration
func DefaultReminderWorkerConfig() ReminderWorkerConfig {
	return ReminderWorkerConfig{
		PollInterval: 15 * time.Minute,
		After:        24 * time.Hour,
		BatchSize:    50,
	}
}

// ReminderWorker periodically re-notifies approvers of stale pending records
type ReminderWorker struct {
	config   ReminderWorkerConfig
	reminder Reminder
	logger   *zap.Logger
	now      func() time.Time

	mu            sync.RWMutex
	cancel        context.CancelFunc
	done          chan struct{}
	isRunning     bool
	lastRun       time.Time
	remindedCount int
	lastError     error
}

// NewReminderWorker creates a new reminder worker
func NewReminderWorker(config ReminderWorkerConfig, reminder Reminder, logger *zap.Logger) *ReminderWorker {
	defaults := DefaultReminderWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.After <= 0 {
		config.After = defaults.After
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	return &ReminderWorker{
		config:   config,
		reminder: reminder,
		logger:   logger,
		now:      time.Now,
	}
}

// Start begins the polling loop
func (w *ReminderWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return fmt.Errorf("reminder worker already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("ReminderWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Duration("after", w.config.After),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop(runCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight pass to finish
func (w *ReminderWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.RLock()
	defer w.mu.RUnlock()
	w.logger.Info("ReminderWorker stopped", zap.Int("reminded_count", w.remindedCount))
	return nil
}

// Name returns the worker name for identification
func (w *ReminderWorker) Name() string {
	return "ReminderWorker"
}

func (w *ReminderWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Poll loop context cancelled")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reminder pass
func (w *ReminderWorker) RunOnce(ctx context.Context) int {
	cutoff := w.now().Add(-w.config.After)
	n, err := w.reminder.RemindPending(ctx, cutoff, w.config.BatchSize)
	if err != nil {
		w.logger.Error("Reminder pass failed", zap.Int("reminded", n), zap.Error(err))
	}

	w.mu.Lock()
	w.lastRun = w.now()
	w.remindedCount += n
	w.lastError = err
	w.mu.Unlock()
	return n
}

// Stats reports the worker's progress
func (w *ReminderWorker) Stats() (lastRun time.Time, reminded int, lastErr error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastRun, w.remindedCount, w.lastError
}
