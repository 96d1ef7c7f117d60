package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storyloom/storyloom/config"
	"github.com/storyloom/storyloom/pkg/lock"
	"github.com/storyloom/storyloom/pkg/logger"
	"github.com/storyloom/storyloom/pkg/memory"
	"github.com/storyloom/storyloom/pkg/metrics"
	"github.com/storyloom/storyloom/pkg/story"
	"github.com/storyloom/storyloom/pkg/worker"
)

const (
	// maxBusyWaits bounds how often a retry yields to a story that is
	// generating before the busy lock counts as a failed attempt.
	maxBusyWaits = 20
	busyBackoff  = 50 * time.Millisecond
)

// Applier is the operation retried in the background.
type Applier interface {
	ExtractAndApply(ctx context.Context, storyID string, chapter int, content string) ([]*memory.MemoryEntry, error)
}

// RetryQueue retries failed extractions asynchronously. An accepted chapter
// stays accepted while its extraction is retried; a retry that exhausts its
// attempts is dropped and logged.
type RetryQueue struct {
	applier     Applier
	pool        *worker.Pool
	maxAttempts int
	delay       time.Duration
	recorder    Recorder
	logger      logger.Logger
	locker      lock.Locker
}

// RetryOption configures a RetryQueue.
type RetryOption func(*RetryQueue)

// WithLocker makes every retry hold the story lock generation uses, so a
// retry never overlaps a generation or deletion of the same story.
func WithLocker(l lock.Locker) RetryOption {
	return func(q *RetryQueue) { q.locker = l }
}

// NewRetryQueue creates a retry queue from configuration. Start must be
// called before Enqueue accepts work.
func NewRetryQueue(applier Applier, cfg config.ExtractionConfig, r Recorder, l logger.Logger, opts ...RetryOption) *RetryQueue {
	if l == nil {
		l = logger.Global()
	}
	if r == nil {
		r = nopRecorder{}
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	q := &RetryQueue{
		applier:     applier,
		pool:        worker.New(cfg.RetryWorkers, cfg.RetryQueueSize, l),
		maxAttempts: attempts,
		delay:       cfg.RetryDelay,
		recorder:    r,
		logger:      l,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RetryQueue) Start() { q.pool.Start() }

// Stop cancels pending retries and waits for running ones to return.
func (q *RetryQueue) Stop() { q.pool.Stop() }

// Enqueue schedules the extraction of an accepted chapter. It never blocks;
// a full queue drops the retry.
func (q *RetryQueue) Enqueue(storyID string, chapter int, content string) error {
	task := worker.Task{
		ID: fmt.Sprintf("%s:%d", storyID, chapter),
		Run: func(ctx context.Context) {
			q.run(ctx, storyID, chapter, content)
		},
	}
	if err := q.pool.TrySubmit(task); err != nil {
		q.recorder.RecordExtraction(metrics.ExtractionDropped)
		q.logger.Warn("extraction retry dropped", "story_id", storyID, "chapter", chapter, "error", err)
		return err
	}
	q.recorder.RecordExtraction(metrics.ExtractionQueued)
	return nil
}

func (q *RetryQueue) run(ctx context.Context, storyID string, chapter int, content string) {
	log := logger.ForStory(q.logger, storyID).With("chapter", chapter)
	var err error
	busy := 0
	for attempt := 1; attempt <= q.maxAttempts; {
		wait := q.delay * time.Duration(attempt)
		if busy > 0 {
			wait = max(q.delay, busyBackoff)
		}
		if !sleep(ctx, wait) {
			q.recorder.RecordExtraction(metrics.ExtractionDropped)
			log.Warn("extraction retry canceled", "attempt", attempt)
			return
		}

		var unlock lock.Unlock
		err = nil
		if q.locker != nil {
			unlock, err = q.locker.TryLock(ctx, storyID)
			if errors.Is(err, lock.ErrLocked) && busy < maxBusyWaits {
				busy++
				log.Debug("story busy, extraction retry deferred", "waits", busy)
				continue
			}
		}
		busy = 0
		if err == nil {
			_, err = q.applier.ExtractAndApply(ctx, storyID, chapter, content)
			if unlock != nil {
				unlock()
			}
			if err == nil {
				log.Info("extraction retry succeeded", "attempt", attempt)
				return
			}
			if errors.Is(err, story.ErrStoryNotFound) {
				q.recorder.RecordExtraction(metrics.ExtractionDropped)
				log.Info("story deleted, extraction retry dropped", "attempt", attempt)
				return
			}
		}
		log.Warn("extraction retry failed", "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			break
		}
		attempt++
	}
	q.recorder.RecordExtraction(metrics.ExtractionDropped)
	log.Error("extraction retries exhausted", "attempts", q.maxAttempts, "error", err)
}

// sleep waits for d and reports false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
