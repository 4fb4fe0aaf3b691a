// Package scheduler runs the publish batch: it enqueues due posts, publishes
// pending queue entries one at a time and re-queues failures that still have
// attempts left.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/events"
	"github.com/fpang/social-scheduler/internal/metrics"
	"github.com/fpang/social-scheduler/internal/publish"
	"github.com/fpang/social-scheduler/internal/store"
)

const (
	DefaultBatchSize   = 10
	MaxBatchSize       = 20
	DefaultMaxAttempts = 3

	// dueScanLimit bounds how many due posts one run enqueues.
	dueScanLimit = 100
)

// ErrAlreadyPublished is returned by PublishNow for a post that has already gone out.
var ErrAlreadyPublished = errors.New("post already published")

// Store is the persistence the scheduler needs.
type Store interface {
	store.PostStore
	store.QueueStore
	GetProfile(ctx context.Context, userID string) (*store.Profile, error)
}

// Publisher publishes one post.
type Publisher interface {
	Publish(ctx context.Context, post *store.Post, creds *store.MetaCredentials) publish.Result
}

// Config tunes a batch.
type Config struct {
	BatchSize   int
	MaxAttempts int
}

func (c Config) normalized() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Scheduler processes the publish queue.
type Scheduler struct {
	store     Store
	publisher Publisher
	emitter   events.Emitter
	cfg       Config
	now       func() time.Time
}

// New creates a Scheduler. A nil emitter discards events.
func New(st Store, pub Publisher, emitter events.Emitter, cfg Config) *Scheduler {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Scheduler{
		store:     st,
		publisher: pub,
		emitter:   emitter,
		cfg:       cfg.normalized(),
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// BatchResult summarizes one run.
type BatchResult struct {
	Due        int              `json:"due"`
	Enqueued   int              `json:"enqueued"`
	Duplicates int              `json:"duplicates"`
	Processed  int              `json:"processed"`
	Succeeded  int              `json:"succeeded"`
	Partial    int              `json:"partial"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	Retried    int              `json:"retried"`
	Stats      store.QueueStats `json:"stats"`
	Duration   time.Duration    `json:"-"`
	DurationMs int64            `json:"durationMs"`
}

// Outcome is the result of processing one queue entry.
type Outcome struct {
	PostID  string
	Status  string
	Skipped bool
	Result  publish.Result
}

// RunBatch runs one scheduling pass at now.
func (s *Scheduler) RunBatch(ctx context.Context) (*BatchResult, error) {
	start := time.Now()
	now := s.now().UTC()
	res := &BatchResult{}

	due, err := s.store.ListDuePosts(ctx, now, dueScanLimit)
	if err != nil {
		return nil, fmt.Errorf("list due posts: %w", err)
	}
	res.Due = len(due)

	for _, post := range due {
		err := s.store.EnqueuePost(ctx, &store.QueueEntry{PostID: post.ID, UserID: post.UserID, Status: store.QueuePending})
		switch {
		case errors.Is(err, store.ErrDuplicate):
			if s.reviveEntry(ctx, post) {
				res.Enqueued++
			} else {
				res.Duplicates++
			}
		case err != nil:
			log.Error().Err(err).Str("postId", post.ID).Msg("Failed to enqueue due post")
		default:
			res.Enqueued++
		}
	}

	pending, err := s.store.ListQueue(ctx, store.QueuePending, s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending queue: %w", err)
	}
	for _, entry := range pending {
		if ctx.Err() != nil {
			break
		}
		out, err := s.process(ctx, entry)
		if err != nil {
			log.Error().Err(err).Str("postId", entry.PostID).Msg("Queue entry processing failed")
			res.Failed++
			res.Processed++
			continue
		}
		res.Processed++
		switch {
		case out.Skipped:
			res.Skipped++
		case out.Status == store.PostPosted:
			res.Succeeded++
		case out.Status == store.PostPartial:
			res.Partial++
		default:
			res.Failed++
		}
	}

	res.Retried = s.requeueFailed(ctx)

	if stats, err := s.store.QueueStats(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to read queue stats")
	} else {
		res.Stats = stats
	}
	res.Duration = time.Since(start)
	res.DurationMs = res.Duration.Milliseconds()

	metrics.New(metrics.Namespace).
		Dimension("Operation", "RunBatch").
		Metric("DuePosts", float64(res.Due), metrics.UnitCount).
		Metric("BatchProcessed", float64(res.Processed), metrics.UnitCount).
		Metric("BatchFailed", float64(res.Failed), metrics.UnitCount).
		Duration("BatchDuration", res.Duration).
		Flush()

	log.Info().
		Int("due", res.Due).
		Int("enqueued", res.Enqueued).
		Int("duplicates", res.Duplicates).
		Int("processed", res.Processed).
		Int("succeeded", res.Succeeded).
		Int("partial", res.Partial).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Int("retried", res.Retried).
		Dur("duration", res.Duration).
		Msg("Batch complete")
	return res, nil
}

// PublishNow publishes one post immediately, outside the schedule.
func (s *Scheduler) PublishNow(ctx context.Context, userID, postID string) (*Outcome, error) {
	post, err := s.store.GetPost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, store.ErrNotFound
	}
	switch post.Status {
	case store.PostPosted, store.PostPartial, store.PostPublishing:
		return nil, ErrAlreadyPublished
	}

	if post.Status != store.PostScheduled {
		upd := store.PostUpdate{Status: store.PostScheduled, IfStatus: []string{post.Status}}
		if err := s.store.UpdatePostStatus(ctx, userID, postID, upd); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil, ErrAlreadyPublished
			}
			return nil, err
		}
	}

	err = s.store.EnqueuePost(ctx, &store.QueueEntry{PostID: postID, UserID: userID, Status: store.QueuePending})
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		return nil, fmt.Errorf("enqueue post %s: %w", postID, err)
	}
	entry, err := s.store.GetQueueEntry(ctx, postID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("queue entry for %s disappeared", postID)
	}
	switch entry.Status {
	case store.QueueProcessing:
		return nil, ErrAlreadyPublished
	case store.QueueCompleted, store.QueueFailed:
		entry.Status = store.QueuePending
	}
	return s.process(ctx, entry)
}

// process publishes the post behind one queue entry and records the outcome.
func (s *Scheduler) process(ctx context.Context, entry *store.QueueEntry) (*Outcome, error) {
	started := s.now().UTC()
	logger := log.With().Str("postId", entry.PostID).Str("userId", entry.UserID).Logger()

	entry.Status = store.QueueProcessing
	entry.StartedAt = &started
	if err := s.store.PutQueueEntry(ctx, entry); err != nil {
		return nil, err
	}

	post, err := s.store.GetPost(ctx, entry.UserID, entry.PostID)
	if err != nil {
		return nil, s.failEntry(ctx, entry, started, err)
	}
	if post == nil || post.Status != store.PostScheduled {
		reason := "post deleted"
		if post != nil {
			reason = "post is " + post.Status
		}
		return s.skipEntry(ctx, entry, started, reason), nil
	}

	// The claim only succeeds from scheduled, so a post already taken by an
	// immediate publish is never sent twice.
	claim := store.PostUpdate{Status: store.PostPublishing, IfStatus: []string{store.PostScheduled}}
	if err := s.store.UpdatePostStatus(ctx, post.UserID, post.ID, claim); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return s.skipEntry(ctx, entry, started, "post claimed elsewhere"), nil
		case errors.Is(err, store.ErrNotFound):
			return s.skipEntry(ctx, entry, started, "post deleted"), nil
		}
		return nil, s.failEntry(ctx, entry, started, err)
	}

	var creds *store.MetaCredentials
	profile, err := s.store.GetProfile(ctx, post.UserID)
	if err != nil {
		return nil, s.failEntry(ctx, entry, started, err)
	}
	if profile != nil {
		creds = profile.Meta
	}

	result := s.publisher.Publish(ctx, post, creds)

	upd := store.PostUpdate{
		Status:            result.Status,
		MetaPostIDs:       result.PostIDs(),
		MetaErrors:        result.Errors(),
		IncrementAttempts: true,
	}
	if result.Status == store.PostPosted || result.Status == store.PostPartial {
		at := s.now().UTC()
		upd.PublishedAt = &at
	}
	if err := s.store.UpdatePostStatus(ctx, post.UserID, post.ID, upd); err != nil {
		logger.Error().Err(err).Msg("Failed to record publish outcome on post")
	}

	queueStatus := store.QueueCompleted
	lastErr := ""
	if result.Status == store.PostFailed {
		queueStatus = store.QueueFailed
	}
	if err := result.Err(); err != nil {
		lastErr = err.Error()
	}
	entry.Attempts++
	s.finishEntry(ctx, entry, queueStatus, started, lastErr)

	s.recordOutcome(ctx, post, result, entry.Attempts)
	return &Outcome{PostID: post.ID, Status: result.Status, Result: result}, nil
}

func (s *Scheduler) skipEntry(ctx context.Context, entry *store.QueueEntry, started time.Time, reason string) *Outcome {
	log.Info().Str("postId", entry.PostID).Str("reason", reason).Msg("Skipping queue entry")
	s.finishEntry(ctx, entry, store.QueueCompleted, started, "skipped: "+reason)
	return &Outcome{PostID: entry.PostID, Skipped: true}
}

func (s *Scheduler) failEntry(ctx context.Context, entry *store.QueueEntry, started time.Time, cause error) error {
	entry.Attempts++
	s.finishEntry(ctx, entry, store.QueueFailed, started, cause.Error())
	return cause
}

func (s *Scheduler) finishEntry(ctx context.Context, entry *store.QueueEntry, status string, started time.Time, lastErr string) {
	done := s.now().UTC()
	entry.Status = status
	entry.CompletedAt = &done
	entry.ProcessingTimeMs = done.Sub(started).Milliseconds()
	entry.LastError = lastErr
	if err := s.store.PutQueueEntry(ctx, entry); err != nil {
		log.Error().Err(err).Str("postId", entry.PostID).Str("status", status).Msg("Failed to update queue entry")
	}
}

func (s *Scheduler) recordOutcome(ctx context.Context, post *store.Post, result publish.Result, attempt int) {
	for _, pr := range result.Platforms {
		outcome := "success"
		if pr.Err != nil {
			outcome = "failure"
		}
		metrics.New(metrics.Namespace).
			Dimension("Platform", pr.Platform).
			Dimension("Outcome", outcome).
			Count("PublishCount").
			Property("postId", post.ID).
			Flush()
	}

	ev := events.PostOutcome{
		PostID:      post.ID,
		UserID:      post.UserID,
		Status:      result.Status,
		Platform:    post.Platform,
		MetaPostIDs: result.PostIDs(),
		Errors:      result.Errors(),
		Attempt:     attempt,
		At:          s.now().UTC(),
	}
	if err := s.emitter.Emit(ctx, ev.DetailType(), ev); err != nil {
		log.Warn().Err(err).Str("postId", post.ID).Msg("Failed to emit post outcome")
	}
}

// reviveEntry resets the finished queue entry of a post that is due again,
// which happens when a user reschedules a failed or cancelled post. Entries
// still pending or processing are left alone.
func (s *Scheduler) reviveEntry(ctx context.Context, post *store.Post) bool {
	entry, err := s.store.GetQueueEntry(ctx, post.ID)
	if err != nil || entry == nil {
		return false
	}
	if entry.Status != store.QueueCompleted && entry.Status != store.QueueFailed {
		return false
	}
	*entry = store.QueueEntry{
		PostID:     entry.PostID,
		UserID:     entry.UserID,
		Status:     store.QueuePending,
		EnqueuedAt: s.now().UTC(),
	}
	if err := s.store.PutQueueEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Str("postId", post.ID).Msg("Failed to revive queue entry")
		return false
	}
	log.Info().Str("postId", post.ID).Msg("Rescheduled post re-entered the queue")
	return true
}

// requeueFailed returns failed entries with attempts left to the pending
// queue and their posts to scheduled.
func (s *Scheduler) requeueFailed(ctx context.Context) int {
	failed, err := s.store.ListQueue(ctx, store.QueueFailed, 0)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list failed queue entries")
		return 0
	}
	retried := 0
	for _, entry := range failed {
		if entry.Attempts >= s.cfg.MaxAttempts {
			continue
		}
		post, err := s.store.GetPost(ctx, entry.UserID, entry.PostID)
		if err != nil || post == nil || (post.Status != store.PostFailed && post.Status != store.PostPublishing) {
			continue
		}
		upd := store.PostUpdate{Status: store.PostScheduled, IfStatus: []string{store.PostFailed, store.PostPublishing}}
		if err := s.store.UpdatePostStatus(ctx, entry.UserID, entry.PostID, upd); err != nil {
			log.Warn().Err(err).Str("postId", entry.PostID).Msg("Failed to reschedule post")
			continue
		}
		entry.Status = store.QueuePending
		entry.StartedAt = nil
		entry.CompletedAt = nil
		if err := s.store.PutQueueEntry(ctx, entry); err != nil {
			log.Warn().Err(err).Str("postId", entry.PostID).Msg("Failed to requeue entry")
			continue
		}
		log.Info().Str("postId", entry.PostID).Int("attempts", entry.Attempts).Msg("Failed post requeued")
		retried++
	}
	return retried
}
