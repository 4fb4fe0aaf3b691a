package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultSpec runs the batch once a minute.
const DefaultSpec = "@every 1m"

// Loop runs RunBatch on a cron schedule in-process. Runs never overlap; a
// tick that fires while a batch is still running is dropped.
type Loop struct {
	sched   *Scheduler
	cron    *cron.Cron
	spec    string
	timeout time.Duration

	mu      sync.Mutex
	running bool
	busy    bool
	lastRun *BatchResult
}

// NewLoop creates a loop for spec (standard five-field, optional seconds, or
// a descriptor such as "@every 30s").
func NewLoop(s *Scheduler, spec string) *Loop {
	if spec == "" {
		spec = DefaultSpec
	}
	return &Loop{
		sched:   s,
		cron:    cron.New(cron.WithParser(cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		spec:    spec,
		timeout: 5 * time.Minute,
	}
}

// Start registers the batch job and starts the cron runner.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return fmt.Errorf("scheduler loop already running")
	}
	if _, err := l.cron.AddFunc(l.spec, l.tick); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", l.spec, err)
	}
	l.cron.Start()
	l.running = true
	log.Info().Str("spec", l.spec).Msg("Scheduler loop started")
	return nil
}

// Stop halts the runner and waits for an in-flight batch to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.mu.Unlock()

	<-l.cron.Stop().Done()
	log.Info().Msg("Scheduler loop stopped")
}

// LastRun returns the result of the most recent completed batch.
func (l *Loop) LastRun() *BatchResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastRun
}

func (l *Loop) tick() {
	l.mu.Lock()
	if l.busy {
		l.mu.Unlock()
		log.Debug().Msg("Previous batch still running, skipping tick")
		return
	}
	l.busy = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.busy = false
		l.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	res, err := l.sched.RunBatch(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Scheduled batch failed")
		return
	}
	l.mu.Lock()
	l.lastRun = res
	l.mu.Unlock()
}
