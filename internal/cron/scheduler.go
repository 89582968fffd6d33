// Package cron runs named maintenance jobs on robfig/cron schedules.
package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"agentcore/pkg/logger"
)

// JobFunc is one execution of a job.
type JobFunc func(ctx context.Context) error

var (
	// ErrJobExists indicates a job name is already registered.
	ErrJobExists = errors.New("cron: job already exists")

	// ErrJobNotFound indicates no job has the given name.
	ErrJobNotFound = errors.New("cron: job not found")
)

// parser accepts 5-field expressions and descriptors such as "@every 1h".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler manages scheduled job execution with robfig/cron.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	timeout time.Duration
	mu      sync.Mutex
	running bool

	// executing prevents overlapping runs of one job.
	executing sync.Map
	wg        sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Each execution is bounded by timeout;
// zero means no bound.
func NewScheduler(timeout time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser), cron.WithLogger(cronLogger{})),
		entries: make(map[string]cron.EntryID),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Validate reports whether schedule parses.
func Validate(schedule string) error {
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// AddJob registers fn under name.
func (s *Scheduler) AddJob(name, schedule string, fn JobFunc) error {
	if err := Validate(schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, name)
	}
	id, err := s.cron.AddFunc(schedule, func() { s.execute(name, fn) })
	if err != nil {
		return err
	}
	s.entries[name] = id
	logger.Debug().Str("job", name).Str("schedule", schedule).Msg("Scheduled job")
	return nil
}

// RemoveJob unregisters a job. A running execution is not interrupted.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s.cron.Remove(id)
	delete(s.entries, name)
	return nil
}

// NextRun returns when a job fires next.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	return entry.Next, entry.Valid()
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	logger.Info().Int("jobs", len(s.entries)).Msg("Scheduler started")
}

// Stop stops firing jobs, cancels running executions and waits for them
// until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.cron.Stop()
		s.running = false
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes a job immediately on the calling goroutine.
func (s *Scheduler) RunNow(name string, fn JobFunc) error {
	if _, busy := s.executing.Load(name); busy {
		return fmt.Errorf("cron: job %s is already running", name)
	}
	return s.run(name, fn)
}

func (s *Scheduler) execute(name string, fn JobFunc) {
	if _, busy := s.executing.Load(name); busy {
		logger.Warn().Str("job", name).Msg("Skipping job, previous run still active")
		return
	}
	if err := s.run(name, fn); err != nil {
		logger.Error().Err(err).Str("job", name).Msg("Scheduled job failed")
	}
}

func (s *Scheduler) run(name string, fn JobFunc) error {
	if _, loaded := s.executing.LoadOrStore(name, time.Now()); loaded {
		return nil
	}
	defer s.executing.Delete(name)

	s.wg.Add(1)
	defer s.wg.Done()

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	logger.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("Job finished")
	return err
}

// cronLogger routes robfig/cron's logging through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	withFields(logger.Debug(), keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	withFields(logger.Error().Err(err), keysAndValues).Msg(msg)
}

func withFields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}
