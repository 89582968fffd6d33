package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakePruner struct {
	calls     atomic.Int32
	olderThan time.Duration
	err       error
}

func (f *fakePruner) PruneTombstones(_ context.Context, olderThan time.Duration) (int64, error) {
	f.calls.Add(1)
	f.olderThan = olderThan
	return 3, f.err
}

func TestValidate(t *testing.T) {
	for _, s := range []string{"@every 1h", "@daily", "*/5 * * * *"} {
		if err := Validate(s); err != nil {
			t.Errorf("Validate(%q) error = %v", s, err)
		}
	}
	for _, s := range []string{"", "every hour", "* * *"} {
		if err := Validate(s); err == nil {
			t.Errorf("Validate(%q) expected error", s)
		}
	}
}

func TestScheduler_AddRemove(t *testing.T) {
	s := NewScheduler(0)
	fn := func(context.Context) error { return nil }

	if err := s.AddJob("a", "@every 1h", fn); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	if err := s.AddJob("a", "@every 1h", fn); !errors.Is(err, ErrJobExists) {
		t.Errorf("duplicate AddJob() error = %v, want ErrJobExists", err)
	}
	if err := s.AddJob("b", "nonsense", fn); err == nil {
		t.Error("AddJob() with bad schedule expected error")
	}

	s.Start()
	defer s.Stop(context.Background())
	next, ok := s.NextRun("a")
	if !ok || !next.After(time.Now()) {
		t.Errorf("NextRun() = %v, %v", next, ok)
	}

	if err := s.RemoveJob("a"); err != nil {
		t.Fatalf("RemoveJob() error = %v", err)
	}
	if err := s.RemoveJob("a"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("RemoveJob() error = %v, want ErrJobNotFound", err)
	}
	if _, ok := s.NextRun("a"); ok {
		t.Error("NextRun() found removed job")
	}
}

func TestScheduler_FiresJobs(t *testing.T) {
	s := NewScheduler(time.Second)
	var runs atomic.Int32
	if err := s.AddJob("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	s.Start()

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("job never fired")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestScheduler_RunNowSkipsOverlap(t *testing.T) {
	s := NewScheduler(0)
	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(context.Context) error {
		close(started)
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- s.RunNow("slow", slow) }()
	<-started

	if err := s.RunNow("slow", slow); err == nil {
		t.Error("RunNow() while running expected error")
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("RunNow() error = %v", err)
	}
}

func TestScheduler_StopCancelsRunningJobs(t *testing.T) {
	s := NewScheduler(0)
	started := make(chan struct{})
	go func() {
		_ = s.RunNow("wait", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestPruneJob(t *testing.T) {
	p := &fakePruner{}
	if err := PruneJob(p, 48*time.Hour)(context.Background()); err != nil {
		t.Fatalf("PruneJob() error = %v", err)
	}
	if p.calls.Load() != 1 || p.olderThan != 48*time.Hour {
		t.Errorf("pruner called %d times with %v", p.calls.Load(), p.olderThan)
	}

	p.err = errors.New("locked")
	if err := PruneJob(p, time.Hour)(context.Background()); err == nil {
		t.Error("PruneJob() expected error")
	}
}
