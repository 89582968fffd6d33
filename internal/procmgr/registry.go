package procmgr

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"agentcore/internal/config"
	"agentcore/internal/metrics"
)

const (
	// DefaultRetainOutput is how long output of an ended process stays readable.
	DefaultRetainOutput = 30 * time.Second
	// DefaultMaxBackground bounds concurrently running background processes.
	DefaultMaxBackground = 32

	maxRetained = 1024
	killWait    = 5 * time.Second
)

// Status is the state of a background process.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusKilled    Status = "killed"
)

// Snapshot is a point-in-time view of a background process.
type Snapshot struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id,omitempty"`
	Command    string    `json:"command"`
	PID        int       `json:"pid"`
	Status     Status    `json:"status"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

type background struct {
	id        string
	sessionID string
	proc      *Process
	cancel    context.CancelFunc
	killed    atomic.Bool

	mu      sync.Mutex
	readers map[string][2]int
}

func (b *background) snapshot(stdout, stderr string) Snapshot {
	s := Snapshot{
		ID:        b.id,
		SessionID: b.sessionID,
		Command:   b.proc.command,
		PID:       b.proc.pid,
		Status:    StatusRunning,
		Stdout:    stdout,
		Stderr:    stderr,
		StartedAt: b.proc.startedAt,
	}
	if res := b.proc.Result(); res != nil {
		s.Status = StatusCompleted
		if b.killed.Load() {
			s.Status = StatusKilled
		}
		s.ExitCode = res.ExitCode
		s.FinishedAt = b.proc.startedAt.Add(res.Duration)
	}
	return s
}

// Registry owns background processes. Running processes are tracked until
// they exit or are killed; their output then stays readable for the
// retention period.
type Registry struct {
	runner *Runner
	max    int

	mu       sync.Mutex
	running  map[string]*background
	finished *expirable.LRU[string, *background]
	closed   bool
}

// NewRegistry creates a registry that starts processes through runner.
func NewRegistry(runner *Runner, cfg config.ProcessConfig) *Registry {
	retain := cfg.RetainOutput
	if retain <= 0 {
		retain = DefaultRetainOutput
	}
	limit := cfg.MaxBackground
	if limit <= 0 {
		limit = DefaultMaxBackground
	}
	return &Registry{
		runner:   runner,
		max:      limit,
		running:  make(map[string]*background),
		finished: expirable.NewLRU[string, *background](maxRetained, nil, retain),
	}
}

// Start launches spec in the background and returns its id. Background
// commands have no idle timeout.
func (r *Registry) Start(sessionID string, spec Spec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRegistryClosed
	}
	if len(r.running) >= r.max {
		return "", ErrTooManyProcesses
	}

	spec.IdleTimeout = NoIdleTimeout
	ctx, cancel := context.WithCancel(context.Background())
	p, err := r.runner.Start(ctx, spec, nil)
	if err != nil {
		cancel()
		return "", err
	}

	b := &background{
		id:        uuid.NewString(),
		sessionID: sessionID,
		proc:      p,
		cancel:    cancel,
		readers:   make(map[string][2]int),
	}
	r.running[b.id] = b
	metrics.Get().BackgroundDelta(1)
	log.Info().
		Str("id", b.id).
		Str("session_id", sessionID).
		Str("command", spec.Command).
		Int("pid", p.pid).
		Msg("background process started")

	go r.reap(b)
	return b.id, nil
}

// reap moves b to the retained set once it ends.
func (r *Registry) reap(b *background) {
	<-b.proc.Done()
	b.cancel()

	r.mu.Lock()
	if _, ok := r.running[b.id]; ok {
		delete(r.running, b.id)
		if !r.closed {
			r.finished.Add(b.id, b)
		}
	}
	r.mu.Unlock()

	metrics.Get().BackgroundDelta(-1)
	log.Debug().Str("id", b.id).Bool("killed", b.killed.Load()).Msg("background process ended")
}

func (r *Registry) lookup(id string) (*background, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.running[id]; ok {
		return b, true
	}
	return r.finished.Get(id)
}

// Output returns everything the process has written so far.
func (r *Registry) Output(id string) (Snapshot, error) {
	b, ok := r.lookup(id)
	if !ok {
		return Snapshot{}, ErrProcessNotFound
	}
	return b.snapshot(b.proc.stdout.String(), b.proc.stderr.String()), nil
}

// ReadNew returns only the output readerID has not seen yet. A process that
// finished between reads reports completed; any lines it wrote last are
// returned by the next call.
func (r *Registry) ReadNew(id, readerID string) (Snapshot, error) {
	b, ok := r.lookup(id)
	if !ok {
		return Snapshot{}, ErrProcessNotFound
	}
	b.mu.Lock()
	off := b.readers[readerID]
	stdout, outEnd := b.proc.stdout.since(off[0])
	stderr, errEnd := b.proc.stderr.since(off[1])
	b.readers[readerID] = [2]int{outEnd, errEnd}
	b.mu.Unlock()

	return b.snapshot(stdout, stderr), nil
}

// Kill terminates a running process tree. Killing an ended process is not
// an error; the snapshot reports its final status.
func (r *Registry) Kill(id string) (Snapshot, error) {
	b, ok := r.lookup(id)
	if !ok {
		return Snapshot{}, ErrProcessNotFound
	}
	if b.proc.Result() == nil {
		b.killed.Store(true)
		b.cancel()
		select {
		case <-b.proc.Done():
		case <-time.After(killWait):
			log.Warn().Str("id", id).Msg("background process did not exit after kill")
		}
		log.Info().Str("id", id).Msg("background process killed")
	}
	return b.snapshot(b.proc.stdout.String(), b.proc.stderr.String()), nil
}

// List returns running and retained processes, oldest first.
func (r *Registry) List() []Snapshot {
	return r.filter(func(*background) bool { return true })
}

// ForSession lists the processes started by a session.
func (r *Registry) ForSession(sessionID string) []Snapshot {
	return r.filter(func(b *background) bool { return b.sessionID == sessionID })
}

func (r *Registry) filter(keep func(*background) bool) []Snapshot {
	r.mu.Lock()
	all := make([]*background, 0, len(r.running)+r.finished.Len())
	for _, b := range r.running {
		all = append(all, b)
	}
	all = append(all, r.finished.Values()...)
	r.mu.Unlock()

	var out []Snapshot
	for _, b := range all {
		if keep(b) {
			out = append(out, b.snapshot(b.proc.stdout.String(), b.proc.stderr.String()))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// KillSession kills every running process of a session and returns how
// many were killed.
func (r *Registry) KillSession(sessionID string) int {
	r.mu.Lock()
	var ids []string
	for id, b := range r.running {
		if b.sessionID == sessionID {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		_, _ = r.Kill(id)
	}
	return len(ids)
}

// Close kills all running processes, drops retained output and refuses new
// processes.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	var ids []string
	for id := range r.running {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		_, _ = r.Kill(id)
	}

	r.mu.Lock()
	for _, id := range ids {
		delete(r.running, id)
	}
	r.mu.Unlock()
	r.finished.Purge()
	return nil
}
