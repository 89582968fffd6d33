// Package procmgr runs shell commands for tools: foreground commands with an
// idle timeout and streamed output, and background commands kept in a
// registry until they are read or expire.
package procmgr

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"agentcore/internal/config"
	"agentcore/internal/metrics"
)

const (
	// DefaultIdleTimeout applies when a Spec leaves IdleTimeout zero.
	DefaultIdleTimeout = 60 * time.Second
	// MaxIdleTimeout caps any requested idle timeout.
	MaxIdleTimeout = 600 * time.Second
	// NoIdleTimeout disables the idle timer; background commands use it.
	NoIdleTimeout time.Duration = -1

	// drainGrace bounds how long output is still read after the shell
	// exits. Descendants left running may hold the pipes open.
	drainGrace = 250 * time.Millisecond
)

// Stream identifies an output pipe.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Line is one line of command output without its terminator.
type Line struct {
	Stream Stream
	Text   string
}

// LineFunc receives output lines as they are read. It is called from the
// reader goroutines and must be safe for concurrent use.
type LineFunc func(Line)

// Spec describes a command to run.
type Spec struct {
	Command string
	Dir     string
	// Env is appended to the current environment.
	Env []string
	// IdleTimeout is the longest stretch without output before the command
	// is killed. Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// Result is the outcome of a finished command.
type Result struct {
	Command string `json:"command"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`

	// ExitCode is set only when the command exited on its own.
	ExitCode  *int          `json:"exit_code,omitempty"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Idle      time.Duration `json:"idle_timeout"`
	Duration  time.Duration `json:"duration"`
}

// Runner starts shell commands.
type Runner struct {
	shell       string
	defaultIdle time.Duration
	maxIdle     time.Duration
}

// NewRunner creates a runner from process configuration.
func NewRunner(cfg config.ProcessConfig) *Runner {
	r := &Runner{
		shell:       cfg.Shell,
		defaultIdle: cfg.IdleTimeout,
		maxIdle:     cfg.MaxIdleTimeout,
	}
	if r.defaultIdle <= 0 {
		r.defaultIdle = DefaultIdleTimeout
	}
	if r.maxIdle <= 0 {
		r.maxIdle = MaxIdleTimeout
	}
	return r
}

// IdleTimeout resolves a requested idle timeout against the defaults.
func (r *Runner) IdleTimeout(requested time.Duration) time.Duration {
	switch {
	case requested < 0:
		return NoIdleTimeout
	case requested == 0:
		requested = r.defaultIdle
	}
	if requested > r.maxIdle {
		return r.maxIdle
	}
	return requested
}

// Run starts the command and waits for it. Cancelling ctx kills the whole
// process tree; the output read so far is kept in the result.
func (r *Runner) Run(ctx context.Context, spec Spec, onLine LineFunc) (*Result, error) {
	p, err := r.Start(ctx, spec, onLine)
	if err != nil {
		return nil, err
	}
	return p.Wait(), nil
}

// Start launches the command and returns without waiting.
func (r *Runner) Start(ctx context.Context, spec Spec, onLine LineFunc) (*Process, error) {
	cmd := shellCommand(r.shell, spec.Command)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configurePlatformProcess(cmd)

	// The pipes are owned here rather than by exec so that Wait returns
	// when the shell exits, not when every holder of the write ends does.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdout, stdoutW)
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if err := cmd.Start(); err != nil {
		closeAll(stdout, stdoutW, stderr, stderrW)
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	closeAll(stdoutW, stderrW)

	p := &Process{
		command:   spec.Command,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		idle:      r.IdleTimeout(spec.IdleTimeout),
		done:      make(chan struct{}),
	}
	log.Debug().
		Str("command", spec.Command).
		Int("pid", p.pid).
		Dur("idle_timeout", p.idle).
		Msg("process started")

	go p.supervise(ctx, cmd, stdout, stderr, onLine)
	return p, nil
}

// Process is a started command.
type Process struct {
	command   string
	pid       int
	startedAt time.Time
	idle      time.Duration

	stdout outputBuffer
	stderr outputBuffer

	done   chan struct{}
	result *Result
}

// PID returns the process id of the shell.
func (p *Process) PID() int { return p.pid }

// StartedAt returns the start time.
func (p *Process) StartedAt() time.Time { return p.startedAt }

// Done is closed once the command has finished and its output is drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the command finishes.
func (p *Process) Wait() *Result {
	<-p.done
	return p.result
}

// Result returns the result, or nil while the command is running.
func (p *Process) Result() *Result {
	select {
	case <-p.done:
		return p.result
	default:
		return nil
	}
}

func (p *Process) supervise(ctx context.Context, cmd *exec.Cmd, stdout, stderr *os.File, onLine LineFunc) {
	activity := make(chan struct{}, 1)

	var g errgroup.Group
	g.Go(func() error {
		pump(StreamStdout, stdout, &p.stdout, onLine, activity)
		return nil
	})
	g.Go(func() error {
		pump(StreamStderr, stderr, &p.stderr, onLine, activity)
		return nil
	})
	drained := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(drained)
	}()

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	var idleC <-chan time.Time
	var timer *time.Timer
	if p.idle > 0 {
		timer = time.NewTimer(p.idle)
		defer timer.Stop()
		idleC = timer.C
	}

	res := &Result{Command: p.command, Idle: p.idle}
	terminate := func() {
		if err := killTree(cmd); err != nil {
			log.Warn().Err(err).Int("pid", p.pid).Msg("failed to kill process tree")
		}
		<-exited
	}

loop:
	for {
		select {
		case <-exited:
			break loop
		case <-activity:
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(p.idle)
			}
		case <-idleC:
			res.TimedOut = true
			metrics.Get().RecordIdleTimeout()
			log.Info().Str("command", p.command).Dur("idle_timeout", p.idle).Msg("process idle timeout")
			terminate()
			break loop
		case <-ctx.Done():
			res.Cancelled = true
			log.Debug().Str("command", p.command).Msg("process cancelled")
			terminate()
			break loop
		}
	}

	select {
	case <-drained:
	case <-time.After(drainGrace):
		log.Debug().Str("command", p.command).Msg("output still open after exit")
	}
	closeAll(stdout, stderr)
	<-drained

	res.Stdout = p.stdout.String()
	res.Stderr = p.stderr.String()
	res.Duration = time.Since(p.startedAt)
	if !res.TimedOut && !res.Cancelled {
		if state := cmd.ProcessState; state != nil {
			if code := state.ExitCode(); code >= 0 {
				res.ExitCode = &code
			}
		}
	}
	p.result = res
	close(p.done)
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// pump copies r into buf line by line. Read errors end the stream silently.
func pump(stream Stream, r io.Reader, buf *outputBuffer, onLine LineFunc, activity chan<- struct{}) {
	br := bufio.NewReader(r)
	for {
		chunk, err := br.ReadString('\n')
		if chunk != "" {
			text := strings.TrimRight(chunk, "\r\n")
			buf.appendLine(text)
			if onLine != nil {
				onLine(Line{Stream: stream, Text: text})
			}
			select {
			case activity <- struct{}{}:
			default:
			}
		}
		if err != nil {
			return
		}
	}
}

// outputBuffer accumulates lines and supports incremental reads.
type outputBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *outputBuffer) appendLine(s string) {
	b.mu.Lock()
	b.buf.WriteString(s)
	b.buf.WriteByte('\n')
	b.mu.Unlock()
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// since returns the text after offset and the new end offset.
func (b *outputBuffer) since(offset int) (string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	if offset > len(s) {
		offset = len(s)
	}
	return s[offset:], len(s)
}
