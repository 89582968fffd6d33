package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"agentcore/internal/events"
	"agentcore/internal/metrics"
	"agentcore/internal/provider"
	"agentcore/internal/runner"
	"agentcore/internal/storage"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

// AgentFactory builds the agent of one run. *runner.Factory implements it.
type AgentFactory interface {
	New(ctx context.Context, sessionID string, sink events.Sink, resume *storage.Checkpoint) (runner.Agent, error)
}

// Detacher releases a session's capability server attachments.
type Detacher interface {
	DetachSession(sessionID string) error
}

// ApprovalClearer drops a session's approval queue.
type ApprovalClearer interface {
	ClearSession(sessionID string)
}

// ProcessKiller kills a session's background processes.
type ProcessKiller interface {
	KillSession(sessionID string) int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithResolver sets the checkpoint resolver runs resume from.
func WithResolver(r *CheckpointResolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithCapabilities sets where session capability attachments are released.
func WithCapabilities(d Detacher) Option {
	return func(o *Orchestrator) { o.detacher = d }
}

// WithApprovals sets the approval gate cleared on session removal.
func WithApprovals(a ApprovalClearer) Option {
	return func(o *Orchestrator) { o.approvals = a }
}

// WithProcesses sets the background process registry cleaned on removal.
func WithProcesses(p ProcessKiller) Option {
	return func(o *Orchestrator) { o.processes = p }
}

// Orchestrator runs at most one agent run per session. Messages submitted
// while a run is active are queued; the agent drains them between turns
// through Drain, and whatever is left when the run ends starts the next run.
type Orchestrator struct {
	factory   AgentFactory
	resolver  *CheckpointResolver
	detacher  Detacher
	approvals ApprovalClearer
	processes ProcessKiller

	baseCtx context.Context
	stop    context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	closed   atomic.Bool
	wg       sync.WaitGroup
}

var _ runner.PendingSource = (*Orchestrator)(nil)

type session struct {
	id    string
	usage *UsageTracker

	mu      sync.Mutex
	active  *activeRun
	prev    chan struct{} // done channel of the last cancelled run
	queue   []runner.Message
	agent   runner.Agent
	lastRun *Run
}

type activeRun struct {
	run    *Run
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	prev   chan struct{}
}

// NewOrchestrator creates an orchestrator building agents with factory.
func NewOrchestrator(factory AgentFactory, opts ...Option) *Orchestrator {
	ctx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		factory:  factory,
		baseCtx:  ctx,
		stop:     stop,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) lookup(sessionID string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[sessionID]
}

func (o *Orchestrator) acquire(sessionID string) (*session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return nil, ErrClosed
	}
	s, ok := o.sessions[sessionID]
	if !ok {
		s = &session{id: sessionID, usage: NewUsageTracker()}
		o.sessions[sessionID] = s
	}
	return s, nil
}

// Submit delivers msg to the session. With a run active the message is
// queued and queued is true; otherwise a new run starts in the background,
// reporting to sink. ctx only bounds the call itself, not the run.
func (o *Orchestrator) Submit(ctx context.Context, sessionID string, msg runner.Message, sink events.Sink) (queued bool, err error) {
	if o.factory == nil {
		return false, ErrNoFactory
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if sink == nil {
		sink = events.Nop
	}
	if msg.QueuedAt.IsZero() {
		msg.QueuedAt = time.Now()
	}

	s, err := o.acquire(sessionID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.active != nil {
		s.queue = append(s.queue, msg)
		n := len(s.queue)
		s.mu.Unlock()
		metrics.Get().RecordQueued()
		log.Debug().Str("session", sessionID).Int("pending", n).Msg("run active; message queued")
		return true, nil
	}
	r := o.startLocked(s, msg)
	s.mu.Unlock()

	o.launch(s, r, msg, sink)
	return false, nil
}

// startLocked claims the session's run slot. s.mu must be held.
func (o *Orchestrator) startLocked(s *session, msg runner.Message) *activeRun {
	ctx, cancel := context.WithCancel(o.baseCtx)
	r := &activeRun{
		run: &Run{
			ID:        uuid.NewString(),
			SessionID: s.id,
			State:     RunStateRunning,
			Input:     msg.Content,
			StartedAt: time.Now(),
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		prev:   s.prev,
	}
	s.prev = nil
	s.active = r
	s.lastRun = r.run
	return r
}

func (o *Orchestrator) launch(s *session, r *activeRun, msg runner.Message, sink events.Sink) {
	o.mu.Lock()
	closed := o.closed.Load()
	if !closed {
		o.wg.Add(1)
	}
	o.mu.Unlock()

	if closed {
		r.cancel()
		o.complete(s, r, nil, sink, "", ErrClosed)
		return
	}

	log.Info().Str("session", s.id).Str("run", r.run.ID).Msg("run started")
	go func() {
		defer o.wg.Done()
		o.run(s, r, msg, sink)
	}()
}

func (o *Orchestrator) run(s *session, r *activeRun, msg runner.Message, sink events.Sink) {
	m := metrics.Get()
	m.RunStarted()
	defer m.RunFinished()

	var (
		agent  runner.Agent
		output string
		err    error
	)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("run panicked: %v", p)
		}
		o.complete(s, r, agent, sink, output, err)
	}()

	// A cancelled run of the same session may still be unwinding.
	if r.prev != nil {
		select {
		case <-r.prev:
		case <-r.ctx.Done():
			err = r.ctx.Err()
			return
		}
	}

	var resume *storage.Checkpoint
	if o.resolver != nil {
		resume = o.resolver.Resolve(r.ctx, s.id)
	}
	agent, err = o.factory.New(r.ctx, s.id, &sessionSink{Sink: sink, usage: s.usage}, resume)
	if err != nil {
		err = fmt.Errorf("build agent: %w", err)
		return
	}

	s.mu.Lock()
	s.agent = agent
	s.mu.Unlock()

	output, err = agent.Run(r.ctx, msg)
}

// complete releases the run slot, persists the checkpoint ref, reports the
// outcome and starts the next run when messages are still queued.
func (o *Orchestrator) complete(s *session, r *activeRun, agent runner.Agent, sink events.Sink, output string, err error) {
	cancelled := err != nil && (errors.Is(err, context.Canceled) || errors.Is(r.ctx.Err(), context.Canceled))

	if agent != nil && o.resolver != nil {
		o.resolver.Remember(context.Background(), s.id, agent.Checkpoint())
	}

	now := time.Now()
	var (
		next    *activeRun
		nextMsg runner.Message
	)
	s.mu.Lock()
	switch {
	case err == nil:
		r.run.State = RunStateCompleted
		r.run.Output = output
	case cancelled:
		r.run.State = RunStateCancelled
	default:
		r.run.State = RunStateFailed
		r.run.Error = err.Error()
	}
	r.run.CompletedAt = &now

	owner := s.active == r
	if owner {
		s.active = nil
	}
	if owner && !cancelled && len(s.queue) > 0 && !o.closed.Load() {
		nextMsg = runner.JoinMessages(s.queue)
		s.queue = nil
		next = o.startLocked(s, nextMsg)
	}
	s.mu.Unlock()

	r.cancel()
	// done may only close once every older run of the session has ended.
	if r.prev != nil {
		<-r.prev
	}
	close(r.done)

	switch {
	case err == nil:
		log.Info().Str("session", s.id).Str("run", r.run.ID).Dur("elapsed", now.Sub(r.run.StartedAt)).Msg("run completed")
	case cancelled:
		log.Debug().Str("session", s.id).Str("run", r.run.ID).Msg("run cancelled")
	default:
		o.report(s.id, err, sink)
	}
	sink.OnRunCompleted(output)

	if next != nil {
		sink.OnQueuedMessagesResolved()
		o.launch(s, next, nextMsg, sink)
	}
}

func (o *Orchestrator) report(sessionID string, err error, sink events.Sink) {
	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		log.Warn().Err(err).Str("session", sessionID).Str("provider", pe.Provider).Msg("run failed in the LLM client")
		sink.OnClientException(err)
		return
	}
	log.Error().Err(err).Str("session", sessionID).Msg("run failed")
}

// Cancel cancels the session's active run and forgets it. It reports
// whether a run was cancelled; calling it again is a no-op.
func (o *Orchestrator) Cancel(sessionID string) bool {
	s := o.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	r := s.active
	if r != nil {
		s.active = nil
		s.prev = r.done
	}
	s.mu.Unlock()
	if r == nil {
		return false
	}
	r.cancel()
	log.Info().Str("session", sessionID).Str("run", r.run.ID).Msg("run cancel requested")
	return true
}

// Drain implements runner.PendingSource: it hands out and clears the
// session's queued messages.
func (o *Orchestrator) Drain(sessionID string) []runner.Message {
	s := o.lookup(sessionID)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	return q
}

// Pending returns a copy of the session's queued messages.
func (o *Orchestrator) Pending(sessionID string) []runner.Message {
	s := o.lookup(sessionID)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]runner.Message(nil), s.queue...)
}

// ClearPending drops the session's queued messages and returns how many
// there were.
func (o *Orchestrator) ClearPending(sessionID string) int {
	s := o.lookup(sessionID)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	s.queue = nil
	return n
}

// IsRunning reports whether the session has an active run.
func (o *Orchestrator) IsRunning(sessionID string) bool {
	s := o.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Usage returns the session's tracked token total.
func (o *Orchestrator) Usage(sessionID string) int64 {
	s := o.lookup(sessionID)
	if s == nil {
		return 0
	}
	return s.usage.Total()
}

// Wait blocks until the session has no active run, including runs started
// for queued messages.
func (o *Orchestrator) Wait(ctx context.Context, sessionID string) error {
	for {
		s := o.lookup(sessionID)
		if s == nil {
			return nil
		}
		s.mu.Lock()
		r := s.active
		s.mu.Unlock()
		if r == nil {
			return nil
		}
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Session returns a snapshot of one session.
func (o *Orchestrator) Session(sessionID string) (SessionInfo, bool) {
	s := o.lookup(sessionID)
	if s == nil {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// Sessions returns snapshots of every session, ordered by id.
func (o *Orchestrator) Sessions() []SessionInfo {
	o.mu.Lock()
	list := make([]*session, 0, len(o.sessions))
	for _, s := range o.sessions {
		list = append(list, s)
	}
	o.mu.Unlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ID:      s.id,
		Running: s.active != nil,
		Pending: len(s.queue),
		Tokens:  s.usage.Total(),
	}
	if s.agent != nil {
		info.AgentID = s.agent.ID()
		info.Checkpoint = s.agent.Checkpoint()
	}
	if s.lastRun != nil {
		run := *s.lastRun
		info.LastRun = &run
	}
	return info
}

// RemoveSession cancels the session's run and drops its queue, agent, token
// tracker and cached checkpoint ref, along with its capability attachments,
// approval queue and background processes.
func (o *Orchestrator) RemoveSession(sessionID string) error {
	o.Cancel(sessionID)

	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	delete(o.sessions, sessionID)
	o.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	s.queue = nil
	s.agent = nil
	s.mu.Unlock()
	s.usage.Reset()

	if o.resolver != nil {
		o.resolver.Forget(sessionID)
	}
	return o.release(sessionID)
}

func (o *Orchestrator) release(sessionID string) error {
	if o.approvals != nil {
		o.approvals.ClearSession(sessionID)
	}
	if o.processes != nil {
		if n := o.processes.KillSession(sessionID); n > 0 {
			log.Info().Str("session", sessionID).Int("killed", n).Msg("background processes killed")
		}
	}
	if o.detacher != nil {
		if err := o.detacher.DetachSession(sessionID); err != nil {
			return fmt.Errorf("detach capability servers of %s: %w", sessionID, err)
		}
	}
	return nil
}

// Close cancels every run, releases every session's resources and waits
// for the runs to finish or ctx to end. Submit fails afterwards.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed.Store(true)
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	o.stop()
	var result *multierror.Error
	for _, id := range ids {
		o.Cancel(id)
		if err := o.release(id); err != nil {
			result = multierror.Append(result, err)
		}
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		result = multierror.Append(result, fmt.Errorf("waiting for runs: %w", ctx.Err()))
	}
	return result.ErrorOrNil()
}

// sessionSink turns the token counts a run reports into the session's
// monotonic total.
type sessionSink struct {
	events.Sink
	usage *UsageTracker
}

func (s *sessionSink) OnTokenUsage(total int64) {
	if delta := s.usage.Report(total); delta > 0 {
		metrics.Get().AddTokens(delta)
	}
	s.Sink.OnTokenUsage(s.usage.Total())
}
