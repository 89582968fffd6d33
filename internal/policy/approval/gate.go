package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"agentcore/internal/metrics"
)

type entry struct {
	req       *Request
	done      chan Resolution
	presented bool
}

type sessionState struct {
	queue []*entry
	auto  bool
}

// Gate queues approval requests per session and presents only the head of
// each queue. Waiters block on their own channel, so no worker is held while
// a human decides.
type Gate struct {
	mu          sync.Mutex
	sessions    map[string]*sessionState
	byID        map[string]*entry
	presenter   Presenter
	logger      Logger
	autoDefault bool
	closed      bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithPresenter sets the presenter.
func WithPresenter(p Presenter) Option {
	return func(g *Gate) { g.presenter = p }
}

// WithLogger sets the audit logger.
func WithLogger(l Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithAutoApprove starts every new session auto-approved.
func WithAutoApprove(auto bool) Option {
	return func(g *Gate) { g.autoDefault = auto }
}

// NewGate creates a Gate.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		sessions: make(map[string]*sessionState),
		byID:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetPresenter replaces the presenter. Requests already presented are not
// shown again.
func (g *Gate) SetPresenter(p Presenter) {
	g.mu.Lock()
	g.presenter = p
	g.mu.Unlock()
}

// Request enqueues req and blocks until it is resolved. Cancelling ctx
// resolves it as rejected. A nil Gate approves everything.
func (g *Gate) Request(ctx context.Context, req Request) (Decision, error) {
	if g == nil {
		return DecisionApproved, nil
	}
	if req.Kind == "" {
		req.Kind = KindGeneric
	}
	res, err := g.wait(ctx, &req)
	return res.Decision, err
}

// Ask enqueues a question request and returns the answers keyed by
// question id. Rejection or cancellation yields an empty map.
func (g *Gate) Ask(ctx context.Context, sessionID string, questions []Question) (map[string]string, error) {
	if g == nil {
		return map[string]string{}, nil
	}
	res, err := g.wait(ctx, &Request{
		SessionID: sessionID,
		Kind:      KindQuestion,
		Title:     "Questions",
		Questions: questions,
	})
	if err != nil || res.Answers == nil {
		return map[string]string{}, err
	}
	return res.Answers, nil
}

func (g *Gate) wait(ctx context.Context, req *Request) (Resolution, error) {
	rejected := Resolution{Decision: DecisionRejected}

	e, notes, err := g.enqueue(req)
	if err != nil {
		return rejected, err
	}
	if g.logger != nil {
		if err := g.logger.LogRequest(req); err != nil {
			log.Warn().Err(err).Str("request_id", req.ID).Msg("failed to log approval request")
		}
	}
	run(notes)

	select {
	case res := <-e.done:
		return res, nil
	case <-ctx.Done():
		g.mu.Lock()
		var cancelNotes []func()
		if _, pending := g.byID[req.ID]; pending {
			cancelNotes = g.resolveLocked(e, rejected)
			if s := g.sessions[req.SessionID]; s != nil {
				cancelNotes = append(cancelNotes, g.advanceLocked(s)...)
			}
		}
		g.mu.Unlock()
		run(cancelNotes)
		log.Debug().Str("request_id", req.ID).Msg("approval request cancelled")
		return rejected, nil
	}
}

func (g *Gate) enqueue(req *Request) (*entry, []func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, nil, ErrGateClosed
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	e := &entry{req: req, done: make(chan Resolution, 1)}
	s := g.sessionLocked(req.SessionID)
	s.queue = append(s.queue, e)
	g.byID[req.ID] = e
	metrics.Get().ApprovalPending(1)

	log.Debug().
		Str("request_id", req.ID).
		Str("session_id", req.SessionID).
		Str("kind", string(req.Kind)).
		Int("queued", len(s.queue)).
		Msg("approval request enqueued")

	return e, g.advanceLocked(s), nil
}

// Resolve decides a pending request. With always set on an approval the
// session becomes auto-approved and the rest of its queue drains in order.
func (g *Gate) Resolve(requestID string, approved, always bool) error {
	d := DecisionRejected
	if approved {
		d = DecisionApproved
	}
	return g.resolve(requestID, Resolution{Decision: d}, approved && always)
}

// Answer resolves a question request with answers.
func (g *Gate) Answer(requestID string, answers map[string]string) error {
	if answers == nil {
		answers = map[string]string{}
	}
	return g.resolve(requestID, Resolution{Decision: DecisionApproved, Answers: answers}, false)
}

func (g *Gate) resolve(requestID string, res Resolution, always bool) error {
	g.mu.Lock()
	e, ok := g.byID[requestID]
	if !ok {
		g.mu.Unlock()
		return ErrRequestNotFound
	}
	s := g.sessionLocked(e.req.SessionID)
	if always {
		s.auto = true
	}
	notes := g.resolveLocked(e, res)
	notes = append(notes, g.advanceLocked(s)...)
	g.mu.Unlock()

	log.Info().
		Str("request_id", requestID).
		Str("session_id", e.req.SessionID).
		Str("decision", string(res.Decision)).
		Bool("always", always).
		Msg("approval resolved")
	run(notes)
	return nil
}

// AutoApprove marks the session auto-approved. The flag is never cleared
// except by ClearSession.
func (g *Gate) AutoApprove(sessionID string) {
	g.mu.Lock()
	s := g.sessionLocked(sessionID)
	s.auto = true
	notes := g.advanceLocked(s)
	g.mu.Unlock()
	run(notes)
}

// IsAutoApproved reports the session's auto-approve flag.
func (g *Gate) IsAutoApproved(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions[sessionID]; ok {
		return s.auto
	}
	return g.autoDefault
}

// Pending returns the session's queued requests, head first.
func (g *Gate) Pending(sessionID string) []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Request, 0, len(s.queue))
	for _, e := range s.queue {
		out = append(out, *e.req)
	}
	return out
}

// Current returns the request being shown for the session.
func (g *Gate) Current(sessionID string) (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok || len(s.queue) == 0 || !s.queue[0].presented {
		return Request{}, false
	}
	return *s.queue[0].req, true
}

// Get returns a pending request by id.
func (g *Gate) Get(requestID string) (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.byID[requestID]; ok {
		return *e.req, true
	}
	return Request{}, false
}

// ClearSession rejects everything queued for the session and forgets it,
// including its auto-approve flag.
func (g *Gate) ClearSession(sessionID string) {
	g.mu.Lock()
	notes := g.clearLocked(sessionID)
	g.mu.Unlock()
	run(notes)
}

// Close rejects all pending requests and refuses new ones.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	var notes []func()
	for id := range g.sessions {
		notes = append(notes, g.clearLocked(id)...)
	}
	g.mu.Unlock()
	run(notes)
}

func (g *Gate) clearLocked(sessionID string) []func() {
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil
	}
	var notes []func()
	for len(s.queue) > 0 {
		notes = append(notes, g.resolveLocked(s.queue[0], Resolution{Decision: DecisionRejected})...)
	}
	delete(g.sessions, sessionID)
	return notes
}

func (g *Gate) sessionLocked(id string) *sessionState {
	s, ok := g.sessions[id]
	if !ok {
		s = &sessionState{auto: g.autoDefault}
		g.sessions[id] = s
	}
	return s
}

// resolveLocked removes e from its queue and completes its wait. The
// returned callbacks notify the presenter and logger outside the lock.
func (g *Gate) resolveLocked(e *entry, res Resolution) []func() {
	if _, ok := g.byID[e.req.ID]; !ok {
		return nil
	}
	delete(g.byID, e.req.ID)
	if s, ok := g.sessions[e.req.SessionID]; ok {
		for i, q := range s.queue {
			if q == e {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
	}
	e.done <- res

	m := metrics.Get()
	m.ApprovalPending(-1)
	m.RecordApproval(string(e.req.Kind), res.Decision.Approved())

	var notes []func()
	if p := g.presenter; p != nil && e.presented {
		req := e.req
		notes = append(notes, func() { p.Resolved(req, res) })
	}
	if l := g.logger; l != nil {
		req := e.req
		notes = append(notes, func() {
			if err := l.LogDecision(req, res); err != nil {
				log.Warn().Err(err).Str("request_id", req.ID).Msg("failed to log approval decision")
			}
		})
	}
	return notes
}

// advanceLocked auto-resolves leading requests of an auto-approved session
// and presents the new head. Questions always need a human.
func (g *Gate) advanceLocked(s *sessionState) []func() {
	var notes []func()
	for len(s.queue) > 0 {
		head := s.queue[0]
		if s.auto && head.req.Kind != KindQuestion {
			notes = append(notes, g.resolveLocked(head, Resolution{Decision: DecisionApproved, Auto: true})...)
			continue
		}
		if !head.presented {
			head.presented = true
			if p := g.presenter; p != nil {
				req := head.req
				notes = append(notes, func() { p.Present(req) })
			}
		}
		break
	}
	return notes
}

func run(notes []func()) {
	for _, n := range notes {
		n()
	}
}
