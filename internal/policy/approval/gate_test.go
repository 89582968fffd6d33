package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPresenter struct {
	mu        sync.Mutex
	presented []string
	resolved  map[string]Resolution
	ch        chan *Request
}

func newRecordingPresenter() *recordingPresenter {
	return &recordingPresenter{resolved: make(map[string]Resolution), ch: make(chan *Request, 16)}
}

func (p *recordingPresenter) Present(req *Request) {
	p.mu.Lock()
	p.presented = append(p.presented, req.ID)
	p.mu.Unlock()
	p.ch <- req
}

func (p *recordingPresenter) Resolved(req *Request, res Resolution) {
	p.mu.Lock()
	p.resolved[req.ID] = res
	p.mu.Unlock()
}

func (p *recordingPresenter) Presented() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.presented...)
}

func (p *recordingPresenter) next(t *testing.T) *Request {
	t.Helper()
	select {
	case req := <-p.ch:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presentation")
		return nil
	}
}

type outcome struct {
	decision Decision
	err      error
}

func request(g *Gate, ctx context.Context, id, session string) <-chan outcome {
	ch := make(chan outcome, 1)
	go func() {
		d, err := g.Request(ctx, Request{ID: id, SessionID: session, Kind: KindShell, Title: id})
		ch <- outcome{d, err}
	}()
	return ch
}

func waitOutcome(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decision")
		return outcome{}
	}
}

func waitQueued(t *testing.T, g *Gate, session string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(g.Pending(session)) == n }, 2*time.Second, 5*time.Millisecond)
}

func TestGate_NilApproves(t *testing.T) {
	var g *Gate
	d, err := g.Request(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, DecisionApproved, d)
}

func TestGate_PresentsOnlyHead(t *testing.T) {
	p := newRecordingPresenter()
	g := NewGate(WithPresenter(p))
	ctx := context.Background()

	first := request(g, ctx, "r1", "s1")
	assert.Equal(t, "r1", p.next(t).ID)

	second := request(g, ctx, "r2", "s1")
	waitQueued(t, g, "s1", 2)
	assert.Equal(t, []string{"r1"}, p.Presented())

	cur, ok := g.Current("s1")
	require.True(t, ok)
	assert.Equal(t, "r1", cur.ID)

	require.NoError(t, g.Resolve("r1", true, false))
	assert.Equal(t, DecisionApproved, waitOutcome(t, first).decision)
	assert.Equal(t, "r2", p.next(t).ID)

	require.NoError(t, g.Resolve("r2", false, false))
	assert.Equal(t, DecisionRejected, waitOutcome(t, second).decision)
	assert.Empty(t, g.Pending("s1"))
}

func TestGate_RejectDoesNotCascade(t *testing.T) {
	p := newRecordingPresenter()
	g := NewGate(WithPresenter(p))
	ctx := context.Background()

	first := request(g, ctx, "r1", "s1")
	p.next(t)
	second := request(g, ctx, "r2", "s1")
	waitQueued(t, g, "s1", 2)

	require.NoError(t, g.Resolve("r1", false, false))
	assert.Equal(t, DecisionRejected, waitOutcome(t, first).decision)

	assert.Equal(t, "r2", p.next(t).ID)
	assert.Len(t, g.Pending("s1"), 1)
	require.NoError(t, g.Resolve("r2", true, false))
	assert.Equal(t, DecisionApproved, waitOutcome(t, second).decision)
}

func TestGate_AlwaysDrainsQueue(t *testing.T) {
	p := newRecordingPresenter()
	g := NewGate(WithPresenter(p))
	ctx := context.Background()

	first := request(g, ctx, "r1", "s1")
	p.next(t)
	second := request(g, ctx, "r2", "s1")
	third := request(g, ctx, "r3", "s1")
	waitQueued(t, g, "s1", 3)

	require.NoError(t, g.Resolve("r1", true, true))
	assert.Equal(t, DecisionApproved, waitOutcome(t, first).decision)
	assert.Equal(t, DecisionApproved, waitOutcome(t, second).decision)
	assert.Equal(t, DecisionApproved, waitOutcome(t, third).decision)
	assert.True(t, g.IsAutoApproved("s1"))
	assert.Equal(t, []string{"r1"}, p.Presented())

	// Later requests resolve without a presentation.
	d, err := g.Request(ctx, Request{SessionID: "s1", Kind: KindWrite})
	require.NoError(t, err)
	assert.Equal(t, DecisionApproved, d)
}

func TestGate_SessionsAreIndependent(t *testing.T) {
	p := newRecordingPresenter()
	g := NewGate(WithPresenter(p))
	ctx := context.Background()

	a := request(g, ctx, "a1", "sa")
	b := request(g, ctx, "b1", "sb")
	ids := []string{p.next(t).ID, p.next(t).ID}
	assert.ElementsMatch(t, []string{"a1", "b1"}, ids)

	require.NoError(t, g.Resolve("b1", true, true))
	assert.Equal(t, DecisionApproved, waitOutcome(t, b).decision)
	assert.False(t, g.IsAutoApproved("sa"))

	require.NoError(t, g.Resolve("a1", false, false))
	assert.Equal(t, DecisionRejected, waitOutcome(t, a).decision)
}

func TestGate_CancelAdvancesQueue(t *testing.T) {
	p := newRecordingPresenter()
	g := NewGate(WithPresenter(p))

	ctx, cancel := context.WithCancel(context.Background())
	first := request(g, ctx, "r1", "s1")
	p.next(t)
	second := request(g, context.Background(), "r2", "s1")
	waitQueued(t, g, "s1", 2)

	cancel()
	o := waitOutcome(t, first)
	require.NoError(t, o.err)
	assert.Equal(t, DecisionRejected, o.decision)

	assert.Equal(t, "r2", p.next(t).ID)
	require.NoError(t, g.Resolve("r2", true, false))
	assert.Equal(t, DecisionApproved, waitOutcome(t, second).decision)

	p.mu.Lock()
	res, ok := p.resolved["r1"]
	p.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, DecisionRejected, res.Decision)
}

func TestGate_QuestionsNeedHuman(t *testing.T) {
	p := newRecordingPresenter()
	g := NewGate(WithPresenter(p), WithAutoApprove(true))

	type answer struct {
		answers map[string]string
		err     error
	}
	ch := make(chan answer, 1)
	go func() {
		a, err := g.Ask(context.Background(), "s1", []Question{{ID: "q1", Text: "Which?", Options: []string{"x", "y"}}})
		ch <- answer{a, err}
	}()

	req := p.next(t)
	assert.Equal(t, KindQuestion, req.Kind)
	require.NoError(t, g.Answer(req.ID, map[string]string{"q1": "y"}))

	select {
	case a := <-ch:
		require.NoError(t, a.err)
		assert.Equal(t, map[string]string{"q1": "y"}, a.answers)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for answers")
	}
}

func TestGate_RejectedQuestionReturnsEmpty(t *testing.T) {
	p := newRecordingPresenter()
	g := NewGate(WithPresenter(p))

	ch := make(chan map[string]string, 1)
	go func() {
		a, _ := g.Ask(context.Background(), "s1", []Question{{ID: "q1", Text: "?"}})
		ch <- a
	}()
	req := p.next(t)
	require.NoError(t, g.Resolve(req.ID, false, false))

	select {
	case a := <-ch:
		assert.NotNil(t, a)
		assert.Empty(t, a)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestGate_ResolveUnknown(t *testing.T) {
	g := NewGate()
	assert.ErrorIs(t, g.Resolve("missing", true, false), ErrRequestNotFound)
	assert.ErrorIs(t, g.Answer("missing", nil), ErrRequestNotFound)
}

func TestGate_ClearSessionRejectsAndResets(t *testing.T) {
	p := newRecordingPresenter()
	g := NewGate(WithPresenter(p))
	ctx := context.Background()

	g.AutoApprove("s2")
	assert.True(t, g.IsAutoApproved("s2"))
	g.ClearSession("s2")
	assert.False(t, g.IsAutoApproved("s2"))

	first := request(g, ctx, "r1", "s1")
	p.next(t)
	second := request(g, ctx, "r2", "s1")
	waitQueued(t, g, "s1", 2)

	g.ClearSession("s1")
	assert.Equal(t, DecisionRejected, waitOutcome(t, first).decision)
	assert.Equal(t, DecisionRejected, waitOutcome(t, second).decision)
	assert.Empty(t, g.Pending("s1"))
}

func TestGate_CloseRefusesNewRequests(t *testing.T) {
	p := newRecordingPresenter()
	g := NewGate(WithPresenter(p))

	pending := request(g, context.Background(), "r1", "s1")
	p.next(t)
	g.Close()
	assert.Equal(t, DecisionRejected, waitOutcome(t, pending).decision)

	d, err := g.Request(context.Background(), Request{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrGateClosed)
	assert.Equal(t, DecisionRejected, d)
}

func TestGate_LogsRequestsAndDecisions(t *testing.T) {
	logger := NewMemoryLogger(0)
	g := NewGate(WithLogger(logger), WithAutoApprove(true))

	d, err := g.Request(context.Background(), Request{ID: "r1", SessionID: "s1", Kind: KindEdit, ToolName: "edit_file"})
	require.NoError(t, err)
	assert.Equal(t, DecisionApproved, d)

	entries := logger.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "request", entries[0].EventType)
	assert.Equal(t, "decision", entries[1].EventType)
	assert.Equal(t, DecisionApproved, entries[1].Decision)
	assert.True(t, entries[1].Auto)
	assert.Equal(t, "edit_file", entries[1].ToolName)
}
