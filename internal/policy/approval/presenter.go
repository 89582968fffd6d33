package approval

import (
	"sync"
	"time"

	"agentcore/internal/events"
)

// EventPresenter publishes requests as events for remote clients, which
// answer through the HTTP API.
type EventPresenter struct {
	Publish func(events.Event)
}

// Present publishes an approval_requested event.
func (p *EventPresenter) Present(req *Request) {
	if p == nil || p.Publish == nil {
		return
	}
	p.Publish(events.Event{
		Type:      events.TypeApprovalRequested,
		SessionID: req.SessionID,
		ID:        req.ID,
		ToolName:  req.ToolName,
		Text:      req.Title,
		Args:      req,
		Time:      time.Now(),
	})
}

// Resolved publishes an approval_resolved event.
func (p *EventPresenter) Resolved(req *Request, res Resolution) {
	if p == nil || p.Publish == nil {
		return
	}
	p.Publish(events.Event{
		Type:      events.TypeApprovalResolved,
		SessionID: req.SessionID,
		ID:        req.ID,
		ToolName:  req.ToolName,
		Result:    res,
		Time:      time.Now(),
	})
}

// MultiPresenter fans out to several presenters.
type MultiPresenter struct {
	mu         sync.RWMutex
	presenters []Presenter
}

// NewMultiPresenter creates a fan-out presenter.
func NewMultiPresenter(ps ...Presenter) *MultiPresenter {
	m := &MultiPresenter{}
	for _, p := range ps {
		m.Add(p)
	}
	return m
}

// Add appends a presenter.
func (m *MultiPresenter) Add(p Presenter) {
	if p == nil {
		return
	}
	m.mu.Lock()
	m.presenters = append(m.presenters, p)
	m.mu.Unlock()
}

func (m *MultiPresenter) Present(req *Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.presenters {
		p.Present(req)
	}
}

func (m *MultiPresenter) Resolved(req *Request, res Resolution) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.presenters {
		p.Resolved(req, res)
	}
}
