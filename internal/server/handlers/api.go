package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"agentcore/internal/events"
	"agentcore/internal/policy/approval"
	"agentcore/internal/procmgr"
	"agentcore/internal/runner"
	"agentcore/internal/scheduler"
	"agentcore/internal/storage"
	"agentcore/pkg/logger"
)

// Sessions is the orchestrator surface the API drives.
type Sessions interface {
	Submit(ctx context.Context, sessionID string, msg runner.Message, sink events.Sink) (bool, error)
	Cancel(sessionID string) bool
	RemoveSession(sessionID string) error
	Session(sessionID string) (scheduler.SessionInfo, bool)
	Sessions() []scheduler.SessionInfo
	Pending(sessionID string) []runner.Message
}

// Approvals is the approval gate surface the API drives.
type Approvals interface {
	Pending(sessionID string) []approval.Request
	Get(requestID string) (approval.Request, bool)
	Resolve(requestID string, approved, always bool) error
	Answer(requestID string, answers map[string]string) error
}

// Processes lists and kills background processes.
type Processes interface {
	List() []procmgr.Snapshot
	ForSession(sessionID string) []procmgr.Snapshot
	Kill(id string) (procmgr.Snapshot, error)
}

// Checkpoints reads persisted conversation threads.
type Checkpoints interface {
	ListThreads(ctx context.Context) ([]storage.ThreadSummary, error)
	ListCheckpoints(ctx context.Context, agentID string) ([]*storage.Checkpoint, error)
}

// Deps holds the API's collaborators. Any of them may be nil, in which case
// its routes answer 503.
type Deps struct {
	Sessions    Sessions
	Approvals   Approvals
	Processes   Processes
	Checkpoints Checkpoints

	// Sink returns where a session's run events go.
	Sink func(sessionID string) events.Sink
}

// API serves /api/v1.
type API struct {
	deps Deps
}

// NewAPI creates the API handlers.
func NewAPI(deps Deps) *API {
	if deps.Sink == nil {
		deps.Sink = func(string) events.Sink { return events.Nop }
	}
	return &API{deps: deps}
}

// RegisterRoutes mounts the API on r.
func (a *API) RegisterRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/sessions", a.HandleListSessions).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}", a.HandleGetSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}", a.HandleDeleteSession).Methods(http.MethodDelete)
	v1.HandleFunc("/sessions/{id}/messages", a.HandleSendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/cancel", a.HandleCancel).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/approvals", a.HandleListApprovals).Methods(http.MethodGet)

	v1.HandleFunc("/approvals/{id}", a.HandleResolveApproval).Methods(http.MethodPost)

	v1.HandleFunc("/processes", a.HandleListProcesses).Methods(http.MethodGet)
	v1.HandleFunc("/processes/{id}", a.HandleKillProcess).Methods(http.MethodDelete)

	v1.HandleFunc("/checkpoints", a.HandleListThreads).Methods(http.MethodGet)
	v1.HandleFunc("/checkpoints/{agent}", a.HandleListCheckpoints).Methods(http.MethodGet)
}

func unavailable(w http.ResponseWriter, what string) {
	SendError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, what+" not available")
}

// SendMessageRequest is the body of POST /sessions/{id}/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessageResponse reports whether the message started a run or was
// queued behind the active one.
type SendMessageResponse struct {
	SessionID string `json:"session_id"`
	Queued    bool   `json:"queued"`
}

// HandleSendMessage submits a message to a session.
// POST /api/v1/sessions/{id}/messages
func (a *API) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	if a.deps.Sessions == nil {
		unavailable(w, "Scheduler")
		return
	}
	id := mux.Vars(r)["id"]

	var body SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content is required")
		return
	}

	queued, err := a.deps.Sessions.Submit(r.Context(), id, runner.Message{Content: body.Content}, a.deps.Sink(id))
	if err != nil {
		status := http.StatusInternalServerError
		code := ErrCodeInternalError
		if errors.Is(err, scheduler.ErrClosed) || errors.Is(err, scheduler.ErrNoFactory) {
			status, code = http.StatusServiceUnavailable, ErrCodeServiceUnavailable
		}
		logger.Error().Err(err).Str("session", id).Msg("Failed to submit message")
		SendError(w, status, code, err.Error())
		return
	}

	SendJSON(w, http.StatusAccepted, SendMessageResponse{SessionID: id, Queued: queued})
}

// HandleCancel cancels a session's active run.
// POST /api/v1/sessions/{id}/cancel
func (a *API) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if a.deps.Sessions == nil {
		unavailable(w, "Scheduler")
		return
	}
	id := mux.Vars(r)["id"]
	SendJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"cancelled":  a.deps.Sessions.Cancel(id),
	})
}

// HandleDeleteSession removes a session and its resources.
// DELETE /api/v1/sessions/{id}
func (a *API) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if a.deps.Sessions == nil {
		unavailable(w, "Scheduler")
		return
	}
	id := mux.Vars(r)["id"]
	if err := a.deps.Sessions.RemoveSession(id); err != nil {
		if errors.Is(err, scheduler.ErrSessionNotFound) {
			SendError(w, http.StatusNotFound, ErrCodeNotFound, "session not found: "+id)
			return
		}
		logger.Warn().Err(err).Str("session", id).Msg("Session removed with cleanup errors")
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListSessions lists known sessions.
// GET /api/v1/sessions
func (a *API) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	if a.deps.Sessions == nil {
		unavailable(w, "Scheduler")
		return
	}
	sessions := a.deps.Sessions.Sessions()
	if sessions == nil {
		sessions = []scheduler.SessionInfo{}
	}
	SendJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// SessionResponse is a session with its queued messages.
type SessionResponse struct {
	scheduler.SessionInfo
	Queue []runner.Message `json:"queue"`
}

// HandleGetSession returns one session.
// GET /api/v1/sessions/{id}
func (a *API) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	if a.deps.Sessions == nil {
		unavailable(w, "Scheduler")
		return
	}
	id := mux.Vars(r)["id"]
	info, ok := a.deps.Sessions.Session(id)
	if !ok {
		SendError(w, http.StatusNotFound, ErrCodeNotFound, "session not found: "+id)
		return
	}
	queue := a.deps.Sessions.Pending(id)
	if queue == nil {
		queue = []runner.Message{}
	}
	SendJSON(w, http.StatusOK, SessionResponse{SessionInfo: info, Queue: queue})
}

// HandleListApprovals lists a session's pending approvals, head first.
// GET /api/v1/sessions/{id}/approvals
func (a *API) HandleListApprovals(w http.ResponseWriter, r *http.Request) {
	if a.deps.Approvals == nil {
		unavailable(w, "Approval gate")
		return
	}
	pending := a.deps.Approvals.Pending(mux.Vars(r)["id"])
	if pending == nil {
		pending = []approval.Request{}
	}
	SendJSON(w, http.StatusOK, map[string]any{"approvals": pending})
}

// ResolveApprovalRequest answers an approval or a question request.
type ResolveApprovalRequest struct {
	Approved bool              `json:"approved"`
	Always   bool              `json:"always,omitempty"`
	Answers  map[string]string `json:"answers,omitempty"`
}

// HandleResolveApproval resolves a pending request. Question requests take
// answers; everything else takes approved and always.
// POST /api/v1/approvals/{id}
func (a *API) HandleResolveApproval(w http.ResponseWriter, r *http.Request) {
	if a.deps.Approvals == nil {
		unavailable(w, "Approval gate")
		return
	}
	id := mux.Vars(r)["id"]

	var body ResolveApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	req, ok := a.deps.Approvals.Get(id)
	if !ok {
		SendError(w, http.StatusNotFound, ErrCodeNotFound, "approval request not found: "+id)
		return
	}

	var err error
	if req.Kind == approval.KindQuestion {
		err = a.deps.Approvals.Answer(id, body.Answers)
	} else {
		err = a.deps.Approvals.Resolve(id, body.Approved, body.Always)
	}
	if err != nil {
		if errors.Is(err, approval.ErrRequestNotFound) {
			SendError(w, http.StatusNotFound, ErrCodeNotFound, "approval request not found: "+id)
			return
		}
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}

// HandleListProcesses lists background processes, optionally for one
// session.
// GET /api/v1/processes?session=
func (a *API) HandleListProcesses(w http.ResponseWriter, r *http.Request) {
	if a.deps.Processes == nil {
		unavailable(w, "Process registry")
		return
	}
	var list []procmgr.Snapshot
	if session := r.URL.Query().Get("session"); session != "" {
		list = a.deps.Processes.ForSession(session)
	} else {
		list = a.deps.Processes.List()
	}
	if list == nil {
		list = []procmgr.Snapshot{}
	}
	SendJSON(w, http.StatusOK, map[string]any{"processes": list})
}

// HandleKillProcess kills a background process.
// DELETE /api/v1/processes/{id}
func (a *API) HandleKillProcess(w http.ResponseWriter, r *http.Request) {
	if a.deps.Processes == nil {
		unavailable(w, "Process registry")
		return
	}
	id := mux.Vars(r)["id"]
	snap, err := a.deps.Processes.Kill(id)
	if err != nil {
		if errors.Is(err, procmgr.ErrProcessNotFound) {
			SendError(w, http.StatusNotFound, ErrCodeNotFound, "process not found: "+id)
			return
		}
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	SendJSON(w, http.StatusOK, snap)
}

// HandleListThreads lists persisted conversation threads.
// GET /api/v1/checkpoints
func (a *API) HandleListThreads(w http.ResponseWriter, r *http.Request) {
	if a.deps.Checkpoints == nil {
		unavailable(w, "Checkpoint store")
		return
	}
	threads, err := a.deps.Checkpoints.ListThreads(r.Context())
	if err != nil {
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if threads == nil {
		threads = []storage.ThreadSummary{}
	}
	SendJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

// HandleListCheckpoints lists an agent's checkpoints, newest first.
// GET /api/v1/checkpoints/{agent}
func (a *API) HandleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if a.deps.Checkpoints == nil {
		unavailable(w, "Checkpoint store")
		return
	}
	agentID := mux.Vars(r)["agent"]
	list, err := a.deps.Checkpoints.ListCheckpoints(r.Context(), agentID)
	if err != nil {
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if len(list) == 0 {
		SendError(w, http.StatusNotFound, ErrCodeNotFound, "no checkpoints for agent: "+agentID)
		return
	}
	SendJSON(w, http.StatusOK, map[string]any{"agent_id": agentID, "checkpoints": list})
}
