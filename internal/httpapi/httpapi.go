// Package httpapi wires the Supervisor, Project Scanner, and Session Index
// into the internal HTTP handler stack that both direct HTTP and the
// Secure Transport's forwarded `request` messages (§4.11) share. It
// implements internal/transport.RequestHandler so a single routing table
// serves either transport.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tetherhq/tether/internal/adapter"
	"github.com/tetherhq/tether/internal/eventbus"
	"github.com/tetherhq/tether/internal/model"
	"github.com/tetherhq/tether/internal/process"
	"github.com/tetherhq/tether/internal/projectscan"
	"github.com/tetherhq/tether/internal/sessionindex"
	"github.com/tetherhq/tether/internal/supervisor"
	"github.com/tetherhq/tether/internal/workerqueue"
	"github.com/tetherhq/tether/pkg/protocol"
)

// Server holds every dependency the routing table below reaches into.
type Server struct {
	supervisor *supervisor.Supervisor
	scanner    *projectscan.Scanner
	projects   *projectscan.Service
	sessions   *sessionindex.Index
	knownPaths func() []string
	bus        *eventbus.Bus
	log        zerolog.Logger
	router     chi.Router

	queuesMu sync.Mutex
	queues   map[string]*workerqueue.Queue
}

// Options configures a Server.
type Options struct {
	Supervisor *supervisor.Supervisor
	Scanner    *projectscan.Scanner
	Projects   *projectscan.Service
	Sessions   *sessionindex.Index
	KnownPaths func() []string
	Bus        *eventbus.Bus
	Log        zerolog.Logger
}

// New builds a Server and its routing table.
func New(opts Options) *Server {
	s := &Server{
		supervisor: opts.Supervisor,
		scanner:    opts.Scanner,
		projects:   opts.Projects,
		sessions:   opts.Sessions,
		knownPaths: opts.KnownPaths,
		bus:        opts.Bus,
		log:        opts.Log.With().Str("component", "httpapi").Logger(),
		queues:     make(map[string]*workerqueue.Queue),
	}
	s.router = s.buildRouter()
	return s
}

// queueFor returns the per-project start-session queue, creating it (and its
// single worker goroutine) on first use.
func (s *Server) queueFor(projectID string) *workerqueue.Queue {
	s.queuesMu.Lock()
	defer s.queuesMu.Unlock()
	if q, ok := s.queues[projectID]; ok {
		return q
	}
	q := workerqueue.New(projectID, s.bus)
	s.queues[projectID] = q
	go s.runQueueWorker(projectID, q)
	return q
}

// runQueueWorker drains q in FIFO order, one request at a time, for as long
// as the process lives. Dequeue never blocks, so an idle worker polls a
// short, bounded interval rather than busy-spinning.
func (s *Server) runQueueWorker(projectID string, q *workerqueue.Queue) {
	for {
		req := q.Dequeue()
		if req == nil {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		s.runQueuedStart(req)
	}
}

func (s *Server) runQueuedStart(req *workerqueue.Request) {
	opts, _ := req.Opts.(queuedStart)
	proc, err := s.supervisor.StartSession(context.Background(), req.ProjectID, opts.ProjectPath, opts.Family, opts.Start)
	if err != nil {
		req.Resolve(workerqueue.Result{Status: "error", Err: err})
		return
	}
	req.Resolve(workerqueue.Result{Status: "ok", Value: proc})
}

// queuedStart is the opaque payload a startSession handler hands to the
// queue; runQueuedStart type-asserts it back out.
type queuedStart struct {
	ProjectPath string
	Family      model.AgentFamily
	Start       adapter.StartOptions
}

// ServeHTTP lets Server stand in directly as an http.Handler for a direct
// listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handle implements internal/transport.RequestHandler: it replays a
// forwarded request message through the same chi router a direct HTTP
// client would hit, tagging it with the two well-known transport headers.
func (s *Server) Handle(req protocol.RequestMsg, connID, sessionID string) protocol.ResponseMsg {
	httpReq, err := http.NewRequest(req.Method, req.Path, bytesReader(req.Body))
	if err != nil {
		return protocol.ResponseMsg{ID: req.ID, Status: http.StatusBadRequest}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set(protocol.RequestHeaderConnID, connID)
	if sessionID != "" {
		httpReq.Header.Set(protocol.RequestHeaderSessionID, sessionID)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httpReq)

	headers := map[string]string{}
	for k := range rec.Header() {
		headers[k] = rec.Header().Get(k)
	}
	return protocol.ResponseMsg{
		ID:      req.ID,
		Status:  rec.Code,
		Headers: headers,
		Body:    rec.Body.Bytes(),
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Get("/projects", s.listProjects)
	r.Get("/projects/current", s.currentProject)
	r.Route("/projects/{projectID}/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.startSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Post("/messages", s.queueMessage)
			r.Post("/input/{requestID}", s.respondToInput)
			r.Put("/permission-mode", s.setPermissionMode)
			r.Put("/hold", s.setHold)
			r.Post("/abort", s.abortSession)
		})
	})

	return r
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	paths := s.knownPaths()
	projects, err := s.scanner.Scan(paths)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) currentProject(w http.ResponseWriter, r *http.Request) {
	proj, err := s.projects.Current()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	projectPath, err := model.ProjectPath(projectID)
	if err != nil {
		writeErr(w, err)
		return
	}
	family := model.AgentFamily(r.URL.Query().Get("family"))
	sessions, err := s.sessions.ListSessions(projectID, projectPath, family)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	proc, ok := s.supervisor.GetProcessForSession(sessionID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      proc.ID(),
		"state":   proc.State(),
		"history": proc.MessageHistory(),
	})
}

type startSessionRequest struct {
	Family          model.AgentFamily    `json:"family"`
	Cwd             string               `json:"cwd"`
	Model           string               `json:"model"`
	ResumeSessionID string               `json:"resumeSessionId"`
	PermissionMode  model.PermissionMode `json:"permissionMode"`
	InitialMessage  string               `json:"initialMessage"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	projectPath, err := model.ProjectPath(projectID)
	if err != nil {
		writeErr(w, err)
		return
	}

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, model.WrapError(model.ErrInvalidInput, "decode startSession body", err))
		return
	}
	if req.Cwd == "" {
		req.Cwd = projectPath
	}

	q := s.queueFor(projectID)
	kind := workerqueue.KindNewSession
	if req.ResumeSessionID != "" {
		kind = workerqueue.KindResumeSession
	}
	queued, _ := q.Enqueue(kind, req.ResumeSessionID, queuedStart{
		ProjectPath: projectPath,
		Family:      req.Family,
		Start: adapter.StartOptions{
			Cwd:             req.Cwd,
			Model:           req.Model,
			ResumeSessionID: req.ResumeSessionID,
			PermissionMode:  req.PermissionMode,
			InitialMessage:  req.InitialMessage,
		},
	})

	res := queued.Wait()
	if res.Err != nil {
		writeErr(w, res.Err)
		return
	}
	proc, _ := res.Value.(*process.Process)
	writeJSON(w, http.StatusCreated, map[string]any{"id": proc.ID(), "state": proc.State()})
}

type queueMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) queueMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	proc, ok := s.supervisor.GetProcessForSession(sessionID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	var req queueMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, model.WrapError(model.ErrInvalidInput, "decode queueMessage body", err))
		return
	}
	if err := proc.QueueMessage(req.Text); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type respondToInputRequest struct {
	Outcome model.InputOutcome `json:"outcome"`
	Payload map[string]any     `json:"payload"`
}

func (s *Server) respondToInput(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	requestID := chi.URLParam(r, "requestID")
	proc, ok := s.supervisor.GetProcessForSession(sessionID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	var req respondToInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, model.WrapError(model.ErrInvalidInput, "decode respondToInput body", err))
		return
	}
	if !proc.RespondToInput(requestID, req.Outcome, req.Payload) {
		http.Error(w, "pending input request not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setPermissionModeRequest struct {
	Mode model.PermissionMode `json:"mode"`
}

func (s *Server) setPermissionMode(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	proc, ok := s.supervisor.GetProcessForSession(sessionID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	var req setPermissionModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, model.WrapError(model.ErrInvalidInput, "decode setPermissionMode body", err))
		return
	}
	if !req.Mode.Valid() {
		http.Error(w, "invalid permission mode", http.StatusBadRequest)
		return
	}
	proc.SetPermissionMode(req.Mode)
	w.WriteHeader(http.StatusNoContent)
}

type setHoldRequest struct {
	On bool `json:"on"`
}

func (s *Server) setHold(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	proc, ok := s.supervisor.GetProcessForSession(sessionID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	var req setHoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, model.WrapError(model.ErrInvalidInput, "decode setHold body", err))
		return
	}
	proc.SetHold(req.On)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	proc, ok := s.supervisor.GetProcessForSession(sessionID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	proc.Abort()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch model.KindOf(err) {
	case model.ErrInvalidInput, model.ErrFormat:
		status = http.StatusBadRequest
	case model.ErrNotFound:
		status = http.StatusNotFound
	case model.ErrAuthRequired:
		status = http.StatusUnauthorized
	case model.ErrAuthFailed:
		status = http.StatusForbidden
	}
	http.Error(w, err.Error(), status)
}

func bytesReader(b []byte) *strings.Reader {
	return strings.NewReader(string(b))
}
