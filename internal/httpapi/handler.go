// Package httpapi serves an admin REST API over a runtime: inspect processes
// and tasks, start processes, pause/resume/cancel them, and report the
// outcome of jobs that complete outside the worker.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/petrijr/orchestra/internal/engine"
	"github.com/petrijr/orchestra/internal/persistence"
	"github.com/petrijr/orchestra/pkg/api"
)

// Store loads live tasks and processes. *persistence.Store implements it.
type Store interface {
	LoadProcess(ctx context.Context, uuid string) (*engine.Process, error)
	LoadTask(ctx context.Context, uuid string) (*engine.Task, error)
	Reload(ctx context.Context, e engine.Entity) (bool, error)
	ListProcesses(ctx context.Context, state api.State) ([]string, error)
}

// Starter creates and enqueues processes. *orchestra.Runtime implements it.
type Starter interface {
	Start(ctx context.Context, name string, args ...any) (*engine.Process, error)
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	store   Store
	starter Starter
	history persistence.History
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithStarter enables POST /api/v1/processes.
func WithStarter(s Starter) Option {
	return func(srv *Server) {
		srv.starter = s
	}
}

// WithHistory enables GET /api/v1/processes/{id}/history.
func WithHistory(h persistence.History) Option {
	return func(srv *Server) {
		srv.history = h
	}
}

// WithLogger sets the request logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) {
		srv.logger = l
	}
}

// New creates a Server over store.
func New(store Store, opts ...Option) *Server {
	s := &Server{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the chi router serving the API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger(s.logger))
	r.Use(MaxBodySize(1 << 20))

	r.Get("/healthz", s.healthz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/processes", func(r chi.Router) {
			r.Get("/", s.listProcesses)
			r.Post("/", s.startProcess)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getProcess)
				r.Get("/history", s.getHistory)
				r.Post("/pause", s.control((*engine.Process).Pause))
				r.Post("/resume", s.control((*engine.Process).Resume))
				r.Post("/cancel", s.control((*engine.Process).Cancel))
			})
		})
		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Get("/", s.getTask)
			r.Post("/finish", s.finishTask)
			r.Post("/fail", s.failTask)
		})
	})
	return r
}

// StartProcessRequest is the JSON body for POST /api/v1/processes.
type StartProcessRequest struct {
	Definition string `json:"definition"`
	Args       []any  `json:"args,omitempty"`
}

// FailTaskRequest is the JSON body for POST /api/v1/tasks/{id}/fail.
type FailTaskRequest struct {
	Error string `json:"error"`
}

// ProcessView is the JSON form of a process.
type ProcessView struct {
	UUID        string     `json:"uuid"`
	Definition  string     `json:"definition,omitempty"`
	Composition string     `json:"composition"`
	State       api.State  `json:"state"`
	Tasks       []TaskView `json:"tasks"`
}

// TaskView is the JSON form of a task. Sub-process tasks carry their
// nested process.
type TaskView struct {
	UUID       string       `json:"uuid"`
	Kind       string       `json:"kind"`
	Name       string       `json:"name,omitempty"`
	State      api.State    `json:"state"`
	Process    string       `json:"process,omitempty"`
	SubProcess *ProcessView `json:"sub_process,omitempty"`
}

// TransitionView is one entry of a process history.
type TransitionView struct {
	State api.State `json:"state"`
	At    time.Time `json:"at"`
}

func viewProcess(p *engine.Process) ProcessView {
	v := ProcessView{
		UUID:        p.UUID(),
		Definition:  p.DefinitionName(),
		Composition: string(p.Composition()),
		State:       p.State(),
		Tasks:       []TaskView{},
	}
	for _, t := range p.Tasks() {
		v.Tasks = append(v.Tasks, viewTask(t))
	}
	return v
}

func viewTask(t *engine.Task) TaskView {
	v := TaskView{
		UUID:    t.UUID(),
		Kind:    string(t.Kind()),
		State:   t.State(),
		Process: t.ProcessUUID(),
	}
	switch t.Kind() {
	case engine.KindStep:
		v.Name = t.Method()
	case engine.KindJob:
		v.Name = t.JobName()
	case engine.KindSubProcess:
		if sub := t.SubProcess(); sub != nil {
			pv := viewProcess(sub)
			v.SubProcess = &pv
		}
	}
	return v
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listProcesses(w http.ResponseWriter, r *http.Request) {
	state := api.State(r.URL.Query().Get("state"))
	ids, err := s.store.ListProcesses(r.Context(), state)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"processes": ids})
}

func (s *Server) startProcess(w http.ResponseWriter, r *http.Request) {
	if s.starter == nil {
		writeError(w, http.StatusNotImplemented, "starting processes is not enabled")
		return
	}
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "orchestra.http.start_process")
	defer span.End()

	var req StartProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Definition == "" {
		writeError(w, http.StatusBadRequest, "field 'definition' is required")
		return
	}
	span.SetAttributes(attribute.String("orchestra.definition", req.Definition))

	p, err := s.starter.Start(ctx, req.Definition, req.Args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		s.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("orchestra.uuid", p.UUID()))
	s.logger.InfoContext(ctx, "process started",
		slog.String("uuid", p.UUID()),
		slog.String("definition", req.Definition),
	)
	writeJSON(w, http.StatusAccepted, viewProcess(p))
}

// process loads the process named in the URL. Workers in other processes
// move the graph, so it is refreshed from storage first.
func (s *Server) process(r *http.Request) (*engine.Process, error) {
	p, err := s.store.LoadProcess(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if err := s.sync(r.Context(), p.RootKey()); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Server) task(r *http.Request) (*engine.Task, error) {
	t, err := s.store.LoadTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if err := s.sync(r.Context(), t.RootKey()); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Server) sync(ctx context.Context, rootKey string) error {
	root, err := s.store.LoadProcess(ctx, rootKey)
	if err != nil {
		return err
	}
	_, err = s.store.Reload(ctx, root)
	return err
}

func (s *Server) getProcess(w http.ResponseWriter, r *http.Request) {
	p, err := s.process(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewProcess(p))
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "history is not recorded")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.store.LoadProcess(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	trs, err := s.history.List(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]TransitionView, 0, len(trs))
	for _, tr := range trs {
		out = append(out, TransitionView{State: tr.State, At: tr.At})
	}
	writeJSON(w, http.StatusOK, map[string][]TransitionView{"transitions": out})
}

func (s *Server) control(op func(*engine.Process, context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.process(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if err := op(p, r.Context()); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewProcess(p))
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.task(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewTask(t))
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (*engine.Task, bool) {
	t, err := s.task(r)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	if t.Kind() != engine.KindJob {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("task %s is a %s, not a job", t.UUID(), t.Kind()))
		return nil, false
	}
	if t.State() != api.StateProcessing {
		writeError(w, http.StatusConflict, fmt.Sprintf("job %s is %s, not processing", t.UUID(), t.State()))
		return nil, false
	}
	return t, true
}

func (s *Server) finishTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if err := t.Finish(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewTask(t))
}

func (s *Server) failTask(w http.ResponseWriter, r *http.Request) {
	var req FailTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Error == "" {
		writeError(w, http.StatusBadRequest, "field 'error' is required")
		return
	}
	t, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	cause := &api.ExecutionError{TaskUUID: t.UUID(), Err: errors.New(req.Error)}
	if err := t.Fail(r.Context(), cause); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewTask(t))
}

// fail maps err to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, api.ErrUnknownDefinition):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, api.ErrInvalidTransition), errors.Is(err, api.ErrStateConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
