// Package server hosts chat sessions over HTTP. Every HTTP session owns its
// own chat.Session and its own independently built pipeline.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ragchat/internal/chat"
)

// BuilderFactory returns the pipeline builder for a new session.
type BuilderFactory func(sessionID string) chat.Builder

// Server is the HTTP host.
type Server struct {
	router   *mux.Router
	sessions *SessionStore
	factory  BuilderFactory
	logger   *zap.Logger
	metrics  *Metrics
	registry *prometheus.Registry
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the request and session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a server whose sessions build pipelines with factory.
func New(factory BuilderFactory, opts ...Option) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		router:   mux.NewRouter(),
		sessions: NewSessionStore(),
		factory:  factory,
		logger:   zap.NewNop(),
		metrics:  NewMetrics(reg),
		registry: reg,
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.router.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	s.router.HandleFunc("/sessions/{id}/messages", s.handleSendMessage).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{id}/history", s.handleClearHistory).Methods(http.MethodDelete)
	s.router.HandleFunc("/sessions/{id}/evaluations", s.handleEvaluations).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

type sessionResponse struct {
	ID         string      `json:"id"`
	State      string      `json:"state"`
	Summary    string      `json:"summary,omitempty"`
	Error      string      `json:"error,omitempty"`
	History    []chat.Turn `json:"history,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
}

type sendMessageRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	session := chat.NewSession(s.factory(id), chat.WithLogger(s.logger.With(zap.String("session", id))))
	if err := s.sessions.Create(id, session); err != nil {
		internalError(w, err)
		return
	}
	s.metrics.SessionsActive.Inc()

	// The build outlives a client that hangs up; a half-built session
	// would otherwise be stuck failed.
	err := session.Init(context.WithoutCancel(r.Context()))
	resp := sessionResponse{ID: id, State: session.State().String(), Summary: session.Summary()}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, session, ok := s.lookup(w, r)
	if !ok {
		return
	}
	resp := sessionResponse{
		ID:         id,
		State:      session.State().String(),
		Summary:    session.Summary(),
		History:    session.History(),
		Transcript: session.Transcript(),
	}
	if err := session.Err(); err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, session, ok := s.lookup(w, r)
	if !ok {
		return
	}
	// Release the pipeline first so a failed release can be retried.
	if err := session.Close(r.Context()); err != nil {
		if errors.Is(err, chat.ErrBusy) {
			writeError(w, http.StatusConflict, err)
			return
		}
		s.logger.Warn("release session", zap.String("session", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if err := s.sessions.Delete(id); err != nil {
		notFound(w)
		return
	}
	s.metrics.SessionsActive.Dec()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	_, session, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	start := time.Now()
	turn, err := session.Submit(r.Context(), req.Question)
	var answerErr *chat.AnswerError
	switch {
	case err == nil:
		s.metrics.AnswerDuration.Observe(time.Since(start).Seconds())
		s.metrics.TurnsTotal.WithLabelValues("ok").Inc()
		writeJSON(w, http.StatusOK, turn)
	case errors.Is(err, chat.ErrEmptyQuestion):
		s.metrics.TurnsTotal.WithLabelValues("empty").Inc()
		w.WriteHeader(http.StatusNoContent)
	case errors.As(err, &answerErr):
		s.metrics.AnswerDuration.Observe(time.Since(start).Seconds())
		s.metrics.TurnsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusBadGateway, err)
	default:
		s.metrics.TurnsTotal.WithLabelValues("rejected").Inc()
		writeError(w, statusFor(err), err)
	}
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	_, session, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := session.Clear(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	_, session, ok := s.lookup(w, r)
	if !ok {
		return
	}
	report, err := session.Evaluations(r.Context())
	if err != nil {
		s.metrics.EvaluationTotal.WithLabelValues("error").Inc()
		writeError(w, statusFor(err), err)
		return
	}
	s.metrics.EvaluationTotal.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (string, *chat.Session, bool) {
	id := mux.Vars(r)["id"]
	session, err := s.sessions.Get(id)
	if err != nil {
		notFound(w)
		return id, nil, false
	}
	return id, session, true
}

// statusFor maps session errors onto HTTP status codes.
func statusFor(err error) int {
	var evalErr *chat.EvalError
	switch {
	case errors.Is(err, chat.ErrNotReady), errors.Is(err, chat.ErrBusy),
		errors.Is(err, chat.ErrSessionFailed), errors.Is(err, chat.ErrSessionClosed):
		return http.StatusConflict
	case errors.As(err, &evalErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": ErrSessionNotFound.Error()})
}

func internalError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
