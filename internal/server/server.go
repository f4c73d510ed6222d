// Package server exposes the agent's trigger surface as a JSON HTTP API.
// Admin endpoints return {status, message} on failure; the chat and
// caption endpoints always answer with text, falling back to an apology
// instead of surfacing generation errors to the platform.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sociagent/internal/automation"
	"sociagent/internal/config"
	"sociagent/internal/generation"
	"sociagent/internal/orchestrator"
	"sociagent/internal/store"
)

// Agent is the orchestrator surface the HTTP handlers drive.
type Agent interface {
	SwitchAccount(ctx context.Context, userID string) error
	ReloadPersona(ctx context.Context, p store.Persona) error
	ReloadConfig(ctx context.Context, c store.AccountConfig) error
	RunDecisionCycle(ctx context.Context) (orchestrator.CycleReport, error)
	CheckSchedule(ctx context.Context) (int, error)
	Chat(ctx context.Context, correspondentID, message string) ([]string, error)
	Caption(ctx context.Context, req generation.CaptionRequest) (string, error)
	SchedulePost(ctx context.Context, imageURL, caption string) (store.ScheduledPost, error)
}

// Automation is the worker-lifecycle surface. Zero intervals on Start
// mean the scheduler's configured defaults.
type Automation interface {
	Start(accountID string, minInterval, maxInterval time.Duration) (bool, string)
	Stop(accountID string) (bool, string)
	StatusAll() []automation.WorkerStatus
}

// Server is the HTTP trigger surface.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	agent      Agent
	auto       Automation
}

// New builds the server with its routes registered.
func New(cfg config.ServerConfig, logger *zap.Logger, agent Agent, auto Automation) *Server {
	s := &Server{logger: logger, agent: agent, auto: auto}

	mux := http.NewServeMux()
	mux.HandleFunc("/user", s.requirePost(s.handleUser))
	mux.HandleFunc("/persona", s.requirePost(s.handlePersona))
	mux.HandleFunc("/config", s.requirePost(s.handleConfig))
	mux.HandleFunc("/action", s.requirePost(s.handleAction))
	mux.HandleFunc("/check_schedule", s.requirePost(s.handleCheckSchedule))
	mux.HandleFunc("/chat", s.requirePost(s.handleChat))
	mux.HandleFunc("/post", s.requirePost(s.handlePost))
	mux.HandleFunc("/caption", s.requirePost(s.handleCaption))
	mux.HandleFunc("/automation/start", s.requirePost(s.handleAutomationStart))
	mux.HandleFunc("/automation/stop", s.requirePost(s.handleAutomationStop))
	mux.HandleFunc("/automation/status", s.handleAutomationStatus)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ===== MIDDLEWARE =====

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) requirePost(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		next(w, r)
	}
}

// ===== RESPONSE HELPERS =====

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"status":  "error",
		"message": message,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
