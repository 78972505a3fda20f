// Package httpapi is the REST and streaming facade over the control
// plane: agents, sessions, tasks, settings and live logs.
package httpapi

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/opengoat/internal/agents"
	"github.com/nextlevelbuilder/opengoat/internal/auth"
	"github.com/nextlevelbuilder/opengoat/internal/config"
	"github.com/nextlevelbuilder/opengoat/internal/executor"
	"github.com/nextlevelbuilder/opengoat/internal/logbuf"
	"github.com/nextlevelbuilder/opengoat/internal/sessions"
	"github.com/nextlevelbuilder/opengoat/internal/skills"
	"github.com/nextlevelbuilder/opengoat/internal/stream"
	"github.com/nextlevelbuilder/opengoat/internal/tasks"
)

// Invoker abstracts the executor for the message endpoints.
type Invoker interface {
	Invoke(ctx context.Context, req executor.InvocationRequest) *stream.Stream
}

// Options wires the server's collaborators.
type Options struct {
	Config   *config.Store
	Agents   *agents.Store
	Tasks    *tasks.Store
	Sessions *sessions.Store
	Invoker  Invoker
	Skills   *skills.Catalog
	Logs     *logbuf.Buffer
	Auth     *auth.Manager
	Version  string
}

// Server carries the handler state. Construct with New, mount Handler().
type Server struct {
	cfg      *config.Store
	agents   *agents.Store
	tasks    *tasks.Store
	sessions *sessions.Store
	invoker  Invoker
	skills   *skills.Catalog
	logs     *logbuf.Buffer
	auth     *auth.Manager
	version  string
	started  time.Time
}

// New builds the server.
func New(opts Options) *Server {
	return &Server{
		cfg:      opts.Config,
		agents:   opts.Agents,
		tasks:    opts.Tasks,
		sessions: opts.Sessions,
		invoker:  opts.Invoker,
		skills:   opts.Skills,
		logs:     opts.Logs,
		auth:     opts.Auth,
		version:  opts.Version,
		started:  time.Now(),
	}
}

// Handler builds the route table wrapped in logging and auth middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)

	mux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	mux.HandleFunc("GET /api/openclaw/overview", s.handleOverview)
	mux.HandleFunc("GET /api/agents", s.handleAgentsList)
	mux.HandleFunc("POST /api/agents", s.handleAgentsCreate)
	mux.HandleFunc("DELETE /api/agents/{id}", s.handleAgentsDelete)

	mux.HandleFunc("GET /api/sessions", s.handleSessionsList)
	mux.HandleFunc("POST /api/sessions/remove", s.handleSessionsRemove)
	mux.HandleFunc("POST /api/sessions/rename", s.handleSessionsRename)
	mux.HandleFunc("GET /api/sessions/history", s.handleSessionsHistory)
	mux.HandleFunc("POST /api/sessions/message", s.handleMessage)
	mux.HandleFunc("POST /api/sessions/message/stream", s.handleMessageStream)
	mux.HandleFunc("GET /api/chat/ws", s.handleChatWS)

	mux.HandleFunc("GET /api/tasks", s.handleTasksList)
	mux.HandleFunc("GET /api/tasks/latest", s.handleTasksLatest)
	mux.HandleFunc("POST /api/tasks", s.handleTasksCreate)
	mux.HandleFunc("POST /api/tasks/{id}/status", s.handleTaskStatus)
	mux.HandleFunc("POST /api/tasks/{id}/blocker", s.entryHandler("blocker"))
	mux.HandleFunc("POST /api/tasks/{id}/artifact", s.entryHandler("artifact"))
	mux.HandleFunc("POST /api/tasks/{id}/worklog", s.entryHandler("worklog"))
	mux.HandleFunc("POST /api/tasks/delete", s.handleTasksDelete)

	mux.HandleFunc("GET /api/skills", s.handleSkills)
	mux.HandleFunc("GET /api/settings", s.handleSettingsGet)
	mux.HandleFunc("POST /api/settings", s.handleSettingsPost)
	mux.HandleFunc("GET /api/logs/stream", s.handleLogsStream)

	return s.logMiddleware(s.authMiddleware(mux))
}

// authMiddleware gates every /api/ route except auth status and login
// when password protection is on.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCfg := s.cfg.Auth()
		if authCfg.Enabled && authCfg.HasPassword() && requiresAuth(r.URL.Path) {
			if s.auth == nil || !s.auth.Validate(r) {
				writeErrorCode(w, http.StatusUnauthorized, "authentication required", "AUTH_REQUIRED")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requiresAuth(path string) bool {
	switch path {
	case "/api/auth/status", "/api/auth/login":
		return false
	}
	return strings.HasPrefix(path, "/api/")
}

// logMiddleware emits one request line per call.
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// statusRecorder captures the response code for the request log. It
// forwards Flush so streaming endpoints keep working through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the WebSocket upgrade pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
