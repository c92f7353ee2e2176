// Package api provides the HTTP API server for jolt.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/joltmail/jolt/internal/config"
	"github.com/joltmail/jolt/internal/folders"
	"github.com/joltmail/jolt/internal/outbox"
	"github.com/joltmail/jolt/internal/rules"
	"github.com/joltmail/jolt/internal/scheduler"
	"github.com/joltmail/jolt/internal/store"
	"github.com/joltmail/jolt/internal/sync"
	"github.com/joltmail/jolt/internal/thread"
)

// SyncEngine defines the sync operations the API needs.
type SyncEngine interface {
	Sync(ctx context.Context, accountID int64) (*sync.Result, error)
	SyncWithProgress(ctx context.Context, accountID int64, sink sync.Sink) (*sync.Result, error)
}

// Deps carries the collaborators the server routes requests to.
type Deps struct {
	Store     *store.Store
	Engine    SyncEngine
	Outbox    *outbox.Outbox
	Folders   *folders.Manager
	Threads   *thread.Reconstructor
	Rules     *rules.Evaluator
	Scheduler *scheduler.Scheduler // optional; nil disables /scheduler routes
}

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	deps        Deps
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	qps := s.cfg.Server.RateLimitQPS
	if qps <= 0 {
		qps = 25
	}
	s.rateLimiter = NewRateLimiter(float64(qps), qps*2)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/stats", s.handleStats)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleCreateAccount)
			r.Get("/{id}", s.handleGetAccount)
			r.Put("/{id}", s.handleUpdateAccount)
			r.Delete("/{id}", s.handleDeleteAccount)
			r.Post("/{id}/sync", s.handleSyncAccount)
			r.Get("/{id}/sync/stream", s.handleSyncStream)
			r.Post("/{id}/reindex", s.handleReindexAccount)
			r.Get("/{id}/folders", s.handleFolderTree)
			r.Post("/{id}/folders", s.handleCreateFolder)
			r.Get("/{id}/labels", s.handleListLabels)
			r.Post("/{id}/labels", s.handleCreateLabel)
			r.Get("/{id}/rules", s.handleListRules)
			r.Post("/{id}/rules", s.handleCreateRule)
			r.Get("/{id}/search", s.handleSearch)
			r.Get("/{id}/drafts", s.handleListDrafts)
		})

		r.Route("/folders", func(r chi.Router) {
			r.Put("/{id}", s.handleRenameFolder)
			r.Delete("/{id}", s.handleDeleteFolder)
			r.Post("/{id}/move", s.handleMoveFolder)
			r.Post("/{id}/reorder", s.handleReorderFolder)
			r.Post("/{id}/read", s.handleMarkFolderRead)
			r.Get("/{id}/messages", s.handleListFolderMessages)
			r.Get("/{id}/threads", s.handleListFolderThreads)
		})

		r.Route("/messages", func(r chi.Router) {
			r.Get("/{id}", s.handleGetMessage)
			r.Delete("/{id}", s.handleDeleteMessage)
			r.Post("/{id}/flags", s.handleSetMessageFlags)
			r.Post("/{id}/move", s.handleMoveMessage)
			r.Post("/{id}/labels/{labelID}", s.handleAssignLabel)
			r.Delete("/{id}/labels/{labelID}", s.handleUnassignLabel)
			r.Post("/batch", s.handleBatchMessages)
		})

		r.Get("/threads/{threadID}", s.handleGetThread)

		r.Route("/labels", func(r chi.Router) {
			r.Put("/{id}", s.handleUpdateLabel)
			r.Delete("/{id}", s.handleDeleteLabel)
			r.Get("/{id}/messages", s.handleListLabelMessages)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Put("/{id}", s.handleUpdateRule)
			r.Delete("/{id}", s.handleDeleteRule)
			r.Post("/{id}/run", s.handleRunRule)
		})

		r.Route("/send", func(r chi.Router) {
			r.Post("/", s.handleSend)
			r.Get("/pending", s.handlePendingSends)
			r.Delete("/{id}", s.handleCancelSend)
		})

		r.Route("/drafts", func(r chi.Router) {
			r.Post("/", s.handleSaveDraft)
			r.Get("/{id}", s.handleGetDraft)
			r.Delete("/{id}", s.handleDeleteDraft)
		})

		if s.deps.Scheduler != nil {
			r.Get("/scheduler/status", s.handleSchedulerStatus)
		}
	})

	return r
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.Server.APIPort))

	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication — set [server] api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key configured
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			authHeader = r.Header.Get("X-API-Key")
		}
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			authHeader = authHeader[7:]
		}

		if subtle.ConstantTimeCompare([]byte(authHeader), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
