// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/w1np9uci/weibo-crawler/internal/config"
	"github.com/w1np9uci/weibo-crawler/internal/dispatcher"
	"github.com/w1np9uci/weibo-crawler/internal/metrics"
	"github.com/w1np9uci/weibo-crawler/internal/store"
	"github.com/w1np9uci/weibo-crawler/internal/weibo"
)

// Read-path limit bounds.
const (
	defaultPostsLimit = 20
	maxPostsLimit     = 200
)

// PostReader serves the stored posts back in stored order.
type PostReader interface {
	QueryPosts(uid string, limit int, sinceID string) (store.QueryPage, error)
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router chi.Router
	tasks  weibo.TaskStore
	posts  PostReader
	disp   *dispatcher.Dispatcher
	idGen  weibo.IDGenerator
	clock  weibo.Clock
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	tasks weibo.TaskStore,
	posts PostReader,
	disp *dispatcher.Dispatcher,
	idGen weibo.IDGenerator,
	clock weibo.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		tasks:  tasks,
		posts:  posts,
		disp:   disp,
		idGen:  idGen,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(metricsMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/weibo", func(r chi.Router) {
			r.Post("/crawl/user", s.submitCrawl)
			r.Get("/posts/user", s.getPosts)
		})
		r.Get("/tasks/{task_id}", s.getTask)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The queue and stores are wired at startup; readiness reduces to liveness.
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	UID      string   `json:"uid"`
	MaxPages *int     `json:"max_pages"`
	DelayS   *float64 `json:"delay_s"`
	UseProxy bool     `json:"use_proxy"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UID == "" {
		s.writeError(w, http.StatusBadRequest, "uid is required")
		return
	}
	if req.MaxPages != nil && *req.MaxPages < 0 {
		s.writeError(w, http.StatusBadRequest, "max_pages must be >= 0")
		return
	}
	crawlReq := weibo.CrawlRequest{
		UID:      req.UID,
		MaxPages: req.MaxPages,
		UseProxy: req.UseProxy,
	}
	if req.DelayS != nil {
		crawlReq.DelayS = *req.DelayS
	}

	taskID, err := s.enqueueTask(r.Context(), crawlReq)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *Server) enqueueTask(ctx context.Context, req weibo.CrawlRequest) (string, error) {
	taskID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	now := s.clock.Now()
	task := weibo.Task{
		ID:        taskID,
		State:     weibo.TaskStatePending,
		Submitted: now,
		Request:   req,
	}
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := weibo.QueueItem{
		TaskID:    taskID,
		Request:   req,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.disp.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return taskID, nil
}

func (s *Server) getPosts(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		s.writeError(w, http.StatusBadRequest, "uid is required")
		return
	}
	limit := defaultPostsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxPostsLimit {
		limit = maxPostsLimit
	}
	sinceID := r.URL.Query().Get("since_id")

	page, err := s.posts.QueryPosts(uid, limit, sinceID)
	if err != nil {
		if weibo.KindOf(err) == weibo.ErrKindNotFound {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("query posts failed", zap.String("uid", uid), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read posts")
		return
	}
	if page.Posts == nil {
		page.Posts = []json.RawMessage{}
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.tasks.GetTask(r.Context(), taskID)
	if err != nil {
		if weibo.KindOf(err) == weibo.ErrKindNotFound {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("get task failed", zap.String("task_id", taskID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read task")
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		metrics.ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
