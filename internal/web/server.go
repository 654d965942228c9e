// Package web is the HTTP control surface: submit scraping tasks, poll
// them, deliver one-time codes for waiting logins, and stream task events.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hostscrape/internal/auth"
	"hostscrape/internal/events"
	"hostscrape/internal/models"
	"hostscrape/internal/scheduler"
)

// TaskScheduler is the slice of the scheduler the handlers need.
type TaskScheduler interface {
	Submit(accountID int64, categories []models.Category, creds auth.CredentialSupplier) (string, error)
	GetStatus(taskID string) (*models.Task, error)
	ListTasks() []*models.Task
	CountsByStatus() map[models.TaskStatus]int
	ClearTerminalTasks() int
}

// SupplierFactory builds the credential supplier for a submitted task. The
// choice (inbox waiting on POST /code, or a terminal prompt) is made by the
// deployment's code acquisition mode, not per request.
type SupplierFactory func(creds auth.Credentials) auth.CredentialSupplier

// DefaultCodeWait bounds how long an inbox supplier waits for a code when
// no factory was configured.
const DefaultCodeWait = 90 * time.Second

type Server struct {
	pool        *pgxpool.Pool
	tasks       TaskScheduler
	addr        string
	token       string
	newSupplier SupplierFactory
	limiter     *authLimiter
	events      *events.Broker

	mu      sync.Mutex
	inboxes map[string]*auth.InboxSupplier
}

func NewServer(pool *pgxpool.Pool, tasks TaskScheduler, addr, token string, newSupplier SupplierFactory, broker *events.Broker) *Server {
	if newSupplier == nil {
		newSupplier = func(creds auth.Credentials) auth.CredentialSupplier {
			return auth.NewInboxSupplier(creds, DefaultCodeWait)
		}
	}
	return &Server{
		pool:        pool,
		tasks:       tasks,
		addr:        addr,
		token:       token,
		newSupplier: newSupplier,
		limiter:     newAuthLimiter(DefaultAuthLimit, DefaultAuthWindow),
		events:      broker,
		inboxes:     map[string]*auth.InboxSupplier{},
	}
}

func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown error", "error", err)
		}
	}()

	return server.ListenAndServe()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.protect(promhttp.Handler().ServeHTTP))
	mux.HandleFunc("POST /scrape", s.protect(s.handleScrape))
	mux.HandleFunc("POST /code", s.protect(s.handleCode))
	mux.HandleFunc("GET /tasks", s.protect(s.handleListTasks))
	mux.HandleFunc("GET /tasks/counts", s.protect(s.handleCounts))
	mux.HandleFunc("GET /tasks/{id}", s.protect(s.handleGetTask))
	mux.HandleFunc("DELETE /tasks", s.protect(s.handleClearTasks))
	mux.HandleFunc("GET /events", s.protect(s.handleEvents))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pool != nil {
		if err := s.pool.Ping(r.Context()); err != nil {
			slog.Warn("Health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("unhealthy"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type scrapeRequest struct {
	AccountID  int64    `json:"account_id"`
	Categories []string `json:"categories"`
	Email      string   `json:"email"`
	Password   string   `json:"password"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID <= 0 {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	categories := make([]models.Category, 0, len(req.Categories))
	for _, raw := range req.Categories {
		category, err := models.ParseCategory(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		categories = append(categories, category)
	}

	supplier := s.newSupplier(auth.Credentials{Email: req.Email, Password: req.Password})
	taskID, err := s.tasks.Submit(req.AccountID, categories, supplier)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Only inbox suppliers take codes over POST /code; interactive ones
	// prompt the terminal instead.
	if inbox, ok := supplier.(*auth.InboxSupplier); ok {
		s.mu.Lock()
		s.inboxes[taskID] = inbox
		s.pruneInboxesLocked()
		s.mu.Unlock()
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

type codeRequest struct {
	TaskID string `json:"task_id"`
	Code   string `json:"code"`
}

// handleCode delivers an out-of-band one-time code to a login waiting on
// it. Codes for unknown or finished tasks are rejected so senders notice
// misrouted deliveries.
func (s *Server) handleCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TaskID == "" || strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "task_id and code are required")
		return
	}

	s.mu.Lock()
	inbox, ok := s.inboxes[req.TaskID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "no task waiting for a code")
		return
	}
	inbox.RegisterCode(strings.TrimSpace(req.Code))
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.ListTasks())
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.CountsByStatus())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.GetStatus(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleClearTasks(w http.ResponseWriter, r *http.Request) {
	removed := s.tasks.ClearTerminalTasks()
	s.mu.Lock()
	s.pruneInboxesLocked()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "events not configured")
		return
	}
	filter, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel, snapshot := s.events.Subscribe()
	defer cancel()
	for _, event := range snapshot {
		if !filter.Matches(event) {
			continue
		}
		if err := writeEvent(w, event); err != nil {
			return
		}
		flusher.Flush()
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-ch:
			if !filter.Matches(event) {
				continue
			}
			if err := writeEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// pruneInboxesLocked drops inboxes whose task is gone or finished; a code
// arriving after the login completed has nowhere useful to go.
func (s *Server) pruneInboxesLocked() {
	for taskID := range s.inboxes {
		task, err := s.tasks.GetStatus(taskID)
		if err != nil || task.Status.Terminal() {
			delete(s.inboxes, taskID)
		}
	}
}

func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(w, r) {
			return
		}
		next(w, r)
	}
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.token == "" {
		return true
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if strings.TrimSpace(authHeader[len("bearer "):]) == s.token {
			return true
		}
	}

	host := remoteHost(r.RemoteAddr)
	limited := s.limiter != nil && !s.limiter.allow(host, time.Now())
	slog.Warn("Unauthorized request",
		"path", r.URL.Path,
		"method", r.Method,
		"remote_host", host,
		"rate_limited", limited,
	)
	if limited {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	} else {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("unauthorized"))
	}
	return false
}

func writeEvent(w http.ResponseWriter, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
