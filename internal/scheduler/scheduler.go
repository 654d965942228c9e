// Package scheduler owns the task table and the concurrency gate. Tasks are
// in-memory: a restart forgets them, which is acceptable because every
// scraped record and session is persisted along the way.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"hostscrape/internal/auth"
	"hostscrape/internal/browser"
	"hostscrape/internal/models"
)

var ErrTaskNotFound = errors.New("task not found")

// Authenticator produces a live authenticated browser handle.
type Authenticator interface {
	ObtainSession(ctx context.Context, accountID int64, creds auth.CredentialSupplier) (browser.Page, error)
}

// Runner executes the per-category extraction over an authenticated page.
type Runner interface {
	Run(ctx context.Context, page browser.Page, accountID int64, categories []models.Category) (map[models.Category]json.RawMessage, error)
}

// ResultSink persists one category's payload.
type ResultSink interface {
	SaveResults(ctx context.Context, accountID int64, category models.Category, payload json.RawMessage) (int, error)
}

// Notifier is told about every task state change.
type Notifier interface {
	TaskUpdated(task *models.Task)
}

type Options struct {
	MaxConcurrent      int
	KeepRecentTerminal int
}

type Scheduler struct {
	auth     Authenticator
	runner   Runner
	sink     ResultSink
	notifier Notifier
	metrics  *Metrics
	logger   *slog.Logger

	keepRecent int
	slots      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	tasks    map[string]*models.Task
	order    []string
	accounts map[int64]*sync.Mutex
}

func New(ctx context.Context, authenticator Authenticator, runner Runner, sink ResultSink, notifier Notifier, metrics *Metrics, opts Options, logger *slog.Logger) *Scheduler {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.KeepRecentTerminal < 0 {
		opts.KeepRecentTerminal = 0
	}
	taskCtx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		auth:       authenticator,
		runner:     runner,
		sink:       sink,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger,
		keepRecent: opts.KeepRecentTerminal,
		slots:      make(chan struct{}, opts.MaxConcurrent),
		ctx:        taskCtx,
		cancel:     cancel,
		tasks:      make(map[string]*models.Task),
		accounts:   make(map[int64]*sync.Mutex),
	}
}

// Submit registers a task and starts it in the background. The returned id
// is immediately pollable; the task stays PENDING until a concurrency slot
// and the account's turn are available.
func (s *Scheduler) Submit(accountID int64, categories []models.Category, creds auth.CredentialSupplier) (string, error) {
	if len(categories) == 0 {
		categories = models.AllCategories()
	}

	label := "all"
	if len(categories) == 1 {
		label = string(categories[0])
	}

	now := time.Now()
	s.mu.Lock()
	id := fmt.Sprintf("%s_%d_%d", label, accountID, now.Unix())
	for n := 2; ; n++ {
		if _, taken := s.tasks[id]; !taken {
			break
		}
		id = fmt.Sprintf("%s_%d_%d_%d", label, accountID, now.Unix(), n)
	}
	task := &models.Task{
		ID:         id,
		AccountID:  accountID,
		Status:     models.StatusPending,
		Categories: append([]models.Category(nil), categories...),
		Message:    "queued",
		StartedAt:  now,
		UpdatedAt:  now,
	}
	s.tasks[id] = task
	s.order = append(s.order, id)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TasksSubmitted.Inc()
	}
	s.notify(task)

	s.wg.Add(1)
	go s.execute(task.ID, accountID, task.Categories, creds)

	s.logger.Info("Task submitted", "task_id", id, "account_id", accountID, "categories", len(categories))
	return id, nil
}

func (s *Scheduler) execute(taskID string, accountID int64, categories []models.Category, creds auth.CredentialSupplier) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Task panicked", "task_id", taskID, "panic", r)
			s.finish(taskID, models.StatusFailed, fmt.Sprintf("internal error: %v", r), nil)
		}
	}()

	// One task per account at a time; a second submission for the same
	// account queues behind the first rather than fighting it for the
	// session row.
	acct := s.accountMutex(accountID)
	acct.Lock()
	defer acct.Unlock()

	select {
	case s.slots <- struct{}{}:
	case <-s.ctx.Done():
		s.finish(taskID, models.StatusFailed, "scheduler shut down before start", nil)
		return
	}
	defer func() { <-s.slots }()

	if s.metrics != nil {
		s.metrics.TasksRunning.Inc()
		defer s.metrics.TasksRunning.Dec()
	}
	started := time.Now()
	s.update(taskID, models.StatusRunning, "authenticating")

	page, err := s.auth.ObtainSession(s.ctx, accountID, creds)
	if err != nil {
		s.finish(taskID, models.StatusFailed, fmt.Sprintf("authentication failed: %v", err), nil)
		return
	}
	defer page.Close()

	s.update(taskID, models.StatusRunning, "extracting")
	results, runErr := s.runner.Run(s.ctx, page, accountID, categories)

	succeeded := s.persistResults(accountID, results)

	if runErr != nil {
		s.finish(taskID, models.StatusFailed, fmt.Sprintf("extraction failed: %v", runErr), results)
	} else {
		msg := fmt.Sprintf("%d/%d categories succeeded", succeeded, len(categories))
		s.finish(taskID, models.StatusCompleted, msg, results)
	}

	if s.metrics != nil {
		s.metrics.TaskDuration.Observe(time.Since(started).Seconds())
	}
}

// persistResults saves every non-nil payload. Persistence failures are
// logged and do not change the task outcome: the payload is still in the
// task result for the poller.
func (s *Scheduler) persistResults(accountID int64, results map[models.Category]json.RawMessage) int {
	succeeded := 0
	for category, payload := range results {
		if payload == nil {
			continue
		}
		succeeded++
		saved, err := s.sink.SaveResults(s.ctx, accountID, category, payload)
		if err != nil {
			s.logger.Warn("Failed to persist category results",
				"account_id", accountID, "category", category, "error", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordsSaved.WithLabelValues(string(category)).Add(float64(saved))
		}
		s.logger.Info("Category results persisted",
			"account_id", accountID, "category", category, "records", saved)
	}
	return succeeded
}

// GetStatus returns a copy of the task, or ErrTaskNotFound.
func (s *Scheduler) GetStatus(taskID string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

// ListTasks returns copies of all tasks in submission order, newest first.
func (s *Scheduler) ListTasks() []*models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Task, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if task, ok := s.tasks[s.order[i]]; ok {
			out = append(out, task.Clone())
		}
	}
	return out
}

// CountsByStatus returns how many tasks sit in each status.
func (s *Scheduler) CountsByStatus() map[models.TaskStatus]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.TaskStatus]int, 4)
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	return counts
}

// ClearTerminalTasks drops finished tasks, keeping the most recently
// finished ones for post-hoc inspection. Pending and running tasks are
// never touched. Returns how many were removed.
func (s *Scheduler) ClearTerminalTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	terminal := make([]*models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if task.Status.Terminal() {
			terminal = append(terminal, task)
		}
	}
	if len(terminal) <= s.keepRecent {
		return 0
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].UpdatedAt.After(terminal[j].UpdatedAt)
	})

	removed := 0
	for _, task := range terminal[s.keepRecent:] {
		delete(s.tasks, task.ID)
		removed++
	}
	if removed > 0 {
		kept := s.order[:0]
		for _, id := range s.order {
			if _, ok := s.tasks[id]; ok {
				kept = append(kept, id)
			}
		}
		s.order = kept
	}
	s.logger.Info("Terminal tasks cleared", "removed", removed, "kept", s.keepRecent)
	return removed
}

// Close stops accepting work and waits for running tasks, up to the
// context deadline.
func (s *Scheduler) Close(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasks still running at shutdown: %w", ctx.Err())
	}
}

func (s *Scheduler) accountMutex(accountID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.accounts[accountID]
	if !ok {
		m = &sync.Mutex{}
		s.accounts[accountID] = m
	}
	return m
}

// update moves a live task forward. Terminal tasks are immutable; a late
// update against one is dropped.
func (s *Scheduler) update(taskID string, status models.TaskStatus, message string) {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok || task.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	task.Status = status
	task.Message = message
	task.UpdatedAt = time.Now()
	clone := task.Clone()
	s.mu.Unlock()
	s.notify(clone)
}

func (s *Scheduler) finish(taskID string, status models.TaskStatus, message string, results map[models.Category]json.RawMessage) {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok || task.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	task.Status = status
	task.Message = message
	task.Result = results
	task.UpdatedAt = now
	task.FinishedAt = &now
	clone := task.Clone()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TasksFinished.WithLabelValues(string(status)).Inc()
	}
	s.notify(clone)
	s.logger.Info("Task finished", "task_id", taskID, "status", status, "message", message)
}

func (s *Scheduler) notify(task *models.Task) {
	if s.notifier != nil {
		s.notifier.TaskUpdated(task)
	}
}
