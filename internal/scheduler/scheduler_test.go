package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"hostscrape/internal/auth"
	"hostscrape/internal/browser"
	"hostscrape/internal/models"
)

type nopPage struct {
	closed atomic.Int32
}

func (p *nopPage) Navigate(url string) error                      { return nil }
func (p *nopPage) Location() (string, error)                      { return "", nil }
func (p *nopPage) WaitVisible(sel string) error                   { return nil }
func (p *nopPage) Exists(sel string, timeout time.Duration) bool  { return false }
func (p *nopPage) Click(sel string) error                         { return nil }
func (p *nopPage) ClickIn(frame, sel string) error                { return nil }
func (p *nopPage) FillIn(frame, sel, value string) error          { return nil }
func (p *nopPage) ClearIn(frame string, sels []string) error      { return nil }
func (p *nopPage) BodyTextIn(frame string) (string, error)        { return "", nil }
func (p *nopPage) ExistsIn(frame, sel string) bool                { return false }
func (p *nopPage) Eval(js string, out any) error                  { return nil }
func (p *nopPage) Sleep(d time.Duration)                          {}
func (p *nopPage) ExportStorageState() ([]byte, error)            { return nil, nil }
func (p *nopPage) ImportStorageState(blob []byte) error           { return nil }
func (p *nopPage) Close() error                                   { p.closed.Add(1); return nil }

type fakeAuth struct {
	err   error
	pages []*nopPage
	mu    sync.Mutex
}

func (a *fakeAuth) ObtainSession(ctx context.Context, accountID int64, creds auth.CredentialSupplier) (browser.Page, error) {
	if a.err != nil {
		return nil, a.err
	}
	page := &nopPage{}
	a.mu.Lock()
	a.pages = append(a.pages, page)
	a.mu.Unlock()
	return page, nil
}

type fakeRunner struct {
	results map[models.Category]json.RawMessage
	err     error

	gate       chan struct{} // when non-nil, Run blocks until it closes
	running    atomic.Int32
	maxRunning atomic.Int32

	activeByAccount sync.Map
	overlapped      atomic.Bool
}

func (r *fakeRunner) Run(ctx context.Context, page browser.Page, accountID int64, categories []models.Category) (map[models.Category]json.RawMessage, error) {
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		max := r.maxRunning.Load()
		if n <= max || r.maxRunning.CompareAndSwap(max, n) {
			break
		}
	}

	if _, already := r.activeByAccount.LoadOrStore(accountID, struct{}{}); already {
		r.overlapped.Store(true)
	}
	defer r.activeByAccount.Delete(accountID)

	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[models.Category]json.RawMessage, len(categories))
	for _, c := range categories {
		if payload, ok := r.results[c]; ok {
			out[c] = payload
		} else {
			out[c] = nil
		}
	}
	return out, nil
}

type fakeSink struct {
	mu    sync.Mutex
	calls map[models.Category]int
	err   error
}

func (s *fakeSink) SaveResults(ctx context.Context, accountID int64, category models.Category, payload json.RawMessage) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[models.Category]int{}
	}
	s.calls[category]++
	if s.err != nil {
		return 0, s.err
	}
	return 1, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	statuses []models.TaskStatus
}

func (n *fakeNotifier) TaskUpdated(task *models.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, task.Status)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitTerminal(t *testing.T, s *Scheduler, id string) *models.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := s.GetStatus(id)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if task.Status.Terminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal status")
	return nil
}

func TestTaskLifecycleSuccess(t *testing.T) {
	authn := &fakeAuth{}
	runner := &fakeRunner{results: map[models.Category]json.RawMessage{
		models.CategoryVehicles: json.RawMessage(`[{"id":"v1"}]`),
		models.CategoryTrips:    nil,
	}}
	sink := &fakeSink{}
	notifier := &fakeNotifier{}
	metrics := NewMetrics(prometheus.NewRegistry())

	s := New(context.Background(), authn, runner, sink, notifier, metrics,
		Options{MaxConcurrent: 2, KeepRecentTerminal: 10}, discardLogger())
	defer s.Close(context.Background())

	id, err := s.Submit(7, []models.Category{models.CategoryVehicles, models.CategoryTrips}, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	task := waitTerminal(t, s, id)
	if task.Status != models.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", task.Status, task.Message)
	}
	if task.Message != "1/2 categories succeeded" {
		t.Fatalf("unexpected message %q", task.Message)
	}
	if task.FinishedAt == nil {
		t.Fatal("expected finished_at set")
	}
	if task.Result[models.CategoryVehicles] == nil {
		t.Fatal("expected vehicles payload in result")
	}

	sink.mu.Lock()
	vehiclesSaves := sink.calls[models.CategoryVehicles]
	tripsSaves := sink.calls[models.CategoryTrips]
	sink.mu.Unlock()
	if vehiclesSaves != 1 {
		t.Fatalf("expected one save for vehicles, got %d", vehiclesSaves)
	}
	if tripsSaves != 0 {
		t.Fatal("nil payload must not be persisted")
	}

	authn.mu.Lock()
	pages := authn.pages
	authn.mu.Unlock()
	if len(pages) != 1 || pages[0].closed.Load() != 1 {
		t.Fatal("expected the browser handle closed exactly once")
	}

	notifier.mu.Lock()
	last := notifier.statuses[len(notifier.statuses)-1]
	notifier.mu.Unlock()
	if last != models.StatusCompleted {
		t.Fatalf("expected final notification to carry COMPLETED, got %s", last)
	}
}

func TestAllCategoriesFailedFailsTask(t *testing.T) {
	runner := &fakeRunner{err: errors.New("no category produced data")}
	s := New(context.Background(), &fakeAuth{}, runner, &fakeSink{}, nil, nil,
		Options{MaxConcurrent: 1, KeepRecentTerminal: 10}, discardLogger())
	defer s.Close(context.Background())

	id, _ := s.Submit(7, nil, nil)
	task := waitTerminal(t, s, id)
	if task.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %s", task.Status)
	}
	if len(task.Categories) != len(models.AllCategories()) {
		t.Fatalf("expected empty request to expand to all categories, got %v", task.Categories)
	}
}

func TestAuthFailureFailsTask(t *testing.T) {
	authn := &fakeAuth{err: auth.ErrLoginFailed}
	s := New(context.Background(), authn, &fakeRunner{}, &fakeSink{}, nil, nil,
		Options{MaxConcurrent: 1, KeepRecentTerminal: 10}, discardLogger())
	defer s.Close(context.Background())

	id, _ := s.Submit(7, nil, nil)
	task := waitTerminal(t, s, id)
	if task.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %s", task.Status)
	}
}

func TestConcurrencyBound(t *testing.T) {
	gate := make(chan struct{})
	runner := &fakeRunner{gate: gate, results: map[models.Category]json.RawMessage{
		models.CategoryVehicles: json.RawMessage(`[]`),
	}}
	s := New(context.Background(), &fakeAuth{}, runner, &fakeSink{}, nil, nil,
		Options{MaxConcurrent: 2, KeepRecentTerminal: 10}, discardLogger())
	defer s.Close(context.Background())

	ids := make([]string, 0, 4)
	for account := int64(1); account <= 4; account++ {
		id, _ := s.Submit(account, []models.Category{models.CategoryVehicles}, nil)
		ids = append(ids, id)
	}

	// Let the first two reach the runner before opening the gate.
	deadline := time.Now().Add(2 * time.Second)
	for runner.running.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(gate)

	for _, id := range ids {
		waitTerminal(t, s, id)
	}
	if max := runner.maxRunning.Load(); max > 2 {
		t.Fatalf("concurrency bound violated: %d tasks ran at once", max)
	}
}

func TestPerAccountSerialization(t *testing.T) {
	runner := &fakeRunner{results: map[models.Category]json.RawMessage{
		models.CategoryVehicles: json.RawMessage(`[]`),
	}}
	s := New(context.Background(), &fakeAuth{}, runner, &fakeSink{}, nil, nil,
		Options{MaxConcurrent: 4, KeepRecentTerminal: 10}, discardLogger())
	defer s.Close(context.Background())

	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		id, _ := s.Submit(7, []models.Category{models.CategoryVehicles}, nil)
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitTerminal(t, s, id)
	}
	if runner.overlapped.Load() {
		t.Fatal("two tasks for the same account ran concurrently")
	}
}

func TestClearTerminalTasksKeepsRecent(t *testing.T) {
	runner := &fakeRunner{results: map[models.Category]json.RawMessage{
		models.CategoryVehicles: json.RawMessage(`[]`),
	}}
	s := New(context.Background(), &fakeAuth{}, runner, &fakeSink{}, nil, nil,
		Options{MaxConcurrent: 2, KeepRecentTerminal: 2}, discardLogger())
	defer s.Close(context.Background())

	ids := make([]string, 0, 5)
	for account := int64(1); account <= 5; account++ {
		id, _ := s.Submit(account, []models.Category{models.CategoryVehicles}, nil)
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitTerminal(t, s, id)
	}

	removed := s.ClearTerminalTasks()
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	if remaining := s.ListTasks(); len(remaining) != 2 {
		t.Fatalf("expected 2 tasks kept, got %d", len(remaining))
	}
	if s.ClearTerminalTasks() != 0 {
		t.Fatal("second clear must be a no-op")
	}
}

func TestCountsByStatus(t *testing.T) {
	gate := make(chan struct{})
	runner := &fakeRunner{gate: gate, results: map[models.Category]json.RawMessage{
		models.CategoryVehicles: json.RawMessage(`[]`),
	}}
	s := New(context.Background(), &fakeAuth{}, runner, &fakeSink{}, nil, nil,
		Options{MaxConcurrent: 1, KeepRecentTerminal: 10}, discardLogger())
	defer s.Close(context.Background())

	first, _ := s.Submit(1, []models.Category{models.CategoryVehicles}, nil)
	second, _ := s.Submit(2, []models.Category{models.CategoryVehicles}, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		counts := s.CountsByStatus()
		if counts[models.StatusRunning] == 1 && counts[models.StatusPending] == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	counts := s.CountsByStatus()
	if counts[models.StatusRunning] != 1 || counts[models.StatusPending] != 1 {
		t.Fatalf("unexpected counts before gate open: %v", counts)
	}

	close(gate)
	waitTerminal(t, s, first)
	waitTerminal(t, s, second)

	counts = s.CountsByStatus()
	if counts[models.StatusCompleted] != 2 {
		t.Fatalf("expected 2 completed, got %v", counts)
	}
}

func TestUniqueTaskIDsSameSecond(t *testing.T) {
	runner := &fakeRunner{results: map[models.Category]json.RawMessage{
		models.CategoryVehicles: json.RawMessage(`[]`),
	}}
	s := New(context.Background(), &fakeAuth{}, runner, &fakeSink{}, nil, nil,
		Options{MaxConcurrent: 2, KeepRecentTerminal: 10}, discardLogger())
	defer s.Close(context.Background())

	a, _ := s.Submit(1, []models.Category{models.CategoryVehicles}, nil)
	b, _ := s.Submit(1, []models.Category{models.CategoryVehicles}, nil)
	if a == b {
		t.Fatalf("duplicate task id %q", a)
	}
	waitTerminal(t, s, a)
	waitTerminal(t, s, b)
}
