package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "PENDING"
	StatusRunning   TaskStatus = "RUNNING"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusFailed    TaskStatus = "FAILED"
)

// Terminal reports whether a task in this status will never change again.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Category string

const (
	CategoryVehicles Category = "vehicles"
	CategoryTrips    Category = "trips"
	CategoryEarnings Category = "earnings"
	CategoryReviews  Category = "reviews"
)

// AllCategories is the order used when a caller asks for everything.
func AllCategories() []Category {
	return []Category{CategoryVehicles, CategoryTrips, CategoryEarnings, CategoryReviews}
}

func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryVehicles:
		return CategoryVehicles, nil
	case CategoryTrips:
		return CategoryTrips, nil
	case CategoryEarnings:
		return CategoryEarnings, nil
	case CategoryReviews:
		return CategoryReviews, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Task is one scheduled scraping session. The scheduler owns all mutation;
// pollers only ever see copies. Tasks live in memory and are lost on restart.
type Task struct {
	ID         string                       `json:"id"`
	AccountID  int64                        `json:"account_id"`
	Status     TaskStatus                   `json:"status"`
	Categories []Category                   `json:"categories"`
	Message    string                       `json:"message"`
	Result     map[Category]json.RawMessage `json:"result,omitempty"`
	StartedAt  time.Time                    `json:"started_at"`
	UpdatedAt  time.Time                    `json:"updated_at"`
	FinishedAt *time.Time                   `json:"finished_at,omitempty"`
}

// Clone returns a deep enough copy for external pollers: result payloads are
// immutable once recorded, so sharing the raw bytes is fine.
func (t *Task) Clone() *Task {
	c := *t
	c.Categories = append([]Category(nil), t.Categories...)
	if t.Result != nil {
		c.Result = make(map[Category]json.RawMessage, len(t.Result))
		for k, v := range t.Result {
			c.Result[k] = v
		}
	}
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		c.FinishedAt = &finished
	}
	return &c
}
