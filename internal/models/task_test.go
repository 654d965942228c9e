package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseCategory(t *testing.T) {
	if c, err := ParseCategory("  Vehicles "); err != nil || c != CategoryVehicles {
		t.Fatalf("ParseCategory = %v, %v", c, err)
	}
	if _, err := ParseCategory("boats"); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestTaskCloneIsIndependent(t *testing.T) {
	finished := time.Now()
	task := &Task{
		ID:         "all_7_1",
		Status:     StatusCompleted,
		Categories: []Category{CategoryVehicles},
		Result:     map[Category]json.RawMessage{CategoryVehicles: json.RawMessage(`[]`)},
		FinishedAt: &finished,
	}

	clone := task.Clone()
	clone.Categories[0] = CategoryTrips
	clone.Result[CategoryTrips] = json.RawMessage(`[]`)
	*clone.FinishedAt = finished.Add(time.Hour)

	if task.Categories[0] != CategoryVehicles {
		t.Fatal("clone shares the categories slice")
	}
	if _, leaked := task.Result[CategoryTrips]; leaked {
		t.Fatal("clone shares the result map")
	}
	if !task.FinishedAt.Equal(finished) {
		t.Fatal("clone shares the finished_at pointer")
	}
}

func TestTerminal(t *testing.T) {
	if StatusPending.Terminal() || StatusRunning.Terminal() {
		t.Fatal("live statuses must not be terminal")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Fatal("finished statuses must be terminal")
	}
}
