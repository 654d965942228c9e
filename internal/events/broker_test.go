package events

import (
	"testing"
	"time"

	"hostscrape/internal/models"
)

func TestSubscribeReceivesPublished(t *testing.T) {
	b := NewBroker(10)
	ch, cancel, snapshot := b.Subscribe()
	defer cancel()
	if len(snapshot) != 0 {
		t.Fatalf("expected empty replay buffer, got %d", len(snapshot))
	}

	b.Publish(Event{Type: "task_status", TaskID: "all_7_1"})

	select {
	case got := <-ch:
		if got.TaskID != "all_7_1" {
			t.Fatalf("unexpected event %+v", got)
		}
		if got.Timestamp.IsZero() {
			t.Fatal("expected timestamp filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestReplayBufferForLateSubscriber(t *testing.T) {
	b := NewBroker(2)
	b.Publish(Event{TaskID: "a"})
	b.Publish(Event{TaskID: "b"})
	b.Publish(Event{TaskID: "c"})

	_, cancel, snapshot := b.Subscribe()
	defer cancel()
	if len(snapshot) != 2 {
		t.Fatalf("expected buffer capped at 2, got %d", len(snapshot))
	}
	if snapshot[0].TaskID != "b" || snapshot[1].TaskID != "c" {
		t.Fatalf("expected oldest event evicted, got %+v", snapshot)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroker(10)
	_, cancel, _ := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Overflow the subscriber channel without draining it.
		for i := 0; i < defaultSubscriberBuffer*2; i++ {
			b.Publish(Event{TaskID: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestTaskNotifierPublishes(t *testing.T) {
	b := NewBroker(10)
	ch, cancel, _ := b.Subscribe()
	defer cancel()

	notifier := NewTaskNotifier(b)
	notifier.TaskUpdated(&models.Task{
		ID:        "vehicles_7_99",
		AccountID: 7,
		Status:    models.StatusRunning,
		Message:   "extracting",
	})

	select {
	case got := <-ch:
		if got.Status != string(models.StatusRunning) || got.AccountID != 7 {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("notification never delivered")
	}
}
