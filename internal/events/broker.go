// Package events fans task lifecycle updates out to live subscribers (the
// SSE endpoint) with a short replay buffer so a reconnecting client sees
// recent history.
package events

import (
	"sync"
	"time"

	"hostscrape/internal/models"
)

const (
	defaultBufferSize       = 200
	defaultSubscriberBuffer = 50
)

type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      string    `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	AccountID int64     `json:"account_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"msg,omitempty"`
}

type Broker struct {
	mu        sync.RWMutex
	subs      map[int]chan Event
	nextID    int
	buffer    []Event
	bufferCap int
}

func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Broker{
		subs:      map[int]chan Event{},
		bufferCap: bufferSize,
	}
}

// Publish never blocks: slow subscribers drop events rather than stalling
// the scheduler.
func (b *Broker) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.Lock()
	if len(b.buffer) < b.bufferCap {
		b.buffer = append(b.buffer, event)
	} else {
		copy(b.buffer, b.buffer[1:])
		b.buffer[len(b.buffer)-1] = event
	}
	subs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns the live channel, a cancel func, and a snapshot of the
// replay buffer taken atomically with the subscription.
func (b *Broker) Subscribe() (<-chan Event, func(), []Event) {
	if b == nil {
		return nil, func() {}, nil
	}
	ch := make(chan Event, defaultSubscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	snapshot := append([]Event(nil), b.buffer...)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	return ch, cancel, snapshot
}

// TaskNotifier adapts the broker to the scheduler's notification hook.
type TaskNotifier struct {
	broker *Broker
}

func NewTaskNotifier(broker *Broker) *TaskNotifier {
	return &TaskNotifier{broker: broker}
}

func (n *TaskNotifier) TaskUpdated(task *models.Task) {
	n.broker.Publish(Event{
		Type:      "task_status",
		TaskID:    task.ID,
		AccountID: task.AccountID,
		Status:    string(task.Status),
		Message:   task.Message,
	})
}
