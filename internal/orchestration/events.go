package orchestration

import (
	"sync"
	"time"
)

// EventType names one progress event on a task's stream.
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventPlanCreated        EventType = "plan_created"
	EventStepStarted        EventType = "step_started"
	EventStepCompleted      EventType = "step_completed"
	EventStepFailed         EventType = "step_failed"
	EventDecisionMade       EventType = "decision_made"
	EventNodeEntered        EventType = "node_entered"
	EventNodeExited         EventType = "node_exited"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionError     EventType = "execution_error"
	EventDone               EventType = "done"
)

// Event is one entry on a task's progress stream.
type Event struct {
	Type      EventType              `json:"event_type"`
	TraceID   string                 `json:"trace_id"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventSink receives ordered progress events. Implementations must never
// block the caller; the orchestrator publishes from its hot loop.
type EventSink interface {
	Publish(ev Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// Broadcaster fans events out to subscribers over bounded channels. A slow
// subscriber never stalls the orchestrator: when a subscriber's buffer is
// full the oldest buffered event is dropped to make room.
type Broadcaster struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan Event
	bufSize int
	closed  bool
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
// A non-positive size defaults to 128.
func NewBroadcaster(bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 128
	}
	return &Broadcaster{
		subs:    make(map[int]chan Event),
		bufSize: bufSize,
	}
}

// Subscribe registers a new consumer. The returned cancel function must be
// called when the consumer is done; the channel is closed by either cancel
// or Close.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.bufSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers the event to every subscriber, dropping the oldest
// buffered event of any subscriber that has fallen behind.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		for {
			select {
			case ch <- ev:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close terminates all subscriber channels. Publish becomes a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
