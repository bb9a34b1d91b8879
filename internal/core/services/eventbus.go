package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/arvhal/replagent/internal/core/domain"
)

type EventType string

const (
	EventTypeStatus EventType = "status"
	EventTypeLog    EventType = "log"
)

// Event is one progress/log update emitted by a running pipeline. Delivery is
// fire-and-forget: slow or absent subscribers never block the pipeline.
type Event struct {
	JobID     domain.JobID
	Type      EventType
	Status    domain.JobStatus
	Message   string
	Percent   int
	Timestamp int64
}

type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[domain.JobID][]chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[domain.JobID][]chan Event),
	}
}

// Subscribe returns a channel receiving events for one job plus an
// unsubscribe func that closes it.
func (b *EventBus) Subscribe(jobID domain.JobID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100) // buffered so publishers never wait
	b.subs[jobID] = append(b.subs[jobID], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[jobID]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[jobID]) == 0 {
			delete(b.subs, jobID)
		}
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of the job. Full channels drop
// the event rather than blocking the pipeline.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.JobID] {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event", "job_id", string(e.JobID))
		}
	}
}
