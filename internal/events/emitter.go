package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/iliyamo/seat-admission/internal/logging"
	"github.com/iliyamo/seat-admission/internal/metrics"
)

// Observer receives emitted events.
type Observer interface {
	Observe(ctx context.Context, e Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event) error

func (f ObserverFunc) Observe(ctx context.Context, e Event) error { return f(ctx, e) }

// Emitter delivers each event to every registered observer in order.
type Emitter struct {
	mu        sync.RWMutex
	observers []Observer
	log       zerolog.Logger
}

func NewEmitter(observers ...Observer) *Emitter {
	return &Emitter{observers: observers, log: logging.Component("events")}
}

// Register adds an observer after construction, e.g. the broker publisher
// once the messaging layer is up.
func (em *Emitter) Register(o Observer) {
	em.mu.Lock()
	em.observers = append(em.observers, o)
	em.mu.Unlock()
}

// Emit never returns an error: the state change behind e is already
// durable, so observer failures are only logged.
func (em *Emitter) Emit(ctx context.Context, e Event) {
	em.mu.RLock()
	obs := em.observers
	em.mu.RUnlock()
	for _, o := range obs {
		if err := o.Observe(ctx, e); err != nil {
			em.log.Warn().Err(err).Str("event_id", e.ID).Str("type", string(e.Type)).Msg("observer failed")
		}
	}
}

// LogObserver writes every event as one structured log line.
func LogObserver() Observer {
	log := logging.Component("events")
	return ObserverFunc(func(_ context.Context, e Event) error {
		ev := log.Info()
		if e.Type == SeatHeld || e.Type == QueueEntered || e.Type == QueuePromoted {
			ev = log.Debug()
		}
		ev.Str("event_id", e.ID).
			Str("type", string(e.Type)).
			Uint64("schedule_id", e.ScheduleID).
			Uint64("seat_id", e.SeatID).
			Uint64("member_id", e.MemberID).
			Uint64("reservation_id", e.ReservationID).
			Uint64("queue_id", e.QueueID).
			Str("reason", e.Reason).
			Msg("event")
		return nil
	})
}

// MetricsObserver counts events by type.
func MetricsObserver() Observer {
	return ObserverFunc(func(_ context.Context, e Event) error {
		metrics.EventsTotal.WithLabelValues(string(e.Type)).Inc()
		return nil
	})
}
