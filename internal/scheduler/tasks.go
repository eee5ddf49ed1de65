package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/seat-admission/internal/events"
	"github.com/iliyamo/seat-admission/internal/logging"
	"github.com/iliyamo/seat-admission/internal/metrics"
	"github.com/iliyamo/seat-admission/internal/model"
	"github.com/iliyamo/seat-admission/internal/waitroom"
)

// Kinds are the booking tables every reservation sweep covers.
var Kinds = []model.RecordKind{model.KindReservation, model.KindStrategyBooking}

// ExpiryLedger is the part of the ledger the reservation sweeps use.
type ExpiryLedger interface {
	ExpireDue(ctx context.Context, kind model.RecordKind, now time.Time, limit int) ([]model.Reservation, error)
	ListReleasable(ctx context.Context, kind model.RecordKind, limit int) ([]model.Reservation, error)
}

// Releaser returns a closed booking's seat to sale.
type Releaser interface {
	Release(ctx context.Context, res model.Reservation) (bool, error)
}

// Emitter receives domain events.
type Emitter interface {
	Emit(ctx context.Context, e events.Event)
}

// ReservationExpiry moves overdue PENDING bookings to EXPIRED and
// releases their seats.
type ReservationExpiry struct {
	ledger   ExpiryLedger
	releaser Releaser
	events   Emitter
	batch    int
	log      zerolog.Logger
}

func NewReservationExpiry(ledger ExpiryLedger, releaser Releaser, em Emitter, batch int) *ReservationExpiry {
	return &ReservationExpiry{ledger: ledger, releaser: releaser, events: em, batch: batch, log: logging.Component("sweep")}
}

func (t *ReservationExpiry) Name() string { return "reservation_expiry" }

func (t *ReservationExpiry) Run(ctx context.Context, now time.Time) (Report, error) {
	var rep Report
	var firstErr error
	for _, kind := range Kinds {
		expired, err := t.ledger.ExpireDue(ctx, kind, now, t.batch)
		if err != nil {
			rep.Failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("expire %s: %w", kind, err)
			}
			continue
		}
		for _, res := range expired {
			rep.Affected++
			e := events.New(events.ReservationExpired, now)
			e.ScheduleID, e.SeatID, e.MemberID = res.ScheduleID, res.SeatID, res.MemberID
			e.ReservationID, e.RecordKind = res.ID, string(res.Kind)
			t.events.Emit(ctx, e)

			// SeatRelease retries anything left behind here.
			if _, err := t.releaser.Release(ctx, res); err != nil {
				rep.Failed++
				t.log.Warn().Err(err).Uint64("reservation_id", res.ID).Str("kind", string(kind)).
					Msg("seat release after expiry failed")
			}
		}
	}
	return rep, firstErr
}

// SeatRelease finds seats still HOLD behind a closed booking and releases
// them. It repairs releases that failed when the booking was closed.
type SeatRelease struct {
	ledger   ExpiryLedger
	releaser Releaser
	batch    int
	log      zerolog.Logger
}

func NewSeatRelease(ledger ExpiryLedger, releaser Releaser, batch int) *SeatRelease {
	return &SeatRelease{ledger: ledger, releaser: releaser, batch: batch, log: logging.Component("sweep")}
}

func (t *SeatRelease) Name() string { return "seat_release" }

func (t *SeatRelease) Run(ctx context.Context, _ time.Time) (Report, error) {
	var rep Report
	var firstErr error
	for _, kind := range Kinds {
		rows, err := t.ledger.ListReleasable(ctx, kind, t.batch)
		if err != nil {
			rep.Failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("list releasable %s: %w", kind, err)
			}
			continue
		}
		for _, res := range rows {
			released, err := t.releaser.Release(ctx, res)
			if err != nil {
				rep.Failed++
				t.log.Warn().Err(err).Uint64("reservation_id", res.ID).Str("kind", string(kind)).Msg("seat release failed")
				continue
			}
			if released {
				rep.Affected++
			}
		}
	}
	return rep, firstErr
}

// QueueLister lists the waiting rooms the sweeps service.
type QueueLister interface {
	ListActiveQueues(ctx context.Context) ([]model.WaitingQueue, error)
}

// Room is the live waiting room.
type Room interface {
	PromoteCycle(ctx context.Context, q model.WaitingQueue, batch int, now time.Time) (waitroom.CycleReport, error)
	ExpireTickets(ctx context.Context, queueID uint64, limit int, now time.Time) (int, error)
}

// QueuePromotion admits waiting members into every active room up to the
// room's cap.
type QueuePromotion struct {
	queues QueueLister
	room   Room
	batch  int
	log    zerolog.Logger
}

func NewQueuePromotion(queues QueueLister, room Room, batch int) *QueuePromotion {
	return &QueuePromotion{queues: queues, room: room, batch: batch, log: logging.Component("sweep")}
}

func (t *QueuePromotion) Name() string { return "queue_promotion" }

func (t *QueuePromotion) Run(ctx context.Context, now time.Time) (Report, error) {
	var rep Report
	queues, err := t.queues.ListActiveQueues(ctx)
	if err != nil {
		return rep, fmt.Errorf("list queues: %w", err)
	}
	for _, q := range queues {
		cr, err := t.room.PromoteCycle(ctx, q, t.batch, now)
		rep.Affected += cr.Moved
		rep.Failed += cr.Failed
		metrics.QueuePromotions.WithLabelValues("moved").Add(float64(cr.Moved))
		metrics.QueuePromotions.WithLabelValues("skipped").Add(float64(cr.Skipped))
		metrics.QueuePromotions.WithLabelValues("error").Add(float64(cr.Failed))
		if cr.Full {
			metrics.QueuePromotions.WithLabelValues("rejected_full").Inc()
		}
		if err != nil {
			rep.Failed++
			t.log.Warn().Err(err).Uint64("queue_id", q.ID).Msg("promotion cycle failed")
			continue
		}
		metrics.QueueActiveUsers.WithLabelValues(strconv.FormatUint(q.ID, 10)).Set(float64(cr.Active))
	}
	return rep, nil
}

// TicketExpiry removes lapsed ENTERABLE tickets, freeing their slots.
type TicketExpiry struct {
	queues QueueLister
	room   Room
	batch  int
	log    zerolog.Logger
}

func NewTicketExpiry(queues QueueLister, room Room, batch int) *TicketExpiry {
	return &TicketExpiry{queues: queues, room: room, batch: batch, log: logging.Component("sweep")}
}

func (t *TicketExpiry) Name() string { return "ticket_expiry" }

func (t *TicketExpiry) Run(ctx context.Context, now time.Time) (Report, error) {
	var rep Report
	queues, err := t.queues.ListActiveQueues(ctx)
	if err != nil {
		return rep, fmt.Errorf("list queues: %w", err)
	}
	for _, q := range queues {
		n, err := t.room.ExpireTickets(ctx, q.ID, t.batch, now)
		rep.Affected += n
		if err != nil {
			rep.Failed++
			t.log.Warn().Err(err).Uint64("queue_id", q.ID).Msg("ticket expiry failed")
		}
	}
	return rep, nil
}
