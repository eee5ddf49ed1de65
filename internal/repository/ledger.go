package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/iliyamo/seat-admission/internal/database"
	"github.com/iliyamo/seat-admission/internal/model"
)

// Ledger groups the writes that must change a seat row and a booking row
// together.  Each method is one transaction.
type Ledger struct {
	db    *sql.DB
	seats *ScheduleSeatRepo
	books map[model.RecordKind]*ReservationRepo
}

// NewLedger wires the seat repository with one repository per booking
// table.
func NewLedger(db *sql.DB, seats *ScheduleSeatRepo, books ...*ReservationRepo) *Ledger {
	l := &Ledger{db: db, seats: seats, books: make(map[model.RecordKind]*ReservationRepo, len(books))}
	for _, b := range books {
		l.books[b.Kind()] = b
	}
	return l
}

func (l *Ledger) repo(kind model.RecordKind) (*ReservationRepo, error) {
	b, ok := l.books[kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	return b, nil
}

// OpenHold marks the seat HOLD and inserts the PENDING record in one
// transaction.  ErrConflict means the seat was not AVAILABLE; nothing was
// written in that case.
func (l *Ledger) OpenHold(ctx context.Context, res *model.Reservation) error {
	b, err := l.repo(res.Kind)
	if err != nil {
		return err
	}
	return database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		if err := l.seats.MarkHoldTx(ctx, tx, res.ScheduleID, res.SeatID); err != nil {
			return fmt.Errorf("mark hold %d/%d: %w", res.ScheduleID, res.SeatID, err)
		}
		if err := b.CreateTx(ctx, tx, res); err != nil {
			return fmt.Errorf("create %s: %w", res.Kind, err)
		}
		return nil
	})
}

// Get returns one record.
func (l *Ledger) Get(ctx context.Context, kind model.RecordKind, id uint64) (*model.Reservation, error) {
	b, err := l.repo(kind)
	if err != nil {
		return nil, err
	}
	return b.GetByID(ctx, id)
}

// Complete sells the seat and completes the record.  The record row is
// locked first, then the seat row; a sweep that expired the record
// earlier makes this return model.ErrInvalidTransition, and a sweep that
// runs later finds the record no longer PENDING.  applied is false when
// the record was already COMPLETED.
func (l *Ledger) Complete(ctx context.Context, kind model.RecordKind, id uint64, paymentRef string, at time.Time) (*model.Reservation, bool, error) {
	b, err := l.repo(kind)
	if err != nil {
		return nil, false, err
	}
	var (
		out     *model.Reservation
		applied bool
	)
	err = database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		res, err := b.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		out, applied = res, false
		if err := res.Transition(model.ReservationCompleted); err != nil {
			if errors.Is(err, model.ErrNoop) {
				return nil
			}
			return err
		}
		if err := l.seats.MarkSoldTx(ctx, tx, res.ScheduleID, res.SeatID); err != nil {
			return fmt.Errorf("mark sold %d/%d: %w", res.ScheduleID, res.SeatID, err)
		}
		ref := paymentRef
		if err := b.FinishTx(ctx, tx, id, model.ReservationCompleted, at, &ref); err != nil {
			if errors.Is(err, ErrConflict) {
				return lostRace(ctx, tx, b, id, model.ReservationCompleted, err)
			}
			return err
		}
		res.Apply(model.ReservationCompleted, at.UTC())
		res.PaymentRef = &ref
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

// Close moves a PENDING record to CANCELED or FAILED.  The seat is left in
// HOLD; the caller releases it through the same path the expiry sweep
// uses.  applied is false when the record was already in the target
// state.
func (l *Ledger) Close(ctx context.Context, kind model.RecordKind, id uint64, to model.ReservationStatus, at time.Time) (*model.Reservation, bool, error) {
	if to != model.ReservationCanceled && to != model.ReservationFailed {
		return nil, false, fmt.Errorf("close to %s: %w", to, model.ErrInvalidTransition)
	}
	b, err := l.repo(kind)
	if err != nil {
		return nil, false, err
	}
	var (
		out     *model.Reservation
		applied bool
	)
	err = database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		res, err := b.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		out, applied = res, false
		if err := res.Transition(to); err != nil {
			if errors.Is(err, model.ErrNoop) {
				return nil
			}
			return err
		}
		if err := b.FinishTx(ctx, tx, id, to, at, nil); err != nil {
			if errors.Is(err, ErrConflict) {
				return lostRace(ctx, tx, b, id, to, err)
			}
			return err
		}
		res.Apply(to, at.UTC())
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

// lostRace explains a FinishTx that matched no PENDING row by re-reading
// the record: a writer that moved it first, usually the expiry sweep,
// surfaces as a *model.TransitionError from its new status.
func lostRace(ctx context.Context, tx *sql.Tx, b *ReservationRepo, id uint64, to model.ReservationStatus, conflict error) error {
	cur, err := b.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return conflict
	}
	if err := cur.Transition(to); err != nil && !errors.Is(err, model.ErrNoop) {
		return err
	}
	return conflict
}

// ExpireDue expires overdue PENDING records of one kind.
func (l *Ledger) ExpireDue(ctx context.Context, kind model.RecordKind, now time.Time, limit int) ([]model.Reservation, error) {
	b, err := l.repo(kind)
	if err != nil {
		return nil, err
	}
	var expired []model.Reservation
	err = database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		var err error
		expired, err = b.ExpireDueTx(ctx, tx, now, limit)
		return err
	})
	return expired, err
}

// ListReleasable lists terminal records whose seat is still HOLD.
func (l *Ledger) ListReleasable(ctx context.Context, kind model.RecordKind, limit int) ([]model.Reservation, error) {
	b, err := l.repo(kind)
	if err != nil {
		return nil, err
	}
	return b.ListReleasable(ctx, limit)
}

// ReleaseSeat returns an unclaimed HOLD seat to AVAILABLE.  ErrConflict
// means the seat was already released, sold, or is claimed by a PENDING
// record.
func (l *Ledger) ReleaseSeat(ctx context.Context, scheduleID, seatID uint64) error {
	return l.seats.ReleaseIfUnclaimed(ctx, scheduleID, seatID)
}

// SeatStatus returns the durable seat row.
func (l *Ledger) SeatStatus(ctx context.Context, scheduleID, seatID uint64) (*model.ScheduleSeat, error) {
	return l.seats.Get(ctx, scheduleID, seatID)
}

// SectionOf returns the section of a seat on sale for the schedule.
func (l *Ledger) SectionOf(ctx context.Context, scheduleID, seatID uint64) (uint64, error) {
	return l.seats.SectionOf(ctx, scheduleID, seatID)
}

// SeatMap returns every seat row of a schedule ordered by seat id.
func (l *Ledger) SeatMap(ctx context.Context, scheduleID uint64) ([]model.ScheduleSeat, error) {
	return l.seats.ListBySchedule(ctx, scheduleID)
}

// ListByMember returns a member's most recent bookings from both tables,
// newest first.
func (l *Ledger) ListByMember(ctx context.Context, memberID uint64, limit int) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, kind := range []model.RecordKind{model.KindReservation, model.KindStrategyBooking} {
		b, ok := l.books[kind]
		if !ok {
			continue
		}
		rs, err := b.ListByMember(ctx, memberID, limit)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", kind, err)
		}
		out = append(out, rs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
