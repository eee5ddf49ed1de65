// Package service holds the admission use cases. Services compose the
// hold lock, the strategy gate, the ledger and the waiting room, and
// translate store errors into apperror values for the transports.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/seat-admission/internal/apperror"
	"github.com/iliyamo/seat-admission/internal/events"
	"github.com/iliyamo/seat-admission/internal/lock"
	"github.com/iliyamo/seat-admission/internal/model"
	"github.com/iliyamo/seat-admission/internal/repository"
	"github.com/iliyamo/seat-admission/internal/strategy"
)

// Locker is the hold lock manager.
type Locker interface {
	Acquire(ctx context.Context, scheduleID, seatID, memberID uint64, ttl time.Duration) (lock.Hold, error)
	Release(ctx context.Context, scheduleID, seatID uint64, token string) (lock.Result, error)
	Owner(ctx context.Context, scheduleID, seatID uint64) (lock.Hold, bool, error)
}

// Ledger is the durable store of seats and bookings.
type Ledger interface {
	OpenHold(ctx context.Context, res *model.Reservation) error
	Get(ctx context.Context, kind model.RecordKind, id uint64) (*model.Reservation, error)
	Complete(ctx context.Context, kind model.RecordKind, id uint64, paymentRef string, at time.Time) (*model.Reservation, bool, error)
	Close(ctx context.Context, kind model.RecordKind, id uint64, to model.ReservationStatus, at time.Time) (*model.Reservation, bool, error)
	ReleaseSeat(ctx context.Context, scheduleID, seatID uint64) error
	SeatStatus(ctx context.Context, scheduleID, seatID uint64) (*model.ScheduleSeat, error)
	SectionOf(ctx context.Context, scheduleID, seatID uint64) (uint64, error)
	SeatMap(ctx context.Context, scheduleID uint64) ([]model.ScheduleSeat, error)
	ListByMember(ctx context.Context, memberID uint64, limit int) ([]model.Reservation, error)
}

// ScheduleReader loads sale configuration.
type ScheduleReader interface {
	GetByID(ctx context.Context, id uint64) (*model.Schedule, error)
}

// Gate admits or denies hold attempts.
type Gate interface {
	Evaluate(ctx context.Context, s strategy.Strategy, req strategy.Request) (strategy.Decision, error)
}

// TicketConsumer consumes a member's waiting-room ticket after purchase.
type TicketConsumer interface {
	Complete(ctx context.Context, queueID, memberID uint64, now time.Time) (bool, error)
}

// Emitter receives domain events.
type Emitter interface {
	Emit(ctx context.Context, e events.Event)
}

// Ref addresses one booking record. Its string form "<kind>:<id>" is the
// reference handed to the payment collaborator.
type Ref struct {
	Kind model.RecordKind
	ID   uint64
}

func (r Ref) String() string {
	return string(r.Kind) + ":" + strconv.FormatUint(r.ID, 10)
}

// RefOf returns the reference of a record.
func RefOf(res *model.Reservation) Ref {
	return Ref{Kind: res.Kind, ID: res.ID}
}

// ParseRef parses the string form of a Ref.
func ParseRef(s string) (Ref, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Ref{}, apperror.Validation("malformed reference " + strconv.Quote(s))
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 || !model.RecordKind(kind).Valid() {
		return Ref{}, apperror.Validation("malformed reference " + strconv.Quote(s))
	}
	return Ref{Kind: model.RecordKind(kind), ID: n}, nil
}

// storeError translates a repository error. Conflicts are left to the
// caller because their meaning depends on the operation.
func storeError(err error, resource string) error {
	var ae *apperror.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ae):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperror.NotFound(resource)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return apperror.Unavailable(fmt.Errorf("%s: %w", resource, err))
	}
}

// transitionError translates a guard rejection from the ledger.
func transitionError(err error) error {
	var te *model.TransitionError
	if !errors.As(err, &te) {
		return nil
	}
	if te.From == model.ReservationExpired {
		return apperror.Expired()
	}
	return apperror.InvalidTransition(string(te.From), string(te.To))
}
