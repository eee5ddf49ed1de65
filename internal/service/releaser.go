package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/seat-admission/internal/events"
	"github.com/iliyamo/seat-admission/internal/lock"
	"github.com/iliyamo/seat-admission/internal/logging"
	"github.com/iliyamo/seat-admission/internal/model"
	"github.com/iliyamo/seat-admission/internal/repository"
)

// HoldReleaser returns the seat of a closed booking to sale. Cancel, Fail
// and the release sweep all go through it, so a seat leaves HOLD the same
// way whoever closed the booking.
type HoldReleaser struct {
	ledger Ledger
	locks  Locker
	events Emitter
	now    func() time.Time
	log    zerolog.Logger
}

func NewHoldReleaser(ledger Ledger, locks Locker, em Emitter) *HoldReleaser {
	return &HoldReleaser{ledger: ledger, locks: locks, events: em, now: time.Now, log: logging.Component("releaser")}
}

// Release moves the seat HOLD -> AVAILABLE unless another PENDING booking
// claims it, then drops the hold lock if res's token still owns it.
// Running it twice is harmless. released reports whether this call freed
// the seat row.
func (h *HoldReleaser) Release(ctx context.Context, res model.Reservation) (released bool, err error) {
	if !res.Status.Terminal() || res.Status == model.ReservationCompleted {
		return false, fmt.Errorf("release %s: %w", RefOf(&res), model.ErrInvalidTransition)
	}
	err = h.ledger.ReleaseSeat(ctx, res.ScheduleID, res.SeatID)
	switch {
	case err == nil:
		released = true
	case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrNotFound):
	default:
		return false, storeError(err, "seat")
	}

	if res.HoldToken != "" {
		result, err := h.locks.Release(ctx, res.ScheduleID, res.SeatID, res.HoldToken)
		if err != nil {
			return released, storeError(err, "hold")
		}
		if result == lock.TokenMismatch {
			h.log.Debug().Uint64("schedule_id", res.ScheduleID).Uint64("seat_id", res.SeatID).
				Msg("hold lock belongs to a newer holder, left in place")
		}
	}

	if released {
		e := events.New(events.SeatReleased, h.now())
		e.ScheduleID, e.SeatID, e.MemberID = res.ScheduleID, res.SeatID, res.MemberID
		e.ReservationID, e.RecordKind = res.ID, string(res.Kind)
		e.Reason = string(res.Status)
		h.events.Emit(ctx, e)
	}
	return released, nil
}
