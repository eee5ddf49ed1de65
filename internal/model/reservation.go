package model

import (
	"errors"
	"fmt"
	"time"
)

// ReservationStatus is the lifecycle state of a reservation or strategy
// booking.  PENDING is the only non-terminal state.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationCompleted ReservationStatus = "COMPLETED"
	ReservationFailed    ReservationStatus = "FAILED"
	ReservationCanceled  ReservationStatus = "CANCELED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Terminal reports whether no further transition is possible.
func (s ReservationStatus) Terminal() bool {
	return s != ReservationPending
}

// RecordKind names the table a booking lives in.  Plain reservations
// cover first-come and queue-ordered sales; strategy bookings cover
// section pre-registration and lottery sales.  Both share one lifecycle.
type RecordKind string

const (
	KindReservation     RecordKind = "reservation"
	KindStrategyBooking RecordKind = "strategy_booking"
)

// Valid reports whether k is a known record kind.
func (k RecordKind) Valid() bool {
	return k == KindReservation || k == KindStrategyBooking
}

var (
	// ErrNoop is returned by Transition when the record is already in the
	// requested terminal state.  Callers treat it as success.
	ErrNoop = errors.New("transition already applied")

	// ErrInvalidTransition is returned when the record is in a different
	// terminal state than the one requested.
	ErrInvalidTransition = errors.New("invalid reservation transition")
)

// TransitionError reports a rejected transition.  It unwraps to
// ErrInvalidTransition.
type TransitionError struct {
	From ReservationStatus
	To   ReservationStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid reservation transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Reservation is a buyer's provisional claim on one seat, created at hold
// time and resolved by payment, cancellation or expiry.
//
// Fields:
//
//	ID          – primary key within its table.
//	Kind        – which table (reservations or strategy_bookings).
//	ScheduleID  – schedule the seat belongs to.
//	SeatID      – the held seat.
//	MemberID    – buyer.
//	BookingType – strategy the hold was admitted under.
//	Status      – lifecycle state.
//	HoldToken   – token of the hold lock taken for this reservation.
//	AmountCents – amount requested from the payment provider.
//	PaymentRef  – provider reference, set on completion.
//	ExpiresAt   – instant after which a PENDING record is expired.
type Reservation struct {
	ID          uint64            // id
	Kind        RecordKind        // table discriminator, not stored
	ScheduleID  uint64            // schedule_id
	SeatID      uint64            // seat_id
	MemberID    uint64            // member_id
	BookingType string            // booking_type
	Status      ReservationStatus // status
	HoldToken   string            // hold_token
	AmountCents uint32            // amount_cents
	PaymentRef  *string           // payment_ref (nullable)
	ExpiresAt   time.Time         // expires_at
	CompletedAt *time.Time        // completed_at (nullable)
	CanceledAt  *time.Time        // canceled_at (nullable)
	FailedAt    *time.Time        // failed_at (nullable)
	ExpiredAt   *time.Time        // expired_at (nullable)
	CreatedAt   time.Time         // created_at
	UpdatedAt   time.Time         // updated_at
}

func (r *Reservation) CanComplete() bool { return r.Status == ReservationPending }
func (r *Reservation) CanCancel() bool   { return r.Status == ReservationPending }
func (r *Reservation) CanExpire() bool   { return r.Status == ReservationPending }
func (r *Reservation) CanFail() bool     { return r.Status == ReservationPending }

// Transition checks whether the record may move to target.  It returns nil
// when the move is allowed, ErrNoop when target is already the current
// terminal state, and ErrInvalidTransition otherwise.  It does not mutate
// the record; callers persist the change with a conditional write.
func (r *Reservation) Transition(target ReservationStatus) error {
	var allowed bool
	switch target {
	case ReservationCompleted:
		allowed = r.CanComplete()
	case ReservationCanceled:
		allowed = r.CanCancel()
	case ReservationExpired:
		allowed = r.CanExpire()
	case ReservationFailed:
		allowed = r.CanFail()
	default:
		return &TransitionError{From: r.Status, To: target}
	}
	if allowed {
		return nil
	}
	if r.Status == target {
		return ErrNoop
	}
	return &TransitionError{From: r.Status, To: target}
}

// Apply records a transition already persisted by the store.
func (r *Reservation) Apply(target ReservationStatus, at time.Time) {
	r.Status = target
	r.UpdatedAt = at
	switch target {
	case ReservationCompleted:
		r.CompletedAt = &at
	case ReservationCanceled:
		r.CanceledAt = &at
	case ReservationFailed:
		r.FailedAt = &at
	case ReservationExpired:
		r.ExpiredAt = &at
	}
}
