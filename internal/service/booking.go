package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/seat-admission/internal/apperror"
	"github.com/iliyamo/seat-admission/internal/events"
	"github.com/iliyamo/seat-admission/internal/lock"
	"github.com/iliyamo/seat-admission/internal/logging"
	"github.com/iliyamo/seat-admission/internal/metrics"
	"github.com/iliyamo/seat-admission/internal/model"
	"github.com/iliyamo/seat-admission/internal/repository"
	"github.com/iliyamo/seat-admission/internal/strategy"
)

// BookingDeps are the collaborators of a BookingService.
type BookingDeps struct {
	Schedules ScheduleReader
	Gate      Gate
	Locks     Locker
	Ledger    Ledger
	Releaser  *HoldReleaser
	Tickets   TicketConsumer
	Events    Emitter
}

// BookingService runs the hold -> pay -> complete flow of one seat.
type BookingService struct {
	BookingDeps
	holdTTL time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

func NewBookingService(deps BookingDeps, holdTTL time.Duration) *BookingService {
	return &BookingService{
		BookingDeps: deps,
		holdTTL:     holdTTL,
		now:         time.Now,
		log:         logging.Component("booking"),
	}
}

// HoldRequest asks for one seat of one schedule on behalf of a member.
type HoldRequest struct {
	ScheduleID uint64
	SeatID     uint64
	MemberID   uint64
}

// HoldResult is a granted hold.
type HoldResult struct {
	Reservation *model.Reservation
	// PaymentReference identifies the booking to the payment collaborator.
	PaymentReference string
}

// Hold admits, locks and records a hold. On success the seat is HOLD, a
// PENDING record exists and the hold lock is owned by the record's token.
// On any failure after the lock was taken the lock is released again.
func (s *BookingService) Hold(ctx context.Context, req HoldRequest) (*HoldResult, error) {
	if req.ScheduleID == 0 || req.SeatID == 0 || req.MemberID == 0 {
		return nil, apperror.Validation("schedule, seat and member are required")
	}
	now := s.now()

	sched, err := s.Schedules.GetByID(ctx, req.ScheduleID)
	if err != nil {
		return nil, storeError(err, "schedule")
	}
	st, err := strategy.FromSchedule(sched)
	if err != nil {
		s.log.Warn().Err(err).Uint64("schedule_id", sched.ID).Msg("schedule has no usable strategy")
		return nil, apperror.Policy(string(strategy.ReasonUnknownStrategy), "schedule is not on sale")
	}
	seat, err := s.Ledger.SeatStatus(ctx, req.ScheduleID, req.SeatID)
	if err != nil {
		return nil, storeError(err, "seat")
	}

	areq := strategy.Request{ScheduleID: req.ScheduleID, SeatID: req.SeatID, MemberID: req.MemberID, Now: now}
	if st.Kind == strategy.SectionPreregistration {
		if areq.SectionID, err = s.Ledger.SectionOf(ctx, req.ScheduleID, req.SeatID); err != nil {
			return nil, storeError(err, "seat")
		}
	}
	dec, err := s.Gate.Evaluate(ctx, st, areq)
	if err != nil {
		return nil, apperror.Unavailable(err)
	}
	if !dec.Allowed {
		metrics.GateDenials.WithLabelValues(string(dec.Reason)).Inc()
		s.log.Debug().Uint64("schedule_id", req.ScheduleID).Uint64("member_id", req.MemberID).
			Str("reason", string(dec.Reason)).Msg("hold denied")
		return nil, apperror.Policy(string(dec.Reason), "hold not admitted")
	}

	hold, err := s.Locks.Acquire(ctx, req.ScheduleID, req.SeatID, req.MemberID, s.holdTTL)
	if errors.Is(err, lock.ErrAlreadyHeld) {
		metrics.LockAcquire.WithLabelValues("contended").Inc()
		return nil, apperror.Contention(apperror.CodeSeatHeld, "seat is held by another buyer")
	}
	if err != nil {
		metrics.LockAcquire.WithLabelValues("error").Inc()
		return nil, apperror.Unavailable(err)
	}
	metrics.LockAcquire.WithLabelValues("granted").Inc()

	res := &model.Reservation{
		Kind:        model.RecordKindFor(sched.BookingType),
		ScheduleID:  req.ScheduleID,
		SeatID:      req.SeatID,
		MemberID:    req.MemberID,
		BookingType: sched.BookingType,
		HoldToken:   hold.Token,
		AmountCents: seat.PriceCents,
		ExpiresAt:   now.Add(s.holdTTL).UTC(),
		CreatedAt:   now.UTC(),
	}
	if err := s.Ledger.OpenHold(ctx, res); err != nil {
		s.releaseLock(ctx, hold)
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperror.Contention(apperror.CodeSeatUnavailable, "seat is not available")
		}
		return nil, storeError(err, "seat")
	}

	ref := RefOf(res).String()
	for _, t := range []events.Type{events.SeatHeld, events.ReservationCreated, events.PaymentRequested} {
		e := s.event(t, res, now)
		if t == events.PaymentRequested {
			e.AmountCents = res.AmountCents
			e.Reference = ref
		}
		s.Events.Emit(ctx, e)
	}
	return &HoldResult{Reservation: res, PaymentReference: ref}, nil
}

// releaseLock drops a hold lock after an aborted hold or a completed sale.
// It must run even when the request context is already canceled; a failure
// only leaves the key to its TTL, so it is logged.
func (s *BookingService) releaseLock(ctx context.Context, h lock.Hold) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, err := s.Locks.Release(ctx, h.ScheduleID, h.SeatID, h.Token); err != nil {
		s.log.Error().Err(err).Uint64("schedule_id", h.ScheduleID).Uint64("seat_id", h.SeatID).
			Msg("failed to release hold lock")
	}
}

func (s *BookingService) event(t events.Type, res *model.Reservation, at time.Time) events.Event {
	e := events.New(t, at)
	e.ScheduleID = res.ScheduleID
	e.SeatID = res.SeatID
	e.MemberID = res.MemberID
	e.ReservationID = res.ID
	e.RecordKind = string(res.Kind)
	return e
}

// Complete sells the seat after a successful payment. Completing an
// already completed record returns it unchanged. A record the expiry
// sweep got to first cannot be completed.
func (s *BookingService) Complete(ctx context.Context, ref Ref, paymentRef string) (*model.Reservation, error) {
	now := s.now()
	res, applied, err := s.Ledger.Complete(ctx, ref.Kind, ref.ID, paymentRef, now)
	if err != nil {
		if te := transitionError(err); te != nil {
			return nil, te
		}
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperror.Contention(apperror.CodeSeatUnavailable, "seat is no longer held")
		}
		return nil, storeError(err, "reservation")
	}
	if !applied {
		return res, nil
	}

	s.releaseLock(ctx, lock.Hold{ScheduleID: res.ScheduleID, SeatID: res.SeatID, Token: res.HoldToken})
	s.Events.Emit(ctx, s.event(events.SeatSold, res, now))
	s.Events.Emit(ctx, s.event(events.ReservationCompleted, res, now))
	if res.BookingType == model.BookingQueueOrdered {
		s.consumeTicket(ctx, res, now)
	}
	return res, nil
}

// consumeTicket frees the member's active-set slot. A failure only delays
// the slot until the ticket expires, so it is logged.
func (s *BookingService) consumeTicket(ctx context.Context, res *model.Reservation, now time.Time) {
	if s.Tickets == nil {
		return
	}
	sched, err := s.Schedules.GetByID(ctx, res.ScheduleID)
	if err != nil || sched.QueueID == nil {
		s.log.Warn().Err(err).Uint64("schedule_id", res.ScheduleID).Msg("cannot resolve queue to consume ticket")
		return
	}
	if _, err := s.Tickets.Complete(ctx, *sched.QueueID, res.MemberID, now); err != nil {
		s.log.Warn().Err(err).Uint64("queue_id", *sched.QueueID).Uint64("member_id", res.MemberID).
			Msg("failed to consume queue ticket")
	}
}

// Fail records a failed payment and releases the seat.
func (s *BookingService) Fail(ctx context.Context, ref Ref, reason string) (*model.Reservation, error) {
	return s.close(ctx, ref, model.ReservationFailed, reason)
}

// Cancel withdraws a member's own PENDING booking and releases the seat.
func (s *BookingService) Cancel(ctx context.Context, ref Ref, memberID uint64) (*model.Reservation, error) {
	if _, err := s.Get(ctx, ref, memberID); err != nil {
		return nil, err
	}
	return s.close(ctx, ref, model.ReservationCanceled, "canceled by member")
}

func (s *BookingService) close(ctx context.Context, ref Ref, to model.ReservationStatus, reason string) (*model.Reservation, error) {
	now := s.now()
	res, applied, err := s.Ledger.Close(ctx, ref.Kind, ref.ID, to, now)
	if err != nil {
		if te := transitionError(err); te != nil {
			return nil, te
		}
		return nil, storeError(err, "reservation")
	}
	if !applied {
		return res, nil
	}

	t := events.ReservationCanceled
	if to == model.ReservationFailed {
		t = events.ReservationFailed
	}
	e := s.event(t, res, now)
	e.Reason = reason
	s.Events.Emit(ctx, e)

	// The record is final; a failed release is retried by the sweep.
	if _, err := s.Releaser.Release(ctx, *res); err != nil {
		s.log.Warn().Err(err).Str("ref", ref.String()).Msg("seat release deferred to sweep")
	}
	return res, nil
}

// Get returns a booking owned by memberID.
func (s *BookingService) Get(ctx context.Context, ref Ref, memberID uint64) (*model.Reservation, error) {
	res, err := s.Ledger.Get(ctx, ref.Kind, ref.ID)
	if err != nil {
		return nil, storeError(err, "reservation")
	}
	if res.MemberID != memberID {
		return nil, apperror.NotFound("reservation")
	}
	return res, nil
}

// ApplyPaymentResult completes or fails the booking a payment refers to.
func (s *BookingService) ApplyPaymentResult(ctx context.Context, r events.PaymentResult) error {
	ref, err := ParseRef(r.Reference)
	if err != nil {
		return err
	}
	if r.Succeeded {
		_, err = s.Complete(ctx, ref, r.PaymentRef)
		return err
	}
	reason := r.Reason
	if reason == "" {
		reason = "payment failed"
	}
	_, err = s.Fail(ctx, ref, reason)
	return err
}

// SeatView combines the durable seat row with the live hold lock.
type SeatView struct {
	Seat          *model.ScheduleSeat
	Held          bool
	HolderID      uint64
	HoldExpiresAt time.Time
}

// SeatStatus reports a seat's status. A Redis failure is returned, never
// reported as "not held".
func (s *BookingService) SeatStatus(ctx context.Context, scheduleID, seatID uint64) (*SeatView, error) {
	seat, err := s.Ledger.SeatStatus(ctx, scheduleID, seatID)
	if err != nil {
		return nil, storeError(err, "seat")
	}
	h, held, err := s.Locks.Owner(ctx, scheduleID, seatID)
	if err != nil {
		return nil, apperror.Unavailable(err)
	}
	v := &SeatView{Seat: seat, Held: held}
	if held {
		v.HolderID, v.HoldExpiresAt = h.MemberID, h.ExpiresAt
	}
	return v, nil
}

// SeatMap returns the durable status of every seat of a schedule.  A
// schedule without inventory is reported as not found.
func (s *BookingService) SeatMap(ctx context.Context, scheduleID uint64) ([]model.ScheduleSeat, error) {
	seats, err := s.Ledger.SeatMap(ctx, scheduleID)
	if err != nil {
		return nil, storeError(err, "seats")
	}
	if len(seats) == 0 {
		return nil, apperror.NotFound("seats")
	}
	return seats, nil
}

// maxListed caps List.
const maxListed = 50

// List returns the member's most recent bookings.
func (s *BookingService) List(ctx context.Context, memberID uint64, limit int) ([]model.Reservation, error) {
	if limit <= 0 || limit > maxListed {
		limit = maxListed
	}
	out, err := s.Ledger.ListByMember(ctx, memberID, limit)
	if err != nil {
		return nil, storeError(err, "reservations")
	}
	return out, nil
}
