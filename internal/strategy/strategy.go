// Package strategy decides whether a hold attempt is admitted under a
// schedule's booking strategy.
//
// A Strategy is a tagged variant: Kind selects which of the per-variant
// fields are meaningful, and Gate.Evaluate is the single function that
// interprets it. A denial never touches the lock or the seat row.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/seat-admission/internal/model"
)

// Kind selects the admission rule.
type Kind string

const (
	FirstCome              Kind = model.BookingFirstCome
	SectionPreregistration Kind = model.BookingSectionPreregistration
	Lottery                Kind = model.BookingLottery
	QueueOrdered           Kind = model.BookingQueueOrdered
)

// Window is a half-open interval [OpenAt, CloseAt).
type Window struct {
	OpenAt  time.Time
	CloseAt time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.OpenAt) && t.Before(w.CloseAt)
}

// Strategy is the admission rule of one schedule.
//
//   - FirstCome: Window only.
//   - SectionPreregistration: Window plus one Slot per section.
//   - Lottery: earmarked seats only; Window applies when set.
//   - QueueOrdered: QueueID names the waiting room; Window applies.
type Strategy struct {
	Kind    Kind
	Window  Window
	Slots   map[uint64]Window
	QueueID uint64
}

// FromSchedule builds the Strategy of a schedule row.
func FromSchedule(s *model.Schedule) (Strategy, error) {
	st := Strategy{
		Kind:   Kind(s.BookingType),
		Window: Window{OpenAt: s.BookingOpenAt, CloseAt: s.BookingCloseAt},
	}
	switch st.Kind {
	case FirstCome, Lottery:
	case SectionPreregistration:
		st.Slots = make(map[uint64]Window, len(s.Slots))
		for _, sl := range s.Slots {
			st.Slots[sl.SectionID] = Window{OpenAt: sl.OpensAt, CloseAt: sl.ClosesAt}
		}
	case QueueOrdered:
		if s.QueueID == nil {
			return Strategy{}, fmt.Errorf("schedule %d: queue-ordered sale without a queue", s.ID)
		}
		st.QueueID = *s.QueueID
	default:
		return Strategy{}, fmt.Errorf("schedule %d: unknown booking type %q", s.ID, s.BookingType)
	}
	return st, nil
}

// Reason explains a denial. The values double as client error codes.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonWindowClosed         Reason = "WINDOW_CLOSED"
	ReasonNotEntitled          Reason = "NOT_ENTITLED"
	ReasonOutsideSectionSlot   Reason = "OUTSIDE_SECTION_SLOT"
	ReasonEntitledWindowClosed Reason = "ENTITLED_WINDOW_CLOSED"
	ReasonNotAllocated         Reason = "NOT_ALLOCATED"
	ReasonNoQueueTicket        Reason = "NO_QUEUE_TICKET"
	ReasonUnknownStrategy      Reason = "UNKNOWN_STRATEGY"
)

// Decision is the result of Evaluate.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision        { return Decision{Allowed: true} }
func deny(r Reason) Decision { return Decision{Reason: r} }
func (d Decision) String() string {
	if d.Allowed {
		return "allow"
	}
	return "deny(" + string(d.Reason) + ")"
}

// Request describes one hold attempt.
type Request struct {
	ScheduleID uint64
	SeatID     uint64
	SectionID  uint64
	MemberID   uint64
	Now        time.Time
}

// EntitlementLookup returns the section a member registered for, if any.
type EntitlementLookup interface {
	SectionFor(ctx context.Context, scheduleID, memberID uint64) (sectionID uint64, found bool, err error)
}

// AllocationLookup reports whether a lottery draw earmarked the seat for
// the member.
type AllocationLookup interface {
	IsAllocated(ctx context.Context, scheduleID, memberID, seatID uint64) (bool, error)
}

// TicketLookup reports whether the member holds a live ENTERABLE ticket.
type TicketLookup interface {
	HasLiveTicket(ctx context.Context, queueID, memberID uint64, now time.Time) (bool, error)
}

// Gate evaluates strategies against the lookups it was built with.
type Gate struct {
	entitlements EntitlementLookup
	allocations  AllocationLookup
	tickets      TicketLookup
}

func NewGate(e EntitlementLookup, a AllocationLookup, t TicketLookup) *Gate {
	return &Gate{entitlements: e, allocations: a, tickets: t}
}

// Evaluate admits or denies req under s. A lookup failure is returned as
// an error and must be treated as "not admitted"; it is never a denial
// reason, so callers can tell an outage from a refusal.
func (g *Gate) Evaluate(ctx context.Context, s Strategy, req Request) (Decision, error) {
	switch s.Kind {
	case FirstCome:
		if !s.Window.Contains(req.Now) {
			return deny(ReasonWindowClosed), nil
		}
		return allow(), nil

	case SectionPreregistration:
		section, found, err := g.entitlements.SectionFor(ctx, req.ScheduleID, req.MemberID)
		if err != nil {
			return Decision{}, fmt.Errorf("entitlement lookup: %w", err)
		}
		if !found || section != req.SectionID {
			return deny(ReasonNotEntitled), nil
		}
		if !s.Window.Contains(req.Now) {
			return deny(ReasonEntitledWindowClosed), nil
		}
		slot, ok := s.Slots[req.SectionID]
		if !ok || !slot.Contains(req.Now) {
			return deny(ReasonOutsideSectionSlot), nil
		}
		return allow(), nil

	case Lottery:
		if !s.Window.OpenAt.IsZero() && !s.Window.Contains(req.Now) {
			return deny(ReasonWindowClosed), nil
		}
		ok, err := g.allocations.IsAllocated(ctx, req.ScheduleID, req.MemberID, req.SeatID)
		if err != nil {
			return Decision{}, fmt.Errorf("allocation lookup: %w", err)
		}
		if !ok {
			return deny(ReasonNotAllocated), nil
		}
		return allow(), nil

	case QueueOrdered:
		if !s.Window.Contains(req.Now) {
			return deny(ReasonWindowClosed), nil
		}
		ok, err := g.tickets.HasLiveTicket(ctx, s.QueueID, req.MemberID, req.Now)
		if err != nil {
			return Decision{}, fmt.Errorf("queue ticket lookup: %w", err)
		}
		if !ok {
			return deny(ReasonNoQueueTicket), nil
		}
		return allow(), nil

	default:
		return deny(ReasonUnknownStrategy), nil
	}
}
