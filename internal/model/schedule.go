package model

import "time"

// Booking types a schedule can be sold under.
const (
	BookingFirstCome              = "FIRST_COME"
	BookingSectionPreregistration = "SECTION_PREREGISTRATION"
	BookingLottery                = "LOTTERY"
	BookingQueueOrdered           = "QUEUE_ORDERED"
)

// RecordKindFor returns the table bookings of the given type are kept in.
func RecordKindFor(bookingType string) RecordKind {
	switch bookingType {
	case BookingSectionPreregistration, BookingLottery:
		return KindStrategyBooking
	default:
		return KindReservation
	}
}

// Schedule is the sale configuration of one performance.  The catalog
// owns the performance itself; this row only carries what admission needs.
//
// Fields:
//
//	ID                 – schedule id shared with the catalog.
//	BookingType        – one of the Booking* constants.
//	BookingOpenAt      – start of the general booking window (inclusive).
//	BookingCloseAt     – end of the general booking window (exclusive).
//	PreregisterOpenAt  – start of the entitlement registration window.
//	PreregisterCloseAt – end of the entitlement registration window.
//	QueueID            – waiting room gating QUEUE_ORDERED sales.
type Schedule struct {
	ID                 uint64     // schedules.id
	BookingType        string     // schedules.booking_type
	BookingOpenAt      time.Time  // schedules.booking_open_at
	BookingCloseAt     time.Time  // schedules.booking_close_at
	PreregisterOpenAt  *time.Time // schedules.preregister_open_at (nullable)
	PreregisterCloseAt *time.Time // schedules.preregister_close_at (nullable)
	QueueID            *uint64    // schedules.queue_id (nullable)
	Slots              []SectionSlot
}

// SectionSlot is the booking slot of one section during a
// section-preregistration sale.
type SectionSlot struct {
	ScheduleID uint64    // section_slots.schedule_id
	SectionID  uint64    // section_slots.section_id
	OpensAt    time.Time // section_slots.opens_at
	ClosesAt   time.Time // section_slots.closes_at
}
