package model

import "time"

// SeatStatus is the durable availability of one seat for one schedule.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatHold      SeatStatus = "HOLD"
	SeatSold      SeatStatus = "SOLD"
)

// ScheduleSeat is the durable record of one seat for one schedule.  There
// is exactly one row per (schedule, seat); rows are created when the
// schedule's seat map is materialised and are never deleted.  The row is
// the arbiter of availability: the hold lock only decides who may try to
// change it.
//
// Fields:
//
//	ScheduleID – schedule (performance) the seat is sold for.
//	SeatID     – catalog seat.
//	Status     – AVAILABLE, HOLD or SOLD.
//	PriceCents – price charged for this seat.
//	UpdatedAt  – last status change.
type ScheduleSeat struct {
	ScheduleID uint64     // schedule_seats.schedule_id
	SeatID     uint64     // schedule_seats.seat_id
	Status     SeatStatus // schedule_seats.status
	PriceCents uint32     // schedule_seats.price_cents
	CreatedAt  time.Time  // schedule_seats.created_at
	UpdatedAt  time.Time  // schedule_seats.updated_at
}
