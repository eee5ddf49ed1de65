package model

import "time"

// SectionEntitlement grants a member the right to book within one section
// of one schedule.  A member holds at most one entitlement per schedule.
type SectionEntitlement struct {
	ScheduleID uint64    // section_entitlements.schedule_id
	MemberID   uint64    // section_entitlements.member_id
	SectionID  uint64    // section_entitlements.section_id
	CreatedAt  time.Time // section_entitlements.created_at
}

// LotteryAllocation earmarks a seat for a member.  Allocations are the
// output of an external draw and are imported as-is.
type LotteryAllocation struct {
	ScheduleID uint64 // lottery_allocations.schedule_id
	MemberID   uint64 // lottery_allocations.member_id
	SeatID     uint64 // lottery_allocations.seat_id
}
