package service

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/seat-admission/internal/apperror"
	"github.com/iliyamo/seat-admission/internal/model"
	"github.com/iliyamo/seat-admission/internal/repository"
	"github.com/iliyamo/seat-admission/internal/strategy"
)

// SeatMaterializer creates the seat inventory of a schedule.
type SeatMaterializer interface {
	CreateBulk(ctx context.Context, scheduleID uint64, seats []repository.SeatPrice) error
}

// InventoryService puts a schedule's seats on sale.
type InventoryService struct {
	schedules ScheduleReader
	seats     SeatMaterializer
}

func NewInventoryService(schedules ScheduleReader, seats SeatMaterializer) *InventoryService {
	return &InventoryService{schedules: schedules, seats: seats}
}

// Materialize creates one AVAILABLE row per seat. It is all or nothing:
// if any seat is already on sale for the schedule, nothing is created.
func (s *InventoryService) Materialize(ctx context.Context, scheduleID uint64, seats []repository.SeatPrice) error {
	if len(seats) == 0 {
		return apperror.Validation("at least one seat is required")
	}
	seen := make(map[uint64]struct{}, len(seats))
	for _, sp := range seats {
		if sp.SeatID == 0 {
			return apperror.Validation("seat id must be positive")
		}
		if _, dup := seen[sp.SeatID]; dup {
			return apperror.Validation("seat ids must be unique")
		}
		seen[sp.SeatID] = struct{}{}
	}
	if _, err := s.schedules.GetByID(ctx, scheduleID); err != nil {
		return storeError(err, "schedule")
	}
	if err := s.seats.CreateBulk(ctx, scheduleID, seats); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return apperror.Contention(apperror.CodeInventoryExists, "seats already on sale for this schedule")
		}
		return storeError(err, "schedule seats")
	}
	return nil
}

// EntitlementStore persists section entitlements.
type EntitlementStore interface {
	Create(ctx context.Context, e *model.SectionEntitlement) error
}

// EntitlementService registers members for a section before a
// section-preregistration sale opens.
type EntitlementService struct {
	schedules ScheduleReader
	store     EntitlementStore
	now       func() time.Time
}

func NewEntitlementService(schedules ScheduleReader, store EntitlementStore) *EntitlementService {
	return &EntitlementService{schedules: schedules, store: store, now: time.Now}
}

// Grant registers memberID for sectionID. Registration is only accepted
// inside the schedule's pre-registration window, for a section that has a
// booking slot, and once per member and schedule.
func (s *EntitlementService) Grant(ctx context.Context, scheduleID, memberID, sectionID uint64) (*model.SectionEntitlement, error) {
	if memberID == 0 || sectionID == 0 {
		return nil, apperror.Validation("member and section are required")
	}
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, storeError(err, "schedule")
	}
	if sched.BookingType != model.BookingSectionPreregistration {
		return nil, apperror.Validation("schedule does not take pre-registrations")
	}
	now := s.now()
	if sched.PreregisterOpenAt == nil || sched.PreregisterCloseAt == nil {
		return nil, apperror.Policy(string(strategy.ReasonWindowClosed), "pre-registration is not open")
	}
	w := strategy.Window{OpenAt: *sched.PreregisterOpenAt, CloseAt: *sched.PreregisterCloseAt}
	if !w.Contains(now) {
		return nil, apperror.Policy(string(strategy.ReasonWindowClosed), "pre-registration is not open")
	}
	hasSlot := false
	for _, sl := range sched.Slots {
		if sl.SectionID == sectionID {
			hasSlot = true
			break
		}
	}
	if !hasSlot {
		return nil, apperror.Validation("section has no booking slot")
	}

	e := &model.SectionEntitlement{ScheduleID: scheduleID, MemberID: memberID, SectionID: sectionID, CreatedAt: now.UTC()}
	if err := s.store.Create(ctx, e); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperror.Contention(apperror.CodeDuplicateEntitlement, "member is already registered for this schedule")
		}
		return nil, storeError(err, "entitlement")
	}
	return e, nil
}

// AllocationStore persists lottery allocations.
type AllocationStore interface {
	ImportBulk(ctx context.Context, allocations []model.LotteryAllocation) error
}

// LotteryService imports the outcome of a lottery draw. The draw itself
// runs elsewhere; its output is taken as-is.
type LotteryService struct {
	schedules ScheduleReader
	store     AllocationStore
}

func NewLotteryService(schedules ScheduleReader, store AllocationStore) *LotteryService {
	return &LotteryService{schedules: schedules, store: store}
}

// ImportAllocations earmarks seats for members of a lottery schedule.
func (s *LotteryService) ImportAllocations(ctx context.Context, scheduleID uint64, allocations []model.LotteryAllocation) error {
	if len(allocations) == 0 {
		return apperror.Validation("at least one allocation is required")
	}
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return storeError(err, "schedule")
	}
	if sched.BookingType != model.BookingLottery {
		return apperror.Validation("schedule is not sold by lottery")
	}
	for i := range allocations {
		if allocations[i].MemberID == 0 || allocations[i].SeatID == 0 {
			return apperror.Validation("member and seat are required for every allocation")
		}
		allocations[i].ScheduleID = scheduleID
	}
	if err := s.store.ImportBulk(ctx, allocations); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return apperror.Contention(apperror.CodeAlreadyAllocated, "a seat is already allocated")
		}
		return storeError(err, "lottery allocations")
	}
	return nil
}
