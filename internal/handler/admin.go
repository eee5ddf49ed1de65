package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-admission/internal/events"
	"github.com/iliyamo/seat-admission/internal/model"
	"github.com/iliyamo/seat-admission/internal/repository"
)

type Inventory interface {
	Materialize(ctx context.Context, scheduleID uint64, seats []repository.SeatPrice) error
}

type Lottery interface {
	ImportAllocations(ctx context.Context, scheduleID uint64, allocations []model.LotteryAllocation) error
}

type Entitlements interface {
	Grant(ctx context.Context, scheduleID, memberID, sectionID uint64) (*model.SectionEntitlement, error)
}

// PaymentResults applies provider outcomes delivered over HTTP instead
// of the broker.
type PaymentResults interface {
	ApplyPaymentResult(ctx context.Context, r events.PaymentResult) error
}

// AdminHandler serves the operator endpoints.  RequireRole("OPERATOR")
// guards the whole group.
type AdminHandler struct {
	inventory Inventory
	lottery   Lottery
	payments  PaymentResults
}

func NewAdminHandler(inventory Inventory, lottery Lottery, payments PaymentResults) *AdminHandler {
	if inventory == nil || lottery == nil || payments == nil {
		panic("nil service passed to NewAdminHandler")
	}
	return &AdminHandler{inventory: inventory, lottery: lottery, payments: payments}
}

type materializeRequest struct {
	Seats []struct {
		SeatID     uint64 `json:"seat_id" validate:"required"`
		PriceCents uint32 `json:"price_cents"`
	} `json:"seats" validate:"required,min=1,dive"`
}

// MaterializeSeats handles POST /v1/admin/schedules/:id/seats.
func (h *AdminHandler) MaterializeSeats(c echo.Context) error {
	scheduleID, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req materializeRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	seats := make([]repository.SeatPrice, 0, len(req.Seats))
	for _, s := range req.Seats {
		seats = append(seats, repository.SeatPrice{SeatID: s.SeatID, PriceCents: s.PriceCents})
	}
	if err := h.inventory.Materialize(c.Request().Context(), scheduleID, seats); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"schedule_id": scheduleID, "seats": len(seats)})
}

type allocationsRequest struct {
	Allocations []struct {
		MemberID uint64 `json:"member_id" validate:"required"`
		SeatID   uint64 `json:"seat_id" validate:"required"`
	} `json:"allocations" validate:"required,min=1,dive"`
}

// ImportAllocations handles POST /v1/admin/schedules/:id/lottery-allocations.
func (h *AdminHandler) ImportAllocations(c echo.Context) error {
	scheduleID, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req allocationsRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	allocs := make([]model.LotteryAllocation, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		allocs = append(allocs, model.LotteryAllocation{MemberID: a.MemberID, SeatID: a.SeatID})
	}
	if err := h.lottery.ImportAllocations(c.Request().Context(), scheduleID, allocs); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"schedule_id": scheduleID, "allocations": len(allocs)})
}

type paymentResultRequest struct {
	Reference  string `json:"reference" validate:"required"`
	Succeeded  bool   `json:"succeeded"`
	PaymentRef string `json:"payment_ref" validate:"required_if=Succeeded true"`
	Reason     string `json:"reason"`
}

// PaymentResult handles POST /v1/admin/payments/results.  Replaying a
// result already applied succeeds without side effects.
func (h *AdminHandler) PaymentResult(c echo.Context) error {
	var req paymentResultRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	err := h.payments.ApplyPaymentResult(c.Request().Context(), events.PaymentResult{
		Reference:  req.Reference,
		Succeeded:  req.Succeeded,
		PaymentRef: req.PaymentRef,
		Reason:     req.Reason,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// EntitlementHandler lets a member pre-register for a section.
type EntitlementHandler struct {
	svc Entitlements
}

func NewEntitlementHandler(svc Entitlements) *EntitlementHandler {
	if svc == nil {
		panic("nil entitlement service passed to NewEntitlementHandler")
	}
	return &EntitlementHandler{svc: svc}
}

type grantRequest struct {
	SectionID uint64 `json:"section_id" validate:"required"`
}

// Grant handles POST /v1/schedules/:id/entitlements.
func (h *EntitlementHandler) Grant(c echo.Context) error {
	member, err := memberID(c)
	if err != nil {
		return respondError(c, err)
	}
	scheduleID, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req grantRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	e, err := h.svc.Grant(c.Request().Context(), scheduleID, member, req.SectionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"schedule_id": e.ScheduleID,
		"section_id":  e.SectionID,
		"created_at":  e.CreatedAt,
	})
}
