package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-admission/internal/apperror"
	"github.com/iliyamo/seat-admission/internal/model"
	"github.com/iliyamo/seat-admission/internal/service"
)

// Booking is the subset of service.BookingService the member endpoints use.
type Booking interface {
	Hold(ctx context.Context, req service.HoldRequest) (*service.HoldResult, error)
	Get(ctx context.Context, ref service.Ref, memberID uint64) (*model.Reservation, error)
	Cancel(ctx context.Context, ref service.Ref, memberID uint64) (*model.Reservation, error)
	SeatStatus(ctx context.Context, scheduleID, seatID uint64) (*service.SeatView, error)
	SeatMap(ctx context.Context, scheduleID uint64) ([]model.ScheduleSeat, error)
	List(ctx context.Context, memberID uint64, limit int) ([]model.Reservation, error)
}

// BookingHandler serves seat holds, seat status and the member's own
// bookings.  Routes assume JWTAuth ran before them.
type BookingHandler struct {
	svc Booking
}

func NewBookingHandler(svc Booking) *BookingHandler {
	if svc == nil {
		panic("nil booking service passed to NewBookingHandler")
	}
	return &BookingHandler{svc: svc}
}

type reservationResponse struct {
	Reference   string     `json:"reference"`
	Kind        string     `json:"kind"`
	ID          uint64     `json:"id"`
	ScheduleID  uint64     `json:"schedule_id"`
	SeatID      uint64     `json:"seat_id"`
	BookingType string     `json:"booking_type"`
	Status      string     `json:"status"`
	AmountCents uint32     `json:"amount_cents"`
	PaymentRef  *string    `json:"payment_ref,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toReservationResponse(r *model.Reservation) reservationResponse {
	return reservationResponse{
		Reference:   service.RefOf(r).String(),
		Kind:        string(r.Kind),
		ID:          r.ID,
		ScheduleID:  r.ScheduleID,
		SeatID:      r.SeatID,
		BookingType: r.BookingType,
		Status:      string(r.Status),
		AmountCents: r.AmountCents,
		PaymentRef:  r.PaymentRef,
		ExpiresAt:   r.ExpiresAt,
		CompletedAt: r.CompletedAt,
		CreatedAt:   r.CreatedAt,
	}
}

// Hold handles POST /v1/schedules/:id/seats/:seatId/hold.  The response
// carries the payment reference the client hands to the payment step.
func (h *BookingHandler) Hold(c echo.Context) error {
	member, err := memberID(c)
	if err != nil {
		return respondError(c, err)
	}
	scheduleID, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	seatID, err := pathID(c, "seatId")
	if err != nil {
		return respondError(c, err)
	}
	res, err := h.svc.Hold(c.Request().Context(), service.HoldRequest{
		ScheduleID: scheduleID,
		SeatID:     seatID,
		MemberID:   member,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"reservation":       toReservationResponse(res.Reservation),
		"payment_reference": res.PaymentReference,
	})
}

type seatResponse struct {
	ScheduleID    uint64     `json:"schedule_id"`
	SeatID        uint64     `json:"seat_id"`
	Status        string     `json:"status"`
	PriceCents    uint32     `json:"price_cents"`
	Held          bool       `json:"held"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
}

// Seat handles GET /v1/schedules/:id/seats/:seatId.  The holder is not
// disclosed, which keeps the response cacheable across members.
func (h *BookingHandler) Seat(c echo.Context) error {
	scheduleID, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	seatID, err := pathID(c, "seatId")
	if err != nil {
		return respondError(c, err)
	}
	v, err := h.svc.SeatStatus(c.Request().Context(), scheduleID, seatID)
	if err != nil {
		return respondError(c, err)
	}
	out := seatResponse{
		ScheduleID: v.Seat.ScheduleID,
		SeatID:     v.Seat.SeatID,
		Status:     string(v.Seat.Status),
		PriceCents: v.Seat.PriceCents,
		Held:       v.Held,
	}
	if v.Held {
		exp := v.HoldExpiresAt
		out.HoldExpiresAt = &exp
	}
	return c.JSON(http.StatusOK, out)
}

type seatMapEntry struct {
	SeatID     uint64 `json:"seat_id"`
	Status     string `json:"status"`
	PriceCents uint32 `json:"price_cents"`
}

// SeatMap handles GET /v1/schedules/:id/seats.  It reports the durable
// status only; a seat under a live hold reads as HOLD.
func (h *BookingHandler) SeatMap(c echo.Context) error {
	scheduleID, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	seats, err := h.svc.SeatMap(c.Request().Context(), scheduleID)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]seatMapEntry, 0, len(seats))
	for _, s := range seats {
		out = append(out, seatMapEntry{SeatID: s.SeatID, Status: string(s.Status), PriceCents: s.PriceCents})
	}
	return c.JSON(http.StatusOK, echo.Map{"schedule_id": scheduleID, "seats": out})
}

// ListReservations handles GET /v1/reservations?limit=N.
func (h *BookingHandler) ListReservations(c echo.Context) error {
	member, err := memberID(c)
	if err != nil {
		return respondError(c, err)
	}
	limit := 0
	if q := c.QueryParam("limit"); q != "" {
		if limit, err = strconv.Atoi(q); err != nil || limit < 1 {
			return respondError(c, apperror.Validation("limit must be a positive integer"))
		}
	}
	list, err := h.svc.List(c.Request().Context(), member, limit)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]reservationResponse, 0, len(list))
	for i := range list {
		out = append(out, toReservationResponse(&list[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": out})
}

func refParam(c echo.Context) (service.Ref, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	kind := model.RecordKind(c.Param("kind"))
	if err != nil || id == 0 || !kind.Valid() {
		return service.Ref{}, apperror.Validation("invalid reservation reference")
	}
	return service.Ref{Kind: kind, ID: id}, nil
}

// GetReservation handles GET /v1/reservations/:kind/:id.
func (h *BookingHandler) GetReservation(c echo.Context) error {
	member, err := memberID(c)
	if err != nil {
		return respondError(c, err)
	}
	ref, err := refParam(c)
	if err != nil {
		return respondError(c, err)
	}
	res, err := h.svc.Get(c.Request().Context(), ref, member)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toReservationResponse(res))
}

// CancelReservation handles DELETE /v1/reservations/:kind/:id.  Cancelling
// an already canceled booking returns it unchanged.
func (h *BookingHandler) CancelReservation(c echo.Context) error {
	member, err := memberID(c)
	if err != nil {
		return respondError(c, err)
	}
	ref, err := refParam(c)
	if err != nil {
		return respondError(c, err)
	}
	res, err := h.svc.Cancel(c.Request().Context(), ref, member)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toReservationResponse(res))
}
