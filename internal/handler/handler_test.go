package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-admission/internal/apperror"
	"github.com/iliyamo/seat-admission/internal/events"
	"github.com/iliyamo/seat-admission/internal/model"
	"github.com/iliyamo/seat-admission/internal/repository"
	"github.com/iliyamo/seat-admission/internal/service"
	"github.com/iliyamo/seat-admission/internal/waitroom"
)

type fakeBooking struct {
	hold   func(service.HoldRequest) (*service.HoldResult, error)
	get    func(service.Ref, uint64) (*model.Reservation, error)
	cancel func(service.Ref, uint64) (*model.Reservation, error)
	seat   func(scheduleID, seatID uint64) (*service.SeatView, error)
	seats  func(scheduleID uint64) ([]model.ScheduleSeat, error)
	list   func(memberID uint64, limit int) ([]model.Reservation, error)
}

func (f *fakeBooking) Hold(_ context.Context, req service.HoldRequest) (*service.HoldResult, error) {
	return f.hold(req)
}
func (f *fakeBooking) Get(_ context.Context, ref service.Ref, m uint64) (*model.Reservation, error) {
	return f.get(ref, m)
}
func (f *fakeBooking) Cancel(_ context.Context, ref service.Ref, m uint64) (*model.Reservation, error) {
	return f.cancel(ref, m)
}
func (f *fakeBooking) SeatStatus(_ context.Context, scheduleID, seatID uint64) (*service.SeatView, error) {
	return f.seat(scheduleID, seatID)
}
func (f *fakeBooking) SeatMap(_ context.Context, scheduleID uint64) ([]model.ScheduleSeat, error) {
	return f.seats(scheduleID)
}
func (f *fakeBooking) List(_ context.Context, memberID uint64, limit int) ([]model.Reservation, error) {
	return f.list(memberID, limit)
}

type fakeQueue struct {
	enter    func(q, m uint64) (waitroom.Position, error)
	position func(q, m uint64) (waitroom.Position, error)
	leave    func(q, m uint64) error
}

func (f *fakeQueue) Enter(_ context.Context, q, m uint64) (waitroom.Position, error) {
	return f.enter(q, m)
}
func (f *fakeQueue) Position(_ context.Context, q, m uint64) (waitroom.Position, error) {
	return f.position(q, m)
}
func (f *fakeQueue) Leave(_ context.Context, q, m uint64) error { return f.leave(q, m) }

type fakeAdmin struct {
	seats    []repository.SeatPrice
	allocs   []model.LotteryAllocation
	payments []events.PaymentResult
	err      error
}

func (f *fakeAdmin) Materialize(_ context.Context, _ uint64, seats []repository.SeatPrice) error {
	f.seats = seats
	return f.err
}
func (f *fakeAdmin) ImportAllocations(_ context.Context, _ uint64, a []model.LotteryAllocation) error {
	f.allocs = a
	return f.err
}
func (f *fakeAdmin) ApplyPaymentResult(_ context.Context, r events.PaymentResult) error {
	f.payments = append(f.payments, r)
	return f.err
}

func newContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = NewRequestValidator()
	e.HTTPErrorHandler = ErrorHandler
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func pendingReservation() *model.Reservation {
	return &model.Reservation{
		ID: 5, Kind: model.KindReservation, ScheduleID: 1, SeatID: 10, MemberID: 7,
		BookingType: model.BookingFirstCome, Status: model.ReservationPending,
		AmountCents: 4500, ExpiresAt: time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC),
	}
}

func TestHoldCreated(t *testing.T) {
	var got service.HoldRequest
	h := NewBookingHandler(&fakeBooking{hold: func(req service.HoldRequest) (*service.HoldResult, error) {
		got = req
		return &service.HoldResult{Reservation: pendingReservation(), PaymentReference: "reservation:5"}, nil
	}})
	c, rec := newContext(http.MethodPost, "/", "")
	c.SetParamNames("id", "seatId")
	c.SetParamValues("1", "10")
	c.Set("user_id", "7")

	if err := h.Hold(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got != (service.HoldRequest{ScheduleID: 1, SeatID: 10, MemberID: 7}) {
		t.Errorf("request = %+v", got)
	}
	body := decode(t, rec)
	if body["payment_reference"] != "reservation:5" {
		t.Errorf("payment_reference = %v", body["payment_reference"])
	}
	res := body["reservation"].(map[string]interface{})
	if res["status"] != "PENDING" || res["amount_cents"].(float64) != 4500 {
		t.Errorf("reservation = %v", res)
	}
}

func TestHoldErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"contention", apperror.Contention(apperror.CodeSeatHeld, "seat is held"), http.StatusConflict, "SEAT_HELD", true},
		{"policy", apperror.Policy("NOT_ENTITLED", "no entitlement"), http.StatusForbidden, "NOT_ENTITLED", false},
		{"infrastructure", apperror.Unavailable(errors.New("redis down")), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", true},
		{"expired", apperror.Expired(), http.StatusConflict, "RESERVATION_EXPIRED", false},
		{"foreign", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", false},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewBookingHandler(&fakeBooking{hold: func(service.HoldRequest) (*service.HoldResult, error) {
				return nil, tt.err
			}})
			c, rec := newContext(http.MethodPost, "/", "")
			c.SetParamNames("id", "seatId")
			c.SetParamValues("1", "10")
			c.Set("user_id", "7")

			if err := h.Hold(c); err != nil {
				t.Fatal(err)
			}
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			body := decode(t, rec)
			if body["error"] != tt.code {
				t.Errorf("error = %v, want %s", body["error"], tt.code)
			}
			if r, _ := body["retryable"].(bool); r != tt.retryable {
				t.Errorf("retryable = %v, want %v", r, tt.retryable)
			}
			if strings.Contains(rec.Body.String(), "redis down") || strings.Contains(rec.Body.String(), "boom") {
				t.Errorf("cause leaked: %s", rec.Body.String())
			}
		})
	}
}

func TestHoldRejectsBadInput(t *testing.T) {
	h := NewBookingHandler(&fakeBooking{hold: func(service.HoldRequest) (*service.HoldResult, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}})

	c, rec := newContext(http.MethodPost, "/", "")
	c.SetParamNames("id", "seatId")
	c.SetParamValues("1", "10")
	if err := h.Hold(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no identity: status = %d", rec.Code)
	}

	c, rec = newContext(http.MethodPost, "/", "")
	c.SetParamNames("id", "seatId")
	c.SetParamValues("1", "abc")
	c.Set("user_id", "7")
	if err := h.Hold(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != "VALIDATION_ERROR" {
		t.Errorf("bad seat: status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestSeatHidesHolder(t *testing.T) {
	exp := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	h := NewBookingHandler(&fakeBooking{seat: func(scheduleID, seatID uint64) (*service.SeatView, error) {
		return &service.SeatView{
			Seat:          &model.ScheduleSeat{ScheduleID: scheduleID, SeatID: seatID, Status: model.SeatHold, PriceCents: 4500},
			Held:          true,
			HolderID:      99,
			HoldExpiresAt: exp,
		}, nil
	}})
	c, rec := newContext(http.MethodGet, "/", "")
	c.SetParamNames("id", "seatId")
	c.SetParamValues("1", "10")

	if err := h.Seat(c); err != nil {
		t.Fatal(err)
	}
	body := decode(t, rec)
	if body["status"] != "HOLD" || body["held"] != true {
		t.Errorf("body = %v", body)
	}
	if body["hold_expires_at"] != exp.Format(time.RFC3339) {
		t.Errorf("hold_expires_at = %v", body["hold_expires_at"])
	}
	if strings.Contains(rec.Body.String(), "99") {
		t.Errorf("holder leaked: %s", rec.Body.String())
	}
}

func TestReservationRef(t *testing.T) {
	var gotRef service.Ref
	h := NewBookingHandler(&fakeBooking{
		get: func(ref service.Ref, m uint64) (*model.Reservation, error) {
			gotRef = ref
			if m != 7 {
				return nil, apperror.NotFound("reservation")
			}
			return pendingReservation(), nil
		},
	})

	c, rec := newContext(http.MethodGet, "/", "")
	c.SetParamNames("kind", "id")
	c.SetParamValues("strategy_booking", "5")
	c.Set("user_id", float64(7))
	if err := h.GetReservation(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || gotRef != (service.Ref{Kind: model.KindStrategyBooking, ID: 5}) {
		t.Errorf("status = %d ref = %+v", rec.Code, gotRef)
	}

	c, rec = newContext(http.MethodGet, "/", "")
	c.SetParamNames("kind", "id")
	c.SetParamValues("ticket", "5")
	c.Set("user_id", "7")
	if err := h.GetReservation(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind: status = %d", rec.Code)
	}
}

func TestCancelOthersBookingIsNotFound(t *testing.T) {
	h := NewBookingHandler(&fakeBooking{cancel: func(service.Ref, uint64) (*model.Reservation, error) {
		return nil, apperror.NotFound("reservation")
	}})
	c, rec := newContext(http.MethodDelete, "/", "")
	c.SetParamNames("kind", "id")
	c.SetParamValues("reservation", "5")
	c.Set("user_id", "8")

	if err := h.CancelReservation(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestSeatMap(t *testing.T) {
	h := NewBookingHandler(&fakeBooking{seats: func(scheduleID uint64) ([]model.ScheduleSeat, error) {
		if scheduleID != 1 {
			return nil, apperror.NotFound("seats")
		}
		return []model.ScheduleSeat{
			{ScheduleID: 1, SeatID: 10, Status: model.SeatHold, PriceCents: 4500},
			{ScheduleID: 1, SeatID: 11, Status: model.SeatAvailable, PriceCents: 4500},
		}, nil
	}})

	c, rec := newContext(http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("1")
	if err := h.SeatMap(c); err != nil {
		t.Fatal(err)
	}
	seats := decode(t, rec)["seats"].([]interface{})
	if len(seats) != 2 || seats[0].(map[string]interface{})["status"] != "HOLD" {
		t.Errorf("seats = %v", seats)
	}

	c, rec = newContext(http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("9")
	if err := h.SeatMap(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown schedule: status = %d", rec.Code)
	}
}

func TestListReservations(t *testing.T) {
	var gotMember uint64
	var gotLimit int
	h := NewBookingHandler(&fakeBooking{list: func(m uint64, limit int) ([]model.Reservation, error) {
		gotMember, gotLimit = m, limit
		return []model.Reservation{*pendingReservation()}, nil
	}})

	c, rec := newContext(http.MethodGet, "/?limit=5", "")
	c.Set("user_id", "7")
	if err := h.ListReservations(c); err != nil {
		t.Fatal(err)
	}
	if gotMember != 7 || gotLimit != 5 {
		t.Errorf("member %d limit %d", gotMember, gotLimit)
	}
	list := decode(t, rec)["reservations"].([]interface{})
	if len(list) != 1 || list[0].(map[string]interface{})["reference"] != "reservation:5" {
		t.Errorf("reservations = %v", list)
	}

	c, rec = newContext(http.MethodGet, "/?limit=zero", "")
	c.Set("user_id", "7")
	if err := h.ListReservations(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", rec.Code)
	}
}

func TestQueueHandlers(t *testing.T) {
	exp := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	left := false
	h := NewQueueHandler(&fakeQueue{
		enter: func(q, m uint64) (waitroom.Position, error) {
			return waitroom.Position{Status: model.QueueWaiting, Ahead: 12}, nil
		},
		position: func(q, m uint64) (waitroom.Position, error) {
			if left {
				return waitroom.Position{}, apperror.NotFound("queue entry")
			}
			return waitroom.Position{Status: model.QueueEnterable, TicketExpiresAt: exp}, nil
		},
		leave: func(q, m uint64) error {
			left = true
			return nil
		},
	})
	call := func(fn echo.HandlerFunc, method string) *httptest.ResponseRecorder {
		c, rec := newContext(method, "/", "")
		c.SetParamNames("id")
		c.SetParamValues("3")
		c.Set("user_id", "7")
		if err := fn(c); err != nil {
			t.Fatal(err)
		}
		return rec
	}

	rec := call(h.Enter, http.MethodPost)
	if body := decode(t, rec); rec.Code != http.StatusOK || body["status"] != "WAITING" || body["ahead"].(float64) != 12 {
		t.Errorf("enter: %d %v", rec.Code, body)
	}
	rec = call(h.Position, http.MethodGet)
	if body := decode(t, rec); body["status"] != "ENTERABLE" || body["ticket_expires_at"] == nil {
		t.Errorf("position: %v", body)
	}
	if rec = call(h.Leave, http.MethodDelete); rec.Code != http.StatusNoContent {
		t.Errorf("leave: %d", rec.Code)
	}
	if rec = call(h.Position, http.MethodGet); rec.Code != http.StatusNotFound {
		t.Errorf("position after leave: %d", rec.Code)
	}
}

func TestMaterializeSeats(t *testing.T) {
	f := &fakeAdmin{}
	h := NewAdminHandler(f, f, f)

	c, rec := newContext(http.MethodPost, "/", `{"seats":[]}`)
	c.SetParamNames("id")
	c.SetParamValues("1")
	if err := h.MaterializeSeats(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty seats: status = %d", rec.Code)
	}

	c, rec = newContext(http.MethodPost, "/", `{"seats":[{"seat_id":10,"price_cents":4500},{"seat_id":11,"price_cents":3000}]}`)
	c.SetParamNames("id")
	c.SetParamValues("1")
	if err := h.MaterializeSeats(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	if len(f.seats) != 2 || f.seats[0] != (repository.SeatPrice{SeatID: 10, PriceCents: 4500}) {
		t.Errorf("seats = %+v", f.seats)
	}

	f.err = apperror.Contention(apperror.CodeInventoryExists, "exists")
	c, rec = newContext(http.MethodPost, "/", `{"seats":[{"seat_id":10,"price_cents":4500}]}`)
	c.SetParamNames("id")
	c.SetParamValues("1")
	if err := h.MaterializeSeats(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d", rec.Code)
	}
}

func TestImportAllocationsValidates(t *testing.T) {
	f := &fakeAdmin{}
	h := NewAdminHandler(f, f, f)

	c, rec := newContext(http.MethodPost, "/", `{"allocations":[{"member_id":7}]}`)
	c.SetParamNames("id")
	c.SetParamValues("4")
	if err := h.ImportAllocations(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusBadRequest || f.allocs != nil {
		t.Errorf("missing seat: status = %d allocs %v", rec.Code, f.allocs)
	}

	c, rec = newContext(http.MethodPost, "/", `{"allocations":[{"member_id":7,"seat_id":10}]}`)
	c.SetParamNames("id")
	c.SetParamValues("4")
	if err := h.ImportAllocations(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated || len(f.allocs) != 1 || f.allocs[0].SeatID != 10 {
		t.Errorf("status = %d allocs %v", rec.Code, f.allocs)
	}
}

func TestPaymentResult(t *testing.T) {
	f := &fakeAdmin{}
	h := NewAdminHandler(f, f, f)

	c, rec := newContext(http.MethodPost, "/", `{"reference":"reservation:5","succeeded":true}`)
	if err := h.PaymentResult(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusBadRequest || len(f.payments) != 0 {
		t.Errorf("success without payment_ref: status = %d", rec.Code)
	}

	c, rec = newContext(http.MethodPost, "/", `{"reference":"reservation:5","succeeded":false,"reason":"card declined"}`)
	if err := h.PaymentResult(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	if f.payments[0].Reference != "reservation:5" || f.payments[0].Reason != "card declined" {
		t.Errorf("payment = %+v", f.payments[0])
	}
}

type fakeEntitlements struct{ err error }

func (f fakeEntitlements) Grant(_ context.Context, scheduleID, memberID, sectionID uint64) (*model.SectionEntitlement, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.SectionEntitlement{ScheduleID: scheduleID, MemberID: memberID, SectionID: sectionID}, nil
}

func TestGrantEntitlement(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/", `{"section_id":2}`)
	c.SetParamNames("id")
	c.SetParamValues("6")
	c.Set("user_id", "7")
	if err := NewEntitlementHandler(fakeEntitlements{}).Grant(c); err != nil {
		t.Fatal(err)
	}
	if body := decode(t, rec); rec.Code != http.StatusCreated || body["section_id"].(float64) != 2 {
		t.Errorf("status = %d body %v", rec.Code, body)
	}

	c, rec = newContext(http.MethodPost, "/", `{"section_id":2}`)
	c.SetParamNames("id")
	c.SetParamValues("6")
	c.Set("user_id", "7")
	dup := apperror.Contention(apperror.CodeDuplicateEntitlement, "already registered")
	if err := NewEntitlementHandler(fakeEntitlements{err: dup}).Grant(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusConflict || decode(t, rec)["error"] != "DUPLICATE_ENTITLEMENT" {
		t.Errorf("duplicate: status = %d", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	h := NewReadinessHandler(map[string]Check{
		"mysql": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	c, rec := newContext(http.MethodGet, "/readyz", "")
	if err := h.Ready(c); err != nil {
		t.Fatal(err)
	}
	body := decode(t, rec)
	if rec.Code != http.StatusServiceUnavailable || body["mysql"] != "ok" || body["redis"] != "connection refused" {
		t.Errorf("status = %d body %v", rec.Code, body)
	}
}
