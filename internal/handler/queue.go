package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-admission/internal/model"
	"github.com/iliyamo/seat-admission/internal/waitroom"
)

// Queue is the member-facing waiting room.
type Queue interface {
	Enter(ctx context.Context, queueID, memberID uint64) (waitroom.Position, error)
	Position(ctx context.Context, queueID, memberID uint64) (waitroom.Position, error)
	Leave(ctx context.Context, queueID, memberID uint64) error
}

type QueueHandler struct {
	svc Queue
}

func NewQueueHandler(svc Queue) *QueueHandler {
	if svc == nil {
		panic("nil queue service passed to NewQueueHandler")
	}
	return &QueueHandler{svc: svc}
}

type positionResponse struct {
	QueueID         uint64     `json:"queue_id"`
	Status          string     `json:"status"`
	Ahead           int64      `json:"ahead"`
	TicketExpiresAt *time.Time `json:"ticket_expires_at,omitempty"`
}

func toPositionResponse(queueID uint64, p waitroom.Position) positionResponse {
	out := positionResponse{QueueID: queueID, Status: string(p.Status), Ahead: p.Ahead}
	if p.Status == model.QueueEnterable && !p.TicketExpiresAt.IsZero() {
		exp := p.TicketExpiresAt
		out.TicketExpiresAt = &exp
	}
	return out
}

// Enter handles POST /v1/queues/:id/entries.  Entering twice reports the
// existing position.
func (h *QueueHandler) Enter(c echo.Context) error {
	member, err := memberID(c)
	if err != nil {
		return respondError(c, err)
	}
	queueID, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	pos, err := h.svc.Enter(c.Request().Context(), queueID, member)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toPositionResponse(queueID, pos))
}

// Position handles GET /v1/queues/:id/entries/me.
func (h *QueueHandler) Position(c echo.Context) error {
	member, err := memberID(c)
	if err != nil {
		return respondError(c, err)
	}
	queueID, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	pos, err := h.svc.Position(c.Request().Context(), queueID, member)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toPositionResponse(queueID, pos))
}

// Leave handles DELETE /v1/queues/:id/entries/me.
func (h *QueueHandler) Leave(c echo.Context) error {
	member, err := memberID(c)
	if err != nil {
		return respondError(c, err)
	}
	queueID, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.svc.Leave(c.Request().Context(), queueID, member); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
