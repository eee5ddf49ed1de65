// Package events defines the domain events of the admission engine and
// fans them out to observers: the log, Prometheus counters and, when a
// broker is configured, a RabbitMQ topic exchange.
//
// Events are emitted after a state change has been made durable. An
// observer failure is logged and swallowed; it never fails or rolls back
// the transition that produced the event.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type names an event. It is also the AMQP routing key.
type Type string

const (
	SeatHeld             Type = "seat.held"
	SeatReleased         Type = "seat.released"
	SeatSold             Type = "seat.sold"
	QueueEntered         Type = "queue.entered"
	QueuePromoted        Type = "queue.promoted"
	QueueExited          Type = "queue.exited"
	ReservationCreated   Type = "reservation.created"
	ReservationCompleted Type = "reservation.completed"
	ReservationCanceled  Type = "reservation.canceled"
	ReservationFailed    Type = "reservation.failed"
	ReservationExpired   Type = "reservation.expired"
	PaymentRequested     Type = "payment.requested"
)

// Event is the payload published for every state change. Fields that do
// not apply to a type are left zero and omitted from the JSON body.
type Event struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	OccurredAt    time.Time `json:"occurred_at"`
	ScheduleID    uint64    `json:"schedule_id,omitempty"`
	SeatID        uint64    `json:"seat_id,omitempty"`
	MemberID      uint64    `json:"member_id,omitempty"`
	ReservationID uint64    `json:"reservation_id,omitempty"`
	RecordKind    string    `json:"record_kind,omitempty"`
	QueueID       uint64    `json:"queue_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	AmountCents   uint32    `json:"amount_cents,omitempty"`
	Reference     string    `json:"reference,omitempty"`
}

// New returns an event of type t stamped with a fresh id and at.
func New(t Type, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: at.UTC()}
}

// PaymentResult is the message consumed from the payment collaborator.
// Reference is the value carried by the payment.requested event.
type PaymentResult struct {
	Reference  string `json:"reference" validate:"required"`
	Succeeded  bool   `json:"succeeded"`
	PaymentRef string `json:"payment_ref"`
	Reason     string `json:"reason"`
}
