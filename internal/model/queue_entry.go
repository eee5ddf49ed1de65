package model

import "time"

// QueueStatus is the state of a member's waiting-room entry.
type QueueStatus string

const (
	QueueWaiting   QueueStatus = "WAITING"
	QueueEnterable QueueStatus = "ENTERABLE"
	QueueCompleted QueueStatus = "COMPLETED"
	QueueExpired   QueueStatus = "EXPIRED"
	QueueCanceled  QueueStatus = "CANCELED"
)

// Terminal reports whether the entry has left the queue.
func (s QueueStatus) Terminal() bool {
	return s == QueueCompleted || s == QueueExpired || s == QueueCanceled
}

// WaitingQueue is the configuration of one waiting room.
//
// Fields:
//
//	ID             – queue id.
//	ScheduleID     – schedule gated by the queue.
//	MaxActiveUsers – cap on simultaneously ENTERABLE entries.
//	TicketTTL      – how long an ENTERABLE ticket stays valid.
//	Active         – inactive queues are skipped by the sweeps.
type WaitingQueue struct {
	ID             uint64        // waiting_queues.id
	ScheduleID     uint64        // waiting_queues.schedule_id
	MaxActiveUsers int64         // waiting_queues.max_active_users
	TicketTTL      time.Duration // waiting_queues.ticket_ttl_seconds
	Active         bool          // waiting_queues.is_active
}

// QueueEntry is the durable record of a member's place in a waiting room.
// (QueueID, MemberID) is unique.
type QueueEntry struct {
	ID              uint64      // queue_entries.id
	QueueID         uint64      // queue_entries.queue_id
	MemberID        uint64      // queue_entries.member_id
	Status          QueueStatus // queue_entries.status
	Seq             int64       // queue_entries.enqueue_seq
	EnqueuedAt      time.Time   // queue_entries.enqueued_at
	PromotedAt      *time.Time  // queue_entries.promoted_at (nullable)
	TicketExpiresAt *time.Time  // queue_entries.ticket_expires_at (nullable)
	ExitedAt        *time.Time  // queue_entries.exited_at (nullable)
}
