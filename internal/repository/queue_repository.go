package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/seat-admission/internal/model"
)

// QueueRepo stores waiting-room configuration and the durable mirror of
// queue entries.  The live ordering and the active-set cap are enforced in
// Redis; these rows record each member's state for auditing and for
// rebuilding the live sets.
type QueueRepo struct {
	db *sql.DB
}

func NewQueueRepo(db *sql.DB) *QueueRepo {
	return &QueueRepo{db: db}
}

const queueColumns = `id, schedule_id, max_active_users, ticket_ttl_seconds, is_active`

func scanQueue(row rowScanner) (*model.WaitingQueue, error) {
	var (
		q   model.WaitingQueue
		ttl int64
	)
	if err := row.Scan(&q.ID, &q.ScheduleID, &q.MaxActiveUsers, &ttl, &q.Active); err != nil {
		return nil, err
	}
	q.TicketTTL = time.Duration(ttl) * time.Second
	return &q, nil
}

// GetQueue returns one waiting room.
func (r *QueueRepo) GetQueue(ctx context.Context, id uint64) (*model.WaitingQueue, error) {
	q, err := scanQueue(r.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM waiting_queues WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return q, err
}

// ListActiveQueues returns every waiting room the sweeps should service.
func (r *QueueRepo) ListActiveQueues(ctx context.Context) ([]model.WaitingQueue, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+queueColumns+` FROM waiting_queues WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WaitingQueue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

const entryColumns = `id, queue_id, member_id, status, enqueue_seq, enqueued_at, promoted_at, ticket_expires_at, exited_at`

// GetEntry returns a member's entry.
func (r *QueueRepo) GetEntry(ctx context.Context, queueID, memberID uint64) (*model.QueueEntry, error) {
	var e model.QueueEntry
	err := r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE queue_id = ? AND member_id = ?`, queueID, memberID,
	).Scan(&e.ID, &e.QueueID, &e.MemberID, &e.Status, &e.Seq, &e.EnqueuedAt, &e.PromotedAt, &e.TicketExpiresAt, &e.ExitedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertWaiting records the member as WAITING with the given sequence.  A
// member returning after a terminal state reuses their row.
func (r *QueueRepo) UpsertWaiting(ctx context.Context, queueID, memberID uint64, seq int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO queue_entries (queue_id, member_id, status, enqueue_seq, enqueued_at)
		 VALUES (?, ?, 'WAITING', ?, ?)
		 ON DUPLICATE KEY UPDATE status = 'WAITING', enqueue_seq = VALUES(enqueue_seq),
		   enqueued_at = VALUES(enqueued_at), promoted_at = NULL, ticket_expires_at = NULL, exited_at = NULL`,
		queueID, memberID, seq, at.UTC())
	return err
}

// MarkEnterable moves a WAITING entry to ENTERABLE.
func (r *QueueRepo) MarkEnterable(ctx context.Context, queueID, memberID uint64, at, ticketExpiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE queue_entries SET status = 'ENTERABLE', promoted_at = ?, ticket_expires_at = ?
		 WHERE queue_id = ? AND member_id = ? AND status = 'WAITING'`,
		at.UTC(), ticketExpiresAt.UTC(), queueID, memberID)
	return expectOne(res, err)
}

// MarkExited moves an entry in one of the from states to the terminal
// state to.
func (r *QueueRepo) MarkExited(ctx context.Context, queueID, memberID uint64, from []model.QueueStatus, to model.QueueStatus, at time.Time) error {
	if len(from) == 0 {
		return ErrConflict
	}
	placeholders := make([]string, len(from))
	args := make([]interface{}, 0, len(from)+4)
	args = append(args, string(to), at.UTC(), queueID, memberID)
	for i, s := range from {
		placeholders[i] = "?"
		args = append(args, string(s))
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE queue_entries SET status = ?, exited_at = ?
		 WHERE queue_id = ? AND member_id = ? AND status IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	return expectOne(res, err)
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
