package repository // repository for schedule seat persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/seat-admission/internal/database"
	"github.com/iliyamo/seat-admission/internal/model"
)

// ScheduleSeatRepo encapsulates database operations for schedule_seats,
// the durable seat inventory.  Every status change is a conditional
// UPDATE on the expected prior status, so the row itself arbitrates
// between concurrent writers.
type ScheduleSeatRepo struct {
	db *sql.DB
}

// NewScheduleSeatRepo constructs a ScheduleSeatRepo given a DB handle.
func NewScheduleSeatRepo(db *sql.DB) *ScheduleSeatRepo {
	return &ScheduleSeatRepo{db: db}
}

// SeatPrice pairs a seat with its price when materialising a schedule.
type SeatPrice struct {
	SeatID     uint64
	PriceCents uint32
}

// CreateBulk inserts AVAILABLE rows for the given seats in one statement.
// It returns ErrDuplicate when any seat already has a row for the
// schedule; in that case nothing is inserted.
func (r *ScheduleSeatRepo) CreateBulk(ctx context.Context, scheduleID uint64, seats []SeatPrice) error {
	if len(seats) == 0 {
		return nil
	}
	query := `INSERT INTO schedule_seats (schedule_id, seat_id, status, price_cents) VALUES `
	args := make([]interface{}, 0, len(seats)*4)
	for i, s := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, scheduleID, s.SeatID, string(model.SeatAvailable), s.PriceCents)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if database.IsDuplicate(err) {
			return fmt.Errorf("materialise schedule %d: %w", scheduleID, ErrDuplicate)
		}
		return err
	}
	return nil
}

// Get returns the seat row.
func (r *ScheduleSeatRepo) Get(ctx context.Context, scheduleID, seatID uint64) (*model.ScheduleSeat, error) {
	const q = `SELECT schedule_id, seat_id, status, price_cents, created_at, updated_at
	           FROM schedule_seats WHERE schedule_id = ? AND seat_id = ?`
	var s model.ScheduleSeat
	err := r.db.QueryRowContext(ctx, q, scheduleID, seatID).
		Scan(&s.ScheduleID, &s.SeatID, &s.Status, &s.PriceCents, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListBySchedule returns every seat row of a schedule ordered by seat id.
func (r *ScheduleSeatRepo) ListBySchedule(ctx context.Context, scheduleID uint64) ([]model.ScheduleSeat, error) {
	const q = `SELECT schedule_id, seat_id, status, price_cents, created_at, updated_at
	           FROM schedule_seats WHERE schedule_id = ? ORDER BY seat_id`
	rows, err := r.db.QueryContext(ctx, q, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ScheduleSeat
	for rows.Next() {
		var s model.ScheduleSeat
		if err := rows.Scan(&s.ScheduleID, &s.SeatID, &s.Status, &s.PriceCents, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SectionOf returns the catalog section of a seat that is on sale for the
// schedule.
func (r *ScheduleSeatRepo) SectionOf(ctx context.Context, scheduleID, seatID uint64) (uint64, error) {
	const q = `SELECT s.section_id
	           FROM schedule_seats ss JOIN seats s ON s.id = ss.seat_id
	           WHERE ss.schedule_id = ? AND ss.seat_id = ?`
	var section uint64
	err := r.db.QueryRowContext(ctx, q, scheduleID, seatID).Scan(&section)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return section, err
}

// MarkHoldTx moves the seat from AVAILABLE to HOLD.  It returns
// ErrConflict when the seat is in any other state and ErrNotFound when the
// seat is not on sale for the schedule.
func (r *ScheduleSeatRepo) MarkHoldTx(ctx context.Context, tx *sql.Tx, scheduleID, seatID uint64) error {
	return r.transitionTx(ctx, tx, scheduleID, seatID, model.SeatAvailable, model.SeatHold)
}

// MarkSoldTx moves the seat from HOLD to SOLD.  The row is read with
// SELECT ... FOR UPDATE first so that a concurrent release of the same
// seat waits for this transaction and then observes SOLD.
func (r *ScheduleSeatRepo) MarkSoldTx(ctx context.Context, tx *sql.Tx, scheduleID, seatID uint64) error {
	var status model.SeatStatus
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM schedule_seats WHERE schedule_id = ? AND seat_id = ? FOR UPDATE`,
		scheduleID, seatID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != model.SeatHold {
		return ErrConflict
	}
	return r.transitionTx(ctx, tx, scheduleID, seatID, model.SeatHold, model.SeatSold)
}

// ReleaseIfUnclaimed moves a HOLD seat back to AVAILABLE only when no
// PENDING reservation or strategy booking still references it.  This is
// the release used after a reservation reached a terminal state; the
// guard keeps it from freeing a seat some other live booking owns.
// It returns ErrConflict when the seat is not HOLD or is still claimed.
func (r *ScheduleSeatRepo) ReleaseIfUnclaimed(ctx context.Context, scheduleID, seatID uint64) error {
	const q = `UPDATE schedule_seats ss
	           SET ss.status = 'AVAILABLE', ss.updated_at = UTC_TIMESTAMP()
	           WHERE ss.schedule_id = ? AND ss.seat_id = ? AND ss.status = 'HOLD'
	             AND NOT EXISTS (SELECT 1 FROM reservations r
	                             WHERE r.schedule_id = ss.schedule_id AND r.seat_id = ss.seat_id
	                               AND r.status = 'PENDING')
	             AND NOT EXISTS (SELECT 1 FROM strategy_bookings b
	                             WHERE b.schedule_id = ss.schedule_id AND b.seat_id = ss.seat_id
	                               AND b.status = 'PENDING')`
	res, err := r.db.ExecContext(ctx, q, scheduleID, seatID)
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

func (r *ScheduleSeatRepo) transitionTx(ctx context.Context, tx *sql.Tx, scheduleID, seatID uint64, from, to model.SeatStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE schedule_seats SET status = ?, updated_at = UTC_TIMESTAMP()
		 WHERE schedule_id = ? AND seat_id = ? AND status = ?`,
		string(to), scheduleID, seatID, string(from),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM schedule_seats WHERE schedule_id = ? AND seat_id = ?`, scheduleID, seatID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}
