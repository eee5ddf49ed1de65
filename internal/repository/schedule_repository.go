package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/seat-admission/internal/model"
)

// ScheduleRepo reads the sale configuration of schedules.  The catalog
// service owns these rows; admission only reads them.
type ScheduleRepo struct {
	db *sql.DB
}

// NewScheduleRepo constructs a ScheduleRepo given a DB handle.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

// GetByID returns the schedule together with its section slots.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uint64) (*model.Schedule, error) {
	const q = `SELECT id, booking_type, booking_open_at, booking_close_at,
	                  preregister_open_at, preregister_close_at, queue_id
	           FROM schedules WHERE id = ?`
	var s model.Schedule
	err := r.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.BookingType, &s.BookingOpenAt, &s.BookingCloseAt,
		&s.PreregisterOpenAt, &s.PreregisterCloseAt, &s.QueueID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.BookingType != model.BookingSectionPreregistration {
		return &s, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT schedule_id, section_id, opens_at, closes_at FROM section_slots
		 WHERE schedule_id = ? ORDER BY opens_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var sl model.SectionSlot
		if err := rows.Scan(&sl.ScheduleID, &sl.SectionID, &sl.OpensAt, &sl.ClosesAt); err != nil {
			return nil, err
		}
		s.Slots = append(s.Slots, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &s, nil
}
