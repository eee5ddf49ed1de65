package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/seat-admission/internal/database"
	"github.com/iliyamo/seat-admission/internal/model"
)

// LotteryRepo stores the seat allocations produced by an external draw.
// (schedule_id, seat_id) is unique: a seat is earmarked for one member.
type LotteryRepo struct {
	db *sql.DB
}

func NewLotteryRepo(db *sql.DB) *LotteryRepo {
	return &LotteryRepo{db: db}
}

// ImportBulk inserts allocations in one statement.  ErrDuplicate means a
// seat was already earmarked; nothing is inserted in that case.
func (r *LotteryRepo) ImportBulk(ctx context.Context, allocations []model.LotteryAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	query := `INSERT INTO lottery_allocations (schedule_id, member_id, seat_id) VALUES `
	args := make([]interface{}, 0, len(allocations)*3)
	for i, a := range allocations {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?)"
		args = append(args, a.ScheduleID, a.MemberID, a.SeatID)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if database.IsDuplicate(err) {
			return fmt.Errorf("import allocations: %w", ErrDuplicate)
		}
		return err
	}
	return nil
}

// IsAllocated reports whether the seat is earmarked for the member.
func (r *LotteryRepo) IsAllocated(ctx context.Context, scheduleID, memberID, seatID uint64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lottery_allocations WHERE schedule_id = ? AND member_id = ? AND seat_id = ?`,
		scheduleID, memberID, seatID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
