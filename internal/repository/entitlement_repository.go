package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/seat-admission/internal/database"
	"github.com/iliyamo/seat-admission/internal/model"
)

// EntitlementRepo stores section entitlements granted during a
// pre-registration window.  (schedule_id, member_id) is unique.
type EntitlementRepo struct {
	db *sql.DB
}

func NewEntitlementRepo(db *sql.DB) *EntitlementRepo {
	return &EntitlementRepo{db: db}
}

// Create inserts the entitlement.  ErrDuplicate means the member already
// registered for a section of this schedule.
func (r *EntitlementRepo) Create(ctx context.Context, e *model.SectionEntitlement) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO section_entitlements (schedule_id, member_id, section_id, created_at) VALUES (?, ?, ?, ?)`,
		e.ScheduleID, e.MemberID, e.SectionID, e.CreatedAt.UTC())
	if database.IsDuplicate(err) {
		return fmt.Errorf("entitlement %d/%d: %w", e.ScheduleID, e.MemberID, ErrDuplicate)
	}
	return err
}

// SectionFor returns the section the member is entitled to.
func (r *EntitlementRepo) SectionFor(ctx context.Context, scheduleID, memberID uint64) (uint64, bool, error) {
	var section uint64
	err := r.db.QueryRowContext(ctx,
		`SELECT section_id FROM section_entitlements WHERE schedule_id = ? AND member_id = ?`,
		scheduleID, memberID).Scan(&section)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return section, true, nil
}
