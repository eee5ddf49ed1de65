package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/seat-admission/internal/model"
)

// ReservationRepo provides access to one booking table.  Plain
// reservations and strategy bookings share columns and lifecycle, so the
// same repository serves both; the record kind picks the table.  All
// timestamps are stored in UTC.
type ReservationRepo struct {
	db    *sql.DB
	kind  model.RecordKind
	table string
}

// NewReservationRepo returns a repository for the table holding records of
// the given kind.
func NewReservationRepo(db *sql.DB, kind model.RecordKind) *ReservationRepo {
	table := "reservations"
	if kind == model.KindStrategyBooking {
		table = "strategy_bookings"
	}
	return &ReservationRepo{db: db, kind: kind, table: table}
}

// Kind returns the record kind served by this repository.
func (r *ReservationRepo) Kind() model.RecordKind { return r.kind }

const reservationColumns = `id, schedule_id, seat_id, member_id, booking_type, status, hold_token,
	amount_cents, payment_ref, expires_at, completed_at, canceled_at, failed_at, expired_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *ReservationRepo) scan(row rowScanner) (*model.Reservation, error) {
	res := model.Reservation{Kind: r.kind}
	err := row.Scan(&res.ID, &res.ScheduleID, &res.SeatID, &res.MemberID, &res.BookingType,
		&res.Status, &res.HoldToken, &res.AmountCents, &res.PaymentRef, &res.ExpiresAt,
		&res.CompletedAt, &res.CanceledAt, &res.FailedAt, &res.ExpiredAt,
		&res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *ReservationRepo) scanAll(rows *sql.Rows) ([]model.Reservation, error) {
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		res, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// CreateTx inserts a PENDING record and sets res.ID.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	q := `INSERT INTO ` + r.table + ` (schedule_id, seat_id, member_id, booking_type, status,
	        hold_token, amount_cents, expires_at, created_at, updated_at)
	      VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q,
		res.ScheduleID, res.SeatID, res.MemberID, res.BookingType, string(model.ReservationPending),
		res.HoldToken, res.AmountCents, res.ExpiresAt.UTC(), res.CreatedAt.UTC(), res.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	res.Kind = r.kind
	res.Status = model.ReservationPending
	res.UpdatedAt = res.CreatedAt
	return nil
}

// GetByID returns the record or ErrNotFound.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM `+r.table+` WHERE id = ?`, id)
	res, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// GetForUpdateTx reads the record and locks the row until tx ends.
func (r *ReservationRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Reservation, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM `+r.table+` WHERE id = ? FOR UPDATE`, id)
	res, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// ListByMember returns a member's most recent records.
func (r *ReservationRepo) ListByMember(ctx context.Context, memberID uint64, limit int) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM `+r.table+` WHERE member_id = ? ORDER BY id DESC LIMIT ?`,
		memberID, limit)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

// statusColumn names the timestamp column set when entering a terminal
// state.
func statusColumn(s model.ReservationStatus) (string, error) {
	switch s {
	case model.ReservationCompleted:
		return "completed_at", nil
	case model.ReservationCanceled:
		return "canceled_at", nil
	case model.ReservationFailed:
		return "failed_at", nil
	case model.ReservationExpired:
		return "expired_at", nil
	default:
		return "", fmt.Errorf("no timestamp column for status %s", s)
	}
}

// FinishTx moves a PENDING record to the terminal status to.  It is a
// conditional write: ErrConflict means the record was no longer PENDING.
// paymentRef is stored when non-nil.
func (r *ReservationRepo) FinishTx(ctx context.Context, tx *sql.Tx, id uint64, to model.ReservationStatus, at time.Time, paymentRef *string) error {
	col, err := statusColumn(to)
	if err != nil {
		return err
	}
	q := `UPDATE ` + r.table + ` SET status = ?, ` + col + ` = ?, updated_at = ?,
	        payment_ref = COALESCE(?, payment_ref)
	      WHERE id = ? AND status = 'PENDING'`
	res, err := tx.ExecContext(ctx, q, string(to), at.UTC(), at.UTC(), paymentRef, id)
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

// ExpireDueTx expires up to limit PENDING records whose expires_at has
// passed.  Candidates are locked with FOR UPDATE SKIP LOCKED, so rows a
// concurrent finalisation already holds are left for the next sweep; the
// expiry itself is one set-based UPDATE.  The expired rows are returned.
func (r *ReservationRepo) ExpireDueTx(ctx context.Context, tx *sql.Tx, now time.Time, limit int) ([]model.Reservation, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM `+r.table+`
		 WHERE status = 'PENDING' AND expires_at <= ?
		 ORDER BY expires_at, id LIMIT ? FOR UPDATE SKIP LOCKED`,
		now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	due, err := r.scanAll(rows)
	if err != nil || len(due) == 0 {
		return nil, err
	}

	placeholders := make([]string, len(due))
	args := make([]interface{}, 0, len(due)+2)
	args = append(args, now.UTC(), now.UTC())
	for i, res := range due {
		placeholders[i] = "?"
		args = append(args, res.ID)
	}
	q := `UPDATE ` + r.table + ` SET status = 'EXPIRED', expired_at = ?, updated_at = ?
	      WHERE status = 'PENDING' AND id IN (` + strings.Join(placeholders, ",") + `)`
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return nil, err
	}
	for i := range due {
		due[i].Apply(model.ReservationExpired, now.UTC())
	}
	return due, nil
}

// ListReleasable returns, for every seat still in HOLD that no PENDING
// record claims, the latest terminal record of that seat in this table.
// Its hold token identifies the lock key that may still be live.
func (r *ReservationRepo) ListReleasable(ctx context.Context, limit int) ([]model.Reservation, error) {
	q := `SELECT ` + prefixColumns("t", reservationColumns) + `
	      FROM ` + r.table + ` t
	      JOIN schedule_seats ss ON ss.schedule_id = t.schedule_id AND ss.seat_id = t.seat_id
	      WHERE ss.status = 'HOLD'
	        AND t.status IN ('EXPIRED', 'CANCELED', 'FAILED')
	        AND t.id = (SELECT MAX(t2.id) FROM ` + r.table + ` t2
	                    WHERE t2.schedule_id = t.schedule_id AND t2.seat_id = t.seat_id)
	        AND NOT EXISTS (SELECT 1 FROM reservations r
	                        WHERE r.schedule_id = t.schedule_id AND r.seat_id = t.seat_id AND r.status = 'PENDING')
	        AND NOT EXISTS (SELECT 1 FROM strategy_bookings b
	                        WHERE b.schedule_id = t.schedule_id AND b.seat_id = t.seat_id AND b.status = 'PENDING')
	      ORDER BY t.id LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
