package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/seat-admission/internal/model"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func beginTx(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock) *sql.Tx {
	t.Helper()
	mock.ExpectBegin()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return tx
}

func TestMarkHoldTx(t *testing.T) {
	t.Run("available seat is held", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewScheduleSeatRepo(db)
		tx := beginTx(t, db, mock)

		mock.ExpectExec(`UPDATE schedule_seats SET status = \?`).
			WithArgs("HOLD", uint64(1), uint64(2), "AVAILABLE").
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := repo.MarkHoldTx(context.Background(), tx, 1, 2); err != nil {
			t.Fatalf("MarkHoldTx: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("held seat conflicts", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewScheduleSeatRepo(db)
		tx := beginTx(t, db, mock)

		mock.ExpectExec(`UPDATE schedule_seats SET status = \?`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT 1 FROM schedule_seats`).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		if err := repo.MarkHoldTx(context.Background(), tx, 1, 2); !errors.Is(err, ErrConflict) {
			t.Fatalf("err = %v, want ErrConflict", err)
		}
	})

	t.Run("unknown seat is not found", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewScheduleSeatRepo(db)
		tx := beginTx(t, db, mock)

		mock.ExpectExec(`UPDATE schedule_seats SET status = \?`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT 1 FROM schedule_seats`).WillReturnRows(sqlmock.NewRows([]string{"1"}))

		if err := repo.MarkHoldTx(context.Background(), tx, 1, 2); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestMarkSoldTx_RequiresHold(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduleSeatRepo(db)
	tx := beginTx(t, db, mock)

	mock.ExpectQuery(`SELECT status FROM schedule_seats .* FOR UPDATE`).
		WithArgs(uint64(1), uint64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("AVAILABLE"))

	if err := repo.MarkSoldTx(context.Background(), tx, 1, 2); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestReleaseIfUnclaimed(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduleSeatRepo(db)

	mock.ExpectExec(`UPDATE schedule_seats ss`).WithArgs(uint64(4), uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.ReleaseIfUnclaimed(context.Background(), 4, 5); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestCreateBulk_Duplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduleSeatRepo(db)

	mock.ExpectExec(`INSERT INTO schedule_seats`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := repo.CreateBulk(context.Background(), 1, []SeatPrice{{SeatID: 1, PriceCents: 1000}, {SeatID: 2, PriceCents: 1000}})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func reservationRow(id uint64, status model.ReservationStatus, expires time.Time) *sqlmock.Rows {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"id", "schedule_id", "seat_id", "member_id", "booking_type", "status", "hold_token",
		"amount_cents", "payment_ref", "expires_at", "completed_at", "canceled_at", "failed_at", "expired_at",
		"created_at", "updated_at",
	}).AddRow(id, uint64(1), uint64(2), uint64(3), model.BookingFirstCome, string(status), "tok",
		uint32(1500), nil, expires, nil, nil, nil, nil, now, now)
}

func TestFinishTx_Conflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReservationRepo(db, model.KindReservation)
	tx := beginTx(t, db, mock)

	mock.ExpectExec(`UPDATE reservations SET status = \?, completed_at = \?`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ref := "pay-1"
	err := repo.FinishTx(context.Background(), tx, 9, model.ReservationCompleted, time.Now(), &ref)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestStrategyBookingRepoUsesOwnTable(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReservationRepo(db, model.KindStrategyBooking)

	mock.ExpectQuery(`FROM strategy_bookings WHERE id = \?`).
		WillReturnRows(reservationRow(3, model.ReservationPending, time.Now()))

	res, err := repo.GetByID(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if res.Kind != model.KindStrategyBooking {
		t.Errorf("Kind = %s", res.Kind)
	}
}

func TestExpireDueTx(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReservationRepo(db, model.KindReservation)
	tx := beginTx(t, db, mock)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM reservations\s+WHERE status = 'PENDING' AND expires_at <= \?.*FOR UPDATE SKIP LOCKED`).
		WithArgs(now, 100).
		WillReturnRows(reservationRow(7, model.ReservationPending, now.Add(-time.Minute)))
	mock.ExpectExec(`UPDATE reservations SET status = 'EXPIRED'.*id IN \(\?\)`).
		WithArgs(now, now, uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	expired, err := repo.ExpireDueTx(context.Background(), tx, now, 100)
	if err != nil {
		t.Fatalf("ExpireDueTx: %v", err)
	}
	if len(expired) != 1 || expired[0].Status != model.ReservationExpired {
		t.Fatalf("expired = %+v", expired)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestLedgerComplete_AfterExpiry(t *testing.T) {
	db, mock := newMock(t)
	seats := NewScheduleSeatRepo(db)
	ledger := NewLedger(db, seats, NewReservationRepo(db, model.KindReservation))

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM reservations WHERE id = \? FOR UPDATE`).
		WillReturnRows(reservationRow(7, model.ReservationExpired, time.Now()))
	mock.ExpectRollback()

	_, _, err := ledger.Complete(context.Background(), model.KindReservation, 7, "pay", time.Now())
	var te *model.TransitionError
	if !errors.As(err, &te) || te.From != model.ReservationExpired {
		t.Fatalf("err = %v, want transition error from EXPIRED", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestLedgerComplete_Idempotent(t *testing.T) {
	db, mock := newMock(t)
	ledger := NewLedger(db, NewScheduleSeatRepo(db), NewReservationRepo(db, model.KindReservation))

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM reservations WHERE id = \? FOR UPDATE`).
		WillReturnRows(reservationRow(7, model.ReservationCompleted, time.Now()))
	mock.ExpectCommit()

	res, applied, err := ledger.Complete(context.Background(), model.KindReservation, 7, "pay", time.Now())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if applied {
		t.Error("second completion must not be applied")
	}
	if res.Status != model.ReservationCompleted {
		t.Errorf("Status = %s", res.Status)
	}
}

func TestLedgerComplete_FinishLosesToSweep(t *testing.T) {
	db, mock := newMock(t)
	ledger := NewLedger(db, NewScheduleSeatRepo(db), NewReservationRepo(db, model.KindReservation))

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM reservations WHERE id = \? FOR UPDATE`).
		WillReturnRows(reservationRow(7, model.ReservationPending, time.Now()))
	mock.ExpectQuery(`SELECT status FROM schedule_seats .* FOR UPDATE`).
		WithArgs(uint64(1), uint64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("HOLD"))
	mock.ExpectExec(`UPDATE schedule_seats SET status = \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE reservations SET status = \?, completed_at = \?`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM reservations WHERE id = \? FOR UPDATE`).
		WillReturnRows(reservationRow(7, model.ReservationExpired, time.Now()))
	mock.ExpectRollback()

	_, applied, err := ledger.Complete(context.Background(), model.KindReservation, 7, "pay", time.Now())
	var te *model.TransitionError
	if !errors.As(err, &te) || te.From != model.ReservationExpired {
		t.Fatalf("err = %v, want transition error from EXPIRED", err)
	}
	if applied {
		t.Error("a lost race must not report applied")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestLedgerOpenHold_ConflictWritesNothing(t *testing.T) {
	db, mock := newMock(t)
	ledger := NewLedger(db, NewScheduleSeatRepo(db), NewReservationRepo(db, model.KindReservation))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE schedule_seats SET status = \?`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM schedule_seats`).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectRollback()

	err := ledger.OpenHold(context.Background(), &model.Reservation{Kind: model.KindReservation, ScheduleID: 1, SeatID: 2})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestEntitlementCreate_Duplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEntitlementRepo(db)

	mock.ExpectExec(`INSERT INTO section_entitlements`).
		WillReturnError(&mysql.MySQLError{Number: 1062})

	err := repo.Create(context.Background(), &model.SectionEntitlement{ScheduleID: 1, MemberID: 2, SectionID: 3})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestEntitlementSectionFor_Missing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEntitlementRepo(db)

	mock.ExpectQuery(`SELECT section_id FROM section_entitlements`).
		WillReturnRows(sqlmock.NewRows([]string{"section_id"}))

	_, found, err := repo.SectionFor(context.Background(), 1, 2)
	if err != nil || found {
		t.Fatalf("SectionFor = %v, %v; want not found without error", found, err)
	}
}

func TestQueueMarkExited_Conflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQueueRepo(db)

	mock.ExpectExec(`UPDATE queue_entries SET status = \?, exited_at = \?`).
		WithArgs("EXPIRED", sqlmock.AnyArg(), uint64(1), uint64(2), "ENTERABLE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkExited(context.Background(), 1, 2, []model.QueueStatus{model.QueueEnterable}, model.QueueExpired, time.Now())
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}
