package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/seat-admission/internal/events"
	"github.com/iliyamo/seat-admission/internal/model"
	"github.com/iliyamo/seat-admission/internal/waitroom"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeLedger struct {
	expireDue      func(kind model.RecordKind) ([]model.Reservation, error)
	listReleasable func(kind model.RecordKind) ([]model.Reservation, error)
}

func (f *fakeLedger) ExpireDue(_ context.Context, kind model.RecordKind, _ time.Time, _ int) ([]model.Reservation, error) {
	return f.expireDue(kind)
}

func (f *fakeLedger) ListReleasable(_ context.Context, kind model.RecordKind, _ int) ([]model.Reservation, error) {
	return f.listReleasable(kind)
}

type fakeReleaser struct {
	mu       sync.Mutex
	released []uint64
	failIDs  map[uint64]bool
}

func (f *fakeReleaser) Release(_ context.Context, res model.Reservation) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[res.ID] {
		return false, errors.New("redis down")
	}
	f.released = append(f.released, res.ID)
	return true, nil
}

type countingEmitter struct {
	n map[events.Type]int
}

func (c *countingEmitter) Emit(_ context.Context, e events.Event) { c.n[e.Type]++ }

func TestReservationExpiry_ContinuesPastFailures(t *testing.T) {
	ledger := &fakeLedger{expireDue: func(kind model.RecordKind) ([]model.Reservation, error) {
		if kind == model.KindStrategyBooking {
			return nil, errors.New("deadlock")
		}
		return []model.Reservation{
			{ID: 1, Kind: kind, Status: model.ReservationExpired},
			{ID: 2, Kind: kind, Status: model.ReservationExpired},
			{ID: 3, Kind: kind, Status: model.ReservationExpired},
		}, nil
	}}
	rel := &fakeReleaser{failIDs: map[uint64]bool{2: true}}
	em := &countingEmitter{n: map[events.Type]int{}}

	rep, err := NewReservationExpiry(ledger, rel, em, 100).Run(context.Background(), now)
	if err == nil {
		t.Error("expected the strategy_booking failure to be reported")
	}
	if rep.Affected != 3 || rep.Failed != 2 {
		t.Errorf("report = %+v, want 3 affected and 2 failed", rep)
	}
	if em.n[events.ReservationExpired] != 3 {
		t.Errorf("expired events = %d", em.n[events.ReservationExpired])
	}
	if len(rel.released) != 2 {
		t.Errorf("released = %v", rel.released)
	}
}

func TestSeatRelease(t *testing.T) {
	ledger := &fakeLedger{listReleasable: func(kind model.RecordKind) ([]model.Reservation, error) {
		if kind == model.KindReservation {
			return []model.Reservation{{ID: 4, Kind: kind, Status: model.ReservationCanceled}}, nil
		}
		return []model.Reservation{{ID: 5, Kind: kind, Status: model.ReservationFailed}}, nil
	}}
	rel := &fakeReleaser{failIDs: map[uint64]bool{5: true}}

	rep, err := NewSeatRelease(ledger, rel, 100).Run(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Affected != 1 || rep.Failed != 1 {
		t.Errorf("report = %+v", rep)
	}
}

type fakeQueues struct{ queues []model.WaitingQueue }

func (f *fakeQueues) ListActiveQueues(context.Context) ([]model.WaitingQueue, error) {
	return f.queues, nil
}

type fakeRoom struct {
	cycle  func(q model.WaitingQueue) (waitroom.CycleReport, error)
	expire func(queueID uint64) (int, error)
}

func (f *fakeRoom) PromoteCycle(_ context.Context, q model.WaitingQueue, _ int, _ time.Time) (waitroom.CycleReport, error) {
	return f.cycle(q)
}

func (f *fakeRoom) ExpireTickets(_ context.Context, queueID uint64, _ int, _ time.Time) (int, error) {
	return f.expire(queueID)
}

func TestQueuePromotion_PerQueueIsolation(t *testing.T) {
	queues := &fakeQueues{queues: []model.WaitingQueue{{ID: 1}, {ID: 2}, {ID: 3}}}
	room := &fakeRoom{cycle: func(q model.WaitingQueue) (waitroom.CycleReport, error) {
		if q.ID == 2 {
			return waitroom.CycleReport{}, errors.New("redis timeout")
		}
		return waitroom.CycleReport{Moved: 4, Active: 4}, nil
	}}

	rep, err := NewQueuePromotion(queues, room, 100).Run(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Affected != 8 || rep.Failed != 1 {
		t.Errorf("report = %+v, want 8 moved across two queues and 1 failure", rep)
	}
}

func TestTicketExpiry(t *testing.T) {
	queues := &fakeQueues{queues: []model.WaitingQueue{{ID: 1}, {ID: 2}}}
	room := &fakeRoom{expire: func(queueID uint64) (int, error) { return int(queueID), nil }}

	rep, err := NewTicketExpiry(queues, room, 100).Run(context.Background(), now)
	if err != nil || rep.Affected != 3 {
		t.Fatalf("report = %+v, err = %v", rep, err)
	}
}

type countingTask struct {
	mu   sync.Mutex
	runs int
}

func (c *countingTask) Name() string { return "counting" }

func (c *countingTask) Run(context.Context, time.Time) (Report, error) {
	c.mu.Lock()
	c.runs++
	c.mu.Unlock()
	return Report{Affected: 1}, nil
}

func (c *countingTask) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func TestPeriodicService_RunsUntilCanceled(t *testing.T) {
	task := &countingTask{}
	svc := NewPeriodicService(task, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for task.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if task.count() < 3 {
		t.Errorf("runs = %d, want at least 3", task.count())
	}
	if svc.String() != "sweep-counting" {
		t.Errorf("String() = %q", svc.String())
	}
}

func TestRunOnceStampsName(t *testing.T) {
	rep := NewPeriodicService(&countingTask{}, time.Second).RunOnce(context.Background())
	if rep.Name != "counting" || rep.Affected != 1 {
		t.Errorf("report = %+v", rep)
	}
}
