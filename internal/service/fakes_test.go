package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/seat-admission/internal/events"
	"github.com/iliyamo/seat-admission/internal/lock"
	"github.com/iliyamo/seat-admission/internal/model"
	"github.com/iliyamo/seat-admission/internal/repository"
	"github.com/iliyamo/seat-admission/internal/strategy"
)

type seatKey struct{ schedule, seat uint64 }

// memLedger mimics the conditional writes of repository.Ledger.
type memLedger struct {
	mu       sync.Mutex
	seats    map[seatKey]*model.ScheduleSeat
	sections map[seatKey]uint64
	records  map[Ref]*model.Reservation
	nextID   uint64
	openErr  error
}

func newMemLedger() *memLedger {
	return &memLedger{
		seats:    make(map[seatKey]*model.ScheduleSeat),
		sections: make(map[seatKey]uint64),
		records:  make(map[Ref]*model.Reservation),
	}
}

func (l *memLedger) addSeat(schedule, seat, section uint64, price uint32) {
	k := seatKey{schedule, seat}
	l.seats[k] = &model.ScheduleSeat{ScheduleID: schedule, SeatID: seat, Status: model.SeatAvailable, PriceCents: price}
	l.sections[k] = section
}

func (l *memLedger) seatStatus(schedule, seat uint64) model.SeatStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seats[seatKey{schedule, seat}].Status
}

func (l *memLedger) OpenHold(_ context.Context, res *model.Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.openErr != nil {
		return l.openErr
	}
	s, ok := l.seats[seatKey{res.ScheduleID, res.SeatID}]
	if !ok {
		return repository.ErrNotFound
	}
	if s.Status != model.SeatAvailable {
		return repository.ErrConflict
	}
	s.Status = model.SeatHold
	l.nextID++
	res.ID = l.nextID
	res.Status = model.ReservationPending
	cp := *res
	l.records[RefOf(res)] = &cp
	return nil
}

func (l *memLedger) Get(_ context.Context, kind model.RecordKind, id uint64) (*model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[Ref{kind, id}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (l *memLedger) Complete(_ context.Context, kind model.RecordKind, id uint64, paymentRef string, at time.Time) (*model.Reservation, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[Ref{kind, id}]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if err := r.Transition(model.ReservationCompleted); err != nil {
		if err == model.ErrNoop {
			cp := *r
			return &cp, false, nil
		}
		return nil, false, err
	}
	s := l.seats[seatKey{r.ScheduleID, r.SeatID}]
	if s.Status != model.SeatHold {
		return nil, false, repository.ErrConflict
	}
	s.Status = model.SeatSold
	r.Apply(model.ReservationCompleted, at)
	r.PaymentRef = &paymentRef
	cp := *r
	return &cp, true, nil
}

func (l *memLedger) Close(_ context.Context, kind model.RecordKind, id uint64, to model.ReservationStatus, at time.Time) (*model.Reservation, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[Ref{kind, id}]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if err := r.Transition(to); err != nil {
		if err == model.ErrNoop {
			cp := *r
			return &cp, false, nil
		}
		return nil, false, err
	}
	r.Apply(to, at)
	cp := *r
	return &cp, true, nil
}

// expire plays the expiry sweep for one record.
func (l *memLedger) expire(ref Ref, at time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.records[ref]
	if r.Transition(model.ReservationExpired) != nil {
		return false
	}
	r.Apply(model.ReservationExpired, at)
	return true
}

// ExpireDue expires PENDING records of kind whose deadline has passed.
func (l *memLedger) ExpireDue(_ context.Context, kind model.RecordKind, now time.Time, limit int) ([]model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Reservation
	for ref, r := range l.records {
		if len(out) == limit {
			break
		}
		if ref.Kind != kind || r.Status != model.ReservationPending || r.ExpiresAt.After(now) {
			continue
		}
		r.Apply(model.ReservationExpired, now)
		out = append(out, *r)
	}
	return out, nil
}

// ListReleasable lists closed records whose seat is still HOLD with no
// PENDING claimant.
func (l *memLedger) ListReleasable(_ context.Context, kind model.RecordKind, limit int) ([]model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	claimed := make(map[seatKey]bool)
	for _, r := range l.records {
		if r.Status == model.ReservationPending {
			claimed[seatKey{r.ScheduleID, r.SeatID}] = true
		}
	}
	var out []model.Reservation
	for ref, r := range l.records {
		if len(out) == limit {
			break
		}
		k := seatKey{r.ScheduleID, r.SeatID}
		if ref.Kind != kind || !r.Status.Terminal() || r.Status == model.ReservationCompleted ||
			claimed[k] || l.seats[k].Status != model.SeatHold {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (l *memLedger) ReleaseSeat(_ context.Context, scheduleID, seatID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.seats[seatKey{scheduleID, seatID}]
	if !ok {
		return repository.ErrNotFound
	}
	if s.Status != model.SeatHold {
		return repository.ErrConflict
	}
	for _, r := range l.records {
		if r.ScheduleID == scheduleID && r.SeatID == seatID && r.Status == model.ReservationPending {
			return repository.ErrConflict
		}
	}
	s.Status = model.SeatAvailable
	return nil
}

func (l *memLedger) SeatStatus(_ context.Context, scheduleID, seatID uint64) (*model.ScheduleSeat, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.seats[seatKey{scheduleID, seatID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (l *memLedger) SectionOf(_ context.Context, scheduleID, seatID uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sec, ok := l.sections[seatKey{scheduleID, seatID}]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return sec, nil
}

func (l *memLedger) SeatMap(_ context.Context, scheduleID uint64) ([]model.ScheduleSeat, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.ScheduleSeat
	for k, s := range l.seats {
		if k.schedule == scheduleID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
	return out, nil
}

func (l *memLedger) ListByMember(_ context.Context, memberID uint64, limit int) ([]model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Reservation
	for _, r := range l.records {
		if r.MemberID == memberID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memLocks mimics lock.Manager.
type memLocks struct {
	mu       sync.Mutex
	holds    map[seatKey]lock.Hold
	err      error
	acquires int
}

func newMemLocks() *memLocks { return &memLocks{holds: make(map[seatKey]lock.Hold)} }

func (m *memLocks) Acquire(_ context.Context, scheduleID, seatID, memberID uint64, ttl time.Duration) (lock.Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquires++
	if m.err != nil {
		return lock.Hold{}, m.err
	}
	k := seatKey{scheduleID, seatID}
	if _, ok := m.holds[k]; ok {
		return lock.Hold{}, lock.ErrAlreadyHeld
	}
	h := lock.Hold{ScheduleID: scheduleID, SeatID: seatID, MemberID: memberID, Token: uuid.NewString(), ExpiresAt: time.Now().Add(ttl)}
	m.holds[k] = h
	return h, nil
}

func (m *memLocks) Release(_ context.Context, scheduleID, seatID uint64, token string) (lock.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	k := seatKey{scheduleID, seatID}
	h, ok := m.holds[k]
	if !ok {
		return lock.NotFound, nil
	}
	if h.Token != token {
		return lock.TokenMismatch, nil
	}
	delete(m.holds, k)
	return lock.Released, nil
}

func (m *memLocks) Owner(_ context.Context, scheduleID, seatID uint64) (lock.Hold, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return lock.Hold{}, false, m.err
	}
	h, ok := m.holds[seatKey{scheduleID, seatID}]
	return h, ok, nil
}

func (m *memLocks) held(scheduleID, seatID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.holds[seatKey{scheduleID, seatID}]
	return ok
}

type fakeSchedules struct {
	byID map[uint64]*model.Schedule
}

func (f *fakeSchedules) GetByID(_ context.Context, id uint64) (*model.Schedule, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

type fakeGate struct {
	evaluate func(ctx context.Context, s strategy.Strategy, req strategy.Request) (strategy.Decision, error)
}

func (f *fakeGate) Evaluate(ctx context.Context, s strategy.Strategy, req strategy.Request) (strategy.Decision, error) {
	if f.evaluate == nil {
		return strategy.Decision{Allowed: true}, nil
	}
	return f.evaluate(ctx, s, req)
}

type fakeTickets struct {
	mu       sync.Mutex
	consumed []uint64
}

func (f *fakeTickets) Complete(_ context.Context, _, memberID uint64, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumed = append(f.consumed, memberID)
	return true, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Emit(_ context.Context, e events.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(t events.Type) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
