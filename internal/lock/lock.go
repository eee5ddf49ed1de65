// Package lock implements the hold lock: a short-lived, exclusive claim on
// one seat of one schedule, stored as a Redis key with a TTL.
//
// The key is only the fast path. The durable seat row decides
// availability; the lock decides who may attempt to change it. Every
// Redis error is returned to the caller and is never reported as "free"
// or "not held".
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/seat-admission/internal/logging"
)

// ErrAlreadyHeld is returned by Acquire when another holder owns the key.
var ErrAlreadyHeld = errors.New("seat already held")

// Result is the outcome of a token-guarded operation.
type Result int

const (
	Released Result = iota + 1
	TokenMismatch
	NotFound
)

func (r Result) String() string {
	switch r {
	case Released:
		return "released"
	case TokenMismatch:
		return "token_mismatch"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Hold is a granted lock. Token proves ownership for Release.
type Hold struct {
	ScheduleID uint64
	SeatID     uint64
	MemberID   uint64
	Token      string
	ExpiresAt  time.Time
}

// Value is stored as "<memberID>:<token>". The script compares only the
// token part.
const releaseScript = `
local v = redis.call('GET', KEYS[1])
if not v then
    return -1
end
local sep = string.find(v, ':', 1, true)
if not sep or string.sub(v, sep + 1) ~= ARGV[1] then
    return 0
end
redis.call('DEL', KEYS[1])
return 1
`

// Manager hands out hold locks.
type Manager struct {
	rdb     redis.UniversalClient
	prefix  string
	now     func() time.Time
	release *redis.Script
	log     zerolog.Logger
}

// NewManager builds a Manager over rdb. Keys are "hold:{schedule}:{seat}".
func NewManager(rdb redis.UniversalClient) *Manager {
	return &Manager{
		rdb:     rdb,
		prefix:  "hold",
		now:     time.Now,
		release: redis.NewScript(releaseScript),
		log:     logging.Component("lock"),
	}
}

func (m *Manager) key(scheduleID, seatID uint64) string {
	return fmt.Sprintf("%s:%d:%d", m.prefix, scheduleID, seatID)
}

// Acquire takes the lock for memberID if nobody holds it. The write is a
// single SET NX PX, so of any number of concurrent callers exactly one
// gets a Hold; the rest get ErrAlreadyHeld.
func (m *Manager) Acquire(ctx context.Context, scheduleID, seatID, memberID uint64, ttl time.Duration) (Hold, error) {
	if ttl <= 0 {
		return Hold{}, fmt.Errorf("acquire hold: ttl must be positive, got %s", ttl)
	}
	token := uuid.NewString()
	value := strconv.FormatUint(memberID, 10) + ":" + token

	now := m.now()
	ok, err := m.rdb.SetNX(ctx, m.key(scheduleID, seatID), value, ttl).Result()
	if err != nil {
		return Hold{}, fmt.Errorf("acquire hold %d/%d: %w", scheduleID, seatID, err)
	}
	if !ok {
		return Hold{}, ErrAlreadyHeld
	}
	m.log.Debug().Uint64("schedule_id", scheduleID).Uint64("seat_id", seatID).
		Uint64("member_id", memberID).Msg("hold acquired")
	return Hold{
		ScheduleID: scheduleID,
		SeatID:     seatID,
		MemberID:   memberID,
		Token:      token,
		ExpiresAt:  now.Add(ttl),
	}, nil
}

// Release deletes the key only when token matches the current holder.
func (m *Manager) Release(ctx context.Context, scheduleID, seatID uint64, token string) (Result, error) {
	n, err := m.release.Run(ctx, m.rdb, []string{m.key(scheduleID, seatID)}, token).Int64()
	if err != nil {
		return 0, fmt.Errorf("release hold %d/%d: %w", scheduleID, seatID, err)
	}
	switch n {
	case 1:
		return Released, nil
	case 0:
		return TokenMismatch, nil
	default:
		return NotFound, nil
	}
}

// Owner reports the current holder of a seat. found is false when no key
// exists; any Redis failure is returned as an error.
func (m *Manager) Owner(ctx context.Context, scheduleID, seatID uint64) (Hold, bool, error) {
	key := m.key(scheduleID, seatID)
	pipe := m.rdb.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Hold{}, false, fmt.Errorf("read hold %d/%d: %w", scheduleID, seatID, err)
	}
	value, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return Hold{}, false, nil
	}
	if err != nil {
		return Hold{}, false, fmt.Errorf("read hold %d/%d: %w", scheduleID, seatID, err)
	}
	memberPart, token, ok := strings.Cut(value, ":")
	if !ok {
		return Hold{}, false, fmt.Errorf("read hold %d/%d: malformed value", scheduleID, seatID)
	}
	memberID, err := strconv.ParseUint(memberPart, 10, 64)
	if err != nil {
		return Hold{}, false, fmt.Errorf("read hold %d/%d: malformed member: %w", scheduleID, seatID, err)
	}
	h := Hold{ScheduleID: scheduleID, SeatID: seatID, MemberID: memberID, Token: token}
	if ttl := ttlCmd.Val(); ttl > 0 {
		h.ExpiresAt = m.now().Add(ttl)
	}
	return h, true, nil
}
