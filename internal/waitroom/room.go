// Package waitroom runs the waiting rooms of queue-ordered sales.
//
// The live state of a room is three Redis keys sharing one hash tag:
//
//	waitroom:{q}:seq      INCR counter handing out enqueue sequence numbers
//	waitroom:{q}:waiting  ZSET member -> seq, the FIFO of WAITING members
//	waitroom:{q}:active   ZSET member -> ticket expiry (unix ms), ENTERABLE members
//
// Every transition that touches the active set runs as one Lua script, so
// the cap check and the move are a single atomic step and every exit
// decrements the active count exactly once. The queue_entries table is a
// durable mirror written after each live transition.
package waitroom

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/seat-admission/internal/events"
	"github.com/iliyamo/seat-admission/internal/logging"
	"github.com/iliyamo/seat-admission/internal/model"
	"github.com/iliyamo/seat-admission/internal/repository"
)

// EntryStore is the durable mirror of queue entries.
type EntryStore interface {
	UpsertWaiting(ctx context.Context, queueID, memberID uint64, seq int64, at time.Time) error
	MarkEnterable(ctx context.Context, queueID, memberID uint64, at, ticketExpiresAt time.Time) error
	MarkExited(ctx context.Context, queueID, memberID uint64, from []model.QueueStatus, to model.QueueStatus, at time.Time) error
}

// Emitter receives queue events.
type Emitter interface {
	Emit(ctx context.Context, e events.Event)
}

// PromoteResult is the outcome of one promotion attempt.
type PromoteResult int

const (
	Skipped PromoteResult = iota
	RejectedFull
	Moved
)

func (r PromoteResult) String() string {
	switch r {
	case RejectedFull:
		return "rejected_full"
	case Moved:
		return "moved"
	default:
		return "skipped"
	}
}

// Position describes where a member stands.
type Position struct {
	Status model.QueueStatus
	// Ahead is the number of members queued before this one; zero unless
	// Status is WAITING.
	Ahead int64
	// TicketExpiresAt is set when Status is ENTERABLE.
	TicketExpiresAt time.Time
}

// Room operates every waiting room stored in one Redis deployment.
type Room struct {
	rdb    redis.UniversalClient
	store  EntryStore
	events Emitter
	log    zerolog.Logger
}

func NewRoom(rdb redis.UniversalClient, store EntryStore, em Emitter) *Room {
	return &Room{rdb: rdb, store: store, events: em, log: logging.Component("waitroom")}
}

func keys(queueID uint64) (waiting, active, seq string) {
	tag := "waitroom:{" + strconv.FormatUint(queueID, 10) + "}"
	return tag + ":waiting", tag + ":active", tag + ":seq"
}

func member(memberID uint64) string { return strconv.FormatUint(memberID, 10) }

func (r *Room) emit(ctx context.Context, t events.Type, queueID, memberID uint64, reason string, at time.Time) {
	if r.events == nil {
		return
	}
	e := events.New(t, at)
	e.QueueID = queueID
	e.MemberID = memberID
	e.Reason = reason
	r.events.Emit(ctx, e)
}

// Enqueue puts memberID at the tail of the room. Calling it again while
// the member is WAITING or ENTERABLE changes nothing and reports the
// current position. A ticket that lapsed at now is retired first, so the
// member rejoins without waiting for the ticket sweep.
func (r *Room) Enqueue(ctx context.Context, queueID, memberID uint64, now time.Time) (Position, error) {
	if _, err := r.exit(ctx, queueID, memberID, "expired", model.QueueExpired, []model.QueueStatus{model.QueueEnterable}, now); err != nil {
		return Position{}, fmt.Errorf("enqueue %d/%d: %w", queueID, memberID, err)
	}
	waiting, active, seq := keys(queueID)
	vals, err := enqueueScript.Run(ctx, r.rdb, []string{waiting, active, seq}, member(memberID)).Int64Slice()
	if err != nil {
		return Position{}, fmt.Errorf("enqueue %d/%d: %w", queueID, memberID, err)
	}
	state, rank, n := vals[0], vals[1], vals[2]
	switch state {
	case 2:
		return r.Position(ctx, queueID, memberID, now)
	case 1:
		return Position{Status: model.QueueWaiting, Ahead: rank}, nil
	}

	if err := r.store.UpsertWaiting(ctx, queueID, memberID, n, now); err != nil {
		// Undo the live entry so the member can retry cleanly.
		if _, rerr := exitScript.Run(context.WithoutCancel(ctx), r.rdb, []string{waiting, active}, member(memberID), "any", 0).Int(); rerr != nil {
			r.log.Error().Err(rerr).Uint64("queue_id", queueID).Uint64("member_id", memberID).Msg("failed to undo enqueue")
		}
		return Position{}, fmt.Errorf("enqueue %d/%d: mirror: %w", queueID, memberID, err)
	}
	r.emit(ctx, events.QueueEntered, queueID, memberID, "", now)
	return Position{Status: model.QueueWaiting, Ahead: rank}, nil
}

// Position reports the member's live state. A member in neither set gets
// repository.ErrNotFound.
func (r *Room) Position(ctx context.Context, queueID, memberID uint64, now time.Time) (Position, error) {
	waiting, active, _ := keys(queueID)
	m := member(memberID)
	pipe := r.rdb.Pipeline()
	scoreCmd := pipe.ZScore(ctx, active, m)
	rankCmd := pipe.ZRank(ctx, waiting, m)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Position{}, fmt.Errorf("position %d/%d: %w", queueID, memberID, err)
	}
	score, err := scoreCmd.Result()
	switch {
	case err == nil:
		exp := time.UnixMilli(int64(score))
		if !exp.After(now) {
			return Position{Status: model.QueueExpired}, nil
		}
		return Position{Status: model.QueueEnterable, TicketExpiresAt: exp}, nil
	case !errors.Is(err, redis.Nil):
		return Position{}, fmt.Errorf("position %d/%d: %w", queueID, memberID, err)
	}
	rank, err := rankCmd.Result()
	switch {
	case err == nil:
		return Position{Status: model.QueueWaiting, Ahead: rank}, nil
	case !errors.Is(err, redis.Nil):
		return Position{}, fmt.Errorf("position %d/%d: %w", queueID, memberID, err)
	}
	return Position{}, repository.ErrNotFound
}

// Promote moves memberID from WAITING to ENTERABLE if the room is below
// its cap. The mirror is written afterwards; if that write fails the
// promotion is undone and the error returned.
func (r *Room) Promote(ctx context.Context, q model.WaitingQueue, memberID uint64, now time.Time) (PromoteResult, error) {
	waiting, active, _ := keys(q.ID)
	m := member(memberID)
	expires := now.Add(q.TicketTTL)
	vals, err := promoteScript.Run(ctx, r.rdb, []string{waiting, active}, m, q.MaxActiveUsers, expires.UnixMilli()).Int64Slice()
	if err != nil {
		return Skipped, fmt.Errorf("promote %d/%d: %w", q.ID, memberID, err)
	}
	result, seq := PromoteResult(vals[0]), vals[1]
	if result != Moved {
		return result, nil
	}

	if err := r.store.MarkEnterable(ctx, q.ID, memberID, now, expires); err != nil {
		bg := context.WithoutCancel(ctx)
		if errors.Is(err, repository.ErrConflict) {
			// The durable entry already left WAITING; drop the live copy.
			_, rerr := exitScript.Run(bg, r.rdb, []string{waiting, active}, m, "active", 0).Int()
			if rerr != nil {
				r.log.Error().Err(rerr).Uint64("queue_id", q.ID).Uint64("member_id", memberID).Msg("failed to drop diverged entry")
			}
			return Skipped, nil
		}
		if _, rerr := demoteScript.Run(bg, r.rdb, []string{waiting, active}, m, seq).Int(); rerr != nil {
			r.log.Error().Err(rerr).Uint64("queue_id", q.ID).Uint64("member_id", memberID).Msg("failed to demote after mirror failure")
		}
		return Skipped, fmt.Errorf("promote %d/%d: mirror: %w", q.ID, memberID, err)
	}
	r.emit(ctx, events.QueuePromoted, q.ID, memberID, "", now)
	return Moved, nil
}

// CycleReport summarises one PromoteCycle.
type CycleReport struct {
	Moved   int
	Skipped int
	Failed  int
	Full    bool
	Active  int64
}

// PromoteCycle promotes waiting members in enqueue order, at most batch
// of them, stopping at the first rejection because the room is full.
// Per-member failures are logged and skipped.
func (r *Room) PromoteCycle(ctx context.Context, q model.WaitingQueue, batch int, now time.Time) (CycleReport, error) {
	var rep CycleReport
	if batch <= 0 {
		return rep, nil
	}
	waiting, _, _ := keys(q.ID)
	members, err := r.rdb.ZRange(ctx, waiting, 0, int64(batch-1)).Result()
	if err != nil {
		return rep, fmt.Errorf("promote cycle %d: %w", q.ID, err)
	}
	for _, m := range members {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		memberID, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			r.log.Warn().Str("member", m).Uint64("queue_id", q.ID).Msg("skipping malformed waiting member")
			rep.Failed++
			continue
		}
		res, err := r.Promote(ctx, q, memberID, now)
		if err != nil {
			r.log.Warn().Err(err).Uint64("queue_id", q.ID).Uint64("member_id", memberID).Msg("promotion failed")
			rep.Failed++
			continue
		}
		if res == RejectedFull {
			rep.Full = true
			break
		}
		if res == Moved {
			rep.Moved++
		} else {
			rep.Skipped++
		}
	}
	if rep.Active, err = r.ActiveCount(ctx, q.ID); err != nil {
		return rep, err
	}
	return rep, nil
}

// HasLiveTicket reports whether memberID is ENTERABLE with an unexpired
// ticket.
func (r *Room) HasLiveTicket(ctx context.Context, queueID, memberID uint64, now time.Time) (bool, error) {
	_, active, _ := keys(queueID)
	score, err := r.rdb.ZScore(ctx, active, member(memberID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ticket %d/%d: %w", queueID, memberID, err)
	}
	return int64(score) > now.UnixMilli(), nil
}

// Complete consumes the member's ticket after a successful purchase. It
// reports whether a ticket was consumed.
func (r *Room) Complete(ctx context.Context, queueID, memberID uint64, now time.Time) (bool, error) {
	return r.exit(ctx, queueID, memberID, "active", model.QueueCompleted,
		[]model.QueueStatus{model.QueueEnterable}, now)
}

// Leave removes the member from the room whether waiting or enterable.
func (r *Room) Leave(ctx context.Context, queueID, memberID uint64, now time.Time) (bool, error) {
	return r.exit(ctx, queueID, memberID, "any", model.QueueCanceled,
		[]model.QueueStatus{model.QueueWaiting, model.QueueEnterable}, now)
}

func (r *Room) exit(ctx context.Context, queueID, memberID uint64, mode string, to model.QueueStatus, from []model.QueueStatus, now time.Time) (bool, error) {
	waiting, active, _ := keys(queueID)
	n, err := exitScript.Run(ctx, r.rdb, []string{waiting, active}, member(memberID), mode, now.UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("exit %d/%d: %w", queueID, memberID, err)
	}
	if n == 0 {
		return false, nil
	}
	r.mirrorExit(ctx, queueID, memberID, from, to, now)
	return true, nil
}

// mirrorExit records a live exit. The live sets are authoritative for the
// cap, so a failed mirror write is logged rather than undone.
func (r *Room) mirrorExit(ctx context.Context, queueID, memberID uint64, from []model.QueueStatus, to model.QueueStatus, now time.Time) {
	if err := r.store.MarkExited(ctx, queueID, memberID, from, to, now); err != nil {
		r.log.Warn().Err(err).Uint64("queue_id", queueID).Uint64("member_id", memberID).
			Str("to", string(to)).Msg("failed to mirror queue exit")
	}
	r.emit(ctx, events.QueueExited, queueID, memberID, string(to), now)
}

// ExpireTickets removes up to limit ENTERABLE members whose ticket has
// lapsed at now. It returns how many were removed.
func (r *Room) ExpireTickets(ctx context.Context, queueID uint64, limit int, now time.Time) (int, error) {
	waiting, active, _ := keys(queueID)
	due, err := r.rdb.ZRangeByScore(ctx, active, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("expire tickets %d: %w", queueID, err)
	}
	expired := 0
	for _, m := range due {
		n, err := exitScript.Run(ctx, r.rdb, []string{waiting, active}, m, "expired", now.UnixMilli()).Int()
		if err != nil {
			return expired, fmt.Errorf("expire tickets %d: %w", queueID, err)
		}
		if n == 0 {
			continue
		}
		expired++
		memberID, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		r.mirrorExit(ctx, queueID, memberID, []model.QueueStatus{model.QueueEnterable}, model.QueueExpired, now)
	}
	return expired, nil
}

// ActiveCount is the size of the active set. It is a sample for gauges;
// admission decisions use the scripts instead.
func (r *Room) ActiveCount(ctx context.Context, queueID uint64) (int64, error) {
	_, active, _ := keys(queueID)
	n, err := r.rdb.ZCard(ctx, active).Result()
	if err != nil {
		return 0, fmt.Errorf("active count %d: %w", queueID, err)
	}
	return n, nil
}
