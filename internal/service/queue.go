package service

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/seat-admission/internal/apperror"
	"github.com/iliyamo/seat-admission/internal/model"
	"github.com/iliyamo/seat-admission/internal/repository"
	"github.com/iliyamo/seat-admission/internal/waitroom"
)

// QueueReader loads waiting-room configuration and the durable entries.
type QueueReader interface {
	GetQueue(ctx context.Context, id uint64) (*model.WaitingQueue, error)
	GetEntry(ctx context.Context, queueID, memberID uint64) (*model.QueueEntry, error)
}

// Room is the live waiting room.
type Room interface {
	Enqueue(ctx context.Context, queueID, memberID uint64, now time.Time) (waitroom.Position, error)
	Position(ctx context.Context, queueID, memberID uint64, now time.Time) (waitroom.Position, error)
	Leave(ctx context.Context, queueID, memberID uint64, now time.Time) (bool, error)
}

// QueueService is the member-facing side of the waiting rooms.
type QueueService struct {
	queues QueueReader
	room   Room
	now    func() time.Time
}

func NewQueueService(queues QueueReader, room Room) *QueueService {
	return &QueueService{queues: queues, room: room, now: time.Now}
}

// Enter queues the member, or reports where they already are.
func (s *QueueService) Enter(ctx context.Context, queueID, memberID uint64) (waitroom.Position, error) {
	q, err := s.queues.GetQueue(ctx, queueID)
	if err != nil {
		return waitroom.Position{}, storeError(err, "queue")
	}
	if !q.Active {
		return waitroom.Position{}, apperror.Policy(apperror.CodeQueueInactive, "queue is not accepting entries")
	}
	pos, err := s.room.Enqueue(ctx, queueID, memberID, s.now())
	if err != nil {
		return waitroom.Position{}, apperror.Unavailable(err)
	}
	return pos, nil
}

// Position reports the member's place in the queue.  Once the member is
// gone from the room the durable entry answers with its terminal status.
func (s *QueueService) Position(ctx context.Context, queueID, memberID uint64) (waitroom.Position, error) {
	pos, err := s.room.Position(ctx, queueID, memberID, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return s.settled(ctx, queueID, memberID)
	}
	if err != nil {
		return waitroom.Position{}, apperror.Unavailable(err)
	}
	return pos, nil
}

// Leave removes the member from the queue.
func (s *QueueService) Leave(ctx context.Context, queueID, memberID uint64) error {
	left, err := s.room.Leave(ctx, queueID, memberID, s.now())
	if err != nil {
		return apperror.Unavailable(err)
	}
	if !left {
		return apperror.NotFound("queue entry")
	}
	return nil
}

func (s *QueueService) settled(ctx context.Context, queueID, memberID uint64) (waitroom.Position, error) {
	e, err := s.queues.GetEntry(ctx, queueID, memberID)
	if err != nil {
		return waitroom.Position{}, storeError(err, "queue entry")
	}
	if !e.Status.Terminal() {
		// the room is authoritative for live entries
		return waitroom.Position{}, apperror.NotFound("queue entry")
	}
	return waitroom.Position{Status: e.Status}, nil
}
