// Package queue implements the Redis-backed, per-event-type FIFO queue:
// pending/processing sorted sets per type, a shared dead-letter set, a data
// hash, and a durable backfill cursor. Built on redis/go-redis/v9 (sourced
// from the rest of the example pack, since Redis never appeared in the
// teacher itself) and exercised in tests via alicebob/miniredis/v2.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/everclearorg/mark-sub001/internal/domain"
)

const (
	keyDeadLetter     = "dead-letter"
	keyData           = "data"
	keyStatus         = "status"
	keyBackfillCursor = "backfill-cursor"
)

func keyPending(t domain.EventType) string    { return fmt.Sprintf("pending:%s", t) }
func keyProcessing(t domain.EventType) string { return fmt.Sprintf("processing:%s", t) }

// EventQueue is the Redis-backed FIFO queue of spec §4.2.
type EventQueue struct {
	rdb *redis.Client
}

// New wraps an existing go-redis client.
func New(rdb *redis.Client) *EventQueue {
	return &EventQueue{rdb: rdb}
}

// Enqueue atomically removes id from processing (no-op if absent, which
// supports retry paths), stores its payload, and adds it to pending with
// score=scheduledAt. Returns true iff the id already existed in pending or
// processing at call time (idempotent re-enqueue never double-delivers).
func (q *EventQueue) Enqueue(ctx context.Context, ev domain.QueuedEvent) (bool, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}

	existed, err := q.HasEvent(ctx, ev.Type, ev.ID)
	if err != nil {
		return false, err
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, keyProcessing(ev.Type), ev.ID)
		pipe.HSet(ctx, keyData, ev.ID, payload)
		pipe.ZAdd(ctx, keyPending(ev.Type), redis.Z{Score: float64(ev.ScheduledAt), Member: ev.ID})
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", ev.ID, err)
	}
	return existed, nil
}

// HasEvent reports whether id is present in pending or processing for type.
func (q *EventQueue) HasEvent(ctx context.Context, t domain.EventType, id string) (bool, error) {
	pendingScore := q.rdb.ZScore(ctx, keyPending(t), id)
	if pendingScore.Err() == nil {
		return true, nil
	} else if pendingScore.Err() != redis.Nil {
		return false, fmt.Errorf("check pending for %s: %w", id, pendingScore.Err())
	}

	processingScore := q.rdb.ZScore(ctx, keyProcessing(t), id)
	if processingScore.Err() == nil {
		return true, nil
	} else if processingScore.Err() != redis.Nil {
		return false, fmt.Errorf("check processing for %s: %w", id, processingScore.Err())
	}
	return false, nil
}

// MoveProcessingToPending is the crash-recovery sweep: for every
// processing:<type> set, every id's scheduledAt is rehydrated from its
// payload and it is moved back to pending:<type>; ids with missing payload
// are dropped instead.
func (q *EventQueue) MoveProcessingToPending(ctx context.Context, types []domain.EventType) error {
	for _, t := range types {
		ids, err := q.rdb.ZRange(ctx, keyProcessing(t), 0, -1).Result()
		if err != nil {
			return fmt.Errorf("scan processing:%s: %w", t, err)
		}
		if len(ids) == 0 {
			continue
		}

		payloads, err := q.rdb.HMGet(ctx, keyData, ids...).Result()
		if err != nil {
			return fmt.Errorf("fetch payloads for processing:%s: %w", t, err)
		}

		_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, id := range ids {
				raw, ok := payloads[i].(string)
				if !ok || raw == "" {
					pipe.ZRem(ctx, keyProcessing(t), id)
					pipe.HDel(ctx, keyData, id)
					continue
				}
				var ev domain.QueuedEvent
				if err := json.Unmarshal([]byte(raw), &ev); err != nil {
					pipe.ZRem(ctx, keyProcessing(t), id)
					pipe.HDel(ctx, keyData, id)
					continue
				}
				pipe.ZRem(ctx, keyProcessing(t), id)
				pipe.ZAdd(ctx, keyPending(t), redis.Z{Score: float64(ev.ScheduledAt), Member: id})
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("recover processing:%s: %w", t, err)
		}
	}
	return nil
}

// Dequeue reads the oldest count ids from pending:<type>, skips
// future-scheduled ones, drops orphans (missing payload), and atomically
// moves the valid ids into processing. Returns only the valid events.
func (q *EventQueue) Dequeue(ctx context.Context, t domain.EventType, count int64, now time.Time) ([]domain.QueuedEvent, error) {
	ids, err := q.rdb.ZRange(ctx, keyPending(t), 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan pending:%s: %w", t, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	payloads, err := q.rdb.HMGet(ctx, keyData, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch payloads for pending:%s: %w", t, err)
	}

	nowMs := now.UnixMilli()
	var valid []domain.QueuedEvent
	var orphans []string

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			raw, ok := payloads[i].(string)
			if !ok || raw == "" {
				orphans = append(orphans, id)
				pipe.ZRem(ctx, keyPending(t), id)
				continue
			}
			var ev domain.QueuedEvent
			if err := json.Unmarshal([]byte(raw), &ev); err != nil {
				orphans = append(orphans, id)
				pipe.ZRem(ctx, keyPending(t), id)
				continue
			}
			if ev.ScheduledAt > nowMs {
				continue // future-scheduled, leave in pending
			}
			pipe.ZRem(ctx, keyPending(t), id)
			pipe.ZAdd(ctx, keyProcessing(t), redis.Z{Score: float64(nowMs), Member: id})
			valid = append(valid, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue pending:%s: %w", t, err)
	}
	if len(orphans) > 0 {
		if err := q.rdb.HDel(ctx, keyData, orphans...).Err(); err != nil {
			return nil, fmt.Errorf("clean orphan payloads for pending:%s: %w", t, err)
		}
	}
	return valid, nil
}

// Ack removes an event from processing and its payload, and records the
// processed action in status.
func (q *EventQueue) Ack(ctx context.Context, ev domain.QueuedEvent) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, keyProcessing(ev.Type), ev.ID)
		pipe.HDel(ctx, keyData, ev.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack %s: %w", ev.ID, err)
	}
	return q.setStatus(ctx, "processed")
}

// DeadLetter removes an event from processing, moves it to dead-letter, and
// overwrites its payload with the failure reason.
func (q *EventQueue) DeadLetter(ctx context.Context, ev domain.QueuedEvent, errMsg string) error {
	payload, err := json.Marshal(map[string]any{
		"event":   ev,
		"error":   errMsg,
		"movedAt": time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead-letter payload for %s: %w", ev.ID, err)
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, keyProcessing(ev.Type), ev.ID)
		pipe.ZAdd(ctx, keyDeadLetter, redis.Z{Score: float64(time.Now().UnixMilli()), Member: ev.ID})
		pipe.HSet(ctx, keyData, ev.ID, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-letter %s: %w", ev.ID, err)
	}
	return q.setStatus(ctx, "deadLetter")
}

func (q *EventQueue) setStatus(ctx context.Context, action string) error {
	return q.rdb.HSet(ctx, keyStatus, map[string]any{
		"lastProcessedAt": time.Now().UnixMilli(),
		"lastAction":      action,
	}).Err()
}

// QueueStatus is the result of GetQueueStatus.
type QueueStatus struct {
	PendingCount      int64
	ProcessingCount   int64
	DeadLetterLength  int64
	LastProcessedAt   int64
	LastAction        string
}

// GetQueueStatus sums pending/processing across all types.
func (q *EventQueue) GetQueueStatus(ctx context.Context, types []domain.EventType) (QueueStatus, error) {
	var status QueueStatus

	for _, t := range types {
		pc, err := q.rdb.ZCard(ctx, keyPending(t)).Result()
		if err != nil {
			return status, fmt.Errorf("count pending:%s: %w", t, err)
		}
		prc, err := q.rdb.ZCard(ctx, keyProcessing(t)).Result()
		if err != nil {
			return status, fmt.Errorf("count processing:%s: %w", t, err)
		}
		status.PendingCount += pc
		status.ProcessingCount += prc
	}

	dl, err := q.rdb.ZCard(ctx, keyDeadLetter).Result()
	if err != nil {
		return status, fmt.Errorf("count dead-letter: %w", err)
	}
	status.DeadLetterLength = dl

	fields, err := q.rdb.HGetAll(ctx, keyStatus).Result()
	if err != nil {
		return status, fmt.Errorf("read status: %w", err)
	}
	if v, ok := fields["lastProcessedAt"]; ok {
		fmt.Sscanf(v, "%d", &status.LastProcessedAt)
	}
	status.LastAction = fields["lastAction"]

	return status, nil
}

// GetBackfillCursor returns the durable invoice-polling cursor, or "" if
// none has been set yet.
func (q *EventQueue) GetBackfillCursor(ctx context.Context) (string, error) {
	cursor, err := q.rdb.Get(ctx, keyBackfillCursor).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get backfill cursor: %w", err)
	}
	return cursor, nil
}

// SetBackfillCursor persists the invoice-polling cursor.
func (q *EventQueue) SetBackfillCursor(ctx context.Context, cursor string) error {
	if err := q.rdb.Set(ctx, keyBackfillCursor, cursor, 0).Err(); err != nil {
		return fmt.Errorf("set backfill cursor: %w", err)
	}
	return nil
}
