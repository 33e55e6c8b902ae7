package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everclearorg/mark-sub001/internal/domain"
)

func newTestQueue(t *testing.T) (*EventQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb), mr
}

func TestEnqueueDequeueAck(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	ev := domain.QueuedEvent{ID: "evt-1", Type: domain.EventInvoiceCreated, ScheduledAt: time.Now().UnixMilli()}

	existed, err := q.Enqueue(ctx, ev)
	require.NoError(t, err)
	assert.False(t, existed)

	has, err := q.HasEvent(ctx, ev.Type, ev.ID)
	require.NoError(t, err)
	assert.True(t, has)

	existed, err = q.Enqueue(ctx, ev)
	require.NoError(t, err)
	assert.True(t, existed, "re-enqueue of an already-pending id must report it existed")

	events, err := q.Dequeue(ctx, ev.Type, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.ID, events[0].ID)

	err = q.Ack(ctx, ev)
	require.NoError(t, err)

	has, err = q.HasEvent(ctx, ev.Type, ev.ID)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestDequeueSkipsFutureScheduled(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	future := domain.QueuedEvent{ID: "evt-future", Type: domain.EventInvoiceCreated, ScheduledAt: time.Now().Add(time.Hour).UnixMilli()}
	_, err := q.Enqueue(ctx, future)
	require.NoError(t, err)

	events, err := q.Dequeue(ctx, domain.EventInvoiceCreated, 10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, events, "future-scheduled events must not be delivered early")
}

func TestDequeueDropsOrphans(t *testing.T) {
	q, rdb := newTestQueue(t)
	ctx := context.Background()

	// Simulate an orphaned id: present in pending with no matching payload.
	rdb.ZAdd(keyPending(domain.EventInvoiceCreated), float64(time.Now().UnixMilli()), "orphan-id")

	events, err := q.Dequeue(ctx, domain.EventInvoiceCreated, 10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, events)

	has, err := q.HasEvent(ctx, domain.EventInvoiceCreated, "orphan-id")
	require.NoError(t, err)
	assert.False(t, has, "orphan ids must be removed, not delivered")
}

func TestDeadLetterAndStatus(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	ev := domain.QueuedEvent{ID: "evt-dlq", Type: domain.EventSwapUpdate, ScheduledAt: time.Now().UnixMilli()}
	_, err := q.Enqueue(ctx, ev)
	require.NoError(t, err)

	_, err = q.Dequeue(ctx, ev.Type, 10, time.Now())
	require.NoError(t, err)

	require.NoError(t, q.DeadLetter(ctx, ev, "adapter exhausted retries"))

	status, err := q.GetQueueStatus(ctx, []domain.EventType{ev.Type})
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.DeadLetterLength)
	assert.Equal(t, "deadLetter", status.LastAction)
}

func TestMoveProcessingToPendingRecovers(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	ev := domain.QueuedEvent{ID: "evt-crash", Type: domain.EventInvoiceCreated, ScheduledAt: time.Now().UnixMilli()}
	_, err := q.Enqueue(ctx, ev)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, ev.Type, 10, time.Now())
	require.NoError(t, err)

	require.NoError(t, q.MoveProcessingToPending(ctx, []domain.EventType{ev.Type}))

	events, err := q.Dequeue(ctx, ev.Type, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.ID, events[0].ID)
}

func TestBackfillCursor(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	cursor, err := q.GetBackfillCursor(ctx)
	require.NoError(t, err)
	assert.Empty(t, cursor)

	require.NoError(t, q.SetBackfillCursor(ctx, "block-12345"))

	cursor, err = q.GetBackfillCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "block-12345", cursor)
}
