package timer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rendis/nodeflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisSchedule(t *testing.T) *RedisSchedule {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSchedule(client, "test:timers")
}

func redisEntry(id, executionID, nodeID string, dueAt time.Time) Entry {
	return Entry{
		ID:          id,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Reason:      schema.PauseReasonWait,
		ResumePort:  schema.PortCompleted,
		DueAt:       dueAt,
	}
}

func TestRedisScheduleDrainDue(t *testing.T) {
	sched := newRedisSchedule(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, sched.Insert(ctx, redisEntry("e1", "exec-1", "n1", now.Add(-time.Minute))))
	require.NoError(t, sched.Insert(ctx, redisEntry("e2", "exec-1", "n2", now.Add(-time.Second))))
	require.NoError(t, sched.Insert(ctx, redisEntry("e3", "exec-1", "n3", now.Add(time.Hour))))

	due, err := sched.DrainDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)

	ids := map[string]bool{}
	for _, e := range due {
		ids[e.ID] = true
	}
	assert.True(t, ids["e1"])
	assert.True(t, ids["e2"])

	// Future entry survives; drained entries do not reappear.
	due, err = sched.DrainDue(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	n, err := sched.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisScheduleCancel(t *testing.T) {
	sched := newRedisSchedule(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, sched.Insert(ctx, redisEntry("e1", "exec-1", "n1", now)))
	require.NoError(t, sched.Insert(ctx, redisEntry("e2", "exec-1", "n1", now.Add(time.Minute))))
	require.NoError(t, sched.Insert(ctx, redisEntry("e3", "exec-2", "n1", now)))

	removed, err := sched.Cancel(ctx, "exec-1", "n1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	n, err := sched.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisBackedService(t *testing.T) {
	sched := newRedisSchedule(t)
	clock := newFakeClock()
	svc := NewService(sched, WithClock(clock.Now))
	ctx := context.Background()

	_, err := svc.Schedule(ctx, "exec-1", "node-1", 1000, schema.PauseReasonDelay, schema.PortMain)
	require.NoError(t, err)

	due, err := svc.PollDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)

	clock.Advance(time.Second)
	due, err = svc.PollDue(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "node-1", due[0].NodeID)
}
