package timer

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/nodeflow/pkg/schema"
)

const defaultRedisKey = "nodeflow:timers"

// RedisSchedule is the durable Schedule: a sorted set scored by due time in
// unix milliseconds. Multiple workers can poll concurrently; each member is
// removed with ZRem before it is delivered, so a member lands in at most one
// poll result even when polls overlap.
type RedisSchedule struct {
	client redis.UniversalClient
	key    string
}

// NewRedisSchedule creates a schedule over the given client. key defaults to
// "nodeflow:timers".
func NewRedisSchedule(client redis.UniversalClient, key string) *RedisSchedule {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisSchedule{client: client, key: key}
}

func (r *RedisSchedule) Insert(ctx context.Context, entry Entry) error {
	member, err := json.Marshal(entry)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "encode timer entry: %s", err.Error()).WithCause(err)
	}

	err = r.client.ZAdd(ctx, r.key, redis.Z{
		Score:  float64(entry.DueAt.UnixMilli()),
		Member: string(member),
	}).Err()
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "insert timer entry: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (r *RedisSchedule) DrainDue(ctx context.Context, now time.Time) ([]Entry, error) {
	members, err := r.client.ZRangeByScore(ctx, r.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "range due timers: %s", err.Error()).WithCause(err)
	}

	var due []Entry
	for _, member := range members {
		// Claim the member; a concurrent poll that raced us gets 0 here.
		removed, err := r.client.ZRem(ctx, r.key, member).Result()
		if err != nil {
			return due, schema.NewErrorf(schema.ErrCodeStore, "claim timer entry: %s", err.Error()).WithCause(err)
		}
		if removed == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			// A corrupt member is already removed; skip it rather than jam
			// the whole poll.
			continue
		}
		due = append(due, entry)
	}
	return due, nil
}

func (r *RedisSchedule) Cancel(ctx context.Context, executionID, nodeID string) (int, error) {
	members, err := r.client.ZRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeStore, "list timer entries: %s", err.Error()).WithCause(err)
	}

	removed := 0
	for _, member := range members {
		var entry Entry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			continue
		}
		if entry.ExecutionID != executionID || entry.NodeID != nodeID {
			continue
		}
		n, err := r.client.ZRem(ctx, r.key, member).Result()
		if err != nil {
			return removed, schema.NewErrorf(schema.ErrCodeStore, "remove timer entry: %s", err.Error()).WithCause(err)
		}
		removed += int(n)
	}
	return removed, nil
}

func (r *RedisSchedule) Len(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.key).Result()
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeStore, "count timer entries: %s", err.Error()).WithCause(err)
	}
	return int(n), nil
}

var _ Schedule = (*RedisSchedule)(nil)
