// queue_redis.go implements the Queue contract on Redis so multiple service
// processes can share one task stream: a list for ready tasks and a sorted
// set (scored by due time) for delayed ones. A promoter moves due tasks from
// the sorted set to the list. The promote step is not atomic across the two
// keys; a crash between ZRem and LPush can drop a delayed task, which the
// throttle tolerates (the sweep or the user re-issues the operation).
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis-backed Queue.
type RedisQueue struct {
	rdb        *redis.Client
	readyKey   string
	delayedKey string
}

// NewRedisQueue creates a queue using the given client and key prefix.
func NewRedisQueue(rdb *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "serverfleet:tasks"
	}
	return &RedisQueue{
		rdb:        rdb,
		readyKey:   prefix + ":ready",
		delayedKey: prefix + ":delayed",
	}
}

// Enqueue pushes the task onto the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, t *Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.readyKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue task %s: %w", t.ID, err)
	}
	return nil
}

// EnqueueAfter parks the task in the delayed set until its due time.
func (q *RedisQueue) EnqueueAfter(ctx context.Context, t *Task, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, t)
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	due := time.Now().Add(delay)
	err = q.rdb.ZAdd(ctx, q.delayedKey, redis.Z{
		Score:  float64(due.Unix()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue delayed task %s: %w", t.ID, err)
	}
	return nil
}

// Dequeue blocks until a task is ready or ctx is done. Between poll
// intervals it promotes due delayed tasks onto the ready list.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		if err := q.promoteDue(ctx); err != nil {
			return nil, err
		}

		res, err := q.rdb.BRPop(ctx, time.Second, q.readyKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("dequeue: %w", err)
		}

		var t Task
		if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
			return nil, fmt.Errorf("decode task payload: %w", err)
		}
		return &t, nil
	}
}

// promoteDue moves every delayed task whose due time has passed onto the
// ready list. ZRem guards against two processes promoting the same member.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, q.delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("scan delayed tasks: %w", err)
	}

	for _, member := range members {
		removed, err := q.rdb.ZRem(ctx, q.delayedKey, member).Result()
		if err != nil {
			return fmt.Errorf("promote delayed task: %w", err)
		}
		if removed == 0 {
			continue // another worker won the race
		}
		if err := q.rdb.LPush(ctx, q.readyKey, member).Err(); err != nil {
			return fmt.Errorf("promote delayed task: %w", err)
		}
	}
	return nil
}
