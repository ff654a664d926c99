// Package redis mirrors internal/awaitlist's interface over Redis: a
// sorted set holds the time index, a hash holds each task's payload, and a
// Pub/Sub channel plays the role the in-memory condition variable's notify
// channel plays — waking a blocked consumer early when an earlier task is
// added or the head is cancelled. Grounded on the teacher's
// registry/result_stream.go, which wraps a *redis.Client the same way:
// context-first calls through go-redis/v9, errors checked via .Err()/
// .Result(), TTL/Set/Get/Del for small keyed records.
//
// Not used by the default single-process executor (spec §5's single
// consumer needs nothing beyond the in-memory queue); this exists for a
// multi-process deployment where the executor is replicated behind a
// leader election scheme, which this package does not itself implement.
//
// One divergence from the in-memory AwaitList: ZRANGE breaks ties on equal
// score by member order (here, UUID string order), not insertion order, so
// two tasks added for the same execution time may be claimed in a
// different order than they were added.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/metasched/orchestrator/internal/awaitlist"
)

// AwaitList is a Redis-backed mirror of awaitlist.AwaitList. Unlike the
// in-memory version it may safely be shared by multiple consumer
// processes; WaitNext uses an optimistic remove to arbitrate which
// consumer actually claims a given task.
type AwaitList struct {
	rdb       *redis.Client
	indexKey  string // sorted set: member=task id, score=execution unix nano
	tasksKey  string // hash: field=task id, value=JSON-encoded awaitlist.Task
	channel   string // Pub/Sub channel used to wake blocked WaitNext calls
	pollFloor time.Duration
}

// New returns an AwaitList namespaced under prefix, so multiple logical
// await-lists can share one Redis instance.
func New(rdb *redis.Client, prefix string) *AwaitList {
	return &AwaitList{
		rdb:       rdb,
		indexKey:  prefix + ":index",
		tasksKey:  prefix + ":tasks",
		channel:   prefix + ":notify",
		pollFloor: 10 * time.Millisecond,
	}
}

func (a *AwaitList) wake(ctx context.Context) {
	a.rdb.Publish(ctx, a.channel, "wake")
}

// Add inserts a task for execution at executionTime, generating an id if
// none is given, and wakes any blocked consumer.
func (a *AwaitList) Add(ctx context.Context, executionTime time.Time, content string, id uuid.UUID) (awaitlist.Task, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}

	exists, err := a.rdb.HExists(ctx, a.tasksKey, id.String()).Result()
	if err != nil {
		return awaitlist.Task{}, fmt.Errorf("awaitlist/redis: check existing %s: %w", id, err)
	}
	if exists {
		return awaitlist.Task{}, fmt.Errorf("%w: %s", awaitlist.ErrDuplicateTask, id)
	}

	task := awaitlist.Task{ExecutionTime: executionTime, ID: id, Content: content}
	raw, err := json.Marshal(task)
	if err != nil {
		return awaitlist.Task{}, fmt.Errorf("awaitlist/redis: encode task %s: %w", id, err)
	}

	pipe := a.rdb.TxPipeline()
	pipe.HSet(ctx, a.tasksKey, id.String(), raw)
	pipe.ZAdd(ctx, a.indexKey, redis.Z{Score: float64(executionTime.UnixNano()), Member: id.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return awaitlist.Task{}, fmt.Errorf("awaitlist/redis: add task %s: %w", id, err)
	}

	a.wake(ctx)
	return task, nil
}

// Cancel removes the task with the given id, if present, and reports
// whether it found one.
func (a *AwaitList) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	pipe := a.rdb.TxPipeline()
	zrem := pipe.ZRem(ctx, a.indexKey, id.String())
	pipe.HDel(ctx, a.tasksKey, id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("awaitlist/redis: cancel %s: %w", id, err)
	}
	a.wake(ctx)
	return zrem.Val() > 0, nil
}

// GetTasks returns every pending task, ordered by execution time.
func (a *AwaitList) GetTasks(ctx context.Context) ([]awaitlist.Task, error) {
	ids, err := a.rdb.ZRange(ctx, a.indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("awaitlist/redis: list: %w", err)
	}
	return a.loadTasks(ctx, ids)
}

func (a *AwaitList) loadTasks(ctx context.Context, ids []string) ([]awaitlist.Task, error) {
	out := make([]awaitlist.Task, 0, len(ids))
	for _, id := range ids {
		raw, err := a.rdb.HGet(ctx, a.tasksKey, id).Result()
		if err == redis.Nil {
			continue // raced with a Cancel/claim between ZRange and HGet
		}
		if err != nil {
			return nil, fmt.Errorf("awaitlist/redis: load task %s: %w", id, err)
		}
		var t awaitlist.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("awaitlist/redis: decode task %s: %w", id, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// WaitNext blocks until the earliest pending task's execution time has
// arrived, then claims and returns it. Claiming is optimistic: if another
// consumer already removed the task between the peek and the claim, this
// loops and tries the new earliest task instead of failing.
func (a *AwaitList) WaitNext(ctx context.Context) (awaitlist.Task, error) {
	sub := a.rdb.Subscribe(ctx, a.channel)
	defer sub.Close()
	notify := sub.Channel()

	for {
		if err := ctx.Err(); err != nil {
			return awaitlist.Task{}, err
		}

		zs, err := a.rdb.ZRangeWithScores(ctx, a.indexKey, 0, 0).Result()
		if err != nil {
			return awaitlist.Task{}, fmt.Errorf("awaitlist/redis: peek: %w", err)
		}

		if len(zs) > 0 {
			id := zs[0].Member.(string)
			execTime := time.Unix(0, int64(zs[0].Score))
			wait := time.Until(execTime)
			if wait <= 0 {
				removed, err := a.rdb.ZRem(ctx, a.indexKey, id).Result()
				if err != nil {
					return awaitlist.Task{}, fmt.Errorf("awaitlist/redis: claim %s: %w", id, err)
				}
				if removed == 0 {
					continue // another consumer claimed it first
				}
				raw, err := a.rdb.HGet(ctx, a.tasksKey, id).Result()
				if err != nil {
					return awaitlist.Task{}, fmt.Errorf("awaitlist/redis: load claimed task %s: %w", id, err)
				}
				a.rdb.HDel(ctx, a.tasksKey, id)
				var t awaitlist.Task
				if err := json.Unmarshal([]byte(raw), &t); err != nil {
					return awaitlist.Task{}, fmt.Errorf("awaitlist/redis: decode claimed task %s: %w", id, err)
				}
				return t, nil
			}
			if wait < a.pollFloor {
				wait = a.pollFloor
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return awaitlist.Task{}, ctx.Err()
			case <-timer.C:
				continue
			case <-notify:
				timer.Stop()
				continue
			}
		}

		select {
		case <-ctx.Done():
			return awaitlist.Task{}, ctx.Err()
		case <-notify:
			continue
		}
	}
}
