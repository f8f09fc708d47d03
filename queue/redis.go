package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "mailquill:queue:"

// storedJob is the redis representation of a job.
type storedJob struct {
	Key        string    `json:"key"`
	Payload    Payload   `json:"payload"`
	FireAt     time.Time `json:"fire_at"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RedisQueue is the durable delayed-job queue: a sorted set holds delayed
// jobs scored by fire time, due jobs are promoted onto per-key waiting
// lists, and in-flight jobs sit in an active set until acknowledged.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) jobKey(id string) string      { return keyPrefix + "job:" + id }
func (q *RedisQueue) waitingKey(key string) string { return keyPrefix + "waiting:" + key }

func (q *RedisQueue) delayedKey() string { return keyPrefix + "delayed" }
func (q *RedisQueue) activeKey() string  { return keyPrefix + "active" }
func (q *RedisQueue) keysKey() string    { return keyPrefix + "keys" }

// EnqueueDelayed stores the job and schedules it to become eligible at
// fireAt. A fireAt in the past makes the job eligible on the next promote
// pass, which is how immediate jobs are enqueued.
func (q *RedisQueue) EnqueueDelayed(ctx context.Context, jobKey string, payload Payload, fireAt time.Time) (string, error) {
	id := uuid.New().String()
	raw, err := json.Marshal(storedJob{
		Key:        jobKey,
		Payload:    payload,
		FireAt:     fireAt,
		EnqueuedAt: time.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(id), raw, 0)
	pipe.ZAdd(ctx, q.delayedKey(), &redis.Z{Score: float64(fireAt.UnixMilli()), Member: id})
	pipe.SAdd(ctx, q.keysKey(), jobKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", jobKey, err)
	}
	return id, nil
}

// ListPending returns every job in the requested states. No states means
// all pending states.
func (q *RedisQueue) ListPending(ctx context.Context, states ...State) ([]Job, error) {
	if len(states) == 0 {
		states = PendingStates
	}

	var jobs []Job
	for _, state := range states {
		var ids []string
		var err error

		switch state {
		case StateDelayed:
			ids, err = q.client.ZRange(ctx, q.delayedKey(), 0, -1).Result()
		case StateWaiting:
			ids, err = q.waitingIDs(ctx)
		case StateActive:
			ids, err = q.client.SMembers(ctx, q.activeKey()).Result()
		default:
			return nil, fmt.Errorf("unknown queue state %q", state)
		}
		if err != nil {
			return nil, fmt.Errorf("list %s jobs: %w", state, err)
		}

		for _, id := range ids {
			job, err := q.fetchJob(ctx, id, state)
			if err != nil {
				return nil, err
			}
			if job != nil {
				jobs = append(jobs, *job)
			}
		}
	}
	return jobs, nil
}

func (q *RedisQueue) waitingIDs(ctx context.Context) ([]string, error) {
	keys, err := q.client.SMembers(ctx, q.keysKey()).Result()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, key := range keys {
		listed, err := q.client.LRange(ctx, q.waitingKey(key), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		ids = append(ids, listed...)
	}
	return ids, nil
}

func (q *RedisQueue) fetchJob(ctx context.Context, id string, state State) (*Job, error) {
	raw, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if err == redis.Nil {
		// Body already gone (cancelled or acked between listing and fetch).
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch job %s: %w", id, err)
	}

	var stored storedJob
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}

	job := Job{
		ID:        id,
		Key:       stored.Key,
		Payload:   stored.Payload,
		Timestamp: stored.FireAt,
		State:     state,
	}
	if state == StateDelayed {
		if remaining := time.Until(stored.FireAt); remaining > 0 {
			job.Delay = remaining
		}
	}
	return &job, nil
}

// Cancel removes the job from whichever state it is in.
func (q *RedisQueue) Cancel(ctx context.Context, jobID string) error {
	keys, err := q.client.SMembers(ctx, q.keysKey()).Result()
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.delayedKey(), jobID)
	for _, key := range keys {
		pipe.LRem(ctx, q.waitingKey(key), 0, jobID)
	}
	pipe.SRem(ctx, q.activeKey(), jobID)
	pipe.Del(ctx, q.jobKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	return nil
}

// PromoteDue moves jobs whose fire time has passed onto their waiting
// lists and returns how many were promoted.
func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("promote due jobs: %w", err)
	}

	promoted := 0
	for _, id := range ids {
		job, err := q.fetchJob(ctx, id, StateDelayed)
		if err != nil {
			return promoted, err
		}
		if job == nil {
			q.client.ZRem(ctx, q.delayedKey(), id)
			continue
		}

		pipe := q.client.TxPipeline()
		pipe.RPush(ctx, q.waitingKey(job.Key), id)
		pipe.ZRem(ctx, q.delayedKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return promoted, fmt.Errorf("promote job %s: %w", id, err)
		}
		promoted++
	}
	return promoted, nil
}

// PopWaiting takes the next due job for the given key, marking it active.
// Returns nil when the list is empty.
func (q *RedisQueue) PopWaiting(ctx context.Context, jobKey string) (*Job, error) {
	id, err := q.client.LPop(ctx, q.waitingKey(jobKey)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop %s job: %w", jobKey, err)
	}

	if err := q.client.SAdd(ctx, q.activeKey(), id).Err(); err != nil {
		return nil, fmt.Errorf("mark job %s active: %w", id, err)
	}
	return q.fetchJob(ctx, id, StateActive)
}

// Ack removes a finished job entirely.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.SRem(ctx, q.activeKey(), jobID)
	pipe.Del(ctx, q.jobKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack job %s: %w", jobID, err)
	}
	return nil
}
