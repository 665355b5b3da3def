package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job is a queued message together with its delivery attempt count.
type Job struct {
	Message  Message   `json:"message"`
	Attempts int       `json:"attempts"`
	QueuedAt time.Time `json:"queued_at"`
}

// Queue buffers jobs between the issuing request and the delivery workers.
type Queue interface {
	Push(ctx context.Context, job Job) error
	// Pop blocks until a job is available or ctx is done.
	Pop(ctx context.Context) (Job, error)
	Close() error
}

// MemoryQueue is an in-process bounded queue.
type MemoryQueue struct {
	mu     sync.RWMutex
	jobs   chan Job
	done   chan struct{}
	closed bool
}

// NewMemoryQueue builds an in-process queue holding at most size jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{jobs: make(chan Job, size), done: make(chan struct{})}
}

func (q *MemoryQueue) Push(_ context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Pop(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.done:
		return Job{}, ErrQueueClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

const redisQueueKey = "notifications:v1:queue"

// RedisQueue stores jobs in a Redis list so that queued messages survive a
// restart and can be drained by any replica.
type RedisQueue struct {
	client  *redis.Client
	key     string
	pollFor time.Duration
}

// NewRedisQueue builds a Redis backed queue.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, key: redisQueueKey, pollFor: time.Second}
}

func (q *RedisQueue) Push(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		res, err := q.client.BRPop(ctx, q.pollFor, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			return Job{}, fmt.Errorf("pop job: %w", err)
		}
		// BRPOP replies with [key, value].
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return Job{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}

func (q *RedisQueue) Close() error { return nil }
