package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const pollTimeout = 2 * time.Second

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisBroker keeps each queue in Redis:
//
//	kh:queue:<name>:wait            jobs waiting for a worker (LPUSH / BRPOPLPUSH)
//	kh:queue:<name>:active:<id>     jobs taken by worker <id> and not yet acknowledged
//	kh:queue:<name>:heartbeat:<id>  set with a TTL while worker <id> is alive
//	kh:queue:<name>:workers         ids of workers that may hold active jobs
//	kh:queue:<name>:failed          failed jobs with their error
//	kh:queue:<name>:completed       completed job counter
//
// A job stays in its worker's active list until the handler returns. Once a
// worker's heartbeat expires, any other worker of the queue moves its active
// jobs back to :wait.
type RedisBroker struct {
	client *redis.Client
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	workers []*Worker
	closed  bool
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker connects and pings once, failing fast when Redis is down.
func NewRedisBroker(ctx context.Context, ropts RedisOptions, opts Options) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     ropts.Addr,
		Password: ropts.Password,
		DB:       ropts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis at %s: %v", ErrBrokerUnavailable, ropts.Addr, err)
	}

	opts = opts.withDefaults()
	opts.Logger.Info("connected to redis", slog.String("addr", ropts.Addr))
	return &RedisBroker{client: client, opts: opts, logger: opts.Logger}, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func queueKey(name, part string) string {
	return "kh:queue:" + name + ":" + part
}

func (b *RedisBroker) redisQueue(name string) (*redisQueue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return &redisQueue{
		client:  b.client,
		name:    name,
		wait:    queueKey(name, "wait"),
		workers: queueKey(name, "workers"),
		failed:  queueKey(name, "failed"),
		done:    queueKey(name, "completed"),
	}, nil
}

func (b *RedisBroker) CreateQueue(name string) (Queue, error) {
	return b.redisQueue(name)
}

func (b *RedisBroker) CreateWorker(name string, handler Handler) (*Worker, error) {
	q, err := b.redisQueue(name)
	if err != nil {
		return nil, err
	}
	c := &redisConsumer{redisQueue: q, id: uuid.NewString(), ttl: b.opts.HeartbeatTTL}
	w := newWorker(name, handler, c, b.opts)

	b.mu.Lock()
	b.workers = append(b.workers, w)
	b.mu.Unlock()
	return w, nil
}

// Close stops every worker created by the broker, then closes the connection.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	workers := b.workers
	b.workers = nil
	b.mu.Unlock()

	for _, w := range workers {
		w.Close()
	}
	return b.client.Close()
}

type redisQueue struct {
	client  *redis.Client
	name    string
	wait    string
	workers string
	failed  string
	done    string
}

func (q *redisQueue) Name() string { return q.name }

func (q *redisQueue) Add(ctx context.Context, jobName, payload string) (Job, error) {
	job := Job{
		ID:         uuid.NewString(),
		Queue:      q.name,
		Name:       jobName,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
		Attempts:   1,
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return Job{}, fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.wait, raw).Err(); err != nil {
		return Job{}, fmt.Errorf("enqueue %s: %w", q.name, err)
	}
	job.raw = string(raw)
	return job, nil
}

func (q *redisQueue) activeKey(workerID string) string {
	return queueKey(q.name, "active:"+workerID)
}

func (q *redisQueue) heartbeatKey(workerID string) string {
	return queueKey(q.name, "heartbeat:"+workerID)
}

func (q *redisQueue) failedEntry(job Job, cause error) ([]byte, error) {
	return json.Marshal(FailedJob{Job: job, Error: cause.Error(), FailedAt: time.Now().UTC()})
}

// redisConsumer is one worker's view of a queue.
type redisConsumer struct {
	*redisQueue
	id  string
	ttl time.Duration
}

func (c *redisConsumer) next(ctx context.Context) (Job, error) {
	raw, err := c.client.BRPopLPush(ctx, c.wait, c.activeKey(c.id), pollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, errNoJob
	}
	if err != nil {
		return Job{}, err
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Unreadable entries can never succeed; park them with the failures.
		_ = c.moveToFailed(ctx, raw, Job{Queue: c.name}, fmt.Errorf("decode job: %w", err))
		return Job{}, errNoJob
	}
	job.raw = raw
	return job, nil
}

func (c *redisConsumer) complete(ctx context.Context, job Job) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, c.activeKey(c.id), 1, job.raw)
		pipe.Incr(ctx, c.done)
		return nil
	})
	return err
}

func (c *redisConsumer) fail(ctx context.Context, job Job, cause error) error {
	return c.moveToFailed(ctx, job.raw, job, cause)
}

func (c *redisConsumer) moveToFailed(ctx context.Context, raw string, job Job, cause error) error {
	entry, err := c.failedEntry(job, cause)
	if err != nil {
		return err
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, c.activeKey(c.id), 1, raw)
		pipe.LPush(ctx, c.failed, entry)
		return nil
	})
	return err
}

func (c *redisConsumer) leaseTTL() time.Duration { return c.ttl }

// heartbeat marks this worker alive for one TTL.
func (c *redisConsumer) heartbeat(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.heartbeatKey(c.id), time.Now().UTC().Format(time.RFC3339), c.ttl)
		pipe.SAdd(ctx, c.workers, c.id)
		return nil
	})
	return err
}

// reclaim requeues the active jobs of every worker whose heartbeat expired.
func (c *redisConsumer) reclaim(ctx context.Context) (int, error) {
	ids, err := c.client.SMembers(ctx, c.workers).Result()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		if id == c.id {
			continue
		}
		alive, err := c.client.Exists(ctx, c.heartbeatKey(id)).Result()
		if err != nil {
			return total, err
		}
		if alive > 0 {
			continue
		}
		n, err := c.requeueFrom(ctx, id)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// requeueFrom moves a dead worker's active list back to :wait with each
// attempt counter bumped. The list and heartbeat are watched, so a concurrent
// reclaimer or a returning owner aborts the move instead of doubling it.
func (c *redisConsumer) requeueFrom(ctx context.Context, workerID string) (int, error) {
	active := c.activeKey(workerID)
	n := 0
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		if alive, err := tx.Exists(ctx, c.heartbeatKey(workerID)).Result(); err != nil || alive > 0 {
			return err
		}
		raws, err := tx.LRange(ctx, active, 0, -1).Result()
		if err != nil {
			return err
		}

		var requeue, broken []any
		for _, raw := range raws {
			var job Job
			if err := json.Unmarshal([]byte(raw), &job); err != nil {
				entry, err := c.failedEntry(Job{Queue: c.name}, fmt.Errorf("decode job: %w", err))
				if err != nil {
					return err
				}
				broken = append(broken, entry)
				continue
			}
			job.Attempts++
			updated, err := json.Marshal(job)
			if err != nil {
				return err
			}
			requeue = append(requeue, updated)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// RPUSH puts recovered jobs at the consuming end, ahead of newer work.
			if len(requeue) > 0 {
				pipe.RPush(ctx, c.wait, requeue...)
			}
			if len(broken) > 0 {
				pipe.LPush(ctx, c.failed, broken...)
			}
			pipe.Del(ctx, active)
			pipe.SRem(ctx, c.workers, workerID)
			return nil
		})
		if err == nil {
			n = len(requeue)
		}
		return err
	}, active, c.heartbeatKey(workerID))
	if errors.Is(err, redis.TxFailedErr) {
		return 0, nil
	}
	return n, err
}

// release drops the heartbeat on shutdown. Jobs the worker still holds are
// left for the next worker to reclaim; with none left it deregisters.
func (c *redisConsumer) release(ctx context.Context) error {
	active := c.activeKey(c.id)
	return c.client.Watch(ctx, func(tx *redis.Tx) error {
		held, err := tx.LLen(ctx, active).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, c.heartbeatKey(c.id))
			if held == 0 {
				pipe.SRem(ctx, c.workers, c.id)
			}
			return nil
		})
		return err
	}, active)
}

// Failed returns up to limit failed jobs, newest first.
func (b *RedisBroker) Failed(ctx context.Context, queue string, limit int64) ([]FailedJob, error) {
	raws, err := b.client.LRange(ctx, queueKey(queue, "failed"), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]FailedJob, 0, len(raws))
	for _, raw := range raws {
		var f FailedJob
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, fmt.Errorf("decode failed job: %w", err)
		}
		out = append(out, f)
	}
	return out, nil
}

// Counts reports waiting, active and failed jobs for a queue. Active sums
// the lists of every registered worker.
func (b *RedisBroker) Counts(ctx context.Context, queue string) (waiting, active, failed int64, err error) {
	ids, err := b.client.SMembers(ctx, queueKey(queue, "workers")).Result()
	if err != nil {
		return 0, 0, 0, err
	}
	pipe := b.client.Pipeline()
	w := pipe.LLen(ctx, queueKey(queue, "wait"))
	f := pipe.LLen(ctx, queueKey(queue, "failed"))
	held := make([]*redis.IntCmd, 0, len(ids))
	for _, id := range ids {
		held = append(held, pipe.LLen(ctx, queueKey(queue, "active:"+id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	for _, h := range held {
		active += h.Val()
	}
	return w.Val(), active, f.Val(), nil
}
