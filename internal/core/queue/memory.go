package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryQueueSize = 64

// FailedJob is a job whose handler returned an error.
type FailedJob struct {
	Job      Job       `json:"job"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
}

// MemoryBroker keeps queues in buffered channels inside the process. Jobs do
// not survive a restart.
type MemoryBroker struct {
	opts Options

	mu      sync.Mutex
	queues  map[string]*memoryQueue
	workers []*Worker
	closed  chan struct{}
	once    sync.Once
}

var _ Broker = (*MemoryBroker)(nil)

func NewMemoryBroker(opts Options) *MemoryBroker {
	return &MemoryBroker{
		opts:   opts.withDefaults(),
		queues: make(map[string]*memoryQueue),
		closed: make(chan struct{}),
	}
}

type memoryQueue struct {
	name   string
	jobs   chan Job
	closed <-chan struct{}

	mu        sync.Mutex
	completed int
	failed    []FailedJob
}

func (b *MemoryBroker) queue(name string) (*memoryQueue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.closed:
		return nil, ErrClosed
	default:
	}

	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{name: name, jobs: make(chan Job, memoryQueueSize), closed: b.closed}
		b.queues[name] = q
	}
	return q, nil
}

func (b *MemoryBroker) CreateQueue(name string) (Queue, error) {
	return b.queue(name)
}

func (b *MemoryBroker) CreateWorker(name string, handler Handler) (*Worker, error) {
	q, err := b.queue(name)
	if err != nil {
		return nil, err
	}
	w := newWorker(name, handler, q, b.opts)

	b.mu.Lock()
	b.workers = append(b.workers, w)
	b.mu.Unlock()
	return w, nil
}

// Stats reports how many jobs completed and which failed on a queue.
func (b *MemoryBroker) Stats(name string) (completed int, failed []FailedJob) {
	b.mu.Lock()
	q, ok := b.queues[name]
	b.mu.Unlock()
	if !ok {
		return 0, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed, append([]FailedJob(nil), q.failed...)
}

func (b *MemoryBroker) Close() error {
	b.once.Do(func() { close(b.closed) })

	b.mu.Lock()
	workers := b.workers
	b.workers = nil
	b.mu.Unlock()

	for _, w := range workers {
		w.Close()
	}
	return nil
}

func (q *memoryQueue) Name() string { return q.name }

// Add blocks while the queue is full.
func (q *memoryQueue) Add(ctx context.Context, jobName, payload string) (Job, error) {
	job := Job{
		ID:         uuid.NewString(),
		Queue:      q.name,
		Name:       jobName,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
		Attempts:   1,
	}
	select {
	case q.jobs <- job:
		return job, nil
	case <-q.closed:
		return Job{}, ErrClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (q *memoryQueue) next(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.closed:
		return Job{}, ErrClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (q *memoryQueue) complete(_ context.Context, _ Job) error {
	q.mu.Lock()
	q.completed++
	q.mu.Unlock()
	return nil
}

func (q *memoryQueue) fail(_ context.Context, job Job, cause error) error {
	q.mu.Lock()
	q.failed = append(q.failed, FailedJob{Job: job, Error: cause.Error(), FailedAt: time.Now().UTC()})
	q.mu.Unlock()
	return nil
}
