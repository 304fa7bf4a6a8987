// Package queue provides named job queues with at-least-once delivery and
// workers that drain them with bounded concurrency.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var (
	ErrBrokerUnavailable = errors.New("queue broker unavailable")
	ErrClosed            = errors.New("queue broker closed")

	// errNoJob is returned by a consumer poll that timed out empty.
	errNoJob = errors.New("no job available")
)

// Job is one unit of work. Payload is opaque to the queue.
type Job struct {
	ID         string    `json:"id"`
	Queue      string    `json:"queue"`
	Name       string    `json:"name"`
	Payload    string    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Attempts   int       `json:"attempts"`

	// raw is the encoded form as stored by the broker, used to acknowledge it.
	raw string
}

// Handler processes one job. A returned error marks the job failed.
type Handler func(ctx context.Context, job Job) error

type Queue interface {
	Name() string
	Add(ctx context.Context, jobName, payload string) (Job, error)
}

type Broker interface {
	CreateQueue(name string) (Queue, error)
	CreateWorker(name string, handler Handler) (*Worker, error)
	Close() error
}

// Options tune the workers a broker creates.
type Options struct {
	Concurrency int
	JobTimeout  time.Duration
	// HeartbeatTTL is how long a silent Redis worker keeps its jobs before
	// other workers reclaim them.
	HeartbeatTTL time.Duration
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 5 * time.Minute
	}
	if o.HeartbeatTTL <= 0 {
		o.HeartbeatTTL = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
