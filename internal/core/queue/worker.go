package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var jobsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kh_jobs_total",
		Help: "Jobs finished by queue workers, by result.",
	},
	[]string{"queue", "result"},
)

// consumer is the broker-specific half of a worker.
type consumer interface {
	// next blocks for the next job. It returns errNoJob when a poll times out.
	next(ctx context.Context) (Job, error)
	complete(ctx context.Context, job Job) error
	fail(ctx context.Context, job Job, cause error) error
}

// leaser is implemented by consumers whose unacknowledged jobs outlive the
// process. A live worker renews its lease; jobs of expired leases are
// reclaimed by the others.
type leaser interface {
	leaseTTL() time.Duration
	heartbeat(ctx context.Context) error
	reclaim(ctx context.Context) (int, error)
	release(ctx context.Context) error
}

// Worker drains one queue with a fixed number of goroutines.
type Worker struct {
	queue    string
	handler  Handler
	consumer consumer
	opts     Options
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

func newWorker(queue string, handler Handler, c consumer, opts Options) *Worker {
	return &Worker{
		queue:    queue,
		handler:  handler,
		consumer: c,
		opts:     opts,
		logger:   opts.Logger.With("component", "worker", "queue", queue),
	}
}

// Run processes jobs until ctx is cancelled or Close is called.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()
	defer cancel()

	var leases sync.WaitGroup
	l, leased := w.consumer.(leaser)
	if leased {
		w.renew(ctx, l)
		leases.Add(1)
		go func() {
			defer leases.Done()
			w.keepLease(ctx, l)
		}()
	}

	w.logger.Info("worker started", slog.Int("concurrency", w.opts.Concurrency))
	var loops sync.WaitGroup
	for i := 1; i <= w.opts.Concurrency; i++ {
		loops.Add(1)
		go func(id int) {
			defer loops.Done()
			w.loop(ctx, id)
		}(i)
	}
	loops.Wait()
	cancel()
	leases.Wait()

	if leased {
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := l.release(rctx); err != nil {
			w.logger.Warn("release worker lease", slog.Any("error", err))
		}
		rcancel()
	}
	w.logger.Info("worker stopped")
	return nil
}

// Close stops the worker and waits for in-flight jobs to return.
func (w *Worker) Close() {
	w.mu.Lock()
	w.closed = true
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *Worker) keepLease(ctx context.Context, l leaser) {
	t := time.NewTicker(l.leaseTTL() / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.renew(ctx, l)
		}
	}
}

// renew refreshes the heartbeat, then requeues jobs of workers that died.
func (w *Worker) renew(ctx context.Context, l leaser) {
	if err := l.heartbeat(ctx); err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("worker heartbeat failed", slog.Any("error", err))
		}
		return
	}
	n, err := l.reclaim(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("reclaim of orphaned jobs failed", slog.Any("error", err))
		}
		return
	}
	if n > 0 {
		w.logger.Info("requeued orphaned jobs", slog.Int("count", n))
	}
}

func (w *Worker) loop(ctx context.Context, id int) {
	for {
		job, err := w.consumer.next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return
			}
			if errors.Is(err, errNoJob) {
				continue
			}
			w.logger.Error("dequeue failed", slog.Int("worker", id), slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.process(ctx, id, job)
	}
}

func (w *Worker) process(ctx context.Context, id int, job Job) {
	log := w.logger.With(
		slog.Int("worker", id),
		slog.String("job_id", job.ID),
		slog.String("job", job.Name),
		slog.Int("attempts", job.Attempts),
	)
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, w.opts.JobTimeout)
	err := w.run(jobCtx, job)
	cancel()

	// Shutdown interrupted the job: leave it unacknowledged so it is redelivered.
	if err != nil && ctx.Err() != nil {
		jobsTotal.WithLabelValues(w.queue, "interrupted").Inc()
		log.Warn("job interrupted by shutdown", slog.Any("error", err))
		return
	}

	ackCtx, ackCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer ackCancel()

	if err != nil {
		jobsTotal.WithLabelValues(w.queue, "failed").Inc()
		log.Error("job failed", slog.Duration("took", time.Since(start)), slog.Any("error", err))
		if ferr := w.consumer.fail(ackCtx, job, err); ferr != nil {
			log.Error("record job failure", slog.Any("error", ferr))
		}
		return
	}

	jobsTotal.WithLabelValues(w.queue, "completed").Inc()
	log.Info("job completed", slog.Duration("took", time.Since(start)))
	if cerr := w.consumer.complete(ackCtx, job); cerr != nil {
		log.Error("acknowledge job", slog.Any("error", cerr))
	}
}

// run calls the handler, turning a panic into a job failure.
func (w *Worker) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, job)
}
