package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedisBroker(context.Background(), RedisOptions{Addr: mr.Addr()}, testOptions(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestNewRedisBroker_FailsFast(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisBroker(context.Background(), RedisOptions{Addr: addr}, testOptions(1))
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
}

func TestRedisBroker_AddEnqueuesJSON(t *testing.T) {
	b, mr := newTestRedisBroker(t)

	q, err := b.CreateQueue("file-ready")
	require.NoError(t, err)
	job, err := q.Add(context.Background(), "process-file", `{"path":"a"}`)
	require.NoError(t, err)

	items, err := mr.List("kh:queue:file-ready:wait")
	require.NoError(t, err)
	require.Len(t, items, 1)

	var stored Job
	require.NoError(t, json.Unmarshal([]byte(items[0]), &stored))
	assert.Equal(t, job.ID, stored.ID)
	assert.Equal(t, "process-file", stored.Name)
	assert.Equal(t, `{"path":"a"}`, stored.Payload)
}

func TestRedisBroker_CompletesAndFails(t *testing.T) {
	b, mr := newTestRedisBroker(t)
	ctx := context.Background()

	q, err := b.CreateQueue("file-ready")
	require.NoError(t, err)
	w, err := b.CreateWorker("file-ready", func(_ context.Context, job Job) error {
		if job.Payload == "bad" {
			return errors.New("unsupported file type")
		}
		return nil
	})
	require.NoError(t, err)

	for _, p := range []string{"good", "bad", "good"} {
		_, err := q.Add(ctx, "process-file", p)
		require.NoError(t, err)
	}
	runWorker(t, w)

	require.Eventually(t, func() bool {
		done, _ := mr.Get("kh:queue:file-ready:completed")
		return done == "2"
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		waiting, active, failed, err := b.Counts(ctx, "file-ready")
		return err == nil && waiting == 0 && active == 0 && failed == 1
	}, 5*time.Second, 20*time.Millisecond)

	failed, err := b.Failed(ctx, "file-ready", 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].Job.Payload)
	assert.Equal(t, "unsupported file type", failed[0].Error)
}

func TestRedisBroker_RequeuesOrphanedJobs(t *testing.T) {
	b, mr := newTestRedisBroker(t)

	// A job taken by a worker that died: registered, no heartbeat.
	orphan, err := json.Marshal(Job{ID: "j1", Queue: "file-ready", Name: "process-file", Payload: "p", Attempts: 1})
	require.NoError(t, err)
	_, err = mr.SAdd("kh:queue:file-ready:workers", "dead")
	require.NoError(t, err)
	_, err = mr.Lpush("kh:queue:file-ready:active:dead", string(orphan))
	require.NoError(t, err)

	got := make(chan Job, 1)
	w, err := b.CreateWorker("file-ready", func(_ context.Context, job Job) error {
		got <- job
		return nil
	})
	require.NoError(t, err)
	runWorker(t, w)

	select {
	case job := <-got:
		assert.Equal(t, "j1", job.ID)
		assert.Equal(t, 2, job.Attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("orphaned job was not redelivered")
	}
	assert.False(t, mr.Exists("kh:queue:file-ready:active:dead"))
	members, err := mr.Members("kh:queue:file-ready:workers")
	require.NoError(t, err)
	assert.NotContains(t, members, "dead")
}

func TestRedisBroker_LiveWorkerKeepsItsJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	connect := func() *RedisBroker {
		b, err := NewRedisBroker(context.Background(), RedisOptions{Addr: mr.Addr()}, testOptions(1))
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	}
	first, second := connect(), connect()

	var calls atomic.Int32
	started := make(chan Job, 4)
	release := make(chan struct{})
	handler := func(ctx context.Context, job Job) error {
		calls.Add(1)
		started <- job
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}

	q, err := first.CreateQueue("file-ready")
	require.NoError(t, err)
	w1, err := first.CreateWorker("file-ready", handler)
	require.NoError(t, err)
	runWorker(t, w1)

	_, err = q.Add(context.Background(), "process-file", "p")
	require.NoError(t, err)
	select {
	case job := <-started:
		assert.Equal(t, 1, job.Attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not delivered")
	}

	// A second process starts while the first is still busy.
	w2, err := second.CreateWorker("file-ready", handler)
	require.NoError(t, err)
	runWorker(t, w2)
	require.Eventually(t, func() bool {
		members, _ := mr.Members("kh:queue:file-ready:workers")
		return len(members) == 2
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case job := <-started:
		t.Fatalf("job %s redelivered to a second worker (attempts %d)", job.ID, job.Attempts)
	case <-time.After(300 * time.Millisecond):
	}

	close(release)
	require.Eventually(t, func() bool {
		done, _ := mr.Get("kh:queue:file-ready:completed")
		return done == "1"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRedisBroker_CleanShutdownDeregisters(t *testing.T) {
	b, mr := newTestRedisBroker(t)

	w, err := b.CreateWorker("file-ready", func(context.Context, Job) error { return nil })
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(context.Background())
	}()

	require.Eventually(t, func() bool {
		members, _ := mr.Members("kh:queue:file-ready:workers")
		return len(members) == 1 && mr.Exists("kh:queue:file-ready:heartbeat:"+members[0])
	}, 5*time.Second, 10*time.Millisecond)

	w.Close()
	<-done
	members, _ := mr.Members("kh:queue:file-ready:workers")
	assert.Empty(t, members)
	assert.Empty(t, mr.Keys())
}

func TestRedisBroker_ClosedBroker(t *testing.T) {
	b, _ := newTestRedisBroker(t)
	require.NoError(t, b.Close())

	_, err := b.CreateQueue("q")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = b.CreateWorker("q", func(context.Context, Job) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}
