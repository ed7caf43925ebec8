package gojob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-wearables/core"
)

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage { return s.msg }

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}

type stubLister struct {
	connections []core.ProviderConnection
	err         error
}

func (s stubLister) ListConnected(context.Context) ([]core.ProviderConnection, error) {
	return s.connections, s.err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestExecutionMessageMappingKeepsFields(t *testing.T) {
	key := core.ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "fitbit"}
	original := RefreshJob(key)

	wire := ToExecutionMessage(original)
	if wire.DedupPolicy != job.DeduplicationPolicy("drop") {
		t.Fatalf("unexpected dedup policy %q", wire.DedupPolicy)
	}
	wire.Parameters["tenant_id"] = "mutated"
	if original.Parameters["tenant_id"] != "t1" {
		t.Fatalf("expected parameters to be copied")
	}

	back := FromExecutionMessage(ToExecutionMessage(original))
	if back.JobID != original.JobID || back.IdempotencyKey != original.IdempotencyKey || back.DedupPolicy != "drop" {
		t.Fatalf("unexpected mapping %+v", back)
	}
	if ToExecutionMessage(nil) != nil || FromExecutionMessage(nil) != nil {
		t.Fatalf("expected nil to map to nil")
	}
}

func TestRetryPolicyNormalizeAttempt(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}

	first := policy.NormalizeAttempt(core.JobNackOptions{Delay: 30 * time.Second, Requeue: true, Reason: " transient "}, 1)
	if !first.Requeue || first.Delay != 10*time.Second || first.Reason != "transient" {
		t.Fatalf("expected bounded requeue, got %+v", first)
	}
	last := policy.NormalizeAttempt(core.JobNackOptions{Delay: time.Second, Requeue: true}, 3)
	if last.Requeue || !last.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %+v", last)
	}
	dropped := RetryPolicy{MaxAttempts: 1}.NormalizeAttempt(core.JobNackOptions{Requeue: true}, 1)
	if dropped.Requeue || dropped.DeadLetter {
		t.Fatalf("expected exhausted job to be dropped without a dead letter queue, got %+v", dropped)
	}
	defaulted := RetryPolicy{}.NormalizeAttempt(core.JobNackOptions{Delay: -time.Second}, 5)
	if !defaulted.Requeue || defaulted.Delay != 0 {
		t.Fatalf("expected unbounded policy to requeue with no delay, got %+v", defaulted)
	}
}

func TestQueue_DropsDuplicateIdempotencyKeysUntilSettled(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()
	enqueuer := NewEnqueuer(q)
	key := core.ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "whoop"}

	for i := 0; i < 3; i++ {
		if err := enqueuer.Enqueue(ctx, RefreshJob(key)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if q.Len() != 1 {
		t.Fatalf("expected duplicates to collapse, got %d pending", q.Len())
	}

	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := enqueuer.Enqueue(ctx, RefreshJob(key)); err != nil {
		t.Fatalf("enqueue while in flight: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected in-flight key to block a second copy")
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := delivery.Ack(ctx); err == nil {
		t.Fatalf("expected second settle to fail")
	}
	if err := enqueuer.Enqueue(ctx, RefreshJob(key)); err != nil {
		t.Fatalf("enqueue after ack: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected ack to release the idempotency key")
	}
}

func TestQueue_RequeueHonorsDelayAndDeadLetters(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	q := NewQueue(WithQueueClock(clock.Now))
	if err := q.Enqueue(ctx, ToExecutionMessage(CleanupJob())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Nack(ctx, queue.NackOptions{Requeue: true, Delay: time.Minute, Reason: "busy"}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if msg, wait := q.next(); msg != nil || wait != time.Minute {
		t.Fatalf("expected delayed retry due in 1m, got %v after %s", msg, wait)
	}

	clock.Advance(time.Minute)
	retry, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue retry: %v", err)
	}
	if err := retry.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: "gave up"}); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	dead := q.DeadLetters()
	if len(dead) != 1 || dead[0].Reason != "gave up" || dead[0].Message.JobID != JobIDTerraCacheCleanup {
		t.Fatalf("unexpected dead letters %+v", dead)
	}
	if err := q.Enqueue(ctx, ToExecutionMessage(CleanupJob())); err != nil || q.Len() != 1 {
		t.Fatalf("expected dead letter to release the key, len=%d err=%v", q.Len(), err)
	}
}

func TestQueue_DequeueStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewQueue().Dequeue(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestScheduler_EnqueueRefreshesSkipsTokenlessConnections(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()
	lister := stubLister{connections: []core.ProviderConnection{
		{TenantID: "t1", UserID: "u1", Provider: "fitbit", ConnectionType: core.ConnectionTypeOAuth},
		{TenantID: "t1", UserID: "u1", Provider: "strava", ConnectionType: core.ConnectionTypeManual},
		{TenantID: "t1", UserID: "u1", Provider: "synthetic", ConnectionType: core.ConnectionTypeSynthetic},
		{TenantID: "t1", UserID: "u1", Provider: "terra", ConnectionType: core.ConnectionTypeWebhook},
	}}
	scheduler := NewScheduler(NewEnqueuer(q), WithRefreshSweep(lister, time.Hour))

	queued, err := scheduler.EnqueueRefreshes(ctx)
	if err != nil {
		t.Fatalf("enqueue refreshes: %v", err)
	}
	if queued != 2 || q.Len() != 2 {
		t.Fatalf("expected two refresh jobs, got queued=%d len=%d", queued, q.Len())
	}

	failing := NewScheduler(NewEnqueuer(q), WithRefreshSweep(stubLister{err: errors.New("db down")}, time.Hour))
	if _, err := failing.EnqueueRefreshes(ctx); err == nil {
		t.Fatalf("expected lister error to surface")
	}
	if _, err := NewScheduler(nil).EnqueueRefreshes(ctx); !core.HasTextCode(err, core.ErrorConfiguration) {
		t.Fatalf("expected configuration error without enqueuer, got %v", err)
	}
}

func TestScheduledJobsFlowThroughQueueToRunner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue()
	lister := stubLister{connections: []core.ProviderConnection{
		{TenantID: "t1", UserID: "u1", Provider: "whoop", ConnectionType: core.ConnectionTypeOAuth},
	}}
	scheduler := NewScheduler(NewEnqueuer(q), WithRefreshSweep(lister, time.Hour))
	if err := scheduler.EnqueueCleanup(ctx); err != nil {
		t.Fatalf("enqueue cleanup: %v", err)
	}
	if _, err := scheduler.EnqueueRefreshes(ctx); err != nil {
		t.Fatalf("enqueue refreshes: %v", err)
	}

	refresher := &signalRefresher{done: make(chan core.ConnectionKey, 1)}
	cleaner := &stubCleaner{}
	runner := NewRunner(WithCredentialRefresher(refresher), WithExpiredCleaner(cleaner))
	stopped := make(chan error, 1)
	go func() { stopped <- runner.Run(ctx, NewDequeuer(q, RetryPolicy{MaxAttempts: 3})) }()

	select {
	case key := <-refresher.done:
		if key.Provider != "whoop" {
			t.Fatalf("unexpected refreshed key %+v", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("refresh job never ran")
	}
	cancel()
	if err := <-stopped; err != nil {
		t.Fatalf("run: %v", err)
	}
	if cleaner.calls != 1 {
		t.Fatalf("expected cleanup to run before the refresh, got %d calls", cleaner.calls)
	}
	if q.Len() != 0 || len(q.DeadLetters()) != 0 {
		t.Fatalf("expected an empty queue, len=%d dead=%d", q.Len(), len(q.DeadLetters()))
	}
}

type signalRefresher struct {
	done chan core.ConnectionKey
}

func (s *signalRefresher) RefreshCredentials(_ context.Context, key core.ConnectionKey) error {
	s.done <- key
	return nil
}
