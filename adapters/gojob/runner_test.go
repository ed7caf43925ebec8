package gojob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	job "github.com/goliatone/go-job"

	"github.com/goliatone/go-wearables/core"
)

type stubRefresher struct {
	keys []core.ConnectionKey
	err  error
}

func (s *stubRefresher) RefreshCredentials(_ context.Context, key core.ConnectionKey) error {
	s.keys = append(s.keys, key)
	return s.err
}

type stubCleaner struct {
	calls int
}

func (s *stubCleaner) CleanupExpired(context.Context) (int, error) {
	s.calls++
	return 3, nil
}

type coreDelivery struct {
	msg   *core.JobExecutionMessage
	acked bool
	nacks []core.JobNackOptions
}

func (d *coreDelivery) Message() *core.JobExecutionMessage { return d.msg }

func (d *coreDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *coreDelivery) Nack(_ context.Context, opts core.JobNackOptions) error {
	d.nacks = append(d.nacks, opts)
	return nil
}

type captureMetrics struct {
	mu       sync.Mutex
	counters []map[string]string
}

func (m *captureMetrics) IncCounter(_ context.Context, _ string, _ int64, tags map[string]string) {
	m.mu.Lock()
	m.counters = append(m.counters, tags)
	m.mu.Unlock()
}

func (m *captureMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func TestRefreshJob_RoundTripsConnectionKey(t *testing.T) {
	key := core.ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "whoop"}
	msg := RefreshJob(key)
	if msg.JobID != JobIDCredentialsRefresh {
		t.Fatalf("unexpected job id %q", msg.JobID)
	}
	if msg.IdempotencyKey != "wearables.credentials.refresh:2:t12:u15:whoop" {
		t.Fatalf("unexpected idempotency key %q", msg.IdempotencyKey)
	}
	got, err := KeyFromParameters(FromExecutionMessage(ToExecutionMessage(msg)).Parameters)
	if err != nil {
		t.Fatalf("key from parameters: %v", err)
	}
	if got != key {
		t.Fatalf("expected %+v, got %+v", key, got)
	}
	if _, err := KeyFromParameters(map[string]any{"tenant_id": "t1"}); !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input for partial key, got %v", err)
	}
}

func TestRunner_HandleAcksSuccessfulJobs(t *testing.T) {
	refresher := &stubRefresher{}
	cleaner := &stubCleaner{}
	metrics := &captureMetrics{}
	runner := NewRunner(
		WithCredentialRefresher(refresher),
		WithExpiredCleaner(cleaner),
		WithMetricsRecorder(metrics),
	)
	ctx := context.Background()

	refresh := &coreDelivery{msg: RefreshJob(core.ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "fitbit"})}
	if err := runner.Handle(ctx, refresh); err != nil {
		t.Fatalf("handle refresh: %v", err)
	}
	if !refresh.acked || len(refresher.keys) != 1 {
		t.Fatalf("expected acked refresh, got acked=%v keys=%v", refresh.acked, refresher.keys)
	}

	cleanup := &coreDelivery{msg: CleanupJob()}
	if err := runner.Handle(ctx, cleanup); err != nil {
		t.Fatalf("handle cleanup: %v", err)
	}
	if !cleanup.acked || cleaner.calls != 1 {
		t.Fatalf("expected acked cleanup")
	}
	if len(metrics.counters) != 2 || metrics.counters[0]["status"] != "ok" {
		t.Fatalf("unexpected job metrics %+v", metrics.counters)
	}
}

func TestRunner_HandleNacksByErrorKind(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		requeue    bool
		deadLetter bool
		delay      time.Duration
	}{
		{"rate limited requeues with hint", core.NewRateLimitedError("whoop", 90*time.Second), true, false, 90 * time.Second},
		{"circuit open requeues", core.NewCircuitOpenError("garmin", 30*time.Second), true, false, 30 * time.Second},
		{"auth failure dead letters", core.NewAuthFailedError("fitbit", "invalid_grant"), false, true, 0},
		{"plain error dead letters", errors.New("boom"), false, true, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runner := NewRunner(WithCredentialRefresher(&stubRefresher{err: tc.err}))
			delivery := &coreDelivery{msg: RefreshJob(core.ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "whoop"})}
			if err := runner.Handle(context.Background(), delivery); !errors.Is(err, tc.err) {
				t.Fatalf("expected job error to surface, got %v", err)
			}
			if delivery.acked || len(delivery.nacks) != 1 {
				t.Fatalf("expected a single nack")
			}
			nack := delivery.nacks[0]
			if nack.Requeue != tc.requeue || nack.DeadLetter != tc.deadLetter {
				t.Fatalf("unexpected nack %+v", nack)
			}
			if nack.Delay != tc.delay {
				t.Fatalf("expected delay %s, got %s", tc.delay, nack.Delay)
			}
		})
	}
}

func TestRunner_DeadLettersAfterMaxAttempts(t *testing.T) {
	runner := NewRunner(WithCredentialRefresher(&stubRefresher{err: core.NewRateLimitedError("whoop", time.Minute)}))
	policy := RetryPolicy{MaxAttempts: 2, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}
	raw := &stubQueueDelivery{msg: ToExecutionMessage(RefreshJob(core.ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "whoop"}))}
	delivery := NewDelivery(raw, policy)

	_ = runner.Handle(context.Background(), delivery)
	if !raw.nackOpts.Requeue || raw.nackOpts.Delay != 10*time.Second {
		t.Fatalf("expected bounded requeue on first attempt, got %+v", raw.nackOpts)
	}
	_ = runner.Handle(context.Background(), delivery)
	if raw.nackOpts.Requeue || !raw.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter on second attempt, got %+v", raw.nackOpts)
	}
}

func TestRunner_RejectsUnknownOrUnconfiguredJobs(t *testing.T) {
	runner := NewRunner()
	ctx := context.Background()
	if err := runner.Execute(ctx, &core.JobExecutionMessage{JobID: "wearables.unknown"}); !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input for unknown job, got %v", err)
	}
	if err := runner.Execute(ctx, CleanupJob()); !core.HasTextCode(err, core.ErrorConfiguration) {
		t.Fatalf("expected configuration error without cleaner, got %v", err)
	}
	if err := runner.Execute(ctx, nil); err == nil {
		t.Fatalf("expected nil message to fail")
	}
}

type sliceDequeuer struct {
	deliveries []core.JobDelivery
	cancel     context.CancelFunc
}

func (d *sliceDequeuer) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if len(d.deliveries) == 0 {
		d.cancel()
		return nil, ctx.Err()
	}
	next := d.deliveries[0]
	d.deliveries = d.deliveries[1:]
	return next, nil
}

func TestRunner_RunDrainsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cleaner := &stubCleaner{}
	first := &coreDelivery{msg: CleanupJob()}
	second := &coreDelivery{msg: &core.JobExecutionMessage{JobID: "wearables.unknown"}}
	dequeuer := &sliceDequeuer{deliveries: []core.JobDelivery{first, second}, cancel: cancel}

	if err := NewRunner(WithExpiredCleaner(cleaner)).Run(ctx, dequeuer); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !first.acked {
		t.Fatalf("expected cleanup to be acked")
	}
	if len(second.nacks) != 1 || !second.nacks[0].DeadLetter {
		t.Fatalf("expected unknown job to be dead-lettered, got %+v", second.nacks)
	}
}

func TestDelivery_FeedsRunnerFromGoJob(t *testing.T) {
	raw := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDTerraCacheCleanup}}
	runner := NewRunner(WithExpiredCleaner(&stubCleaner{}))
	if err := runner.Handle(context.Background(), NewDelivery(raw, RetryPolicy{})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !raw.acked {
		t.Fatalf("expected go-job delivery to be acked")
	}
}
