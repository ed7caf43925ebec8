package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-wearables/core"
)

// CredentialRefresher is satisfied by *core.Service.
type CredentialRefresher interface {
	RefreshCredentials(ctx context.Context, key core.ConnectionKey) error
}

// ExpiredCleaner is satisfied by the terra webhook caches.
type ExpiredCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

const (
	paramTenantID = "tenant_id"
	paramUserID   = "user_id"
	paramProvider = "provider"
)

// RefreshJob builds the queue message that refreshes one connection's tokens.
// The idempotency key collapses duplicate refreshes for the same connection.
func RefreshJob(key core.ConnectionKey) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:      JobIDCredentialsRefresh,
		ScriptPath: JobIDCredentialsRefresh,
		Parameters: map[string]any{
			paramTenantID: key.TenantID,
			paramUserID:   key.UserID,
			paramProvider: key.Provider,
		},
		IdempotencyKey: JobIDCredentialsRefresh + ":" + key.ID(),
		DedupPolicy:    "drop",
	}
}

func CleanupJob() *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:          JobIDTerraCacheCleanup,
		ScriptPath:     JobIDTerraCacheCleanup,
		Parameters:     map[string]any{},
		IdempotencyKey: JobIDTerraCacheCleanup,
		DedupPolicy:    "drop",
	}
}

// KeyFromParameters reads a connection key back out of a refresh job.
func KeyFromParameters(params map[string]any) (core.ConnectionKey, error) {
	key := core.ConnectionKey{
		TenantID: stringParam(params, paramTenantID),
		UserID:   stringParam(params, paramUserID),
		Provider: stringParam(params, paramProvider),
	}
	if key.TenantID == "" || key.UserID == "" || key.Provider == "" {
		return core.ConnectionKey{}, core.NewBadInputError("gojob: refresh job requires tenant_id, user_id and provider")
	}
	return key, nil
}

type Runner struct {
	refresher CredentialRefresher
	cleaner   ExpiredCleaner
	policy    RetryPolicy
	logger    core.Logger
	metrics   core.MetricsRecorder

	mu       sync.Mutex
	attempts map[string]int
}

type RunnerOption func(*Runner)

func WithCredentialRefresher(refresher CredentialRefresher) RunnerOption {
	return func(r *Runner) { r.refresher = refresher }
}

func WithExpiredCleaner(cleaner ExpiredCleaner) RunnerOption {
	return func(r *Runner) { r.cleaner = cleaner }
}

func WithRetryPolicy(policy RetryPolicy) RunnerOption {
	return func(r *Runner) { r.policy = policy }
}

func WithLogger(logger core.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetricsRecorder(metrics core.MetricsRecorder) RunnerOption {
	return func(r *Runner) { r.metrics = metrics }
}

func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		logger:   glog.Nop(),
		attempts: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Execute runs the job named by msg without touching any queue.
func (r *Runner) Execute(ctx context.Context, msg *core.JobExecutionMessage) error {
	if msg == nil {
		return core.NewBadInputError("gojob: execution message is required")
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDCredentialsRefresh:
		if r.refresher == nil {
			return core.NewConfigurationError("gojob: credential refresher is not configured")
		}
		key, err := KeyFromParameters(msg.Parameters)
		if err != nil {
			return err
		}
		return r.refresher.RefreshCredentials(ctx, key)
	case JobIDTerraCacheCleanup:
		if r.cleaner == nil {
			return core.NewConfigurationError("gojob: expired cleaner is not configured")
		}
		removed, err := r.cleaner.CleanupExpired(ctx)
		if err != nil {
			return err
		}
		r.logger.Debug("terra cache cleanup finished", "removed", removed)
		return nil
	default:
		return core.NewBadInputError(fmt.Sprintf("gojob: unknown job id %q", msg.JobID))
	}
}

// Handle executes a delivery and settles it. Retryable failures are requeued
// with the provider's retry hint; anything else is dead-lettered.
func (r *Runner) Handle(ctx context.Context, delivery core.JobDelivery) error {
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	jobID := ""
	attemptKey := ""
	if msg != nil {
		jobID = msg.JobID
		attemptKey = msg.IdempotencyKey
		if attemptKey == "" {
			attemptKey = msg.JobID
		}
	}

	started := time.Now()
	execErr := r.Execute(ctx, msg)
	r.observe(ctx, jobID, execErr, time.Since(started))

	if execErr == nil {
		r.resetAttempts(attemptKey)
		return delivery.Ack(ctx)
	}

	attempt := r.nextAttempt(attemptKey)
	opts := core.JobNackOptions{Reason: execErr.Error()}
	if core.IsRetryable(execErr) {
		opts.Requeue = true
		if delay, ok := core.RetryAfter(execErr); ok {
			opts.Delay = delay
		}
	} else {
		opts.DeadLetter = true
	}
	r.logger.Warn("wearables job failed", "job_id", jobID, "attempt", attempt, "requeue", opts.Requeue, "error", execErr)

	var nackErr error
	if attemptAware, ok := delivery.(interface {
		NackForAttempt(context.Context, core.JobNackOptions, int) error
	}); ok {
		nackErr = attemptAware.NackForAttempt(ctx, opts, attempt)
	} else {
		nackErr = delivery.Nack(ctx, r.policy.NormalizeAttempt(opts, attempt))
	}
	if nackErr != nil {
		return errors.Join(execErr, nackErr)
	}
	if r.policy.MaxAttempts > 0 && attempt >= r.policy.MaxAttempts {
		r.resetAttempts(attemptKey)
	}
	return execErr
}

// Run drains the dequeuer until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, dequeuer core.JobDequeuer) error {
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is required")
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if delivery == nil {
			continue
		}
		// job failures are already settled on the delivery
		_ = r.Handle(ctx, delivery)
	}
}

func (r *Runner) nextAttempt(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[key]++
	return r.attempts[key]
}

func (r *Runner) resetAttempts(key string) {
	r.mu.Lock()
	delete(r.attempts, key)
	r.mu.Unlock()
}

func (r *Runner) observe(ctx context.Context, jobID string, err error, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	tags := map[string]string{"job_id": jobID, "status": "ok"}
	if err != nil {
		tags["status"] = "error"
		if code := core.MapError(err); code != nil {
			tags["error_code"] = code.TextCode
		}
	}
	r.metrics.IncCounter(ctx, "wearables.job.total", 1, tags)
	r.metrics.ObserveHistogram(ctx, "wearables.job.duration_ms", float64(elapsed.Milliseconds()), tags)
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	switch value := params[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case fmt.Stringer:
		return strings.TrimSpace(value.String())
	default:
		return ""
	}
}
