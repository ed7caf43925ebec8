package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-wearables/core"
)

const (
	JobIDCredentialsRefresh = "wearables.credentials.refresh"
	JobIDTerraCacheCleanup  = "wearables.terra.cache_cleanup"
)

// RetryPolicy caps requeue delays. Once a job has failed MaxAttempts times it
// is dropped, or dead-lettered when DeadLetterOnMax is set. Zero values
// disable the matching limit.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func (p RetryPolicy) NormalizeAttempt(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	out.Delay = max(out.Delay, 0)
	if p.MaxDelay > 0 {
		out.Delay = min(out.Delay, p.MaxDelay)
	}
	exhausted := p.MaxAttempts > 0 && attempt >= p.MaxAttempts
	switch {
	case out.DeadLetter:
		out.Requeue = false
	case exhausted:
		out.Requeue = false
		out.DeadLetter = p.DeadLetterOnMax
	case !out.Requeue:
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage converts a wearables job into the go-job wire message.
func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

// Enqueuer publishes wearables jobs onto any go-job queue backend.
type Enqueuer struct {
	target queue.Enqueuer
}

func NewEnqueuer(target queue.Enqueuer) *Enqueuer {
	return &Enqueuer{target: target}
}

func (e *Enqueuer) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if e == nil || e.target == nil {
		return core.NewConfigurationError("gojob: queue is not configured")
	}
	if msg == nil {
		return core.NewBadInputError("gojob: execution message is required")
	}
	return e.target.Enqueue(ctx, ToExecutionMessage(msg))
}

// Dequeuer hands go-job deliveries to the Runner with policy applied on nack.
type Dequeuer struct {
	source queue.Dequeuer
	policy RetryPolicy
}

func NewDequeuer(source queue.Dequeuer, policy RetryPolicy) *Dequeuer {
	return &Dequeuer{source: source, policy: policy}
}

func (d *Dequeuer) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if d == nil || d.source == nil {
		return nil, core.NewConfigurationError("gojob: queue is not configured")
	}
	raw, err := d.source.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return NewDelivery(raw, d.policy), nil
}

type Delivery struct {
	raw    queue.Delivery
	policy RetryPolicy
}

func NewDelivery(raw queue.Delivery, policy RetryPolicy) *Delivery {
	return &Delivery{raw: raw, policy: policy}
}

func (d *Delivery) Message() *core.JobExecutionMessage {
	return FromExecutionMessage(d.raw.Message())
}

func (d *Delivery) Ack(ctx context.Context) error {
	return d.raw.Ack(ctx)
}

func (d *Delivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	return d.NackForAttempt(ctx, opts, 0)
}

// NackForAttempt lets the Runner report how many times the job has failed.
func (d *Delivery) NackForAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error {
	opts = d.policy.NormalizeAttempt(opts, attempt)
	return d.raw.Nack(ctx, queue.NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     opts.Reason,
	})
}

// DeadLetter is a job the queue gave up on.
type DeadLetter struct {
	Message *job.ExecutionMessage
	Reason  string
}

type scheduledMessage struct {
	msg   *job.ExecutionMessage
	dueAt time.Time
}

// Queue is the in-process go-job backend used by serve. A message whose
// idempotency key is already pending or in flight is dropped on enqueue.
type Queue struct {
	mu      sync.Mutex
	pending []scheduledMessage
	held    map[string]struct{}
	dead    []DeadLetter
	wake    chan struct{}
	now     func() time.Time
}

type QueueOption func(*Queue)

func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		held: map[string]struct{}{},
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

func (q *Queue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	q.mu.Lock()
	if key := msg.IdempotencyKey; key != "" {
		if _, dup := q.held[key]; dup {
			q.mu.Unlock()
			return nil
		}
		q.held[key] = struct{}{}
	}
	q.pending = append(q.pending, scheduledMessage{msg: msg, dueAt: q.now()})
	q.mu.Unlock()
	q.notify()
	return nil
}

// Dequeue blocks until a message is due or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	for {
		msg, wait := q.next()
		if msg != nil {
			return &queueDelivery{queue: q, msg: msg}, nil
		}
		var (
			timer *time.Timer
			due   <-chan time.Time
		)
		if wait > 0 {
			timer = time.NewTimer(wait)
			due = timer.C
		}
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return nil, ctx.Err()
		case <-q.wake:
		case <-due:
		}
		stopTimer(timer)
	}
}

// Len reports messages waiting, including delayed retries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// next pops the earliest due message, or reports how long until one is due.
func (q *Queue) next() (*job.ExecutionMessage, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, 0
	}
	now := q.now()
	earliest := 0
	for i, item := range q.pending {
		if item.dueAt.Before(q.pending[earliest].dueAt) {
			earliest = i
		}
	}
	item := q.pending[earliest]
	if item.dueAt.After(now) {
		return nil, item.dueAt.Sub(now)
	}
	q.pending = append(q.pending[:earliest], q.pending[earliest+1:]...)
	return item.msg, 0
}

func (q *Queue) settle(msg *job.ExecutionMessage, opts *queue.NackOptions) {
	q.mu.Lock()
	requeued := false
	switch {
	case opts == nil:
	case opts.Requeue && !opts.DeadLetter:
		q.pending = append(q.pending, scheduledMessage{msg: msg, dueAt: q.now().Add(max(opts.Delay, 0))})
		requeued = true
	case opts.DeadLetter:
		q.dead = append(q.dead, DeadLetter{Message: msg, Reason: opts.Reason})
	}
	if !requeued && msg.IdempotencyKey != "" {
		delete(q.held, msg.IdempotencyKey)
	}
	q.mu.Unlock()
	if requeued {
		q.notify()
	}
}

func stopTimer(timer *time.Timer) {
	if timer != nil {
		timer.Stop()
	}
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

type queueDelivery struct {
	queue *Queue
	msg   *job.ExecutionMessage
	once  sync.Once
}

func (d *queueDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *queueDelivery) Ack(context.Context) error {
	return d.finish(nil)
}

func (d *queueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	return d.finish(&opts)
}

func (d *queueDelivery) finish(opts *queue.NackOptions) error {
	err := fmt.Errorf("gojob: delivery %q already settled", d.msg.JobID)
	d.once.Do(func() {
		d.queue.settle(d.msg, opts)
		err = nil
	})
	return err
}

func cloneParameters(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ queue.Enqueuer   = (*Queue)(nil)
	_ queue.Dequeuer   = (*Queue)(nil)
	_ queue.Delivery   = (*queueDelivery)(nil)
	_ core.JobEnqueuer = (*Enqueuer)(nil)
	_ core.JobDequeuer = (*Dequeuer)(nil)
	_ core.JobDelivery = (*Delivery)(nil)
)
