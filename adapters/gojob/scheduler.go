package gojob

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-wearables/core"
)

// ConnectionLister is satisfied by the SQL connection store.
type ConnectionLister interface {
	ListConnected(ctx context.Context) ([]core.ProviderConnection, error)
}

// Scheduler feeds periodic jobs into a queue: webhook cache cleanup and a
// credential refresh per token-backed connection.
type Scheduler struct {
	enqueuer        core.JobEnqueuer
	connections     ConnectionLister
	cleanupInterval time.Duration
	refreshInterval time.Duration
	logger          core.Logger
}

type SchedulerOption func(*Scheduler)

func WithCleanupInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.cleanupInterval = interval }
}

// WithRefreshSweep enqueues a refresh for every listed connection each interval.
func WithRefreshSweep(connections ConnectionLister, interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.connections = connections
		s.refreshInterval = interval
	}
}

func WithSchedulerLogger(logger core.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewScheduler(enqueuer core.JobEnqueuer, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{enqueuer: enqueuer, logger: glog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Scheduler) EnqueueCleanup(ctx context.Context) error {
	if s.enqueuer == nil {
		return core.NewConfigurationError("gojob: scheduler has no enqueuer")
	}
	return s.enqueuer.Enqueue(ctx, CleanupJob())
}

// EnqueueRefreshes queues one refresh per connected oauth or manual
// connection. Synthetic and webhook connections hold no tokens.
func (s *Scheduler) EnqueueRefreshes(ctx context.Context) (int, error) {
	if s.enqueuer == nil {
		return 0, core.NewConfigurationError("gojob: scheduler has no enqueuer")
	}
	if s.connections == nil {
		return 0, nil
	}
	connections, err := s.connections.ListConnected(ctx)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, connection := range connections {
		switch connection.ConnectionType {
		case core.ConnectionTypeOAuth, core.ConnectionTypeManual:
		default:
			continue
		}
		key := core.ConnectionKey{TenantID: connection.TenantID, UserID: connection.UserID, Provider: connection.Provider}
		if err := s.enqueuer.Enqueue(ctx, RefreshJob(key)); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

// Run ticks until ctx is cancelled. A non-positive interval disables that job.
func (s *Scheduler) Run(ctx context.Context) {
	cleanup, stopCleanup := tick(s.cleanupInterval)
	defer stopCleanup()
	var refresh <-chan time.Time
	stopRefresh := func() {}
	if s.connections != nil {
		refresh, stopRefresh = tick(s.refreshInterval)
	}
	defer stopRefresh()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup:
			if err := s.EnqueueCleanup(ctx); err != nil {
				s.logger.Warn("enqueue webhook cache cleanup failed", "error", err)
			}
		case <-refresh:
			queued, err := s.EnqueueRefreshes(ctx)
			if err != nil {
				s.logger.Warn("enqueue credential refreshes failed", "queued", queued, "error", err)
				continue
			}
			s.logger.Debug("credential refreshes queued", "queued", queued)
		}
	}
}

func tick(interval time.Duration) (<-chan time.Time, func()) {
	if interval <= 0 {
		return nil, func() {}
	}
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}
