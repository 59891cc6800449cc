// Package scheduler runs the periodic sweep that elects due Sources and
// hands them to the Sync Manager: recover stale runs, list sources whose
// next_sync_at has passed, trigger each one, and advance its schedule on
// success. Admission rejections mean a source is busy or the fabric is at
// capacity; the sweep leaves those due and moves on.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
	"github.com/custodia-labs/sercha-coordinator/internal/logger"
)

// Config holds the sweep cadence and the default mode for scheduled syncs.
type Config struct {
	Interval time.Duration

	// DefaultSyncMode is the mode scheduled triggers use; manual triggers
	// choose their own.
	DefaultSyncMode domain.SyncType
}

// Scheduler implements ports.Scheduler.
type Scheduler struct {
	cfg     Config
	sources ports.SourceStore
	manager ports.SyncManager

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

var _ ports.Scheduler = (*Scheduler)(nil)

// New builds a Scheduler.
func New(cfg Config, sources ports.SourceStore, manager ports.SyncManager) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.DefaultSyncMode == "" {
		cfg.DefaultSyncMode = domain.SyncTypeIncremental
	}
	return &Scheduler{cfg: cfg, sources: sources, manager: manager}
}

// Start begins the sweep loop. It blocks until Stop is called or ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	// Sweep once immediately so a restarted coordinator picks up overdue
	// sources without waiting a full interval.
	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop shuts the loop down and waits for an in-progress sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// sweep is one tick: recover stale runs, then trigger every due source.
func (s *Scheduler) sweep(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	if n, err := s.manager.RecoverStale(ctx); err != nil {
		logger.Warn("scheduler: stale sync recovery failed: %v", err)
	} else if n > 0 {
		logger.Info("scheduler: recovered %d stale sync runs", n)
	}

	due, err := s.sources.ListDue(ctx, time.Now().Unix())
	if err != nil {
		logger.Warn("scheduler: listing due sources failed: %v", err)
		return
	}

	for _, source := range due {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}
		s.trigger(ctx, source)
	}
}

// trigger dispatches one due source. Admission rejections mean "try next
// tick" and are swallowed; other failures are logged and the source stays
// due, so the next sweep retries it.
func (s *Scheduler) trigger(ctx context.Context, source domain.Source) {
	_, err := s.manager.Trigger(ctx, source.ID, s.cfg.DefaultSyncMode, domain.TriggerScheduled)
	if err != nil {
		if !errors.Is(err, domain.ErrSyncAlreadyRunning) && !errors.Is(err, domain.ErrConcurrencyLimitReached) {
			logger.Warn("scheduler: trigger failed for source %s: %v", source.ID, err)
		}
		return
	}

	interval := source.SchedulingInterval
	if interval <= 0 {
		interval = time.Hour
	}
	next := time.Now().Add(interval).Unix()
	if err := s.sources.SetNextSyncAt(ctx, source.ID, next); err != nil {
		logger.Warn("scheduler: advancing schedule for source %s failed: %v", source.ID, err)
	}
}
