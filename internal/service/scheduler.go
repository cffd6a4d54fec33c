package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/lock"
)

// StartScheduler runs pending syncs for due connections on every tick until
// ctx is done. With a locker attached, only the instance holding the
// scheduler lock runs a tick.
func (s *SyncService) StartScheduler(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.ScheduleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunScheduled(ctx)
			}
		}
	}()
}

// RunScheduled performs one scheduler tick and returns how many connections
// were synced.
func (s *SyncService) RunScheduled(ctx context.Context) int {
	if s.locker != nil {
		l, err := s.locker.Obtain(ctx, schedulerLockKey, s.cfg.LockTTL)
		if errors.Is(err, lock.ErrNotObtained) {
			slog.Debug("sync scheduler lock held elsewhere")
			return 0
		}
		if err != nil {
			slog.Warn("sync scheduler lock failed", "error", err)
			return 0
		}
		defer func() {
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("sync scheduler lock release failed", "error", err)
			}
		}()
	}

	conns, err := s.store.ListSchedulableConnections(ctx)
	if err != nil {
		slog.Error("list schedulable connections", "error", err)
		return 0
	}
	now := s.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.cfg.MaxParallel))
	synced := 0
	for i := range conns {
		c := &conns[i]
		if !c.DueForSync(now) {
			continue
		}
		synced++
		g.Go(func() error {
			r, err := s.SyncPending(gctx, c.ID)
			if err != nil {
				slog.Warn("scheduled sync failed", "connection_id", c.ID, "error", err)
				return nil
			}
			slog.Info("scheduled sync done", "connection_id", c.ID, "processed", r.RecordsProcessed, "errors", len(r.Errors))
			return nil
		})
	}
	_ = g.Wait()
	return synced
}
