package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"campanile/attendance/internal/config"
)

// Sweeper is satisfied by the teacherday machine.
type Sweeper interface {
	MarkAbsentTeachers(ctx context.Context, schoolYearID *uuid.UUID) (int64, error)
	MarkNoScanTeachers(ctx context.Context) (int64, error)
}

// StartDayCloseJobs schedules the two end-of-day sweeps. Both are idempotent,
// so an interrupted run is simply picked up by the next invocation.
func StartDayCloseJobs(ctx context.Context, cfg config.Config, sweeper Sweeper, log *zap.Logger) (*cron.Cron, error) {
	if !cfg.SweepEnabled {
		return nil, nil
	}
	timeout := cfg.SweepTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.AbsentSweepSpec, func() {
		RunAbsentSweep(ctx, sweeper, timeout, log)
	}); err != nil {
		return nil, err
	}
	if _, err := scheduler.AddFunc(cfg.NoScanSweepSpec, func() {
		RunNoScanSweep(ctx, sweeper, timeout, log)
	}); err != nil {
		return nil, err
	}
	scheduler.Start()

	go func() {
		<-ctx.Done()
		scheduler.Stop()
	}()
	return scheduler, nil
}

func RunAbsentSweep(ctx context.Context, sweeper Sweeper, timeout time.Duration, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	created, err := sweeper.MarkAbsentTeachers(runCtx, nil)
	if err != nil {
		log.Error("absent sweep failed", zap.Error(err))
		return
	}
	if created > 0 {
		log.Info("absent sweep marked teachers", zap.Int64("created", created))
	}
}

func RunNoScanSweep(ctx context.Context, sweeper Sweeper, timeout time.Duration, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	updated, err := sweeper.MarkNoScanTeachers(runCtx)
	if err != nil {
		log.Error("no-scan sweep failed", zap.Error(err))
		return
	}
	if updated > 0 {
		log.Info("no-scan sweep closed pending rows", zap.Int64("updated", updated))
	}
}
