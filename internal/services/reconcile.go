package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultReconcileSchedule = "0 3 * * *"

// LikeCounter recounts like records and repairs drifted counters.
type LikeCounter interface {
	ReconcileLikeCounts(ctx context.Context) (int, error)
}

// LikeCountReconciler periodically repairs comment like counters.
type LikeCountReconciler struct {
	counter LikeCounter
	logger  *zap.Logger
	crontab *cron.Cron
	timeout time.Duration
}

func NewLikeCountReconciler(counter LikeCounter, logger *zap.Logger) *LikeCountReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LikeCountReconciler{
		counter: counter,
		logger:  logger,
		crontab: cron.New(),
		timeout: 5 * time.Minute,
	}
}

// Start schedules the job with a standard five-field cron expression.
func (r *LikeCountReconciler) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}
	if _, err := r.crontab.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		_, _ = r.RunOnce(ctx)
	}); err != nil {
		return err
	}
	r.crontab.Start()
	r.logger.Info("Like counter reconciliation scheduled", zap.String("schedule", schedule))
	return nil
}

// Stop prevents new runs and waits for a running one to finish.
func (r *LikeCountReconciler) Stop() {
	<-r.crontab.Stop().Done()
}

func (r *LikeCountReconciler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	fixed, err := r.counter.ReconcileLikeCounts(ctx)
	if err != nil {
		r.logger.Error("Like counter reconciliation failed", zap.Error(err))
		return 0, err
	}
	r.logger.Info("Like counter reconciliation finished",
		zap.Int("fixed", fixed),
		zap.Duration("took", time.Since(start)),
	)
	return fixed, nil
}
