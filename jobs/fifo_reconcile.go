package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/awecode/awecount-sub001/internal/fifo"
	jobmetrics "github.com/awecode/awecount-sub001/internal/jobs"
	"github.com/awecode/awecount-sub001/internal/platform/cache"
	"github.com/awecode/awecount-sub001/internal/shared"
)

// Reconciler is the slice of the voucher service the job drives.
type Reconciler interface {
	ReconcileFIFO(ctx context.Context, scope shared.Scope, itemID int64) (fifo.Report, error)
	ReconcileAll(ctx context.Context, scope shared.Scope) ([]fifo.Report, error)
}

// Locker grants cross-process locks.
type Locker interface {
	Acquire(ctx context.Context, key string) (*cache.Lock, error)
}

// FIFOReconcileJob repairs FIFO drift in the background.
type FIFOReconcileJob struct {
	Reconciler Reconciler
	Locker     Locker
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewFIFOReconcileJob initialises the reconciliation handler. locker may be
// nil when only one worker runs.
func NewFIFOReconcileJob(reconciler Reconciler, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *FIFOReconcileJob {
	return &FIFOReconcileJob{Reconciler: reconciler, Locker: locker, Logger: logger, Metrics: metrics}
}

// Handle executes one reconciliation task.
func (j *FIFOReconcileJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("fifo reconcile: handler not configured")
	}
	var payload FIFOReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("fifo reconcile: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.validate(); err != nil {
		return fmt.Errorf("fifo reconcile: %v: %w", err, asynq.SkipRetry)
	}

	scope := shared.Scope{CompanyID: payload.CompanyID, FiscalYearID: payload.FiscalYearID}
	logger := j.logger().With(
		slog.Int64("company_id", payload.CompanyID),
		slog.Int64("item_id", payload.ItemID),
	)

	if j.Locker != nil {
		lock, err := j.Locker.Acquire(ctx, shared.FIFOReconcileLockKey(payload.CompanyID, payload.ItemID))
		if errors.Is(err, cache.ErrLocked) {
			logger.Info("fifo reconcile already running")
			j.Metrics.AddSkipped(TaskFIFOReconcile)
			return nil
		}
		if err != nil {
			return j.Metrics.Track(TaskFIFOReconcile).End(err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("fifo reconcile lock release", slog.Any("error", err))
			}
		}()
	}

	tracker := j.Metrics.Track(TaskFIFOReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	var reports []fifo.Report
	if payload.ItemID > 0 {
		report, err := j.Reconciler.ReconcileFIFO(ctx, scope, payload.ItemID)
		if err != nil {
			return j.failed(logger, err)
		}
		reports = []fifo.Report{report}
	} else {
		var err error
		if reports, err = j.Reconciler.ReconcileAll(ctx, scope); err != nil {
			return j.failed(logger, err)
		}
	}

	clean, repaired := 0, 0
	for _, r := range reports {
		if r.Changed() {
			repaired++
			logger.Warn("fifo drift repaired",
				slog.Int64("item", r.ItemID),
				slog.Int("lots", len(r.LotsChanged)),
				slog.Int("consumptions", len(r.ConsumptionsChanged)),
				slog.String("drift", r.Drift.String()))
			continue
		}
		clean++
	}
	j.Metrics.AddReconciled(payload.CompanyID, clean, repaired)
	logger.Info("fifo reconcile completed", slog.Int("items", len(reports)), slog.Int("repaired", repaired))
	return nil
}

// failed marks business rejections as non-retryable.
func (j *FIFOReconcileJob) failed(logger *slog.Logger, err error) error {
	if code := shared.CodeOf(err); code != "" {
		logger.Warn("fifo reconcile rejected", slog.String("code", string(code)), slog.Any("error", err))
		return fmt.Errorf("fifo reconcile: %v: %w", err, asynq.SkipRetry)
	}
	logger.Error("fifo reconcile failed", slog.Any("error", err))
	return err
}

func (j *FIFOReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
