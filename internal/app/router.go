package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/hibiken/asynq"

	"github.com/awecode/awecount-sub001/internal/observability"
	"github.com/awecode/awecount-sub001/internal/platform/httpx"
	"github.com/awecode/awecount-sub001/jobs"
)

// ReconcileEnqueuer queues FIFO reconciliation runs.
type ReconcileEnqueuer interface {
	EnqueueFIFOReconcile(ctx context.Context, payload jobs.FIFOReconcilePayload) (*asynq.TaskInfo, error)
}

// RouterParams groups dependencies for building the ops router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	Metrics    *observability.Metrics
	JobHandler *jobs.Handler
	Enqueuer   ReconcileEnqueuer
	// Ready reports whether storage and Redis answer. Nil means always ready.
	Ready func(context.Context) error
}

// NewRouter constructs the ops router: health, metrics, job health and the
// reconciliation trigger.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: logger, Config: params.Config, Metrics: params.Metrics}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			if err := params.Ready(r.Context()); err != nil {
				logger.WarnContext(r.Context(), "readiness check failed", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Not Ready", "")
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Enqueuer != nil {
		limit := 30
		if params.Config != nil && params.Config.OpsRateLimit > 0 {
			limit = params.Config.OpsRateLimit
		}
		r.With(httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))).
			Post("/ops/fifo/reconcile", reconcileTrigger(params.Enqueuer, logger))
	}
	return r
}

type reconcileResponse struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

func reconcileTrigger(enqueuer ReconcileEnqueuer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload jobs.FIFOReconcilePayload
		if err := httpx.DecodeJSON(r, &payload); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if payload.CompanyID <= 0 || payload.ItemID < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company_id required, item_id must be >= 0")
			return
		}
		info, err := enqueuer.EnqueueFIFOReconcile(r.Context(), payload)
		if err != nil {
			if errors.Is(err, asynq.ErrDuplicateTask) {
				httpx.Problem(w, http.StatusConflict, "Already Queued", "a reconciliation for this scope is pending")
				return
			}
			logger.ErrorContext(r.Context(), "enqueue fifo reconcile", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		logger.InfoContext(r.Context(), "fifo reconcile queued",
			slog.Int64("company_id", payload.CompanyID),
			slog.Int64("item_id", payload.ItemID),
			slog.String("task_id", info.ID))
		httpx.JSON(w, http.StatusAccepted, reconcileResponse{TaskID: info.ID, Queue: info.Queue})
	}
}
