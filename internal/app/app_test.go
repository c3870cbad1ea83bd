package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/awecode/awecount-sub001/internal/observability"
	"github.com/awecode/awecount-sub001/jobs"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("FIFO_RECONCILE_COMPANIES", "1,2")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, StoreMemory, cfg.StoreDriver)
	require.Equal(t, []int64{1, 2}, cfg.FIFOReconcileCompanies)
	require.Equal(t, 4, cfg.FIFOReconcileConcurrency)
	require.False(t, cfg.FIFOAllowNegativeStock)
	require.False(t, cfg.IsProduction())
}

func TestConfigValidate(t *testing.T) {
	base := Config{StoreDriver: StorePostgres, PGDSN: "postgres://x", FIFOReconcileConcurrency: 1, JobsConcurrency: 1}
	require.NoError(t, base.Validate())

	cases := map[string]func(*Config){
		"unknown driver": func(c *Config) { c.StoreDriver = "sqlite" },
		"missing dsn":    func(c *Config) { c.PGDSN = "" },
		"concurrency":    func(c *Config) { c.FIFOReconcileConcurrency = 0 },
		"jobs":           func(c *Config) { c.JobsConcurrency = 0 },
		"company":        func(c *Config) { c.FIFOReconcileCompanies = []int64{0} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)
	require.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	require.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}

type fakeEnqueuer struct {
	got []jobs.FIFOReconcilePayload
	err error
}

func (f *fakeEnqueuer) EnqueueFIFOReconcile(_ context.Context, p jobs.FIFOReconcilePayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got = append(f.got, p)
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueDefault}, nil
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ops/fifo/reconcile", strings.NewReader(body))
	req.RemoteAddr = "10.1.1.1:1234"
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthAndMetrics(t *testing.T) {
	h := NewRouter(RouterParams{Config: &Config{}, Metrics: observability.NewMetrics()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "awecount_http_requests_total")
}

func TestRouterReadiness(t *testing.T) {
	h := NewRouter(RouterParams{Config: &Config{}, Ready: func(context.Context) error { return errors.New("pg down") }})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReconcileTrigger(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := NewRouter(RouterParams{Config: &Config{OpsRateLimit: 2}, Enqueuer: enq})

	rec := post(h, `{"company_id":3,"item_id":9}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body reconcileResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "task-1", body.TaskID)
	require.Equal(t, []jobs.FIFOReconcilePayload{{CompanyID: 3, ItemID: 9}}, enq.got)

	rec = post(h, `{"item_id":9}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(h, `{"company_id":3}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestReconcileTriggerDuplicate(t *testing.T) {
	h := NewRouter(RouterParams{Config: &Config{}, Enqueuer: &fakeEnqueuer{err: asynq.ErrDuplicateTask}})
	require.Equal(t, http.StatusConflict, post(h, `{"company_id":3}`).Code)
}
