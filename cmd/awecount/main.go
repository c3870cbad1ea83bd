package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awecode/awecount-sub001/cmd/awecount/cli"
	"github.com/awecode/awecount-sub001/internal/app"
	"github.com/awecode/awecount-sub001/internal/observability"
	"github.com/awecode/awecount-sub001/internal/platform/cache"
	"github.com/awecode/awecount-sub001/internal/platform/db"
	"github.com/awecode/awecount-sub001/internal/shared"
	"github.com/awecode/awecount-sub001/internal/store/memory"
	"github.com/awecode/awecount-sub001/internal/store/postgres"
	"github.com/awecode/awecount-sub001/internal/voucher"
	"github.com/awecode/awecount-sub001/jobs"
)

const usage = `usage: awecount <command> [flags]

commands:
  serve       run the ops HTTP server (default)
  migrate     apply the database schema
  reconcile   replay FIFO lots for a company or item
  queue       show background queue state
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	switch cmd {
	case "serve":
		err = serve(ctx, stop, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	case "reconcile":
		os.Exit(reconcile(ctx, cfg, logger, args))
	case "queue":
		os.Exit(queue(cfg, args))
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

type backend struct {
	service *voucher.Service
	pool    *pgxpool.Pool
}

func (r backend) close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

func openBackend(ctx context.Context, cfg *app.Config, logger *slog.Logger, metrics *observability.Metrics) (backend, error) {
	svcCfg := voucher.ServiceConfig{
		AllowNegativeStock:   cfg.FIFOAllowNegativeStock,
		ReconcileConcurrency: cfg.FIFOReconcileConcurrency,
	}
	if cfg.StoreDriver == app.StoreMemory {
		logger.Warn("using in-memory store, data is not persisted")
		store := memory.New()
		return backend{service: voucher.NewService(store, shared.NewLogAudit(logger), logger, metrics, svcCfg)}, nil
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return backend{}, fmt.Errorf("connect database: %w", err)
	}
	store := postgres.New(pool)
	return backend{
		service: voucher.NewService(store, shared.NewAuditLogger(pool), logger, metrics, svcCfg),
		pool:    pool,
	}, nil
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	rt, err := openBackend(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer rt.close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, job endpoints disabled", slog.Any("error", err))
	}

	params := app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Metrics: metrics,
		Ready: func(ctx context.Context) error {
			var errs []error
			if rt.pool != nil {
				errs = append(errs, rt.pool.Ping(ctx))
			}
			if redisClient != nil {
				errs = append(errs, redisClient.Ping(ctx).Err())
			}
			return errors.Join(errs...)
		},
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		client := jobs.NewClient(redisOpts)
		defer client.Close()
		inspector := asynq.NewInspector(redisOpts)
		defer inspector.Close()
		params.Enqueuer = client
		params.JobHandler = jobs.NewHandler(inspector, logger)
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      app.NewRouter(params),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.StoreDriver != app.StorePostgres {
		return fmt.Errorf("migrate requires STORE_DRIVER=%s", app.StorePostgres)
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.New(pool).Migrate(ctx); err != nil {
		return err
	}
	logger.Info("schema applied")
	return nil
}

func reconcile(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	opts := cli.ReconcileOptions{Stdout: os.Stdout, Stderr: os.Stderr}
	fs.Int64Var(&opts.CompanyID, "company", 0, "company id")
	fs.Int64Var(&opts.FiscalYearID, "fiscal-year", 0, "fiscal year id")
	fs.Int64Var(&opts.ItemID, "item", 0, "item id, 0 for every tracked item")
	fs.BoolVar(&opts.Async, "async", false, "queue the run on the worker")
	fs.BoolVar(&opts.JSONOutput, "json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if opts.Async {
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer jobsCLI.Close()
		return cli.NewReconcileCLI(nil, jobsCLI).ReconcileCommand(ctx, opts)
	}
	rt, err := openBackend(ctx, cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fifo reconcile: %v\n", err)
		return 1
	}
	defer rt.close()
	return cli.NewReconcileCLI(rt.service, nil).ReconcileCommand(ctx, opts)
}

func queue(cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("queue", flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	client := cli.NewJobsCLI(cfg.RedisAddr)
	defer client.Close()
	return cli.QueueCommand(client, *jsonOutput, os.Stdout, os.Stderr)
}
