package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/errandhq/errand/config"
	"github.com/errandhq/errand/internal/orchestration"
	"github.com/errandhq/errand/internal/runtime"
	"github.com/errandhq/errand/internal/schedule"
	"github.com/errandhq/errand/internal/store"
	"github.com/errandhq/errand/internal/telemetry"
	"github.com/errandhq/errand/internal/tools"
)

// indexingStore archives runs in Postgres and mirrors them into the
// search index so history search stays current without a separate job.
type indexingStore struct {
	*store.Store
	idx *store.SearchIndex
}

func (s *indexingStore) SaveRun(ctx context.Context, task orchestration.Task, history []orchestration.Entry, result orchestration.RunResult) error {
	if err := s.Store.SaveRun(ctx, task, history, result); err != nil {
		return err
	}
	if s.idx != nil {
		if err := s.idx.IndexRun(task, result); err != nil {
			return fmt.Errorf("indexing run %s: %w", task.TraceID, err)
		}
	}
	return nil
}

// Run starts the HTTP API, wiring the orchestrator and its stores from cfg.
// It blocks until the listener stops.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(os.Stdout, "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	tele, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, "errand-server")
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() { _ = tele.Shutdown(context.Background()) }()

	dsn, err := runtime.BuildPostgresDSN(cfg)
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := store.NewSessions(ctx, cfg.Storage.Redis, 0)
	if err != nil {
		return err
	}
	defer sessions.Close()

	var searchIdx *store.SearchIndex
	if cfg.Storage.Search.Enabled {
		searchIdx, err = store.OpenSearchIndex(cfg.Storage.Search.IndexPath)
		if err != nil {
			return fmt.Errorf("opening search index: %w", err)
		}
		defer searchIdx.Close()
	}

	llm, err := runtime.BuildPlanningProvider(cfg.LLM)
	if err != nil {
		return err
	}

	registry, err := tools.NewRegistry(ctx, runtime.BuildToolProviders(cfg.Tools)...)
	if err != nil {
		return fmt.Errorf("tool discovery: %w", err)
	}
	invoker := tools.NewInvoker(registry, cfg.Orchestration.ToolTimeout)
	dispatcher := orchestration.NewDispatcher(invoker, orchestration.DispatcherConfig{
		MaxRetries:  cfg.Orchestration.StepMaxRetries,
		Backoff:     cfg.Orchestration.StepBackoff,
		Concurrency: cfg.Orchestration.StepConcurrency,
	})

	metrics := telemetry.NewMetrics()
	oracle := telemetry.InstrumentOracle(orchestration.NewLLMOracle(llm, orchestration.OracleConfig{
		Timeout:        cfg.Orchestration.OracleTimeout,
		MaxRetries:     cfg.Orchestration.OracleMaxRetries,
		MaxCorrections: cfg.Orchestration.MaxPlanCorrections,
	}), metrics)

	orch := orchestration.NewOrchestrator(oracle, registry, dispatcher,
		&indexingStore{Store: st, idx: searchIdx},
		orchestration.Config{MaxIterations: cfg.Orchestration.MaxIterations})

	events := orchestration.NewBroadcaster(cfg.Orchestration.EventBuffer)
	defer events.Close()

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	th := &TasksHandler{
		Orch:     orch,
		Events:   events,
		Sessions: sessions,
		Runs:     st,
		Metrics:  metrics,
		Config:   cfg,
		Logger:   log.New(os.Stdout, "[TASKS] ", log.LstdFlags),
	}
	th.Register(api.Group("/tasks"), secret)

	hh := &HistoryHandler{Store: st, Search: searchIdx}
	hh.Register(api.Group("/history"), secret)

	sh := &SchedulesHandler{Store: st}
	sh.Register(api.Group("/schedules"), secret)

	toolsHandler := &ToolsHandler{Registry: registry}
	toolsHandler.Register(api.Group("/tools"), secret)

	if cfg.Schedule.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		sched := schedule.New(st, orch, rdb, cfg.Schedule)
		sched.Start()
		defer sched.Stop()
	}

	if addr == "" {
		addr = cfg.Server.Address
	}
	baseLogger.Printf("listening on %s", addr)
	return e.Start(addr)
}
