package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/antoineross/supabase-go"

	"ratingsync/internal/config"
	"ratingsync/internal/core/browser"
	"ratingsync/internal/core/collect"
	"ratingsync/internal/core/extract"
	"ratingsync/internal/core/ingest"
	"ratingsync/internal/core/job"
	"ratingsync/internal/core/progress"
	"ratingsync/internal/core/scrape"
	"ratingsync/internal/health"
	"ratingsync/internal/logger"
	rds "ratingsync/internal/platform/redis"
	tasks "ratingsync/internal/platform/tasks"
	"ratingsync/internal/server"
	"ratingsync/internal/store"
	"ratingsync/internal/worker"
)

func main() {
	cfg := config.Load()
	log.Printf("[ratingsync] starting at %s (env=%s, serverless=%t)\n", cfg.HTTPAddr, cfg.AppEnv, cfg.Serverless)

	logr := logger.New("main")

	// Redis client
	redisSvc, err := rds.New(rds.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer redisSvc.Close()

	// Asynq client and server
	taskClient := tasks.New(redisSvc)
	defer taskClient.Close()
	asynqServer := worker.NewServer(redisSvc.AsynqRedisOpt(), cfg.WorkerConcurrency, cfg.JobCeiling)

	// Browser fleet
	profile := browser.ProfileFor(cfg.Serverless)
	launcher := browser.PlaywrightLauncher{ExecutablePath: cfg.ChromiumExecutablePath}
	var fallback browser.Launcher
	if cfg.Serverless && cfg.ChromiumFallbackChannel != "" {
		fallback = browser.PlaywrightLauncher{Channel: cfg.ChromiumFallbackChannel}
	}
	browsers := browser.NewManager(launcher, fallback, profile)

	selectors := extract.DefaultSelectors()
	if cfg.SelectorsFile != "" {
		selectors, err = extract.LoadSelectors(cfg.SelectorsFile)
		if err != nil {
			log.Fatalf("load selectors: %v", err)
		}
	}
	extractor := extract.New(selectors, extract.Options{EmitZeroBuckets: cfg.EmitZeroBuckets})

	loader := scrape.NewLoader(scrape.DefaultStrategies(profile.Constrained), scrape.DefaultSettle(profile.Constrained))
	site := scrape.Site{BaseURL: cfg.SiteBaseURL}
	collector := collect.NewCollector(scrape.NewSource(browsers, loader), extractor, site, browser.NewMemoryMonitor(), collect.Options{
		InterPageDelay: cfg.InterPageDelay,
		CleanupEvery:   cfg.CleanupEveryPages,
	})

	// Persistence
	var (
		st       store.Store
		sbClient *supabase.Client
	)
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		sb, err := store.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey)
		if err != nil {
			log.Fatalf("supabase: %v", err)
		}
		st, sbClient = sb, sb.Client()
	} else {
		if cfg.IsProduction() {
			log.Fatal("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required in production")
		}
		logr.LogWarn("Supabase is not configured, results are kept in memory")
		st = store.NewMemory()
	}
	snapshots := store.NewSnapshotStore(sbClient, cfg.SupabaseSnapshotBucket, cfg.DataDir, cfg.IsProduction())

	// Core services
	progressOpts := progress.Options{Heartbeat: cfg.HeartbeatInterval, Ceiling: cfg.JobCeiling}
	jobSvc := job.NewJobService(redisSvc)
	ingestSvc := ingest.NewService(browsers, collector, extractor, st, snapshots)
	ingestTasks := ingest.NewTasks(ingestSvc, jobSvc, taskClient, ingest.TaskOptions{
		Progress:   progressOpts,
		MaxRetries: cfg.TaskMaxRetries,
	})
	ingestHandler := ingest.NewHandler(ingestSvc, ingestTasks, jobSvc, redisSvc, redisSvc, ingest.HandlerOptions{
		Progress:        progressOpts,
		CacheTTLSeconds: cfg.ResultCacheSeconds,
		EmitZeroBuckets: cfg.EmitZeroBuckets,
	})

	// Worker mux
	mux := worker.NewMux()
	mux.HandleFunc(tasks.TaskTypeIngest, ingestTasks.HandleTask)

	go func() {
		if err := asynqServer.Start(mux.Mux()); err != nil {
			log.Printf("[worker] stopped: %v\n", err)
		}
	}()

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName: "ratingsync",
		// SSE handlers stream for as long as a job runs
		WriteTimeout: cfg.JobCeiling + 30*time.Second,
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})

	healthHandler := server.RegisterRoutes(app, server.Dependencies{
		Ingest: ingestHandler,
		Checks: map[string]health.Check{
			"redis":   redisSvc.HealthCheck,
			"browser": browsers.HealthCheck,
		},
	})

	// Warm the shared browser before taking traffic
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if _, err := browsers.AcquireShared(ctx); err != nil {
			logr.LogError("browser warm-up failed", err)
			return
		}
		healthHandler.SetReady()
	}()

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		asynqServer.Shutdown()
		_ = app.ShutdownWithTimeout(5 * time.Second)
		if err := browsers.Close(); err != nil {
			logr.LogError("close browsers", err)
		}
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
