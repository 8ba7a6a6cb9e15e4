package main

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"discovery/internal/config"
	"discovery/internal/core/capture"
	"discovery/internal/core/connector"
	"discovery/internal/core/fetch"
	"discovery/internal/core/query"
	"discovery/internal/core/run"
	"discovery/internal/core/seed"
	"discovery/internal/logger"
	"discovery/internal/platform/eino"
	rds "discovery/internal/platform/redis"
	"discovery/internal/platform/storage"
	tasks "discovery/internal/platform/tasks"
	"discovery/internal/server"
	"discovery/internal/worker"
)

func main() {
	cfg := config.Load()
	log.Printf("[discovery] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.AppEnv)

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

	// Asynq client, server and scheduler
	taskClient := tasks.New(redisSvc)
	defer taskClient.Close()
	asynqServer := asynq.NewServer(redisSvc.AsynqRedisOpt(), asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{tasks.QueueDefault: 3, tasks.QueueMaintenance: 1},
	})
	scheduler, err := tasks.NewScheduler(redisSvc, cfg.SweepSchedule)
	if err != nil {
		log.Fatalf("failed to register capture sweep: %v", err)
	}

	// Capture bodies above the inline limit go to blob storage
	blobs, err := storage.New(cfg)
	if err != nil {
		log.Fatal(err)
	}

	// Eino (LLM) service initialized from environment variables
	einoSvc, err := eino.NewService(eino.Config{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.GeminiAPIKey,
		Model:    cfg.DefaultLLMModel,
	})
	if err != nil {
		log.Fatalf("failed to initialize Eino service: %v", err)
	}

	// Core services
	stack := fetch.NewStack(cfg.Pipeline, redisSvc)
	defer stack.Close()
	captures := capture.NewStore(redisSvc, blobs, cfg.Pipeline.InlineBodyLimit)
	seeds := seed.NewStore(redisSvc)
	orch := run.NewOrchestrator(run.Deps{
		Runs:       run.NewStore(redisSvc),
		Seeds:      seeds,
		Captures:   captures,
		Redis:      redisSvc,
		Generator:  query.NewGenerator(einoSvc),
		Connectors: connector.NewRegistryFromConfig(cfg.Pipeline, cfg.SearchAPIURL, stack),
		Fetcher:    stack.Fetcher,
	}, cfg.Pipeline)
	runSvc := run.NewService(orch, taskClient, cfg)
	sweeper := capture.NewSweeper(captures, cfg.Pipeline.CaptureRetention)

	// Worker mux
	mux := worker.NewMux()
	mux.HandleFunc(tasks.TaskTypeDiscoveryRun, runSvc.HandleRunTask)
	mux.HandleFunc(tasks.TaskTypeCaptureSweep, sweeper.HandleSweepTask)

	// Start worker and scheduler
	go func() {
		if err := asynqServer.Start(mux.Mux()); err != nil {
			log.Printf("[worker] stopped: %v\n", err)
		}
	}()
	go func() {
		if err := scheduler.Start(); err != nil {
			log.Printf("[scheduler] stopped: %v\n", err)
		}
	}()

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName: "Seed Discovery",
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

	deps := server.Dependencies{
		Runs:     runSvc,
		Seeds:    seeds,
		Captures: captures,
		Redis:    redisSvc,
		LLM:      einoSvc,
	}
	healthHandler := server.RegisterRoutes(app, deps)

	// Mark application as ready after all services are initialized
	go func() {
		time.Sleep(5 * time.Second)
		healthHandler.SetReady()
	}()

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		scheduler.Shutdown()
		asynqServer.Shutdown()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
