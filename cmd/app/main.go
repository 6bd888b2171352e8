// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"conversation-analysis/internal/config"
	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/domain/ports/repository"
	aiAdapters "conversation-analysis/internal/infra/adapters/ai"
	pg "conversation-analysis/internal/infra/db/postgres"
	"conversation-analysis/internal/infra/logging"
	"conversation-analysis/internal/infra/metrics"
	"conversation-analysis/internal/infra/prompts"
	red "conversation-analysis/internal/infra/redis"
	"conversation-analysis/internal/infra/sched"
	"conversation-analysis/internal/infra/web"
	"conversation-analysis/internal/infra/worker"
	"conversation-analysis/internal/usecase"

	"conversation-analysis/internal/domain/model"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop AI fallback)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		panic("config: " + err.Error())
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.PoolSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	tm := pg.NewTxManager(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}

	queues := []string{
		model.QueueCompute, model.QueuePersist, model.QueueEmbeddings,
		model.QueueFanout, model.QueueFinalize, model.QueueSequential,
	}
	broker := red.NewBroker(redisClient, queues, logger)
	broker.StartMover(ctx, time.Second)
	broker.StartReaper(ctx, cfg.Queue.ReapInterval, cfg.Queue.ReapAfter)

	counters := red.NewCounters(redisClient, logger)
	counters.StartFlusher(ctx, cfg.Progress.FlushInterval)

	events := red.NewEventPublisher(redisClient)
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	recordRepo := pg.NewAnalysisRecordRepo(pool, tm)
	failedRepo := pg.NewFailedTaskRepo(pool)
	convSource := pg.NewConversationSource(pool)
	embedStore := pg.NewEmbeddingStore(pool)

	// ---- Prompt catalog ----
	promptMap := make(map[string]repository.Prompt, len(cfg.Prompts))
	for id, spec := range cfg.Prompts {
		promptMap[id] = repository.Prompt{ID: id, Text: spec.Text, Model: spec.Model}
	}
	catalog := prompts.NewStaticCatalog(promptMap)

	// ---- AI adapter (OpenAI -> Gemini -> noop in dev) ----
	var ai adapter.AnalysisAdapter
	var embedder adapter.Embedder
	switch {
	case cfg.AI.OpenAIKey != "":
		ai, err = aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.DefaultModel, cfg.AI.OpenAIBaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("openai adapter")
		}
		logger.Info().Str("model", cfg.AI.DefaultModel).Msg("AI adapter: OpenAI")
	case cfg.AI.GeminiKey != "":
		g, gerr := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, cfg.AI.DefaultModel, cfg.AI.MaxOutputTokens)
		if gerr != nil {
			logger.Fatal().Err(gerr).Msg("gemini adapter")
		}
		ai = g
		embedder = g
		logger.Info().Str("model", cfg.AI.DefaultModel).Msg("AI adapter: Gemini")
	case cfg.Runtime.Dev:
		ai = aiAdapters.NewNoopAIAdapter()
		logger.Warn().Msg("AI adapter: noop (dev)")
	default:
		logger.Fatal().Msg("no AI provider configured: set ai.openai_key or ai.gemini_key")
	}
	ai = aiAdapters.NewLimitedAI(ai, cfg.AI.ConcurrentLimit)

	// ---- Use cases ----
	progressUC := usecase.NewProgressUseCase(counters, broker, logger)
	workflowUC := usecase.NewWorkflowUseCase(convSource, recordRepo, catalog, broker, counters, events, progressUC, logger)
	replayUC := usecase.NewReplayUseCase(failedRepo, broker, cfg.Sweep.BatchSize, logger)

	// ---- Workers ----
	schedule := worker.NewBackoffSchedule(cfg.Retry)
	router := worker.NewFailureRouter(schedule, broker, failedRepo, recordRepo, counters, events, progressUC, logger)

	embedQueue := ""
	if embedder != nil {
		embedQueue = model.QueueEmbeddings
	}
	registry := worker.NewRegistry().
		Register(model.TaskKindCompute, worker.NewComputeHandler(recordRepo, catalog, ai, broker, counters, events, logger)).
		Register(model.TaskKindPersist, worker.NewPersistHandler(tm, recordRepo, counters, events, progressUC, broker, embedQueue, logger)).
		Register(model.TaskKindFinalize, worker.NewFinalizeHandler(locker, counters, events, time.Minute, cfg.Progress.Retention, logger)).
		Register(model.TaskKindBackfill, worker.NewBackfillHandler(workflowUC, logger))
	if embedder != nil {
		registry.Register(model.TaskKindEmbed, worker.NewEmbedHandler(convSource, embedder, embedStore, cfg.AI.DefaultModel, logger))
	}

	runners := []*worker.Runner{
		worker.NewRunner(broker, registry, router, model.QueueCompute, cfg.Queue.ComputeWorkers, cfg.Queue.ReceiveTimeout, logger),
		worker.NewRunner(broker, registry, router, model.QueuePersist, cfg.Queue.PersistWorkers, cfg.Queue.ReceiveTimeout, logger),
		worker.NewRunner(broker, registry, router, model.QueueFanout, 1, cfg.Queue.ReceiveTimeout, logger),
		worker.NewRunner(broker, registry, router, model.QueueFinalize, 1, cfg.Queue.ReceiveTimeout, logger),
		worker.NewRunner(broker, registry, router, model.QueueSequential, 1, cfg.Queue.ReceiveTimeout, logger),
	}
	if embedder != nil {
		runners = append(runners,
			worker.NewRunner(broker, registry, router, model.QueueEmbeddings, cfg.Queue.EmbedWorkers, cfg.Queue.ReceiveTimeout, logger))
	}
	for _, r := range runners {
		r.Start(ctx)
	}

	// ---- Background schedulers ----
	sweeper := sched.NewDLQSweeper(cfg.Sweep.Interval, replayUC, logger)
	go func() { _ = sweeper.Run(ctx) }()
	poller := sched.NewMetricsPoller(15*time.Second, broker, queues, pool, logger)
	go func() { _ = poller.Run(ctx) }()

	// ---- Ops HTTP server ----
	ops := web.NewServer(cfg.Ops.Port, progressUC, replayUC, logger)
	go func() {
		if err := ops.Start(); err != nil {
			logger.Error().Err(err).Msg("ops server stopped")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("ops server shutdown")
	}
	for _, r := range runners {
		r.Wait()
	}
	logger.Info().Msg("all consumers drained")
}
