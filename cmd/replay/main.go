// File: cmd/replay/main.go
// replay re-submits dead-lettered tasks: one by id, or a full sweep.
package main

import (
	"context"
	"flag"
	"time"

	"conversation-analysis/internal/config"
	"conversation-analysis/internal/domain/model"
	pg "conversation-analysis/internal/infra/db/postgres"
	"conversation-analysis/internal/infra/logging"
	red "conversation-analysis/internal/infra/redis"
	"conversation-analysis/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	taskID := flag.String("task", "", "dead-lettered task id to replay")
	sweep := flag.Bool("sweep", false, "replay every unresolved dead letter")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		panic("config: " + err.Error())
	}
	logger := logging.New(cfg.Log, false)
	if *taskID == "" && !*sweep {
		logger.Fatal().Msg("nothing to do: pass -task <id> or -sweep")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	queues := []string{
		model.QueueCompute, model.QueuePersist, model.QueueEmbeddings,
		model.QueueFanout, model.QueueFinalize, model.QueueSequential,
	}
	broker := red.NewBroker(redisClient, queues, logger)
	failedRepo := pg.NewFailedTaskRepo(pool)
	replayUC := usecase.NewReplayUseCase(failedRepo, broker, cfg.Sweep.BatchSize, logger)

	if *taskID != "" {
		if err := replayUC.ReplayOne(ctx, *taskID); err != nil {
			logger.Fatal().Err(err).Str("task_id", *taskID).Msg("replay failed")
		}
		logger.Info().Str("task_id", *taskID).Msg("task replayed")
		return
	}

	n, err := replayUC.SweepOnce(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweep failed")
	}
	logger.Info().Int("replayed", n).Msg("sweep finished")
}
