package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"task-tracker/internal/adapters/telegram"
	"task-tracker/internal/domain"
	"task-tracker/internal/infra/cache"
	"task-tracker/internal/infra/config"
	"task-tracker/internal/infra/log"
	"task-tracker/internal/infra/metrics"
	"task-tracker/internal/infra/queue"
	"task-tracker/internal/usecase/notify"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	sendQueue, err := newSendQueue(cfg, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier: не удалось создать очередь отправки")
	}

	sender := telegram.NewSender(cfg.Telegram.APIBase, cfg.Telegram.Token, cfg.Telegram.Timeout)
	worker := notify.NewWorker(sendQueue, sender, cache.NewRedis(rdb), cfg.Notify.SendSuppress)

	workers := cfg.Notify.Workers
	if workers <= 0 {
		workers = 1
	}
	logger.Info().Int("workers", workers).Msg("notifier: запуск")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker.Run(ctx, workerLogger(logger, id))
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	if closer, ok := sendQueue.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	logger.Info().Msg("notifier: остановка")
}

func workerLogger(logger zerolog.Logger, id int) zerolog.Logger {
	return logger.With().Int("worker", id).Logger()
}

func newSendQueue(cfg config.AppConfig, rdb *redis.Client) (domain.SendQueue, error) {
	if cfg.AMQPURL != "" {
		return queue.NewRabbitSendQueue(cfg.AMQPURL, cfg.Queues.Send)
	}
	return queue.NewRedisSendQueue(rdb, cfg.Queues.Send), nil
}
