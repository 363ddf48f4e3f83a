package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"task-tracker/internal/adapters/repo"
	"task-tracker/internal/adapters/ws"
	"task-tracker/internal/domain"
	"task-tracker/internal/infra/config"
	"task-tracker/internal/infra/db"
	"task-tracker/internal/infra/log"
	"task-tracker/internal/infra/metrics"
	"task-tracker/internal/infra/queue"
	"task-tracker/internal/usecase/notify"
	"task-tracker/internal/usecase/sweep"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	sendQueue, err := newSendQueue(cfg, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось создать очередь отправки")
	}

	repoAdapter := repo.NewPostgres(pool)
	broadcaster := ws.NewRedisBroadcaster(rdb, logger.With().Str("component", "ws").Logger())
	dispatcher := notify.NewDispatcher(repoAdapter, repoAdapter, repoAdapter, sendQueue, broadcaster, logger.With().Str("component", "dispatch").Logger()).
		WithWindows(cfg.Notify.AssignedWindow, cfg.Notify.OverdueWindow)
	sweeper := sweep.NewService(repoAdapter, dispatcher, logger.With().Str("component", "sweep").Logger())

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	logger.Info().Dur("interval", interval).Msg("scheduler: запуск")

	// Первый проход сразу после старта, дальше по тикеру.
	runSweep(ctx, sweeper, logger)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: остановка")
			return
		case <-ticker.C:
			runSweep(ctx, sweeper, logger)
		}
	}
}

func runSweep(ctx context.Context, sweeper *sweep.Service, logger zerolog.Logger) {
	if _, err := sweeper.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("scheduler: проход завершился с ошибкой")
	}
}

func newSendQueue(cfg config.AppConfig, rdb *redis.Client) (domain.SendQueue, error) {
	if cfg.AMQPURL != "" {
		return queue.NewRabbitSendQueue(cfg.AMQPURL, cfg.Queues.Send)
	}
	return queue.NewRedisSendQueue(rdb, cfg.Queues.Send), nil
}
