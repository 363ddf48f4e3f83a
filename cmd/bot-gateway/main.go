package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"task-tracker/internal/adapters/bot"
	"task-tracker/internal/adapters/repo"
	"task-tracker/internal/adapters/ws"
	"task-tracker/internal/domain"
	"task-tracker/internal/infra/config"
	"task-tracker/internal/infra/db"
	httpinfra "task-tracker/internal/infra/http"
	"task-tracker/internal/infra/log"
	"task-tracker/internal/infra/metrics"
	"task-tracker/internal/infra/queue"
	"task-tracker/internal/usecase/linking"
	"task-tracker/internal/usecase/notify"
	"task-tracker/internal/usecase/tasks"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: нет подключения к БД")
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	sendQueue, err := newSendQueue(cfg, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось создать очередь отправки")
	}

	repoAdapter := repo.NewPostgres(pool)
	// Сессий WebSocket этот процесс не держит: публикации уходят в Redis,
	// доносит их до клиентов ретранслятор в api.
	broadcaster := ws.NewRedisBroadcaster(rdb, logger.With().Str("component", "ws").Logger())

	dispatcher := notify.NewDispatcher(repoAdapter, repoAdapter, repoAdapter, sendQueue, broadcaster, logger.With().Str("component", "dispatch").Logger()).
		WithWindows(cfg.Notify.AssignedWindow, cfg.Notify.OverdueWindow)
	linkUC := linking.NewService(repoAdapter, logger.With().Str("component", "linking").Logger())
	taskUC := tasks.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, dispatcher, logger.With().Str("component", "tasks").Logger())

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось инициализировать бота")
	}
	logger.Info().Str("bot", botAPI.Self.UserName).Msg("bot-gateway: бот авторизован")

	if cfg.Telegram.WebhookURL != "" {
		webhook, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("bot-gateway: некорректный webhook URL")
		}
		if _, err := botAPI.Request(webhook); err != nil {
			logger.Fatal().Err(err).Msg("bot-gateway: не удалось установить webhook")
		}
	}

	handler := bot.NewHandler(botAPI, logger.With().Str("component", "bot").Logger(), linkUC, taskUC)

	server := httpinfra.NewServer(logger)
	server.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var upd tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			logger.Debug().Err(err).Msg("bot-gateway: некорректный апдейт")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		handler.HandleUpdate(r.Context(), upd)
		w.WriteHeader(http.StatusOK)
	})

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")
	go func() {
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("bot-gateway: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("bot-gateway: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func newSendQueue(cfg config.AppConfig, rdb *redis.Client) (domain.SendQueue, error) {
	if cfg.AMQPURL != "" {
		return queue.NewRabbitSendQueue(cfg.AMQPURL, cfg.Queues.Send)
	}
	return queue.NewRedisSendQueue(rdb, cfg.Queues.Send), nil
}
