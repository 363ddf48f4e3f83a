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

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

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
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	sendQueue, err := newSendQueue(cfg, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось создать очередь отправки")
	}

	repoAdapter := repo.NewPostgres(pool)
	hub := ws.NewHub(logger.With().Str("component", "ws").Logger())
	broadcaster := ws.NewRedisBroadcaster(rdb, logger.With().Str("component", "ws").Logger())
	go ws.RunRelay(ctx, rdb, hub, logger.With().Str("component", "ws_relay").Logger())

	dispatcher := notify.NewDispatcher(repoAdapter, repoAdapter, repoAdapter, sendQueue, broadcaster, logger.With().Str("component", "dispatch").Logger()).
		WithWindows(cfg.Notify.AssignedWindow, cfg.Notify.OverdueWindow)
	linkUC := linking.NewService(repoAdapter, logger.With().Str("component", "linking").Logger())
	taskUC := tasks.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, dispatcher, logger.With().Str("component", "tasks").Logger())

	server := httpinfra.NewServer(logger)
	r := server.Router

	// Веб-сессии: идентификатор пользователя проставляет внешний слой
	// аутентификации, сюда он приходит заголовком.
	r.Group(func(api chi.Router) {
		api.Use(middleware.Timeout(60 * time.Second))

		api.Post("/api/users", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Email     string `json:"email"`
				FirstName string `json:"first_name"`
				LastName  string `json:"last_name"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
				writeError(w, http.StatusBadRequest, "email required")
				return
			}
			user, err := taskUC.RegisterUser(r.Context(), req.Email, req.FirstName, req.LastName)
			if err != nil {
				logger.Error().Err(err).Msg("api: регистрация не удалась")
				writeError(w, http.StatusInternalServerError, "failed to register")
				return
			}
			writeJSON(w, map[string]any{"id": user.ID, "email": user.Email})
		})

		api.Post("/api/lists", func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorID(w, r)
			if !ok {
				return
			}
			var req struct {
				Name string `json:"name"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
				writeError(w, http.StatusBadRequest, "name required")
				return
			}
			list, err := taskUC.CreateList(r.Context(), req.Name, actor)
			if err != nil {
				logger.Error().Err(err).Msg("api: создание списка не удалось")
				writeError(w, http.StatusInternalServerError, "failed to create list")
				return
			}
			writeJSON(w, map[string]any{"id": list.ID, "name": list.Name})
		})

		api.Get("/api/tasks", func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorID(w, r)
			if !ok {
				return
			}
			items, err := taskUC.ActiveTasks(r.Context(), actor)
			if err != nil {
				logger.Error().Err(err).Msg("api: выборка задач не удалась")
				writeError(w, http.StatusInternalServerError, "failed to list tasks")
				return
			}
			writeJSON(w, toTaskViews(items))
		})

		api.Post("/api/tasks", func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorID(w, r)
			if !ok {
				return
			}
			var req taskRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" || req.ListID == 0 {
				writeError(w, http.StatusBadRequest, "list_id and title required")
				return
			}
			task, err := taskUC.CreateTask(r.Context(), req.toTask(actor))
			if err != nil {
				logger.Error().Err(err).Msg("api: создание задачи не удалось")
				writeError(w, http.StatusInternalServerError, "failed to create task")
				return
			}
			writeJSON(w, map[string]any{"id": task.ID})
		})

		api.Put("/api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
			if _, ok := actorID(w, r); !ok {
				return
			}
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid task id")
				return
			}
			var req taskRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
				writeError(w, http.StatusBadRequest, "title required")
				return
			}
			task := req.toTask(0)
			task.ID = id
			if _, err := taskUC.UpdateTask(r.Context(), task); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					writeError(w, http.StatusNotFound, "not found")
					return
				}
				logger.Error().Err(err).Msg("api: обновление задачи не удалось")
				writeError(w, http.StatusInternalServerError, "failed to update task")
				return
			}
			writeJSON(w, map[string]string{"detail": "ok"})
		})

		api.Post("/api/tasks/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorID(w, r)
			if !ok {
				return
			}
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid task id")
				return
			}
			isStaff := r.Header.Get("X-User-Role") == "staff"
			if _, err := taskUC.CompleteTask(r.Context(), id, actor, isStaff); err != nil {
				switch {
				case errors.Is(err, domain.ErrNotFound):
					writeError(w, http.StatusNotFound, "not found")
				case errors.Is(err, domain.ErrForbidden):
					writeError(w, http.StatusForbidden, "forbidden")
				default:
					logger.Error().Err(err).Msg("api: завершение задачи не удалось")
					writeError(w, http.StatusInternalServerError, "failed to complete task")
				}
				return
			}
			writeJSON(w, map[string]string{"status": "completed"})
		})

		api.Delete("/api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorID(w, r)
			if !ok {
				return
			}
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid task id")
				return
			}
			if err := taskUC.DeleteTask(r.Context(), id, actor); err != nil {
				switch {
				case errors.Is(err, domain.ErrNotFound):
					writeError(w, http.StatusNotFound, "not found")
				case errors.Is(err, domain.ErrForbidden):
					writeError(w, http.StatusForbidden, "forbidden")
				default:
					logger.Error().Err(err).Msg("api: удаление задачи не удалось")
					writeError(w, http.StatusInternalServerError, "failed to delete task")
				}
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		api.Get("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorID(w, r)
			if !ok {
				return
			}
			items, unread, err := taskUC.Notifications(r.Context(), actor)
			if err != nil {
				logger.Error().Err(err).Msg("api: выборка уведомлений не удалась")
				writeError(w, http.StatusInternalServerError, "failed to list notifications")
				return
			}
			writeJSON(w, map[string]any{"unread_count": unread, "notifications": toNotificationViews(items)})
		})

		api.Post("/api/notifications/{id}/read", func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorID(w, r)
			if !ok {
				return
			}
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid notification id")
				return
			}
			if err := taskUC.MarkNotificationRead(r.Context(), actor, id); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					writeError(w, http.StatusNotFound, "not found")
					return
				}
				logger.Error().Err(err).Msg("api: отметка прочтения не удалась")
				writeError(w, http.StatusInternalServerError, "failed to mark read")
				return
			}
			writeJSON(w, map[string]string{"detail": "ok"})
		})

		api.Post("/api/notifications/read_all", func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorID(w, r)
			if !ok {
				return
			}
			if err := taskUC.MarkAllNotificationsRead(r.Context(), actor); err != nil {
				logger.Error().Err(err).Msg("api: отметка прочтения не удалась")
				writeError(w, http.StatusInternalServerError, "failed to mark read")
				return
			}
			writeJSON(w, map[string]string{"detail": "ok"})
		})

		api.Get("/api/profile/link", func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorID(w, r)
			if !ok {
				return
			}
			account, err := linkUC.Account(r.Context(), actor)
			if err != nil {
				logger.Error().Err(err).Msg("api: привязка недоступна")
				writeError(w, http.StatusInternalServerError, "failed to load link")
				return
			}
			writeJSON(w, linkView(account))
		})

		api.Post("/api/profile/link/regenerate", func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorID(w, r)
			if !ok {
				return
			}
			account, err := linkUC.Regenerate(r.Context(), actor)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					writeError(w, http.StatusNotFound, "not found")
					return
				}
				logger.Error().Err(err).Msg("api: перевыпуск токена не удался")
				writeError(w, http.StatusInternalServerError, "failed to regenerate token")
				return
			}
			writeJSON(w, linkView(account))
		})

		// Bot-facing поверхность: аутентификации нет, бот ходит изнутри
		// периметра, как и в исходной системе.
		api.Post("/api/bot/link", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Token  string `json:"token"`
				ChatID string `json:"chat_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" || req.ChatID == "" {
				writeError(w, http.StatusBadRequest, "token and chat_id required")
				return
			}
			if _, err := linkUC.Link(r.Context(), req.Token, req.ChatID); err != nil {
				switch {
				case errors.Is(err, domain.ErrInvalidToken):
					writeDetail(w, http.StatusBadRequest, "Invalid token")
				case errors.Is(err, domain.ErrChatAlreadyLinked):
					writeDetail(w, http.StatusConflict, "chat already linked")
				default:
					logger.Error().Err(err).Msg("api: привязка не удалась")
					writeError(w, http.StatusInternalServerError, "failed to link")
				}
				return
			}
			writeDetail(w, http.StatusOK, "linked")
		})

		api.Get("/api/bot/tasks_by_chat", func(w http.ResponseWriter, r *http.Request) {
			chatID := r.URL.Query().Get("chat_id")
			if chatID == "" {
				writeDetail(w, http.StatusBadRequest, "chat_id required")
				return
			}
			summaries, err := taskUC.TasksByChat(r.Context(), chatID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					writeDetail(w, http.StatusNotFound, "not found")
					return
				}
				logger.Error().Err(err).Msg("api: задачи по чату не получены")
				writeError(w, http.StatusInternalServerError, "failed to list tasks")
				return
			}
			writeJSON(w, summaries)
		})

		api.Post("/api/bot/complete_by_chat", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				ChatID string `json:"chat_id"`
				TaskID int64  `json:"task_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" || req.TaskID == 0 {
				writeDetail(w, http.StatusBadRequest, "chat_id and task_id required")
				return
			}
			if err := taskUC.CompleteByChat(r.Context(), req.ChatID, req.TaskID); err != nil {
				switch {
				case errors.Is(err, domain.ErrNotFound):
					writeDetail(w, http.StatusNotFound, "not found")
				case errors.Is(err, domain.ErrForbidden):
					writeDetail(w, http.StatusForbidden, "forbidden")
				default:
					logger.Error().Err(err).Msg("api: завершение по чату не удалось")
					writeError(w, http.StatusInternalServerError, "failed to complete task")
				}
				return
			}
			writeDetail(w, http.StatusOK, "ok")
		})
	})

	// WebSocket живёт вне таймаут-группы: соединение держится часами.
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID, _ := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
		hub.Serve(w, r, userID)
	})

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")
	go func() {
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
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

type taskRequest struct {
	ListID      int64      `json:"list_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	AssigneeID  *int64     `json:"assignee_id"`
	DueDate     *time.Time `json:"due_date"`
	Status      string     `json:"status"`
}

func (r taskRequest) toTask(createdBy int64) domain.Task {
	return domain.Task{
		ListID:      r.ListID,
		Title:       r.Title,
		Description: r.Description,
		AssigneeID:  r.AssigneeID,
		DueDate:     r.DueDate,
		Status:      domain.TaskStatus(r.Status),
		CreatedBy:   createdBy,
	}
}

type taskView struct {
	ID          int64             `json:"id"`
	ListID      int64             `json:"list_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	AssigneeID  *int64            `json:"assignee_id"`
	DueDate     *time.Time        `json:"due_date"`
	Status      domain.TaskStatus `json:"status"`
	CreatedBy   int64             `json:"created_by"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toTaskViews(items []domain.Task) []taskView {
	views := make([]taskView, 0, len(items))
	for _, t := range items {
		views = append(views, taskView{
			ID:          t.ID,
			ListID:      t.ListID,
			Title:       t.Title,
			Description: t.Description,
			AssigneeID:  t.AssigneeID,
			DueDate:     t.DueDate,
			Status:      t.Status,
			CreatedBy:   t.CreatedBy,
			CreatedAt:   t.CreatedAt,
			UpdatedAt:   t.UpdatedAt,
		})
	}
	return views
}

type notificationView struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func toNotificationViews(items []domain.Notification) []notificationView {
	views := make([]notificationView, 0, len(items))
	for _, n := range items {
		views = append(views, notificationView{ID: n.ID, Message: n.Message, IsRead: n.IsRead, CreatedAt: n.CreatedAt})
	}
	return views
}

func linkView(account domain.LinkAccount) map[string]any {
	return map[string]any{
		"link_token": account.LinkToken,
		"linked":     account.Linked(),
		"linked_at":  account.LinkedAt,
	}
}

// actorID достаёт идентификатор пользователя, проставленный внешним
// слоем аутентификации.
func actorID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
