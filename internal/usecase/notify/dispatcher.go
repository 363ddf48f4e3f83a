package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"task-tracker/internal/adapters/ws"
	"task-tracker/internal/domain"
	"task-tracker/internal/infra/metrics"
)

// Окна дедупликации по умолчанию: повторное уведомление о назначении
// подавляется час, о просрочке — сутки.
const (
	DefaultAssignedWindow = time.Hour
	DefaultOverdueWindow  = 24 * time.Hour
)

// TaskUpdate — полезная нагрузка живой рассылки о состоянии задачи.
type TaskUpdate struct {
	Type     string            `json:"type"`
	TaskID   int64             `json:"task_id"`
	Title    string            `json:"title"`
	Status   domain.TaskStatus `json:"status"`
	Assignee *string           `json:"assignee"`
	DueDate  *string           `json:"due_date"`
}

// NotificationPush — полезная нагрузка живого уведомления пользователя.
type NotificationPush struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	NotificationID int64  `json:"notification_id"`
	UnreadCount    int    `json:"unread_count"`
	UserID         int64  `json:"user_id"`
}

// Dispatcher разводит событие задачи по трём каналам доставки: живая
// WebSocket-рассылка, журнал уведомлений и очередь отправки в Telegram.
// Ноги независимы: сбой одной логируется и не мешает остальным, вызвавшая
// операция об этом не узнаёт. Наружу поднимается только ErrMalformedEvent.
type Dispatcher struct {
	users         domain.UserRepo
	notifications domain.NotificationRepo
	links         domain.LinkRepo
	queue         domain.SendQueue
	broadcaster   domain.Broadcaster
	log           zerolog.Logger

	assignedWindow time.Duration
	overdueWindow  time.Duration
	now            func() time.Time
}

var _ domain.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher создаёт диспетчер с окнами дедупликации по умолчанию.
func NewDispatcher(users domain.UserRepo, notifications domain.NotificationRepo, links domain.LinkRepo, queue domain.SendQueue, broadcaster domain.Broadcaster, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		users:          users,
		notifications:  notifications,
		links:          links,
		queue:          queue,
		broadcaster:    broadcaster,
		log:            log,
		assignedWindow: DefaultAssignedWindow,
		overdueWindow:  DefaultOverdueWindow,
		now:            time.Now,
	}
}

// WithWindows переопределяет окна дедупликации.
func (d *Dispatcher) WithWindows(assigned, overdue time.Duration) *Dispatcher {
	if assigned > 0 {
		d.assignedWindow = assigned
	}
	if overdue > 0 {
		d.overdueWindow = overdue
	}
	return d
}

// Dispatch обрабатывает событие задачи.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.TaskEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	d.pushTaskUpdate(event)

	if !event.NeedsNotification() || event.AssigneeID == nil {
		return nil
	}

	notification, ok := d.persistNotification(ctx, event)
	if !ok {
		return nil
	}
	d.pushNotification(ctx, notification)
	d.enqueueSend(ctx, *event.AssigneeID, notification.Message)
	return nil
}

// pushTaskUpdate — живая рассылка состояния задачи: общая группа плюс
// приватная группа затронутого пользователя. Без гарантий доставки:
// нет подписчиков — сообщение пропадает.
func (d *Dispatcher) pushTaskUpdate(event domain.TaskEvent) {
	payload := TaskUpdate{
		Type:   "task_update",
		TaskID: event.TaskID,
		Title:  event.Title,
		Status: event.Status,
	}
	if event.AssigneeID != nil {
		if user, err := d.users.GetByID(context.Background(), *event.AssigneeID); err == nil {
			email := user.Email
			payload.Assignee = &email
		}
	}
	if event.DueDate != nil {
		due := event.DueDate.Format(time.RFC3339)
		payload.DueDate = &due
	}

	d.broadcaster.Publish(ws.TasksGroup, payload)
	if event.AssigneeID != nil {
		d.broadcaster.Publish(ws.UserGroup(*event.AssigneeID), payload)
	}
}

// persistNotification применяет окно дедупликации и пишет запись журнала.
// Возвращает false, если запись подавлена или нога отказала.
func (d *Dispatcher) persistNotification(ctx context.Context, event domain.TaskEvent) (domain.Notification, bool) {
	userID := *event.AssigneeID

	user, err := d.users.GetByID(ctx, userID)
	if err != nil {
		d.log.Error().Err(err).Int64("user", userID).Msg("dispatch: не удалось получить адресата")
		return domain.Notification{}, false
	}
	if !user.IsActive() {
		return domain.Notification{}, false
	}

	window := d.assignedWindow
	if event.Kind == domain.EventOverdue {
		window = d.overdueWindow
	}
	since := d.now().Add(-window)

	duplicate, err := d.notifications.HasRecentWithTitle(ctx, userID, event.Title, since)
	if err != nil {
		d.log.Error().Err(err).Int64("user", userID).Msg("dispatch: проверка дубликатов не удалась")
		return domain.Notification{}, false
	}
	if duplicate {
		metrics.NotificationsDeduped.WithLabelValues(string(event.Kind)).Inc()
		return domain.Notification{}, false
	}

	notification, err := d.notifications.CreateNotification(ctx, userID, d.composeMessage(ctx, event))
	if err != nil {
		d.log.Error().Err(err).Int64("user", userID).Msg("dispatch: не удалось сохранить уведомление")
		return domain.Notification{}, false
	}
	metrics.NotificationsCreated.WithLabelValues(string(event.Kind)).Inc()
	return notification, true
}

// pushNotification шлёт живое уведомление в приватную группу пользователя.
func (d *Dispatcher) pushNotification(ctx context.Context, notification domain.Notification) {
	unread, err := d.notifications.UnreadCount(ctx, notification.UserID)
	if err != nil {
		d.log.Error().Err(err).Int64("user", notification.UserID).Msg("dispatch: не удалось посчитать непрочитанные")
	}
	d.broadcaster.Publish(ws.UserGroup(notification.UserID), NotificationPush{
		Type:           "notification",
		Message:        notification.Message,
		NotificationID: notification.ID,
		UnreadCount:    unread,
		UserID:         notification.UserID,
	})
}

// enqueueSend ставит задание на отправку в Telegram, если чат привязан.
// Отсутствие привязки — не ошибка. Очередь развязывает отправку от
// исходного запроса: недоступный Telegram его не тормозит.
func (d *Dispatcher) enqueueSend(ctx context.Context, userID int64, text string) {
	account, err := d.links.GetOrCreate(ctx, userID)
	if err != nil {
		d.log.Error().Err(err).Int64("user", userID).Msg("dispatch: не удалось получить привязку")
		return
	}
	if !account.Linked() {
		d.log.Debug().Int64("user", userID).Msg("dispatch: чат не привязан, отправка пропущена")
		return
	}
	if err := d.queue.Enqueue(ctx, domain.TelegramJob{ChatID: account.ChatID, Text: text}); err != nil {
		d.log.Error().Err(err).Str("chat", account.ChatID).Msg("dispatch: не удалось поставить задание")
		return
	}
	metrics.TelegramJobsEnqueued.Inc()
}

func (d *Dispatcher) composeMessage(ctx context.Context, event domain.TaskEvent) string {
	switch event.Kind {
	case domain.EventOverdue:
		return fmt.Sprintf("⏰ Задача просрочена:\n<b>%s</b>\nСрок: %s", event.Title, formatDue(event.DueDate, "—"))
	default:
		creator := "неизвестный автор"
		if user, err := d.users.GetByID(ctx, event.CreatedBy); err == nil {
			creator = user.FullName()
		}
		return fmt.Sprintf("📝 Новая задача от <b>%s</b>:\n\"<b>%s</b>\"\nСрок: %s", creator, event.Title, formatDue(event.DueDate, "Без срока"))
	}
}

func formatDue(due *time.Time, fallback string) string {
	if due == nil {
		return fallback
	}
	return due.Format("02.01.2006 15:04")
}
