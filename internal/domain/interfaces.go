package domain

import (
	"context"
	"time"
)

// UserRepo управляет пользователями.
type UserRepo interface {
	CreateUser(ctx context.Context, user User) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	SoftDelete(ctx context.Context, id int64) error
}

// TaskRepo управляет списками и задачами.
type TaskRepo interface {
	CreateList(ctx context.Context, list TaskList) (TaskList, error)
	CreateTask(ctx context.Context, task Task) (Task, error)
	UpdateTask(ctx context.Context, task Task) (Task, error)
	GetTask(ctx context.Context, id int64) (Task, error)
	DeleteTask(ctx context.Context, id int64) error
	ListActiveByAssignee(ctx context.Context, userID int64) ([]Task, error)
	ListOverdue(ctx context.Context, now time.Time) ([]Task, error)
}

// NotificationRepo ведёт журнал уведомлений.
type NotificationRepo interface {
	CreateNotification(ctx context.Context, userID int64, message string) (Notification, error)
	// HasRecentWithTitle проверяет окно дедупликации: есть ли у пользователя
	// уведомление новее since, содержащее title как подстроку.
	HasRecentWithTitle(ctx context.Context, userID int64, title string, since time.Time) (bool, error)
	ListByUser(ctx context.Context, userID int64) ([]Notification, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	MarkRead(ctx context.Context, userID, notificationID int64) error
	MarkAllRead(ctx context.Context, userID int64) error
}

// LinkRepo хранит привязки аккаунтов к Telegram-чатам.
type LinkRepo interface {
	// GetOrCreate возвращает запись привязки, создавая её со свежим токеном
	// при первом обращении. Гонка двух одновременных созданий разрешается
	// уникальным ограничением в БД: проигравший перечитывает запись.
	GetOrCreate(ctx context.Context, userID int64) (LinkAccount, error)
	// RegenerateToken заменяет токен; старый перестаёт действовать сразу.
	RegenerateToken(ctx context.Context, userID int64) (LinkAccount, error)
	FindByToken(ctx context.Context, token string) (LinkAccount, error)
	FindByChatID(ctx context.Context, chatID string) (LinkAccount, error)
	// Link в одной транзакции находит аккаунт по токену и записывает chat_id
	// с отметкой времени. Повторная привязка перезаписывает прежний чат.
	Link(ctx context.Context, token, chatID string) (LinkAccount, error)
}

// SendQueue — очередь заданий на отправку сообщений в Telegram.
type SendQueue interface {
	Enqueue(ctx context.Context, job TelegramJob) error
	Pop(ctx context.Context) (TelegramJob, error)
}

// Broadcaster публикует сообщения подключённым WebSocket-сессиям.
// Доставка эфемерная: если в группе никого нет, сообщение теряется.
type Broadcaster interface {
	Publish(group string, payload any)
}

// SendResult — структурированный итог отправки во внешний мессенджер.
type SendResult struct {
	OK         bool
	StatusCode int
	Err        string
}

// MessageSender выполняет единичную отправку сообщения в чат.
// Транспортные сбои возвращаются в SendResult и никогда не паникуют.
type MessageSender interface {
	Send(ctx context.Context, chatID, text string) SendResult
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}

// Dispatcher принимает событие задачи и разводит его по каналам доставки.
type Dispatcher interface {
	Dispatch(ctx context.Context, event TaskEvent) error
}
