package domain

import "time"

// UserStatus описывает состояние учётной записи.
type UserStatus string

const (
	UserActive  UserStatus = "active"
	UserDeleted UserStatus = "deleted"
)

// User описывает пользователя системы.
type User struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
	Status    UserStatus
	DeletedAt *time.Time
	CreatedAt time.Time
}

// IsActive сообщает, можно ли пользователю адресовать уведомления.
func (u User) IsActive() bool {
	return u.Status == UserActive && u.DeletedAt == nil
}

// FullName возвращает имя пользователя либо email, если имя не заполнено.
func (u User) FullName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Email
	}
	return name
}

// TaskStatus описывает статус задачи.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
)

// TaskList группирует задачи.
type TaskList struct {
	ID        int64
	Name      string
	CreatedBy int64
	CreatedAt time.Time
}

// Task описывает задачу в списке.
type Task struct {
	ID          int64
	ListID      int64
	Title       string
	Description string
	AssigneeID  *int64
	DueDate     *time.Time
	Status      TaskStatus
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsOverdue сообщает, просрочена ли задача на данный момент.
// Завершённая задача не считается просроченной независимо от срока.
func (t Task) IsOverdue(now time.Time) bool {
	if t.Status == StatusCompleted || t.DueDate == nil {
		return false
	}
	return t.DueDate.Before(now)
}

// Notification — запись журнала уведомлений пользователя.
// Записи не изменяются, кроме флага прочтения.
type Notification struct {
	ID        int64
	UserID    int64
	Message   string
	IsRead    bool
	CreatedAt time.Time
}

// LinkAccount связывает пользователя с Telegram-чатом через токен привязки.
// Токен показывается пользователю в профиле и перевыпускается по запросу;
// chat_id пустой, пока привязка не выполнена.
type LinkAccount struct {
	ID        int64
	UserID    int64
	ChatID    string
	LinkToken string
	LinkedAt  *time.Time
}

// Linked сообщает, завершена ли привязка чата.
func (a LinkAccount) Linked() bool {
	return a.ChatID != ""
}

// TelegramJob — задание на отправку сообщения в Telegram.
type TelegramJob struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// TaskSummary — краткое представление задачи для бота и REST.
type TaskSummary struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	DueDate     *time.Time `json:"due_date"`
	Assignee    string     `json:"assignee"`
}
