package tasks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"task-tracker/internal/domain"
)

// Service объединяет мутации задач с их нотификационными побочными
// эффектами. Сами мутации — обычный CRUD; вся специфика в том, какой
// TaskEvent уходит диспетчеру после коммита.
type Service struct {
	users         domain.UserRepo
	tasks         domain.TaskRepo
	notifications domain.NotificationRepo
	links         domain.LinkRepo
	dispatcher    domain.Dispatcher
	log           zerolog.Logger
}

// NewService создаёт сервис задач.
func NewService(users domain.UserRepo, tasks domain.TaskRepo, notifications domain.NotificationRepo, links domain.LinkRepo, dispatcher domain.Dispatcher, log zerolog.Logger) *Service {
	return &Service{
		users:         users,
		tasks:         tasks,
		notifications: notifications,
		links:         links,
		dispatcher:    dispatcher,
		log:           log,
	}
}

// RegisterUser создаёт пользователя вместе с записью привязки.
// Привязка создаётся здесь же, а не лениво при первом обращении,
// чтобы исключить гонку на первом /start.
func (s *Service) RegisterUser(ctx context.Context, email, firstName, lastName string) (domain.User, error) {
	user, err := s.users.CreateUser(ctx, domain.User{
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
	})
	if err != nil {
		return domain.User{}, err
	}
	if _, err := s.links.GetOrCreate(ctx, user.ID); err != nil {
		return domain.User{}, fmt.Errorf("создание привязки: %w", err)
	}
	return user, nil
}

// CreateList создаёт список задач.
func (s *Service) CreateList(ctx context.Context, name string, createdBy int64) (domain.TaskList, error) {
	return s.tasks.CreateList(ctx, domain.TaskList{Name: name, CreatedBy: createdBy})
}

// CreateTask создаёт задачу и запускает рассылку.
func (s *Service) CreateTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	created, err := s.tasks.CreateTask(ctx, task)
	if err != nil {
		return domain.Task{}, err
	}
	s.OnTaskMutated(ctx, created, nil)
	return created, nil
}

// UpdateTask сохраняет изменения задачи и запускает рассылку.
// Неизменяемые поля берутся из прежней записи, вызывающему их заполнять
// не нужно.
func (s *Service) UpdateTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	previous, err := s.tasks.GetTask(ctx, task.ID)
	if err != nil {
		return domain.Task{}, err
	}
	task.ListID = previous.ListID
	task.CreatedBy = previous.CreatedBy
	task.CreatedAt = previous.CreatedAt
	if task.Status == "" {
		task.Status = previous.Status
	}
	updated, err := s.tasks.UpdateTask(ctx, task)
	if err != nil {
		return domain.Task{}, err
	}
	s.OnTaskMutated(ctx, updated, &previous)
	return updated, nil
}

// CompleteTask помечает задачу выполненной. Доступно исполнителю
// и персоналу.
func (s *Service) CompleteTask(ctx context.Context, taskID, actorID int64, isStaff bool) (domain.Task, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !isStaff && (task.AssigneeID == nil || *task.AssigneeID != actorID) {
		return domain.Task{}, domain.ErrForbidden
	}

	previous := task
	task.Status = domain.StatusCompleted
	task, err = s.tasks.UpdateTask(ctx, task)
	if err != nil {
		return domain.Task{}, err
	}
	s.OnTaskMutated(ctx, task, &previous)
	return task, nil
}

// DeleteTask удаляет задачу создателя. Отзыв уже разосланных уведомлений
// не выполняется; открытые страницы получают финальный task_update.
func (s *Service) DeleteTask(ctx context.Context, taskID, actorID int64) error {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.CreatedBy != actorID {
		return domain.ErrForbidden
	}
	if err := s.tasks.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	s.OnTaskMutated(ctx, task, &task)
	return nil
}

// OnTaskMutated выводит вид события из снимка задачи и предыдущего
// состояния и отдаёт его диспетчеру. Nil previous означает только что
// созданную задачу. Назначение нового исполнителя при обновлении — тоже
// assigned, не только назначение при создании.
func (s *Service) OnTaskMutated(ctx context.Context, task domain.Task, previous *domain.Task) {
	kind := domain.EventCreated
	switch {
	case task.Status == domain.StatusCompleted && (previous == nil || previous.Status != domain.StatusCompleted):
		kind = domain.EventCompleted
	case task.AssigneeID != nil && (previous == nil || previous.AssigneeID == nil || *previous.AssigneeID != *task.AssigneeID):
		kind = domain.EventAssigned
	}

	event := domain.TaskEvent{
		TaskID:     task.ID,
		Title:      task.Title,
		Status:     task.Status,
		AssigneeID: task.AssigneeID,
		DueDate:    task.DueDate,
		CreatedBy:  task.CreatedBy,
		Kind:       kind,
	}
	if err := s.dispatcher.Dispatch(ctx, event); err != nil {
		// Сюда попадает только ErrMalformedEvent — ошибка программиста.
		s.log.Error().Err(err).Int64("task", task.ID).Msg("tasks: диспетчер отверг событие")
	}
}

// ActiveTasks возвращает незавершённые задачи исполнителя.
func (s *Service) ActiveTasks(ctx context.Context, userID int64) ([]domain.Task, error) {
	return s.tasks.ListActiveByAssignee(ctx, userID)
}

// TasksByChat возвращает активные задачи пользователя по chat_id.
func (s *Service) TasksByChat(ctx context.Context, chatID string) ([]domain.TaskSummary, error) {
	account, err := s.links.FindByChatID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, account.UserID)
	if err != nil {
		return nil, err
	}

	active, err := s.tasks.ListActiveByAssignee(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.TaskSummary, 0, len(active))
	for _, task := range active {
		summaries = append(summaries, domain.TaskSummary{
			ID:          task.ID,
			Title:       task.Title,
			Description: task.Description,
			Status:      task.Status,
			DueDate:     task.DueDate,
			Assignee:    user.Email,
		})
	}
	return summaries, nil
}

// CompleteByChat закрывает задачу из Telegram. Разрешено только
// исполнителю; в журнал пишется подтверждение в обход окна дедупликации —
// это квитанция действия, а не продукт рассылки.
func (s *Service) CompleteByChat(ctx context.Context, chatID string, taskID int64) error {
	account, err := s.links.FindByChatID(ctx, chatID)
	if err != nil {
		return err
	}
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.AssigneeID == nil || *task.AssigneeID != account.UserID {
		return domain.ErrForbidden
	}

	previous := task
	task.Status = domain.StatusCompleted
	task, err = s.tasks.UpdateTask(ctx, task)
	if err != nil {
		return err
	}

	message := fmt.Sprintf("✅ Задача \"%s\" завершена через Telegram.", task.Title)
	if _, err := s.notifications.CreateNotification(ctx, account.UserID, message); err != nil {
		s.log.Error().Err(err).Int64("user", account.UserID).Msg("tasks: не удалось записать подтверждение")
	}

	s.OnTaskMutated(ctx, task, &previous)
	return nil
}

// Notifications возвращает журнал пользователя и число непрочитанных.
func (s *Service) Notifications(ctx context.Context, userID int64) ([]domain.Notification, int, error) {
	items, err := s.notifications.ListByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	unread, err := s.notifications.UnreadCount(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return items, unread, nil
}

// MarkNotificationRead помечает одно уведомление прочитанным.
func (s *Service) MarkNotificationRead(ctx context.Context, userID, notificationID int64) error {
	return s.notifications.MarkRead(ctx, userID, notificationID)
}

// MarkAllNotificationsRead помечает все уведомления прочитанными.
func (s *Service) MarkAllNotificationsRead(ctx context.Context, userID int64) error {
	return s.notifications.MarkAllRead(ctx, userID)
}
