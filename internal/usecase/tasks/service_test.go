package tasks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"task-tracker/internal/domain"
)

type stubUsers struct {
	users map[int64]domain.User
}

func (s *stubUsers) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	u.ID = int64(len(s.users) + 1)
	s.users[u.ID] = u
	return u, nil
}
func (s *stubUsers) GetByID(_ context.Context, id int64) (domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}
func (s *stubUsers) GetByEmail(_ context.Context, _ string) (domain.User, error) {
	return domain.User{}, domain.ErrNotFound
}
func (s *stubUsers) SoftDelete(_ context.Context, _ int64) error { return nil }

type stubTasks struct {
	tasks  map[int64]domain.Task
	nextID int64
}

func (s *stubTasks) CreateList(_ context.Context, l domain.TaskList) (domain.TaskList, error) {
	l.ID = 1
	return l, nil
}
func (s *stubTasks) CreateTask(_ context.Context, t domain.Task) (domain.Task, error) {
	s.nextID++
	t.ID = s.nextID
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	s.tasks[t.ID] = t
	return t, nil
}
func (s *stubTasks) UpdateTask(_ context.Context, t domain.Task) (domain.Task, error) {
	if _, ok := s.tasks[t.ID]; !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	s.tasks[t.ID] = t
	return t, nil
}
func (s *stubTasks) GetTask(_ context.Context, id int64) (domain.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}
func (s *stubTasks) DeleteTask(_ context.Context, id int64) error {
	if _, ok := s.tasks[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}
func (s *stubTasks) ListActiveByAssignee(_ context.Context, userID int64) ([]domain.Task, error) {
	var out []domain.Task
	for _, t := range s.tasks {
		if t.AssigneeID != nil && *t.AssigneeID == userID && t.Status != domain.StatusCompleted {
			out = append(out, t)
		}
	}
	return out, nil
}
func (s *stubTasks) ListOverdue(_ context.Context, now time.Time) ([]domain.Task, error) {
	var out []domain.Task
	for _, t := range s.tasks {
		if t.IsOverdue(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

type stubNotifications struct {
	created []domain.Notification
}

func (s *stubNotifications) CreateNotification(_ context.Context, userID int64, message string) (domain.Notification, error) {
	n := domain.Notification{ID: int64(len(s.created) + 1), UserID: userID, Message: message}
	s.created = append(s.created, n)
	return n, nil
}
func (s *stubNotifications) HasRecentWithTitle(_ context.Context, _ int64, _ string, _ time.Time) (bool, error) {
	return false, nil
}
func (s *stubNotifications) ListByUser(_ context.Context, _ int64) ([]domain.Notification, error) {
	return s.created, nil
}
func (s *stubNotifications) UnreadCount(_ context.Context, _ int64) (int, error) {
	return len(s.created), nil
}
func (s *stubNotifications) MarkRead(_ context.Context, _, _ int64) error { return nil }
func (s *stubNotifications) MarkAllRead(_ context.Context, _ int64) error { return nil }

type stubLinks struct {
	created  []int64
	accounts map[string]int64 // chat_id -> user_id
}

func (s *stubLinks) GetOrCreate(_ context.Context, userID int64) (domain.LinkAccount, error) {
	s.created = append(s.created, userID)
	return domain.LinkAccount{UserID: userID, LinkToken: "tok"}, nil
}
func (s *stubLinks) RegenerateToken(_ context.Context, userID int64) (domain.LinkAccount, error) {
	return domain.LinkAccount{UserID: userID}, nil
}
func (s *stubLinks) FindByToken(_ context.Context, _ string) (domain.LinkAccount, error) {
	return domain.LinkAccount{}, domain.ErrNotFound
}
func (s *stubLinks) FindByChatID(_ context.Context, chatID string) (domain.LinkAccount, error) {
	userID, ok := s.accounts[chatID]
	if !ok {
		return domain.LinkAccount{}, domain.ErrNotFound
	}
	return domain.LinkAccount{UserID: userID, ChatID: chatID}, nil
}
func (s *stubLinks) Link(_ context.Context, _, chatID string) (domain.LinkAccount, error) {
	return domain.LinkAccount{ChatID: chatID}, nil
}

type captureDispatcher struct {
	events []domain.TaskEvent
}

func (c *captureDispatcher) Dispatch(_ context.Context, event domain.TaskEvent) error {
	c.events = append(c.events, event)
	return nil
}

func ptrInt64(v int64) *int64 { return &v }

func newTestService() (*Service, *stubTasks, *stubNotifications, *stubLinks, *captureDispatcher) {
	users := &stubUsers{users: map[int64]domain.User{
		1: {ID: 1, Email: "boss@example.com", Status: domain.UserActive},
		2: {ID: 2, Email: "dev@example.com", Status: domain.UserActive},
	}}
	taskRepo := &stubTasks{tasks: make(map[int64]domain.Task)}
	notifications := &stubNotifications{}
	links := &stubLinks{accounts: make(map[string]int64)}
	dispatcher := &captureDispatcher{}
	service := NewService(users, taskRepo, notifications, links, dispatcher, zerolog.Nop())
	return service, taskRepo, notifications, links, dispatcher
}

func TestRegisterUserCreatesLink(t *testing.T) {
	service, _, _, links, _ := newTestService()
	user, err := service.RegisterUser(context.Background(), "new@example.com", "Анна", "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(links.created) != 1 || links.created[0] != user.ID {
		t.Fatal("привязка должна создаваться вместе с пользователем")
	}
}

func TestCreateTaskWithAssigneeEmitsAssigned(t *testing.T) {
	service, _, _, _, dispatcher := newTestService()
	_, err := service.CreateTask(context.Background(), domain.Task{ListID: 1, Title: "Отчёт", AssigneeID: ptrInt64(2), CreatedBy: 1})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(dispatcher.events) != 1 {
		t.Fatalf("ожидали 1 событие, получили %d", len(dispatcher.events))
	}
	if dispatcher.events[0].Kind != domain.EventAssigned {
		t.Fatalf("ожидали assigned, получили %s", dispatcher.events[0].Kind)
	}
}

func TestCreateTaskWithoutAssigneeEmitsCreated(t *testing.T) {
	service, _, _, _, dispatcher := newTestService()
	if _, err := service.CreateTask(context.Background(), domain.Task{ListID: 1, Title: "Отчёт", CreatedBy: 1}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if dispatcher.events[0].Kind != domain.EventCreated {
		t.Fatalf("ожидали created, получили %s", dispatcher.events[0].Kind)
	}
}

func TestUpdateReassignEmitsAssigned(t *testing.T) {
	service, _, _, _, dispatcher := newTestService()
	created, _ := service.CreateTask(context.Background(), domain.Task{ListID: 1, Title: "Отчёт", AssigneeID: ptrInt64(1), CreatedBy: 1})

	created.AssigneeID = ptrInt64(2)
	if _, err := service.UpdateTask(context.Background(), created); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	last := dispatcher.events[len(dispatcher.events)-1]
	if last.Kind != domain.EventAssigned {
		t.Fatalf("смена исполнителя — это assigned, получили %s", last.Kind)
	}
}

func TestUpdateWithoutChangesEmitsCreated(t *testing.T) {
	service, _, _, _, dispatcher := newTestService()
	created, _ := service.CreateTask(context.Background(), domain.Task{ListID: 1, Title: "Отчёт", AssigneeID: ptrInt64(2), CreatedBy: 1})

	created.Description = "уточнение"
	if _, err := service.UpdateTask(context.Background(), created); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	last := dispatcher.events[len(dispatcher.events)-1]
	if last.Kind != domain.EventCreated {
		t.Fatalf("правка без смены исполнителя и статуса — created, получили %s", last.Kind)
	}
}

func TestUpdateToCompletedEmitsCompleted(t *testing.T) {
	service, taskRepo, _, _, dispatcher := newTestService()
	created, _ := service.CreateTask(context.Background(), domain.Task{ListID: 1, Title: "Отчёт", AssigneeID: ptrInt64(2), CreatedBy: 1})

	created.Status = domain.StatusCompleted
	if _, err := service.UpdateTask(context.Background(), created); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	last := dispatcher.events[len(dispatcher.events)-1]
	if last.Kind != domain.EventCompleted {
		t.Fatalf("ожидали completed, получили %s", last.Kind)
	}
	if taskRepo.tasks[created.ID].Status != domain.StatusCompleted {
		t.Fatal("статус в хранилище должен обновиться")
	}
}

func TestCompleteTaskForbidden(t *testing.T) {
	service, _, _, _, _ := newTestService()
	created, _ := service.CreateTask(context.Background(), domain.Task{ListID: 1, Title: "Отчёт", AssigneeID: ptrInt64(2), CreatedBy: 1})

	if _, err := service.CompleteTask(context.Background(), created.ID, 1, false); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("не исполнителю завершение запрещено, получили %v", err)
	}
	// Персоналу можно.
	if _, err := service.CompleteTask(context.Background(), created.ID, 1, true); err != nil {
		t.Fatalf("персоналу завершение разрешено: %v", err)
	}
}

func TestDeleteTaskCreatorOnly(t *testing.T) {
	service, taskRepo, _, _, dispatcher := newTestService()
	created, _ := service.CreateTask(context.Background(), domain.Task{ListID: 1, Title: "Отчёт", AssigneeID: ptrInt64(2), CreatedBy: 1})

	if err := service.DeleteTask(context.Background(), created.ID, 2); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("удалять может только создатель, получили %v", err)
	}
	if err := service.DeleteTask(context.Background(), created.ID, 1); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, ok := taskRepo.tasks[created.ID]; ok {
		t.Fatal("задача должна удалиться")
	}
	// Финальный task_update уходит и после удаления.
	if len(dispatcher.events) != 2 {
		t.Fatalf("ожидали 2 события, получили %d", len(dispatcher.events))
	}
}

func TestTasksByChat(t *testing.T) {
	service, _, _, links, _ := newTestService()
	links.accounts["777"] = 2
	if _, err := service.CreateTask(context.Background(), domain.Task{ListID: 1, Title: "Отчёт", AssigneeID: ptrInt64(2), CreatedBy: 1}); err != nil {
		t.Fatalf("создание: %v", err)
	}

	summaries, err := service.TasksByChat(context.Background(), "777")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("ожидали 1 задачу, получили %d", len(summaries))
	}
	if summaries[0].Assignee != "dev@example.com" {
		t.Fatalf("ожидали email исполнителя, получили %q", summaries[0].Assignee)
	}

	if _, err := service.TasksByChat(context.Background(), "999"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("непривязанный чат — ErrNotFound, получили %v", err)
	}
}

func TestCompleteByChat(t *testing.T) {
	service, taskRepo, notifications, links, _ := newTestService()
	links.accounts["777"] = 2
	created, _ := service.CreateTask(context.Background(), domain.Task{ListID: 1, Title: "Отчёт", AssigneeID: ptrInt64(2), CreatedBy: 1})

	if err := service.CompleteByChat(context.Background(), "777", created.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if taskRepo.tasks[created.ID].Status != domain.StatusCompleted {
		t.Fatal("задача должна завершиться")
	}
	// Квитанция пишется в журнал в обход дедупликации.
	if len(notifications.created) != 1 {
		t.Fatalf("ожидали квитанцию в журнале, получили %d записей", len(notifications.created))
	}
	if !strings.Contains(notifications.created[0].Message, "завершена через Telegram") {
		t.Fatalf("неожиданный текст квитанции: %q", notifications.created[0].Message)
	}
}

func TestCompleteByChatForbidden(t *testing.T) {
	service, _, _, links, _ := newTestService()
	links.accounts["777"] = 1 // чат привязан к автору, не исполнителю
	created, _ := service.CreateTask(context.Background(), domain.Task{ListID: 1, Title: "Отчёт", AssigneeID: ptrInt64(2), CreatedBy: 1})

	if err := service.CompleteByChat(context.Background(), "777", created.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("ожидали ErrForbidden, получили %v", err)
	}
}
