package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"task-tracker/internal/domain"
)

type stubTasks struct {
	overdue []domain.Task
}

func (s *stubTasks) CreateList(_ context.Context, l domain.TaskList) (domain.TaskList, error) {
	return l, nil
}
func (s *stubTasks) CreateTask(_ context.Context, t domain.Task) (domain.Task, error) { return t, nil }
func (s *stubTasks) UpdateTask(_ context.Context, t domain.Task) (domain.Task, error) { return t, nil }
func (s *stubTasks) GetTask(_ context.Context, _ int64) (domain.Task, error) {
	return domain.Task{}, domain.ErrNotFound
}
func (s *stubTasks) DeleteTask(_ context.Context, _ int64) error { return nil }
func (s *stubTasks) ListActiveByAssignee(_ context.Context, _ int64) ([]domain.Task, error) {
	return nil, nil
}
func (s *stubTasks) ListOverdue(_ context.Context, _ time.Time) ([]domain.Task, error) {
	return s.overdue, nil
}

type captureDispatcher struct {
	events []domain.TaskEvent
}

func (c *captureDispatcher) Dispatch(_ context.Context, event domain.TaskEvent) error {
	c.events = append(c.events, event)
	return nil
}

func ptrInt64(v int64) *int64 { return &v }

func TestRunDispatchesOverdue(t *testing.T) {
	due := time.Now().Add(-time.Hour)
	repo := &stubTasks{overdue: []domain.Task{
		{ID: 1, Title: "Отчёт", Status: domain.StatusPending, AssigneeID: ptrInt64(2), DueDate: &due, CreatedBy: 1},
		{ID: 2, Title: "Без исполнителя", Status: domain.StatusPending, DueDate: &due, CreatedBy: 1},
	}}
	dispatcher := &captureDispatcher{}
	service := NewService(repo, dispatcher, zerolog.Nop())

	dispatched, err := service.Run(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if dispatched != 1 {
		t.Fatalf("ожидали 1 событие, получили %d", dispatched)
	}
	if dispatcher.events[0].Kind != domain.EventOverdue {
		t.Fatalf("ожидали overdue, получили %s", dispatcher.events[0].Kind)
	}
	if dispatcher.events[0].TaskID != 1 {
		t.Fatal("задача без исполнителя должна пропускаться")
	}
}

func TestRunEmpty(t *testing.T) {
	service := NewService(&stubTasks{}, &captureDispatcher{}, zerolog.Nop())
	dispatched, err := service.Run(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if dispatched != 0 {
		t.Fatalf("ожидали 0 событий, получили %d", dispatched)
	}
}
