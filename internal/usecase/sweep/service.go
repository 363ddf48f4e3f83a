package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"task-tracker/internal/domain"
	"task-tracker/internal/infra/metrics"
)

// Service находит просроченные задачи и синтезирует для них события
// overdue. Сам проход не помнит, кого уже уведомлял: идемпотентность
// повторных запусков даёт суточное окно дедупликации диспетчера.
type Service struct {
	tasks      domain.TaskRepo
	dispatcher domain.Dispatcher
	log        zerolog.Logger
	now        func() time.Time
}

// NewService создаёт сервис обхода.
func NewService(tasks domain.TaskRepo, dispatcher domain.Dispatcher, log zerolog.Logger) *Service {
	return &Service{tasks: tasks, dispatcher: dispatcher, log: log, now: time.Now}
}

// Run выполняет один проход и возвращает число отправленных событий.
// Задачи без исполнителя пропускаются молча.
func (s *Service) Run(ctx context.Context) (int, error) {
	now := s.now()
	overdue, err := s.tasks.ListOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("выборка просроченных задач: %w", err)
	}
	metrics.OverdueSweepTasks.Observe(float64(len(overdue)))

	dispatched := 0
	for _, task := range overdue {
		if task.AssigneeID == nil {
			continue
		}
		event := domain.TaskEvent{
			TaskID:     task.ID,
			Title:      task.Title,
			Status:     task.Status,
			AssigneeID: task.AssigneeID,
			DueDate:    task.DueDate,
			CreatedBy:  task.CreatedBy,
			Kind:       domain.EventOverdue,
		}
		if err := s.dispatcher.Dispatch(ctx, event); err != nil {
			s.log.Error().Err(err).Int64("task", task.ID).Msg("sweep: диспетчер отверг событие")
			continue
		}
		dispatched++
	}
	s.log.Info().Int("overdue", len(overdue)).Int("dispatched", dispatched).Msg("sweep: проход завершён")
	return dispatched, nil
}
