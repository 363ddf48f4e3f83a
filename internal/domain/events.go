package domain

import (
	"fmt"
	"time"
)

// EventKind — тип перехода состояния задачи.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventAssigned  EventKind = "assigned"
	EventCompleted EventKind = "completed"
	EventOverdue   EventKind = "overdue"
)

// TaskEvent описывает переход состояния задачи, который может породить
// уведомления. Событие — снимок состояния, а не дельта: при конкурентных
// изменениях порядок доставки не гарантируется.
type TaskEvent struct {
	TaskID     int64
	Title      string
	Status     TaskStatus
	AssigneeID *int64
	DueDate    *time.Time
	CreatedBy  int64
	Kind       EventKind
}

// Validate проверяет обязательные поля события. Невалидное событие —
// ошибка программиста, диспетчер на нём падает громко.
func (e TaskEvent) Validate() error {
	if e.TaskID == 0 {
		return fmt.Errorf("%w: отсутствует task_id", ErrMalformedEvent)
	}
	if e.Title == "" {
		return fmt.Errorf("%w: отсутствует title", ErrMalformedEvent)
	}
	switch e.Kind {
	case EventCreated, EventAssigned, EventCompleted, EventOverdue:
	default:
		return fmt.Errorf("%w: неизвестный kind %q", ErrMalformedEvent, e.Kind)
	}
	return nil
}

// NeedsNotification сообщает, создаёт ли событие запись уведомления.
// created и completed транслируются только по WebSocket.
func (e TaskEvent) NeedsNotification() bool {
	return e.Kind == EventAssigned || e.Kind == EventOverdue
}
