package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"task-tracker/internal/domain"
	"task-tracker/internal/infra/metrics"
)

// Имена групп повторяют контракт веб-клиента: общая группа получает
// task_update, приватная — уведомления конкретного пользователя.
const TasksGroup = "tasks_group"

// UserGroup возвращает имя приватной группы пользователя.
func UserGroup(userID int64) string {
	return fmt.Sprintf("user_%d_group", userID)
}

const sendBuffer = 16

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub ведёт группы подключённых WebSocket-сессий и рассылает публикации.
// Доставка эфемерная: истории нет, отставшая сессия теряет сообщения.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*client]struct{}
	log    zerolog.Logger
}

var _ domain.Broadcaster = (*Hub)(nil)

// NewHub создаёт пустой хаб.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		groups: make(map[string]map[*client]struct{}),
		log:    logger,
	}
}

// Publish рассылает payload всем сессиям группы. Вызов не блокируется:
// сообщение кладётся в буфер сессии, при переполнении отбрасывается.
func (h *Hub) Publish(group string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Str("group", group).Msg("ws: не удалось сериализовать сообщение")
		return
	}
	h.PublishRaw(group, data)
}

// PublishRaw рассылает уже сериализованное сообщение.
func (h *Hub) PublishRaw(group string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.groups[group] {
		select {
		case c.send <- data:
		default:
			metrics.WSMessagesDropped.Inc()
		}
	}
}

// Serve принимает WebSocket-соединение и держит его до разрыва.
// Сессия состоит в общей группе и, для аутентифицированного пользователя,
// в своей приватной.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws: не удалось установить соединение")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	groups := []string{TasksGroup}
	if userID != 0 {
		groups = append(groups, UserGroup(userID))
	}
	h.register(c, groups)
	metrics.WSClients.Inc()
	defer func() {
		h.unregister(c, groups)
		metrics.WSClients.Dec()
		conn.CloseNow()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		for msg := range c.send {
			writeCtx, writeCancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			writeCancel()
			if err != nil {
				cancel()
				return
			}
		}
	}()

	// Клиент ничего не шлёт по контракту; читаем только ради
	// обнаружения разрыва и ping/pong.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (h *Hub) register(c *client, groups []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, group := range groups {
		members, ok := h.groups[group]
		if !ok {
			members = make(map[*client]struct{})
			h.groups[group] = members
		}
		members[c] = struct{}{}
	}
}

func (h *Hub) unregister(c *client, groups []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, group := range groups {
		members := h.groups[group]
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	close(c.send)
}
