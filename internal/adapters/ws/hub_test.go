package ws

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestUserGroupName(t *testing.T) {
	if UserGroup(42) != "user_42_group" {
		t.Fatalf("неожиданное имя группы: %s", UserGroup(42))
	}
}

func TestPublishDeliversToGroup(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &client{send: make(chan []byte, sendBuffer)}
	hub.register(c, []string{TasksGroup})

	hub.Publish(TasksGroup, map[string]string{"type": "task_update"})

	select {
	case msg := <-c.send:
		if string(msg) != `{"type":"task_update"}` {
			t.Fatalf("неожиданное сообщение: %s", msg)
		}
	default:
		t.Fatal("сообщение не доставлено")
	}
}

func TestPublishSkipsOtherGroups(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &client{send: make(chan []byte, sendBuffer)}
	hub.register(c, []string{UserGroup(1)})

	hub.PublishRaw(UserGroup(2), []byte("{}"))

	if len(c.send) != 0 {
		t.Fatal("сообщение чужой группы не должно доставляться")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &client{send: make(chan []byte, 1)}
	hub.register(c, []string{TasksGroup})

	hub.PublishRaw(TasksGroup, []byte("1"))
	hub.PublishRaw(TasksGroup, []byte("2"))

	if len(c.send) != 1 {
		t.Fatalf("ожидали 1 сообщение в буфере, получили %d", len(c.send))
	}
	if msg := <-c.send; string(msg) != "1" {
		t.Fatalf("переполнение должно отбрасывать новое сообщение, получили %s", msg)
	}
}

func TestUnregisterRemovesEmptyGroup(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &client{send: make(chan []byte, 1)}
	groups := []string{TasksGroup, UserGroup(1)}
	hub.register(c, groups)
	hub.unregister(c, groups)

	if len(hub.groups) != 0 {
		t.Fatalf("пустые группы должны удаляться, осталось %d", len(hub.groups))
	}
	// Канал закрыт: публикация после отписки никуда не идёт и не паникует.
	hub.PublishRaw(TasksGroup, []byte("{}"))
}
