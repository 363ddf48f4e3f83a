package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSendOK(t *testing.T) {
	var got sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("неожиданный путь: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("не удалось прочитать тело: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewSender(server.URL, "token", time.Second)
	result := sender.Send(context.Background(), "777", "привет")
	if !result.OK {
		t.Fatalf("ожидали успех, получили %+v", result)
	}
	if got.ChatID != "777" || got.Text != "привет" {
		t.Fatalf("неожиданный запрос: %+v", got)
	}
	if got.ParseMode != "HTML" {
		t.Fatalf("ожидали parse_mode HTML, получили %q", got.ParseMode)
	}
}

func TestSendServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender := NewSender(server.URL, "token", time.Second)
	result := sender.Send(context.Background(), "777", "привет")
	if result.OK {
		t.Fatal("ожидали ошибку")
	}
	if result.StatusCode != http.StatusBadGateway {
		t.Fatalf("ожидали 502, получили %d", result.StatusCode)
	}
}

func TestSendTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	sender := NewSender(server.URL, "token", 50*time.Millisecond)
	result := sender.Send(context.Background(), "777", "привет")
	if result.OK {
		t.Fatal("ожидали ошибку по таймауту")
	}
	if result.Err == "" {
		t.Fatal("ожидали текст ошибки")
	}
}

func TestSendWithoutToken(t *testing.T) {
	sender := NewSender("https://api.telegram.org", "", time.Second)
	result := sender.Send(context.Background(), "777", "привет")
	if result.OK {
		t.Fatal("без токена отправка невозможна")
	}
}

func TestTruncate(t *testing.T) {
	short := "привет"
	if Truncate(short) != short {
		t.Fatal("короткий текст не должен меняться")
	}

	long := strings.Repeat("я", messageLimit+100)
	truncated := Truncate(long)
	if runes := []rune(truncated); len(runes) != messageLimit {
		t.Fatalf("ожидали %d рун, получили %d", messageLimit, len(runes))
	}
	if !strings.HasSuffix(truncated, "…") {
		t.Fatal("обрезанный текст должен оканчиваться многоточием")
	}
}
