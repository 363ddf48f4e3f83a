package notify

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"task-tracker/internal/domain"
)

type fakeSender struct {
	sent []domain.TelegramJob
	fail bool
}

func (f *fakeSender) Send(_ context.Context, chatID, text string) domain.SendResult {
	f.sent = append(f.sent, domain.TelegramJob{ChatID: chatID, Text: text})
	if f.fail {
		return domain.SendResult{StatusCode: 500, Err: "status 500"}
	}
	return domain.SendResult{OK: true, StatusCode: 200}
}

type fakeCache struct {
	keys map[string]bool
}

func (f *fakeCache) Once(key string, _ time.Duration, fn func() error) error {
	if f.keys == nil {
		f.keys = make(map[string]bool)
	}
	if f.keys[key] {
		return nil
	}
	f.keys[key] = true
	if err := fn(); err != nil {
		delete(f.keys, key)
		return err
	}
	return nil
}
func (f *fakeCache) Set(string, []byte, time.Duration) error { return nil }
func (f *fakeCache) Get(string) ([]byte, error)              { return nil, nil }

func TestWorkerSuppressesDuplicateSend(t *testing.T) {
	sender := &fakeSender{}
	w := NewWorker(nil, sender, &fakeCache{}, 10*time.Minute)

	job := domain.TelegramJob{ChatID: "777", Text: "привет"}
	w.process(context.Background(), zerolog.Nop(), job)
	w.process(context.Background(), zerolog.Nop(), job)

	if len(sender.sent) != 1 {
		t.Fatalf("ожидали 1 отправку, получили %d", len(sender.sent))
	}
}

func TestWorkerDistinctJobsBothSent(t *testing.T) {
	sender := &fakeSender{}
	w := NewWorker(nil, sender, &fakeCache{}, 10*time.Minute)

	w.process(context.Background(), zerolog.Nop(), domain.TelegramJob{ChatID: "777", Text: "первое"})
	w.process(context.Background(), zerolog.Nop(), domain.TelegramJob{ChatID: "777", Text: "второе"})

	if len(sender.sent) != 2 {
		t.Fatalf("разные сообщения не должны подавляться, отправлено %d", len(sender.sent))
	}
}

func TestWorkerRetryAfterFailure(t *testing.T) {
	sender := &fakeSender{fail: true}
	cache := &fakeCache{}
	w := NewWorker(nil, sender, cache, 10*time.Minute)

	job := domain.TelegramJob{ChatID: "777", Text: "привет"}
	w.process(context.Background(), zerolog.Nop(), job)

	// Ключ подавления снят, повторное задание снова уходит в отправку.
	sender.fail = false
	w.process(context.Background(), zerolog.Nop(), job)

	if len(sender.sent) != 2 {
		t.Fatalf("после сбоя задание должно отправляться заново, отправлено %d", len(sender.sent))
	}
}

func TestSuppressKeyDiffersByChat(t *testing.T) {
	a := suppressKey(domain.TelegramJob{ChatID: "1", Text: "x"})
	b := suppressKey(domain.TelegramJob{ChatID: "2", Text: "x"})
	if a == b {
		t.Fatal("ключи разных чатов не должны совпадать")
	}
}
