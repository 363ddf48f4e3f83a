package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeAcknowledger struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, _ bool) error { return nil }

func TestPopDecodesAndAcks(t *testing.T) {
	ack := &fakeAcknowledger{}
	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  7,
		Body:         []byte(`{"chat_id":"777","text":"привет"}`),
	}
	q := &RabbitSendQueue{deliveries: deliveries}

	job, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if job.ChatID != "777" || job.Text != "привет" {
		t.Fatalf("неожиданное задание: %+v", job)
	}
	if len(ack.acked) != 1 || ack.acked[0] != 7 {
		t.Fatalf("доставка должна быть подтверждена, acked=%v", ack.acked)
	}
}

func TestPopNacksMalformed(t *testing.T) {
	ack := &fakeAcknowledger{}
	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte("не json")}
	q := &RabbitSendQueue{deliveries: deliveries}

	if _, err := q.Pop(context.Background()); err == nil {
		t.Fatal("ожидали ошибку декодирования")
	}
	if len(ack.nacked) != 1 || ack.nacked[0] != 3 {
		t.Fatalf("битая доставка должна отклоняться, nacked=%v", ack.nacked)
	}
}

func TestPopContextCancel(t *testing.T) {
	q := &RabbitSendQueue{deliveries: make(chan amqp.Delivery)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Pop(ctx); err == nil {
		t.Fatal("ожидали ошибку отменённого контекста")
	}
}

// Один экземпляр очереди делят несколько воркеров: каждое задание
// достаётся ровно одному из них, подписка остаётся общей.
func TestPopConcurrentWorkers(t *testing.T) {
	const workers = 4
	const jobs = 40

	ack := &fakeAcknowledger{}
	deliveries := make(chan amqp.Delivery, jobs)
	for i := 1; i <= jobs; i++ {
		deliveries <- amqp.Delivery{
			Acknowledger: ack,
			DeliveryTag:  uint64(i),
			Body:         []byte(fmt.Sprintf(`{"chat_id":"%d","text":"x"}`, i)),
		}
	}
	q := &RabbitSendQueue{deliveries: deliveries}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.Pop(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[job.ChatID]++
				if len(seen) == jobs {
					cancel()
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobs {
		t.Fatalf("ожидали %d разных заданий, получили %d", jobs, len(seen))
	}
	for chat, count := range seen {
		if count != 1 {
			t.Fatalf("задание %s обработано %d раз", chat, count)
		}
	}
	ack.mu.Lock()
	defer ack.mu.Unlock()
	if len(ack.acked) != jobs {
		t.Fatalf("ожидали %d подтверждений, получили %d", jobs, len(ack.acked))
	}
}
