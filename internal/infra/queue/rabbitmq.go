package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"task-tracker/internal/domain"
	"task-tracker/internal/infra/metrics"
)

// RabbitSendQueue реализует очередь отправки через AMQP.
type RabbitSendQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string

	consumeOnce sync.Once
	consumeErr  error
	deliveries  <-chan amqp.Delivery
}

var _ domain.SendQueue = (*RabbitSendQueue)(nil)

// NewRabbitSendQueue подключается к RabbitMQ и объявляет durable-очередь.
func NewRabbitSendQueue(amqpURL, queue string) (*RabbitSendQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitSendQueue{conn: conn, channel: ch, queue: queue}, nil
}

// Enqueue публикует задание в очередь.
func (q *RabbitSendQueue) Enqueue(ctx context.Context, job domain.TelegramJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задание из очереди. Подписка на доставки
// создаётся один раз при первом вызове; Pop зовут несколько воркеров
// одновременно, все читают один общий канал доставок. Процессы, которые
// только публикуют, подписку не создают вовсе.
func (q *RabbitSendQueue) Pop(ctx context.Context) (domain.TelegramJob, error) {
	q.consumeOnce.Do(func() {
		if q.deliveries != nil {
			return
		}
		deliveries, err := q.channel.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			q.consumeErr = fmt.Errorf("consume: %w", err)
			return
		}
		q.deliveries = deliveries
	})
	if q.consumeErr != nil {
		return domain.TelegramJob{}, q.consumeErr
	}
	select {
	case <-ctx.Done():
		return domain.TelegramJob{}, ctx.Err()
	case delivery, ok := <-q.deliveries:
		if !ok {
			return domain.TelegramJob{}, errors.New("amqp queue: channel closed")
		}
		var job domain.TelegramJob
		if err := json.Unmarshal(delivery.Body, &job); err != nil {
			_ = delivery.Nack(false, false)
			return domain.TelegramJob{}, fmt.Errorf("decode job: %w", err)
		}
		if err := delivery.Ack(false); err != nil {
			return domain.TelegramJob{}, fmt.Errorf("ack job: %w", err)
		}
		return job, nil
	}
}

// Close закрывает соединение с брокером.
func (q *RabbitSendQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}
