package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"task-tracker/internal/domain"
)

// RedisSendQueue реализует очередь отправки на базе Redis lists.
type RedisSendQueue struct {
	client *redis.Client
	key    string
}

// NewRedisSendQueue создаёт очередь по указанному ключу.
func NewRedisSendQueue(client *redis.Client, key string) *RedisSendQueue {
	return &RedisSendQueue{client: client, key: key}
}

var _ domain.SendQueue = (*RedisSendQueue)(nil)

// Enqueue публикует задание в очередь. Вызов не блокирует отправителя:
// медленный Telegram не задерживает обработку исходного запроса.
func (q *RedisSendQueue) Enqueue(ctx context.Context, job domain.TelegramJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задание из очереди.
func (q *RedisSendQueue) Pop(ctx context.Context) (domain.TelegramJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.TelegramJob{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.TelegramJob{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.TelegramJob{}, err
		}
		if len(res) != 2 {
			return domain.TelegramJob{}, errors.New("redis queue: unexpected response")
		}
		var job domain.TelegramJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.TelegramJob{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}
