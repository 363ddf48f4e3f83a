package ws

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"task-tracker/internal/domain"
)

// Префикс каналов Redis, через которые процессы обмениваются живыми
// сообщениями. Диспетчер может работать в любом процессе (api, бот,
// планировщик), а WebSocket-сессии держит только api: pub/sub доносит
// публикации до хаба.
const channelPrefix = "ws:"

// RedisBroadcaster публикует сообщения групп в Redis Pub/Sub.
// Publish возвращается после передачи в канал, не дожидаясь доставки
// клиентам; подписчиков может не быть вовсе.
type RedisBroadcaster struct {
	client *redis.Client
	log    zerolog.Logger
}

var _ domain.Broadcaster = (*RedisBroadcaster)(nil)

// NewRedisBroadcaster создаёт издателя.
func NewRedisBroadcaster(client *redis.Client, log zerolog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, log: log}
}

// Publish сериализует payload и публикует его в канал группы.
func (b *RedisBroadcaster) Publish(group string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Error().Err(err).Str("group", group).Msg("ws: не удалось сериализовать сообщение")
		return
	}
	if err := b.client.Publish(context.Background(), channelPrefix+group, data).Err(); err != nil {
		b.log.Error().Err(err).Str("group", group).Msg("ws: не удалось опубликовать сообщение")
	}
}

// RunRelay подписывается на все групповые каналы и пересылает сообщения
// в локальный хаб. Блокируется до отмены контекста.
func RunRelay(ctx context.Context, client *redis.Client, hub *Hub, log zerolog.Logger) {
	pubsub := client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	log.Info().Msg("ws: ретранслятор запущен")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			group := strings.TrimPrefix(msg.Channel, channelPrefix)
			hub.PublishRaw(group, []byte(msg.Payload))
		}
	}
}
