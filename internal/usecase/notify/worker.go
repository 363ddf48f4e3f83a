package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"task-tracker/internal/domain"
)

// Worker вычитывает задания очереди отправки и выполняет их.
// Поверх окна дедупликации журнала действует короткое окно подавления
// повторной отправки: если несколько процессов поставили одинаковое
// задание, в Telegram уйдёт одно сообщение.
type Worker struct {
	queue    domain.SendQueue
	sender   domain.MessageSender
	cache    domain.Cache
	suppress time.Duration
}

// NewWorker создаёт воркер. Логгер приходит в Run: один Worker делят
// несколько горутин, каждая со своим контекстом в логе.
func NewWorker(queue domain.SendQueue, sender domain.MessageSender, cache domain.Cache, suppress time.Duration) *Worker {
	return &Worker{queue: queue, sender: sender, cache: cache, suppress: suppress}
}

// Run крутит цикл обработки до отмены контекста.
func (w *Worker) Run(ctx context.Context, log zerolog.Logger) {
	for {
		job, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Error().Err(err).Msg("notifier: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.process(ctx, log, job)
	}
}

func (w *Worker) process(ctx context.Context, log zerolog.Logger, job domain.TelegramJob) {
	send := func() error {
		result := w.sender.Send(ctx, job.ChatID, job.Text)
		if !result.OK {
			// Ошибка не выходит из задания: ключ подавления снимется,
			// следующее такое же задание попробует снова.
			log.Warn().Str("chat", job.ChatID).Int("status", result.StatusCode).Str("err", result.Err).Msg("notifier: отправка не удалась")
			return errors.New(result.Err)
		}
		log.Debug().Str("chat", job.ChatID).Msg("notifier: сообщение отправлено")
		return nil
	}

	if w.cache == nil || w.suppress <= 0 {
		_ = send()
		return
	}
	if err := w.cache.Once(suppressKey(job), w.suppress, send); err != nil {
		log.Debug().Err(err).Str("chat", job.ChatID).Msg("notifier: задание завершилось с ошибкой")
	}
}

// suppressKey детерминированно сворачивает задание в ключ подавления.
func suppressKey(job domain.TelegramJob) string {
	sum := sha256.Sum256([]byte(job.ChatID + "\x00" + job.Text))
	return "tg_send:" + hex.EncodeToString(sum[:8])
}
