package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"task-tracker/internal/domain"
	"task-tracker/internal/infra/metrics"
)

// Лимит Bot API на длину одного сообщения.
const messageLimit = 4096

// Sender отправляет сообщения через Telegram Bot API.
// Это намеренно тонкий блок: один POST с жёстким таймаутом, без ретраев —
// политика повторов принадлежит очереди вокруг него.
type Sender struct {
	client  *http.Client
	baseURL string
	token   string
}

var _ domain.MessageSender = (*Sender)(nil)

// NewSender создаёт отправителя. baseURL переопределяется в тестах.
func NewSender(baseURL, token string, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sender{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Send выполняет одну отправку sendMessage. Транспортные сбои и не-200
// ответы возвращаются в SendResult и никогда не поднимаются наверх:
// вызов живёт внутри best-effort задания.
func (s *Sender) Send(ctx context.Context, chatID, text string) domain.SendResult {
	if s.token == "" {
		return domain.SendResult{Err: "TG_BOT_TOKEN не настроен"}
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      Truncate(text),
		ParseMode: "HTML",
	})
	if err != nil {
		return domain.SendResult{Err: fmt.Sprintf("marshal request: %v", err)}
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.SendResult{Err: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.ObserveNetworkRequest("telegram", "send_message", "bot_api", start, err)
	if err != nil {
		metrics.TelegramSendErrors.Inc()
		return domain.SendResult{Err: err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	result := domain.SendResult{OK: resp.StatusCode == http.StatusOK, StatusCode: resp.StatusCode}
	if !result.OK {
		metrics.TelegramSendErrors.Inc()
		result.Err = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return result
}

// Truncate обрезает текст до лимита Bot API, не разрывая руны.
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= messageLimit {
		return text
	}
	const ellipsis = "…"
	return string(runes[:messageLimit-1]) + ellipsis
}
