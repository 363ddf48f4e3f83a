package linking

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"task-tracker/internal/domain"
)

// Instructions — ответ бота на /start без токена. Привязка при этом
// не выполняется и ничего не изменяется.
const Instructions = "👋 Привет!\n" +
	"Чтобы привязать аккаунт — сгенерируйте токен в веб-интерфейсе " +
	"и выполните:\n\n<code>/start &lt;токен&gt;</code>"

// Service реализует протокол привязки аккаунта к Telegram-чату.
// Протокол однораундовый: токен и chat_id приходят одним запросом,
// подтверждения и срока жизни токена нет — токен гасится только явным
// перевыпуском.
type Service struct {
	links domain.LinkRepo
	log   zerolog.Logger
}

// NewService создаёт сервис привязки.
func NewService(links domain.LinkRepo, log zerolog.Logger) *Service {
	return &Service{links: links, log: log}
}

// Account возвращает запись привязки пользователя, создавая её при
// первом обращении.
func (s *Service) Account(ctx context.Context, userID int64) (domain.LinkAccount, error) {
	return s.links.GetOrCreate(ctx, userID)
}

// Regenerate перевыпускает токен привязки. Прежний токен перестаёт
// действовать сразу, chat_id и linked_at не меняются.
func (s *Service) Regenerate(ctx context.Context, userID int64) (domain.LinkAccount, error) {
	return s.links.RegenerateToken(ctx, userID)
}

// Link потребляет токен и закрепляет chat_id за аккаунтом.
//
// Повторная привязка того же токена идемпотентна; привязка к новому чату
// молча перезаписывает старый — displaced-чат не уведомляется, это
// осознанное упрощение. Чужой chat_id занять нельзя: уникальное
// ограничение в БД возвращает ErrChatAlreadyLinked без частичной записи.
func (s *Service) Link(ctx context.Context, token, chatID string) (domain.LinkAccount, error) {
	token = strings.TrimSpace(token)
	chatID = strings.TrimSpace(chatID)
	if token == "" {
		return domain.LinkAccount{}, domain.ErrInvalidToken
	}

	account, err := s.links.Link(ctx, token, chatID)
	if err != nil {
		return domain.LinkAccount{}, err
	}
	s.log.Info().Int64("user", account.UserID).Str("chat", chatID).Msg("чат привязан")
	return account, nil
}

// FindByChatID возвращает привязку по chat_id.
func (s *Service) FindByChatID(ctx context.Context, chatID string) (domain.LinkAccount, error) {
	return s.links.FindByChatID(ctx, chatID)
}
