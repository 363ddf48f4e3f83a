package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"task-tracker/internal/domain"
	"task-tracker/internal/usecase/linking"
	"task-tracker/internal/usecase/tasks"
)

// Handler обслуживает вебхук бота.
type Handler struct {
	bot    *tgbotapi.BotAPI
	log    zerolog.Logger
	linkUC *linking.Service
	taskUC *tasks.Service
}

// NewHandler создаёт обработчик.
func NewHandler(bot *tgbotapi.BotAPI, log zerolog.Logger, linkUC *linking.Service, taskUC *tasks.Service) *Handler {
	return &Handler{bot: bot, log: log, linkUC: linkUC, taskUC: taskUC}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/start"):
		token := strings.TrimSpace(strings.TrimPrefix(text, "/start"))
		h.handleStart(ctx, msg.Chat.ID, token)
	case strings.HasPrefix(text, "/tasks"):
		h.handleTasks(ctx, msg.Chat.ID)
	case strings.HasPrefix(text, "/help"):
		h.reply(msg.Chat.ID, h.buildHelpMessage(), nil)
	default:
		h.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help", nil)
	}
}

// handleStart выполняет привязку по токену. Голый /start ничего не меняет
// и возвращает инструкцию.
func (h *Handler) handleStart(ctx context.Context, chatID int64, token string) {
	if token == "" {
		h.reply(chatID, linking.Instructions, nil)
		return
	}

	_, err := h.linkUC.Link(ctx, token, strconv.FormatInt(chatID, 10))
	switch {
	case err == nil:
		h.reply(chatID, "✅ Аккаунт успешно привязан!\nТеперь вы будете получать уведомления о задачах.", nil)
	case errors.Is(err, domain.ErrInvalidToken):
		h.reply(chatID, "❌ Ошибка привязки: токен не найден. Проверьте токен в профиле на сайте.", nil)
	case errors.Is(err, domain.ErrChatAlreadyLinked):
		h.reply(chatID, "❌ Этот чат уже привязан к другому аккаунту.", nil)
	default:
		h.log.Error().Err(err).Int64("chat", chatID).Msg("bot: ошибка привязки")
		h.reply(chatID, "⚠️ Не удалось выполнить привязку. Попробуйте позже.", nil)
	}
}

func (h *Handler) handleTasks(ctx context.Context, chatID int64) {
	summaries, err := h.taskUC.TasksByChat(ctx, strconv.FormatInt(chatID, 10))
	if errors.Is(err, domain.ErrNotFound) {
		h.reply(chatID, "Аккаунт не привязан. Выполните /start <токен>", nil)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("bot: не удалось получить задачи")
		h.reply(chatID, "⚠️ Не удалось получить список задач.", nil)
		return
	}
	if len(summaries) == 0 {
		h.reply(chatID, "🎉 У вас нет открытых задач.", nil)
		return
	}

	for _, task := range summaries {
		markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Отметить выполненной", fmt.Sprintf("done:%d", task.ID)),
		))
		h.reply(chatID, formatTask(task), &markup)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	if !strings.HasPrefix(data, "done:") {
		return
	}
	taskID, err := strconv.ParseInt(strings.TrimPrefix(data, "done:"), 10, 64)
	if err != nil {
		h.answerCallback(cb.ID, "❌ Некорректная задача", true)
		return
	}
	chatID := cb.Message.Chat.ID

	err = h.taskUC.CompleteByChat(ctx, strconv.FormatInt(chatID, 10), taskID)
	switch {
	case err == nil:
		h.answerCallback(cb.ID, "✅ Задача отмечена как выполненная!", false)
		// Пустой ReplyMarkup в editMessageReplyMarkup убирает клавиатуру.
		edit := tgbotapi.EditMessageReplyMarkupConfig{
			BaseEdit: tgbotapi.BaseEdit{ChatID: chatID, MessageID: cb.Message.MessageID},
		}
		if _, err := h.bot.Request(edit); err != nil {
			h.log.Debug().Err(err).Msg("bot: не удалось убрать клавиатуру")
		}
	case errors.Is(err, domain.ErrForbidden):
		h.answerCallback(cb.ID, "❌ Задача назначена не вам", true)
	case errors.Is(err, domain.ErrNotFound):
		h.answerCallback(cb.ID, "❌ Задача не найдена", true)
	default:
		h.log.Error().Err(err).Int64("task", taskID).Msg("bot: не удалось завершить задачу")
		h.answerCallback(cb.ID, "⚠️ Ошибка, попробуйте позже", true)
	}
}

func (h *Handler) answerCallback(callbackID, text string, alert bool) {
	answer := tgbotapi.NewCallback(callbackID, text)
	answer.ShowAlert = alert
	if _, err := h.bot.Request(answer); err != nil {
		h.log.Debug().Err(err).Msg("bot: не удалось ответить на callback")
	}
}

func (h *Handler) reply(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := h.bot.Send(msg); err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("bot: не удалось отправить сообщение")
	}
}

func (h *Handler) buildHelpMessage() string {
	return "Команды:\n" +
		"/start <токен> — привязать аккаунт\n" +
		"/tasks — открытые задачи с кнопкой завершения\n" +
		"/help — эта справка"
}

func formatTask(task domain.TaskSummary) string {
	due := "—"
	if task.DueDate != nil {
		due = task.DueDate.Format("02.01.2006 15:04")
	}
	text := fmt.Sprintf("<b>%s</b>\n#ID: %d\nСрок: %s", task.Title, task.ID, due)
	if task.Description != "" {
		text += "\n\n" + task.Description
	}
	return text
}
