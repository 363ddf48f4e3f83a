package domain

import "errors"

// Ошибки уровня домена. Всё, что уходит наружу, маппится на HTTP-статусы
// и ответы бота на границе транспорта.
var (
	// ErrInvalidToken — токен привязки не найден ни у одного аккаунта.
	ErrInvalidToken = errors.New("токен привязки не найден")
	// ErrChatAlreadyLinked — chat_id уже закреплён за другим аккаунтом.
	ErrChatAlreadyLinked = errors.New("чат уже привязан к другому аккаунту")
	// ErrNotFound — задача, чат или уведомление не найдены.
	ErrNotFound = errors.New("запись не найдена")
	// ErrForbidden — действие доступно только исполнителю задачи.
	ErrForbidden = errors.New("нет доступа к задаче")
	// ErrMalformedEvent — диспетчеру передано событие без обязательных полей.
	ErrMalformedEvent = errors.New("некорректное событие задачи")
)
