// errors стандартизирует ответы об ошибках HTTP-слоя auth-сервиса.
// На вход принимает доменную ошибку (пакет service), на выход даёт:
//   - корректный HTTP-статус;
//   - краткое безопасное message без утечки деталей.
//
// Все отказы refresh-пути и проверки access-токена маппятся в 401
// («переавторизуйся»); транзиентная недоступность хранилища — в 503
// («повтори позже»), чтобы сбой БД не выглядел для клиента как разлогин.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"marketplace/auth-service/internal/service"
)

// Нестандартный код, часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// Локальные ошибки HTTP-слоя.
var (
	// ErrBadRequest — битый входной JSON.
	ErrBadRequest = errors.New("bad request")
	// ErrInternal — внутренняя ошибка (panic и т.п.).
	ErrInternal = errors.New("internal")
)

// APIError — единый формат для фронта.
// Code — короткий стабильный код для машиночитаемой обработки на FE.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// ToHTTP конвертирует доменную ошибку в HTTP-статус и унифицированный ответ.
//
// Поведение:
//   - err == nil — программная ошибка вызова: 500/internal, чтобы не послать
//     "200 OK" с телом ошибки и не маскировать баг;
//   - ошибки валидации -> 400; конфликт email -> 409;
//   - все отказы аутентификации (токен/сессия/версия) -> 401;
//   - отмена/дедлайн -> 499/504;
//   - прочее (включая сбои хранилища) -> 503/unavailable: операция
//     безопасна для повтора, маскировать сбой под 401 нельзя.
func ToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return http.StatusInternalServerError, response("internal", "internal error")
	}

	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrWeakPassword),
		errors.Is(err, service.ErrEmptyPassword):
		return http.StatusBadRequest, response("invalid_argument", "invalid argument")

	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, response("already_exists", "email already taken")

	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrStaleTokenVersion),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrSessionExpired),
		errors.Is(err, service.ErrSessionRevoked):
		return http.StatusUnauthorized, response("unauthenticated", "unauthenticated")

	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, response("canceled", "canceled")

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, response("deadline_exceeded", "deadline exceeded")

	case errors.Is(err, ErrInternal), errors.Is(err, service.ErrRefreshCollision):
		return http.StatusInternalServerError, response("internal", "internal error")

	default:
		return http.StatusServiceUnavailable, response("unavailable", "service unavailable")
	}
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет корректный статус/тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	// Прокидываем request_id для фронта, чтобы он мог репортить баги с привязкой.
	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteUnauthenticated — явный 401 для маршрутов, требующих identity.
func WriteUnauthenticated(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, service.ErrInvalidToken)
}

// WriteBadRequest — явный 400 для локальных ошибок парсинга входного JSON.
func WriteBadRequest(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, ErrBadRequest)
}

func response(code, msg string) ErrorResponse {
	return ErrorResponse{Error: APIError{Code: code, Message: msg}}
}
