package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apierrors "marketplace/auth-service/internal/errors"
	"marketplace/auth-service/internal/models"
	logctx "marketplace/auth-service/internal/pkg/log"
	"marketplace/auth-service/internal/service"
)

type identityKey struct{}

// Authenticator — ровно та часть сервиса, что нужна воротам аутентификации.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.Identity, error)
}

// Authenticate — ворота аутентификации: разбирает Bearer-токен и кладёт
// Identity в контекст запроса.
//
// Мидлвар сам по себе НИКОГДА не отклоняет запрос как неаутентифицированный:
//   - нет/битый заголовок — запрос идёт дальше анонимно;
//   - токен просрочен — анонимно (клиент сделает refresh и повторит);
//   - устаревший token_version — анонимно (нужен полный повторный вход);
//
// решение «пускать ли анонима» принимает конкретный маршрут.
// Исключение одно: сбой хранилища при сверке token_version отвечает 503 —
// транзиентная недоступность БД не должна выглядеть как разлогин.
func Authenticate(auth Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if isAuthFailure(err) {
					next.ServeHTTP(w, r)
					return
				}

				logctx.From(r.Context()).Error("authenticate_failed",
					slog.String("err", err.Error()),
				)
				apierrors.WriteError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFrom достаёт Identity из контекста; nil — анонимный запрос.
func IdentityFrom(ctx context.Context) *models.Identity {
	v, _ := ctx.Value(identityKey{}).(*models.Identity)
	return v
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) || len(auth) <= len(prefix) {
		return ""
	}

	return strings.TrimSpace(auth[len(prefix):])
}

// isAuthFailure отделяет отказы аутентификации (деградируем до анонима)
// от инфраструктурных ошибок (их маскировать нельзя).
func isAuthFailure(err error) bool {
	return errors.Is(err, service.ErrInvalidToken) ||
		errors.Is(err, service.ErrTokenExpired) ||
		errors.Is(err, service.ErrStaleTokenVersion)
}
