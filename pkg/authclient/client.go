// authclient — клиент auth-сервиса для витрины/SSR-слоя маркетплейса.
//
// Клиент хранит пару access+refresh токенов и реализует контракт
// «401 -> refresh -> повтор ровно один раз»:
//   - access-токен прикладывается Bearer-заголовком к каждому запросу;
//   - на 401 выполняется обмен refresh-токена на новую пару и один повтор;
//   - повторный 401 (или отказ refresh) означает, что пара невосстановима:
//     локальные токены очищаются, наружу уходит ErrReauthRequired.
//
// Конкурентные запросы, одновременно увидевшие 401, НЕ выполняют refresh
// каждый сам по себе: обмен выполняется через singleflight — первый
// вызывающий инициирует сетевую операцию, остальные ждут её результат.
// Иначе второй refresh предъявил бы уже ротированный секрет и получил бы
// ложный отказ с разлогином.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrReauthRequired — пара токенов невосстановима: нужен полный
	// повторный вход. Локальные токены к этому моменту уже очищены.
	ErrReauthRequired = errors.New("re-authentication required")

	// ErrUnavailable — auth-сервис временно недоступен; токены не тронуты,
	// операцию безопасно повторить позже.
	ErrUnavailable = errors.New("auth service unavailable")
)

// TokenPair — пара токенов на стороне клиента.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Client — HTTP-клиент auth-сервиса. Безопасен для конкурентного
// использования; один экземпляр соответствует одному клиентскому
// контексту (одной сессии устройства).
type Client struct {
	baseURL string
	http    *http.Client

	mu     sync.RWMutex
	tokens TokenPair

	// sf дедуплицирует конкурентные refresh-обмены: в полёте не больше
	// одного; слот очищается после завершения.
	sf singleflight.Group

	// onTokens вызывается после каждой смены пары (в т.ч. очистки).
	onTokens func(TokenPair)
}

// Option настраивает клиент.
type Option func(*Client)

// WithHTTPClient подменяет http.Client (таймауты, транспорт).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTokens задаёт начальную пару (восстановление сессии из хранилища клиента).
func WithTokens(t TokenPair) Option {
	return func(c *Client) { c.tokens = t }
}

// WithTokenListener регистрирует колбэк персистенции пары.
func WithTokenListener(fn func(TokenPair)) Option {
	return func(c *Client) { c.onTokens = fn }
}

// New создаёт клиент auth-сервиса.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Tokens возвращает текущую пару токенов.
func (c *Client) Tokens() TokenPair {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

func (c *Client) setTokens(t TokenPair) {
	c.mu.Lock()
	c.tokens = t
	fn := c.onTokens
	c.mu.Unlock()

	if fn != nil {
		fn(t)
	}
}

type authResponse struct {
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login выполняет вход и сохраняет полученную пару токенов.
func (c *Client) Login(ctx context.Context, email, password string) error {
	const op = "authclient.Login"

	body, err := c.postJSON(ctx, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.setTokens(TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken})
	return nil
}

// Logout отзывает текущую сессию на сервере и очищает локальную пару.
func (c *Client) Logout(ctx context.Context) error {
	const op = "authclient.Logout"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/logout", http.NoBody)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.Do(req)
	if err != nil {
		// Локальную пару чистим в любом случае: логаут на клиенте
		// не должен зависеть от доступности сервера.
		c.setTokens(TokenPair{})
		return fmt.Errorf("%s: %w", op, err)
	}
	defer drainClose(resp.Body)

	c.setTokens(TokenPair{})
	return nil
}

// Do выполняет запрос с Bearer-токеном и контрактом «401 -> refresh -> один повтор».
//
// Тело запроса должно быть воспроизводимо (req.GetBody != nil — так устроены
// запросы, созданные http.NewRequest с bytes.Reader и т.п.), иначе повтора
// не будет и 401 вернётся как есть.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	const op = "authclient.Do"

	access := c.Tokens().AccessToken

	resp, err := c.attempt(req, access)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Невоспроизводимое тело повторить нельзя: 401 уходит вызывающему
	// как есть, с нетронутым телом ответа.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	drainClose(resp.Body)

	if err := c.refresh(req.Context(), access); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err = c.attempt(req, c.Tokens().AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Второй подряд отказ после успешного refresh: восстановлению
		// не подлежит, принуждаем к полному входу.
		drainClose(resp.Body)
		c.setTokens(TokenPair{})
		return nil, fmt.Errorf("%s: %w", op, ErrReauthRequired)
	}

	return resp, nil
}

// attempt — одна попытка запроса с указанным access-токеном.
func (c *Client) attempt(req *http.Request, accessToken string) (*http.Response, error) {
	r := req.Clone(req.Context())

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}

	if accessToken != "" {
		r.Header.Set("Authorization", "Bearer "+accessToken)
	}

	return c.http.Do(r)
}

// refresh обменивает refresh-токен на новую пару. Конкурентные вызовы
// схлопываются в один сетевой обмен; опоздавшие получают его результат.
// failedAccess — access-токен, на котором вызывающий получил 401.
func (c *Client) refresh(ctx context.Context, failedAccess string) error {
	_, err, _ := c.sf.Do("refresh", func() (interface{}, error) {
		current := c.Tokens()

		// Пара уже сменилась после того, как вызывающий увидел 401 —
		// чужой refresh успел раньше, повторять обмен не нужно.
		if current.AccessToken != failedAccess {
			return nil, nil
		}

		if current.RefreshToken == "" {
			return nil, ErrReauthRequired
		}

		body, err := c.postJSON(ctx, "/auth/refresh", map[string]string{
			"refresh_token": current.RefreshToken,
		}, "")
		if err != nil {
			if errors.Is(err, errUnauthenticated) {
				// Отказ refresh всегда терминален для этой пары.
				c.setTokens(TokenPair{})
				return nil, ErrReauthRequired
			}

			return nil, err
		}

		var resp authResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}

		c.setTokens(TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken})
		return nil, nil
	})

	return err
}

// errUnauthenticated — внутренний маркер 401/403 от auth-сервиса.
var errUnauthenticated = errors.New("unauthenticated")

// postJSON выполняет POST с JSON-телом и возвращает тело успешного ответа.
func (c *Client) postJSON(ctx context.Context, path string, in any, bearer string) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer drainClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return io.ReadAll(resp.Body)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errUnauthenticated
	case resp.StatusCode >= 500:
		return nil, ErrUnavailable
	default:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func drainClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<16))
	_ = body.Close()
}
