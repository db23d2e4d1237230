package handlers

import (
	"net/http"
	"time"

	apierrors "marketplace/auth-service/internal/errors"
	"marketplace/auth-service/internal/http/middleware"
	"marketplace/auth-service/internal/models"
)

// Входные/выходные модели REST-эндпоинтов.

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type authResponse struct {
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresIn — срок действия access-токена в секундах.
	ExpiresIn int64 `json:"expires_in"`
}

type okResponse struct {
	Ok bool `json:"ok"`
}

type logoutAllResponse struct {
	Ok      bool  `json:"ok"`
	Revoked int64 `json:"revoked"`
}

type sessionResponse struct {
	ID         string    `json:"id"`
	UserAgent  string    `json:"user_agent,omitempty"`
	IP         string    `json:"ip,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Current    bool      `json:"current"`
}

func toAuthResponse(pair *models.TokenPair, userID string) authResponse {
	return authResponse{
		UserID:       userID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(time.Until(pair.AccessExpiresAt).Seconds()),
	}
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteBadRequest(w, r)
		return
	}

	pair, userID, err := h.service.RegisterUser(r.Context(), in.Email, in.Password, in.Name, deviceInfo(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(pair, userID.String()))
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteBadRequest(w, r)
		return
	}

	pair, userID, err := h.service.LoginUser(r.Context(), in.Email, in.Password, deviceInfo(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(pair, userID.String()))
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeStrict(r, &in); err != nil || in.RefreshToken == "" {
		apierrors.WriteBadRequest(w, r)
		return
	}

	pair, userID, err := h.service.RefreshSession(r.Context(), in.RefreshToken)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(pair, userID.String()))
}

// Logout отзывает сессию вызывающего (одно устройство).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())
	if identity == nil {
		apierrors.WriteUnauthenticated(w, r)
		return
	}

	if err := h.service.RevokeSession(r.Context(), identity.SessionID); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{Ok: true})
}

// LogoutAll отзывает все сессии пользователя, кроме текущей
// («выйти на остальных устройствах»).
func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())
	if identity == nil {
		apierrors.WriteUnauthenticated(w, r)
		return
	}

	revoked, err := h.service.RevokeAllSessions(r.Context(), identity.UserID, identity.SessionID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, logoutAllResponse{Ok: true, Revoked: revoked})
}

// ChangePassword меняет пароль и инвалидирует остальные credentials пользователя.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())
	if identity == nil {
		apierrors.WriteUnauthenticated(w, r)
		return
	}

	var in changePasswordRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteBadRequest(w, r)
		return
	}

	if err := h.service.ChangePassword(r.Context(), identity.UserID, identity.SessionID, in.CurrentPassword, in.NewPassword); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{Ok: true})
}

// Sessions возвращает активные сессии вызывающего с пометкой текущей.
func (h *Handlers) Sessions(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())
	if identity == nil {
		apierrors.WriteUnauthenticated(w, r)
		return
	}

	sessions, err := h.service.Sessions(r.Context(), identity.UserID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			ID:         s.ID.String(),
			UserAgent:  s.UserAgent,
			IP:         s.IP,
			CreatedAt:  s.CreatedAt,
			LastUsedAt: s.LastUsedAt,
			ExpiresAt:  s.ExpiresAt,
			Current:    s.ID == identity.SessionID,
		})
	}

	writeJSON(w, http.StatusOK, out)
}
