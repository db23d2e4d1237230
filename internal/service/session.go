package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"marketplace/auth-service/internal/models"
	"marketplace/auth-service/internal/pkg/log"

	"github.com/google/uuid"
)

// RevokeSession отзывает одну сессию (логаут одного устройства).
// Идемпотентна: отзыв уже отозванной сессии — no-op, не ошибка.
func (s *Service) RevokeSession(ctx context.Context, sessionID uuid.UUID) error {
	const op = "service.session.RevokeSession"

	revoked, err := s.storage.RevokeSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("session_revoked",
		slog.String("op", op),
		slog.String("session_id", sessionID.String()),
		slog.Bool("transitioned", revoked),
	)

	return nil
}

// RevokeAllSessions отзывает все активные сессии пользователя, опционально
// сохраняя одну (exceptSessionID != uuid.Nil — сессия, из которой выполняется
// «выйти на остальных устройствах»). Возвращает число отозванных сессий.
func (s *Service) RevokeAllSessions(ctx context.Context, userID, exceptSessionID uuid.UUID) (int64, error) {
	const op = "service.session.RevokeAllSessions"

	revoked, err := s.storage.RevokeAllSessions(ctx, userID, exceptSessionID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("sessions_bulk_revoked",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
		slog.Int64("revoked", revoked),
	)

	return revoked, nil
}

// BumpTokenVersion инкрементирует token_version пользователя и возвращает
// новое значение: все ранее выпущенные access-токены мгновенно перестают
// приниматься независимо от собственного TTL (применяется отдельно от
// отзыва сессий, например администратором при подозрении на компрометацию).
func (s *Service) BumpTokenVersion(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "service.session.BumpTokenVersion"

	version, err := s.storage.BumpTokenVersion(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.invalidateIdentityCache(ctx, userID)

	log.From(ctx).Info("token_version_bumped",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
		slog.Int64("token_version", version),
	)

	return version, nil
}

// Sessions возвращает активные сессии пользователя — read-only проекция
// таблицы сессий для экрана «мои устройства».
func (s *Service) Sessions(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	const op = "service.session.Sessions"

	sessions, err := s.storage.ActiveSessionsByUser(ctx, userID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return sessions, nil
}
