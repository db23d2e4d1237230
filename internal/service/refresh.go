package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketplace/auth-service/internal/models"
	"marketplace/auth-service/internal/pkg/log"
	"marketplace/auth-service/internal/storage"

	"github.com/google/uuid"
)

// RefreshSession обменивает предъявленный refresh-секрет на новую пару токенов.
//
// Семантика отказов:
//   - ErrSessionNotFound — хэш не найден: секрет подделан либо уже заменён
//     предыдущей ротацией (replay устаревшего секрета всегда отклоняется,
//     даже до его номинального истечения);
//   - ErrSessionRevoked — сессия отозвана;
//   - ErrSessionExpired — срок сессии истёк; сессия попутно отзывается
//     (fail closed).
//
// Успешная ротация линеаризуема по строке сессии: замена хэша, сдвиг
// expires_at (скользящее истечение на полный TTL от текущего момента)
// и обновление last_used_at — один условный UPDATE. Старый секрет
// перестаёт действовать в момент записи нового; окна, где валидны оба,
// не существует. Из двух конкурентных ротаций одного секрета успешна
// ровно одна, проигравшая получает ErrSessionNotFound.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (*models.TokenPair, uuid.UUID, error) {
	const (
		op          = "service.refresh.RefreshSession"
		maxAttempts = 5
	)

	lg := log.From(ctx)

	session, err := s.storage.SessionByRefreshHash(ctx, hashRefreshSecret(refreshToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("refresh_lookup_not_found",
				slog.String("op", op),
			)
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrSessionNotFound)
		}

		lg.Error("refresh_lookup_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()

	if session.RevokedAt != nil {
		lg.Warn("refresh_session_revoked",
			slog.String("op", op),
			slog.String("user_id", session.UserID.String()),
		)
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrSessionRevoked)
	}

	if !now.Before(session.ExpiresAt) {
		// Fail closed: просроченную сессию отзываем; отзыв идемпотентен,
		// ошибка здесь не меняет ответ клиенту.
		if _, rerr := s.storage.RevokeSession(ctx, session.ID); rerr != nil {
			lg.Error("refresh_expired_revoke_failed",
				slog.String("op", op),
				slog.String("err", rerr.Error()),
			)
		}

		lg.Warn("refresh_session_expired",
			slog.String("op", op),
			slog.String("user_id", session.UserID.String()),
		)
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrSessionExpired)
	}

	user, err := s.storage.UserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrSessionNotFound)
		}

		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	oldHash := session.RefreshHash

	for attempt := 0; attempt < maxAttempts; attempt++ {
		plain, newHash, err := newRefreshSecret()
		if err != nil {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
		}

		ok, err := s.storage.RotateRefreshSecret(ctx, session.ID, oldHash, newHash,
			now.Add(s.cfg.RefreshTokenTTL), now)
		if err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// Коллизия нового хэша с чужой сессией — пробуем ещё раз.
				continue
			}

			lg.Error("refresh_rotate_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
		}

		if !ok {
			// Условный UPDATE не нашёл строку со старым хэшем: секрет уже
			// заменён конкурентной ротацией либо сессия отозвана.
			lg.Warn("refresh_lost_race",
				slog.String("op", op),
				slog.String("user_id", session.UserID.String()),
			)
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrSessionNotFound)
		}

		accessToken, err := s.generateAccessToken(ctx, user, session.ID, now)
		if err != nil {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
		}

		return &models.TokenPair{
			AccessToken:     accessToken,
			RefreshToken:    plain,
			SessionID:       session.ID,
			AccessExpiresAt: now.Add(s.cfg.AccessTokenTTL),
		}, user.ID, nil
	}

	return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrRefreshCollision)
}
