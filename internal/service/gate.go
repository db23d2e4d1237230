package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"marketplace/auth-service/internal/cache"
	"marketplace/auth-service/internal/models"
	"marketplace/auth-service/internal/pkg/log"
	"marketplace/auth-service/internal/storage"

	"github.com/google/uuid"
)

// Authenticate проверяет access-токен и возвращает Identity вызывающего.
//
// Структурная проверка (подпись/exp/iss/aud) выполняется локально, без I/O.
// Единственное чтение — актуальный token_version (плюс имя/роль) из кэша
// или строки пользователя: несовпадение штампа ver означает, что все ранее
// выпущенные токены инвалидированы (ErrStaleTokenVersion — клиенту нужен
// полный повторный вход, refresh не поможет). Таблица сессий на этом пути
// не читается.
//
// Ошибки хранилища пробрасываются как есть: транспорт обязан отличать их
// от отказов аутентификации (транзиентный сбой БД не должен «разлогинить»
// пользователя).
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*models.Identity, error) {
	const op = "service.gate.Authenticate"

	claims, err := s.validateAccessToken(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// UUID провалидированы в validateAccessToken.
	userID := uuid.MustParse(claims.UserID)
	sessionID := uuid.MustParse(claims.SessionID)

	entry, err := s.identityEntry(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if entry.TokenVersion != claims.TokenVersion {
		log.From(ctx).Warn("stale_token_version",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
			slog.Int64("token_ver", claims.TokenVersion),
			slog.Int64("live_ver", entry.TokenVersion),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrStaleTokenVersion)
	}

	return &models.Identity{
		UserID:    userID,
		SessionID: sessionID,
		Email:     entry.Email,
		Name:      entry.Name,
		Role:      entry.Role,
	}, nil
}

// identityEntry возвращает живые данные пользователя: сперва кэш, затем БД.
// Ошибка кэша трактуется как промах — истина всегда в хранилище.
func (s *Service) identityEntry(ctx context.Context, userID uuid.UUID) (*cache.IdentityEntry, error) {
	const op = "service.gate.identityEntry"

	lg := log.From(ctx)

	if s.idcache != nil {
		entry, found, err := s.idcache.Get(ctx, userID)
		if err != nil {
			lg.Warn("idcache_get_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		} else if found {
			return entry, nil
		}
	}

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	entry := &cache.IdentityEntry{
		TokenVersion: user.TokenVersion,
		Email:        user.Email,
		Name:         user.Name,
		Role:         user.Role,
	}

	if s.idcache != nil {
		if err := s.idcache.Set(ctx, userID, entry, s.cfg.AccessTokenTTL); err != nil {
			lg.Warn("idcache_set_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		}
	}

	return entry, nil
}

// invalidateIdentityCache сбрасывает кэшированные данные пользователя
// (после bump token_version). Ошибка не фатальна: окно рассинхронизации
// ограничено TTL записи.
func (s *Service) invalidateIdentityCache(ctx context.Context, userID uuid.UUID) {
	if s.idcache == nil {
		return
	}

	if err := s.idcache.Invalidate(ctx, userID); err != nil {
		log.From(ctx).Warn("idcache_invalidate_failed",
			slog.String("err", err.Error()),
		)
	}
}
