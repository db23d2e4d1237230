package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketplace/auth-service/internal/models"
	"marketplace/auth-service/internal/pkg/log"
	"marketplace/auth-service/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type accessClaims struct {
	UserID       string `json:"uid"`
	SessionID    string `json:"sid"`
	Role         string `json:"role"`
	TokenVersion int64  `json:"ver"`
	jwt.RegisteredClaims
}

// generateAccessToken генерирует access-токен.
//
// Токен самодостаточен для структурной проверки (подпись HS256, exp, iss, aud);
// обращение к хранилищу нужно лишь для сверки штампа ver с текущим
// token_version пользователя.
func (s *Service) generateAccessToken(ctx context.Context, user *models.User, sessionID uuid.UUID, now time.Time) (string, error) {
	const op = "service.token.generateAccessToken"

	lg := log.From(ctx)

	claims := accessClaims{
		UserID:       user.ID.String(),
		SessionID:    sessionID.String(),
		Role:         user.Role,
		TokenVersion: user.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.cfg.Issuer,
			Subject:   user.ID.String(),
			Audience:  jwt.ClaimStrings(s.cfg.Audience),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		lg.Error("access_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// validateAccessToken проверяет подпись и структурные клеймы access-токена.
// Сверку ver с живым token_version выполняет Authenticate.
func (s *Service) validateAccessToken(tokenStr string) (*accessClaims, error) {
	const op = "service.token.validateAccessToken"

	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
			}

			return []byte(s.cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5*time.Second),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience...),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if _, err := uuid.Parse(claims.SessionID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return claims, nil
}

// newRefreshSecret генерирует случайный refresh-секрет (256 бит) и его хэш.
func newRefreshSecret() (plain, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}

	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, hashRefreshSecret(plain), nil
}

// hashRefreshSecret — sha256(plain) в base64url; в таком виде секрет
// хранится и ищется в БД.
func hashRefreshSecret(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// createSession создает новую сессию с fresh refresh-секретом.
// Коллизия по уникальному refresh_hash (практически невозможная) приводит
// к повторной генерации секрета, число попыток ограничено.
func (s *Service) createSession(ctx context.Context, userID uuid.UUID, device DeviceInfo, now time.Time) (string, *models.Session, error) {
	const (
		op          = "service.token.createSession"
		maxAttempts = 5
	)

	lg := log.From(ctx)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		plain, hash, err := newRefreshSecret()
		if err != nil {
			lg.Error("refresh_rand_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", nil, fmt.Errorf("%s: %w", op, err)
		}

		session := &models.Session{
			ID:          uuid.New(),
			UserID:      userID,
			RefreshHash: hash,
			UserAgent:   device.UserAgent,
			IP:          device.IP,
			ExpiresAt:   now.Add(s.cfg.RefreshTokenTTL),
			LastUsedAt:  now,
			CreatedAt:   now,
		}

		if err := s.storage.SaveSession(ctx, session); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// Редкая коллизия — пробуем сгенерировать заново.
				continue
			}

			lg.Error("save_session_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", nil, fmt.Errorf("%s: %w", op, err)
		}

		return plain, session, nil
	}

	lg.Error("refresh_collision_exceeded",
		slog.String("op", op),
	)

	return "", nil, fmt.Errorf("%s: %w", op, ErrRefreshCollision)
}

// issueTokenPair выпускает новую пару access+refresh токенов, создавая
// новую сессию для устройства. Единственная мутация хранилища —
// одна новая строка сессии.
func (s *Service) issueTokenPair(ctx context.Context, user *models.User, device DeviceInfo) (*models.TokenPair, error) {
	const op = "service.token.issueTokenPair"

	now := time.Now().UTC()

	plain, session, err := s.createSession(ctx, user.ID, device, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	accessToken, err := s.generateAccessToken(ctx, user, session.ID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:     accessToken,
		RefreshToken:    plain,
		SessionID:       session.ID,
		AccessExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}, nil
}
