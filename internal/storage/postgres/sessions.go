package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace/auth-service/internal/models"
	"marketplace/auth-service/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SaveSession сохраняет новую сессию в БД.
func (s *Storage) SaveSession(ctx context.Context, session *models.Session) error {
	const op = "storage.postgres.SaveSession"

	query := `
        INSERT INTO sessions(id, user_id, refresh_hash, user_agent, ip, expires_at, last_used_at, revoked_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `

	_, err := s.db.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.RefreshHash,
		session.UserAgent,
		session.IP,
		session.ExpiresAt,
		session.LastUsedAt,
		session.RevokedAt,
		session.CreatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SessionByRefreshHash находит сессию по хэшу refresh-секрета.
func (s *Storage) SessionByRefreshHash(ctx context.Context, hash string) (*models.Session, error) {
	const op = "storage.postgres.SessionByRefreshHash"

	query := `
        SELECT id, user_id, refresh_hash, user_agent, ip, expires_at, last_used_at, revoked_at, created_at
        FROM sessions
        WHERE refresh_hash = $1
    `

	var session models.Session
	err := s.db.QueryRow(ctx, query, hash).Scan(
		&session.ID,
		&session.UserID,
		&session.RefreshHash,
		&session.UserAgent,
		&session.IP,
		&session.ExpiresAt,
		&session.LastUsedAt,
		&session.RevokedAt,
		&session.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &session, nil
}

// RotateRefreshSecret атомарно заменяет refresh-хэш сессии.
//
// Единственный механизм взаимного исключения на пути refresh: условие
// refresh_hash = oldHash в WHERE гарантирует, что из двух конкурентных
// ротаций одного и того же секрета выигрывает ровно одна — проигравшая
// получает (false, nil), т.к. хэш уже заменён. Ротация, сдвиг expires_at
// и обновление last_used_at выполняются одним UPDATE: частично
// применённых состояний не бывает.
//
// Возвращает:
//
//	(true, nil)  — секрет заменён этим вызовом; старый секрет невалиден;
//	(false, nil) — условие не выполнено (хэш уже другой либо сессия отозвана).
func (s *Storage) RotateRefreshSecret(ctx context.Context, id uuid.UUID, oldHash, newHash string, expiresAt, lastUsedAt time.Time) (bool, error) {
	const op = "storage.postgres.RotateRefreshSecret"

	query := `
		UPDATE sessions
		SET refresh_hash = $3, expires_at = $4, last_used_at = $5
		WHERE id = $1 AND refresh_hash = $2 AND revoked_at IS NULL
	`

	cmdTag, err := s.db.Exec(ctx, query, id, oldHash, newHash, expiresAt, lastUsedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return false, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	return cmdTag.RowsAffected() > 0, nil
}

// RevokeSession помечает сессию отозванной (revoked_at = now()).
// Повторный вызов для уже отозванной сессии — no-op: условие
// revoked_at IS NULL делает операцию идемпотентной.
func (s *Storage) RevokeSession(ctx context.Context, id uuid.UUID) (bool, error) {
	const op = "storage.postgres.RevokeSession"

	query := `
		UPDATE sessions
		SET revoked_at = now()
		WHERE id = $1 AND revoked_at IS NULL
	`

	cmdTag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return cmdTag.RowsAffected() > 0, nil
}

// RevokeAllSessions отзывает все активные сессии пользователя одним UPDATE,
// кроме except (uuid.Nil — отозвать все). Каждая строка отзывается
// идемпотентно, поэтому операция сходится при повторе после сбоя.
func (s *Storage) RevokeAllSessions(ctx context.Context, userID uuid.UUID, except uuid.UUID) (int64, error) {
	const op = "storage.postgres.RevokeAllSessions"

	query := `
		UPDATE sessions
		SET revoked_at = now()
		WHERE user_id = $1 AND revoked_at IS NULL AND ($2::uuid IS NULL OR id <> $2)
	`

	var exceptArg any
	if except != uuid.Nil {
		exceptArg = except
	}

	cmdTag, err := s.db.Exec(ctx, query, userID, exceptArg)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return cmdTag.RowsAffected(), nil
}

// ActiveSessionsByUser возвращает активные сессии пользователя,
// отсортированные по последнему использованию.
func (s *Storage) ActiveSessionsByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.Session, error) {
	const op = "storage.postgres.ActiveSessionsByUser"

	query := `
        SELECT id, user_id, refresh_hash, user_agent, ip, expires_at, last_used_at, revoked_at, created_at
        FROM sessions
        WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
        ORDER BY last_used_at DESC
    `

	rows, err := s.db.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var session models.Session
		if err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.RefreshHash,
			&session.UserAgent,
			&session.IP,
			&session.ExpiresAt,
			&session.LastUsedAt,
			&session.RevokedAt,
			&session.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return sessions, nil
}

// DeleteExpiredSessions удаляет все просроченные сессии.
func (s *Storage) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	const op = "storage.postgres.DeleteExpiredSessions"

	query := `
        DELETE FROM sessions
        WHERE expires_at <= $1
    `

	_, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
