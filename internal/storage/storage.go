// storage задает контракты работы с БД для auth-сервиса.
//
// Хранилище — единственная разделяемая изменяемая часть подсистемы:
// все конкурентные запросы одного пользователя сходятся на строках users
// и sessions. Вся взаимная координация выполняется атомарными условными
// UPDATE внутри реализаций; блокировки поверх I/O не используются.
package storage

import (
	"context"
	"errors"
	"time"

	"marketplace/auth-service/internal/models"

	"github.com/google/uuid"
)

var (
	// ErrNotFound — запись не найдена (пользователь/сессия).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email/refresh_hash).
	ErrAlreadyExists = errors.New("already exists")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создает нового пользователя в БД.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по email.
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UpdatePasswordHash заменяет хэш пароля пользователя.
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string, now time.Time) error
	// BumpTokenVersion атомарно инкрементирует token_version и возвращает
	// новое значение. Счётчик только растёт.
	BumpTokenVersion(ctx context.Context, id uuid.UUID) (int64, error)
}

// SessionStorage выполняет операции над сессиями.
type SessionStorage interface {
	// SaveSession сохраняет новую сессию.
	SaveSession(ctx context.Context, session *models.Session) error
	// SessionByRefreshHash находит сессию по хэшу refresh-секрета.
	SessionByRefreshHash(ctx context.Context, hash string) (*models.Session, error)
	// RotateRefreshSecret атомарно заменяет refresh_hash сессии при условии,
	// что текущий хэш равен oldHash и сессия не отозвана; одновременно
	// сдвигает expires_at и last_used_at. Возвращает false, если условие
	// не выполнено (конкурентная ротация уже заменила секрет либо сессия
	// отозвана) — из двух гонящихся ротаций выигрывает ровно одна.
	RotateRefreshSecret(ctx context.Context, id uuid.UUID, oldHash, newHash string, expiresAt, lastUsedAt time.Time) (bool, error)
	// RevokeSession помечает сессию отозванной (revoked_at = now).
	// Идемпотентна: повторный вызов — no-op; возвращает true, если строка
	// была переведена в отозванное состояние именно этим вызовом.
	RevokeSession(ctx context.Context, id uuid.UUID) (bool, error)
	// RevokeAllSessions отзывает все активные сессии пользователя одним
	// bulk-UPDATE, кроме except (uuid.Nil — без исключений).
	// Возвращает число отозванных сессий.
	RevokeAllSessions(ctx context.Context, userID uuid.UUID, except uuid.UUID) (int64, error)
	// ActiveSessionsByUser возвращает активные на момент now сессии
	// пользователя (не отозванные и не просроченные).
	ActiveSessionsByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.Session, error)
	// DeleteExpiredSessions удаляет просроченные строки сессий.
	// Гигиена хранилища: корректность истечения от неё не зависит.
	DeleteExpiredSessions(ctx context.Context, now time.Time) error
}

// Storage задает контракт работы с БД.
type Storage interface {
	UserStorage
	SessionStorage
	Close()
}
