package models

import (
	"time"

	"github.com/google/uuid"
)

// Session — одна авторизованная пара устройство/вход пользователя.
//
// Хранит только хэш текущего refresh-секрета (RefreshHash); сам секрет
// существует лишь у клиента. Ротация заменяет хэш атомарно: в любой момент
// для сессии валиден ровно один секрет.
//
// Жизненный цикл:
//   - создаётся при логине/регистрации;
//   - при каждом refresh меняется RefreshHash, сдвигается ExpiresAt
//     и обновляется LastUsedAt;
//   - завершается выставлением RevokedAt (терминально); строки не удаляются
//     сразу — просроченные подчищает фоновый janitor.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	// RefreshHash — sha256(plain) в base64url; никогда не сам секрет.
	RefreshHash string
	// UserAgent и IP — диагностические метки устройства, на логику не влияют.
	UserAgent  string
	IP         string
	ExpiresAt  time.Time
	LastUsedAt time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// IsActive сообщает, действует ли сессия на момент now:
// не отозвана и не просрочена.
func (s *Session) IsActive(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
