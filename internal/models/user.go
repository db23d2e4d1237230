package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли пользователей маркетплейса.
const (
	RoleCustomer = "customer"
	RoleVendor   = "vendor"
	RoleAdmin    = "admin"
)

// User — модель пользователя в системе.
//
// TokenVersion — монотонно растущий счётчик: он вшивается в каждый
// access-токен при выпуске, и токен действителен только пока его штамп
// совпадает с текущим значением. Инкремент счётчика мгновенно
// инвалидирует все ранее выпущенные access-токены (смена пароля,
// подозрение на компрометацию).
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	Role         string
	PasswordHash string
	TokenVersion int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
