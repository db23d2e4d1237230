package models

import "github.com/google/uuid"

// Identity — результат успешной проверки access-токена: кто и из какой
// сессии выполняет запрос. Прикладывается к контексту запроса для
// последующих проверок авторизации.
type Identity struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	Email     string
	Name      string
	Role      string
}
