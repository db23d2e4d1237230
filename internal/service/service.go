// service содержит бизнес-логику auth-сервиса: регистрацию/аутентификацию
// пользователей, выпуск/проверку токенов, ротацию refresh-секретов
// и отзыв сессий; работа с хранилищем — через интерфейсы пакета storage.
//
// Основные аспекты:
//   - Пакет не хранит состояние запроса внутри Service; экземпляр Service
//     безопасен для конкурентного использования из разных горутин при условии,
//     что переданное хранилище (storage.Storage) потокобезопасно.
//   - Координация конкурентных ротаций одного refresh-секрета выполняется
//     атомарным условным UPDATE в хранилище, без блокировок поверх I/O.
//   - Ошибки возвращаются типизированно и далее маппятся транспортом
//     на HTTP-статусы (см. комментарии к переменным ошибок ниже).
package service

import (
	"errors"

	"marketplace/auth-service/internal/cache"
	"marketplace/auth-service/internal/config"
	"marketplace/auth-service/internal/storage"
)

var (
	// ErrInvalidCredentials — пара логин/пароль неверна или пользователь не найден.
	// Транспорт: HTTP 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken — access-токен некорректен по формату/подписи.
	// Транспорт: HTTP 401.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия access-токена истёк; клиент должен
	// выполнить refresh и повторить запрос. Транспорт: HTTP 401.
	ErrTokenExpired = errors.New("token expired")

	// ErrStaleTokenVersion — штамп token_version в access-токене не совпадает
	// с текущим значением у пользователя: все ранее выпущенные токены
	// инвалидированы, refresh не поможет — требуется полный повторный вход.
	// Транспорт: HTTP 401.
	ErrStaleTokenVersion = errors.New("stale token version")

	// ErrSessionNotFound — сессия по предъявленному refresh-секрету не найдена:
	// секрет подделан либо уже заменён ротацией (replay устаревшего секрета).
	// Транспорт: HTTP 401.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired — срок сессии истёк; сессия при этом отзывается
	// (fail closed). Транспорт: HTTP 401.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked — сессия отозвана (logout/bulk logout/администратор).
	// Транспорт: HTTP 401.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrEmailTaken — e-mail уже занят другим пользователем.
	// Транспорт: HTTP 409.
	ErrEmailTaken = errors.New("email already taken")

	// ErrRefreshCollision — исчерпаны попытки сгенерировать уникальный
	// refresh-секрет (редчайшие коллизии хэша в БД). Транспорт: HTTP 500.
	ErrRefreshCollision = errors.New("refresh secret collision")

	// ErrInvalidEmail — e-mail имеет некорректный формат.
	// Транспорт: HTTP 400.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrWeakPassword — пароль не удовлетворяет политикам сложности.
	// Транспорт: HTTP 400.
	ErrWeakPassword = errors.New("password is too weak")

	// ErrEmptyPassword — пароль пустой.
	// Транспорт: HTTP 400.
	ErrEmptyPassword = errors.New("password is empty")
)

// DeviceInfo — диагностические метки устройства, с которого выполняется вход.
type DeviceInfo struct {
	UserAgent string
	IP        string
}

// Service описывает бизнес-логику auth-сервиса.
type Service struct {
	storage storage.Storage
	cfg     config.AuthConfig
	idcache cache.IdentityCache // может быть nil, если кэш не сконфигурирован
}

// New создаёт новый экземпляр Service.
func New(storage storage.Storage, cfg config.AuthConfig) *Service {
	return &Service{
		storage: storage,
		cfg:     cfg,
	}
}

// SetIdentityCache устанавливает кэш идентичностей (опционально).
func (s *Service) SetIdentityCache(c cache.IdentityCache) {
	s.idcache = c
}
