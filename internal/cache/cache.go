// cache — опциональный Redis-кэш «живых» данных пользователя для Auth Gate.
//
// Проверка access-токена требует одного чтения актуального token_version
// (и имени/роли для Identity); кэш снимает это чтение с БД на горячем пути.
// Кэш не является источником истины: промах или ошибка Redis приводят
// к чтению из хранилища, инкремент token_version инвалидирует ключ.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// IdentityEntry описывает данные, которые мы храним в Redis по ID пользователя.
type IdentityEntry struct {
	TokenVersion int64
	Email        string
	Name         string
	Role         string
}

// IdentityCache — минимальный контракт кэша идентичностей.
type IdentityCache interface {
	// Get возвращает запись и признак её наличия в кэше.
	Get(ctx context.Context, userID uuid.UUID) (*IdentityEntry, bool, error)
	// Set сохраняет запись с TTL.
	Set(ctx context.Context, userID uuid.UUID, e *IdentityEntry, ttl time.Duration) error
	// Invalidate удаляет запись (после bump token_version / смены данных).
	Invalidate(ctx context.Context, userID uuid.UUID) error
	// Close закрывает клиент Redis.
	Close() error
}

type redisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "auth:id:".
func NewRedisCache(redisURL, prefix string) (IdentityCache, error) {
	if prefix == "" {
		prefix = "auth:id:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &redisCache{rdb: rdb, prefix: prefix}, nil
}

func (c *redisCache) key(userID uuid.UUID) string { return c.prefix + userID.String() }

// Храним как Redis Hash с полями: ver, email, name, role.
func (c *redisCache) Get(ctx context.Context, userID uuid.UUID) (*IdentityEntry, bool, error) {
	m, err := c.rdb.HGetAll(ctx, c.key(userID)).Result()
	if err != nil {
		return nil, false, err
	}

	if len(m) == 0 {
		return nil, false, nil
	}

	ver, err := strconv.ParseInt(m["ver"], 10, 64)
	if err != nil {
		return nil, false, err
	}

	return &IdentityEntry{
		TokenVersion: ver,
		Email:        m["email"],
		Name:         m["name"],
		Role:         m["role"],
	}, true, nil
}

func (c *redisCache) Set(ctx context.Context, userID uuid.UUID, e *IdentityEntry, ttl time.Duration) error {
	kv := map[string]string{
		"ver":   strconv.FormatInt(e.TokenVersion, 10),
		"email": e.Email,
		"name":  e.Name,
		"role":  e.Role,
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, c.key(userID), kv)
	pipe.Expire(ctx, c.key(userID), ttl)

	_, err := pipe.Exec(ctx)
	return err
}

func (c *redisCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return c.rdb.Del(ctx, c.key(userID)).Err()
}

func (c *redisCache) Close() error { return c.rdb.Close() }
