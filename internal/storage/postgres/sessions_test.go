package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"marketplace/auth-service/internal/models"
	"marketplace/auth-service/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func applySessionsMigration(t *testing.T, st *Storage) {
	t.Helper()
	_, err := st.db.Exec(context.Background(), readMigration(t, "2_init_sessions.up.sql"))
	require.NoError(t, err, "apply 2_init_sessions.up.sql")
}

// seedUser создаёт пользователя.
func seedUser(t *testing.T, st *Storage, email string) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Role:         models.RoleCustomer,
		PasswordHash: "hash",
		TokenVersion: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.SaveUser(context.Background(), u))
	return u.ID
}

// hashRefresh - helper для вычисления hash из plain (sha256 → base64url).
func hashRefresh(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func seedSession(t *testing.T, st *Storage, userID uuid.UUID, plain string, ttl time.Duration) *models.Session {
	t.Helper()
	now := time.Now().UTC()
	s := &models.Session{
		ID:          uuid.New(),
		UserID:      userID,
		RefreshHash: hashRefresh(plain),
		UserAgent:   "test-agent",
		IP:          "192.0.2.1",
		ExpiresAt:   now.Add(ttl),
		LastUsedAt:  now,
		CreatedAt:   now,
	}
	require.NoError(t, st.SaveSession(context.Background(), s))
	return s
}

func TestIntegration_SaveSession_And_GetByRefreshHash_OK(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applySessionsMigration(t, st)

	ctx := context.Background()
	userID := seedUser(t, st, "user@example.com")

	s := seedSession(t, st, userID, "plain-refresh-1", time.Hour)

	got, err := st.SessionByRefreshHash(ctx, s.RefreshHash)
	require.NoError(t, err)

	require.Equal(t, s.ID, got.ID)
	require.Equal(t, userID, got.UserID)
	require.Equal(t, "test-agent", got.UserAgent)
	require.Equal(t, "192.0.2.1", got.IP)
	require.Nil(t, got.RevokedAt)
	require.WithinDuration(t, s.ExpiresAt, got.ExpiresAt, 2*time.Second)
	require.WithinDuration(t, s.LastUsedAt, got.LastUsedAt, 2*time.Second)
}

func TestIntegration_SaveSession_UniqueRefreshHash_Violation(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applySessionsMigration(t, st)

	ctx := context.Background()
	userID := seedUser(t, st, "user@example.com")
	seedSession(t, st, userID, "dup-refresh", time.Hour)

	now := time.Now().UTC()
	err := st.SaveSession(ctx, &models.Session{
		ID: uuid.New(), UserID: userID, RefreshHash: hashRefresh("dup-refresh"),
		ExpiresAt: now.Add(time.Hour), LastUsedAt: now, CreatedAt: now,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestIntegration_SessionByRefreshHash_NotFound(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applySessionsMigration(t, st)

	_, err := st.SessionByRefreshHash(context.Background(), hashRefresh("missing"))
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestIntegration_RotateRefreshSecret_Flow — ротация refresh-секрета:
// замена хэша, сдвиг expires_at и last_used_at одним условным UPDATE;
// повторная ротация со старым хэшем проигрывает (false, nil).
func TestIntegration_RotateRefreshSecret_Flow(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applySessionsMigration(t, st)

	ctx := context.Background()
	userID := seedUser(t, st, "user@example.com")
	s := seedSession(t, st, userID, "rotate-me", time.Hour)

	now := time.Now().UTC()
	newHash := hashRefresh("rotated-secret")
	newExpiry := now.Add(48 * time.Hour)

	// 1) Успешная ротация.
	ok, err := st.RotateRefreshSecret(ctx, s.ID, s.RefreshHash, newHash, newExpiry, now)
	require.NoError(t, err)
	require.True(t, ok)

	// Старый хэш более невалиден.
	_, err = st.SessionByRefreshHash(ctx, s.RefreshHash)
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Новый хэш находит ту же сессию со сдвинутым сроком.
	got, err := st.SessionByRefreshHash(ctx, newHash)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)
	require.WithinDuration(t, newExpiry, got.ExpiresAt, 2*time.Second)
	require.WithinDuration(t, now, got.LastUsedAt, 2*time.Second)

	// 2) Конкурент со старым хэшем проигрывает: (false, nil).
	ok, err = st.RotateRefreshSecret(ctx, s.ID, s.RefreshHash, hashRefresh("another"), newExpiry, now)
	require.NoError(t, err)
	require.False(t, ok)
}

// TestIntegration_RotateRefreshSecret_RevokedSession_Loses — отозванная сессия
// не ротируется даже с верным старым хэшем.
func TestIntegration_RotateRefreshSecret_RevokedSession_Loses(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applySessionsMigration(t, st)

	ctx := context.Background()
	userID := seedUser(t, st, "user@example.com")
	s := seedSession(t, st, userID, "revoked-rotate", time.Hour)

	ok, err := st.RevokeSession(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, ok)

	now := time.Now().UTC()
	ok, err = st.RotateRefreshSecret(ctx, s.ID, s.RefreshHash, hashRefresh("new"), now.Add(time.Hour), now)
	require.NoError(t, err)
	require.False(t, ok)
}

// TestIntegration_RevokeSession_Idempotent — первый отзыв (true, nil),
// повторный — no-op (false, nil); несуществующая сессия — тоже (false, nil).
func TestIntegration_RevokeSession_Idempotent(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applySessionsMigration(t, st)

	ctx := context.Background()
	userID := seedUser(t, st, "user@example.com")
	s := seedSession(t, st, userID, "to-revoke", time.Hour)

	ok, err := st.RevokeSession(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := st.SessionByRefreshHash(ctx, s.RefreshHash)
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)

	ok, err = st.RevokeSession(ctx, s.ID)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = st.RevokeSession(ctx, uuid.New())
	require.NoError(t, err)
	require.False(t, ok)
}

// TestIntegration_RevokeAllSessions_ExceptCurrent — массовый отзыв щадит
// указанную сессию; uuid.Nil отзывает вообще все активные.
func TestIntegration_RevokeAllSessions_ExceptCurrent(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applySessionsMigration(t, st)

	ctx := context.Background()
	userID := seedUser(t, st, "user@example.com")
	otherID := seedUser(t, st, "other@example.com")

	current := seedSession(t, st, userID, "device-current", time.Hour)
	seedSession(t, st, userID, "device-2", time.Hour)
	seedSession(t, st, userID, "device-3", time.Hour)
	foreign := seedSession(t, st, otherID, "foreign-device", time.Hour)

	revoked, err := st.RevokeAllSessions(ctx, userID, current.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, revoked)

	// Текущая сессия жива, чужой пользователь не затронут.
	got, err := st.SessionByRefreshHash(ctx, current.RefreshHash)
	require.NoError(t, err)
	require.Nil(t, got.RevokedAt)

	got, err = st.SessionByRefreshHash(ctx, foreign.RefreshHash)
	require.NoError(t, err)
	require.Nil(t, got.RevokedAt)

	// Повтор сходится: активных (кроме текущей) больше нет.
	revoked, err = st.RevokeAllSessions(ctx, userID, current.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, revoked)

	// Без исключения отзывается и текущая.
	revoked, err = st.RevokeAllSessions(ctx, userID, uuid.Nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, revoked)
}

func TestIntegration_ActiveSessionsByUser_FiltersAndOrders(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applySessionsMigration(t, st)

	ctx := context.Background()
	userID := seedUser(t, st, "user@example.com")
	now := time.Now().UTC()

	active := seedSession(t, st, userID, "active", time.Hour)
	expired := seedSession(t, st, userID, "expired", -time.Minute)
	revoked := seedSession(t, st, userID, "revoked", time.Hour)

	ok, err := st.RevokeSession(ctx, revoked.ID)
	require.NoError(t, err)
	require.True(t, ok)

	sessions, err := st.ActiveSessionsByUser(ctx, userID, now)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, active.ID, sessions[0].ID)
	require.NotEqual(t, expired.ID, sessions[0].ID)
}

func TestIntegration_DeleteExpiredSessions_DeletesOnlyExpired(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applySessionsMigration(t, st)

	ctx := context.Background()
	userID := seedUser(t, st, "user@example.com")
	now := time.Now().UTC()

	expired := seedSession(t, st, userID, "expired-past", -time.Minute)
	alive := seedSession(t, st, userID, "not-expired", 30*time.Minute)

	require.NoError(t, st.DeleteExpiredSessions(ctx, now))

	_, err := st.SessionByRefreshHash(ctx, expired.RefreshHash)
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = st.SessionByRefreshHash(ctx, alive.RefreshHash)
	require.NoError(t, err)
}
