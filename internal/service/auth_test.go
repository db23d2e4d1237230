package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"marketplace/auth-service/internal/config"
	"marketplace/auth-service/internal/models"
	"marketplace/auth-service/internal/pkg/log"
	"marketplace/auth-service/internal/storage"
	"marketplace/auth-service/mocks"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testCfg() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:       "unit-secret",
		AccessTokenTTL:  30 * time.Second,
		RefreshTokenTTL: 24 * time.Hour,
		Issuer:          "auth-service",
		Audience:        []string{"storefront"},
	}
}

func newSvc(t *testing.T) (*Service, *mocks.MockStorage, *gomock.Controller) {
	t.Helper()
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStorage(ctrl)
	svc := New(st, testCfg())
	return svc, st, ctrl
}

func mustHashPW(t *testing.T, pw string) string {
	t.Helper()
	h, err := hashPassword(pw)
	require.NoError(t, err)
	return h
}

func testDevice() DeviceInfo {
	return DeviceInfo{UserAgent: "unit-test/1.0", IP: "192.0.2.10"}
}

// TestAuthEvents_LogRedactedEmail — события регистрации и входа пишут
// e-mail только в редактированном виде, исходный адрес в лог не попадает.
func TestAuthEvents_LogRedactedEmail(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	var buf bytes.Buffer
	ctx := log.Into(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	st.EXPECT().UserByEmail(gomock.Any(), "foobar@example.com").Return(nil, storage.ErrNotFound)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().SaveSession(gomock.Any(), gomock.Any()).Return(nil)

	_, _, err := svc.RegisterUser(ctx, "foobar@example.com", "Abcdef1!", "Alice", testDevice())
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "user_registered")
	require.Contains(t, out, "fo***@example.com")
	require.NotContains(t, out, "foobar@example.com")
}

func TestRegisterUser_OK(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	email := "User@Example.com"
	norm := "user@example.com"
	pw := "Abcdef1!"

	// Сначала UserByEmail → ErrNotFound, потом SaveUser, потом createSession → SaveSession.
	st.EXPECT().UserByEmail(gomock.Any(), norm).Return(nil, storage.ErrNotFound)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, u *models.User) error {
			require.Equal(t, norm, u.Email)
			require.Equal(t, models.RoleCustomer, u.Role)
			require.EqualValues(t, 1, u.TokenVersion)
			return nil
		})
	st.EXPECT().SaveSession(gomock.Any(), gomock.Any()).Return(nil)

	tp, uid, err := svc.RegisterUser(ctx, email, pw, "Alice", testDevice())
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, uid)
	require.NotEmpty(t, tp.AccessToken)
	require.NotEmpty(t, tp.RefreshToken)
	require.NotEqual(t, uuid.Nil, tp.SessionID)

	require.WithinDuration(t, time.Now().Add(svc.cfg.AccessTokenTTL), tp.AccessExpiresAt, 2*time.Second)
}

func TestRegisterUser_InvalidEmail(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, _, err := svc.RegisterUser(context.Background(), "not-an-email", "Abcdef1!", "", testDevice())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidEmail)
}

func TestRegisterUser_WeakOrEmptyPassword(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, _, err := svc.RegisterUser(context.Background(), "u@e.com", "", "", testDevice())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrEmptyPassword)

	_, _, err = svc.RegisterUser(context.Background(), "u@e.com", "short", "", testDevice())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrWeakPassword)

	// Длина достаточная, но нет спецсимвола.
	_, _, err = svc.RegisterUser(context.Background(), "u@e.com", "Abcdefg1", "", testDevice())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestRegisterUser_EmailAlreadyExists_OnLookup(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	// Если UserByEmail вернул пользователя (err == nil) - считается занятым email.
	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").
		Return(&models.User{ID: uuid.New(), Email: "user@example.com"}, nil)

	_, _, err := svc.RegisterUser(context.Background(), "user@example.com", "Abcdef1!", "", testDevice())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterUser_SaveUserAlreadyExists_MapsToEmailTaken(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").
		Return(nil, storage.ErrNotFound)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).
		Return(storage.ErrAlreadyExists)

	_, _, err := svc.RegisterUser(context.Background(), "user@example.com", "Abcdef1!", "", testDevice())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterUser_StorageErrors_Propagated(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").
		Return(nil, errors.New("db down"))

	_, _, err := svc.RegisterUser(context.Background(), "user@example.com", "Abcdef1!", "", testDevice())
	require.Error(t, err)

	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").
		Return(nil, storage.ErrNotFound)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).
		Return(errors.New("insert failed"))

	_, _, err = svc.RegisterUser(context.Background(), "user@example.com", "Abcdef1!", "", testDevice())
	require.Error(t, err)
}

func TestLoginUser_OK(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	email := "user@example.com"
	pw := "Abcdef1!"
	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Role:         models.RoleCustomer,
		PasswordHash: mustHashPW(t, pw),
		TokenVersion: 1,
	}

	st.EXPECT().UserByEmail(gomock.Any(), email).Return(user, nil)
	st.EXPECT().SaveSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, s *models.Session) error {
			require.Equal(t, user.ID, s.UserID)
			require.Equal(t, "unit-test/1.0", s.UserAgent)
			require.Nil(t, s.RevokedAt)
			return nil
		})

	tp, uid, err := svc.LoginUser(ctx, email, pw, testDevice())
	require.NoError(t, err)
	require.Equal(t, user.ID, uid)
	require.NotEmpty(t, tp.AccessToken)
	require.NotEmpty(t, tp.RefreshToken)
}

func TestLoginUser_InvalidEmail_OrEmptyPassword(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, _, err := svc.LoginUser(context.Background(), "bad", "Abcdef1!", testDevice())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.LoginUser(context.Background(), "user@example.com", "", testDevice())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUser_UserNotFound_OrWrongPassword(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").
		Return(nil, storage.ErrNotFound)

	_, _, err := svc.LoginUser(context.Background(), "user@example.com", "Abcdef1!", testDevice())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	// wrong password
	user := &models.User{ID: uuid.New(), Email: "user@example.com", PasswordHash: mustHashPW(t, "Abcdef1!")}
	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").
		Return(user, nil)

	_, _, err = svc.LoginUser(context.Background(), "user@example.com", "WRONG1!a", testDevice())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUser_StorageErrorOnLookup_Propagated(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").
		Return(nil, errors.New("db problem"))

	_, _, err := svc.LoginUser(context.Background(), "user@example.com", "Abcdef1!", testDevice())
	require.Error(t, err)
}

func TestChangePassword_OK_RevokesOtherSessionsAndBumpsVersion(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	currentSession := uuid.New()
	oldPW := "Abcdef1!"
	newPW := "Ghijkl2@"

	user := &models.User{ID: userID, Email: "u@e.com", PasswordHash: mustHashPW(t, oldPW), TokenVersion: 1}

	st.EXPECT().UserByID(gomock.Any(), userID).Return(user, nil)
	st.EXPECT().UpdatePasswordHash(gomock.Any(), userID, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, hash string, _ time.Time) error {
			// Сохраняется хэш нового пароля, не сам пароль.
			require.NotEqual(t, newPW, hash)
			require.True(t, checkPassword(hash, newPW))
			return nil
		})
	st.EXPECT().BumpTokenVersion(gomock.Any(), userID).Return(int64(2), nil)
	st.EXPECT().RevokeAllSessions(gomock.Any(), userID, currentSession).Return(int64(3), nil)

	require.NoError(t, svc.ChangePassword(ctx, userID, currentSession, oldPW, newPW))
}

func TestChangePassword_WrongCurrentPassword(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	userID := uuid.New()
	user := &models.User{ID: userID, PasswordHash: mustHashPW(t, "Abcdef1!")}

	st.EXPECT().UserByID(gomock.Any(), userID).Return(user, nil)

	err := svc.ChangePassword(context.Background(), userID, uuid.New(), "Wrong1!a", "Ghijkl2@")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePassword_WeakNewPassword_NoStorageCalls(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	err := svc.ChangePassword(context.Background(), uuid.New(), uuid.New(), "Abcdef1!", "weak")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestChangePassword_BumpOrRevokeFailure_Propagated(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	userID := uuid.New()
	currentSession := uuid.New()
	user := &models.User{ID: userID, PasswordHash: mustHashPW(t, "Abcdef1!")}

	// Сбой на bump.
	st.EXPECT().UserByID(gomock.Any(), userID).Return(user, nil)
	st.EXPECT().UpdatePasswordHash(gomock.Any(), userID, gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().BumpTokenVersion(gomock.Any(), userID).Return(int64(0), errors.New("db fail"))

	err := svc.ChangePassword(context.Background(), userID, currentSession, "Abcdef1!", "Ghijkl2@")
	require.Error(t, err)

	// Сбой на массовом отзыве.
	st.EXPECT().UserByID(gomock.Any(), userID).Return(user, nil)
	st.EXPECT().UpdatePasswordHash(gomock.Any(), userID, gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().BumpTokenVersion(gomock.Any(), userID).Return(int64(2), nil)
	st.EXPECT().RevokeAllSessions(gomock.Any(), userID, currentSession).Return(int64(0), errors.New("db fail"))

	err = svc.ChangePassword(context.Background(), userID, currentSession, "Abcdef1!", "Ghijkl2@")
	require.Error(t, err)
}

func TestValidateEmail_Normalization(t *testing.T) {
	t.Parallel()

	got, err := validateEmail("  MiXeD@Example.COM ")
	require.NoError(t, err)
	require.Equal(t, "mixed@example.com", got)

	_, err = validateEmail("")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidEmail)
}
