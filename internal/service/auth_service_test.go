package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novadesk/novadesk-api/internal/models"
	"github.com/novadesk/novadesk-api/pkg/config"
	appErrors "github.com/novadesk/novadesk-api/pkg/errors"
	"github.com/novadesk/novadesk-api/pkg/security"
)

type mockUserRepo struct {
	users map[string]*models.User

	lastFailureAttempts int
	lastFailureLockout  *time.Time
	successRecorded     bool
	updatedHash         string
	deletedID           string
}

func newMockUserRepo(users ...*models.User) *mockUserRepo {
	m := &mockUserRepo{users: map[string]*models.User{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := m.FindByUsername(ctx, username)
	return err == nil, nil
}

func (m *mockUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := m.FindByEmail(ctx, email)
	return err == nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepo) RecordLoginFailure(ctx context.Context, id string, attempts int, lockoutUntil *time.Time) error {
	m.lastFailureAttempts = attempts
	m.lastFailureLockout = lockoutUntil
	if u, ok := m.users[id]; ok {
		u.FailedLoginAttempts = attempts
		u.LockoutUntil = lockoutUntil
	}
	return nil
}

func (m *mockUserRepo) RecordLoginSuccess(ctx context.Context, id string, ts time.Time) error {
	m.successRecorded = true
	if u, ok := m.users[id]; ok {
		u.FailedLoginAttempts = 0
		u.LockoutUntil = nil
		u.LastLoginAt = &ts
	}
	return nil
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	m.updatedHash = passwordHash
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	m.deletedID = id
	delete(m.users, id)
	return nil
}

type mockTokenRepo struct {
	refresh map[string]*models.RefreshToken
	reset   map[string]*models.PasswordResetToken

	revokeAllCalls int
	resetCreateErr error
	deletedUserID  string
}

func newMockTokenRepo() *mockTokenRepo {
	return &mockTokenRepo{
		refresh: map[string]*models.RefreshToken{},
		reset:   map[string]*models.PasswordResetToken{},
	}
}

func (m *mockTokenRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	m.refresh[token.Token] = token
	return nil
}

func (m *mockTokenRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if t, ok := m.refresh[token]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTokenRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time, replacedBy *string) error {
	for _, t := range m.refresh {
		if t.ID == id {
			t.Revoked = true
			t.RevokedAt = &revokedAt
			t.ReplacedBy = replacedBy
		}
	}
	return nil
}

func (m *mockTokenRepo) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	m.revokeAllCalls++
	var n int64
	for _, t := range m.refresh {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			n++
		}
	}
	return n, nil
}

func (m *mockTokenRepo) CreateResetToken(ctx context.Context, token *models.PasswordResetToken) error {
	if m.resetCreateErr != nil {
		return m.resetCreateErr
	}
	m.reset[token.Token] = token
	return nil
}

func (m *mockTokenRepo) FindResetToken(ctx context.Context, token string) (*models.PasswordResetToken, error) {
	if t, ok := m.reset[token]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTokenRepo) MarkResetTokenUsed(ctx context.Context, id string) error {
	for _, t := range m.reset {
		if t.ID == id {
			t.Used = true
		}
	}
	return nil
}

func (m *mockTokenRepo) DeleteAllForUser(ctx context.Context, userID string) error {
	m.deletedUserID = userID
	for k, t := range m.refresh {
		if t.UserID == userID {
			delete(m.refresh, k)
		}
	}
	for k, t := range m.reset {
		if t.UserID == userID {
			delete(m.reset, k)
		}
	}
	return nil
}

type mockBlacklist struct {
	entries     map[string]models.BlacklistedAccessToken
	containsErr error
	removedUser string
}

func newMockBlacklist() *mockBlacklist {
	return &mockBlacklist{entries: map[string]models.BlacklistedAccessToken{}}
}

func (m *mockBlacklist) Add(ctx context.Context, entry models.BlacklistedAccessToken) error {
	m.entries[entry.TokenHash] = entry
	return nil
}

func (m *mockBlacklist) Contains(ctx context.Context, tokenHash string) (bool, error) {
	if m.containsErr != nil {
		return false, m.containsErr
	}
	_, ok := m.entries[tokenHash]
	return ok, nil
}

func (m *mockBlacklist) RemoveAllForUser(ctx context.Context, userID string) error {
	m.removedUser = userID
	for k, e := range m.entries {
		if e.UserID == userID {
			delete(m.entries, k)
		}
	}
	return nil
}

type mockAudit struct {
	entries []*models.AuditLog
}

func (m *mockAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.entries = append(m.entries, log)
	return nil
}

func (m *mockAudit) actions() []string {
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

type spyNotifier struct {
	welcomes        int
	resets          int
	resetTokens     []string
	passwordChanges int
	profileUpdates  int
	lockNotices     int
	deletions       int
}

func (s *spyNotifier) SendWelcome(email, username string)            { s.welcomes++ }
func (s *spyNotifier) SendPasswordChanged(email, username string)    { s.passwordChanges++ }
func (s *spyNotifier) SendProfileUpdated(email, username string)     { s.profileUpdates++ }
func (s *spyNotifier) SendAccountDeleted(email, username string)     { s.deletions++ }
func (s *spyNotifier) SendPasswordReset(email, username, token string) {
	s.resets++
	s.resetTokens = append(s.resetTokens, token)
}
func (s *spyNotifier) SendAccountLocked(email, username string, until *time.Time) {
	s.lockNotices++
}

const testPassword = "Tr4vel#Window9"

type authFixture struct {
	svc       *AuthService
	users     *mockUserRepo
	tokens    *mockTokenRepo
	blacklist *mockBlacklist
	audit     *mockAudit
	notifier  *spyNotifier
	hasher    *security.PasswordHasher
}

func newAuthFixture(t *testing.T, users ...*models.User) *authFixture {
	t.Helper()

	f := &authFixture{
		users:     newMockUserRepo(users...),
		tokens:    newMockTokenRepo(),
		blacklist: newMockBlacklist(),
		audit:     &mockAudit{},
		notifier:  &spyNotifier{},
		hasher:    security.NewPasswordHasher(4),
	}

	jwtCfg := config.JWTConfig{
		Secret:          "unit-test-secret",
		Issuer:          "novadesk-test",
		Audience:        []string{"novadesk-clients"},
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	}
	secCfg := config.SecurityConfig{
		BcryptCost:       4,
		LockoutThreshold: 5,
		LockoutDuration:  15 * time.Minute,
		ResetTokenTTL:    time.Hour,
	}

	f.svc = NewAuthService(AuthServiceDeps{
		Users:     f.users,
		Tokens:    f.tokens,
		Blacklist: f.blacklist,
		Audit:     f.audit,
		Notifier:  f.notifier,
		Codec:     NewTokenService(jwtCfg),
		Hasher:    f.hasher,
	}, secCfg, jwtCfg)

	return f
}

func (f *authFixture) seedUser(t *testing.T) *models.User {
	t.Helper()
	hash, err := f.hasher.Hash(testPassword)
	require.NoError(t, err)
	user := &models.User{
		ID:           "u1",
		Username:     "msantos",
		Email:        "msantos@example.com",
		PasswordHash: hash,
		FirstName:    "Mara",
		LastName:     "Santos",
		Role:         models.RoleUser,
		Active:       true,
	}
	f.users.users[user.ID] = user
	return user
}

func TestLoginSuccess(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t)

	res, err := f.svc.Login(context.Background(), models.LoginRequest{Username: "msantos", Password: testPassword})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "msantos", res.User.Username)
	assert.True(t, f.users.successRecorded)

	claims, err := f.svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleUser, claims.Role)
}

func TestLoginUnknownUserAndWrongPasswordLookAlike(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t)

	_, errUnknown := f.svc.Login(context.Background(), models.LoginRequest{Username: "nobody", Password: testPassword})
	_, errWrongPw := f.svc.Login(context.Background(), models.LoginRequest{Username: "msantos", Password: "not-the-password"})

	require.Error(t, errUnknown)
	require.Error(t, errWrongPw)
	assert.Equal(t, appErrors.FromError(errUnknown).Code, appErrors.FromError(errWrongPw).Code)
	assert.Equal(t, appErrors.FromError(errUnknown).Message, appErrors.FromError(errWrongPw).Message)
}

func TestLoginInactiveAccount(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t)
	user.Active = false

	_, err := f.svc.Login(context.Background(), models.LoginRequest{Username: "msantos", Password: testPassword})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestLoginLockoutArmsAtThreshold(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t)
	user.FailedLoginAttempts = 4

	// Fifth failure arms the lockout.
	_, err := f.svc.Login(context.Background(), models.LoginRequest{Username: "msantos", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, 5, f.users.lastFailureAttempts)
	require.NotNil(t, f.users.lastFailureLockout)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), *f.users.lastFailureLockout, 5*time.Second)
	assert.Contains(t, f.audit.actions(), models.AuditActionLockout)

	// Even the correct password is rejected while locked.
	_, err = f.svc.Login(context.Background(), models.LoginRequest{Username: "msantos", Password: testPassword})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAccountLocked.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 1, f.notifier.lockNotices)
}

func TestLoginExpiredLockoutAdmitsUser(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t)
	past := time.Now().UTC().Add(-time.Minute)
	user.FailedLoginAttempts = 5
	user.LockoutUntil = &past

	res, err := f.svc.Login(context.Background(), models.LoginRequest{Username: "msantos", Password: testPassword})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Zero(t, user.FailedLoginAttempts)
	assert.Nil(t, user.LockoutUntil)
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Register(context.Background(), models.RegisterRequest{
		Username:  "newuser",
		Email:     "newuser@example.com",
		Password:  "password1",
		FirstName: "New",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPasswordPolicy.Code, appErrors.FromError(err).Code)
}

func TestRegisterRejectsTakenUsername(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t)

	_, err := f.svc.Register(context.Background(), models.RegisterRequest{
		Username:  "msantos",
		Email:     "other@example.com",
		Password:  testPassword,
		FirstName: "Other",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUsernameTaken.Code, appErrors.FromError(err).Code)
}

func TestRegisterCreatesAccountAndSendsWelcome(t *testing.T) {
	f := newAuthFixture(t)

	res, err := f.svc.Register(context.Background(), models.RegisterRequest{
		Username:  "newuser",
		Email:     "newuser@example.com",
		Password:  testPassword,
		FirstName: "New",
		LastName:  "User",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, models.RoleUser, res.User.Role)
	assert.Equal(t, 1, f.notifier.welcomes)

	stored, err := f.users.FindByUsername(context.Background(), "newuser")
	require.NoError(t, err)
	assert.NotEqual(t, testPassword, stored.PasswordHash)
	assert.True(t, f.hasher.Verify(testPassword, stored.PasswordHash))
}

func TestRefreshRotatesSingleUse(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t)

	login, err := f.svc.Login(context.Background(), models.LoginRequest{Username: "msantos", Password: testPassword})
	require.NoError(t, err)

	rotated, err := f.svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	old := f.tokens.refresh[login.RefreshToken]
	require.NotNil(t, old)
	assert.True(t, old.Revoked)
	require.NotNil(t, old.ReplacedBy)
	assert.Equal(t, f.tokens.refresh[rotated.RefreshToken].ID, *old.ReplacedBy)
}

func TestRefreshReplayRevokesAllSessions(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t)

	login, err := f.svc.Login(context.Background(), models.LoginRequest{Username: "msantos", Password: testPassword})
	require.NoError(t, err)

	rotated, err := f.svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)

	// Replaying the consumed token must fail and kill the live successor too.
	_, err = f.svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
	assert.True(t, f.tokens.refresh[rotated.RefreshToken].Revoked)
}

func TestRefreshExpiredTokenRejected(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t)

	expired := &models.RefreshToken{
		ID:        "rt-old",
		UserID:    user.ID,
		Token:     "stale-token",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, f.tokens.CreateRefreshToken(context.Background(), expired))

	_, err := f.svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: "stale-token"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestRevokeRefreshTokenChecksOwnership(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t)

	token := &models.RefreshToken{ID: "rt1", UserID: user.ID, Token: "owned", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, f.tokens.CreateRefreshToken(context.Background(), token))

	err := f.svc.RevokeRefreshToken(context.Background(), "someone-else", "owned")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.False(t, token.Revoked)

	require.NoError(t, f.svc.RevokeRefreshToken(context.Background(), user.ID, "owned"))
	assert.True(t, token.Revoked)
}

func TestRevokeAccessTokenBlacklistsDigestOnly(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t)

	login, err := f.svc.Login(context.Background(), models.LoginRequest{Username: "msantos", Password: testPassword})
	require.NoError(t, err)

	require.NoError(t, f.svc.RevokeAccessToken(context.Background(), "u1", login.AccessToken))

	revoked, err := f.svc.IsAccessTokenRevoked(context.Background(), login.AccessToken)
	require.NoError(t, err)
	assert.True(t, revoked)

	// Only the digest is stored.
	for hash := range f.blacklist.entries {
		assert.NotEqual(t, login.AccessToken, hash)
		assert.Len(t, hash, 64)
	}
}

func TestIsAccessTokenRevokedFailsClosed(t *testing.T) {
	f := newAuthFixture(t)
	f.blacklist.containsErr = assert.AnError

	revoked, err := f.svc.IsAccessTokenRevoked(context.Background(), "any-token")
	require.Error(t, err)
	assert.True(t, revoked)
}

func TestChangePasswordFlow(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t)

	token := &models.RefreshToken{ID: "rt1", UserID: user.ID, Token: "live", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, f.tokens.CreateRefreshToken(context.Background(), token))

	err := f.svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{
		CurrentPassword: "wrong-current",
		NewPassword:     "An0ther#Fine9pw",
		ConfirmPassword: "An0ther#Fine9pw",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCurrentPassword.Code, appErrors.FromError(err).Code)

	err = f.svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{
		CurrentPassword: testPassword,
		NewPassword:     "An0ther#Fine9pw",
		ConfirmPassword: "different",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPasswordMismatch.Code, appErrors.FromError(err).Code)

	err = f.svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{
		CurrentPassword: testPassword,
		NewPassword:     "An0ther#Fine9pw",
		ConfirmPassword: "An0ther#Fine9pw",
	})
	require.NoError(t, err)
	assert.True(t, f.hasher.Verify("An0ther#Fine9pw", user.PasswordHash))
	assert.True(t, token.Revoked)
	assert.Equal(t, 1, f.notifier.passwordChanges)
}

func TestForgotPasswordIndistinguishableResponses(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t)

	// Unknown email: no error, no token, no mail.
	require.NoError(t, f.svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "ghost@example.com"}))
	assert.Empty(t, f.tokens.reset)
	assert.Zero(t, f.notifier.resets)

	// Known email: token persisted and mailed.
	require.NoError(t, f.svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "msantos@example.com"}))
	assert.Len(t, f.tokens.reset, 1)
	assert.Equal(t, 1, f.notifier.resets)

	// Store failure on the known path still reports success.
	f.tokens.resetCreateErr = assert.AnError
	require.NoError(t, f.svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "msantos@example.com"}))
	assert.Equal(t, 1, f.notifier.resets)
}

func TestResetPasswordConsumesToken(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t)

	require.NoError(t, f.svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: user.Email}))
	require.Len(t, f.notifier.resetTokens, 1)
	secret := f.notifier.resetTokens[0]

	err := f.svc.ResetPassword(context.Background(), models.ResetPasswordRequest{
		Token:           secret,
		NewPassword:     "An0ther#Fine9pw",
		ConfirmPassword: "An0ther#Fine9pw",
	})
	require.NoError(t, err)
	assert.True(t, f.hasher.Verify("An0ther#Fine9pw", user.PasswordHash))

	// Second use must fail: the token burned on first redemption.
	err = f.svc.ResetPassword(context.Background(), models.ResetPasswordRequest{
		Token:           secret,
		NewPassword:     "Yet#An0therPw42",
		ConfirmPassword: "Yet#An0therPw42",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrResetTokenInvalid.Code, appErrors.FromError(err).Code)
}

func TestResetPasswordExpiredTokenRejected(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t)

	stale := &models.PasswordResetToken{
		ID:        "pr1",
		UserID:    user.ID,
		Token:     "stale-secret",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, f.tokens.CreateResetToken(context.Background(), stale))

	err := f.svc.ResetPassword(context.Background(), models.ResetPasswordRequest{
		Token:           "stale-secret",
		NewPassword:     "An0ther#Fine9pw",
		ConfirmPassword: "An0ther#Fine9pw",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrResetTokenInvalid.Code, appErrors.FromError(err).Code)
}

func TestDeleteAccountPurgesTokensAndBlacklist(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t)

	login, err := f.svc.Login(context.Background(), models.LoginRequest{Username: "msantos", Password: testPassword})
	require.NoError(t, err)
	require.NoError(t, f.svc.RevokeAccessToken(context.Background(), user.ID, login.AccessToken))

	require.NoError(t, f.svc.DeleteAccount(context.Background(), user.ID))
	assert.Equal(t, user.ID, f.users.deletedID)
	assert.Equal(t, user.ID, f.tokens.deletedUserID)
	assert.Equal(t, user.ID, f.blacklist.removedUser)
	assert.Empty(t, f.tokens.refresh)
	assert.Empty(t, f.blacklist.entries)
	assert.Equal(t, 1, f.notifier.deletions)
}
