package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novadesk/novadesk-api/internal/models"
	"github.com/novadesk/novadesk-api/pkg/config"
	appErrors "github.com/novadesk/novadesk-api/pkg/errors"
	"github.com/novadesk/novadesk-api/pkg/security"
)

// BlacklistReasonRevocation tags blacklist entries created by explicit
// access-token revocation.
const BlacklistReasonRevocation = "access_token_revocation"

type authUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	RecordLoginFailure(ctx context.Context, id string, attempts int, lockoutUntil *time.Time) error
	RecordLoginSuccess(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

type authTokenRepository interface {
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time, replacedBy *string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	CreateResetToken(ctx context.Context, token *models.PasswordResetToken) error
	FindResetToken(ctx context.Context, token string) (*models.PasswordResetToken, error)
	MarkResetTokenUsed(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) error
}

type accessTokenBlacklist interface {
	Add(ctx context.Context, entry models.BlacklistedAccessToken) error
	Contains(ctx context.Context, tokenHash string) (bool, error)
	RemoveAllForUser(ctx context.Context, userID string) error
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type securityNotifier interface {
	SendWelcome(email, username string)
	SendPasswordReset(email, username, token string)
	SendPasswordChanged(email, username string)
	SendProfileUpdated(email, username string)
	SendAccountLocked(email, username string, until *time.Time)
	SendAccountDeleted(email, username string)
}

// AuthService orchestrates login, registration, token rotation, revocation
// and the password lifecycle. It is the only component that makes
// session-security decisions.
type AuthService struct {
	users     authUserRepository
	tokens    authTokenRepository
	blacklist accessTokenBlacklist
	audit     auditRecorder
	notifier  securityNotifier
	codec     *TokenService
	hasher    *security.PasswordHasher
	policy    *PasswordPolicy
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService

	lockoutThreshold int
	lockoutDuration  time.Duration
	refreshTTL       time.Duration
	resetTTL         time.Duration
}

// AuthServiceDeps bundles the collaborators for NewAuthService.
type AuthServiceDeps struct {
	Users     authUserRepository
	Tokens    authTokenRepository
	Blacklist accessTokenBlacklist
	Audit     auditRecorder
	Notifier  securityNotifier
	Codec     *TokenService
	Hasher    *security.PasswordHasher
	Policy    *PasswordPolicy
	Validator *validator.Validate
	Logger    *zap.Logger
	Metrics   *MetricsService
}

// NewAuthService constructs the authentication core.
func NewAuthService(deps AuthServiceDeps, security config.SecurityConfig, jwt config.JWTConfig) *AuthService {
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Policy == nil {
		deps.Policy = NewPasswordPolicy()
	}
	threshold := security.LockoutThreshold
	if threshold <= 0 {
		threshold = 5
	}
	lockout := security.LockoutDuration
	if lockout <= 0 {
		lockout = 15 * time.Minute
	}
	resetTTL := security.ResetTokenTTL
	if resetTTL <= 0 {
		resetTTL = time.Hour
	}

	return &AuthService{
		users:            deps.Users,
		tokens:           deps.Tokens,
		blacklist:        deps.Blacklist,
		audit:            deps.Audit,
		notifier:         deps.Notifier,
		codec:            deps.Codec,
		hasher:           deps.Hasher,
		policy:           deps.Policy,
		validator:        deps.Validator,
		logger:           deps.Logger,
		metrics:          deps.Metrics,
		lockoutThreshold: threshold,
		lockoutDuration:  lockout,
		refreshTTL:       jwt.RefreshTokenTTL,
		resetTTL:         resetTTL,
	}
}

// Login authenticates a user and returns issued tokens. Checks run in a
// fixed order and short-circuit at the first failure: existence, active
// flag, lockout, password. Unknown usernames and wrong passwords produce
// the identical error so callers cannot enumerate accounts.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.countLogin(false)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid username or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !user.Active {
		s.countLogin(false)
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is deactivated")
	}

	now := time.Now().UTC()
	if user.IsLockedOut(now) {
		s.countLogin(false)
		s.notifier.SendAccountLocked(user.Email, user.Username, user.LockoutUntil)
		msg := fmt.Sprintf("account is locked until %s", user.LockoutUntil.UTC().Format(time.RFC3339))
		return nil, appErrors.Clone(appErrors.ErrAccountLocked, msg)
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		s.countLogin(false)
		s.recordFailedAttempt(ctx, user, req)
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid username or password")
	}

	if err := s.users.RecordLoginSuccess(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to record login success", zap.String("user_id", user.ID), zap.Error(err))
	}

	accessToken, refreshToken, err := s.issueTokenPair(ctx, user, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	s.countLogin(true)
	s.writeAudit(ctx, user.ID, models.AuditActionLogin, req.IP, req.UserAgent, `{"status":"success"}`)

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
		ExpiresIn:    int64(s.codec.AccessTokenTTL().Seconds()),
		IssuedAt:     now,
		User:         userInfo(user),
	}, nil
}

// Register validates the password against the policy, creates the account
// and issues tokens exactly as Login does.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	if eval := s.policy.Evaluate(req.Password); !eval.IsValid {
		return nil, appErrors.Clone(appErrors.ErrPasswordPolicy, strings.Join(eval.Errors, "; "))
	}

	taken, err := s.users.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check username")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrUsernameTaken, "")
	}

	registered, err := s.users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}
	if registered {
		return nil, appErrors.Clone(appErrors.ErrEmailTaken, "")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         models.RoleUser,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.notifier.SendWelcome(user.Email, user.Username)

	accessToken, refreshToken, err := s.issueTokenPair(ctx, user, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	s.writeAudit(ctx, user.ID, models.AuditActionRegister, req.IP, req.UserAgent, `{"status":"created"}`)

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
		ExpiresIn:    int64(s.codec.AccessTokenTTL().Seconds()),
		IssuedAt:     now,
		User:         userInfo(user),
	}, nil
}

// Refresh exchanges a refresh token for a new pair. Rotation is single-use:
// the presented token is revoked before replacements are persisted. A token
// that was already rotated counts as replay and revokes every active
// session for the account.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	stored, err := s.tokens.FindRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is invalid or expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	now := time.Now().UTC()
	if stored.Revoked {
		s.handleReplay(ctx, stored, req)
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is invalid or expired")
	}
	if !now.Before(stored.ExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is invalid or expired")
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "associated user is no longer valid")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "associated user is no longer valid")
	}

	// Revoke-before-insert: a crash between the two writes leaves the old
	// token dead and no replacement, which forces re-authentication rather
	// than leaving two live tokens.
	successorID := uuid.NewString()
	if err := s.tokens.RevokeRefreshToken(ctx, stored.ID, now, &successorID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
	}

	accessToken, newRefresh, err := s.issueTokenPairWithID(ctx, user, successorID, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.CountTokenRefresh()
	}
	s.writeAudit(ctx, user.ID, models.AuditActionTokenRefresh, req.IP, req.UserAgent, `{"refresh":"rotated"}`)

	return &models.RefreshTokenResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefresh.Token,
		ExpiresIn:    int64(s.codec.AccessTokenTTL().Seconds()),
		IssuedAt:     now,
	}, nil
}

// RevokeRefreshToken marks a single refresh token revoked after checking it
// belongs to the calling user.
func (s *AuthService) RevokeRefreshToken(ctx context.Context, userID, refreshToken string) error {
	stored, err := s.tokens.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load refresh token")
	}

	if stored.UserID != userID {
		return appErrors.Clone(appErrors.ErrForbidden, "token does not belong to user")
	}

	if err := s.tokens.RevokeRefreshToken(ctx, stored.ID, time.Now().UTC(), nil); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}

	if s.metrics != nil {
		s.metrics.CountTokenRevocation()
	}
	s.writeAudit(ctx, userID, models.AuditActionTokenRevoke, "", "", `{"scope":"single"}`)
	return nil
}

// RevokeAllSessions revokes every active refresh token for the account.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID string) error {
	revoked, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke sessions")
	}
	if revoked == 0 {
		return nil
	}

	if s.metrics != nil {
		s.metrics.CountTokenRevocation()
	}
	s.writeAudit(ctx, userID, models.AuditActionTokenRevoke, "", "", `{"scope":"all"}`)
	return nil
}

// RevokeAccessToken blacklists an access token until its natural expiry.
// The raw token is never stored, only its digest. Extraction works even for
// tokens that no longer validate, so expired tokens stay blacklist-able.
func (s *AuthService) RevokeAccessToken(ctx context.Context, userID, rawToken string) error {
	expiry := s.codec.ExtractExpiry(rawToken, 0)
	entry := models.BlacklistedAccessToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: security.DigestToken(rawToken),
		ExpiresAt: expiry,
		RevokedAt: time.Now().UTC(),
		Reason:    BlacklistReasonRevocation,
	}
	if err := s.blacklist.Add(ctx, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to blacklist access token")
	}

	if s.metrics != nil {
		s.metrics.CountTokenRevocation()
	}
	return nil
}

// IsAccessTokenRevoked reports whether the raw access token has been
// blacklisted. Store failures deny access rather than letting a possibly
// revoked token through.
func (s *AuthService) IsAccessTokenRevoked(ctx context.Context, rawToken string) (bool, error) {
	present, err := s.blacklist.Contains(ctx, security.DigestToken(rawToken))
	if err != nil {
		return true, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check token blacklist")
	}
	return present, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	return s.codec.ValidateAccessToken(tokenString)
}

// ChangePassword verifies the current password, checks the confirmation and
// the policy, and persists the new hash. Existing sessions are revoked.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if !s.hasher.Verify(req.CurrentPassword, user.PasswordHash) {
		return appErrors.Clone(appErrors.ErrCurrentPassword, "")
	}
	if req.NewPassword != req.ConfirmPassword {
		return appErrors.Clone(appErrors.ErrPasswordMismatch, "")
	}
	if eval := s.policy.Evaluate(req.NewPassword); !eval.IsValid {
		return appErrors.Clone(appErrors.ErrPasswordPolicy, strings.Join(eval.Errors, "; "))
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.users.UpdatePassword(ctx, userID, hash, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	if _, err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke sessions after password change", zap.String("user_id", userID), zap.Error(err))
	}

	s.notifier.SendPasswordChanged(user.Email, user.Username)
	s.writeAudit(ctx, userID, models.AuditActionPasswordChange, "", "", `{"status":"changed"}`)
	return nil
}

// ForgotPassword initiates the reset flow. The response is identical whether
// or not the email is registered; token creation and the email send happen
// only for known accounts, and store failures on that path are swallowed to
// keep the responses indistinguishable.
func (s *AuthService) ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid forgot password payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("failed to look up account for password reset", zap.Error(err))
		}
		return nil
	}

	secret, err := s.codec.NewResetToken()
	if err != nil {
		s.logger.Error("failed to generate reset token", zap.String("user_id", user.ID), zap.Error(err))
		return nil
	}

	token := &models.PasswordResetToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Token:     secret,
		ExpiresAt: time.Now().UTC().Add(s.resetTTL),
		Used:      false,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.tokens.CreateResetToken(ctx, token); err != nil {
		s.logger.Error("failed to persist reset token", zap.String("user_id", user.ID), zap.Error(err))
		return nil
	}

	s.notifier.SendPasswordReset(user.Email, user.Username, secret)
	return nil
}

// ResetPassword consumes a reset token. The token must exist, be unused and
// unexpired; the password update lands before the token is marked used, so
// a crash in between leaves a used-looking password change, never an open
// token with a stale password.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset password payload")
	}

	token, err := s.tokens.FindResetToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrResetTokenInvalid, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reset token")
	}
	if !token.IsUsable(time.Now().UTC()) {
		return appErrors.Clone(appErrors.ErrResetTokenInvalid, "")
	}

	if req.NewPassword != req.ConfirmPassword {
		return appErrors.Clone(appErrors.ErrPasswordMismatch, "")
	}
	if eval := s.policy.Evaluate(req.NewPassword); !eval.IsValid {
		return appErrors.Clone(appErrors.ErrPasswordPolicy, strings.Join(eval.Errors, "; "))
	}

	user, err := s.users.FindByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrResetTokenInvalid, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	if err := s.tokens.MarkResetTokenUsed(ctx, token.ID); err != nil {
		s.logger.Error("failed to mark reset token used", zap.String("token_id", token.ID), zap.Error(err))
	}

	if _, err := s.tokens.RevokeAllForUser(ctx, user.ID); err != nil {
		s.logger.Warn("failed to revoke sessions after password reset", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.notifier.SendPasswordChanged(user.Email, user.Username)
	s.writeAudit(ctx, user.ID, models.AuditActionPasswordReset, "", "", `{"status":"reset"}`)
	return nil
}

// DeleteAccount removes the account and purges its dependent tokens.
func (s *AuthService) DeleteAccount(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := s.tokens.DeleteAllForUser(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge tokens")
	}
	if err := s.blacklist.RemoveAllForUser(ctx, userID); err != nil {
		s.logger.Warn("failed to purge blacklist entries", zap.String("user_id", userID), zap.Error(err))
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}

	s.notifier.SendAccountDeleted(user.Email, user.Username)
	s.writeAudit(ctx, userID, models.AuditActionUserDelete, "", "", `{"status":"deleted"}`)
	return nil
}

func (s *AuthService) issueTokenPair(ctx context.Context, user *models.User, ip, userAgent string) (string, *models.RefreshToken, error) {
	return s.issueTokenPairWithID(ctx, user, uuid.NewString(), ip, userAgent)
}

func (s *AuthService) issueTokenPairWithID(ctx context.Context, user *models.User, tokenID, ip, userAgent string) (string, *models.RefreshToken, error) {
	accessToken, _, err := s.codec.IssueAccessToken(user)
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	secret, err := s.codec.NewRefreshToken()
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	refreshToken := &models.RefreshToken{
		ID:        tokenID,
		UserID:    user.ID,
		Token:     secret,
		ExpiresAt: time.Now().UTC().Add(s.refreshTTL),
		CreatedAt: time.Now().UTC(),
		Revoked:   false,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.tokens.CreateRefreshToken(ctx, refreshToken); err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}

	return accessToken, refreshToken, nil
}

// recordFailedAttempt bumps the failure counter and arms the lockout once
// the threshold is reached. The update is last-write-wins per account row,
// so concurrent attack traffic may under-count; the lockout is a best-effort
// brake, not a hard security boundary.
func (s *AuthService) recordFailedAttempt(ctx context.Context, user *models.User, req models.LoginRequest) {
	attempts := user.FailedLoginAttempts + 1
	var lockoutUntil *time.Time
	if attempts >= s.lockoutThreshold {
		until := time.Now().UTC().Add(s.lockoutDuration)
		lockoutUntil = &until
	}

	if err := s.users.RecordLoginFailure(ctx, user.ID, attempts, lockoutUntil); err != nil {
		s.logger.Warn("failed to persist login failure", zap.String("user_id", user.ID), zap.Error(err))
	}

	if lockoutUntil != nil {
		if s.metrics != nil {
			s.metrics.CountLockout()
		}
		s.writeAudit(ctx, user.ID, models.AuditActionLockout, req.IP, req.UserAgent,
			fmt.Sprintf(`{"locked_until":%q}`, lockoutUntil.Format(time.RFC3339)))
	} else {
		s.writeAudit(ctx, user.ID, models.AuditActionLoginFailed, req.IP, req.UserAgent, `{"status":"bad_password"}`)
	}
}

// handleReplay reacts to reuse of an already-rotated refresh token by
// revoking every active session for the account.
func (s *AuthService) handleReplay(ctx context.Context, stored *models.RefreshToken, req models.RefreshTokenRequest) {
	s.logger.Warn("refresh token replay detected",
		zap.String("user_id", stored.UserID), zap.String("token_id", stored.ID))

	if _, err := s.tokens.RevokeAllForUser(ctx, stored.UserID); err != nil {
		s.logger.Error("failed to revoke sessions after replay", zap.String("user_id", stored.UserID), zap.Error(err))
		return
	}
	s.writeAudit(ctx, stored.UserID, models.AuditActionTokenRevoke, req.IP, req.UserAgent, `{"scope":"all","cause":"replay"}`)
}

func (s *AuthService) writeAudit(ctx context.Context, userID, action, ip, userAgent, details string) {
	if s.audit == nil {
		return
	}
	err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &userID,
		NewValues:  []byte(details),
		IPAddress:  ip,
		UserAgent:  userAgent,
	})
	if err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *AuthService) countLogin(success bool) {
	if s.metrics != nil {
		s.metrics.CountLogin(success)
	}
}

func userInfo(user *models.User) models.UserInfo {
	return models.UserInfo{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		FullName: user.FullName(),
		Role:     user.Role,
	}
}
