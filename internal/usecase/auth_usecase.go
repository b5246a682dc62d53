package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"

	"github.com/FilipeAphrody/sentinel-auth/internal/domain"
	"github.com/FilipeAphrody/sentinel-auth/pkg/security"
)

const minPasswordLength = 8

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,64}$`)

// AuthUsecase drives login, step-up and refresh:
// Anonymous -> PasswordVerified -> FullyAuthenticated.
// It keeps no per-request state; every call is rebuilt from its inputs and the store.
type AuthUsecase struct {
	userRepo     domain.UserRepository
	audit        domain.AuditRepository
	tokens       *security.TokenService
	otp          *OTPUsecase
	credentials  *CredentialVerifier
	logger       *slog.Logger
	hashPassword func(string) (string, error)
}

func NewAuthUsecase(u domain.UserRepository, a domain.AuditRepository, tokens *security.TokenService, otp *OTPUsecase, logger *slog.Logger) *AuthUsecase {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthUsecase{
		userRepo:     u,
		audit:        a,
		tokens:       tokens,
		otp:          otp,
		credentials:  NewCredentialVerifier(),
		logger:       logger,
		hashPassword: security.HashPassword,
	}
}

// Register validates the input, hashes the password and stores a user with MFA disabled.
func (u *AuthUsecase) Register(ctx context.Context, reg domain.Registration) (*domain.User, error) {
	const op = "auth.register"

	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.ToLower(strings.TrimSpace(reg.Email))

	if !usernamePattern.MatchString(reg.Username) {
		return nil, domain.NewValidationError(op, "username must be 3-64 characters of letters, digits, '.', '_' or '-'", nil)
	}
	if addr, err := mail.ParseAddress(reg.Email); err != nil || addr.Address != reg.Email {
		return nil, domain.NewValidationError(op, "invalid email address", err)
	}
	if len(reg.Password) < minPasswordLength {
		return nil, domain.NewValidationError(op, "password must be at least 8 characters", nil)
	}

	hash, err := u.hashPassword(reg.Password)
	if err != nil {
		return nil, u.internal(ctx, op, "", err)
	}

	user, err := u.userRepo.Create(ctx, reg, hash)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateUser) {
			return nil, domain.NewValidationError(op, "username or email already registered", err)
		}
		return nil, u.internal(ctx, op, "", err)
	}

	u.record(ctx, user.ID, domain.EventUserRegistered, nil)
	return user, nil
}

// Login verifies the password. Users without a second factor get a session
// straight away; users with OTP enabled only get a step-up token.
//
// An unknown identifier and a wrong password produce the same error.
func (u *AuthUsecase) Login(ctx context.Context, identifier, password string) (*domain.LoginResult, error) {
	const op = "auth.login"

	user, err := u.lookupByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			u.credentials.Burn(password)
			u.record(ctx, "", domain.EventLoginFailed, map[string]interface{}{"reason": "unknown_identifier"})
			return nil, domain.NewAuthenticationError(op, msgInvalidCredentials, err)
		}
		return nil, u.internal(ctx, op, "", err)
	}

	if err := u.credentials.Verify(op, password, user.PasswordHash); err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			u.logger.ErrorContext(ctx, "password verification failed", "op", op, "user_id", user.ID, "err", err)
			return nil, err
		}
		u.record(ctx, user.ID, domain.EventLoginFailed, map[string]interface{}{"reason": "bad_password"})
		return nil, err
	}

	if user.OTPEnabled {
		stepUp, err := u.tokens.Issue(security.StepUpToken, user.ID)
		if err != nil {
			return nil, u.internal(ctx, op, user.ID, err)
		}
		u.record(ctx, user.ID, domain.EventMFARequired, nil)
		return &domain.LoginResult{Challenge: &domain.StepUpChallenge{
			StepUpToken: stepUp,
			ExpiresIn:   int64(security.StepUpToken.TTL().Seconds()),
		}}, nil
	}

	// No enrolled factor is treated as equivalent to a completed step-up,
	// so the access token carries amr={pwd,mfa}.
	session, err := u.issueSession(ctx, op, user.ID)
	if err != nil {
		return nil, err
	}
	u.record(ctx, user.ID, domain.EventLoginSuccess, nil)
	return &domain.LoginResult{Session: session}, nil
}

// StepUp exchanges a step-up token plus a valid OTP code for a session.
// The step-up token is not revoked; it simply expires.
func (u *AuthUsecase) StepUp(ctx context.Context, stepUpToken, code string) (*domain.AuthResponse, error) {
	const op = "auth.step_up"

	claims, err := u.tokens.Validate(security.StepUpToken, stepUpToken)
	if err != nil {
		return nil, u.tokenError(ctx, op, err)
	}

	if err := u.otp.Check(ctx, claims.Subject, code); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewAuthenticationError(op, "invalid token", err)
		}
		if errors.Is(err, domain.ErrMFA) {
			u.record(ctx, claims.Subject, domain.EventMFAFailed, map[string]interface{}{"stage": "step_up"})
		}
		return nil, err
	}

	session, err := u.issueSession(ctx, op, claims.Subject)
	if err != nil {
		return nil, err
	}
	u.record(ctx, claims.Subject, domain.EventMFASuccess, nil)
	return session, nil
}

// Refresh exchanges a refresh token for a new token pair.
func (u *AuthUsecase) Refresh(ctx context.Context, refreshToken string) (*domain.AuthResponse, error) {
	const op = "auth.refresh"

	claims, err := u.tokens.Validate(security.RefreshToken, refreshToken)
	if err != nil {
		return nil, u.tokenError(ctx, op, err)
	}

	if _, err := u.userRepo.GetByID(ctx, claims.Subject); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.NewAuthenticationError(op, "invalid token", err)
		}
		return nil, u.internal(ctx, op, claims.Subject, err)
	}

	session, err := u.issueSession(ctx, op, claims.Subject)
	if err != nil {
		return nil, err
	}
	u.record(ctx, claims.Subject, domain.EventTokenRefreshed, nil)
	return session, nil
}

// Authenticate validates an access token for protected routes.
func (u *AuthUsecase) Authenticate(ctx context.Context, accessToken string) (*security.Claims, error) {
	claims, err := u.tokens.Validate(security.AccessToken, accessToken)
	if err != nil {
		return nil, u.tokenError(ctx, "auth.authenticate", err)
	}
	return claims, nil
}

// CurrentUser loads the record behind an authenticated subject.
func (u *AuthUsecase) CurrentUser(ctx context.Context, userID string) (*domain.User, error) {
	const op = "auth.current_user"

	if err := validateUserID(op, userID); err != nil {
		return nil, err
	}
	user, err := u.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.NewNotFoundError(op, "user not found", err)
		}
		return nil, u.internal(ctx, op, userID, err)
	}
	return user, nil
}

func (u *AuthUsecase) ProvisionOTP(ctx context.Context, userID string) (*domain.OTPProvisioning, error) {
	return u.otp.Provision(ctx, userID)
}

func (u *AuthUsecase) ConfirmOTP(ctx context.Context, userID, code string) error {
	return u.otp.Confirm(ctx, userID, code)
}

func (u *AuthUsecase) DisableOTP(ctx context.Context, userID string) error {
	return u.otp.Disable(ctx, userID)
}

func (u *AuthUsecase) lookupByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, domain.ErrUserNotFound
	}
	if strings.Contains(identifier, "@") {
		return u.userRepo.GetByEmail(ctx, strings.ToLower(identifier))
	}
	return u.userRepo.GetByUsername(ctx, identifier)
}

// issueSession creates the access and refresh tokens. A signing failure
// aborts issuance entirely.
func (u *AuthUsecase) issueSession(ctx context.Context, op, userID string) (*domain.AuthResponse, error) {
	accessToken, err := u.tokens.Issue(security.AccessToken, userID)
	if err != nil {
		return nil, u.internal(ctx, op, userID, err)
	}
	refreshToken, err := u.tokens.Issue(security.RefreshToken, userID)
	if err != nil {
		return nil, u.internal(ctx, op, userID, err)
	}
	return &domain.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(security.AccessToken.TTL().Seconds()),
	}, nil
}

// tokenError maps validator failures: amr violations are MFA errors,
// everything else (signature, expiry, audience) is an authentication error.
func (u *AuthUsecase) tokenError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, security.ErrTokenAMR):
		u.logger.WarnContext(ctx, "token amr rejected", "op", op, "err", err)
		return domain.NewMFAError(op, "token does not carry the required authentication methods", err)
	case errors.Is(err, security.ErrUnknownTokenKind):
		return u.internal(ctx, op, "", err)
	default:
		u.logger.WarnContext(ctx, "token rejected", "op", op, "err", err)
		return domain.NewAuthenticationError(op, "invalid or expired token", err)
	}
}

func (u *AuthUsecase) internal(ctx context.Context, op, userID string, err error) error {
	u.logger.ErrorContext(ctx, "auth operation failed", "op", op, "user_id", userID, "err", err)
	return domain.NewInternalError(op, err)
}

func (u *AuthUsecase) record(ctx context.Context, userID, event string, meta map[string]interface{}) {
	recordEvent(ctx, u.audit, u.logger, userID, event, meta)
}
