package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/FilipeAphrody/sentinel-auth/internal/domain"
	"github.com/FilipeAphrody/sentinel-auth/pkg/security"
)

const (
	DefaultOTPIssuer = "SentinelAuth"
	qrCodeSize       = 256
)

// OTPUsecase manages the per-user second factor: Disabled -> Provisioned -> Enabled.
type OTPUsecase struct {
	userRepo domain.UserRepository
	audit    domain.AuditRepository
	issuer   string
	logger   *slog.Logger
	now      func() time.Time
}

func NewOTPUsecase(u domain.UserRepository, a domain.AuditRepository, issuer string, logger *slog.Logger) *OTPUsecase {
	if issuer == "" {
		issuer = DefaultOTPIssuer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OTPUsecase{
		userRepo: u,
		audit:    a,
		issuer:   issuer,
		logger:   logger,
		now:      time.Now,
	}
}

// Provision generates a new secret and enables the factor, replacing any
// previous secret. It is not idempotent: codes for the old secret stop working.
func (o *OTPUsecase) Provision(ctx context.Context, userID string) (*domain.OTPProvisioning, error) {
	const op = "otp.provision"

	user, err := o.loadUser(ctx, op, userID)
	if err != nil {
		return nil, err
	}

	key, err := security.GenerateTOTPKey(o.issuer, user.Email)
	if err != nil {
		return nil, o.internal(ctx, op, userID, err)
	}

	if _, err := o.userRepo.UpdateOTP(ctx, user.ID, key.Secret(), key.URL()); err != nil {
		return nil, o.repoError(ctx, op, userID, err)
	}

	resp := &domain.OTPProvisioning{
		SecretBase32:    key.Secret(),
		ProvisioningURI: key.URL(),
	}
	if qr, err := security.QRCodeDataURI(key, qrCodeSize); err != nil {
		o.logger.WarnContext(ctx, "qr code rendering failed", "op", op, "user_id", userID, "err", err)
	} else {
		resp.QRCode = qr
	}

	o.record(ctx, user.ID, domain.EventOTPProvisioned, nil)
	return resp, nil
}

// Confirm checks code against the provisioned secret and marks the factor verified.
func (o *OTPUsecase) Confirm(ctx context.Context, userID, code string) error {
	const op = "otp.confirm"

	user, err := o.loadUser(ctx, op, userID)
	if err != nil {
		return err
	}
	if user.OTPSecret == "" {
		return domain.NewValidationError(op, "no otp secret provisioned", nil)
	}

	if err := o.verifyCode(ctx, op, user, code); err != nil {
		o.record(ctx, user.ID, domain.EventMFAFailed, map[string]interface{}{"stage": "confirm"})
		return err
	}

	if _, err := o.userRepo.SetOTPVerified(ctx, user.ID, user.OTPSecret); err != nil {
		if errors.Is(err, domain.ErrOTPStateConflict) {
			return domain.NewMFAError(op, "otp secret changed, confirm with a new code", err)
		}
		return o.repoError(ctx, op, userID, err)
	}

	o.record(ctx, user.ID, domain.EventOTPConfirmed, nil)
	return nil
}

// Check verifies code for an enabled factor without changing any state.
func (o *OTPUsecase) Check(ctx context.Context, userID, code string) error {
	const op = "otp.check"

	user, err := o.loadUser(ctx, op, userID)
	if err != nil {
		return err
	}
	if !user.OTPEnabled {
		return domain.NewValidationError(op, "otp is not enabled", nil)
	}
	if user.OTPSecret == "" {
		return o.internal(ctx, op, userID, errors.New("otp enabled without a stored secret"))
	}
	return o.verifyCode(ctx, op, user, code)
}

// Disable clears the secret and both flags. Disabling twice succeeds.
func (o *OTPUsecase) Disable(ctx context.Context, userID string) error {
	const op = "otp.disable"

	if err := validateUserID(op, userID); err != nil {
		return err
	}
	if _, err := o.userRepo.ClearOTP(ctx, userID); err != nil {
		return o.repoError(ctx, op, userID, err)
	}

	o.record(ctx, userID, domain.EventOTPDisabled, nil)
	return nil
}

func (o *OTPUsecase) verifyCode(ctx context.Context, op string, user *domain.User, code string) error {
	ok, err := security.ValidateTOTPCode(code, user.OTPSecret, o.now())
	switch {
	case errors.Is(err, security.ErrMalformedCode):
		return domain.NewValidationError(op, security.ErrMalformedCode.Error(), nil)
	case err != nil:
		// never leak the TOTP engine's error to the caller
		return o.internal(ctx, op, user.ID, err)
	case !ok:
		return domain.NewMFAError(op, "invalid otp code", nil)
	}
	return nil
}

func (o *OTPUsecase) loadUser(ctx context.Context, op, userID string) (*domain.User, error) {
	if err := validateUserID(op, userID); err != nil {
		return nil, err
	}
	user, err := o.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, o.repoError(ctx, op, userID, err)
	}
	return user, nil
}

func (o *OTPUsecase) repoError(ctx context.Context, op, userID string, err error) error {
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.NewNotFoundError(op, "user not found", err)
	}
	return o.internal(ctx, op, userID, err)
}

func (o *OTPUsecase) internal(ctx context.Context, op, userID string, err error) error {
	o.logger.ErrorContext(ctx, "otp operation failed", "op", op, "user_id", userID, "err", err)
	return domain.NewInternalError(op, err)
}

func (o *OTPUsecase) record(ctx context.Context, userID, event string, meta map[string]interface{}) {
	recordEvent(ctx, o.audit, o.logger, userID, event, meta)
}

func validateUserID(op, userID string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return domain.NewValidationError(op, "user id must be a UUID", err)
	}
	return nil
}

// recordEvent writes an audit entry. Audit failures are logged, never returned.
func recordEvent(ctx context.Context, audit domain.AuditRepository, logger *slog.Logger, userID, event string, meta map[string]interface{}) {
	if audit == nil {
		return
	}
	if err := audit.LogSecurityEvent(ctx, userID, event, domain.ClientIPFromContext(ctx), meta); err != nil {
		logger.WarnContext(ctx, "audit log write failed", "event", event, "user_id", userID, "err", err)
	}
}
