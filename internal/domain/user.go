package domain

import (
	"context"
	"time"
)

// User represents the central identity entity of the system.
//
// MFA state follows two invariants kept by the repositories:
// OTPVerified implies OTPEnabled, and !OTPEnabled implies an empty secret.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose the password hash in JSON
	OTPEnabled   bool      `json:"otp_enabled"`
	OTPVerified  bool      `json:"otp_verified"`
	OTPSecret    string    `json:"-"` // base32 TOTP secret
	OTPAuthURL   string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Registration is the validated input for account creation.
type Registration struct {
	Username string
	Email    string
	Password string
}

// AuthResponse defines the payload returned once a user is fully authenticated.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// StepUpChallenge is returned by login when a second factor is still owed.
type StepUpChallenge struct {
	StepUpToken string `json:"step_up_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// LoginResult carries exactly one of Session or Challenge.
type LoginResult struct {
	Session   *AuthResponse
	Challenge *StepUpChallenge
}

// OTPProvisioning is handed to the user once per provision call.
type OTPProvisioning struct {
	SecretBase32    string `json:"secret_base32"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code,omitempty"` // data:image/png;base64,...
}

// UserRepository defines the contract for user data persistence.
// Every method is atomic for a single user record.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, reg Registration, passwordHash string) (*User, error)

	// UpdateOTP stores a fresh secret and sets otp_enabled, leaving otp_verified untouched.
	UpdateOTP(ctx context.Context, id, secret, authURL string) (*User, error)
	// SetOTPVerified marks the factor confirmed only while the stored secret
	// still equals expectedSecret; otherwise it returns ErrOTPStateConflict.
	SetOTPVerified(ctx context.Context, id, expectedSecret string) (*User, error)
	// ClearOTP disables the factor. Clearing an already-clear record succeeds.
	ClearOTP(ctx context.Context, id string) (*User, error)
}

// Security event types recorded in the audit log.
const (
	EventLoginSuccess   = "LOGIN_SUCCESS"
	EventLoginFailed    = "LOGIN_FAILED"
	EventMFARequired    = "MFA_REQUIRED"
	EventMFAFailed      = "MFA_FAILED"
	EventMFASuccess     = "MFA_SUCCESS"
	EventOTPProvisioned = "OTP_PROVISIONED"
	EventOTPConfirmed   = "OTP_CONFIRMED"
	EventOTPDisabled    = "OTP_DISABLED"
	EventTokenRefreshed = "TOKEN_REFRESHED"
	EventUserRegistered = "USER_REGISTERED"
)

// AuditRepository records immutable security events.
type AuditRepository interface {
	// userID may be empty for anonymous failures.
	LogSecurityEvent(ctx context.Context, userID, eventType, ip string, metadata map[string]interface{}) error
}
