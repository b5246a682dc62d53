package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/FilipeAphrody/sentinel-auth/internal/domain"
)

// uniqueViolation is the SQLSTATE Postgres reports for a UNIQUE constraint.
const uniqueViolation = "23505"

const userColumns = `id, username, email, password_hash, otp_enabled, otp_verified,
		COALESCE(otp_base32, ''), COALESCE(otp_auth_url, ''), created_at, updated_at`

// PostgresUserRepo implements domain.UserRepository and domain.AuditRepository using PostgreSQL.
type PostgresUserRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresUserRepo creates a new repository instance.
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.OTPEnabled,
		&user.OTPVerified,
		&user.OTPSecret,
		&user.OTPAuthURL,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return user, nil
}

// GetByUsername retrieves a user by their username.
func (r *PostgresUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

// GetByEmail retrieves a user by their email address.
func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetByID retrieves a user by their UUID.
func (r *PostgresUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// Create inserts a new user with MFA disabled.
func (r *PostgresUserRepo) Create(ctx context.Context, reg domain.Registration, passwordHash string) (*domain.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash, otp_enabled, otp_verified, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, FALSE, $4, $4)
		RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRowContext(ctx, query, reg.Username, reg.Email, passwordHash, r.now().UTC()))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, domain.ErrDuplicateUser
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// UpdateOTP stores a new secret and enables the factor in one statement.
// otp_verified keeps its current value.
func (r *PostgresUserRepo) UpdateOTP(ctx context.Context, id, secret, authURL string) (*domain.User, error) {
	query := `
		UPDATE users
		SET otp_enabled = TRUE, otp_base32 = $2, otp_auth_url = $3, updated_at = $4
		WHERE id = $1
		RETURNING ` + userColumns

	return scanUser(r.db.QueryRowContext(ctx, query, id, secret, authURL, r.now().UTC()))
}

// SetOTPVerified confirms the factor only if the secret that was checked is still the stored one.
func (r *PostgresUserRepo) SetOTPVerified(ctx context.Context, id, expectedSecret string) (*domain.User, error) {
	query := `
		UPDATE users
		SET otp_verified = TRUE, updated_at = $3
		WHERE id = $1 AND otp_enabled AND otp_base32 = $2
		RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id, expectedSecret, r.now().UTC()))
	if !errors.Is(err, domain.ErrUserNotFound) {
		return user, err
	}

	// No row matched: either the user is gone or the OTP state moved underneath us.
	if _, lookupErr := r.GetByID(ctx, id); lookupErr != nil {
		return nil, lookupErr
	}
	return nil, domain.ErrOTPStateConflict
}

// ClearOTP disables the factor. Running it on a disabled account is a no-op.
func (r *PostgresUserRepo) ClearOTP(ctx context.Context, id string) (*domain.User, error) {
	query := `
		UPDATE users
		SET otp_enabled = FALSE, otp_verified = FALSE, otp_base32 = NULL, otp_auth_url = NULL, updated_at = $2
		WHERE id = $1
		RETURNING ` + userColumns

	return scanUser(r.db.QueryRowContext(ctx, query, id, r.now().UTC()))
}

// LogSecurityEvent inserts an immutable record into the audit_logs table.
func (r *PostgresUserRepo) LogSecurityEvent(ctx context.Context, userID, eventType, ip string, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil || metadata == nil {
		metaJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (user_id, event_type, ip_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	// Handle case where userID is empty (e.g. anonymous failed login)
	// The schema allows user_id to be NULL.
	var uid sql.NullString
	if userID != "" {
		uid.String = userID
		uid.Valid = true
	}

	_, err = r.db.ExecContext(ctx, query, uid, eventType, ip, metaJSON, r.now().UTC())
	return err
}
