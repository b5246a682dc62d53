package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FilipeAphrody/sentinel-auth/internal/domain"
)

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

var userRowColumns = []string{
	"id", "username", "email", "password_hash", "otp_enabled", "otp_verified",
	"otp_base32", "otp_auth_url", "created_at", "updated_at",
}

func newRepoWithMock(t *testing.T) (*PostgresUserRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	repo := NewPostgresUserRepo(db)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func userRow(enabled, verified bool, secret string) *sqlmock.Rows {
	return sqlmock.NewRows(userRowColumns).AddRow(
		"6f1c1f7e-8d5e-4f4e-9a55-0c2b1d1a2b3c", "alice", "alice@example.com", "$argon2id$hash",
		enabled, verified, secret, "", fixedNow, fixedNow,
	)
}

const uid = "6f1c1f7e-8d5e-4f4e-9a55-0c2b1d1a2b3c"

func TestGetByUsername_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*username,.*FROM\s+users\s+WHERE\s+username\s*=\s*\$1$`).
		WithArgs("alice").
		WillReturnRows(userRow(false, false, ""))

	u, err := repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, uid, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.False(t, u.OTPEnabled)
}

func TestGetByEmail_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)FROM\s+users\s+WHERE\s+email\s*=\s*\$1`).
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestGetByID_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs(uid).
		WillReturnError(errors.New("db down"))

	_, err := repo.GetByID(context.Background(), uid)
	require.Error(t, err)
	assert.Regexp(t, regexp.MustCompile(`database error: .*db down`), err.Error())
	assert.NotErrorIs(t, err, domain.ErrUserNotFound)
}

func TestCreate_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)^\s*INSERT\s+INTO\s+users\s*\(username,\s*email,\s*password_hash,.*RETURNING\s+id`).
		WithArgs("alice", "alice@example.com", "$argon2id$hash", fixedNow).
		WillReturnRows(userRow(false, false, ""))

	u, err := repo.Create(context.Background(), domain.Registration{Username: "alice", Email: "alice@example.com"}, "$argon2id$hash")
	require.NoError(t, err)
	assert.Equal(t, uid, u.ID)
}

func TestCreate_Duplicate(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)INSERT\s+INTO\s+users`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := repo.Create(context.Background(), domain.Registration{Username: "alice", Email: "alice@example.com"}, "h")
	assert.ErrorIs(t, err, domain.ErrDuplicateUser)
}

func TestUpdateOTP_SetsEnabled(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)UPDATE\s+users\s+SET\s+otp_enabled\s*=\s*TRUE,\s*otp_base32\s*=\s*\$2,\s*otp_auth_url\s*=\s*\$3.*WHERE\s+id\s*=\s*\$1`).
		WithArgs(uid, "SECRET", "otpauth://totp/x", fixedNow).
		WillReturnRows(userRow(true, false, "SECRET"))

	u, err := repo.UpdateOTP(context.Background(), uid, "SECRET", "otpauth://totp/x")
	require.NoError(t, err)
	assert.True(t, u.OTPEnabled)
	assert.Equal(t, "SECRET", u.OTPSecret)
}

func TestUpdateOTP_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)UPDATE\s+users`).WillReturnError(sql.ErrNoRows)

	_, err := repo.UpdateOTP(context.Background(), uid, "S", "u")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestSetOTPVerified_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)SET\s+otp_verified\s*=\s*TRUE.*WHERE\s+id\s*=\s*\$1\s+AND\s+otp_enabled\s+AND\s+otp_base32\s*=\s*\$2`).
		WithArgs(uid, "SECRET", fixedNow).
		WillReturnRows(userRow(true, true, "SECRET"))

	u, err := repo.SetOTPVerified(context.Background(), uid, "SECRET")
	require.NoError(t, err)
	assert.True(t, u.OTPVerified)
}

func TestSetOTPVerified_SecretReplaced(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)SET\s+otp_verified`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`(?s)FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs(uid).
		WillReturnRows(userRow(true, false, "NEWSECRET"))

	_, err := repo.SetOTPVerified(context.Background(), uid, "OLDSECRET")
	assert.ErrorIs(t, err, domain.ErrOTPStateConflict)
}

func TestSetOTPVerified_UserGone(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)SET\s+otp_verified`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`(?s)FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).WillReturnError(sql.ErrNoRows)

	_, err := repo.SetOTPVerified(context.Background(), uid, "S")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestClearOTP(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)SET\s+otp_enabled\s*=\s*FALSE,\s*otp_verified\s*=\s*FALSE,\s*otp_base32\s*=\s*NULL`).
		WithArgs(uid, fixedNow).
		WillReturnRows(userRow(false, false, ""))

	u, err := repo.ClearOTP(context.Background(), uid)
	require.NoError(t, err)
	assert.False(t, u.OTPEnabled)
	assert.Empty(t, u.OTPSecret)
}

func TestLogSecurityEvent_AnonymousUser(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+audit_logs`).
		WithArgs(sql.NullString{}, domain.EventLoginFailed, "10.0.0.1", []byte(`{"identifier":"bob"}`), fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.LogSecurityEvent(context.Background(), "", domain.EventLoginFailed, "10.0.0.1", map[string]interface{}{"identifier": "bob"})
	require.NoError(t, err)
}
