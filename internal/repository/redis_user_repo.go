package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/FilipeAphrody/sentinel-auth/internal/domain"
)

const (
	// maxTxAttempts bounds optimistic-lock retries when WATCH detects a concurrent write.
	maxTxAttempts = 8
	// auditListLimit caps the audit list; older events are trimmed.
	auditListLimit = 10000
	auditKey       = "auth:audit"
)

// RedisUserRepo implements domain.UserRepository and domain.AuditRepository using Redis.
//
// Each user is a hash at "auth:user:<id>"; username and email are unique
// index keys pointing at the id. Every mutation runs inside WATCH/MULTI on the
// user key, so per-user read-modify-write is linearizable.
type RedisUserRepo struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisUserRepo creates a new repository instance.
func NewRedisUserRepo(client *redis.Client) *RedisUserRepo {
	return &RedisUserRepo{client: client, now: time.Now}
}

func userKey(id string) string            { return fmt.Sprintf("auth:user:%s", id) }
func usernameKey(username string) string { return fmt.Sprintf("auth:user:username:%s", username) }
func emailKey(email string) string       { return fmt.Sprintf("auth:user:email:%s", email) }

func encodeUser(u *domain.User) map[string]interface{} {
	return map[string]interface{}{
		"id":            u.ID,
		"username":      u.Username,
		"email":         u.Email,
		"password_hash": u.PasswordHash,
		"otp_enabled":   strconv.FormatBool(u.OTPEnabled),
		"otp_verified":  strconv.FormatBool(u.OTPVerified),
		"otp_base32":    u.OTPSecret,
		"otp_auth_url":  u.OTPAuthURL,
		"created_at":    u.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    u.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeUser(vals map[string]string) (*domain.User, error) {
	u := &domain.User{
		ID:           vals["id"],
		Username:     vals["username"],
		Email:        vals["email"],
		PasswordHash: vals["password_hash"],
		OTPSecret:    vals["otp_base32"],
		OTPAuthURL:   vals["otp_auth_url"],
	}
	var err error
	if u.OTPEnabled, err = strconv.ParseBool(vals["otp_enabled"]); err != nil {
		return nil, fmt.Errorf("decode otp_enabled: %w", err)
	}
	if u.OTPVerified, err = strconv.ParseBool(vals["otp_verified"]); err != nil {
		return nil, fmt.Errorf("decode otp_verified: %w", err)
	}
	if u.CreatedAt, err = time.Parse(time.RFC3339Nano, vals["created_at"]); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if u.UpdatedAt, err = time.Parse(time.RFC3339Nano, vals["updated_at"]); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by their UUID.
func (r *RedisUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	vals, err := r.client.HGetAll(ctx, userKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrUserNotFound
	}
	return decodeUser(vals)
}

// GetByUsername resolves the username index, then loads the record.
func (r *RedisUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getByIndex(ctx, usernameKey(username))
}

// GetByEmail resolves the email index, then loads the record.
func (r *RedisUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getByIndex(ctx, emailKey(email))
}

func (r *RedisUserRepo) getByIndex(ctx context.Context, key string) (*domain.User, error) {
	id, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("redis error: %w", err)
	}
	return r.GetByID(ctx, id)
}

// Create stores a new user and claims both index keys atomically.
func (r *RedisUserRepo) Create(ctx context.Context, reg domain.Registration, passwordHash string) (*domain.User, error) {
	now := r.now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     reg.Username,
		Email:        reg.Email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	uKey, eKey := usernameKey(reg.Username), emailKey(reg.Email)

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, uKey, eKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrDuplicateUser
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, userKey(user.ID), encodeUser(user))
			pipe.Set(ctx, uKey, user.ID, 0)
			pipe.Set(ctx, eKey, user.ID, 0)
			return nil
		})
		return err
	}

	if err := r.watch(ctx, txf, uKey, eKey); err != nil {
		if errors.Is(err, domain.ErrDuplicateUser) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// UpdateOTP stores a new secret and enables the factor; otp_verified is preserved.
func (r *RedisUserRepo) UpdateOTP(ctx context.Context, id, secret, authURL string) (*domain.User, error) {
	return r.mutate(ctx, id, func(u *domain.User) error {
		u.OTPEnabled = true
		u.OTPSecret = secret
		u.OTPAuthURL = authURL
		return nil
	})
}

// SetOTPVerified confirms the factor only while expectedSecret is still stored.
func (r *RedisUserRepo) SetOTPVerified(ctx context.Context, id, expectedSecret string) (*domain.User, error) {
	return r.mutate(ctx, id, func(u *domain.User) error {
		if !u.OTPEnabled || u.OTPSecret != expectedSecret {
			return domain.ErrOTPStateConflict
		}
		u.OTPVerified = true
		return nil
	})
}

// ClearOTP disables the factor. Running it on a disabled account is a no-op.
func (r *RedisUserRepo) ClearOTP(ctx context.Context, id string) (*domain.User, error) {
	return r.mutate(ctx, id, func(u *domain.User) error {
		u.OTPEnabled = false
		u.OTPVerified = false
		u.OTPSecret = ""
		u.OTPAuthURL = ""
		return nil
	})
}

// mutate is a compare-and-set on the user hash: read under WATCH, apply fn,
// write in MULTI/EXEC.
func (r *RedisUserRepo) mutate(ctx context.Context, id string, fn func(u *domain.User) error) (*domain.User, error) {
	key := userKey(id)
	var out *domain.User

	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			return domain.ErrUserNotFound
		}
		u, err := decodeUser(vals)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		u.UpdatedAt = r.now().UTC()

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeUser(u))
			return nil
		})
		if err == nil {
			out = u
		}
		return err
	}

	if err := r.watch(ctx, txf, key); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) || errors.Is(err, domain.ErrOTPStateConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("redis error: %w", err)
	}
	return out, nil
}

func (r *RedisUserRepo) watch(ctx context.Context, txf func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("optimistic lock on %v failed after %d attempts", keys, maxTxAttempts)
}

type auditEvent struct {
	UserID    string                 `json:"user_id,omitempty"`
	EventType string                 `json:"event_type"`
	IP        string                 `json:"ip_address"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// LogSecurityEvent pushes the event onto a capped list, newest first.
func (r *RedisUserRepo) LogSecurityEvent(ctx context.Context, userID, eventType, ip string, metadata map[string]interface{}) error {
	payload, err := json.Marshal(auditEvent{
		UserID:    userID,
		EventType: eventType,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, auditKey, payload)
		pipe.LTrim(ctx, auditKey, 0, auditListLimit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store audit event in redis: %w", err)
	}
	return nil
}
