package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FilipeAphrody/sentinel-auth/internal/domain"
)

// AuditEvent is a recorded security event held by MemoryUserRepo.
type AuditEvent struct {
	UserID    string
	EventType string
	IP        string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// MemoryUserRepo is an in-process store for local runs and tests.
// A single mutex serialises every operation.
type MemoryUserRepo struct {
	mu     sync.Mutex
	users  map[string]domain.User
	events []AuditEvent
	now    func() time.Time
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[string]domain.User), now: time.Now}
}

func (r *MemoryUserRepo) find(match func(u domain.User) bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			return &u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *MemoryUserRepo) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Username == username })
}

func (r *MemoryUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Email == email })
}

func (r *MemoryUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (r *MemoryUserRepo) Create(_ context.Context, reg domain.Registration, passwordHash string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == reg.Username || u.Email == reg.Email {
			return nil, domain.ErrDuplicateUser
		}
	}
	now := r.now().UTC()
	u := domain.User{
		ID:           uuid.NewString(),
		Username:     reg.Username,
		Email:        reg.Email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.users[u.ID] = u
	return &u, nil
}

func (r *MemoryUserRepo) mutate(id string, fn func(u *domain.User) error) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	if err := fn(&u); err != nil {
		return nil, err
	}
	u.UpdatedAt = r.now().UTC()
	r.users[id] = u
	return &u, nil
}

func (r *MemoryUserRepo) UpdateOTP(_ context.Context, id, secret, authURL string) (*domain.User, error) {
	return r.mutate(id, func(u *domain.User) error {
		u.OTPEnabled = true
		u.OTPSecret = secret
		u.OTPAuthURL = authURL
		return nil
	})
}

func (r *MemoryUserRepo) SetOTPVerified(_ context.Context, id, expectedSecret string) (*domain.User, error) {
	return r.mutate(id, func(u *domain.User) error {
		if !u.OTPEnabled || u.OTPSecret != expectedSecret {
			return domain.ErrOTPStateConflict
		}
		u.OTPVerified = true
		return nil
	})
}

func (r *MemoryUserRepo) ClearOTP(_ context.Context, id string) (*domain.User, error) {
	return r.mutate(id, func(u *domain.User) error {
		u.OTPEnabled = false
		u.OTPVerified = false
		u.OTPSecret = ""
		u.OTPAuthURL = ""
		return nil
	})
}

func (r *MemoryUserRepo) LogSecurityEvent(_ context.Context, userID, eventType, ip string, metadata map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, AuditEvent{
		UserID:    userID,
		EventType: eventType,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: r.now().UTC(),
	})
	return nil
}

// Events returns a copy of the recorded audit trail, oldest first.
func (r *MemoryUserRepo) Events() []AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuditEvent(nil), r.events...)
}
