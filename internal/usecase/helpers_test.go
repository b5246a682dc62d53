package usecase

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/FilipeAphrody/sentinel-auth/internal/domain"
	"github.com/FilipeAphrody/sentinel-auth/internal/repository"
	"github.com/FilipeAphrody/sentinel-auth/pkg/security"
)

var (
	testNow    = time.Unix(1_760_000_010, 0)
	testKey    = []byte("0123456789abcdef0123456789abcdef")
	fastParams = security.HashParams{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	codeOpts   = totp.ValidateOpts{
		Period:    security.TOTPPeriod,
		Digits:    security.TOTPDigits,
		Algorithm: otp.AlgorithmSHA1,
	}
)

const testPassword = "correct-horse-battery"

type fixture struct {
	repo  *repository.MemoryUserRepo
	otp   *OTPUsecase
	auth  *AuthUsecase
	clock *time.Time
	logs  *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithRepo(t, nil)
}

// newFixtureWithRepo wires the usecases; userRepo overrides the memory repo when non-nil.
func newFixtureWithRepo(t *testing.T, userRepo domain.UserRepository) *fixture {
	t.Helper()

	mem := repository.NewMemoryUserRepo()
	if userRepo == nil {
		userRepo = mem
	}

	now := testNow
	clock := &now
	nowFn := func() time.Time { return *clock }

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tokens, err := security.NewTokenService(testKey, security.WithClock(nowFn))
	require.NoError(t, err)

	otpUC := NewOTPUsecase(userRepo, mem, "SentinelTest", logger)
	otpUC.now = nowFn

	authUC := NewAuthUsecase(userRepo, mem, tokens, otpUC, logger)
	authUC.hashPassword = func(p string) (string, error) { return security.HashPasswordWithParams(p, fastParams) }
	fastDummy, err := security.HashPasswordWithParams("dummy", fastParams)
	require.NoError(t, err)
	authUC.credentials.dummyOnce.Do(func() { authUC.credentials.dummyHash = fastDummy })

	return &fixture{repo: mem, otp: otpUC, auth: authUC, clock: clock, logs: &logs}
}

func (f *fixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }

func (f *fixture) register(t *testing.T, username string) *domain.User {
	t.Helper()
	u, err := f.auth.Register(context.Background(), domain.Registration{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	return u
}

// enroll provisions and confirms OTP for the user, returning the secret.
func (f *fixture) enroll(t *testing.T, userID string) string {
	t.Helper()
	prov, err := f.otp.Provision(context.Background(), userID)
	require.NoError(t, err)
	require.NoError(t, f.otp.Confirm(context.Background(), userID, f.code(t, prov.SecretBase32, 0)))
	return prov.SecretBase32
}

// code returns the TOTP code for secret, offset by whole 30s steps from the fixture clock.
func (f *fixture) code(t *testing.T, secret string, steps int) string {
	t.Helper()
	at := f.clock.Add(time.Duration(steps) * time.Duration(security.TOTPPeriod) * time.Second)
	c, err := totp.GenerateCodeCustom(secret, at, codeOpts)
	require.NoError(t, err)
	return c
}

// wrongCode returns a well-formed code that differs from every accepted code.
func (f *fixture) wrongCode(t *testing.T, secret string) string {
	t.Helper()
	accepted := map[string]bool{}
	for s := -1; s <= 1; s++ {
		accepted[f.code(t, secret, s)] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333"} {
		if !accepted[c] {
			return c
		}
	}
	t.Fatal("could not find a rejected code")
	return ""
}

// failingRepo wraps a repository and fails selected calls.
type failingRepo struct {
	domain.UserRepository
	failGet   error
	failClear error
}

func (r *failingRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	if r.failGet != nil {
		return nil, r.failGet
	}
	return r.UserRepository.GetByUsername(ctx, username)
}

func (r *failingRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if r.failGet != nil {
		return nil, r.failGet
	}
	return r.UserRepository.GetByID(ctx, id)
}

func (r *failingRepo) ClearOTP(ctx context.Context, id string) (*domain.User, error) {
	if r.failClear != nil {
		return nil, r.failClear
	}
	return r.UserRepository.ClearOTP(ctx, id)
}

var errDBDown = errors.New("pq: connection refused")
