package security

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*TokenService, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	svc, err := NewTokenService(testKey, WithClock(clock.Now))
	require.NoError(t, err)
	return svc, clock
}

// forge signs arbitrary claims with the service key, bypassing Issue's policy table.
func forge(t *testing.T, svc *TokenService, aud string, amr []string, exp time.Time) string {
	t.Helper()
	claims := Claims{
		AMR: amr,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{aud},
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(svc.key)
	require.NoError(t, err)
	return s
}

func TestNewTokenServiceRejectsShortKey(t *testing.T) {
	_, err := NewTokenService([]byte("too-short"))
	assert.ErrorIs(t, err, ErrWeakSigningKey)

	_, err = NewTokenService(nil)
	assert.ErrorIs(t, err, ErrWeakSigningKey)
}

func TestIssueValidateRoundTrip(t *testing.T) {
	svc, clock := newTestService(t)

	cases := []struct {
		kind TokenKind
		aud  string
		amr  []string
		ttl  time.Duration
	}{
		{StepUpToken, "mfa-verification", []string{"pwd"}, 5 * time.Minute},
		{AccessToken, "api", []string{"pwd", "mfa"}, 24 * time.Hour},
		{RefreshToken, "refresh", nil, 7 * 24 * time.Hour},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			tok, err := svc.Issue(tc.kind, "user-42")
			require.NoError(t, err)

			claims, err := svc.Validate(tc.kind, tok)
			require.NoError(t, err)
			assert.Equal(t, "user-42", claims.Subject)
			assert.Equal(t, jwt.ClaimStrings{tc.aud}, claims.Audience)
			assert.Equal(t, tc.amr, claims.AMR)
			assert.Equal(t, clock.Now().Add(tc.ttl).Unix(), claims.ExpiresAt.Unix())
			assert.Equal(t, tc.ttl, tc.kind.TTL())
			assert.Equal(t, tc.aud, tc.kind.Audience())
		})
	}
}

func TestValidateFailsAfterLifetime(t *testing.T) {
	for _, kind := range []TokenKind{StepUpToken, AccessToken, RefreshToken} {
		t.Run(string(kind), func(t *testing.T) {
			svc, clock := newTestService(t)
			tok, err := svc.Issue(kind, "user-1")
			require.NoError(t, err)

			clock.Advance(kind.TTL() - time.Second)
			_, err = svc.Validate(kind, tok)
			require.NoError(t, err)

			clock.Advance(2 * time.Second)
			_, err = svc.Validate(kind, tok)
			assert.ErrorIs(t, err, ErrTokenInvalid)
			assert.ErrorIs(t, err, jwt.ErrTokenExpired)
		})
	}
}

func TestAudienceSeparatesKinds(t *testing.T) {
	svc, _ := newTestService(t)

	stepUp, err := svc.Issue(StepUpToken, "user-1")
	require.NoError(t, err)
	access, err := svc.Issue(AccessToken, "user-1")
	require.NoError(t, err)
	refresh, err := svc.Issue(RefreshToken, "user-1")
	require.NoError(t, err)

	_, err = svc.Validate(AccessToken, stepUp)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidAudience)

	_, err = svc.Validate(StepUpToken, access)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.Validate(AccessToken, refresh)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.Validate(RefreshToken, access)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestAMRGates(t *testing.T) {
	svc, clock := newTestService(t)
	exp := clock.Now().Add(time.Minute)

	// right audience, but already elevated
	_, err := svc.Validate(StepUpToken, forge(t, svc, AudienceStepUp, []string{"pwd", "mfa"}, exp))
	assert.ErrorIs(t, err, ErrTokenAMR)

	// right audience, no pwd
	_, err = svc.Validate(StepUpToken, forge(t, svc, AudienceStepUp, nil, exp))
	assert.ErrorIs(t, err, ErrTokenAMR)

	// access audience without mfa
	_, err = svc.Validate(AccessToken, forge(t, svc, AudienceAccess, []string{"pwd"}, exp))
	assert.ErrorIs(t, err, ErrTokenAMR)

	// refresh has no amr requirement
	_, err = svc.Validate(RefreshToken, forge(t, svc, AudienceRefresh, []string{"anything"}, exp))
	assert.NoError(t, err)
}

func TestValidateRejectsTampering(t *testing.T) {
	svc, _ := newTestService(t)
	tok, err := svc.Issue(AccessToken, "user-1")
	require.NoError(t, err)

	other, err := NewTokenService([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	_, err = other.Validate(AccessToken, tok)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	_, err = svc.Validate(AccessToken, tampered)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.Validate(AccessToken, "not.a.jwt")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	svc, clock := newTestService(t)
	claims := Claims{
		AMR: []string{"pwd", "mfa"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{AudienceAccess},
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Validate(AccessToken, unsigned)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestUnknownKind(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Issue(TokenKind("session"), "user-1")
	assert.ErrorIs(t, err, ErrUnknownTokenKind)
	_, err = svc.Validate(TokenKind("session"), "x")
	assert.ErrorIs(t, err, ErrUnknownTokenKind)
}
