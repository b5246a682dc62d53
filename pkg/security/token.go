package security

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind selects audience, AMR and lifetime for a token.
type TokenKind string

const (
	StepUpToken  TokenKind = "step_up"
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// Authentication methods reference values.
const (
	AMRPassword = "pwd"
	AMRMFA      = "mfa"
)

const (
	AudienceStepUp  = "mfa-verification"
	AudienceAccess  = "api"
	AudienceRefresh = "refresh"

	DefaultIssuer = "sentinel-auth"

	// MinSigningKeyBytes is the smallest accepted HMAC key (256 bits).
	MinSigningKeyBytes = 32
)

type tokenPolicy struct {
	audience string
	amr      []string
	ttl      time.Duration
}

var tokenPolicies = map[TokenKind]tokenPolicy{
	StepUpToken:  {audience: AudienceStepUp, amr: []string{AMRPassword}, ttl: 5 * time.Minute},
	AccessToken:  {audience: AudienceAccess, amr: []string{AMRPassword, AMRMFA}, ttl: 24 * time.Hour},
	RefreshToken: {audience: AudienceRefresh, ttl: 7 * 24 * time.Hour},
}

var (
	ErrUnknownTokenKind = errors.New("unknown token kind")
	ErrWeakSigningKey   = fmt.Errorf("signing key must be at least %d bytes", MinSigningKeyBytes)
	// ErrTokenInvalid covers signature, expiry, issuer and audience failures.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenAMR means the token is authentic but lacks (or carries a
	// forbidden) authentication method for the requested kind.
	ErrTokenAMR = errors.New("token authentication methods do not satisfy kind")
)

// TTL returns the lifetime of tokens of this kind.
func (k TokenKind) TTL() time.Duration { return tokenPolicies[k].ttl }

// Audience returns the aud tag of tokens of this kind.
func (k TokenKind) Audience() string { return tokenPolicies[k].audience }

// Claims is the signed payload shared by all token kinds.
type Claims struct {
	AMR []string `json:"amr,omitempty"`
	jwt.RegisteredClaims
}

// HasAMR reports whether method is listed in the token's amr claim.
func (c *Claims) HasAMR(method string) bool {
	return slices.Contains(c.AMR, method)
}

// TokenService issues and validates HS256 tokens with one in-memory key.
// It holds no mutable state and is safe for concurrent use.
type TokenService struct {
	key    []byte
	issuer string
	now    func() time.Time
}

type TokenOption func(*TokenService)

// WithClock overrides the time source used for iat/exp and validation.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) { s.issuer = issuer }
}

func NewTokenService(key []byte, opts ...TokenOption) (*TokenService, error) {
	if len(key) < MinSigningKeyBytes {
		return nil, ErrWeakSigningKey
	}
	s := &TokenService{
		key:    slices.Clone(key),
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue mints a signed token of the given kind for userID.
func (s *TokenService) Issue(kind TokenKind, userID string) (string, error) {
	policy, ok := tokenPolicies[kind]
	if !ok {
		return "", ErrUnknownTokenKind
	}

	now := s.now()
	claims := Claims{
		AMR: slices.Clone(policy.amr),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{policy.audience},
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(policy.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Validate checks signature and expiry, then audience, then the AMR gate of kind.
func (s *TokenService) Validate(kind TokenKind, tokenString string) (*Claims, error) {
	policy, ok := tokenPolicies[kind]
	if !ok {
		return nil, ErrUnknownTokenKind
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(policy.audience),
		jwt.WithTimeFunc(s.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	switch kind {
	case StepUpToken:
		// A token that already carries mfa must never pass as a step-up token.
		if !claims.HasAMR(AMRPassword) || claims.HasAMR(AMRMFA) {
			return nil, ErrTokenAMR
		}
	case AccessToken:
		if !claims.HasAMR(AMRMFA) {
			return nil, ErrTokenAMR
		}
	}

	return claims, nil
}
