package usecase

import (
	"sync"

	"github.com/FilipeAphrody/sentinel-auth/internal/domain"
	"github.com/FilipeAphrody/sentinel-auth/pkg/security"
)

const msgInvalidCredentials = "invalid credentials"

// CredentialVerifier checks a supplied password against a stored hash and
// keeps "wrong password" apart from "hash engine broken".
type CredentialVerifier struct {
	compare func(password, encodedHash string) (bool, error)

	dummyOnce sync.Once
	dummyHash string
}

func NewCredentialVerifier() *CredentialVerifier {
	return &CredentialVerifier{compare: security.ComparePassword}
}

// Verify returns nil on a match, an authentication error on a mismatch and an
// internal error when the hash cannot be evaluated.
func (v *CredentialVerifier) Verify(op, password, encodedHash string) error {
	match, err := v.compare(password, encodedHash)
	if err != nil {
		return domain.NewInternalError(op, err)
	}
	if !match {
		return domain.NewAuthenticationError(op, msgInvalidCredentials, nil)
	}
	return nil
}

// Burn runs a comparison against a fixed hash so a missing account costs the
// same time as a wrong password.
func (v *CredentialVerifier) Burn(password string) {
	v.dummyOnce.Do(func() {
		v.dummyHash, _ = security.HashPassword("sentinel-timing-equaliser")
	})
	if v.dummyHash != "" {
		_, _ = v.compare(password, v.dummyHash)
	}
}
