package security

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	TOTPPeriod     uint = 30
	TOTPSkew       uint = 1
	TOTPDigits          = otp.DigitsSix
	totpSecretSize uint = 20 // 160 bits
)

// ErrMalformedCode is returned before any TOTP computation when the
// supplied code is not exactly six ASCII digits.
var ErrMalformedCode = errors.New("otp code must be exactly 6 digits")

var totpOpts = totp.ValidateOpts{
	Period:    TOTPPeriod,
	Skew:      TOTPSkew,
	Digits:    TOTPDigits,
	Algorithm: otp.AlgorithmSHA1,
}

// GenerateTOTPKey creates a fresh random secret (base32, no padding) and the
// matching otpauth://totp/ provisioning URI.
func GenerateTOTPKey(issuer, account string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      TOTPPeriod,
		SecretSize:  totpSecretSize,
		Digits:      TOTPDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
}

// QRCodeDataURI renders the provisioning URI as a PNG data URI for authenticator apps.
func QRCodeDataURI(key *otp.Key, size int) (string, error) {
	img, err := key.Image(size, size)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// IsWellFormedCode reports whether code is exactly six ASCII digits.
func IsWellFormedCode(code string) bool {
	if len(code) != int(TOTPDigits) {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// ValidateTOTPCode checks code against secret at the given instant, accepting
// the current 30s step and its immediate neighbours.
// A wrong code is (false, nil). A malformed code is ErrMalformedCode. Any
// other error comes from the TOTP engine (e.g. an undecodable secret).
func ValidateTOTPCode(code, secret string, at time.Time) (bool, error) {
	if !IsWellFormedCode(code) {
		return false, ErrMalformedCode
	}
	return totp.ValidateCustom(code, secret, at, totpOpts)
}
