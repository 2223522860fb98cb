package license

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errNoPublicKey = errors.New("license public key unavailable")
	errExpired     = errors.New("license expired")
)

// verifyOffline checks the RS256 signature and that now falls before
// issuedAt + expiryDurationInMonths.
func (v *Verifier) verifyOffline(key string, now time.Time) error {
	if v.pub == nil {
		return errNoPublicKey
	}

	claims := jwt.MapClaims{}
	// registered-claim validation is skipped; expiry is derived from the custom claims below
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(key, claims, func(*jwt.Token) (interface{}, error) {
		return v.pub, nil
	}); err != nil {
		return fmt.Errorf("invalid license signature: %w", err)
	}

	issuedAt, err := parseIssuedAt(claims["issuedAt"])
	if err != nil {
		return err
	}
	months, err := parseMonths(claims["expiryDurationInMonths"])
	if err != nil {
		return err
	}

	expiry := issuedAt.AddDate(0, months, 0)
	if now.After(expiry) {
		return fmt.Errorf("%w on %s", errExpired, expiry.Format(time.RFC3339))
	}
	return nil
}

func parseIssuedAt(raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0), nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid issuedAt: %w", err)
		}
		return t, nil
	default:
		return time.Time{}, errors.New("license missing issuedAt")
	}
}

func parseMonths(raw interface{}) (int, error) {
	v, ok := raw.(float64)
	if !ok {
		return 0, errors.New("license missing expiryDurationInMonths")
	}
	if v <= 0 || v != math.Trunc(v) {
		return 0, fmt.Errorf("invalid expiryDurationInMonths %v", v)
	}
	return int(v), nil
}
