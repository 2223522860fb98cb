package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// APIKeyPrefix identifies workspace API keys
	APIKeyPrefix = "fg_"
	// TokenLength is the number of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates opaque tokens: API keys and invite/reset temp tokens.
// Only the SHA256 hash is persisted.
type TokenGenerator struct {
	prefix string
}

// NewTokenGenerator creates a generator for API keys
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{prefix: APIKeyPrefix}
}

// NewTempTokenGenerator creates a generator for unprefixed invite/reset tokens
func NewTempTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new token.
// Format: <prefix><base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encodedToken := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := tg.prefix + encodedToken

	// First 8 chars after the prefix, for display
	prefix := tg.prefix
	if len(encodedToken) >= 8 {
		prefix = tg.prefix + encodedToken[:8]
	}

	return fullToken, HashToken(fullToken), prefix, nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	return HashToken(token)
}

// HashToken computes the hex SHA256 of a token
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, tg.prefix) {
		return fmt.Errorf("%w: token must start with %q", ErrValidation, tg.prefix)
	}

	encodedPart := strings.TrimPrefix(token, tg.prefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("%w: token is too short", ErrValidation)
	}

	decoded, err := base64.RawURLEncoding.DecodeString(encodedPart)
	if err != nil {
		return fmt.Errorf("%w: invalid token encoding: %v", ErrValidation, err)
	}
	if len(decoded) != TokenLength {
		return fmt.Errorf("%w: token has wrong length", ErrValidation)
	}

	return nil
}

// ExtractPrefix extracts the prefix from a token for display
func (tg *TokenGenerator) ExtractPrefix(token string) string {
	if !strings.HasPrefix(token, tg.prefix) {
		return ""
	}

	encodedPart := strings.TrimPrefix(token, tg.prefix)
	if len(encodedPart) >= 8 {
		return tg.prefix + encodedPart[:8]
	}

	return token
}
