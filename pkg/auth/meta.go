package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/chacha20poly1305"
)

// MetaVersion is the current layout of Meta
const MetaVersion uint8 = 1

// Meta is the confidential payload carried inside access and refresh tokens.
// Fields are encoded by name so user-controlled values cannot shift positions.
type Meta struct {
	Version           uint8     `msgpack:"v"`
	UserID            string    `msgpack:"u"`
	ActiveWorkspaceID string    `msgpack:"w"`
	Role              string    `msgpack:"r,omitempty"`
	LoginMode         LoginMode `msgpack:"m,omitempty"`
}

// MetaSealer encrypts Meta with XChaCha20-Poly1305 under a key derived from the token hash secret
type MetaSealer struct {
	aead cipher.AEAD
}

// NewMetaSealer derives the AEAD key as sha256(secret)
func NewMetaSealer(secret string) (*MetaSealer, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: token hash secret is empty", ErrConfiguration)
	}
	key := sha256.Sum256([]byte(secret))
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to init meta cipher: %w", err)
	}
	return &MetaSealer{aead: aead}, nil
}

// Seal encodes and encrypts meta. Output is base64url(nonce || ciphertext).
func (s *MetaSealer) Seal(meta Meta) (string, error) {
	meta.Version = MetaVersion
	plain, err := msgpack.Marshal(&meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode meta: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Any tampering or a foreign key yields ErrAuthentication.
func (s *MetaSealer) Open(sealed string) (*Meta, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed meta", ErrAuthentication)
	}
	if len(raw) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, fmt.Errorf("%w: meta too short", ErrAuthentication)
	}

	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: meta decryption failed", ErrAuthentication)
	}

	var meta Meta
	if err := msgpack.Unmarshal(plain, &meta); err != nil {
		return nil, fmt.Errorf("%w: meta decode failed", ErrAuthentication)
	}
	if meta.Version != MetaVersion {
		return nil, fmt.Errorf("%w: unsupported meta version %d", ErrAuthentication, meta.Version)
	}
	if meta.UserID == "" {
		return nil, fmt.Errorf("%w: meta missing user", ErrAuthentication)
	}
	return &meta, nil
}
