package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// APIKey is a pre-shared key bound to a workspace. Only the hash is stored.
type APIKey struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Name        string    `json:"keyName"`
	KeyHash     string    `json:"-"`
	KeyPrefix   string    `json:"keyPrefix"`
	CreatedAt   time.Time `json:"createdAt"`
}

// APIKeyStore creates and verifies API keys against the apikey table
type APIKeyStore struct {
	db        *sql.DB
	generator *TokenGenerator
}

// NewAPIKeyStore creates a new API key store
func NewAPIKeyStore(db *sql.DB) *APIKeyStore {
	return &APIKeyStore{db: db, generator: NewTokenGenerator()}
}

// Create issues a new key for workspaceID. The plaintext key is returned once.
func (s *APIKeyStore) Create(ctx context.Context, workspaceID, name string) (*APIKey, string, error) {
	if workspaceID == "" {
		return nil, "", fmt.Errorf("%w: workspace is required", ErrValidation)
	}
	token, hash, prefix, err := s.generator.GenerateToken()
	if err != nil {
		return nil, "", err
	}

	key := &APIKey{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        name,
		KeyHash:     hash,
		KeyPrefix:   prefix,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO apikey (id, workspace_id, key_name, api_key_hash, key_prefix, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.WorkspaceID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("failed to store api key: %w", err)
	}
	return key, token, nil
}

// Verify resolves a presented key. Unknown or malformed keys yield ErrAuthentication;
// a key without a bound workspace yields ErrAuthorization.
func (s *APIKeyStore) Verify(ctx context.Context, presented string) (*APIKey, error) {
	if err := s.generator.ValidateTokenFormat(presented); err != nil {
		return nil, fmt.Errorf("%w: malformed api key", ErrAuthentication)
	}

	var key APIKey
	var workspaceID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, key_name, key_prefix FROM apikey WHERE api_key_hash = $1`,
		s.generator.HashToken(presented),
	).Scan(&key.ID, &workspaceID, &key.Name, &key.KeyPrefix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown api key", ErrAuthentication)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	if !workspaceID.Valid || workspaceID.String == "" {
		return nil, fmt.Errorf("%w: api key is not bound to a workspace", ErrAuthorization)
	}
	key.WorkspaceID = workspaceID.String
	return &key, nil
}

// Principal builds the synthetic principal attached to API-key requests
func (k *APIKey) Principal() *LoggedInUser {
	return &LoggedInUser{
		ID:                "apikey:" + k.ID,
		ActiveWorkspaceID: k.WorkspaceID,
		IsAPIKeyValidated: true,
	}
}
