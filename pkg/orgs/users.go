package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/flowguard/pkg/auth"
)

const userColumns = `id, name, email, credential, status, active_workspace_id, temp_token, temp_token_type, token_expiry, last_login, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*auth.User, error) {
	u := &auth.User{}
	var credential, activeWS, tempToken, tempType sql.NullString
	var expiry, lastLogin sql.NullTime
	var status string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &credential, &status, &activeWS, &tempToken, &tempType,
		&expiry, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Status = auth.UserStatus(status)
	u.Credential = credential.String
	u.ActiveWorkspaceID = activeWS.String
	u.TempToken = tempToken.String
	u.TempTokenType = tempType.String
	if expiry.Valid {
		t := expiry.Time
		u.TokenExpiry = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return u, nil
}

// NormalizeEmail lower-cases and trims an address. Emails are stored normalized.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts u, assigning an ID when empty. A duplicate email is ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = newID()
	}
	if u.Status == "" {
		u.Status = auth.UserStatusInvited
	}
	u.Email = NormalizeEmail(u.Email)
	now := s.timestamp()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO "user" (id, name, email, credential, status, active_workspace_id, temp_token, temp_token_type, token_expiry, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Name, u.Email, nullString(u.Credential), string(u.Status), nullString(u.ActiveWorkspaceID),
		nullString(u.TempToken), nullString(u.TempTokenType), nullTime(u.TokenExpiry), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("email %s: %w", u.Email, auth.ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	u.CreatedAt, u.UpdatedAt = now, now
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id string) (*auth.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM "user" WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by normalized email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM "user" WHERE email = $1`, NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByTempToken retrieves the user holding the hashed temp token
func (s *Store) GetUserByTempToken(ctx context.Context, tokenHash string) (*auth.User, error) {
	if tokenHash == "" {
		return nil, fmt.Errorf("temp token: %w", auth.ErrNotFound)
	}
	u, err := scanUser(s.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM "user" WHERE temp_token = $1`, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("temp token: %w", auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// UpdateUser applies the non-nil fields of upd
func (s *Store) UpdateUser(ctx context.Context, userID string, upd UserUpdate) error {
	var sets []string
	var args []interface{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Credential != nil {
		add("credential", nullString(*upd.Credential))
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.ActiveWorkspaceID != nil {
		add("active_workspace_id", nullString(*upd.ActiveWorkspaceID))
	}
	add("updated_at", s.timestamp())
	args = append(args, userID)

	query := fmt.Sprintf(`UPDATE "user" SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	return s.execOne(ctx, "user "+userID, query, args...)
}

// SetTempToken stores a hashed temp token with its type and expiry
func (s *Store) SetTempToken(ctx context.Context, userID, tokenHash string, kind auth.TempTokenType, expiry time.Time) error {
	return s.execOne(ctx, "user "+userID,
		`UPDATE "user" SET temp_token = $1, temp_token_type = $2, token_expiry = $3, updated_at = $4 WHERE id = $5`,
		tokenHash, string(kind), expiry.UTC(), s.timestamp(), userID)
}

// ClearTempToken removes any temp token from the user
func (s *Store) ClearTempToken(ctx context.Context, userID string) error {
	return s.execOne(ctx, "user "+userID,
		`UPDATE "user" SET temp_token = NULL, temp_token_type = NULL, token_expiry = NULL, updated_at = $1 WHERE id = $2`,
		s.timestamp(), userID)
}

// RedeemTempToken clears the temp token only while userID still holds tokenHash of the
// given kind. Of two concurrent redemptions exactly one succeeds; the other gets ErrNotFound.
func (s *Store) RedeemTempToken(ctx context.Context, userID, tokenHash string, kind auth.TempTokenType) error {
	return s.execOne(ctx, "temp token of user "+userID,
		`UPDATE "user" SET temp_token = NULL, temp_token_type = NULL, token_expiry = NULL, updated_at = $1
		WHERE id = $2 AND temp_token = $3 AND temp_token_type = $4`,
		s.timestamp(), userID, tokenHash, string(kind))
}

// TouchLastLogin records a successful login
func (s *Store) TouchLastLogin(ctx context.Context, userID string) error {
	now := s.timestamp()
	return s.execOne(ctx, "user "+userID,
		`UPDATE "user" SET last_login = $1, updated_at = $2 WHERE id = $3`, now, now, userID)
}

// ExpiredInvites returns IDs of INVITED users whose invite window closed before now
func (s *Store) ExpiredInvites(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id FROM "user" WHERE status = $1 AND temp_token_type = $2 AND token_expiry < $3`,
		string(auth.UserStatusInvited), string(auth.TempTokenInvite), s.timestamp())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired invites: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) execOne(ctx context.Context, what, query string, args ...interface{}) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", what, auth.ErrNotFound)
	}
	return nil
}
