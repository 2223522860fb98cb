package orgs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/storage/postgres"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(postgres.NewTestDB(t))
}

func strPtr(s string) *string { return &s }

func TestStore_Organization(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.FirstOrganization(ctx)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	org := &auth.Organization{Name: "Acme"}
	require.NoError(t, store.CreateOrganization(ctx, org))
	require.NotEmpty(t, org.ID)

	ws := &auth.Workspace{Name: "Default", OrganizationID: org.ID, IsDefault: true}
	require.NoError(t, store.CreateWorkspace(ctx, ws))
	require.NoError(t, store.SetOrganizationDefaults(ctx, org.ID, "admin-1", ws.ID))

	got, err := store.FirstOrganization(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", got.AdminUserID)
	assert.Equal(t, ws.ID, got.DefaultWorkspaceID)
	assert.Nil(t, got.SSOConfig)

	byWS, err := store.OrganizationForWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, org.ID, byWS.ID)

	_, err = store.GetOrganization(ctx, "missing")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestStore_Users(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := &auth.User{Name: "Ada", Email: "  Ada@Example.com "}
	require.NoError(t, store.CreateUser(ctx, u))
	assert.Equal(t, auth.UserStatusInvited, u.Status)

	dup := &auth.User{Email: "ada@example.com"}
	assert.ErrorIs(t, store.CreateUser(ctx, dup), auth.ErrConflict)

	got, err := store.GetUserByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Nil(t, got.TokenExpiry)
	assert.Nil(t, got.LastLogin)

	require.NoError(t, store.UpdateUser(ctx, u.ID, UserUpdate{
		Status:     strPtr(string(auth.UserStatusActive)),
		Credential: strPtr("hash"),
	}))
	require.NoError(t, store.TouchLastLogin(ctx, u.ID))

	got, err = store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.UserStatusActive, got.Status)
	assert.Equal(t, "hash", got.Credential)
	assert.Equal(t, "Ada", got.Name)
	assert.NotNil(t, got.LastLogin)

	assert.ErrorIs(t, store.UpdateUser(ctx, "missing", UserUpdate{Name: strPtr("x")}), auth.ErrNotFound)
}

func TestStore_TempTokens(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	fresh := &auth.User{Email: "fresh@example.com"}
	stale := &auth.User{Email: "stale@example.com"}
	require.NoError(t, store.CreateUser(ctx, fresh))
	require.NoError(t, store.CreateUser(ctx, stale))

	require.NoError(t, store.SetTempToken(ctx, fresh.ID, "h1", auth.TempTokenInvite, now.Add(time.Hour)))
	require.NoError(t, store.SetTempToken(ctx, stale.ID, "h2", auth.TempTokenInvite, now.Add(-time.Hour)))

	got, err := store.GetUserByTempToken(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.ID)
	assert.Equal(t, string(auth.TempTokenInvite), got.TempTokenType)
	require.NotNil(t, got.TokenExpiry)
	assert.True(t, got.TokenExpiry.Equal(now.Add(time.Hour)))

	expired, err := store.ExpiredInvites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, expired)

	require.NoError(t, store.ClearTempToken(ctx, fresh.ID))
	_, err = store.GetUserByTempToken(ctx, "h1")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	_, err = store.GetUserByTempToken(ctx, "")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestStore_RedeemTempToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := &auth.User{Email: "redeem@example.com"}
	require.NoError(t, store.CreateUser(ctx, u))
	require.NoError(t, store.SetTempToken(ctx, u.ID, "h1", auth.TempTokenReset, time.Now().Add(time.Hour)))

	assert.ErrorIs(t, store.RedeemTempToken(ctx, u.ID, "h1", auth.TempTokenInvite), auth.ErrNotFound)
	assert.ErrorIs(t, store.RedeemTempToken(ctx, u.ID, "other", auth.TempTokenReset), auth.ErrNotFound)

	require.NoError(t, store.RedeemTempToken(ctx, u.ID, "h1", auth.TempTokenReset))
	// already consumed
	assert.ErrorIs(t, store.RedeemTempToken(ctx, u.ID, "h1", auth.TempTokenReset), auth.ErrNotFound)

	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, got.TempToken)
	assert.Nil(t, got.TokenExpiry)
}

func TestStore_WorkspacesAndMembers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	org := &auth.Organization{Name: "Acme"}
	require.NoError(t, store.CreateOrganization(ctx, org))

	user := &auth.User{Email: "u@example.com"}
	require.NoError(t, store.CreateUser(ctx, user))

	shared := &auth.Workspace{Name: "Team", OrganizationID: org.ID}
	personal := &auth.Workspace{
		Name:           auth.PersonalWorkspaceName,
		Description:    auth.PersonalWorkspaceDescription(user.ID),
		OrganizationID: org.ID,
	}
	require.NoError(t, store.CreateWorkspace(ctx, shared))
	require.NoError(t, store.CreateWorkspace(ctx, personal))

	listed, err := store.ListWorkspaces(ctx, org.ID, false)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, shared.ID, listed[0].ID)

	all, err := store.ListWorkspaces(ctx, org.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pw, err := store.PersonalWorkspace(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, personal.ID, pw.ID)
	assert.True(t, pw.IsPersonal())

	require.NoError(t, store.AddMember(ctx, shared.ID, user.ID, "viewer"))
	require.NoError(t, store.AddMember(ctx, shared.ID, user.ID, "editor"))
	require.NoError(t, store.AddMember(ctx, personal.ID, user.ID, auth.RolePersonalWorkspace))

	m, err := store.GetMember(ctx, shared.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "editor", m.Role)

	memberships, err := store.ListMemberships(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, memberships, 2)

	members, err := store.ListMembers(ctx, shared.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)

	require.NoError(t, store.TouchMemberLogin(ctx, shared.ID, user.ID))
	m, err = store.GetMember(ctx, shared.ID, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, m.LastLogin)

	_, err = store.GetMember(ctx, shared.ID, "stranger")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestStore_WithTxRollback(t *testing.T) {
	db := postgres.NewTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.WithTx(tx).CreateUser(ctx, &auth.User{Email: "tx@example.com"}))
	require.NoError(t, tx.Rollback())

	_, err = store.GetUserByEmail(ctx, "tx@example.com")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}
