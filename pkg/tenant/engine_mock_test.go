package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/observability"
	"github.com/platinummonkey/flowguard/pkg/orgs"
)

func newMockEngine(t *testing.T) (*Engine, sqlmock.Sqlmock, *observability.Metrics) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	resources, err := NewResourceRegistry(OwnedResource{Table: "chat_flow", Column: WorkspaceColumn})
	require.NoError(t, err)

	metrics := observability.NewTestMetrics()
	engine := NewEngine(db, orgs.NewStore(db), resources, nil, auth.NewPasswordHasher(4), nil,
		Config{}, observability.NewNopLogger(), metrics)
	return engine, mock, metrics
}

func expectWorkspaceLookup(mock sqlmock.Sqlmock) {
	now := time.Now()
	mock.ExpectQuery(`FROM organization WHERE id`).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "admin_user_id", "default_workspace_id", "sso_config", "created_at", "updated_at"}).
			AddRow("org-1", "Acme", "admin-1", "ws-default", nil, now, now))
	mock.ExpectQuery(`FROM workspace WHERE id`).
		WithArgs("ws-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "organization_id", "is_default", "created_at", "updated_at"}).
			AddRow("ws-1", "Team", nil, "org-1", false, now, now))
}

func TestEngine_DeleteWorkspaceCommits(t *testing.T) {
	engine, mock, metrics := newMockEngine(t)

	expectWorkspaceLookup(mock)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM workspace_users WHERE workspace_id`).WithArgs("ws-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM workspace_shared WHERE workspace_id`).WithArgs("ws-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id FROM "user" WHERE active_workspace_id`).WithArgs("ws-1").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`DELETE FROM chat_flow WHERE workspace_id`).WithArgs("ws-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM workspace WHERE id`).WithArgs("ws-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, engine.DeleteWorkspace(context.Background(), "org-1", "ws-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CascadeDeletesTotal.WithLabelValues("workspace", "committed")))
}

func TestEngine_DeleteWorkspaceRollsBackOnFailure(t *testing.T) {
	engine, mock, metrics := newMockEngine(t)

	expectWorkspaceLookup(mock)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM workspace_users WHERE workspace_id`).WithArgs("ws-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM workspace_shared WHERE workspace_id`).WithArgs("ws-1").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := engine.DeleteWorkspace(context.Background(), "org-1", "ws-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrConsistency)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CascadeDeletesTotal.WithLabelValues("workspace", "rolled_back")))
}

func TestEngine_DeleteWorkspaceFailedCommit(t *testing.T) {
	engine, mock, _ := newMockEngine(t)

	expectWorkspaceLookup(mock)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM workspace_users`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM workspace_shared`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id FROM "user"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`DELETE FROM chat_flow`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM workspace WHERE id`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	err := engine.DeleteWorkspace(context.Background(), "org-1", "ws-1")
	assert.ErrorIs(t, err, auth.ErrConsistency)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_DeleteDefaultWorkspaceWritesNothing(t *testing.T) {
	engine, mock, metrics := newMockEngine(t)

	now := time.Now()
	mock.ExpectQuery(`FROM organization WHERE id`).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "admin_user_id", "default_workspace_id", "sso_config", "created_at", "updated_at"}).
			AddRow("org-1", "Acme", "admin-1", "ws-default", nil, now, now))

	err := engine.DeleteWorkspace(context.Background(), "org-1", "ws-default")
	assert.ErrorIs(t, err, auth.ErrForbidden)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CascadeDeletesTotal.WithLabelValues("workspace", "rejected")))
}
