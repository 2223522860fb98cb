package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists login activity
type Store struct {
	db *sql.DB
}

// NewStore creates a new login activity store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts an activity, filling in the ID and attempt time when unset
func (s *Store) Record(ctx context.Context, activity *Activity) error {
	if activity.ID == "" {
		activity.ID = uuid.New().String()
	}
	if activity.AttemptedAt.IsZero() {
		activity.AttemptedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_activity (id, username, activity_code, message, login_mode, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		activity.ID, activity.Username, int(activity.ActivityCode), activity.Message, activity.LoginMode, activity.AttemptedAt)
	if err != nil {
		return fmt.Errorf("failed to record login activity: %w", err)
	}
	return nil
}

// where builds the filter clause. Placeholders are numbered from 1 in order.
func (f Filter) where() (string, []interface{}) {
	var conds []string
	var args []interface{}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Codes) > 0 {
		marks := make([]string, len(f.Codes))
		for i, c := range f.Codes {
			marks[i] = next(int(c))
		}
		conds = append(conds, "activity_code IN ("+strings.Join(marks, ", ")+")")
	}
	if f.Username != "" {
		conds = append(conds, "username = "+next(f.Username))
	}
	if f.StartTime != nil {
		conds = append(conds, "attempted_at >= "+next(f.StartTime.UTC()))
	}
	if f.EndTime != nil {
		conds = append(conds, "attempted_at <= "+next(f.EndTime.UTC()))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of activities, newest first
func (s *Store) List(ctx context.Context, filter Filter) (*Page, error) {
	filter.normalize()
	where, args := filter.where()

	page := &Page{Data: []Activity{}, Page: filter.Page, PageSize: filter.PageSize}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM login_activity"+where, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count login activity: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`
		SELECT id, username, activity_code, message, login_mode, attempted_at
		FROM login_activity%s
		ORDER BY attempted_at DESC, id
		LIMIT $%d OFFSET $%d`, where, n+1, n+2)
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list login activity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Activity
		var code int
		var message, mode sql.NullString
		if err := rows.Scan(&a.ID, &a.Username, &code, &message, &mode, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan login activity: %w", err)
		}
		a.ActivityCode = ActivityCode(code)
		a.Message = message.String
		a.LoginMode = mode.String
		page.Data = append(page.Data, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list login activity: %w", err)
	}
	return page, nil
}

// Delete removes the given activities and reports how many were removed
func (s *Store) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	marks := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM login_activity WHERE id IN ("+strings.Join(marks, ", ")+")", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete login activity: %w", err)
	}
	return res.RowsAffected()
}

// Purge removes activities recorded before the cutoff
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM login_activity WHERE attempted_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge login activity: %w", err)
	}
	return res.RowsAffected()
}
