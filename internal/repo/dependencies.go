package repo

import (
	"context"
	"database/sql"
	"fmt"

	"filigree/internal/domain"
)

// AddDependency inserts an edge, reporting false when it already existed.
func (r Repo) AddDependency(ctx context.Context, tx *sql.Tx, d domain.Dependency) (bool, error) {
	typ := d.Type
	if typ == "" {
		typ = domain.DependencyBlocks
	}
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO dependencies(issue_id,depends_on_id,type,created_at) VALUES (?,?,?,?)`,
		d.IssueID, d.DependsOnID, typ, d.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert dependency: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) RemoveDependency(ctx context.Context, tx *sql.Tx, issueID, dependsOnID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE issue_id=? AND depends_on_id=?`, issueID, dependsOnID)
	if err != nil {
		return false, fmt.Errorf("delete dependency: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListDependencies returns the whole edge set.
func (r Repo) ListDependencies(ctx context.Context, q DBTX) ([]domain.Dependency, error) {
	rows, err := q.QueryContext(ctx, `SELECT issue_id,depends_on_id,type,created_at FROM dependencies ORDER BY issue_id, depends_on_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Dependency
	for rows.Next() {
		var d domain.Dependency
		if err := rows.Scan(&d.IssueID, &d.DependsOnID, &d.Type, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListDependsOn returns the ids an issue depends on.
func (r Repo) ListDependsOn(ctx context.Context, q DBTX, issueID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT depends_on_id FROM dependencies WHERE issue_id=? ORDER BY depends_on_id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MissingIssues returns the ids from the list with no issue row.
func (r Repo) MissingIssues(ctx context.Context, q DBTX, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := q.QueryContext(ctx, `SELECT id FROM issues WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// IssueState is the projection used for graph classification.
type IssueState struct {
	ID        string
	Type      string
	Status    string
	Priority  int
	Assignee  string
	CreatedAt string
}

func (r Repo) ListIssueStates(ctx context.Context, q DBTX) ([]IssueState, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,type,status,priority,COALESCE(assignee,''),created_at FROM issues`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []IssueState
	for rows.Next() {
		var s IssueState
		if err := rows.Scan(&s.ID, &s.Type, &s.Status, &s.Priority, &s.Assignee, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r Repo) ListEvents(ctx context.Context, issueID string, limit int) ([]domain.Event, error) {
	query := `SELECT id,ts,type,issue_id,actor,COALESCE(old_value,''),COALESCE(new_value,''),payload_json FROM events`
	var args []any
	if issueID != "" {
		query += ` WHERE issue_id=?`
		args = append(args, issueID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.IssueID, &e.Actor, &e.OldValue, &e.NewValue, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
