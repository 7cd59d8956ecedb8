package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"filigree/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const issueColumns = `id,type,title,description,status,priority,COALESCE(assignee,''),fields_json,parent_id,created_at,updated_at,closed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanIssue(row scanner) (domain.Issue, error) {
	var (
		it       domain.Issue
		fields   string
		parentID sql.NullString
		closedAt sql.NullString
	)
	err := row.Scan(&it.ID, &it.Type, &it.Title, &it.Description, &it.Status, &it.Priority, &it.Assignee, &fields, &parentID, &it.CreatedAt, &it.UpdatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if fields != "" {
		if err := json.Unmarshal([]byte(fields), &it.Fields); err != nil {
			return it, fmt.Errorf("decode fields for %s: %w", it.ID, err)
		}
	}
	if it.Fields == nil {
		it.Fields = map[string]any{}
	}
	if parentID.Valid {
		it.ParentID = &parentID.String
	}
	if closedAt.Valid {
		it.ClosedAt = &closedAt.String
	}
	return it, nil
}

func (r Repo) GetIssueTx(ctx context.Context, q DBTX, id string) (domain.Issue, error) {
	return scanIssue(q.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id))
}

// IssueExists is a primary-key existence check.
func (r Repo) IssueExists(ctx context.Context, q DBTX, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM issues WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) InsertIssue(ctx context.Context, tx *sql.Tx, it domain.Issue) error {
	fields, err := marshalFields(it.Fields)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO issues(id,type,title,description,status,priority,assignee,fields_json,parent_id,created_at,updated_at,closed_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.Type, it.Title, it.Description, it.Status, it.Priority, nullable(it.Assignee), fields, optional(it.ParentID), it.CreatedAt, it.UpdatedAt, optional(it.ClosedAt))
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	return nil
}

// UpdateIssue rewrites every mutable column of the row.
func (r Repo) UpdateIssue(ctx context.Context, tx *sql.Tx, it domain.Issue) error {
	fields, err := marshalFields(it.Fields)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE issues SET title=?,description=?,status=?,priority=?,assignee=?,fields_json=?,parent_id=?,updated_at=?,closed_at=? WHERE id=?`,
		it.Title, it.Description, it.Status, it.Priority, nullable(it.Assignee), fields, optional(it.ParentID), it.UpdatedAt, optional(it.ClosedAt), it.ID)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimIssue is the conditional write behind claims: it sets the assignee
// only while the status is one of openStates and the issue is unassigned or
// already held by assignee. It reports whether a row changed.
func (r Repo) ClaimIssue(ctx context.Context, tx *sql.Tx, id, assignee string, openStates []string, now string) (bool, error) {
	if len(openStates) == 0 {
		return false, nil
	}
	args := []any{assignee, now, id}
	for _, s := range openStates {
		args = append(args, s)
	}
	args = append(args, assignee)
	query := `UPDATE issues SET assignee=?, updated_at=? WHERE id=? AND status IN (` + placeholders(len(openStates)) + `) AND (assignee IS NULL OR assignee='' OR assignee=?)`
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("claim issue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseIssue clears the assignee. When holder is set the write only applies
// while holder still owns the issue.
func (r Repo) ReleaseIssue(ctx context.Context, tx *sql.Tx, id, holder, now string) (bool, error) {
	query := `UPDATE issues SET assignee=NULL, updated_at=? WHERE id=? AND assignee IS NOT NULL AND assignee<>''`
	args := []any{now, id}
	if holder != "" {
		query += ` AND assignee=?`
		args = append(args, holder)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("release issue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IssueFilter narrows ListIssues. Zero values do not filter.
type IssueFilter struct {
	Types    []string
	Statuses []string
	Assignee string
	ParentID string
	Label    string
	Limit    int
}

func (r Repo) ListIssues(ctx context.Context, q DBTX, f IssueFilter) ([]domain.Issue, error) {
	var (
		clauses []string
		args    []any
	)
	if len(f.Types) > 0 {
		clauses = append(clauses, "type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if f.Assignee != "" {
		clauses = append(clauses, "assignee=?")
		args = append(args, f.Assignee)
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.ParentID)
	}
	if f.Label != "" {
		clauses = append(clauses, "id IN (SELECT issue_id FROM labels WHERE label=?)")
		args = append(args, f.Label)
	}
	query := `SELECT ` + issueColumns + ` FROM issues`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY priority ASC, created_at ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		it, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ParentOf returns the parent id of an issue, or "" when it has none.
func (r Repo) ParentOf(ctx context.Context, q DBTX, id string) (string, error) {
	var parent sql.NullString
	err := q.QueryRowContext(ctx, `SELECT parent_id FROM issues WHERE id=?`, id).Scan(&parent)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return parent.String, nil
}

func (r Repo) InsertLabels(ctx context.Context, tx *sql.Tx, issueID string, labels []string) error {
	for _, l := range labels {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO labels(issue_id,label) VALUES (?,?)`, issueID, l); err != nil {
			return fmt.Errorf("insert label %s: %w", l, err)
		}
	}
	return nil
}

func (r Repo) ListLabels(ctx context.Context, q DBTX, issueID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT label FROM labels WHERE issue_id=? ORDER BY label`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func marshalFields(fields map[string]any) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(b), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func optional(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
