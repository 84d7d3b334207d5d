package repo

import (
	"context"
	"database/sql"
	"strings"

	"workforce/internal/domain"
)

const insightColumns = `id,task_id,agent,content,insight_type,promoted_to_task_id,promoted_at,expires_at,created_at`

func scanInsight(row rowScanner) (domain.Insight, error) {
	var (
		in               domain.Insight
		taskID           sql.NullString
		promotedToTaskID sql.NullString
		promotedAt       sql.NullString
	)
	err := row.Scan(&in.ID, &taskID, &in.Agent, &in.Content, &in.InsightType, &promotedToTaskID, &promotedAt, &in.ExpiresAt, &in.CreatedAt)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	in.TaskID = strPtr(taskID)
	in.PromotedToTaskID = strPtr(promotedToTaskID)
	in.PromotedAt = strPtr(promotedAt)
	return in, nil
}

func (r Repo) InsertInsightTx(ctx context.Context, tx *sql.Tx, in domain.Insight) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO insights(`+insightColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		in.ID, nullablePtr(in.TaskID), in.Agent, in.Content, in.InsightType,
		nullablePtr(in.PromotedToTaskID), nullablePtr(in.PromotedAt), in.ExpiresAt, in.CreatedAt)
	return err
}

func (r Repo) GetInsightTx(ctx context.Context, tx *sql.Tx, id string) (domain.Insight, error) {
	return scanInsight(tx.QueryRowContext(ctx, `SELECT `+insightColumns+` FROM insights WHERE id=?`, id))
}

func (r Repo) GetInsight(ctx context.Context, id string) (domain.Insight, error) {
	return scanInsight(r.DB.QueryRowContext(ctx, `SELECT `+insightColumns+` FROM insights WHERE id=?`, id))
}

func (r Repo) MarkInsightPromotedTx(ctx context.Context, tx *sql.Tx, id, taskID, promotedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE insights SET promoted_to_task_id=?, promoted_at=? WHERE id=?`, taskID, promotedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type InsightFilters struct {
	TaskID string
	Agent  string
	Limit  int
}

func (r Repo) ListInsights(ctx context.Context, f InsightFilters) ([]domain.Insight, error) {
	var (
		clauses []string
		args    []any
	)
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.Agent != "" {
		clauses = append(clauses, "agent=?")
		args = append(args, f.Agent)
	}
	query := `SELECT ` + insightColumns + ` FROM insights`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}
