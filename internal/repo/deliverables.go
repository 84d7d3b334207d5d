package repo

import (
	"context"
	"database/sql"

	"workforce/internal/domain"
)

func (r Repo) InsertDeliverableTx(ctx context.Context, tx *sql.Tx, d domain.Deliverable) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO deliverables(id,task_id,title,content,content_type,created_by,is_final,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, d.TaskID, d.Title, d.Content, d.ContentType, d.CreatedBy, boolInt(d.IsFinal), d.CreatedAt)
	return err
}

func (r Repo) ListDeliverables(ctx context.Context, taskID string) ([]domain.Deliverable, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,title,content,content_type,created_by,is_final,created_at FROM deliverables WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Deliverable
	for rows.Next() {
		var (
			d       domain.Deliverable
			isFinal int
		)
		if err := rows.Scan(&d.ID, &d.TaskID, &d.Title, &d.Content, &d.ContentType, &d.CreatedBy, &isFinal, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.IsFinal = isFinal != 0
		res = append(res, d)
	}
	return res, rows.Err()
}

// CountDeliverablesTx runs inside the caller's transaction so the DONE gate
// sees a consistent view.
func (r Repo) CountDeliverablesTx(ctx context.Context, tx *sql.Tx, taskID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliverables WHERE task_id=?`, taskID).Scan(&n)
	return n, err
}
