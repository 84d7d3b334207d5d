package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"workforce/internal/domain"
)

const taskColumns = `id,title,description,owner_agent,assigned_by,status,priority,tags_json,source,external_refs_json,impact_score,effort_estimate,requires_approval,approved_by,approved_at,parent_task_id,due_at,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t            domain.Task
		ownerAgent   sql.NullString
		tags         string
		externalRefs sql.NullString
		impactScore  sql.NullInt64
		effort       sql.NullString
		requiresAppr int
		approvedBy   sql.NullString
		approvedAt   sql.NullString
		parentTaskID sql.NullString
		dueAt        sql.NullString
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &ownerAgent, &t.AssignedBy, &t.Status, &t.Priority,
		&tags, &t.Source, &externalRefs, &impactScore, &effort, &requiresAppr,
		&approvedBy, &approvedAt, &parentTaskID, &dueAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.OwnerAgent = strPtr(ownerAgent)
	t.Tags = unmarshalList(tags)
	t.ExternalRefs = unmarshalMap(externalRefs)
	t.ImpactScore = intPtr(impactScore)
	t.EffortEstimate = strPtr(effort)
	t.RequiresApproval = requiresAppr != 0
	t.ApprovedBy = strPtr(approvedBy)
	t.ApprovedAt = strPtr(approvedAt)
	t.ParentTaskID = strPtr(parentTaskID)
	t.DueAt = strPtr(dueAt)
	return t, nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, nullablePtr(t.OwnerAgent), t.AssignedBy, string(t.Status), string(t.Priority),
		marshalList(t.Tags), t.Source, marshalMap(t.ExternalRefs), nullableIntPtr(t.ImpactScore), nullablePtr(t.EffortEstimate),
		boolInt(t.RequiresApproval), nullablePtr(t.ApprovedBy), nullablePtr(t.ApprovedAt), nullablePtr(t.ParentTaskID),
		nullablePtr(t.DueAt), t.CreatedAt, t.UpdatedAt)
	return err
}

// UpdateTaskTx rewrites the full task row; the engine computed the final
// state inside the same transaction it read from.
func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?,description=?,owner_agent=?,assigned_by=?,status=?,priority=?,tags_json=?,source=?,external_refs_json=?,impact_score=?,effort_estimate=?,requires_approval=?,approved_by=?,approved_at=?,parent_task_id=?,due_at=?,updated_at=? WHERE id=?`,
		t.Title, t.Description, nullablePtr(t.OwnerAgent), t.AssignedBy, string(t.Status), string(t.Priority),
		marshalList(t.Tags), t.Source, marshalMap(t.ExternalRefs), nullableIntPtr(t.ImpactScore), nullablePtr(t.EffortEstimate),
		boolInt(t.RequiresApproval), nullablePtr(t.ApprovedBy), nullablePtr(t.ApprovedAt), nullablePtr(t.ParentTaskID),
		nullablePtr(t.DueAt), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	Status     string
	OwnerAgent string
	Priority   string
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.OwnerAgent != "" {
		clauses = append(clauses, "owner_agent=?")
		args = append(args, f.OwnerAgent)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryTasks(ctx, query, args...)
}

// TasksForAgentRun returns an agent's open work queue, most urgent first.
func (r Repo) TasksForAgentRun(ctx context.Context, agentID string, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE owner_agent=? AND status NOT IN ('DONE','CANCELLED') ORDER BY priority ASC, updated_at ASC LIMIT ?`
	return r.queryTasks(ctx, query, agentID, limit)
}

func (r Repo) queryTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
