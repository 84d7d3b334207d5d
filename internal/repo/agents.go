package repo

import (
	"context"
	"database/sql"

	"workforce/internal/domain"
)

const agentColumns = `id,name,role,description,capabilities_json,allowed_actions_json,model_provider,model_id,schedule_interval_minutes,max_tasks_per_run,enabled,last_run_at,last_run_status,created_at,updated_at`

func scanAgent(row rowScanner) (domain.Agent, error) {
	var (
		a              domain.Agent
		capabilities   string
		allowedActions string
		enabled        int
		lastRunAt      sql.NullString
		lastRunStatus  sql.NullString
	)
	err := row.Scan(&a.ID, &a.Name, &a.Role, &a.Description, &capabilities, &allowedActions,
		&a.ModelProvider, &a.ModelID, &a.ScheduleIntervalMinutes, &a.MaxTasksPerRun, &enabled,
		&lastRunAt, &lastRunStatus, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Capabilities = unmarshalList(capabilities)
	a.AllowedActions = unmarshalList(allowedActions)
	a.Enabled = enabled != 0
	a.LastRunAt = strPtr(lastRunAt)
	a.LastRunStatus = strPtr(lastRunStatus)
	return a, nil
}

func (r Repo) InsertAgentTx(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agents(`+agentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, a.Role, a.Description, marshalList(a.Capabilities), marshalList(a.AllowedActions),
		a.ModelProvider, a.ModelID, a.ScheduleIntervalMinutes, a.MaxTasksPerRun, boolInt(a.Enabled),
		nullablePtr(a.LastRunAt), nullablePtr(a.LastRunStatus), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) UpdateAgentTx(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	res, err := tx.ExecContext(ctx, `UPDATE agents SET name=?,role=?,description=?,capabilities_json=?,allowed_actions_json=?,model_provider=?,model_id=?,schedule_interval_minutes=?,max_tasks_per_run=?,enabled=?,last_run_at=?,last_run_status=?,updated_at=? WHERE id=?`,
		a.Name, a.Role, a.Description, marshalList(a.Capabilities), marshalList(a.AllowedActions),
		a.ModelProvider, a.ModelID, a.ScheduleIntervalMinutes, a.MaxTasksPerRun, boolInt(a.Enabled),
		nullablePtr(a.LastRunAt), nullablePtr(a.LastRunStatus), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return scanAgent(r.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id))
}

func (r Repo) GetAgentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Agent, error) {
	return scanAgent(tx.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id))
}

func (r Repo) ListAgents(ctx context.Context, enabledOnly bool) ([]domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	if enabledOnly {
		query += ` WHERE enabled=1`
	}
	query += ` ORDER BY id ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertAgentRunTx(ctx context.Context, tx *sql.Tx, run domain.AgentRun) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agent_runs(id,agent_id,status,tasks_processed,insights_created,started_at,completed_at,duration_ms,error_message,tokens_used) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.AgentID, string(run.Status), run.TasksProcessed, run.InsightsCreated,
		run.StartedAt, nullablePtr(run.CompletedAt), nullableIntPtr(run.DurationMs), nullablePtr(run.ErrorMessage), run.TokensUsed)
	return err
}

func (r Repo) ListAgentRuns(ctx context.Context, agentID string, limit int) ([]domain.AgentRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,agent_id,status,tasks_processed,insights_created,started_at,completed_at,duration_ms,error_message,tokens_used FROM agent_runs WHERE agent_id=? ORDER BY started_at DESC, id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AgentRun
	for rows.Next() {
		var (
			run         domain.AgentRun
			completedAt sql.NullString
			durationMs  sql.NullInt64
			errMsg      sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.AgentID, &run.Status, &run.TasksProcessed, &run.InsightsCreated,
			&run.StartedAt, &completedAt, &durationMs, &errMsg, &run.TokensUsed); err != nil {
			return nil, err
		}
		run.CompletedAt = strPtr(completedAt)
		run.DurationMs = intPtr(durationMs)
		run.ErrorMessage = strPtr(errMsg)
		res = append(res, run)
	}
	return res, rows.Err()
}
