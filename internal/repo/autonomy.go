package repo

import (
	"context"
	"database/sql"

	"workforce/internal/domain"
)

const sessionColumns = `id,mode,granted_by,granted_to,reason,starts_at,expires_at,revoked_at,revoked_by,created_at`

func scanSession(row rowScanner) (domain.AutonomySession, error) {
	var (
		s         domain.AutonomySession
		grantedTo sql.NullString
		revokedAt sql.NullString
		revokedBy sql.NullString
	)
	err := row.Scan(&s.ID, &s.Mode, &s.GrantedBy, &grantedTo, &s.Reason, &s.StartsAt, &s.ExpiresAt, &revokedAt, &revokedBy, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.GrantedTo = strPtr(grantedTo)
	s.RevokedAt = strPtr(revokedAt)
	s.RevokedBy = strPtr(revokedBy)
	return s, nil
}

func (r Repo) InsertAutonomySessionTx(ctx context.Context, tx *sql.Tx, s domain.AutonomySession) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO autonomy_sessions(`+sessionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, string(s.Mode), s.GrantedBy, nullablePtr(s.GrantedTo), s.Reason,
		s.StartsAt, s.ExpiresAt, nullablePtr(s.RevokedAt), nullablePtr(s.RevokedBy), s.CreatedAt)
	return err
}

func (r Repo) GetAutonomySessionTx(ctx context.Context, tx *sql.Tx, id string) (domain.AutonomySession, error) {
	return scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM autonomy_sessions WHERE id=?`, id))
}

func (r Repo) RevokeAutonomySessionTx(ctx context.Context, tx *sql.Tx, id, revokedAt, revokedBy string) error {
	res, err := tx.ExecContext(ctx, `UPDATE autonomy_sessions SET revoked_at=?, revoked_by=? WHERE id=? AND revoked_at IS NULL`, revokedAt, revokedBy, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveAutonomySession resolves the winning session at now: not revoked,
// started, not expired, scoped globally or to agentID, newest created_at.
func (r Repo) ActiveAutonomySession(ctx context.Context, agentID, now string) (domain.AutonomySession, error) {
	query := `SELECT ` + sessionColumns + ` FROM autonomy_sessions
WHERE revoked_at IS NULL AND starts_at<=? AND expires_at>?`
	args := []any{now, now}
	if agentID != "" {
		query += ` AND (granted_to IS NULL OR granted_to=?)`
		args = append(args, agentID)
	} else {
		query += ` AND granted_to IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`
	return scanSession(r.DB.QueryRowContext(ctx, query, args...))
}

func (r Repo) ListAutonomySessions(ctx context.Context, limit int) ([]domain.AutonomySession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sessionColumns+` FROM autonomy_sessions ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AutonomySession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
