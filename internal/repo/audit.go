package repo

import (
	"context"
	"database/sql"
	"strings"

	"workforce/internal/domain"
)

type AuditFilters struct {
	EntityType string
	EntityID   string
	EventType  string
	Actor      string
	Limit      int
}

func (r Repo) ListAuditEntries(ctx context.Context, f AuditFilters) ([]domain.AuditEntry, error) {
	var (
		clauses []string
		args    []any
	)
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.EventType != "" {
		clauses = append(clauses, "event_type=?")
		args = append(args, f.EventType)
	}
	if f.Actor != "" {
		clauses = append(clauses, "actor=?")
		args = append(args, f.Actor)
	}
	query := `SELECT id,event_type,entity_type,entity_id,actor,actor_type,old_value_json,new_value_json,metadata_json,created_at FROM audit_log`
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
	var res []domain.AuditEntry
	for rows.Next() {
		var (
			e    domain.AuditEntry
			old  sql.NullString
			nv   sql.NullString
			meta sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.EntityType, &e.EntityID, &e.Actor, &e.ActorType, &old, &nv, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OldValue = unmarshalMap(old)
		e.NewValue = unmarshalMap(nv)
		e.Metadata = unmarshalMap(meta)
		res = append(res, e)
	}
	return res, rows.Err()
}
