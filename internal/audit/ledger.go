package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"workforce/internal/domain"
)

// Ledger writes audit rows. Append is the only operation; nothing in the
// codebase updates or deletes audit_log rows.
type Ledger struct {
	DB  *sql.DB
	Now func() time.Time
}

// Entry describes one audited mutation.
type Entry struct {
	EventType  string
	EntityType string
	EntityID   string
	Actor      string
	ActorType  domain.ActorType
	OldValue   map[string]any
	NewValue   map[string]any
	Metadata   map[string]any
}

// Append inserts an audit row inside the caller's transaction, so the
// mutation and its audit record commit or roll back together.
func (l Ledger) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	if l.Now == nil {
		l.Now = time.Now
	}
	if e.ActorType == "" {
		e.ActorType = domain.ActorSystem
	}
	old, err := marshalOptional(e.OldValue)
	if err != nil {
		return fmt.Errorf("marshal audit old_value: %w", err)
	}
	nv, err := marshalOptional(e.NewValue)
	if err != nil {
		return fmt.Errorf("marshal audit new_value: %w", err)
	}
	meta, err := marshalOptional(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	ts := l.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_log(id,event_type,entity_type,entity_id,actor,actor_type,old_value_json,new_value_json,metadata_json,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		uuid.NewString(), e.EventType, e.EntityType, e.EntityID, e.Actor, string(e.ActorType), old, nv, meta, ts)
	return err
}

func marshalOptional(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
