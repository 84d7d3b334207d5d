package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"workforce/internal/domain"
)

// ErrNotFound is returned by Ack for an unknown event id.
var ErrNotFound = errors.New("event not found")

// Emitter appends events alongside mutations and hands them to polling
// consumers. Delivery is at least once: Claim does not mark rows, so a
// consumer that claims and crashes before Ack will see the event again.
// Consumers must be idempotent.
type Emitter struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

// Emit inserts an unprocessed event inside the caller's transaction.
func (e Emitter) Emit(ctx context.Context, tx *sql.Tx, evtType string, payload Payload) error {
	if e.Now == nil {
		e.Now = time.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	ts := e.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `INSERT INTO events(id,event_type,payload_json,processed,created_at) VALUES (?,?,?,0,?)`,
		uuid.NewString(), evtType, string(data), ts)
	return err
}

// Claim returns up to limit unprocessed events, oldest first.
func (e Emitter) Claim(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := e.DB.QueryContext(ctx, `SELECT id,event_type,payload_json,processed,processed_at,processed_by,created_at FROM events WHERE processed=0 ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// List returns events filtered by processed state; processed==nil means all.
func (e Emitter) List(ctx context.Context, processed *bool, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,event_type,payload_json,processed,processed_at,processed_by,created_at FROM events`
	args := []any{}
	if processed != nil {
		query += ` WHERE processed=?`
		if *processed {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := e.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Ack marks one event processed. Acking an already-processed event is a
// no-op that still succeeds, matching at-least-once consumer retries.
func (e Emitter) Ack(ctx context.Context, id, consumer string) error {
	if e.Now == nil {
		e.Now = time.Now
	}
	ts := e.Now().UTC().Format(time.RFC3339)
	res, err := e.DB.ExecContext(ctx, `UPDATE events SET processed=1, processed_at=?, processed_by=? WHERE id=? AND processed=0`, ts, consumer, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := e.DB.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id=?`, id).Scan(&exists); err == sql.ErrNoRows {
			return ErrNotFound
		} else if err != nil {
			return err
		}
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var out []domain.Event
	for rows.Next() {
		var (
			ev          domain.Event
			payload     string
			processed   int
			processedAt sql.NullString
			processedBy sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.EventType, &payload, &processed, &processedAt, &processedBy, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Processed = processed != 0
		if processedAt.Valid {
			ev.ProcessedAt = &processedAt.String
		}
		if processedBy.Valid {
			ev.ProcessedBy = &processedBy.String
		}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			ev.Payload = map[string]any{}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
