package events_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"workforce/internal/db"
	"workforce/internal/events"
	"workforce/internal/migrate"
)

func newEmitter(t *testing.T) (events.Emitter, *sql.DB, *time.Time) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	em := events.Emitter{DB: conn, Now: func() time.Time { return clock }}
	return em, conn, &clock
}

func emit(t *testing.T, em events.Emitter, conn *sql.DB, evtType string, payload events.Payload) {
	t.Helper()
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := em.Emit(ctx, tx, evtType, payload); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimReturnsOldestFirst(t *testing.T) {
	em, conn, clock := newEmitter(t)
	ctx := context.Background()

	emit(t, em, conn, "TASK_CREATED", events.Payload{"task_id": "t1"})
	*clock = clock.Add(time.Second)
	emit(t, em, conn, "STATUS_CHANGED", events.Payload{"task_id": "t1"})
	*clock = clock.Add(time.Second)
	emit(t, em, conn, "DELIVERABLE_ADDED", events.Payload{"task_id": "t1"})

	got, err := em.Claim(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("claimed %d, want 2", len(got))
	}
	if got[0].EventType != "TASK_CREATED" || got[1].EventType != "STATUS_CHANGED" {
		t.Fatalf("order = %s, %s", got[0].EventType, got[1].EventType)
	}
	if got[0].Payload["task_id"] != "t1" {
		t.Fatalf("payload = %v", got[0].Payload)
	}

	// claiming without acking leaves events visible
	again, err := em.Claim(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 3 {
		t.Fatalf("reclaim = %d, want 3", len(again))
	}
}

func TestAckFlipsOnce(t *testing.T) {
	em, conn, _ := newEmitter(t)
	ctx := context.Background()

	emit(t, em, conn, "TASK_CREATED", nil)
	got, err := em.Claim(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("claimed %d", len(got))
	}
	id := got[0].ID

	if err := em.Ack(ctx, id, "worker-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	left, err := em.Claim(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Fatalf("events left after ack = %d", len(left))
	}

	// a retried ack succeeds without changing anything
	if err := em.Ack(ctx, id, "worker-2"); err != nil {
		t.Fatalf("double ack: %v", err)
	}
	processed := true
	listed, err := em.List(ctx, &processed, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 {
		t.Fatalf("processed events = %d", len(listed))
	}
	if listed[0].ProcessedBy == nil || *listed[0].ProcessedBy != "worker-1" {
		t.Fatalf("processed_by = %v, want first consumer kept", listed[0].ProcessedBy)
	}
}

func TestAckUnknownEvent(t *testing.T) {
	em, _, _ := newEmitter(t)
	err := em.Ack(context.Background(), "no-such-id", "worker-1")
	if !errors.Is(err, events.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFiltersByProcessed(t *testing.T) {
	em, conn, clock := newEmitter(t)
	ctx := context.Background()

	emit(t, em, conn, "TASK_CREATED", nil)
	*clock = clock.Add(time.Second)
	emit(t, em, conn, "STATUS_CHANGED", nil)

	claimed, err := em.Claim(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := em.Ack(ctx, claimed[0].ID, "worker-1"); err != nil {
		t.Fatal(err)
	}

	all, err := em.List(ctx, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all = %d", len(all))
	}
	unprocessed := false
	pending, err := em.List(ctx, &unprocessed, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].EventType != "STATUS_CHANGED" {
		t.Fatalf("pending = %+v", pending)
	}
}
