package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"workforce/internal/audit"
	"workforce/internal/config"
	"workforce/internal/domain"
	"workforce/internal/events"
	"workforce/internal/repo"
)

// Engine owns every mutation of the store. Each operation reads, validates,
// writes, audits and emits inside a single transaction.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Ledger
	Events events.Emitter
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	now := time.Now
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Ledger{DB: db, Now: now},
		Events: events.Emitter{DB: db, Now: now},
		Config: cfg,
		Now:    now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// ledger returns the audit writer pinned to the engine clock, so injected
// time in tests flows through audit rows too.
func (e *Engine) ledger() audit.Ledger {
	return audit.Ledger{DB: e.DB, Now: e.Now}
}

func (e *Engine) emitter() events.Emitter {
	return events.Emitter{DB: e.DB, Now: e.Now}
}

// actorTypeTx classifies an actor: a registered agent id is an agent,
// "system" is the system, anything else is a human identity.
func (e *Engine) actorTypeTx(ctx context.Context, tx *sql.Tx, actor string) domain.ActorType {
	if actor == "system" {
		return domain.ActorSystem
	}
	if _, err := e.Repo.GetAgentTx(ctx, tx, actor); err == nil {
		return domain.ActorAgent
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.ActorSystem
	}
	return domain.ActorHuman
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
