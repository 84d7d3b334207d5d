package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"workforce/internal/audit"
	"workforce/internal/domain"
	"workforce/internal/repo"
)

const (
	minGrantMinutes = 1
	maxGrantMinutes = 480
)

type GrantOptions struct {
	Mode            string
	DurationMinutes int
	GrantedTo       *string
	Reason          string
}

// GrantAutonomy opens a time-boxed autonomy session.
func (e *Engine) GrantAutonomy(ctx context.Context, grantedBy string, opts GrantOptions) (domain.AutonomySession, error) {
	mode := domain.Mode(opts.Mode)
	if !mode.Valid() {
		return domain.AutonomySession{}, &ValidationError{Field: "mode", Reason: "unknown value " + opts.Mode}
	}
	if opts.DurationMinutes < minGrantMinutes || opts.DurationMinutes > maxGrantMinutes {
		return domain.AutonomySession{}, &ValidationError{Field: "duration_minutes", Reason: "must be 1..480"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AutonomySession{}, err
	}
	defer tx.Rollback()

	if opts.GrantedTo != nil {
		if _, err := e.Repo.GetAgentTx(ctx, tx, *opts.GrantedTo); err != nil {
			return domain.AutonomySession{}, err
		}
	}
	now := e.now().UTC()
	s := domain.AutonomySession{
		ID:        uuid.NewString(),
		Mode:      mode,
		GrantedBy: grantedBy,
		GrantedTo: opts.GrantedTo,
		Reason:    opts.Reason,
		StartsAt:  now.Format(time.RFC3339),
		ExpiresAt: now.Add(time.Duration(opts.DurationMinutes) * time.Minute).Format(time.RFC3339),
		CreatedAt: now.Format(time.RFC3339),
	}
	if err := e.Repo.InsertAutonomySessionTx(ctx, tx, s); err != nil {
		return domain.AutonomySession{}, err
	}
	if err := e.ledger().Append(ctx, tx, audit.Entry{
		EventType:  domain.EventAutonomyModeChanged,
		EntityType: "autonomy_session",
		EntityID:   s.ID,
		Actor:      grantedBy,
		ActorType:  domain.ActorHuman,
		NewValue:   map[string]any{"mode": string(s.Mode), "granted_to": s.GrantedTo, "expires_at": s.ExpiresAt},
		Metadata:   map[string]any{"reason": opts.Reason},
	}); err != nil {
		return domain.AutonomySession{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AutonomySession{}, err
	}
	return s, nil
}

// CurrentMode resolves the operating mode for an agent (or globally when
// agentID is empty). The newest live session wins; with none, the
// configured default applies.
func (e *Engine) CurrentMode(ctx context.Context, agentID string) (domain.Mode, *domain.AutonomySession, error) {
	now := e.nowRFC3339()
	s, err := e.Repo.ActiveAutonomySession(ctx, agentID, now)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Mode(e.Config.DefaultAutonomyMode), nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return s.Mode, &s, nil
}

// RevokeAutonomy ends a session before its expiry. Revoking twice fails.
func (e *Engine) RevokeAutonomy(ctx context.Context, id, revokedBy string) (domain.AutonomySession, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AutonomySession{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetAutonomySessionTx(ctx, tx, id)
	if err != nil {
		return domain.AutonomySession{}, err
	}
	if s.RevokedAt != nil {
		return domain.AutonomySession{}, &PreconditionError{Reason: "session already revoked"}
	}
	now := e.nowRFC3339()
	if err := e.Repo.RevokeAutonomySessionTx(ctx, tx, id, now, revokedBy); err != nil {
		return domain.AutonomySession{}, err
	}
	s.RevokedAt = &now
	s.RevokedBy = &revokedBy
	if err := e.ledger().Append(ctx, tx, audit.Entry{
		EventType:  domain.EventAutonomyModeChanged,
		EntityType: "autonomy_session",
		EntityID:   s.ID,
		Actor:      revokedBy,
		ActorType:  domain.ActorHuman,
		OldValue:   map[string]any{"mode": string(s.Mode)},
		Metadata:   map[string]any{"revoked": true},
	}); err != nil {
		return domain.AutonomySession{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AutonomySession{}, err
	}
	return s, nil
}
