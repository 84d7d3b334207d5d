package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"workforce/internal/audit"
	"workforce/internal/domain"
	"workforce/internal/events"
	"workforce/internal/repo"
)

type AgentRegisterOptions struct {
	Name                    string
	Role                    string
	Description             string
	Capabilities            []string
	AllowedActions          []string
	ModelProvider           string
	ModelID                 string
	ScheduleIntervalMinutes int
	MaxTasksPerRun          int
}

// RegisterAgent adds an agent to the registry. The id is a slug of the
// name: lowercased, spaces replaced with underscores.
func (e *Engine) RegisterAgent(ctx context.Context, actor string, opts AgentRegisterOptions) (domain.Agent, error) {
	if opts.Name == "" {
		return domain.Agent{}, &ValidationError{Field: "name", Reason: "required"}
	}
	if opts.Role == "" {
		return domain.Agent{}, &ValidationError{Field: "role", Reason: "required"}
	}
	if opts.ModelProvider == "" {
		opts.ModelProvider = "openai"
	}
	if opts.ModelID == "" {
		opts.ModelID = "gpt-4o-mini"
	}
	if opts.ScheduleIntervalMinutes <= 0 {
		opts.ScheduleIntervalMinutes = 60
	}
	if opts.MaxTasksPerRun <= 0 {
		opts.MaxTasksPerRun = 10
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()

	id := agentSlug(opts.Name)
	if _, err := e.Repo.GetAgentTx(ctx, tx, id); err == nil {
		return domain.Agent{}, fmt.Errorf("agent %s: %w", id, repo.ErrAlreadyExists)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Agent{}, err
	}

	now := e.nowRFC3339()
	a := domain.Agent{
		ID:                      id,
		Name:                    opts.Name,
		Role:                    opts.Role,
		Description:             opts.Description,
		Capabilities:            emptyIfNil(opts.Capabilities),
		AllowedActions:          emptyIfNil(opts.AllowedActions),
		ModelProvider:           opts.ModelProvider,
		ModelID:                 opts.ModelID,
		ScheduleIntervalMinutes: opts.ScheduleIntervalMinutes,
		MaxTasksPerRun:          opts.MaxTasksPerRun,
		Enabled:                 true,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := e.Repo.InsertAgentTx(ctx, tx, a); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

// AgentPatch carries admin edits; nil fields are left alone.
type AgentPatch struct {
	Name                    *string
	Role                    *string
	Description             *string
	Capabilities            []string
	AllowedActions          []string
	ModelProvider           *string
	ModelID                 *string
	ScheduleIntervalMinutes *int
	MaxTasksPerRun          *int
	Enabled                 *bool
}

func (e *Engine) UpdateAgent(ctx context.Context, id string, patch AgentPatch) (domain.Agent, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAgentTx(ctx, tx, id)
	if err != nil {
		return domain.Agent{}, err
	}
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.Role != nil {
		a.Role = *patch.Role
	}
	if patch.Description != nil {
		a.Description = *patch.Description
	}
	if patch.Capabilities != nil {
		a.Capabilities = patch.Capabilities
	}
	if patch.AllowedActions != nil {
		a.AllowedActions = patch.AllowedActions
	}
	if patch.ModelProvider != nil {
		a.ModelProvider = *patch.ModelProvider
	}
	if patch.ModelID != nil {
		a.ModelID = *patch.ModelID
	}
	if patch.ScheduleIntervalMinutes != nil {
		a.ScheduleIntervalMinutes = *patch.ScheduleIntervalMinutes
	}
	if patch.MaxTasksPerRun != nil {
		a.MaxTasksPerRun = *patch.MaxTasksPerRun
	}
	if patch.Enabled != nil {
		a.Enabled = *patch.Enabled
	}
	a.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateAgentTx(ctx, tx, a); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

type RunOptions struct {
	Status          string
	TasksProcessed  int
	InsightsCreated int
	DurationMs      *int
	ErrorMessage    *string
	TokensUsed      int
}

// LogAgentRun records one execution cycle and stamps the agent's last-run
// fields. A running status leaves completed_at unset.
func (e *Engine) LogAgentRun(ctx context.Context, agentID string, opts RunOptions) (domain.AgentRun, error) {
	status := domain.RunStatus(opts.Status)
	if !status.Valid() {
		return domain.AgentRun{}, &ValidationError{Field: "status", Reason: "unknown value " + opts.Status}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AgentRun{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAgentTx(ctx, tx, agentID)
	if err != nil {
		return domain.AgentRun{}, err
	}
	now := e.nowRFC3339()
	run := domain.AgentRun{
		ID:              uuid.NewString(),
		AgentID:         agentID,
		Status:          status,
		TasksProcessed:  opts.TasksProcessed,
		InsightsCreated: opts.InsightsCreated,
		StartedAt:       now,
		DurationMs:      opts.DurationMs,
		ErrorMessage:    opts.ErrorMessage,
		TokensUsed:      opts.TokensUsed,
	}
	if status != domain.RunRunning {
		run.CompletedAt = &now
	}
	if err := e.Repo.InsertAgentRunTx(ctx, tx, run); err != nil {
		return domain.AgentRun{}, err
	}
	statusStr := string(status)
	a.LastRunAt = &now
	a.LastRunStatus = &statusStr
	a.UpdatedAt = now
	if err := e.Repo.UpdateAgentTx(ctx, tx, a); err != nil {
		return domain.AgentRun{}, err
	}
	evtType := domain.EventAgentRunEnd
	if status == domain.RunRunning {
		evtType = domain.EventAgentRunStart
	}
	if err := e.ledger().Append(ctx, tx, audit.Entry{
		EventType:  evtType,
		EntityType: "agent_run",
		EntityID:   run.ID,
		Actor:      agentID,
		ActorType:  domain.ActorAgent,
		NewValue:   map[string]any{"agent_id": agentID, "status": statusStr, "tasks_processed": run.TasksProcessed},
	}); err != nil {
		return domain.AgentRun{}, err
	}
	if err := e.emitter().Emit(ctx, tx, evtType, events.Payload{
		"agent_id": agentID,
		"run_id":   run.ID,
		"status":   statusStr,
	}); err != nil {
		return domain.AgentRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgentRun{}, err
	}
	return run, nil
}

func agentSlug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

func emptyIfNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
