package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"workforce/internal/audit"
	"workforce/internal/domain"
	"workforce/internal/events"
)

const insightTTL = 7 * 24 * time.Hour

type InsightOptions struct {
	TaskID      *string
	Content     string
	InsightType string
	ExpiresAt   *string
}

// AddInsight records an agent observation, expiring after a week unless an
// explicit expiry is given.
func (e *Engine) AddInsight(ctx context.Context, agent string, opts InsightOptions) (domain.Insight, error) {
	if opts.Content == "" {
		return domain.Insight{}, &ValidationError{Field: "content", Reason: "required"}
	}
	insightType := opts.InsightType
	if insightType == "" {
		insightType = "observation"
	}
	if !domain.ValidInsightType(insightType) {
		return domain.Insight{}, &ValidationError{Field: "insight_type", Reason: "unknown value " + insightType}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Insight{}, err
	}
	defer tx.Rollback()

	if opts.TaskID != nil {
		if _, err := e.Repo.GetTaskTx(ctx, tx, *opts.TaskID); err != nil {
			return domain.Insight{}, err
		}
	}
	now := e.now().UTC()
	expiresAt := now.Add(insightTTL).Format(time.RFC3339)
	if opts.ExpiresAt != nil {
		if _, err := time.Parse(time.RFC3339, *opts.ExpiresAt); err != nil {
			return domain.Insight{}, &ValidationError{Field: "expires_at", Reason: "must be RFC3339"}
		}
		expiresAt = *opts.ExpiresAt
	}
	in := domain.Insight{
		ID:          uuid.NewString(),
		TaskID:      opts.TaskID,
		Agent:       agent,
		Content:     opts.Content,
		InsightType: insightType,
		ExpiresAt:   expiresAt,
		CreatedAt:   now.Format(time.RFC3339),
	}
	if err := e.Repo.InsertInsightTx(ctx, tx, in); err != nil {
		return domain.Insight{}, err
	}
	if err := e.ledger().Append(ctx, tx, audit.Entry{
		EventType:  domain.EventInsightAdded,
		EntityType: "insight",
		EntityID:   in.ID,
		Actor:      agent,
		ActorType:  e.actorTypeTx(ctx, tx, agent),
		NewValue:   map[string]any{"task_id": in.TaskID, "insight_type": in.InsightType},
	}); err != nil {
		return domain.Insight{}, err
	}
	if err := e.emitter().Emit(ctx, tx, domain.EventInsightAdded, events.Payload{
		"insight_id": in.ID,
		"agent":      agent,
	}); err != nil {
		return domain.Insight{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Insight{}, err
	}
	return in, nil
}

// PromoteInsight turns an insight into a backlog task. Only the configured
// router actor may promote, and an insight promotes at most once.
func (e *Engine) PromoteInsight(ctx context.Context, insightID, promotedBy string) (domain.Task, error) {
	if promotedBy != e.Config.RouterActor {
		return domain.Task{}, &UnauthorizedError{Actor: promotedBy, Operation: "promote insights"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	in, err := e.Repo.GetInsightTx(ctx, tx, insightID)
	if err != nil {
		return domain.Task{}, err
	}
	if in.PromotedToTaskID != nil {
		return domain.Task{}, &PreconditionError{Reason: "insight already promoted to task " + *in.PromotedToTaskID}
	}

	now := e.nowRFC3339()
	t := domain.Task{
		ID:               uuid.NewString(),
		Title:            "[From Insight] " + truncate(in.Content, 100),
		Description:      in.Content,
		AssignedBy:       promotedBy,
		Status:           domain.StatusBacklog,
		Priority:         domain.PriorityP2,
		Tags:             []string{},
		Source:           "insight_promotion",
		RequiresApproval: e.Config.ApprovalRequiredForDone,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.MarkInsightPromotedTx(ctx, tx, in.ID, t.ID, now); err != nil {
		return domain.Task{}, err
	}
	if err := e.ledger().Append(ctx, tx, audit.Entry{
		EventType:  domain.EventTaskCreated,
		EntityType: "task",
		EntityID:   t.ID,
		Actor:      promotedBy,
		ActorType:  e.actorTypeTx(ctx, tx, promotedBy),
		NewValue:   taskSnapshot(t),
		Metadata:   map[string]any{"insight_id": in.ID},
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.emitter().Emit(ctx, tx, domain.EventTaskCreated, events.Payload{
		"task_id":    t.ID,
		"insight_id": in.ID,
		"priority":   string(t.Priority),
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}
