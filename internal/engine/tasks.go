package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"workforce/internal/audit"
	"workforce/internal/domain"
	"workforce/internal/events"
)

type TaskCreateOptions struct {
	Title            string
	Description      string
	OwnerAgent       *string
	Priority         string
	Tags             []string
	Source           string
	ExternalRefs     map[string]any
	ImpactScore      *int
	EffortEstimate   *string
	RequiresApproval *bool
	ParentTaskID     *string
	DueAt            *string
}

// CreateTask inserts a new task in BACKLOG and records TASK_CREATED in the
// audit log and on the event stream, all in one transaction.
func (e *Engine) CreateTask(ctx context.Context, actor string, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, &ValidationError{Field: "title", Reason: "required"}
	}
	priority := domain.Priority(opts.Priority)
	if opts.Priority == "" {
		priority = domain.PriorityP2
	} else if !priority.Valid() {
		return domain.Task{}, &ValidationError{Field: "priority", Reason: "unknown value " + opts.Priority}
	}
	if opts.EffortEstimate != nil && !domain.EffortEstimate(*opts.EffortEstimate).Valid() {
		return domain.Task{}, &ValidationError{Field: "effort_estimate", Reason: "unknown value " + *opts.EffortEstimate}
	}
	if opts.ImpactScore != nil && (*opts.ImpactScore < 1 || *opts.ImpactScore > 10) {
		return domain.Task{}, &ValidationError{Field: "impact_score", Reason: "must be 1..10"}
	}
	if opts.DueAt != nil {
		if _, err := time.Parse(time.RFC3339, *opts.DueAt); err != nil {
			return domain.Task{}, &ValidationError{Field: "due_at", Reason: "must be RFC3339"}
		}
	}
	source := opts.Source
	if source == "" {
		source = "manual"
	}
	requiresApproval := e.Config.ApprovalRequiredForDone
	if opts.RequiresApproval != nil {
		requiresApproval = *opts.RequiresApproval
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if opts.ParentTaskID != nil {
		if _, err := e.Repo.GetTaskTx(ctx, tx, *opts.ParentTaskID); err != nil {
			return domain.Task{}, err
		}
	}

	now := e.nowRFC3339()
	t := domain.Task{
		ID:               uuid.NewString(),
		Title:            opts.Title,
		Description:      opts.Description,
		OwnerAgent:       opts.OwnerAgent,
		AssignedBy:       actor,
		Status:           domain.StatusBacklog,
		Priority:         priority,
		Tags:             opts.Tags,
		Source:           source,
		ExternalRefs:     opts.ExternalRefs,
		ImpactScore:      opts.ImpactScore,
		EffortEstimate:   opts.EffortEstimate,
		RequiresApproval: requiresApproval,
		ParentTaskID:     opts.ParentTaskID,
		DueAt:            opts.DueAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.ledger().Append(ctx, tx, audit.Entry{
		EventType:  domain.EventTaskCreated,
		EntityType: "task",
		EntityID:   t.ID,
		Actor:      actor,
		ActorType:  e.actorTypeTx(ctx, tx, actor),
		NewValue:   taskSnapshot(t),
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.emitter().Emit(ctx, tx, domain.EventTaskCreated, events.Payload{
		"task_id":     t.ID,
		"owner_agent": t.OwnerAgent,
		"priority":    string(t.Priority),
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskPatch carries the fields an update may touch; nil means leave alone.
// OwnerAgent set to the empty string clears the owner.
type TaskPatch struct {
	Title            *string
	Description      *string
	OwnerAgent       *string
	Status           *string
	Priority         *string
	Tags             []string
	RequiresApproval *bool
	DueAt            *string
	ImpactScore      *int
	EffortEstimate   *string
	ExternalRefs     map[string]any
}

// UpdateTask applies a patch under the DONE gate. The read, the gate checks
// and the write share one transaction, so a concurrent deliverable delete or
// approval flip cannot slip between them.
func (e *Engine) UpdateTask(ctx context.Context, id, actor string, patch TaskPatch) (domain.Task, error) {
	if patch.Status != nil && !domain.Status(*patch.Status).Valid() {
		return domain.Task{}, &ValidationError{Field: "status", Reason: "unknown value " + *patch.Status}
	}
	if patch.Priority != nil && !domain.Priority(*patch.Priority).Valid() {
		return domain.Task{}, &ValidationError{Field: "priority", Reason: "unknown value " + *patch.Priority}
	}
	if patch.EffortEstimate != nil && !domain.EffortEstimate(*patch.EffortEstimate).Valid() {
		return domain.Task{}, &ValidationError{Field: "effort_estimate", Reason: "unknown value " + *patch.EffortEstimate}
	}
	if patch.ImpactScore != nil && (*patch.ImpactScore < 1 || *patch.ImpactScore > 10) {
		return domain.Task{}, &ValidationError{Field: "impact_score", Reason: "must be 1..10"}
	}
	if patch.DueAt != nil && *patch.DueAt != "" {
		if _, err := time.Parse(time.RFC3339, *patch.DueAt); err != nil {
			return domain.Task{}, &ValidationError{Field: "due_at", Reason: "must be RFC3339"}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	oldStatus := t.Status

	requiresApproval := t.RequiresApproval
	if patch.RequiresApproval != nil {
		requiresApproval = *patch.RequiresApproval
	}
	if patch.Status != nil && domain.Status(*patch.Status) == domain.StatusDone && t.Status != domain.StatusDone {
		n, err := e.Repo.CountDeliverablesTx(ctx, tx, t.ID)
		if err != nil {
			return domain.Task{}, err
		}
		if n == 0 {
			return domain.Task{}, &PreconditionError{Reason: "task cannot move to DONE without a deliverable"}
		}
		if requiresApproval && t.ApprovedBy == nil {
			return domain.Task{}, &PreconditionError{Reason: "task requires human approval before DONE"}
		}
	}

	oldVals := map[string]any{}
	newVals := map[string]any{}
	touch := func(field string, oldV, newV any) {
		oldVals[field] = oldV
		newVals[field] = newV
	}
	if patch.Title != nil && *patch.Title != t.Title {
		touch("title", t.Title, *patch.Title)
		t.Title = *patch.Title
	}
	if patch.Description != nil && *patch.Description != t.Description {
		touch("description", t.Description, *patch.Description)
		t.Description = *patch.Description
	}
	if patch.OwnerAgent != nil {
		touch("owner_agent", derefOr(t.OwnerAgent, ""), *patch.OwnerAgent)
		if *patch.OwnerAgent == "" {
			t.OwnerAgent = nil
		} else {
			t.OwnerAgent = patch.OwnerAgent
		}
	}
	if patch.Status != nil && domain.Status(*patch.Status) != t.Status {
		touch("status", string(t.Status), *patch.Status)
		t.Status = domain.Status(*patch.Status)
	}
	if patch.Priority != nil && domain.Priority(*patch.Priority) != t.Priority {
		touch("priority", string(t.Priority), *patch.Priority)
		t.Priority = domain.Priority(*patch.Priority)
	}
	if patch.Tags != nil {
		touch("tags", t.Tags, patch.Tags)
		t.Tags = patch.Tags
	}
	if patch.RequiresApproval != nil && *patch.RequiresApproval != t.RequiresApproval {
		touch("requires_approval", t.RequiresApproval, *patch.RequiresApproval)
		t.RequiresApproval = *patch.RequiresApproval
	}
	if patch.DueAt != nil {
		touch("due_at", derefOr(t.DueAt, ""), *patch.DueAt)
		if *patch.DueAt == "" {
			t.DueAt = nil
		} else {
			t.DueAt = patch.DueAt
		}
	}
	if patch.ImpactScore != nil {
		touch("impact_score", t.ImpactScore, *patch.ImpactScore)
		t.ImpactScore = patch.ImpactScore
	}
	if patch.EffortEstimate != nil {
		touch("effort_estimate", derefOr(t.EffortEstimate, ""), *patch.EffortEstimate)
		t.EffortEstimate = patch.EffortEstimate
	}
	if patch.ExternalRefs != nil {
		touch("external_refs", t.ExternalRefs, patch.ExternalRefs)
		t.ExternalRefs = patch.ExternalRefs
	}
	if len(newVals) == 0 {
		return t, nil
	}

	t.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.ledger().Append(ctx, tx, audit.Entry{
		EventType:  domain.EventTaskUpdated,
		EntityType: "task",
		EntityID:   t.ID,
		Actor:      actor,
		ActorType:  e.actorTypeTx(ctx, tx, actor),
		OldValue:   oldVals,
		NewValue:   newVals,
	}); err != nil {
		return domain.Task{}, err
	}
	if t.Status != oldStatus {
		if err := e.emitter().Emit(ctx, tx, domain.EventStatusChanged, events.Payload{
			"task_id":    t.ID,
			"old_status": string(oldStatus),
			"new_status": string(t.Status),
		}); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ApproveTask records a human sign-off on the task.
func (e *Engine) ApproveTask(ctx context.Context, id, actor string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.nowRFC3339()
	t.ApprovedBy = &actor
	t.ApprovedAt = &now
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.ledger().Append(ctx, tx, audit.Entry{
		EventType:  domain.EventHumanApproved,
		EntityType: "task",
		EntityID:   t.ID,
		Actor:      actor,
		ActorType:  domain.ActorHuman,
		NewValue:   map[string]any{"approved_by": actor, "approved_at": now},
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// RejectTask sends the task back to BACKLOG and clears any prior approval.
func (e *Engine) RejectTask(ctx context.Context, id, actor, reason string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	oldStatus := t.Status
	now := e.nowRFC3339()
	t.Status = domain.StatusBacklog
	t.ApprovedBy = nil
	t.ApprovedAt = nil
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.ledger().Append(ctx, tx, audit.Entry{
		EventType:  domain.EventHumanRejected,
		EntityType: "task",
		EntityID:   t.ID,
		Actor:      actor,
		ActorType:  domain.ActorHuman,
		OldValue:   map[string]any{"status": string(oldStatus)},
		NewValue:   map[string]any{"status": string(domain.StatusBacklog)},
		Metadata:   map[string]any{"reason": reason},
	}); err != nil {
		return domain.Task{}, err
	}
	if t.Status != oldStatus {
		if err := e.emitter().Emit(ctx, tx, domain.EventStatusChanged, events.Payload{
			"task_id":    t.ID,
			"old_status": string(oldStatus),
			"new_status": string(t.Status),
		}); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

type DeliverableOptions struct {
	Title       string
	Content     string
	ContentType string
	IsFinal     bool
}

// AddDeliverable attaches an immutable work product to a task.
func (e *Engine) AddDeliverable(ctx context.Context, taskID, actor string, opts DeliverableOptions) (domain.Deliverable, error) {
	if opts.Title == "" {
		return domain.Deliverable{}, &ValidationError{Field: "title", Reason: "required"}
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "markdown"
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Deliverable{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetTaskTx(ctx, tx, taskID); err != nil {
		return domain.Deliverable{}, err
	}
	d := domain.Deliverable{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		Title:       opts.Title,
		Content:     opts.Content,
		ContentType: contentType,
		CreatedBy:   actor,
		IsFinal:     opts.IsFinal,
		CreatedAt:   e.nowRFC3339(),
	}
	if err := e.Repo.InsertDeliverableTx(ctx, tx, d); err != nil {
		return domain.Deliverable{}, err
	}
	if err := e.ledger().Append(ctx, tx, audit.Entry{
		EventType:  domain.EventDeliverableAdded,
		EntityType: "deliverable",
		EntityID:   d.ID,
		Actor:      actor,
		ActorType:  e.actorTypeTx(ctx, tx, actor),
		NewValue:   map[string]any{"task_id": taskID, "title": d.Title, "content_type": d.ContentType, "is_final": d.IsFinal},
	}); err != nil {
		return domain.Deliverable{}, err
	}
	if err := e.emitter().Emit(ctx, tx, domain.EventDeliverableAdded, events.Payload{
		"task_id":        taskID,
		"deliverable_id": d.ID,
	}); err != nil {
		return domain.Deliverable{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Deliverable{}, err
	}
	return d, nil
}

func taskSnapshot(t domain.Task) map[string]any {
	return map[string]any{
		"title":             t.Title,
		"owner_agent":       t.OwnerAgent,
		"status":            string(t.Status),
		"priority":          string(t.Priority),
		"source":            t.Source,
		"requires_approval": t.RequiresApproval,
	}
}

func derefOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
