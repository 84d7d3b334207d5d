package server

import (
	"workforce/internal/domain"
)

type TaskResponse struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	OwnerAgent       *string        `json:"owner_agent,omitempty"`
	AssignedBy       string         `json:"assigned_by,omitempty"`
	Status           string         `json:"status"`
	Priority         string         `json:"priority"`
	Tags             []string       `json:"tags"`
	Source           string         `json:"source"`
	ExternalRefs     map[string]any `json:"external_refs,omitempty"`
	ImpactScore      *int           `json:"impact_score,omitempty"`
	EffortEstimate   *string        `json:"effort_estimate,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
	ApprovedBy       *string        `json:"approved_by,omitempty"`
	ApprovedAt       *string        `json:"approved_at,omitempty"`
	ParentTaskID     *string        `json:"parent_task_id,omitempty"`
	DueAt            *string        `json:"due_at,omitempty"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:               t.ID,
		Title:            t.Title,
		Description:      t.Description,
		OwnerAgent:       t.OwnerAgent,
		AssignedBy:       t.AssignedBy,
		Status:           string(t.Status),
		Priority:         string(t.Priority),
		Tags:             nonNilSlice(t.Tags),
		Source:           t.Source,
		ExternalRefs:     t.ExternalRefs,
		ImpactScore:      t.ImpactScore,
		EffortEstimate:   t.EffortEstimate,
		RequiresApproval: t.RequiresApproval,
		ApprovedBy:       t.ApprovedBy,
		ApprovedAt:       t.ApprovedAt,
		ParentTaskID:     t.ParentTaskID,
		DueAt:            t.DueAt,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func mapTasks(tasks []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(t))
	}
	return out
}

type CreateTaskRequest struct {
	Title            string         `json:"title" validate:"required,max=500"`
	Description      string         `json:"description,omitempty"`
	OwnerAgent       *string        `json:"owner_agent,omitempty"`
	Priority         string         `json:"priority,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	Source           string         `json:"source,omitempty"`
	ExternalRefs     map[string]any `json:"external_refs,omitempty"`
	ImpactScore      *int           `json:"impact_score,omitempty" validate:"omitempty,min=1,max=10"`
	EffortEstimate   *string        `json:"effort_estimate,omitempty"`
	RequiresApproval *bool          `json:"requires_approval,omitempty"`
	ParentTaskID     *string        `json:"parent_task_id,omitempty"`
	DueAt            *string        `json:"due_at,omitempty"`
}

type UpdateTaskRequest struct {
	Title            *string        `json:"title,omitempty" validate:"omitempty,max=500"`
	Description      *string        `json:"description,omitempty"`
	OwnerAgent       *string        `json:"owner_agent,omitempty"`
	Status           *string        `json:"status,omitempty"`
	Priority         *string        `json:"priority,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	RequiresApproval *bool          `json:"requires_approval,omitempty"`
	DueAt            *string        `json:"due_at,omitempty"`
	ImpactScore      *int           `json:"impact_score,omitempty" validate:"omitempty,min=1,max=10"`
	EffortEstimate   *string        `json:"effort_estimate,omitempty"`
	ExternalRefs     map[string]any `json:"external_refs,omitempty"`
}

type ApprovalRequest struct {
	Action string `json:"action" validate:"required,oneof=approve reject" enum:"approve,reject"`
	Reason string `json:"reason,omitempty"`
}

type IntakeRequest struct {
	Message  string `json:"message" validate:"required"`
	Source   string `json:"source,omitempty"`
	Priority string `json:"priority,omitempty"`
}

type DeliverableResponse struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	CreatedBy   string `json:"created_by"`
	IsFinal     bool   `json:"is_final"`
	CreatedAt   string `json:"created_at"`
}

func deliverableResponse(d domain.Deliverable) DeliverableResponse {
	return DeliverableResponse(d)
}

type AddDeliverableRequest struct {
	Title       string `json:"title" validate:"required,max=500"`
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	IsFinal     bool   `json:"is_final,omitempty"`
}

type InsightResponse struct {
	ID               string  `json:"id"`
	TaskID           *string `json:"task_id,omitempty"`
	Agent            string  `json:"agent"`
	Content          string  `json:"content"`
	InsightType      string  `json:"insight_type"`
	PromotedToTaskID *string `json:"promoted_to_task_id,omitempty"`
	PromotedAt       *string `json:"promoted_at,omitempty"`
	ExpiresAt        string  `json:"expires_at"`
	CreatedAt        string  `json:"created_at"`
}

func insightResponse(in domain.Insight) InsightResponse {
	return InsightResponse(in)
}

type AddInsightRequest struct {
	TaskID      *string `json:"task_id,omitempty"`
	Content     string  `json:"content" validate:"required"`
	InsightType string  `json:"insight_type,omitempty"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
}

type AgentResponse struct {
	ID                      string   `json:"id"`
	Name                    string   `json:"name"`
	Role                    string   `json:"role"`
	Description             string   `json:"description"`
	Capabilities            []string `json:"capabilities"`
	AllowedActions          []string `json:"allowed_actions"`
	ModelProvider           string   `json:"model_provider"`
	ModelID                 string   `json:"model_id"`
	ScheduleIntervalMinutes int      `json:"schedule_interval_minutes"`
	MaxTasksPerRun          int      `json:"max_tasks_per_run"`
	Enabled                 bool     `json:"enabled"`
	LastRunAt               *string  `json:"last_run_at,omitempty"`
	LastRunStatus           *string  `json:"last_run_status,omitempty"`
	CreatedAt               string   `json:"created_at"`
	UpdatedAt               string   `json:"updated_at"`
}

func agentResponse(a domain.Agent) AgentResponse {
	r := AgentResponse(a)
	r.Capabilities = nonNilSlice(r.Capabilities)
	r.AllowedActions = nonNilSlice(r.AllowedActions)
	return r
}

type AutonomySessionResponse struct {
	ID        string  `json:"id"`
	Mode      string  `json:"mode"`
	GrantedBy string  `json:"granted_by"`
	GrantedTo *string `json:"granted_to,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	StartsAt  string  `json:"starts_at"`
	ExpiresAt string  `json:"expires_at"`
	RevokedAt *string `json:"revoked_at,omitempty"`
	RevokedBy *string `json:"revoked_by,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func sessionResponse(s domain.AutonomySession) AutonomySessionResponse {
	return AutonomySessionResponse{
		ID:        s.ID,
		Mode:      string(s.Mode),
		GrantedBy: s.GrantedBy,
		GrantedTo: s.GrantedTo,
		Reason:    s.Reason,
		StartsAt:  s.StartsAt,
		ExpiresAt: s.ExpiresAt,
		RevokedAt: s.RevokedAt,
		RevokedBy: s.RevokedBy,
		CreatedAt: s.CreatedAt,
	}
}

type GrantAutonomyRequest struct {
	Mode            string  `json:"mode" validate:"required,oneof=advisory review_only full_autonomy" enum:"advisory,review_only,full_autonomy"`
	DurationMinutes int     `json:"duration_minutes" validate:"required,min=1,max=480"`
	GrantedTo       *string `json:"granted_to,omitempty"`
	Reason          string  `json:"reason,omitempty"`
}

type EventResponse struct {
	ID          string         `json:"id"`
	EventType   string         `json:"event_type"`
	Payload     map[string]any `json:"payload"`
	Processed   bool           `json:"processed"`
	ProcessedAt *string        `json:"processed_at,omitempty"`
	ProcessedBy *string        `json:"processed_by,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

func eventResponse(ev domain.Event) EventResponse {
	return EventResponse(ev)
}

type AuditEntryResponse struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor"`
	ActorType  string         `json:"actor_type"`
	OldValue   map[string]any `json:"old_value,omitempty"`
	NewValue   map[string]any `json:"new_value,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

func auditResponse(e domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:         e.ID,
		EventType:  e.EventType,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Actor:      e.Actor,
		ActorType:  string(e.ActorType),
		OldValue:   e.OldValue,
		NewValue:   e.NewValue,
		Metadata:   e.Metadata,
		CreatedAt:  e.CreatedAt,
	}
}

func nonNilSlice(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
