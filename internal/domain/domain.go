package domain

// Status is the governed task lifecycle state.
type Status string

const (
	StatusBacklog     Status = "BACKLOG"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusNeedsReview Status = "NEEDS_REVIEW"
	StatusDone        Status = "DONE"
	StatusBlocked     Status = "BLOCKED"
	StatusCancelled   Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusBacklog, StatusInProgress, StatusNeedsReview, StatusDone, StatusBlocked, StatusCancelled:
		return true
	}
	return false
}

// Priority ranks tasks P0 (critical) through P3 (low).
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3:
		return true
	}
	return false
}

// Mode is the operating mode resolved from autonomy sessions.
type Mode string

const (
	ModeAdvisory     Mode = "advisory"
	ModeReviewOnly   Mode = "review_only"
	ModeFullAutonomy Mode = "full_autonomy"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeAdvisory, ModeReviewOnly, ModeFullAutonomy:
		return true
	}
	return false
}

// EffortEstimate is a t-shirt size.
type EffortEstimate string

func (e EffortEstimate) Valid() bool {
	switch e {
	case "xs", "s", "m", "l", "xl":
		return true
	}
	return false
}

// RunStatus is the outcome of an agent execution cycle.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunTimeout RunStatus = "timeout"
)

func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunFailed, RunTimeout:
		return true
	}
	return false
}

// ActorType classifies who performed a mutation.
type ActorType string

const (
	ActorAgent  ActorType = "agent"
	ActorHuman  ActorType = "human"
	ActorSystem ActorType = "system"
)

func (a ActorType) Valid() bool {
	switch a {
	case ActorAgent, ActorHuman, ActorSystem:
		return true
	}
	return false
}

func ValidInsightType(t string) bool {
	switch t {
	case "observation", "recommendation", "risk", "question":
		return true
	}
	return false
}

// Audit/event types written by the engine.
const (
	EventTaskCreated         = "TASK_CREATED"
	EventTaskUpdated         = "TASK_UPDATED"
	EventStatusChanged       = "STATUS_CHANGED"
	EventInsightAdded        = "INSIGHT_ADDED"
	EventDeliverableAdded    = "DELIVERABLE_ADDED"
	EventAgentRunStart       = "AGENT_RUN_START"
	EventAgentRunEnd         = "AGENT_RUN_END"
	EventHumanApproved       = "HUMAN_APPROVED"
	EventHumanRejected       = "HUMAN_REJECTED"
	EventAutonomyModeChanged = "AUTONOMY_MODE_CHANGED"
)

type Task struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	OwnerAgent       *string        `json:"owner_agent,omitempty"`
	AssignedBy       string         `json:"assigned_by,omitempty"`
	Status           Status         `json:"status" enum:"BACKLOG,IN_PROGRESS,NEEDS_REVIEW,DONE,BLOCKED,CANCELLED"`
	Priority         Priority       `json:"priority" enum:"P0,P1,P2,P3"`
	Tags             []string       `json:"tags"`
	Source           string         `json:"source"`
	ExternalRefs     map[string]any `json:"external_refs,omitempty"`
	ImpactScore      *int           `json:"impact_score,omitempty"`
	EffortEstimate   *string        `json:"effort_estimate,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
	ApprovedBy       *string        `json:"approved_by,omitempty"`
	ApprovedAt       *string        `json:"approved_at,omitempty" format:"date-time"`
	ParentTaskID     *string        `json:"parent_task_id,omitempty"`
	DueAt            *string        `json:"due_at,omitempty" format:"date-time"`
	CreatedAt        string         `json:"created_at" format:"date-time"`
	UpdatedAt        string         `json:"updated_at" format:"date-time"`
}

type Deliverable struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	CreatedBy   string `json:"created_by"`
	IsFinal     bool   `json:"is_final"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Insight struct {
	ID               string  `json:"id"`
	TaskID           *string `json:"task_id,omitempty"`
	Agent            string  `json:"agent"`
	Content          string  `json:"content"`
	InsightType      string  `json:"insight_type" enum:"observation,recommendation,risk,question"`
	PromotedToTaskID *string `json:"promoted_to_task_id,omitempty"`
	PromotedAt       *string `json:"promoted_at,omitempty" format:"date-time"`
	ExpiresAt        string  `json:"expires_at" format:"date-time"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type Agent struct {
	ID                      string   `json:"id"`
	Name                    string   `json:"name"`
	Role                    string   `json:"role"`
	Description             string   `json:"description,omitempty"`
	Capabilities            []string `json:"capabilities"`
	AllowedActions          []string `json:"allowed_actions"`
	ModelProvider           string   `json:"model_provider"`
	ModelID                 string   `json:"model_id"`
	ScheduleIntervalMinutes int      `json:"schedule_interval_minutes"`
	MaxTasksPerRun          int      `json:"max_tasks_per_run"`
	Enabled                 bool     `json:"enabled"`
	LastRunAt               *string  `json:"last_run_at,omitempty" format:"date-time"`
	LastRunStatus           *string  `json:"last_run_status,omitempty"`
	CreatedAt               string   `json:"created_at" format:"date-time"`
	UpdatedAt               string   `json:"updated_at" format:"date-time"`
}

type AgentRun struct {
	ID              string    `json:"id"`
	AgentID         string    `json:"agent_id"`
	Status          RunStatus `json:"status" enum:"running,success,failed,timeout"`
	TasksProcessed  int       `json:"tasks_processed"`
	InsightsCreated int       `json:"insights_created"`
	StartedAt       string    `json:"started_at" format:"date-time"`
	CompletedAt     *string   `json:"completed_at,omitempty" format:"date-time"`
	DurationMs      *int      `json:"duration_ms,omitempty"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	TokensUsed      int       `json:"tokens_used"`
}

// AuditEntry is append-only: no update or delete path exists anywhere.
type AuditEntry struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor"`
	ActorType  ActorType      `json:"actor_type" enum:"agent,human,system"`
	OldValue   map[string]any `json:"old_value,omitempty"`
	NewValue   map[string]any `json:"new_value,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
}

type Event struct {
	ID          string         `json:"id"`
	EventType   string         `json:"event_type"`
	Payload     map[string]any `json:"payload"`
	Processed   bool           `json:"processed"`
	ProcessedAt *string        `json:"processed_at,omitempty" format:"date-time"`
	ProcessedBy *string        `json:"processed_by,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

type AutonomySession struct {
	ID        string  `json:"id"`
	Mode      Mode    `json:"mode" enum:"advisory,review_only,full_autonomy"`
	GrantedBy string  `json:"granted_by"`
	GrantedTo *string `json:"granted_to,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	StartsAt  string  `json:"starts_at" format:"date-time"`
	ExpiresAt string  `json:"expires_at" format:"date-time"`
	RevokedAt *string `json:"revoked_at,omitempty" format:"date-time"`
	RevokedBy *string `json:"revoked_by,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}
