package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"workforce/internal/domain"
	"workforce/internal/engine"
	"workforce/internal/events"
	"workforce/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *logrus.Logger
}

var validate = validator.New()

type apiErrorBody struct {
	Code    string         `json:"code" example:"precondition_failed"`
	Message string         `json:"message" example:"task cannot move to DONE without a deliverable"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Workforce API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Workforce API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group, cfg.Engine)
	registerIntake(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerInsights(group, cfg.Engine)
	registerAgents(group, cfg.Engine)
	registerAutonomy(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAudit(group, cfg.Engine)

	return router, nil
}

func requestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Debug("request")
			next.ServeHTTP(w, r)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var pe *engine.PreconditionError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusUnprocessableEntity, "precondition_failed", err.Error(), nil)
	}
	var ue *engine.UnauthorizedError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"actor": ue.Actor})
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, events.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrAlreadyExists) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func validateBody(body any) huma.StatusError {
	if err := validate.Struct(body); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return newAPIError(http.StatusBadRequest, "bad_request", "invalid "+strings.ToLower(f.Field()), map[string]any{"field": f.Field(), "rule": f.Tag()})
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	return nil
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "precondition_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "store_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.DB.PingContext(ctx); err != nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "store_unavailable", "store unavailable", map[string]any{"error": err.Error()})
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerIntake(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "intake",
		Method:        http.MethodPost,
		Path:          "/intake",
		Summary:       "Create a task from a free-form message",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body IntakeRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if verr := validateBody(input.Body); verr != nil {
			return nil, verr
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		source := input.Body.Source
		if source == "" {
			source = "intake"
		}
		t, err := e.CreateTask(ctx, actor, engine.TaskCreateOptions{
			Title:       truncateTitle(input.Body.Message),
			Description: input.Body.Message,
			Priority:    input.Body.Priority,
			Source:      source,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if verr := validateBody(input.Body); verr != nil {
			return nil, verr
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, actor, engine.TaskCreateOptions{
			Title:            input.Body.Title,
			Description:      input.Body.Description,
			OwnerAgent:       input.Body.OwnerAgent,
			Priority:         input.Body.Priority,
			Tags:             input.Body.Tags,
			Source:           input.Body.Source,
			ExternalRefs:     input.Body.ExternalRefs,
			ImpactScore:      input.Body.ImpactScore,
			EffortEstimate:   input.Body.EffortEstimate,
			RequiresApproval: input.Body.RequiresApproval,
			ParentTaskID:     input.Body.ParentTaskID,
			DueAt:            input.Body.DueAt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status"`
		OwnerAgent string `query:"owner_agent"`
		Priority   string `query:"priority"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			Status:     input.Status,
			OwnerAgent: input.OwnerAgent,
			Priority:   input.Priority,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if verr := validateBody(input.Body); verr != nil {
			return nil, verr
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, input.ID, actor, engine.TaskPatch{
			Title:            input.Body.Title,
			Description:      input.Body.Description,
			OwnerAgent:       input.Body.OwnerAgent,
			Status:           input.Body.Status,
			Priority:         input.Body.Priority,
			Tags:             input.Body.Tags,
			RequiresApproval: input.Body.RequiresApproval,
			DueAt:            input.Body.DueAt,
			ImpactScore:      input.Body.ImpactScore,
			EffortEstimate:   input.Body.EffortEstimate,
			ExternalRefs:     input.Body.ExternalRefs,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/approve",
		Summary:     "Approve or reject a task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ApprovalRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if verr := validateBody(input.Body); verr != nil {
			return nil, verr
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var (
			task domain.Task
			err  error
		)
		switch input.Body.Action {
		case "approve":
			task, err = e.ApproveTask(ctx, input.ID, actor)
		case "reject":
			task, err = e.RejectTask(ctx, input.ID, actor, input.Body.Reason)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(task)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-deliverable",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/deliverables",
		Summary:       "Attach a deliverable",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body AddDeliverableRequest `json:"body"`
	}) (*struct {
		Body DeliverableResponse `json:"body"`
	}, error) {
		if verr := validateBody(input.Body); verr != nil {
			return nil, verr
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.AddDeliverable(ctx, input.ID, actor, engine.DeliverableOptions{
			Title:       input.Body.Title,
			Content:     input.Body.Content,
			ContentType: input.Body.ContentType,
			IsFinal:     input.Body.IsFinal,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeliverableResponse `json:"body"`
		}{Body: deliverableResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-deliverables",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/deliverables",
		Summary:     "List deliverables for a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []DeliverableResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetTask(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListDeliverables(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]DeliverableResponse, 0, len(items))
		for _, d := range items {
			out = append(out, deliverableResponse(d))
		}
		return &struct {
			Body []DeliverableResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerInsights(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-insight",
		Method:        http.MethodPost,
		Path:          "/insights",
		Summary:       "Record an insight",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body AddInsightRequest `json:"body"`
	}) (*struct {
		Body InsightResponse `json:"body"`
	}, error) {
		if verr := validateBody(input.Body); verr != nil {
			return nil, verr
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.AddInsight(ctx, actor, engine.InsightOptions{
			TaskID:      input.Body.TaskID,
			Content:     input.Body.Content,
			InsightType: input.Body.InsightType,
			ExpiresAt:   input.Body.ExpiresAt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InsightResponse `json:"body"`
		}{Body: insightResponse(in)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-insights",
		Method:      http.MethodGet,
		Path:        "/insights",
		Summary:     "List insights",
	}, func(ctx context.Context, input *struct {
		TaskID string `query:"task_id"`
		Agent  string `query:"agent"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []InsightResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListInsights(ctx, repo.InsightFilters{
			TaskID: input.TaskID,
			Agent:  input.Agent,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]InsightResponse, 0, len(items))
		for _, in := range items {
			out = append(out, insightResponse(in))
		}
		return &struct {
			Body []InsightResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "promote-insight",
		Method:        http.MethodPost,
		Path:          "/insights/{id}/promote",
		Summary:       "Promote an insight into a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.PromoteInsight(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerAgents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-agent",
		Method:        http.MethodPost,
		Path:          "/agents",
		Summary:       "Register agent",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name                    string   `json:"name" validate:"required"`
			Role                    string   `json:"role" validate:"required"`
			Description             string   `json:"description,omitempty"`
			Capabilities            []string `json:"capabilities,omitempty"`
			AllowedActions          []string `json:"allowed_actions,omitempty"`
			ModelProvider           string   `json:"model_provider,omitempty"`
			ModelID                 string   `json:"model_id,omitempty"`
			ScheduleIntervalMinutes int      `json:"schedule_interval_minutes,omitempty"`
			MaxTasksPerRun          int      `json:"max_tasks_per_run,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		if verr := validateBody(input.Body); verr != nil {
			return nil, verr
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.RegisterAgent(ctx, actor, engine.AgentRegisterOptions{
			Name:                    input.Body.Name,
			Role:                    input.Body.Role,
			Description:             input.Body.Description,
			Capabilities:            input.Body.Capabilities,
			AllowedActions:          input.Body.AllowedActions,
			ModelProvider:           input.Body.ModelProvider,
			ModelID:                 input.Body.ModelID,
			ScheduleIntervalMinutes: input.Body.ScheduleIntervalMinutes,
			MaxTasksPerRun:          input.Body.MaxTasksPerRun,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, input *struct {
		EnabledOnly bool `query:"enabled_only"`
	}) (*struct {
		Body []AgentResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAgents(ctx, input.EnabledOnly)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]AgentResponse, 0, len(items))
		for _, a := range items {
			out = append(out, agentResponse(a))
		}
		return &struct {
			Body []AgentResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{id}",
		Summary:     "Get agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetAgent(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agent",
		Method:      http.MethodPatch,
		Path:        "/agents/{id}",
		Summary:     "Update agent",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Name                    *string  `json:"name,omitempty"`
			Role                    *string  `json:"role,omitempty"`
			Description             *string  `json:"description,omitempty"`
			Capabilities            []string `json:"capabilities,omitempty"`
			AllowedActions          []string `json:"allowed_actions,omitempty"`
			ModelProvider           *string  `json:"model_provider,omitempty"`
			ModelID                 *string  `json:"model_id,omitempty"`
			ScheduleIntervalMinutes *int     `json:"schedule_interval_minutes,omitempty"`
			MaxTasksPerRun          *int     `json:"max_tasks_per_run,omitempty"`
			Enabled                 *bool    `json:"enabled,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateAgent(ctx, input.ID, engine.AgentPatch{
			Name:                    input.Body.Name,
			Role:                    input.Body.Role,
			Description:             input.Body.Description,
			Capabilities:            input.Body.Capabilities,
			AllowedActions:          input.Body.AllowedActions,
			ModelProvider:           input.Body.ModelProvider,
			ModelID:                 input.Body.ModelID,
			ScheduleIntervalMinutes: input.Body.ScheduleIntervalMinutes,
			MaxTasksPerRun:          input.Body.MaxTasksPerRun,
			Enabled:                 input.Body.Enabled,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-queue",
		Method:      http.MethodGet,
		Path:        "/agents/{id}/queue",
		Summary:     "List an agent's open work queue",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"10"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetAgent(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.Repo.TasksForAgentRun(ctx, input.ID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agent-runs",
		Method:      http.MethodGet,
		Path:        "/agents/{id}/runs",
		Summary:     "List an agent's execution cycles",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.AgentRun `json:"body"`
	}, error) {
		if _, err := e.Repo.GetAgent(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		runs, err := e.Repo.ListAgentRuns(ctx, input.ID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if runs == nil {
			runs = []domain.AgentRun{}
		}
		return &struct {
			Body []domain.AgentRun `json:"body"`
		}{Body: runs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "log-agent-run",
		Method:        http.MethodPost,
		Path:          "/agents/{id}/runs",
		Summary:       "Record an agent execution cycle",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Status          string  `json:"status" validate:"required,oneof=running success failed timeout" enum:"running,success,failed,timeout"`
			TasksProcessed  int     `json:"tasks_processed,omitempty"`
			InsightsCreated int     `json:"insights_created,omitempty"`
			DurationMs      *int    `json:"duration_ms,omitempty"`
			ErrorMessage    *string `json:"error_message,omitempty"`
			TokensUsed      int     `json:"tokens_used,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if verr := validateBody(input.Body); verr != nil {
			return nil, verr
		}
		run, err := e.LogAgentRun(ctx, input.ID, engine.RunOptions{
			Status:          input.Body.Status,
			TasksProcessed:  input.Body.TasksProcessed,
			InsightsCreated: input.Body.InsightsCreated,
			DurationMs:      input.Body.DurationMs,
			ErrorMessage:    input.Body.ErrorMessage,
			TokensUsed:      input.Body.TokensUsed,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"id":           run.ID,
			"agent_id":     run.AgentID,
			"status":       string(run.Status),
			"started_at":   run.StartedAt,
			"completed_at": run.CompletedAt,
		}}, nil
	})
}

func registerAutonomy(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "grant-autonomy",
		Method:        http.MethodPost,
		Path:          "/autonomy",
		Summary:       "Grant a time-boxed autonomy session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body GrantAutonomyRequest `json:"body"`
	}) (*struct {
		Body AutonomySessionResponse `json:"body"`
	}, error) {
		if verr := validateBody(input.Body); verr != nil {
			return nil, verr
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.GrantAutonomy(ctx, actor, engine.GrantOptions{
			Mode:            input.Body.Mode,
			DurationMinutes: input.Body.DurationMinutes,
			GrantedTo:       input.Body.GrantedTo,
			Reason:          input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AutonomySessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "current-autonomy",
		Method:      http.MethodGet,
		Path:        "/autonomy",
		Summary:     "Resolve the current autonomy mode",
	}, func(ctx context.Context, input *struct {
		AgentID string `query:"agent_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		mode, session, err := e.CurrentMode(ctx, input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		body := map[string]any{"mode": string(mode)}
		if session != nil {
			resp := sessionResponse(*session)
			body["session"] = resp
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-autonomy",
		Method:      http.MethodPost,
		Path:        "/autonomy/{id}/revoke",
		Summary:     "Revoke an autonomy session",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AutonomySessionResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.RevokeAutonomy(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AutonomySessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events",
	}, func(ctx context.Context, input *struct {
		Processed *bool `query:"processed"`
		Limit     int   `query:"limit" default:"100"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Events.List(ctx, input.Processed, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			out = append(out, eventResponse(ev))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-events",
		Method:      http.MethodPost,
		Path:        "/events/claim",
		Summary:     "Claim unprocessed events",
	}, func(ctx context.Context, input *struct {
		Body struct {
			Limit int `json:"limit,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Events.Claim(ctx, input.Body.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			out = append(out, eventResponse(ev))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ack-event",
		Method:      http.MethodPost,
		Path:        "/events/{id}/ack",
		Summary:     "Acknowledge an event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Events.Ack(ctx, input.ID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "acknowledged"}}, nil
	})
}

func registerAudit(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List audit entries",
	}, func(ctx context.Context, input *struct {
		EntityType string `query:"entity_type"`
		EntityID   string `query:"entity_id"`
		EventType  string `query:"event_type"`
		Actor      string `query:"actor"`
		Limit      int    `query:"limit" default:"100"`
	}) (*struct {
		Body []AuditEntryResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAuditEntries(ctx, repo.AuditFilters{
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			EventType:  input.EventType,
			Actor:      input.Actor,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]AuditEntryResponse, 0, len(items))
		for _, entry := range items {
			out = append(out, auditResponse(entry))
		}
		return &struct {
			Body []AuditEntryResponse `json:"body"`
		}{Body: out}, nil
	})
}

func truncateTitle(message string) string {
	r := []rune(message)
	if len(r) <= 200 {
		return message
	}
	return string(r[:200])
}
