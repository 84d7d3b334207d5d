package workforcesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Workforce HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	Actor       string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	OwnerAgent       *string `json:"owner_agent,omitempty"`
	Status           string  `json:"status"`
	Priority         string  `json:"priority"`
	Source           string  `json:"source"`
	RequiresApproval bool    `json:"requires_approval"`
	ApprovedBy       *string `json:"approved_by,omitempty"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

// Deliverable represents an attached work product.
type Deliverable struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	Title       string `json:"title"`
	ContentType string `json:"content_type"`
	IsFinal     bool   `json:"is_final"`
	CreatedAt   string `json:"created_at"`
}

// Insight represents an agent observation.
type Insight struct {
	ID               string  `json:"id"`
	TaskID           *string `json:"task_id,omitempty"`
	Agent            string  `json:"agent"`
	Content          string  `json:"content"`
	InsightType      string  `json:"insight_type"`
	PromotedToTaskID *string `json:"promoted_to_task_id,omitempty"`
	ExpiresAt        string  `json:"expires_at"`
	CreatedAt        string  `json:"created_at"`
}

// Event represents a stream entry.
type Event struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Processed bool           `json:"processed"`
	CreatedAt string         `json:"created_at"`
}

// AutonomySession represents a time-boxed grant.
type AutonomySession struct {
	ID        string  `json:"id"`
	Mode      string  `json:"mode"`
	GrantedBy string  `json:"granted_by"`
	GrantedTo *string `json:"granted_to,omitempty"`
	StartsAt  string  `json:"starts_at"`
	ExpiresAt string  `json:"expires_at"`
	RevokedAt *string `json:"revoked_at,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Intake creates a task from a free-form message.
func (c *Client) Intake(ctx context.Context, message string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "intake", map[string]any{"message": message}, &resp)
	return resp, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title, description, priority string) (Task, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
	}
	if priority != "" {
		body["priority"] = priority
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateTask patches a task; only provided map keys are applied.
func (c *Client) UpdateTask(ctx context.Context, id string, patch map[string]any) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

// ApproveTask records a human approval.
func (c *Client) ApproveTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/approve", map[string]any{"action": "approve"}, &resp)
	return resp, err
}

// RejectTask sends the task back to backlog.
func (c *Client) RejectTask(ctx context.Context, id, reason string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/approve", map[string]any{"action": "reject", "reason": reason}, &resp)
	return resp, err
}

// AddDeliverable attaches a work product to a task.
func (c *Client) AddDeliverable(ctx context.Context, taskID, title, content string, isFinal bool) (Deliverable, error) {
	body := map[string]any{
		"title":    title,
		"content":  content,
		"is_final": isFinal,
	}
	var resp Deliverable
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/deliverables", body, &resp)
	return resp, err
}

// AddInsight records an observation.
func (c *Client) AddInsight(ctx context.Context, content, insightType string, taskID *string) (Insight, error) {
	body := map[string]any{
		"content":      content,
		"insight_type": insightType,
	}
	if taskID != nil {
		body["task_id"] = *taskID
	}
	var resp Insight
	err := c.do(ctx, http.MethodPost, "insights", body, &resp)
	return resp, err
}

// PromoteInsight turns an insight into a task (router actor only).
func (c *Client) PromoteInsight(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "insights/"+url.PathEscape(id)+"/promote", map[string]any{}, &resp)
	return resp, err
}

// GrantAutonomy opens a time-boxed autonomy session.
func (c *Client) GrantAutonomy(ctx context.Context, mode string, durationMinutes int, grantedTo *string, reason string) (AutonomySession, error) {
	body := map[string]any{
		"mode":             mode,
		"duration_minutes": durationMinutes,
		"reason":           reason,
	}
	if grantedTo != nil {
		body["granted_to"] = *grantedTo
	}
	var resp AutonomySession
	err := c.do(ctx, http.MethodPost, "autonomy", body, &resp)
	return resp, err
}

// CurrentMode resolves the operating mode, optionally for one agent.
func (c *Client) CurrentMode(ctx context.Context, agentID string) (string, error) {
	endpoint := "autonomy"
	if agentID != "" {
		endpoint += "?agent_id=" + url.QueryEscape(agentID)
	}
	var resp struct {
		Mode string `json:"mode"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Mode, err
}

// RevokeAutonomy ends a session early.
func (c *Client) RevokeAutonomy(ctx context.Context, id string) (AutonomySession, error) {
	var resp AutonomySession
	err := c.do(ctx, http.MethodPost, "autonomy/"+url.PathEscape(id)+"/revoke", map[string]any{}, &resp)
	return resp, err
}

// ClaimEvents fetches unprocessed events, oldest first.
func (c *Client) ClaimEvents(ctx context.Context, limit int) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodPost, "events/claim", map[string]any{"limit": limit}, &resp)
	return resp, err
}

// AckEvent marks an event processed.
func (c *Client) AckEvent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "events/"+url.PathEscape(id)+"/ack", map[string]any{}, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.Actor != "":
		req.Header.Set("X-Actor", c.Actor)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
