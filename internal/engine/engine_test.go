package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"workforce/internal/config"
	"workforce/internal/db"
	"workforce/internal/domain"
	"workforce/internal/engine"
	"workforce/internal/migrate"
	"workforce/internal/repo"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
	Clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return clock }
	return testEnv{Engine: eng, Ctx: context.Background(), Clock: &clock}
}

func (env testEnv) advance(d time.Duration) {
	*env.Clock = env.Clock.Add(d)
}

func TestDoneGateRequiresDeliverable(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "ship report"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	status := string(domain.StatusDone)
	_, err = env.Engine.UpdateTask(env.Ctx, task.ID, "alice", engine.TaskPatch{Status: &status})
	var pe *engine.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected precondition error, got %v", err)
	}

	if _, err := env.Engine.AddDeliverable(env.Ctx, task.ID, "worker", engine.DeliverableOptions{Title: "report.md"}); err != nil {
		t.Fatalf("add deliverable: %v", err)
	}
	if _, err := env.Engine.ApproveTask(env.Ctx, task.ID, "alice"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	task, err = env.Engine.UpdateTask(env.Ctx, task.ID, "alice", engine.TaskPatch{Status: &status})
	if err != nil {
		t.Fatalf("to DONE after deliverable+approval: %v", err)
	}
	if task.Status != domain.StatusDone {
		t.Fatalf("status = %s, want DONE", task.Status)
	}
}

func TestDoneGateRequiresApproval(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "audited work"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddDeliverable(env.Ctx, task.ID, "worker", engine.DeliverableOptions{Title: "out"}); err != nil {
		t.Fatal(err)
	}
	status := string(domain.StatusDone)
	_, err = env.Engine.UpdateTask(env.Ctx, task.ID, "alice", engine.TaskPatch{Status: &status})
	var pe *engine.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected approval gate, got %v", err)
	}
	if !strings.Contains(pe.Reason, "approval") {
		t.Fatalf("reason = %q, want approval mention", pe.Reason)
	}
}

func TestDoneWithoutApprovalWhenNotRequired(t *testing.T) {
	env := newTestEnv(t)
	noApproval := false
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{
		Title:            "low stakes",
		RequiresApproval: &noApproval,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddDeliverable(env.Ctx, task.ID, "worker", engine.DeliverableOptions{Title: "out"}); err != nil {
		t.Fatal(err)
	}
	status := string(domain.StatusDone)
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, "alice", engine.TaskPatch{Status: &status}); err != nil {
		t.Fatalf("DONE without approval should pass when not required: %v", err)
	}
}

func TestRejectResetsApproval(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "contested"})
	if err != nil {
		t.Fatal(err)
	}
	inProgress := string(domain.StatusInProgress)
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, "alice", engine.TaskPatch{Status: &inProgress}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveTask(env.Ctx, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	task, err = env.Engine.RejectTask(env.Ctx, task.ID, "alice", "scope changed")
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != domain.StatusBacklog {
		t.Fatalf("status = %s, want BACKLOG", task.Status)
	}
	if task.ApprovedBy != nil || task.ApprovedAt != nil {
		t.Fatalf("approval not cleared: %+v", task)
	}
	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{
		EntityID:  task.ID,
		EventType: domain.EventHumanRejected,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("HUMAN_REJECTED entries = %d, want 1", len(entries))
	}
	if entries[0].Metadata["reason"] != "scope changed" {
		t.Fatalf("reason = %v", entries[0].Metadata["reason"])
	}
}

func TestUpdateAuditsTouchedFieldsOnly(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "before"})
	if err != nil {
		t.Fatal(err)
	}
	title := "after"
	priority := "P0"
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, "alice", engine.TaskPatch{Title: &title, Priority: &priority}); err != nil {
		t.Fatal(err)
	}
	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{
		EntityID:  task.ID,
		EventType: domain.EventTaskUpdated,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("TASK_UPDATED entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if len(e.NewValue) != 2 {
		t.Fatalf("new_value keys = %v, want title+priority only", e.NewValue)
	}
	if e.OldValue["title"] != "before" || e.NewValue["title"] != "after" {
		t.Fatalf("title diff wrong: old=%v new=%v", e.OldValue, e.NewValue)
	}
	if e.OldValue["priority"] != "P2" || e.NewValue["priority"] != "P0" {
		t.Fatalf("priority diff wrong: old=%v new=%v", e.OldValue, e.NewValue)
	}
}

func TestNoopUpdateWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "steady"})
	if err != nil {
		t.Fatal(err)
	}
	same := "steady"
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, "alice", engine.TaskPatch{Title: &same}); err != nil {
		t.Fatal(err)
	}
	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{
		EntityID:  task.ID,
		EventType: domain.EventTaskUpdated,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("no-op update produced %d audit entries", len(entries))
	}
}

func TestStatusChangedEventExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "tracked"})
	if err != nil {
		t.Fatal(err)
	}
	inProgress := string(domain.StatusInProgress)
	title := "tracked v2"
	// one status change plus one non-status edit
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, "alice", engine.TaskPatch{Status: &inProgress}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, "alice", engine.TaskPatch{Title: &title}); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Events.Claim(env.Ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	var statusChanges int
	for _, ev := range events {
		if ev.EventType == domain.EventStatusChanged {
			statusChanges++
			if ev.Payload["old_status"] != "BACKLOG" || ev.Payload["new_status"] != "IN_PROGRESS" {
				t.Fatalf("payload = %v", ev.Payload)
			}
		}
	}
	if statusChanges != 1 {
		t.Fatalf("STATUS_CHANGED events = %d, want 1", statusChanges)
	}
}

func TestUnknownTaskIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	title := "x"
	_, err := env.Engine.UpdateTask(env.Ctx, "missing", "alice", engine.TaskPatch{Title: &title})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = env.Engine.AddDeliverable(env.Ctx, "missing", "alice", engine.DeliverableOptions{Title: "d"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPromoteInsightRouterOnly(t *testing.T) {
	env := newTestEnv(t)
	in, err := env.Engine.AddInsight(env.Ctx, "scout", engine.InsightOptions{Content: "users want exports"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.PromoteInsight(env.Ctx, in.ID, "scout")
	var ue *engine.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	task, err := env.Engine.PromoteInsight(env.Ctx, in.ID, "jarvis")
	if err != nil {
		t.Fatalf("router promote: %v", err)
	}
	if task.Title != "[From Insight] users want exports" {
		t.Fatalf("title = %q", task.Title)
	}
	if task.Source != "insight_promotion" {
		t.Fatalf("source = %q", task.Source)
	}

	// promoting twice is refused
	_, err = env.Engine.PromoteInsight(env.Ctx, in.ID, "jarvis")
	var pe *engine.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected precondition error, got %v", err)
	}

	stored, err := env.Engine.Repo.GetInsight(env.Ctx, in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.PromotedToTaskID == nil || *stored.PromotedToTaskID != task.ID {
		t.Fatalf("insight not stamped: %+v", stored)
	}
}

func TestPromoteTruncatesLongContent(t *testing.T) {
	env := newTestEnv(t)
	content := strings.Repeat("a", 150)
	in, err := env.Engine.AddInsight(env.Ctx, "scout", engine.InsightOptions{Content: content})
	if err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.PromoteInsight(env.Ctx, in.ID, "jarvis")
	if err != nil {
		t.Fatal(err)
	}
	want := "[From Insight] " + strings.Repeat("a", 100)
	if task.Title != want {
		t.Fatalf("title len = %d, want truncated to 100 content chars", len(task.Title))
	}
	if task.Description != content {
		t.Fatalf("description should keep full content")
	}
}

func TestInsightExpiryDefaultsToWeek(t *testing.T) {
	env := newTestEnv(t)
	in, err := env.Engine.AddInsight(env.Ctx, "scout", engine.InsightOptions{Content: "note"})
	if err != nil {
		t.Fatal(err)
	}
	want := env.Clock.Add(7 * 24 * time.Hour).Format(time.RFC3339)
	if in.ExpiresAt != want {
		t.Fatalf("expires_at = %s, want %s", in.ExpiresAt, want)
	}
}

func TestAutonomyDefaultsToAdvisory(t *testing.T) {
	env := newTestEnv(t)
	mode, session, err := env.Engine.CurrentMode(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if mode != domain.ModeAdvisory || session != nil {
		t.Fatalf("mode = %s session = %v, want advisory default", mode, session)
	}
}

func TestAutonomyLatestGrantWins(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.GrantAutonomy(env.Ctx, "alice", engine.GrantOptions{
		Mode:            "review_only",
		DurationMinutes: 120,
	}); err != nil {
		t.Fatal(err)
	}
	env.advance(time.Minute)
	if _, err := env.Engine.GrantAutonomy(env.Ctx, "alice", engine.GrantOptions{
		Mode:            "full_autonomy",
		DurationMinutes: 120,
	}); err != nil {
		t.Fatal(err)
	}
	mode, _, err := env.Engine.CurrentMode(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if mode != domain.ModeFullAutonomy {
		t.Fatalf("mode = %s, want full_autonomy (latest grant)", mode)
	}
}

func TestAutonomyScopedToAgent(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.GrantAutonomy(env.Ctx, "alice", engine.GrantOptions{
		Mode:            "full_autonomy",
		DurationMinutes: 60,
		GrantedTo:       strPtr("jarvis"),
	}); err != nil {
		t.Fatal(err)
	}
	mode, _, err := env.Engine.CurrentMode(env.Ctx, "jarvis")
	if err != nil {
		t.Fatal(err)
	}
	if mode != domain.ModeFullAutonomy {
		t.Fatalf("scoped agent mode = %s", mode)
	}
	// the grant does not apply globally
	mode, _, err = env.Engine.CurrentMode(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if mode != domain.ModeAdvisory {
		t.Fatalf("global mode = %s, want advisory", mode)
	}
}

func TestAutonomyExpires(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.GrantAutonomy(env.Ctx, "alice", engine.GrantOptions{
		Mode:            "full_autonomy",
		DurationMinutes: 30,
	}); err != nil {
		t.Fatal(err)
	}
	env.advance(29 * time.Minute)
	mode, _, _ := env.Engine.CurrentMode(env.Ctx, "")
	if mode != domain.ModeFullAutonomy {
		t.Fatalf("mode before expiry = %s", mode)
	}
	env.advance(2 * time.Minute)
	mode, _, _ = env.Engine.CurrentMode(env.Ctx, "")
	if mode != domain.ModeAdvisory {
		t.Fatalf("mode after expiry = %s, want advisory", mode)
	}
}

func TestAutonomyRevoke(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.GrantAutonomy(env.Ctx, "alice", engine.GrantOptions{
		Mode:            "full_autonomy",
		DurationMinutes: 60,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RevokeAutonomy(env.Ctx, s.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	mode, _, err := env.Engine.CurrentMode(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if mode != domain.ModeAdvisory {
		t.Fatalf("mode after revoke = %s", mode)
	}
	_, err = env.Engine.RevokeAutonomy(env.Ctx, s.ID, "alice")
	var pe *engine.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("double revoke: %v", err)
	}
}

func TestGrantDurationBounds(t *testing.T) {
	env := newTestEnv(t)
	for _, minutes := range []int{0, 481, -5} {
		_, err := env.Engine.GrantAutonomy(env.Ctx, "alice", engine.GrantOptions{
			Mode:            "advisory",
			DurationMinutes: minutes,
		})
		var ve *engine.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("minutes=%d: expected validation error, got %v", minutes, err)
		}
	}
}

func TestRegisterAgentSlug(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.RegisterAgent(env.Ctx, "alice", engine.AgentRegisterOptions{
		Name: "Data Scout",
		Role: "researcher",
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != "data_scout" {
		t.Fatalf("id = %q, want data_scout", a.ID)
	}
	if a.ModelProvider != "openai" || a.ModelID != "gpt-4o-mini" {
		t.Fatalf("model defaults wrong: %+v", a)
	}
}

func TestRegisterAgentTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RegisterAgent(env.Ctx, "alice", engine.AgentRegisterOptions{
		Name: "Scout",
		Role: "researcher",
	}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.RegisterAgent(env.Ctx, "alice", engine.AgentRegisterOptions{
		Name: "scout",
		Role: "researcher",
	})
	if !errors.Is(err, repo.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestSeededRouterAgentExists(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.Repo.GetAgent(env.Ctx, "jarvis")
	if err != nil {
		t.Fatalf("router agent missing: %v", err)
	}
	if a.Role != "router" {
		t.Fatalf("role = %q", a.Role)
	}
}

func TestLogAgentRunStampsAgent(t *testing.T) {
	env := newTestEnv(t)
	run, err := env.Engine.LogAgentRun(env.Ctx, "jarvis", engine.RunOptions{
		Status:         "success",
		TasksProcessed: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if run.CompletedAt == nil {
		t.Fatalf("completed_at unset for terminal status")
	}
	a, err := env.Engine.Repo.GetAgent(env.Ctx, "jarvis")
	if err != nil {
		t.Fatal(err)
	}
	if a.LastRunStatus == nil || *a.LastRunStatus != "success" {
		t.Fatalf("last_run_status = %v", a.LastRunStatus)
	}

	running, err := env.Engine.LogAgentRun(env.Ctx, "jarvis", engine.RunOptions{Status: "running"})
	if err != nil {
		t.Fatal(err)
	}
	if running.CompletedAt != nil {
		t.Fatalf("completed_at set for running status")
	}
}

func TestAuditTrailOrder(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "staged"})
	if err != nil {
		t.Fatal(err)
	}
	env.advance(time.Second)
	if _, err := env.Engine.AddDeliverable(env.Ctx, task.ID, "worker", engine.DeliverableOptions{Title: "out"}); err != nil {
		t.Fatal(err)
	}
	env.advance(time.Second)
	if _, err := env.Engine.ApproveTask(env.Ctx, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	env.advance(time.Second)
	status := string(domain.StatusDone)
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, "alice", engine.TaskPatch{Status: &status}); err != nil {
		t.Fatal(err)
	}

	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{})
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, 0, len(entries))
	for _, e := range entries {
		got = append(got, e.EventType)
	}
	want := []string{
		domain.EventTaskUpdated,
		domain.EventHumanApproved,
		domain.EventDeliverableAdded,
		domain.EventTaskCreated,
	}
	if len(got) != len(want) {
		t.Fatalf("entries = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entries = %v, want %v", got, want)
		}
	}
}

func TestAgentWorkQueue(t *testing.T) {
	env := newTestEnv(t)
	owner := "jarvis"
	for _, spec := range []struct {
		title    string
		priority string
		status   string
	}{
		{"later", "P2", "BACKLOG"},
		{"urgent", "P0", "BACKLOG"},
		{"finished", "P0", "DONE"},
	} {
		task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{
			Title:      spec.title,
			Priority:   spec.priority,
			OwnerAgent: &owner,
		})
		if err != nil {
			t.Fatal(err)
		}
		if spec.status == "DONE" {
			if _, err := env.Engine.AddDeliverable(env.Ctx, task.ID, "worker", engine.DeliverableOptions{Title: "out"}); err != nil {
				t.Fatal(err)
			}
			if _, err := env.Engine.ApproveTask(env.Ctx, task.ID, "alice"); err != nil {
				t.Fatal(err)
			}
			done := spec.status
			if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, "alice", engine.TaskPatch{Status: &done}); err != nil {
				t.Fatal(err)
			}
		}
		env.advance(time.Second)
	}

	queue, err := env.Engine.Repo.TasksForAgentRun(env.Ctx, owner, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 2 {
		t.Fatalf("queue length = %d, want 2 (DONE excluded)", len(queue))
	}
	if queue[0].Title != "urgent" || queue[1].Title != "later" {
		t.Fatalf("queue order = %s, %s", queue[0].Title, queue[1].Title)
	}
}

func TestCreateTaskAuditAndEvent(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "traced"})
	if err != nil {
		t.Fatal(err)
	}
	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{EntityID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].EventType != domain.EventTaskCreated {
		t.Fatalf("audit entries = %+v", entries)
	}
	if entries[0].ActorType != domain.ActorHuman {
		t.Fatalf("actor_type = %s, want human", entries[0].ActorType)
	}
	events, err := env.Engine.Events.Claim(env.Ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventType != domain.EventTaskCreated {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Payload["task_id"] != task.ID {
		t.Fatalf("payload = %v", events[0].Payload)
	}
}

func strPtr(s string) *string { return &s }
