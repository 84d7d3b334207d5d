package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workforce/internal/config"
	"workforce/internal/db"
	"workforce/internal/engine"
	"workforce/internal/migrate"
	"workforce/internal/repo"
	"workforce/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "wf",
	Short: "Workforce CLI",
	Long: `Workforce governs agent task work with an append-only audit trail.
Tasks move through a gated lifecycle: DONE requires at least one deliverable
and, where configured, an explicit human approval. Agents record insights that
the router can promote into tasks, and time-boxed autonomy sessions control
how much the agents may do on their own.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("WORKFORCE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(deliverableCmd())
	rootCmd.AddCommand(insightCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(autonomyCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(serveCmd())
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskApproveCmd())
	task.AddCommand(taskRejectCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var title, description, owner, priority, source, effort string
	var tags []string
	var impact int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				opts := engine.TaskCreateOptions{
					Title:       title,
					Description: description,
					OwnerAgent:  optionalString(owner),
					Priority:    priority,
					Tags:        tags,
					Source:      source,
				}
				if cmd.Flags().Changed("impact") {
					opts.ImpactScore = &impact
				}
				if effort != "" {
					opts.EffortEstimate = &effort
				}
				t, err := e.CreateTask(ctx, viper.GetString("actor"), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&owner, "owner", "", "owning agent id")
	cmd.Flags().StringVar(&priority, "priority", "", "P0..P3")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tags (repeatable)")
	cmd.Flags().StringVar(&source, "source", "manual", "task source")
	cmd.Flags().IntVar(&impact, "impact", 0, "impact score 1..10")
	cmd.Flags().StringVar(&effort, "effort", "", "effort estimate (xs..xl)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Owner"})
				for _, t := range tasks {
					owner := ""
					if t.OwnerAgent != nil {
						owner = *t.OwnerAgent
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, owner})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.OwnerAgent, "owner", "", "owner agent filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, owner, status, priority, dueAt, effort string
	var tags []string
	var impact int
	var requiresApproval bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				var patch engine.TaskPatch
				if cmd.Flags().Changed("title") {
					patch.Title = &title
				}
				if cmd.Flags().Changed("description") {
					patch.Description = &description
				}
				if cmd.Flags().Changed("owner") {
					patch.OwnerAgent = &owner
				}
				if cmd.Flags().Changed("status") {
					patch.Status = &status
				}
				if cmd.Flags().Changed("priority") {
					patch.Priority = &priority
				}
				if cmd.Flags().Changed("tag") {
					patch.Tags = tags
				}
				if cmd.Flags().Changed("requires-approval") {
					patch.RequiresApproval = &requiresApproval
				}
				if cmd.Flags().Changed("due") {
					patch.DueAt = &dueAt
				}
				if cmd.Flags().Changed("impact") {
					patch.ImpactScore = &impact
				}
				if cmd.Flags().Changed("effort") {
					patch.EffortEstimate = &effort
				}
				t, err := e.UpdateTask(ctx, args[0], viper.GetString("actor"), patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&owner, "owner", "", "owning agent id (empty clears)")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags")
	cmd.Flags().BoolVar(&requiresApproval, "requires-approval", false, "toggle approval requirement")
	cmd.Flags().StringVar(&dueAt, "due", "", "due timestamp RFC3339 (empty clears)")
	cmd.Flags().IntVar(&impact, "impact", 0, "impact score 1..10")
	cmd.Flags().StringVar(&effort, "effort", "", "effort estimate (xs..xl)")
	return cmd
}

func taskApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.ApproveTask(ctx, args[0], viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a task back to backlog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.RejectTask(ctx, args[0], viper.GetString("actor"), reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func deliverableCmd() *cobra.Command {
	d := &cobra.Command{Use: "deliverable", Short: "Manage deliverables"}
	d.AddCommand(deliverableAddCmd())
	d.AddCommand(deliverableListCmd())
	return d
}

func deliverableAddCmd() *cobra.Command {
	var title, content, contentType string
	var isFinal bool
	cmd := &cobra.Command{
		Use:   "add <task-id>",
		Short: "Attach a deliverable to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				d, err := e.AddDeliverable(ctx, args[0], viper.GetString("actor"), engine.DeliverableOptions{
					Title:       title,
					Content:     content,
					ContentType: contentType,
					IsFinal:     isFinal,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "deliverable title")
	cmd.Flags().StringVar(&content, "content", "", "deliverable content")
	cmd.Flags().StringVar(&contentType, "content-type", "markdown", "content type")
	cmd.Flags().BoolVar(&isFinal, "final", false, "mark as final")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func deliverableListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List deliverables for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListDeliverables(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func insightCmd() *cobra.Command {
	in := &cobra.Command{Use: "insight", Short: "Manage insights"}
	in.AddCommand(insightAddCmd())
	in.AddCommand(insightListCmd())
	in.AddCommand(insightPromoteCmd())
	return in
}

func insightAddCmd() *cobra.Command {
	var content, insightType, taskID string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record an insight",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				in, err := e.AddInsight(ctx, viper.GetString("actor"), engine.InsightOptions{
					TaskID:      optionalString(taskID),
					Content:     content,
					InsightType: insightType,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "insight content")
	cmd.Flags().StringVar(&insightType, "type", "observation", "observation|recommendation|risk|question")
	cmd.Flags().StringVar(&taskID, "task", "", "related task id")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func insightListCmd() *cobra.Command {
	var f repo.InsightFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List insights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListInsights(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Agent", "Type", "Promoted", "Content"})
				for _, in := range items {
					promoted := ""
					if in.PromotedToTaskID != nil {
						promoted = *in.PromotedToTaskID
					}
					tw.AppendRow(table.Row{in.ID, in.Agent, in.InsightType, promoted, in.Content})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TaskID, "task", "", "task filter")
	cmd.Flags().StringVar(&f.Agent, "agent", "", "agent filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func insightPromoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote <id>",
		Short: "Promote an insight into a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.PromoteInsight(ctx, args[0], viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func agentCmd() *cobra.Command {
	a := &cobra.Command{Use: "agent", Short: "Manage agents"}
	a.AddCommand(agentListCmd())
	a.AddCommand(agentShowCmd())
	a.AddCommand(agentRegisterCmd())
	a.AddCommand(agentRunCmd())
	a.AddCommand(agentRunsCmd())
	a.AddCommand(agentQueueCmd())
	return a
}

func agentListCmd() *cobra.Command {
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListAgents(ctx, enabledOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Enabled", "Last Run"})
				for _, a := range items {
					lastRun := ""
					if a.LastRunAt != nil {
						lastRun = *a.LastRunAt
					}
					tw.AppendRow(table.Row{a.ID, a.Name, a.Role, a.Enabled, lastRun})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled-only", false, "only enabled agents")
	return cmd
}

func agentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.Repo.GetAgent(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func agentRegisterCmd() *cobra.Command {
	var name, role, description, modelProvider, modelID string
	var capabilities, allowedActions []string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.RegisterAgent(ctx, viper.GetString("actor"), engine.AgentRegisterOptions{
					Name:           name,
					Role:           role,
					Description:    description,
					Capabilities:   capabilities,
					AllowedActions: allowedActions,
					ModelProvider:  modelProvider,
					ModelID:        modelID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name")
	cmd.Flags().StringVar(&role, "role", "", "agent role")
	cmd.Flags().StringVar(&description, "description", "", "agent description")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "capabilities (repeatable)")
	cmd.Flags().StringSliceVar(&allowedActions, "allowed-action", nil, "allowed actions (repeatable)")
	cmd.Flags().StringVar(&modelProvider, "model-provider", "", "model provider")
	cmd.Flags().StringVar(&modelID, "model-id", "", "model id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func agentRunCmd() *cobra.Command {
	var status string
	var tasksProcessed, insightsCreated, tokensUsed int
	cmd := &cobra.Command{
		Use:   "run <agent-id>",
		Short: "Record an agent execution cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				run, err := e.LogAgentRun(ctx, args[0], engine.RunOptions{
					Status:          status,
					TasksProcessed:  tasksProcessed,
					InsightsCreated: insightsCreated,
					TokensUsed:      tokensUsed,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "success", "running|success|failed|timeout")
	cmd.Flags().IntVar(&tasksProcessed, "tasks", 0, "tasks processed")
	cmd.Flags().IntVar(&insightsCreated, "insights", 0, "insights created")
	cmd.Flags().IntVar(&tokensUsed, "tokens", 0, "tokens used")
	return cmd
}

func agentRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs <agent-id>",
		Short: "List an agent's execution cycles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				runs, err := e.Repo.ListAgentRuns(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(runs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func agentQueueCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "queue <agent-id>",
		Short: "List an agent's open work queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tasks, err := e.Repo.TasksForAgentRun(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(tasks)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "max tasks")
	return cmd
}

func autonomyCmd() *cobra.Command {
	a := &cobra.Command{Use: "autonomy", Short: "Manage autonomy sessions"}
	a.AddCommand(autonomyGrantCmd())
	a.AddCommand(autonomyCurrentCmd())
	a.AddCommand(autonomyRevokeCmd())
	return a
}

func autonomyGrantCmd() *cobra.Command {
	var mode, grantedTo, reason string
	var minutes int
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a time-boxed autonomy session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.GrantAutonomy(ctx, viper.GetString("actor"), engine.GrantOptions{
					Mode:            mode,
					DurationMinutes: minutes,
					GrantedTo:       optionalString(grantedTo),
					Reason:          reason,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "advisory|review_only|full_autonomy")
	cmd.Flags().IntVar(&minutes, "minutes", 60, "duration in minutes (1..480)")
	cmd.Flags().StringVar(&grantedTo, "agent", "", "scope to a single agent")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for the grant")
	_ = cmd.MarkFlagRequired("mode")
	return cmd
}

func autonomyCurrentCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "current",
		Short: "Resolve the current autonomy mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				mode, session, err := e.CurrentMode(ctx, agentID)
				if err != nil {
					return err
				}
				out := map[string]any{"mode": string(mode)}
				if session != nil {
					out["session"] = session
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "resolve for a specific agent")
	return cmd
}

func autonomyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <session-id>",
		Short: "Revoke an autonomy session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.RevokeAutonomy(ctx, args[0], viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func eventCmd() *cobra.Command {
	ev := &cobra.Command{Use: "event", Short: "Inspect the event stream"}
	ev.AddCommand(eventTailCmd())
	ev.AddCommand(eventClaimCmd())
	ev.AddCommand(eventAckCmd())
	return ev
}

func eventTailCmd() *cobra.Command {
	var n int
	var unprocessedOnly bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				var processed *bool
				if unprocessedOnly {
					f := false
					processed = &f
				}
				items, err := e.Events.List(ctx, processed, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().BoolVar(&unprocessedOnly, "unprocessed", false, "only unprocessed events")
	return cmd
}

func eventClaimCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim unprocessed events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Events.Claim(ctx, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max events to claim")
	return cmd
}

func eventAckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ack <event-id>",
		Short: "Acknowledge an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.Events.Ack(ctx, args[0], viper.GetString("actor")); err != nil {
					return err
				}
				fmt.Println("acknowledged")
				return nil
			})
		},
	}
	return cmd
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{Use: "audit", Short: "Inspect the audit log"}
	a.AddCommand(auditListCmd())
	return a
}

func auditListCmd() *cobra.Command {
	var f repo.AuditFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListAuditEntries(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Event", "Entity", "Actor"})
				for _, entry := range items {
					tw.AppendRow(table.Row{entry.CreatedAt, entry.EventType, entry.EntityType + "/" + entry.EntityID, entry.Actor})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.EntityType, "entity-type", "", "entity type filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	cmd.Flags().StringVar(&f.EventType, "event-type", "", "event type filter")
	cmd.Flags().StringVar(&f.Actor, "actor", "", "actor filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max results")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTPAddr = addr
			}
			logger := newLogger(cfg.LogLevel)
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			if err := seedAgents(cmd.Context(), e, workspace, logger); err != nil {
				return err
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:        cfg.JWTSecret,
					AllowActorHeader: cfg.AllowActorHeader,
					Logger:           logger,
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.WithFields(logrus.Fields{"addr": cfg.HTTPAddr, "base_path": basePath}).Info("serving Workforce API")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8765", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

// seedAgents registers agents declared in the workspace agents.yaml,
// skipping ids that already exist.
func seedAgents(ctx context.Context, e *engine.Engine, workspace string, logger *logrus.Logger) error {
	seeds, err := config.LoadAgentSeeds(workspace)
	if err != nil {
		return err
	}
	for _, seed := range seeds {
		opts := engine.AgentRegisterOptions{
			Name:                    seed.Name,
			Role:                    seed.Role,
			Description:             seed.Description,
			Capabilities:            seed.Capabilities,
			AllowedActions:          seed.AllowedActions,
			ModelProvider:           seed.ModelProvider,
			ModelID:                 seed.ModelID,
			ScheduleIntervalMinutes: seed.ScheduleIntervalMinutes,
			MaxTasksPerRun:          seed.MaxTasksPerRun,
		}
		a, err := e.RegisterAgent(ctx, "system", opts)
		if err != nil {
			if errors.Is(err, repo.ErrAlreadyExists) {
				continue
			}
			return fmt.Errorf("seed agent %s: %w", seed.Name, err)
		}
		logger.WithFields(logrus.Fields{"agent": a.ID, "role": a.Role}).Info("seeded agent")
	}
	return nil
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
