package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime settings, bound from WORKFORCE_* environment
// variables (a .env file is honored when present).
type Config struct {
	Workspace string `mapstructure:"workspace"`
	HTTPAddr  string `mapstructure:"http_addr" validate:"required"`

	ScanIntervalMinutes      int `mapstructure:"scan_interval_minutes" validate:"min=1"`
	MaxInsightsPerTaskPerRun int `mapstructure:"max_insights_per_task_per_run" validate:"min=1"`
	MaxTasksPerAgentRun      int `mapstructure:"max_tasks_per_agent_run" validate:"min=1"`

	DefaultAutonomyMode     string   `mapstructure:"default_autonomy_mode" validate:"oneof=advisory review_only full_autonomy"`
	ApprovalRequiredForDone bool     `mapstructure:"approval_required_for_done"`
	HumanApprovers          []string `mapstructure:"human_approvers"`
	RouterActor             string   `mapstructure:"router_actor" validate:"required"`

	JWTSecret        string `mapstructure:"jwt_secret"`
	AllowActorHeader bool   `mapstructure:"allow_actor_header"`

	LogLevel       string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	AuditRetention string `mapstructure:"audit_retention" validate:"oneof=forever 90d 30d"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace", ".")
	v.SetDefault("http_addr", ":8765")
	v.SetDefault("scan_interval_minutes", 15)
	v.SetDefault("max_insights_per_task_per_run", 3)
	v.SetDefault("max_tasks_per_agent_run", 10)
	v.SetDefault("default_autonomy_mode", "advisory")
	v.SetDefault("approval_required_for_done", true)
	v.SetDefault("human_approvers", []string{})
	v.SetDefault("router_actor", "jarvis")
	v.SetDefault("allow_actor_header", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("audit_retention", "forever")
}

// Load reads settings from the environment and validates them.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("WORKFORCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if s := v.GetString("human_approvers"); s != "" {
		cfg.HumanApprovers = splitList(s)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in settings, no environment applied.
func Default() *Config {
	return &Config{
		Workspace:                ".",
		HTTPAddr:                 ":8765",
		ScanIntervalMinutes:      15,
		MaxInsightsPerTaskPerRun: 3,
		MaxTasksPerAgentRun:      10,
		DefaultAutonomyMode:      "advisory",
		ApprovalRequiredForDone:  true,
		HumanApprovers:           []string{},
		RouterActor:              "jarvis",
		AllowActorHeader:         true,
		LogLevel:                 "info",
		AuditRetention:           "forever",
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
