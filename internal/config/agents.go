package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// AgentSeed describes one agent to register at startup, read from
// agents.yaml in the workspace.
type AgentSeed struct {
	Name                    string   `yaml:"name"`
	Role                    string   `yaml:"role"`
	Description             string   `yaml:"description"`
	Capabilities            []string `yaml:"capabilities"`
	AllowedActions          []string `yaml:"allowed_actions"`
	ModelProvider           string   `yaml:"model_provider"`
	ModelID                 string   `yaml:"model_id"`
	ScheduleIntervalMinutes int      `yaml:"schedule_interval_minutes"`
	MaxTasksPerRun          int      `yaml:"max_tasks_per_run"`
}

// AgentSeedPath returns the seed file location for a workspace.
func AgentSeedPath(workspace string) string {
	return filepath.Join(workspace, "agents.yaml")
}

// LoadAgentSeeds reads the workspace seed file. A missing file is not an
// error; the registry simply starts with the built-in router agent.
func LoadAgentSeeds(workspace string) ([]AgentSeed, error) {
	data, err := os.ReadFile(AgentSeedPath(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var doc struct {
		Agents []AgentSeed `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", AgentSeedPath(workspace), err)
	}
	for i, seed := range doc.Agents {
		if seed.Name == "" {
			return nil, fmt.Errorf("agents[%d]: name is required", i)
		}
		if seed.Role == "" {
			return nil, fmt.Errorf("agents[%d] (%s): role is required", i, seed.Name)
		}
	}
	return doc.Agents, nil
}
