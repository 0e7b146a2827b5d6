package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment is the deployment target tier.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Valid reports whether the environment is one of the known tiers.
func (e Environment) Valid() bool {
	switch e {
	case Development, Staging, Production:
		return true
	}
	return false
}

// Strategy selects how traffic moves from the old version to the new one.
type Strategy string

const (
	StrategyDirect    Strategy = "direct"
	StrategyBlueGreen Strategy = "blue-green"
	StrategyCanary    Strategy = "canary"
	StrategyRolling   Strategy = "rolling"
)

// Valid reports whether the strategy is one of the known rollout strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyDirect, StrategyBlueGreen, StrategyCanary, StrategyRolling:
		return true
	}
	return false
}

// DefaultHealthCheckTimeout is applied when an environment configures a
// health check URL without a timeout.
const DefaultHealthCheckTimeout = 60

// DeploymentConfig describes one environment's deployment target. It is an
// immutable value object: a copy is embedded in every deployment record and
// never mutated afterwards.
type DeploymentConfig struct {
	Environment Environment `yaml:"environment" json:"environment"`
	Strategy    Strategy    `yaml:"strategy" json:"strategy"`
	ImageTag    string      `yaml:"imageTag" json:"imageTag"`

	// Connection details. An empty Host and User means commands run locally.
	Host   string `yaml:"host,omitempty" json:"host,omitempty"`
	User   string `yaml:"user,omitempty" json:"user,omitempty"`
	Port   int    `yaml:"port,omitempty" json:"port,omitempty"`
	SSHKey string `yaml:"sshKey,omitempty" json:"sshKey,omitempty"`

	DeploymentDir string `yaml:"deploymentDir" json:"deploymentDir"`
	ComposeFile   string `yaml:"composeFile" json:"composeFile"`

	HealthCheckURL     string `yaml:"healthCheckUrl,omitempty" json:"healthCheckUrl,omitempty"`
	HealthCheckTimeout int    `yaml:"healthCheckTimeout,omitempty" json:"healthCheckTimeout,omitempty"` // seconds

	RollbackEnabled bool `yaml:"rollbackEnabled" json:"rollbackEnabled"`

	PostDeploymentCommands []string          `yaml:"postDeploymentCommands,omitempty" json:"postDeploymentCommands,omitempty"`
	EnvVars                map[string]string `yaml:"envVars,omitempty" json:"envVars,omitempty"`
	EnvFile                string            `yaml:"envFile,omitempty" json:"envFile,omitempty"`
}

// Remote reports whether commands for this target run over SSH. Both host
// and user must be set; anything less falls back to local execution.
func (c DeploymentConfig) Remote() bool {
	return c.Host != "" && c.User != ""
}

// HealthTimeout returns the configured health check timeout in seconds,
// falling back to the default when unset.
func (c DeploymentConfig) HealthTimeout() int {
	if c.HealthCheckTimeout > 0 {
		return c.HealthCheckTimeout
	}
	return DefaultHealthCheckTimeout
}

// ProjectConfig defines project metadata.
type ProjectConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version,omitempty"`
}

// HistoryConfig defines where deployment history is persisted.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// Config represents the caravel.yaml configuration structure.
type Config struct {
	Project      ProjectConfig                    `yaml:"project"`
	History      HistoryConfig                    `yaml:"history,omitempty"`
	Environments map[Environment]DeploymentConfig `yaml:"environments"`
}

// LoadConfig reads and parses a caravel.yaml file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Each environment block knows its own tier so it can be embedded in
	// deployment records standalone.
	for env, dc := range cfg.Environments {
		if dc.Environment == "" {
			dc.Environment = env
			cfg.Environments[env] = dc
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// HistoryPath returns the configured history file location, defaulting to
// .caravel/history.json next to the project.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return ".caravel/history.json"
}
