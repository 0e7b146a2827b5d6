package config

import (
	"fmt"
	"strings"
)

// Validate checks a parsed configuration for problems that would only
// surface mid-deployment otherwise.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Project.Name) == "" {
		return fmt.Errorf("project.name is required")
	}

	if len(cfg.Environments) == 0 {
		return fmt.Errorf("at least one environment must be configured")
	}

	for env, dc := range cfg.Environments {
		if err := ValidateDeployment(dc); err != nil {
			return fmt.Errorf("environment %s: %w", env, err)
		}
	}

	return nil
}

// ValidateDeployment checks a single deployment target.
func ValidateDeployment(dc DeploymentConfig) error {
	if !dc.Environment.Valid() {
		return fmt.Errorf("unknown environment %q", dc.Environment)
	}
	if !dc.Strategy.Valid() {
		return fmt.Errorf("unknown strategy %q", dc.Strategy)
	}
	if strings.TrimSpace(dc.ImageTag) == "" {
		return fmt.Errorf("imageTag is required")
	}
	if strings.TrimSpace(dc.DeploymentDir) == "" {
		return fmt.Errorf("deploymentDir is required")
	}
	if strings.TrimSpace(dc.ComposeFile) == "" {
		return fmt.Errorf("composeFile is required")
	}

	// Host and user come as a pair; one without the other is almost always
	// a typo rather than a request for local execution.
	if (dc.Host == "") != (dc.User == "") {
		return fmt.Errorf("host and user must both be set for remote deployment")
	}

	if dc.HealthCheckTimeout < 0 {
		return fmt.Errorf("healthCheckTimeout must not be negative")
	}
	if dc.Port < 0 || dc.Port > 65535 {
		return fmt.Errorf("invalid port %d", dc.Port)
	}

	for i, cmd := range dc.PostDeploymentCommands {
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("postDeploymentCommands[%d] is empty", i)
		}
	}

	return nil
}
