package deploy

import (
	"context"
	"fmt"
	"strings"

	"github.com/caravel-sh/caravel/pkg/command"
	"github.com/caravel-sh/caravel/pkg/config"
)

// runPostDeploymentCommands executes the configured post-deployment
// commands in order, expanding placeholders first. Commands are operator
// supplied shell lines and run through the target's shell; the first
// failure aborts the remaining ones.
func runPostDeploymentCommands(ctx context.Context, ec *ExecContext, cfg config.DeploymentConfig) error {
	if len(cfg.PostDeploymentCommands) == 0 {
		return nil
	}

	ec.Logf("running %d post-deployment commands", len(cfg.PostDeploymentCommands))

	for i, raw := range cfg.PostDeploymentCommands {
		expanded := expandPlaceholders(raw, cfg)
		ec.Logf("post-deployment[%d]: %s", i, expanded)

		cmd := command.New("sh", "-c", expanded).InDir(cfg.DeploymentDir)
		if _, err := ec.Runner.Run(ctx, cmd); err != nil {
			return fmt.Errorf("post-deployment command %d failed: %w", i, err)
		}
	}

	return nil
}

// expandPlaceholders substitutes {{IMAGE}}, {{ENVIRONMENT}} and
// {{VAR}}-style references to configured env vars.
func expandPlaceholders(cmd string, cfg config.DeploymentConfig) string {
	result := strings.ReplaceAll(cmd, "{{IMAGE}}", cfg.ImageTag)
	result = strings.ReplaceAll(result, "{{ENVIRONMENT}}", string(cfg.Environment))
	for k, v := range cfg.EnvVars {
		result = strings.ReplaceAll(result, fmt.Sprintf("{{%s}}", k), v)
	}
	return result
}
