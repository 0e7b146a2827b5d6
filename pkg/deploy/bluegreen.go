package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/caravel-sh/caravel/pkg/config"
)

const (
	colorBlue  = "blue"
	colorGreen = "green"

	// blueGreenFallbackWait replaces the health check when no URL is
	// configured. A wait, not a real check.
	blueGreenFallbackWait = 30 * time.Second
)

// BlueGreenStrategy runs two parallel color-scoped stacks and flips
// traffic between them. The active color is persisted in a marker file so
// consecutive deployments alternate deterministically, starting from blue.
type BlueGreenStrategy struct{}

func (s *BlueGreenStrategy) Name() config.Strategy {
	return config.StrategyBlueGreen
}

func (s *BlueGreenStrategy) Execute(ctx context.Context, cfg config.DeploymentConfig, ec *ExecContext) error {
	activeColor, err := readActiveColor(ctx, ec, cfg)
	if err != nil {
		return fmt.Errorf("failed to read active color: %w", err)
	}
	newColor := colorGreen
	if activeColor == colorGreen {
		newColor = colorBlue
	}
	ec.Logf("active color is %s, deploying to %s", activeColor, newColor)

	if err := pullImage(ctx, ec, cfg); err != nil {
		return err
	}

	colorEnvFile := envFileName + "." + newColor
	if err := writeEnvFile(ctx, ec, cfg, colorEnvFile, nil); err != nil {
		return err
	}

	newProject := stackProject(cfg, newColor)
	ec.Logf("starting %s stack", newColor)
	if _, err := run(ctx, ec, compose(cfg, newProject, colorEnvFile, "up", "-d")); err != nil {
		return fmt.Errorf("failed to start %s stack: %w", newColor, err)
	}

	if err := checkHealth(ctx, ec, cfg, blueGreenFallbackWait); err != nil {
		return err
	}

	// Flip traffic: restart the routing stack pointed at the new color,
	// then persist the marker so the next deployment alternates.
	ec.Logf("routing traffic to %s", newColor)
	router := compose(cfg, "", "", "up", "-d").WithEnv(map[string]string{"ACTIVE_COLOR": newColor})
	if _, err := run(ctx, ec, router); err != nil {
		return fmt.Errorf("failed to switch traffic to %s: %w", newColor, err)
	}
	if err := writeFile(ctx, ec, cfg, colorMarkerFile, newColor+"\n"); err != nil {
		return err
	}

	ec.Logf("stopping %s stack", activeColor)
	if _, err := run(ctx, ec, compose(cfg, stackProject(cfg, activeColor), "", "down")); err != nil {
		return fmt.Errorf("failed to stop %s stack: %w", activeColor, err)
	}

	if err := runPostDeploymentCommands(ctx, ec, cfg); err != nil {
		return err
	}

	return pruneImages(ctx, ec, cfg)
}

// readActiveColor reads the persisted color marker, defaulting to blue the
// first time so alternation is deterministic from the start.
func readActiveColor(ctx context.Context, ec *ExecContext, cfg config.DeploymentConfig) (string, error) {
	marker, err := readFileOrEmpty(ctx, ec, cfg, colorMarkerFile)
	if err != nil {
		return "", err
	}
	if marker == colorGreen {
		return colorGreen, nil
	}
	return colorBlue, nil
}

// stackProject names a variant stack's compose project.
func stackProject(cfg config.DeploymentConfig, variant string) string {
	return fmt.Sprintf("%s-%s", cfg.Environment, variant)
}
