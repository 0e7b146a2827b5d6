package deploy

import (
	"context"
	"fmt"

	"github.com/caravel-sh/caravel/pkg/config"
)

// DirectStrategy replaces the running stack in place: stop, retag, start.
// It is the baseline the other strategies are composed from, and the
// executor used for all local (no host configured) deployments.
type DirectStrategy struct{}

func (s *DirectStrategy) Name() config.Strategy {
	return config.StrategyDirect
}

func (s *DirectStrategy) Execute(ctx context.Context, cfg config.DeploymentConfig, ec *ExecContext) error {
	if err := pullImage(ctx, ec, cfg); err != nil {
		return err
	}

	ec.Logf("stopping current stack")
	if _, err := run(ctx, ec, compose(cfg, "", "", "down")); err != nil {
		return fmt.Errorf("failed to stop stack: %w", err)
	}

	if err := writeEnvFile(ctx, ec, cfg, envFileName, nil); err != nil {
		return err
	}

	ec.Logf("starting stack with image %s", cfg.ImageTag)
	if _, err := run(ctx, ec, compose(cfg, "", "", "up", "-d")); err != nil {
		return fmt.Errorf("failed to start stack: %w", err)
	}

	// No fallback wait: without a URL the direct strategy proceeds
	// immediately.
	if err := checkHealth(ctx, ec, cfg, 0); err != nil {
		return err
	}

	if err := runPostDeploymentCommands(ctx, ec, cfg); err != nil {
		return err
	}

	return pruneImages(ctx, ec, cfg)
}
