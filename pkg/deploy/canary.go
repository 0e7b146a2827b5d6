package deploy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/caravel-sh/caravel/pkg/config"
)

const (
	canaryVariant = "canary"

	canaryInitialWeight = 10
	canaryRaisedWeight  = 50

	canaryFallbackWait = 30 * time.Second

	// canaryObservationWait is the manual gate at 50% traffic: a fixed
	// window for an operator (or external tooling watching the event
	// stream) to abort before full promotion. There is deliberately no
	// automated promote/abort decision here.
	canaryObservationWait = 60 * time.Second
)

// CanaryStrategy routes a small slice of traffic to the new version,
// raises it, observes, then promotes the main stack and tears the canary
// down.
type CanaryStrategy struct{}

func (s *CanaryStrategy) Name() config.Strategy {
	return config.StrategyCanary
}

func (s *CanaryStrategy) Execute(ctx context.Context, cfg config.DeploymentConfig, ec *ExecContext) error {
	if err := pullImage(ctx, ec, cfg); err != nil {
		return err
	}

	canaryEnvFile := envFileName + "." + canaryVariant
	if err := writeEnvFile(ctx, ec, cfg, canaryEnvFile, nil); err != nil {
		return err
	}

	canaryProject := stackProject(cfg, canaryVariant)
	ec.Logf("starting canary stack at %d%% traffic", canaryInitialWeight)
	if _, err := run(ctx, ec, compose(cfg, canaryProject, canaryEnvFile, "up", "-d")); err != nil {
		return fmt.Errorf("failed to start canary stack: %w", err)
	}
	if err := setCanaryWeight(ctx, ec, cfg, canaryInitialWeight); err != nil {
		return err
	}

	if err := checkHealth(ctx, ec, cfg, canaryFallbackWait); err != nil {
		return err
	}

	ec.Logf("raising canary traffic to %d%%", canaryRaisedWeight)
	if err := setCanaryWeight(ctx, ec, cfg, canaryRaisedWeight); err != nil {
		return err
	}

	ec.Logf("observing canary at %d%% for %s (manual gate, no automated verdict)", canaryRaisedWeight, canaryObservationWait)
	if err := sleep(ctx, canaryObservationWait); err != nil {
		return err
	}

	ec.Logf("promoting %s to 100%%", cfg.ImageTag)
	if err := writeEnvFile(ctx, ec, cfg, envFileName, nil); err != nil {
		return err
	}
	if _, err := run(ctx, ec, compose(cfg, "", "", "up", "-d")); err != nil {
		return fmt.Errorf("failed to promote main stack: %w", err)
	}

	ec.Logf("tearing down canary stack")
	if _, err := run(ctx, ec, compose(cfg, canaryProject, "", "down")); err != nil {
		return fmt.Errorf("failed to tear down canary stack: %w", err)
	}

	if err := runPostDeploymentCommands(ctx, ec, cfg); err != nil {
		return err
	}

	return pruneImages(ctx, ec, cfg)
}

// setCanaryWeight reloads the routing stack with the canary's traffic
// share. The router reads CANARY_WEIGHT to split traffic between the main
// and canary stacks.
func setCanaryWeight(ctx context.Context, ec *ExecContext, cfg config.DeploymentConfig, weight int) error {
	router := compose(cfg, "", "", "up", "-d").
		WithEnv(map[string]string{"CANARY_WEIGHT": strconv.Itoa(weight)})
	if _, err := run(ctx, ec, router); err != nil {
		return fmt.Errorf("failed to set canary weight to %d%%: %w", weight, err)
	}
	return nil
}
