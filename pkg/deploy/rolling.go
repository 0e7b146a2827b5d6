package deploy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/compose-spec/compose-go/v2/loader"
	composetypes "github.com/compose-spec/compose-go/v2/types"

	"github.com/caravel-sh/caravel/pkg/config"
)

const (
	// defaultReplicas is used when the compose file does not reveal a
	// replica count. Discovery failure never aborts a rolling deployment.
	defaultReplicas = 3

	// defaultRollingService is scaled when the compose file cannot be
	// parsed at all.
	defaultRollingService = "app"

	rollingFallbackWait = 15 * time.Second
)

// RollingStrategy replaces replicas one at a time, verifying health after
// each scale step before touching the next replica.
type RollingStrategy struct{}

func (s *RollingStrategy) Name() config.Strategy {
	return config.StrategyRolling
}

func (s *RollingStrategy) Execute(ctx context.Context, cfg config.DeploymentConfig, ec *ExecContext) error {
	if err := pullImage(ctx, ec, cfg); err != nil {
		return err
	}

	service, replicas := discoverReplicas(ctx, ec, cfg)
	ec.Logf("rolling out %s across %d replicas of %s", cfg.ImageTag, replicas, service)

	if err := writeEnvFile(ctx, ec, cfg, envFileName, nil); err != nil {
		return err
	}

	for i := 1; i <= replicas; i++ {
		ec.Logf("scaling %s to %d/%d replicas", service, i, replicas)
		scale := compose(cfg, "", "", "up", "-d", "--no-recreate",
			"--scale", fmt.Sprintf("%s=%d", service, i))
		if _, err := run(ctx, ec, scale); err != nil {
			return fmt.Errorf("failed to scale %s to %d replicas: %w", service, i, err)
		}

		if err := checkHealth(ctx, ec, cfg, rollingFallbackWait); err != nil {
			return err
		}
	}

	// Final reconcile so the stack converges even if a replica slipped
	// through unrecreated.
	ec.Logf("reconciling stack")
	if _, err := run(ctx, ec, compose(cfg, "", "", "up", "-d")); err != nil {
		return fmt.Errorf("failed to reconcile stack: %w", err)
	}

	if err := runPostDeploymentCommands(ctx, ec, cfg); err != nil {
		return err
	}

	return pruneImages(ctx, ec, cfg)
}

// discoverReplicas reads the compose file off the target and extracts the
// service to roll and its replica count. Any failure falls back to the
// defaults; discovery never aborts the rollout.
func discoverReplicas(ctx context.Context, ec *ExecContext, cfg config.DeploymentConfig) (string, int) {
	content, err := readFileOrEmpty(ctx, ec, cfg, cfg.ComposeFile)
	if err != nil || content == "" {
		ec.Logf("could not read %s, assuming %d replicas of %s", cfg.ComposeFile, defaultReplicas, defaultRollingService)
		return defaultRollingService, defaultReplicas
	}

	project, err := loader.LoadWithContext(ctx, composetypes.ConfigDetails{
		ConfigFiles: []composetypes.ConfigFile{
			{Filename: cfg.ComposeFile, Content: []byte(content)},
		},
		Environment: map[string]string{"IMAGE_TAG": cfg.ImageTag},
	}, func(opts *loader.Options) {
		opts.SetProjectName(string(cfg.Environment), false)
		opts.SkipValidation = true
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil || project == nil || len(project.Services) == 0 {
		ec.Logf("could not parse %s, assuming %d replicas of %s", cfg.ComposeFile, defaultReplicas, defaultRollingService)
		return defaultRollingService, defaultReplicas
	}

	names := make([]string, 0, len(project.Services))
	for name := range project.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	// Prefer the first service with an explicit replica count.
	for _, name := range names {
		svc := project.Services[name]
		if svc.Deploy != nil && svc.Deploy.Replicas != nil && *svc.Deploy.Replicas > 0 {
			return name, *svc.Deploy.Replicas
		}
	}
	return names[0], defaultReplicas
}
