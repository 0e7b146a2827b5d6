package deploy

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caravel-sh/caravel/pkg/command"
	"github.com/caravel-sh/caravel/pkg/config"
	"github.com/caravel-sh/caravel/pkg/health"
)

func newExecContext(runner command.Runner) *ExecContext {
	return &ExecContext{
		Runner: runner,
		Health: health.NewChecker(discardLogger()),
		Logf:   func(format string, args ...any) {},
	}
}

func TestDirectStrategySequence(t *testing.T) {
	runner := &fakeRunner{}
	cfg := testConfig(config.StrategyDirect, false)
	cfg.PostDeploymentCommands = []string{"docker exec app migrate"}

	err := (&DirectStrategy{}).Execute(context.Background(), cfg, newExecContext(runner))
	require.NoError(t, err)

	joined := strings.Join(runner.commandLines(), "\n")
	pull := strings.Index(joined, "docker pull myapp:v2")
	down := strings.Index(joined, "docker compose -f docker-compose.yml down")
	up := strings.Index(joined, "docker compose -f docker-compose.yml up -d")
	post := strings.Index(joined, "docker exec app migrate")
	prune := strings.Index(joined, "docker image prune -f")

	require.True(t, pull >= 0 && down >= 0 && up >= 0 && post >= 0 && prune >= 0, joined)
	assert.Less(t, pull, down)
	assert.Less(t, down, up)
	assert.Less(t, up, post)
	assert.Less(t, post, prune)
}

func TestBlueGreenAlternation(t *testing.T) {
	runner := &fakeRunner{}
	cfg := testConfig(config.StrategyBlueGreen, true)
	strategy := &BlueGreenStrategy{}

	// No marker yet: the active color defaults to blue, so green deploys.
	require.NoError(t, strategy.Execute(context.Background(), cfg, newExecContext(runner)))
	assert.Equal(t, colorGreen, runner.marker)

	joined := strings.Join(runner.commandLines(), "\n")
	assert.Contains(t, joined, "-p production-green")
	assert.Contains(t, joined, "-p production-blue", "the old blue stack is stopped")

	// Second deployment alternates back to blue.
	require.NoError(t, strategy.Execute(context.Background(), cfg, newExecContext(runner)))
	assert.Equal(t, colorBlue, runner.marker)
}

func TestBlueGreenRoutesBeforeStoppingOld(t *testing.T) {
	runner := &fakeRunner{marker: colorBlue}
	cfg := testConfig(config.StrategyBlueGreen, true)

	require.NoError(t, (&BlueGreenStrategy{}).Execute(context.Background(), cfg, newExecContext(runner)))

	joined := strings.Join(runner.commandLines(), "\n")
	flip := strings.Index(joined, "ACTIVE_COLOR=green")
	stopOld := strings.Index(joined, "-p production-blue docker compose -f docker-compose.yml down")
	if stopOld < 0 {
		stopOld = strings.Index(joined, "docker compose -f docker-compose.yml -p production-blue down")
	}

	require.True(t, flip >= 0, joined)
	require.True(t, stopOld >= 0, joined)
	assert.Less(t, flip, stopOld, "traffic flips before the old stack stops")
}

func TestCanaryFailsAtWeightRaise(t *testing.T) {
	runner := &fakeRunner{
		fail: func(cmd command.Command) error {
			if cmd.Env["CANARY_WEIGHT"] == "50" {
				return fmt.Errorf("router reload failed")
			}
			return nil
		},
	}
	cfg := testConfig(config.StrategyCanary, true)

	err := (&CanaryStrategy{}).Execute(context.Background(), cfg, newExecContext(runner))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canary weight to 50")

	// The main stack env file was never promoted; only the canary variant
	// was written.
	joined := strings.Join(runner.commandLines(), "\n")
	assert.Contains(t, joined, "> .env.canary")
	assert.NotContains(t, joined, "> .env'")
}

func TestCanaryWeightsProgression(t *testing.T) {
	runner := &fakeRunner{
		fail: func(cmd command.Command) error {
			// Abort right after the raise so the observation wait is never
			// reached and the test stays fast.
			if cmd.Env["CANARY_WEIGHT"] == "50" {
				return fmt.Errorf("stop here")
			}
			return nil
		},
	}
	cfg := testConfig(config.StrategyCanary, true)

	err := (&CanaryStrategy{}).Execute(context.Background(), cfg, newExecContext(runner))
	require.Error(t, err)

	joined := strings.Join(runner.commandLines(), "\n")
	ten := strings.Index(joined, "CANARY_WEIGHT=10")
	fifty := strings.Index(joined, "CANARY_WEIGHT=50")
	require.True(t, ten >= 0 && fifty >= 0, joined)
	assert.Less(t, ten, fifty)
	assert.Contains(t, joined, "-p production-canary")
}

func TestRollingDiscoversReplicas(t *testing.T) {
	runner := &fakeRunner{compose: `
services:
  web:
    image: myapp:${IMAGE_TAG}
    deploy:
      replicas: 2
`}
	cfg := testConfig(config.StrategyRolling, true)

	require.NoError(t, (&RollingStrategy{}).Execute(context.Background(), cfg, newExecContext(runner)))

	joined := strings.Join(runner.commandLines(), "\n")
	assert.Contains(t, joined, "--scale web=1")
	assert.Contains(t, joined, "--scale web=2")
	assert.NotContains(t, joined, "--scale web=3")
}

func TestRollingFallsBackToDefaults(t *testing.T) {
	runner := &fakeRunner{compose: ""}
	cfg := testConfig(config.StrategyRolling, true)

	require.NoError(t, (&RollingStrategy{}).Execute(context.Background(), cfg, newExecContext(runner)))

	joined := strings.Join(runner.commandLines(), "\n")
	for i := 1; i <= defaultReplicas; i++ {
		assert.Contains(t, joined, fmt.Sprintf("--scale %s=%d", defaultRollingService, i))
	}
}

func TestRollingStopsOnUnhealthyReplica(t *testing.T) {
	probes := 0
	runner := &fakeRunner{}
	runner.fail = func(cmd command.Command) error {
		if cmd.Argv[0] == "curl" {
			probes++
			if probes > 1 {
				return fmt.Errorf("connection refused")
			}
		}
		return nil
	}
	cfg := testConfig(config.StrategyRolling, true)
	cfg.HealthCheckTimeout = 5 // one probe attempt per scale step

	err := (&RollingStrategy{}).Execute(context.Background(), cfg, newExecContext(runner))
	require.Error(t, err)

	joined := strings.Join(runner.commandLines(), "\n")
	assert.Contains(t, joined, "--scale app=2", "the failing step was reached")
	assert.NotContains(t, joined, "--scale app=3", "no further replica is touched after a failed check")
}

func TestEnvFileContent(t *testing.T) {
	cfg := testConfig(config.StrategyDirect, false)
	cfg.EnvVars = map[string]string{"LOG_LEVEL": "debug"}

	content := envFileContent(cfg, map[string]string{"ACTIVE_COLOR": "green"})
	assert.Equal(t, "ACTIVE_COLOR=green\nIMAGE_TAG=myapp:v2\nLOG_LEVEL=debug\n", content)
}

func TestExpandPlaceholders(t *testing.T) {
	cfg := testConfig(config.StrategyDirect, false)
	cfg.EnvVars = map[string]string{"REGION": "eu-west-1"}

	out := expandPlaceholders("notify {{IMAGE}} to {{ENVIRONMENT}} in {{REGION}}", cfg)
	assert.Equal(t, "notify myapp:v2 to production in eu-west-1", out)
}

func TestRunPostDeploymentCommandsAbortsOnFailure(t *testing.T) {
	runner := &fakeRunner{
		fail: func(cmd command.Command) error {
			if strings.Contains(cmd.ShellLine(), "migrate") {
				return fmt.Errorf("migration failed")
			}
			return nil
		},
	}
	cfg := testConfig(config.StrategyDirect, false)
	cfg.PostDeploymentCommands = []string{"echo first", "run migrate", "echo never"}

	err := runPostDeploymentCommands(context.Background(), newExecContext(runner), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "post-deployment command 1 failed")

	joined := strings.Join(runner.commandLines(), "\n")
	assert.Contains(t, joined, "echo first")
	assert.NotContains(t, joined, "echo never")
}
