// Package deploy implements the deployment orchestration core: the
// deployer, the four rollout strategies, rollback, and the lifecycle
// event stream.
package deploy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caravel-sh/caravel/pkg/command"
	"github.com/caravel-sh/caravel/pkg/config"
	"github.com/caravel-sh/caravel/pkg/health"
)

// ExecContext bundles the capabilities a strategy step executes with: the
// command runner bound to the deployment target, the health checker, and
// a log sink that feeds the deployment record and the event stream.
type ExecContext struct {
	Runner command.Runner
	Health *health.Checker
	Logf   func(format string, args ...any)
}

// Strategy encodes the step sequence of one rollout strategy. Each
// implementation is a pure protocol over the runner and health checker:
// the first failing command aborts the sequence and the error bubbles to
// the deployer.
type Strategy interface {
	Name() config.Strategy
	Execute(ctx context.Context, cfg config.DeploymentConfig, ec *ExecContext) error
}

// DefaultStrategies returns the strategy lookup table the deployer
// dispatches on.
func DefaultStrategies() map[config.Strategy]Strategy {
	return map[config.Strategy]Strategy{
		config.StrategyDirect:    &DirectStrategy{},
		config.StrategyBlueGreen: &BlueGreenStrategy{},
		config.StrategyCanary:    &CanaryStrategy{},
		config.StrategyRolling:   &RollingStrategy{},
	}
}

// Shared primitive steps. Every strategy is composed from these: pull,
// env-write, start, stop, health-check, prune.

const (
	envFileName     = ".env"
	colorMarkerFile = ".active-color"
)

// run executes one command, logging it before and surfacing the runner's
// error untouched so it reaches the deployment record verbatim.
func run(ctx context.Context, ec *ExecContext, cmd command.Command) (command.Result, error) {
	if err := ctx.Err(); err != nil {
		return command.Result{}, err
	}
	ec.Logf("run: %s", cmd.String())
	return ec.Runner.Run(ctx, cmd)
}

// compose builds a docker compose invocation for the deployment's stack.
// project and envFile scope the stack for color or canary variants; both
// may be empty for the main stack.
func compose(cfg config.DeploymentConfig, project, envFile string, args ...string) command.Command {
	argv := []string{"compose", "-f", cfg.ComposeFile}
	if project != "" {
		argv = append(argv, "-p", project)
	}
	if envFile != "" {
		argv = append(argv, "--env-file", envFile)
	}
	argv = append(argv, args...)
	return command.New("docker", argv...).InDir(cfg.DeploymentDir)
}

func pullImage(ctx context.Context, ec *ExecContext, cfg config.DeploymentConfig) error {
	ec.Logf("pulling image %s", cfg.ImageTag)
	if _, err := run(ctx, ec, command.New("docker", "pull", cfg.ImageTag)); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	ec.Logf("image pulled")
	return nil
}

// envFileContent renders the environment file for a stack: the image tag
// plus any configured variables, sorted for a stable file.
func envFileContent(cfg config.DeploymentConfig, extra map[string]string) string {
	vars := map[string]string{"IMAGE_TAG": cfg.ImageTag}
	for k, v := range cfg.EnvVars {
		vars[k] = v
	}
	for k, v := range extra {
		vars[k] = v
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(vars[k])
		b.WriteString("\n")
	}
	return b.String()
}

// writeEnvFile writes the stack environment file on the target.
func writeEnvFile(ctx context.Context, ec *ExecContext, cfg config.DeploymentConfig, name string, extra map[string]string) error {
	ec.Logf("writing %s with image tag %s", name, cfg.ImageTag)
	content := envFileContent(cfg, extra)
	cmd := command.New("sh", "-c",
		fmt.Sprintf("printf '%%s' %s > %s", command.Quote(content), command.Quote(name)),
	).InDir(cfg.DeploymentDir)
	if _, err := ec.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// readFileOrEmpty reads a file on the target, returning "" when absent.
func readFileOrEmpty(ctx context.Context, ec *ExecContext, cfg config.DeploymentConfig, name string) (string, error) {
	cmd := command.New("sh", "-c",
		fmt.Sprintf("cat %s 2>/dev/null || true", command.Quote(name)),
	).InDir(cfg.DeploymentDir)
	result, err := ec.Runner.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

// writeFile writes arbitrary content to a file on the target.
func writeFile(ctx context.Context, ec *ExecContext, cfg config.DeploymentConfig, name, content string) error {
	cmd := command.New("sh", "-c",
		fmt.Sprintf("printf '%%s' %s > %s", command.Quote(content), command.Quote(name)),
	).InDir(cfg.DeploymentDir)
	if _, err := ec.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// checkHealth verifies the deployment target, substituting a fixed wait
// when no health URL is configured. The absence of a URL never blocks a
// strategy.
func checkHealth(ctx context.Context, ec *ExecContext, cfg config.DeploymentConfig, fallbackWait time.Duration) error {
	if cfg.HealthCheckURL == "" {
		if fallbackWait > 0 {
			ec.Logf("no health check URL configured, waiting %s instead", fallbackWait)
			return sleep(ctx, fallbackWait)
		}
		ec.Logf("no health check URL configured, skipping health check")
		return nil
	}
	return ec.Health.Check(ctx, ec.Runner, cfg.HealthCheckURL, cfg.HealthTimeout(), ec.Logf)
}

// pruneImages removes unused images after a rollout. Failures here abort
// the deployment like any other step: the sequence has no best-effort
// tail.
func pruneImages(ctx context.Context, ec *ExecContext, cfg config.DeploymentConfig) error {
	ec.Logf("pruning unused images")
	if _, err := run(ctx, ec, command.New("docker", "image", "prune", "-f")); err != nil {
		return fmt.Errorf("failed to prune images: %w", err)
	}
	return nil
}

// sleep pauses between steps while staying responsive to cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
