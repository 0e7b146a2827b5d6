package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/caravel-sh/caravel/internal/state"
	"github.com/caravel-sh/caravel/pkg/command"
	"github.com/caravel-sh/caravel/pkg/config"
	"github.com/caravel-sh/caravel/pkg/health"
	"github.com/caravel-sh/caravel/pkg/ssh"
)

// statusProbeTimeout bounds the single health probe per environment.
const statusProbeTimeout = 5 // seconds

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current state of every environment",
	Long: `Show each configured environment's most recent deployment and, when a
health check URL is configured, probe it once to report live health.
Environments are probed in parallel.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type envStatus struct {
	env     config.Environment
	latest  *state.Deployment
	healthy string
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	deployer := newDeployer(cfg)

	envs := make([]config.Environment, 0, len(cfg.Environments))
	for env := range cfg.Environments {
		envs = append(envs, env)
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i] < envs[j] })

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	results := make([]envStatus, len(envs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for i, env := range envs {
		g.Go(func() error {
			dc := cfg.Environments[env]

			latest, err := deployer.ListDeployments(state.HistoryOptions{Environment: env, Limit: 1})
			if err != nil {
				return err
			}

			st := envStatus{env: env, healthy: probeEnvironment(ctx, dc)}
			if len(latest) > 0 {
				st.latest = latest[0]
			}

			mu.Lock()
			results[i] = st
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("\n🚢 Environment Status for %s\n\n", cfg.Project.Name)
	fmt.Println(strings.Repeat("─", 96))
	fmt.Printf("%-13s %-28s %-15s %-20s %-12s\n", "ENVIRONMENT", "IMAGE", "LAST DEPLOY", "STARTED", "HEALTH")
	fmt.Println(strings.Repeat("─", 96))

	for _, st := range results {
		image, lastStatus, started := "-", "-", "-"
		if st.latest != nil {
			image = st.latest.Config.ImageTag
			if len(image) > 26 {
				image = image[:23] + "..."
			}
			lastStatus = formatStatus(st.latest.Status)
			started = st.latest.StartTime.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-13s %-28s %-15s %-20s %-12s\n", st.env, image, lastStatus, started, st.healthy)
	}

	fmt.Println(strings.Repeat("─", 96))
	fmt.Println()
	return nil
}

// probeEnvironment issues one health probe against the environment's
// configured URL, through SSH for remote targets.
func probeEnvironment(ctx context.Context, dc config.DeploymentConfig) string {
	if dc.HealthCheckURL == "" {
		return "-"
	}

	var runner command.Runner
	if dc.Remote() {
		client, err := ssh.NewClient(dc.Host, dc.Port, dc.User, dc.SSHKey)
		if err != nil {
			return "unreachable"
		}
		remote := command.NewRemote(client)
		defer remote.Close()
		runner = remote
	} else {
		runner = command.NewLocal()
	}

	if err := health.NewChecker(logger).Check(ctx, runner, dc.HealthCheckURL, statusProbeTimeout, nil); err != nil {
		return "✗ unhealthy"
	}
	return "✓ healthy"
}
