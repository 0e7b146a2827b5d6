package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caravel-sh/caravel/internal/state"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback [deployment-id]",
	Short: "Roll an environment back to its last successful deployment",
	Long: `Roll back the environment of a failed deployment by replaying the
last successful deployment as a new one.

If no deployment-id is provided, the most recent failed deployment of the
target environment is rolled back. A deployment-id prefix is enough as
long as it is unambiguous.

Use 'caravel history' to view past deployments.

Examples:
  caravel rollback                   # Roll back the latest failed production deployment
  caravel rollback -e staging        # Same for staging
  caravel rollback 3f2a9c1d          # Roll back a specific failed deployment`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	deployer := newDeployer(cfg)

	var target *state.Deployment
	if len(args) > 0 {
		target, err = findDeploymentByPrefix(deployer, args[0])
		if err != nil {
			return err
		}
	} else {
		env := environmentName()
		failed, err := deployer.ListDeployments(state.HistoryOptions{
			Environment: env,
			Status:      state.StatusFailure,
			Limit:       1,
		})
		if err != nil {
			return err
		}
		if len(failed) == 0 {
			return fmt.Errorf("no failed deployment found for environment %s", env)
		}
		target = failed[0]
	}

	fmt.Printf("\n=== Rolling back deployment %s (%s) ===\n\n",
		state.FormatID(target.ID), target.Config.Environment)

	stop := printEvents(deployer, "")
	defer stop()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ok, err := deployer.RollbackDeployment(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	if !ok {
		fmt.Printf("✗ Rollback did not complete for deployment %s\n", state.FormatID(target.ID))
		os.Exit(1)
	}

	fmt.Printf("\n✓ Successfully rolled back deployment %s\n", state.FormatID(target.ID))
	return nil
}

// findDeploymentByPrefix resolves a full or shortened deployment ID.
func findDeploymentByPrefix(deployer deployerLister, prefix string) (*state.Deployment, error) {
	all, err := deployer.ListDeployments(state.HistoryOptions{})
	if err != nil {
		return nil, err
	}

	var matches []*state.Deployment
	for _, d := range all {
		if strings.HasPrefix(d.ID, prefix) {
			matches = append(matches, d)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no deployment matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("deployment id %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

type deployerLister interface {
	ListDeployments(opts state.HistoryOptions) ([]*state.Deployment, error)
}
