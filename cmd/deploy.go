package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caravel-sh/caravel/internal/state"
	"github.com/caravel-sh/caravel/pkg/config"
)

var (
	deployVersion string
	deployCommit  string
	deployBuildID string
)

var deployCmd = &cobra.Command{
	Use:   "deploy [image-tag]",
	Short: "Deploy an image to an environment",
	Long: `Deploy an image to the target environment using its configured
rollout strategy.

The image tag argument overrides the imageTag from the configuration.
On failure, the environment is rolled back to the last successful
deployment when rollback is enabled.

Examples:
  caravel deploy                                 # Deploy configured image to production
  caravel deploy myapp:v1.2.3                    # Deploy a specific tag
  caravel deploy myapp:v1.2.3 -e staging         # Deploy to staging
  caravel deploy myapp:v1.2.3 --commit abc1234   # Record the source commit`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)
	deployCmd.Flags().StringVar(&deployVersion, "release-version", "", "Version label recorded on the deployment")
	deployCmd.Flags().StringVar(&deployCommit, "commit", "", "Git commit hash recorded on the deployment")
	deployCmd.Flags().StringVar(&deployBuildID, "build-id", "", "CI build identifier recorded on the deployment")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dc, err := environmentConfig(cfg)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		dc.ImageTag = args[0]
	}

	// Env-file variables are resolved on the operator's machine and
	// embedded in the record; explicit envVars win on conflicts.
	if dc.EnvFile != "" {
		fileVars, err := config.LoadEnvFile(dc.EnvFile)
		if err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		dc.EnvVars = config.MergeEnvVars(dc.EnvVars, fileVars)
	}

	version := deployVersion
	if version == "" {
		version = dc.ImageTag
	}

	deployer := newDeployer(cfg)

	d, err := deployer.CreateDeployment(dc, version, deployCommit, deployBuildID)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Deploying %s to %s (%s strategy) ===\n\n", dc.ImageTag, dc.Environment, dc.Strategy)
	fmt.Printf("Deployment: %s\n\n", state.FormatID(d.ID))

	stop := printEvents(deployer, d.ID)
	defer stop()

	// Interrupts cancel the deployment rather than killing it mid-step.
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ok, err := deployer.ExecuteDeployment(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("deployment failed to execute: %w", err)
	}

	record, getErr := deployer.GetDeployment(d.ID)
	if getErr != nil {
		return getErr
	}

	if !ok {
		fmt.Printf("\n✗ Deployment %s finished with status %s\n", state.FormatID(d.ID), record.Status)
		if record.Error != "" {
			fmt.Printf("  Error: %s\n", record.Error)
		}
		if record.RollbackDeploymentID != "" {
			fmt.Printf("  Rolled back via deployment %s\n", state.FormatID(record.RollbackDeploymentID))
		}
		os.Exit(1)
	}

	fmt.Printf("\n✓ Deployed %s to %s in %s\n", dc.ImageTag, dc.Environment, state.FormatDuration(record.Duration))
	return nil
}
