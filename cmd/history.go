package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caravel-sh/caravel/internal/state"
	"github.com/caravel-sh/caravel/pkg/config"
)

var (
	historyLimit  int
	historyStatus string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View deployment history",
	Long: `View the recorded deployment history.

This shows past deployments with their status, image, timing, and the
rollback deployment that repaired them, if any. Filter by environment
with --env and by status with --status.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of deployments to show")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by status (pending, in_progress, success, failure, cancelled, rolled_back)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	deployer := newDeployer(cfg)

	opts := state.HistoryOptions{Limit: historyLimit}
	if envFlag != "" {
		opts.Environment = config.Environment(envFlag)
	}
	if historyStatus != "" {
		opts.Status = state.Status(historyStatus)
	}

	deployments, err := deployer.ListDeployments(opts)
	if err != nil {
		return fmt.Errorf("failed to load deployment history: %w", err)
	}

	if len(deployments) == 0 {
		fmt.Println("No deployments found")
		return nil
	}

	fmt.Printf("\n📋 Deployment History for %s\n\n", cfg.Project.Name)
	fmt.Println(strings.Repeat("─", 118))
	fmt.Printf("%-10s %-12s %-11s %-28s %-15s %-20s %-10s\n",
		"ID", "ENVIRONMENT", "STRATEGY", "IMAGE", "STATUS", "STARTED", "DURATION")
	fmt.Println(strings.Repeat("─", 118))

	for _, d := range deployments {
		image := d.Config.ImageTag
		if len(image) > 26 {
			image = image[:23] + "..."
		}

		duration := "-"
		if d.EndTime != nil {
			duration = state.FormatDuration(d.Duration)
		}

		fmt.Printf("%-10s %-12s %-11s %-28s %-15s %-20s %-10s\n",
			state.FormatID(d.ID),
			d.Config.Environment,
			d.Config.Strategy,
			image,
			formatStatus(d.Status),
			d.StartTime.Format("2006-01-02 15:04:05"),
			duration,
		)

		if d.Status == state.StatusFailure && d.Error != "" {
			fmt.Printf("           Error: %s\n", d.Error)
		}
		if d.RollbackDeploymentID != "" {
			fmt.Printf("           Rolled back via: %s\n", state.FormatID(d.RollbackDeploymentID))
		}
	}

	fmt.Println(strings.Repeat("─", 118))
	fmt.Printf("\nShowing %d deployment(s). Use --limit to show more.\n", len(deployments))
	fmt.Printf("To roll back a failed deployment: caravel rollback <deployment-id>\n\n")

	return nil
}

func formatStatus(status state.Status) string {
	switch status {
	case state.StatusSuccess:
		return "✓ success"
	case state.StatusFailure:
		return "✗ failure"
	case state.StatusRolledBack:
		return "↺ rolled_back"
	case state.StatusInProgress:
		return "⋯ in_progress"
	case state.StatusCancelled:
		return "⊘ cancelled"
	default:
		return string(status)
	}
}
