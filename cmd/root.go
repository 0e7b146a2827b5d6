// Package cmd wires the caravel CLI: configuration discovery, logging,
// telemetry, and the deploy, rollback, history and status commands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/caravel-sh/caravel/internal/state"
	"github.com/caravel-sh/caravel/pkg/config"
	"github.com/caravel-sh/caravel/pkg/deploy"
	"github.com/caravel-sh/caravel/pkg/telemetry"
)

var (
	cfgFile string
	verbose bool
	envFlag string

	logger *slog.Logger

	// Version, GitCommit, and BuildTime are set via ldflags during build
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "caravel",
	Short: "Deploy container stacks with direct, blue-green, canary, or rolling strategies",
	Long: `Caravel deploys Docker Compose stacks to local or SSH-reachable hosts
using the rollout strategy configured per environment: direct, blue-green,
canary, or rolling. Every deployment is recorded in an append-only history
with health verification and automatic rollback to the last good version.`,
	Version: Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := telemetry.Init(telemetry.DefaultConfig()); err != nil {
		fmt.Fprintln(os.Stderr, "Warning: failed to initialize tracing:", err)
	}
	defer telemetry.Shutdown(context.Background())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.SetVersionTemplate(fmt.Sprintf(`Caravel {{.Version}}
Commit:  %s
Built:   %s
`, GitCommit, BuildTime))

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./caravel.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "e", "", "environment to target (default: production)")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("env", rootCmd.PersistentFlags().Lookup("env"))
}

// findEnvFile searches for a .env file in the current directory and its
// parents.
func findEnvFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for i := 0; i < 10; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if envFile := findEnvFile(); envFile != "" {
		_ = godotenv.Load(envFile)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("caravel")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CARAVEL")

	if err := viper.ReadInConfig(); err == nil {
		cfgFile = viper.ConfigFileUsed()
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", cfgFile)
		}
	}
}

// loadConfig parses the resolved caravel.yaml.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = "caravel.yaml"
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// environmentName resolves the target environment from the flag, falling
// back to production.
func environmentName() config.Environment {
	if envFlag != "" {
		return config.Environment(envFlag)
	}
	return config.Production
}

// environmentConfig resolves the deployment configuration for the target
// environment.
func environmentConfig(cfg *config.Config) (config.DeploymentConfig, error) {
	env := environmentName()
	dc, ok := cfg.Environments[env]
	if !ok {
		return config.DeploymentConfig{}, fmt.Errorf("environment %s not found in configuration", env)
	}
	return dc, nil
}

// newDeployer builds the deployer on top of the configured history file.
func newDeployer(cfg *config.Config) *deploy.Deployer {
	store := state.NewFileStore(cfg.HistoryPath(), logger)
	return deploy.New(store, logger)
}

// printEvents mirrors log events to stdout until the returned stop
// function is called. An empty deploymentID mirrors every deployment.
func printEvents(d *deploy.Deployer, deploymentID string) func() {
	events, unsubscribe := d.Events().Subscribe(64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for event := range events {
			if event.Type != deploy.EventLog {
				continue
			}
			if deploymentID != "" && event.DeploymentID != deploymentID {
				continue
			}
			fmt.Printf("  %s %s\n", event.Time.Format("15:04:05"), event.Message)
		}
	}()

	return func() {
		unsubscribe()
		<-done
	}
}
