package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caravel-sh/caravel/internal/state"
	"github.com/caravel-sh/caravel/pkg/command"
	"github.com/caravel-sh/caravel/pkg/config"
	"github.com/caravel-sh/caravel/pkg/health"
	"github.com/caravel-sh/caravel/pkg/ssh"
	"github.com/caravel-sh/caravel/pkg/telemetry"
)

// RunnerFactory builds the command runner for a deployment target, plus a
// cleanup function releasing the transport. Injectable for testing.
type RunnerFactory func(cfg config.DeploymentConfig) (command.Runner, func(), error)

// Deployer orchestrates deployments: it owns the history store, dispatches
// to the strategy matching the configuration, manages status transitions,
// triggers rollback on failure, and emits lifecycle events.
//
// Independent deployments may execute concurrently, but the deployer takes
// no per-environment lock: two concurrent executions against the same
// environment will race on the target system.
type Deployer struct {
	store      state.Store
	strategies map[config.Strategy]Strategy
	health     *health.Checker
	events     *Broadcaster
	logger     *slog.Logger
	newRunner  RunnerFactory
	rollback   *RollbackManager

	// mu guards the record cache and every record mutation; the store is
	// the source of truth and the cache is refilled from it once.
	mu          sync.Mutex
	deployments map[string]*state.Deployment
	loaded      bool
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithRunnerFactory overrides how command runners are built. Tests use
// this to substitute a scripted runner.
func WithRunnerFactory(f RunnerFactory) Option {
	return func(d *Deployer) { d.newRunner = f }
}

// WithStrategies overrides the strategy lookup table.
func WithStrategies(strategies map[config.Strategy]Strategy) Option {
	return func(d *Deployer) { d.strategies = strategies }
}

// WithHealthChecker overrides the health checker.
func WithHealthChecker(h *health.Checker) Option {
	return func(d *Deployer) { d.health = h }
}

// New creates a Deployer on top of the given history store.
func New(store state.Store, logger *slog.Logger, opts ...Option) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Deployer{
		store:       store,
		strategies:  DefaultStrategies(),
		health:      health.NewChecker(logger),
		events:      NewBroadcaster(),
		logger:      logger,
		newRunner:   defaultRunnerFactory,
		deployments: make(map[string]*state.Deployment),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.rollback = NewRollbackManager(d)
	return d
}

// defaultRunnerFactory connects over SSH when the target configures host
// and user, and falls back to local execution otherwise.
func defaultRunnerFactory(cfg config.DeploymentConfig) (command.Runner, func(), error) {
	if !cfg.Remote() {
		return command.NewLocal(), func() {}, nil
	}

	client, err := ssh.NewClient(cfg.Host, cfg.Port, cfg.User, cfg.SSHKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create SSH client: %w", err)
	}
	remote := command.NewRemote(client)
	return remote, func() { remote.Close() }, nil
}

// Events exposes the lifecycle event stream for subscribers.
func (dep *Deployer) Events() *Broadcaster {
	return dep.events
}

// CreateDeployment allocates a new pending deployment record and persists
// it. No side effects reach the target system until execution.
func (dep *Deployer) CreateDeployment(cfg config.DeploymentConfig, version, commitHash, buildID string) (*state.Deployment, error) {
	if err := config.ValidateDeployment(cfg); err != nil {
		return nil, fmt.Errorf("invalid deployment config: %w", err)
	}
	if err := dep.ensureLoaded(); err != nil {
		return nil, err
	}

	d := &state.Deployment{
		ID:         uuid.NewString(),
		Config:     cfg,
		Status:     state.StatusPending,
		StartTime:  time.Now(),
		Version:    version,
		CommitHash: commitHash,
		BuildID:    buildID,
		Logs:       []state.LogEntry{},
	}

	dep.mu.Lock()
	dep.deployments[d.ID] = d
	err := dep.persistLocked()
	dep.mu.Unlock()
	if err != nil {
		return nil, err
	}

	dep.events.Publish(Event{
		Type:         EventCreated,
		DeploymentID: d.ID,
		Environment:  cfg.Environment,
		Status:       d.Status,
		Message:      fmt.Sprintf("deployment created for %s with %s strategy", cfg.Environment, cfg.Strategy),
	})
	dep.logger.Info("deployment created",
		"deployment", d.ID, "environment", cfg.Environment, "strategy", cfg.Strategy, "image", cfg.ImageTag)

	return d, nil
}

// ExecuteDeployment runs a pending deployment through its strategy and
// reports whether it succeeded. The returned error is non-nil only for
// caller bugs (unknown id, record not pending) or store failures; a
// deployment that ran and failed yields (false, nil) with the failure
// recorded on the record, and triggers rollback when the configuration
// enables it.
func (dep *Deployer) ExecuteDeployment(ctx context.Context, id string) (bool, error) {
	if err := dep.ensureLoaded(); err != nil {
		return false, err
	}

	dep.mu.Lock()
	d, ok := dep.deployments[id]
	dep.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if d.Status != state.StatusPending {
		return false, fmt.Errorf("deployment %s is %s, expected %s", id, d.Status, state.StatusPending)
	}

	ctx, span := telemetry.DeploySpan(ctx, d.ID, string(d.Config.Environment), string(d.Config.Strategy))
	defer span.End()

	dep.mu.Lock()
	d.StartTime = time.Now()
	dep.mu.Unlock()
	dep.setStatus(d, state.StatusInProgress)
	dep.logf(d, "starting deployment of %s to %s using %s strategy",
		d.Config.ImageTag, d.Config.Environment, dep.effectiveStrategy(d.Config))
	if err := dep.persist(); err != nil {
		return false, err
	}

	execErr := dep.runStrategy(ctx, d)

	dep.mu.Lock()
	d.Finish(time.Now())
	dep.mu.Unlock()

	switch {
	case execErr == nil:
		dep.setStatus(d, state.StatusSuccess)
		dep.logf(d, "deployment succeeded in %s", state.FormatDuration(d.Duration))
		if err := dep.persist(); err != nil {
			return false, err
		}
		return true, nil

	case errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded):
		dep.setStatus(d, state.StatusCancelled)
		dep.mu.Lock()
		d.Error = execErr.Error()
		dep.mu.Unlock()
		dep.logf(d, "deployment cancelled: %v", execErr)
		if err := dep.persist(); err != nil {
			return false, err
		}
		return false, nil

	default:
		span.RecordError(execErr)
		dep.setStatus(d, state.StatusFailure)
		dep.mu.Lock()
		d.Error = execErr.Error()
		dep.mu.Unlock()
		dep.logf(d, "deployment failed: %v", execErr)
		if err := dep.persist(); err != nil {
			return false, err
		}

		if d.Config.RollbackEnabled {
			// Best effort: a rollback failure is logged but does not
			// change this deployment's outcome for the caller.
			if ok, rbErr := dep.rollback.Rollback(ctx, d.ID); rbErr != nil || !ok {
				dep.logf(d, "automatic rollback did not complete: ok=%v err=%v", ok, rbErr)
			}
		}
		return false, nil
	}
}

// runStrategy resolves the executor and drives it with a fresh runner.
func (dep *Deployer) runStrategy(ctx context.Context, d *state.Deployment) error {
	strategyName := dep.effectiveStrategy(d.Config)
	strat, ok := dep.strategies[strategyName]
	if !ok {
		return fmt.Errorf("no executor registered for strategy %q", strategyName)
	}

	runner, cleanup, err := dep.newRunner(d.Config)
	if err != nil {
		return fmt.Errorf("failed to reach deployment target: %w", err)
	}
	defer cleanup()

	ec := &ExecContext{
		Runner: runner,
		Health: dep.health,
		Logf: func(format string, args ...any) {
			dep.logf(d, format, args...)
		},
	}
	return strat.Execute(ctx, d.Config, ec)
}

// effectiveStrategy resolves which executor runs: targets without a
// remote host always deploy with the direct strategy locally.
func (dep *Deployer) effectiveStrategy(cfg config.DeploymentConfig) config.Strategy {
	if !cfg.Remote() {
		return config.StrategyDirect
	}
	return cfg.Strategy
}

// ListDeployments filters history, newest first, optionally truncated.
func (dep *Deployer) ListDeployments(opts state.HistoryOptions) ([]*state.Deployment, error) {
	if err := dep.ensureLoaded(); err != nil {
		return nil, err
	}

	dep.mu.Lock()
	result := make([]*state.Deployment, 0, len(dep.deployments))
	for _, d := range dep.deployments {
		if opts.Environment != "" && d.Config.Environment != opts.Environment {
			continue
		}
		if opts.Status != "" && d.Status != opts.Status {
			continue
		}
		result = append(result, d)
	}
	dep.mu.Unlock()

	state.SortByStartTimeDesc(result)
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// GetLatestSuccessfulDeployment returns the most recent successful
// deployment for an environment, or nil when there is none.
func (dep *Deployer) GetLatestSuccessfulDeployment(env config.Environment) (*state.Deployment, error) {
	deployments, err := dep.ListDeployments(state.HistoryOptions{
		Environment: env,
		Status:      state.StatusSuccess,
		Limit:       1,
	})
	if err != nil {
		return nil, err
	}
	if len(deployments) == 0 {
		return nil, nil
	}
	return deployments[0], nil
}

// GetDeployment returns one record by id.
func (dep *Deployer) GetDeployment(id string) (*state.Deployment, error) {
	if err := dep.ensureLoaded(); err != nil {
		return nil, err
	}

	dep.mu.Lock()
	defer dep.mu.Unlock()

	d, ok := dep.deployments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d, nil
}

// RollbackDeployment replays the last successful deployment of the failing
// record's environment as a new deployment. See RollbackManager.
func (dep *Deployer) RollbackDeployment(ctx context.Context, id string) (bool, error) {
	return dep.rollback.Rollback(ctx, id)
}

// ensureLoaded fills the cache from the store on first use.
func (dep *Deployer) ensureLoaded() error {
	dep.mu.Lock()
	defer dep.mu.Unlock()

	if dep.loaded {
		return nil
	}

	deployments, err := dep.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load deployment history: %w", err)
	}
	for _, d := range deployments {
		dep.deployments[d.ID] = d
	}
	dep.loaded = true
	return nil
}

// persist writes the full record set back to the store.
func (dep *Deployer) persist() error {
	dep.mu.Lock()
	defer dep.mu.Unlock()
	return dep.persistLocked()
}

func (dep *Deployer) persistLocked() error {
	all := make([]*state.Deployment, 0, len(dep.deployments))
	for _, d := range dep.deployments {
		all = append(all, d)
	}
	// Oldest first, so the persisted file reads as an append-only log.
	state.SortByStartTimeDesc(all)
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}

	if err := dep.store.Save(all); err != nil {
		return fmt.Errorf("failed to persist deployment history: %w", err)
	}
	return nil
}

// setStatus advances the record's state machine and publishes the
// transition.
func (dep *Deployer) setStatus(d *state.Deployment, next state.Status) {
	dep.mu.Lock()
	if !d.Status.CanTransitionTo(next) {
		dep.mu.Unlock()
		dep.logger.Error("illegal status transition",
			"deployment", d.ID, "from", d.Status, "to", next)
		return
	}
	d.Status = next
	dep.mu.Unlock()

	dep.events.Publish(Event{
		Type:         EventStatusChanged,
		DeploymentID: d.ID,
		Environment:  d.Config.Environment,
		Status:       next,
	})
	dep.logger.Info("deployment status changed", "deployment", d.ID, "status", next)
}

// logf appends a timestamped line to the deployment record, mirrors it to
// the process logger, and publishes it on the event stream.
func (dep *Deployer) logf(d *state.Deployment, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	dep.mu.Lock()
	entry := d.AppendLog(msg)
	dep.mu.Unlock()

	dep.logger.Info(msg, "deployment", d.ID, "environment", d.Config.Environment)
	dep.events.Publish(Event{
		Type:         EventLog,
		DeploymentID: d.ID,
		Environment:  d.Config.Environment,
		Status:       d.Status,
		Message:      msg,
		Time:         entry.Time,
	})
}
