package deploy

import (
	"context"
	"fmt"

	"github.com/caravel-sh/caravel/internal/state"
)

// RollbackManager restores an environment after a failed deployment by
// replaying the last successful deployment as a brand new record. The
// failed record is never re-executed and the history stays append-only.
type RollbackManager struct {
	deployer *Deployer
}

// NewRollbackManager binds a rollback manager to its deployer.
func NewRollbackManager(d *Deployer) *RollbackManager {
	return &RollbackManager{deployer: d}
}

// Rollback rolls the environment of the given failed deployment back to
// its last successful state. It reports whether the rollback deployment
// succeeded; when no successful deployment exists for the environment it
// logs the reason and returns false without touching the failed record's
// status.
func (m *RollbackManager) Rollback(ctx context.Context, id string) (bool, error) {
	orig, err := m.deployer.GetDeployment(id)
	if err != nil {
		return false, err
	}

	last, err := m.deployer.GetLatestSuccessfulDeployment(orig.Config.Environment)
	if err != nil {
		return false, err
	}
	if last == nil {
		m.deployer.logf(orig, "rollback unavailable: no successful deployment for %s (%v)",
			orig.Config.Environment, ErrRollbackUnavailable)
		if err := m.deployer.persist(); err != nil {
			return false, err
		}
		return false, nil
	}

	// The rollback deployment reuses the last known-good configuration
	// with rollback disabled, so a failing rollback cannot cascade into
	// another rollback.
	cfg := last.Config
	cfg.RollbackEnabled = false

	clone, err := m.deployer.CreateDeployment(cfg, last.Version, last.CommitHash, last.BuildID)
	if err != nil {
		return false, fmt.Errorf("failed to create rollback deployment: %w", err)
	}

	m.deployer.mu.Lock()
	orig.RollbackDeploymentID = clone.ID
	m.deployer.mu.Unlock()
	m.deployer.logf(orig, "rolling back %s to %s via deployment %s",
		orig.Config.Environment, last.Config.ImageTag, state.FormatID(clone.ID))
	if err := m.deployer.persist(); err != nil {
		return false, err
	}

	ok, err := m.deployer.ExecuteDeployment(ctx, clone.ID)
	if err != nil {
		return false, fmt.Errorf("rollback deployment %s: %w", state.FormatID(clone.ID), err)
	}
	if !ok {
		m.deployer.logf(orig, "rollback deployment %s failed, environment left as is", state.FormatID(clone.ID))
		if err := m.deployer.persist(); err != nil {
			return false, err
		}
		return false, nil
	}

	m.deployer.setStatus(orig, state.StatusRolledBack)
	m.deployer.logf(orig, "rolled back to %s", last.Config.ImageTag)
	if err := m.deployer.persist(); err != nil {
		return false, err
	}
	return true, nil
}
