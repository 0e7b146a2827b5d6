package deploy

import "errors"

var (
	// ErrNotFound is returned when a deployment id is unknown. This is a
	// caller bug: it is surfaced immediately and never retried.
	ErrNotFound = errors.New("deployment not found")

	// ErrRollbackUnavailable is reported when a rollback is requested for
	// an environment with no prior successful deployment.
	ErrRollbackUnavailable = errors.New("no successful deployment to roll back to")
)
