// Package health verifies that a newly started version is serving before
// traffic shifts or the next rollout step begins.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/caravel-sh/caravel/pkg/command"
	"github.com/caravel-sh/caravel/pkg/telemetry"
)

// DefaultInterval is the pause between health probes.
const DefaultInterval = 5 * time.Second

// CheckError is returned when an endpoint never reported healthy within
// the configured timeout.
type CheckError struct {
	URL     string
	Timeout int // seconds
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("health check for %s failed after %d seconds", e.URL, e.Timeout)
}

// Checker polls an HTTP endpoint through the command runner until it
// answers 2xx or the timeout budget is spent. Probing through the runner
// keeps the check on the same side of the network as the deployment:
// remote targets are probed from the target host itself.
type Checker struct {
	interval time.Duration
	logger   *slog.Logger
}

// NewChecker creates a checker with the default 5 second probe interval.
func NewChecker(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		interval: DefaultInterval,
		logger:   logger,
	}
}

// Check probes url every 5 seconds until a 2xx response arrives. The
// attempt budget is timeoutSeconds/5; when it runs out a *CheckError is
// returned. An empty url makes the check a logged no-op. Probe failures
// (non-2xx or command errors) are logged and retried, never fatal on
// their own. logf, when set, receives the same progress lines so they end
// up in the deployment record.
func (c *Checker) Check(ctx context.Context, runner command.Runner, url string, timeoutSeconds int, logf func(format string, args ...any)) error {
	log := func(format string, args ...any) {
		c.logger.Info(fmt.Sprintf(format, args...))
		if logf != nil {
			logf(format, args...)
		}
	}

	if url == "" {
		log("no health check URL configured, skipping health check")
		return nil
	}

	ctx, span := telemetry.HealthCheckSpan(ctx, url)
	defer span.End()

	// One probe per five seconds of budget. The interval field only tunes
	// the wait between probes, so tests can shrink it without changing the
	// attempt count.
	maxAttempts := timeoutSeconds / int(DefaultInterval/time.Second)
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	log("health check: probing %s (up to %d attempts)", url, maxAttempts)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		code, err := c.probe(ctx, runner, url)
		if err == nil && code >= 200 && code < 300 {
			log("health check passed (HTTP %d)", code)
			return nil
		}

		if err != nil {
			log("health check attempt %d/%d failed: %v", attempt, maxAttempts, err)
		} else {
			log("health check attempt %d/%d: unhealthy (HTTP %d)", attempt, maxAttempts, code)
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.interval):
		}
	}

	err := &CheckError{URL: url, Timeout: timeoutSeconds}
	span.RecordError(err)
	return err
}

// probe issues one HTTP status request through the runner. Only the status
// code matters; response bodies are never inspected.
func (c *Checker) probe(ctx context.Context, runner command.Runner, url string) (int, error) {
	cmd := command.New("curl", "-s", "-o", "/dev/null", "-w", "%{http_code}", "--max-time", "5", url)
	result, err := runner.Run(ctx, cmd)
	if err != nil {
		return 0, err
	}

	code, err := strconv.Atoi(strings.TrimSpace(result.Stdout))
	if err != nil {
		return 0, fmt.Errorf("unexpected probe output %q", strings.TrimSpace(result.Stdout))
	}
	return code, nil
}
