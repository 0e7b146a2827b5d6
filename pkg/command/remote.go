package command

import (
	"context"

	"github.com/caravel-sh/caravel/pkg/resilience"
	"github.com/caravel-sh/caravel/pkg/ssh"
	"github.com/caravel-sh/caravel/pkg/telemetry"
)

// Remote executes commands on a deployment target over SSH. A circuit
// breaker around the transport makes an unreachable host fail fast rather
// than dragging every remaining strategy step through a full SSH timeout.
type Remote struct {
	client  *ssh.Client
	breaker *resilience.Breaker
}

// NewRemote creates a runner on top of an SSH client.
func NewRemote(client *ssh.Client) *Remote {
	return &Remote{
		client:  client,
		breaker: resilience.NewBreaker("ssh:" + client.Host()),
	}
}

// Run renders the command as a single quoted shell line and executes it on
// the remote host.
func (r *Remote) Run(ctx context.Context, cmd Command) (Result, error) {
	if len(cmd.Argv) == 0 {
		return Result{ExitCode: -1}, &Error{Cmd: "", ExitCode: -1, Err: errEmptyCommand}
	}

	ctx, span := telemetry.CommandSpan(ctx, r.client.Host(), cmd.String())
	defer span.End()

	var result Result
	var runErr error

	brErr := r.breaker.Execute(func() error {
		stdout, stderr, exitCode, err := r.client.Run(ctx, cmd.ShellLine())
		result = Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}
		runErr = err
		return err
	})

	if brErr == nil {
		return result, nil
	}

	// The breaker returns its own error when open; runErr is only set when
	// the command actually executed.
	if runErr == nil {
		runErr = brErr
		result.ExitCode = -1
	}

	span.RecordError(runErr)
	return result, &Error{
		Cmd:      cmd.String(),
		ExitCode: result.ExitCode,
		Stderr:   result.Stderr,
		Err:      runErr,
	}
}

// Close releases the underlying SSH connection.
func (r *Remote) Close() error {
	return r.client.Close()
}
