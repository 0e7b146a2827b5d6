// Package command defines the command execution boundary: structured
// argument vectors executed either locally or over SSH. It is the only
// operating-system dependency of the deployment core and is injectable
// for testing.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Command is a structured argument vector with optional working directory
// and environment. Arguments are never interpolated into a shell string on
// the local path, and are individually quoted on the remote path, so tag
// or path values cannot break out of their argument position.
type Command struct {
	Argv []string
	Dir  string
	Env  map[string]string
}

// New builds a Command from a program name and its arguments.
func New(name string, args ...string) Command {
	return Command{Argv: append([]string{name}, args...)}
}

// InDir returns a copy of the command with the working directory set.
func (c Command) InDir(dir string) Command {
	c.Dir = dir
	return c
}

// WithEnv returns a copy of the command with extra environment variables.
func (c Command) WithEnv(env map[string]string) Command {
	c.Env = env
	return c
}

// String renders the command in shell-quoted form for logs and errors.
func (c Command) String() string {
	quoted := make([]string, len(c.Argv))
	for i, arg := range c.Argv {
		quoted[i] = Quote(arg)
	}
	return strings.Join(quoted, " ")
}

// ShellLine renders the full command as a single POSIX shell line,
// including directory change and environment assignments. Used by the SSH
// runner, which has exactly one string to hand to the remote shell.
func (c Command) ShellLine() string {
	var b strings.Builder

	if c.Dir != "" {
		b.WriteString("cd ")
		b.WriteString(Quote(c.Dir))
		b.WriteString(" && ")
	}

	if len(c.Env) > 0 {
		keys := make([]string, 0, len(c.Env))
		for k := range c.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(Quote(c.Env[k]))
			b.WriteString(" ")
		}
	}

	b.WriteString(c.String())
	return b.String()
}

// Quote single-quotes a value for POSIX shells.
func Quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'\\$`&|;<>(){}[]*?~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Result holds the output of an executed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands against a deployment target.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Error is returned when a command exits non-zero or the transport fails.
type Error struct {
	Cmd      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("command %q failed", e.Cmd)
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}
