package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	assert.Equal(t, "plain", Quote("plain"))
	assert.Equal(t, "myapp:v1.2.3", Quote("myapp:v1.2.3"))
	assert.Equal(t, "''", Quote(""))
	assert.Equal(t, "'two words'", Quote("two words"))
	assert.Equal(t, `'a'"'"'b'`, Quote("a'b"))
	assert.Equal(t, "'$(rm -rf /)'", Quote("$(rm -rf /)"))
	assert.Equal(t, "'v1;reboot'", Quote("v1;reboot"))
}

func TestCommandString(t *testing.T) {
	cmd := New("docker", "pull", "myapp:v1; rm -rf /")
	assert.Equal(t, "docker pull 'myapp:v1; rm -rf /'", cmd.String())
}

func TestShellLine(t *testing.T) {
	cmd := New("docker", "compose", "up", "-d").
		InDir("/opt/my app").
		WithEnv(map[string]string{"B": "2", "A": "o'ne"})

	assert.Equal(t, `cd '/opt/my app' && A='o'"'"'ne' B=2 docker compose up -d`, cmd.ShellLine())
}

func TestShellLineBare(t *testing.T) {
	assert.Equal(t, "docker ps", New("docker", "ps").ShellLine())
}

func TestLocalRun(t *testing.T) {
	runner := NewLocal()

	result, err := runner.Run(context.Background(), New("sh", "-c", "printf hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
}

func TestLocalRunArgvNotInterpolated(t *testing.T) {
	runner := NewLocal()

	// The argument reaches the program verbatim, never a shell.
	result, err := runner.Run(context.Background(), New("echo", "$(whoami); rm -rf /"))
	require.NoError(t, err)
	assert.Equal(t, "$(whoami); rm -rf /\n", result.Stdout)
}

func TestLocalRunExitCode(t *testing.T) {
	runner := NewLocal()

	result, err := runner.Run(context.Background(), New("sh", "-c", "echo oops >&2; exit 3"))
	require.Error(t, err)
	assert.Equal(t, 3, result.ExitCode)

	var cmdErr *Error
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Contains(t, cmdErr.Error(), "oops")
}

func TestLocalRunEmptyCommand(t *testing.T) {
	runner := NewLocal()

	_, err := runner.Run(context.Background(), Command{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errEmptyCommand)
}

func TestLocalRunEnv(t *testing.T) {
	runner := NewLocal()

	result, err := runner.Run(context.Background(),
		New("sh", "-c", "printf %s \"$DEPLOY_TARGET\"").WithEnv(map[string]string{"DEPLOY_TARGET": "prod"}))
	require.NoError(t, err)
	assert.Equal(t, "prod", result.Stdout)
}
