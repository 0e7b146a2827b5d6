package state

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caravel-sh/caravel/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	store := NewFileStore(path, testLogger())

	end := time.Now().Truncate(time.Second)
	in := []*Deployment{
		{
			ID: "d1",
			Config: config.DeploymentConfig{
				Environment: config.Production,
				Strategy:    config.StrategyDirect,
				ImageTag:    "app:v1",
			},
			Status:    StatusSuccess,
			StartTime: end.Add(-time.Minute),
			EndTime:   &end,
			Duration:  time.Minute,
			Version:   "v1",
			Logs:      []LogEntry{{Time: end, Message: "done"}},
		},
	}

	require.NoError(t, store.Save(in))

	out, err := store.Load()
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := out[0]
	assert.Equal(t, "d1", got.ID)
	assert.Equal(t, config.Production, got.Config.Environment)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, "v1", got.Version)
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(end))
	require.Len(t, got.Logs, 1)
	assert.Equal(t, "done", got.Logs[0].Message)
}

func TestFileStoreLoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope.json"), testLogger())

	out, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFileStoreLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewFileStore(path, testLogger())

	out, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFileStoreCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".caravel", "history.json")
	store := NewFileStore(path, testLogger())

	require.NoError(t, store.Save([]*Deployment{}))

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestFileStorePrunesPerEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	store := NewFileStore(path, testLogger())

	now := time.Now()
	var in []*Deployment
	for i := 0; i < MaxHistoryEntries+10; i++ {
		in = append(in, &Deployment{
			ID:        fmt.Sprintf("prod-%d", i),
			Config:    config.DeploymentConfig{Environment: config.Production},
			StartTime: now.Add(time.Duration(i) * time.Minute),
		})
	}
	// Staging stays under the cap and must be untouched.
	for i := 0; i < 5; i++ {
		in = append(in, &Deployment{
			ID:        fmt.Sprintf("stag-%d", i),
			Config:    config.DeploymentConfig{Environment: config.Staging},
			StartTime: now.Add(time.Duration(i) * time.Minute),
		})
	}

	require.NoError(t, store.Save(in))

	out, err := store.Load()
	require.NoError(t, err)

	perEnv := map[config.Environment]int{}
	for _, d := range out {
		perEnv[d.Config.Environment]++
	}
	assert.Equal(t, MaxHistoryEntries, perEnv[config.Production])
	assert.Equal(t, 5, perEnv[config.Staging])

	// The oldest production records are the ones dropped.
	ids := map[string]bool{}
	for _, d := range out {
		ids[d.ID] = true
	}
	assert.False(t, ids["prod-0"])
	assert.False(t, ids["prod-9"])
	assert.True(t, ids["prod-10"])
	assert.True(t, ids[fmt.Sprintf("prod-%d", MaxHistoryEntries+9)])
}

func TestMemoryStoreCopies(t *testing.T) {
	store := NewMemoryStore()

	in := []*Deployment{{ID: "d1"}}
	require.NoError(t, store.Save(in))

	out, err := store.Load()
	require.NoError(t, err)
	require.Len(t, out, 1)

	// Mutating the returned slice must not affect the store.
	out[0] = &Deployment{ID: "other"}
	again, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "d1", again[0].ID)
}
