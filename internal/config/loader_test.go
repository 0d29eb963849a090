package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, time.Second, cfg.Settings.PollInterval.Duration)
}

func TestLoad_Layered(t *testing.T) {
	dir := t.TempDir()
	global := writeFile(t, dir, "global.json", `{
		"settings": {"log_level": "debug", "parallelism": 4, "retry": {"max_interval": "1m"}},
		"tasks": [{"id": "extract", "command": "echo a", "granularity": "minute"}]
	}`)
	project := writeFile(t, dir, "project.json", `{
		"settings": {"parallelism": 8, "breaker": {"consecutive_failures": 2, "max_requests": 1, "timeout": "5s"}},
		"tasks": [
			{"id": "extract", "command": "echo b", "granularity": "minute"},
			{"id": "rollup", "command": "wc -l", "granularity": "hour", "depends_on": ["extract"]}
		]
	}`)

	cfg, err := Load(global, project)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Settings.LogLevel, "global value survives")
	assert.Equal(t, 8, cfg.Settings.Parallelism, "project overrides global")
	assert.Equal(t, time.Minute, cfg.Settings.Retry.MaxInterval.Duration)
	assert.Equal(t, 100*time.Millisecond, cfg.Settings.Retry.InitialInterval.Duration, "unset nested keys keep defaults")
	require.NotNil(t, cfg.Settings.Breaker)
	assert.Equal(t, 5*time.Second, cfg.Settings.Breaker.Timeout.Duration)

	require.Len(t, cfg.Tasks, 2)
	assert.Equal(t, "echo b", cfg.Tasks[0].Command, "tasks merge by id")
	assert.Equal(t, "rollup", cfg.Tasks[1].ID)

	task, ok := cfg.Task("rollup")
	require.True(t, ok)
	assert.Equal(t, []string{"extract"}, task.DependsOn)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Malformed(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"json":     `{"settings": `,
		"duration": `{"settings": {"poll_interval": 5}}`,
		"bad unit": `{"settings": {"poll_interval": "5 parsecs"}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, dir, name+".json", body))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefault_MissingPipeline(t *testing.T) {
	_, err := LoadDefault(filepath.Join(t.TempDir(), "pipeline.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
