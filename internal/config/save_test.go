package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "pipeline.json")

	cfg := DefaultConfig()
	cfg.Settings.PollInterval = Duration{250 * time.Millisecond}
	cfg.Tasks = []TaskConfig{{ID: "a", Command: "echo hi", Granularity: "DAY", Retries: 2}}

	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"poll_interval": "250ms"`)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
