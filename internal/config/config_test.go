package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cargopilot/cargopilot/internal/orchestrator"
	"github.com/cargopilot/cargopilot/internal/toolchain"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	work := t.TempDir()

	cwd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, os.Chdir(cwd))
	})
	require.NoError(t, os.Chdir(work))
	return work
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	chdirTemp(t)

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, toolchain.DefaultBinary, cfg.Binary)
	assert.Equal(t, orchestrator.DefaultQueueCapacity, cfg.QueueCapacity)
	assert.Equal(t, orchestrator.DefaultInteractiveGrace, cfg.InteractiveGrace)
	assert.Empty(t, cfg.Timeouts)
	assert.Equal(t, int64(defaultLogMaxSizeBytes), cfg.LogMaxSizeBytes)
	assert.Equal(t, defaultLogMaxFiles, cfg.LogMaxFiles)
}

func TestLoadOverlayProjectOverHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	work := chdirTemp(t)

	writeFile(t, filepath.Join(home, ".cargopilot", "config.toml"), `
binary = "/opt/rust/bin/cargo"
queue_capacity = 64
log_max_size_mb = 20

[timeouts]
build = "2m"
run = "3m"
	`)

	writeFile(t, filepath.Join(work, ".cargopilot", "config.toml"), `
queue_capacity = 16

[timeouts]
run = "5m"
	`)

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/opt/rust/bin/cargo", cfg.Binary, "home scalar survives project overlay")
	assert.Equal(t, 16, cfg.QueueCapacity, "project scalar wins")
	assert.Equal(t, 2*time.Minute, cfg.Timeouts["build"])
	assert.Equal(t, 5*time.Minute, cfg.Timeouts["run"], "project timeout wins")
	assert.Equal(t, int64(20*1024*1024), cfg.LogMaxSizeBytes)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "empty binary",
			content: `binary = "  "`,
			wantErr: "binary",
		},
		{
			name:    "zero queue capacity",
			content: `queue_capacity = 0`,
			wantErr: "queue_capacity",
		},
		{
			name:    "grace below one",
			content: `interactive_grace = 0`,
			wantErr: "interactive_grace",
		},
		{
			name: "unparseable timeout",
			content: `[timeouts]
check = "soon"`,
			wantErr: "timeouts.check",
		},
		{
			name: "negative timeout",
			content: `[timeouts]
check = "-5s"`,
			wantErr: "timeouts.check",
		},
		{
			name:    "zero log files",
			content: `log_max_files = 0`,
			wantErr: "log_max_files",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := t.TempDir()
			t.Setenv("HOME", home)
			chdirTemp(t)
			writeFile(t, filepath.Join(home, ".cargopilot", "config.toml"), tt.content)

			_, err := Load(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadEnforcesTimeoutOrdering(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	chdirTemp(t)

	writeFile(t, filepath.Join(home, ".cargopilot", "config.toml"), `
[timeouts]
bench = "10s"
	`)

	_, err := Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout ordering")
}

func TestTimeoutForFallsBackToBuiltin(t *testing.T) {
	cfg := &Config{Timeouts: map[string]time.Duration{"run": 5 * time.Minute}}

	assert.Equal(t, 5*time.Minute, cfg.TimeoutFor("run"))
	assert.Equal(t, 2*time.Minute, cfg.TimeoutFor("bench"))
	assert.Equal(t, 30*time.Second, cfg.TimeoutFor("clippy"))
}

func TestOrchestratorConfigCarriesOverrides(t *testing.T) {
	cfg := &Config{
		Binary:           "/usr/bin/cargo",
		QueueCapacity:    8,
		InteractiveGrace: 2,
		Timeouts:         map[string]time.Duration{"test": 90 * time.Second},
	}

	orchCfg := cfg.Orchestrator()
	assert.Equal(t, "/usr/bin/cargo", orchCfg.Binary)
	assert.Equal(t, 8, orchCfg.QueueCapacity)
	assert.Equal(t, 2, orchCfg.InteractiveGrace)
	assert.Equal(t, 90*time.Second, orchCfg.Timeouts["test"])
}
