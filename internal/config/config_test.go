package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3100", cfg.Server.Port)
	assert.Equal(t, "/api/terminal/ws", cfg.Terminal.WSPath)
	assert.Equal(t, 120, cfg.Terminal.Cols)
	assert.Equal(t, 36, cfg.Terminal.Rows)
	assert.Equal(t, 140*time.Millisecond, cfg.Terminal.CwdDebounce)
	assert.Equal(t, []string{"*"}, cfg.CORS.Origins)
	assert.Equal(t, 500*time.Millisecond, cfg.Apps.ProbeTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DASHBOARD_API_PORT", "4000")
	t.Setenv("TERMINAL_COLS", "80")
	t.Setenv("TERMINAL_CWD_DEBOUNCE", "50ms")
	t.Setenv("TERMINAL_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:4000", cfg.Server.Addr())
	assert.Equal(t, 80, cfg.Terminal.Cols)
	assert.Equal(t, 50*time.Millisecond, cfg.Terminal.CwdDebounce)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Terminal.AllowedOrigins)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("TERMINAL_ROWS", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateBoundsGeometry(t *testing.T) {
	for _, tt := range []struct {
		cols, rows int
		ok         bool
	}{
		{120, 36, true},
		{65535, 65535, true},
		{65536, 36, false},
		{120, 70000, false},
		{-1, 36, false},
	} {
		cfg := Default()
		cfg.Terminal.Cols, cfg.Terminal.Rows = tt.cols, tt.rows
		err := cfg.Validate()
		if tt.ok {
			assert.NoError(t, err, "%dx%d", tt.cols, tt.rows)
		} else {
			assert.Error(t, err, "%dx%d", tt.cols, tt.rows)
		}
	}
}

func TestLoadRejectsOversizedGeometry(t *testing.T) {
	t.Setenv("TERMINAL_COLS", "65536")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnparseable(t *testing.T) {
	t.Setenv("TERMINAL_COLS", "wide")
	_, err := Load()
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestSessionEnv(t *testing.T) {
	got := SessionEnv(MapEnv{"SHELL": "/bin/zsh", "HOME": "/home/user"})
	assert.Equal(t, Session{Shell: "/bin/zsh", WorkspaceRoot: DefaultWorkspaceRoot, Home: "/home/user"}, got)

	got = SessionEnv(MapEnv{"WORKSPACE_ROOT": "/srv/ws"})
	assert.Equal(t, "/srv/ws", got.WorkspaceRoot)
	assert.Empty(t, got.Shell)
}

func TestSessionEnvIsLateBound(t *testing.T) {
	t.Setenv("WORKSPACE_ROOT", "/first")
	assert.Equal(t, "/first", SessionEnv(OSEnv{}).WorkspaceRoot)

	t.Setenv("WORKSPACE_ROOT", "/second")
	assert.Equal(t, "/second", SessionEnv(OSEnv{}).WorkspaceRoot)
}
