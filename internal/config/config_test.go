package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHATSYNC_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.TypingIdleWindow)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, TransportWebSocket, cfg.PushTransport)
	assert.Equal(t, "chat", cfg.NATSSubjectPrefix)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_base_url: https://study.example.com
push_transport: nats
history_limit: 80
typing_ttl: 10s
`), 0o600))

	t.Setenv("CHATSYNC_CONFIG", path)
	t.Setenv("CHATSYNC_HISTORY_LIMIT", "20")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://study.example.com", cfg.APIBaseURL)
	assert.Equal(t, TransportNATS, cfg.PushTransport)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.Equal(t, 10*time.Second, cfg.TypingTTL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("CHATSYNC_CONFIG", "")

	t.Run("transport", func(t *testing.T) {
		t.Setenv("CHATSYNC_PUSH_TRANSPORT", "carrier-pigeon")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("history limit", func(t *testing.T) {
		t.Setenv("CHATSYNC_HISTORY_LIMIT", "500")
		_, err := Load()
		require.Error(t, err)
	})
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CHATSYNC_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func TestEnvParsersIgnoreGarbage(t *testing.T) {
	t.Setenv("X_INT", "nope")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_DUR", "soon")

	assert.Equal(t, 7, getIntEnv("X_INT", 7))
	assert.True(t, getBoolEnv("X_BOOL", true))
	assert.Equal(t, time.Minute, getDurationEnv("X_DUR", time.Minute))
}

func TestDiagnosticsSettings(t *testing.T) {
	t.Setenv("CHATSYNC_CONFIG", "")
	t.Setenv("CHATSYNC_DIAGNOSTICS_ADDR", "127.0.0.1:9464")
	t.Setenv("CHATSYNC_DIAGNOSTICS_ORIGINS", "http://localhost:3000, ,https://study.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:3000", "https://study.example.com"}, cfg.DiagnosticsAllowedOrigins)
	assert.Equal(t, 60, cfg.DiagnosticsRateLimit)

	t.Setenv("CHATSYNC_DIAGNOSTICS_RATE_LIMIT", "0")
	_, err = Load()
	require.Error(t, err)
}
