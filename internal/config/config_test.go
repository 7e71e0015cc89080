package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "postgres_url: postgres://localhost/arena\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultCadenceSec, cfg.DefaultCadence)
	assert.Equal(t, DefaultTickBatchSize, cfg.TickBatchSize)
	assert.Equal(t, DefaultTickTimeoutSec, cfg.TickTimeoutSec)
	assert.Equal(t, DefaultBoardLimit, cfg.BoardLimit)
}

func TestLoadConfigRequiresPostgres(t *testing.T) {
	path := writeConfig(t, "listen_addr: ':9000'\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres_url")
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"zero cadence", "postgres_url: p\ndefault_cadence: 0\n"},
		{"negative batch", "postgres_url: p\ntick_batch_size: -1\n"},
		{"zero timeout", "postgres_url: p\ntick_timeout_sec: 0\n"},
		{"bad executor url", "postgres_url: p\nexecutor_url: 'ftp://x'\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, c.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("ARENA_SCHEDULER_SECRET", "from-env")
	t.Setenv("ARENA_REDIS_ADDR", "redis:6379")

	path := writeConfig(t, "postgres_url: postgres://localhost/arena\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.SchedulerSecret)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
}
