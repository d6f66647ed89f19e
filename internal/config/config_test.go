package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", "tmp/test.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
	assert.Equal(t, 5*time.Second, cfg.VideoPollInterval)
	assert.Equal(t, 20, cfg.LookPollAttempts)
	assert.Equal(t, 3*time.Second, cfg.ImagePollInterval)
	assert.Equal(t, "audio_files", cfg.AudioBucket)
	assert.False(t, cfg.UsePostgres())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/studio")
	t.Setenv("LOOK_POLL_ATTEMPTS", "5")
	t.Setenv("VIDEO_POLL_INTERVAL", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.UsePostgres())
	assert.Equal(t, 5, cfg.LookPollAttempts)
	assert.Equal(t, 3*time.Second, cfg.VideoPollInterval)
}

func TestLoadRejectsNonPositiveInterval(t *testing.T) {
	t.Setenv("IMAGE_POLL_INTERVAL", "0s")

	_, err := Load()
	require.Error(t, err)
}
