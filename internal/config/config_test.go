package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/vitalink_test")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.MergeWindow)
	assert.Equal(t, PolicyDrop, cfg.ValidationPolicy)
	assert.Empty(t, cfg.MQTTBroker)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "secret")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadMergeWindowOverride(t *testing.T) {
	setRequired(t)
	t.Setenv("VITALINK_MERGE_WINDOW_MS", "2500")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, cfg.MergeWindow)
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	setRequired(t)
	t.Setenv("VITALINK_VALIDATION_POLICY", "maybe")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectPolicy(t *testing.T) {
	setRequired(t)
	t.Setenv("VITALINK_VALIDATION_POLICY", "reject")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, cfg.ValidationPolicy)
}
