package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ORDERS_TABLE", "")
	t.Setenv("IDEMPOTENCY_TTL_HOURS", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "orders", cfg.Tables.Orders)
	require.Equal(t, 48*time.Hour, cfg.API.IdempotencyTTL)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("GAME_KEYS_TABLE", "prod-game-keys")
	t.Setenv("IDEMPOTENCY_TTL_HOURS", "6")
	t.Setenv("RUN_LOCAL", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "prod-game-keys", cfg.Tables.GameKeys)
	require.Equal(t, 6*time.Hour, cfg.API.IdempotencyTTL)
	require.True(t, cfg.API.RunLocal)
}

func TestLoadConfig_BadTTL(t *testing.T) {
	t.Setenv("IDEMPOTENCY_TTL_HOURS", "two days")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidate_NonPositiveTTL(t *testing.T) {
	t.Setenv("IDEMPOTENCY_TTL_HOURS", "0")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Error(t, cfg.Validate())
}
