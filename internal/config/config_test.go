// README: Env loading tests for defaults, overrides and validation.
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("COURSIER_JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "XOF", cfg.Gateway.Currency)
	assert.Equal(t, 15*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Gateway.WebhookTolerance)
	assert.Equal(t, 5, cfg.Settlement.MaxAttempts)
	assert.Equal(t, "", cfg.NSQ.Addr)
	assert.Equal(t, "wallet", cfg.Settlement.Rail)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("COURSIER_JWT_SECRET", "s3cret")
	t.Setenv("COURSIER_HTTP_ADDR", ":9090")
	t.Setenv("COURSIER_PAYOUT_TIMEOUT", "3s")
	t.Setenv("COURSIER_PAYOUT_MAX_ATTEMPTS", "9")
	t.Setenv("COURSIER_PAYOUT_RAIL", "External")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 3*time.Second, cfg.Settlement.PayoutTimeout)
	assert.Equal(t, 9, cfg.Settlement.MaxAttempts)
	assert.Equal(t, "external", cfg.Settlement.Rail)
}

func TestLoad_InvalidPayoutRail(t *testing.T) {
	t.Setenv("COURSIER_JWT_SECRET", "s3cret")
	t.Setenv("COURSIER_PAYOUT_RAIL", "carrier-pigeon")

	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalidPayoutRail)
}

func TestLoad_MissingAuth(t *testing.T) {
	t.Setenv("COURSIER_JWT_SECRET", "")
	t.Setenv("COURSIER_FIREBASE_PROJECT_ID", "")

	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingAuth)
}
