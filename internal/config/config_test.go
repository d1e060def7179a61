package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHECKOUT_SESSION_TTL", "")
	t.Setenv("PENDING_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.CheckoutSessionTTL)
	assert.Equal(t, 2*time.Hour, cfg.PendingTTL)
	assert.Equal(t, "eur", cfg.CheckoutCurrency)
	assert.Equal(t, 8, cfg.TxMaxRetries)
}

func TestLoad_PendingTTLMustExceedSessionTTL(t *testing.T) {
	t.Setenv("CHECKOUT_SESSION_TTL", "2h")
	t.Setenv("PENDING_TTL", "1h")

	_, err := Load()
	assert.ErrorContains(t, err, "PENDING_TTL")
}

func TestLoad_SessionTTLBounds(t *testing.T) {
	t.Setenv("CHECKOUT_SESSION_TTL", "5m")

	_, err := Load()
	assert.ErrorContains(t, err, "CHECKOUT_SESSION_TTL")
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("WRITE_TIMEOUT", "soon")

	_, err := Load()
	assert.ErrorContains(t, err, "WRITE_TIMEOUT")
}
