package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("FINGERPRINT_KEY", "fp-key")
	t.Setenv("MOCK_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("STORAGE_DRIVER", "memory")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.Equal(t, 14*24*time.Hour, cfg.ApprovalWindow)
	assert.Equal(t, 30*24*time.Hour, cfg.OrderStaleAfter)
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL)
	assert.Equal(t, []string{"mock"}, cfg.MockProviders)
	assert.Equal(t, "mock", cfg.CheckoutProvider)
	assert.True(t, cfg.AutoApproveEnabled)
	assert.Equal(t, int32(10), cfg.PayoutBatchSize)
}

func TestLoadPrefixedNames(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ESCROW_PORT", "9090")
	t.Setenv("ESCROW_PLATFORM_FEE_BPS", "250")
	t.Setenv("ESCROW_MOCK_PROVIDERS", "mock, Paystack")
	t.Setenv("ESCROW_CHECKOUT_PROVIDER", "paystack")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 250, cfg.PlatformFeeBPS)
	assert.Equal(t, []string{"mock", "paystack"}, cfg.MockProviders)
	assert.True(t, cfg.Mocked("paystack"))
	assert.False(t, cfg.ProviderEnabled("flutterwave"))
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string][2]string{
		"short secret":        {"JWT_SECRET", "too-short"},
		"bad driver":          {"STORAGE_DRIVER", "sqlite"},
		"bad duration":        {"APPROVAL_WINDOW", "two weeks"},
		"negative duration":   {"PAYOUT_POLL_INTERVAL", "-1s"},
		"fee out of range":    {"PLATFORM_FEE_BPS", "10000"},
		"unknown mock":        {"MOCK_PROVIDERS", "stripe"},
		"checkout disabled":   {"CHECKOUT_PROVIDER", "flutterwave"},
		"missing fingerprint": {"FINGERPRINT_KEY", ""},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			require.Error(t, err)
		})
	}
}
