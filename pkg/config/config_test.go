package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatflowers/stembill/pkg/types"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:    EnvProd,
		Stripe: StripeConfig{WebhookSecret: "whsec_a", ConnectWebhookSecret: "whsec_b"},
		Billing: BillingConfig{
			FreeStorageLimitBytes: DefaultFreeStorageLimitBytes,
			GracePeriod:           DefaultGracePeriod,
			LateralChangePolicy:   types.LateralChangeSchedule,
			Plans: []*types.PlanItem{
				{PriceID: "price_pro_m", Plan: "pro", Rank: 2, StorageLimitBytes: 512 * GiB, Interval: "month"},
			},
		},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	c := validConfig()
	c.Stripe.ConnectWebhookSecret = ""
	require.ErrorContains(t, c.Validate(), "connect_webhook_secret")

	c = validConfig()
	c.Env = EnvDev
	c.Stripe = StripeConfig{}
	require.NoError(t, c.Validate())

	c = validConfig()
	c.Billing.Plans = append(c.Billing.Plans, &types.PlanItem{PriceID: "price_pro_m", Rank: 3, StorageLimitBytes: 1})
	require.ErrorContains(t, c.Validate(), "duplicate")

	c = validConfig()
	c.Billing.Plans[0].Rank = 0
	require.ErrorContains(t, c.Validate(), "rank")

	c = validConfig()
	c.Billing.LateralChangePolicy = "sometimes"
	require.Error(t, c.Validate())
}

func TestNewReadsYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
env: prod
stripe:
  webhook_secret: whsec_file
  connect_webhook_secret: whsec_connect
billing:
  plans:
    - price_id: price_basic
      plan: basic
      rank: 1
      storage_limit_bytes: 107374182400
      interval: month
`), 0o600))
	t.Setenv("APP_CONFIG_FILE", file)
	t.Setenv("APP_STRIPE_WEBHOOK_SECRET", "whsec_env")

	c, err := New()
	require.NoError(t, err)
	require.Equal(t, EnvProd, c.Env)
	require.Equal(t, "whsec_env", c.Stripe.WebhookSecret)
	require.Equal(t, DefaultFreeStorageLimitBytes, c.Billing.FreeStorageLimitBytes)
	require.Equal(t, 21*24*time.Hour, c.Billing.GracePeriod)
	require.Len(t, c.Billing.Plans, 1)
	require.Equal(t, "basic", c.Billing.Plans[0].Plan)
}
