package config

import (
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Store settings
	StoreDriver        string `envconfig:"STORE_DRIVER" default:"postgres"`
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING"`
	DBAutoMigrate      bool   `envconfig:"DB_AUTO_MIGRATE" default:"false"`
	RedisURL           string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	StoreTxMaxRetries  int    `envconfig:"STORE_TX_MAX_RETRIES" default:"10"`

	// Plan catalog
	PlanCatalogPath string `envconfig:"PLAN_CATALOG_PATH"`

	// Stripe billing (optional)
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePriceStarter  string `envconfig:"STRIPE_PRICE_STARTER"`
	StripePricePro      string `envconfig:"STRIPE_PRICE_PRO"`
	PublicAppURL        string `envconfig:"PUBLIC_APP_URL" default:"http://localhost:8080"`

	// Identity verification
	AuthJWTSecret string `envconfig:"AUTH_JWT_SECRET"`
	AuthJWKSURL   string `envconfig:"AUTH_JWKS_URL"`
	AuthIssuer    string `envconfig:"AUTH_ISSUER"`
	AuthAudience  string `envconfig:"AUTH_AUDIENCE"`
	AuthDisabled  bool   `envconfig:"AUTH_DISABLED" default:"false"`

	// Google Cloud
	GCPProjectID         string `envconfig:"GCP_PROJECT_ID"`
	GCPCredentialsFile   string `envconfig:"GCP_CREDENTIALS_FILE"`
	PubSubPlanTopic      string `envconfig:"PUBSUB_PLAN_TOPIC" default:"plan-events"`
	SecretManagerProject string `envconfig:"SECRET_MANAGER_PROJECT"`

	// Refiller
	RefillSchedule string `envconfig:"REFILL_SCHEDULE" default:"0 0 * * *"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// HasStripe reports whether a Stripe secret key is configured.
func (c *Config) HasStripe() bool {
	return strings.TrimSpace(c.StripeSecretKey) != ""
}

// HasPubSub reports whether plan notifications should be published.
func (c *Config) HasPubSub() bool {
	return strings.TrimSpace(c.GCPProjectID) != "" && strings.TrimSpace(c.PubSubPlanTopic) != ""
}

// PriceRefs maps plan ids to the Stripe price configured for them.
func (c *Config) PriceRefs() map[string]string {
	return map[string]string{
		"starter": strings.TrimSpace(c.StripePriceStarter),
		"pro":     strings.TrimSpace(c.StripePricePro),
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
