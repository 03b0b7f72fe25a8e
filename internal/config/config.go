package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Env                 string  `mapstructure:"ENV"`
	ElasticsearchURL    string  `mapstructure:"ELASTICSEARCH_ENDPOINT"`
	ElasticsearchAPIKey string  `mapstructure:"API_KEY"`
	IndexName           string  `mapstructure:"INDEX_NAME"`
	PatientCount        int     `mapstructure:"PATIENT_COUNT"`
	DaysOfData          int     `mapstructure:"DAYS_OF_DATA"`
	RiskFraction        float64 `mapstructure:"RISK_FRACTION"`
	NonAdherentFraction float64 `mapstructure:"NON_ADHERENT_FRACTION"`
	Seed                int64   `mapstructure:"SEED"`
	BulkBatchSize       int     `mapstructure:"BULK_BATCH_SIZE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("INDEX_NAME", "patients")
	v.SetDefault("PATIENT_COUNT", 100)
	v.SetDefault("DAYS_OF_DATA", 30)
	v.SetDefault("RISK_FRACTION", 0.2)
	v.SetDefault("NON_ADHERENT_FRACTION", 0.1)
	v.SetDefault("SEED", 0)
	v.SetDefault("BULK_BATCH_SIZE", 500)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("ELASTICSEARCH_ENDPOINT")
	v.BindEnv("API_KEY")
	v.BindEnv("INDEX_NAME")
	v.BindEnv("PATIENT_COUNT")
	v.BindEnv("DAYS_OF_DATA")
	v.BindEnv("RISK_FRACTION")
	v.BindEnv("NON_ADHERENT_FRACTION")
	v.BindEnv("SEED")
	v.BindEnv("BULK_BATCH_SIZE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// HasStoreEndpoint reports whether a store was configured at all. Without
// one the generator still runs; only the ingestion step is skipped.
func (c *Config) HasStoreEndpoint() bool {
	return c.ElasticsearchURL != ""
}

// Validate checks the settings the loader owns directly. Cohort sizing and
// risk fractions are validated where the cohort is built, so the rules live
// in one place.
func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "production" {
		return fmt.Errorf("ENV must be \"development\" or \"production\", got %q", c.Env)
	}
	if c.IndexName == "" {
		return fmt.Errorf("INDEX_NAME must not be empty")
	}
	if c.BulkBatchSize <= 0 {
		return fmt.Errorf("BULK_BATCH_SIZE must be positive, got %d", c.BulkBatchSize)
	}
	return nil
}
