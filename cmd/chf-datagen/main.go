package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/anonymousminh/chf-patient-automation/internal/cohort"
	"github.com/anonymousminh/chf-patient-automation/internal/config"
	"github.com/anonymousminh/chf-patient-automation/internal/platform/estore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chf-datagen",
		Short: "Generate synthetic CHF remote-monitoring data and load it into Elasticsearch",
		Long: "chf-datagen builds a cohort of synthetic heart-failure patients with daily\n" +
			"post-discharge observations and bulk-loads the documents into an\n" +
			"Elasticsearch index for the readmission-risk demo dashboard.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
	}

	cmd.Flags().Int("patients", 0, "Number of patients to generate (overrides PATIENT_COUNT)")
	cmd.Flags().Int("days", 0, "Days of observations per patient (overrides DAYS_OF_DATA)")
	cmd.Flags().Float64("risk-fraction", 0, "Fraction of patients on a rapid weight-gain trajectory (overrides RISK_FRACTION)")
	cmd.Flags().Float64("non-adherent-fraction", 0, "Fraction of patients who stop taking medication (overrides NON_ADHERENT_FRACTION)")
	cmd.Flags().Int64("seed", 0, "Random seed; 0 derives one from the clock (overrides SEED)")
	cmd.Flags().String("as-of", "", "Anchor date for the series, RFC3339 or YYYY-MM-DD (default: now)")
	cmd.Flags().String("endpoint", "", "Elasticsearch endpoint URL (overrides ELASTICSEARCH_ENDPOINT)")
	cmd.Flags().String("api-key", "", "Elasticsearch API key (overrides API_KEY)")
	cmd.Flags().String("index", "", "Target index name (overrides INDEX_NAME)")
	cmd.Flags().Int("batch-size", 0, "Documents per bulk request (overrides BULK_BATCH_SIZE)")
	cmd.Flags().Bool("recreate-index", false, "Delete and recreate the index before loading")
	cmd.Flags().Bool("dry-run", false, "Generate without loading into the store")
	cmd.Flags().String("out", "", "Write generated documents to an NDJSON file")

	return cmd
}

func run(cmd *cobra.Command) error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	asOf, err := parseAsOf(flagString(cmd, "as-of"))
	if err != nil {
		return err
	}

	// Cohort
	gen, err := cohort.NewGenerator(cohort.Config{
		Patients:            cfg.PatientCount,
		Days:                cfg.DaysOfData,
		RiskFraction:        cfg.RiskFraction,
		NonAdherentFraction: cfg.NonAdherentFraction,
		Seed:                cfg.Seed,
		AsOf:                asOf,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid cohort configuration")
	}

	c, err := gen.Generate()
	if err != nil {
		logger.Fatal().Err(err).Msg("cohort generation failed")
	}
	logger.Info().
		Int("patients", c.Summary.Patients).
		Int("observations", c.Summary.Observations).
		Int("high_risk", c.Summary.HighRisk).
		Int("non_adherent", c.Summary.NonAdherent).
		Dur("took", c.Summary.Duration).
		Msg("generated cohort")

	if out := flagString(cmd, "out"); out != "" {
		if err := exportNDJSON(c, out); err != nil {
			logger.Fatal().Err(err).Msg("failed to write export file")
		}
		logger.Info().Str("path", out).Int("documents", c.Summary.Documents).Msg("wrote NDJSON export")
	}

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		logger.Info().Msg("dry run; skipping ingestion")
		return nil
	}
	if !cfg.HasStoreEndpoint() {
		logger.Warn().Msg("ELASTICSEARCH_ENDPOINT not set; generated data was not loaded")
		return nil
	}

	// Store
	ctx := context.Background()
	recreate, _ := cmd.Flags().GetBool("recreate-index")
	store, err := estore.NewClient(ctx, estore.Config{
		Endpoint:  cfg.ElasticsearchURL,
		APIKey:    cfg.ElasticsearchAPIKey,
		Index:     cfg.IndexName,
		BatchSize: cfg.BulkBatchSize,
		Recreate:  recreate,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to document store")
	}

	if err := store.EnsureIndex(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to materialize index")
	}

	result, err := store.BulkLoad(ctx, c.Documents())
	if err != nil {
		var pwe *estore.PartialWriteError
		if errors.As(err, &pwe) {
			logger.Fatal().
				Int("indexed", pwe.Indexed).
				Int("failed", pwe.Failed).
				Strs("reasons", pwe.Reasons).
				Msg("store rejected some documents")
		}
		logger.Fatal().Err(err).Msg("bulk load failed")
	}

	if err := store.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("index refresh failed; documents surface on the next periodic refresh")
	}

	logger.Info().
		Int("indexed", result.Indexed).
		Str("index", store.Index()).
		Msg("load complete")
	return nil
}

// applyFlags lets explicitly-set flags win over environment configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("patients") {
		cfg.PatientCount, _ = flags.GetInt("patients")
	}
	if flags.Changed("days") {
		cfg.DaysOfData, _ = flags.GetInt("days")
	}
	if flags.Changed("risk-fraction") {
		cfg.RiskFraction, _ = flags.GetFloat64("risk-fraction")
	}
	if flags.Changed("non-adherent-fraction") {
		cfg.NonAdherentFraction, _ = flags.GetFloat64("non-adherent-fraction")
	}
	if flags.Changed("seed") {
		cfg.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("endpoint") {
		cfg.ElasticsearchURL, _ = flags.GetString("endpoint")
	}
	if flags.Changed("api-key") {
		cfg.ElasticsearchAPIKey, _ = flags.GetString("api-key")
	}
	if flags.Changed("index") {
		cfg.IndexName, _ = flags.GetString("index")
	}
	if flags.Changed("batch-size") {
		cfg.BulkBatchSize, _ = flags.GetInt("batch-size")
	}
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

// parseAsOf accepts a full timestamp or a bare date as the series anchor.
func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("--as-of must be RFC3339 or YYYY-MM-DD, got %q", s)
}

func exportNDJSON(c *cohort.Cohort, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := c.ExportNDJSON(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
