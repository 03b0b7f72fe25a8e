package cohort

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

var testAsOf = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func mustGenerate(t *testing.T, cfg Config) *Cohort {
	t.Helper()
	gen, err := NewGenerator(cfg)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	cohort, err := gen.Generate()
	if err != nil {
		t.Fatalf("unexpected generate error: %v", err)
	}
	return cohort
}

func testConfig(patients int, riskFraction float64, seed int64) Config {
	return Config{
		Patients:            patients,
		Days:                30,
		RiskFraction:        riskFraction,
		NonAdherentFraction: 0.1,
		Seed:                seed,
		AsOf:                testAsOf,
	}
}

// ---------------------------------------------------------------------------
// Config validation
// ---------------------------------------------------------------------------

func TestConfig_Validate_Rejects(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"zero patients", func(c *Config) { c.Patients = 0 }},
		{"negative patients", func(c *Config) { c.Patients = -5 }},
		{"window too short", func(c *Config) { c.Days = 4 }},
		{"negative risk fraction", func(c *Config) { c.RiskFraction = -0.1 }},
		{"risk fraction above one", func(c *Config) { c.RiskFraction = 1.5 }},
		{"non-adherent fraction above one", func(c *Config) { c.NonAdherentFraction = 2 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mod(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestConfig_DefaultIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Patients != 100 || cfg.Days != 30 {
		t.Fatalf("unexpected default shape: %d patients, %d days", cfg.Patients, cfg.Days)
	}
}

func TestNewGenerator_RejectsInvalidConfig(t *testing.T) {
	_, err := NewGenerator(Config{Patients: -1, Days: 30})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Patient generation
// ---------------------------------------------------------------------------

func TestGenerator_PatientFields(t *testing.T) {
	cohort := mustGenerate(t, testConfig(50, 0.2, 42))

	earliest := testAsOf.AddDate(0, 0, -90)
	latest := testAsOf.AddDate(0, 0, -30)

	for _, p := range cohort.Patients {
		if _, err := uuid.Parse(p.ID); err != nil {
			t.Fatalf("patient id is not a UUID: %q", p.ID)
		}
		if len(strings.Fields(p.Name)) < 2 {
			t.Fatalf("expected a full name, got %q", p.Name)
		}
		if p.Age < 65 || p.Age > 95 {
			t.Fatalf("age out of range: %d", p.Age)
		}
		if p.Gender != "Male" && p.Gender != "Female" {
			t.Fatalf("unexpected gender %q", p.Gender)
		}
		if len(p.Comorbidities) > 3 {
			t.Fatalf("expected at most 3 comorbidities, got %d", len(p.Comorbidities))
		}
		if p.PreviousReadmissions < 0 || p.PreviousReadmissions > 5 {
			t.Fatalf("previous readmissions out of range: %d", p.PreviousReadmissions)
		}
		if p.DischargeDate.Before(earliest) || p.DischargeDate.After(latest) {
			t.Fatalf("discharge date %v outside 30-90 days before anchor", p.DischargeDate)
		}
		if p.BaselineWeightKg < 60 || p.BaselineWeightKg > 110 {
			t.Fatalf("baseline weight out of range: %g", p.BaselineWeightKg)
		}
		if len(p.Medications) < 2 || len(p.Medications) > 4 {
			t.Fatalf("expected 2-4 medications, got %d", len(p.Medications))
		}
	}
}

func TestGenerator_UniquePatientIDs(t *testing.T) {
	cohort := mustGenerate(t, testConfig(100, 0.2, 42))

	seen := make(map[string]bool)
	for _, p := range cohort.Patients {
		if seen[p.ID] {
			t.Fatalf("duplicate patient id: %s", p.ID)
		}
		seen[p.ID] = true
	}
}

// ---------------------------------------------------------------------------
// Observation series
// ---------------------------------------------------------------------------

func TestGenerator_ObservationCounts(t *testing.T) {
	cfg := testConfig(10, 0.2, 7)
	cohort := mustGenerate(t, cfg)

	want := cfg.Patients * cfg.Days * metricsPerDay
	if len(cohort.Observations) != want {
		t.Fatalf("expected %d observations, got %d", want, len(cohort.Observations))
	}
	if cohort.Summary.Patients != cfg.Patients {
		t.Fatalf("summary patients %d != %d", cohort.Summary.Patients, cfg.Patients)
	}
	if cohort.Summary.Observations != want {
		t.Fatalf("summary observations %d != %d", cohort.Summary.Observations, want)
	}
	if cohort.Summary.Documents != want+cfg.Patients {
		t.Fatalf("summary documents %d != %d", cohort.Summary.Documents, want+cfg.Patients)
	}
	if cohort.Summary.Duration <= 0 {
		t.Fatal("expected positive duration")
	}
}

func TestGenerator_ReferentialIntegrity(t *testing.T) {
	cohort := mustGenerate(t, testConfig(25, 0.2, 11))

	ids := make(map[string]bool)
	for _, p := range cohort.Patients {
		ids[p.ID] = true
	}
	for _, o := range cohort.Observations {
		if !ids[o.PatientID] {
			t.Fatalf("observation references unknown patient %s", o.PatientID)
		}
	}
}

func TestGenerator_TimestampsMonotonicNoDuplicates(t *testing.T) {
	cohort := mustGenerate(t, testConfig(10, 0.3, 3))

	type key struct {
		patient string
		metric  string
	}
	last := make(map[key]time.Time)
	for _, o := range cohort.Observations {
		k := key{o.PatientID, o.Metric}
		if prev, ok := last[k]; ok && !o.Timestamp.After(prev) {
			t.Fatalf("timestamps not strictly increasing for %s/%s: %v then %v",
				o.PatientID, o.Metric, prev, o.Timestamp)
		}
		last[k] = o.Timestamp
	}
}

func TestGenerator_VitalRanges(t *testing.T) {
	cohort := mustGenerate(t, testConfig(20, 0.3, 5))

	bounds := map[string][2]float64{
		MetricSystolicBP:        {110, 160},
		MetricDiastolicBP:       {70, 100},
		MetricHeartRate:         {60, 100},
		MetricOxygenSaturation:  {92, 99},
		MetricShortnessOfBreath: {1, 8},
		MetricFatigue:           {1, 9},
		MetricSwelling:          {1, 8},
	}
	for _, o := range cohort.Observations {
		b, ok := bounds[o.Metric]
		if !ok {
			continue
		}
		if o.Value < b[0] || o.Value > b[1] {
			t.Fatalf("%s value %g outside [%g, %g]", o.Metric, o.Value, b[0], b[1])
		}
	}
}

func TestGenerator_WeightGainOver3Days(t *testing.T) {
	cohort := mustGenerate(t, testConfig(10, 0.5, 9))

	for _, p := range cohort.Patients {
		weights := cohort.WeightSeries(p.ID)
		day := 0
		for _, o := range cohort.Observations {
			if o.PatientID != p.ID || o.Metric != MetricWeightGain3Day {
				continue
			}
			if day < 3 {
				if o.Value != 0 {
					t.Fatalf("day %d rolling gain should be 0, got %g", day, o.Value)
				}
			} else {
				want := round2(weights[day] - weights[day-3])
				if o.Value != want {
					t.Fatalf("day %d rolling gain %g != %g", day, o.Value, want)
				}
			}
			day++
		}
	}
}

// ---------------------------------------------------------------------------
// Risk injection
// ---------------------------------------------------------------------------

func TestGenerator_ExactRiskCount(t *testing.T) {
	// One hundred patients at a tenth risk fraction must yield exactly ten
	// rapid-weight-gain trajectories, whatever the seed.
	cohort := mustGenerate(t, testConfig(100, 0.1, 42))

	flagged := 0
	qualifying := 0
	for _, p := range cohort.Patients {
		series := cohort.WeightSeries(p.ID)
		if p.Profile == ProfileWeightGain {
			flagged++
		}
		if HasRapidWeightGain(series) {
			qualifying++
			if p.Profile != ProfileWeightGain {
				t.Fatalf("patient %s qualifies without the weight-gain profile", p.ID)
			}
		}
	}
	if flagged != 10 {
		t.Fatalf("expected exactly 10 flagged patients, got %d", flagged)
	}
	if qualifying != 10 {
		t.Fatalf("expected exactly 10 qualifying trajectories, got %d", qualifying)
	}
	if cohort.Summary.HighRisk != 10 {
		t.Fatalf("summary high-risk %d != 10", cohort.Summary.HighRisk)
	}
}

func TestGenerator_RiskFractionZero(t *testing.T) {
	cohort := mustGenerate(t, testConfig(40, 0, 1))

	for _, p := range cohort.Patients {
		if p.Profile == ProfileWeightGain {
			t.Fatal("risk fraction 0 must produce no weight-gain profiles")
		}
		if HasRapidWeightGain(cohort.WeightSeries(p.ID)) {
			t.Fatalf("patient %s shows rapid gain without the profile", p.ID)
		}
	}
}

func TestGenerator_RiskFractionOne(t *testing.T) {
	cfg := testConfig(40, 1, 2)
	cohort := mustGenerate(t, cfg)

	for _, p := range cohort.Patients {
		if p.Profile != ProfileWeightGain {
			t.Fatalf("risk fraction 1 must flag every patient, got %s", p.Profile)
		}
		if !HasRapidWeightGain(cohort.WeightSeries(p.ID)) {
			t.Fatalf("patient %s flagged but trajectory never qualifies", p.ID)
		}
	}
	// The weight-gain count takes priority over the non-adherent fraction.
	if cohort.Summary.NonAdherent != 0 {
		t.Fatalf("expected non-adherent count clamped to 0, got %d", cohort.Summary.NonAdherent)
	}
}

func TestGenerator_TrajectoriesSeparable(t *testing.T) {
	// Flagged trajectories always cross a rapid-gain window; unflagged ones
	// never do. Holds for every seed by construction, so sample a few.
	for seed := int64(1); seed <= 10; seed++ {
		cfg := Config{
			Patients:            40,
			Days:                30,
			RiskFraction:        0.3,
			NonAdherentFraction: 0.2,
			Seed:                seed,
			AsOf:                testAsOf,
		}
		cohort := mustGenerate(t, cfg)
		for _, p := range cohort.Patients {
			got := HasRapidWeightGain(cohort.WeightSeries(p.ID))
			want := p.Profile == ProfileWeightGain
			if got != want {
				t.Fatalf("seed %d: patient %s (%s) rapid gain = %v, want %v",
					seed, p.ID, p.Profile, got, want)
			}
		}
	}
}

func TestGenerator_AdherencePattern(t *testing.T) {
	cohort := mustGenerate(t, testConfig(30, 0.2, 13))

	for _, p := range cohort.Patients {
		var adherence []float64
		var runs []float64
		for _, o := range cohort.Observations {
			if o.PatientID != p.ID {
				continue
			}
			switch o.Metric {
			case MetricAdherence:
				adherence = append(adherence, o.Value)
			case MetricMissedMedsRun:
				runs = append(runs, o.Value)
			}
		}

		if p.Profile != ProfileNonAdherent {
			for day, v := range adherence {
				if v != 1 {
					t.Fatalf("%s patient missed medication on day %d", p.Profile, day)
				}
				if runs[day] != 0 {
					t.Fatalf("%s patient has missed-run %g on day %d", p.Profile, runs[day], day)
				}
			}
			continue
		}

		onset := -1
		for day, v := range adherence {
			if v == 0 {
				onset = day
				break
			}
		}
		if onset < 5 || onset > 20 {
			t.Fatalf("non-adherent onset day %d outside [5, 20]", onset)
		}
		for day, v := range adherence {
			if day < onset && v != 1 {
				t.Fatalf("missed medication before onset, day %d", day)
			}
			if day >= onset {
				if v != 0 {
					t.Fatalf("adherent after onset, day %d", day)
				}
				if want := float64(day - onset + 1); runs[day] != want {
					t.Fatalf("day %d missed-run %g, want %g", day, runs[day], want)
				}
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Determinism
// ---------------------------------------------------------------------------

func TestGenerator_Deterministic(t *testing.T) {
	cfg := testConfig(20, 0.25, 99)

	var a, b bytes.Buffer
	if err := mustGenerate(t, cfg).ExportNDJSON(&a); err != nil {
		t.Fatalf("unexpected export error: %v", err)
	}
	if err := mustGenerate(t, cfg).ExportNDJSON(&b); err != nil {
		t.Fatalf("unexpected export error: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatal("same seed and anchor must produce identical output")
	}
}

func TestGenerator_DifferentSeeds(t *testing.T) {
	first := mustGenerate(t, testConfig(5, 0.2, 1))
	second := mustGenerate(t, testConfig(5, 0.2, 2))

	if first.Patients[0].ID == second.Patients[0].ID {
		t.Fatal("different seeds should produce different patient ids")
	}
}

// ---------------------------------------------------------------------------
// Documents & export
// ---------------------------------------------------------------------------

func TestCohort_Documents(t *testing.T) {
	cfg := testConfig(3, 0.4, 21)
	cohort := mustGenerate(t, cfg)

	docs := cohort.Documents()
	want := cfg.Patients + cfg.Patients*cfg.Days*metricsPerDay
	if len(docs) != want {
		t.Fatalf("expected %d documents, got %d", want, len(docs))
	}

	// Patients come first.
	for i := 0; i < cfg.Patients; i++ {
		doc := docs[i]
		if doc["doc_type"] != "patient" {
			t.Fatalf("document %d: expected doc_type patient, got %v", i, doc["doc_type"])
		}
		for _, key := range []string{"patient_id", "name", "discharge_date", "risk_profile", "high_risk"} {
			if _, ok := doc[key]; !ok {
				t.Fatalf("patient document missing %q", key)
			}
		}
	}
	obsDoc := docs[cfg.Patients]
	if obsDoc["doc_type"] != "observation" {
		t.Fatalf("expected doc_type observation, got %v", obsDoc["doc_type"])
	}
	for _, key := range []string{"patient_id", "timestamp", "metric", "value", "unit", "days_since_discharge"} {
		if _, ok := obsDoc[key]; !ok {
			t.Fatalf("observation document missing %q", key)
		}
	}
}

func TestCohort_ExportNDJSON(t *testing.T) {
	cfg := testConfig(2, 0, 33)
	cohort := mustGenerate(t, cfg)

	var buf bytes.Buffer
	if err := cohort.ExportNDJSON(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := cfg.Patients + cfg.Patients*cfg.Days*metricsPerDay
	if len(lines) != want {
		t.Fatalf("expected %d NDJSON lines, got %d", want, len(lines))
	}
	for i, line := range lines {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		if m["doc_type"] == nil {
			t.Fatalf("line %d missing doc_type", i)
		}
	}
}

func TestCohort_WeightSeries(t *testing.T) {
	cfg := testConfig(4, 0.5, 17)
	cohort := mustGenerate(t, cfg)

	for _, p := range cohort.Patients {
		series := cohort.WeightSeries(p.ID)
		if len(series) != cfg.Days {
			t.Fatalf("expected %d weights, got %d", cfg.Days, len(series))
		}
	}
	if s := cohort.WeightSeries("no-such-patient"); s != nil {
		t.Fatalf("expected nil series for unknown patient, got %v", s)
	}
}
