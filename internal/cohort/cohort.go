// Package cohort fabricates a synthetic post-discharge CHF patient cohort:
// patient records plus a daily time series of clinical observations, with a
// deliberate risk signal injected into a configurable fraction of
// trajectories so that downstream readmission-risk queries have something
// detectable to find. Output is reproducible for a fixed seed and anchor
// date.
package cohort

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// ErrInvalidConfig is returned when generation parameters are out of range.
var ErrInvalidConfig = errors.New("invalid generation config")

// minObservationDays is the smallest window that still fits a surge onset
// day plus a detectable rapid-gain window after it.
const minObservationDays = 5

// Config controls the size and shape of the generated cohort.
type Config struct {
	// Patients is the cohort size. Must be positive.
	Patients int
	// Days is the length of the post-discharge observation window.
	Days int
	// RiskFraction is the fraction of patients receiving an injected
	// rapid-weight-gain trajectory. The resulting count is exact:
	// round(Patients * RiskFraction).
	RiskFraction float64
	// NonAdherentFraction is the fraction of patients who stop taking
	// their medication partway through the window. Clamped so the two
	// fractions together never exceed the cohort; the weight-gain count
	// takes priority.
	NonAdherentFraction float64
	// Seed makes the run reproducible. 0 selects a time-based seed.
	Seed int64
	// AsOf anchors discharge dates (each patient was discharged 30-90
	// days before it). The zero value means time.Now().
	AsOf time.Time
}

// DefaultConfig returns the demo dataset shape: one hundred patients
// observed for thirty days, a fifth of them on a weight-gain trajectory and
// a tenth non-adherent.
func DefaultConfig() Config {
	return Config{
		Patients:            100,
		Days:                30,
		RiskFraction:        0.2,
		NonAdherentFraction: 0.1,
	}
}

// Validate checks the configuration, wrapping ErrInvalidConfig so callers
// can classify the failure before any remote call is made.
func (c Config) Validate() error {
	if c.Patients <= 0 {
		return fmt.Errorf("%w: patients must be positive, got %d", ErrInvalidConfig, c.Patients)
	}
	if c.Days < minObservationDays {
		return fmt.Errorf("%w: days must be at least %d, got %d", ErrInvalidConfig, minObservationDays, c.Days)
	}
	if c.RiskFraction < 0 || c.RiskFraction > 1 {
		return fmt.Errorf("%w: risk fraction must be in [0,1], got %g", ErrInvalidConfig, c.RiskFraction)
	}
	if c.NonAdherentFraction < 0 || c.NonAdherentFraction > 1 {
		return fmt.Errorf("%w: non-adherent fraction must be in [0,1], got %g", ErrInvalidConfig, c.NonAdherentFraction)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Profiles
// ---------------------------------------------------------------------------

// Profile is the trajectory assigned to a patient for the whole window.
type Profile string

const (
	// ProfileStable patients fluctuate around their baseline with no
	// sustained direction.
	ProfileStable Profile = "stable"
	// ProfileWeightGain patients gain weight rapidly from a random onset
	// day through the end of the window.
	ProfileWeightGain Profile = "high_risk_weight_gain"
	// ProfileNonAdherent patients stop taking their medication on a
	// random onset day and report elevated fatigue afterwards.
	ProfileNonAdherent Profile = "non_adherent"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metric names carried on observation documents. The downstream query and
// dashboard filter on these strings, so they are part of the contract.
const (
	MetricWeight            = "weight"
	MetricSystolicBP        = "blood_pressure_systolic"
	MetricDiastolicBP       = "blood_pressure_diastolic"
	MetricHeartRate         = "heart_rate"
	MetricOxygenSaturation  = "oxygen_saturation"
	MetricAdherence         = "medication_adherence"
	MetricShortnessOfBreath = "symptom_shortness_of_breath"
	MetricFatigue           = "symptom_fatigue"
	MetricSwelling          = "symptom_swelling"
	MetricWeightGain3Day    = "weight_gain_over_3_days"
	MetricMissedMedsRun     = "consecutive_missed_meds"
)

// metricsPerDay is how many observation documents one patient-day yields.
const metricsPerDay = 11

// ---------------------------------------------------------------------------
// Patient & Observation
// ---------------------------------------------------------------------------

// Patient is the identity and clinical baseline generated once per run.
// Patients are immutable after generation.
type Patient struct {
	ID                   string
	Name                 string
	Age                  int
	Gender               string
	Comorbidities        []string
	PreviousReadmissions int
	DischargeDate        time.Time
	Profile              Profile
	BaselineWeightKg     float64
	Medications          []string
}

// Document renders the patient as a flat store document. The high_risk flag
// exists for validating downstream queries only; real risk is computed
// externally from the observation series.
func (p Patient) Document() map[string]interface{} {
	return map[string]interface{}{
		"doc_type":              "patient",
		"patient_id":            p.ID,
		"name":                  p.Name,
		"age":                   p.Age,
		"gender":                p.Gender,
		"comorbidities":         p.Comorbidities,
		"previous_readmissions": p.PreviousReadmissions,
		"discharge_date":        p.DischargeDate.Format(time.RFC3339),
		"risk_profile":          string(p.Profile),
		"high_risk":             p.Profile == ProfileWeightGain,
		"baseline_weight_kg":    p.BaselineWeightKg,
		"medications":           p.Medications,
	}
}

// Observation is one timestamped clinical reading tied to a patient.
type Observation struct {
	PatientID string
	Timestamp time.Time
	Metric    string
	Value     float64
	Unit      string
	// Day is the number of days since discharge, starting at 0.
	Day int
}

// Document renders the observation as a flat store document.
func (o Observation) Document() map[string]interface{} {
	return map[string]interface{}{
		"doc_type":             "observation",
		"patient_id":           o.PatientID,
		"timestamp":            o.Timestamp.Format(time.RFC3339),
		"metric":               o.Metric,
		"value":                o.Value,
		"unit":                 o.Unit,
		"days_since_discharge": o.Day,
	}
}

// ---------------------------------------------------------------------------
// Cohort & Result
// ---------------------------------------------------------------------------

// Cohort is the full output of one generation run. Observations are ordered
// by patient and then by day.
type Cohort struct {
	Patients     []Patient
	Observations []Observation
	Summary      Result
}

// Result summarizes a generation run.
type Result struct {
	Patients     int           `json:"patients"`
	Observations int           `json:"observations"`
	Documents    int           `json:"documents"`
	HighRisk     int           `json:"highRisk"`
	NonAdherent  int           `json:"nonAdherent"`
	Duration     time.Duration `json:"duration"`
}

// Documents renders every record as a store document, patients first, in
// generation order.
func (c *Cohort) Documents() []map[string]interface{} {
	docs := make([]map[string]interface{}, 0, len(c.Patients)+len(c.Observations))
	for _, p := range c.Patients {
		docs = append(docs, p.Document())
	}
	for _, o := range c.Observations {
		docs = append(docs, o.Document())
	}
	return docs
}

// ExportNDJSON writes every document as newline-delimited JSON.
func (c *Cohort) ExportNDJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, doc := range c.Documents() {
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding document: %w", err)
		}
	}
	return nil
}

// WeightSeries returns the patient's daily weights ordered by day, or nil
// if the patient is not part of the cohort.
func (c *Cohort) WeightSeries(patientID string) []float64 {
	var series []float64
	for _, o := range c.Observations {
		if o.PatientID == patientID && o.Metric == MetricWeight {
			series = append(series, o.Value)
		}
	}
	return series
}
