package cohort

import (
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Demographic & clinical pools
// ---------------------------------------------------------------------------

var (
	// Given names skew to the cohort's age band (65-95).
	firstNamesMale = []string{
		"Harold", "Walter", "Eugene", "Ralph", "Howard", "Ernest",
		"Stanley", "Leonard", "Clarence", "Raymond", "Albert", "Arthur",
		"Frank", "George", "Donald", "Kenneth", "Richard", "Charles",
		"Robert", "James", "Edward", "Norman", "Gerald", "Russell",
	}
	firstNamesFemale = []string{
		"Dorothy", "Margaret", "Helen", "Ruth", "Virginia", "Doris",
		"Mildred", "Frances", "Evelyn", "Irene", "Gladys", "Eleanor",
		"Betty", "Shirley", "Joan", "Lois", "Marjorie", "Norma",
		"Gloria", "Phyllis", "Jean", "Beverly", "Alice", "Martha",
	}
	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia",
		"Miller", "Davis", "Rodriguez", "Martinez", "Wilson", "Anderson",
		"Thomas", "Taylor", "Moore", "Jackson", "Martin", "Lee",
		"Thompson", "White", "Harris", "Clark", "Lewis", "Robinson",
		"Walker", "Young", "Allen", "King", "Wright", "Scott",
		"Hill", "Green",
	}

	comorbidities = []string{
		"Diabetes", "Hypertension", "Chronic Kidney Disease", "COPD",
	}

	// Guideline-directed CHF regimen; each patient is prescribed a subset.
	chfMedications = []string{
		"Furosemide 40 MG Oral Tablet",
		"Lisinopril 10 MG Oral Tablet",
		"Carvedilol 12.5 MG Oral Tablet",
		"Metoprolol Succinate 50 MG Extended Release Oral Tablet",
		"Spironolactone 25 MG Oral Tablet",
		"Sacubitril 49 MG / Valsartan 51 MG Oral Tablet",
		"Empagliflozin 10 MG Oral Tablet",
		"Digoxin 0.125 MG Oral Tablet",
	}
)

// ---------------------------------------------------------------------------
// Generator
// ---------------------------------------------------------------------------

// Generator produces a deterministic synthetic cohort from a validated
// config.
type Generator struct {
	config Config
	rng    *rand.Rand
}

// NewGenerator validates the config and returns a generator seeded for
// reproducibility. A zero Seed selects a time-based seed; a zero AsOf
// anchors the cohort at the current time.
func NewGenerator(config Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Seed == 0 {
		config.Seed = time.Now().UnixNano()
	}
	if config.AsOf.IsZero() {
		config.AsOf = time.Now().UTC()
	}
	return &Generator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}, nil
}

func (g *Generator) nextID() string {
	return uuid.Must(uuid.NewRandomFromReader(g.rng)).String()
}

func (g *Generator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

// sample returns k distinct entries from pool in random order.
func (g *Generator) sample(pool []string, k int) []string {
	out := make([]string, 0, k)
	for _, i := range g.rng.Perm(len(pool))[:k] {
		out = append(out, pool[i])
	}
	return out
}

// round2 keeps emitted values to two decimals, like a scale or pulse
// oximeter would report.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Generate produces the full cohort: every patient plus their daily
// observation series over the configured window.
func (g *Generator) Generate() (*Cohort, error) {
	start := time.Now()

	profiles := g.assignProfiles()
	cohort := &Cohort{
		Patients:     make([]Patient, 0, g.config.Patients),
		Observations: make([]Observation, 0, g.config.Patients*g.config.Days*metricsPerDay),
	}

	for i := 0; i < g.config.Patients; i++ {
		patient := g.generatePatient(profiles[i])
		cohort.Patients = append(cohort.Patients, patient)
		cohort.Observations = append(cohort.Observations, g.generateDailySeries(patient)...)

		switch patient.Profile {
		case ProfileWeightGain:
			cohort.Summary.HighRisk++
		case ProfileNonAdherent:
			cohort.Summary.NonAdherent++
		}
	}

	cohort.Summary.Patients = len(cohort.Patients)
	cohort.Summary.Observations = len(cohort.Observations)
	cohort.Summary.Documents = len(cohort.Patients) + len(cohort.Observations)
	cohort.Summary.Duration = time.Since(start)

	return cohort, nil
}

// assignProfiles distributes trajectory profiles across the cohort with
// exact counts: round(Patients*RiskFraction) weight-gain patients and
// round(Patients*NonAdherentFraction) non-adherent ones, the latter clamped
// to whoever is left. The slice is shuffled so profiles do not correlate
// with generation order.
func (g *Generator) assignProfiles() []Profile {
	n := g.config.Patients
	gainers := int(math.Round(float64(n) * g.config.RiskFraction))
	if gainers > n {
		gainers = n
	}
	missers := int(math.Round(float64(n) * g.config.NonAdherentFraction))
	if missers > n-gainers {
		missers = n - gainers
	}

	profiles := make([]Profile, n)
	for i := range profiles {
		switch {
		case i < gainers:
			profiles[i] = ProfileWeightGain
		case i < gainers+missers:
			profiles[i] = ProfileNonAdherent
		default:
			profiles[i] = ProfileStable
		}
	}
	g.rng.Shuffle(n, func(i, j int) {
		profiles[i], profiles[j] = profiles[j], profiles[i]
	})
	return profiles
}

func (g *Generator) generatePatient(profile Profile) Patient {
	isMale := g.rng.Intn(2) == 0
	var firstName string
	var gender string
	if isMale {
		firstName = g.pick(firstNamesMale)
		gender = "Male"
	} else {
		firstName = g.pick(firstNamesFemale)
		gender = "Female"
	}
	lastName := g.pick(lastNames)

	dischargedDaysAgo := 30 + g.rng.Intn(61)

	return Patient{
		ID:                   g.nextID(),
		Name:                 firstName + " " + lastName,
		Age:                  65 + g.rng.Intn(31),
		Gender:               gender,
		Comorbidities:        g.sample(comorbidities, g.rng.Intn(4)),
		PreviousReadmissions: g.rng.Intn(6),
		DischargeDate:        g.config.AsOf.AddDate(0, 0, -dischargedDaysAgo),
		Profile:              profile,
		BaselineWeightKg:     round2(baselineWeightMinKg + g.rng.Float64()*(baselineWeightMaxKg-baselineWeightMinKg)),
		Medications:          g.sample(chfMedications, 2+g.rng.Intn(3)),
	}
}

// onsetDay picks the day an injected decline begins. Historically day 5-20;
// clamped so at least three affected days remain in short windows.
func (g *Generator) onsetDay(days int) int {
	hi := days - 3
	if hi > 20 {
		hi = 20
	}
	lo := 5
	if lo > hi {
		lo = hi
	}
	return lo + g.rng.Intn(hi-lo+1)
}

// generateDailySeries emits one observation per metric per day for the
// patient, with the trajectory shaped by the patient's profile.
func (g *Generator) generateDailySeries(p Patient) []Observation {
	days := g.config.Days

	surgeFrom := -1
	var weightTrend TrendFunc
	if p.Profile == ProfileWeightGain {
		surgeFrom = g.onsetDay(days)
		weightTrend = surgeWeightTrend(g.rng, days, surgeFrom)
	} else {
		weightTrend = stableWeightTrend(g.rng, days)
	}
	missedFrom := -1
	if p.Profile == ProfileNonAdherent {
		missedFrom = g.onsetDay(days)
	}

	obs := make([]Observation, 0, days*metricsPerDay)
	weights := make([]float64, days)

	for day := 0; day < days; day++ {
		ts := p.DischargeDate.AddDate(0, 0, day)
		weights[day] = round2(weightTrend(p.BaselineWeightKg, day))

		surging := surgeFrom >= 0 && day >= surgeFrom
		missing := missedFrom >= 0 && day >= missedFrom

		shortness := 1 + g.rng.Intn(3)
		fatigue := 1 + g.rng.Intn(4)
		swelling := 1 + g.rng.Intn(3)
		if surging {
			shortness = 4 + g.rng.Intn(5)
			swelling = 4 + g.rng.Intn(5)
		}
		if missing {
			fatigue = 5 + g.rng.Intn(5)
		}

		adherence := 1.0
		missedRun := 0
		if missing {
			adherence = 0
			missedRun = day - missedFrom + 1
		}

		gainOver3 := 0.0
		if day >= 3 {
			gainOver3 = round2(weights[day] - weights[day-3])
		}

		add := func(metric string, value float64, unit string) {
			obs = append(obs, Observation{
				PatientID: p.ID,
				Timestamp: ts,
				Metric:    metric,
				Value:     value,
				Unit:      unit,
				Day:       day,
			})
		}

		add(MetricWeight, weights[day], "kg")
		add(MetricSystolicBP, float64(110+g.rng.Intn(51)), "mmHg")
		add(MetricDiastolicBP, float64(70+g.rng.Intn(31)), "mmHg")
		add(MetricHeartRate, float64(60+g.rng.Intn(41)), "beats/minute")
		add(MetricOxygenSaturation, round2(92+g.rng.Float64()*7), "%")
		add(MetricAdherence, adherence, "flag")
		add(MetricShortnessOfBreath, float64(shortness), "score")
		add(MetricFatigue, float64(fatigue), "score")
		add(MetricSwelling, float64(swelling), "score")
		add(MetricWeightGain3Day, gainOver3, "kg")
		add(MetricMissedMedsRun, float64(missedRun), "days")
	}

	return obs
}
