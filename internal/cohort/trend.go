package cohort

import "math/rand"

// ---------------------------------------------------------------------------
// Weight trajectory policy
// ---------------------------------------------------------------------------
//
// Weights are a daily random walk in kilograms. Stable days step a small
// amount in either direction; during an injected surge the step is replaced
// by a large positive gain. The constants are chosen so the two populations
// are separable with no false positives: a stable walk can move at most
// 1.0 kg over 2 days and 3.5 kg over 7, while any two consecutive surge
// days gain at least 3.0 kg.

const (
	stableStepKg   = 0.5 // max daily fluctuation, either direction
	surgeStepMinKg = 1.5 // min daily gain during a surge
	surgeStepMaxKg = 2.5 // max daily gain during a surge

	baselineWeightMinKg = 60.0
	baselineWeightMaxKg = 110.0
)

// Rapid-gain windows. A trajectory counts as rapid weight gain when it
// exceeds either bound; the downstream risk query uses the same numbers.
const (
	RapidGainShortWindowDays  = 2
	RapidGainShortThresholdKg = 2.0
	RapidGainLongWindowDays   = 7
	RapidGainLongThresholdKg  = 5.0
)

// TrendFunc maps a patient's baseline value and a day index to the value
// observed on that day. Implementations are pure: all randomness is drawn
// when the function is built, so the same function always yields the same
// series. New risk patterns plug in here without touching the load path.
type TrendFunc func(baseline float64, day int) float64

// stableWeightTrend fluctuates around the baseline with no sustained
// direction.
func stableWeightTrend(rng *rand.Rand, days int) TrendFunc {
	steps := make([]float64, days)
	for i := range steps {
		steps[i] = -stableStepKg + rng.Float64()*2*stableStepKg
	}
	return cumulativeTrend(steps)
}

// surgeWeightTrend follows the stable fluctuation until the onset day, then
// climbs by a surge step every day through the end of the window.
func surgeWeightTrend(rng *rand.Rand, days, onset int) TrendFunc {
	steps := make([]float64, days)
	for i := range steps {
		if i >= onset {
			steps[i] = surgeStepMinKg + rng.Float64()*(surgeStepMaxKg-surgeStepMinKg)
		} else {
			steps[i] = -stableStepKg + rng.Float64()*2*stableStepKg
		}
	}
	return cumulativeTrend(steps)
}

func cumulativeTrend(steps []float64) TrendFunc {
	offsets := make([]float64, len(steps))
	sum := 0.0
	for i, step := range steps {
		sum += step
		offsets[i] = sum
	}
	return func(baseline float64, day int) float64 {
		if day < 0 || len(offsets) == 0 {
			return baseline
		}
		if day >= len(offsets) {
			day = len(offsets) - 1
		}
		return baseline + offsets[day]
	}
}

// HasRapidWeightGain reports whether a daily weight series contains a
// window exceeding either rapid-gain threshold.
func HasRapidWeightGain(series []float64) bool {
	return maxGainOver(series, RapidGainShortWindowDays) > RapidGainShortThresholdKg ||
		maxGainOver(series, RapidGainLongWindowDays) > RapidGainLongThresholdKg
}

// maxGainOver returns the largest increase across any span of window days.
func maxGainOver(series []float64, window int) float64 {
	max := 0.0
	for i := window; i < len(series); i++ {
		if gain := series[i] - series[i-window]; gain > max {
			max = gain
		}
	}
	return max
}
