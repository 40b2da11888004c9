// Package scoring holds the per-mode intensity, ranking and calorie rules.
//
// The simulated and live modes deliberately disagree: simulated sessions rank by
// intensity against a fixed 200 bpm ceiling, live sessions rank by calories with
// intensity relative to the participant's age-predicted max. Both are exposed
// through Strategy so the engine never branches on mode.
package scoring

import (
	"fmt"

	"workout-engine/internal/models"
	"workout-engine/internal/zone"
)

// SimulatedCeilingHR heart rate treated as 100% intensity by the simulator
const SimulatedCeilingHR = 200

// Strategy scoring rules for one telemetry mode
type Strategy interface {
	Mode() models.TelemetryMode
	// Intensity heart rate as a percentage of this mode's reference maximum
	Intensity(heartRate, age int) float64
	// Less reports whether a ranks ahead of b
	Less(a, b models.Metric) bool
	// Calories folds sample into the running calorie total prev
	Calories(prev float64, prevCumulative float64, seen bool, sample models.Sample) float64
}

// CaloriePolicy how cumulative calorie readings become the metric total
type CaloriePolicy int

const (
	// CaloriesCumulative the device total is authoritative
	CaloriesCumulative CaloriePolicy = iota
	// CaloriesAccumulated sum the positive deltas between readings; tolerates device counter resets
	CaloriesAccumulated
)

func (p CaloriePolicy) apply(prev, prevCumulative float64, seen bool, sample models.Sample) float64 {
	if p == CaloriesCumulative {
		return sample.CumulativeCalories
	}
	if !seen {
		return sample.CumulativeCalories
	}
	delta := sample.CumulativeCalories - prevCumulative
	if delta < 0 {
		// counter reset: the new reading is all new burn
		delta = sample.CumulativeCalories
	}
	return prev + delta
}

// Simulated ranks by intensity, intensity = hr / 200
type Simulated struct {
	Policy CaloriePolicy
}

func (Simulated) Mode() models.TelemetryMode { return models.ModeSimulated }

func (Simulated) Intensity(heartRate, _ int) float64 {
	if heartRate <= 0 {
		return 0
	}
	return float64(heartRate) / SimulatedCeilingHR * 100
}

func (Simulated) Less(a, b models.Metric) bool {
	if a.IntensityPercent != b.IntensityPercent {
		return a.IntensityPercent > b.IntensityPercent
	}
	return a.ParticipantID < b.ParticipantID
}

func (s Simulated) Calories(prev, prevCumulative float64, seen bool, sample models.Sample) float64 {
	return s.Policy.apply(prev, prevCumulative, seen, sample)
}

// Live ranks by calories, intensity = hr / (220 - age)
type Live struct {
	Policy CaloriePolicy
}

func (Live) Mode() models.TelemetryMode { return models.ModeLive }

func (Live) Intensity(heartRate, age int) float64 {
	return zone.PercentOfMax(heartRate, age)
}

func (Live) Less(a, b models.Metric) bool {
	if a.Calories != b.Calories {
		return a.Calories > b.Calories
	}
	return a.ParticipantID < b.ParticipantID
}

func (l Live) Calories(prev, prevCumulative float64, seen bool, sample models.Sample) float64 {
	return l.Policy.apply(prev, prevCumulative, seen, sample)
}

// ForMode returns the default strategy for mode
func ForMode(mode models.TelemetryMode) (Strategy, error) {
	switch mode {
	case models.ModeSimulated:
		return Simulated{Policy: CaloriesAccumulated}, nil
	case models.ModeLive:
		return Live{Policy: CaloriesCumulative}, nil
	default:
		return nil, fmt.Errorf("%w: telemetry mode %q", models.ErrInvalidInput, mode)
	}
}

// ParseCaloriePolicy maps a config value to a policy; empty keeps the mode default
func ParseCaloriePolicy(s string) (CaloriePolicy, bool, error) {
	switch s {
	case "":
		return 0, false, nil
	case "cumulative":
		return CaloriesCumulative, true, nil
	case "accumulated":
		return CaloriesAccumulated, true, nil
	default:
		return 0, false, fmt.Errorf("%w: calorie policy %q", models.ErrInvalidInput, s)
	}
}

// WithPolicy returns s with its calorie policy replaced
func WithPolicy(s Strategy, p CaloriePolicy) Strategy {
	switch st := s.(type) {
	case Simulated:
		st.Policy = p
		return st
	case Live:
		st.Policy = p
		return st
	}
	return s
}
