// Package zone maps heart rate to training zones 1..5.
package zone

// DefaultAge used when the participant's age is unknown
const DefaultAge = 30

// upper bounds (exclusive) of zones 1..4 as a percentage of max heart rate
var thresholds = [...]int{60, 70, 80, 90}

// MaxHR age-predicted maximum heart rate (220 - age).
// Ages that leave no positive maximum fall back to DefaultAge.
func MaxHR(age int) int {
	if age <= 0 || age >= 220 {
		age = DefaultAge
	}
	return 220 - age
}

// PercentOfMax heart rate as a percentage of MaxHR(age)
func PercentOfMax(heartRate, age int) float64 {
	maxHR := MaxHR(age)
	if maxHR <= 0 || heartRate <= 0 {
		return 0
	}
	return float64(heartRate) / float64(maxHR) * 100
}

// Classify returns the zone for heartRate. Total: any input yields 1..5.
// Compared in integers so a reading exactly on a boundary lands in the upper zone.
func Classify(heartRate, age int) int {
	maxHR := MaxHR(age)
	for i, limit := range thresholds {
		if heartRate*100 < limit*maxHR {
			return i + 1
		}
	}
	return len(thresholds) + 1
}
