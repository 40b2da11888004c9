package scoring

import (
	"sort"
	"testing"

	"workout-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedIntensity(t *testing.T) {
	s := Simulated{}
	assert.InDelta(t, 75.0, s.Intensity(150, 30), 1e-9)
	assert.InDelta(t, 75.0, s.Intensity(150, 60), 1e-9, "age is ignored")
	assert.Equal(t, 0.0, s.Intensity(0, 30))
}

func TestLiveIntensity(t *testing.T) {
	l := Live{}
	assert.InDelta(t, 150.0/190*100, l.Intensity(150, 30), 1e-9)
	assert.InDelta(t, 150.0/190*100, l.Intensity(150, 0), 1e-9, "unknown age uses default")
	assert.InDelta(t, 100.0, l.Intensity(170, 50), 1e-9)
}

func TestRankingCriteriaDiffer(t *testing.T) {
	hot := models.Metric{ParticipantID: "a", IntensityPercent: 90, Calories: 10}
	burner := models.Metric{ParticipantID: "b", IntensityPercent: 60, Calories: 200}

	assert.True(t, Simulated{}.Less(hot, burner))
	assert.True(t, Live{}.Less(burner, hot))
}

func TestLess_TiesBreakByParticipantID(t *testing.T) {
	metrics := []models.Metric{
		{ParticipantID: "c", Calories: 50},
		{ParticipantID: "a", Calories: 50},
		{ParticipantID: "b", Calories: 50},
	}
	sort.Slice(metrics, func(i, j int) bool { return Live{}.Less(metrics[i], metrics[j]) })
	assert.Equal(t, "a", metrics[0].ParticipantID)
	assert.Equal(t, "b", metrics[1].ParticipantID)
	assert.Equal(t, "c", metrics[2].ParticipantID)
}

func TestCaloriePolicies(t *testing.T) {
	sample := func(c float64) models.Sample { return models.Sample{CumulativeCalories: c} }

	assert.Equal(t, 12.0, CaloriesCumulative.apply(10, 10, true, sample(12)))
	assert.Equal(t, 5.0, CaloriesCumulative.apply(10, 10, true, sample(5)))

	assert.Equal(t, 3.0, CaloriesAccumulated.apply(0, 0, false, sample(3)))
	assert.Equal(t, 14.0, CaloriesAccumulated.apply(10, 20, true, sample(24)))
	// device counter reset from 20 back to 2
	assert.Equal(t, 12.0, CaloriesAccumulated.apply(10, 20, true, sample(2)))
}

func TestForMode(t *testing.T) {
	s, err := ForMode(models.ModeSimulated)
	require.NoError(t, err)
	assert.Equal(t, models.ModeSimulated, s.Mode())
	assert.Equal(t, Simulated{Policy: CaloriesAccumulated}, s)

	l, err := ForMode(models.ModeLive)
	require.NoError(t, err)
	assert.Equal(t, Live{Policy: CaloriesCumulative}, l)

	_, err = ForMode("ble")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestWithPolicy(t *testing.T) {
	l := WithPolicy(Live{Policy: CaloriesCumulative}, CaloriesAccumulated)
	assert.Equal(t, Live{Policy: CaloriesAccumulated}, l)

	p, ok, err := ParseCaloriePolicy("accumulated")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, CaloriesAccumulated, p)

	_, ok, err = ParseCaloriePolicy("")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseCaloriePolicy("guess")
	assert.Error(t, err)
}
