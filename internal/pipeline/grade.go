package pipeline

import (
	"math"

	"github.com/tokumeifriends/koinomae-api1/internal/models"
)

const (
	maxGrade          = 20
	maxPenalty        = 3
	hesitationDivisor = 34
)

// rawMetrics holds the metrics exactly as the scoring model returned them,
// before rounding for display.
type rawMetrics struct {
	initiative     float64
	selfDisclosure float64
	empathy        float64
	clarity        float64
	paceBalance    float64
	hesitation     float64
}

// display rounds every metric to the integer shown to callers.
func (r rawMetrics) display() models.ScoreMetrics {
	return models.ScoreMetrics{
		Initiative:     roundMetric(r.initiative),
		SelfDisclosure: roundMetric(r.selfDisclosure),
		Empathy:        roundMetric(r.empathy),
		Clarity:        roundMetric(r.clarity),
		PaceBalance:    roundMetric(r.paceBalance),
		Hesitation:     roundMetric(r.hesitation),
	}
}

// CompositeGrade maps the metrics onto the 0-20 scale: a weighted mean of
// five metrics divided by five, minus a hesitation penalty capped at three,
// floored at zero. Both roundings use math.Round (half away from zero).
// Metrics are clamped to [0,100] first.
func CompositeGrade(m models.ScoreMetrics) int {
	return gradeOf(rawMetrics{
		initiative:     float64(m.Initiative),
		selfDisclosure: float64(m.SelfDisclosure),
		empathy:        float64(m.Empathy),
		clarity:        float64(m.Clarity),
		paceBalance:    float64(m.PaceBalance),
		hesitation:     float64(m.Hesitation),
	})
}

// gradeOf grades unrounded metrics; fractional inputs are only rounded at
// the raw20 and penalty steps.
func gradeOf(r rawMetrics) int {
	weighted := 0.22*clampMetric(r.initiative) +
		0.22*clampMetric(r.selfDisclosure) +
		0.20*clampMetric(r.empathy) +
		0.18*clampMetric(r.clarity) +
		0.18*clampMetric(r.paceBalance)

	raw20 := int(math.Round(weighted / 5))
	penalty := min(maxPenalty, int(math.Round(clampMetric(r.hesitation)/hesitationDivisor)))

	return min(maxGrade, max(0, raw20-penalty))
}

func clampMetric(v float64) float64 {
	return min(100, max(0, v))
}

func roundMetric(v float64) int {
	return int(math.Round(v))
}
