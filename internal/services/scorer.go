package services

import (
	"math"

	"github.com/presencegate/server/internal/models"
)

// Certainty thresholds for the final verdict.
const (
	presentThreshold  = 70
	doubtfulThreshold = 40
)

// CertaintyScorer converts a completed sequence of round response times
// into a 0-100 confidence score and a final attendance verdict. Low
// variance between rounds and a humanly plausible average raise the
// score; sub-human or stalled averages cut it.
type CertaintyScorer struct{}

// NewCertaintyScorer creates the scorer.
func NewCertaintyScorer() *CertaintyScorer {
	return &CertaintyScorer{}
}

// Calculate computes population statistics over responseTimes and derives
// the certainty score. Empty input yields all zeros.
func (s *CertaintyScorer) Calculate(responseTimes []int64, maxRounds int) models.ScoreReport {
	report := models.ScoreReport{
		RoundsCompleted:  len(responseTimes),
		IsFullCompletion: len(responseTimes) >= maxRounds,
	}
	if len(responseTimes) == 0 {
		report.FinalStatus = models.VerdictAbsent
		return report
	}

	var sum float64
	min, max := responseTimes[0], responseTimes[0]
	for _, t := range responseTimes {
		sum += float64(t)
		if t < min {
			min = t
		}
		if t > max {
			max = t
		}
	}
	avg := sum / float64(len(responseTimes))

	var variance float64
	for _, t := range responseTimes {
		d := float64(t) - avg
		variance += d * d
	}
	variance /= float64(len(responseTimes))
	stdDev := math.Sqrt(variance)

	certainty := 50
	certainty += consistencyBonus(stdDev)
	certainty += plausibilityAdjustment(avg)
	if certainty > 100 {
		certainty = 100
	}
	if certainty < 0 {
		certainty = 0
	}

	report.Stats = models.ResponseTimeStats{
		Avg:       int64(math.Round(avg)),
		StdDev:    int64(math.Round(stdDev)),
		Min:       min,
		Max:       max,
		Certainty: certainty,
	}
	report.FinalStatus = verdict(certainty)
	return report
}

// consistencyBonus rewards tight grouping of round response times.
func consistencyBonus(stdDev float64) int {
	switch {
	case stdDev < 500:
		return 30
	case stdDev < 1000:
		return 20
	case stdDev < 2000:
		return 10
	default:
		return 0
	}
}

// plausibilityAdjustment scores the average against human reaction
// bands. Averages under 300ms or over 15s look automated or stalled and
// are penalized.
func plausibilityAdjustment(avg float64) int {
	switch {
	case avg >= 800 && avg <= 3000:
		return 20
	case avg >= 500 && avg <= 5000:
		return 10
	case avg >= 300 && avg <= 8000:
		return 5
	case avg < 300 || avg > 15000:
		return -20
	default:
		return 0
	}
}

func verdict(certainty int) string {
	switch {
	case certainty >= presentThreshold:
		return models.VerdictPresent
	case certainty >= doubtfulThreshold:
		return models.VerdictDoubtful
	default:
		return models.VerdictAbsent
	}
}
