package market

import "math"

const (
	maxCompetitionScore = 1000.0
	profitWeight        = 0.60
	calibrationWeight   = 0.25
	activityWeight      = 0.15
	pointsPerBet        = 15.0
)

// FinalScore is the composite per-competition virtual-portfolio score: a
// weighted sum of profit (clamped so -50% maps to 0 and +50% maps to the
// full profit share), calibration (from Brier score: 0 -> full share, 0.25
// -> 0), and activity (points per bet placed, capped at its weight share).
func FinalScore(profitPct, brier float64, betCount int) float64 {
	profitNorm := clamp01((profitPct+0.5)/1.0) * profitWeight * maxCompetitionScore
	calibrationNorm := clamp01((0.25-brier)/0.25) * calibrationWeight * maxCompetitionScore
	activityCap := activityWeight * maxCompetitionScore
	activityNorm := math.Min(float64(betCount)*pointsPerBet, activityCap)

	total := profitNorm + calibrationNorm + activityNorm
	if total < 0 {
		return 0
	}
	if total > maxCompetitionScore {
		return maxCompetitionScore
	}
	return total
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
