package engine

import "math"

// ScoringConfig is the speed-bonus curve. A correct answer at offset t out of
// limit T earns base * (1 - SpeedWeight*t/T), never below MinFactor*base.
// Quizzes carry per-question base points, so the curve is configuration
// rather than a constant.
type ScoringConfig struct {
	SpeedWeight float64
	MinFactor   float64
}

func DefaultScoring() ScoringConfig {
	return ScoringConfig{SpeedWeight: 0.5, MinFactor: 0.5}
}

// Score is total over any input: late or replayed submissions score zero
// instead of panicking, and a zero time limit pays full points.
func (c ScoringConfig) Score(correct bool, offsetMs, timeLimitMs int64, basePoints int) int {
	if !correct {
		return 0
	}
	if offsetMs < 0 {
		offsetMs = 0
	}
	if timeLimitMs <= 0 {
		return basePoints
	}
	if offsetMs > timeLimitMs {
		return 0
	}
	factor := 1 - c.SpeedWeight*float64(offsetMs)/float64(timeLimitMs)
	if factor < c.MinFactor {
		factor = c.MinFactor
	}
	return int(math.Round(float64(basePoints) * factor))
}
