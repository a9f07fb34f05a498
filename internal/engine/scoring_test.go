package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScore_SpeedCurve(t *testing.T) {
	cfg := DefaultScoring()

	cases := []struct {
		name     string
		correct  bool
		offsetMs int64
		limitMs  int64
		base     int
		want     int
	}{
		{name: "fast correct answer", correct: true, offsetMs: 2000, limitMs: 20000, base: 1000, want: 950},
		{name: "slow correct answer", correct: true, offsetMs: 18000, limitMs: 20000, base: 1000, want: 550},
		{name: "instant answer pays full", correct: true, offsetMs: 0, limitMs: 20000, base: 1000, want: 1000},
		{name: "answer at the buzzer hits the floor", correct: true, offsetMs: 20000, limitMs: 20000, base: 1000, want: 500},
		{name: "incorrect pays nothing", correct: false, offsetMs: 1000, limitMs: 20000, base: 1000, want: 0},
		{name: "past the deadline counts as no answer", correct: true, offsetMs: 20001, limitMs: 20000, base: 1000, want: 0},
		{name: "negative offset clamps to zero", correct: true, offsetMs: -50, limitMs: 20000, base: 1000, want: 1000},
		{name: "untimed question pays full", correct: true, offsetMs: 9999, limitMs: 0, base: 800, want: 800},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, cfg.Score(tc.correct, tc.offsetMs, tc.limitMs, tc.base))
		})
	}
}

func TestScore_FloorRespectsConfig(t *testing.T) {
	cfg := ScoringConfig{SpeedWeight: 0.9, MinFactor: 0.5}
	// 1 - 0.9*0.9 = 0.19, clamped up to the 0.5 floor.
	require.Equal(t, 500, cfg.Score(true, 18000, 20000, 1000))
}
