// Package score implements the tiered score growth model and the
// resonance aggregation used to gate community access.
//
// Scores are decimals held with two fractional digits. Growth follows a
// step function over ascending bands: the higher the score, the smaller
// the increment per interaction, up to a hard ceiling.
package score

import "math"

// MaxScore is the hard ceiling for an own score.
const MaxScore = 100.0

// precision is the fixed fractional precision of stored scores.
const precision = 100

// band is one step of the growth function. Floor is inclusive.
type band struct {
	Floor float64
	Rate  float64
}

// bands are ordered descending so the first match wins.
// Scores below the lowest floor use the lowest band's rate.
var bands = []band{
	{Floor: 90, Rate: 0.01},
	{Floor: 80, Rate: 0.1},
	{Floor: 70, Rate: 0.2},
	{Floor: 60, Rate: 0.5},
	{Floor: 50, Rate: 1.0},
}

// Increment returns the points awarded for a single interaction at the
// given current score.
func Increment(current float64) float64 {
	for _, b := range bands {
		if current >= b.Floor {
			return b.Rate
		}
	}
	return bands[len(bands)-1].Rate
}

// ApplyInteractions returns the score after n interactions.
//
// The increment is applied one interaction at a time: a run of
// interactions may cross a band boundary mid-sequence, and the tail of
// the run must use the new band's smaller rate. Multiplying the initial
// increment by n would over-credit across the boundary.
func ApplyInteractions(current float64, n int) float64 {
	s := current
	for i := 0; i < n; i++ {
		s += Increment(s)
		if s >= MaxScore {
			s = MaxScore
			break
		}
	}
	return Round2(s)
}

// Round2 rounds to two fractional digits, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*precision) / precision
}
