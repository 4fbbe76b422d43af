package risk

import (
	"math"

	"github.com/montanaflynn/stats"
)

type ConfidenceInput struct {
	NYears          int
	Completeness    float64
	InterStationStd *float64 // nil when fewer than two stations had a total
}

// ConfidenceScore blends record length, completeness and inter-station
// coherence into [0,1].
func ConfidenceScore(in ConfidenceInput) float64 {
	yearsScore := math.Min(1, float64(in.NYears)/20)
	completenessScore := clamp(in.Completeness, 0, 1)
	coherenceScore := 1.0
	if in.InterStationStd != nil && finite(*in.InterStationStd) {
		coherenceScore = math.Max(0, 1-*in.InterStationStd/5)
	}
	score := 0.5*yearsScore + 0.3*completenessScore + 0.2*coherenceScore
	return Round2(clamp(score, 0, 1))
}

// Completeness is the share of requested years that produced data, capped at 1.
func Completeness(observed, requested int) float64 {
	if requested <= 0 {
		return 0
	}
	return math.Min(1, float64(observed)/float64(requested))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// InterStationStd is the sample standard deviation of per-station totals. It
// needs at least two finite totals.
func InterStationStd(totals []float64) *float64 {
	v := Finite(totals)
	if len(v) < 2 {
		return nil
	}
	sd, err := stats.StandardDeviationSample(v)
	if err != nil || !finite(sd) {
		return nil
	}
	sd = Round2(sd)
	return &sd
}
