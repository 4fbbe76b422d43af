// Package risk derives exceedance probabilities, trend estimates and a
// confidence score from per-year indicator series.
package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrInvalidArgument = errors.New("invalid argument")

// Probability is an empirical exceedance probability. Probability is nil when
// there are no samples.
type Probability struct {
	Probability *float64 `json:"probability"`
	SampleSize  int      `json:"sampleSize"`
	Occurrences int      `json:"occurrences"`
}

// EmpiricalProbability is the share of finite values satisfying pred.
func EmpiricalProbability(values []float64, pred func(float64) bool) Probability {
	var p Probability
	for _, v := range values {
		if !finite(v) {
			continue
		}
		p.SampleSize++
		if pred(v) {
			p.Occurrences++
		}
	}
	if p.SampleSize > 0 {
		prob := float64(p.Occurrences) / float64(p.SampleSize)
		p.Probability = &prob
	}
	return p
}

// Quantile interpolates linearly between order statistics at position (n-1)q
// over the finite values. It returns nil when there are none.
func Quantile(values []float64, q float64) (*float64, error) {
	if !(q >= 0 && q <= 1) {
		return nil, fmt.Errorf("%w: quantile %v outside [0,1]", ErrInvalidArgument, q)
	}
	sorted := Finite(values)
	if len(sorted) == 0 {
		return nil, nil
	}
	sort.Float64s(sorted)

	pos := float64(len(sorted)-1) * q
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	v := sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
	return &v, nil
}

// Finite returns a copy of values without NaN or infinities.
func Finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if finite(v) {
			out = append(out, v)
		}
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Round2 rounds to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
