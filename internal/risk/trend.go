package risk

import "math"

type Direction string

const (
	Up   Direction = "↑"
	Down Direction = "↓"
	Flat Direction = "→"
)

const DefaultTolerance = 1e-3

type LinearFit struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	R2        float64 `json:"r2"`
}

// LinearTrend fits y = slope*x + intercept by ordinary least squares over pairs
// where both values are finite. It returns nil with fewer than two pairs or
// when x is constant.
func LinearTrend(xs, ys []float64) *LinearFit {
	n := min(len(xs), len(ys))
	var px, py []float64
	for i := 0; i < n; i++ {
		if finite(xs[i]) && finite(ys[i]) {
			px = append(px, xs[i])
			py = append(py, ys[i])
		}
	}
	if len(px) < 2 {
		return nil
	}

	var sx, sy, sxx, sxy float64
	for i := range px {
		sx += px[i]
		sy += py[i]
		sxx += px[i] * px[i]
		sxy += px[i] * py[i]
	}
	fn := float64(len(px))
	denom := fn*sxx - sx*sx
	if denom == 0 {
		return nil
	}
	slope := (fn*sxy - sx*sy) / denom
	intercept := (sy - slope*sx) / fn

	meanY := sy / fn
	var ssTot, ssRes float64
	for i := range px {
		pred := slope*px[i] + intercept
		ssTot += (py[i] - meanY) * (py[i] - meanY)
		ssRes += (py[i] - pred) * (py[i] - pred)
	}
	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	return &LinearFit{Slope: slope, Intercept: intercept, R2: r2}
}

type MannKendallResult struct {
	Tau    float64 `json:"tau"`
	PValue float64 `json:"pValue"`
}

// MannKendall runs the rank trend test over the finite values in order.
// It returns nil with fewer than three values.
func MannKendall(values []float64) *MannKendallResult {
	v := Finite(values)
	n := len(v)
	if n < 3 {
		return nil
	}

	s := 0
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			switch d := v[j] - v[i]; {
			case d > 0:
				s++
			case d < 0:
				s--
			}
		}
	}

	fn := float64(n)
	variance := fn * (fn - 1) * (2*fn + 5) / 18
	var z float64
	switch {
	case s > 0:
		z = (float64(s) - 1) / math.Sqrt(variance)
	case s < 0:
		z = (float64(s) + 1) / math.Sqrt(variance)
	}

	p := 2 * (1 - normalCDF(math.Abs(z)))
	p = math.Max(0, math.Min(1, p))
	return &MannKendallResult{
		Tau:    float64(s) / (0.5 * fn * (fn - 1)),
		PValue: p,
	}
}

// TrendDirection classifies a slope against tolerance. A nil or non-finite slope is flat.
func TrendDirection(slope *float64, tolerance float64) Direction {
	if slope == nil || !finite(*slope) {
		return Flat
	}
	switch {
	case *slope > tolerance:
		return Up
	case *slope < -tolerance:
		return Down
	}
	return Flat
}

func normalCDF(x float64) float64 {
	return 0.5 * (1 + erf(x/math.Sqrt2))
}

// erf is the Abramowitz and Stegun 7.1.26 approximation (|error| < 1.5e-7).
func erf(x float64) float64 {
	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)
	sign := 1.0
	if x < 0 {
		sign = -1
		x = -x
	}
	t := 1 / (1 + p*x)
	y := 1 - ((((a5*t+a4)*t+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)
	return sign * y
}
