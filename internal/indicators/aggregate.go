package indicators

import (
	"github.com/montanaflynn/stats"

	"github.com/lox/croprisk/internal/risk"
)

// SeriesStatistics describes one indicator across years. Every field is nil
// when no year produced a finite value.
type SeriesStatistics struct {
	N    int      `json:"n"`
	Mean *float64 `json:"mean"`
	Std  *float64 `json:"std"`
	P10  *float64 `json:"p10"`
	P50  *float64 `json:"p50"`
	P90  *float64 `json:"p90"`
}

// Aggregated maps flattened indicator keys (see Flatten) to their statistics.
type Aggregated map[string]SeriesStatistics

// Flatten turns a year's bundle into named scalar samples, e.g. "gdd.5",
// "heatwaves.35/3.events", "rainfall.maxDrySpell". Freeze dates appear only
// when they occurred.
func Flatten(yi YearIndicators) map[string]float64 {
	out := make(map[string]float64)
	for k, v := range yi.GDD {
		out["gdd."+k] = v
	}
	for k, v := range yi.HDD {
		out["hdd."+k] = v
	}
	for k, v := range yi.FrostDays {
		out["frostDays."+k] = float64(v)
	}
	for k, v := range yi.HeatDays {
		out["heatDays."+k] = float64(v)
	}
	for k, v := range yi.Heatwaves {
		out["heatwaves."+k+".events"] = float64(v.Events)
		out["heatwaves."+k+".totalDays"] = float64(v.TotalDays)
		out["heatwaves."+k+".longest"] = float64(v.Longest)
	}
	out["rainfall.total"] = yi.Rainfall.Total
	out["rainfall.dryDays"] = float64(yi.Rainfall.DryDays)
	out["rainfall.maxDrySpell"] = float64(yi.Rainfall.MaxDrySpell)
	for k, v := range yi.Rainfall.HeavyRainDays {
		out["heavyRainDays."+k] = float64(v)
	}
	for k, v := range yi.WindMeanDays {
		out["windMeanDays."+k] = float64(v)
	}
	for k, v := range yi.WindGustDays {
		out["windGustDays."+k] = float64(v)
	}
	if yi.LastSpringFreezeDoy != nil {
		out["lastSpringFreezeDoy"] = float64(*yi.LastSpringFreezeDoy)
	}
	if yi.FirstAutumnFreezeDoy != nil {
		out["firstAutumnFreezeDoy"] = float64(*yi.FirstAutumnFreezeDoy)
	}
	return out
}

// Aggregate rolls the per-year bundles up into statistics per indicator key.
// Keys are unioned across years; a year without a key is a missing sample.
// The result does not depend on the order of years.
func Aggregate(years []YearIndicators) Aggregated {
	samples := make(map[string][]float64)
	for _, yi := range years {
		for k, v := range Flatten(yi) {
			samples[k] = append(samples[k], v)
		}
	}

	agg := make(Aggregated, len(samples))
	for k, values := range samples {
		agg[k] = Summarize(values)
	}
	return agg
}

// Summarize computes SeriesStatistics over the finite values. Standard
// deviation is the Bessel-corrected sample value, zero for a single sample.
func Summarize(values []float64) SeriesStatistics {
	v := risk.Finite(values)
	s := SeriesStatistics{N: len(v)}
	if len(v) == 0 {
		return s
	}

	mean, err := stats.Mean(v)
	if err == nil {
		s.Mean = rounded(mean)
	}
	if len(v) == 1 {
		s.Std = rounded(0)
	} else if sd, err := stats.StandardDeviationSample(v); err == nil {
		s.Std = rounded(sd)
	}

	for _, q := range []struct {
		p   float64
		dst **float64
	}{{0.10, &s.P10}, {0.50, &s.P50}, {0.90, &s.P90}} {
		if qv, err := risk.Quantile(v, q.p); err == nil && qv != nil {
			*q.dst = rounded(*qv)
		}
	}
	return s
}

func rounded(v float64) *float64 {
	r := round2(v)
	return &r
}
