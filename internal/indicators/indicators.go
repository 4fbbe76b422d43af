// Package indicators computes agro-climatic indicators for one phase window of
// one year, and rolls them up across years.
package indicators

import (
	"database/sql"
	"math"

	"github.com/lox/croprisk/internal/models"
	"github.com/lox/croprisk/internal/phase"
)

// Keyed maps a threshold key to a value. Every key configured in Options is
// present, even when its value is zero.
type Keyed[V any] map[string]V

func keyedFrom[V any](thresholds []float64, f func(float64) V) Keyed[V] {
	m := make(Keyed[V], len(thresholds))
	for _, t := range thresholds {
		m[ThresholdKey(t)] = f(t)
	}
	return m
}

type Rainfall struct {
	Total         float64    `json:"total"`
	DryDays       int        `json:"dryDays"`
	MaxDrySpell   int        `json:"maxDrySpell"`
	HeavyRainDays Keyed[int] `json:"heavyRainDays"`
}

type YearIndicators struct {
	Year                 int             `json:"year"`
	Observations         int             `json:"observations"`
	GDD                  Keyed[float64]  `json:"gdd"`
	HDD                  Keyed[float64]  `json:"hdd"`
	FrostDays            Keyed[int]      `json:"frostDays"`
	HeatDays             Keyed[int]      `json:"heatDays"`
	Heatwaves            Keyed[RunStats] `json:"heatwaves"`
	Rainfall             Rainfall        `json:"rainfall"`
	WindMeanDays         Keyed[int]      `json:"windMeanDays"`
	WindGustDays         Keyed[int]      `json:"windGustDays"`
	LastSpringFreezeDoy  *int            `json:"lastSpringFreezeDoy"`
	FirstAutumnFreezeDoy *int            `json:"firstAutumnFreezeDoy"`
}

// ForSlice computes the indicator bundle for one year slice. opts should already
// be normalized.
func ForSlice(slice phase.YearSlice, opts Options) YearIndicators {
	obs := slice.Observations

	countWhere := func(get func(models.Observation) (float64, bool), pred func(float64) bool) int {
		n := 0
		for _, o := range obs {
			if v, ok := get(o); ok && pred(v) {
				n++
			}
		}
		return n
	}
	field := func(pick func(models.Observation) sql.NullFloat64) func(models.Observation) (float64, bool) {
		return func(o models.Observation) (float64, bool) {
			v := pick(o)
			return v.Float64, models.Finite(v)
		}
	}
	tmin := field(func(o models.Observation) sql.NullFloat64 { return o.TempMin })
	tmax := field(func(o models.Observation) sql.NullFloat64 { return o.TempMax })
	wind := field(func(o models.Observation) sql.NullFloat64 { return o.WindMean })
	gust := field(func(o models.Observation) sql.NullFloat64 { return o.WindGust })

	yi := YearIndicators{
		Year:         slice.Year,
		Observations: len(obs),
		GDD: keyedFrom(opts.GDDBases, func(base float64) float64 {
			return degreeDays(obs, func(avg float64) float64 { return avg - base })
		}),
		HDD: keyedFrom(opts.HDDBases, func(base float64) float64 {
			return degreeDays(obs, func(avg float64) float64 { return base - avg })
		}),
		FrostDays: keyedFrom(opts.FrostThresholds, func(th float64) int {
			return countWhere(tmin, func(v float64) bool { return v <= th })
		}),
		HeatDays: keyedFrom(opts.HeatThresholds, func(th float64) int {
			return countWhere(tmax, func(v float64) bool { return v >= th })
		}),
		WindMeanDays: keyedFrom(opts.WindMeanMs, func(th float64) int {
			return countWhere(wind, func(v float64) bool { return v >= th })
		}),
		WindGustDays: keyedFrom(opts.WindGustMs, func(th float64) int {
			return countWhere(gust, func(v float64) bool { return v >= th })
		}),
	}

	yi.Heatwaves = make(Keyed[RunStats], len(opts.Heatwaves))
	for _, hw := range opts.Heatwaves {
		flags := make([]bool, len(obs))
		for i, o := range obs {
			v, ok := tmax(o)
			flags[i] = ok && v >= hw.Threshold
		}
		yi.Heatwaves[hw.Key()] = ScanRuns(flags, hw.MinDays)
	}

	yi.Rainfall = rainfall(obs, opts)
	yi.LastSpringFreezeDoy, yi.FirstAutumnFreezeDoy = freezeEvents(obs, opts)
	return yi
}

// degreeDays sums max(0, excess(avg)) over observations with a usable average temperature.
func degreeDays(obs []models.Observation, excess func(avg float64) float64) float64 {
	sum := 0.0
	for _, o := range obs {
		avg, ok := o.AvgTemp()
		if !ok {
			continue
		}
		sum += math.Max(0, excess(avg))
	}
	return round2(sum)
}

func rainfall(obs []models.Observation, opts Options) Rainfall {
	r := Rainfall{}
	dry := make([]bool, len(obs))
	for i, o := range obs {
		mm := o.Rainfall()
		r.Total += mm
		if mm < opts.DryDayMm {
			r.DryDays++
			dry[i] = true
		}
	}
	r.Total = round2(r.Total)
	r.MaxDrySpell = LongestRun(dry)
	r.HeavyRainDays = keyedFrom(opts.HeavyRainMm, func(th float64) int {
		n := 0
		for _, o := range obs {
			if o.Rainfall() >= th {
				n++
			}
		}
		return n
	})
	return r
}

func freezeEvents(obs []models.Observation, opts Options) (lastSpring, firstAutumn *int) {
	for _, o := range obs {
		if !models.Finite(o.TempMin) || o.TempMin.Float64 > 0 {
			continue
		}
		doy := o.ObservedAt.UTC().YearDay()
		if doy <= opts.SpringFreezeEndDoy && (lastSpring == nil || doy > *lastSpring) {
			d := doy
			lastSpring = &d
		}
		if doy >= opts.AutumnFreezeStartDoy && (firstAutumn == nil || doy < *firstAutumn) {
			d := doy
			firstAutumn = &d
		}
	}
	return lastSpring, firstAutumn
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
