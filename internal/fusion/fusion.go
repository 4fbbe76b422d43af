// Package fusion blends several stations' series into one by inverse-distance
// weighting, independently per field and per timestamp.
package fusion

import (
	"math"
	"sort"

	"github.com/lox/croprisk/internal/geo"
	"github.com/lox/croprisk/internal/models"
)

// minDistanceKm floors the weighting distance for near-coincident points.
const minDistanceKm = 0.1

// Result is one station's acquisition outcome. A failed station contributes nothing.
type Result struct {
	Station models.Station
	Series  []models.Observation
	Err     error
}

func Success(st models.Station, series []models.Observation) Result {
	return Result{Station: st, Series: series}
}

func Failure(st models.Station, err error) Result {
	return Result{Station: st, Err: err}
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Weight returns the inverse-distance weight of a station relative to the target.
func Weight(st models.Station, lat, lon float64) float64 {
	return 1 / math.Max(geo.DistanceKm(lat, lon, st.Latitude, st.Longitude), minDistanceKm)
}

type accumulator struct {
	sum    []float64
	weight []float64
}

func newAccumulator() *accumulator {
	return &accumulator{
		sum:    make([]float64, len(models.Fields)),
		weight: make([]float64, len(models.Fields)),
	}
}

// Fuse combines the successful results into one ascending series. A field with
// no contributing station at a timestamp stays null. Values are rounded to two
// decimals.
func Fuse(results []Result, lat, lon float64) []models.Observation {
	acc := make(map[int64]*accumulator)
	at := make(map[int64]models.Observation)

	for _, r := range results {
		if !r.OK() || len(r.Series) == 0 {
			continue
		}
		w := Weight(r.Station, lat, lon)
		for i := range r.Series {
			obs := &r.Series[i]
			key := obs.ObservedAt.UnixNano()
			a, ok := acc[key]
			if !ok {
				a = newAccumulator()
				acc[key] = a
				at[key] = models.Observation{ObservedAt: obs.ObservedAt.UTC()}
			}
			for fi, f := range models.Fields {
				v := obs.Value(f)
				if !models.Finite(*v) {
					continue
				}
				a.sum[fi] += v.Float64 * w
				a.weight[fi] += w
			}
		}
	}

	keys := make([]int64, 0, len(acc))
	for k := range acc {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	fused := make([]models.Observation, 0, len(keys))
	for _, k := range keys {
		a := acc[k]
		obs := at[k]
		for fi, f := range models.Fields {
			if a.weight[fi] == 0 {
				continue
			}
			*obs.Value(f) = models.Float(round2(a.sum[fi] / a.weight[fi]))
		}
		fused = append(fused, obs)
	}
	return fused
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
