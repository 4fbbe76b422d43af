package indicators

import (
	"fmt"
	"strconv"
)

// HeatwaveSpec is a temperature threshold with the minimum run length that
// qualifies as an event.
type HeatwaveSpec struct {
	Threshold float64 `json:"threshold"`
	MinDays   int     `json:"minDays"`
}

func (h HeatwaveSpec) Key() string {
	return fmt.Sprintf("%s/%d", ThresholdKey(h.Threshold), h.MinDays)
}

// Options are the computation parameters of the indicator engine. Zero-valued
// fields take their defaults in Normalize.
type Options struct {
	GDDBases             []float64      `json:"gddBases,omitempty"`
	HDDBases             []float64      `json:"hddBases,omitempty"`
	FrostThresholds      []float64      `json:"frostThresholds,omitempty"`
	HeatThresholds       []float64      `json:"heatThresholds,omitempty"`
	Heatwaves            []HeatwaveSpec `json:"heatwaves,omitempty"`
	DryDayMm             float64        `json:"dryDayMm,omitempty"`
	HeavyRainMm          []float64      `json:"heavyRainMm,omitempty"`
	WindMeanMs           []float64      `json:"windMeanMs,omitempty"`
	WindGustMs           []float64      `json:"windGustMs,omitempty"`
	SpringFreezeEndDoy   int            `json:"springFreezeEndDoy,omitempty"`
	AutumnFreezeStartDoy int            `json:"autumnFreezeStartDoy,omitempty"`
}

func DefaultOptions() Options {
	return Options{
		GDDBases:             []float64{5, 10},
		HDDBases:             []float64{0},
		FrostThresholds:      []float64{0, -2, -4},
		HeatThresholds:       []float64{30, 32, 35},
		Heatwaves:            []HeatwaveSpec{{30, 3}, {32, 3}, {35, 3}},
		DryDayMm:             1,
		HeavyRainMm:          []float64{20, 30, 50},
		WindMeanMs:           []float64{8, 10, 15},
		WindGustMs:           []float64{15, 20, 25},
		SpringFreezeEndDoy:   200,
		AutumnFreezeStartDoy: 213,
	}
}

// Normalize fills unset fields from DefaultOptions.
func (o Options) Normalize() Options {
	d := DefaultOptions()
	if len(o.GDDBases) == 0 {
		o.GDDBases = d.GDDBases
	}
	if len(o.HDDBases) == 0 {
		o.HDDBases = d.HDDBases
	}
	if len(o.FrostThresholds) == 0 {
		o.FrostThresholds = d.FrostThresholds
	}
	if len(o.HeatThresholds) == 0 {
		o.HeatThresholds = d.HeatThresholds
	}
	if len(o.Heatwaves) == 0 {
		o.Heatwaves = d.Heatwaves
	}
	if o.DryDayMm <= 0 {
		o.DryDayMm = d.DryDayMm
	}
	if len(o.HeavyRainMm) == 0 {
		o.HeavyRainMm = d.HeavyRainMm
	}
	if len(o.WindMeanMs) == 0 {
		o.WindMeanMs = d.WindMeanMs
	}
	if len(o.WindGustMs) == 0 {
		o.WindGustMs = d.WindGustMs
	}
	if o.SpringFreezeEndDoy <= 0 {
		o.SpringFreezeEndDoy = d.SpringFreezeEndDoy
	}
	if o.AutumnFreezeStartDoy <= 0 {
		o.AutumnFreezeStartDoy = d.AutumnFreezeStartDoy
	}
	return o
}

// ThresholdKey is the map key for a numeric threshold: 5 -> "5", -2 -> "-2", 2.5 -> "2.5".
func ThresholdKey(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
