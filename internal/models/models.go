package models

import (
	"database/sql"
	"encoding/json"
	"math"
	"time"
)

type Station struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	City      string   `json:"city,omitempty"`
	Latitude  float64  `json:"lat"`
	Longitude float64  `json:"lon"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Type      string   `json:"type,omitempty"` // "synop", "auto", "grid", ...
}

// StationDistance pairs a station with its great-circle distance from a query point.
type StationDistance struct {
	Station    Station `json:"station"`
	DistanceKm float64 `json:"distanceKm"`
}

type Observation struct {
	ObservedAt time.Time
	TempMean   sql.NullFloat64
	TempMin    sql.NullFloat64
	TempMax    sql.NullFloat64
	Rain       sql.NullFloat64 // rainfall over the observation period
	Rain24     sql.NullFloat64
	WindMean   sql.NullFloat64 // m/s
	WindGust   sql.NullFloat64 // m/s
	Humidity   sql.NullFloat64
	Pressure   sql.NullFloat64
}

// Field identifies one of the nullable numeric readings of an Observation.
type Field int

const (
	FieldTempMean Field = iota
	FieldTempMin
	FieldTempMax
	FieldRain
	FieldRain24
	FieldWindMean
	FieldWindGust
	FieldHumidity
	FieldPressure
)

// Fields lists every numeric field in declaration order.
var Fields = []Field{
	FieldTempMean, FieldTempMin, FieldTempMax,
	FieldRain, FieldRain24,
	FieldWindMean, FieldWindGust,
	FieldHumidity, FieldPressure,
}

// Value returns a pointer to the field so callers can read or set it in place.
func (o *Observation) Value(f Field) *sql.NullFloat64 {
	switch f {
	case FieldTempMean:
		return &o.TempMean
	case FieldTempMin:
		return &o.TempMin
	case FieldTempMax:
		return &o.TempMax
	case FieldRain:
		return &o.Rain
	case FieldRain24:
		return &o.Rain24
	case FieldWindMean:
		return &o.WindMean
	case FieldWindGust:
		return &o.WindGust
	case FieldHumidity:
		return &o.Humidity
	case FieldPressure:
		return &o.Pressure
	}
	return nil
}

// AvgTemp returns the mean temperature, falling back to the midpoint of min and max.
func (o Observation) AvgTemp() (float64, bool) {
	if Finite(o.TempMean) {
		return o.TempMean.Float64, true
	}
	if Finite(o.TempMin) && Finite(o.TempMax) {
		return (o.TempMin.Float64 + o.TempMax.Float64) / 2, true
	}
	return 0, false
}

// Rainfall returns the period rainfall (or the 24h amount when the period value
// is missing). Missing rainfall counts as zero.
func (o Observation) Rainfall() float64 {
	if Finite(o.Rain) {
		return o.Rain.Float64
	}
	if Finite(o.Rain24) {
		return o.Rain24.Float64
	}
	return 0
}

// Finite reports whether v holds a usable number.
func Finite(v sql.NullFloat64) bool {
	return v.Valid && !math.IsNaN(v.Float64) && !math.IsInf(v.Float64, 0)
}

// Float wraps a value as a valid sql.NullFloat64.
func Float(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

type observationJSON struct {
	Time     time.Time `json:"time"`
	TempMean *float64  `json:"temp,omitempty"`
	TempMin  *float64  `json:"tmin,omitempty"`
	TempMax  *float64  `json:"tmax,omitempty"`
	Rain     *float64  `json:"rain,omitempty"`
	Rain24   *float64  `json:"rain24,omitempty"`
	WindMean *float64  `json:"wind,omitempty"`
	WindGust *float64  `json:"gust,omitempty"`
	Humidity *float64  `json:"rhum,omitempty"`
	Pressure *float64  `json:"pres,omitempty"`
}

func toPtr(v sql.NullFloat64) *float64 {
	if !Finite(v) {
		return nil
	}
	f := v.Float64
	return &f
}

func fromPtr(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return Float(*p)
}

func (o Observation) MarshalJSON() ([]byte, error) {
	return json.Marshal(observationJSON{
		Time:     o.ObservedAt.UTC(),
		TempMean: toPtr(o.TempMean),
		TempMin:  toPtr(o.TempMin),
		TempMax:  toPtr(o.TempMax),
		Rain:     toPtr(o.Rain),
		Rain24:   toPtr(o.Rain24),
		WindMean: toPtr(o.WindMean),
		WindGust: toPtr(o.WindGust),
		Humidity: toPtr(o.Humidity),
		Pressure: toPtr(o.Pressure),
	})
}

func (o *Observation) UnmarshalJSON(b []byte) error {
	var w observationJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*o = Observation{
		ObservedAt: w.Time.UTC(),
		TempMean:   fromPtr(w.TempMean),
		TempMin:    fromPtr(w.TempMin),
		TempMax:    fromPtr(w.TempMax),
		Rain:       fromPtr(w.Rain),
		Rain24:     fromPtr(w.Rain24),
		WindMean:   fromPtr(w.WindMean),
		WindGust:   fromPtr(w.WindGust),
		Humidity:   fromPtr(w.Humidity),
		Pressure:   fromPtr(w.Pressure),
	}
	return nil
}
