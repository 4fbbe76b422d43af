package ingest

import (
	"database/sql"
	"encoding/json"

	"github.com/lox/croprisk/internal/models"
)

const (
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagTempInverted       = "temp_min_above_max"
	FlagHumidityInvalid    = "humidity_invalid"
	FlagWindSpeedUnlikely  = "wind_speed_unlikely"
	FlagPressureOutOfRange = "pressure_out_of_range"
	FlagPrecipInvalid      = "precip_invalid"
)

func tempOutOfRange(v sql.NullFloat64) bool {
	return v.Valid && (v.Float64 < -70 || v.Float64 > 60)
}

// ValidateObservation returns quality flags for implausible readings.
func ValidateObservation(obs *models.Observation) []string {
	var flags []string

	if tempOutOfRange(obs.TempMean) || tempOutOfRange(obs.TempMin) || tempOutOfRange(obs.TempMax) {
		flags = append(flags, FlagTempOutOfRange)
	}

	if obs.TempMin.Valid && obs.TempMax.Valid && obs.TempMin.Float64 > obs.TempMax.Float64 {
		flags = append(flags, FlagTempInverted)
	}

	if obs.Humidity.Valid {
		if obs.Humidity.Float64 < 0 || obs.Humidity.Float64 > 100 {
			flags = append(flags, FlagHumidityInvalid)
		}
	}

	if (obs.WindMean.Valid && (obs.WindMean.Float64 < 0 || obs.WindMean.Float64 > 75)) ||
		(obs.WindGust.Valid && (obs.WindGust.Float64 < 0 || obs.WindGust.Float64 > 115)) {
		flags = append(flags, FlagWindSpeedUnlikely)
	}

	if obs.Pressure.Valid {
		if obs.Pressure.Float64 < 850 || obs.Pressure.Float64 > 1100 {
			flags = append(flags, FlagPressureOutOfRange)
		}
	}

	if (obs.Rain.Valid && (obs.Rain.Float64 < 0 || obs.Rain.Float64 > 1000)) ||
		(obs.Rain24.Valid && (obs.Rain24.Float64 < 0 || obs.Rain24.Float64 > 1000)) {
		flags = append(flags, FlagPrecipInvalid)
	}

	return flags
}

// Sanitize nulls the readings behind each flag so they never reach an indicator
// as a real value, and returns the flags it acted on.
func Sanitize(obs *models.Observation) []string {
	flags := ValidateObservation(obs)
	for _, flag := range flags {
		switch flag {
		case FlagTempOutOfRange:
			for _, v := range []*sql.NullFloat64{&obs.TempMean, &obs.TempMin, &obs.TempMax} {
				if tempOutOfRange(*v) {
					*v = sql.NullFloat64{}
				}
			}
		case FlagTempInverted:
			obs.TempMin, obs.TempMax = sql.NullFloat64{}, sql.NullFloat64{}
		case FlagHumidityInvalid:
			obs.Humidity = sql.NullFloat64{}
		case FlagWindSpeedUnlikely:
			if obs.WindMean.Valid && (obs.WindMean.Float64 < 0 || obs.WindMean.Float64 > 75) {
				obs.WindMean = sql.NullFloat64{}
			}
			if obs.WindGust.Valid && (obs.WindGust.Float64 < 0 || obs.WindGust.Float64 > 115) {
				obs.WindGust = sql.NullFloat64{}
			}
		case FlagPressureOutOfRange:
			obs.Pressure = sql.NullFloat64{}
		case FlagPrecipInvalid:
			if obs.Rain.Valid && (obs.Rain.Float64 < 0 || obs.Rain.Float64 > 1000) {
				obs.Rain = sql.NullFloat64{}
			}
			if obs.Rain24.Valid && (obs.Rain24.Float64 < 0 || obs.Rain24.Float64 > 1000) {
				obs.Rain24 = sql.NullFloat64{}
			}
		}
	}
	return flags
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
