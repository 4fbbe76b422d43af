package analysis

import (
	"time"

	"github.com/lox/croprisk/internal/indicators"
	"github.com/lox/croprisk/internal/models"
	"github.com/lox/croprisk/internal/phase"
	"github.com/lox/croprisk/internal/risk"
)

type Response struct {
	RequestID         string                      `json:"requestId"`
	Crop              string                      `json:"crop"`
	Phase             phase.Window                `json:"phase"`
	Period            Span                        `json:"period"`
	YearsRequested    int                         `json:"yearsRequested"`
	YearsAnalyzed     int                         `json:"yearsAnalyzed"`
	StationsUsed      []models.Station            `json:"stationsUsed"`
	StationsFailed    []StationFailure            `json:"stationsFailed,omitempty"`
	Indicators        indicators.Aggregated       `json:"indicators"`
	Years             []indicators.YearIndicators `json:"years"`
	Risks             Risks                       `json:"risks"`
	RainfallQuantiles Quantiles                   `json:"rainfallQuantiles"`
	Trends            Trends                      `json:"trends"`
	Confidence        float64                     `json:"confidence"`
	Completeness      float64                     `json:"completeness"`
	InterStationStd   *float64                    `json:"interStationStd"`
	Source            string                      `json:"source"`
	Narrative         string                      `json:"narrative,omitempty"`
}

type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type StationFailure struct {
	StationID string `json:"stationId"`
	Reason    string `json:"reason"`
}

// Risks holds the empirical probabilities; a risk is absent when its
// indicator was not computed for every analysed year.
type Risks struct {
	Heatwave    *risk.Probability `json:"heatwave,omitempty"`
	DrySpell    *risk.Probability `json:"drySpell,omitempty"`
	ExtremeHeat *risk.Probability `json:"extremeHeat,omitempty"`
	LateFrost   *risk.Probability `json:"lateFrost,omitempty"`
}

type Quantiles struct {
	P10 *float64 `json:"p10"`
	P50 *float64 `json:"p50"`
	P90 *float64 `json:"p90"`
}

type Trend struct {
	Direction   risk.Direction          `json:"direction"`
	OLS         *risk.LinearFit         `json:"ols"`
	MannKendall *risk.MannKendallResult `json:"mannKendall"`
}

type Trends struct {
	Rainfall Trend `json:"rainfall"`
	GDD      Trend `json:"gdd"`
}
