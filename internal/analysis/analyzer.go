// Package analysis runs one agro-climate risk analysis end to end: station
// lookup, concurrent acquisition, fusion, phase slicing, indicators, risks
// and trends.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/lox/croprisk/internal/fusion"
	"github.com/lox/croprisk/internal/indicators"
	"github.com/lox/croprisk/internal/ingest"
	"github.com/lox/croprisk/internal/metrics"
	"github.com/lox/croprisk/internal/models"
	"github.com/lox/croprisk/internal/phase"
	"github.com/lox/croprisk/internal/risk"
)

const (
	SourceStations = "stations"
	SourceGrid     = "grid"

	DefaultStations = 3

	// Risk predicate thresholds.
	extremeHeatC       = 35
	extremeHeatMinDays = 3
	drySpellMinDays    = 10
	trendGDDBase       = 5
)

type StationFinder interface {
	Nearest(ctx context.Context, lat, lon float64, n int) ([]models.StationDistance, error)
}

type Acquirer interface {
	ObservationsFor(ctx context.Context, stationID string, start, end time.Time) ([]models.Observation, error)
	GridObservationsFor(ctx context.Context, lat, lon float64, start, end time.Time) ([]models.Observation, error)
}

type Config struct {
	Stations int
	Clock    clockwork.Clock
}

type Analyzer struct {
	finder   StationFinder
	acquirer Acquirer
	stations int
	clock    clockwork.Clock
	logger   *slog.Logger
}

func New(finder StationFinder, acquirer Acquirer, cfg Config, logger *slog.Logger) *Analyzer {
	if cfg.Stations < 1 {
		cfg.Stations = DefaultStations
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		finder:   finder,
		acquirer: acquirer,
		stations: cfg.Stations,
		clock:    cfg.Clock,
		logger:   logger.With("component", "analysis"),
	}
}

// Analyze validates req and produces the full risk response. Per-station
// failures are tolerated; the gridded provider is tried when no station
// contributes data.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Response, error) {
	resp, err := a.analyze(ctx, req)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("error", "none").Inc()
		return nil, err
	}
	metrics.AnalysesTotal.WithLabelValues("ok", resp.Source).Inc()
	return resp, nil
}

func (a *Analyzer) analyze(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	log := a.logger.With("request_id", id, "lat", req.Lat, "lon", req.Lon, "crop", req.Crop)
	start, end := Period(a.clock.Now(), req.YearsBack)

	near, err := a.finder.Nearest(ctx, req.Lat, req.Lon, a.stations)
	if err != nil {
		return nil, fmt.Errorf("find stations: %w", err)
	}
	if len(near) == 0 {
		return nil, ErrNoStationsFound
	}

	results := a.acquire(ctx, log, near, start, end)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		used     []models.Station
		failed   []StationFailure
		credFail bool
	)
	for _, r := range results {
		switch {
		case !r.OK():
			failed = append(failed, StationFailure{StationID: r.Station.ID, Reason: r.Err.Error()})
			if errors.Is(r.Err, ingest.ErrMissingCredential) {
				credFail = true
			}
		case len(r.Series) > 0:
			used = append(used, r.Station)
		}
	}

	source := SourceStations
	series := fusion.Fuse(results, req.Lat, req.Lon)
	if len(series) == 0 {
		log.Info("no station data, trying gridded provider", "stations_failed", len(failed))
		grid, gerr := a.acquirer.GridObservationsFor(ctx, req.Lat, req.Lon, start, end)
		if gerr != nil {
			log.Warn("gridded provider failed", "error", gerr)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(grid) == 0 {
			if credFail {
				return nil, fmt.Errorf("%w: %w", ErrNoObservationsAvailable, ingest.ErrMissingCredential)
			}
			if gerr != nil {
				return nil, fmt.Errorf("%w: %w", ErrNoObservationsAvailable, gerr)
			}
			return nil, ErrNoObservationsAvailable
		}
		series = grid
		source = SourceGrid
		used = []models.Station{ingest.GridStation(req.Lat, req.Lon)}
	}

	opts := indicators.DefaultOptions()
	if req.Options != nil {
		opts = req.Options.Normalize()
	}

	slices := phase.Slice(series, req.Phase)
	years := make([]indicators.YearIndicators, 0, len(slices))
	for _, s := range slices {
		years = append(years, indicators.ForSlice(s, opts))
	}

	resp := &Response{
		RequestID:      id,
		Crop:           req.Crop,
		Phase:          req.Phase,
		Period:         Span{Start: start, End: end},
		YearsRequested: req.YearsBack,
		YearsAnalyzed:  len(years),
		StationsUsed:   used,
		StationsFailed: failed,
		Indicators:     indicators.Aggregate(years),
		Years:          years,
		Risks:          risks(years, opts, req.Phase),
		Source:         source,
	}
	if resp.StationsUsed == nil {
		resp.StationsUsed = []models.Station{}
	}
	resp.RainfallQuantiles = rainfallQuantiles(years)
	resp.Trends = Trends{
		Rainfall: trendOf(years, func(y indicators.YearIndicators) (float64, bool) {
			return y.Rainfall.Total, true
		}),
		GDD: trendOf(years, func(y indicators.YearIndicators) (float64, bool) {
			v, ok := y.GDD[indicators.ThresholdKey(trendGDDBase)]
			return v, ok
		}),
	}

	if source == SourceStations {
		resp.InterStationStd = interStationStd(results, req.Phase, opts)
	}
	resp.Completeness = risk.Completeness(len(years), req.YearsBack)
	resp.Confidence = risk.ConfidenceScore(risk.ConfidenceInput{
		NYears:          len(years),
		Completeness:    resp.Completeness,
		InterStationStd: resp.InterStationStd,
	})

	log.Info("analysis complete",
		"source", source,
		"stations_used", len(used),
		"stations_failed", len(failed),
		"years", len(years),
		"confidence", resp.Confidence,
	)
	return resp, nil
}

// acquire fetches every station concurrently. Failures become failed results
// rather than aborting the others.
func (a *Analyzer) acquire(ctx context.Context, log *slog.Logger, near []models.StationDistance, start, end time.Time) []fusion.Result {
	results := make([]fusion.Result, len(near))
	var g errgroup.Group
	for i, sd := range near {
		g.Go(func() error {
			series, err := a.acquirer.ObservationsFor(ctx, sd.Station.ID, start, end)
			if err != nil {
				log.Warn("station fetch failed", "station", sd.Station.ID, "distance_km", sd.DistanceKm, "error", err)
				metrics.StationFetchFailures.WithLabelValues(failureReason(err)).Inc()
				results[i] = fusion.Failure(sd.Station, err)
				return nil
			}
			results[i] = fusion.Success(sd.Station, series)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func risks(years []indicators.YearIndicators, opts indicators.Options, w phase.Window) Risks {
	var r Risks
	if len(years) == 0 {
		return r
	}
	collect := func(f func(indicators.YearIndicators) (float64, bool)) ([]float64, bool) {
		out := make([]float64, 0, len(years))
		for _, y := range years {
			v, ok := f(y)
			if !ok {
				return nil, false
			}
			out = append(out, v)
		}
		return out, true
	}

	if key, ok := heatwaveKey(opts, extremeHeatC); ok {
		if vals, ok := collect(func(y indicators.YearIndicators) (float64, bool) {
			s, ok := y.Heatwaves[key]
			return float64(s.Events), ok
		}); ok {
			p := risk.EmpiricalProbability(vals, func(v float64) bool { return v > 0 })
			r.Heatwave = &p
		}
	}

	if vals, ok := collect(func(y indicators.YearIndicators) (float64, bool) {
		return float64(y.Rainfall.MaxDrySpell), true
	}); ok {
		p := risk.EmpiricalProbability(vals, func(v float64) bool { return v >= drySpellMinDays })
		r.DrySpell = &p
	}

	heatKey := indicators.ThresholdKey(extremeHeatC)
	if vals, ok := collect(func(y indicators.YearIndicators) (float64, bool) {
		n, ok := y.HeatDays[heatKey]
		return float64(n), ok
	}); ok {
		p := risk.EmpiricalProbability(vals, func(v float64) bool { return v >= extremeHeatMinDays })
		r.ExtremeHeat = &p
	}

	// A year without any spring freeze counts as a year without late frost.
	if vals, ok := collect(func(y indicators.YearIndicators) (float64, bool) {
		if y.LastSpringFreezeDoy == nil {
			return 0, true
		}
		return float64(*y.LastSpringFreezeDoy), true
	}); ok {
		p := risk.EmpiricalProbability(vals, func(v float64) bool { return v > float64(w.Start) })
		r.LateFrost = &p
	}
	return r
}

func heatwaveKey(opts indicators.Options, threshold float64) (string, bool) {
	for _, h := range opts.Heatwaves {
		if h.Threshold == threshold {
			return h.Key(), true
		}
	}
	return "", false
}

func rainfallQuantiles(years []indicators.YearIndicators) Quantiles {
	totals := make([]float64, len(years))
	for i, y := range years {
		totals[i] = y.Rainfall.Total
	}
	var q Quantiles
	for _, t := range []struct {
		p   float64
		dst **float64
	}{{0.10, &q.P10}, {0.50, &q.P50}, {0.90, &q.P90}} {
		if v, err := risk.Quantile(totals, t.p); err == nil && v != nil {
			r := risk.Round2(*v)
			*t.dst = &r
		}
	}
	return q
}

func trendOf(years []indicators.YearIndicators, value func(indicators.YearIndicators) (float64, bool)) Trend {
	var xs, ys []float64
	for _, y := range years {
		v, ok := value(y)
		if !ok {
			continue
		}
		xs = append(xs, float64(y.Year))
		ys = append(ys, v)
	}
	t := Trend{OLS: risk.LinearTrend(xs, ys), MannKendall: risk.MannKendall(ys)}
	var slope *float64
	if t.OLS != nil {
		slope = &t.OLS.Slope
	}
	t.Direction = risk.TrendDirection(slope, risk.DefaultTolerance)
	return t
}

// interStationStd is the spread of each contributing station's mean
// phase-window rainfall total. Stations are not distance weighted.
func interStationStd(results []fusion.Result, w phase.Window, opts indicators.Options) *float64 {
	var totals []float64
	for _, r := range results {
		if !r.OK() || len(r.Series) == 0 {
			continue
		}
		slices := phase.Slice(r.Series, w)
		if len(slices) == 0 {
			continue
		}
		var sum float64
		for _, s := range slices {
			sum += indicators.ForSlice(s, opts).Rainfall.Total
		}
		totals = append(totals, sum/float64(len(slices)))
	}
	return risk.InterStationStd(totals)
}
