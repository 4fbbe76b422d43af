package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/croprisk/internal/geo"
	"github.com/lox/croprisk/internal/ingest"
	"github.com/lox/croprisk/internal/models"
	"github.com/lox/croprisk/internal/phase"
)

type fakeFinder struct {
	near []models.StationDistance
	err  error
}

func (f fakeFinder) Nearest(ctx context.Context, lat, lon float64, n int) ([]models.StationDistance, error) {
	if f.err != nil {
		return nil, f.err
	}
	if n < len(f.near) {
		return f.near[:n], nil
	}
	return f.near, nil
}

type fakeAcquirer struct {
	mu        sync.Mutex
	series    map[string][]models.Observation
	errs      map[string]error
	grid      []models.Observation
	gridErr   error
	gridCalls int
	calls     []string
}

func (f *fakeAcquirer) ObservationsFor(ctx context.Context, stationID string, start, end time.Time) ([]models.Observation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, stationID)
	f.mu.Unlock()
	if err := f.errs[stationID]; err != nil {
		return nil, err
	}
	return f.series[stationID], nil
}

func (f *fakeAcquirer) GridObservationsFor(ctx context.Context, lat, lon float64, start, end time.Time) ([]models.Observation, error) {
	f.mu.Lock()
	f.gridCalls++
	f.mu.Unlock()
	return f.grid, f.gridErr
}

func station(id string, lat, lon, dist float64) models.StationDistance {
	return models.StationDistance{
		Station:    models.Station{ID: id, Name: id, Latitude: lat, Longitude: lon},
		DistanceKm: dist,
	}
}

// dailySeries produces one observation per day between from and to. Every
// fifth day is wet.
func dailySeries(from, to time.Time, tmax, rain float64) []models.Observation {
	var out []models.Observation
	for d, i := from, 0; !d.After(to); d, i = d.AddDate(0, 0, 1), i+1 {
		o := models.Observation{
			ObservedAt: d,
			TempMin:    models.Float(6),
			TempMax:    models.Float(tmax),
		}
		if i%5 == 0 {
			o.Rain = models.Float(rain)
		} else {
			o.Rain = models.Float(0)
		}
		out = append(out, o)
	}
	return out
}

var (
	testNow   = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	testStart = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	testEnd   = time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
)

func newTestAnalyzer(finder StationFinder, acq Acquirer) *Analyzer {
	return New(finder, acq, Config{Stations: 3, Clock: clockwork.NewFakeClockAt(testNow)}, nil)
}

func validRequest() Request {
	return Request{Lat: 41.39, Lon: 2.17, Crop: "wheat", Phase: phase.Window{Start: 91, End: 180}}
}

func threeStations() fakeFinder {
	return fakeFinder{near: []models.StationDistance{
		station("08181", 41.29, 2.07, 14),
		station("08180", 41.42, 2.12, 5),
		station("08186", 41.50, 2.30, 17),
	}}
}

func TestAnalyze_OneOfThreeStationsMissingCredential(t *testing.T) {
	acq := &fakeAcquirer{
		series: map[string][]models.Observation{
			"08180": dailySeries(testStart, testEnd, 26, 4),
			"08186": dailySeries(testStart, testEnd, 28, 6),
		},
		errs: map[string]error{"08181": ingest.ErrMissingCredential},
	}
	a := newTestAnalyzer(threeStations(), acq)

	resp, err := a.Analyze(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, SourceStations, resp.Source)
	assert.Equal(t, 5, resp.YearsAnalyzed)
	assert.Equal(t, 5, resp.YearsRequested)
	assert.Equal(t, 1.0, resp.Completeness)
	assert.NotEmpty(t, resp.RequestID)
	assert.Len(t, resp.StationsUsed, 2)
	require.Len(t, resp.StationsFailed, 1)
	assert.Equal(t, "08181", resp.StationsFailed[0].StationID)
	assert.Zero(t, acq.gridCalls)

	require.NotEmpty(t, resp.Indicators)
	gdd := resp.Indicators["gdd.5"]
	require.NotNil(t, gdd.Mean)
	assert.Equal(t, 5, gdd.N)
	assert.Greater(t, *gdd.Mean, 0.0)

	require.NotNil(t, resp.Risks.DrySpell)
	assert.Equal(t, 0.0, *resp.Risks.DrySpell.Probability)
	require.NotNil(t, resp.Risks.Heatwave)
	assert.Equal(t, 0.0, *resp.Risks.Heatwave.Probability)
	require.NotNil(t, resp.Risks.LateFrost)
	assert.Equal(t, 0.0, *resp.Risks.LateFrost.Probability)

	require.NotNil(t, resp.RainfallQuantiles.P50)
	require.NotNil(t, resp.InterStationStd)
	assert.Greater(t, *resp.InterStationStd, 0.0)
	assert.GreaterOrEqual(t, resp.Confidence, 0.0)
	assert.LessOrEqual(t, resp.Confidence, 1.0)
	assert.Equal(t, time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), resp.Period.Start)
	assert.Equal(t, 2023, resp.Period.End.Year())
	assert.Len(t, resp.Years, 5)
}

func TestAnalyze_GridFallback(t *testing.T) {
	acq := &fakeAcquirer{
		errs: map[string]error{
			"08181": fmt.Errorf("fetch: %w", ingest.ErrUpstreamUnavailable),
			"08180": fmt.Errorf("fetch: %w", ingest.ErrUpstreamUnavailable),
			"08186": fmt.Errorf("fetch: %w", ingest.ErrUpstreamUnavailable),
		},
		grid: dailySeries(testStart, testEnd, 36, 1),
	}
	a := newTestAnalyzer(threeStations(), acq)

	resp, err := a.Analyze(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, SourceGrid, resp.Source)
	assert.Equal(t, 1, acq.gridCalls)
	require.Len(t, resp.StationsUsed, 1)
	assert.Equal(t, ingest.GridStationID, resp.StationsUsed[0].ID)
	assert.Len(t, resp.StationsFailed, 3)
	assert.Nil(t, resp.InterStationStd)

	require.NotNil(t, resp.Risks.Heatwave)
	assert.Equal(t, 1.0, *resp.Risks.Heatwave.Probability)
	require.NotNil(t, resp.Risks.ExtremeHeat)
	assert.Equal(t, 1.0, *resp.Risks.ExtremeHeat.Probability)
}

func TestAnalyze_NoObservationsMissingCredential(t *testing.T) {
	acq := &fakeAcquirer{errs: map[string]error{
		"08181": ingest.ErrMissingCredential,
		"08180": ingest.ErrMissingCredential,
		"08186": ingest.ErrMissingCredential,
	}}
	a := newTestAnalyzer(threeStations(), acq)

	_, err := a.Analyze(context.Background(), validRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoObservationsAvailable)
	assert.ErrorIs(t, err, ingest.ErrMissingCredential)
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(err))
	assert.Contains(t, Message(err), "API key")
	assert.Equal(t, 1, acq.gridCalls)
}

func TestAnalyze_NoObservationsGeneric(t *testing.T) {
	acq := &fakeAcquirer{gridErr: errors.New("grid down")}
	a := newTestAnalyzer(threeStations(), acq)

	_, err := a.Analyze(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrNoObservationsAvailable)
	assert.NotErrorIs(t, err, ingest.ErrMissingCredential)
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(err))
	assert.NotContains(t, Message(err), "API key")
}

func TestAnalyze_NoStations(t *testing.T) {
	a := newTestAnalyzer(fakeFinder{}, &fakeAcquirer{})
	_, err := a.Analyze(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrNoStationsFound)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
}

func TestAnalyze_InvalidRequest(t *testing.T) {
	a := newTestAnalyzer(threeStations(), &fakeAcquirer{})
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"lat out of range", func(r *Request) { r.Lat = 91 }},
		{"lon out of range", func(r *Request) { r.Lon = -181 }},
		{"empty crop", func(r *Request) { r.Crop = "  " }},
		{"phase start zero", func(r *Request) { r.Phase.Start = 0 }},
		{"phase end too large", func(r *Request) { r.Phase.End = 367 }},
		{"years too many", func(r *Request) { r.YearsBack = 51 }},
		{"years negative", func(r *Request) { r.YearsBack = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := a.Analyze(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Equal(t, http.StatusBadRequest, StatusOf(err))
		})
	}
}

func TestAnalyze_WrappingPhase(t *testing.T) {
	acq := &fakeAcquirer{series: map[string][]models.Observation{
		"08180": dailySeries(testStart, testEnd, 12, 3),
	}}
	a := newTestAnalyzer(fakeFinder{near: []models.StationDistance{station("08180", 41.42, 2.12, 5)}}, acq)
	req := validRequest()
	req.Phase = phase.Window{Start: 300, End: 60}

	resp, err := a.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 5, resp.YearsAnalyzed)
	assert.Nil(t, resp.InterStationStd, "one station has no spread")
}

func TestAnalyze_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	acq := &fakeAcquirer{series: map[string][]models.Observation{
		"08180": dailySeries(testStart, testEnd, 20, 1),
	}}
	a := newTestAnalyzer(threeStations(), acq)

	_, err := a.Analyze(ctx, validRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequest_DefaultYearsBack(t *testing.T) {
	req := validRequest()
	require.NoError(t, req.Validate())
	assert.Equal(t, DefaultYearsBack, req.YearsBack)
}

func TestPeriod(t *testing.T) {
	start, end := Period(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), 3)
	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC), end)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusOf(nil))
	assert.Equal(t, http.StatusBadRequest, StatusOf(fmt.Errorf("x: %w", geo.ErrInvalidCoordinates)))
	assert.Equal(t, http.StatusBadRequest, StatusOf(phase.ErrInvalidWindow))
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(ingest.ErrUpstreamUnavailable))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
}
