package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/croprisk/internal/cache"
	"github.com/lox/croprisk/internal/models"
	"github.com/lox/croprisk/internal/store"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MinInterval: 0, MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestValidateObservation(t *testing.T) {
	tests := []struct {
		name      string
		obs       *models.Observation
		wantFlags []string
	}{
		{
			name: "valid observation - no flags",
			obs: &models.Observation{
				TempMean: models.Float(18),
				TempMin:  models.Float(9),
				TempMax:  models.Float(26),
				Humidity: models.Float(60),
				WindMean: models.Float(4),
				WindGust: models.Float(12),
				Pressure: models.Float(1013),
				Rain:     models.Float(0),
			},
			wantFlags: nil,
		},
		{
			name:      "temp too hot",
			obs:       &models.Observation{TempMax: models.Float(65)},
			wantFlags: []string{FlagTempOutOfRange},
		},
		{
			name:      "temp at cold boundary - valid",
			obs:       &models.Observation{TempMin: models.Float(-70)},
			wantFlags: nil,
		},
		{
			name:      "min above max",
			obs:       &models.Observation{TempMin: models.Float(20), TempMax: models.Float(10)},
			wantFlags: []string{FlagTempInverted},
		},
		{
			name:      "humidity over 100",
			obs:       &models.Observation{Humidity: models.Float(105)},
			wantFlags: []string{FlagHumidityInvalid},
		},
		{
			name:      "negative gust",
			obs:       &models.Observation{WindGust: models.Float(-1)},
			wantFlags: []string{FlagWindSpeedUnlikely},
		},
		{
			name:      "pressure too low",
			obs:       &models.Observation{Pressure: models.Float(700)},
			wantFlags: []string{FlagPressureOutOfRange},
		},
		{
			name:      "negative rain",
			obs:       &models.Observation{Rain24: models.Float(-0.2)},
			wantFlags: []string{FlagPrecipInvalid},
		},
		{
			name: "multiple issues",
			obs: &models.Observation{
				TempMean: models.Float(80),
				Humidity: models.Float(-3),
				Pressure: models.Float(1200),
			},
			wantFlags: []string{FlagTempOutOfRange, FlagHumidityInvalid, FlagPressureOutOfRange},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateObservation(tt.obs)
			sort.Strings(got)
			want := append([]string(nil), tt.wantFlags...)
			sort.Strings(want)
			assert.Equal(t, want, got)
		})
	}
}

func TestSanitize_NullsOnlyFlaggedFields(t *testing.T) {
	obs := models.Observation{
		TempMean: models.Float(18),
		TempMax:  models.Float(99),
		Humidity: models.Float(140),
		Rain:     models.Float(3.2),
	}
	flags := Sanitize(&obs)
	assert.Len(t, flags, 2)
	assert.False(t, obs.TempMax.Valid)
	assert.False(t, obs.Humidity.Valid)
	assert.True(t, obs.TempMean.Valid)
	assert.Equal(t, 3.2, obs.Rain.Float64)
}

func TestQualityFlagsToJSON(t *testing.T) {
	assert.Equal(t, "", QualityFlagsToJSON(nil))
	assert.Equal(t, `["humidity_invalid"]`, QualityFlagsToJSON([]string{FlagHumidityInvalid}))
}

func TestParseDailyResponse(t *testing.T) {
	body := []byte(`{"meta":{},"data":[
		{"date":"2021-07-01","tavg":24.1,"tmin":15.0,"tmax":33.2,"prcp":0.0,"wspd":18.0,"wpgt":36.0,"rhum":null,"pres":1015.2},
		{"date":"2021-07-02 00:00:00","tavg":null,"tmin":16.0,"tmax":35.5,"prcp":null,"prcp24":2.5,"wspd":null,"wpgt":null},
		{"date":"not-a-date","tavg":1}
	]}`)

	obs, err := ParseDailyResponse(body)
	require.NoError(t, err)
	require.Len(t, obs, 2)

	first := obs[0]
	assert.Equal(t, time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC), first.ObservedAt)
	assert.Equal(t, 24.1, first.TempMean.Float64)
	assert.InDelta(t, 5.0, first.WindMean.Float64, 1e-9)
	assert.InDelta(t, 10.0, first.WindGust.Float64, 1e-9)
	assert.False(t, first.Humidity.Valid)
	assert.True(t, first.Rain.Valid)

	second := obs[1]
	assert.False(t, second.TempMean.Valid)
	assert.False(t, second.Rain.Valid)
	assert.Equal(t, 2.5, second.Rainfall())
	avg, ok := second.AvgTemp()
	assert.True(t, ok)
	assert.InDelta(t, 25.75, avg, 1e-9)
}

func TestParseDailyResponse_Invalid(t *testing.T) {
	_, err := ParseDailyResponse([]byte(`{`))
	assert.Error(t, err)
}

func TestParseGridResponse(t *testing.T) {
	body := []byte(`{"latitude":40.4,"longitude":-3.7,"daily":{
		"time":["2020-01-01","2020-01-02"],
		"temperature_2m_mean":[5.1,null],
		"temperature_2m_min":[-1.2,0.5],
		"temperature_2m_max":[10.0,11.5],
		"precipitation_sum":[0.0,4.2],
		"wind_speed_10m_mean":[3.1,2.0],
		"wind_gusts_10m_max":[9.5],
		"relative_humidity_2m_mean":[80,75],
		"pressure_msl_mean":[1020.1,1018.0]
	}}`)

	obs, err := ParseGridResponse(body)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, -1.2, obs[0].TempMin.Float64)
	assert.False(t, obs[1].TempMean.Valid)
	assert.Equal(t, 4.2, obs[1].Rain.Float64)
	assert.Equal(t, 9.5, obs[0].WindGust.Float64)
	assert.False(t, obs[1].WindGust.Valid, "short column reads as null")
}

func TestStationClient_MissingCredential(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewStationClient(srv.URL, "", fastPolicy())
	_, err := c.Fetch(context.Background(), "08221", time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Equal(t, int32(0), calls.Load())
}

func TestStationClient_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "secret", r.Header.Get("x-rapidapi-key"))
		assert.Equal(t, "/stations/daily", r.URL.Path)
		assert.Equal(t, "08221", r.URL.Query().Get("station"))
		assert.Equal(t, "2020-01-01", r.URL.Query().Get("start"))
		assert.Equal(t, "2020-12-31", r.URL.Query().Get("end"))
		w.Write([]byte(`{"data":[{"date":"2020-01-01","tmax":12.5}]}`))
	}))
	defer srv.Close()

	c := NewStationClient(srv.URL, "secret", fastPolicy())
	obs, err := c.Fetch(context.Background(), "08221",
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 12, 31, 23, 59, 59, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestStationClient_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	st := newTestStore(t)
	c := NewStationClient(srv.URL, "secret", fastPolicy(), WithAuditor(st))
	_, err := c.Fetch(context.Background(), "08221", time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, int32(3), calls.Load())

	runs, err := st.GetRecentFetchErrors(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "stations", runs[0].Provider)
	assert.Equal(t, int64(429), runs[0].HTTPStatus.Int64)
	assert.Equal(t, int64(3), runs[0].Attempts.Int64)
}

func TestStationClient_ClientErrorRetriedUntilExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	policy := fastPolicy()
	c := NewStationClient(srv.URL, "secret", policy)
	_, err := c.Fetch(context.Background(), "S", time.Now(), time.Now())
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, int32(policy.MaxAttempts), calls.Load())

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
}

func TestStationClient_MinimumInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	policy := fastPolicy()
	policy.MinInterval = 40 * time.Millisecond
	c := NewStationClient(srv.URL, "secret", policy)

	started := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), "S", time.Now(), time.Now())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(started), 80*time.Millisecond)
}

func TestGridClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/archive", r.URL.Path)
		assert.Equal(t, "40.4000", q.Get("latitude"))
		assert.Equal(t, "ms", q.Get("wind_speed_unit"))
		assert.Contains(t, q.Get("daily"), "precipitation_sum")
		w.Write([]byte(`{"daily":{"time":["2020-01-01"],"precipitation_sum":[1.5]}}`))
	}))
	defer srv.Close()

	g := NewGridClient(srv.URL, fastPolicy())
	obs, err := g.Fetch(context.Background(), 40.4, -3.7,
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, 1.5, obs[0].Rain.Float64)
}

type fakeStations struct {
	calls  atomic.Int32
	series []models.Observation
	err    error
	hook   func(ctx context.Context)
}

func (f *fakeStations) Fetch(ctx context.Context, stationID string, start, end time.Time) ([]models.Observation, error) {
	f.calls.Add(1)
	if f.hook != nil {
		f.hook(ctx)
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Observation, len(f.series))
	copy(out, f.series)
	return out, nil
}

type fakeGrid struct {
	calls  atomic.Int32
	series []models.Observation
}

func (f *fakeGrid) Fetch(ctx context.Context, lat, lon float64, start, end time.Time) ([]models.Observation, error) {
	f.calls.Add(1)
	return f.series, nil
}

func daily(start time.Time, temps ...float64) []models.Observation {
	out := make([]models.Observation, len(temps))
	for i, v := range temps {
		out[i] = models.Observation{ObservedAt: start.AddDate(0, 0, i), TempMax: models.Float(v)}
	}
	return out
}

var (
	rangeStart = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	rangeEnd   = time.Date(2021, 1, 5, 23, 59, 59, 0, time.UTC)
)

func TestPipeline_FetchesThenServesFromCache(t *testing.T) {
	st := newTestStore(t)
	upstream := &fakeStations{series: daily(rangeStart.AddDate(0, 0, -1), 1, 2, 3, 4, 5, 6, 7)}
	p := NewPipeline(cache.New(st, time.Hour), st, upstream, nil, nil)
	ctx := context.Background()

	got, err := p.ObservationsFor(ctx, "S1", rangeStart, rangeEnd)
	require.NoError(t, err)
	require.Len(t, got, 5, "out-of-range records are filtered")
	assert.Equal(t, 2.0, got[0].TempMax.Float64)

	again, err := p.ObservationsFor(ctx, "S1", rangeStart, rangeEnd)
	require.NoError(t, err)
	assert.Len(t, again, 5)
	assert.Equal(t, int32(1), upstream.calls.Load())

	persisted, err := st.GetObservations(ctx, "S1", rangeStart.AddDate(0, 0, -1), rangeEnd.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Len(t, persisted, 7, "everything fetched is kept in history")
}

func TestPipeline_CoveredHistorySkipsUpstream(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.UpsertObservations(ctx, "S1", daily(rangeStart, 10, 11, 12, 13, 14))
	require.NoError(t, err)

	upstream := &fakeStations{err: errors.New("should not be called")}
	p := NewPipeline(cache.New(st, time.Hour), st, upstream, nil, nil)

	got, err := p.ObservationsFor(ctx, "S1", rangeStart, rangeEnd)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, int32(0), upstream.calls.Load())
}

func TestPipeline_PartialHistoryMergesLastWriteWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.UpsertObservations(ctx, "S1", []models.Observation{
		{ObservedAt: rangeStart, TempMax: models.Float(99), Humidity: models.Float(50)},
	})
	require.NoError(t, err)

	upstream := &fakeStations{series: daily(rangeStart, 10, 11, 12)}
	p := NewPipeline(cache.New(st, time.Hour), st, upstream, nil, nil)

	got, err := p.ObservationsFor(ctx, "S1", rangeStart, rangeEnd)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 10.0, got[0].TempMax.Float64)
	assert.False(t, got[0].Humidity.Valid)
	assert.Equal(t, int32(1), upstream.calls.Load())
}

func TestPipeline_ErrorLeavesNoCacheEntry(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	upstream := &fakeStations{err: ErrMissingCredential}
	p := NewPipeline(cache.New(st, time.Hour), st, upstream, nil, nil)

	_, err := p.ObservationsFor(ctx, "S1", rangeStart, rangeEnd)
	assert.ErrorIs(t, err, ErrMissingCredential)

	entry, err := st.GetCacheEntry(ctx, cache.Key("S1", rangeStart, rangeEnd))
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestPipeline_CancelledDuringFetchWritesNothing(t *testing.T) {
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	upstream := &fakeStations{
		series: daily(rangeStart, 1, 2, 3),
		hook:   func(context.Context) { cancel() },
	}
	p := NewPipeline(cache.New(st, time.Hour), st, upstream, nil, nil)

	_, err := p.ObservationsFor(ctx, "S1", rangeStart, rangeEnd)
	assert.ErrorIs(t, err, context.Canceled)

	bg := context.Background()
	entry, err := st.GetCacheEntry(bg, cache.Key("S1", rangeStart, rangeEnd))
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestPipeline_GridObservationsCached(t *testing.T) {
	st := newTestStore(t)
	grid := &fakeGrid{series: daily(rangeStart, 5, 6)}
	p := NewPipeline(cache.New(st, time.Hour), st, &fakeStations{}, grid, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := p.GridObservationsFor(ctx, 40.4, -3.7, rangeStart, rangeEnd)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	}
	assert.Equal(t, int32(1), grid.calls.Load())
}

func TestMerge(t *testing.T) {
	a := daily(rangeStart, 1, 2, 3)
	b := []models.Observation{
		{ObservedAt: rangeStart.AddDate(0, 0, 1), TempMax: models.Float(20)},
		{ObservedAt: rangeStart.AddDate(0, 0, -1), TempMax: models.Float(0)},
	}
	got := Merge(a, b)
	require.Len(t, got, 4)
	assert.Equal(t, rangeStart.AddDate(0, 0, -1), got[0].ObservedAt)
	assert.Equal(t, 20.0, got[2].TempMax.Float64)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].ObservedAt.Before(got[i].ObservedAt))
	}
}

func TestCovers(t *testing.T) {
	assert.False(t, covers(nil, rangeStart, rangeEnd))
	assert.True(t, covers(daily(rangeStart, 1, 2, 3, 4, 5), rangeStart, rangeEnd))
	assert.False(t, covers(daily(rangeStart, 1, 2, 3, 4), rangeStart, rangeEnd))
	assert.False(t, covers(daily(rangeStart.AddDate(0, 0, 1), 1, 2, 3, 4), rangeStart, rangeEnd))
}
