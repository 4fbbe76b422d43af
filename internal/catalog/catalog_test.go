package catalog

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/croprisk/internal/geo"
	"github.com/lox/croprisk/internal/models"
	"github.com/lox/croprisk/internal/store"
)

type fakeSource struct {
	name     string
	stations []models.Station
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Stations(ctx context.Context) ([]models.Station, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.stations, f.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func remoteStations() []models.Station {
	return []models.Station{
		{ID: "R1", Name: "Near", Latitude: 40.0, Longitude: -3.0},
		{ID: "R2", Name: "Middle", Latitude: 40.5, Longitude: -3.0},
		{ID: "R3", Name: "Far", Latitude: 42.0, Longitude: -3.0},
	}
}

func TestNearest_SortedAndTruncated(t *testing.T) {
	remote := &fakeSource{name: "remote", stations: remoteStations()}
	c := New(newTestStore(t), remote, nil)

	got, err := c.Nearest(context.Background(), 40.01, -3.0, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "R1", got[0].Station.ID)
	assert.Equal(t, "R2", got[1].Station.ID)
	assert.LessOrEqual(t, got[0].DistanceKm, got[1].DistanceKm)
}

func TestNearest_MinimumOne(t *testing.T) {
	c := New(nil, &fakeSource{name: "remote", stations: remoteStations()}, nil)
	got, err := c.Nearest(context.Background(), 42.0, -3.0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "R3", got[0].Station.ID)
}

func TestNearest_InvalidCoordinates(t *testing.T) {
	c := New(nil, &fakeSource{name: "remote", stations: remoteStations()}, nil)
	_, err := c.Nearest(context.Background(), math.NaN(), 0, 3)
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinates)
}

func TestAll_PrefersLocalStore(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.ReplaceStations(ctx, []models.Station{{ID: "LOCAL", Name: "Local", Latitude: 1, Longitude: 1}}))

	remote := &fakeSource{name: "remote", stations: remoteStations()}
	c := New(st, remote, nil)

	got, err := c.All(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "LOCAL", got[0].ID)
	assert.Equal(t, int32(0), remote.calls.Load())
}

func TestAll_RemotePersisted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := New(st, &fakeSource{name: "remote", stations: remoteStations()}, nil)

	got, err := c.All(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	persisted, err := st.ListStations(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted, 3)
}

func TestAll_FallsBackToSnapshot(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := New(st, &fakeSource{name: "remote", err: errors.New("connection refused")}, nil)

	got, err := c.All(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	persisted, err := st.ListStations(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted, len(got))
}

func TestAll_ConcurrentCallersShareLoad(t *testing.T) {
	remote := &fakeSource{name: "remote", stations: remoteStations(), delay: 50 * time.Millisecond}
	c := New(nil, remote, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.All(context.Background())
			assert.NoError(t, err)
			assert.Len(t, got, 3)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), remote.calls.Load())
}

func TestRefresh_FailureKeepsPreviousList(t *testing.T) {
	remote := &fakeSource{name: "remote", stations: remoteStations()}
	c := New(nil, remote, nil)
	ctx := context.Background()

	_, err := c.All(ctx)
	require.NoError(t, err)

	remote.err = errors.New("timeout")
	_, err = c.Refresh(ctx)
	require.Error(t, err)

	got, err := c.All(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestRefresh_ReplacesList(t *testing.T) {
	remote := &fakeSource{name: "remote", stations: remoteStations()}
	st := newTestStore(t)
	c := New(st, remote, nil)
	ctx := context.Background()

	_, err := c.All(ctx)
	require.NoError(t, err)

	remote.stations = remoteStations()[:1]
	got, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	all, err := c.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	persisted, err := st.ListStations(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

func TestRefresh_NoRemote(t *testing.T) {
	c := New(nil, nil, nil)
	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoRemote)
}

func TestParseStationsCSV(t *testing.T) {
	csv := `id,name,city,lat,lon,altitude,type
08221,Madrid / Barajas,Madrid,40.4667,-3.5556,609,synop
BAD,Broken,,north,-3,,
08181,"Barcelona, Aeropuerto",,41.2928,2.0697,,auto
08190,Sabadell &amp; <i>Terrassa</i>,,41.5236,2.1000,,auto
NAN,Nowhere,,NaN,0,,auto
INF,Infinity,,0,+Inf,,auto
NORTH,Beyond the pole,,95,0,,auto
WEST,Off the map,,0,-181,,auto
`
	got, err := ParseStationsCSV(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "08221", got[0].ID)
	require.NotNil(t, got[0].Altitude)
	assert.Equal(t, 609.0, *got[0].Altitude)
	assert.Equal(t, "Barcelona, Aeropuerto", got[1].Name)
	assert.Nil(t, got[1].Altitude)
	assert.Equal(t, "auto", got[1].Type)
	assert.Equal(t, "Sabadell & Terrassa", got[2].Name)
}

func TestParseStationsCSV_MissingColumn(t *testing.T) {
	_, err := ParseStationsCSV(strings.NewReader("id,name,lat\n1,a,2\n"))
	assert.Error(t, err)
}

func TestSnapshot_Decodes(t *testing.T) {
	got, err := Snapshot().Stations(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, st := range got {
		assert.NotEmpty(t, st.ID)
		assert.NoError(t, geo.Validate(st.Latitude, st.Longitude))
	}
}

func TestNearestIn_SkipsNonFiniteDistances(t *testing.T) {
	stations := []models.Station{
		{ID: "A", Latitude: 10, Longitude: 10},
		{ID: "B", Latitude: math.NaN(), Longitude: 0},
		{ID: "C", Latitude: 0.5, Longitude: 0},
		{ID: "D", Latitude: 5, Longitude: 5},
	}
	got := NearestIn(stations, 0, 0, 4)
	require.Len(t, got, 3)
	assert.Equal(t, "C", got[0].Station.ID)
	assert.Equal(t, "D", got[1].Station.ID)
	assert.Equal(t, "A", got[2].Station.ID)
}

type blockingStore struct {
	stations []models.Station
	entered  chan struct{}
	release  chan struct{}
}

func (b *blockingStore) ListStations(ctx context.Context) ([]models.Station, error) {
	close(b.entered)
	<-b.release
	return b.stations, nil
}

func (b *blockingStore) ReplaceStations(ctx context.Context, stations []models.Station) error {
	return nil
}

func TestAll_RefreshDuringLoadWins(t *testing.T) {
	local := &blockingStore{
		stations: []models.Station{{ID: "STALE", Latitude: 1, Longitude: 1}},
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	c := New(local, &fakeSource{name: "remote", stations: remoteStations()}, nil)
	ctx := context.Background()

	type result struct {
		stations []models.Station
		err      error
	}
	done := make(chan result, 1)
	go func() {
		got, err := c.All(ctx)
		done <- result{got, err}
	}()

	<-local.entered
	refreshed, err := c.Refresh(ctx)
	require.NoError(t, err)
	close(local.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, refreshed, res.stations)

	got, err := c.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, refreshed, got)
}
