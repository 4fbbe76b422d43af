// Package catalog resolves weather stations near a coordinate.
//
// A Catalog is constructed once per process and shared by every analysis. The
// station list is loaded lazily on first use from, in order: the local store,
// the remote catalog (persisted on success), and the snapshot bundled with the
// binary (also persisted). Concurrent first callers share one load. Refresh
// replaces the list with a new remote fetch; readers always see a complete list.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/lox/croprisk/internal/geo"
	"github.com/lox/croprisk/internal/metrics"
	"github.com/lox/croprisk/internal/models"
)

// ErrNoRemote is returned by Refresh when no remote source is configured.
var ErrNoRemote = errors.New("no remote station catalog configured")

// Source supplies a full station list.
type Source interface {
	Name() string
	Stations(ctx context.Context) ([]models.Station, error)
}

// LocalStore persists the station list between runs.
type LocalStore interface {
	ListStations(ctx context.Context) ([]models.Station, error)
	ReplaceStations(ctx context.Context, stations []models.Station) error
}

type Catalog struct {
	local    LocalStore
	remote   Source
	snapshot Source
	logger   *slog.Logger

	group   singleflight.Group
	current atomic.Pointer[[]models.Station]
}

// New creates a catalog. remote may be nil, in which case loading falls through
// from the local store straight to the bundled snapshot.
func New(local LocalStore, remote Source, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		local:    local,
		remote:   remote,
		snapshot: Snapshot(),
		logger:   logger.With("component", "catalog"),
	}
}

// All returns every known station, loading the list on first use.
func (c *Catalog) All(ctx context.Context) ([]models.Station, error) {
	if list := c.current.Load(); list != nil {
		return *list, nil
	}

	ch := c.group.DoChan("load", func() (any, error) {
		if list := c.current.Load(); list != nil {
			return *list, nil
		}
		// The load outlives any single caller that gives up waiting.
		stations, err := c.load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		// A Refresh that finished while loading wins.
		if !c.publish(stations, true) {
			return *c.current.Load(), nil
		}
		return stations, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]models.Station), nil
	}
}

func (c *Catalog) load(ctx context.Context) ([]models.Station, error) {
	var errs []error

	if c.local != nil {
		stations, err := c.local.ListStations(ctx)
		if err == nil && len(stations) > 0 {
			c.logger.Info("loaded station catalog", "source", "local", "count", len(stations))
			return stations, nil
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("local: %w", err))
		}
	}

	for _, src := range []Source{c.remote, c.snapshot} {
		if src == nil {
			continue
		}
		stations, err := src.Stations(ctx)
		if err != nil {
			c.logger.Info("station source unavailable", "source", src.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		if len(stations) == 0 {
			errs = append(errs, fmt.Errorf("%s: empty station list", src.Name()))
			continue
		}
		c.persist(ctx, stations)
		c.logger.Info("loaded station catalog", "source", src.Name(), "count", len(stations))
		return stations, nil
	}

	return nil, fmt.Errorf("load station catalog: %w", errors.Join(errs...))
}

// Refresh re-fetches the remote catalog and swaps it in. On failure the current
// list is left untouched and the error is returned.
func (c *Catalog) Refresh(ctx context.Context) ([]models.Station, error) {
	if c.remote == nil {
		return nil, ErrNoRemote
	}

	v, err, _ := c.group.Do("refresh", func() (any, error) {
		stations, err := c.remote.Stations(ctx)
		if err != nil {
			return nil, fmt.Errorf("refresh from %s: %w", c.remote.Name(), err)
		}
		if len(stations) == 0 {
			return nil, fmt.Errorf("refresh from %s: empty station list", c.remote.Name())
		}
		c.persist(ctx, stations)
		c.set(stations)
		c.logger.Info("refreshed station catalog", "count", len(stations))
		return stations, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Station), nil
}

// Nearest returns up to n stations ordered by ascending distance from (lat, lon).
func (c *Catalog) Nearest(ctx context.Context, lat, lon float64, n int) ([]models.StationDistance, error) {
	if err := geo.Validate(lat, lon); err != nil {
		return nil, err
	}
	stations, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	return NearestIn(stations, lat, lon, n), nil
}

// NearestIn ranks stations by distance from (lat, lon) and keeps the first n (at least 1).
// Stations whose distance is not a finite number are left out.
func NearestIn(stations []models.Station, lat, lon float64, n int) []models.StationDistance {
	if n < 1 {
		n = 1
	}
	ranked := make([]models.StationDistance, 0, len(stations))
	for _, st := range stations {
		d := geo.DistanceKm(lat, lon, st.Latitude, st.Longitude)
		if math.IsNaN(d) || math.IsInf(d, 0) {
			continue
		}
		ranked = append(ranked, models.StationDistance{Station: st, DistanceKm: d})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].DistanceKm != ranked[j].DistanceKm {
			return ranked[i].DistanceKm < ranked[j].DistanceKm
		}
		return ranked[i].Station.ID < ranked[j].Station.ID
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func (c *Catalog) set(stations []models.Station) {
	c.publish(stations, false)
}

// publish stores a copy of stations. With onlyIfEmpty it leaves an existing
// list in place and reports false.
func (c *Catalog) publish(stations []models.Station, onlyIfEmpty bool) bool {
	list := make([]models.Station, len(stations))
	copy(list, stations)
	if onlyIfEmpty {
		if !c.current.CompareAndSwap(nil, &list) {
			return false
		}
	} else {
		c.current.Store(&list)
	}
	metrics.CatalogSize.Set(float64(len(list)))
	return true
}

func (c *Catalog) persist(ctx context.Context, stations []models.Station) {
	if c.local == nil {
		return
	}
	if err := c.local.ReplaceStations(ctx, stations); err != nil {
		c.logger.Warn("persist station catalog", "error", err)
	}
}
