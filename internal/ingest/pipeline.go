package ingest

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/lox/croprisk/internal/cache"
	"github.com/lox/croprisk/internal/metrics"
	"github.com/lox/croprisk/internal/models"
)

// History is the locally persisted observation record per station.
type History interface {
	GetObservations(ctx context.Context, stationID string, start, end time.Time) ([]models.Observation, error)
	UpsertObservations(ctx context.Context, stationID string, observations []models.Observation) (int, error)
}

// StationFetcher fetches a station's series from upstream.
type StationFetcher interface {
	Fetch(ctx context.Context, stationID string, start, end time.Time) ([]models.Observation, error)
}

// GridFetcher fetches a gridded series for a coordinate.
type GridFetcher interface {
	Fetch(ctx context.Context, lat, lon float64, start, end time.Time) ([]models.Observation, error)
}

// Pipeline acquires observation series: cache, then local history, then upstream.
type Pipeline struct {
	cache    *cache.Cache
	history  History
	stations StationFetcher
	grid     GridFetcher
	logger   *slog.Logger
}

func NewPipeline(c *cache.Cache, history History, stations StationFetcher, grid GridFetcher, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cache:    c,
		history:  history,
		stations: stations,
		grid:     grid,
		logger:   logger.With("component", "ingest"),
	}
}

// ObservationsFor returns the station's observations within [start, end],
// ascending and one per timestamp. The result may be empty.
//
// Upstream is consulted only when persisted history does not span the whole
// range at day granularity. Nothing is cached unless the full sequence
// succeeded, so a cancelled call leaves no partial entry behind.
func (p *Pipeline) ObservationsFor(ctx context.Context, stationID string, start, end time.Time) ([]models.Observation, error) {
	key := cache.Key(stationID, start, end)
	var cached []models.Observation
	if p.cache.Get(ctx, key, &cached) && len(cached) > 0 {
		return cached, nil
	}

	persisted, err := p.history.GetObservations(ctx, stationID, start, end)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("read persisted history", "station", stationID, "error", err)
		persisted = nil
	}

	merged := persisted
	if !covers(persisted, start, end) {
		fetched, err := p.stations.Fetch(ctx, stationID, start, end)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.sanitize(stationID, fetched)
		merged = Merge(persisted, fetched)

		n, err := p.history.UpsertObservations(ctx, stationID, fetched)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("persist history", "station", stationID, "error", err)
		} else if n > 0 {
			metrics.ObservationsPersisted.WithLabelValues(stationID).Add(float64(n))
		}
	}

	result := FilterRange(merged, start, end)
	p.store(ctx, key, result)
	return result, nil
}

// GridObservationsFor returns the gridded series for a coordinate within
// [start, end]. Grid series are cached but not kept in station history.
func (p *Pipeline) GridObservationsFor(ctx context.Context, lat, lon float64, start, end time.Time) ([]models.Observation, error) {
	key := cache.Key(GridEntityID(lat, lon), start, end)
	var cached []models.Observation
	if p.cache.Get(ctx, key, &cached) && len(cached) > 0 {
		return cached, nil
	}

	fetched, err := p.grid.Fetch(ctx, lat, lon, start, end)
	if err != nil {
		return nil, err
	}
	p.sanitize(GridStationID, fetched)

	result := FilterRange(Merge(nil, fetched), start, end)
	p.store(ctx, key, result)
	return result, nil
}

func (p *Pipeline) store(ctx context.Context, key string, series []models.Observation) {
	if len(series) == 0 || ctx.Err() != nil {
		return
	}
	if err := p.cache.Put(ctx, key, series); err != nil {
		p.logger.Warn("write cache", "error", err)
	}
}

func (p *Pipeline) sanitize(stationID string, obs []models.Observation) {
	flagged := 0
	var last []string
	for i := range obs {
		if flags := Sanitize(&obs[i]); len(flags) > 0 {
			flagged++
			last = flags
		}
	}
	if flagged > 0 {
		p.logger.Info("nulled implausible readings", "station", stationID, "observations", flagged, "flags", QualityFlagsToJSON(last))
	}
}

// covers reports whether history spans [start, end]. Daily records sit at
// midnight, so the end bound is compared by calendar day.
func covers(history []models.Observation, start, end time.Time) bool {
	if len(history) == 0 {
		return false
	}
	first := history[0].ObservedAt
	last := history[len(history)-1].ObservedAt
	return !first.After(start) && !last.Before(startOfDay(end))
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Merge combines two series keyed by timestamp; b overwrites a on collision.
// The result is ascending.
func Merge(a, b []models.Observation) []models.Observation {
	byTime := make(map[int64]models.Observation, len(a)+len(b))
	for _, o := range a {
		byTime[o.ObservedAt.Unix()] = o
	}
	for _, o := range b {
		byTime[o.ObservedAt.Unix()] = o
	}

	merged := make([]models.Observation, 0, len(byTime))
	for _, o := range byTime {
		merged = append(merged, o)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ObservedAt.Before(merged[j].ObservedAt)
	})
	return merged
}

// FilterRange keeps observations within [start, end] inclusive.
func FilterRange(obs []models.Observation, start, end time.Time) []models.Observation {
	out := make([]models.Observation, 0, len(obs))
	for _, o := range obs {
		if o.ObservedAt.Before(start) || o.ObservedAt.After(end) {
			continue
		}
		out = append(out, o)
	}
	return out
}
