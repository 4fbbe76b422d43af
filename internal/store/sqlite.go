package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/croprisk/internal/models"
)

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "store")}
}

// Open opens (or creates) the SQLite database at path and applies migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := New(db, logger)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) UpsertStation(ctx context.Context, st models.Station) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stations (station_id, name, city, latitude, longitude, altitude, station_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id) DO UPDATE SET
			name = excluded.name,
			city = excluded.city,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			altitude = excluded.altitude,
			station_type = excluded.station_type
	`, st.ID, st.Name, nullString(st.City), st.Latitude, st.Longitude, nullFloatPtr(st.Altitude), nullString(st.Type))
	return err
}

// ReplaceStations swaps the whole station list in one transaction.
func (s *Store) ReplaceStations(ctx context.Context, stations []models.Station) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stations`); err != nil {
		return fmt.Errorf("clear stations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stations (station_id, name, city, latitude, longitude, altitude, station_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, st := range stations {
		if _, err := stmt.ExecContext(ctx, st.ID, st.Name, nullString(st.City), st.Latitude, st.Longitude, nullFloatPtr(st.Altitude), nullString(st.Type)); err != nil {
			return fmt.Errorf("insert station %s: %w", st.ID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) ListStations(ctx context.Context) ([]models.Station, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT station_id, name, city, latitude, longitude, altitude, station_type FROM stations ORDER BY station_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var st models.Station
		var city, stationType sql.NullString
		var altitude sql.NullFloat64
		if err := rows.Scan(&st.ID, &st.Name, &city, &st.Latitude, &st.Longitude, &altitude, &stationType); err != nil {
			return nil, err
		}
		st.City = city.String
		st.Type = stationType.String
		if altitude.Valid {
			v := altitude.Float64
			st.Altitude = &v
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// UpsertObservations persists history for a station. A row already stored at the
// same timestamp is overwritten, so the latest write wins.
func (s *Store) UpsertObservations(ctx context.Context, stationID string, observations []models.Observation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (station_id, observed_at, temp_mean, temp_min, temp_max, rain, rain_24h, wind_mean, wind_gust, humidity, pressure, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id, observed_at) DO UPDATE SET
			temp_mean = excluded.temp_mean,
			temp_min = excluded.temp_min,
			temp_max = excluded.temp_max,
			rain = excluded.rain,
			rain_24h = excluded.rain_24h,
			wind_mean = excluded.wind_mean,
			wind_gust = excluded.wind_gust,
			humidity = excluded.humidity,
			pressure = excluded.pressure,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Unix()
	for _, obs := range observations {
		if _, err := stmt.ExecContext(ctx, stationID, obs.ObservedAt.UTC().Unix(),
			obs.TempMean, obs.TempMin, obs.TempMax, obs.Rain, obs.Rain24,
			obs.WindMean, obs.WindGust, obs.Humidity, obs.Pressure, now); err != nil {
			return 0, fmt.Errorf("upsert observation %s@%s: %w", stationID, obs.ObservedAt.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(observations), nil
}

// GetObservations returns persisted history for a station within [start, end], ascending.
func (s *Store) GetObservations(ctx context.Context, stationID string, start, end time.Time) ([]models.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT observed_at, temp_mean, temp_min, temp_max, rain, rain_24h, wind_mean, wind_gust, humidity, pressure
		FROM observations
		WHERE station_id = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC
	`, stationID, start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []models.Observation
	for rows.Next() {
		var obs models.Observation
		var observedAt int64
		if err := rows.Scan(&observedAt, &obs.TempMean, &obs.TempMin, &obs.TempMax, &obs.Rain, &obs.Rain24,
			&obs.WindMean, &obs.WindGust, &obs.Humidity, &obs.Pressure); err != nil {
			return nil, err
		}
		obs.ObservedAt = time.Unix(observedAt, 0).UTC()
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloatPtr(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
