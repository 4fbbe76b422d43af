package store

import (
	"context"
	"database/sql"
	"time"
)

// FetchRun records a single upstream fetch for auditing.
type FetchRun struct {
	ID           int64
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	Provider     string // "stations", "grid"
	EntityID     string // station id or "lat,lon"
	RangeStart   time.Time
	RangeEnd     time.Time
	HTTPStatus   sql.NullInt64
	Attempts     sql.NullInt64
	Records      sql.NullInt64
	Success      bool
	ErrorMessage sql.NullString
}

// StartFetchRun creates a new fetch run record and returns it.
func (s *Store) StartFetchRun(ctx context.Context, provider, entityID string, start, end time.Time) (*FetchRun, error) {
	run := &FetchRun{
		StartedAt:  time.Now().UTC(),
		Provider:   provider,
		EntityID:   entityID,
		RangeStart: start.UTC(),
		RangeEnd:   end.UTC(),
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO fetch_runs (started_at, provider, entity_id, range_start, range_end, success)
		VALUES (?, ?, ?, ?, ?, FALSE)
	`, run.StartedAt.UnixMilli(), run.Provider, run.EntityID, run.RangeStart.Unix(), run.RangeEnd.Unix())
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteFetchRun updates the fetch run with its outcome.
func (s *Store) CompleteFetchRun(ctx context.Context, run *FetchRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.ExecContext(ctx, `
		UPDATE fetch_runs SET
			finished_at = ?,
			http_status = ?,
			attempts = ?,
			records = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt.Time.UnixMilli(), run.HTTPStatus, run.Attempts, run.Records,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

// GetRecentFetchErrors returns recent failed fetch runs, newest first.
func (s *Store) GetRecentFetchErrors(ctx context.Context, limit int) ([]FetchRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, provider, entity_id, range_start, range_end,
			   http_status, attempts, records, success, error_message
		FROM fetch_runs
		WHERE success = FALSE
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FetchRun
	for rows.Next() {
		var r FetchRun
		var startedAt, rangeStart, rangeEnd int64
		var finishedAt sql.NullInt64
		if err := rows.Scan(&r.ID, &startedAt, &finishedAt, &r.Provider, &r.EntityID, &rangeStart, &rangeEnd,
			&r.HTTPStatus, &r.Attempts, &r.Records, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(startedAt).UTC()
		if finishedAt.Valid {
			r.FinishedAt = sql.NullTime{Time: time.UnixMilli(finishedAt.Int64).UTC(), Valid: true}
		}
		r.RangeStart = time.Unix(rangeStart, 0).UTC()
		r.RangeEnd = time.Unix(rangeEnd, 0).UTC()
		results = append(results, r)
	}
	return results, rows.Err()
}
