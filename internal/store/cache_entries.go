package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrCorruptEntry is returned when a stored cache payload cannot be decompressed.
var ErrCorruptEntry = errors.New("corrupt cache entry")

// CacheEntry is a stored cache payload.
type CacheEntry struct {
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// HashKey derives a stable cache key from its parts.
func HashKey(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PutCacheEntry stores a compressed payload, replacing any entry with the same key.
func (s *Store) PutCacheEntry(ctx context.Context, key string, payload []byte, createdAt time.Time) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_key, payload_compressed, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload_compressed = excluded.payload_compressed,
			created_at = excluded.created_at
	`, key, buf.Bytes(), createdAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// GetCacheEntry retrieves and decompresses an entry. It returns nil, nil when
// the key is absent.
func (s *Store) GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error) {
	var compressed []byte
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `SELECT payload_compressed, created_at FROM cache_entries WHERE cache_key = ?`, key).
		Scan(&compressed, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	defer gz.Close()

	payload, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}

	return &CacheEntry{
		Key:       key,
		Payload:   payload,
		CreatedAt: time.UnixMilli(createdAt).UTC(),
	}, nil
}

func (s *Store) DeleteCacheEntry(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
	return err
}

// PurgeExpiredCache deletes entries created before cutoff and returns how many were removed.
func (s *Store) PurgeExpiredCache(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE created_at < ?`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CacheStats contains storage statistics for cache entries.
type CacheStats struct {
	Count       int
	SizeBytes   int64
	OldestEntry time.Time
	NewestEntry time.Time
}

func (s *Store) GetCacheStats(ctx context.Context) (*CacheStats, error) {
	var stats CacheStats
	var oldest, newest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(payload_compressed)), 0), MIN(created_at), MAX(created_at)
		FROM cache_entries
	`).Scan(&stats.Count, &stats.SizeBytes, &oldest, &newest)
	if err != nil {
		return nil, err
	}
	if oldest.Valid {
		stats.OldestEntry = time.UnixMilli(oldest.Int64).UTC()
	}
	if newest.Valid {
		stats.NewestEntry = time.UnixMilli(newest.Int64).UTC()
	}
	return &stats, nil
}
