package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lox/croprisk/internal/models"
)

const DefaultStationBaseURL = "https://meteostat.p.rapidapi.com"

// StationClient fetches daily station history from a Meteostat-compatible API.
type StationClient struct {
	baseURL string
	apiKey  string
	fetcher *fetcher
}

func NewStationClient(baseURL, apiKey string, policy RetryPolicy, opts ...Option) *StationClient {
	if baseURL == "" {
		baseURL = DefaultStationBaseURL
	}
	return &StationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		fetcher: newFetcher("stations", policy, opts),
	}
}

type DailyResponse struct {
	Data []DailyRecord `json:"data"`
}

type DailyRecord struct {
	Date   string   `json:"date"`
	Tavg   *float64 `json:"tavg"`
	Tmin   *float64 `json:"tmin"`
	Tmax   *float64 `json:"tmax"`
	Prcp   *float64 `json:"prcp"`
	Prcp24 *float64 `json:"prcp24"`
	Wspd   *float64 `json:"wspd"` // km/h
	Wpgt   *float64 `json:"wpgt"` // km/h
	Rhum   *float64 `json:"rhum"`
	Pres   *float64 `json:"pres"`
}

// Fetch returns the station's daily observations between start and end, inclusive.
func (c *StationClient) Fetch(ctx context.Context, stationID string, start, end time.Time) ([]models.Observation, error) {
	if c.apiKey == "" {
		return nil, ErrMissingCredential
	}

	q := url.Values{}
	q.Set("station", stationID)
	q.Set("start", start.UTC().Format(time.DateOnly))
	q.Set("end", end.UTC().Format(time.DateOnly))
	u := fmt.Sprintf("%s/stations/daily?%s", c.baseURL, q.Encode())

	header := http.Header{}
	header.Set("x-rapidapi-key", c.apiKey)

	run := c.fetcher.begin(ctx, stationID, start, end)
	body, res, err := c.fetcher.get(ctx, u, header)
	if err != nil {
		c.fetcher.finish(ctx, run, res, 0, err)
		return nil, fmt.Errorf("station %s: %w", stationID, err)
	}

	obs, err := ParseDailyResponse(body)
	c.fetcher.finish(ctx, run, res, len(obs), err)
	if err != nil {
		return nil, fmt.Errorf("station %s: %w", stationID, err)
	}
	return obs, nil
}

// ParseDailyResponse decodes a daily payload, converting wind speeds to m/s.
// Records with an unreadable date are skipped.
func ParseDailyResponse(body []byte) ([]models.Observation, error) {
	var data DailyResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	result := make([]models.Observation, 0, len(data.Data))
	for _, rec := range data.Data {
		observedAt, err := parseDate(rec.Date)
		if err != nil {
			continue
		}
		result = append(result, models.Observation{
			ObservedAt: observedAt,
			TempMean:   nullable(rec.Tavg),
			TempMin:    nullable(rec.Tmin),
			TempMax:    nullable(rec.Tmax),
			Rain:       nullable(rec.Prcp),
			Rain24:     nullable(rec.Prcp24),
			WindMean:   kmhToMs(rec.Wspd),
			WindGust:   kmhToMs(rec.Wpgt),
			Humidity:   nullable(rec.Rhum),
			Pressure:   nullable(rec.Pres),
		})
	}
	return result, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, time.DateTime, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func nullable(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func kmhToMs(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p / 3.6, Valid: true}
}
