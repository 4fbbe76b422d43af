package catalog

import (
	"context"
	_ "embed"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/croprisk/internal/geo"
	"github.com/lox/croprisk/internal/htmlutil"
	"github.com/lox/croprisk/internal/models"
)

//go:embed stations.json
var snapshotJSON []byte

type snapshotSource struct{}

// Snapshot returns the station list bundled with the binary.
func Snapshot() Source {
	return snapshotSource{}
}

func (snapshotSource) Name() string { return "snapshot" }

func (snapshotSource) Stations(_ context.Context) ([]models.Station, error) {
	var stations []models.Station
	if err := json.Unmarshal(snapshotJSON, &stations); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return stations, nil
}

// FTPSource downloads a CSV station list from an anonymous FTP server.
type FTPSource struct {
	host    string
	path    string
	timeout time.Duration
}

func NewFTPSource(host, path string) *FTPSource {
	return &FTPSource{host: host, path: path, timeout: 30 * time.Second}
}

func (f *FTPSource) Name() string { return "ftp" }

func (f *FTPSource) Stations(ctx context.Context) ([]models.Station, error) {
	conn, err := ftp.Dial(f.host, ftp.DialWithTimeout(f.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(f.path)
	if err != nil {
		return nil, fmt.Errorf("ftp retr: %w", err)
	}
	defer resp.Close()

	return ParseStationsCSV(resp)
}

// ParseStationsCSV reads a station list with the header
// id,name,city,lat,lon,altitude,type. Rows without usable coordinates are skipped.
func ParseStationsCSV(r io.Reader) ([]models.Station, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty station csv")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"id", "name", "lat", "lon"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("station csv missing %q column", required)
		}
	}

	get := func(rec []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var stations []models.Station
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read station row: %w", err)
		}

		id := get(rec, "id")
		lat, errLat := strconv.ParseFloat(get(rec, "lat"), 64)
		lon, errLon := strconv.ParseFloat(get(rec, "lon"), 64)
		if id == "" || errLat != nil || errLon != nil || geo.ValidateRange(lat, lon) != nil {
			continue
		}

		st := models.Station{
			ID:        id,
			Name:      htmlutil.Label(get(rec, "name")),
			City:      htmlutil.Label(get(rec, "city")),
			Latitude:  lat,
			Longitude: lon,
			Type:      get(rec, "type"),
		}
		if alt, err := strconv.ParseFloat(get(rec, "altitude"), 64); err == nil {
			st.Altitude = &alt
		}
		stations = append(stations, st)
	}
	return stations, nil
}
