// Package export writes per-year indicator values to Parquet.
package export

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/lox/croprisk/internal/analysis"
	"github.com/lox/croprisk/internal/indicators"
)

// IndicatorRow is one indicator value for one year, in long format so the
// configured thresholds do not change the schema.
type IndicatorRow struct {
	RequestID string  `parquet:"request_id,snappy"`
	Crop      string  `parquet:"crop,snappy"`
	Source    string  `parquet:"source,snappy"`
	PhaseFrom int32   `parquet:"phase_start_doy,snappy"`
	PhaseTo   int32   `parquet:"phase_end_doy,snappy"`
	Year      int32   `parquet:"year,snappy"`
	Indicator string  `parquet:"indicator,snappy"`
	Value     float64 `parquet:"value,snappy"`
}

// Rows flattens the per-year indicators of resp, ordered by year then
// indicator key.
func Rows(resp *analysis.Response) []IndicatorRow {
	var rows []IndicatorRow
	for _, yi := range resp.Years {
		flat := indicators.Flatten(yi)
		keys := make([]string, 0, len(flat))
		for k := range flat {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rows = append(rows, IndicatorRow{
				RequestID: resp.RequestID,
				Crop:      resp.Crop,
				Source:    resp.Source,
				PhaseFrom: int32(resp.Phase.Start),
				PhaseTo:   int32(resp.Phase.End),
				Year:      int32(yi.Year),
				Indicator: k,
				Value:     flat[k],
			})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Year < rows[j].Year })
	return rows
}

func WriteParquet(w io.Writer, rows []IndicatorRow) error {
	writer := parquet.NewGenericWriter[IndicatorRow](w)
	if _, err := writer.Write(rows); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// WriteFile writes the per-year indicators of resp to path and returns the
// number of rows written.
func WriteFile(path string, resp *analysis.Response) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	rows := Rows(resp)
	if err := WriteParquet(file, rows); err != nil {
		_ = file.Close()
		return 0, err
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", path, err)
	}
	return len(rows), nil
}
