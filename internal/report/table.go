// Package report renders analysis results as terminal tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/lox/croprisk/internal/analysis"
	"github.com/lox/croprisk/internal/models"
	"github.com/lox/croprisk/internal/risk"
)

var (
	highColor     = color.New(color.FgRed, color.Bold)
	moderateColor = color.New(color.FgYellow)
	lowColor      = color.New(color.FgGreen)
)

// RiskLabel buckets a probability: high at 0.5 and above, moderate at 0.25.
func RiskLabel(p float64) string {
	switch {
	case p >= 0.5:
		return "High"
	case p >= 0.25:
		return "Moderate"
	}
	return "Low"
}

func colorLabel(p float64) string {
	label := RiskLabel(p)
	switch label {
	case "High":
		return highColor.Sprint(label)
	case "Moderate":
		return moderateColor.Sprint(label)
	}
	return lowColor.Sprint(label)
}

// PrintAnalysis writes the summary, risk, trend and indicator tables for resp.
func PrintAnalysis(w io.Writer, resp *analysis.Response) error {
	fmt.Fprintf(w, "%s, phase day %d-%d, %d/%d years, source %s, confidence %.2f\n",
		resp.Crop, resp.Phase.Start, resp.Phase.End, resp.YearsAnalyzed, resp.YearsRequested, resp.Source, resp.Confidence)
	for _, st := range resp.StationsUsed {
		fmt.Fprintf(w, "  station %s %s\n", st.ID, st.Name)
	}
	for _, f := range resp.StationsFailed {
		fmt.Fprintf(w, "  failed  %s: %s\n", f.StationID, f.Reason)
	}
	fmt.Fprintln(w)

	if err := printRisks(w, resp.Risks); err != nil {
		return err
	}
	if err := printTrends(w, resp); err != nil {
		return err
	}
	if err := printIndicators(w, resp); err != nil {
		return err
	}
	if resp.Narrative != "" {
		fmt.Fprintf(w, "\n%s\n", resp.Narrative)
	}
	return nil
}

func printRisks(w io.Writer, r analysis.Risks) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Risk", "Probability", "Years", "Level"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for _, row := range []struct {
		name string
		p    *risk.Probability
	}{
		{"Heatwave", r.Heatwave},
		{"Dry spell", r.DrySpell},
		{"Extreme heat", r.ExtremeHeat},
		{"Late frost", r.LateFrost},
	} {
		if row.p == nil || row.p.Probability == nil {
			data = append(data, []string{row.name, "-", "-", "-"})
			continue
		}
		p := *row.p.Probability
		data = append(data, []string{
			row.name,
			fmt.Sprintf("%.2f", p),
			fmt.Sprintf("%d/%d", row.p.Occurrences, row.p.SampleSize),
			colorLabel(p),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func printTrends(w io.Writer, resp *analysis.Response) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Trend", "Direction", "Slope/yr", "R²", "Tau", "p"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	row := func(name string, t analysis.Trend) []string {
		out := []string{name, string(t.Direction), "-", "-", "-", "-"}
		if t.OLS != nil {
			out[2] = fmt.Sprintf("%.2f", t.OLS.Slope)
			out[3] = fmt.Sprintf("%.2f", t.OLS.R2)
		}
		if t.MannKendall != nil {
			out[4] = fmt.Sprintf("%.2f", t.MannKendall.Tau)
			out[5] = fmt.Sprintf("%.3f", t.MannKendall.PValue)
		}
		return out
	}
	if err := table.Bulk([][]string{
		row("Rainfall", resp.Trends.Rainfall),
		row("GDD base 5", resp.Trends.GDD),
	}); err != nil {
		return err
	}
	return table.Render()
}

func printIndicators(w io.Writer, resp *analysis.Response) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Indicator", "N", "Mean", "Std", "P10", "P50", "P90"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	keys := make([]string, 0, len(resp.Indicators))
	for k := range resp.Indicators {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := make([][]string, 0, len(keys))
	for _, k := range keys {
		s := resp.Indicators[k]
		data = append(data, []string{k, strconv.Itoa(s.N), num(s.Mean), num(s.Std), num(s.P10), num(s.P50), num(s.P90)})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// PrintStations writes a nearest-stations table.
func PrintStations(w io.Writer, near []models.StationDistance) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"ID", "Name", "Lat", "Lon", "Distance km"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	data := make([][]string, 0, len(near))
	for _, sd := range near {
		data = append(data, []string{
			sd.Station.ID,
			sd.Station.Name,
			fmt.Sprintf("%.3f", sd.Station.Latitude),
			fmt.Sprintf("%.3f", sd.Station.Longitude),
			fmt.Sprintf("%.1f", sd.DistanceKm),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func num(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
