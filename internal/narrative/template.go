package narrative

import (
	"context"
	"fmt"
	"strings"

	"github.com/lox/croprisk/internal/analysis"
	"github.com/lox/croprisk/internal/risk"
)

// Template builds a deterministic narrative from the response alone.
type Template struct{}

func (Template) Write(_ context.Context, resp *analysis.Response) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Over %d of the last %d years, the %s phase (day %d to %d) near this location",
		resp.YearsAnalyzed, resp.YearsRequested, resp.Crop, resp.Phase.Start, resp.Phase.End)

	var parts []string
	for _, r := range namedRisks(resp.Risks) {
		if r.p == nil || r.p.Probability == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s in %d%% of years", r.name, percent(*r.p.Probability)))
	}
	if len(parts) == 0 {
		b.WriteString(" showed no computed risks.")
	} else {
		b.WriteString(" saw " + joinList(parts) + ".")
	}

	q := resp.RainfallQuantiles
	if q.P10 != nil && q.P90 != nil {
		fmt.Fprintf(&b, " Phase rainfall typically ranged from %.0f to %.0f mm", *q.P10, *q.P90)
		switch resp.Trends.Rainfall.Direction {
		case risk.Up:
			b.WriteString(" and has been increasing.")
		case risk.Down:
			b.WriteString(" and has been decreasing.")
		default:
			b.WriteString(" with no clear trend.")
		}
	}
	switch resp.Trends.GDD.Direction {
	case risk.Up:
		b.WriteString(" Growing degree-days are trending up.")
	case risk.Down:
		b.WriteString(" Growing degree-days are trending down.")
	}
	fmt.Fprintf(&b, " Confidence is %s (%.2f)", confidenceLabel(resp.Confidence), resp.Confidence)
	if resp.Source == analysis.SourceGrid {
		b.WriteString(", based on gridded reanalysis data.")
	} else {
		fmt.Fprintf(&b, ", based on %d station(s).", len(resp.StationsUsed))
	}
	return b.String(), nil
}

// Facts is the compact fact sheet sent to the model.
func Facts(resp *analysis.Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Crop: %s\nPhase: day %d to %d\nYears analysed: %d of %d\nSource: %s\n",
		resp.Crop, resp.Phase.Start, resp.Phase.End, resp.YearsAnalyzed, resp.YearsRequested, resp.Source)
	for _, r := range namedRisks(resp.Risks) {
		if r.p == nil || r.p.Probability == nil {
			continue
		}
		fmt.Fprintf(&b, "Risk %s: %.2f (%d of %d years)\n", r.name, *r.p.Probability, r.p.Occurrences, r.p.SampleSize)
	}
	q := resp.RainfallQuantiles
	if q.P10 != nil && q.P50 != nil && q.P90 != nil {
		fmt.Fprintf(&b, "Rainfall mm p10/p50/p90: %.1f / %.1f / %.1f\n", *q.P10, *q.P50, *q.P90)
	}
	fmt.Fprintf(&b, "Rainfall trend: %s\nGDD trend: %s\n", resp.Trends.Rainfall.Direction, resp.Trends.GDD.Direction)
	if s, ok := resp.Indicators["gdd.5"]; ok && s.Mean != nil {
		fmt.Fprintf(&b, "Mean GDD base 5: %.0f\n", *s.Mean)
	}
	fmt.Fprintf(&b, "Confidence: %.2f\n", resp.Confidence)
	return b.String()
}

type namedRisk struct {
	name string
	p    *risk.Probability
}

func namedRisks(r analysis.Risks) []namedRisk {
	return []namedRisk{
		{"heatwaves", r.Heatwave},
		{"dry spells", r.DrySpell},
		{"extreme heat", r.ExtremeHeat},
		{"late frost", r.LateFrost},
	}
}

func percent(p float64) int {
	return int(p*100 + 0.5)
}

func confidenceLabel(c float64) string {
	switch {
	case c >= 0.75:
		return "high"
	case c >= 0.5:
		return "moderate"
	}
	return "low"
}

func joinList(parts []string) string {
	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}
