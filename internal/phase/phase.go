// Package phase partitions an observation series into per-year crop phase windows.
package phase

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lox/croprisk/internal/models"
)

var ErrInvalidWindow = errors.New("invalid phase window")

// Window is a day-of-year range. Start > End wraps the year boundary.
type Window struct {
	Start int `json:"startDayOfYear"`
	End   int `json:"endDayOfYear"`
}

func (w Window) Validate() error {
	if w.Start < 1 || w.Start > 366 || w.End < 1 || w.End > 366 {
		return fmt.Errorf("%w: %d-%d", ErrInvalidWindow, w.Start, w.End)
	}
	return nil
}

func (w Window) Wraps() bool {
	return w.Start > w.End
}

func (w Window) Contains(doy int) bool {
	if w.Wraps() {
		return doy >= w.Start || doy <= w.End
	}
	return doy >= w.Start && doy <= w.End
}

// YearSlice holds one calendar year's observations inside the window.
type YearSlice struct {
	Year         int
	Observations []models.Observation
}

// Slice buckets observations by the calendar year of their UTC timestamp,
// keeping those whose day-of-year falls in w. Slices are ascending by year and
// observations ascending by time.
func Slice(obs []models.Observation, w Window) []YearSlice {
	byYear := make(map[int][]models.Observation)
	for _, o := range obs {
		t := o.ObservedAt.UTC()
		if !w.Contains(t.YearDay()) {
			continue
		}
		byYear[t.Year()] = append(byYear[t.Year()], o)
	}

	slices := make([]YearSlice, 0, len(byYear))
	for year, yearObs := range byYear {
		sort.SliceStable(yearObs, func(i, j int) bool {
			return yearObs[i].ObservedAt.Before(yearObs[j].ObservedAt)
		})
		slices = append(slices, YearSlice{Year: year, Observations: yearObs})
	}
	sort.Slice(slices, func(i, j int) bool { return slices[i].Year < slices[j].Year })
	return slices
}
