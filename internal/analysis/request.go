package analysis

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lox/croprisk/internal/geo"
	"github.com/lox/croprisk/internal/indicators"
	"github.com/lox/croprisk/internal/phase"
)

const (
	DefaultYearsBack = 5
	MaxYearsBack     = 50
)

var ErrInvalidRequest = errors.New("invalid request")

type Request struct {
	Lat       float64             `json:"lat"`
	Lon       float64             `json:"lon"`
	Crop      string              `json:"crop"`
	Phase     phase.Window        `json:"phase"`
	YearsBack int                 `json:"yearsBack"`
	Options   *indicators.Options `json:"options,omitempty"`
}

// Validate checks the request and applies the yearsBack default.
func (r *Request) Validate() error {
	if err := geo.ValidateRange(r.Lat, r.Lon); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	r.Crop = strings.TrimSpace(r.Crop)
	if r.Crop == "" {
		return fmt.Errorf("%w: crop is required", ErrInvalidRequest)
	}
	if err := r.Phase.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if r.YearsBack == 0 {
		r.YearsBack = DefaultYearsBack
	}
	if r.YearsBack < 1 || r.YearsBack > MaxYearsBack {
		return fmt.Errorf("%w: yearsBack must be between 1 and %d", ErrInvalidRequest, MaxYearsBack)
	}
	return nil
}

// Period is the span of the last yearsBack complete calendar years before now.
func Period(now time.Time, yearsBack int) (start, end time.Time) {
	y := now.UTC().Year()
	start = time.Date(y-yearsBack, 1, 1, 0, 0, 0, 0, time.UTC)
	end = time.Date(y-1, 12, 31, 23, 59, 59, 0, time.UTC)
	return start, end
}
