package analysis

import (
	"context"
	"errors"
	"net/http"

	"github.com/lox/croprisk/internal/geo"
	"github.com/lox/croprisk/internal/ingest"
	"github.com/lox/croprisk/internal/phase"
)

var (
	ErrNoStationsFound         = errors.New("no stations found near the coordinate")
	ErrNoObservationsAvailable = errors.New("no observations available for the requested period")
)

// StatusOf maps an Analyze error to the HTTP status a caller should report.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, geo.ErrInvalidCoordinates),
		errors.Is(err, phase.ErrInvalidWindow):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoStationsFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoObservationsAvailable),
		errors.Is(err, ingest.ErrMissingCredential),
		errors.Is(err, ingest.ErrUpstreamUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Message is the caller-facing text for an Analyze error.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ingest.ErrMissingCredential):
		return "observation data unavailable: the weather station API key is not configured (set CROPRISK_API_KEY)"
	case errors.Is(err, ErrNoObservationsAvailable):
		return "observation data unavailable for the requested period; try again later"
	case errors.Is(err, ErrNoStationsFound):
		return "no weather stations found near the requested location"
	}
	return err.Error()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ingest.ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ingest.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "other"
}
