package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/lox/croprisk/internal/analysis"
	"github.com/lox/croprisk/internal/geo"
	"github.com/lox/croprisk/internal/narrative"
)

const (
	defaultNearest = 5
	maxNearest     = 50
)

type analysisRequest struct {
	analysis.Request
	Narrative bool `json:"narrative"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}

	resp, err := s.analyzer.Analyze(r.Context(), req.Request)
	if err != nil {
		status := analysis.StatusOf(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("analysis failed", "status", status, "error", err)
		}
		writeError(w, status, analysis.Message(err))
		return
	}
	if req.Narrative {
		resp.Narrative = narrative.Describe(r.Context(), s.narrator, resp, s.logger)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNearestStations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		writeError(w, http.StatusBadRequest, "lat and lon must be numbers")
		return
	}
	n := defaultNearest
	if v := q.Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > maxNearest {
			writeError(w, http.StatusBadRequest, "n must be between 1 and 50")
			return
		}
		n = parsed
	}

	near, err := s.catalog.Nearest(r.Context(), lat, lon, n)
	if err != nil {
		if errors.Is(err, geo.ErrInvalidCoordinates) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("nearest stations", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, near)
}

func (s *Server) handleRefreshStations(w http.ResponseWriter, r *http.Request) {
	stations, err := s.catalog.Refresh(r.Context())
	if err != nil {
		s.logger.Warn("catalog refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": len(stations)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
