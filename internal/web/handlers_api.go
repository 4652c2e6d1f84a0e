package web

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"lifx-go-home/internal/lan"
)

// maxTransition caps durations accepted from the API.
const maxTransition = time.Hour

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	st := s.light.Status()
	resp := map[string]any{"light": st}
	if s.autoEngine != nil {
		resp["scripts_running"] = s.autoEngine.Running()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// lightError maps a transport failure to a gateway status.
func (s *Server) lightError(w http.ResponseWriter, op string, err error) {
	s.logger.Warn("light command failed", "op", op, "err", err)
	if errors.Is(err, lan.ErrTimeout) {
		s.writeError(w, http.StatusGatewayTimeout, "light did not respond")
		return
	}
	s.writeError(w, http.StatusBadGateway, err.Error())
}

func percentOf(level uint16) float64 {
	return math.Round(float64(level)*1000/0xFFFF) / 10
}

func (s *Server) handleAPIToggle(w http.ResponseWriter, r *http.Request) {
	level, err := s.light.Toggle(r.Context())
	if err != nil {
		s.lightError(w, "toggle", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"brightness": level, "percent": percentOf(level)})
}

type brightnessRequest struct {
	Level      *int     `json:"level"`   // 0-65535
	Percent    *float64 `json:"percent"` // 0-100
	DurationMS int64    `json:"duration_ms"`
}

func (req brightnessRequest) resolve() (uint16, time.Duration, error) {
	d, err := transition(req.DurationMS)
	if err != nil {
		return 0, 0, err
	}
	switch {
	case req.Level != nil && req.Percent != nil:
		return 0, 0, errors.New("give level or percent, not both")
	case req.Level != nil:
		if *req.Level < 0 || *req.Level > 0xFFFF {
			return 0, 0, errors.New("level must be 0-65535")
		}
		return uint16(*req.Level), d, nil
	case req.Percent != nil:
		if *req.Percent < 0 || *req.Percent > 100 {
			return 0, 0, errors.New("percent must be 0-100")
		}
		return uint16(math.Round(*req.Percent / 100 * 0xFFFF)), d, nil
	default:
		return 0, 0, errors.New("level or percent is required")
	}
}

func transition(ms int64) (time.Duration, error) {
	d := time.Duration(ms) * time.Millisecond
	if ms < 0 || d > maxTransition {
		return 0, errors.New("duration_ms out of range")
	}
	return d, nil
}

func (s *Server) handleAPIBrightness(w http.ResponseWriter, r *http.Request) {
	var req brightnessRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	level, d, err := req.resolve()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.light.SetBrightness(r.Context(), level, d); err != nil {
		s.lightError(w, "brightness", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "brightness": level})
}

type powerRequest struct {
	On         *bool `json:"on"`
	DurationMS int64 `json:"duration_ms"`
}

func (s *Server) handleAPIPower(w http.ResponseWriter, r *http.Request) {
	var req powerRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.On == nil {
		s.writeError(w, http.StatusBadRequest, "on is required")
		return
	}
	d, err := transition(req.DurationMS)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.light.SetPower(r.Context(), *req.On, d); err != nil {
		s.lightError(w, "power", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "on": *req.On})
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		s.writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.registry.Devices())
}

const (
	defaultJournalLimit = 100
	maxJournalLimit     = 1000
)

func (s *Server) handleAPIJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	limit := defaultJournalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxJournalLimit)
	}
	entries, err := s.journal.List(limit, r.URL.Query().Get("type"))
	if err != nil {
		s.logger.Error("list journal", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}
