package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/helmholtz/internal/coil"
	"github.com/banshee-data/helmholtz/internal/field"
	"github.com/banshee-data/helmholtz/internal/polarity"
	"github.com/banshee-data/helmholtz/internal/units"
)

// SetFieldRequest is the body of POST /api/field. Magnitude is in the
// request units, angles in radians.
type SetFieldRequest struct {
	Magnitude    *float64 `json:"magnitude"`
	Azimuth      *float64 `json:"azimuth"`
	Polar        *float64 `json:"polar"`
	SettleWaitMS *int64   `json:"settle_wait_ms,omitempty"`
}

// MaxSettleWait bounds settle_wait_ms. The wait runs under the controller
// lock, so it also delays shutdown.
const MaxSettleWait = time.Minute

// ReadingResponse is a Reading with field magnitudes in Units.
type ReadingResponse struct {
	coil.Reading
	Units        string `json:"units"`
	SettleWaitMS int64  `json:"settle_wait_ms"`
}

func toReadingResponse(r coil.Reading, unit string) ReadingResponse {
	r.Target = units.FieldFromMilliTesla(r.Target, unit)
	r.Field = units.FieldFromMilliTesla(r.Field, unit)
	return ReadingResponse{Reading: r, Units: unit, SettleWaitMS: r.SettleWait.Milliseconds()}
}

// handleField handles GET and POST to /api/field
func (s *Server) handleField(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.showLastReading(w, r)
	case http.MethodPost:
		s.setField(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) setField(w http.ResponseWriter, r *http.Request) {
	unit, ok := s.requestUnits(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'units' parameter. Must be one of: "+units.GetValidUnitsString())
		return
	}

	var req SetFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Magnitude == nil || req.Azimuth == nil || req.Polar == nil {
		s.writeJSONError(w, http.StatusBadRequest, "magnitude, azimuth and polar are required")
		return
	}
	settle := s.settle
	if req.SettleWaitMS != nil {
		if *req.SettleWaitMS < 0 || *req.SettleWaitMS > MaxSettleWait.Milliseconds() {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("settle_wait_ms must be between 0 and %d", MaxSettleWait.Milliseconds()))
			return
		}
		settle = time.Duration(*req.SettleWaitMS) * time.Millisecond
	}

	target := units.FieldToMilliTesla(field.FieldVector{
		Magnitude: *req.Magnitude,
		Azimuth:   *req.Azimuth,
		Polar:     *req.Polar,
	}, unit)

	reading, err := s.ctrl.SetField(r.Context(), target, settle)
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toReadingResponse(reading, unit))
}

func (s *Server) showLastReading(w http.ResponseWriter, r *http.Request) {
	unit, ok := s.requestUnits(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'units' parameter. Must be one of: "+units.GetValidUnitsString())
		return
	}
	reading, ok := s.ctrl.LastReading()
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "No field has been set yet")
		return
	}
	s.writeJSON(w, http.StatusOK, toReadingResponse(reading, unit))
}

// MagnetRequest is the body of PUT /api/magnet.
type MagnetRequest struct {
	State string `json:"state"`
}

// handleMagnet handles GET and PUT to /api/magnet
func (s *Server) handleMagnet(w http.ResponseWriter, r *http.Request) {
	var (
		state coil.MagnetState
		err   error
	)
	switch r.Method {
	case http.MethodGet:
		state, err = s.ctrl.GetMagnetState(r.Context())
	case http.MethodPut:
		var req MagnetRequest
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		want, parseErr := coil.ParseMagnetState(req.State)
		if parseErr != nil {
			s.writeJSONError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		state, err = s.ctrl.SetMagnetState(r.Context(), want)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err != nil {
		resp := newErrorResponse(err)
		resp.MagnetState = &state
		s.writeJSON(w, statusForError(err), resp)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]coil.MagnetState{"state": state})
}

func (s *Server) showPolarity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	code, err := s.ctrl.Polarity(r.Context())
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"code":  code,
		"signs": polarity.Decode(code),
	})
}

func (s *Server) listRecentReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.recorder == nil {
		s.writeJSONError(w, http.StatusNotFound, "Reading history is disabled")
		return
	}
	unit, ok := s.requestUnits(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'units' parameter. Must be one of: "+units.GetValidUnitsString())
		return
	}

	n := 0
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid 'n' parameter %q", v))
			return
		}
		n = parsed
	}

	recent := s.recorder.Recent(n)
	out := make([]ReadingResponse, len(recent))
	for i, rd := range recent {
		out[i] = toReadingResponse(rd, unit)
	}
	s.writeJSON(w, http.StatusOK, out)
}
