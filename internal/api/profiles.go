package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/helmholtz/internal/db"
	"github.com/banshee-data/helmholtz/internal/field"
	"github.com/banshee-data/helmholtz/internal/monitoring"
)

// handleProfilesOrCreate handles GET and POST to /api/calibration/profiles
func (s *Server) handleProfilesOrCreate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		profiles, err := s.db.GetCalibrationProfiles()
		if err != nil {
			monitoring.Logf("Error fetching calibration profiles: %v", err)
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to fetch calibration profiles")
			return
		}
		if profiles == nil {
			profiles = []db.CalibrationProfile{}
		}
		s.writeJSON(w, http.StatusOK, profiles)
	case http.MethodPost:
		s.createProfile(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// pathID extracts the numeric ID following prefix.
func pathID(r *http.Request, prefix string) (int, error) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if len(parts) == 0 || parts[0] == "" {
		return 0, errors.New("missing ID")
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, errors.New("invalid ID")
	}
	return id, nil
}

// handleProfileByID handles GET/PUT/DELETE /api/calibration/profiles/:id
func (s *Server) handleProfileByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "/api/calibration/profiles/")
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		p, err := s.db.GetCalibrationProfile(id)
		if err != nil {
			monitoring.Logf("Error fetching calibration profile %d: %v", id, err)
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to fetch calibration profile")
			return
		}
		if p == nil {
			s.writeJSONError(w, http.StatusNotFound, "Profile not found")
			return
		}
		s.writeJSON(w, http.StatusOK, p)
	case http.MethodPut:
		s.updateProfile(w, r, id)
	case http.MethodDelete:
		if err := s.db.DeleteCalibrationProfile(id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				s.writeJSONError(w, http.StatusNotFound, "Profile not found")
				return
			}
			monitoring.Logf("Error deleting calibration profile %d: %v", id, err)
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to delete calibration profile")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// defaultLimits fills omitted limits with the controller's.
func (s *Server) defaultLimits(p *db.CalibrationProfile) {
	if p.Limits == (field.AxisLimits{}) {
		p.Limits = s.ctrl.Limits()
	}
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var p db.CalibrationProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.defaultLimits(&p)
	if err := p.Validate(); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.db.CreateCalibrationProfile(&p)
	if err != nil {
		monitoring.Logf("Error creating calibration profile: %v", err)
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			s.writeJSONError(w, http.StatusConflict, "Profile with this name already exists")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to create calibration profile")
		return
	}

	created, err := s.db.GetCalibrationProfile(int(id))
	if err != nil || created == nil {
		monitoring.Logf("Error fetching created profile: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "Profile created but failed to fetch")
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request, id int) {
	var p db.CalibrationProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	p.ID = id
	s.defaultLimits(&p)
	if err := p.Validate(); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.db.UpdateCalibrationProfile(&p); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "Profile not found")
			return
		}
		monitoring.Logf("Error updating calibration profile %d: %v", id, err)
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			s.writeJSONError(w, http.StatusConflict, "Profile with this name already exists")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to update calibration profile")
		return
	}

	updated, err := s.db.GetCalibrationProfile(id)
	if err != nil || updated == nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Profile updated but failed to fetch")
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}
