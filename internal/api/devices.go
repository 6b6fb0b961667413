package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/banshee-data/helmholtz/internal/db"
	"github.com/banshee-data/helmholtz/internal/monitoring"
	"github.com/banshee-data/helmholtz/internal/serialmux"
)

// DeviceConfigRequest represents the request body for creating/updating
// device configs. Changes take effect on the next restart.
type DeviceConfigRequest struct {
	Name        string        `json:"name"`
	Role        db.DeviceRole `json:"role"`
	PortPath    string        `json:"port_path"`
	BaudRate    int           `json:"baud_rate"`
	DataBits    int           `json:"data_bits"`
	StopBits    int           `json:"stop_bits"`
	Parity      string        `json:"parity"`
	Enabled     bool          `json:"enabled"`
	Description string        `json:"description"`
}

func (req DeviceConfigRequest) toConfig(id int) *db.DeviceConfig {
	return &db.DeviceConfig{
		ID:          id,
		Name:        req.Name,
		Role:        req.Role,
		PortPath:    req.PortPath,
		BaudRate:    req.BaudRate,
		DataBits:    req.DataBits,
		StopBits:    req.StopBits,
		Parity:      req.Parity,
		Enabled:     req.Enabled,
		Description: req.Description,
	}
}

// isValidPortPath accepts serial device nodes and tcp:// addresses.
func isValidPortPath(path string) bool {
	return strings.HasPrefix(path, "/dev/tty") ||
		strings.HasPrefix(path, "/dev/serial") ||
		strings.HasPrefix(path, "/dev/cu.") ||
		serialmux.IsNetworkAddress(path)
}

func (s *Server) decodeDeviceRequest(w http.ResponseWriter, r *http.Request) (DeviceConfigRequest, bool) {
	var req DeviceConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	if req.Name == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Name is required")
		return req, false
	}
	if req.PortPath == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Port path is required")
		return req, false
	}
	if !isValidPortPath(req.PortPath) {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid port path. Must start with /dev/tty, /dev/serial or tcp://")
		return req, false
	}
	return req, true
}

// handleDevicesOrCreate handles GET and POST to /api/devices
func (s *Server) handleDevicesOrCreate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		configs, err := s.db.GetDeviceConfigs()
		if err != nil {
			monitoring.Logf("Error fetching device configs: %v", err)
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to fetch device configurations")
			return
		}
		if configs == nil {
			configs = []db.DeviceConfig{}
		}
		s.writeJSON(w, http.StatusOK, configs)
	case http.MethodPost:
		req, ok := s.decodeDeviceRequest(w, r)
		if !ok {
			return
		}
		cfg := req.toConfig(0)
		if err := cfg.Validate(); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		id, err := s.db.CreateDeviceConfig(cfg)
		if err != nil {
			monitoring.Logf("Error creating device config: %v", err)
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to create device configuration")
			return
		}
		created, err := s.db.GetDeviceConfig(int(id))
		if err != nil || created == nil {
			s.writeJSONError(w, http.StatusInternalServerError, "Configuration created but failed to fetch")
			return
		}
		s.writeJSON(w, http.StatusCreated, created)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleDeviceByID handles GET/PUT/DELETE /api/devices/:id
func (s *Server) handleDeviceByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "/api/devices/")
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		cfg, err := s.db.GetDeviceConfig(id)
		if err != nil {
			monitoring.Logf("Error fetching device config %d: %v", id, err)
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to fetch device configuration")
			return
		}
		if cfg == nil {
			s.writeJSONError(w, http.StatusNotFound, "Configuration not found")
			return
		}
		s.writeJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		req, ok := s.decodeDeviceRequest(w, r)
		if !ok {
			return
		}
		cfg := req.toConfig(id)
		if err := cfg.Validate(); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.db.UpdateDeviceConfig(cfg); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				s.writeJSONError(w, http.StatusNotFound, "Configuration not found")
				return
			}
			monitoring.Logf("Error updating device config %d: %v", id, err)
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to update device configuration")
			return
		}
		updated, err := s.db.GetDeviceConfig(id)
		if err != nil || updated == nil {
			s.writeJSONError(w, http.StatusInternalServerError, "Configuration updated but failed to fetch")
			return
		}
		s.writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := s.db.DeleteDeviceConfig(id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				s.writeJSONError(w, http.StatusNotFound, "Configuration not found")
				return
			}
			monitoring.Logf("Error deleting device config %d: %v", id, err)
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to delete device configuration")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
