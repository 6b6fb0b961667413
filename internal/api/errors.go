package api

import (
	"errors"
	"net/http"

	"github.com/banshee-data/helmholtz/internal/coil"
)

// errorResponse is the JSON body of a failed controller call.
type errorResponse struct {
	Error       string            `json:"error"`
	Kind        string            `json:"kind,omitempty"`
	Stage       coil.Stage        `json:"stage,omitempty"`
	Axis        string            `json:"axis,omitempty"`
	MagnetState *coil.MagnetState `json:"magnet_state,omitempty"`
}

// statusForError maps controller error kinds onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, coil.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, coil.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, coil.ErrDomain):
		return http.StatusUnprocessableEntity
	case errors.Is(err, coil.ErrHardware):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newErrorResponse(err error) errorResponse {
	resp := errorResponse{Error: err.Error()}
	var se *coil.StageError
	if errors.As(err, &se) {
		resp.Kind = se.Kind.Error()
		resp.Stage = se.Stage
		if se.Axis != nil {
			resp.Axis = se.Axis.String()
		}
	}
	return resp
}

func (s *Server) writeControllerError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusForError(err), newErrorResponse(err))
}
