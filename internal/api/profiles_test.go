package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/helmholtz/internal/db"
	"github.com/banshee-data/helmholtz/internal/field"
)

func TestProfileRoutes(t *testing.T) {
	ts := newTestServer(t, true)

	w := ts.do(t, http.MethodGet, "/api/calibration/profiles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/calibration/profiles", db.CalibrationProfile{
		Name:        "lab",
		Calibration: labCalibration,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[db.CalibrationProfile](t, w)
	assert.NotZero(t, created.ID)
	assert.Equal(t, field.SharedLimits(-3, 3), created.Limits, "omitted limits take the controller's")

	w = ts.do(t, http.MethodPost, "/api/calibration/profiles", db.CalibrationProfile{Name: "lab", Calibration: labCalibration})
	assert.Equal(t, http.StatusConflict, w.Code)

	bad := labCalibration
	bad[field.Z].Slope = 0
	w = ts.do(t, http.MethodPost, "/api/calibration/profiles", db.CalibrationProfile{Name: "broken", Calibration: bad})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path := "/api/calibration/profiles/" + itoa(created.ID)
	w = ts.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "lab", decode[db.CalibrationProfile](t, w).Name)

	created.Description = "after coil swap"
	created.Calibration[field.X].Slope = 1.4
	w = ts.do(t, http.MethodPut, path, created)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[db.CalibrationProfile](t, w)
	assert.Equal(t, 1.4, updated.Calibration[field.X].Slope)
	assert.Equal(t, "after coil swap", updated.Description)

	w = ts.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPut, path, created).Code)
}

func TestProfileRoutes_BadIDs(t *testing.T) {
	ts := newTestServer(t, true)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/calibration/profiles/", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/calibration/profiles/abc", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(t, http.MethodPatch, "/api/calibration/profiles/1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/calibration/profiles", "{").Code)
}
