package api

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/helmholtz/internal/db"
)

func itoa(i int) string { return strconv.Itoa(i) }

func TestDeviceRoutes(t *testing.T) {
	ts := newTestServer(t, true)

	w := ts.do(t, http.MethodGet, "/api/devices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/devices", DeviceConfigRequest{
		Name:     "bench supply",
		Role:     db.RoleCurrentSource,
		PortPath: "tcp://192.168.1.20:5025",
		Enabled:  true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[db.DeviceConfig](t, w)
	assert.Equal(t, 9600, created.BaudRate)
	assert.Equal(t, "N", created.Parity)

	path := "/api/devices/" + itoa(created.ID)
	w = ts.do(t, http.MethodPut, path, DeviceConfigRequest{
		Name:     "bench supply",
		Role:     db.RoleCurrentSource,
		PortPath: "/dev/ttyUSB0",
		BaudRate: 115200,
		Enabled:  true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 115200, decode[db.DeviceConfig](t, w).BaudRate)

	w = ts.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/dev/ttyUSB0", decode[db.DeviceConfig](t, w).PortPath)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, path, nil).Code)
}

func TestDeviceRoutes_Validation(t *testing.T) {
	ts := newTestServer(t, true)

	tests := []struct {
		name string
		req  DeviceConfigRequest
		want string
	}{
		{"name", DeviceConfigRequest{Role: db.RoleRelay, PortPath: "/dev/ttyACM0"}, "Name is required"},
		{"path", DeviceConfigRequest{Name: "r", Role: db.RoleRelay}, "Port path is required"},
		{"bad path", DeviceConfigRequest{Name: "r", Role: db.RoleRelay, PortPath: "/etc/passwd"}, "Invalid port path"},
		{"role", DeviceConfigRequest{Name: "r", Role: "magnet", PortPath: "/dev/ttyACM0"}, "invalid device role"},
		{"parity", DeviceConfigRequest{Name: "r", Role: db.RoleRelay, PortPath: "/dev/ttyACM0", Parity: "X"}, "parity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/devices", tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}

	w := ts.do(t, http.MethodPut, "/api/devices/99", DeviceConfigRequest{Name: "r", Role: db.RoleRelay, PortPath: "/dev/ttyACM0"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIsValidPortPath(t *testing.T) {
	for path, want := range map[string]bool{
		"/dev/ttyUSB0":              true,
		"/dev/serial/by-id/arduino": true,
		"/dev/cu.usbmodem1101":      true,
		"tcp://10.0.0.5:5025":       true,
		"COM3":                      false,
		"/tmp/port":                 false,
	} {
		assert.Equal(t, want, isValidPortPath(path), path)
	}
}
