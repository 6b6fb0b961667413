package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/helmholtz/internal/coil"
	"github.com/banshee-data/helmholtz/internal/config"
	"github.com/banshee-data/helmholtz/internal/db"
	"github.com/banshee-data/helmholtz/internal/field"
)

const benchConfig = `{
  "field_coeffs": {"X": [1.369, -0.0175], "Y": [2.136, 0.0259], "Z": [1.244, -0.0124]},
  "settle_wait": "0s",
  "command_timeout": "1s",
  "state_poll_interval": "0"
}`

func writeBenchConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coil.json")
	require.NoError(t, os.WriteFile(path, []byte(benchConfig), 0o644))
	return path
}

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "helmholtz.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestResolveCalibration(t *testing.T) {
	cfg, err := config.LoadCoilConfig(writeBenchConfig(t))
	require.NoError(t, err)

	cal, limits, err := resolveCalibration(cfg, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 2.136, cal[field.Y].Slope)
	assert.Equal(t, field.SharedLimits(-3, 3), limits)

	_, _, err = resolveCalibration(cfg, nil, "bench")
	assert.ErrorContains(t, err, "requires a database")

	database := openTestDB(t)
	_, _, err = resolveCalibration(cfg, database, "bench")
	assert.ErrorContains(t, err, "not found")

	_, err = database.CreateCalibrationProfile(&db.CalibrationProfile{
		Name: "bench",
		Calibration: field.Calibration{
			field.X: {Slope: 1, Intercept: 0},
			field.Y: {Slope: 1, Intercept: 0},
			field.Z: {Slope: 1, Intercept: 0},
		},
		Limits: field.SharedLimits(-1, 1),
	})
	require.NoError(t, err)

	cal, limits, err = resolveCalibration(cfg, database, "bench")
	require.NoError(t, err)
	assert.Equal(t, 1.0, cal[field.Y].Slope)
	assert.Equal(t, field.SharedLimits(-1, 1), limits)
}

func TestResolveConnections(t *testing.T) {
	cfg, err := config.LoadCoilConfig(writeBenchConfig(t))
	require.NoError(t, err)

	relayConn, sourceConn, err := resolveConnections(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", relayConn.Address)
	assert.Equal(t, "/dev/ttyUSB0", sourceConn.Address)

	database := openTestDB(t)
	_, err = database.CreateDeviceConfig(&db.DeviceConfig{
		Name:     "lab source",
		Role:     db.RoleCurrentSource,
		PortPath: "tcp://192.168.1.50:5025",
		Enabled:  true,
	})
	require.NoError(t, err)
	_, err = database.CreateDeviceConfig(&db.DeviceConfig{
		Name:     "spare relay",
		Role:     db.RoleRelay,
		PortPath: "/dev/ttyACM3",
		Enabled:  false,
	})
	require.NoError(t, err)

	relayConn, sourceConn, err = resolveConnections(cfg, database)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", relayConn.Address, "disabled configs are ignored")
	assert.Equal(t, "tcp://192.168.1.50:5025", sourceConn.Address)
}

func TestNewApp_BadConfig(t *testing.T) {
	_, err := newApp(options{ConfigPath: filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)

	_, err = newApp(options{
		ConfigPath: writeBenchConfig(t),
		DBPath:     filepath.Join(t.TempDir(), "helmholtz.db"),
		Profile:    "nope",
		Dev:        true,
	})
	assert.ErrorContains(t, err, `"nope" not found`)
}

func TestApp_DevModeRoundTrip(t *testing.T) {
	a, err := newApp(options{
		ConfigPath: writeBenchConfig(t),
		Listen:     "127.0.0.1:0",
		DBPath:     filepath.Join(t.TempDir(), "helmholtz.db"),
		Units:      "mT",
		Dev:        true,
		History:    8,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	select {
	case <-a.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("source never initialised")
	}
	assert.True(t, a.supplySim.Remote())

	w := httptest.NewRecorder()
	body := strings.NewReader(`{"magnitude": 0.5, "azimuth": 0.7, "polar": 1.57}`)
	a.mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/field", body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"polarity":"000"`)
	assert.True(t, a.supplySim.Output())
	assert.InDelta(t, 0.2921, a.supplySim.Setpoints().X, 1e-3)

	require.Eventually(t, func() bool { return a.recorder.Len() == 1 }, time.Second, 10*time.Millisecond)

	// Console commands go through the controller, which re-reads the output
	// state once the command has been written.
	console := httptest.NewRequest(http.MethodPost, "/debug/source-send-command-api",
		strings.NewReader(url.Values{"command": {"OUTP:STAT:ALL OFF"}}.Encode()))
	console.RemoteAddr = "127.0.0.1:12345"
	console.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	a.mux.ServeHTTP(w, console)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, a.supplySim.Output())
	assert.Equal(t, coil.MagnetOff, a.ctrl.CachedMagnetState())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.False(t, a.supplySim.Output(), "outputs are disabled on shutdown")
}
