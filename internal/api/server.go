// Package api serves the coil controller over HTTP/JSON.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/helmholtz/internal/coil"
	"github.com/banshee-data/helmholtz/internal/db"
	"github.com/banshee-data/helmholtz/internal/monitor"
	"github.com/banshee-data/helmholtz/internal/monitoring"
	"github.com/banshee-data/helmholtz/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Options configures a Server. Only Controller is required.
type Options struct {
	Controller *coil.Controller
	// DB enables the calibration profile and device config routes.
	DB *db.DB
	// Recorder backs /api/readings/recent.
	Recorder *monitor.Recorder
	// Units is the default field unit for requests and responses.
	Units string
	// SettleWait is used when a request does not name one.
	SettleWait time.Duration
	// Profile names the calibration profile loaded at startup, if any.
	Profile string
}

type Server struct {
	ctrl     *coil.Controller
	db       *db.DB
	recorder *monitor.Recorder
	units    string
	settle   time.Duration
	profile  string
}

func NewServer(o Options) *Server {
	u := o.Units
	if !units.IsValid(u) {
		u = units.MilliTesla
	}
	return &Server{
		ctrl:     o.Controller,
		db:       o.DB,
		recorder: o.Recorder,
		units:    u,
		settle:   o.SettleWait,
		profile:  o.Profile,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/field", s.handleField)
	mux.HandleFunc("/api/magnet", s.handleMagnet)
	mux.HandleFunc("/api/polarity", s.showPolarity)
	mux.HandleFunc("/api/events", s.streamEvents)
	mux.HandleFunc("/api/readings/recent", s.listRecentReadings)
	mux.HandleFunc("/api/config", s.showConfig)
	if s.db != nil {
		mux.HandleFunc("/api/calibration/profiles", s.handleProfilesOrCreate)
		mux.HandleFunc("/api/calibration/profiles/", s.handleProfileByID)
		mux.HandleFunc("/api/devices", s.handleDevicesOrCreate)
		mux.HandleFunc("/api/devices/", s.handleDeviceByID)
	}
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("failed to write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// requestUnits returns ?units= or the server default.
func (s *Server) requestUnits(r *http.Request) (string, bool) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, true
	}
	return u, units.IsValid(u)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"calibration":    s.ctrl.Calibration(),
		"limits":         s.ctrl.Limits(),
		"units":          s.units,
		"settle_wait_ms": s.settle.Milliseconds(),
		"profile":        s.profile,
		"state":          s.ctrl.State().String(),
	})
}
