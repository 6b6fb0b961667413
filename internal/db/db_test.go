package db

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_AppliesMigrations(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion() error = %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("version = %d dirty = %v, want 2 clean", version, dirty)
	}

	for _, table := range []string{"calibration_profiles", "device_configs"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestNewDB_ReopenIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	first, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	first.Close()

	second, err := NewDB(path)
	if err != nil {
		t.Fatalf("second NewDB() error = %v", err)
	}
	defer second.Close()
	if second.Path() != path {
		t.Errorf("Path() = %q, want %q", second.Path(), path)
	}
}

func TestNewDB_Pragmas(t *testing.T) {
	db := setupTestDB(t)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if strings.ToLower(mode) != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	db := setupTestDB(t)

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	version, _, err := db.MigrateVersion()
	if err != nil || version != 1 {
		t.Fatalf("after down version = %d err = %v, want 1", version, err)
	}
	if _, err := db.GetDeviceConfigs(); err == nil {
		t.Error("device_configs should be gone after rolling back")
	}

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if _, err := db.GetDeviceConfigs(); err != nil {
		t.Errorf("GetDeviceConfigs() after up: %v", err)
	}
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")

	tests := []struct {
		args    []string
		want    string
		wantErr bool
	}{
		{[]string{"up"}, "Current version: 2 (dirty: false)", false},
		{[]string{"down"}, "Current version: 1", false},
		{[]string{"status"}, "Current version: 1", false},
		{[]string{"force", "2"}, "Forced version 2", false},
		{[]string{"force"}, "", true},
		{[]string{"force", "two"}, "", true},
		{[]string{"sideways"}, "Usage: helmholtzd migrate", true},
		{[]string{"help"}, "Actions:", false},
		{nil, "Usage:", true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		err := RunMigrateCommand(tt.args, path, &out)
		if (err != nil) != tt.wantErr {
			t.Errorf("RunMigrateCommand(%q) error = %v, wantErr %v", tt.args, err, tt.wantErr)
		}
		if !strings.Contains(out.String(), tt.want) {
			t.Errorf("RunMigrateCommand(%q) output = %q, want it to contain %q", tt.args, out.String(), tt.want)
		}
	}
}

func localHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.CreateCalibrationProfile(testProfile("bench")); err != nil {
		t.Fatalf("CreateCalibrationProfile() error = %v", err)
	}

	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes() error = %v", err)
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/backup"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/gzip" {
		t.Errorf("Content-Type = %q", ct)
	}

	gz, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("SQLite format 3")) {
		t.Errorf("backup does not look like a sqlite file: %q", data[:min(16, len(data))])
	}
}

func TestAttachAdminRoutes_TailSQL(t *testing.T) {
	db := setupTestDB(t)
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes() error = %v", err)
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/tailsql/"))
	if w.Code == http.StatusNotFound || w.Code >= 500 {
		t.Errorf("tailsql status = %d", w.Code)
	}
}
