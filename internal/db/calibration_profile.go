package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/helmholtz/internal/field"
)

// CalibrationProfile is a named set of per-axis coefficients and current
// limits.
type CalibrationProfile struct {
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Calibration field.Calibration `json:"calibration"`
	Limits      field.AxisLimits  `json:"limits"`
	CreatedAt   int64             `json:"created_at"`
	UpdatedAt   int64             `json:"updated_at"`
}

// Validate checks the name, coefficients and limits.
func (p *CalibrationProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("profile name is required")
	}
	if err := p.Calibration.Validate(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	if err := p.Limits.Validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	return nil
}

const profileColumns = `id, name, description,
	x_slope, x_intercept, y_slope, y_intercept, z_slope, z_intercept,
	x_min, x_max, y_min, y_max, z_min, z_max,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*CalibrationProfile, error) {
	var p CalibrationProfile
	c, l := &p.Calibration, &p.Limits
	err := row.Scan(&p.ID, &p.Name, &p.Description,
		&c[field.X].Slope, &c[field.X].Intercept,
		&c[field.Y].Slope, &c[field.Y].Intercept,
		&c[field.Z].Slope, &c[field.Z].Intercept,
		&l[field.X].Min, &l[field.X].Max,
		&l[field.Y].Min, &l[field.Y].Max,
		&l[field.Z].Min, &l[field.Z].Max,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func profileArgs(p *CalibrationProfile) []any {
	c, l := p.Calibration, p.Limits
	return []any{p.Name, p.Description,
		c[field.X].Slope, c[field.X].Intercept,
		c[field.Y].Slope, c[field.Y].Intercept,
		c[field.Z].Slope, c[field.Z].Intercept,
		l[field.X].Min, l[field.X].Max,
		l[field.Y].Min, l[field.Y].Max,
		l[field.Z].Min, l[field.Z].Max,
	}
}

// GetCalibrationProfiles returns all profiles ordered by name.
func (db *DB) GetCalibrationProfiles() ([]CalibrationProfile, error) {
	rows, err := db.Query(`SELECT ` + profileColumns + ` FROM calibration_profiles ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration profiles: %w", err)
	}
	defer rows.Close()

	var profiles []CalibrationProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calibration profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// GetCalibrationProfile returns the profile with id, or nil if none exists.
func (db *DB) GetCalibrationProfile(id int) (*CalibrationProfile, error) {
	p, err := scanProfile(db.QueryRow(`SELECT `+profileColumns+` FROM calibration_profiles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calibration profile: %w", err)
	}
	return p, nil
}

// GetCalibrationProfileByName returns the named profile, or nil if none
// exists.
func (db *DB) GetCalibrationProfileByName(name string) (*CalibrationProfile, error) {
	p, err := scanProfile(db.QueryRow(`SELECT `+profileColumns+` FROM calibration_profiles WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calibration profile %q: %w", name, err)
	}
	return p, nil
}

// CreateCalibrationProfile validates and inserts p, returning the new ID.
func (db *DB) CreateCalibrationProfile(p *CalibrationProfile) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	result, err := db.Exec(`INSERT INTO calibration_profiles (name, description,
		x_slope, x_intercept, y_slope, y_intercept, z_slope, z_intercept,
		x_min, x_max, y_min, y_max, z_min, z_max)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, profileArgs(p)...)
	if err != nil {
		return 0, fmt.Errorf("failed to create calibration profile: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// UpdateCalibrationProfile validates p and overwrites the row with p.ID.
func (db *DB) UpdateCalibrationProfile(p *CalibrationProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	args := append(profileArgs(p), p.ID)
	result, err := db.Exec(`UPDATE calibration_profiles
		SET name = ?, description = ?,
		    x_slope = ?, x_intercept = ?, y_slope = ?, y_intercept = ?, z_slope = ?, z_intercept = ?,
		    x_min = ?, x_max = ?, y_min = ?, y_max = ?, z_min = ?, z_max = ?,
		    updated_at = strftime('%s', 'now')
		WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update calibration profile: %w", err)
	}
	return expectOneRow(result, "calibration profile", p.ID)
}

// DeleteCalibrationProfile removes the profile with id.
func (db *DB) DeleteCalibrationProfile(id int) error {
	result, err := db.Exec(`DELETE FROM calibration_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete calibration profile: %w", err)
	}
	return expectOneRow(result, "calibration profile", id)
}

func expectOneRow(result sql.Result, what string, id int) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s with ID %d: %w", what, id, ErrNotFound)
	}
	return nil
}
