package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/helmholtz/internal/serialmux"
)

// DeviceRole names the instrument a DeviceConfig connects to.
type DeviceRole string

const (
	RoleRelay         DeviceRole = "relay"
	RoleCurrentSource DeviceRole = "current_source"
)

// DeviceConfig is a stored connection setting for one instrument. PortPath
// is a serial device path or a tcp://host:port address.
type DeviceConfig struct {
	ID          int        `json:"id"`
	Name        string     `json:"name"`
	Role        DeviceRole `json:"role"`
	PortPath    string     `json:"port_path"`
	BaudRate    int        `json:"baud_rate"`
	DataBits    int        `json:"data_bits"`
	StopBits    int        `json:"stop_bits"`
	Parity      string     `json:"parity"`
	Enabled     bool       `json:"enabled"`
	Description string     `json:"description"`
	CreatedAt   int64      `json:"created_at"`
	UpdatedAt   int64      `json:"updated_at"`
}

// Options returns the serial parameters of the config.
func (c *DeviceConfig) Options() serialmux.PortOptions {
	return serialmux.PortOptions{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		StopBits: c.StopBits,
		Parity:   c.Parity,
	}
}

// Validate checks the role, path and serial parameters, filling defaults.
func (c *DeviceConfig) Validate() error {
	if c.Role != RoleRelay && c.Role != RoleCurrentSource {
		return fmt.Errorf("invalid device role %q", c.Role)
	}
	if strings.TrimSpace(c.PortPath) == "" {
		return errors.New("port_path is required")
	}
	opts, err := c.Options().Normalize()
	if err != nil {
		return err
	}
	c.BaudRate, c.DataBits, c.StopBits, c.Parity = opts.BaudRate, opts.DataBits, opts.StopBits, opts.Parity
	return nil
}

const deviceColumns = `id, name, role, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description, created_at, updated_at`

func scanDevice(row rowScanner) (*DeviceConfig, error) {
	var c DeviceConfig
	var enabled int
	err := row.Scan(&c.ID, &c.Name, &c.Role, &c.PortPath, &c.BaudRate, &c.DataBits, &c.StopBits,
		&c.Parity, &enabled, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Enabled = enabled == 1
	return &c, nil
}

func (db *DB) queryDevices(query string, args ...any) ([]DeviceConfig, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query device configs: %w", err)
	}
	defer rows.Close()

	var configs []DeviceConfig
	for rows.Next() {
		c, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device config: %w", err)
		}
		configs = append(configs, *c)
	}
	return configs, rows.Err()
}

// GetDeviceConfigs returns all device configurations.
func (db *DB) GetDeviceConfigs() ([]DeviceConfig, error) {
	return db.queryDevices(`SELECT ` + deviceColumns + ` FROM device_configs ORDER BY created_at ASC, id ASC`)
}

// GetDeviceConfig returns a single configuration by ID, or nil if none exists.
func (db *DB) GetDeviceConfig(id int) (*DeviceConfig, error) {
	c, err := scanDevice(db.QueryRow(`SELECT `+deviceColumns+` FROM device_configs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device config: %w", err)
	}
	return c, nil
}

// GetEnabledDeviceConfig returns the most recently updated enabled config for
// role, or nil if there is none.
func (db *DB) GetEnabledDeviceConfig(role DeviceRole) (*DeviceConfig, error) {
	c, err := scanDevice(db.QueryRow(`SELECT `+deviceColumns+` FROM device_configs
		WHERE role = ? AND enabled = 1
		ORDER BY updated_at DESC, id DESC LIMIT 1`, role))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s device config: %w", role, err)
	}
	return c, nil
}

// CreateDeviceConfig validates and inserts c, returning the new ID.
func (db *DB) CreateDeviceConfig(c *DeviceConfig) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	result, err := db.Exec(`INSERT INTO device_configs (name, role, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.Role, c.PortPath, c.BaudRate, c.DataBits, c.StopBits, c.Parity, boolToInt(c.Enabled), c.Description)
	if err != nil {
		return 0, fmt.Errorf("failed to create device config: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// UpdateDeviceConfig validates c and overwrites the row with c.ID.
func (db *DB) UpdateDeviceConfig(c *DeviceConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	result, err := db.Exec(`UPDATE device_configs
		SET name = ?, role = ?, port_path = ?, baud_rate = ?, data_bits = ?, stop_bits = ?,
		    parity = ?, enabled = ?, description = ?, updated_at = strftime('%s', 'now')
		WHERE id = ?`,
		c.Name, c.Role, c.PortPath, c.BaudRate, c.DataBits, c.StopBits, c.Parity, boolToInt(c.Enabled), c.Description, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update device config: %w", err)
	}
	return expectOneRow(result, "device config", c.ID)
}

// DeleteDeviceConfig deletes a device configuration.
func (db *DB) DeleteDeviceConfig(id int) error {
	result, err := db.Exec(`DELETE FROM device_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device config: %w", err)
	}
	return expectOneRow(result, "device config", id)
}
