package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/device"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/alarm"
)

// SettingProcessor is the settings key holding runtime overrides of the
// node configuration file.
const SettingProcessor = "processor"

// GetSetting returns the stored JSON value for key, or nil if unset.
func (db *DB) GetSetting(key string) (json.RawMessage, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get setting %q: %w", key, err)
	}
	return json.RawMessage(value), nil
}

// PutSetting stores v (marshalled to JSON) under key.
func (db *DB) PutSetting(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal setting %q: %w", key, err)
	}
	_, err = db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(b), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("put setting %q: %w", key, err)
	}
	return nil
}

// AlarmMask returns the stored mask cells ordered by row then column.
func (db *DB) AlarmMask() ([]alarm.Cell, error) {
	rows, err := db.Query(`SELECT x, y FROM alarm_mask ORDER BY x, y`)
	if err != nil {
		return nil, fmt.Errorf("query alarm mask: %w", err)
	}
	defer rows.Close()

	var cells []alarm.Cell
	for rows.Next() {
		var c alarm.Cell
		if err := rows.Scan(&c.X, &c.Y); err != nil {
			return nil, fmt.Errorf("scan alarm mask: %w", err)
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

// HasAlarmMask reports whether a mask was ever saved. An empty saved mask
// still counts, so that clearing every cell survives a restart.
func (db *DB) HasAlarmMask() (bool, error) {
	raw, err := db.GetSetting("alarm_mask_saved")
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

// SaveAlarmMask replaces the stored mask.
func (db *DB) SaveAlarmMask(cells []alarm.Cell) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM alarm_mask`); err != nil {
		return fmt.Errorf("clear alarm mask: %w", err)
	}
	for _, c := range cells {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO alarm_mask (x, y) VALUES (?, ?)`, c.X, c.Y); err != nil {
			return fmt.Errorf("insert mask cell %s: %w", c, err)
		}
	}
	if _, err := tx.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES ('alarm_mask_saved', 'true', ?)
		ON CONFLICT(key) DO UPDATE SET updated_at = excluded.updated_at`, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("mark alarm mask saved: %w", err)
	}
	return tx.Commit()
}

// RelayState returns the last saved board outputs. ok is false if none were
// ever saved.
func (db *DB) RelayState() (r device.Relays, ok bool, err error) {
	var ge int
	err = db.QueryRow(`SELECT nlr, lr, ge FROM relay_state WHERE id = 1`).Scan(&r.NonLatching, &r.Latching, &ge)
	if errors.Is(err, sql.ErrNoRows) {
		return device.DefaultRelays(), false, nil
	}
	if err != nil {
		return device.Relays{}, false, fmt.Errorf("get relay state: %w", err)
	}
	r.Sensor = ge == 1
	return r, true, nil
}

// SaveRelayState stores the board outputs.
func (db *DB) SaveRelayState(r device.Relays) error {
	ge := 0
	if r.Sensor {
		ge = 1
	}
	_, err := db.Exec(`
		INSERT INTO relay_state (id, nlr, lr, ge, updated_at) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET nlr = excluded.nlr, lr = excluded.lr, ge = excluded.ge, updated_at = excluded.updated_at`,
		r.NonLatching, r.Latching, ge, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("save relay state: %w", err)
	}
	return nil
}
