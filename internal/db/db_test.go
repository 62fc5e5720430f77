package db

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/device"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/alarm"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "grideye.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n))
	return n > 0
}

func TestNewDB_MigratesToLatest(t *testing.T) {
	db := newTestDB(t)

	status, err := db.GetMigrationStatus(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, MigrationStatus{Version: 2, Latest: 2}, status)
	assert.False(t, status.Pending())

	for _, table := range []string{"settings", "alarm_mask", "relay_state", "alarm_events"} {
		assert.True(t, tableExists(t, db, table), table)
	}
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout, foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 5000, busyTimeout)
	assert.Equal(t, 1, foreignKeys)
}

func TestReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grideye.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.SaveRelayState(device.Relays{NonLatching: 3, Latching: 1, Sensor: true}))
	require.NoError(t, db.Close())

	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()
	r, ok, err := db.RelayState()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, device.Relays{NonLatching: 3, Latching: 1, Sensor: true}, r)
}

func TestRunMigrateCommand(t *testing.T) {
	db := newTestDB(t)
	var out bytes.Buffer

	require.NoError(t, RunMigrateCommand(&out, db, []string{"down"}))
	assert.Contains(t, out.String(), "Current version: 1")
	assert.False(t, tableExists(t, db, "alarm_events"))
	assert.True(t, tableExists(t, db, "settings"))

	out.Reset()
	require.NoError(t, RunMigrateCommand(&out, db, []string{"status"}))
	assert.Contains(t, out.String(), "Current version: 1")
	assert.Contains(t, out.String(), "Latest version: 2")

	require.NoError(t, RunMigrateCommand(io.Discard, db, []string{"up"}))
	assert.True(t, tableExists(t, db, "alarm_events"))

	require.NoError(t, RunMigrateCommand(io.Discard, db, []string{"version", "1"}))
	v, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)

	out.Reset()
	require.NoError(t, RunMigrateCommand(&out, db, []string{"force", "2"}))
	assert.Contains(t, out.String(), "forced to 2")
	v, _, err = db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	for _, args := range [][]string{nil, {"sideways"}, {"force"}, {"version", "x"}} {
		assert.Error(t, RunMigrateCommand(io.Discard, db, args), "%v", args)
	}
}

func TestOpenDB_NoSchema(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "bare.db"))
	require.NoError(t, err)
	defer db.Close()

	v, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, dirty)
	assert.False(t, tableExists(t, db, "settings"))
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)

	got, err := db.GetSetting(SettingProcessor)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, db.PutSetting(SettingProcessor, map[string]any{"mode": "ANY"}))
	require.NoError(t, db.PutSetting(SettingProcessor, map[string]any{"mode": "BOTH", "threshold_abs": 25}))
	got, err = db.GetSetting(SettingProcessor)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"BOTH","threshold_abs":25}`, string(got))

	assert.Error(t, db.PutSetting("bad", func() {}))
}

func TestAlarmMask(t *testing.T) {
	db := newTestDB(t)

	saved, err := db.HasAlarmMask()
	require.NoError(t, err)
	assert.False(t, saved)

	require.NoError(t, db.SaveAlarmMask([]alarm.Cell{{X: 3, Y: 1}, {X: 0, Y: 7}, {X: 3, Y: 1}}))
	cells, err := db.AlarmMask()
	require.NoError(t, err)
	assert.Equal(t, []alarm.Cell{{X: 0, Y: 7}, {X: 3, Y: 1}}, cells)

	require.NoError(t, db.SaveAlarmMask(nil))
	cells, err = db.AlarmMask()
	require.NoError(t, err)
	assert.Empty(t, cells)
	saved, err = db.HasAlarmMask()
	require.NoError(t, err)
	assert.True(t, saved, "an emptied mask is still a saved mask")
}

func TestRelayState(t *testing.T) {
	db := newTestDB(t)

	r, ok, err := db.RelayState()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, device.DefaultRelays(), r)

	want := device.Relays{NonLatching: 0x81, Latching: 0x07, Sensor: false}
	require.NoError(t, db.SaveRelayState(want))
	r, ok, err = db.RelayState()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, r)
}

func TestAlarmEvents(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	set := &AlarmEvent{Kind: "SET", Time: base, Points: []grid.Point{{X: 2, Y: 2, Value: 26}}}
	require.NoError(t, db.RecordAlarmEvent(set))
	assert.NotEmpty(t, set.EventID)
	require.NoError(t, db.RecordAlarmEvent(&AlarmEvent{Kind: "RESET", Time: base.Add(time.Minute)}))

	events, err := db.RecentAlarmEvents(0)
	require.NoError(t, err)
	want := []AlarmEvent{
		{EventID: events[0].EventID, Kind: "RESET", Time: base.Add(time.Minute), Points: []grid.Point{}},
		{EventID: set.EventID, Kind: "SET", Time: base, Points: set.Points},
	}
	assert.Empty(t, cmp.Diff(want, events))

	events, err = db.RecentAlarmEvents(1)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	assert.Error(t, db.RecordAlarmEvent(&AlarmEvent{Kind: "MAYBE", Time: base}), "kind is constrained")
}

func TestAdminRoutes_Backup(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.SaveRelayState(device.Relays{Latching: 1, Sensor: true}))

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "grideye-backup-")

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("SQLite format 3\x00")))
}
