// Package sqlite is the single-file backend of the dispatch gateway, for
// field deployments without a PostgreSQL server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/fieldops/dispatch-gateway/services/api/dispatch"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

var _ dispatch.Store = (*Store)(nil)

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InitSchema ensures the dispatch tables exist and seeds configuration defaults.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dispatch_raspberry_config (
			config_key TEXT PRIMARY KEY,
			config_value TEXT,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`INSERT OR IGNORE INTO dispatch_raspberry_config (config_key, config_value) VALUES
			('api_enabled', '0'),
			('api_key', ''),
			('audio_storage_path', 'uploads/dispatch/audio/'),
			('max_audio_file_size', '10485760'),
			('position_update_interval', '60'),
			('position_inactive_threshold', '1800');`,
		`CREATE TABLE IF NOT EXISTS dispatch_positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			radio_dmr_id TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			altitude REAL,
			speed REAL,
			heading REAL,
			accuracy REAL,
			timestamp TEXT NOT NULL,
			received_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_positions_radio_time ON dispatch_positions(radio_dmr_id, timestamp);`,
		`CREATE TABLE IF NOT EXISTS dispatch_transmissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			slot TEXT NOT NULL,
			radio_dmr_id TEXT NOT NULL,
			talkgroup_id TEXT NOT NULL,
			transmission_start TEXT NOT NULL,
			transmission_end TEXT,
			duration_seconds INTEGER,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
			updated_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_transmissions_slot_active ON dispatch_transmissions(slot, is_active);`,
		`CREATE TABLE IF NOT EXISTS dispatch_text_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			slot TEXT NOT NULL,
			from_radio_dmr_id TEXT NOT NULL,
			to_radio_dmr_id TEXT,
			to_talkgroup_id TEXT,
			message_text TEXT NOT NULL,
			message_timestamp TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE TABLE IF NOT EXISTS dispatch_emergency_codes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			radio_dmr_id TEXT NOT NULL,
			latitude REAL,
			longitude REAL,
			emergency_timestamp TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE TABLE IF NOT EXISTS dispatch_audio_recordings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			slot TEXT NOT NULL,
			radio_dmr_id TEXT NOT NULL,
			talkgroup_id TEXT NOT NULL,
			file_path TEXT NOT NULL,
			duration_seconds REAL,
			file_size_bytes INTEGER,
			recorded_at TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE TABLE IF NOT EXISTS dispatch_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			slot TEXT,
			event_type TEXT NOT NULL,
			radio_dmr_id TEXT,
			talkgroup_id TEXT,
			event_data TEXT,
			event_timestamp TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_events_time ON dispatch_events(event_timestamp);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", raw, err)
	}
	return t, nil
}

// DispatchConfigValues returns all configuration entries as a map.
func (s *Store) DispatchConfigValues(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT config_key, COALESCE(config_value, '') FROM dispatch_raspberry_config;`)
	if err != nil {
		return nil, fmt.Errorf("query dispatch config: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan dispatch config: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatch config: %w", err)
	}
	return values, nil
}

// SetDispatchConfigValue stores or updates a configuration key/value pair.
func (s *Store) SetDispatchConfigValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO dispatch_raspberry_config (config_key, config_value, updated_at) VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		 ON CONFLICT(config_key) DO UPDATE SET config_value = excluded.config_value, updated_at = excluded.updated_at;`,
		key,
		value,
	)
	if err != nil {
		return fmt.Errorf("upsert dispatch config: %w", err)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, what, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", what, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", what, err)
	}
	return id, nil
}

// InsertPosition persists a GPS fix.
func (s *Store) InsertPosition(ctx context.Context, p dispatch.PositionReport) (int64, error) {
	return s.insert(ctx, "position",
		`INSERT INTO dispatch_positions (radio_dmr_id, latitude, longitude, altitude, speed, heading, accuracy, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		p.RadioDMRID,
		p.Latitude,
		p.Longitude,
		p.Altitude,
		p.Speed,
		p.Heading,
		p.Accuracy,
		formatTime(p.Timestamp),
	)
}

const closeTransmissionSet = `
	SET is_active = 0,
		transmission_end = ?,
		duration_seconds = MAX(0, CAST(ROUND((julianday(?) - julianday(transmission_start)) * 86400) AS INTEGER)),
		updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`

// StartTransmission closes the open transmission on the slot, if any, and
// inserts the new one in the same transaction.
func (s *Store) StartTransmission(ctx context.Context, t dispatch.Transmission) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin start transmission: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	started := formatTime(t.StartedAt)
	if _, err := tx.ExecContext(ctx,
		`UPDATE dispatch_transmissions`+closeTransmissionSet+` WHERE slot = ? AND is_active = 1;`,
		started, started, t.Slot,
	); err != nil {
		return 0, fmt.Errorf("close open transmissions on slot %s: %w", t.Slot, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO dispatch_transmissions (slot, radio_dmr_id, talkgroup_id, transmission_start, is_active) VALUES (?, ?, ?, ?, 1);`,
		t.Slot, t.RadioDMRID, t.TalkgroupID, started,
	)
	if err != nil {
		return 0, fmt.Errorf("insert transmission: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert transmission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit start transmission: %w", err)
	}
	return id, nil
}

// EndTransmission closes an open transmission and returns it.
func (s *Store) EndTransmission(ctx context.Context, id int64, endedAt time.Time) (dispatch.Transmission, error) {
	var (
		t                dispatch.Transmission
		startStr, endStr string
	)
	ended := formatTime(endedAt)
	err := s.db.QueryRowContext(ctx,
		`UPDATE dispatch_transmissions`+closeTransmissionSet+` WHERE id = ? AND is_active = 1
		RETURNING id, slot, radio_dmr_id, talkgroup_id, transmission_start, transmission_end;`,
		ended, ended, id,
	).Scan(&t.ID, &t.Slot, &t.RadioDMRID, &t.TalkgroupID, &startStr, &endStr)
	if errors.Is(err, sql.ErrNoRows) {
		return t, dispatch.ErrTransmissionNotOpen
	}
	if err != nil {
		return t, fmt.Errorf("end transmission: %w", err)
	}

	if t.StartedAt, err = parseTime(startStr); err != nil {
		return t, err
	}
	end, err := parseTime(endStr)
	if err != nil {
		return t, err
	}
	t.EndedAt = &end
	return t, nil
}

// GetTransmission returns a transmission by id, or nil when absent.
func (s *Store) GetTransmission(ctx context.Context, id int64) (*dispatch.Transmission, error) {
	var (
		t        dispatch.Transmission
		startStr string
		endStr   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, slot, radio_dmr_id, talkgroup_id, transmission_start, transmission_end FROM dispatch_transmissions WHERE id = ?;`,
		id,
	).Scan(&t.ID, &t.Slot, &t.RadioDMRID, &t.TalkgroupID, &startStr, &endStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query transmission: %w", err)
	}

	if t.StartedAt, err = parseTime(startStr); err != nil {
		return nil, err
	}
	if endStr.Valid {
		ended, err := parseTime(endStr.String)
		if err != nil {
			return nil, err
		}
		t.EndedAt = &ended
	}
	return &t, nil
}

// ActiveTransmissions returns the open transmissions, one per slot at most.
func (s *Store) ActiveTransmissions(ctx context.Context) ([]dispatch.Transmission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, slot, radio_dmr_id, talkgroup_id, transmission_start FROM dispatch_transmissions WHERE is_active = 1 ORDER BY slot, transmission_start;`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active transmissions: %w", err)
	}
	defer rows.Close()

	out := make([]dispatch.Transmission, 0)
	for rows.Next() {
		var (
			t        dispatch.Transmission
			startStr string
		)
		if err := rows.Scan(&t.ID, &t.Slot, &t.RadioDMRID, &t.TalkgroupID, &startStr); err != nil {
			return nil, fmt.Errorf("scan transmission: %w", err)
		}
		if t.StartedAt, err = parseTime(startStr); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transmissions: %w", err)
	}
	return out, nil
}

// InsertTextMessage persists a text message.
func (s *Store) InsertTextMessage(ctx context.Context, m dispatch.TextMessage) (int64, error) {
	return s.insert(ctx, "text message",
		`INSERT INTO dispatch_text_messages (slot, from_radio_dmr_id, to_radio_dmr_id, to_talkgroup_id, message_text, message_timestamp) VALUES (?, ?, ?, ?, ?, ?);`,
		m.Slot,
		m.FromRadioDMRID,
		m.ToRadioDMRID,
		m.ToTalkgroupID,
		m.Text,
		formatTime(m.Timestamp),
	)
}

// InsertEmergency persists an emergency alert as active.
func (s *Store) InsertEmergency(ctx context.Context, e dispatch.EmergencyAlert) (int64, error) {
	return s.insert(ctx, "emergency",
		`INSERT INTO dispatch_emergency_codes (radio_dmr_id, latitude, longitude, emergency_timestamp, status) VALUES (?, ?, ?, ?, 'active');`,
		e.RadioDMRID,
		e.Latitude,
		e.Longitude,
		formatTime(e.Timestamp),
	)
}

// InsertAudioRecording persists the row of an already written audio file.
func (s *Store) InsertAudioRecording(ctx context.Context, a dispatch.AudioRecording) (int64, error) {
	return s.insert(ctx, "audio recording",
		`INSERT INTO dispatch_audio_recordings (slot, radio_dmr_id, talkgroup_id, file_path, duration_seconds, file_size_bytes, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		a.Slot,
		a.RadioDMRID,
		a.TalkgroupID,
		a.FilePath,
		a.DurationSeconds,
		a.FileSizeBytes,
		formatTime(a.RecordedAt),
	)
}

// AudioFilePaths lists every file_path referenced by an audio row.
func (s *Store) AudioFilePaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file_path FROM dispatch_audio_recordings;`)
	if err != nil {
		return nil, fmt.Errorf("query audio paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan audio path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audio paths: %w", err)
	}
	return paths, nil
}

// AppendEvent adds an entry to the unified event log.
func (s *Store) AppendEvent(ctx context.Context, e dispatch.EventLogEntry) (int64, error) {
	var data sql.NullString
	if e.EventData != nil {
		b, err := json.Marshal(e.EventData)
		if err != nil {
			return 0, fmt.Errorf("encode event_data: %w", err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	}

	return s.insert(ctx, "event",
		`INSERT INTO dispatch_events (slot, event_type, radio_dmr_id, talkgroup_id, event_data, event_timestamp) VALUES (?, ?, ?, ?, ?, ?);`,
		e.Slot,
		e.EventType,
		e.RadioDMRID,
		e.TalkgroupID,
		data,
		formatTime(e.EventTimestamp),
	)
}

// RecentEvents returns the newest event log entries, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]dispatch.EventLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, slot, radio_dmr_id, talkgroup_id, event_data, event_timestamp FROM dispatch_events ORDER BY id DESC LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]dispatch.EventLogEntry, 0, limit)
	for rows.Next() {
		var (
			e                      dispatch.EventLogEntry
			slot, radio, talkgroup sql.NullString
			data                   sql.NullString
			tsStr                  string
		)
		if err := rows.Scan(&e.ID, &e.EventType, &slot, &radio, &talkgroup, &data, &tsStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Slot = nullableString(slot)
		e.RadioDMRID = nullableString(radio)
		e.TalkgroupID = nullableString(talkgroup)
		if e.EventTimestamp, err = parseTime(tsStr); err != nil {
			return nil, fmt.Errorf("event %d: %w", e.ID, err)
		}
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &e.EventData); err != nil {
				return nil, fmt.Errorf("decode event_data of event %d: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// CountRows returns the number of rows in one of the dispatch tables.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	switch table {
	case "dispatch_positions", "dispatch_transmissions", "dispatch_text_messages",
		"dispatch_emergency_codes", "dispatch_audio_recordings", "dispatch_events":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+`;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
