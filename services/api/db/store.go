package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldops/dispatch-gateway/services/api/dispatch"
)

// Store wraps database access helpers.
type Store struct {
	pool *pgxpool.Pool
}

var _ dispatch.Store = (*Store)(nil)

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InitSchema creates the dispatch tables and seeds configuration defaults.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

const dispatchConfigSQL = `
    SELECT config_key, COALESCE(config_value, '')
    FROM dispatch_raspberry_config
`

// DispatchConfigValues returns the raw configuration rows.
func (s *Store) DispatchConfigValues(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, dispatchConfigSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}

// SetDispatchConfigValue upserts one configuration row.
func (s *Store) SetDispatchConfigValue(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO dispatch_raspberry_config (config_key, config_value, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (config_key) DO UPDATE
SET config_value = EXCLUDED.config_value,
    updated_at = NOW()`, key, value)
	return err
}

const insertPositionSQL = `
    INSERT INTO dispatch_positions
        (radio_dmr_id, latitude, longitude, altitude, speed, heading, accuracy, timestamp, received_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
    RETURNING id
`

// InsertPosition stores a GPS fix.
func (s *Store) InsertPosition(ctx context.Context, p dispatch.PositionReport) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, insertPositionSQL,
		p.RadioDMRID,
		p.Latitude,
		p.Longitude,
		p.Altitude,
		p.Speed,
		p.Heading,
		p.Accuracy,
		p.Timestamp,
	).Scan(&id)
	return id, err
}

const closeSlotSQL = `
    UPDATE dispatch_transmissions
    SET is_active = FALSE,
        transmission_end = $2,
        duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($2::timestamptz - transmission_start)))::integer,
        updated_at = NOW()
    WHERE slot = $1 AND is_active
`

const insertTransmissionSQL = `
    INSERT INTO dispatch_transmissions
        (slot, radio_dmr_id, talkgroup_id, transmission_start, is_active, created_at)
    VALUES ($1, $2, $3, $4, TRUE, NOW())
    RETURNING id
`

// StartTransmission closes whatever is open on the slot and opens t.
func (s *Store) StartTransmission(ctx context.Context, t dispatch.Transmission) (int64, error) {
	var id int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, closeSlotSQL, t.Slot, t.StartedAt); err != nil {
			return err
		}
		return tx.QueryRow(ctx, insertTransmissionSQL, t.Slot, t.RadioDMRID, t.TalkgroupID, t.StartedAt).Scan(&id)
	})
	return id, err
}

const endTransmissionSQL = `
    UPDATE dispatch_transmissions
    SET is_active = FALSE,
        transmission_end = $2,
        duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($2::timestamptz - transmission_start)))::integer,
        updated_at = NOW()
    WHERE id = $1 AND is_active
    RETURNING id, slot, radio_dmr_id, talkgroup_id, transmission_start, transmission_end
`

// EndTransmission closes an open transmission and returns it.
func (s *Store) EndTransmission(ctx context.Context, id int64, endedAt time.Time) (dispatch.Transmission, error) {
	var t dispatch.Transmission
	err := s.pool.QueryRow(ctx, endTransmissionSQL, id, endedAt).Scan(
		&t.ID,
		&t.Slot,
		&t.RadioDMRID,
		&t.TalkgroupID,
		&t.StartedAt,
		&t.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, dispatch.ErrTransmissionNotOpen
	}
	return t, err
}

const getTransmissionSQL = `
    SELECT id, slot, radio_dmr_id, talkgroup_id, transmission_start, transmission_end
    FROM dispatch_transmissions
    WHERE id = $1
`

// GetTransmission returns a transmission by id, or nil when absent.
func (s *Store) GetTransmission(ctx context.Context, id int64) (*dispatch.Transmission, error) {
	var t dispatch.Transmission
	err := s.pool.QueryRow(ctx, getTransmissionSQL, id).Scan(
		&t.ID,
		&t.Slot,
		&t.RadioDMRID,
		&t.TalkgroupID,
		&t.StartedAt,
		&t.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const activeTransmissionsSQL = `
    SELECT id, slot, radio_dmr_id, talkgroup_id, transmission_start, transmission_end
    FROM dispatch_transmissions
    WHERE is_active
    ORDER BY slot, transmission_start
`

// ActiveTransmissions returns the open transmissions, one per slot at most.
func (s *Store) ActiveTransmissions(ctx context.Context) ([]dispatch.Transmission, error) {
	rows, err := s.pool.Query(ctx, activeTransmissionsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]dispatch.Transmission, 0)
	for rows.Next() {
		var t dispatch.Transmission
		if err := rows.Scan(&t.ID, &t.Slot, &t.RadioDMRID, &t.TalkgroupID, &t.StartedAt, &t.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const insertTextMessageSQL = `
    INSERT INTO dispatch_text_messages
        (slot, from_radio_dmr_id, to_radio_dmr_id, to_talkgroup_id, message_text, message_timestamp, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, NOW())
    RETURNING id
`

// InsertTextMessage stores a text message.
func (s *Store) InsertTextMessage(ctx context.Context, m dispatch.TextMessage) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, insertTextMessageSQL,
		m.Slot,
		m.FromRadioDMRID,
		m.ToRadioDMRID,
		m.ToTalkgroupID,
		m.Text,
		m.Timestamp,
	).Scan(&id)
	return id, err
}

const insertEmergencySQL = `
    INSERT INTO dispatch_emergency_codes
        (radio_dmr_id, latitude, longitude, emergency_timestamp, status, created_at)
    VALUES ($1, $2, $3, $4, 'active', NOW())
    RETURNING id
`

// InsertEmergency stores an emergency alert as active.
func (s *Store) InsertEmergency(ctx context.Context, e dispatch.EmergencyAlert) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, insertEmergencySQL, e.RadioDMRID, e.Latitude, e.Longitude, e.Timestamp).Scan(&id)
	return id, err
}

const insertAudioSQL = `
    INSERT INTO dispatch_audio_recordings
        (slot, radio_dmr_id, talkgroup_id, file_path, duration_seconds, file_size_bytes, recorded_at, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
    RETURNING id
`

// InsertAudioRecording stores the row of an already persisted audio file.
func (s *Store) InsertAudioRecording(ctx context.Context, a dispatch.AudioRecording) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, insertAudioSQL,
		a.Slot,
		a.RadioDMRID,
		a.TalkgroupID,
		a.FilePath,
		a.DurationSeconds,
		a.FileSizeBytes,
		a.RecordedAt,
	).Scan(&id)
	return id, err
}

// AudioFilePaths lists every file_path referenced by an audio row.
func (s *Store) AudioFilePaths(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT file_path FROM dispatch_audio_recordings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

const insertEventSQL = `
    INSERT INTO dispatch_events
        (slot, event_type, radio_dmr_id, talkgroup_id, event_data, event_timestamp, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, NOW())
    RETURNING id
`

// AppendEvent adds an entry to the unified event log.
func (s *Store) AppendEvent(ctx context.Context, e dispatch.EventLogEntry) (int64, error) {
	data, err := encodeEventData(e.EventData)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.pool.QueryRow(ctx, insertEventSQL,
		e.Slot,
		e.EventType,
		e.RadioDMRID,
		e.TalkgroupID,
		data,
		e.EventTimestamp,
	).Scan(&id)
	return id, err
}

const recentEventsSQL = `
    SELECT id, event_type, slot, radio_dmr_id, talkgroup_id, event_data, event_timestamp
    FROM dispatch_events
    ORDER BY id DESC
    LIMIT $1
`

// RecentEvents returns the newest event log entries, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]dispatch.EventLogEntry, error) {
	rows, err := s.pool.Query(ctx, recentEventsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]dispatch.EventLogEntry, 0, limit)
	for rows.Next() {
		var (
			e   dispatch.EventLogEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.Slot, &e.RadioDMRID, &e.TalkgroupID, &raw, &e.EventTimestamp); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.EventData); err != nil {
				return nil, fmt.Errorf("decode event_data of event %d: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// encodeEventData renders the payload as JSON text, or nil for SQL NULL.
func encodeEventData(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode event_data: %w", err)
	}
	return string(b), nil
}
