package dispatch

import (
	"context"
	"time"
)

// Event type tags written to the unified event log.
const (
	EventPositionUpdate    = "position_update"
	EventTransmissionStart = "transmission_start"
	EventTransmissionEnd   = "transmission_end"
	EventTextMessage       = "text_message"
	EventEmergencyCode     = "emergency_code"
	EventAudioRecording    = "audio_recording"
)

// PositionReport is a single GPS fix reported by a radio.
type PositionReport struct {
	ID         int64     `json:"id"`
	RadioDMRID string    `json:"radio_dmr_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   *float64  `json:"altitude,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Transmission is one key-up on a slot. It is open while EndedAt is nil.
type Transmission struct {
	ID          int64      `json:"id"`
	Slot        string     `json:"slot"`
	RadioDMRID  string     `json:"radio_dmr_id"`
	TalkgroupID string     `json:"talkgroup_id"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// Open reports whether the transmission has not been closed yet.
func (t Transmission) Open() bool {
	return t.EndedAt == nil
}

// TransmissionEnd identifies the transmission to close. The radio fields are
// carried through to the event log only.
type TransmissionEnd struct {
	TransmissionID int64
	Slot           *string
	RadioDMRID     *string
	TalkgroupID    *string
	EndedAt        time.Time
}

// TextMessage is a DMR short data message.
type TextMessage struct {
	ID             int64     `json:"id"`
	Slot           string    `json:"slot"`
	FromRadioDMRID string    `json:"from_radio_dmr_id"`
	ToRadioDMRID   *string   `json:"to_radio_dmr_id,omitempty"`
	ToTalkgroupID  *string   `json:"to_talkgroup_id,omitempty"`
	Text           string    `json:"message_text"`
	Timestamp      time.Time `json:"timestamp"`
}

// EmergencyAlert is an emergency button press. Stored with status "active".
type EmergencyAlert struct {
	ID         int64     `json:"id"`
	RadioDMRID string    `json:"radio_dmr_id"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AudioRecording references an audio file persisted under the storage root.
type AudioRecording struct {
	ID              int64     `json:"id"`
	Slot            string    `json:"slot"`
	RadioDMRID      string    `json:"radio_dmr_id"`
	TalkgroupID     string    `json:"talkgroup_id"`
	FilePath        string    `json:"file_path"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	FileSizeBytes   int64     `json:"file_size_bytes"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// EventLogEntry is one row of the unified event log.
type EventLogEntry struct {
	ID             int64     `json:"id"`
	EventType      string    `json:"event_type"`
	Slot           *string   `json:"slot,omitempty"`
	RadioDMRID     *string   `json:"radio_dmr_id,omitempty"`
	TalkgroupID    *string   `json:"talkgroup_id,omitempty"`
	EventData      any       `json:"event_data,omitempty"`
	EventTimestamp time.Time `json:"event_timestamp"`
}

// ConfigSource returns the raw key/value rows of the dispatch configuration.
type ConfigSource interface {
	DispatchConfigValues(ctx context.Context) (map[string]string, error)
}

// EventLog is the append-only sink for ingested facts.
type EventLog interface {
	AppendEvent(ctx context.Context, e EventLogEntry) (int64, error)
}

// Store persists ingested telemetry. Implementations live in services/api/db.
type Store interface {
	ConfigSource
	EventLog

	InsertPosition(ctx context.Context, p PositionReport) (int64, error)
	// StartTransmission closes any open transmission on the same slot and
	// inserts the new one as open.
	StartTransmission(ctx context.Context, t Transmission) (int64, error)
	// EndTransmission returns the closed transmission, or
	// ErrTransmissionNotOpen when id is unknown or already closed.
	EndTransmission(ctx context.Context, id int64, endedAt time.Time) (Transmission, error)
	InsertTextMessage(ctx context.Context, m TextMessage) (int64, error)
	InsertEmergency(ctx context.Context, e EmergencyAlert) (int64, error)
	InsertAudioRecording(ctx context.Context, a AudioRecording) (int64, error)
}
