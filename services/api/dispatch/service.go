package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldops/dispatch-gateway/services/api/metrics"
)

// Ingestion kinds, used for metrics and logging.
const (
	KindPosition     = "position"
	KindTransmission = "transmission"
	KindTextMessage  = "text_message"
	KindEmergency    = "emergency"
	KindAudio        = "audio"
	KindEvent        = "event"
)

// previewLength bounds the message preview copied into the event log.
const previewLength = 50

// ServiceConfig holds process-level settings of the ingestion service.
type ServiceConfig struct {
	// StorageRoot is the directory audio_storage_path is resolved against.
	StorageRoot string
	// ConfigTTL is how long a dispatch config snapshot is reused.
	ConfigTTL time.Duration
}

// Service implements the ingestion handlers on top of a Store.
type Service struct {
	store       Store
	config      *CachedConfig
	storageRoot string
	logger      zerolog.Logger

	now      func() time.Time
	newToken func() string
}

// NewService wires a Service.
func NewService(store Store, cfg ServiceConfig, logger zerolog.Logger) *Service {
	root := cfg.StorageRoot
	if root == "" {
		root = "."
	}
	return &Service{
		store:       store,
		config:      NewCachedConfig(store, cfg.ConfigTTL),
		storageRoot: root,
		logger:      logger.With().Str("component", "dispatch").Logger(),
		now:         time.Now,
		newToken:    newUploadToken,
	}
}

// Config returns the current dispatch configuration snapshot.
func (s *Service) Config(ctx context.Context) (DispatchConfig, error) {
	return s.config.Load(ctx)
}

// ReloadConfig drops the cached configuration so the next request reads it
// from the store.
func (s *Service) ReloadConfig() {
	s.config.Invalidate()
}

// Authorize loads the configuration and runs the credential gate.
func (s *Service) Authorize(ctx context.Context, key string) (DispatchConfig, error) {
	cfg, err := s.config.Load(ctx)
	if err != nil {
		return cfg, err
	}
	decision := Authorize(cfg, key)
	if err := decision.Err(); err != nil {
		metrics.GateRejections.WithLabelValues(decision.String()).Inc()
		return cfg, err
	}
	return cfg, nil
}

// RecordPosition stores a GPS fix and returns its id.
func (s *Service) RecordPosition(ctx context.Context, f Fields) (id int64, err error) {
	defer s.observe(KindPosition, &err)

	p, err := ValidatePosition(f, s.now())
	if err != nil {
		return 0, err
	}

	id, err = s.store.InsertPosition(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("save position: %w", err)
	}

	s.appendEvent(ctx, KindPosition, EventLogEntry{
		EventType:  EventPositionUpdate,
		RadioDMRID: &p.RadioDMRID,
		EventData: map[string]any{
			"latitude":  p.Latitude,
			"longitude": p.Longitude,
			"altitude":  p.Altitude,
			"speed":     p.Speed,
		},
		EventTimestamp: p.Timestamp,
	})
	return id, nil
}

// TransmissionResult tells which action ran; ID is set for starts.
type TransmissionResult struct {
	Action string
	ID     int64
}

// Transmission dispatches a start or end request.
func (s *Service) Transmission(ctx context.Context, f Fields) (TransmissionResult, error) {
	action, err := TransmissionAction(f)
	if err != nil {
		s.observe(KindTransmission, &err)
		return TransmissionResult{}, err
	}

	if action == ActionEnd {
		return TransmissionResult{Action: ActionEnd}, s.EndTransmission(ctx, f)
	}
	id, err := s.StartTransmission(ctx, f)
	return TransmissionResult{Action: ActionStart, ID: id}, err
}

// StartTransmission opens a transmission and returns its id.
func (s *Service) StartTransmission(ctx context.Context, f Fields) (id int64, err error) {
	defer s.observe(KindTransmission, &err)

	t, err := ValidateTransmissionStart(f, s.now())
	if err != nil {
		return 0, err
	}

	id, err = s.store.StartTransmission(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("start transmission: %w", err)
	}

	s.appendEvent(ctx, KindTransmission, EventLogEntry{
		EventType:      EventTransmissionStart,
		Slot:           &t.Slot,
		RadioDMRID:     &t.RadioDMRID,
		TalkgroupID:    &t.TalkgroupID,
		EventData:      map[string]any{"transmission_id": id},
		EventTimestamp: t.StartedAt,
	})
	return id, nil
}

// EndTransmission closes an open transmission. Unknown and already closed ids
// are rejected with ErrTransmissionNotOpen.
func (s *Service) EndTransmission(ctx context.Context, f Fields) (err error) {
	defer s.observe(KindTransmission, &err)

	e, err := ValidateTransmissionEnd(f, s.now())
	if err != nil {
		return err
	}

	closed, err := s.store.EndTransmission(ctx, e.TransmissionID, e.EndedAt)
	if err != nil {
		if errors.Is(err, ErrTransmissionNotOpen) {
			return err
		}
		return fmt.Errorf("end transmission %d: %w", e.TransmissionID, err)
	}

	// Radio fields are optional on end; fall back to the closed row.
	if e.Slot == nil {
		e.Slot = &closed.Slot
	}
	if e.RadioDMRID == nil {
		e.RadioDMRID = &closed.RadioDMRID
	}
	if e.TalkgroupID == nil {
		e.TalkgroupID = &closed.TalkgroupID
	}

	s.appendEvent(ctx, KindTransmission, EventLogEntry{
		EventType:      EventTransmissionEnd,
		Slot:           e.Slot,
		RadioDMRID:     e.RadioDMRID,
		TalkgroupID:    e.TalkgroupID,
		EventData:      map[string]any{"transmission_id": e.TransmissionID},
		EventTimestamp: e.EndedAt,
	})
	return nil
}

// RecordTextMessage stores a text message and returns its id.
func (s *Service) RecordTextMessage(ctx context.Context, f Fields) (id int64, err error) {
	defer s.observe(KindTextMessage, &err)

	m, err := ValidateTextMessage(f, s.now())
	if err != nil {
		return 0, err
	}

	id, err = s.store.InsertTextMessage(ctx, m)
	if err != nil {
		return 0, fmt.Errorf("save text message: %w", err)
	}

	s.appendEvent(ctx, KindTextMessage, EventLogEntry{
		EventType:   EventTextMessage,
		Slot:        &m.Slot,
		RadioDMRID:  &m.FromRadioDMRID,
		TalkgroupID: m.ToTalkgroupID,
		EventData: map[string]any{
			"to_radio_dmr_id": m.ToRadioDMRID,
			"message_preview": Preview(m.Text, previewLength),
		},
		EventTimestamp: m.Timestamp,
	})
	return id, nil
}

// RecordEmergency stores an emergency alert and returns its id.
func (s *Service) RecordEmergency(ctx context.Context, f Fields) (id int64, err error) {
	defer s.observe(KindEmergency, &err)

	e, err := ValidateEmergency(f, s.now())
	if err != nil {
		return 0, err
	}

	id, err = s.store.InsertEmergency(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("save emergency: %w", err)
	}
	metrics.EmergencyAlerts.Inc()
	s.logger.Error().
		Int64("emergency_id", id).
		Str("radio_dmr_id", e.RadioDMRID).
		Msg("emergency alert received")

	s.appendEvent(ctx, KindEmergency, EventLogEntry{
		EventType:  EventEmergencyCode,
		RadioDMRID: &e.RadioDMRID,
		EventData: map[string]any{
			"latitude":  e.Latitude,
			"longitude": e.Longitude,
		},
		EventTimestamp: e.Timestamp,
	})
	return id, nil
}

// RecordAudio persists the uploaded file and then its database row. If the
// file cannot be written no row is created; if the row insert fails the file
// stays behind for the sweeper.
func (s *Service) RecordAudio(ctx context.Context, f Fields, upload *AudioUpload) (rec AudioRecording, err error) {
	defer s.observe(KindAudio, &err)

	if upload == nil {
		return rec, ErrMissingAudioFile
	}

	meta, err := ValidateAudioMeta(f, s.now())
	if err != nil {
		return rec, err
	}

	cfg, err := s.config.Load(ctx)
	if err != nil {
		return rec, err
	}

	if upload.Err != nil {
		return rec, &UploadError{Err: upload.Err}
	}
	if upload.Size > cfg.MaxAudioFileSize {
		return rec, fmt.Errorf("%w: %d bytes, maximum %d", ErrPayloadTooLarge, upload.Size, cfg.MaxAudioFileSize)
	}

	filename := AudioFilename(s.now(), meta.Slot, meta.RadioDMRID, s.newToken(), upload.Name)
	relPath := AudioRelativePath(cfg.AudioStoragePath, filename)

	size, err := writeAudioFile(s.storageRoot, relPath, upload.Body, cfg.MaxAudioFileSize)
	if err != nil {
		return rec, err
	}
	metrics.AudioBytesTotal.Add(float64(size))

	rec = AudioRecording{
		Slot:            meta.Slot,
		RadioDMRID:      meta.RadioDMRID,
		TalkgroupID:     meta.TalkgroupID,
		FilePath:        relPath,
		DurationSeconds: meta.DurationSeconds,
		FileSizeBytes:   size,
		RecordedAt:      meta.RecordedAt,
	}
	rec.ID, err = s.store.InsertAudioRecording(ctx, rec)
	if err != nil {
		s.logger.Warn().Str("file_path", relPath).Msg("audio row insert failed, file left for sweeper")
		return AudioRecording{}, fmt.Errorf("save audio recording: %w", err)
	}

	s.appendEvent(ctx, KindAudio, EventLogEntry{
		EventType:   EventAudioRecording,
		Slot:        &rec.Slot,
		RadioDMRID:  &rec.RadioDMRID,
		TalkgroupID: &rec.TalkgroupID,
		EventData: map[string]any{
			"duration_seconds": rec.DurationSeconds,
			"file_path":        rec.FilePath,
		},
		EventTimestamp: rec.RecordedAt,
	})
	return rec, nil
}

// RecordEvent appends a caller-defined event. The log is the primary write
// here, so an append failure is returned.
func (s *Service) RecordEvent(ctx context.Context, f Fields) (id int64, err error) {
	defer s.observe(KindEvent, &err)

	e, err := ValidateEvent(f, s.now())
	if err != nil {
		return 0, err
	}

	id, err = s.store.AppendEvent(ctx, EventLogEntry{
		EventType:      e.EventType,
		Slot:           e.Slot,
		RadioDMRID:     e.RadioDMRID,
		TalkgroupID:    e.TalkgroupID,
		EventData:      e.EventData,
		EventTimestamp: e.Timestamp,
	})
	if err != nil {
		return 0, fmt.Errorf("log event: %w", err)
	}
	return id, nil
}

// appendEvent writes the secondary event log entry. Failures are logged and
// counted, never returned.
func (s *Service) appendEvent(ctx context.Context, kind string, e EventLogEntry) {
	if _, err := s.store.AppendEvent(ctx, e); err != nil {
		metrics.EventLogFailures.WithLabelValues(kind).Inc()
		s.logger.Warn().Err(err).Str("event_type", e.EventType).Msg("event log append failed")
	}
}

func (s *Service) observe(kind string, errp *error) {
	err := *errp
	switch {
	case err == nil:
		metrics.RecordIngest(kind, metrics.OutcomeOK)
	case IsValidation(err):
		metrics.RecordIngest(kind, metrics.OutcomeRejected)
		s.logger.Debug().Err(err).Str("kind", kind).Msg("submission rejected")
	default:
		metrics.RecordIngest(kind, metrics.OutcomeError)
		s.logger.Error().Err(err).Str("kind", kind).Msg("ingestion failed")
	}
}

// Preview returns at most n characters of s.
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
