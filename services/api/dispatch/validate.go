package dispatch

import (
	"time"
)

// Transmission actions.
const (
	ActionStart = "start"
	ActionEnd   = "end"
)

// GenericEvent is a caller-defined entry for the event log.
type GenericEvent struct {
	EventType   string
	Slot        *string
	RadioDMRID  *string
	TalkgroupID *string
	EventData   any
	Timestamp   time.Time
}

// AudioMeta is the form part of an audio upload.
type AudioMeta struct {
	Slot            string
	RadioDMRID      string
	TalkgroupID     string
	DurationSeconds *float64
	RecordedAt      time.Time
}

func requireFields(f Fields, keys ...string) error {
	if missing := f.Missing(keys...); len(missing) > 0 {
		return &MissingFieldError{Fields: missing}
	}
	return nil
}

// mustText reads a field already checked by requireFields.
func mustText(f Fields, key string) (string, error) {
	s, _, err := f.Text(key)
	return s, err
}

// ValidatePosition checks a position report.
func ValidatePosition(f Fields, now time.Time) (PositionReport, error) {
	var p PositionReport
	if err := requireFields(f, "radio_dmr_id", "latitude", "longitude"); err != nil {
		return p, err
	}

	var err error
	if p.RadioDMRID, err = mustText(f, "radio_dmr_id"); err != nil {
		return p, err
	}

	lat, err := f.Float("latitude")
	if err != nil {
		return p, err
	}
	lon, err := f.Float("longitude")
	if err != nil {
		return p, err
	}
	p.Latitude, p.Longitude = *lat, *lon

	if p.Altitude, err = f.Float("altitude"); err != nil {
		return p, err
	}
	if p.Speed, err = f.Float("speed"); err != nil {
		return p, err
	}
	if p.Heading, err = f.Float("heading"); err != nil {
		return p, err
	}
	if p.Accuracy, err = f.Float("accuracy"); err != nil {
		return p, err
	}

	p.Timestamp, err = f.Time(now, "timestamp")
	return p, err
}

// TransmissionAction returns the requested action. A missing or null action
// means start; any other value, "" included, must be exactly start or end.
func TransmissionAction(f Fields) (string, error) {
	raw, ok := f["action"]
	if !ok || raw == nil {
		return ActionStart, nil
	}
	switch action, _ := raw.(string); action {
	case ActionStart, ActionEnd:
		return action, nil
	default:
		return "", ErrInvalidAction
	}
}

// ValidateTransmissionStart checks a start request.
func ValidateTransmissionStart(f Fields, now time.Time) (Transmission, error) {
	var t Transmission
	if err := requireFields(f, "slot", "radio_dmr_id", "talkgroup_id"); err != nil {
		return t, err
	}

	var err error
	if t.Slot, err = mustText(f, "slot"); err != nil {
		return t, err
	}
	if t.RadioDMRID, err = mustText(f, "radio_dmr_id"); err != nil {
		return t, err
	}
	if t.TalkgroupID, err = mustText(f, "talkgroup_id"); err != nil {
		return t, err
	}
	t.StartedAt = now
	return t, nil
}

// ValidateTransmissionEnd checks an end request. A missing transmission_id is
// an invalid action rather than a missing field.
func ValidateTransmissionEnd(f Fields, now time.Time) (TransmissionEnd, error) {
	var e TransmissionEnd
	id, ok, err := f.Int("transmission_id")
	if err != nil {
		return e, err
	}
	if !ok {
		return e, ErrInvalidAction
	}
	e.TransmissionID = id

	if e.Slot, err = f.OptionalText("slot"); err != nil {
		return e, err
	}
	if e.RadioDMRID, err = f.OptionalText("radio_dmr_id"); err != nil {
		return e, err
	}
	if e.TalkgroupID, err = f.OptionalText("talkgroup_id"); err != nil {
		return e, err
	}
	e.EndedAt = now
	return e, nil
}

// ValidateTextMessage checks a text message.
func ValidateTextMessage(f Fields, now time.Time) (TextMessage, error) {
	var m TextMessage
	if err := requireFields(f, "slot", "from_radio_dmr_id", "message_text"); err != nil {
		return m, err
	}

	var err error
	if m.Slot, err = mustText(f, "slot"); err != nil {
		return m, err
	}
	if m.FromRadioDMRID, err = mustText(f, "from_radio_dmr_id"); err != nil {
		return m, err
	}
	if m.Text, err = mustText(f, "message_text"); err != nil {
		return m, err
	}
	if m.ToRadioDMRID, err = f.OptionalText("to_radio_dmr_id"); err != nil {
		return m, err
	}
	if m.ToTalkgroupID, err = f.OptionalText("to_talkgroup_id"); err != nil {
		return m, err
	}

	m.Timestamp, err = f.Time(now, "message_timestamp", "timestamp")
	return m, err
}

// ValidateEmergency checks an emergency alert.
func ValidateEmergency(f Fields, now time.Time) (EmergencyAlert, error) {
	var e EmergencyAlert
	if err := requireFields(f, "radio_dmr_id"); err != nil {
		return e, err
	}

	var err error
	if e.RadioDMRID, err = mustText(f, "radio_dmr_id"); err != nil {
		return e, err
	}
	if e.Latitude, err = f.Float("latitude"); err != nil {
		return e, err
	}
	if e.Longitude, err = f.Float("longitude"); err != nil {
		return e, err
	}

	e.Timestamp, err = f.Time(now, "emergency_timestamp", "timestamp")
	return e, err
}

// ValidateAudioMeta checks the form values accompanying an audio upload.
func ValidateAudioMeta(f Fields, now time.Time) (AudioMeta, error) {
	var a AudioMeta
	if err := requireFields(f, "slot", "radio_dmr_id", "talkgroup_id"); err != nil {
		return a, err
	}

	var err error
	if a.Slot, err = mustText(f, "slot"); err != nil {
		return a, err
	}
	if a.RadioDMRID, err = mustText(f, "radio_dmr_id"); err != nil {
		return a, err
	}
	if a.TalkgroupID, err = mustText(f, "talkgroup_id"); err != nil {
		return a, err
	}
	if a.DurationSeconds, err = f.Float("duration_seconds"); err != nil {
		return a, err
	}

	a.RecordedAt, err = f.Time(now, "recorded_at")
	return a, err
}

// ValidateEvent checks a generic event. event_type is taken verbatim.
func ValidateEvent(f Fields, now time.Time) (GenericEvent, error) {
	var e GenericEvent
	if err := requireFields(f, "event_type"); err != nil {
		return e, err
	}

	var err error
	if e.EventType, err = mustText(f, "event_type"); err != nil {
		return e, err
	}
	if e.Slot, err = f.OptionalText("slot"); err != nil {
		return e, err
	}
	if e.RadioDMRID, err = f.OptionalText("radio_dmr_id"); err != nil {
		return e, err
	}
	if e.TalkgroupID, err = f.OptionalText("talkgroup_id"); err != nil {
		return e, err
	}
	e.EventData = f.Value("event_data")

	e.Timestamp, err = f.Time(now, "event_timestamp", "timestamp")
	return e, err
}
