package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// memStore is an in-memory Store used by the service tests.
type memStore struct {
	mu sync.Mutex

	config map[string]string
	nextID int64

	positions     []PositionReport
	transmissions map[int64]*Transmission
	messages      []TextMessage
	emergencies   []EmergencyAlert
	audio         []AudioRecording
	events        []EventLogEntry

	configCalls int

	failConfig error
	failInsert error
	failAppend error
}

func newMemStore(config map[string]string) *memStore {
	return &memStore{
		config:        config,
		transmissions: make(map[int64]*Transmission),
	}
}

func enabledConfig() map[string]string {
	return map[string]string{
		KeyAPIEnabled:       "1",
		KeyAPIKey:           "",
		KeyAudioStoragePath: "uploads/dispatch/audio/",
		KeyMaxAudioFileSize: "1024",
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) DispatchConfigValues(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configCalls++
	if m.failConfig != nil {
		return nil, m.failConfig
	}
	out := make(map[string]string, len(m.config))
	for k, v := range m.config {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) AppendEvent(_ context.Context, e EventLogEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend != nil {
		return 0, m.failAppend
	}
	e.ID = m.id()
	m.events = append(m.events, e)
	return e.ID, nil
}

func (m *memStore) InsertPosition(_ context.Context, p PositionReport) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return 0, m.failInsert
	}
	p.ID = m.id()
	m.positions = append(m.positions, p)
	return p.ID, nil
}

func (m *memStore) StartTransmission(_ context.Context, t Transmission) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return 0, m.failInsert
	}
	for _, open := range m.transmissions {
		if open.Slot == t.Slot && open.Open() {
			ended := t.StartedAt
			open.EndedAt = &ended
		}
	}
	t.ID = m.id()
	m.transmissions[t.ID] = &t
	return t.ID, nil
}

func (m *memStore) EndTransmission(_ context.Context, id int64, endedAt time.Time) (Transmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return Transmission{}, m.failInsert
	}
	t, ok := m.transmissions[id]
	if !ok || !t.Open() {
		return Transmission{}, ErrTransmissionNotOpen
	}
	t.EndedAt = &endedAt
	return *t, nil
}

func (m *memStore) InsertTextMessage(_ context.Context, msg TextMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return 0, m.failInsert
	}
	msg.ID = m.id()
	m.messages = append(m.messages, msg)
	return msg.ID, nil
}

func (m *memStore) InsertEmergency(_ context.Context, e EmergencyAlert) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return 0, m.failInsert
	}
	e.ID = m.id()
	m.emergencies = append(m.emergencies, e)
	return e.ID, nil
}

func (m *memStore) InsertAudioRecording(_ context.Context, a AudioRecording) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return 0, m.failInsert
	}
	a.ID = m.id()
	m.audio = append(m.audio, a)
	return a.ID, nil
}

var errBoom = errors.New("boom")
