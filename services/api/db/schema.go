package db

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS dispatch_raspberry_config (
		config_key TEXT PRIMARY KEY,
		config_value TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`INSERT INTO dispatch_raspberry_config (config_key, config_value) VALUES
		('api_enabled', '0'),
		('api_key', ''),
		('audio_storage_path', 'uploads/dispatch/audio/'),
		('max_audio_file_size', '10485760'),
		('position_update_interval', '60'),
		('position_inactive_threshold', '1800')
	ON CONFLICT (config_key) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS dispatch_positions (
		id BIGSERIAL PRIMARY KEY,
		radio_dmr_id TEXT NOT NULL,
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		altitude DOUBLE PRECISION,
		speed DOUBLE PRECISION,
		heading DOUBLE PRECISION,
		accuracy DOUBLE PRECISION,
		timestamp TIMESTAMPTZ NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dispatch_positions_radio_time ON dispatch_positions (radio_dmr_id, timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS dispatch_transmissions (
		id BIGSERIAL PRIMARY KEY,
		slot TEXT NOT NULL,
		radio_dmr_id TEXT NOT NULL,
		talkgroup_id TEXT NOT NULL,
		transmission_start TIMESTAMPTZ NOT NULL,
		transmission_end TIMESTAMPTZ,
		duration_seconds INTEGER,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dispatch_transmissions_active_slot ON dispatch_transmissions (slot) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS dispatch_text_messages (
		id BIGSERIAL PRIMARY KEY,
		slot TEXT NOT NULL,
		from_radio_dmr_id TEXT NOT NULL,
		to_radio_dmr_id TEXT,
		to_talkgroup_id TEXT,
		message_text TEXT NOT NULL,
		message_timestamp TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS dispatch_emergency_codes (
		id BIGSERIAL PRIMARY KEY,
		radio_dmr_id TEXT NOT NULL,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		emergency_timestamp TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS dispatch_audio_recordings (
		id BIGSERIAL PRIMARY KEY,
		slot TEXT NOT NULL,
		radio_dmr_id TEXT NOT NULL,
		talkgroup_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		duration_seconds DOUBLE PRECISION,
		file_size_bytes BIGINT,
		recorded_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS dispatch_events (
		id BIGSERIAL PRIMARY KEY,
		slot TEXT,
		event_type TEXT NOT NULL,
		radio_dmr_id TEXT,
		talkgroup_id TEXT,
		event_data JSONB,
		event_timestamp TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dispatch_events_time ON dispatch_events (event_timestamp DESC)`,
}
