package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Violations table - confirmed non-compliance records with evidence
		`CREATE TABLE IF NOT EXISTS violations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			track_id INTEGER NOT NULL,
			worker_id TEXT,
			item_type TEXT NOT NULL,
			severity TEXT NOT NULL CHECK(severity IN ('low', 'medium', 'high', 'critical')),
			status TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open', 'reviewed', 'resolved', 'dismissed')),
			frame_id TEXT,
			evidence_path TEXT,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			notes TEXT,
			resolved_at DATETIME
		)`,

		// At most one open violation per (session, track, item type)
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_violations_open
			ON violations(session_id, track_id, item_type) WHERE ended_at IS NULL`,

		// Alert configs table - threshold rules and delivery channels
		`CREATE TABLE IF NOT EXISTS alert_configs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			channel TEXT NOT NULL,
			destination TEXT NOT NULL,
			min_severity TEXT NOT NULL DEFAULT 'medium' CHECK(min_severity IN ('low', 'medium', 'high', 'critical')),
			violation_threshold INTEGER NOT NULL DEFAULT 1,
			window_minutes INTEGER NOT NULL DEFAULT 60,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Alert events table - dispatch history per config
		`CREATE TABLE IF NOT EXISTS alert_events (
			id TEXT PRIMARY KEY,
			config_id TEXT NOT NULL REFERENCES alert_configs(id) ON DELETE CASCADE,
			violation_id TEXT,
			status TEXT NOT NULL CHECK(status IN ('sent', 'failed')),
			error TEXT,
			dispatched_at DATETIME NOT NULL
		)`,

		// Sessions table - streaming connection lifecycle records
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'completed', 'error')),
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			frame_count INTEGER NOT NULL DEFAULT 0,
			violation_count INTEGER NOT NULL DEFAULT 0,
			camera_id TEXT,
			location TEXT
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_violations_session_id ON violations(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_violations_worker_id ON violations(worker_id)`,
		`CREATE INDEX IF NOT EXISTS idx_violations_started_at ON violations(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_config_id ON alert_events(config_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_dispatched_at ON alert_events(dispatched_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
