package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Frames table - one row per saved image
		`CREATE TABLE IF NOT EXISTS frames (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			captured_at DATETIME NOT NULL,
			detection_count INTEGER NOT NULL DEFAULT 0
		)`,

		// Detections table - boxes reported on a saved frame
		`CREATE TABLE IF NOT EXISTS detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			frame_id TEXT NOT NULL REFERENCES frames(id) ON DELETE CASCADE,
			category INTEGER NOT NULL,
			label TEXT NOT NULL,
			confidence REAL NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_frames_captured_at ON frames(captured_at)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_frame_id ON detections(frame_id)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_label ON detections(label)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
