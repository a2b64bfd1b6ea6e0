package store

import (
	"database/sql"
	"errors"
	"time"
)

// Session statuses.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionError     = "error"
)

// Session is the persisted record of a streaming connection's lifecycle.
type Session struct {
	ID             string
	Status         string
	StartedAt      time.Time
	EndedAt        *time.Time
	FrameCount     int
	ViolationCount int
	CameraID       string
	Location       string
}

// SessionRepository provides persistence operations for sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a new active session record.
func (r *SessionRepository) Create(s *Session) error {
	if s.Status == "" {
		s.Status = SessionActive
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, status, started_at, camera_id, location)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Status, s.StartedAt, nullString(s.CameraID), nullString(s.Location),
	)
	return err
}

// Finish stamps the end of a session with its final counters.
func (r *SessionRepository) Finish(id, status string, endedAt time.Time, frames, violations int) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET status = ?, ended_at = ?, frame_count = ?, violation_count = ?
		 WHERE id = ?`,
		status, endedAt, frames, violations, id,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	row := r.db.QueryRow(
		`SELECT id, status, started_at, ended_at, frame_count, violation_count, camera_id, location
		 FROM sessions WHERE id = ?`,
		id,
	)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// List retrieves all sessions, newest first.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	query := `SELECT id, status, started_at, ended_at, frame_count, violation_count, camera_id, location
	          FROM sessions ORDER BY started_at DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func scanSession(row rowScanner) (*Session, error) {
	s := &Session{}
	var endedAt sql.NullTime
	var cameraID, location sql.NullString

	err := row.Scan(&s.ID, &s.Status, &s.StartedAt, &endedAt,
		&s.FrameCount, &s.ViolationCount, &cameraID, &location)
	if err != nil {
		return nil, err
	}

	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	s.CameraID = cameraID.String
	s.Location = location.String
	return s, nil
}
