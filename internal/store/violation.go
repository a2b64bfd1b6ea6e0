package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an open violation already exists for the
// same (session, track, item type). Callers treat the losing writer as a
// no-op, not an error.
var ErrConflict = errors.New("open violation already exists")

// Violation severities, ordered from least to most severe.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Violation review statuses.
const (
	ViolationOpen      = "open"
	ViolationReviewed  = "reviewed"
	ViolationResolved  = "resolved"
	ViolationDismissed = "dismissed"
)

// severityRank orders severities for threshold comparisons.
var severityRank = map[string]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// SeveritiesAtLeast returns all severity names at or above min.
func SeveritiesAtLeast(min string) []string {
	minRank, ok := severityRank[min]
	if !ok {
		minRank = 0
	}
	var out []string
	for _, s := range []string{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if severityRank[s] >= minRank {
			out = append(out, s)
		}
	}
	return out
}

// Violation represents a persisted, time-bounded non-compliance record for
// one PPE item on one track. Closed violations are never mutated except by
// the review workflow (status, notes).
type Violation struct {
	ID           string
	SessionID    string
	TrackID      int64
	WorkerID     string // empty when identity unresolved
	ItemType     string
	Severity     string
	Status       string
	FrameID      string
	EvidencePath string
	StartedAt    time.Time
	EndedAt      *time.Time // nil while ongoing
	Notes        string
	ResolvedAt   *time.Time
}

// ViolationFilters narrows List queries. Zero values are ignored.
type ViolationFilters struct {
	SessionID string
	WorkerID  string
	Severity  string
	Status    string
	Since     time.Time
	OnlyOpen  bool
	Limit     int
}

// ViolationRepository provides persistence operations for violations.
type ViolationRepository struct {
	db *sql.DB
}

// Violations returns the violation repository for this store.
func (s *Store) Violations() *ViolationRepository {
	return &ViolationRepository{db: s.db}
}

// Open inserts a new open violation. The open/check pair runs in one
// transaction so that concurrent sessions referencing the same track cannot
// create two open records; the loser receives ErrConflict.
func (r *ViolationRepository) Open(v *Violation) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRow(
		`SELECT id FROM violations
		 WHERE session_id = ? AND track_id = ? AND item_type = ? AND ended_at IS NULL`,
		v.SessionID, v.TrackID, v.ItemType,
	).Scan(&existing)
	if err == nil {
		return ErrConflict
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if v.Status == "" {
		v.Status = ViolationOpen
	}

	_, err = tx.Exec(
		`INSERT INTO violations (id, session_id, track_id, worker_id, item_type, severity, status,
		                         frame_id, evidence_path, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.SessionID, v.TrackID, nullString(v.WorkerID), v.ItemType, v.Severity, v.Status,
		nullString(v.FrameID), nullString(v.EvidencePath), v.StartedAt,
	)
	if err != nil {
		// The partial unique index catches the race the SELECT cannot see.
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrConflict
		}
		return err
	}

	return tx.Commit()
}

// FindOpen returns the open violation for (session, track, item type),
// or ErrNotFound when none is open.
func (r *ViolationRepository) FindOpen(sessionID string, trackID int64, itemType string) (*Violation, error) {
	row := r.db.QueryRow(
		`SELECT id, session_id, track_id, worker_id, item_type, severity, status,
		        frame_id, evidence_path, started_at, ended_at, notes, resolved_at
		 FROM violations
		 WHERE session_id = ? AND track_id = ? AND item_type = ? AND ended_at IS NULL`,
		sessionID, trackID, itemType,
	)
	return scanViolation(row)
}

// GetByID retrieves a violation by its ID.
func (r *ViolationRepository) GetByID(id string) (*Violation, error) {
	row := r.db.QueryRow(
		`SELECT id, session_id, track_id, worker_id, item_type, severity, status,
		        frame_id, evidence_path, started_at, ended_at, notes, resolved_at
		 FROM violations WHERE id = ?`,
		id,
	)
	return scanViolation(row)
}

// CloseOpenForTrack stamps the end timestamp on every open violation for the
// given track and returns how many were closed. Calling it again for the
// same track closes nothing, which makes force-close idempotent.
func (r *ViolationRepository) CloseOpenForTrack(sessionID string, trackID int64, endedAt time.Time) (int, error) {
	result, err := r.db.Exec(
		`UPDATE violations SET ended_at = ?
		 WHERE session_id = ? AND track_id = ? AND ended_at IS NULL`,
		endedAt, sessionID, trackID,
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// CloseOpenForSession force-closes every open violation in a session.
func (r *ViolationRepository) CloseOpenForSession(sessionID string, endedAt time.Time) (int, error) {
	result, err := r.db.Exec(
		`UPDATE violations SET ended_at = ?
		 WHERE session_id = ? AND ended_at IS NULL`,
		endedAt, sessionID,
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// Review updates the review status and notes of a violation.
func (r *ViolationRepository) Review(id, status, notes string, ts time.Time) error {
	var resolvedAt interface{}
	if status == ViolationResolved || status == ViolationDismissed {
		resolvedAt = ts
	}

	result, err := r.db.Exec(
		`UPDATE violations SET status = ?, notes = ?, resolved_at = ? WHERE id = ?`,
		status, nullString(notes), resolvedAt, id,
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

// List retrieves violations matching the filters, newest first.
func (r *ViolationRepository) List(f ViolationFilters) ([]*Violation, error) {
	query := `SELECT id, session_id, track_id, worker_id, item_type, severity, status,
	                 frame_id, evidence_path, started_at, ended_at, notes, resolved_at
	          FROM violations WHERE 1=1`
	var args []interface{}

	if f.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, f.SessionID)
	}
	if f.WorkerID != "" {
		query += " AND worker_id = ?"
		args = append(args, f.WorkerID)
	}
	if f.Severity != "" {
		query += " AND severity = ?"
		args = append(args, f.Severity)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, f.Since)
	}
	if f.OnlyOpen {
		query += " AND ended_at IS NULL"
	}

	query += " ORDER BY started_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []*Violation
	for rows.Next() {
		v, err := scanViolationRows(rows)
		if err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// CountSince counts violations started at or after since with severity in
// the given set. Used by alert threshold evaluation.
func (r *ViolationRepository) CountSince(since time.Time, severities []string) (int, error) {
	if len(severities) == 0 {
		return 0, nil
	}

	query := `SELECT COUNT(*) FROM violations WHERE started_at >= ? AND severity IN (?` +
		strings.Repeat(", ?", len(severities)-1) + `)`
	args := []interface{}{since}
	for _, s := range severities {
		args = append(args, s)
	}

	var count int
	err := r.db.QueryRow(query, args...).Scan(&count)
	return count, err
}

// CountBySession counts every violation recorded for the session, open
// or closed.
func (r *ViolationRepository) CountBySession(sessionID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM violations WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanViolation(row *sql.Row) (*Violation, error) {
	v, err := scanViolationFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func scanViolationRows(rows *sql.Rows) (*Violation, error) {
	return scanViolationFrom(rows)
}

func scanViolationFrom(row rowScanner) (*Violation, error) {
	v := &Violation{}
	var workerID, frameID, evidencePath, notes sql.NullString
	var endedAt, resolvedAt sql.NullTime

	err := row.Scan(&v.ID, &v.SessionID, &v.TrackID, &workerID, &v.ItemType, &v.Severity,
		&v.Status, &frameID, &evidencePath, &v.StartedAt, &endedAt, &notes, &resolvedAt)
	if err != nil {
		return nil, err
	}

	v.WorkerID = workerID.String
	v.FrameID = frameID.String
	v.EvidencePath = evidencePath.String
	v.Notes = notes.String
	if endedAt.Valid {
		t := endedAt.Time
		v.EndedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		v.ResolvedAt = &t
	}
	return v, nil
}
