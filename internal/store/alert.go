package store

import (
	"database/sql"
	"errors"
	"time"
)

// AlertConfig is a threshold rule bound to a delivery channel.
type AlertConfig struct {
	ID                 string
	Name               string
	Channel            string // channel plugin name or "webhook"
	Destination        string // address, phone number, webhook URL
	MinSeverity        string
	ViolationThreshold int
	WindowMinutes      int
	Enabled            bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AlertEvent records one dispatch attempt for a config.
type AlertEvent struct {
	ID           string
	ConfigID     string
	ViolationID  string
	Status       string // "sent" or "failed"
	Error        string
	DispatchedAt time.Time
}

// Alert event statuses.
const (
	AlertSent   = "sent"
	AlertFailed = "failed"
)

// AlertConfigRepository provides CRUD operations for alert configs.
type AlertConfigRepository struct {
	db *sql.DB
}

// AlertConfigs returns the alert config repository for this store.
func (s *Store) AlertConfigs() *AlertConfigRepository {
	return &AlertConfigRepository{db: s.db}
}

// Create inserts a new alert config.
func (r *AlertConfigRepository) Create(c *AlertConfig) error {
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := r.db.Exec(
		`INSERT INTO alert_configs (id, name, channel, destination, min_severity,
		                            violation_threshold, window_minutes, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Channel, c.Destination, c.MinSeverity,
		c.ViolationThreshold, c.WindowMinutes, c.Enabled, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetByID retrieves an alert config by its ID.
func (r *AlertConfigRepository) GetByID(id string) (*AlertConfig, error) {
	c := &AlertConfig{}
	var enabled int

	err := r.db.QueryRow(
		`SELECT id, name, channel, destination, min_severity, violation_threshold,
		        window_minutes, enabled, created_at, updated_at
		 FROM alert_configs WHERE id = ?`,
		id,
	).Scan(&c.ID, &c.Name, &c.Channel, &c.Destination, &c.MinSeverity,
		&c.ViolationThreshold, &c.WindowMinutes, &enabled, &c.CreatedAt, &c.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	c.Enabled = enabled != 0
	return c, nil
}

// List retrieves all alert configs.
func (r *AlertConfigRepository) List() ([]*AlertConfig, error) {
	return r.list(`SELECT id, name, channel, destination, min_severity, violation_threshold,
	                      window_minutes, enabled, created_at, updated_at
	               FROM alert_configs ORDER BY name`)
}

// ListEnabled retrieves the alert configs the dispatcher should evaluate.
func (r *AlertConfigRepository) ListEnabled() ([]*AlertConfig, error) {
	return r.list(`SELECT id, name, channel, destination, min_severity, violation_threshold,
	                      window_minutes, enabled, created_at, updated_at
	               FROM alert_configs WHERE enabled = 1 ORDER BY name`)
}

func (r *AlertConfigRepository) list(query string) ([]*AlertConfig, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*AlertConfig
	for rows.Next() {
		c := &AlertConfig{}
		var enabled int

		err := rows.Scan(&c.ID, &c.Name, &c.Channel, &c.Destination, &c.MinSeverity,
			&c.ViolationThreshold, &c.WindowMinutes, &enabled, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, err
		}

		c.Enabled = enabled != 0
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// Update updates an existing alert config.
func (r *AlertConfigRepository) Update(c *AlertConfig) error {
	c.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		`UPDATE alert_configs SET name = ?, channel = ?, destination = ?, min_severity = ?,
		        violation_threshold = ?, window_minutes = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		c.Name, c.Channel, c.Destination, c.MinSeverity,
		c.ViolationThreshold, c.WindowMinutes, c.Enabled, c.UpdatedAt, c.ID,
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

// Delete removes an alert config and its dispatch history.
func (r *AlertConfigRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM alert_configs WHERE id = ?`, id)
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

// AlertEventRepository records and queries alert dispatches.
type AlertEventRepository struct {
	db *sql.DB
}

// AlertEvents returns the alert event repository for this store.
func (s *Store) AlertEvents() *AlertEventRepository {
	return &AlertEventRepository{db: s.db}
}

// Create appends a dispatch record.
func (r *AlertEventRepository) Create(e *AlertEvent) error {
	_, err := r.db.Exec(
		`INSERT INTO alert_events (id, config_id, violation_id, status, error, dispatched_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ConfigID, nullString(e.ViolationID), e.Status, nullString(e.Error), e.DispatchedAt,
	)
	return err
}

// LastSent returns the time of the most recent successful dispatch for a
// config, or a zero time when it has never fired.
func (r *AlertEventRepository) LastSent(configID string) (time.Time, error) {
	var last sql.NullTime
	err := r.db.QueryRow(
		`SELECT MAX(dispatched_at) FROM alert_events WHERE config_id = ? AND status = ?`,
		configID, AlertSent,
	).Scan(&last)
	if err != nil {
		return time.Time{}, err
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return last.Time, nil
}

// ListByConfig retrieves dispatch records for a config, newest first.
func (r *AlertEventRepository) ListByConfig(configID string, limit int) ([]*AlertEvent, error) {
	query := `SELECT id, config_id, violation_id, status, error, dispatched_at
	          FROM alert_events WHERE config_id = ? ORDER BY dispatched_at DESC`
	args := []interface{}{configID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*AlertEvent
	for rows.Next() {
		e := &AlertEvent{}
		var violationID, errMsg sql.NullString

		err := rows.Scan(&e.ID, &e.ConfigID, &violationID, &e.Status, &errMsg, &e.DispatchedAt)
		if err != nil {
			return nil, err
		}

		e.ViolationID = violationID.String
		e.Error = errMsg.String
		events = append(events, e)
	}
	return events, rows.Err()
}
