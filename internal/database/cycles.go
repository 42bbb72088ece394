package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jordanhubbard/venture/pkg/models"
)

// InsertCycle records a newly started cycle.
func (d *Database) InsertCycle(c *models.CycleRecord) error {
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}
	channels, err := json.Marshal(c.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channel results: %w", err)
	}

	query := d.rebind(`
		INSERT INTO cycles (id, tenant_id, phase, status, strategy, mode, error, channels_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = d.db.Exec(query,
		c.ID, c.TenantID, string(c.Phase), string(c.Status), c.Strategy, string(c.Mode),
		c.Error, string(channels), c.StartedAt, c.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}
	return nil
}

// UpdateCycle persists the cycle's current phase, status and results.
func (d *Database) UpdateCycle(c *models.CycleRecord) error {
	channels, err := json.Marshal(c.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channel results: %w", err)
	}

	query := d.rebind(`
		UPDATE cycles SET phase = ?, status = ?, strategy = ?, mode = ?, error = ?, channels_json = ?, finished_at = ?
		WHERE id = ?`)
	res, err := d.db.Exec(query,
		string(c.Phase), string(c.Status), c.Strategy, string(c.Mode), c.Error,
		string(channels), c.FinishedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update cycle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cycle not found: %s", c.ID)
	}
	return nil
}

// GetCycle retrieves one cycle by ID.
func (d *Database) GetCycle(id string) (*models.CycleRecord, error) {
	query := d.rebind(`
		SELECT id, tenant_id, phase, status, strategy, mode, error, channels_json, started_at, finished_at
		FROM cycles WHERE id = ?`)
	c, err := scanCycle(d.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cycle not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cycle: %w", err)
	}
	return c, nil
}

// LatestCycle returns a tenant's most recent cycle, or nil when the tenant
// has never run one.
func (d *Database) LatestCycle(tenantID string) (*models.CycleRecord, error) {
	query := d.rebind(`
		SELECT id, tenant_id, phase, status, strategy, mode, error, channels_json, started_at, finished_at
		FROM cycles WHERE tenant_id = ? ORDER BY started_at DESC, id DESC LIMIT 1`)
	c, err := scanCycle(d.db.QueryRow(query, tenantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest cycle: %w", err)
	}
	return c, nil
}

// ListCycles returns a tenant's cycles, newest first.
func (d *Database) ListCycles(tenantID string, limit int) ([]*models.CycleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := d.rebind(`
		SELECT id, tenant_id, phase, status, strategy, mode, error, channels_json, started_at, finished_at
		FROM cycles WHERE tenant_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`)

	rows, err := d.db.Query(query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*models.CycleRecord
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

func scanCycle(row rowScanner) (*models.CycleRecord, error) {
	var c models.CycleRecord
	var phase, status string
	var strategy, mode, errMsg, channels sql.NullString
	var finished sql.NullTime

	err := row.Scan(&c.ID, &c.TenantID, &phase, &status, &strategy, &mode, &errMsg,
		&channels, &c.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	c.Phase = models.CyclePhase(phase)
	c.Status = models.CycleStatus(status)
	c.Strategy = strategy.String
	c.Mode = models.DecisionMode(mode.String)
	c.Error = errMsg.String
	if finished.Valid {
		t := finished.Time
		c.FinishedAt = &t
	}
	if channels.Valid && channels.String != "" && channels.String != "null" {
		if err := json.Unmarshal([]byte(channels.String), &c.Channels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal channel results: %w", err)
		}
	}
	return &c, nil
}
