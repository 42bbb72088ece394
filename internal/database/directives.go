package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/venture/pkg/models"
)

// InsertDirective records one reinvestment decision.
func (d *Database) InsertDirective(dir *models.ReinvestmentDirective) error {
	if dir.ID == "" {
		dir.ID = uuid.New().String()
	}
	if dir.CreatedAt.IsZero() {
		dir.CreatedAt = time.Now().UTC()
	}

	query := d.rebind(`
		INSERT INTO directives (id, tenant_id, cycle_id, action, channel, fraction, amount, window_start, window_end, watermark, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := d.db.Exec(query,
		dir.ID, dir.TenantID, dir.CycleID, string(dir.Action), string(dir.Channel),
		dir.Fraction, dir.Amount, dir.WindowStart, dir.WindowEnd, dir.Watermark, dir.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert directive: %w", err)
	}
	return nil
}

// LatestDirective returns a tenant's most recent directive, or nil when
// none has ever been issued. Its watermark gates the next evaluation.
func (d *Database) LatestDirective(tenantID string) (*models.ReinvestmentDirective, error) {
	query := d.rebind(`
		SELECT id, tenant_id, cycle_id, action, channel, fraction, amount, window_start, window_end, watermark, created_at
		FROM directives WHERE tenant_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`)

	dir, err := scanDirective(d.db.QueryRow(query, tenantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest directive: %w", err)
	}
	return dir, nil
}

// ListDirectives returns a tenant's directives, newest first.
func (d *Database) ListDirectives(tenantID string, limit int) ([]*models.ReinvestmentDirective, error) {
	if limit <= 0 {
		limit = 50
	}
	query := d.rebind(`
		SELECT id, tenant_id, cycle_id, action, channel, fraction, amount, window_start, window_end, watermark, created_at
		FROM directives WHERE tenant_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`)

	rows, err := d.db.Query(query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list directives: %w", err)
	}
	defer rows.Close()

	var dirs []*models.ReinvestmentDirective
	for rows.Next() {
		dir, err := scanDirective(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan directive: %w", err)
		}
		dirs = append(dirs, dir)
	}
	return dirs, rows.Err()
}

func scanDirective(row rowScanner) (*models.ReinvestmentDirective, error) {
	var dir models.ReinvestmentDirective
	var action string
	var channel sql.NullString
	err := row.Scan(&dir.ID, &dir.TenantID, &dir.CycleID, &action, &channel,
		&dir.Fraction, &dir.Amount, &dir.WindowStart, &dir.WindowEnd, &dir.Watermark, &dir.CreatedAt)
	if err != nil {
		return nil, err
	}
	dir.Action = models.DirectiveAction(action)
	dir.Channel = models.Channel(channel.String)
	return &dir, nil
}
