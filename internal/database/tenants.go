package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jordanhubbard/venture/pkg/models"
)

// SaveTenant inserts or updates a tenant record.
func (d *Database) SaveTenant(t *models.Tenant) error {
	keywords, err := json.Marshal(t.Keywords)
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}
	policy, err := json.Marshal(t.Policy)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	query := d.rebind(`
		INSERT INTO tenants (id, name, niche, keywords_json, persona, plan, status, autopilot_enabled, policy_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			niche = excluded.niche,
			keywords_json = excluded.keywords_json,
			persona = excluded.persona,
			plan = excluded.plan,
			status = excluded.status,
			autopilot_enabled = excluded.autopilot_enabled,
			policy_json = excluded.policy_json,
			updated_at = excluded.updated_at`)

	_, err = d.db.Exec(query,
		t.ID, t.Name, t.Niche, string(keywords), string(t.Persona), string(t.Plan),
		string(t.Status), t.AutopilotEnabled, string(policy), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save tenant: %w", err)
	}
	return nil
}

// GetTenant retrieves a tenant by ID.
func (d *Database) GetTenant(id string) (*models.Tenant, error) {
	query := d.rebind(`
		SELECT id, name, niche, keywords_json, persona, plan, status, autopilot_enabled, policy_json, created_at, updated_at
		FROM tenants WHERE id = ?`)

	t, err := scanTenant(d.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// ListTenants returns all tenants ordered by creation time.
func (d *Database) ListTenants() ([]*models.Tenant, error) {
	rows, err := d.db.Query(`
		SELECT id, name, niche, keywords_json, persona, plan, status, autopilot_enabled, policy_json, created_at, updated_at
		FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// ListAutopilotTenants returns active tenants with autopilot enabled.
// These are the tenants the scheduler runs cycles for.
func (d *Database) ListAutopilotTenants() ([]*models.Tenant, error) {
	query := d.rebind(`
		SELECT id, name, niche, keywords_json, persona, plan, status, autopilot_enabled, policy_json, created_at, updated_at
		FROM tenants WHERE status = ? AND autopilot_enabled = ? ORDER BY created_at`)

	rows, err := d.db.Query(query, string(models.TenantStatusActive), true)
	if err != nil {
		return nil, fmt.Errorf("failed to list autopilot tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// SetAutopilot toggles autonomous cycle execution for a tenant.
func (d *Database) SetAutopilot(id string, enabled bool) error {
	query := d.rebind(`UPDATE tenants SET autopilot_enabled = ?, updated_at = ? WHERE id = ?`)
	res, err := d.db.Exec(query, enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set autopilot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tenant not found: %s", id)
	}
	return nil
}

// UpdateTenantStatus moves a tenant between active, paused and archived.
func (d *Database) UpdateTenantStatus(id string, status models.TenantStatus) error {
	query := d.rebind(`UPDATE tenants SET status = ?, updated_at = ? WHERE id = ?`)
	res, err := d.db.Exec(query, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tenant not found: %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row rowScanner) (*models.Tenant, error) {
	var t models.Tenant
	var keywords, policy sql.NullString
	var persona, plan, status string

	err := row.Scan(&t.ID, &t.Name, &t.Niche, &keywords, &persona, &plan, &status,
		&t.AutopilotEnabled, &policy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Persona = models.Persona(persona)
	t.Plan = models.Plan(plan)
	t.Status = models.TenantStatus(status)

	if keywords.Valid && keywords.String != "" {
		if err := json.Unmarshal([]byte(keywords.String), &t.Keywords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
		}
	}
	if policy.Valid && policy.String != "" {
		if err := json.Unmarshal([]byte(policy.String), &t.Policy); err != nil {
			return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
		}
	}
	t.Policy = t.Policy.Normalize()
	return &t, nil
}
