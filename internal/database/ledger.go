package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/venture/pkg/models"
)

// AppendExperience writes one immutable ledger entry, assigning the next
// per-tenant sequence number inside a transaction. The entry's Seq field
// is set on success.
func (d *Database) AppendExperience(exp *models.Experience) error {
	if exp.ID == "" {
		exp.ID = uuid.New().String()
	}
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now().UTC()
	}

	lessons, err := json.Marshal(exp.LessonsLearned)
	if err != nil {
		return fmt.Errorf("failed to marshal lessons: %w", err)
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	seqQuery := d.rebind(`SELECT COALESCE(MAX(seq), 0) + 1 FROM experiences WHERE tenant_id = ?`)
	if err := tx.QueryRow(seqQuery, exp.TenantID).Scan(&seq); err != nil {
		return fmt.Errorf("failed to assign sequence: %w", err)
	}

	insert := d.rebind(`
		INSERT INTO experiences (id, tenant_id, seq, cycle_id, action_type, scope_key, context, result, success, revenue_generated, lessons_json, mode, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = tx.Exec(insert,
		exp.ID, exp.TenantID, seq, exp.CycleID, string(exp.ActionType), exp.ScopeKey,
		exp.Context, exp.Result, exp.Success, exp.RevenueGenerated, string(lessons),
		string(exp.Mode), exp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append experience: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit experience: %w", err)
	}
	exp.Seq = seq
	return nil
}

// ListExperiences returns a tenant's ledger entries, newest first.
func (d *Database) ListExperiences(tenantID string, limit int) ([]*models.Experience, error) {
	if limit <= 0 {
		limit = 100
	}
	query := d.rebind(`
		SELECT id, tenant_id, seq, cycle_id, action_type, scope_key, context, result, success, revenue_generated, lessons_json, mode, created_at
		FROM experiences WHERE tenant_id = ? ORDER BY seq DESC LIMIT ?`)
	return d.queryExperiences(query, tenantID, limit)
}

// ListExperiencesByCycle returns the ledger entries one cycle produced, in
// sequence order.
func (d *Database) ListExperiencesByCycle(cycleID string) ([]*models.Experience, error) {
	query := d.rebind(`
		SELECT id, tenant_id, seq, cycle_id, action_type, scope_key, context, result, success, revenue_generated, lessons_json, mode, created_at
		FROM experiences WHERE cycle_id = ? ORDER BY seq`)
	return d.queryExperiences(query, cycleID)
}

// ReplayScope folds every ledger entry recorded under the scope key back
// into a fresh cache entry. This is the recovery path when a cache entry
// was evicted or the fast index is lost; the ledger remains the source of
// truth.
func (d *Database) ReplayScope(key models.ScopeKey) (*models.StrategyCacheEntry, error) {
	var rows *sql.Rows
	var err error
	if key.Global {
		// Experiences carry tenant-scoped keys; a global replay folds every
		// tenant's entries sharing the niche/channel/kind tail.
		suffix := fmt.Sprintf("%%|%s|%s|%s", key.Niche, key.Channel, key.Kind)
		query := d.rebind(`
			SELECT success, revenue_generated, created_at FROM experiences
			WHERE scope_key LIKE ? ORDER BY tenant_id, seq`)
		rows, err = d.db.Query(query, suffix)
	} else {
		query := d.rebind(`
			SELECT success, revenue_generated, created_at FROM experiences
			WHERE tenant_id = ? AND scope_key = ? ORDER BY seq`)
		rows, err = d.db.Query(query, key.TenantID, key.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to replay scope: %w", err)
	}
	defer rows.Close()

	entry := &models.StrategyCacheEntry{Key: key}
	for rows.Next() {
		var success bool
		var revenue float64
		var at time.Time
		if err := rows.Scan(&success, &revenue, &at); err != nil {
			return nil, fmt.Errorf("failed to scan replay row: %w", err)
		}
		entry.Observe(success, revenue, at)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	entry.Version = 0
	return entry, nil
}

func (d *Database) queryExperiences(query string, args ...interface{}) ([]*models.Experience, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiences: %w", err)
	}
	defer rows.Close()

	var exps []*models.Experience
	for rows.Next() {
		var e models.Experience
		var actionType, mode string
		var context, result, lessons sql.NullString
		err := rows.Scan(&e.ID, &e.TenantID, &e.Seq, &e.CycleID, &actionType, &e.ScopeKey,
			&context, &result, &e.Success, &e.RevenueGenerated, &lessons, &mode, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experience: %w", err)
		}
		e.ActionType = models.ActionType(actionType)
		e.Mode = models.DecisionMode(mode)
		e.Context = context.String
		e.Result = result.String
		if lessons.Valid && lessons.String != "" && lessons.String != "null" {
			if err := json.Unmarshal([]byte(lessons.String), &e.LessonsLearned); err != nil {
				return nil, fmt.Errorf("failed to unmarshal lessons: %w", err)
			}
		}
		exps = append(exps, &e)
	}
	return exps, rows.Err()
}

// AppendEvent writes one audit event. Events are append-only.
func (d *Database) AppendEvent(ev *models.AIEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	query := d.rebind(`
		INSERT INTO ai_events (id, tenant_id, cycle_id, event_type, payload, success, revenue_impact, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := d.db.Exec(query,
		ev.ID, ev.TenantID, ev.CycleID, ev.EventType, ev.Payload, ev.Success, ev.RevenueImpact, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns a tenant's audit events, newest first.
func (d *Database) ListEvents(tenantID string, limit int) ([]*models.AIEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := d.rebind(`
		SELECT id, tenant_id, cycle_id, event_type, payload, success, revenue_impact, created_at
		FROM ai_events WHERE tenant_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`)
	return d.queryEvents(query, tenantID, limit)
}

// ListEventsByCycle returns every audit event one cycle emitted, oldest
// first.
func (d *Database) ListEventsByCycle(cycleID string) ([]*models.AIEvent, error) {
	query := d.rebind(`
		SELECT id, tenant_id, cycle_id, event_type, payload, success, revenue_impact, created_at
		FROM ai_events WHERE cycle_id = ? ORDER BY created_at, id`)
	return d.queryEvents(query, cycleID)
}

// CountCycleEvents counts a cycle's events whose type starts with the given
// prefix, e.g. "task." for dispatched-action settlements.
func (d *Database) CountCycleEvents(cycleID, prefix string) (int, error) {
	query := d.rebind(`SELECT COUNT(*) FROM ai_events WHERE cycle_id = ? AND event_type LIKE ?`)
	var n int
	if err := d.db.QueryRow(query, cycleID, prefix+"%").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cycle events: %w", err)
	}
	return n, nil
}

func (d *Database) queryEvents(query string, args ...interface{}) ([]*models.AIEvent, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.AIEvent
	for rows.Next() {
		var ev models.AIEvent
		var cycleID, payload sql.NullString
		err := rows.Scan(&ev.ID, &ev.TenantID, &cycleID, &ev.EventType, &payload,
			&ev.Success, &ev.RevenueImpact, &ev.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.CycleID = cycleID.String
		ev.Payload = payload.String
		events = append(events, &ev)
	}
	return events, rows.Err()
}
