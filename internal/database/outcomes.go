package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/venture/pkg/models"
)

// Settlement bundles everything one settled task outcome writes: the gate
// row, the ledger entry, the audit event, and the optional profit entry.
type Settlement struct {
	OutcomeID  string
	TenantID   string
	CycleID    string
	Channel    string
	Status     string
	Experience *models.Experience
	Event      *models.AIEvent
	Profit     *models.ProfitLog
}

// SettleTaskOutcome absorbs one task outcome into the ledgers atomically.
// The outcome id gate is claimed inside the same transaction as the
// writes, so a redelivered outcome either replays nothing (gate already
// claimed) or everything (prior attempt rolled back). Returns false when
// the outcome was already settled.
func (d *Database) SettleTaskOutcome(s *Settlement) (bool, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin settlement: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	gate := d.rebind(`
		INSERT INTO task_outcomes (outcome_id, tenant_id, cycle_id, channel, status, settled_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (outcome_id) DO NOTHING`)
	res, err := tx.Exec(gate, s.OutcomeID, s.TenantID, s.CycleID, s.Channel, s.Status, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if exp := s.Experience; exp != nil {
		if exp.ID == "" {
			exp.ID = uuid.New().String()
		}
		if exp.CreatedAt.IsZero() {
			exp.CreatedAt = now
		}
		lessons, err := json.Marshal(exp.LessonsLearned)
		if err != nil {
			return false, fmt.Errorf("failed to marshal lessons: %w", err)
		}

		var seq int64
		seqQuery := d.rebind(`SELECT COALESCE(MAX(seq), 0) + 1 FROM experiences WHERE tenant_id = ?`)
		if err := tx.QueryRow(seqQuery, exp.TenantID).Scan(&seq); err != nil {
			return false, fmt.Errorf("failed to assign sequence: %w", err)
		}
		insert := d.rebind(`
			INSERT INTO experiences (id, tenant_id, seq, cycle_id, action_type, scope_key, context, result, success, revenue_generated, lessons_json, mode, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err = tx.Exec(insert,
			exp.ID, exp.TenantID, seq, exp.CycleID, string(exp.ActionType), exp.ScopeKey,
			exp.Context, exp.Result, exp.Success, exp.RevenueGenerated, string(lessons),
			string(exp.Mode), exp.CreatedAt)
		if err != nil {
			return false, fmt.Errorf("failed to append experience: %w", err)
		}
		exp.Seq = seq
	}

	if ev := s.Event; ev != nil {
		if ev.ID == "" {
			ev.ID = uuid.New().String()
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = now
		}
		insert := d.rebind(`
			INSERT INTO ai_events (id, tenant_id, cycle_id, event_type, payload, success, revenue_impact, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err := tx.Exec(insert,
			ev.ID, ev.TenantID, ev.CycleID, ev.EventType, ev.Payload, ev.Success, ev.RevenueImpact, ev.CreatedAt)
		if err != nil {
			return false, fmt.Errorf("failed to append event: %w", err)
		}
	}

	if p := s.Profit; p != nil {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if p.RecordedAt.IsZero() {
			p.RecordedAt = now
		}
		insert := d.rebind(`
			INSERT INTO profit_logs (id, tenant_id, source, amount, category, outcome_id, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (outcome_id) DO NOTHING`)
		_, err := tx.Exec(insert,
			p.ID, p.TenantID, p.Source, p.Amount, string(p.Category), p.OutcomeID, p.RecordedAt)
		if err != nil {
			return false, fmt.Errorf("failed to insert profit log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit settlement: %w", err)
	}
	return true, nil
}

// MarkOutcomeSettled records that a task outcome has been absorbed into the
// ledgers. Returns false when the outcome was already settled; callers use
// that to make redelivered outcomes no-ops.
func (d *Database) MarkOutcomeSettled(outcomeID, tenantID, cycleID, channel, status string) (bool, error) {
	query := d.rebind(`
		INSERT INTO task_outcomes (outcome_id, tenant_id, cycle_id, channel, status, settled_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (outcome_id) DO NOTHING`)
	res, err := d.db.Exec(query, outcomeID, tenantID, cycleID, channel, status, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark outcome settled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read settle result: %w", err)
	}
	return n > 0, nil
}

// OutcomeSettled reports whether an outcome id has already been absorbed.
func (d *Database) OutcomeSettled(outcomeID string) (bool, error) {
	query := d.rebind(`SELECT COUNT(*) FROM task_outcomes WHERE outcome_id = ?`)
	var n int
	if err := d.db.QueryRow(query, outcomeID).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check outcome: %w", err)
	}
	return n > 0, nil
}
