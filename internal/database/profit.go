package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/venture/pkg/models"
)

// InsertProfitLog appends one realized-money entry. Returns false when an
// entry for the same outcome already exists; the ledger stays
// double-count-free under at-least-once delivery.
func (d *Database) InsertProfitLog(p *models.ProfitLog) (bool, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.RecordedAt.IsZero() {
		p.RecordedAt = time.Now().UTC()
	}

	query := d.rebind(`
		INSERT INTO profit_logs (id, tenant_id, source, amount, category, outcome_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (outcome_id) DO NOTHING`)
	res, err := d.db.Exec(query,
		p.ID, p.TenantID, p.Source, p.Amount, string(p.Category), p.OutcomeID, p.RecordedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert profit log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n > 0, nil
}

// WindowProfit returns the net profit realized in [start, end] together
// with the highest profit row seq in the window. Cost entries subtract;
// revenue and profit entries add. The seq doubles as the reinvestment
// watermark.
func (d *Database) WindowProfit(tenantID string, start, end time.Time) (float64, int64, error) {
	query := d.rebind(`
		SELECT COALESCE(SUM(CASE WHEN category = 'cost' THEN -amount ELSE amount END), 0),
		       COALESCE(MAX(seq), 0)
		FROM profit_logs
		WHERE tenant_id = ? AND recorded_at >= ? AND recorded_at <= ?`)

	var net float64
	var maxSeq int64
	if err := d.db.QueryRow(query, tenantID, start, end).Scan(&net, &maxSeq); err != nil {
		return 0, 0, fmt.Errorf("failed to compute window profit: %w", err)
	}
	return net, maxSeq, nil
}

// WindowProfitBySource breaks the window's net down by source channel.
func (d *Database) WindowProfitBySource(tenantID string, start, end time.Time) (map[string]float64, error) {
	query := d.rebind(`
		SELECT source, COALESCE(SUM(CASE WHEN category = 'cost' THEN -amount ELSE amount END), 0)
		FROM profit_logs
		WHERE tenant_id = ? AND recorded_at >= ? AND recorded_at <= ?
		GROUP BY source`)

	rows, err := d.db.Query(query, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to break down window profit: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var source string
		var net float64
		if err := rows.Scan(&source, &net); err != nil {
			return nil, fmt.Errorf("failed to scan window breakdown: %w", err)
		}
		out[source] = net
	}
	return out, rows.Err()
}

// TotalRevenue sums every revenue entry a tenant has ever recorded.
func (d *Database) TotalRevenue(tenantID string) (float64, error) {
	query := d.rebind(`
		SELECT COALESCE(SUM(amount), 0) FROM profit_logs
		WHERE tenant_id = ? AND category = ?`)
	var total float64
	if err := d.db.QueryRow(query, tenantID, string(models.ProfitRevenue)).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum revenue: %w", err)
	}
	return total, nil
}

// ListProfitLogs returns a tenant's profit entries, newest first.
func (d *Database) ListProfitLogs(tenantID string, limit int) ([]*models.ProfitLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := d.rebind(`
		SELECT id, tenant_id, source, amount, category, outcome_id, recorded_at
		FROM profit_logs WHERE tenant_id = ? ORDER BY seq DESC LIMIT ?`)

	rows, err := d.db.Query(query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list profit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.ProfitLog
	for rows.Next() {
		var p models.ProfitLog
		var category string
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Source, &p.Amount, &category, &p.OutcomeID, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profit log: %w", err)
		}
		p.Category = models.ProfitCategory(category)
		logs = append(logs, &p)
	}
	return logs, rows.Err()
}

// BuildKPIReport assembles the per-tenant report the admin surface serves.
func (d *Database) BuildKPIReport(tenantID string, windowDays int) (*models.KPIReport, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -windowDays)

	report := &models.KPIReport{
		TenantID:    tenantID,
		WindowDays:  windowDays,
		GeneratedAt: now,
	}

	total, err := d.TotalRevenue(tenantID)
	if err != nil {
		return nil, err
	}
	report.TotalRevenue = total

	windowNet, _, err := d.WindowProfit(tenantID, since, now)
	if err != nil {
		return nil, err
	}
	report.WindowRevenue = windowNet

	cyclesQuery := d.rebind(`SELECT COUNT(*) FROM cycles WHERE tenant_id = ?`)
	if err := d.db.QueryRow(cyclesQuery, tenantID).Scan(&report.CyclesRun); err != nil {
		return nil, fmt.Errorf("failed to count cycles: %w", err)
	}

	campaignsQuery := d.rebind(`
		SELECT COUNT(*) FROM experiences
		WHERE tenant_id = ? AND action_type = ? AND success = ? AND created_at >= ?`)
	if err := d.db.QueryRow(campaignsQuery, tenantID, string(models.ActionAdLaunch), true, since).Scan(&report.ActiveCampaigns); err != nil {
		return nil, fmt.Errorf("failed to count campaigns: %w", err)
	}

	rateQuery := d.rebind(`
		SELECT COALESCE(AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END), 0)
		FROM experiences WHERE tenant_id = ? AND action_type != ?`)
	if err := d.db.QueryRow(rateQuery, tenantID, string(models.ActionDecision)).Scan(&report.SuccessRate); err != nil {
		return nil, fmt.Errorf("failed to compute success rate: %w", err)
	}

	return report, nil
}
