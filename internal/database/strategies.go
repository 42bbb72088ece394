package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jordanhubbard/venture/pkg/models"
)

const maxVersionRetries = 5

// GetStrategyStat loads the cache entry stored under the key. Evicted
// entries are invisible here; ReplayScope reconstructs them from the
// ledger when needed.
func (d *Database) GetStrategyStat(key models.ScopeKey) (*models.StrategyCacheEntry, error) {
	query := d.rebind(`
		SELECT strategy_name, average_profit, usage_count, success_count, success_rate, last_used, version
		FROM strategy_stats WHERE key = ? AND evicted = ?`)

	entry := &models.StrategyCacheEntry{Key: key}
	var name sql.NullString
	var lastUsed sql.NullTime
	err := d.db.QueryRow(query, key.String(), false).Scan(
		&name, &entry.AverageProfit, &entry.UsageCount, &entry.SuccessCount,
		&entry.SuccessRate, &lastUsed, &entry.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy stat: %w", err)
	}
	entry.StrategyName = name.String
	if lastUsed.Valid {
		entry.LastUsed = lastUsed.Time
	}
	return entry, nil
}

// RecordStrategyObservation folds one settled outcome into the stored
// entry under optimistic versioning. Callers append the backing ledger
// entry before calling this: when the row is missing or evicted the
// aggregate is rebuilt by replaying the ledger, which at that point
// already contains the observation. Concurrent writers to the same key
// retry against the fresh version.
func (d *Database) RecordStrategyObservation(key models.ScopeKey, strategyName string, success bool, profit float64, at time.Time) (*models.StrategyCacheEntry, error) {
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		current, evicted, err := d.loadStrategyRow(key)
		if err != nil {
			return nil, err
		}

		if current == nil || evicted {
			rebuilt, err := d.ReplayScope(key)
			if err != nil {
				return nil, err
			}
			rebuilt.StrategyName = strategyName
			if current == nil {
				rebuilt.Version = 1
				if ok, err := d.insertStrategyRow(rebuilt); err != nil {
					return nil, err
				} else if ok {
					return rebuilt, nil
				}
				// Lost the insert race; reload and fold on top.
				continue
			}
			rebuilt.Version = current.Version + 1
			ok, err := d.replaceStrategyRow(rebuilt, current.Version)
			if err != nil {
				return nil, err
			}
			if ok {
				return rebuilt, nil
			}
			continue
		}

		next := *current
		if strategyName != "" {
			next.StrategyName = strategyName
		}
		next.Observe(success, profit, at)
		ok, err := d.replaceStrategyRow(&next, current.Version)
		if err != nil {
			return nil, err
		}
		if ok {
			return &next, nil
		}
	}
	return nil, &models.DataIntegrityError{Detail: fmt.Sprintf("strategy stat %s: version conflict persisted after %d retries", key.String(), maxVersionRetries)}
}

// loadStrategyRow reads the row regardless of eviction state.
func (d *Database) loadStrategyRow(key models.ScopeKey) (*models.StrategyCacheEntry, bool, error) {
	query := d.rebind(`
		SELECT strategy_name, average_profit, usage_count, success_count, success_rate, last_used, version, evicted
		FROM strategy_stats WHERE key = ?`)

	entry := &models.StrategyCacheEntry{Key: key}
	var name sql.NullString
	var lastUsed sql.NullTime
	var evicted bool
	err := d.db.QueryRow(query, key.String()).Scan(
		&name, &entry.AverageProfit, &entry.UsageCount, &entry.SuccessCount,
		&entry.SuccessRate, &lastUsed, &entry.Version, &evicted)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load strategy stat: %w", err)
	}
	entry.StrategyName = name.String
	if lastUsed.Valid {
		entry.LastUsed = lastUsed.Time
	}
	entry.Evicted = evicted
	return entry, evicted, nil
}

func (d *Database) insertStrategyRow(entry *models.StrategyCacheEntry) (bool, error) {
	insert := d.rebind(`
		INSERT INTO strategy_stats (key, tenant_id, niche, channel, kind, is_global, strategy_name, average_profit, usage_count, success_count, success_rate, last_used, version, evicted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO NOTHING`)
	res, err := d.db.Exec(insert,
		entry.Key.String(), entry.Key.TenantID, entry.Key.Niche, string(entry.Key.Channel),
		string(entry.Key.Kind), entry.Key.Global, entry.StrategyName, entry.AverageProfit,
		entry.UsageCount, entry.SuccessCount, entry.SuccessRate, entry.LastUsed,
		entry.Version, false)
	if err != nil {
		return false, fmt.Errorf("failed to insert strategy stat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *Database) replaceStrategyRow(entry *models.StrategyCacheEntry, expectVersion int64) (bool, error) {
	update := d.rebind(`
		UPDATE strategy_stats
		SET strategy_name = ?, average_profit = ?, usage_count = ?, success_count = ?, success_rate = ?, last_used = ?, version = ?, evicted = ?
		WHERE key = ? AND version = ?`)
	res, err := d.db.Exec(update,
		entry.StrategyName, entry.AverageProfit, entry.UsageCount, entry.SuccessCount,
		entry.SuccessRate, entry.LastUsed, entry.Version, false,
		entry.Key.String(), expectVersion)
	if err != nil {
		return false, fmt.Errorf("failed to update strategy stat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveStrategyStat stores a rebuilt entry verbatim, replacing whatever row
// exists. Used by the replay path after eviction or index loss.
func (d *Database) SaveStrategyStat(entry *models.StrategyCacheEntry) error {
	query := d.rebind(`
		INSERT INTO strategy_stats (key, tenant_id, niche, channel, kind, is_global, strategy_name, average_profit, usage_count, success_count, success_rate, last_used, version, evicted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			strategy_name = excluded.strategy_name,
			average_profit = excluded.average_profit,
			usage_count = excluded.usage_count,
			success_count = excluded.success_count,
			success_rate = excluded.success_rate,
			last_used = excluded.last_used,
			version = strategy_stats.version + 1,
			evicted = excluded.evicted`)
	_, err := d.db.Exec(query,
		entry.Key.String(), entry.Key.TenantID, entry.Key.Niche, string(entry.Key.Channel),
		string(entry.Key.Kind), entry.Key.Global, entry.StrategyName, entry.AverageProfit,
		entry.UsageCount, entry.SuccessCount, entry.SuccessRate, entry.LastUsed,
		entry.Version, entry.Evicted)
	if err != nil {
		return fmt.Errorf("failed to save strategy stat: %w", err)
	}
	return nil
}

// ListStrategyStats returns a tenant's live cache entries plus the global
// ones, best average profit first.
func (d *Database) ListStrategyStats(tenantID string) ([]*models.StrategyCacheEntry, error) {
	query := d.rebind(`
		SELECT key, tenant_id, niche, channel, kind, is_global, strategy_name, average_profit, usage_count, success_count, success_rate, last_used, version
		FROM strategy_stats
		WHERE (tenant_id = ? OR is_global = ?) AND evicted = ?
		ORDER BY average_profit DESC`)

	rows, err := d.db.Query(query, tenantID, true, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategy stats: %w", err)
	}
	defer rows.Close()

	var entries []*models.StrategyCacheEntry
	for rows.Next() {
		var e models.StrategyCacheEntry
		var rawKey, channel, kind string
		var name sql.NullString
		var lastUsed sql.NullTime
		err := rows.Scan(&rawKey, &e.Key.TenantID, &e.Key.Niche, &channel, &kind, &e.Key.Global,
			&name, &e.AverageProfit, &e.UsageCount, &e.SuccessCount, &e.SuccessRate, &lastUsed, &e.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strategy stat: %w", err)
		}
		e.Key.Channel = models.Channel(channel)
		e.Key.Kind = models.StrategyKind(kind)
		e.StrategyName = name.String
		if lastUsed.Valid {
			e.LastUsed = lastUsed.Time
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// EvictStrategyStat flags an entry out of the fast path. The ledger rows
// behind it are untouched, so the aggregate stays reconstructable.
func (d *Database) EvictStrategyStat(key models.ScopeKey) error {
	query := d.rebind(`UPDATE strategy_stats SET evicted = ?, version = version + 1 WHERE key = ?`)
	_, err := d.db.Exec(query, true, key.String())
	if err != nil {
		return fmt.Errorf("failed to evict strategy stat: %w", err)
	}
	return nil
}

// EvictColdStrategyStats flags entries last used before the cutoff whose
// score fell under the floor. Returns how many entries were evicted.
func (d *Database) EvictColdStrategyStats(before time.Time, minSuccessRate float64) (int64, error) {
	query := d.rebind(`
		UPDATE strategy_stats SET evicted = ?, version = version + 1
		WHERE evicted = ? AND last_used < ? AND success_rate < ?`)
	res, err := d.db.Exec(query, true, false, before, minSuccessRate)
	if err != nil {
		return 0, fmt.Errorf("failed to evict cold strategy stats: %w", err)
	}
	return res.RowsAffected()
}

// UpsertSuccessPattern folds an observation into a pattern aggregate.
func (d *Database) UpsertSuccessPattern(p *models.SuccessPattern, success bool, profit float64, at time.Time) error {
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		query := d.rebind(`
			SELECT success_count, usage_count, average_profit, version
			FROM success_patterns WHERE pattern_type = ? AND pattern_key = ? AND tenant_id = ?`)
		var sc, uc, version int64
		var avg float64
		err := d.db.QueryRow(query, p.PatternType, p.PatternKey, p.TenantID).Scan(&sc, &uc, &avg, &version)
		if err == sql.ErrNoRows {
			uc = 0
			sc = 0
			avg = 0
			version = -1
		} else if err != nil {
			return fmt.Errorf("failed to load success pattern: %w", err)
		}

		avg = avg + (profit-avg)/float64(uc+1)
		uc++
		if success {
			sc++
		}
		rate := float64(sc) / float64(uc)

		if version < 0 {
			insert := d.rebind(`
				INSERT INTO success_patterns (pattern_type, pattern_key, tenant_id, is_global, pattern_data, success_count, usage_count, success_rate, average_profit, last_used, version)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (pattern_type, pattern_key, tenant_id) DO NOTHING`)
			res, err := d.db.Exec(insert,
				p.PatternType, p.PatternKey, p.TenantID, p.Global, p.PatternData,
				sc, uc, rate, avg, at, 1)
			if err != nil {
				return fmt.Errorf("failed to insert success pattern: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				return nil
			}
			continue
		}

		update := d.rebind(`
			UPDATE success_patterns
			SET success_count = ?, usage_count = ?, success_rate = ?, average_profit = ?, last_used = ?, version = ?
			WHERE pattern_type = ? AND pattern_key = ? AND tenant_id = ? AND version = ?`)
		res, err := d.db.Exec(update, sc, uc, rate, avg, at, version+1,
			p.PatternType, p.PatternKey, p.TenantID, version)
		if err != nil {
			return fmt.Errorf("failed to update success pattern: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
	}
	return &models.DataIntegrityError{Detail: fmt.Sprintf("success pattern %s/%s: version conflict persisted", p.PatternType, p.PatternKey)}
}

// ListSuccessPatterns returns a tenant's pattern aggregates plus the global
// ones, strongest first.
func (d *Database) ListSuccessPatterns(tenantID string) ([]*models.SuccessPattern, error) {
	query := d.rebind(`
		SELECT pattern_type, pattern_key, tenant_id, is_global, pattern_data, success_count, usage_count, success_rate, average_profit, last_used, version
		FROM success_patterns
		WHERE tenant_id = ? OR is_global = ?
		ORDER BY success_rate DESC, average_profit DESC`)

	rows, err := d.db.Query(query, tenantID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list success patterns: %w", err)
	}
	defer rows.Close()

	var patterns []*models.SuccessPattern
	for rows.Next() {
		var p models.SuccessPattern
		var data sql.NullString
		var lastUsed sql.NullTime
		err := rows.Scan(&p.PatternType, &p.PatternKey, &p.TenantID, &p.Global, &data,
			&p.SuccessCount, &p.UsageCount, &p.SuccessRate, &p.AverageProfit, &lastUsed, &p.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to scan success pattern: %w", err)
		}
		p.PatternData = data.String
		if lastUsed.Valid {
			p.LastUsed = lastUsed.Time
		}
		patterns = append(patterns, &p)
	}
	return patterns, rows.Err()
}
