package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// NewPostgres creates a PostgreSQL-backed database and initializes the
// schema. Postgres supports multiple daemon instances sharing the store;
// the cycle lease table arbitrates which instance runs a tenant's cycle.
func NewPostgres(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	d := &Database{db: db, supportsHA: true}

	if err := d.initPostgresSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize postgres schema: %w", err)
	}

	return d, nil
}

// rebind converts ? placeholders to postgres $N placeholders when the
// backend requires it. Entity methods write queries with ? and pass them
// through rebind before execution.
func (d *Database) rebind(query string) string {
	if !d.supportsHA {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (d *Database) initPostgresSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		niche TEXT NOT NULL,
		keywords_json TEXT,
		persona TEXT NOT NULL DEFAULT 'coach',
		plan TEXT NOT NULL DEFAULT 'starter',
		status TEXT NOT NULL DEFAULT 'active',
		autopilot_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		policy_json TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS experiences (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		seq BIGINT NOT NULL,
		cycle_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		scope_key TEXT NOT NULL DEFAULT '',
		context TEXT,
		result TEXT,
		success BOOLEAN NOT NULL,
		revenue_generated DOUBLE PRECISION NOT NULL DEFAULT 0,
		lessons_json TEXT,
		mode TEXT NOT NULL DEFAULT 'exploit',
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (tenant_id, seq)
	);

	CREATE TABLE IF NOT EXISTS ai_events (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		cycle_id TEXT,
		event_type TEXT NOT NULL,
		payload TEXT,
		success BOOLEAN NOT NULL DEFAULT TRUE,
		revenue_impact DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profit_logs (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		source TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		category TEXT NOT NULL,
		outcome_id TEXT NOT NULL UNIQUE,
		recorded_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_outcomes (
		outcome_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		cycle_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		status TEXT NOT NULL,
		settled_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS strategy_stats (
		key TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL DEFAULT '',
		niche TEXT NOT NULL,
		channel TEXT NOT NULL,
		kind TEXT NOT NULL,
		is_global BOOLEAN NOT NULL DEFAULT FALSE,
		strategy_name TEXT,
		average_profit DOUBLE PRECISION NOT NULL DEFAULT 0,
		usage_count BIGINT NOT NULL DEFAULT 0,
		success_count BIGINT NOT NULL DEFAULT 0,
		success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_used TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 0,
		evicted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS success_patterns (
		pattern_type TEXT NOT NULL,
		pattern_key TEXT NOT NULL,
		tenant_id TEXT NOT NULL DEFAULT '',
		is_global BOOLEAN NOT NULL DEFAULT FALSE,
		pattern_data TEXT,
		success_count BIGINT NOT NULL DEFAULT 0,
		usage_count BIGINT NOT NULL DEFAULT 0,
		success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		average_profit DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_used TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (pattern_type, pattern_key, tenant_id)
	);

	CREATE TABLE IF NOT EXISTS directives (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		cycle_id TEXT NOT NULL,
		action TEXT NOT NULL,
		channel TEXT,
		fraction DOUBLE PRECISION NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		window_start TIMESTAMPTZ NOT NULL,
		window_end TIMESTAMPTZ NOT NULL,
		watermark BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		strategy TEXT,
		mode TEXT,
		error TEXT,
		channels_json TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS cycle_leases (
		tenant_id TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		acquired_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		heartbeat_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_experiences_tenant_seq ON experiences(tenant_id, seq);
	CREATE INDEX IF NOT EXISTS idx_experiences_scope ON experiences(tenant_id, scope_key, seq);
	CREATE INDEX IF NOT EXISTS idx_experiences_cycle ON experiences(cycle_id);
	CREATE INDEX IF NOT EXISTS idx_ai_events_tenant ON ai_events(tenant_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_ai_events_cycle ON ai_events(cycle_id);
	CREATE INDEX IF NOT EXISTS idx_profit_logs_tenant_time ON profit_logs(tenant_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_strategy_stats_scope ON strategy_stats(tenant_id, niche, channel);
	CREATE INDEX IF NOT EXISTS idx_cycles_tenant ON cycles(tenant_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_directives_tenant ON directives(tenant_id, created_at);
	`

	_, err := d.db.Exec(schema)
	return err
}
