package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Database wraps the SQL store shared by all tenant cycles. The append-only
// tables (experiences, ai_events, profit_logs) never see UPDATE or DELETE;
// the aggregate tables (strategy_stats, success_patterns) are versioned.
type Database struct {
	db         *sql.DB
	supportsHA bool
}

// New creates a SQLite-backed database and initializes the schema.
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; funnel everything through one
	// connection so concurrent cycles queue instead of erroring.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	d := &Database{db: db}

	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// SupportsHA reports whether this backend can host multiple daemon
// instances (postgres). SQLite runs single-instance.
func (d *Database) SupportsHA() bool {
	return d.supportsHA
}

// initSchema creates the SQLite tables
func (d *Database) initSchema() error {
	schema := `
	-- Tenants: business units under orchestration
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		niche TEXT NOT NULL,
		keywords_json TEXT,
		persona TEXT NOT NULL DEFAULT 'coach',
		plan TEXT NOT NULL DEFAULT 'starter',
		status TEXT NOT NULL DEFAULT 'active',
		autopilot_enabled INTEGER NOT NULL DEFAULT 0,
		policy_json TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Experiences: append-only action ledger, per-tenant monotonic seq
	CREATE TABLE IF NOT EXISTS experiences (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		cycle_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		scope_key TEXT NOT NULL DEFAULT '',
		context TEXT,
		result TEXT,
		success INTEGER NOT NULL,
		revenue_generated REAL NOT NULL DEFAULT 0,
		lessons_json TEXT,
		mode TEXT NOT NULL DEFAULT 'exploit',
		created_at TIMESTAMP NOT NULL,
		UNIQUE (tenant_id, seq)
	);

	-- AI events: append-only audit log of decisions and dispatched actions
	CREATE TABLE IF NOT EXISTS ai_events (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		cycle_id TEXT,
		event_type TEXT NOT NULL,
		payload TEXT,
		success INTEGER NOT NULL DEFAULT 1,
		revenue_impact REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	-- Profit ledger: append-only; outcome_id uniqueness blocks double-counting
	CREATE TABLE IF NOT EXISTS profit_logs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		source TEXT NOT NULL,
		amount REAL NOT NULL,
		category TEXT NOT NULL,
		outcome_id TEXT NOT NULL UNIQUE,
		recorded_at TIMESTAMP NOT NULL
	);

	-- Settled task outcomes: the idempotency gate for the collector
	CREATE TABLE IF NOT EXISTS task_outcomes (
		outcome_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		cycle_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		status TEXT NOT NULL,
		settled_at TIMESTAMP NOT NULL
	);

	-- Strategy cache backing rows, scope-keyed and versioned
	CREATE TABLE IF NOT EXISTS strategy_stats (
		key TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL DEFAULT '',
		niche TEXT NOT NULL,
		channel TEXT NOT NULL,
		kind TEXT NOT NULL,
		is_global INTEGER NOT NULL DEFAULT 0,
		strategy_name TEXT,
		average_profit REAL NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		success_rate REAL NOT NULL DEFAULT 0,
		last_used TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 0,
		evicted INTEGER NOT NULL DEFAULT 0
	);

	-- Pattern aggregates derived from experiences sharing a shape
	CREATE TABLE IF NOT EXISTS success_patterns (
		pattern_type TEXT NOT NULL,
		pattern_key TEXT NOT NULL,
		tenant_id TEXT NOT NULL DEFAULT '',
		is_global INTEGER NOT NULL DEFAULT 0,
		pattern_data TEXT,
		success_count INTEGER NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 0,
		success_rate REAL NOT NULL DEFAULT 0,
		average_profit REAL NOT NULL DEFAULT 0,
		last_used TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (pattern_type, pattern_key, tenant_id)
	);

	-- Reinvestment directives, one per evaluated window
	CREATE TABLE IF NOT EXISTS directives (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		cycle_id TEXT NOT NULL,
		action TEXT NOT NULL,
		channel TEXT,
		fraction REAL NOT NULL,
		amount REAL NOT NULL,
		window_start TIMESTAMP NOT NULL,
		window_end TIMESTAMP NOT NULL,
		watermark INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	-- Cycle records: one row per orchestrated cycle
	CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		strategy TEXT,
		mode TEXT,
		error TEXT,
		channels_json TEXT,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	-- Single-flight cycle leases, one per tenant
	CREATE TABLE IF NOT EXISTS cycle_leases (
		tenant_id TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		acquired_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		heartbeat_at TIMESTAMP NOT NULL
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

	if _, err := d.db.Exec(schema); err != nil {
		return err
	}

	return d.migrate()
}

// migrate applies best-effort column additions for older databases.
// Errors are ignored when the column already exists.
func (d *Database) migrate() error {
	alters := []string{
		`ALTER TABLE tenants ADD COLUMN keywords_json TEXT`,
		`ALTER TABLE experiences ADD COLUMN mode TEXT NOT NULL DEFAULT 'exploit'`,
		`ALTER TABLE experiences ADD COLUMN scope_key TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE strategy_stats ADD COLUMN evicted INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE cycles ADD COLUMN mode TEXT`,
	}
	for _, stmt := range alters {
		_, _ = d.db.Exec(stmt)
	}
	return nil
}
