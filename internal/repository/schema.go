package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaBatches = `
CREATE TABLE IF NOT EXISTS batches (
    id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    name TEXT,
    record_count INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_batches_session ON batches(session_id);
CREATE INDEX IF NOT EXISTS idx_batches_created ON batches(session_id, created_at);
`

const schemaDeals = `
CREATE TABLE IF NOT EXISTS deals (
    batch_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    deal_id TEXT NOT NULL,
    sales_rep TEXT NOT NULL,
    region TEXT NOT NULL,
    product_tier TEXT NOT NULL,
    deal_size REAL NOT NULL,
    commission_rate REAL NOT NULL,
    commission_amount REAL NOT NULL,
    PRIMARY KEY (batch_id, session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_deals_batch ON deals(session_id, batch_id);
`

const schemaReports = `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    batch_id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    results TEXT NOT NULL,
    metrics TEXT NOT NULL,
    anomaly_count INTEGER NOT NULL DEFAULT 0,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_session ON reports(session_id);
CREATE INDEX IF NOT EXISTS idx_reports_batch ON reports(session_id, batch_id);
CREATE INDEX IF NOT EXISTS idx_reports_timestamp ON reports(session_id, timestamp);
`

// schemaCheckConfigs defines the custom validation check table. Checks are
// global: they apply to every session.
const schemaCheckConfigs = `
CREATE TABLE IF NOT EXISTS check_configs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    message TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_check_configs_enabled ON check_configs(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBatches,
		schemaDeals,
		schemaReports,
		schemaCheckConfigs,
	}
}
