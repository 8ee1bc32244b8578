package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaApplications = `
CREATE TABLE IF NOT EXISTS applications (
    id TEXT PRIMARY KEY,
    client_name TEXT NOT NULL,
    email TEXT,
    status TEXT NOT NULL DEFAULT 'draft',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status);
CREATE INDEX IF NOT EXISTS idx_applications_created ON applications(created_at);
`

// schemaFormRecords holds one row per (application, step). Saves replace the
// whole data document, so the primary key doubles as the upsert conflict target.
const schemaFormRecords = `
CREATE TABLE IF NOT EXISTS form_records (
    application_id TEXT NOT NULL,
    step TEXT NOT NULL,
    data TEXT NOT NULL,
    last_updated TIMESTAMP NOT NULL,
    PRIMARY KEY (application_id, step)
);

CREATE INDEX IF NOT EXISTS idx_form_records_application ON form_records(application_id);
`

const schemaScreeningRules = `
CREATE TABLE IF NOT EXISTS screening_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    impact TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_screening_rules_enabled ON screening_rules(enabled);
`

const schemaRiskSnapshots = `
CREATE TABLE IF NOT EXISTS risk_snapshots (
    id TEXT PRIMARY KEY,
    application_id TEXT NOT NULL,
    score REAL NOT NULL,
    level TEXT NOT NULL,
    scoring_method TEXT NOT NULL,
    rule_weight REAL NOT NULL,
    factors TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_snapshots_application ON risk_snapshots(application_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaApplications,
		schemaFormRecords,
		schemaScreeningRules,
		schemaRiskSnapshots,
	}
}
