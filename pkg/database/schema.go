package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements creates the tables owned by the report subsystem. Site tables
// (projects, diaries, inspections, NCRs, cost entries, memberships) belong to the
// surrounding platform and are only created when missing so local setups work.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS report_requests (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	format TEXT NOT NULL,
	name TEXT NOT NULL,
	parameters JSONB NOT NULL DEFAULT '{}'::jsonb,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	current_step TEXT,
	error_message TEXT,
	file_url TEXT,
	file_size BIGINT,
	mime_type TEXT,
	requested_by TEXT NOT NULL,
	requested_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	CONSTRAINT report_requests_file_url_completed CHECK ((file_url IS NOT NULL) = (status = 'completed')),
	CONSTRAINT report_requests_error_failed CHECK ((error_message IS NOT NULL) = (status = 'failed'))
)`,
	`CREATE INDEX IF NOT EXISTS idx_report_requests_org_requested ON report_requests(organization_id, requested_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_report_requests_org_kind ON report_requests(organization_id, kind, requested_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_report_requests_status ON report_requests(status)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	organization_id TEXT,
	user_id TEXT,
	action TEXT NOT NULL,
	resource TEXT NOT NULL,
	resource_id TEXT,
	new_values JSONB,
	ip_address TEXT,
	user_agent TEXT,
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS organization_members (
	organization_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	PRIMARY KEY (organization_id, user_id)
)`,
	`CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	name TEXT NOT NULL,
	code TEXT,
	client TEXT,
	location TEXT,
	status TEXT NOT NULL DEFAULT 'active',
	start_date DATE,
	end_date DATE
)`,
	`CREATE TABLE IF NOT EXISTS daily_diaries (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	diary_date DATE NOT NULL,
	weather TEXT,
	summary TEXT,
	status TEXT NOT NULL DEFAULT 'draft',
	submitted_by TEXT
)`,
	`CREATE TABLE IF NOT EXISTS inspections (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	template_id TEXT,
	template_name TEXT NOT NULL,
	location TEXT,
	status TEXT NOT NULL,
	inspector TEXT,
	notes TEXT,
	inspected_at TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS ncrs (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	ncr_number TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	severity TEXT NOT NULL,
	status TEXT NOT NULL,
	raised_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS diary_labour (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	diary_id TEXT NOT NULL,
	worker_name TEXT NOT NULL,
	trade TEXT,
	hours NUMERIC NOT NULL DEFAULT 0,
	hourly_rate NUMERIC NOT NULL DEFAULT 0,
	total_cost NUMERIC NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS diary_plant (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	diary_id TEXT NOT NULL,
	equipment TEXT NOT NULL,
	hours NUMERIC NOT NULL DEFAULT 0,
	hourly_rate NUMERIC NOT NULL DEFAULT 0,
	daily_rate NUMERIC NOT NULL DEFAULT 0,
	fuel_cost NUMERIC NOT NULL DEFAULT 0,
	total_cost NUMERIC NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS diary_materials (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	diary_id TEXT NOT NULL,
	material TEXT NOT NULL,
	quantity NUMERIC NOT NULL DEFAULT 0,
	unit TEXT,
	unit_cost NUMERIC NOT NULL DEFAULT 0,
	total_cost NUMERIC NOT NULL DEFAULT 0
)`,
}

// EnsureSchema creates the tables used by the service if they do not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
