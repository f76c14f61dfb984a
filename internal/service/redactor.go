package service

import "github.com/noah-isme/sitereport-api/internal/models"

// DefaultSensitiveFields lists the cost and rate columns hidden from roles without
// financial access.
var DefaultSensitiveFields = []string{"hourly_rate", "daily_rate", "total_cost", "fuel_cost", "unit_cost"}

// Redact returns copies of records with fields removed unless role may view
// financials. The input slice and its records are never modified.
func Redact(records []models.Record, role models.OrgRole, fields []string) []models.Record {
	out := make([]models.Record, len(records))
	for i, record := range records {
		out[i] = RedactRecord(record, role, fields)
	}
	return out
}

// RedactRecord applies Redact to a single record.
func RedactRecord(record models.Record, role models.OrgRole, fields []string) models.Record {
	clone := record.Clone()
	if models.CanViewFinancials(role) {
		return clone
	}
	if fields == nil {
		fields = DefaultSensitiveFields
	}
	for _, field := range fields {
		delete(clone, field)
	}
	return clone
}

// redactColumns drops sensitive columns from a column list for unauthorized roles.
func redactColumns(columns []string, role models.OrgRole) []string {
	if models.CanViewFinancials(role) {
		return columns
	}
	hidden := make(map[string]struct{}, len(DefaultSensitiveFields))
	for _, field := range DefaultSensitiveFields {
		hidden[field] = struct{}{}
	}
	out := make([]string, 0, len(columns))
	for _, col := range columns {
		if _, ok := hidden[col]; !ok {
			out = append(out, col)
		}
	}
	return out
}
