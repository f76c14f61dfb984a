package models

import (
	"strings"
	"time"
)

// ReportKind enumerates the supported report categories.
type ReportKind string

const (
	ReportKindProjectSummary    ReportKind = "project_summary"
	ReportKindDiaryExport       ReportKind = "diary_export"
	ReportKindInspectionSummary ReportKind = "inspection_summary"
	ReportKindNCRReport         ReportKind = "ncr_report"
	ReportKindFinancialSummary  ReportKind = "financial_summary"
	ReportKindITPReport         ReportKind = "itp_report"
)

// IsValid reports whether the kind is one of the known kinds.
func (k ReportKind) IsValid() bool {
	switch k {
	case ReportKindProjectSummary, ReportKindDiaryExport, ReportKindInspectionSummary,
		ReportKindNCRReport, ReportKindFinancialSummary, ReportKindITPReport:
		return true
	default:
		return false
	}
}

// Title returns a human readable label for the kind.
func (k ReportKind) Title() string {
	switch k {
	case ReportKindProjectSummary:
		return "Project Summary"
	case ReportKindDiaryExport:
		return "Daily Diary Export"
	case ReportKindInspectionSummary:
		return "Inspection Summary"
	case ReportKindNCRReport:
		return "NCR Report"
	case ReportKindFinancialSummary:
		return "Financial Summary"
	case ReportKindITPReport:
		return "ITP Report"
	default:
		return strings.ReplaceAll(string(k), "_", " ")
	}
}

// ReportFormat enumerates supported export formats.
type ReportFormat string

const (
	ReportFormatPDF   ReportFormat = "pdf"
	ReportFormatExcel ReportFormat = "excel"
	ReportFormatCSV   ReportFormat = "csv"
	ReportFormatJSON  ReportFormat = "json"
)

// IsValid reports whether the format is known.
func (f ReportFormat) IsValid() bool {
	switch f {
	case ReportFormatPDF, ReportFormatExcel, ReportFormatCSV, ReportFormatJSON:
		return true
	default:
		return false
	}
}

// ContentType returns the MIME type of artifacts in this format.
func (f ReportFormat) ContentType() string {
	switch f {
	case ReportFormatPDF:
		return "application/pdf"
	case ReportFormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ReportFormatCSV:
		return "text/csv"
	case ReportFormatJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension (without dot) for the format.
func (f ReportFormat) Extension() string {
	if f == ReportFormatExcel {
		return "xlsx"
	}
	return string(f)
}

// SupportsFormat reports whether a kind can be rendered in the given format.
func SupportsFormat(kind ReportKind, format ReportFormat) bool {
	if !kind.IsValid() || !format.IsValid() {
		return false
	}
	if kind == ReportKindITPReport && format == ReportFormatExcel {
		return false
	}
	return true
}

// ReportStatus captures the report request lifecycle.
type ReportStatus string

const (
	ReportStatusQueued     ReportStatus = "queued"
	ReportStatusProcessing ReportStatus = "processing"
	ReportStatusCompleted  ReportStatus = "completed"
	ReportStatusFailed     ReportStatus = "failed"
)

// IsValid reports whether the status is known.
func (s ReportStatus) IsValid() bool {
	switch s {
	case ReportStatusQueued, ReportStatusProcessing, ReportStatusCompleted, ReportStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no automatic transition may leave the status.
func (s ReportStatus) IsTerminal() bool {
	return s == ReportStatusCompleted || s == ReportStatusFailed
}

// CanTransitionTo encodes the worker-driven state machine. Administrative resets
// are covered separately by CanReset.
func (s ReportStatus) CanTransitionTo(next ReportStatus) bool {
	switch s {
	case ReportStatusQueued:
		return next == ReportStatusProcessing || next == ReportStatusFailed
	case ReportStatusProcessing:
		return next == ReportStatusProcessing || next == ReportStatusCompleted || next == ReportStatusFailed
	default:
		return false
	}
}

// CanReset reports whether an administrator may put the request back in the queue.
func (s ReportStatus) CanReset() bool {
	return s == ReportStatusFailed
}

// ReportRequest is the durable record of one report generation attempt.
type ReportRequest struct {
	ID             string           `db:"id" json:"id"`
	OrganizationID string           `db:"organization_id" json:"organizationId"`
	Kind           ReportKind       `db:"kind" json:"kind"`
	Format         ReportFormat     `db:"format" json:"format"`
	Name           string           `db:"name" json:"name"`
	Parameters     ReportParameters `db:"parameters" json:"parameters"`
	Status         ReportStatus     `db:"status" json:"status"`
	Progress       int              `db:"progress" json:"progress"`
	CurrentStep    *string          `db:"current_step" json:"currentStep,omitempty"`
	ErrorMessage   *string          `db:"error_message" json:"errorMessage,omitempty"`
	FileURL        *string          `db:"file_url" json:"fileUrl,omitempty"`
	FileSize       *int64           `db:"file_size" json:"fileSize,omitempty"`
	MimeType       *string          `db:"mime_type" json:"mimeType,omitempty"`
	RequestedBy    string           `db:"requested_by" json:"requestedBy"`
	RequestedAt    time.Time        `db:"requested_at" json:"requestedAt"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updatedAt"`
	CompletedAt    *time.Time       `db:"completed_at" json:"completedAt,omitempty"`
}

// ReportFilter narrows report listings within one organization.
type ReportFilter struct {
	OrganizationID string
	RequestedBy    string
	Status         ReportStatus
	Kind           ReportKind
	Limit          int
}

// RecordPointerPrefix marks artifact locations that point back at a source record
// instead of a stored blob.
const RecordPointerPrefix = "record://"

// IsRecordPointer reports whether the artifact location is a source-record pointer.
func IsRecordPointer(location string) bool {
	return strings.HasPrefix(location, RecordPointerPrefix)
}
