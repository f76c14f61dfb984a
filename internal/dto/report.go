package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/sitereport-api/internal/models"
)

// CreateReportRequest captures POST /organizations/:orgId/reports.
type CreateReportRequest struct {
	Kind       models.ReportKind   `json:"kind" validate:"required"`
	Format     models.ReportFormat `json:"format" validate:"required"`
	Name       string              `json:"name" validate:"omitempty,max=200"`
	Parameters json.RawMessage     `json:"parameters"`
}

// ReportListQuery holds the list filters.
type ReportListQuery struct {
	RequestedBy string `form:"requestedBy"`
	Status      string `form:"status"`
	Kind        string `form:"kind"`
	Limit       int    `form:"limit" validate:"omitempty,min=1,max=200"`
}

// ReportJobResponse is returned after a report is queued.
type ReportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ReportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ReportStatusResponse is the status view of one report request.
type ReportStatusResponse struct {
	ID                string                  `json:"id"`
	OrganizationID    string                  `json:"organizationId"`
	Kind              models.ReportKind       `json:"kind"`
	Format            models.ReportFormat     `json:"format"`
	Name              string                  `json:"name"`
	Parameters        models.ReportParameters `json:"parameters"`
	Status            models.ReportStatus     `json:"status"`
	Progress          int                     `json:"progress"`
	CurrentStep       *string                 `json:"currentStep,omitempty"`
	Error             *string                 `json:"error,omitempty"`
	FileSize          *int64                  `json:"fileSize,omitempty"`
	MimeType          *string                 `json:"mimeType,omitempty"`
	RequestedBy       string                  `json:"requestedBy"`
	RequestedAt       time.Time               `json:"requestedAt"`
	UpdatedAt         time.Time               `json:"updatedAt"`
	CompletedAt       *time.Time              `json:"completedAt,omitempty"`
	DownloadURL       *string                 `json:"downloadUrl,omitempty"`
	DownloadExpiresAt *time.Time              `json:"downloadExpiresAt,omitempty"`
}

// NewReportStatusResponse maps a row to its status view. Progress is only
// meaningful while processing, so other states report 0 or 100.
func NewReportStatusResponse(req *models.ReportRequest) ReportStatusResponse {
	progress := req.Progress
	switch req.Status {
	case models.ReportStatusQueued:
		progress = 0
	case models.ReportStatusCompleted:
		progress = 100
	}
	return ReportStatusResponse{
		ID:             req.ID,
		OrganizationID: req.OrganizationID,
		Kind:           req.Kind,
		Format:         req.Format,
		Name:           req.Name,
		Parameters:     req.Parameters,
		Status:         req.Status,
		Progress:       progress,
		CurrentStep:    req.CurrentStep,
		Error:          req.ErrorMessage,
		FileSize:       req.FileSize,
		MimeType:       req.MimeType,
		RequestedBy:    req.RequestedBy,
		RequestedAt:    req.RequestedAt,
		UpdatedAt:      req.UpdatedAt,
		CompletedAt:    req.CompletedAt,
	}
}

// ReportNotReadyResponse is returned by downloads of unfinished reports.
type ReportNotReadyResponse struct {
	Status   models.ReportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// InspectionFinalizedEvent is posted by the inspection workflow once an
// inspection instance is finalized.
type InspectionFinalizedEvent struct {
	OrganizationID       string     `json:"organizationId" validate:"required"`
	ProjectID            string     `json:"projectId" validate:"required"`
	InspectionInstanceID string     `json:"inspectionInstanceId" validate:"required"`
	TemplateName         string     `json:"templateName"`
	Result               string     `json:"result"`
	FinalizedBy          string     `json:"finalizedBy,omitempty"`
	FinalizedAt          *time.Time `json:"finalizedAt,omitempty"`
}
