package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sitereport-api/internal/dto"
	"github.com/noah-isme/sitereport-api/internal/middleware"
	"github.com/noah-isme/sitereport-api/internal/models"
	"github.com/noah-isme/sitereport-api/internal/service"
	appErrors "github.com/noah-isme/sitereport-api/pkg/errors"
	"github.com/noah-isme/sitereport-api/pkg/response"
)

type reportService interface {
	Create(ctx context.Context, organizationID, actorID string, req dto.CreateReportRequest) (*dto.ReportJobResponse, error)
	List(ctx context.Context, organizationID string, query dto.ReportListQuery) ([]dto.ReportStatusResponse, error)
	Get(ctx context.Context, id, actorID string) (*dto.ReportStatusResponse, error)
	Reset(ctx context.Context, id, actorID string) (*dto.ReportJobResponse, error)
}

type reportDownloader interface {
	Download(ctx context.Context, id, actorID string, formatOverride models.ReportFormat) (*service.ReportDownload, error)
	DownloadByToken(ctx context.Context, token string) (*service.ReportDownload, error)
	Delete(ctx context.Context, id, actorID string) (*models.ReportRequest, error)
}

// ReportHandler exposes reporting endpoints.
type ReportHandler struct {
	reports   reportService
	downloads reportDownloader
}

// NewReportHandler constructs handler.
func NewReportHandler(reports reportService, downloads reportDownloader) *ReportHandler {
	return &ReportHandler{reports: reports, downloads: downloads}
}

// Create godoc
// @Summary Request a report
// @Tags Reports
// @Accept json
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param payload body dto.CreateReportRequest true "Report request"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /organizations/{orgId}/reports [post]
func (h *ReportHandler) Create(c *gin.Context) {
	var req dto.CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload"))
		return
	}
	resp, err := h.reports.Create(c.Request.Context(), c.Param("orgId"), middleware.UserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, resp)
}

// List godoc
// @Summary List organization reports
// @Tags Reports
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param requestedBy query string false "Requester user ID"
// @Param status query string false "queued|processing|completed|failed"
// @Param kind query string false "Report kind"
// @Param limit query int false "Maximum rows (1-200)"
// @Success 200 {object} response.Envelope
// @Router /organizations/{orgId}/reports [get]
func (h *ReportHandler) List(c *gin.Context) {
	var query dto.ReportListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query parameters"))
		return
	}
	reports, err := h.reports.List(c.Request.Context(), c.Param("orgId"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reports, nil, map[string]interface{}{"count": len(reports)})
}

// Get godoc
// @Summary Report status
// @Tags Reports
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reports/{id} [get]
func (h *ReportHandler) Get(c *gin.Context) {
	resp, err := h.reports.Get(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// Download godoc
// @Summary Download a report artifact
// @Tags Reports
// @Produce octet-stream
// @Param id path string true "Report ID"
// @Param format query string false "Render in another format"
// @Success 200 {file} file
// @Success 202 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /reports/{id}/download [get]
func (h *ReportHandler) Download(c *gin.Context) {
	format := models.ReportFormat(strings.ToLower(strings.TrimSpace(c.Query("format"))))
	out, err := h.downloads.Download(c.Request.Context(), c.Param("id"), middleware.UserID(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeDownload(c, out)
}

// DownloadByToken godoc
// @Summary Download a report with a signed token
// @Tags Reports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /reports/download/{token} [get]
func (h *ReportHandler) DownloadByToken(c *gin.Context) {
	out, err := h.downloads.DownloadByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	writeDownload(c, out)
}

// Delete godoc
// @Summary Delete a report and its artifact
// @Tags Reports
// @Param id path string true "Report ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reports/{id} [delete]
func (h *ReportHandler) Delete(c *gin.Context) {
	deleted, err := h.downloads.Delete(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.ContextOrganizationKey, deleted.OrganizationID)
	response.NoContent(c)
}

// Retry godoc
// @Summary Retry a failed report
// @Tags Reports
// @Produce json
// @Param id path string true "Report ID"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reports/{id}/retry [post]
func (h *ReportHandler) Retry(c *gin.Context) {
	resp, err := h.reports.Reset(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, resp)
}

func writeDownload(c *gin.Context, out *service.ReportDownload) {
	if !out.Ready {
		response.Accepted(c, dto.ReportNotReadyResponse{Status: out.Status, Progress: out.Progress})
		return
	}
	response.Attachment(c, out.Filename, out.ContentType, out.Data)
}
