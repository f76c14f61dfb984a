package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sitereport-api/internal/models"
	appErrors "github.com/noah-isme/sitereport-api/pkg/errors"
	"github.com/noah-isme/sitereport-api/pkg/storage"
)

type gatewayStore interface {
	GetByID(ctx context.Context, id string) (*models.ReportRequest, error)
	GetScoped(ctx context.Context, id string, organizationIDs []string) (*models.ReportRequest, error)
	Delete(ctx context.Context, id string, beforeCommit func(context.Context) error) error
}

// ReportDownload is the outcome of a download. When Ready is false only Status and
// Progress are set.
type ReportDownload struct {
	Ready       bool
	Status      models.ReportStatus
	Progress    int
	Filename    string
	ContentType string
	Data        []byte
	Regenerated bool
}

// DownloadGateway serves report artifacts and regenerates them when the stored
// artifact cannot be used.
type DownloadGateway struct {
	repo       gatewayStore
	members    membershipResolver
	aggregator datasetAggregator
	renderers  *RendererSet
	store      storage.BlobStore
	signer     *storage.SignedURLSigner
	logger     *zap.Logger
}

// NewDownloadGateway constructs the gateway. signer may be nil.
func NewDownloadGateway(repo gatewayStore, members membershipResolver, aggregator datasetAggregator, renderers *RendererSet, store storage.BlobStore, signer *storage.SignedURLSigner, logger *zap.Logger) *DownloadGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DownloadGateway{
		repo:       repo,
		members:    members,
		aggregator: aggregator,
		renderers:  renderers,
		store:      store,
		signer:     signer,
		logger:     logger,
	}
}

// Download resolves report id for actorID. formatOverride may be empty.
func (g *DownloadGateway) Download(ctx context.Context, id, actorID string, formatOverride models.ReportFormat) (*ReportDownload, error) {
	req, err := resolveScoped(ctx, g.repo, g.members, id, actorID)
	if err != nil {
		return nil, err
	}
	if !req.Status.IsTerminal() {
		return notReady(req), nil
	}
	if req.Status == models.ReportStatusFailed {
		return nil, reportFailed(req)
	}

	role, err := g.members.Role(ctx, req.OrganizationID, actorID)
	if err != nil {
		return nil, err
	}
	if req.Kind == models.ReportKindFinancialSummary && !models.CanViewFinancials(role) {
		return nil, accessDenied(fmt.Sprintf("role %s may not view financial reports", role))
	}

	format := req.Format
	if formatOverride != "" {
		if !formatOverride.IsValid() {
			return nil, appErrors.Clone(appErrors.ErrUnsupportedFormat, fmt.Sprintf("unknown format %q", formatOverride))
		}
		format = formatOverride
	}

	log := g.logger.With(zap.String("report_id", req.ID), zap.String("organization_id", req.OrganizationID))
	if reason := regenerationReason(req, format, actorID, role); reason != "" {
		log.Debug("regenerating report for download", zap.String("reason", reason), zap.String("format", string(format)))
		return g.regenerate(ctx, req, format, role)
	}

	data, err := g.store.Get(ctx, *req.FileURL)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			log.Info("stored artifact missing, regenerating")
			return g.regenerate(ctx, req, format, role)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read report artifact")
	}
	contentType := format.ContentType()
	if req.MimeType != nil && *req.MimeType != "" {
		contentType = *req.MimeType
	}
	return &ReportDownload{
		Ready:       true,
		Status:      req.Status,
		Progress:    100,
		Filename:    downloadFilename(req.Name, format),
		ContentType: contentType,
		Data:        data,
	}, nil
}

// DownloadByToken serves the artifact a signed token was issued for. The token
// only stays valid while the report still points at the same artifact.
func (g *DownloadGateway) DownloadByToken(ctx context.Context, token string) (*ReportDownload, error) {
	if g.signer == nil {
		return nil, appErrors.ErrNotFound
	}
	reportID, location, _, err := g.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	req, err := g.repo.GetByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report")
	}
	if req.Status != models.ReportStatusCompleted || req.FileURL == nil || *req.FileURL != location {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "download token no longer matches the report")
	}
	if models.IsRecordPointer(location) {
		role, err := g.members.Role(ctx, req.OrganizationID, req.RequestedBy)
		if err != nil {
			return nil, err
		}
		return g.regenerate(ctx, req, req.Format, role)
	}
	data, err := g.store.Get(ctx, location)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report artifact expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read report artifact")
	}
	contentType := req.Format.ContentType()
	if req.MimeType != nil && *req.MimeType != "" {
		contentType = *req.MimeType
	}
	return &ReportDownload{
		Ready:       true,
		Status:      req.Status,
		Progress:    100,
		Filename:    downloadFilename(req.Name, req.Format),
		ContentType: contentType,
		Data:        data,
	}, nil
}

// Delete removes a report and its artifact. The requester or an owner/admin may
// delete. The blob is removed inside the row's transaction, so a failed blob
// delete keeps the row. If the commit itself fails after the blob is gone, the
// row survives without its artifact and the next download regenerates it.
func (g *DownloadGateway) Delete(ctx context.Context, id, actorID string) (*models.ReportRequest, error) {
	req, err := resolveScoped(ctx, g.repo, g.members, id, actorID)
	if err != nil {
		return nil, err
	}
	role, err := g.members.Role(ctx, req.OrganizationID, actorID)
	if err != nil {
		return nil, err
	}
	if !models.CanDeleteReport(role, actorID, req.RequestedBy) {
		return nil, appErrors.Clone(appErrors.ErrAccessDenied, "only the requester or an organization admin may delete this report")
	}

	blobRemoved := false
	err = g.repo.Delete(ctx, req.ID, func(ctx context.Context) error {
		if req.FileURL == nil || models.IsRecordPointer(*req.FileURL) {
			return nil
		}
		if err := g.store.Delete(ctx, *req.FileURL); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			return err
		}
		blobRemoved = true
		return nil
	})
	if err != nil {
		if blobRemoved {
			g.logger.Warn("report artifact removed but row kept; downloads will regenerate",
				zap.String("report_id", req.ID),
				zap.String("file_url", *req.FileURL),
				zap.Error(err))
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete report")
	}
	g.logger.Info("report deleted",
		zap.String("report_id", req.ID),
		zap.String("organization_id", req.OrganizationID),
		zap.String("actor_id", actorID))
	return req, nil
}

func (g *DownloadGateway) regenerate(ctx context.Context, req *models.ReportRequest, format models.ReportFormat, role models.OrgRole) (*ReportDownload, error) {
	data, err := g.aggregator.Aggregate(ctx, req.OrganizationID, req.Parameters, role)
	if err != nil {
		return nil, err
	}
	body, contentType, err := g.renderers.Render(req.Kind, format, data)
	if err != nil {
		return nil, err
	}
	return &ReportDownload{
		Ready:       true,
		Status:      req.Status,
		Progress:    100,
		Filename:    downloadFilename(req.Name, format),
		ContentType: contentType,
		Data:        body,
		Regenerated: true,
	}, nil
}

// regenerationReason returns why the stored artifact cannot be served, or "".
func regenerationReason(req *models.ReportRequest, format models.ReportFormat, actorID string, role models.OrgRole) string {
	switch {
	case format != req.Format:
		return "format override"
	case req.FileURL == nil || *req.FileURL == "":
		return "no stored artifact"
	case models.IsRecordPointer(*req.FileURL):
		return "record pointer"
	case actorID != req.RequestedBy && !models.CanViewFinancials(role):
		return "redaction for non-financial viewer"
	default:
		return ""
	}
}

func notReady(req *models.ReportRequest) *ReportDownload {
	progress := req.Progress
	if req.Status == models.ReportStatusQueued {
		progress = 0
	}
	return &ReportDownload{Ready: false, Status: req.Status, Progress: progress}
}

func reportFailed(req *models.ReportRequest) error {
	message := "report generation failed"
	if req.ErrorMessage != nil && strings.TrimSpace(*req.ErrorMessage) != "" {
		message = *req.ErrorMessage
	}
	return appErrors.Clone(appErrors.ErrReportFailed, message)
}

func downloadFilename(name string, format models.ReportFormat) string {
	return storage.SanitizeFilename(name) + "." + format.Extension()
}
