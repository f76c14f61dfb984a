package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sitereport-api/internal/dto"
	"github.com/noah-isme/sitereport-api/internal/models"
	appErrors "github.com/noah-isme/sitereport-api/pkg/errors"
	"github.com/noah-isme/sitereport-api/pkg/jobs"
	"github.com/noah-isme/sitereport-api/pkg/storage"
)

type reportStore interface {
	Create(ctx context.Context, req *models.ReportRequest) error
	GetScoped(ctx context.Context, id string, organizationIDs []string) (*models.ReportRequest, error)
	List(ctx context.Context, filter models.ReportFilter) ([]models.ReportRequest, error)
	ListQueued(ctx context.Context, limit int) ([]models.ReportRequest, error)
	Reset(ctx context.Context, id string, now time.Time) (bool, error)
	Fail(ctx context.Context, id, message string, now time.Time) (bool, error)
}

type membershipResolver interface {
	Role(ctx context.Context, organizationID, userID string) (models.OrgRole, error)
	OrganizationIDs(ctx context.Context, userID string) ([]string, error)
}

type staleSweeper interface {
	SweepStale(ctx context.Context) (int64, error)
}

// ReportServiceConfig governs download links, recovery and cleanup.
type ReportServiceConfig struct {
	DownloadBasePath string
	ArtifactTTL      time.Duration
	CleanupInterval  time.Duration
	RecoverLimit     int
}

// ReportService handles report intake, listing and administrative actions.
type ReportService struct {
	repo      reportStore
	members   membershipResolver
	queue     jobs.Dispatcher
	sweeper   staleSweeper
	artifacts storage.Sweeper
	signer    *storage.SignedURLSigner
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ReportServiceConfig
}

// NewReportService constructs the report service. sweeper, artifacts and signer may be nil.
func NewReportService(repo reportStore, members membershipResolver, queue jobs.Dispatcher, sweeper staleSweeper, artifacts storage.Sweeper, signer *storage.SignedURLSigner, validate *validator.Validate, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ArtifactTTL <= 0 {
		cfg.ArtifactTTL = 7 * 24 * time.Hour
	}
	if cfg.RecoverLimit <= 0 {
		cfg.RecoverLimit = 100
	}
	return &ReportService{
		repo:      repo,
		members:   members,
		queue:     queue,
		sweeper:   sweeper,
		artifacts: artifacts,
		signer:    signer,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// Create validates a request, persists it as queued and submits it for processing.
// Validation failures return before any row is written.
func (s *ReportService) Create(ctx context.Context, organizationID, actorID string, req dto.CreateReportRequest) (*dto.ReportJobResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload")
	}
	if _, err := s.members.Role(ctx, organizationID, actorID); err != nil {
		return nil, err
	}
	if !req.Kind.IsValid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidParameters, fmt.Sprintf("unknown report kind %q", req.Kind))
	}
	if req.Kind == models.ReportKindITPReport {
		return nil, appErrors.Clone(appErrors.ErrInvalidParameters, "itp_report entries are created when an inspection is finalized")
	}
	if !models.SupportsFormat(req.Kind, req.Format) {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedFormat, fmt.Sprintf("format %q is not supported for %s reports", req.Format, req.Kind))
	}
	params, err := models.DecodeReportParams(req.Kind, req.Parameters)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidParameters.Code, appErrors.ErrInvalidParameters.Status, err.Error())
	}
	if err := params.Validate(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidParameters.Code, appErrors.ErrInvalidParameters.Status, err.Error())
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.Kind.Title()
	}
	record := &models.ReportRequest{
		OrganizationID: organizationID,
		Kind:           req.Kind,
		Format:         req.Format,
		Name:           name,
		Parameters:     models.NewReportParameters(params),
		Status:         models.ReportStatusQueued,
		RequestedBy:    actorID,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report request")
	}
	if err := s.enqueue(record.ID); err != nil {
		if _, failErr := s.repo.Fail(ctx, record.ID, "failed to enqueue report job", time.Now().UTC()); failErr != nil {
			s.logger.Warn("failed to mark unqueued report failed", zap.String("report_id", record.ID), zap.Error(failErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}
	s.logger.Info("report queued",
		zap.String("report_id", record.ID),
		zap.String("organization_id", organizationID),
		zap.String("kind", string(record.Kind)),
		zap.String("format", string(record.Format)))
	return &dto.ReportJobResponse{ID: record.ID, Status: record.Status, Progress: 0}, nil
}

// List returns the organization's reports, newest first.
func (s *ReportService) List(ctx context.Context, organizationID string, query dto.ReportListQuery) ([]dto.ReportStatusResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid list query")
	}
	filter := models.ReportFilter{
		OrganizationID: organizationID,
		RequestedBy:    strings.TrimSpace(query.RequestedBy),
		Status:         models.ReportStatus(strings.ToLower(strings.TrimSpace(query.Status))),
		Kind:           models.ReportKind(strings.ToLower(strings.TrimSpace(query.Kind))),
		Limit:          query.Limit,
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", query.Status))
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown kind %q", query.Kind))
	}
	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reports")
	}
	out := make([]dto.ReportStatusResponse, 0, len(rows))
	for i := range rows {
		out = append(out, dto.NewReportStatusResponse(&rows[i]))
	}
	return out, nil
}

// Get returns the status view of one report visible to actorID.
func (s *ReportService) Get(ctx context.Context, id, actorID string) (*dto.ReportStatusResponse, error) {
	req, err := resolveScoped(ctx, s.repo, s.members, id, actorID)
	if err != nil {
		return nil, err
	}
	resp := dto.NewReportStatusResponse(req)
	if req.Status == models.ReportStatusCompleted && req.FileURL != nil && s.signer != nil {
		token, expiresAt, err := s.signer.Generate(req.ID, *req.FileURL)
		if err != nil {
			s.logger.Warn("failed to sign download url", zap.String("report_id", req.ID), zap.Error(err))
		} else {
			url := strings.TrimRight(s.cfg.DownloadBasePath, "/") + "/reports/download/" + token
			resp.DownloadURL = &url
			resp.DownloadExpiresAt = &expiresAt
		}
	}
	return &resp, nil
}

// Reset puts a failed report back into the queue. Only owners and admins may do so.
func (s *ReportService) Reset(ctx context.Context, id, actorID string) (*dto.ReportJobResponse, error) {
	req, err := resolveScoped(ctx, s.repo, s.members, id, actorID)
	if err != nil {
		return nil, err
	}
	role, err := s.members.Role(ctx, req.OrganizationID, actorID)
	if err != nil {
		return nil, err
	}
	if !models.CanManageReports(role) {
		return nil, appErrors.Clone(appErrors.ErrAccessDenied, "only organization owners and admins may retry reports")
	}
	if !req.Status.CanReset() {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("report is %s; only failed reports can be retried", req.Status))
	}
	ok, err := s.repo.Reset(ctx, req.ID, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset report")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflict, "report changed state, retry not applied")
	}
	if err := s.enqueue(req.ID); err != nil {
		if _, failErr := s.repo.Fail(ctx, req.ID, "failed to enqueue report job", time.Now().UTC()); failErr != nil {
			s.logger.Warn("failed to mark unqueued report failed", zap.String("report_id", req.ID), zap.Error(failErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}
	s.logger.Info("report reset for retry", zap.String("report_id", req.ID), zap.String("actor_id", actorID))
	return &dto.ReportJobResponse{ID: req.ID, Status: models.ReportStatusQueued, Progress: 0}, nil
}

// RecoverPending re-submits queued rows, e.g. after a restart of the in-memory queue.
func (s *ReportService) RecoverPending(ctx context.Context) (int, error) {
	pending, err := s.repo.ListQueued(ctx, s.cfg.RecoverLimit)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, req := range pending {
		if err := s.enqueue(req.ID); err != nil {
			s.logger.Warn("failed to requeue pending report", zap.String("report_id", req.ID), zap.Error(err))
			continue
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Info("recovered queued reports", zap.Int("count", recovered))
	}
	return recovered, nil
}

// StartCleanup runs Maintain on every cleanup interval until ctx ends.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Maintain(ctx)
			}
		}
	}()
}

// Maintain fails stale processing rows and expires old local artifacts. Expired
// artifacts are regenerated on their next download.
func (s *ReportService) Maintain(ctx context.Context) {
	if s.sweeper != nil {
		if _, err := s.sweeper.SweepStale(ctx); err != nil {
			s.logger.Warn("stale report sweep failed", zap.Error(err))
		}
	}
	if s.artifacts != nil {
		removed, err := s.artifacts.CleanupOlderThan(s.cfg.ArtifactTTL)
		if err != nil {
			s.logger.Warn("artifact cleanup failed", zap.Error(err))
			return
		}
		if len(removed) > 0 {
			s.logger.Info("expired report artifacts removed", zap.Int("count", len(removed)))
		}
	}
}

func (s *ReportService) enqueue(id string) error {
	return s.queue.Enqueue(jobs.Job{ID: id, Type: jobs.TypeGenerateReport})
}

type scopedReportReader interface {
	GetScoped(ctx context.Context, id string, organizationIDs []string) (*models.ReportRequest, error)
}

// resolveScoped loads a report restricted to the organizations actorID belongs to.
// Missing rows and rows of other organizations both yield ErrNotFound.
func resolveScoped(ctx context.Context, repo scopedReportReader, members membershipResolver, id, actorID string) (*models.ReportRequest, error) {
	orgIDs, err := members.OrganizationIDs(ctx, actorID)
	if err != nil {
		return nil, err
	}
	req, err := repo.GetScoped(ctx, id, orgIDs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report")
	}
	return req, nil
}
