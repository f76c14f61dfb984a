package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/noah-isme/sitereport-api/internal/models"
	"github.com/noah-isme/sitereport-api/internal/repository"
	appErrors "github.com/noah-isme/sitereport-api/pkg/errors"
	"github.com/noah-isme/sitereport-api/pkg/export"
	"github.com/noah-isme/sitereport-api/pkg/jobs"
	"github.com/noah-isme/sitereport-api/pkg/logger"
	"github.com/noah-isme/sitereport-api/pkg/notify"
	"github.com/noah-isme/sitereport-api/pkg/storage"
)

const maxErrorMessageLength = 500

// Step labels written to current_step.
const (
	StepAggregating = "aggregating data"
	StepStoring     = "storing artifact"
	StepFinalizing  = "finalizing"
)

var errClaimLost = errors.New("report request is no longer processing")

type reportJobStore interface {
	GetByID(ctx context.Context, id string) (*models.ReportRequest, error)
	Claim(ctx context.Context, id, step string, progress int, now time.Time) (bool, error)
	UpdateProgress(ctx context.Context, id string, progress int, step string, now time.Time) (bool, error)
	Complete(ctx context.Context, id string, params repository.CompleteParams) (bool, error)
	Fail(ctx context.Context, id, message string, now time.Time) (bool, error)
	FailStale(ctx context.Context, cutoff time.Time, message string, now time.Time) (int64, error)
}

type datasetAggregator interface {
	Aggregate(ctx context.Context, organizationID string, params models.ReportParameters, role models.OrgRole) (export.Dataset, error)
}

type roleResolver interface {
	Role(ctx context.Context, organizationID, userID string) (models.OrgRole, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, event notify.ReportEvent) error
}

// ReportJobConfig bounds the suspension points of a job.
type ReportJobConfig struct {
	AggregationTimeout time.Duration
	StorageTimeout     time.Duration
	StaleAfter         time.Duration
}

// ReportJob drives one report request from queued to a terminal state.
type ReportJob struct {
	repo       reportJobStore
	aggregator datasetAggregator
	renderers  *RendererSet
	store      storage.BlobStore
	roles      roleResolver
	events     eventPublisher
	metrics    *MetricsService
	logger     *zap.Logger
	cfg        ReportJobConfig
	now        func() time.Time
}

// NewReportJob constructs the worker. events and metrics may be nil.
func NewReportJob(repo reportJobStore, aggregator datasetAggregator, renderers *RendererSet, store storage.BlobStore, roles roleResolver, events eventPublisher, metrics *MetricsService, logger *zap.Logger, cfg ReportJobConfig) *ReportJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AggregationTimeout <= 0 {
		cfg.AggregationTimeout = 30 * time.Second
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 15 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	return &ReportJob{
		repo:       repo,
		aggregator: aggregator,
		renderers:  renderers,
		store:      store,
		roles:      roles,
		events:     events,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type artifact struct {
	location string
	size     int64
	mimeType string
}

// Handle processes a queue job. Only infrastructure errors before the claim are
// returned; everything after the claim ends in a terminal row instead.
func (j *ReportJob) Handle(ctx context.Context, job jobs.Job) error {
	req, err := j.repo.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			j.logger.Info("report request vanished before processing", zap.String("report_id", job.ID))
			return nil
		}
		return err
	}
	log := logger.ForReport(j.logger, req.ID, req.OrganizationID).With(
		zap.String("kind", string(req.Kind)), zap.String("format", string(req.Format)))

	if req.Status != models.ReportStatusQueued {
		log.Debug("report request not queued, skipping", zap.String("status", string(req.Status)))
		return nil
	}
	claimed, err := j.repo.Claim(ctx, req.ID, StepAggregating, 5, j.now())
	if err != nil {
		return err
	}
	if !claimed {
		log.Debug("report request claimed elsewhere")
		return nil
	}

	result, runErr := j.execute(ctx, req, log)
	if runErr == nil {
		runErr = j.complete(ctx, req, result, log)
	}
	if runErr != nil {
		j.handleFailure(ctx, req, runErr, log)
		return nil
	}
	j.metrics.RecordReportJob(string(req.Kind), string(req.Format), OutcomeCompleted)
	log.Info("report completed", zap.Int64("file_size", result.size))
	j.publish(ctx, req, notify.EventReportCompleted, models.ReportStatusCompleted, "", log)
	return nil
}

func (j *ReportJob) execute(ctx context.Context, req *models.ReportRequest, log *zap.Logger) (result *artifact, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("report job panicked", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			result = nil
			err = fmt.Errorf("internal error: %v", rec)
		}
	}()

	role, err := j.roles.Role(ctx, req.OrganizationID, req.RequestedBy)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrAccessDenied) {
			return nil, accessDenied("requester is not a member of the organization")
		}
		return nil, err
	}
	if req.Kind == models.ReportKindFinancialSummary && !models.CanViewFinancials(role) {
		return nil, accessDenied(fmt.Sprintf("role %s may not view financial reports", role))
	}

	aggCtx, cancel := context.WithTimeout(ctx, j.cfg.AggregationTimeout)
	data, err := j.aggregator.Aggregate(aggCtx, req.OrganizationID, req.Parameters, role)
	cancel()
	if err != nil {
		return nil, err
	}
	if err := j.progress(ctx, req.ID, 40, "rendering "+string(req.Format)); err != nil {
		return nil, err
	}

	start := time.Now()
	body, mimeType, err := j.renderers.Render(req.Kind, req.Format, data)
	j.metrics.ObserveRender(string(req.Format), time.Since(start))
	if err != nil {
		return nil, err
	}
	if err := j.progress(ctx, req.ID, 70, StepStoring); err != nil {
		return nil, err
	}

	key := storage.ArtifactKey(req.OrganizationID, req.ID, req.Name, req.Format.Extension(), j.now())
	putCtx, cancelPut := context.WithTimeout(ctx, j.cfg.StorageTimeout)
	location, err := j.store.Put(putCtx, key, body, mimeType)
	cancelPut()
	if err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}
	j.metrics.ObserveArtifactSize(len(body))

	if err := j.progress(ctx, req.ID, 90, StepFinalizing); err != nil {
		j.discard(location, log)
		return nil, err
	}
	return &artifact{location: location, size: int64(len(body)), mimeType: mimeType}, nil
}

func (j *ReportJob) complete(ctx context.Context, req *models.ReportRequest, result *artifact, log *zap.Logger) error {
	ok, err := j.repo.Complete(ctx, req.ID, repository.CompleteParams{
		FileURL:     result.location,
		FileSize:    result.size,
		MimeType:    result.mimeType,
		CompletedAt: j.now(),
	})
	if err != nil || !ok {
		j.discard(result.location, log)
	}
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	if !ok {
		return errClaimLost
	}
	return nil
}

func (j *ReportJob) handleFailure(ctx context.Context, req *models.ReportRequest, runErr error, log *zap.Logger) {
	if errors.Is(runErr, errClaimLost) {
		j.metrics.RecordReportJob(string(req.Kind), string(req.Format), OutcomeSkipped)
		log.Warn("report request left processing while running, result dropped")
		return
	}
	outcome := OutcomeFailed
	if appErrors.Is(runErr, appErrors.ErrAccessDenied) {
		outcome = OutcomeAccessDenied
	}
	message := FailureMessage(runErr)
	log.Error("report job failed", zap.String("outcome", outcome), zap.Error(runErr))

	// The job context may already be cancelled; the failure must still be recorded.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.cfg.StorageTimeout)
	defer cancel()
	ok, err := j.repo.Fail(writeCtx, req.ID, message, j.now())
	if err != nil {
		log.Error("failed to record report failure", zap.Error(err))
		return
	}
	if !ok {
		log.Warn("report request already terminal, failure not recorded")
		return
	}
	j.metrics.RecordReportJob(string(req.Kind), string(req.Format), outcome)
	j.publish(ctx, req, notify.EventReportFailed, models.ReportStatusFailed, message, log)
}

// SweepStale fails rows stuck in processing for longer than the stale threshold.
func (j *ReportJob) SweepStale(ctx context.Context) (int64, error) {
	now := j.now()
	swept, err := j.repo.FailStale(ctx, now.Add(-j.cfg.StaleAfter), "worker lost: processing exceeded the stale threshold", now)
	if err != nil {
		return 0, err
	}
	j.metrics.RecordStaleSwept(swept)
	if swept > 0 {
		j.logger.Warn("failed stale report requests", zap.Int64("count", swept))
	}
	return swept, nil
}

func (j *ReportJob) progress(ctx context.Context, id string, progress int, step string) error {
	ok, err := j.repo.UpdateProgress(ctx, id, progress, step, j.now())
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if !ok {
		return errClaimLost
	}
	return nil
}

func (j *ReportJob) discard(location string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.StorageTimeout)
	defer cancel()
	if err := j.store.Delete(ctx, location); err != nil {
		log.Warn("failed to discard orphaned artifact", zap.String("location", location), zap.Error(err))
	}
}

func (j *ReportJob) publish(ctx context.Context, req *models.ReportRequest, eventType string, status models.ReportStatus, message string, log *zap.Logger) {
	if j.events == nil {
		return
	}
	RunSideEffect(context.WithoutCancel(ctx), log, "publish "+eventType, func(ctx context.Context) error {
		return j.events.Publish(ctx, notify.ReportEvent{
			EventType:      eventType,
			ReportID:       req.ID,
			OrganizationID: req.OrganizationID,
			Kind:           string(req.Kind),
			Format:         string(req.Format),
			Status:         string(status),
			RequestedBy:    req.RequestedBy,
			Message:        message,
			OccurredAt:     j.now(),
		})
	})
}

func accessDenied(reason string) error {
	return appErrors.Clone(appErrors.ErrAccessDenied, "access denied: "+reason)
}

// FailureMessage bounds err's text to the persisted error_message length.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	message := err.Error()
	if len(message) <= maxErrorMessageLength {
		return message
	}
	cut := maxErrorMessageLength
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
