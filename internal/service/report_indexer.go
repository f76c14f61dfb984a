package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sitereport-api/internal/models"
	appErrors "github.com/noah-isme/sitereport-api/pkg/errors"
	"github.com/noah-isme/sitereport-api/pkg/notify"
)

const defaultIndexWindow = 50

type indexStore interface {
	Create(ctx context.Context, req *models.ReportRequest) error
	ListRecentByKind(ctx context.Context, organizationID string, kind models.ReportKind, limit int) ([]models.ReportRequest, error)
	Overwrite(ctx context.Context, req *models.ReportRequest) error
}

// IndexEntry is the catalog content written for a by-product report.
type IndexEntry struct {
	Name        string
	Format      models.ReportFormat
	Parameters  models.ReportParams
	Pointer     string
	RequestedBy string
}

// InspectionFinalized describes a finalized inspection instance.
type InspectionFinalized struct {
	OrganizationID       string
	ProjectID            string
	InspectionInstanceID string
	TemplateName         string
	Result               string
	FinalizedBy          string
	FinalizedAt          time.Time
}

// ReportIndexer keeps exactly one catalog row per natural key for report kinds
// produced as a side effect of another workflow.
type ReportIndexer struct {
	repo    indexStore
	window  int
	events  eventPublisher
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewReportIndexer constructs the indexer. window <= 0 selects 50.
func NewReportIndexer(repo indexStore, window int, events eventPublisher, metrics *MetricsService, logger *zap.Logger) *ReportIndexer {
	if window <= 0 {
		window = defaultIndexWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportIndexer{
		repo:    repo,
		window:  window,
		events:  events,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Upsert updates the row of (organizationID, kind) whose parameters carry
// naturalKey, or inserts one. Only the most recent window rows are searched.
func (x *ReportIndexer) Upsert(ctx context.Context, organizationID string, kind models.ReportKind, naturalKey string, entry IndexEntry) (*models.ReportRequest, error) {
	if strings.TrimSpace(naturalKey) == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidParameters, "natural key is required")
	}
	if entry.Parameters == nil || entry.Parameters.Kind() != kind {
		return nil, appErrors.Clone(appErrors.ErrInvalidParameters, fmt.Sprintf("index parameters must be of kind %s", kind))
	}
	if keyed, ok := entry.Parameters.(models.NaturalKeyed); !ok || keyed.NaturalKey() != naturalKey {
		return nil, appErrors.Clone(appErrors.ErrInvalidParameters, "index parameters do not carry the natural key")
	}
	if err := entry.Parameters.Validate(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidParameters.Code, appErrors.ErrInvalidParameters.Status, err.Error())
	}
	format := entry.Format
	if format == "" {
		format = models.ReportFormatPDF
	}
	name := entry.Name
	if name == "" {
		name = kind.Title()
	}

	recent, err := x.repo.ListRecentByKind(ctx, organizationID, kind, x.window)
	if err != nil {
		x.metrics.RecordIndexUpsert("failed")
		return nil, fmt.Errorf("lookup index entries: %w", err)
	}

	now := x.now()
	pointer := entry.Pointer
	mimeType := format.ContentType()
	completed := models.ReportStatusCompleted
	step := "completed"

	for i := range recent {
		existing := recent[i]
		if existing.Parameters.NaturalKey() != naturalKey {
			continue
		}
		existing.Name = name
		existing.Format = format
		existing.Parameters = models.NewReportParameters(entry.Parameters)
		existing.Status = completed
		existing.Progress = 100
		existing.CurrentStep = &step
		existing.ErrorMessage = nil
		existing.FileURL = &pointer
		existing.FileSize = nil
		existing.MimeType = &mimeType
		existing.UpdatedAt = now
		existing.CompletedAt = &now
		if err := x.repo.Overwrite(ctx, &existing); err != nil {
			x.metrics.RecordIndexUpsert("failed")
			return nil, err
		}
		x.metrics.RecordIndexUpsert("updated")
		return &existing, nil
	}

	created := &models.ReportRequest{
		OrganizationID: organizationID,
		Kind:           kind,
		Format:         format,
		Name:           name,
		Parameters:     models.NewReportParameters(entry.Parameters),
		Status:         completed,
		Progress:       100,
		CurrentStep:    &step,
		FileURL:        &pointer,
		MimeType:       &mimeType,
		RequestedBy:    entry.RequestedBy,
		RequestedAt:    now,
		UpdatedAt:      now,
		CompletedAt:    &now,
	}
	if err := x.repo.Create(ctx, created); err != nil {
		x.metrics.RecordIndexUpsert("failed")
		return nil, err
	}
	x.metrics.RecordIndexUpsert("inserted")
	return created, nil
}

// OnInspectionFinalized records the itp_report catalog entry for a finalized
// inspection. Failures are logged and never reach the caller.
func (x *ReportIndexer) OnInspectionFinalized(ctx context.Context, event InspectionFinalized) {
	log := x.logger.With(
		zap.String("organization_id", event.OrganizationID),
		zap.String("inspection_id", event.InspectionInstanceID))
	RunSideEffect(ctx, log, "index itp report", func(ctx context.Context) error {
		finalizedAt := event.FinalizedAt
		if finalizedAt.IsZero() {
			finalizedAt = x.now()
		}
		params := &models.ITPReportParams{
			ProjectID:            event.ProjectID,
			InspectionInstanceID: event.InspectionInstanceID,
			TemplateName:         event.TemplateName,
			Result:               event.Result,
			FinalizedAt:          &finalizedAt,
		}
		name := "ITP Report"
		if event.TemplateName != "" {
			name = "ITP Report - " + event.TemplateName
		}
		row, err := x.Upsert(ctx, event.OrganizationID, models.ReportKindITPReport, event.InspectionInstanceID, IndexEntry{
			Name:        name,
			Format:      models.ReportFormatPDF,
			Parameters:  params,
			Pointer:     InspectionPointer(event.InspectionInstanceID),
			RequestedBy: event.FinalizedBy,
		})
		if err != nil {
			return err
		}
		log.Info("itp report indexed", zap.String("report_id", row.ID))
		if x.events != nil {
			RunSideEffect(ctx, log, "publish "+notify.EventReportIndexed, func(ctx context.Context) error {
				return x.events.Publish(ctx, notify.ReportEvent{
					EventType:      notify.EventReportIndexed,
					ReportID:       row.ID,
					OrganizationID: row.OrganizationID,
					Kind:           string(row.Kind),
					Format:         string(row.Format),
					Status:         string(row.Status),
					RequestedBy:    row.RequestedBy,
					OccurredAt:     row.UpdatedAt,
				})
			})
		}
		return nil
	})
}

// InspectionPointer is the artifact location of an inspection-backed catalog entry.
func InspectionPointer(inspectionID string) string {
	return models.RecordPointerPrefix + "inspections/" + inspectionID
}
