package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sitereport-api/internal/models"
)

const reportColumns = `id, organization_id, kind, format, name, parameters, status, progress, current_step, error_message, file_url, file_size, mime_type, requested_by, requested_at, updated_at, completed_at`

const defaultReportListLimit = 50

// ReportRepository persists report requests. Every status write is a conditional
// UPDATE so a late or duplicate writer can never move a row out of a terminal state.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a new report request row with generated defaults.
func (r *ReportRepository) Create(ctx context.Context, req *models.ReportRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.ReportStatusQueued
	}
	now := time.Now().UTC()
	if req.RequestedAt.IsZero() {
		req.RequestedAt = now
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.RequestedAt
	}
	const query = `INSERT INTO report_requests (` + reportColumns + `)
VALUES (:id, :organization_id, :kind, :format, :name, :parameters, :status, :progress, :current_step, :error_message, :file_url, :file_size, :mime_type, :requested_by, :requested_at, :updated_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create report request: %w", err)
	}
	return nil
}

// GetByID returns a row by its identifier. Misses wrap sql.ErrNoRows.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.ReportRequest, error) {
	const query = `SELECT ` + reportColumns + ` FROM report_requests WHERE id = $1`
	var req models.ReportRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, fmt.Errorf("get report request: %w", err)
	}
	return &req, nil
}

// GetScoped returns a row only when it belongs to one of organizationIDs. A row in
// another organization is reported exactly like a missing one.
func (r *ReportRepository) GetScoped(ctx context.Context, id string, organizationIDs []string) (*models.ReportRequest, error) {
	if len(organizationIDs) == 0 {
		return nil, fmt.Errorf("get report request: %w", sql.ErrNoRows)
	}
	const query = `SELECT ` + reportColumns + ` FROM report_requests WHERE id = $1 AND organization_id = ANY($2)`
	var req models.ReportRequest
	if err := r.db.GetContext(ctx, &req, query, id, pq.Array(organizationIDs)); err != nil {
		return nil, fmt.Errorf("get report request: %w", err)
	}
	return &req, nil
}

// List returns rows for one organization, newest first.
func (r *ReportRepository) List(ctx context.Context, filter models.ReportFilter) ([]models.ReportRequest, error) {
	conditions := []string{"organization_id = $1"}
	args := []interface{}{filter.OrganizationID}
	argPos := 2

	if filter.RequestedBy != "" {
		conditions = append(conditions, fmt.Sprintf("requested_by = $%d", argPos))
		args = append(args, filter.RequestedBy)
		argPos++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, filter.Status)
		argPos++
	}
	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argPos))
		args = append(args, filter.Kind)
		argPos++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultReportListLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf("SELECT %s FROM report_requests WHERE %s ORDER BY requested_at DESC, id DESC LIMIT $%d",
		reportColumns, strings.Join(conditions, " AND "), argPos)
	var rows []models.ReportRequest
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list report requests: %w", err)
	}
	return rows, nil
}

// ListRecentByKind returns the most recent rows of a kind within an organization.
func (r *ReportRepository) ListRecentByKind(ctx context.Context, organizationID string, kind models.ReportKind, limit int) ([]models.ReportRequest, error) {
	if limit <= 0 {
		limit = defaultReportListLimit
	}
	const query = `SELECT ` + reportColumns + ` FROM report_requests WHERE organization_id = $1 AND kind = $2 ORDER BY requested_at DESC LIMIT $3`
	var rows []models.ReportRequest
	if err := r.db.SelectContext(ctx, &rows, query, organizationID, kind, limit); err != nil {
		return nil, fmt.Errorf("list recent report requests: %w", err)
	}
	return rows, nil
}

// ListQueued fetches queued rows oldest first (used for cold start recovery).
func (r *ReportRepository) ListQueued(ctx context.Context, limit int) ([]models.ReportRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT ` + reportColumns + ` FROM report_requests WHERE status = 'queued' ORDER BY requested_at ASC LIMIT $1`
	var rows []models.ReportRequest
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("list queued report requests: %w", err)
	}
	return rows, nil
}

// Claim atomically moves a queued row to processing. It returns false when another
// worker already claimed the row or the row left the queue.
func (r *ReportRepository) Claim(ctx context.Context, id, step string, progress int, now time.Time) (bool, error) {
	const query = `UPDATE report_requests SET status = 'processing', progress = $2, current_step = $3, updated_at = $4
WHERE id = $1 AND status = 'queued'`
	return r.execTransition(ctx, "claim report request", query, id, progress, step, now)
}

// UpdateProgress records an intermediate step. Progress never decreases and the
// update is ignored unless the row is processing.
func (r *ReportRepository) UpdateProgress(ctx context.Context, id string, progress int, step string, now time.Time) (bool, error) {
	const query = `UPDATE report_requests SET progress = GREATEST(progress, $2), current_step = $3, updated_at = $4
WHERE id = $1 AND status = 'processing'`
	return r.execTransition(ctx, "update report progress", query, id, progress, step, now)
}

// CompleteParams carries the artifact written for a completed row.
type CompleteParams struct {
	FileURL     string
	FileSize    int64
	MimeType    string
	CompletedAt time.Time
}

// Complete marks a processing row completed and records its artifact.
func (r *ReportRepository) Complete(ctx context.Context, id string, params CompleteParams) (bool, error) {
	const query = `UPDATE report_requests SET status = 'completed', progress = 100, current_step = 'completed',
error_message = NULL, file_url = $2, file_size = $3, mime_type = $4, completed_at = $5, updated_at = $5
WHERE id = $1 AND status = 'processing'`
	return r.execTransition(ctx, "complete report request", query, id, params.FileURL, params.FileSize, params.MimeType, params.CompletedAt)
}

// Fail marks a queued or processing row failed with message.
func (r *ReportRepository) Fail(ctx context.Context, id, message string, now time.Time) (bool, error) {
	const query = `UPDATE report_requests SET status = 'failed', current_step = 'failed', error_message = $2,
file_url = NULL, file_size = NULL, completed_at = NULL, updated_at = $3
WHERE id = $1 AND status IN ('queued', 'processing')`
	return r.execTransition(ctx, "fail report request", query, id, message, now)
}

// Reset puts a failed row back into the queue (administrative retry).
func (r *ReportRepository) Reset(ctx context.Context, id string, now time.Time) (bool, error) {
	const query = `UPDATE report_requests SET status = 'queued', progress = 0, current_step = NULL, error_message = NULL,
file_url = NULL, file_size = NULL, mime_type = NULL, completed_at = NULL, updated_at = $2
WHERE id = $1 AND status = 'failed'`
	return r.execTransition(ctx, "reset report request", query, id, now)
}

// FailStale fails rows stuck in processing since before cutoff and returns how many
// were swept.
func (r *ReportRepository) FailStale(ctx context.Context, cutoff time.Time, message string, now time.Time) (int64, error) {
	const query = `UPDATE report_requests SET status = 'failed', current_step = 'failed', error_message = $2,
file_url = NULL, file_size = NULL, completed_at = NULL, updated_at = $3
WHERE status = 'processing' AND updated_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff, message, now)
	if err != nil {
		return 0, fmt.Errorf("fail stale report requests: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail stale report requests: %w", err)
	}
	return affected, nil
}

// Overwrite replaces the descriptive and artifact fields of an existing row in
// place. The indexer uses it to refresh a catalog entry for the same natural key.
func (r *ReportRepository) Overwrite(ctx context.Context, req *models.ReportRequest) error {
	const query = `UPDATE report_requests SET name = :name, format = :format, parameters = :parameters, status = :status,
progress = :progress, current_step = :current_step, error_message = :error_message, file_url = :file_url,
file_size = :file_size, mime_type = :mime_type, updated_at = :updated_at, completed_at = :completed_at
WHERE id = :id AND organization_id = :organization_id`
	res, err := r.db.NamedExecContext(ctx, query, req)
	if err != nil {
		return fmt.Errorf("overwrite report request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("overwrite report request: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("overwrite report request: %w", sql.ErrNoRows)
	}
	return nil
}

// Delete removes a row inside a transaction. beforeCommit runs after the row is
// deleted but before the transaction commits; if it fails the delete is rolled back.
func (r *ReportRepository) Delete(ctx context.Context, id string, beforeCommit func(context.Context) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete report request: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM report_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete report request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete report request: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("delete report request: %w", sql.ErrNoRows)
	}
	if beforeCommit != nil {
		if err = beforeCommit(ctx); err != nil {
			return fmt.Errorf("delete report artifact: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete report request: %w", err)
	}
	return nil
}

func (r *ReportRepository) execTransition(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return affected > 0, nil
}
