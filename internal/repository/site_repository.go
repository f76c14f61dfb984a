package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sitereport-api/internal/models"
)

// SiteRepository reads the construction records reports are built from. Every
// query is scoped by organization and project.
type SiteRepository struct {
	db *sqlx.DB
}

// NewSiteRepository constructs the repository.
func NewSiteRepository(db *sqlx.DB) *SiteRepository {
	return &SiteRepository{db: db}
}

// GetProject loads one project inside an organization.
func (r *SiteRepository) GetProject(ctx context.Context, organizationID, projectID string) (*models.Project, error) {
	const query = `SELECT id, organization_id, name, code, client, location, status, start_date, end_date
FROM projects WHERE organization_id = $1 AND id = $2`
	var project models.Project
	if err := r.db.GetContext(ctx, &project, query, organizationID, projectID); err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &project, nil
}

// ListDiaries returns diaries in the filter's date range ordered by date.
func (r *SiteRepository) ListDiaries(ctx context.Context, filter models.SiteRecordFilter) ([]models.DailyDiary, error) {
	where, args := scopedConditions("d", "d.diary_date", filter)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("d.status = $%d", len(args)))
	}
	query := `SELECT d.id, d.organization_id, d.project_id, d.diary_date, d.weather, d.summary, d.status, d.submitted_by
FROM daily_diaries d WHERE ` + strings.Join(where, " AND ") + ` ORDER BY d.diary_date ASC, d.id ASC`
	var rows []models.DailyDiary
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list diaries: %w", err)
	}
	return rows, nil
}

// ListInspections returns inspections in range with optional status and template filters.
func (r *SiteRepository) ListInspections(ctx context.Context, filter models.SiteRecordFilter) ([]models.Inspection, error) {
	where, args := scopedConditions("i", "i.inspected_at", filter)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("i.status = $%d", len(args)))
	}
	if filter.TemplateID != "" {
		args = append(args, filter.TemplateID)
		where = append(where, fmt.Sprintf("i.template_id = $%d", len(args)))
	}
	query := `SELECT i.id, i.organization_id, i.project_id, i.template_id, i.template_name, i.location, i.status, i.inspector, i.notes, i.inspected_at
FROM inspections i WHERE ` + strings.Join(where, " AND ") + ` ORDER BY i.inspected_at ASC NULLS LAST, i.id ASC`
	var rows []models.Inspection
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list inspections: %w", err)
	}
	return rows, nil
}

// GetInspection loads one inspection instance inside an organization.
func (r *SiteRepository) GetInspection(ctx context.Context, organizationID, inspectionID string) (*models.Inspection, error) {
	const query = `SELECT id, organization_id, project_id, template_id, template_name, location, status, inspector, notes, inspected_at
FROM inspections WHERE organization_id = $1 AND id = $2`
	var inspection models.Inspection
	if err := r.db.GetContext(ctx, &inspection, query, organizationID, inspectionID); err != nil {
		return nil, fmt.Errorf("get inspection: %w", err)
	}
	return &inspection, nil
}

// ListNCRs returns NCRs raised in range with optional severity and status filters.
func (r *SiteRepository) ListNCRs(ctx context.Context, filter models.SiteRecordFilter) ([]models.NCR, error) {
	where, args := scopedConditions("n", "n.raised_at", filter)
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		where = append(where, fmt.Sprintf("n.severity = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("n.status = $%d", len(args)))
	}
	query := `SELECT n.id, n.organization_id, n.project_id, n.ncr_number, n.title, n.description, n.severity, n.status, n.raised_at, n.closed_at
FROM ncrs n WHERE ` + strings.Join(where, " AND ") + ` ORDER BY n.raised_at ASC, n.ncr_number ASC`
	var rows []models.NCR
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list ncrs: %w", err)
	}
	return rows, nil
}

// ListLabour returns labour lines of diaries in range.
func (r *SiteRepository) ListLabour(ctx context.Context, filter models.SiteRecordFilter) ([]models.LabourEntry, error) {
	where, args := diaryEntryConditions("l", filter)
	query := `SELECT l.id, l.organization_id, l.project_id, l.diary_id, d.diary_date, l.worker_name, l.trade, l.hours, l.hourly_rate, l.total_cost
FROM diary_labour l JOIN daily_diaries d ON d.id = l.diary_id AND d.organization_id = l.organization_id
WHERE ` + strings.Join(where, " AND ") + ` ORDER BY d.diary_date ASC, l.id ASC`
	var rows []models.LabourEntry
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list labour entries: %w", err)
	}
	return rows, nil
}

// ListPlant returns plant lines of diaries in range.
func (r *SiteRepository) ListPlant(ctx context.Context, filter models.SiteRecordFilter) ([]models.PlantEntry, error) {
	where, args := diaryEntryConditions("p", filter)
	query := `SELECT p.id, p.organization_id, p.project_id, p.diary_id, d.diary_date, p.equipment, p.hours, p.hourly_rate, p.daily_rate, p.fuel_cost, p.total_cost
FROM diary_plant p JOIN daily_diaries d ON d.id = p.diary_id AND d.organization_id = p.organization_id
WHERE ` + strings.Join(where, " AND ") + ` ORDER BY d.diary_date ASC, p.id ASC`
	var rows []models.PlantEntry
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list plant entries: %w", err)
	}
	return rows, nil
}

// ListMaterials returns material lines of diaries in range.
func (r *SiteRepository) ListMaterials(ctx context.Context, filter models.SiteRecordFilter) ([]models.MaterialEntry, error) {
	where, args := diaryEntryConditions("m", filter)
	query := `SELECT m.id, m.organization_id, m.project_id, m.diary_id, d.diary_date, m.material, m.quantity, m.unit, m.unit_cost, m.total_cost
FROM diary_materials m JOIN daily_diaries d ON d.id = m.diary_id AND d.organization_id = m.organization_id
WHERE ` + strings.Join(where, " AND ") + ` ORDER BY d.diary_date ASC, m.id ASC`
	var rows []models.MaterialEntry
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list material entries: %w", err)
	}
	return rows, nil
}

func scopedConditions(alias, dateColumn string, filter models.SiteRecordFilter) ([]string, []interface{}) {
	where := []string{alias + ".organization_id = $1", alias + ".project_id = $2"}
	args := []interface{}{filter.OrganizationID, filter.ProjectID}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("%s >= $%d", dateColumn, len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("%s < $%d", dateColumn, len(args)))
	}
	return where, args
}

func diaryEntryConditions(alias string, filter models.SiteRecordFilter) ([]string, []interface{}) {
	where, args := scopedConditions(alias, "d.diary_date", filter)
	if len(filter.DiaryIDs) > 0 {
		placeholders := make([]string, len(filter.DiaryIDs))
		for i, id := range filter.DiaryIDs {
			args = append(args, id)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, fmt.Sprintf("%s.diary_id IN (%s)", alias, strings.Join(placeholders, ", ")))
	}
	return where, args
}
