package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sitereport-api/internal/models"
	appErrors "github.com/noah-isme/sitereport-api/pkg/errors"
	"github.com/noah-isme/sitereport-api/pkg/export"
)

// Section keys used by the aggregated datasets.
const (
	SectionDiaries     = "diaries"
	SectionInspections = "inspections"
	SectionNCRs        = "ncrs"
	SectionLabour      = "labour"
	SectionPlant       = "plant"
	SectionMaterials   = "materials"
	SectionInspection  = "inspection"
)

var (
	diaryColumns      = []string{"id", "diary_date", "weather", "summary", "status", "submitted_by"}
	inspectionColumns = []string{"id", "template_name", "location", "status", "inspector", "inspected_at", "notes"}
	ncrColumns        = []string{"id", "ncr_number", "title", "severity", "status", "raised_at", "closed_at"}
	labourColumns     = []string{"id", "diary_id", "diary_date", "worker_name", "trade", "hours", "hourly_rate", "total_cost"}
	plantColumns      = []string{"id", "diary_id", "diary_date", "equipment", "hours", "hourly_rate", "daily_rate", "fuel_cost", "total_cost"}
	materialColumns   = []string{"id", "diary_id", "diary_date", "material", "quantity", "unit", "unit_cost", "total_cost"}
)

type siteStore interface {
	GetProject(ctx context.Context, organizationID, projectID string) (*models.Project, error)
	ListDiaries(ctx context.Context, filter models.SiteRecordFilter) ([]models.DailyDiary, error)
	ListInspections(ctx context.Context, filter models.SiteRecordFilter) ([]models.Inspection, error)
	GetInspection(ctx context.Context, organizationID, inspectionID string) (*models.Inspection, error)
	ListNCRs(ctx context.Context, filter models.SiteRecordFilter) ([]models.NCR, error)
	ListLabour(ctx context.Context, filter models.SiteRecordFilter) ([]models.LabourEntry, error)
	ListPlant(ctx context.Context, filter models.SiteRecordFilter) ([]models.PlantEntry, error)
	ListMaterials(ctx context.Context, filter models.SiteRecordFilter) ([]models.MaterialEntry, error)
}

// Aggregator loads and joins the site records of one report. It is read-only.
type Aggregator struct {
	repo    siteStore
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewAggregator constructs the aggregator.
func NewAggregator(repo siteStore, metrics *MetricsService, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{repo: repo, metrics: metrics, logger: logger, now: time.Now}
}

// Aggregate builds the redacted dataset for params inside organizationID, as seen
// by a member holding role.
func (a *Aggregator) Aggregate(ctx context.Context, organizationID string, params models.ReportParameters, role models.OrgRole) (export.Dataset, error) {
	if params.Params == nil {
		return export.Dataset{}, appErrors.Clone(appErrors.ErrInvalidParameters, "report parameters are missing")
	}
	if err := params.Params.Validate(); err != nil {
		return export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInvalidParameters.Code, appErrors.ErrInvalidParameters.Status, err.Error())
	}

	project, err := a.loadProject(ctx, organizationID, params.Params.Project())
	if err != nil {
		return export.Dataset{}, err
	}

	data := export.Dataset{
		Kind:         string(params.Kind()),
		Title:        params.Kind().Title(),
		Organization: organizationID,
		Project:      project.Record(),
		GeneratedAt:  a.now().UTC(),
	}

	switch p := params.Params.(type) {
	case *models.ProjectSummaryParams:
		err = a.projectSummary(ctx, &data, organizationID, p)
	case *models.DiaryExportParams:
		err = a.diaryExport(ctx, &data, organizationID, p, role)
	case *models.InspectionSummaryParams:
		err = a.inspectionSummary(ctx, &data, organizationID, p)
	case *models.NCRReportParams:
		err = a.ncrReport(ctx, &data, organizationID, p)
	case *models.FinancialSummaryParams:
		err = a.financialSummary(ctx, &data, organizationID, p, role)
	case *models.ITPReportParams:
		err = a.itpReport(ctx, &data, organizationID, p)
	default:
		return export.Dataset{}, appErrors.Clone(appErrors.ErrInvalidParameters, fmt.Sprintf("unsupported report kind %q", params.Kind()))
	}
	if err != nil {
		return export.Dataset{}, err
	}
	return data, nil
}

func (a *Aggregator) loadProject(ctx context.Context, organizationID, projectID string) (*models.Project, error) {
	start := time.Now()
	project, err := a.repo.GetProject(ctx, organizationID, projectID)
	a.metrics.ObserveDBQuery("get_project", time.Since(start))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInvalidParameters.Code, appErrors.ErrInvalidParameters.Status,
				fmt.Sprintf("project %s not found in organization", projectID))
		}
		return nil, aggregationFailure(err)
	}
	if project.OrganizationID != organizationID {
		return nil, appErrors.Clone(appErrors.ErrInvalidParameters, fmt.Sprintf("project %s not found in organization", projectID))
	}
	return project, nil
}

func (a *Aggregator) projectSummary(ctx context.Context, data *export.Dataset, org string, p *models.ProjectSummaryParams) error {
	filter := rangeFilter(org, p.ProjectID, p.DateRange)
	data.Period = periodLabel(p.DateRange)
	data.PrimarySection = SectionDiaries
	withDiaries, withInspections, withNCRs := p.Sections()

	if withDiaries {
		diaries, err := a.diaries(ctx, filter)
		if err != nil {
			return err
		}
		records := a.scope(org, SectionDiaries, diaryRecords(diaries))
		data.Statistics.Diaries = len(records)
		data.Sections = append(data.Sections, newSection(SectionDiaries, "Daily Diaries", diaryColumns, records))
	}
	if withInspections {
		inspections, err := a.inspections(ctx, filter)
		if err != nil {
			return err
		}
		records := a.scope(org, SectionInspections, inspectionRecords(inspections))
		setInspectionStats(&data.Statistics, records)
		data.Sections = append(data.Sections, newSection(SectionInspections, "Inspections", inspectionColumns, records))
	}
	if withNCRs {
		ncrs, err := a.ncrs(ctx, filter)
		if err != nil {
			return err
		}
		records := a.scope(org, SectionNCRs, ncrRecords(ncrs))
		setNCRStats(&data.Statistics, records)
		data.Sections = append(data.Sections, newSection(SectionNCRs, "Non-Conformance Reports", ncrColumns, records))
	}
	return nil
}

func (a *Aggregator) diaryExport(ctx context.Context, data *export.Dataset, org string, p *models.DiaryExportParams, role models.OrgRole) error {
	filter := rangeFilter(org, p.ProjectID, p.DateRange)
	filter.Status = p.Status
	data.Period = periodLabel(p.DateRange)
	data.PrimarySection = SectionDiaries

	diaries, err := a.diaries(ctx, filter)
	if err != nil {
		return err
	}
	diaryRows := a.scope(org, SectionDiaries, diaryRecords(diaries))
	data.Statistics.Diaries = len(diaryRows)
	data.Sections = append(data.Sections, newSection(SectionDiaries, "Daily Diaries", diaryColumns, diaryRows))

	entryFilter := rangeFilter(org, p.ProjectID, p.DateRange)
	entryFilter.DiaryIDs = recordIDs(diaryRows)
	if len(entryFilter.DiaryIDs) == 0 {
		data.Sections = append(data.Sections,
			newSection(SectionLabour, "Labour", redactColumns(labourColumns, role), nil),
			newSection(SectionPlant, "Plant", redactColumns(plantColumns, role), nil),
			newSection(SectionMaterials, "Materials", redactColumns(materialColumns, role), nil))
		return nil
	}
	return a.costSections(ctx, data, org, entryFilter, role)
}

func (a *Aggregator) inspectionSummary(ctx context.Context, data *export.Dataset, org string, p *models.InspectionSummaryParams) error {
	filter := rangeFilter(org, p.ProjectID, p.DateRange)
	filter.Status = p.Status
	filter.TemplateID = p.TemplateID
	data.Period = periodLabel(p.DateRange)
	data.PrimarySection = SectionInspections

	inspections, err := a.inspections(ctx, filter)
	if err != nil {
		return err
	}
	records := a.scope(org, SectionInspections, inspectionRecords(inspections))
	setInspectionStats(&data.Statistics, records)
	data.Sections = append(data.Sections, newSection(SectionInspections, "Inspections", inspectionColumns, records))
	return nil
}

func (a *Aggregator) ncrReport(ctx context.Context, data *export.Dataset, org string, p *models.NCRReportParams) error {
	filter := rangeFilter(org, p.ProjectID, p.DateRange)
	filter.Severity = p.Severity
	filter.Status = p.Status
	data.Period = periodLabel(p.DateRange)
	data.PrimarySection = SectionNCRs

	ncrs, err := a.ncrs(ctx, filter)
	if err != nil {
		return err
	}
	records := a.scope(org, SectionNCRs, ncrRecords(ncrs))
	setNCRStats(&data.Statistics, records)
	data.Sections = append(data.Sections, newSection(SectionNCRs, "Non-Conformance Reports", ncrColumns, records))
	return nil
}

func (a *Aggregator) financialSummary(ctx context.Context, data *export.Dataset, org string, p *models.FinancialSummaryParams, role models.OrgRole) error {
	filter := rangeFilter(org, p.ProjectID, p.DateRange)
	data.Period = periodLabel(p.DateRange)
	data.PrimarySection = SectionLabour

	diaries, err := a.diaries(ctx, filter)
	if err != nil {
		return err
	}
	data.Statistics.Diaries = len(a.scope(org, SectionDiaries, diaryRecords(diaries)))
	return a.costSections(ctx, data, org, filter, role)
}

func (a *Aggregator) itpReport(ctx context.Context, data *export.Dataset, org string, p *models.ITPReportParams) error {
	data.PrimarySection = SectionInspection

	start := time.Now()
	inspection, err := a.repo.GetInspection(ctx, org, p.InspectionInstanceID)
	a.metrics.ObserveDBQuery("get_inspection", time.Since(start))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Wrap(err, appErrors.ErrInvalidParameters.Code, appErrors.ErrInvalidParameters.Status,
				fmt.Sprintf("inspection %s not found in organization", p.InspectionInstanceID))
		}
		return aggregationFailure(err)
	}
	if inspection.ProjectID != p.ProjectID {
		return appErrors.Clone(appErrors.ErrInvalidParameters, fmt.Sprintf("inspection %s does not belong to project %s", p.InspectionInstanceID, p.ProjectID))
	}
	records := a.scope(org, SectionInspection, []models.Record{inspection.Record()})
	setInspectionStats(&data.Statistics, records)
	if inspection.InspectedAt != nil {
		data.Period = inspection.InspectedAt.UTC().Format("2006-01-02")
	}
	data.Sections = append(data.Sections, newSection(SectionInspection, "Inspection", inspectionColumns, records))
	return nil
}

// costSections appends the labour, plant and material sections plus the totals
// block, redacting cost fields for roles without financial access.
func (a *Aggregator) costSections(ctx context.Context, data *export.Dataset, org string, filter models.SiteRecordFilter, role models.OrgRole) error {
	start := time.Now()
	labour, err := a.repo.ListLabour(ctx, filter)
	a.metrics.ObserveDBQuery("list_labour", time.Since(start))
	if err != nil {
		return aggregationFailure(err)
	}
	start = time.Now()
	plant, err := a.repo.ListPlant(ctx, filter)
	a.metrics.ObserveDBQuery("list_plant", time.Since(start))
	if err != nil {
		return aggregationFailure(err)
	}
	start = time.Now()
	materials, err := a.repo.ListMaterials(ctx, filter)
	a.metrics.ObserveDBQuery("list_materials", time.Since(start))
	if err != nil {
		return aggregationFailure(err)
	}

	labourRows := a.scope(org, SectionLabour, labourRecords(labour))
	plantRows := a.scope(org, SectionPlant, plantRecords(plant))
	materialRows := a.scope(org, SectionMaterials, materialRecords(materials))

	data.Totals = costTotals(labourRows, plantRows, materialRows, role)

	data.Sections = append(data.Sections,
		newSection(SectionLabour, "Labour", redactColumns(labourColumns, role), Redact(labourRows, role, nil)),
		newSection(SectionPlant, "Plant", redactColumns(plantColumns, role), Redact(plantRows, role, nil)),
		newSection(SectionMaterials, "Materials", redactColumns(materialColumns, role), Redact(materialRows, role, nil)))
	return nil
}

func (a *Aggregator) diaries(ctx context.Context, filter models.SiteRecordFilter) ([]models.DailyDiary, error) {
	start := time.Now()
	rows, err := a.repo.ListDiaries(ctx, filter)
	a.metrics.ObserveDBQuery("list_diaries", time.Since(start))
	if err != nil {
		return nil, aggregationFailure(err)
	}
	return rows, nil
}

func (a *Aggregator) inspections(ctx context.Context, filter models.SiteRecordFilter) ([]models.Inspection, error) {
	start := time.Now()
	rows, err := a.repo.ListInspections(ctx, filter)
	a.metrics.ObserveDBQuery("list_inspections", time.Since(start))
	if err != nil {
		return nil, aggregationFailure(err)
	}
	return rows, nil
}

func (a *Aggregator) ncrs(ctx context.Context, filter models.SiteRecordFilter) ([]models.NCR, error) {
	start := time.Now()
	rows, err := a.repo.ListNCRs(ctx, filter)
	a.metrics.ObserveDBQuery("list_ncrs", time.Since(start))
	if err != nil {
		return nil, aggregationFailure(err)
	}
	return rows, nil
}

// scope drops every record whose organization_id differs from org. Queries are
// already scoped in SQL; this is the second fence.
func (a *Aggregator) scope(org, section string, records []models.Record) []models.Record {
	out := make([]models.Record, 0, len(records))
	dropped := 0
	for _, record := range records {
		if owner, _ := record["organization_id"].(string); owner != org {
			dropped++
			continue
		}
		out = append(out, record)
	}
	if dropped > 0 {
		a.logger.Error("dropped cross-tenant records",
			zap.String("organization_id", org),
			zap.String("section", section),
			zap.Int("dropped", dropped))
	}
	return out
}

func aggregationFailure(err error) error {
	return appErrors.Wrap(err, appErrors.ErrAggregationFailure.Code, appErrors.ErrAggregationFailure.Status, appErrors.ErrAggregationFailure.Message)
}

func rangeFilter(org, projectID string, dateRange *models.DateRange) models.SiteRecordFilter {
	filter := models.SiteRecordFilter{OrganizationID: org, ProjectID: projectID}
	if dateRange != nil {
		from := dateRange.Start.Time
		to := dateRange.End.Time.Add(24 * time.Hour)
		filter.From = &from
		filter.To = &to
	}
	return filter
}

func periodLabel(dateRange *models.DateRange) string {
	if dateRange == nil {
		return ""
	}
	return dateRange.String()
}

func newSection(key, title string, columns []string, records []models.Record) export.Section {
	rows := make([]map[string]interface{}, len(records))
	for i, record := range records {
		rows[i] = map[string]interface{}(record)
	}
	return export.Section{Key: key, Title: title, Columns: columns, Records: rows}
}

func setInspectionStats(stats *export.Statistics, records []models.Record) {
	stats.Inspections = len(records)
	stats.FailedInspections = 0
	for _, record := range records {
		if record["status"] == "failed" {
			stats.FailedInspections++
		}
	}
}

func setNCRStats(stats *export.Statistics, records []models.Record) {
	stats.NCRs = len(records)
	stats.OpenNCRs = 0
	for _, record := range records {
		if record["status"] != "closed" {
			stats.OpenNCRs++
		}
	}
}

func costTotals(labour, plant, materials []models.Record, role models.OrgRole) []export.Metric {
	var hours, labourCost, plantCost, materialCost float64
	for _, record := range labour {
		hours += floatField(record, "hours")
		labourCost += floatField(record, "total_cost")
	}
	for _, record := range plant {
		plantCost += floatField(record, "total_cost")
	}
	for _, record := range materials {
		materialCost += floatField(record, "total_cost")
	}
	totals := []export.Metric{
		{Label: "Labour entries", Value: fmt.Sprintf("%d", len(labour))},
		{Label: "Labour hours", Value: formatAmount(hours)},
		{Label: "Plant entries", Value: fmt.Sprintf("%d", len(plant))},
		{Label: "Material deliveries", Value: fmt.Sprintf("%d", len(materials))},
	}
	if !models.CanViewFinancials(role) {
		return totals
	}
	return append(totals,
		export.Metric{Label: "Labour cost", Value: formatAmount(labourCost)},
		export.Metric{Label: "Plant cost", Value: formatAmount(plantCost)},
		export.Metric{Label: "Material cost", Value: formatAmount(materialCost)},
		export.Metric{Label: "Total cost", Value: formatAmount(labourCost + plantCost + materialCost)})
}

func floatField(record models.Record, key string) float64 {
	switch v := record[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func recordIDs(records []models.Record) []string {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		if id, ok := record["id"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func diaryRecords(rows []models.DailyDiary) []models.Record {
	out := make([]models.Record, len(rows))
	for i, row := range rows {
		out[i] = row.Record()
	}
	return out
}

func inspectionRecords(rows []models.Inspection) []models.Record {
	out := make([]models.Record, len(rows))
	for i, row := range rows {
		out[i] = row.Record()
	}
	return out
}

func ncrRecords(rows []models.NCR) []models.Record {
	out := make([]models.Record, len(rows))
	for i, row := range rows {
		out[i] = row.Record()
	}
	return out
}

func labourRecords(rows []models.LabourEntry) []models.Record {
	out := make([]models.Record, len(rows))
	for i, row := range rows {
		out[i] = row.Record()
	}
	return out
}

func plantRecords(rows []models.PlantEntry) []models.Record {
	out := make([]models.Record, len(rows))
	for i, row := range rows {
		out[i] = row.Record()
	}
	return out
}

func materialRecords(rows []models.MaterialEntry) []models.Record {
	out := make([]models.Record, len(rows))
	for i, row := range rows {
		out[i] = row.Record()
	}
	return out
}
