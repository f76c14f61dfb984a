package models

import "time"

// Record is a loosely typed row as it flows into redaction and rendering. The key
// set is significant: redaction removes keys rather than blanking values.
type Record map[string]interface{}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Project is the root entity every report is scoped to.
type Project struct {
	ID             string     `db:"id"`
	OrganizationID string     `db:"organization_id"`
	Name           string     `db:"name"`
	Code           *string    `db:"code"`
	Client         *string    `db:"client"`
	Location       *string    `db:"location"`
	Status         string     `db:"status"`
	StartDate      *time.Time `db:"start_date"`
	EndDate        *time.Time `db:"end_date"`
}

// Record converts the project to a render record.
func (p Project) Record() Record {
	return Record{
		"id":              p.ID,
		"organization_id": p.OrganizationID,
		"name":            p.Name,
		"code":            derefString(p.Code),
		"client":          derefString(p.Client),
		"location":        derefString(p.Location),
		"status":          p.Status,
		"start_date":      formatDay(p.StartDate),
		"end_date":        formatDay(p.EndDate),
	}
}

// DailyDiary is one site diary entry.
type DailyDiary struct {
	ID             string    `db:"id"`
	OrganizationID string    `db:"organization_id"`
	ProjectID      string    `db:"project_id"`
	DiaryDate      time.Time `db:"diary_date"`
	Weather        *string   `db:"weather"`
	Summary        *string   `db:"summary"`
	Status         string    `db:"status"`
	SubmittedBy    *string   `db:"submitted_by"`
}

// Record converts the diary to a render record.
func (d DailyDiary) Record() Record {
	return Record{
		"id":              d.ID,
		"organization_id": d.OrganizationID,
		"project_id":      d.ProjectID,
		"diary_date":      formatDay(&d.DiaryDate),
		"weather":         derefString(d.Weather),
		"summary":         derefString(d.Summary),
		"status":          d.Status,
		"submitted_by":    derefString(d.SubmittedBy),
	}
}

// Inspection is one ITP inspection instance.
type Inspection struct {
	ID             string     `db:"id"`
	OrganizationID string     `db:"organization_id"`
	ProjectID      string     `db:"project_id"`
	TemplateID     *string    `db:"template_id"`
	TemplateName   string     `db:"template_name"`
	Location       *string    `db:"location"`
	Status         string     `db:"status"`
	Inspector      *string    `db:"inspector"`
	Notes          *string    `db:"notes"`
	InspectedAt    *time.Time `db:"inspected_at"`
}

// Record converts the inspection to a render record.
func (i Inspection) Record() Record {
	return Record{
		"id":              i.ID,
		"organization_id": i.OrganizationID,
		"project_id":      i.ProjectID,
		"template_id":     derefString(i.TemplateID),
		"template_name":   i.TemplateName,
		"location":        derefString(i.Location),
		"status":          i.Status,
		"inspector":       derefString(i.Inspector),
		"notes":           derefString(i.Notes),
		"inspected_at":    formatDay(i.InspectedAt),
	}
}

// NCR is a non-conformance report.
type NCR struct {
	ID             string     `db:"id"`
	OrganizationID string     `db:"organization_id"`
	ProjectID      string     `db:"project_id"`
	Number         string     `db:"ncr_number"`
	Title          string     `db:"title"`
	Description    *string    `db:"description"`
	Severity       string     `db:"severity"`
	Status         string     `db:"status"`
	RaisedAt       time.Time  `db:"raised_at"`
	ClosedAt       *time.Time `db:"closed_at"`
}

// Record converts the NCR to a render record.
func (n NCR) Record() Record {
	return Record{
		"id":              n.ID,
		"organization_id": n.OrganizationID,
		"project_id":      n.ProjectID,
		"ncr_number":      n.Number,
		"title":           n.Title,
		"description":     derefString(n.Description),
		"severity":        n.Severity,
		"status":          n.Status,
		"raised_at":       formatDay(&n.RaisedAt),
		"closed_at":       formatDay(n.ClosedAt),
	}
}

// LabourEntry is a labour line recorded against a diary.
type LabourEntry struct {
	ID             string    `db:"id"`
	OrganizationID string    `db:"organization_id"`
	ProjectID      string    `db:"project_id"`
	DiaryID        string    `db:"diary_id"`
	DiaryDate      time.Time `db:"diary_date"`
	WorkerName     string    `db:"worker_name"`
	Trade          *string   `db:"trade"`
	Hours          float64   `db:"hours"`
	HourlyRate     float64   `db:"hourly_rate"`
	TotalCost      float64   `db:"total_cost"`
}

// Record converts the labour line to a render record.
func (l LabourEntry) Record() Record {
	return Record{
		"id":              l.ID,
		"organization_id": l.OrganizationID,
		"project_id":      l.ProjectID,
		"diary_id":        l.DiaryID,
		"diary_date":      formatDay(&l.DiaryDate),
		"worker_name":     l.WorkerName,
		"trade":           derefString(l.Trade),
		"hours":           l.Hours,
		"hourly_rate":     l.HourlyRate,
		"total_cost":      l.TotalCost,
	}
}

// PlantEntry is an equipment line recorded against a diary.
type PlantEntry struct {
	ID             string    `db:"id"`
	OrganizationID string    `db:"organization_id"`
	ProjectID      string    `db:"project_id"`
	DiaryID        string    `db:"diary_id"`
	DiaryDate      time.Time `db:"diary_date"`
	Equipment      string    `db:"equipment"`
	Hours          float64   `db:"hours"`
	HourlyRate     float64   `db:"hourly_rate"`
	DailyRate      float64   `db:"daily_rate"`
	FuelCost       float64   `db:"fuel_cost"`
	TotalCost      float64   `db:"total_cost"`
}

// Record converts the plant line to a render record.
func (p PlantEntry) Record() Record {
	return Record{
		"id":              p.ID,
		"organization_id": p.OrganizationID,
		"project_id":      p.ProjectID,
		"diary_id":        p.DiaryID,
		"diary_date":      formatDay(&p.DiaryDate),
		"equipment":       p.Equipment,
		"hours":           p.Hours,
		"hourly_rate":     p.HourlyRate,
		"daily_rate":      p.DailyRate,
		"fuel_cost":       p.FuelCost,
		"total_cost":      p.TotalCost,
	}
}

// MaterialEntry is a material delivery recorded against a diary.
type MaterialEntry struct {
	ID             string    `db:"id"`
	OrganizationID string    `db:"organization_id"`
	ProjectID      string    `db:"project_id"`
	DiaryID        string    `db:"diary_id"`
	DiaryDate      time.Time `db:"diary_date"`
	Material       string    `db:"material"`
	Quantity       float64   `db:"quantity"`
	Unit           *string   `db:"unit"`
	UnitCost       float64   `db:"unit_cost"`
	TotalCost      float64   `db:"total_cost"`
}

// Record converts the material line to a render record.
func (m MaterialEntry) Record() Record {
	return Record{
		"id":              m.ID,
		"organization_id": m.OrganizationID,
		"project_id":      m.ProjectID,
		"diary_id":        m.DiaryID,
		"diary_date":      formatDay(&m.DiaryDate),
		"material":        m.Material,
		"quantity":        m.Quantity,
		"unit":            derefString(m.Unit),
		"unit_cost":       m.UnitCost,
		"total_cost":      m.TotalCost,
	}
}

// SiteRecordFilter narrows site record queries. OrganizationID and ProjectID are
// always applied; the remaining fields are optional.
type SiteRecordFilter struct {
	OrganizationID string
	ProjectID      string
	From           *time.Time
	To             *time.Time
	Status         string
	Severity       string
	TemplateID     string
	DiaryIDs       []string
}

func derefString(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func formatDay(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}
