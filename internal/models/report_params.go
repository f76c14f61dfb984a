package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidParams is wrapped by every parameter validation failure.
var ErrInvalidParams = errors.New("invalid report parameters")

const dateLayout = "2006-01-02"

// Date is a calendar day serialised as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to a calendar day in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(raw string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return Date{}, fmt.Errorf("%w: invalid date %q", ErrInvalidParams, raw)
	}
	return Date{Time: t}, nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: date must be a string", ErrInvalidParams)
	}
	if raw == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DateRange is an inclusive calendar range.
type DateRange struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Validate requires both bounds and start <= end.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: date_range requires start and end", ErrInvalidParams)
	}
	if r.Start.After(r.End.Time) {
		return fmt.Errorf("%w: date_range start %s is after end %s", ErrInvalidParams, r.Start, r.End)
	}
	return nil
}

// Contains reports whether t falls within the range (whole days, inclusive).
func (r DateRange) Contains(t time.Time) bool {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(r.Start.Time) && !day.After(r.End.Time)
}

// String renders the range for report headers.
func (r DateRange) String() string {
	return fmt.Sprintf("%s to %s", r.Start, r.End)
}

// ReportParams is implemented by every kind-specific parameter struct.
type ReportParams interface {
	Kind() ReportKind
	Project() string
	Validate() error
}

// NaturalKeyed is implemented by parameters of report kinds that are produced as a
// by-product of another workflow and deduplicated by a business identifier.
type NaturalKeyed interface {
	NaturalKey() string
}

// ProjectSummaryParams drives project_summary reports.
type ProjectSummaryParams struct {
	ProjectID          string     `json:"project_id"`
	DateRange          *DateRange `json:"date_range,omitempty"`
	IncludeDiaries     *bool      `json:"include_diaries,omitempty"`
	IncludeInspections *bool      `json:"include_inspections,omitempty"`
	IncludeNCRs        *bool      `json:"include_ncrs,omitempty"`
}

func (p *ProjectSummaryParams) Kind() ReportKind { return ReportKindProjectSummary }
func (p *ProjectSummaryParams) Project() string  { return p.ProjectID }

func (p *ProjectSummaryParams) Validate() error {
	return validateProjectAndRange(p.ProjectID, p.DateRange, false)
}

// Sections resolves the include flags, defaulting every section to on.
func (p *ProjectSummaryParams) Sections() (diaries, inspections, ncrs bool) {
	return flagOrTrue(p.IncludeDiaries), flagOrTrue(p.IncludeInspections), flagOrTrue(p.IncludeNCRs)
}

// DiaryExportParams drives diary_export reports.
type DiaryExportParams struct {
	ProjectID string     `json:"project_id"`
	DateRange *DateRange `json:"date_range"`
	Status    string     `json:"status,omitempty"`
}

func (p *DiaryExportParams) Kind() ReportKind { return ReportKindDiaryExport }
func (p *DiaryExportParams) Project() string  { return p.ProjectID }

func (p *DiaryExportParams) Validate() error {
	return validateProjectAndRange(p.ProjectID, p.DateRange, true)
}

// InspectionSummaryParams drives inspection_summary reports.
type InspectionSummaryParams struct {
	ProjectID  string     `json:"project_id"`
	DateRange  *DateRange `json:"date_range,omitempty"`
	TemplateID string     `json:"template_id,omitempty"`
	Status     string     `json:"status,omitempty"`
}

func (p *InspectionSummaryParams) Kind() ReportKind { return ReportKindInspectionSummary }
func (p *InspectionSummaryParams) Project() string  { return p.ProjectID }

func (p *InspectionSummaryParams) Validate() error {
	return validateProjectAndRange(p.ProjectID, p.DateRange, false)
}

// NCRReportParams drives ncr_report reports.
type NCRReportParams struct {
	ProjectID string     `json:"project_id"`
	DateRange *DateRange `json:"date_range,omitempty"`
	Severity  string     `json:"severity,omitempty"`
	Status    string     `json:"status,omitempty"`
}

func (p *NCRReportParams) Kind() ReportKind { return ReportKindNCRReport }
func (p *NCRReportParams) Project() string  { return p.ProjectID }

func (p *NCRReportParams) Validate() error {
	return validateProjectAndRange(p.ProjectID, p.DateRange, false)
}

// FinancialSummaryParams drives financial_summary reports.
type FinancialSummaryParams struct {
	ProjectID string     `json:"project_id"`
	DateRange *DateRange `json:"date_range"`
}

func (p *FinancialSummaryParams) Kind() ReportKind { return ReportKindFinancialSummary }
func (p *FinancialSummaryParams) Project() string  { return p.ProjectID }

func (p *FinancialSummaryParams) Validate() error {
	return validateProjectAndRange(p.ProjectID, p.DateRange, true)
}

// ITPReportParams identifies the inspection instance an itp_report entry points at.
type ITPReportParams struct {
	ProjectID            string     `json:"project_id"`
	InspectionInstanceID string     `json:"inspection_instance_id"`
	TemplateName         string     `json:"template_name,omitempty"`
	Result               string     `json:"result,omitempty"`
	FinalizedAt          *time.Time `json:"finalized_at,omitempty"`
}

func (p *ITPReportParams) Kind() ReportKind   { return ReportKindITPReport }
func (p *ITPReportParams) Project() string    { return p.ProjectID }
func (p *ITPReportParams) NaturalKey() string { return p.InspectionInstanceID }

func (p *ITPReportParams) Validate() error {
	if err := validateProjectAndRange(p.ProjectID, nil, false); err != nil {
		return err
	}
	if strings.TrimSpace(p.InspectionInstanceID) == "" {
		return fmt.Errorf("%w: inspection_instance_id is required", ErrInvalidParams)
	}
	return nil
}

func validateProjectAndRange(projectID string, dateRange *DateRange, rangeRequired bool) error {
	if strings.TrimSpace(projectID) == "" {
		return fmt.Errorf("%w: project_id is required", ErrInvalidParams)
	}
	if dateRange == nil {
		if rangeRequired {
			return fmt.Errorf("%w: date_range is required", ErrInvalidParams)
		}
		return nil
	}
	return dateRange.Validate()
}

func flagOrTrue(flag *bool) bool {
	return flag == nil || *flag
}

func newParamsForKind(kind ReportKind) (ReportParams, error) {
	switch kind {
	case ReportKindProjectSummary:
		return &ProjectSummaryParams{}, nil
	case ReportKindDiaryExport:
		return &DiaryExportParams{}, nil
	case ReportKindInspectionSummary:
		return &InspectionSummaryParams{}, nil
	case ReportKindNCRReport:
		return &NCRReportParams{}, nil
	case ReportKindFinancialSummary:
		return &FinancialSummaryParams{}, nil
	case ReportKindITPReport:
		return &ITPReportParams{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown report kind %q", ErrInvalidParams, kind)
	}
}

// DecodeReportParams decodes kind-specific parameters from raw JSON.
func DecodeReportParams(kind ReportKind, raw json.RawMessage) (ReportParams, error) {
	params, err := newParamsForKind(kind)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return params, nil
	}
	if err := json.Unmarshal(raw, params); err != nil {
		if errors.Is(err, ErrInvalidParams) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return params, nil
}

// ReportParameters wraps exactly one kind-specific parameter value. It is stored as
// JSON carrying a "kind" discriminator next to the parameter fields.
type ReportParameters struct {
	Params ReportParams
}

// NewReportParameters wraps a concrete parameter value.
func NewReportParameters(params ReportParams) ReportParameters {
	return ReportParameters{Params: params}
}

// Kind returns the wrapped kind, or an empty kind when nothing is wrapped.
func (p ReportParameters) Kind() ReportKind {
	if p.Params == nil {
		return ""
	}
	return p.Params.Kind()
}

// NaturalKey returns the natural key of keyed parameters, or "".
func (p ReportParameters) NaturalKey() string {
	if keyed, ok := p.Params.(NaturalKeyed); ok {
		return keyed.NaturalKey()
	}
	return ""
}

// MarshalJSON implements json.Marshaler.
func (p ReportParameters) MarshalJSON() ([]byte, error) {
	if p.Params == nil {
		return []byte("{}"), nil
	}
	body, err := json.Marshal(p.Params)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(p.Params.Kind())
	if err != nil {
		return nil, err
	}
	fields["kind"] = kind
	return json.Marshal(fields)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *ReportParameters) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind ReportKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode report parameters: %w", err)
	}
	if head.Kind == "" {
		p.Params = nil
		return nil
	}
	params, err := DecodeReportParams(head.Kind, data)
	if err != nil {
		return err
	}
	p.Params = params
	return nil
}

// Value marshals params to JSON for persistence.
func (p ReportParameters) Value() (driver.Value, error) {
	data, err := p.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal report parameters: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the parameters.
func (p *ReportParameters) Scan(value interface{}) error {
	if value == nil {
		*p = ReportParameters{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ReportParameters", value)
	}
	if len(data) == 0 {
		*p = ReportParameters{}
		return nil
	}
	if err := p.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("unmarshal report parameters: %w", err)
	}
	return nil
}
