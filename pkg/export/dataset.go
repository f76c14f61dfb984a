package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dataset is the aggregated, already redacted content of one report. Every
// renderer consumes the same structure so the formats carry the same facts.
type Dataset struct {
	Kind           string                 `json:"kind"`
	Title          string                 `json:"title"`
	Organization   string                 `json:"organization"`
	Project        map[string]interface{} `json:"project"`
	Period         string                 `json:"period,omitempty"`
	GeneratedAt    time.Time              `json:"generated_at"`
	Statistics     Statistics             `json:"statistics"`
	Totals         []Metric               `json:"totals,omitempty"`
	PrimarySection string                 `json:"primary_section,omitempty"`
	Sections       []Section              `json:"sections"`
}

// Statistics is the fixed counts block shown on every report.
type Statistics struct {
	Diaries           int `json:"diaries"`
	Inspections       int `json:"inspections"`
	NCRs              int `json:"ncrs"`
	OpenNCRs          int `json:"open_ncrs"`
	FailedInspections int `json:"failed_inspections"`
}

// Metric is a labelled scalar such as a cost total.
type Metric struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Section is one logical slice of the dataset, rendered as a table.
type Section struct {
	Key     string                   `json:"key"`
	Title   string                   `json:"title"`
	Columns []string                 `json:"columns"`
	Records []map[string]interface{} `json:"records"`
}

// Renderer turns a dataset into artifact bytes and reports their MIME type.
type Renderer interface {
	Render(data Dataset) ([]byte, string, error)
}

// ProjectName returns the project's display name.
func (d Dataset) ProjectName() string {
	name := FormatValue(d.Project["name"])
	if code := FormatValue(d.Project["code"]); code != "" {
		return fmt.Sprintf("%s (%s)", name, code)
	}
	return name
}

// Primary returns the section highlighted in previews: the configured primary
// section if present, otherwise the first non-empty one.
func (d Dataset) Primary() (Section, bool) {
	for _, section := range d.Sections {
		if section.Key == d.PrimarySection && d.PrimarySection != "" {
			return section, true
		}
	}
	for _, section := range d.Sections {
		if len(section.Records) > 0 {
			return section, true
		}
	}
	return Section{}, false
}

// NonEmptySections returns the sections that hold at least one record.
func (d Dataset) NonEmptySections() []Section {
	out := make([]Section, 0, len(d.Sections))
	for _, section := range d.Sections {
		if len(section.Records) > 0 {
			out = append(out, section)
		}
	}
	return out
}

// ColumnLabel turns a snake_case key into a header label.
func ColumnLabel(key string) string {
	parts := strings.Split(key, "_")
	for i, part := range parts {
		switch strings.ToLower(part) {
		case "id":
			parts[i] = "ID"
		case "ncr":
			parts[i] = "NCR"
		default:
			if part != "" {
				parts[i] = strings.ToUpper(part[:1]) + part[1:]
			}
		}
	}
	return strings.Join(parts, " ")
}

// FormatValue renders a record value as display text.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatGeneratedAt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}
