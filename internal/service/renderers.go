package service

import (
	"fmt"

	"github.com/noah-isme/sitereport-api/internal/models"
	appErrors "github.com/noah-isme/sitereport-api/pkg/errors"
	"github.com/noah-isme/sitereport-api/pkg/export"
)

// RendererSet selects the renderer for a report format.
type RendererSet struct {
	renderers map[models.ReportFormat]export.Renderer
}

// NewRendererSet registers the built-in renderers.
func NewRendererSet(pdfPreviewLimit int) *RendererSet {
	return &RendererSet{renderers: map[models.ReportFormat]export.Renderer{
		models.ReportFormatPDF:   export.NewPDFExporter(pdfPreviewLimit),
		models.ReportFormatExcel: export.NewExcelExporter(),
		models.ReportFormatCSV:   export.NewCSVExporter(),
		models.ReportFormatJSON:  export.NewJSONExporter(),
	}}
}

// For returns the renderer for format when kind supports it.
func (s *RendererSet) For(kind models.ReportKind, format models.ReportFormat) (export.Renderer, error) {
	if !models.SupportsFormat(kind, format) {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedFormat, fmt.Sprintf("format %q is not supported for %s reports", format, kind))
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedFormat, fmt.Sprintf("no renderer registered for %q", format))
	}
	return renderer, nil
}

// Render renders data in format and wraps renderer errors as render failures.
func (s *RendererSet) Render(kind models.ReportKind, format models.ReportFormat, data export.Dataset) ([]byte, string, error) {
	renderer, err := s.For(kind, format)
	if err != nil {
		return nil, "", err
	}
	body, mimeType, err := renderer.Render(data)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrRenderFailure.Code, appErrors.ErrRenderFailure.Status, appErrors.ErrRenderFailure.Message)
	}
	return body, mimeType, nil
}
