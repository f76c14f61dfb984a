package export

import (
	"encoding/json"
	"fmt"
)

const jsonMimeType = "application/json"

// JSONExporter serialises the dataset structure as indented JSON.
type JSONExporter struct{}

// NewJSONExporter builds a JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

// Render marshals the dataset.
func (e *JSONExporter) Render(data Dataset) ([]byte, string, error) {
	if data.Sections == nil {
		data.Sections = []Section{}
	}
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("render json: %w", err)
	}
	return body, jsonMimeType, nil
}
