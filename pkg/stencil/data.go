package stencil

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// DataFormat names an encoding template data can be read from.
type DataFormat string

const (
	FormatJSON DataFormat = "json"
	FormatYAML DataFormat = "yaml"
)

// FormatForPath picks the data format from a file extension. Anything that
// is not .yaml or .yml is read as JSON.
func FormatForPath(path string) DataFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// LoadData decodes a JSON or YAML document into template data. Numbers
// keep their integer or decimal form instead of becoming float64.
func LoadData(r io.Reader, format DataFormat) (TemplateData, error) {
	var raw interface{}
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode yaml data: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode json data: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown data format %q", format)
	}

	if raw == nil {
		return TemplateData{}, nil
	}
	m, ok := normalizeDecoded(raw).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("template data must be a mapping at the top level")
	}
	return TemplateData(m), nil
}
