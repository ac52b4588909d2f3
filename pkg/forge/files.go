package forge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
	"github.com/shaowenchen/mcp-tool-forge/pkg/registry"
	"github.com/shaowenchen/mcp-tool-forge/pkg/synth"
)

func (f *Forge) writeFiles(dir, tool, accessor string, metadata capability.Metadata) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create %s: %w", capability.ErrSynthesisWrite, dir, err)
	}

	meta, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal metadata: %w", capability.ErrSynthesisWrite, err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{synth.ToolFile, []byte(tool)},
		{synth.WrapperFile, []byte(accessor)},
		{synth.MetadataFile, append(meta, '\n')},
	}

	written := make([]string, 0, len(files))
	for _, file := range files {
		path := filepath.Join(dir, file.name)
		if err := registry.WriteFileAtomic(path, file.data, f.filePerm); err != nil {
			return written, fmt.Errorf("%w: %w", capability.ErrSynthesisWrite, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// GenericSample is used when nothing better describes the response.
func GenericSample() map[string]any {
	return map[string]any{
		"status":    "success",
		"data":      "Sample response data",
		"timestamp": "2024-01-01T12:00:00Z",
	}
}

// SampleResponse picks the response the output schema is inferred from: the explicit
// sample, else the documented example, else one built from the documented structure,
// else a canned sample recognised from the API name, else GenericSample.
func SampleResponse(explicit any, record *capability.AnalysisRecord) any {
	if explicit != nil {
		return explicit
	}
	if format := record.ResponseFormat; format != nil {
		if format.Example != nil {
			return format.Example
		}
		if format.Structure != nil && format.Structure.Len() > 0 {
			sample := make(map[string]any, format.Structure.Len())
			for pair := format.Structure.Oldest(); pair != nil; pair = pair.Next() {
				sample[pair.Key] = fieldSample(pair.Value)
			}
			return sample
		}
	}

	name := strings.ToLower(record.APIName)
	switch {
	case strings.Contains(name, "weather"):
		return map[string]any{
			"name": "London",
			"sys":  map[string]any{"country": "GB"},
			"main": map[string]any{"temp": 15.5, "humidity": 72, "pressure": 1013},
			"weather": []any{
				map[string]any{"main": "Clouds", "description": "overcast clouds"},
			},
			"wind": map[string]any{"speed": 3.2, "deg": 245},
		}
	case strings.Contains(name, "flight"):
		return map[string]any{
			"flights": []any{
				map[string]any{
					"airline":       "Example Air",
					"flight_number": "EX123",
					"departure":     "2024-01-01T10:00:00Z",
					"arrival":       "2024-01-01T14:00:00Z",
					"price":         299.99,
				},
			},
		}
	}
	return GenericSample()
}

func fieldSample(field capability.ResponseField) any {
	if field.Type == capability.TypeArray && field.ItemStructure != nil && field.ItemStructure.Len() > 0 {
		item := make(map[string]any, field.ItemStructure.Len())
		for pair := field.ItemStructure.Oldest(); pair != nil; pair = pair.Next() {
			typ, _ := pair.Value.(string)
			item[pair.Key] = placeholder(typ)
		}
		return []any{item}
	}
	return placeholder(field.Type)
}

func placeholder(typ string) any {
	switch strings.ToLower(typ) {
	case capability.TypeInteger, "int":
		return 1
	case capability.TypeNumber, "float":
		return 1.5
	case capability.TypeBoolean, "bool":
		return true
	case capability.TypeArray, "list":
		return []any{}
	case capability.TypeObject, "dict":
		return map[string]any{}
	default:
		return "sample"
	}
}
