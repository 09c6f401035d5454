package steps

// CommonDefaults lets a step type change the shared flag defaults.
type CommonDefaults struct {
	WriteResponseToFile   bool
	WriteResponseToOutput bool
	OutputFilename        string
}

var defaultCommon = CommonDefaults{WriteResponseToFile: true}

// ParamsSchema builds an object schema from step-specific properties merged
// over the shared base contract.
func ParamsSchema(defaults CommonDefaults, props map[string]any, required ...string) map[string]any {
	merged := map[string]any{
		"files_to_read": map[string]any{
			"type":    "array",
			"items":   map[string]any{"type": "string"},
			"default": []any{},
		},
		"sub_directory":            map[string]any{"type": "string", "default": ""},
		"write_response_to_file":   map[string]any{"type": "boolean", "default": defaults.WriteResponseToFile},
		"write_response_to_output": map[string]any{"type": "boolean", "default": defaults.WriteResponseToOutput},
		"output_filename":          map[string]any{"type": "string", "default": defaults.OutputFilename},
		"output_filename_prefix":   map[string]any{"type": "string", "default": ""},
	}
	for name, prop := range props {
		merged[name] = prop
	}
	req := make([]any, 0, len(required))
	for _, r := range required {
		req = append(req, r)
	}
	return map[string]any{
		"type":       "object",
		"properties": merged,
		"required":   req,
	}
}

// OutputSchema builds the output schema of BaseOutput plus extra fields.
func OutputSchema(extra map[string]any) map[string]any {
	props := map[string]any{
		"content": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"file_paths": map[string]any{
			"type":  []any{"array", "null"},
			"items": map[string]any{"type": "string"},
		},
	}
	for name, prop := range extra {
		props[name] = prop
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   []any{"content"},
	}
}

func stringProp() map[string]any {
	return map[string]any{"type": "string"}
}

func stringListProp() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}
