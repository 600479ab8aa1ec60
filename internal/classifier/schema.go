package classifier

// BuildEntitiesJSONSchema returns the JSON-Schema for a classifier response as a generic map.
// With labels, the label property is constrained to that enum; without, any string is accepted.
func BuildEntitiesJSONSchema(labels []string) map[string]any {
	label := map[string]any{"type": "string", "minLength": 1}
	if len(labels) > 0 {
		label = map[string]any{"type": "string", "enum": labels}
	}
	item := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":  map[string]any{"type": "string"},
			"label": label,
			"score": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"start": map[string]any{"type": "integer"},
			"end":   map[string]any{"type": "integer"},
		},
		"required": []string{"text", "label"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entities": map[string]any{"type": "array", "items": item},
		},
		"required": []string{"entities"},
	}
}
