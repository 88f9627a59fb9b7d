package ingest

import (
	"encoding/json"
)

// ParseJSONBytes decodes a single collector payload into the loose field
// map the normalizer consumes.
func ParseJSONBytes(data []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}
