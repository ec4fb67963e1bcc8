package odata

import (
	"encoding/json"
	"strings"
)

// Normalize strips the protocol envelope from a backend response body:
// the v2 "d" wrapper and "__metadata"/"__deferred" noise, or the v4
// "@odata.*" annotations. v2 collection payloads are renamed to the v4
// "value" spelling so SDK callers see one shape. Bodies that are not
// JSON objects pass through unchanged.
func Normalize(body []byte, version string) []byte {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return body
	}

	if version == VersionV2 {
		if obj, ok := decoded.(map[string]any); ok {
			if inner, ok := obj["d"]; ok {
				decoded = inner
			}
		}
		if obj, ok := decoded.(map[string]any); ok {
			if results, ok := obj["results"]; ok {
				obj["value"] = results
				delete(obj, "results")
			}
		}
	}

	decoded = stripNoise(decoded, version)

	normalized, err := json.Marshal(decoded)
	if err != nil {
		return body
	}
	return normalized
}

func stripNoise(value any, version string) any {
	switch v := value.(type) {
	case map[string]any:
		for name, child := range v {
			if isNoiseKey(name, version) {
				delete(v, name)
				continue
			}
			v[name] = stripNoise(child, version)
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = stripNoise(child, version)
		}
		return v
	default:
		return value
	}
}

func isNoiseKey(name, version string) bool {
	if version == VersionV2 {
		return name == "__metadata" || name == "__deferred"
	}
	return strings.HasPrefix(name, "@odata.")
}
