package odata

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// TranslateQuery rewrites version-specific query parameters before the
// request reaches the backend. The only divergence the gateway owns is
// the v4 count flag, which v2 services spell as an inline-count
// parameter. Everything else passes through untouched.
func TranslateQuery(values url.Values, version string) url.Values {
	if version != VersionV2 {
		return values
	}

	out := url.Values{}
	for name, vals := range values {
		for _, v := range vals {
			out.Add(name, v)
		}
	}

	if count := out.Get("$count"); count != "" {
		out.Del("$count")
		if count == "true" {
			out.Set("$inlinecount", "allpages")
		}
	}
	return out
}

var entityPathPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(\(.*\))?$`)

// ParseEntityPath splits a path segment of the form Entity or
// Entity(key) into its entity set name and raw key.
func ParseEntityPath(segment string) (entityName, key string, ok bool) {
	m := entityPathPattern.FindStringSubmatch(segment)
	if m == nil {
		return "", "", false
	}
	key = strings.TrimSuffix(strings.TrimPrefix(m[2], "("), ")")
	return m[1], key, true
}

// EntityPath builds the Entity(key) path segment, quoting string keys.
// Numeric, already-quoted and compound keys pass through as written.
func EntityPath(entityName, key string) string {
	if key == "" {
		return entityName
	}
	return fmt.Sprintf("%s(%s)", entityName, formatKey(key))
}

func formatKey(key string) string {
	if isNumericKey(key) || strings.Contains(key, "'") || strings.Contains(key, "=") {
		return key
	}
	return "'" + strings.ReplaceAll(key, "'", "''") + "'"
}

func isNumericKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
