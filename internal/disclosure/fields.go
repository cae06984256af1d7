package disclosure

import "github.com/kuibu/transparent-company/pkg/canonical"

// Field accessors over decoded payload maps, mirroring the pattern in
// internal/projection: type assertions must target canonical.Map/List
// exactly, not the unnamed map[string]any/[]any they are defined over.

func strField(m canonical.Map, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func int64Field(m canonical.Map, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func boolField(m canonical.Map, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func listField(m canonical.Map, key string) canonical.List {
	if v, ok := m[key].(canonical.List); ok {
		return v
	}
	return nil
}

func asMap(v any) (canonical.Map, bool) {
	m, ok := v.(canonical.Map)
	return m, ok
}
