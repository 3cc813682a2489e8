package keyutil

import "strings"

// GetPath resolves a dot-separated field path against a nested
// attribute map, walking through nested maps one segment at a time.
// Traversal through a missing key or a nil value yields (nil, false);
// traversal through a non-map value with remaining path segments also
// yields (nil, false).
func GetPath(value any, path string) (any, bool) {
	if path == "" {
		return value, true
	}
	segments := strings.Split(path, ".")
	cur := value
	for _, seg := range segments {
		if cur == nil {
			return nil, false
		}
		m, ok := cur.(Entity)
		if !ok {
			return nil, false
		}
		v, present := m[seg]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
