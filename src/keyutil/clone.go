package keyutil

// DeepClone recursively copies Entity (map[string]any) and []any values
// so the result shares none of those containers with v. Every other
// value, including maps and slices of other types, is returned as-is.
func DeepClone(v any) any {
	switch t := v.(type) {
	case Entity:
		out := make(Entity, len(t))
		for k, val := range t {
			out[k] = DeepClone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = DeepClone(val)
		}
		return out
	default:
		return v
	}
}

// CloneEntity is DeepClone specialized to the Entity map shape used
// throughout Keyper's cache.
func CloneEntity(e Entity) Entity {
	if e == nil {
		return nil
	}
	return DeepClone(e).(Entity)
}

// CloneOver returns a deep clone of base with overlay's own keys
// applied on top (also deep-cloned). Insert uses this to clone
// incoming data over a fresh object when building a cache entity.
func CloneOver(base, overlay Entity) Entity {
	out := CloneEntity(base)
	if out == nil {
		out = make(Entity, len(overlay))
	}
	for k, v := range overlay {
		out[k] = DeepClone(v)
	}
	return out
}
