package keyquery

import (
	"fmt"
	"strings"

	"keyper/src/keyutil"
)

// Comparator is a three-way comparison function over Entity values,
// suitable for sort.Slice-style sorting.
type Comparator func(a, b keyutil.Entity) int

// OrderSpec is a field path, optionally suffixed with "+" (ascending,
// the default) or "-" (descending), or a sequence of such specs for a
// compound ordering.
type OrderSpec = any

// BuildComparator compiles spec into a Comparator. spec may be a single
// string or a []string/[]any of strings. Compound comparators apply in
// sequence and short-circuit on the first non-equal result, in the
// familiar multi-key sort.Slice comparator style.
func BuildComparator(spec OrderSpec) Comparator {
	keys := normalizeSpec(spec)
	if len(keys) == 0 {
		return func(a, b keyutil.Entity) int { return 0 }
	}
	return func(a, b keyutil.Entity) int {
		for _, k := range keys {
			if c := k.compare(a, b); c != 0 {
				return c
			}
		}
		return 0
	}
}

type orderKey struct {
	path       string
	descending bool
}

func normalizeSpec(spec OrderSpec) []orderKey {
	switch t := spec.(type) {
	case nil:
		return nil
	case string:
		return []orderKey{parseOrderKey(t)}
	case []string:
		out := make([]orderKey, len(t))
		for i, s := range t {
			out[i] = parseOrderKey(s)
		}
		return out
	case []any:
		out := make([]orderKey, 0, len(t))
		for _, s := range t {
			if str, ok := s.(string); ok {
				out = append(out, parseOrderKey(str))
			}
		}
		return out
	default:
		return nil
	}
}

func parseOrderKey(s string) orderKey {
	if strings.HasSuffix(s, "-") {
		return orderKey{path: s[:len(s)-1], descending: true}
	}
	if strings.HasSuffix(s, "+") {
		return orderKey{path: s[:len(s)-1], descending: false}
	}
	return orderKey{path: s, descending: false}
}

func (k orderKey) compare(a, b keyutil.Entity) int {
	av, _ := keyutil.GetPath(a, k.path)
	bv, _ := keyutil.GetPath(b, k.path)
	c := compareValues(av, bv)
	if k.descending {
		return -c
	}
	return c
}

// compareValues lowercases string values before comparison and falls
// back to a stable ordering (nil < any, then string form) for
// heterogeneous or unorderable values so sorting never panics.
func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(strings.ToLower(as), strings.ToLower(bs))
	}
	if c, ok := compareOrdered(a, b); ok {
		return c
	}
	return strings.Compare(stringifyForSort(a), stringifyForSort(b))
}

func stringifyForSort(v any) string {
	if s, ok := v.(string); ok {
		return strings.ToLower(s)
	}
	return fmt.Sprint(v)
}
