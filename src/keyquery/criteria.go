// Package keyquery implements Keyper's MongoDB-style query language:
// Criteria, a predicate evaluator over attribute maps, and Ordering, a
// multi-key comparator builder. Evaluation dispatches on the operator
// token, the same style used for flat WHERE clauses, generalized here
// to a full nested operator set over dotted field paths.
package keyquery

import (
	"fmt"
	"strings"

	"keyper/src/keyutil"
)

// Criteria is a predicate spec: a mapping whose keys are either
// operator tokens (beginning with "$") or dotted field paths.
type Criteria map[string]any

// Test evaluates criteria against value. A nil or empty Criteria always
// matches (no constraints).
func Test(value any, criteria Criteria) (bool, error) {
	if len(criteria) == 0 {
		return true, nil
	}
	for key, arg := range criteria {
		ok, err := testEntry(value, key, arg)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Tester returns a predicate function bound to criteria, for repeated
// evaluation over a candidate set.
// Errors surfaced while matching (e.g. a malformed $like pattern) cause
// the returned function to treat the item as non-matching; callers that
// need the error should call Test directly.
func Tester(criteria Criteria) func(value any) bool {
	return func(value any) bool {
		ok, err := Test(value, criteria)
		return err == nil && ok
	}
}

func testEntry(value any, key string, arg any) (bool, error) {
	if strings.HasPrefix(key, "$") {
		return testOperator(value, key, arg)
	}
	// Field path: resolve, then test the resolved value against arg,
	// promoting a bare (non-Criteria) arg to {$eq: arg}.
	resolved, found := keyutil.GetPath(value, key)
	if !found {
		resolved = nil
	}
	sub, err := toCriteria(arg)
	if err != nil {
		return false, err
	}
	return Test(resolved, sub)
}

// toCriteria promotes a bare sub-criteria value to {$eq: value}.
func toCriteria(arg any) (Criteria, error) {
	if arg == nil {
		return Criteria{"$eq": nil}, nil
	}
	if c, ok := arg.(Criteria); ok {
		return c, nil
	}
	if m, ok := arg.(map[string]any); ok && isOperatorMap(m) {
		return Criteria(m), nil
	}
	return Criteria{"$eq": arg}, nil
}

func isOperatorMap(m map[string]any) bool {
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return len(m) > 0
}

func testOperator(value any, op string, arg any) (bool, error) {
	// Go has no "undefined" distinct from nil: an operator absent from
	// the Criteria map is simply never evaluated, and a nil arg is an
	// explicit null that is evaluated like any other value ($eq nil
	// matches only nil; ordering operators against nil never match).
	switch op {
	case "$eq":
		return compareEqual(value, arg), nil
	case "$ne":
		return !compareEqual(value, arg), nil
	case "$lt":
		return orderedCompare(value, arg, func(c int) bool { return c < 0 })
	case "$lte":
		return orderedCompare(value, arg, func(c int) bool { return c <= 0 })
	case "$gt":
		return orderedCompare(value, arg, func(c int) bool { return c > 0 })
	case "$gte":
		return orderedCompare(value, arg, func(c int) bool { return c >= 0 })
	case "$in":
		return membership(value, arg, true)
	case "$nin":
		return membership(value, arg, false)
	case "$like":
		return like(value, arg)
	case "$any":
		return arrayQuantifier(value, arg, false)
	case "$all":
		return arrayQuantifier(value, arg, true)
	case "$length":
		return lengthOp(value, arg)
	case "$and":
		return logical(value, arg, "$and")
	case "$or":
		return logical(value, arg, "$or")
	case "$nor":
		return logical(value, arg, "$nor")
	case "$not":
		sub, err := toCriteria(arg)
		if err != nil {
			return false, err
		}
		ok, err := Test(value, sub)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, fmt.Errorf("keyquery: unknown operator %q", op)
	}
}

func compareEqual(a, b any) bool {
	return keyutil.DeepEqual(a, b)
}

func membership(value, arg any, wantIn bool) (bool, error) {
	seq, ok := toSlice(arg)
	if !ok {
		return false, fmt.Errorf("keyquery: %s argument must be a sequence", "$in/$nin")
	}
	found := false
	for _, item := range seq {
		if compareEqual(value, item) {
			found = true
			break
		}
	}
	if wantIn {
		return found, nil
	}
	return !found, nil
}

func logical(value, arg any, op string) (bool, error) {
	seq, ok := toSlice(arg)
	if !ok {
		return false, fmt.Errorf("keyquery: %s argument must be a sequence of criteria", op)
	}
	for _, item := range seq {
		sub, err := toCriteria(item)
		if err != nil {
			return false, err
		}
		ok, err := Test(value, sub)
		if err != nil {
			return false, err
		}
		switch op {
		case "$and":
			if !ok {
				return false, nil
			}
		case "$or":
			if ok {
				return true, nil
			}
		case "$nor":
			if ok {
				return false, nil
			}
		}
	}
	switch op {
	case "$and":
		return true, nil
	case "$or":
		return false, nil
	default: // $nor
		return true, nil
	}
}

func toSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case nil:
		return nil, true
	}
	return nil, false
}
