package keyquery

import (
	"errors"
	"fmt"
	"strings"
)

// ErrLikePatternInvalid is returned when a $like pattern carries
// neither a leading nor a trailing "%" wildcard.
var ErrLikePatternInvalid = errors.New("keyquery: $like pattern must have a leading and/or trailing '%'")

func like(value, arg any) (bool, error) {
	pattern, ok := arg.(string)
	if !ok {
		return false, fmt.Errorf("keyquery: $like argument must be a string")
	}
	s, ok := value.(string)
	if !ok {
		return false, nil
	}
	prefix := strings.HasPrefix(pattern, "%")
	suffix := strings.HasSuffix(pattern, "%")
	if !prefix && !suffix {
		return false, ErrLikePatternInvalid
	}
	core := pattern
	if prefix {
		core = core[1:]
	}
	if suffix {
		core = core[:len(core)-1]
	}
	switch {
	case prefix && suffix:
		return strings.Contains(s, core), nil
	case suffix: // "x%" prefix match
		return strings.HasPrefix(s, core), nil
	default: // "%x" suffix match
		return strings.HasSuffix(s, core), nil
	}
}

// orderedCompare compares value against arg using Go's natural ordering
// for numbers and strings; mixed or unorderable types never satisfy the
// comparison (they simply don't match, rather than erroring, matching
// the permissive "missing field never matches" posture elsewhere in the
// evaluator).
func orderedCompare(value, arg any, test func(c int) bool) (bool, error) {
	c, ok := compareOrdered(value, arg)
	if !ok {
		return false, nil
	}
	return test(c), nil
}

func compareOrdered(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func arrayQuantifier(value, arg any, all bool) (bool, error) {
	seq, ok := value.([]any)
	if !ok {
		return false, nil
	}
	sub, err := toCriteria(arg)
	if err != nil {
		return false, err
	}
	if all {
		for _, item := range seq {
			ok, err := Test(item, sub)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
	for _, item := range seq {
		ok, err := Test(item, sub)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func lengthOp(value, arg any) (bool, error) {
	seq, ok := value.([]any)
	length := 0
	if ok {
		length = len(seq)
	} else if s, ok := value.(string); ok {
		length = len(s)
	} else if value != nil {
		return false, nil
	}
	sub, err := toCriteria(arg)
	if err != nil {
		return false, err
	}
	return Test(length, sub)
}
