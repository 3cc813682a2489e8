// Package entitykey implements the primary-key value: a primitive or
// an ordered tuple of primitives, compared by lexical string form and
// frozen at construction.
package entitykey

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyKey is returned by New when called with no components, and by
// any primary-key derivation that finds no configured fields.
var ErrEmptyKey = errors.New("entitykey: key has no components")

// ErrNilComponent is returned when a key component is nil — a pk must
// be fully determined at construction time.
var ErrNilComponent = errors.New("entitykey: key component is nil")

// Key is a primary key: a single primitive or an ordered, frozen tuple
// of primitives. The zero Key is not valid; use New.
type Key struct {
	parts []any
}

// New builds a Key from one or more primitive components. A single
// component is a plain key; more than one is a compound key. The
// resulting Key is immutable — New copies its input slice so later
// mutation of the caller's slice cannot affect it.
func New(parts ...any) (Key, error) {
	if len(parts) == 0 {
		return Key{}, ErrEmptyKey
	}
	frozen := make([]any, len(parts))
	for i, p := range parts {
		if p == nil {
			return Key{}, ErrNilComponent
		}
		frozen[i] = p
	}
	return Key{parts: frozen}, nil
}

// MustNew is New, panicking on error. Intended for tests and literals
// where the components are known to be valid.
func MustNew(parts ...any) Key {
	k, err := New(parts...)
	if err != nil {
		panic(err)
	}
	return k
}

// Compound reports whether k has more than one component.
func (k Key) Compound() bool { return len(k.parts) > 1 }

// IsZero reports whether k is the zero Key (never produced by New).
func (k Key) IsZero() bool { return len(k.parts) == 0 }

// Parts returns a copy of k's components in order.
func (k Key) Parts() []any {
	out := make([]any, len(k.parts))
	copy(out, k.parts)
	return out
}

// String returns the string-coerced form used for map lookup: equality
// is defined in terms of this form.
func (k Key) String() string {
	if len(k.parts) == 1 {
		return stringify(k.parts[0])
	}
	segs := make([]string, len(k.parts))
	for i, p := range k.parts {
		segs[i] = stringify(p)
	}
	// \x1f (unit separator) delimits tuple components. String components
	// are not escaped, so a component that itself contains \x1f can make
	// two different tuples share one string form.
	return strings.Join(segs, "\x1f")
}

// Less orders k before other by lexical comparison of their
// string-coerced components, left to right.
func (k Key) Less(other Key) bool {
	for i := 0; i < len(k.parts) && i < len(other.parts); i++ {
		a, b := stringify(k.parts[i]), stringify(other.parts[i])
		if a != b {
			return a < b
		}
	}
	return len(k.parts) < len(other.parts)
}

// Equal reports whether k and other have the same string-coerced form.
func (k Key) Equal(other Key) bool {
	return k.String() == other.String()
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
