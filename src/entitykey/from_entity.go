package entitykey

import (
	"fmt"

	"keyper/src/keyutil"
)

// FromEntity computes a Key for e given the collection's configured
// primary-key field name(s), failing if any component is missing.
func FromEntity(e keyutil.Entity, pkFields []string) (Key, error) {
	if len(pkFields) == 0 {
		return Key{}, ErrEmptyKey
	}
	parts := make([]any, len(pkFields))
	for i, f := range pkFields {
		v, ok := e[f]
		if !ok || v == nil {
			return Key{}, fmt.Errorf("entitykey: missing primary key component %q", f)
		}
		parts[i] = v
	}
	return New(parts...)
}

// DefaultForeignKey derives the foreign-key field name a forward
// relation uses when none is configured: "<field>_pk" for a single
// relation, "<field>_pks" for a many relation. many relations
// additionally require the related collection to have a single-field
// primary key — a compound pk can't be flattened into one array field
// without an explicit foreignKey, so that combination is a
// configuration error.
func DefaultForeignKey(field string, relatedPKFields []string, many bool) (string, error) {
	if len(relatedPKFields) == 0 {
		return "", ErrEmptyKey
	}
	if len(relatedPKFields) > 1 && many {
		return "", fmt.Errorf("entitykey: relation %q has no derivable default foreign key for a compound-pk collection in a many relation; set ForeignKey explicitly", field)
	}
	if many {
		return field + "_pks", nil
	}
	return field + "_pk", nil
}
