package collection

import "errors"

// Configuration errors.
var (
	ErrUnknownRelationTarget = errors.New("collection: relation names a target collection that does not exist and was never registered")
	ErrDuplicateAccessor     = errors.New("collection: relation/back-reference name collides with an existing field or accessor")
	ErrParentWithoutRelation = errors.New("collection: Parent names a relation field that is not declared")
	ErrMissingPrimaryKey     = errors.New("collection: PrimaryKey must name at least one field")
)

// Lookup-miss errors.
var (
	ErrNotFound = errors.New("collection: no entity with that primary key")
)

// Misuse errors.
var (
	ErrOffsetLimitRequireOrderBy = errors.New("collection: Offset/Limit require OrderBy to be set")
	ErrNoSuchRelation            = errors.New("collection: no relation or back-reference with that name")
)
