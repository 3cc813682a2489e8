// Package datasource defines the single external boundary Keyper
// consumes: an opaque CRUD provider. Concrete backends (REST/HTTP, a
// database driver, ...) live outside this module; this package only
// fixes the contract and the wire-level shapes (FetchParams, Slice)
// Collections exchange with it.
package datasource

import (
	"context"

	"keyper/src/entitykey"
	"keyper/src/keyquery"
	"keyper/src/keyutil"
)

// Options carries backend-specific call options. It is passed through
// untouched by the Collection layer.
type Options map[string]any

// FetchParams is the normalized shape of a fetch() call: a predicate, an
// ordering, and optional paging.
type FetchParams struct {
	Where   keyquery.Criteria
	OrderBy any
	Limit   *int
	Offset  *int
}

// Slice is a result page annotated with Total, the full-match count
// ignoring Limit/Offset. A Data Source MAY leave Total at 0 if it
// cannot report the full count; Collection.Fetch treats a Total of 0 as
// unknown and reports len(Items) in its place.
type Slice struct {
	Items []keyutil.Entity
	Total int
}

// DataSource is the external CRUD boundary a Collection drives. Every
// method is context-aware, following the usual context.Context-first
// convention for networked services.
type DataSource interface {
	// FindOne loads a single raw entity by primary key. Implementations
	// must return an error (wrapping ErrNotFound where appropriate) if
	// pk does not exist.
	FindOne(ctx context.Context, pk entitykey.Key, opts Options) (keyutil.Entity, error)

	// Find executes a query and returns a page of raw entities.
	Find(ctx context.Context, params FetchParams, opts Options) (Slice, error)

	// FindAll batch-loads raw entities by primary key. Order is not
	// significant and missing pks are permitted — callers handle gaps.
	FindAll(ctx context.Context, pks []entitykey.Key, opts Options) ([]keyutil.Entity, error)

	// Create persists a new entity and returns the authoritative
	// response (which becomes the cached snapshot).
	Create(ctx context.Context, payload keyutil.Entity, opts Options) (keyutil.Entity, error)

	// Update persists a change to pk (full payload or a diff, at the
	// caller's discretion) and returns the authoritative response.
	Update(ctx context.Context, pk entitykey.Key, payload keyutil.Entity, opts Options) (keyutil.Entity, error)

	// Delete removes the entity at pk.
	Delete(ctx context.Context, pk entitykey.Key, opts Options) error
}
