// Package collection implements the heart of Keyper: the per-entity-type
// cache, its primary and secondary indexes, the relation graph, fetch
// coalescing, and the query-result cache.
package collection

import (
	"keyper/src/entitykey"
	"keyper/src/keyquery"
	"keyper/src/keyutil"
	"keyper/src/uniqueindex"
)

// RelationMask describes which relations/back-references to hydrate or
// include in a mutable clone: field -> true (shallow) or field -> a
// nested RelationMask.
type RelationMask map[string]any

// RelationConfig describes a forward relation: navigable from the
// declaring collection to the related Collection via ForeignKey.
type RelationConfig struct {
	// Collection is the name of the related collection.
	Collection string
	// Many marks a one-to-many relation (ForeignKey holds a list of pks).
	Many bool
	// ForeignKey is the field holding the related pk(s). If empty, it is
	// derived as "<field>_pk" ("<field>_pks" if Many) — see
	// entitykey.DefaultForeignKey.
	ForeignKey string
	// BackRef, if set, is the accessor name installed on the related
	// collection to look up holders of this relation.
	BackRef string
	// EagerLoad marks this relation for inclusion in the collection-level
	// default hydration mask merged into every fetch/fetchOne/fetchAll.
	EagerLoad bool
}

// BackRefConfig is the inverse of a RelationConfig, installed on the
// related collection so it can resolve "who points at me".
type BackRefConfig struct {
	// Collection is the name of the collection declaring the relation.
	Collection string
	// ForeignKey is the field on Collection holding the pk of *this*
	// collection's entities.
	ForeignKey string
}

// Config is a Collection's static configuration.
type Config struct {
	// PrimaryKey is one or more field names; more than one makes a
	// compound key.
	PrimaryKey []string
	// BeforeInsert transforms raw payloads before they're cached.
	BeforeInsert func(keyutil.Entity) keyutil.Entity
	// BeforeSend transforms a payload before it's handed to the Data
	// Source on create/update.
	BeforeSend func(keyutil.Entity) keyutil.Entity
	// Parent names a relation field whose target collection adopts this
	// collection as a child.
	Parent string
	// Relations maps field name to relation configuration.
	Relations map[string]RelationConfig
	// EagerLoad is the collection-level default hydration mask, merged
	// into every fetch call's explicit mask.
	EagerLoad RelationMask
}

// InsertEvent is the payload of the inserted signal: the new cached
// snapshot and the previous one, if any (nil on a fresh insert).
type InsertEvent struct {
	New      keyutil.Entity
	Previous keyutil.Entity
}

// MutableEntity is a writable clone produced by GetMutable: own fields
// hold scalars/foreign keys, and any requested back-reference field
// holds a mutable *uniqueindex.UniqueIndex of further mutable clones.
// Mask travels with it so a later Update(inplace) knows which
// relations to re-hydrate into the same shape.
type MutableEntity struct {
	Fields   keyutil.Entity
	Mask     RelationMask
	SourcePK entitykey.Key
}

// Registry is the narrow lookup surface a Collection needs from its
// owning DB: resolve a sibling collection by name, and learn about
// collections created after this one (for deferred/circular relation
// wiring). keyperdb.DB implements this.
type Registry interface {
	GetCollection(name string) (*Collection, error)
	OnCollectionCreated(fn func(name string, c *Collection)) (detach func())
}

type cachedQuery struct {
	where keyquery.Criteria
	items *uniqueindex.UniqueIndex
}

type future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *future[T] { return &future[T]{done: make(chan struct{})} }

func (f *future[T]) resolve(v T, err error) {
	f.value = v
	f.err = err
	close(f.done)
}

func (f *future[T]) wait() (T, error) {
	<-f.done
	return f.value, f.err
}
