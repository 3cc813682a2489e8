// Package keyperdb implements DB: the registry that owns every
// Collection, applies collection-level defaults, and resolves relation
// wiring across collections created in any order.
package keyperdb

import (
	"fmt"
	"sync"

	"keyper/src/collection"
	"keyper/src/datasource"
	"keyper/src/keyutil"

	"go.uber.org/zap"
)

// Defaults are collection-level defaults applied to every
// CreateCollection call before the caller's explicit Config, following
// the usual constructor-injected shared-config pattern.
type Defaults struct {
	BeforeInsert func(keyutil.Entity) keyutil.Entity
	BeforeSend   func(keyutil.Entity) keyutil.Entity
}

// DB owns every named Collection and implements collection.Registry, so
// a *DB is threaded into every Collection it creates for sibling lookup
// and deferred relation wiring.
//
// DB is an ordinary value rather than a process-wide singleton reached
// through a package-level accessor: it is a registry keyed by name, so
// a program is free to run more than one DB.
type DB struct {
	logger   *zap.SugaredLogger
	defaults Defaults

	mu          sync.Mutex
	collections map[string]*collection.Collection
	created     *keyutil.Signal[createdEvent]
}

type createdEvent struct {
	name string
	c    *collection.Collection
}

// New constructs an empty DB. logger may be nil.
func New(defaults Defaults, logger *zap.SugaredLogger) *DB {
	return &DB{
		logger:      logger,
		defaults:    defaults,
		collections: make(map[string]*collection.Collection),
		created:     &keyutil.Signal[createdEvent]{},
	}
}

// CreateCollection registers a new Collection named name, merging db's
// Defaults under cfg's explicit fields, then fires collectionCreated so
// any collection waiting on a deferred relation to name can finish
// wiring.
func (db *DB) CreateCollection(name string, cfg collection.Config, source datasource.DataSource) (*collection.Collection, error) {
	db.mu.Lock()
	if _, exists := db.collections[name]; exists {
		db.mu.Unlock()
		return nil, fmt.Errorf("keyperdb: collection %q already registered", name)
	}
	db.mu.Unlock()

	if cfg.BeforeInsert == nil {
		cfg.BeforeInsert = db.defaults.BeforeInsert
	}
	if cfg.BeforeSend == nil {
		cfg.BeforeSend = db.defaults.BeforeSend
	}

	var sub *zap.SugaredLogger
	if db.logger != nil {
		sub = db.logger.Named(name)
	}
	c, err := collection.New(name, cfg, source, db, sub)
	if err != nil {
		return nil, fmt.Errorf("keyperdb: creating collection %q: %w", name, err)
	}

	db.mu.Lock()
	db.collections[name] = c
	db.mu.Unlock()

	db.created.Emit(createdEvent{name: name, c: c})
	if db.logger != nil {
		db.logger.Infof("registered collection %q", name)
	}
	return c, nil
}

// GetCollection resolves a collection by name, satisfying
// collection.Registry.
func (db *DB) GetCollection(name string) (*collection.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.collections[name]
	if !ok {
		return nil, fmt.Errorf("keyperdb: %w: %q", ErrUnknownCollection, name)
	}
	return c, nil
}

// GetCollectionOf resolves the collection an already-cached entity
// belongs to, by reading the reserved collection tag installed by
// Collection.Insert.
func (db *DB) GetCollectionOf(e keyutil.Entity) (*collection.Collection, error) {
	tag, ok := e[keyutil.CollectionTag]
	if !ok {
		return nil, fmt.Errorf("keyperdb: entity has no %q tag: %w", keyutil.CollectionTag, ErrUntaggedEntity)
	}
	name, ok := tag.(string)
	if !ok {
		return nil, fmt.Errorf("keyperdb: entity %q tag is not a string", keyutil.CollectionTag)
	}
	return db.GetCollection(name)
}

// OnCollectionCreated subscribes fn to every future CreateCollection
// call and replays it for every collection already registered, so a
// caller wiring a relation never has to special-case ordering
// (satisfies collection.Registry). The returned detach function
// unsubscribes fn.
func (db *DB) OnCollectionCreated(fn func(name string, c *collection.Collection)) (detach func()) {
	db.mu.Lock()
	existing := make([]*collection.Collection, 0, len(db.collections))
	names := make([]string, 0, len(db.collections))
	for name, c := range db.collections {
		existing = append(existing, c)
		names = append(names, name)
	}
	db.mu.Unlock()
	for i, c := range existing {
		fn(names[i], c)
	}
	return db.created.Attach(func(ev createdEvent) { fn(ev.name, ev.c) })
}

// Names returns the registered collection names, unordered.
func (db *DB) Names() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, 0, len(db.collections))
	for name := range db.collections {
		out = append(out, name)
	}
	return out
}
