package collection

import (
	"fmt"
	"sync"

	"keyper/src/datasource"
	"keyper/src/entitykey"
	"keyper/src/keyutil"
	"keyper/src/uniqueindex"

	"go.uber.org/zap"
)

// Collection is a named set of cached entities of the same schema, with
// a Data Source and a relation graph. All public methods are safe for
// concurrent use; a single mutex guards the cache state so signal
// emission and index mutation stay atomic relative to concurrent
// goroutines.
type Collection struct {
	name     string
	cfg      Config
	source   datasource.DataSource
	registry Registry
	logger   *zap.SugaredLogger

	mu                  sync.Mutex
	index               *uniqueindex.UniqueIndex
	indexes             map[string]*uniqueindex.NonUniqueIndex
	queries             map[string]*cachedQuery
	pendingRequests     map[string]*future[datasource.Slice]
	pendingItemRequests map[string]*future[keyutil.Entity]
	relations           map[string]RelationConfig
	backRefs            map[string]BackRefConfig
	foreignKeys         map[string]string // fk field -> relation field
	childCollections    []string

	inserted *keyutil.Signal[InsertEvent]
	removed  *keyutil.Signal[keyutil.Entity]
}

// New constructs a Collection. Callers normally go through
// keyperdb.DB.CreateCollection, which also wires deferred relations.
func New(name string, cfg Config, source datasource.DataSource, registry Registry, logger *zap.SugaredLogger) (*Collection, error) {
	if len(cfg.PrimaryKey) == 0 {
		return nil, ErrMissingPrimaryKey
	}
	if cfg.Parent != "" {
		if _, ok := cfg.Relations[cfg.Parent]; !ok {
			return nil, fmt.Errorf("collection %q: %w", name, ErrParentWithoutRelation)
		}
	}
	c := &Collection{
		name:                name,
		cfg:                 cfg,
		source:              source,
		registry:            registry,
		logger:              logger,
		indexes:             make(map[string]*uniqueindex.NonUniqueIndex),
		queries:             make(map[string]*cachedQuery),
		pendingRequests:     make(map[string]*future[datasource.Slice]),
		pendingItemRequests: make(map[string]*future[keyutil.Entity]),
		relations:           make(map[string]RelationConfig),
		backRefs:            make(map[string]BackRefConfig),
		foreignKeys:         make(map[string]string),
		inserted:            &keyutil.Signal[InsertEvent]{},
		removed:             &keyutil.Signal[keyutil.Entity]{},
	}
	c.index = uniqueindex.New(c.pkOf).Freeze()

	for field, rel := range cfg.Relations {
		if err := c.defineRelation(field, rel); err != nil {
			return nil, err
		}
	}
	if cfg.Parent != "" {
		c.adoptAsChildOf(cfg.Relations[cfg.Parent].Collection)
	}
	return c, nil
}

// Get returns the cached snapshot at pk, or ErrNotFound if nothing is
// cached under that key. Get never reaches the Data Source — use
// FetchOne for that.
func (c *Collection) Get(pk entitykey.Key) (keyutil.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index.Get(pk)
	if !ok {
		return nil, fmt.Errorf("collection %q: pk %s: %w", c.name, pk.String(), ErrNotFound)
	}
	return e, nil
}

// Has reports whether an entity is cached under pk.
func (c *Collection) Has(pk entitykey.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Has(pk)
}

// ChildCollections returns the names of collections that declared this
// one as their Parent, in registration order. Data Sources use this to
// compose nested endpoints.
func (c *Collection) ChildCollections() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.childCollections...)
}

// adoptAsChildOf registers c as a child of the named collection,
// deferring until the parent is created when it doesn't exist yet.
func (c *Collection) adoptAsChildOf(parentName string) {
	if parentName == c.name {
		c.addChild(c.name)
		return
	}
	if parent, err := c.registry.GetCollection(parentName); err == nil {
		parent.addChild(c.name)
		return
	}
	c.registry.OnCollectionCreated(func(name string, created *Collection) {
		if name == parentName {
			created.addChild(c.name)
		}
	})
}

func (c *Collection) addChild(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.childCollections {
		if existing == name {
			return
		}
	}
	c.childCollections = append(c.childCollections, name)
}

// Name returns the collection's registered name.
func (c *Collection) Name() string { return c.name }

// Config returns the collection's static configuration.
func (c *Collection) Config() Config { return c.cfg }

// Inserted exposes the collection's insert signal for subscription
// (views attach here). Listeners fire with the collection's lock held,
// so they must not call back into this Collection synchronously —
// anything that needs the cache (a reload, relation hydration) has to
// run on its own goroutine.
func (c *Collection) Inserted() *keyutil.Signal[InsertEvent] { return c.inserted }

// Removed exposes the collection's remove signal. The same listener
// constraint as Inserted applies.
func (c *Collection) Removed() *keyutil.Signal[keyutil.Entity] { return c.removed }

// pkOf derives the primary key from an entity's configured PrimaryKey
// fields. It panics on a malformed entity because every entity reaching
// the index has already passed through insert's pk computation.
func (c *Collection) pkOf(e keyutil.Entity) entitykey.Key {
	pk, err := entitykey.FromEntity(e, c.cfg.PrimaryKey)
	if err != nil {
		panic(fmt.Sprintf("collection %q: entity in cache without a valid pk: %v", c.name, err))
	}
	return pk
}

func (c *Collection) ensureNonUniqueIndex(field string) *uniqueindex.NonUniqueIndex {
	idx, ok := c.indexes[field]
	if !ok {
		idx = uniqueindex.NewNonUnique(c.pkOf)
		c.indexes[field] = idx
	}
	return idx
}

func stringifyFK(v any) string {
	return fmt.Sprint(v)
}
