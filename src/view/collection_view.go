package view

import (
	"context"
	"sync"

	"keyper/src/collection"
	"keyper/src/datasource"
	"keyper/src/keyquery"
	"keyper/src/keyutil"

	"go.uber.org/zap"
)

// CollectionView keeps a sorted, deduplicated slice of a Collection's
// entities matching Query, live-updated from the Collection's inserted
// and removed signals.
type CollectionView struct {
	coll   *collection.Collection
	logger *zap.SugaredLogger

	mu            sync.Mutex
	query         keyquery.Criteria
	orderBy       any
	loadRelations collection.RelationMask
	dsOpts        datasource.Options
	items         []keyutil.Entity
	pks           map[string]struct{}
	loading       bool
	fromCache     bool
	disposed      bool
	seq           int           // bumped by every Load; supersedes in-flight loads
	pending       map[string]int // pk string -> sequence guarding an in-flight per-pk insert hydration

	detachInserted func()
	detachRemoved  func()
}

// NewCollectionView constructs a view attached to coll's signals. Call
// Load to populate it — a fresh view starts empty.
func NewCollectionView(coll *collection.Collection, opts Options) *CollectionView {
	v := &CollectionView{
		coll:          coll,
		logger:        opts.Logger,
		query:         opts.Query,
		orderBy:       opts.OrderBy,
		loadRelations: opts.LoadRelations,
		dsOpts:        opts.DataSource,
		pks:           make(map[string]struct{}),
		pending:       make(map[string]int),
	}
	v.detachInserted = coll.Inserted().Attach(v.onInserted)
	v.detachRemoved = coll.Removed().Attach(v.onRemoved)
	return v
}

// Items returns a snapshot of the view's current sorted entities.
func (v *CollectionView) Items() []keyutil.Entity {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneItems(v.items)
}

// Loading reports whether a Load is in flight.
func (v *CollectionView) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

// Query returns the view's current predicate.
func (v *CollectionView) Query() keyquery.Criteria {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.query
}

// SetQuery replaces the view's predicate. If it is structurally equal
// to the current one, SetQuery is a no-op and returns false. Otherwise
// it updates the predicate and, if reload is true, issues a Load.
func (v *CollectionView) SetQuery(ctx context.Context, query keyquery.Criteria, reload bool) (bool, error) {
	v.mu.Lock()
	if keyutil.DeepEqual(map[string]any(v.query), map[string]any(query)) {
		v.mu.Unlock()
		return false, nil
	}
	v.query = query
	fromCache := v.fromCache
	v.mu.Unlock()
	if !reload {
		return true, nil
	}
	return true, v.Load(ctx, fromCache)
}

// SetOrderBy replaces the view's ordering, same noop/reload semantics
// as SetQuery.
func (v *CollectionView) SetOrderBy(ctx context.Context, orderBy any, reload bool) (bool, error) {
	v.mu.Lock()
	if keyutil.DeepEqual(v.orderBy, orderBy) {
		v.mu.Unlock()
		return false, nil
	}
	v.orderBy = orderBy
	fromCache := v.fromCache
	v.mu.Unlock()
	if !reload {
		return true, nil
	}
	return true, v.Load(ctx, fromCache)
}

// Load (re)populates the view. fromCache=true evaluates the query
// against the in-memory cache only (collection.Filter, followed by
// relation hydration); fromCache=false goes through collection.Fetch,
// which may reach the Data Source. A Load superseded by a later Load
// before it resolves is discarded — identity-compared via a monotonic
// sequence number, since Go has no promise identity to compare
// against.
func (v *CollectionView) Load(ctx context.Context, fromCache bool) error {
	v.mu.Lock()
	v.seq++
	mySeq := v.seq
	v.loading = true
	v.fromCache = fromCache
	query, orderBy, mask, dsOpts := v.query, v.orderBy, v.loadRelations, v.dsOpts
	v.mu.Unlock()

	var items []keyutil.Entity
	var err error
	if fromCache {
		var result collection.FilterResult
		result, err = v.coll.Filter(collection.FilterParams{Where: query, OrderBy: orderBy})
		items = result.Items
		if err == nil {
			err = v.coll.LoadRelations(ctx, items, mask)
		}
	} else {
		var result collection.FetchResult
		result, err = v.coll.Fetch(ctx, datasource.FetchParams{Where: query, OrderBy: orderBy}, collection.FetchOptions{LoadRelations: mask, DataSource: dsOpts})
		items = result.Items
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if mySeq != v.seq || v.disposed {
		return nil // superseded by a later Load, or disposed mid-flight
	}
	v.loading = false
	if err != nil {
		return err
	}
	sortItems(items, orderBy)
	v.items = items
	v.pks = make(map[string]struct{}, len(items))
	for _, item := range items {
		if pk, err := pkOf(v.coll, item); err == nil {
			v.pks[pk.String()] = struct{}{}
		}
	}
	return nil
}

func (v *CollectionView) onInserted(ev collection.InsertEvent) {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return
	}
	if ev.Previous != nil {
		if prevPK, err := pkOf(v.coll, ev.Previous); err == nil {
			if _, ok := v.pks[prevPK.String()]; ok {
				v.items = removeByPK(v.items, prevPK, v.coll)
				delete(v.pks, prevPK.String())
			}
		}
	}
	query, mask, orderBy := v.query, v.loadRelations, v.orderBy
	v.mu.Unlock()

	ok, err := keyquery.Test(ev.New, query)
	if err != nil {
		warnf(v.logger, "view: evaluating query against inserted entity: %v", err)
		return
	}
	if !ok {
		return
	}

	newPK, err := pkOf(v.coll, ev.New)
	if err != nil {
		warnf(v.logger, "view: computing pk of inserted entity: %v", err)
		return
	}
	key := newPK.String()

	v.mu.Lock()
	v.pending[key]++
	mySeq := v.pending[key]
	v.mu.Unlock()

	// Hydration may reach other collections' Data Sources; run it off
	// the signal-emitting goroutine so a slow relation load never blocks
	// the Collection.Insert call that triggered it.
	go func() {
		if err := v.coll.LoadRelations(context.Background(), []keyutil.Entity{ev.New}, mask); err != nil {
			warnf(v.logger, "view: hydrating inserted entity %q: %v", key, err)
			return
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.disposed || v.pending[key] != mySeq {
			return // superseded by a later insert of the same pk
		}
		delete(v.pending, key)
		v.items = insertSorted(v.items, ev.New, newPK, v.coll, orderBy)
		v.pks[key] = struct{}{}
	}()
}

func (v *CollectionView) onRemoved(e keyutil.Entity) {
	pk, err := pkOf(v.coll, e)
	if err != nil {
		warnf(v.logger, "view: computing pk of removed entity: %v", err)
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.disposed {
		return
	}
	if _, ok := v.pks[pk.String()]; ok {
		v.items = removeByPK(v.items, pk, v.coll)
		delete(v.pks, pk.String())
	}
}

// Dispose detaches the view's signal bindings. Safe to call more than
// once.
func (v *CollectionView) Dispose() {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return
	}
	v.disposed = true
	v.mu.Unlock()
	v.detachInserted()
	v.detachRemoved()
}
