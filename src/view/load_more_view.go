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

// LoadMoreView is the accumulating variant of PaginatedView: successive
// pages merge into one growing, sorted, pk-deduplicated slice instead
// of replacing the previous page.
type LoadMoreView struct {
	coll   *collection.Collection
	logger *zap.SugaredLogger

	mu            sync.Mutex
	query         keyquery.Criteria
	orderBy       any
	loadRelations collection.RelationMask
	dsOpts        datasource.Options
	pageSize      int
	nextPage      int
	total         int
	exhausted     bool
	items         []keyutil.Entity
	pks           map[string]struct{}
	loading       bool
	disposed      bool
	seq           int

	detachInserted func()
	detachRemoved  func()
}

// NewLoadMoreView constructs an empty LoadMoreView. Call LoadMore to
// fetch the first page.
func NewLoadMoreView(coll *collection.Collection, pageSize int, opts Options) *LoadMoreView {
	v := &LoadMoreView{
		coll:          coll,
		logger:        opts.Logger,
		query:         opts.Query,
		orderBy:       opts.OrderBy,
		loadRelations: opts.LoadRelations,
		dsOpts:        opts.DataSource,
		pageSize:      pageSize,
		pks:           make(map[string]struct{}),
	}
	v.detachInserted = coll.Inserted().Attach(v.onInserted)
	v.detachRemoved = coll.Removed().Attach(v.onRemoved)
	return v
}

// Items returns the accumulated entities so far.
func (v *LoadMoreView) Items() []keyutil.Entity {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneItems(v.items)
}

// Total returns the full matching count reported by the most recent page.
func (v *LoadMoreView) Total() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.total
}

// Exhausted reports whether the most recent page came back shorter
// than pageSize, meaning there is nothing left to load.
func (v *LoadMoreView) Exhausted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.exhausted
}

// Loading reports whether a LoadMore is in flight.
func (v *LoadMoreView) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

// LoadMore fetches the next page and merges it into the accumulated
// result by sorted insertion with pk-dedup.
func (v *LoadMoreView) LoadMore(ctx context.Context) error {
	v.mu.Lock()
	if v.exhausted {
		v.mu.Unlock()
		return nil
	}
	v.seq++
	mySeq := v.seq
	v.loading = true
	offset := v.nextPage * v.pageSize
	limit := v.pageSize
	params := datasource.FetchParams{Where: v.query, OrderBy: v.orderBy, Offset: &offset, Limit: &limit}
	mask, dsOpts := v.loadRelations, v.dsOpts
	v.mu.Unlock()

	result, err := v.coll.Fetch(ctx, params, collection.FetchOptions{LoadRelations: mask, DataSource: dsOpts})

	v.mu.Lock()
	defer v.mu.Unlock()
	if mySeq != v.seq || v.disposed {
		return nil
	}
	v.loading = false
	if err != nil {
		return err
	}
	v.total = result.Total
	v.nextPage++
	if len(result.Items) < v.pageSize {
		v.exhausted = true
	}
	for _, item := range result.Items {
		pk, err := pkOf(v.coll, item)
		if err != nil {
			continue
		}
		if _, dup := v.pks[pk.String()]; dup {
			continue
		}
		v.pks[pk.String()] = struct{}{}
		v.items = insertSorted(v.items, item, pk, v.coll, v.orderBy)
	}
	return nil
}

// SetQuery replaces the predicate, resets all accumulated state, and
// reloads page 0.
func (v *LoadMoreView) SetQuery(ctx context.Context, query keyquery.Criteria) error {
	v.mu.Lock()
	v.query = query
	v.resetLocked()
	v.mu.Unlock()
	return v.LoadMore(ctx)
}

// SetOrderBy replaces the ordering, resets all accumulated state, and
// reloads page 0.
func (v *LoadMoreView) SetOrderBy(ctx context.Context, orderBy any) error {
	v.mu.Lock()
	v.orderBy = orderBy
	v.resetLocked()
	v.mu.Unlock()
	return v.LoadMore(ctx)
}

func (v *LoadMoreView) resetLocked() {
	v.nextPage = 0
	v.total = 0
	v.exhausted = false
	v.items = nil
	v.pks = make(map[string]struct{})
}

func (v *LoadMoreView) onInserted(ev collection.InsertEvent) {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return
	}
	query, orderBy := v.query, v.orderBy
	v.mu.Unlock()

	ok, err := keyquery.Test(ev.New, query)
	if err != nil {
		warnf(v.logger, "view: evaluating query against inserted entity: %v", err)
		return
	}
	if !ok {
		return
	}
	pk, err := pkOf(v.coll, ev.New)
	if err != nil {
		warnf(v.logger, "view: computing pk of inserted entity: %v", err)
		return
	}

	go func() {
		if err := v.coll.LoadRelations(context.Background(), []keyutil.Entity{ev.New}, v.loadRelations); err != nil {
			warnf(v.logger, "view: hydrating inserted entity: %v", err)
			return
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.disposed {
			return
		}
		if _, dup := v.pks[pk.String()]; dup {
			v.items = insertSorted(v.items, ev.New, pk, v.coll, orderBy)
			return
		}
		// An item not yet accumulated only belongs in the merged set if
		// it sorts within the already-loaded range — otherwise it
		// belongs on a page not yet loaded and LoadMore will pick it up.
		if len(v.items) == 0 {
			return
		}
		if orderBy == nil {
			return
		}
		cmp := keyquery.BuildComparator(orderBy)
		if cmp(ev.New, v.items[len(v.items)-1]) > 0 && !v.exhausted {
			return
		}
		v.pks[pk.String()] = struct{}{}
		v.items = insertSorted(v.items, ev.New, pk, v.coll, orderBy)
	}()
}

func (v *LoadMoreView) onRemoved(e keyutil.Entity) {
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
		if v.total > 0 {
			v.total--
		}
	}
}

// Dispose detaches the view's signal bindings.
func (v *LoadMoreView) Dispose() {
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
