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

// PaginatedView is CollectionView plus page-at-a-time semantics:
// PageSize, CurrentPage, and Total (the full-match count ignoring
// paging).
type PaginatedView struct {
	coll   *collection.Collection
	logger *zap.SugaredLogger

	mu            sync.Mutex
	query         keyquery.Criteria
	orderBy       any
	loadRelations collection.RelationMask
	dsOpts        datasource.Options
	pageSize      int
	currentPage   int
	total         int
	items         []keyutil.Entity
	loading       bool
	disposed      bool
	seq           int

	detachInserted func()
	detachRemoved  func()
}

// NewPaginatedView constructs a PaginatedView. pageSize must be > 0.
func NewPaginatedView(coll *collection.Collection, pageSize int, opts Options) *PaginatedView {
	v := &PaginatedView{
		coll:          coll,
		logger:        opts.Logger,
		query:         opts.Query,
		orderBy:       opts.OrderBy,
		loadRelations: opts.LoadRelations,
		dsOpts:        opts.DataSource,
		pageSize:      pageSize,
	}
	v.detachInserted = coll.Inserted().Attach(v.onInserted)
	v.detachRemoved = coll.Removed().Attach(v.onRemoved)
	return v
}

// Items returns the current page's entities.
func (v *PaginatedView) Items() []keyutil.Entity {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneItems(v.items)
}

// Total returns the full matching count, ignoring paging.
func (v *PaginatedView) Total() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.total
}

// CurrentPage returns the zero-based page index.
func (v *PaginatedView) CurrentPage() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentPage
}

// Loading reports whether a Load is in flight.
func (v *PaginatedView) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

func (v *PaginatedView) filterParams() datasource.FetchParams {
	offset := v.currentPage * v.pageSize
	limit := v.pageSize
	return datasource.FetchParams{Where: v.query, OrderBy: v.orderBy, Offset: &offset, Limit: &limit}
}

// SetPage moves to page n and reloads.
func (v *PaginatedView) SetPage(ctx context.Context, n int) error {
	v.mu.Lock()
	v.currentPage = n
	v.mu.Unlock()
	return v.Load(ctx)
}

// Load (re)populates the current page via the Data Source (paginated
// views never read from the cache alone, since the cache has no
// concept of page membership beyond what's already been fetched).
func (v *PaginatedView) Load(ctx context.Context) error {
	v.mu.Lock()
	v.seq++
	mySeq := v.seq
	v.loading = true
	params := v.filterParams()
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
	v.items = result.Items
	v.total = result.Total
	return nil
}

// SetQuery replaces the predicate and, unless the new predicate is
// structurally equal to the old one, resets to page 0 and reloads.
func (v *PaginatedView) SetQuery(ctx context.Context, query keyquery.Criteria) (bool, error) {
	v.mu.Lock()
	if keyutil.DeepEqual(map[string]any(v.query), map[string]any(query)) {
		v.mu.Unlock()
		return false, nil
	}
	v.query = query
	v.currentPage = 0
	v.mu.Unlock()
	return true, v.Load(ctx)
}

// SetOrderBy replaces the ordering and reloads page 0 if it changed.
func (v *PaginatedView) SetOrderBy(ctx context.Context, orderBy any) (bool, error) {
	v.mu.Lock()
	if keyutil.DeepEqual(v.orderBy, orderBy) {
		v.mu.Unlock()
		return false, nil
	}
	v.orderBy = orderBy
	v.currentPage = 0
	v.mu.Unlock()
	return true, v.Load(ctx)
}

// onInserted ignores inserts while a Load is in flight (including the
// inserts that Load's own fetch produces). Otherwise it applies a
// position-aware skip rule: a new item sorting
// after the page's last entry is ignored unless this is the last page;
// one sorting before the first entry is ignored unless this is the
// first page. Anything else forces a reload, since a page-bounded view
// can't locally compute where the item lands without knowing its true
// offset within the full ordering. The reload runs on its own
// goroutine — listeners fire with the collection's lock held, and
// Load's sequence counter discards it if a newer load starts first.
func (v *PaginatedView) onInserted(ev collection.InsertEvent) {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return
	}
	query, orderBy, page, pageSize, total := v.query, v.orderBy, v.currentPage, v.pageSize, v.total
	items, loading := v.items, v.loading
	v.mu.Unlock()
	if loading {
		return // don't let a reload supersede the Load in flight
	}

	ok, err := keyquery.Test(ev.New, query)
	if err != nil {
		warnf(v.logger, "view: evaluating query against inserted entity: %v", err)
		return
	}
	if !ok {
		return
	}
	lastPage := (total-1)/max(pageSize, 1) == page
	firstPage := page == 0
	if len(items) > 0 && orderBy != nil {
		cmp := keyquery.BuildComparator(orderBy)
		if cmp(ev.New, items[len(items)-1]) > 0 && !lastPage {
			return
		}
		if cmp(ev.New, items[0]) < 0 && !firstPage {
			return
		}
	}
	go func() {
		if err := v.Load(context.Background()); err != nil {
			warnf(v.logger, "view: reloading page after insert: %v", err)
		}
	}()
}

// onRemoved decrements Total when e matches the current query; the
// page contents themselves are refreshed on the next Load/SetPage
// rather than patched in place, since removing an element from the
// middle of a page shifts every later page's membership.
func (v *PaginatedView) onRemoved(e keyutil.Entity) {
	v.mu.Lock()
	query := v.query
	v.mu.Unlock()

	ok, err := keyquery.Test(e, query)
	if err != nil {
		warnf(v.logger, "view: evaluating query against removed entity: %v", err)
		return
	}
	if !ok {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.disposed {
		return
	}
	if v.total > 0 {
		v.total--
	}
}

// Dispose detaches the view's signal bindings.
func (v *PaginatedView) Dispose() {
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
