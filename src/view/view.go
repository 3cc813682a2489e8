// Package view implements the live-view family: CollectionView,
// PaginatedView, and LoadMoreView, each keeping a sorted, deduplicated
// slice of entities in sync with a *collection.Collection's
// inserted/removed signals. Race-safe reloads use a monotonic sequence
// number per view instance, so a stale reload's result is discarded
// once a newer one has started.
package view

import (
	"sort"

	"keyper/src/collection"
	"keyper/src/datasource"
	"keyper/src/entitykey"
	"keyper/src/keyquery"
	"keyper/src/keyutil"

	"go.uber.org/zap"
)

// Options configures any view in the family.
type Options struct {
	Query         keyquery.Criteria
	OrderBy       any
	LoadRelations collection.RelationMask
	DataSource    datasource.Options
	Logger        *zap.SugaredLogger
}

func pkOf(coll *collection.Collection, e keyutil.Entity) (entitykey.Key, error) {
	return entitykey.FromEntity(e, coll.Config().PrimaryKey)
}

func sortItems(items []keyutil.Entity, orderBy any) {
	if orderBy == nil {
		return
	}
	cmp := keyquery.BuildComparator(orderBy)
	sort.SliceStable(items, func(i, j int) bool { return cmp(items[i], items[j]) < 0 })
}

// insertSorted inserts e into items (already ordered per cmp) at its
// correct position, replacing any existing entry with the same pk.
func insertSorted(items []keyutil.Entity, e keyutil.Entity, pk entitykey.Key, coll *collection.Collection, orderBy any) []keyutil.Entity {
	for i, existing := range items {
		if p, err := pkOf(coll, existing); err == nil && p.Equal(pk) {
			items[i] = e
			return items
		}
	}
	if orderBy == nil {
		return append(items, e)
	}
	cmp := keyquery.BuildComparator(orderBy)
	at := sort.Search(len(items), func(i int) bool { return cmp(items[i], e) >= 0 })
	items = append(items, nil)
	copy(items[at+1:], items[at:])
	items[at] = e
	return items
}

func removeByPK(items []keyutil.Entity, pk entitykey.Key, coll *collection.Collection) []keyutil.Entity {
	for i, e := range items {
		if p, err := pkOf(coll, e); err == nil && p.Equal(pk) {
			return append(items[:i:i], items[i+1:]...)
		}
	}
	return items
}

func cloneItems(items []keyutil.Entity) []keyutil.Entity {
	return append([]keyutil.Entity(nil), items...)
}

// warnf logs to logger if set, else drops the message — view signal
// handlers (running on the emitting goroutine, or on a goroutine of
// their own for hydration and reloads) have no caller to return an
// error to; signals are fire-and-forget from the emitter's perspective.
func warnf(logger *zap.SugaredLogger, format string, args ...any) {
	if logger != nil {
		logger.Warnf(format, args...)
	}
}
