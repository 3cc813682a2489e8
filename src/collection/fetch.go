package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"keyper/src/datasource"
	"keyper/src/entitykey"
	"keyper/src/keyquery"
	"keyper/src/keyutil"
	"keyper/src/uniqueindex"
)

// FetchOptions configures a single fetch call.
type FetchOptions struct {
	ForceLoad     bool
	LoadRelations RelationMask
	DataSource    datasource.Options
}

// FetchOne loads a single entity by pk, deduplicating concurrent callers
// for the same pk and always routing the result through Insert so
// snapshots and signals stay consistent.
func (c *Collection) FetchOne(ctx context.Context, pk entitykey.Key, opts FetchOptions) (keyutil.Entity, error) {
	if !opts.ForceLoad {
		c.mu.Lock()
		if cached, ok := c.index.Get(pk); ok {
			c.mu.Unlock()
			return c.hydrateAndReturn(ctx, cached, opts.LoadRelations)
		}
		c.mu.Unlock()
	}

	key := pk.String()
	c.mu.Lock()
	if pending, ok := c.pendingItemRequests[key]; ok {
		c.mu.Unlock()
		if _, err := pending.wait(); err != nil {
			return nil, err
		}
		c.mu.Lock()
		cached, _ := c.index.Get(pk)
		c.mu.Unlock()
		return c.hydrateAndReturn(ctx, cached, opts.LoadRelations)
	}
	f := newFuture[keyutil.Entity]()
	c.pendingItemRequests[key] = f
	c.mu.Unlock()

	raw, err := c.source.FindOne(ctx, pk, opts.DataSource)

	c.mu.Lock()
	delete(c.pendingItemRequests, key)
	c.mu.Unlock()

	if err != nil {
		f.resolve(nil, err)
		return nil, err
	}
	inserted, err := c.Insert(raw)
	f.resolve(inserted, err)
	if err != nil {
		return nil, err
	}
	return c.hydrateAndReturn(ctx, inserted, opts.LoadRelations)
}

func (c *Collection) hydrateAndReturn(ctx context.Context, e keyutil.Entity, mask RelationMask) (keyutil.Entity, error) {
	if e == nil {
		return nil, nil
	}
	if err := c.LoadRelations(ctx, []keyutil.Entity{e}, mask); err != nil {
		return nil, err
	}
	return e, nil
}

// FetchResult mirrors datasource.Slice for a fetch() call.
type FetchResult struct {
	Items []keyutil.Entity
	Total int
}

// Fetch executes params against the cache (fast path) or the Data
// Source, deduplicating concurrent identical requests and promoting the
// result into the query cache when no paging was requested.
func (c *Collection) Fetch(ctx context.Context, params datasource.FetchParams, opts FetchOptions) (FetchResult, error) {
	if params.Where == nil {
		params.Where = keyquery.Criteria{}
	}
	cacheKey := ""
	cacheable := params.Limit == nil && params.Offset == nil
	if cacheable {
		// The cache key deliberately excludes OrderBy: ordering is applied
		// at read time from the cached set, so two fetches differing only
		// in OrderBy share one cache entry.
		cacheKey = stableKey(params.Where)
	}
	pendingKey := stableKey(params)

	if !opts.ForceLoad && cacheable {
		c.mu.Lock()
		if q, ok := c.queries[cacheKey]; ok {
			items := q.items.All()
			c.mu.Unlock()
			items = applyOrder(items, params.OrderBy)
			return FetchResult{Items: items, Total: len(items)}, nil
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	if pending, ok := c.pendingRequests[pendingKey]; ok {
		c.mu.Unlock()
		slice, err := pending.wait()
		if err != nil {
			return FetchResult{}, err
		}
		return FetchResult{Items: slice.Items, Total: slice.Total}, nil
	}
	f := newFuture[datasource.Slice]()
	c.pendingRequests[pendingKey] = f
	c.mu.Unlock()

	slice, err := c.source.Find(ctx, params, opts.DataSource)

	c.mu.Lock()
	delete(c.pendingRequests, pendingKey)
	c.mu.Unlock()

	if err != nil {
		f.resolve(datasource.Slice{}, err)
		return FetchResult{}, err
	}

	inserted := make([]keyutil.Entity, 0, len(slice.Items))
	for _, raw := range slice.Items {
		e, err := c.Insert(raw)
		if err != nil {
			f.resolve(datasource.Slice{}, err)
			return FetchResult{}, err
		}
		inserted = append(inserted, e)
	}
	total := slice.Total
	if total == 0 {
		total = len(inserted)
	}
	result := datasource.Slice{Items: inserted, Total: total}
	f.resolve(result, nil)

	if cacheable {
		frozenItems := uniqueindex.New(c.pkOf).Add(inserted...).Freeze()
		c.mu.Lock()
		c.queries[cacheKey] = &cachedQuery{where: params.Where, items: frozenItems}
		c.mu.Unlock()
	}

	if err := c.LoadRelations(ctx, inserted, opts.LoadRelations); err != nil {
		return FetchResult{}, err
	}
	return FetchResult{Items: inserted, Total: total}, nil
}

// FetchAll batch-loads entities by pk, skipping ones already cached
// (unless ForceLoad) and those already pending (awaiting their
// in-flight future instead of re-requesting), then issues a single
// FindAll for the remainder.
func (c *Collection) FetchAll(ctx context.Context, pks []entitykey.Key, opts FetchOptions) ([]keyutil.Entity, error) {
	var toLoad []entitykey.Key
	var waits []*future[keyutil.Entity]

	c.mu.Lock()
	for _, pk := range pks {
		if !opts.ForceLoad {
			if _, ok := c.index.Get(pk); ok {
				continue
			}
		}
		if f, ok := c.pendingItemRequests[pk.String()]; ok {
			waits = append(waits, f)
			continue
		}
		toLoad = append(toLoad, pk)
	}
	placeholders := make(map[string]*future[keyutil.Entity], len(toLoad))
	for _, pk := range toLoad {
		f := newFuture[keyutil.Entity]()
		placeholders[pk.String()] = f
		c.pendingItemRequests[pk.String()] = f
	}
	c.mu.Unlock()

	for _, f := range waits {
		if _, err := f.wait(); err != nil {
			return nil, err
		}
	}

	if len(toLoad) > 0 {
		raws, err := c.source.FindAll(ctx, toLoad, opts.DataSource)
		c.mu.Lock()
		for _, pk := range toLoad {
			delete(c.pendingItemRequests, pk.String())
		}
		c.mu.Unlock()
		if err != nil {
			for _, f := range placeholders {
				f.resolve(nil, err)
			}
			return nil, err
		}
		for _, raw := range raws {
			inserted, err := c.Insert(raw)
			if err != nil {
				for _, f := range placeholders {
					f.resolve(nil, err)
				}
				return nil, err
			}
			if pk, err := entitykey.FromEntity(inserted, c.cfg.PrimaryKey); err == nil {
				if f, ok := placeholders[pk.String()]; ok {
					f.resolve(inserted, nil)
					delete(placeholders, pk.String())
				}
			}
		}
		for _, f := range placeholders {
			f.resolve(nil, nil) // source omitted this pk
		}
	}

	out := make([]keyutil.Entity, 0, len(pks))
	c.mu.Lock()
	for _, pk := range pks {
		e, _ := c.index.Get(pk)
		out = append(out, e)
	}
	c.mu.Unlock()

	if err := c.LoadRelations(ctx, out, opts.LoadRelations); err != nil {
		return nil, err
	}
	return out, nil
}

// Create sends payload to the Data Source and caches its response.
func (c *Collection) Create(ctx context.Context, payload keyutil.Entity, opts FetchOptions) (keyutil.Entity, error) {
	send := payload
	if c.cfg.BeforeSend != nil {
		send = c.cfg.BeforeSend(send)
	}
	raw, err := c.source.Create(ctx, send, opts.DataSource)
	if err != nil {
		return nil, err
	}
	return c.Insert(raw)
}

// UpdateOptions configures Update.
type UpdateOptions struct {
	Diff    bool
	Inplace *MutableEntity
}

// Update sends either payload verbatim or its computed diff
// against the cache, no-ops on an empty diff, and — when Inplace is set
// — mutates the caller's MutableEntity with the post-response clone,
// preserving its relation mask.
func (c *Collection) Update(ctx context.Context, pk entitykey.Key, payload keyutil.Entity, opts UpdateOptions, dsOpts datasource.Options) (keyutil.Entity, error) {
	send := payload
	if opts.Diff {
		mutable := opts.Inplace
		if mutable == nil {
			mutable = &MutableEntity{Fields: payload, SourcePK: pk}
		}
		diff, err := c.GetDiff(mutable)
		if err != nil {
			return nil, err
		}
		// GetDiff always stamps the collection tag and "$pk"; any other
		// key is a real change.
		onlyStamps := true
		for k := range diff {
			if k != keyutil.CollectionTag && k != "$pk" {
				onlyStamps = false
				break
			}
		}
		if onlyStamps {
			c.mu.Lock()
			cached, _ := c.index.Get(pk)
			c.mu.Unlock()
			return cached, nil
		}
		send = diff
	}
	if c.cfg.BeforeSend != nil {
		send = c.cfg.BeforeSend(send)
	}
	raw, err := c.source.Update(ctx, pk, send, dsOpts)
	if err != nil {
		return nil, err
	}
	inserted, err := c.Insert(raw)
	if err != nil {
		return nil, err
	}
	if opts.Inplace != nil {
		newPK, err := entitykey.FromEntity(inserted, c.cfg.PrimaryKey)
		if err != nil {
			return nil, err
		}
		mutable, err := c.mutableFrom(inserted, newPK, opts.Inplace.Mask)
		if err != nil {
			return nil, err
		}
		opts.Inplace.Fields = mutable.Fields
		opts.Inplace.SourcePK = mutable.SourcePK
	}
	return inserted, nil
}

// Delete sends the delete to the Data Source and removes any cached
// copy.
func (c *Collection) Delete(ctx context.Context, pk entitykey.Key, opts datasource.Options) error {
	if err := c.source.Delete(ctx, pk, opts); err != nil {
		return err
	}
	c.mu.Lock()
	cached, ok := c.index.Get(pk)
	c.mu.Unlock()
	if ok {
		c.Remove(cached, true)
	}
	return nil
}

// Commit routes to Create when payload has no primary key, else Update.
func (c *Collection) Commit(ctx context.Context, payload keyutil.Entity, opts FetchOptions) (keyutil.Entity, error) {
	if pk, err := entitykey.FromEntity(payload, c.cfg.PrimaryKey); err == nil {
		return c.Update(ctx, pk, payload, UpdateOptions{}, opts.DataSource)
	}
	return c.Create(ctx, payload, opts)
}

func stableKey(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func applyOrder(items []keyutil.Entity, orderBy any) []keyutil.Entity {
	if orderBy == nil {
		return items
	}
	cmp := keyquery.BuildComparator(orderBy)
	out := append([]keyutil.Entity(nil), items...)
	sort.SliceStable(out, func(i, j int) bool { return cmp(out[i], out[j]) < 0 })
	return out
}
